package risk

import (
	"strings"

	"github.com/opensource-finance/churnguard/internal/domain"
)

// NoFlagsText is rendered for an empty flag set.
const NoFlagsText = "No flags"

var flagLabels = map[domain.FlagName]string{
	domain.FlagLowRedemptions:  "Low Monthly Redemptions",
	domain.FlagLowActivity:     "Low Activity",
	domain.FlagSpendDrop:       "Spend Drop",
	domain.FlagRedemptionsDrop: "Redemptions Drop",
}

// FlagLabel returns the display label of a flag.
func FlagLabel(name domain.FlagName) string {
	if label, ok := flagLabels[name]; ok {
		return label
	}
	return string(name)
}

// FormatFlags renders raised flags as a comma list, e.g.
// "Low Monthly Redemptions, Spend Drop".
func FormatFlags(flags *domain.RiskFlags) string {
	if flags == nil {
		return NoFlagsText
	}
	active := flags.Active()
	if len(active) == 0 {
		return NoFlagsText
	}
	labels := make([]string, len(active))
	for i, name := range active {
		labels[i] = FlagLabel(name)
	}
	return strings.Join(labels, ", ")
}
