package domain

// RiskLevel is the churn-risk tier of an account.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Severity orders risk levels; unknown levels (e.g. from overrides) rank 0.
func (l RiskLevel) Severity() int {
	switch l {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 0
	}
}

// AssessmentMode discriminates how a RiskAssessment was produced.
type AssessmentMode string

const (
	// ModeSettled classifies a completed period with final actuals.
	ModeSettled AssessmentMode = "settled"

	// ModeTrending classifies the open period from projected totals.
	ModeTrending AssessmentMode = "trending"

	// ModeOverride passes through a provider-supplied classification
	// (frozen accounts). No flags are evaluated.
	ModeOverride AssessmentMode = "override"
)

// FlagName identifies one risk rule.
type FlagName string

const (
	FlagLowRedemptions  FlagName = "lowRedemptions"
	FlagLowActivity     FlagName = "lowActivity"
	FlagSpendDrop       FlagName = "spendDrop"
	FlagRedemptionsDrop FlagName = "redemptionsDrop"
)

// RiskFlags are the four independent risk indicators.
type RiskFlags struct {
	LowRedemptions  bool `json:"lowRedemptions"`
	LowActivity     bool `json:"lowActivity"`
	SpendDrop       bool `json:"spendDrop"`
	RedemptionsDrop bool `json:"redemptionsDrop"`
}

// Active returns the raised flags in fixed display order.
func (f RiskFlags) Active() []FlagName {
	var names []FlagName
	if f.LowRedemptions {
		names = append(names, FlagLowRedemptions)
	}
	if f.LowActivity {
		names = append(names, FlagLowActivity)
	}
	if f.SpendDrop {
		names = append(names, FlagSpendDrop)
	}
	if f.RedemptionsDrop {
		names = append(names, FlagRedemptionsDrop)
	}
	return names
}

// Count returns the number of raised flags (0-4).
func (f RiskFlags) Count() int {
	return len(f.Active())
}

// Projection holds the extrapolated figures behind a trending assessment.
type Projection struct {
	Progress                float64 `json:"progress"`
	ProjectedSpend          float64 `json:"projected_spend"`
	ProjectedRedemptions    float64 `json:"projected_redemptions"`
	BaselineSpend           float64 `json:"baseline_spend"`
	BaselineRedemptions     float64 `json:"baseline_redemptions"`
	HasBaseline             bool    `json:"has_baseline"`
	SpendDropFraction       float64 `json:"spend_drop_fraction"`
	RedemptionsDropFraction float64 `json:"redemptions_drop_fraction"`
}

// RiskAssessment is the classification of one account in one period.
// It is recomputed on every request and never stored as authoritative state.
type RiskAssessment struct {
	Mode       AssessmentMode `json:"mode"`
	Level      RiskLevel      `json:"risk_level"`
	Flags      *RiskFlags     `json:"risk_flags,omitempty"`
	FlagCount  int            `json:"flag_count"`
	Reason     string         `json:"risk_reason"`
	PeriodKey  string         `json:"period_key,omitempty"`
	Projection *Projection    `json:"projection,omitempty"`
}

// RiskOverride is a precomputed classification supplied by the metrics
// provider for accounts in a terminal status. It is passed through verbatim.
type RiskOverride struct {
	Level  string `json:"risk_level"`
	Reason string `json:"risk_reason"`
}
