package risk

import (
	"testing"

	"github.com/opensource-finance/churnguard/internal/domain"
)

func TestFormatFlags(t *testing.T) {
	tests := []struct {
		name  string
		flags *domain.RiskFlags
		want  string
	}{
		{"Nil", nil, "No flags"},
		{"Empty", &domain.RiskFlags{}, "No flags"},
		{"Two", &domain.RiskFlags{LowRedemptions: true, SpendDrop: true}, "Low Monthly Redemptions, Spend Drop"},
		{"All", &domain.RiskFlags{LowRedemptions: true, LowActivity: true, SpendDrop: true, RedemptionsDrop: true},
			"Low Monthly Redemptions, Low Activity, Spend Drop, Redemptions Drop"},
		{"Single", &domain.RiskFlags{RedemptionsDrop: true}, "Redemptions Drop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatFlags(tt.flags); got != tt.want {
				t.Errorf("FormatFlags() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFlagLabelUnknown(t *testing.T) {
	if got := FlagLabel("custom"); got != "custom" {
		t.Errorf("expected raw name for unknown flag, got %q", got)
	}
}
