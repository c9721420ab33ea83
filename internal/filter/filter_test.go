package filter

import (
	"errors"
	"sync"
	"testing"

	"github.com/opensource-finance/churnguard/internal/domain"
)

func sampleRows() []*domain.AccountRow {
	return []*domain.AccountRow{
		{
			AccountID:       "acct-1",
			Name:            "Taco Town",
			CSM:             "Dana",
			Status:          domain.StatusActive,
			RiskLevel:       domain.RiskHigh,
			RiskFlags:       &domain.RiskFlags{LowRedemptions: true, LowActivity: true, SpendDrop: true},
			TotalSpend:      120.5,
			CouponsRedeemed: 2,
			MetricDeltas:    domain.MetricDeltas{SpendDelta: -300},
		},
		{
			AccountID:         "acct-2",
			Name:              "Pizza Palace",
			CSM:               "Lee",
			Status:            domain.StatusActive,
			RiskLevel:         domain.RiskLow,
			RiskFlags:         &domain.RiskFlags{},
			TrendingRiskLevel: domain.RiskMedium,
			TotalSpend:        4200,
			CouponsRedeemed:   180,
			ActiveSubscribers: 900,
		},
		{
			AccountID: "acct-3",
			Name:      "Frozen Yogurt Co",
			CSM:       "Dana",
			Status:    domain.StatusFrozen,
			RiskLevel: "high",
		},
	}
}

func TestCompileAndApply(t *testing.T) {
	compiler, err := NewCompiler()
	if err != nil {
		t.Fatalf("failed to create compiler: %v", err)
	}

	tests := []struct {
		name string
		expr string
		want []string
	}{
		{"ByLevel", `risk_level == "high"`, []string{"acct-1", "acct-3"}},
		{"ByCSMAndStatus", `csm == "Dana" && status != "FROZEN"`, []string{"acct-1"}},
		{"ByFlagCount", `flag_count >= 3`, []string{"acct-1"}},
		{"ByFlagName", `"spendDrop" in flags`, []string{"acct-1"}},
		{"BySpend", `total_spend > 1000.0`, []string{"acct-2"}},
		{"ByDelta", `spend_delta < 0.0`, []string{"acct-1"}},
		{"ByTrending", `trending_risk_level == "medium"`, []string{"acct-2"}},
		{"NameContains", `name.contains("Pizza")`, []string{"acct-2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := compiler.Compile(tt.expr)
			if err != nil {
				t.Fatalf("compile failed: %v", err)
			}
			rows, err := f.Apply(sampleRows())
			if err != nil {
				t.Fatalf("apply failed: %v", err)
			}
			if len(rows) != len(tt.want) {
				t.Fatalf("expected %d rows, got %d", len(tt.want), len(rows))
			}
			for i, row := range rows {
				if row.AccountID != tt.want[i] {
					t.Errorf("row %d: expected %s, got %s", i, tt.want[i], row.AccountID)
				}
			}
		})
	}
}

func TestCompileRejects(t *testing.T) {
	compiler, _ := NewCompiler()

	tests := []struct {
		name string
		expr string
	}{
		{"Empty", "   "},
		{"Syntax", "risk_level ==="},
		{"UnknownVariable", `tenant == "x"`},
		{"NonBool", "total_spend * 2.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := compiler.Validate(tt.expr); !errors.Is(err, ErrInvalidExpression) {
				t.Errorf("expected ErrInvalidExpression, got %v", err)
			}
		})
	}
}

func TestCompileCachesPrograms(t *testing.T) {
	compiler, _ := NewCompiler()

	first, err := compiler.Compile(`risk_level == "low"`)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	second, _ := compiler.Compile(`  risk_level == "low"  `)
	if first != second {
		t.Error("expected cached filter for identical expression")
	}
}

func TestNilFilterMatchesAll(t *testing.T) {
	var f *Filter
	rows, err := f.Apply(sampleRows())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("expected all rows, got %d", len(rows))
	}
}

func TestConcurrentCompile(t *testing.T) {
	compiler, _ := NewCompiler()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := compiler.Compile(`flag_count > 0`)
			if err != nil {
				t.Errorf("compile failed: %v", err)
				return
			}
			if _, err := f.Apply(sampleRows()); err != nil {
				t.Errorf("apply failed: %v", err)
			}
		}()
	}
	wg.Wait()
}
