package risk

import (
	"errors"
	"reflect"
	"testing"

	"github.com/opensource-finance/churnguard/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(DefaultPolicy())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func metric(key string, spend float64, coupons, subs int64) domain.PeriodMetric {
	return domain.PeriodMetric{
		PeriodKey:         key,
		PeriodLabel:       domain.DefaultPeriodLabel(key),
		TotalSpend:        spend,
		CouponsRedeemed:   coupons,
		ActiveSubscribers: subs,
	}
}

func TestEvaluateFlagsScenarios(t *testing.T) {
	engine := newTestEngine(t)

	t.Run("LowRedemptionsWithoutHistory", func(t *testing.T) {
		current := metric("2025-07-01", 1000, 2, 500)
		flags := engine.EvaluateFlags(&current, nil, 1)

		want := domain.RiskFlags{LowRedemptions: true}
		if flags != want {
			t.Errorf("expected %+v, got %+v", want, flags)
		}
		if level := ReduceLevel(flags.Count(), domain.ModeSettled); level != domain.RiskMedium {
			t.Errorf("expected medium, got %s", level)
		}
	})

	t.Run("SpendDropAfterThreePeriods", func(t *testing.T) {
		previous := metric("2025-06-01", 1000, 100, 400)
		current := metric("2025-07-01", 500, 100, 400)
		flags := engine.EvaluateFlags(&current, &previous, 4)

		want := domain.RiskFlags{SpendDrop: true}
		if flags != want {
			t.Errorf("expected %+v, got %+v", want, flags)
		}
		if level := ReduceLevel(flags.Count(), domain.ModeSettled); level != domain.RiskMedium {
			t.Errorf("expected medium, got %s", level)
		}
	})

	t.Run("DropFlagsGatedEarly", func(t *testing.T) {
		previous := metric("2025-06-01", 1000, 100, 400)
		current := metric("2025-07-01", 500, 100, 400)
		flags := engine.EvaluateFlags(&current, &previous, 2)

		if flags.Count() != 0 {
			t.Errorf("expected no flags, got %+v", flags)
		}
		if level := ReduceLevel(flags.Count(), domain.ModeSettled); level != domain.RiskLow {
			t.Errorf("expected low, got %s", level)
		}
	})

	t.Run("LowRedemptionsAndLowActivity", func(t *testing.T) {
		current := metric("2025-07-01", 750, 3, 250)
		flags := engine.EvaluateFlags(&current, nil, 1)

		if !flags.LowRedemptions {
			t.Error("expected lowRedemptions at threshold")
		}
		if !flags.LowActivity {
			t.Error("expected lowActivity")
		}
		if level := ReduceLevel(flags.Count(), domain.ModeSettled); level != domain.RiskMedium {
			t.Errorf("expected medium, got %s", level)
		}
	})

	t.Run("NilCurrentTreatedAsZero", func(t *testing.T) {
		flags := engine.EvaluateFlags(nil, nil, 0)
		if !flags.LowRedemptions || !flags.LowActivity {
			t.Errorf("expected zero metric to be low on both counts, got %+v", flags)
		}
	})
}

func TestLowRedemptionsMonotonic(t *testing.T) {
	engine := newTestEngine(t)
	previous := metric("2025-06-01", 1000, 20, 500)

	seenFalse := false
	for coupons := int64(0); coupons <= 50; coupons++ {
		current := metric("2025-07-01", 1000, coupons, 500)
		flags := engine.EvaluateFlags(&current, &previous, 5)

		if coupons <= 3 && !flags.LowRedemptions {
			t.Fatalf("coupons=%d: expected lowRedemptions", coupons)
		}
		if !flags.LowRedemptions {
			seenFalse = true
		} else if seenFalse {
			t.Fatalf("coupons=%d: lowRedemptions flipped back to true", coupons)
		}
	}
	if !seenFalse {
		t.Fatal("lowRedemptions never cleared")
	}
}

func TestSpendIncreaseNeverDrops(t *testing.T) {
	engine := newTestEngine(t)
	previous := metric("2025-06-01", 1000, 100, 500)

	for spend := 1000.0; spend <= 5000; spend += 250 {
		current := metric("2025-07-01", spend, 100, 500)
		if flags := engine.EvaluateFlags(&current, &previous, 10); flags.SpendDrop {
			t.Errorf("spend=%.0f: unexpected spendDrop", spend)
		}
	}
}

func TestDropFlagsGating(t *testing.T) {
	engine := newTestEngine(t)
	previous := metric("2025-06-01", 10000, 500, 500)
	current := metric("2025-07-01", 0, 0, 500)

	for elapsed := -2; elapsed < 3; elapsed++ {
		flags := engine.EvaluateFlags(&current, &previous, elapsed)
		if flags.SpendDrop || flags.RedemptionsDrop {
			t.Errorf("elapsed=%d: drop flags must be gated, got %+v", elapsed, flags)
		}
	}

	flags := engine.EvaluateFlags(&current, &previous, 3)
	if !flags.SpendDrop || !flags.RedemptionsDrop {
		t.Errorf("elapsed=3: expected both drop flags, got %+v", flags)
	}
}

func TestZeroBaseline(t *testing.T) {
	engine := newTestEngine(t)
	previous := metric("2025-06-01", 0, 0, 500)

	for _, spend := range []float64{0, 1, 500, 1e9} {
		current := metric("2025-07-01", spend, 0, 500)
		flags := engine.EvaluateFlags(&current, &previous, 12)
		if flags.SpendDrop {
			t.Errorf("spend=%v: spendDrop with zero baseline", spend)
		}
		if flags.RedemptionsDrop {
			t.Errorf("spend=%v: redemptionsDrop with zero baseline", spend)
		}
	}
}

func TestDropFraction(t *testing.T) {
	tests := []struct {
		name     string
		previous float64
		current  float64
		want     float64
	}{
		{"Half", 1000, 500, 0.5},
		{"Increase", 1000, 1500, 0},
		{"Unchanged", 1000, 1000, 0},
		{"ZeroPrevious", 0, 500, 0},
		{"NegativePrevious", -10, 5, 0},
		{"Total", 200, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DropFraction(tt.previous, tt.current); got != tt.want {
				t.Errorf("DropFraction(%v, %v) = %v, want %v", tt.previous, tt.current, got, tt.want)
			}
		})
	}
}

func TestReduceLevel(t *testing.T) {
	want := map[int]domain.RiskLevel{
		0: domain.RiskLow,
		1: domain.RiskMedium,
		2: domain.RiskMedium,
		3: domain.RiskHigh,
		4: domain.RiskHigh,
	}

	for _, mode := range []domain.AssessmentMode{domain.ModeSettled, domain.ModeTrending} {
		for count, level := range want {
			if got := ReduceLevel(count, mode); got != level {
				t.Errorf("%s: ReduceLevel(%d) = %s, want %s", mode, count, got, level)
			}
		}
	}

	if got := ReduceLevel(2, domain.AssessmentMode("bogus")); got != domain.RiskMedium {
		t.Errorf("unknown mode should use settled table, got %s", got)
	}
}

func TestClassifyPeriod(t *testing.T) {
	engine := newTestEngine(t)

	series := domain.PeriodSeries{
		metric("2025-03-01", 0, 0, 0),
		metric("2025-04-01", 0, 0, 0),
		metric("2025-05-01", 1000, 100, 400),
		metric("2025-06-01", 1000, 100, 400),
		metric("2025-07-01", 500, 100, 400),
	}

	t.Run("ElapsedCountsFromFirstActivity", func(t *testing.T) {
		assessment, err := engine.ClassifyPeriod(series, 4)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if assessment.Mode != domain.ModeSettled {
			t.Errorf("expected settled mode, got %s", assessment.Mode)
		}
		if assessment.Flags == nil || !assessment.Flags.SpendDrop {
			t.Fatalf("expected spendDrop, got %+v", assessment.Flags)
		}
		if assessment.Level != domain.RiskMedium {
			t.Errorf("expected medium, got %s", assessment.Level)
		}
		if assessment.Reason != "Spend Drop" {
			t.Errorf("unexpected reason: %q", assessment.Reason)
		}
		if assessment.PeriodKey != "2025-07-01" {
			t.Errorf("unexpected period key: %s", assessment.PeriodKey)
		}
	})

	t.Run("InactivePeriod", func(t *testing.T) {
		assessment, err := engine.ClassifyPeriod(series, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if assessment.FlagCount != 2 {
			t.Errorf("expected 2 flags for an empty period, got %d", assessment.FlagCount)
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		first, _ := engine.ClassifyPeriod(series, 4)
		second, _ := engine.ClassifyPeriod(series, 4)
		if !reflect.DeepEqual(first, second) {
			t.Errorf("repeated classification differs: %+v vs %+v", first, second)
		}
	})

	t.Run("InvalidIndex", func(t *testing.T) {
		for _, index := range []int{-1, len(series)} {
			if _, err := engine.ClassifyPeriod(series, index); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("index %d: expected ErrInvalidInput, got %v", index, err)
			}
		}
		if _, err := engine.ClassifyPeriod(nil, 0); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("empty series: expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestClassifySeries(t *testing.T) {
	engine := newTestEngine(t)
	series := domain.PeriodSeries{
		metric("2025-05-01", 1000, 100, 400),
		metric("2025-06-01", 1000, 100, 400),
		metric("2025-07-01", 100, 10, 400),
	}

	assessments, err := engine.ClassifySeries(series)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(assessments) != len(series) {
		t.Fatalf("expected %d assessments, got %d", len(series), len(assessments))
	}
	for i, a := range assessments {
		single, _ := engine.ClassifyPeriod(series, i)
		if !reflect.DeepEqual(a, single) {
			t.Errorf("period %d: series result %+v differs from single %+v", i, a, single)
		}
	}

	// 10 coupons < 35 with 400 subscribers: no lowActivity. Drops of 90%.
	last := assessments[2]
	if !last.Flags.SpendDrop || !last.Flags.RedemptionsDrop {
		t.Errorf("expected both drops, got %+v", last.Flags)
	}

	if _, err := engine.ClassifySeries(nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestClassifyTrending(t *testing.T) {
	engine := newTestEngine(t)

	t.Run("ProjectedSpendDrop", func(t *testing.T) {
		series := domain.PeriodSeries{
			metric("2025-06-01", 1000, 100, 500),
			metric("2025-07-01", 200, 50, 500),
		}
		assessment, err := engine.ClassifyTrending(series, 1, 0.5)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if assessment.Mode != domain.ModeTrending {
			t.Errorf("expected trending mode, got %s", assessment.Mode)
		}
		proj := assessment.Projection
		if proj == nil {
			t.Fatal("expected projection")
		}
		if proj.ProjectedSpend != 400 {
			t.Errorf("expected projected spend 400, got %v", proj.ProjectedSpend)
		}
		if proj.ProjectedRedemptions != 100 {
			t.Errorf("expected projected redemptions 100, got %v", proj.ProjectedRedemptions)
		}
		if !assessment.Flags.SpendDrop {
			t.Error("expected spendDrop on projected spend")
		}
		if assessment.Flags.RedemptionsDrop {
			t.Error("redemptions are on track, no drop expected")
		}
		if assessment.Level != domain.RiskMedium {
			t.Errorf("expected medium, got %s", assessment.Level)
		}
	})

	t.Run("NoElapsedGating", func(t *testing.T) {
		// Only two periods of history; settled mode would gate the drop.
		series := domain.PeriodSeries{
			metric("2025-06-01", 1000, 100, 500),
			metric("2025-07-01", 100, 100, 500),
		}
		assessment, _ := engine.ClassifyTrending(series, 1, 0.9)
		if !assessment.Flags.SpendDrop {
			t.Error("trending drop flags must not be gated on elapsed periods")
		}
	})

	t.Run("NoBaseline", func(t *testing.T) {
		series := domain.PeriodSeries{metric("2025-07-01", 10, 1, 500)}
		assessment, _ := engine.ClassifyTrending(series, 0, 0.5)
		if assessment.Flags.SpendDrop || assessment.Flags.RedemptionsDrop {
			t.Errorf("no baseline must not raise drops, got %+v", assessment.Flags)
		}
		if assessment.Projection.HasBaseline {
			t.Error("expected HasBaseline=false")
		}
	})

	t.Run("ProgressFloor", func(t *testing.T) {
		series := domain.PeriodSeries{metric("2025-07-01", 10, 1, 500)}
		for _, progress := range []float64{0, -1, 0.05} {
			assessment, _ := engine.ClassifyTrending(series, 0, progress)
			if assessment.Projection.Progress != MinProgress {
				t.Errorf("progress %v: expected floor %v, got %v", progress, MinProgress, assessment.Projection.Progress)
			}
			if assessment.Projection.ProjectedSpend != 100 {
				t.Errorf("progress %v: expected projected spend 100, got %v", progress, assessment.Projection.ProjectedSpend)
			}
		}
	})

	t.Run("LowActivityUsesActualSubscribers", func(t *testing.T) {
		// 20 coupons at half progress projects to 40 (>= 35): not low activity.
		series := domain.PeriodSeries{metric("2025-07-01", 100, 20, 100)}
		assessment, _ := engine.ClassifyTrending(series, 0, 0.5)
		if assessment.Flags.LowActivity {
			t.Error("projected redemptions above threshold should clear lowActivity")
		}

		series = domain.PeriodSeries{metric("2025-07-01", 100, 10, 100)}
		assessment, _ = engine.ClassifyTrending(series, 0, 0.5)
		if !assessment.Flags.LowActivity {
			t.Error("expected lowActivity with 100 subscribers and 20 projected redemptions")
		}
	})

	t.Run("InvalidIndex", func(t *testing.T) {
		if _, err := engine.ClassifyTrending(domain.PeriodSeries{}, 0, 0.5); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestClassifyProjectedFromDeltas(t *testing.T) {
	engine := newTestEngine(t)
	current := metric("2025-07-01", 200, 50, 500)
	baseline := BaselineFromDeltas(current, domain.MetricDeltas{SpendDelta: -800, CouponsDelta: -50})

	if baseline.TotalSpend != 1000 || baseline.CouponsRedeemed != 100 {
		t.Fatalf("unexpected baseline: %+v", baseline)
	}

	assessment := engine.ClassifyProjected(current, &baseline, 0.5)
	if !assessment.Flags.SpendDrop {
		t.Error("expected spendDrop: projected 400 vs 1000")
	}
}

func TestClassifyWithOverride(t *testing.T) {
	engine := newTestEngine(t)

	t.Run("OverridePassesThrough", func(t *testing.T) {
		called := false
		override := &domain.RiskOverride{Level: "frozen", Reason: "Account frozen by billing"}

		assessment, err := engine.ClassifyWithOverride(override, func() (domain.RiskAssessment, error) {
			called = true
			return domain.RiskAssessment{}, nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if called {
			t.Error("classifier must not run for overridden accounts")
		}
		if assessment.Mode != domain.ModeOverride {
			t.Errorf("expected override mode, got %s", assessment.Mode)
		}
		if assessment.Level != "frozen" || assessment.Reason != "Account frozen by billing" {
			t.Errorf("override not passed verbatim: %+v", assessment)
		}
		if assessment.Flags != nil {
			t.Error("override assessment must not carry flags")
		}
	})

	t.Run("NoOverride", func(t *testing.T) {
		series := domain.PeriodSeries{metric("2025-07-01", 1000, 2, 500)}
		assessment, err := engine.ClassifyWithOverride(nil, func() (domain.RiskAssessment, error) {
			return engine.ClassifyPeriod(series, 0)
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if assessment.Mode != domain.ModeSettled || assessment.Level != domain.RiskMedium {
			t.Errorf("unexpected assessment: %+v", assessment)
		}
	})

	t.Run("NoClassifier", func(t *testing.T) {
		if _, err := engine.ClassifyWithOverride(nil, nil); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestNewEngineRejectsInvalidPolicy(t *testing.T) {
	policy := DefaultPolicy()
	policy.SpendDropThreshold = 1.5

	if _, err := NewEngine(policy); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestClassifyMetric(t *testing.T) {
	engine := newTestEngine(t)
	current := metric("2025-06-01", 400, 50, 500)
	previous := metric("2025-02-01", 1000, 100, 500)

	settled := engine.ClassifyMetric(current, &previous, 3)
	if settled.Mode != domain.ModeSettled || settled.FlagCount != 2 || settled.Level != domain.RiskMedium {
		t.Errorf("unexpected assessment: %+v", settled)
	}
	if settled.Reason != "Spend Drop, Redemptions Drop" {
		t.Errorf("unexpected reason %q", settled.Reason)
	}

	early := engine.ClassifyMetric(current, &previous, 2)
	if early.FlagCount != 0 || early.Level != domain.RiskLow {
		t.Errorf("drop flags must wait for three elapsed periods: %+v", early)
	}
}
