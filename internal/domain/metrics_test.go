package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func metric(key string, spend float64) PeriodMetric {
	return PeriodMetric{PeriodKey: key, PeriodLabel: DefaultPeriodLabel(key), TotalSpend: spend}
}

func keys(s PeriodSeries) []string {
	out := make([]string, len(s))
	for i, m := range s {
		out[i] = m.PeriodKey
	}
	return out
}

func TestAlignSeries(t *testing.T) {
	now := time.Date(2025, 7, 16, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name   string
		series PeriodSeries
		g      Granularity
		limit  int
		want   []string
	}{
		{
			name:   "Complete",
			series: PeriodSeries{metric("2025-06-01", 1), metric("2025-07-01", 1)},
			g:      GranularityMonth,
			want:   []string{"2025-06-01", "2025-07-01"},
		},
		{
			name:   "MissingMonth",
			series: PeriodSeries{metric("2025-04-01", 1), metric("2025-06-01", 1), metric("2025-07-01", 1)},
			g:      GranularityMonth,
			want:   []string{"2025-04-01", "2025-05-01", "2025-06-01", "2025-07-01"},
		},
		{
			name:   "StaleSeriesExtendsToOpenPeriod",
			series: PeriodSeries{metric("2025-03-01", 1), metric("2025-04-01", 1), metric("2025-05-01", 1)},
			g:      GranularityMonth,
			want:   []string{"2025-03-01", "2025-04-01", "2025-05-01", "2025-06-01", "2025-07-01"},
		},
		{
			name:   "LimitTrimsOldPeriods",
			series: PeriodSeries{metric("2025-01-01", 1), metric("2025-07-01", 1)},
			g:      GranularityMonth,
			limit:  3,
			want:   []string{"2025-05-01", "2025-06-01", "2025-07-01"},
		},
		{
			name:   "FuturePeriodsDropped",
			series: PeriodSeries{metric("2025-07-01", 1), metric("2025-08-01", 1)},
			g:      GranularityMonth,
			want:   []string{"2025-07-01"},
		},
		{
			name:   "OnlyFuturePeriods",
			series: PeriodSeries{metric("2025-09-01", 1)},
			g:      GranularityMonth,
			want:   []string{},
		},
		{
			name: "Empty",
			g:    GranularityMonth,
			want: []string{},
		},
		{
			name:   "Weeks",
			series: PeriodSeries{metric("2025-06-30", 1)},
			g:      GranularityWeek,
			want:   []string{"2025-06-30", "2025-07-07", "2025-07-14"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AlignSeries(tt.series, tt.g, now, tt.limit)
			if strings.Join(keys(got), ",") != strings.Join(tt.want, ",") {
				t.Fatalf("AlignSeries = %v, want %v", keys(got), tt.want)
			}
			if err := got.Validate(); err != nil {
				t.Errorf("aligned series must be ordered: %v", err)
			}
		})
	}

	t.Run("FilledPeriodsAreZero", func(t *testing.T) {
		got := AlignSeries(PeriodSeries{metric("2025-05-01", 800)}, GranularityMonth, now, 0)
		if len(got) != 3 {
			t.Fatalf("expected 3 periods, got %v", keys(got))
		}
		if got[0].TotalSpend != 800 {
			t.Errorf("stored period must be kept, got %+v", got[0])
		}
		for _, m := range got[1:] {
			if m.HasActivity() || m.ActiveSubscribers != 0 {
				t.Errorf("filled period must be empty: %+v", m)
			}
			if m.PeriodLabel != DefaultPeriodLabel(m.PeriodKey) {
				t.Errorf("filled period label = %q", m.PeriodLabel)
			}
		}
	})
}

func TestAddPeriods(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := AddPeriods(start, GranularityMonth, -1).Format(time.DateOnly); got != "2024-12-01" {
		t.Errorf("month back = %s", got)
	}
	if got := AddPeriods(start, GranularityWeek, 2).Format(time.DateOnly); got != "2025-01-15" {
		t.Errorf("two weeks forward = %s", got)
	}
}

func TestRiskFieldNames(t *testing.T) {
	data, err := json.Marshal(RiskAssessment{
		Mode:       ModeSettled,
		Level:      RiskHigh,
		Reason:     "Spend Drop",
		PeriodKey:  "2025-06-01",
		Projection: &Projection{Progress: 0.5},
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	body := string(data)
	for _, field := range []string{`"risk_level"`, `"risk_reason"`, `"flag_count"`, `"period_key"`, `"projected_spend"`} {
		if !strings.Contains(body, field) {
			t.Errorf("expected %s in %s", field, body)
		}
	}
	if strings.Contains(body, "riskLevel") {
		t.Errorf("unexpected camelCase level field in %s", body)
	}

	var override RiskOverride
	if err := json.Unmarshal([]byte(`{"risk_level":"churned","risk_reason":"Frozen by billing"}`), &override); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if override.Level != "churned" || override.Reason != "Frozen by billing" {
		t.Errorf("unexpected override: %+v", override)
	}
}
