package risk

import (
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/churnguard/internal/domain"
)

func TestDaysInMonth(t *testing.T) {
	tests := []struct {
		date string
		want int
	}{
		{"2024-02-10", 29},
		{"2025-02-10", 28},
		{"2025-07-31", 31},
		{"2025-09-01", 30},
	}
	for _, tt := range tests {
		d, _ := time.Parse(time.DateOnly, tt.date)
		if got := DaysInMonth(d); got != tt.want {
			t.Errorf("DaysInMonth(%s) = %d, want %d", tt.date, got, tt.want)
		}
	}
}

func TestPeriodProgress(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		g    domain.Granularity
		want float64
	}{
		{"FirstOfMonth", time.Date(2025, 7, 1, 18, 0, 0, 0, time.UTC), domain.GranularityMonth, 0},
		{"MidMonth", time.Date(2025, 7, 16, 9, 0, 0, 0, time.UTC), domain.GranularityMonth, 15.0 / 31.0},
		{"LastOfMonth", time.Date(2025, 7, 31, 23, 0, 0, 0, time.UTC), domain.GranularityMonth, 30.0 / 31.0},
		{"Monday", time.Date(2025, 7, 14, 12, 0, 0, 0, time.UTC), domain.GranularityWeek, 0},
		{"Wednesday", time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC), domain.GranularityWeek, 2.0 / 7.0},
		{"Sunday", time.Date(2025, 7, 20, 12, 0, 0, 0, time.UTC), domain.GranularityWeek, 6.0 / 7.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PeriodProgress(tt.now, tt.g)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("PeriodProgress = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProgressFractionBounds(t *testing.T) {
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	if got := ProgressFraction(start.AddDate(0, 0, -3), start, end); got != 0 {
		t.Errorf("before start: expected 0, got %v", got)
	}
	if got := ProgressFraction(end.AddDate(0, 0, 5), start, end); got != 1 {
		t.Errorf("after end: expected 1, got %v", got)
	}
	if got := ProgressFraction(start, start, start); got != 0 {
		t.Errorf("empty period: expected 0, got %v", got)
	}
}

func TestProject(t *testing.T) {
	engine := newTestEngine(t)
	current := metric("2025-07-01", 200, 10, 500)
	baseline := metric("2025-06-01", 1000, 10, 500)

	proj := engine.Project(current, &baseline, 0.5)
	if proj.ProjectedSpend != 400 || proj.ProjectedRedemptions != 20 {
		t.Errorf("unexpected projection: %+v", proj)
	}
	if math.Abs(proj.SpendDropFraction-0.6) > 1e-9 {
		t.Errorf("expected spend drop 0.6, got %v", proj.SpendDropFraction)
	}
	if proj.RedemptionsDropFraction != 0 {
		t.Errorf("projected redemptions rose; expected 0 drop, got %v", proj.RedemptionsDropFraction)
	}

	nanProj := engine.Project(current, nil, math.NaN())
	if nanProj.Progress != MinProgress {
		t.Errorf("NaN progress should clamp to floor, got %v", nanProj.Progress)
	}
}
