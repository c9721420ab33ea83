package risk

import (
	"math"
	"time"

	"github.com/opensource-finance/churnguard/internal/domain"
)

// MinProgress is the floor applied to calendar progress so that very early
// (or not yet started) periods do not explode projections.
const MinProgress = 0.1

// DaysInMonth returns the number of days in t's month.
func DaysInMonth(t time.Time) int {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// ProgressFraction returns the share of [start, end) completed by now,
// counting whole days and excluding the current day. The result is in [0, 1].
func ProgressFraction(now, start, end time.Time) float64 {
	total := dayIndex(end) - dayIndex(start)
	if total <= 0 {
		return 0
	}
	elapsed := dayIndex(now) - dayIndex(start)
	switch {
	case elapsed <= 0:
		return 0
	case elapsed >= total:
		return 1
	}
	return float64(elapsed) / float64(total)
}

// PeriodProgress returns the progress through the period containing now:
// (day-1)/DaysInMonth for months, (weekday offset)/7 for Monday weeks.
func PeriodProgress(now time.Time, g domain.Granularity) float64 {
	start := domain.PeriodStart(now, g)
	var end time.Time
	if g == domain.GranularityWeek {
		end = start.AddDate(0, 0, 7)
	} else {
		end = start.AddDate(0, 1, 0)
	}
	return ProgressFraction(now, start, end)
}

// dayIndex counts calendar days in t's location, ignoring clock time and DST.
func dayIndex(t time.Time) int {
	y, m, d := t.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

// BaselineFromDeltas recovers the previous period's spend and redemptions
// as current - delta, for callers that only hold deltas.
func BaselineFromDeltas(current domain.PeriodMetric, deltas domain.MetricDeltas) domain.PeriodMetric {
	return domain.PeriodMetric{
		TotalSpend:          current.TotalSpend - deltas.SpendDelta,
		TotalTextsDelivered: current.TotalTextsDelivered - deltas.TextsDelta,
		CouponsRedeemed:     current.CouponsRedeemed - deltas.CouponsDelta,
		ActiveSubscribers:   current.ActiveSubscribers - deltas.SubsDelta,
	}
}

// Project extrapolates end-of-period spend and redemptions from actuals and
// calendar progress, and computes drops against baseline when present.
func (e *Engine) Project(current domain.PeriodMetric, baseline *domain.PeriodMetric, progress float64) domain.Projection {
	if math.IsNaN(progress) {
		progress = 0
	}
	p := math.Max(MinProgress, progress)

	proj := domain.Projection{
		Progress:             p,
		ProjectedSpend:       current.TotalSpend / p,
		ProjectedRedemptions: float64(current.CouponsRedeemed) / p,
	}
	if baseline != nil {
		proj.HasBaseline = true
		proj.BaselineSpend = baseline.TotalSpend
		proj.BaselineRedemptions = float64(baseline.CouponsRedeemed)
		proj.SpendDropFraction = DropFraction(proj.BaselineSpend, proj.ProjectedSpend)
		proj.RedemptionsDropFraction = DropFraction(proj.BaselineRedemptions, proj.ProjectedRedemptions)
	}
	return proj
}
