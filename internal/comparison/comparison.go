// Package comparison resolves the comparison periods of the account table:
// which period (or synthetic average) a view shows, what it is compared
// against, and the resulting deltas.
package comparison

import (
	"errors"
	"fmt"
	"math"

	"github.com/opensource-finance/churnguard/internal/domain"
)

// ErrUnknownPeriod is returned for an unrecognized period name.
var ErrUnknownPeriod = errors.New("unknown comparison period")

// Period names a dashboard view.
type Period string

const (
	// CurrentMonth shows the open period against the one before it.
	CurrentMonth Period = "current_month"

	// PreviousMonth shows the last completed period against the one before it.
	PreviousMonth Period = "previous_month"

	// Last3MonthAvg shows the average of the three completed periods before
	// the open one, compared with the open period.
	Last3MonthAvg Period = "last_3_month_avg"

	// ThisMonthLastYear shows the period one year before the open one,
	// compared with the open period.
	ThisMonthLastYear Period = "this_month_last_year"
)

// AllPeriods lists the views in display order.
var AllPeriods = []Period{CurrentMonth, PreviousMonth, Last3MonthAvg, ThisMonthLastYear}

// ParsePeriod maps a query value to a Period. Empty input means CurrentMonth.
func ParsePeriod(s string) (Period, error) {
	if s == "" {
		return CurrentMonth, nil
	}
	for _, p := range AllPeriods {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, s)
}

// Label is the display title of the view. Only the open period is partial;
// the other views show full periods.
func (p Period) Label() string {
	switch p {
	case PreviousMonth:
		return "Previous Month"
	case Last3MonthAvg:
		return "Last 3 Month Average"
	case ThisMonthLastYear:
		return "Same Month Last Year"
	default:
		return "Current Month to Date"
	}
}

// IsCurrent reports whether the view shows the open period.
func (p Period) IsCurrent() bool {
	return p == CurrentMonth
}

// periodsPerYear is how far back "last year" is for a granularity.
func periodsPerYear(g domain.Granularity) int {
	if g == domain.GranularityWeek {
		return 52
	}
	return 12
}

// RequiredPeriods is the trailing series length a view needs to resolve
// its subject, baseline and the period before the subject.
func (p Period) RequiredPeriods(g domain.Granularity) int {
	switch p {
	case PreviousMonth:
		return 3
	case Last3MonthAvg:
		return 5
	case ThisMonthLastYear:
		return periodsPerYear(g) + 2
	default:
		return 2
	}
}

// Window is a resolved view over one account's series.
type Window struct {
	Period Period

	// Subject holds the figures the row displays. For Last3MonthAvg it is a
	// synthetic average labelled with the newest averaged period.
	Subject domain.PeriodMetric

	// SubjectIndex is the series index of Subject, or -1 when synthetic
	// or unavailable.
	SubjectIndex int

	// Baseline is what deltas are measured against, when available.
	Baseline *domain.PeriodMetric

	// Previous is the period immediately before the subject, used for
	// drop flags. Elapsed counts periods since first activity up to the
	// subject.
	Previous *domain.PeriodMetric
	Elapsed  int

	Deltas domain.MetricDeltas

	// Available is false when the series is too short for the view.
	Available bool
}

// Resolve builds the window of a view over series (oldest first). The
// series must be aligned to the calendar (see domain.AlignSeries) so that
// its last entry is the open period.
func Resolve(series domain.PeriodSeries, p Period, g domain.Granularity) Window {
	w := Window{Period: p, SubjectIndex: -1}
	last := len(series) - 1
	if last < 0 {
		return w
	}

	switch p {
	case CurrentMonth, PreviousMonth:
		idx := last
		if p == PreviousMonth {
			idx = last - 1
		}
		if idx < 0 {
			return w
		}
		w.setSubject(series, idx)
		w.Baseline = w.Previous

	case Last3MonthAvg:
		lo := last - 3
		if lo < 0 {
			return w
		}
		w.Subject = Average(series[lo:last])
		if prev, ok := series.Previous(lo); ok {
			w.Previous = &prev
		}
		w.Elapsed = series.ElapsedSinceFirstActivity(last - 1)
		current := series[last]
		w.Baseline = &current
		w.Available = true

	case ThisMonthLastYear:
		idx := last - periodsPerYear(g)
		if idx < 0 {
			return w
		}
		w.setSubject(series, idx)
		current := series[last]
		w.Baseline = &current
	}

	if w.Baseline != nil {
		w.Deltas = Deltas(w.Subject, *w.Baseline)
	}
	return w
}

func (w *Window) setSubject(series domain.PeriodSeries, idx int) {
	w.Subject = series[idx]
	w.SubjectIndex = idx
	w.Available = true
	if prev, ok := series.Previous(idx); ok {
		w.Previous = &prev
	}
	w.Elapsed = series.ElapsedSinceFirstActivity(idx)
}

// Deltas returns value - baseline for every counter.
func Deltas(value, baseline domain.PeriodMetric) domain.MetricDeltas {
	return domain.MetricDeltas{
		SpendDelta:   value.TotalSpend - baseline.TotalSpend,
		TextsDelta:   value.TotalTextsDelivered - baseline.TotalTextsDelivered,
		CouponsDelta: value.CouponsRedeemed - baseline.CouponsRedeemed,
		SubsDelta:    value.ActiveSubscribers - baseline.ActiveSubscribers,
	}
}

// Average returns the mean of metrics. Counters are rounded half away from
// zero; the key and label are taken from the newest period.
func Average(metrics []domain.PeriodMetric) domain.PeriodMetric {
	if len(metrics) == 0 {
		return domain.PeriodMetric{}
	}

	var spend float64
	var texts, coupons, subs int64
	for _, m := range metrics {
		spend += m.TotalSpend
		texts += m.TotalTextsDelivered
		coupons += m.CouponsRedeemed
		subs += m.ActiveSubscribers
	}

	n := float64(len(metrics))
	newest := metrics[len(metrics)-1]
	return domain.PeriodMetric{
		PeriodKey:           newest.PeriodKey,
		PeriodLabel:         fmt.Sprintf("%s - %s avg", metrics[0].PeriodLabel, newest.PeriodLabel),
		TotalSpend:          spend / n,
		TotalTextsDelivered: int64(math.Round(float64(texts) / n)),
		CouponsRedeemed:     int64(math.Round(float64(coupons) / n)),
		ActiveSubscribers:   int64(math.Round(float64(subs) / n)),
	}
}
