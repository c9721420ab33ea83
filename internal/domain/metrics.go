package domain

import (
	"fmt"
	"time"
)

// Granularity is the calendar bucket metrics are aggregated over.
type Granularity string

const (
	GranularityMonth Granularity = "month"
	GranularityWeek  Granularity = "week"
)

// DefaultSeriesLimit is the number of trailing periods served per account.
const DefaultSeriesLimit = 12

// ParseGranularity maps a query value to a Granularity.
// Empty input defaults to monthly.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case "", GranularityMonth:
		return GranularityMonth, nil
	case GranularityWeek:
		return GranularityWeek, nil
	default:
		return "", fmt.Errorf("unsupported granularity: %s", s)
	}
}

// PeriodMetric is one account's activity in one period.
type PeriodMetric struct {
	// PeriodKey is the ISO date of the period start (e.g. "2025-07-01").
	// Keys sort lexicographically in time order.
	PeriodKey string `json:"period_key"`

	// PeriodLabel is for display only (e.g. "Jul 2025").
	PeriodLabel string `json:"period_label"`

	TotalSpend          float64 `json:"total_spend"`
	TotalTextsDelivered int64   `json:"total_texts_delivered"`
	CouponsRedeemed     int64   `json:"coupons_redeemed"`
	ActiveSubscribers   int64   `json:"active_subscribers"`
}

// HasActivity reports whether any of the activity counters is non-zero.
// Subscribers alone do not count as activity.
func (m PeriodMetric) HasActivity() bool {
	return m.TotalSpend > 0 || m.TotalTextsDelivered > 0 || m.CouponsRedeemed > 0
}

// Start parses the period key as a date.
func (m PeriodMetric) Start() (time.Time, error) {
	return time.Parse(time.DateOnly, m.PeriodKey)
}

// PeriodSeries is the ordered list of metrics for one account, oldest first.
// Owned by the metrics provider; the risk engine only reads it.
type PeriodSeries []PeriodMetric

// FirstActiveIndex returns the index of the first period with activity,
// or -1 when no period has any.
func (s PeriodSeries) FirstActiveIndex() int {
	for i, m := range s {
		if m.HasActivity() {
			return i
		}
	}
	return -1
}

// Previous returns the period immediately before index i.
func (s PeriodSeries) Previous(i int) (PeriodMetric, bool) {
	if i <= 0 || i > len(s) {
		return PeriodMetric{}, false
	}
	return s[i-1], true
}

// ElapsedSinceFirstActivity returns the 1-based count of periods from the
// first active period up to and including index i. It is 0 when the series
// has no activity at all.
func (s PeriodSeries) ElapsedSinceFirstActivity(i int) int {
	first := s.FirstActiveIndex()
	if first < 0 {
		return 0
	}
	return i - first + 1
}

// IndexOf returns the index of the period with the given key, or -1.
func (s PeriodSeries) IndexOf(periodKey string) int {
	for i, m := range s {
		if m.PeriodKey == periodKey {
			return i
		}
	}
	return -1
}

// Validate checks that period keys are unique and strictly increasing.
func (s PeriodSeries) Validate() error {
	for i := 1; i < len(s); i++ {
		if s[i].PeriodKey <= s[i-1].PeriodKey {
			return fmt.Errorf("period %q is not after %q", s[i].PeriodKey, s[i-1].PeriodKey)
		}
	}
	return nil
}

// MetricDeltas holds period-over-period differences (current - baseline).
type MetricDeltas struct {
	SpendDelta   float64 `json:"spend_delta"`
	TextsDelta   int64   `json:"texts_delta"`
	CouponsDelta int64   `json:"coupons_delta"`
	SubsDelta    int64   `json:"subs_delta"`
}

// MetricInput is the ingest payload for one period. Counters are pointers so
// that absent fields can be told apart from zero; absent counters become 0.
type MetricInput struct {
	PeriodKey           string   `json:"period_key"`
	PeriodLabel         string   `json:"period_label,omitempty"`
	TotalSpend          *float64 `json:"total_spend,omitempty"`
	TotalTextsDelivered *int64   `json:"total_texts_delivered,omitempty"`
	CouponsRedeemed     *int64   `json:"coupons_redeemed,omitempty"`
	ActiveSubscribers   *int64   `json:"active_subscribers,omitempty"`
}

// ToPeriodMetric coalesces missing counters to zero.
func (in MetricInput) ToPeriodMetric() PeriodMetric {
	m := PeriodMetric{
		PeriodKey:   in.PeriodKey,
		PeriodLabel: in.PeriodLabel,
	}
	if in.TotalSpend != nil {
		m.TotalSpend = *in.TotalSpend
	}
	if in.TotalTextsDelivered != nil {
		m.TotalTextsDelivered = *in.TotalTextsDelivered
	}
	if in.CouponsRedeemed != nil {
		m.CouponsRedeemed = *in.CouponsRedeemed
	}
	if in.ActiveSubscribers != nil {
		m.ActiveSubscribers = *in.ActiveSubscribers
	}
	if m.PeriodLabel == "" {
		m.PeriodLabel = DefaultPeriodLabel(m.PeriodKey)
	}
	return m
}

// Validate rejects negative counters and malformed period keys.
func (in MetricInput) Validate() error {
	if _, err := time.Parse(time.DateOnly, in.PeriodKey); err != nil {
		return fmt.Errorf("period_key must be YYYY-MM-DD: %q", in.PeriodKey)
	}
	if in.TotalSpend != nil && *in.TotalSpend < 0 {
		return fmt.Errorf("total_spend must not be negative")
	}
	if in.TotalTextsDelivered != nil && *in.TotalTextsDelivered < 0 {
		return fmt.Errorf("total_texts_delivered must not be negative")
	}
	if in.CouponsRedeemed != nil && *in.CouponsRedeemed < 0 {
		return fmt.Errorf("coupons_redeemed must not be negative")
	}
	if in.ActiveSubscribers != nil && *in.ActiveSubscribers < 0 {
		return fmt.Errorf("active_subscribers must not be negative")
	}
	return nil
}

// DefaultPeriodLabel renders "Jan 2006" for a period key, or the key itself
// when it does not parse.
func DefaultPeriodLabel(periodKey string) string {
	t, err := time.Parse(time.DateOnly, periodKey)
	if err != nil {
		return periodKey
	}
	return t.Format("Jan 2006")
}

// PeriodStart truncates t to the start of its period.
// Weeks start on Monday.
func PeriodStart(t time.Time, g Granularity) time.Time {
	y, m, d := t.Date()
	switch g {
	case GranularityWeek:
		day := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	default:
		return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
	}
}

// PeriodKeyFor returns the period key that contains t.
func PeriodKeyFor(t time.Time, g Granularity) string {
	return PeriodStart(t, g).Format(time.DateOnly)
}

// AddPeriods moves a period start n periods forward (or back when n < 0).
func AddPeriods(start time.Time, g Granularity, n int) time.Time {
	if g == GranularityWeek {
		return start.AddDate(0, 0, 7*n)
	}
	return start.AddDate(0, n, 0)
}

// AlignSeries places a stored series on the calendar. The result holds one
// entry per period from the first stored period (or limit periods back,
// whichever is later) through the period containing now. Missing periods
// are zero metrics; stored periods after now are dropped. A series without
// stored periods up to now is returned empty.
func AlignSeries(series PeriodSeries, g Granularity, now time.Time, limit int) PeriodSeries {
	if limit <= 0 {
		limit = DefaultSeriesLimit
	}
	open, _ := time.Parse(time.DateOnly, PeriodKeyFor(now, g))
	start := AddPeriods(open, g, -(limit - 1))

	byKey := make(map[string]PeriodMetric, len(series))
	first := ""
	for _, m := range series {
		if m.PeriodKey > open.Format(time.DateOnly) {
			continue
		}
		if first == "" || m.PeriodKey < first {
			first = m.PeriodKey
		}
		byKey[m.PeriodKey] = m
	}
	aligned := PeriodSeries{}
	if first == "" {
		return aligned
	}
	if t, err := time.Parse(time.DateOnly, first); err == nil && t.After(start) {
		start = PeriodStart(t, g)
	}

	for t := start; !t.After(open); t = AddPeriods(t, g, 1) {
		key := t.Format(time.DateOnly)
		if m, ok := byKey[key]; ok {
			aligned = append(aligned, m)
			continue
		}
		aligned = append(aligned, PeriodMetric{PeriodKey: key, PeriodLabel: DefaultPeriodLabel(key)})
	}
	return aligned
}
