package dashboard

import (
	"context"

	"github.com/opensource-finance/churnguard/internal/comparison"
	"github.com/opensource-finance/churnguard/internal/domain"
)

// RiskCounts is the number of accounts per settled level. Override levels
// outside low/medium/high are counted as Other.
type RiskCounts struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
	Other  int `json:"other"`
}

// Add counts one level.
func (c *RiskCounts) Add(level domain.RiskLevel) {
	switch level {
	case domain.RiskLow:
		c.Low++
	case domain.RiskMedium:
		c.Medium++
	case domain.RiskHigh:
		c.High++
	default:
		c.Other++
	}
}

// Sub returns c - other per level.
func (c RiskCounts) Sub(other RiskCounts) RiskCounts {
	return RiskCounts{
		Low:    c.Low - other.Low,
		Medium: c.Medium - other.Medium,
		High:   c.High - other.High,
		Other:  c.Other - other.Other,
	}
}

// Summary backs the summary cards above the account table.
type Summary struct {
	Granularity domain.Granularity `json:"granularity"`
	Period      comparison.Period  `json:"period"`
	PeriodLabel string             `json:"periodLabel"`

	TotalAccounts    int        `json:"totalAccounts"`
	Risk             RiskCounts `json:"risk"`
	TotalSpend       float64    `json:"totalSpend"`
	TotalRedemptions int64      `json:"totalRedemptions"`
	TotalTexts       int64      `json:"totalTexts"`
	TotalSubscribers int64      `json:"totalSubscribers"`

	// RevenueAtRisk is the spend of high-risk accounts.
	RevenueAtRisk float64 `json:"revenueAtRisk"`

	// Deltas and RiskDeltas are set for comparison periods only; both are
	// this period minus the current period.
	Deltas     *domain.MetricDeltas `json:"deltas,omitempty"`
	RiskDeltas *RiskCounts          `json:"riskDeltas,omitempty"`
}

// Summary aggregates the rows of the query into summary cards.
func (s *Service) Summary(ctx context.Context, q Query) (*Summary, error) {
	q = q.normalized()
	ctx, span := tracer.Start(ctx, "dashboard.Summary")
	defer span.End()

	rows, err := s.Rows(ctx, q)
	if err != nil {
		return nil, err
	}
	sum := Summarize(rows)
	sum.Granularity = q.Granularity
	sum.Period = q.Period
	sum.PeriodLabel = q.Period.Label()

	if !q.Period.IsCurrent() {
		currentQuery := q
		currentQuery.Period = comparison.CurrentMonth
		currentRows, err := s.Rows(ctx, currentQuery)
		if err != nil {
			return nil, err
		}
		current := Summarize(currentRows)
		riskDeltas := sum.Risk.Sub(current.Risk)
		sum.RiskDeltas = &riskDeltas

		var deltas domain.MetricDeltas
		for _, row := range rows {
			deltas.SpendDelta += row.SpendDelta
			deltas.TextsDelta += row.TextsDelta
			deltas.CouponsDelta += row.CouponsDelta
			deltas.SubsDelta += row.SubsDelta
		}
		sum.Deltas = &deltas
	}

	return sum, nil
}

// Summarize computes counts and totals over rows.
func Summarize(rows []*domain.AccountRow) *Summary {
	sum := &Summary{TotalAccounts: len(rows)}
	for _, row := range rows {
		sum.Risk.Add(row.RiskLevel)
		sum.TotalSpend += row.TotalSpend
		sum.TotalRedemptions += row.CouponsRedeemed
		sum.TotalTexts += row.TotalTextsDelivered
		sum.TotalSubscribers += row.ActiveSubscribers
		if row.RiskLevel == domain.RiskHigh {
			sum.RevenueAtRisk += row.TotalSpend
		}
	}
	return sum
}

// RiskScore is the compact per-account view served to integrations.
type RiskScore struct {
	AccountID  string           `json:"account_id"`
	RiskLevel  domain.RiskLevel `json:"risk_level"`
	TotalSpend float64          `json:"total_spend"`
}

// LatestRiskScores returns the settled level of every account's current
// monthly period.
func (s *Service) LatestRiskScores(ctx context.Context) ([]RiskScore, error) {
	rows, err := s.Rows(ctx, Query{Granularity: domain.GranularityMonth, Period: comparison.CurrentMonth})
	if err != nil {
		return nil, err
	}
	scores := make([]RiskScore, len(rows))
	for i, row := range rows {
		scores[i] = RiskScore{AccountID: row.AccountID, RiskLevel: row.RiskLevel, TotalSpend: row.TotalSpend}
	}
	return scores, nil
}
