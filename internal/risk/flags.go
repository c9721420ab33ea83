package risk

import (
	"math"

	"github.com/opensource-finance/churnguard/internal/domain"
)

// EvaluateFlags computes the four settled-mode flags for current.
// Drop flags need a previous period and at least
// MinElapsedPeriodsForDropFlags periods since first activity.
func (e *Engine) EvaluateFlags(current, previous *domain.PeriodMetric, elapsed int) domain.RiskFlags {
	var cur domain.PeriodMetric
	if current != nil {
		cur = *current
	}
	p := e.policy

	flags := domain.RiskFlags{
		LowRedemptions: cur.CouponsRedeemed <= p.MonthlyRedemptionsThreshold,
		LowActivity: cur.ActiveSubscribers < p.LowActivitySubscribersThreshold &&
			cur.CouponsRedeemed < p.LowActivityRedemptionsThreshold,
	}

	if previous != nil && elapsed >= p.MinElapsedPeriodsForDropFlags {
		spendDrop := DropFraction(previous.TotalSpend, cur.TotalSpend)
		redemptionsDrop := DropFraction(float64(previous.CouponsRedeemed), float64(cur.CouponsRedeemed))
		flags.SpendDrop = spendDrop >= p.SpendDropThreshold
		flags.RedemptionsDrop = redemptionsDrop >= p.RedemptionsDropThreshold
	}
	return flags
}

// projectedFlags applies the same predicate shapes to projected figures.
// Subscribers are not projected; drops are not gated on elapsed periods.
func (e *Engine) projectedFlags(current domain.PeriodMetric, proj domain.Projection) domain.RiskFlags {
	p := e.policy
	flags := domain.RiskFlags{
		LowRedemptions: proj.ProjectedRedemptions <= float64(p.MonthlyRedemptionsThreshold),
		LowActivity: current.ActiveSubscribers < p.LowActivitySubscribersThreshold &&
			proj.ProjectedRedemptions < float64(p.LowActivityRedemptionsThreshold),
	}
	if proj.HasBaseline {
		flags.SpendDrop = proj.SpendDropFraction >= p.SpendDropThreshold
		flags.RedemptionsDrop = proj.RedemptionsDropFraction >= p.RedemptionsDropThreshold
	}
	return flags
}

// DropFraction returns the fractional decrease from previous to current,
// clamped at 0. A non-positive previous yields 0.
func DropFraction(previous, current float64) float64 {
	if previous <= 0 {
		return 0
	}
	return math.Max(0, (previous-current)/previous)
}
