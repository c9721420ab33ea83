package risk

import "github.com/opensource-finance/churnguard/internal/domain"

// ReduceLevel maps a flag count to a risk level. Settled and trending
// periods use separate tables; unknown modes use the settled table.
func ReduceLevel(flagCount int, mode domain.AssessmentMode) domain.RiskLevel {
	if mode == domain.ModeTrending {
		return reduceTrending(flagCount)
	}
	return reduceSettled(flagCount)
}

func reduceSettled(flagCount int) domain.RiskLevel {
	switch {
	case flagCount >= 3:
		return domain.RiskHigh
	case flagCount >= 1:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// The trending table matches settled for 0-4 flags today. Kept separate so
// projected classification can be tuned independently.
func reduceTrending(flagCount int) domain.RiskLevel {
	switch {
	case flagCount <= 0:
		return domain.RiskLow
	case flagCount <= 2:
		return domain.RiskMedium
	default:
		return domain.RiskHigh
	}
}
