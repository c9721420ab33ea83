// Package risk implements the churn-risk classification engine.
//
// The engine turns an account's ordered period series into a risk level
// and named risk flags. Completed periods are classified from actuals
// ("settled"); the open period is classified from totals extrapolated by
// calendar progress ("trending"). The package performs no I/O.
package risk

import (
	"errors"
	"fmt"

	"github.com/opensource-finance/churnguard/internal/domain"
)

// ErrInvalidInput is returned for out-of-range indices, empty series and
// invalid policies.
var ErrInvalidInput = errors.New("invalid input")

// DefaultPolicyVersion identifies the built-in thresholds.
const DefaultPolicyVersion = "2025-07"

// Policy holds the thresholds the flag evaluator applies.
// A Policy is immutable once handed to an Engine.
type Policy struct {
	Version string

	// lowRedemptions: coupons <= MonthlyRedemptionsThreshold
	MonthlyRedemptionsThreshold int64

	// lowActivity: subscribers < LowActivitySubscribersThreshold AND
	// coupons < LowActivityRedemptionsThreshold
	LowActivitySubscribersThreshold int64
	LowActivityRedemptionsThreshold int64

	// Drop fractions at or above these raise spendDrop / redemptionsDrop.
	SpendDropThreshold       float64
	RedemptionsDropThreshold float64

	// Settled drop flags need this many periods since first activity.
	MinElapsedPeriodsForDropFlags int
}

// DefaultPolicy returns the production thresholds.
func DefaultPolicy() Policy {
	return Policy{
		Version:                         DefaultPolicyVersion,
		MonthlyRedemptionsThreshold:     3,
		LowActivitySubscribersThreshold: 300,
		LowActivityRedemptionsThreshold: 35,
		SpendDropThreshold:              0.40,
		RedemptionsDropThreshold:        0.50,
		MinElapsedPeriodsForDropFlags:   3,
	}
}

// PolicyFromConfig overlays configured thresholds on DefaultPolicy.
// Zero values keep the default.
func PolicyFromConfig(cfg domain.PolicyConfig) Policy {
	p := DefaultPolicy()
	if cfg.Version != "" {
		p.Version = cfg.Version
	}
	if cfg.MonthlyRedemptionsThreshold != 0 {
		p.MonthlyRedemptionsThreshold = cfg.MonthlyRedemptionsThreshold
	}
	if cfg.LowActivitySubscribersThreshold != 0 {
		p.LowActivitySubscribersThreshold = cfg.LowActivitySubscribersThreshold
	}
	if cfg.LowActivityRedemptionsThreshold != 0 {
		p.LowActivityRedemptionsThreshold = cfg.LowActivityRedemptionsThreshold
	}
	if cfg.SpendDropThreshold != 0 {
		p.SpendDropThreshold = cfg.SpendDropThreshold
	}
	if cfg.RedemptionsDropThreshold != 0 {
		p.RedemptionsDropThreshold = cfg.RedemptionsDropThreshold
	}
	if cfg.MinElapsedPeriodsForDropFlags != 0 {
		p.MinElapsedPeriodsForDropFlags = cfg.MinElapsedPeriodsForDropFlags
	}
	return p
}

// Validate rejects negative thresholds and drop fractions outside (0, 1].
func (p Policy) Validate() error {
	if p.MonthlyRedemptionsThreshold < 0 {
		return fmt.Errorf("%w: monthly redemptions threshold is negative", ErrInvalidInput)
	}
	if p.LowActivitySubscribersThreshold < 0 || p.LowActivityRedemptionsThreshold < 0 {
		return fmt.Errorf("%w: low activity thresholds must not be negative", ErrInvalidInput)
	}
	if p.SpendDropThreshold <= 0 || p.SpendDropThreshold > 1 {
		return fmt.Errorf("%w: spend drop threshold %v not in (0,1]", ErrInvalidInput, p.SpendDropThreshold)
	}
	if p.RedemptionsDropThreshold <= 0 || p.RedemptionsDropThreshold > 1 {
		return fmt.Errorf("%w: redemptions drop threshold %v not in (0,1]", ErrInvalidInput, p.RedemptionsDropThreshold)
	}
	if p.MinElapsedPeriodsForDropFlags < 0 {
		return fmt.Errorf("%w: min elapsed periods is negative", ErrInvalidInput)
	}
	return nil
}

// Criteria exports the thresholds for snapshot records.
func (p Policy) Criteria() domain.SnapshotCriteria {
	return domain.SnapshotCriteria{
		MonthlyRedemptionsThreshold: p.MonthlyRedemptionsThreshold,
		LowActivitySubscribers:      p.LowActivitySubscribersThreshold,
		LowActivityRedemptions:      p.LowActivityRedemptionsThreshold,
		RedemptionsDropThreshold:    p.RedemptionsDropThreshold,
		SpendDropThreshold:          p.SpendDropThreshold,
		PolicyVersion:               p.Version,
	}
}
