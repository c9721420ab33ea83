package risk

import (
	"fmt"

	"github.com/opensource-finance/churnguard/internal/domain"
)

// Engine classifies period series against a Policy.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	policy Policy
}

// NewEngine creates an engine for a validated policy.
func NewEngine(policy Policy) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Engine{policy: policy}, nil
}

// Policy returns the thresholds the engine applies.
func (e *Engine) Policy() Policy {
	return e.policy
}

// ClassifyPeriod returns the settled assessment of series[index].
func (e *Engine) ClassifyPeriod(series domain.PeriodSeries, index int) (domain.RiskAssessment, error) {
	if err := checkIndex(series, index); err != nil {
		return domain.RiskAssessment{}, err
	}
	return e.classifySettled(series, index, series.FirstActiveIndex()), nil
}

// ClassifySeries returns the settled assessment of every period, oldest first.
func (e *Engine) ClassifySeries(series domain.PeriodSeries) ([]domain.RiskAssessment, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: empty series", ErrInvalidInput)
	}
	first := series.FirstActiveIndex()
	out := make([]domain.RiskAssessment, len(series))
	for i := range series {
		out[i] = e.classifySettled(series, i, first)
	}
	return out, nil
}

func (e *Engine) classifySettled(series domain.PeriodSeries, index, first int) domain.RiskAssessment {
	current := series[index]
	var previous *domain.PeriodMetric
	if prev, ok := series.Previous(index); ok {
		previous = &prev
	}
	elapsed := 0
	if first >= 0 {
		elapsed = index - first + 1
	}
	return e.ClassifyMetric(current, previous, elapsed)
}

// ClassifyMetric returns the settled assessment of a single period that is
// not addressed by series index, such as a multi-period average.
func (e *Engine) ClassifyMetric(current domain.PeriodMetric, previous *domain.PeriodMetric, elapsed int) domain.RiskAssessment {
	flags := e.EvaluateFlags(&current, previous, elapsed)
	count := flags.Count()
	return domain.RiskAssessment{
		Mode:      domain.ModeSettled,
		Level:     ReduceLevel(count, domain.ModeSettled),
		Flags:     &flags,
		FlagCount: count,
		Reason:    FormatFlags(&flags),
		PeriodKey: current.PeriodKey,
	}
}

// ClassifyTrending returns the projected assessment of the open period at
// currentIndex. The baseline is the period before it, when present.
func (e *Engine) ClassifyTrending(series domain.PeriodSeries, currentIndex int, progress float64) (domain.RiskAssessment, error) {
	if err := checkIndex(series, currentIndex); err != nil {
		return domain.RiskAssessment{}, err
	}
	current := series[currentIndex]
	var baseline *domain.PeriodMetric
	if prev, ok := series.Previous(currentIndex); ok {
		baseline = &prev
	}
	return e.ClassifyProjected(current, baseline, progress), nil
}

// ClassifyProjected is ClassifyTrending for callers holding a single
// period and an explicit baseline (e.g. one recovered from deltas).
func (e *Engine) ClassifyProjected(current domain.PeriodMetric, baseline *domain.PeriodMetric, progress float64) domain.RiskAssessment {
	proj := e.Project(current, baseline, progress)
	flags := e.projectedFlags(current, proj)
	count := flags.Count()
	return domain.RiskAssessment{
		Mode:       domain.ModeTrending,
		Level:      ReduceLevel(count, domain.ModeTrending),
		Flags:      &flags,
		FlagCount:  count,
		Reason:     FormatFlags(&flags),
		PeriodKey:  current.PeriodKey,
		Projection: &proj,
	}
}

// ClassifyWithOverride returns the override verbatim when present and
// otherwise runs classify. The flag evaluator is never reached for
// overridden accounts.
func (e *Engine) ClassifyWithOverride(override *domain.RiskOverride, classify func() (domain.RiskAssessment, error)) (domain.RiskAssessment, error) {
	if override != nil {
		return OverrideAssessment(override), nil
	}
	if classify == nil {
		return domain.RiskAssessment{}, fmt.Errorf("%w: no classifier", ErrInvalidInput)
	}
	return classify()
}

// OverrideAssessment wraps a provider override without interpreting it.
func OverrideAssessment(override *domain.RiskOverride) domain.RiskAssessment {
	return domain.RiskAssessment{
		Mode:   domain.ModeOverride,
		Level:  domain.RiskLevel(override.Level),
		Reason: override.Reason,
	}
}

func checkIndex(series domain.PeriodSeries, index int) error {
	if len(series) == 0 {
		return fmt.Errorf("%w: empty series", ErrInvalidInput)
	}
	if index < 0 || index >= len(series) {
		return fmt.Errorf("%w: index %d out of range [0,%d)", ErrInvalidInput, index, len(series))
	}
	return nil
}
