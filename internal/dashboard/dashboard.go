// Package dashboard assembles the account table, history, summary cards and
// snapshots from the metrics provider and the risk engine.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/churnguard/internal/comparison"
	"github.com/opensource-finance/churnguard/internal/domain"
	"github.com/opensource-finance/churnguard/internal/filter"
	"github.com/opensource-finance/churnguard/internal/observability"
	"github.com/opensource-finance/churnguard/internal/risk"
)

var (
	// ErrUnknownPeriod is returned for an unrecognized comparison period.
	ErrUnknownPeriod = comparison.ErrUnknownPeriod

	// ErrInvalidInput is returned for malformed ingest or account payloads.
	ErrInvalidInput = errors.New("invalid input")
)

var tracer = otel.Tracer("churnguard-dashboard")

// Invalidator drops cached provider reads for an account.
type Invalidator interface {
	Invalidate(ctx context.Context, accountID string) error
}

// Options wires a Service.
type Options struct {
	// Repository receives writes (accounts, metrics, snapshots).
	Repository domain.Repository

	// Provider serves reads. Defaults to Repository. When it implements
	// Invalidator it is invalidated after ingest.
	Provider domain.MetricsProvider

	Engine  *risk.Engine
	Filters *filter.Compiler
	Bus     domain.EventBus
	Metrics *observability.Metrics

	// Workers bounds parallel account classification.
	Workers int

	// SeriesLimit is the trailing series length read per account.
	SeriesLimit int

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Service answers dashboard queries. It is safe for concurrent use.
type Service struct {
	repo        domain.Repository
	provider    domain.MetricsProvider
	engine      *risk.Engine
	filters     *filter.Compiler
	bus         domain.EventBus
	metrics     *observability.Metrics
	workers     int
	seriesLimit int
	now         func() time.Time
}

// New creates a dashboard service.
func New(opts Options) (*Service, error) {
	if opts.Repository == nil {
		return nil, errors.New("dashboard: repository is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("dashboard: engine is required")
	}
	if opts.Provider == nil {
		opts.Provider = opts.Repository
	}
	if opts.Filters == nil {
		compiler, err := filter.NewCompiler()
		if err != nil {
			return nil, err
		}
		opts.Filters = compiler
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.SeriesLimit <= 0 {
		opts.SeriesLimit = domain.DefaultSeriesLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		repo:        opts.Repository,
		provider:    opts.Provider,
		engine:      opts.Engine,
		filters:     opts.Filters,
		bus:         opts.Bus,
		metrics:     opts.Metrics,
		workers:     opts.Workers,
		seriesLimit: opts.SeriesLimit,
		now:         opts.Now,
	}, nil
}

// Engine returns the risk engine the service classifies with.
func (s *Service) Engine() *risk.Engine {
	return s.engine
}

// Query selects the rows of the account table.
type Query struct {
	Granularity domain.Granularity
	Period      comparison.Period

	// Filter is an optional CEL expression over a row.
	Filter string
}

// ParseQuery builds a Query from raw request values.
func ParseQuery(granularity, period, filterExpr string) (Query, error) {
	g, err := domain.ParseGranularity(granularity)
	if err != nil {
		return Query{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	p, err := comparison.ParsePeriod(period)
	if err != nil {
		return Query{}, err
	}
	return Query{Granularity: g, Period: p, Filter: strings.TrimSpace(filterExpr)}, nil
}

func (q Query) normalized() Query {
	if q.Granularity == "" {
		q.Granularity = domain.GranularityMonth
	}
	if q.Period == "" {
		q.Period = comparison.CurrentMonth
	}
	return q
}

// ValidateFilter compile-checks a filter expression.
func (s *Service) ValidateFilter(expr string) error {
	return s.filters.Validate(expr)
}

// Rows returns one row per account for the query, in account order.
func (s *Service) Rows(ctx context.Context, q Query) ([]*domain.AccountRow, error) {
	q = q.normalized()
	ctx, span := tracer.Start(ctx, "dashboard.Rows", trace.WithAttributes(
		attribute.String("granularity", string(q.Granularity)),
		attribute.String("period", string(q.Period)),
	))
	defer span.End()

	var f *filter.Filter
	if q.Filter != "" {
		compiled, err := s.filters.Compile(q.Filter)
		if err != nil {
			return nil, err
		}
		f = compiled
	}

	accounts, err := s.provider.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	rows := make([]*domain.AccountRow, len(accounts))
	err = s.forEachAccount(ctx, accounts, func(ctx context.Context, i int, acct *domain.Account) error {
		row, err := s.buildRow(ctx, acct, q)
		if err != nil {
			return err
		}
		rows[i] = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("accounts", len(rows)))

	return f.Apply(rows)
}

// Row returns the table row of a single account.
func (s *Service) Row(ctx context.Context, accountID string, q Query) (*domain.AccountRow, error) {
	q = q.normalized()
	acct, err := s.provider.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.buildRow(ctx, acct, q)
}

// forEachAccount runs fn for every account on a bounded pool and returns
// the first error.
func (s *Service) forEachAccount(ctx context.Context, accounts []*domain.Account, fn func(context.Context, int, *domain.Account) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	sem := make(chan struct{}, s.workers)

	for i, acct := range accounts {
		wg.Add(1)
		go func(idx int, a *domain.Account) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			if ctx.Err() != nil {
				return
			}
			if err := fn(ctx, idx, a); err != nil {
				once.Do(func() {
					firstErr = fmt.Errorf("account %s: %w", a.ID, err)
					cancel()
				})
			}
		}(i, acct)
	}

	wg.Wait()
	return firstErr
}

func (s *Service) seriesLength(q Query) int {
	if n := q.Period.RequiredPeriods(q.Granularity); n > s.seriesLimit {
		return n
	}
	return s.seriesLimit
}

// calendarSeries reads the trailing series of an account aligned to the
// calendar, ending at the period containing now.
func (s *Service) calendarSeries(ctx context.Context, accountID string, g domain.Granularity, limit int, now time.Time) (domain.PeriodSeries, error) {
	series, err := s.provider.GetPeriodSeries(ctx, accountID, g, limit)
	if err != nil {
		return nil, err
	}
	return domain.AlignSeries(series, g, now, limit), nil
}

func (s *Service) buildRow(ctx context.Context, acct *domain.Account, q Query) (*domain.AccountRow, error) {
	now := s.now()
	series, err := s.calendarSeries(ctx, acct.ID, q.Granularity, s.seriesLength(q), now)
	if err != nil {
		return nil, err
	}

	row := &domain.AccountRow{
		AccountID:     acct.ID,
		Name:          acct.Name,
		CSM:           acct.CSM,
		Status:        acct.Status,
		LocationCount: acct.LocationCount,
	}
	if idx := latestActive(series); idx >= 0 {
		row.LatestActivity = series[idx].PeriodKey
	}

	w := comparison.Resolve(series, q.Period, q.Granularity)
	if w.Available {
		row.PeriodKey = w.Subject.PeriodKey
		row.PeriodLabel = w.Subject.PeriodLabel
		row.TotalSpend = w.Subject.TotalSpend
		row.TotalTextsDelivered = w.Subject.TotalTextsDelivered
		row.CouponsRedeemed = w.Subject.CouponsRedeemed
		row.ActiveSubscribers = w.Subject.ActiveSubscribers
		row.MetricDeltas = w.Deltas
	}

	override := acct.ActiveOverride()
	settled, err := s.engine.ClassifyWithOverride(override, func() (domain.RiskAssessment, error) {
		if w.SubjectIndex >= 0 {
			return s.engine.ClassifyPeriod(series, w.SubjectIndex)
		}
		return s.engine.ClassifyMetric(w.Subject, w.Previous, w.Elapsed), nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Classified(settled)
	row.RiskLevel = settled.Level
	row.RiskFlags = settled.Flags
	row.RiskReason = settled.Reason

	open := w.SubjectIndex >= 0 && series[w.SubjectIndex].PeriodKey == domain.PeriodKeyFor(now, q.Granularity)
	if q.Period.IsCurrent() && open {
		progress := risk.PeriodProgress(now, q.Granularity)
		trending, err := s.engine.ClassifyWithOverride(override, func() (domain.RiskAssessment, error) {
			return s.engine.ClassifyTrending(series, w.SubjectIndex, progress)
		})
		if err != nil {
			return nil, err
		}
		s.metrics.Classified(trending)
		row.TrendingRiskLevel = trending.Level
		row.TrendingRiskFlags = trending.Flags
	}

	return row, nil
}

// latestActive returns the index of the newest period with activity, or -1.
func latestActive(series domain.PeriodSeries) int {
	for i := len(series) - 1; i >= 0; i-- {
		if series[i].HasActivity() {
			return i
		}
	}
	return -1
}

// HistoryPoint is one period of an account's detail chart.
type HistoryPoint struct {
	domain.PeriodMetric
	Assessment domain.RiskAssessment `json:"assessment"`
}

// History returns the trailing series of an account with the settled
// assessment of every period. Overridden accounts carry the override on
// every point.
func (s *Service) History(ctx context.Context, accountID string, g domain.Granularity) ([]HistoryPoint, error) {
	ctx, span := tracer.Start(ctx, "dashboard.History", trace.WithAttributes(
		attribute.String("account_id", accountID),
	))
	defer span.End()

	acct, err := s.provider.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	series, err := s.calendarSeries(ctx, accountID, g, s.seriesLimit, s.now())
	if err != nil {
		return nil, err
	}

	points := make([]HistoryPoint, len(series))
	if len(series) == 0 {
		return points, nil
	}

	var assessments []domain.RiskAssessment
	if override := acct.ActiveOverride(); override != nil {
		assessments = make([]domain.RiskAssessment, len(series))
		for i := range assessments {
			assessments[i] = risk.OverrideAssessment(override)
			assessments[i].PeriodKey = series[i].PeriodKey
		}
	} else {
		assessments, err = s.engine.ClassifySeries(series)
		if err != nil {
			return nil, err
		}
	}

	for i, m := range series {
		points[i] = HistoryPoint{PeriodMetric: m, Assessment: assessments[i]}
	}
	return points, nil
}

// UpsertAccount stores account master data.
func (s *Service) UpsertAccount(ctx context.Context, acct *domain.Account) error {
	if acct == nil || strings.TrimSpace(acct.ID) == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	switch acct.Status {
	case "":
		acct.Status = domain.StatusActive
	case domain.StatusActive, domain.StatusFrozen, domain.StatusCanceled:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, acct.Status)
	}
	if acct.LocationCount < 0 {
		return fmt.Errorf("%w: location_cnt must not be negative", ErrInvalidInput)
	}
	if acct.Override != nil && strings.TrimSpace(acct.Override.Level) == "" {
		acct.Override = nil
	}
	return s.repo.UpsertAccount(ctx, acct)
}
