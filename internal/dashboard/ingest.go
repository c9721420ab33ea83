package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opensource-finance/churnguard/internal/domain"
	"github.com/opensource-finance/churnguard/internal/repository"
)

// IngestResult reports the periods stored by Ingest.
type IngestResult struct {
	AccountID   string             `json:"account_id"`
	Granularity domain.Granularity `json:"granularity"`
	PeriodKeys  []string           `json:"period_keys"`
	Created     bool               `json:"created"`
}

// Ingest stores period metrics for an account, creating a stub account when
// it does not exist yet. Cached series are dropped and an ingested event is
// published.
func (s *Service) Ingest(ctx context.Context, accountID string, g domain.Granularity, inputs []domain.MetricInput) (*IngestResult, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no periods", ErrInvalidInput)
	}

	ctx, span := tracer.Start(ctx, "dashboard.Ingest")
	defer span.End()

	metrics := make([]domain.PeriodMetric, len(inputs))
	keys := make([]string, len(inputs))
	for i, in := range inputs {
		if err := in.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		m := in.ToPeriodMetric()
		if domain.PeriodKeyFor(mustStart(m), g) != m.PeriodKey {
			return nil, fmt.Errorf("%w: %s is not a %s start", ErrInvalidInput, m.PeriodKey, g)
		}
		metrics[i] = m
		keys[i] = m.PeriodKey
	}

	result := &IngestResult{AccountID: accountID, Granularity: g, PeriodKeys: keys}

	if _, err := s.repo.GetAccount(ctx, accountID); errors.Is(err, repository.ErrNotFound) {
		stub := &domain.Account{ID: accountID, Name: accountID, Status: domain.StatusActive}
		if err := s.repo.UpsertAccount(ctx, stub); err != nil {
			return nil, err
		}
		result.Created = true
	} else if err != nil {
		return nil, err
	}

	if err := s.repo.SavePeriodMetrics(ctx, accountID, g, metrics); err != nil {
		return nil, err
	}
	if inv, ok := s.provider.(Invalidator); ok {
		if err := inv.Invalidate(ctx, accountID); err != nil {
			slog.Warn("failed to invalidate series cache", "account_id", accountID, "error", err)
		}
	}
	s.metrics.PeriodsIngested(len(metrics))

	s.publish(ctx, domain.TopicMetricsIngested, domain.MetricsIngestedEvent{
		AccountID:   accountID,
		Granularity: g,
		PeriodKeys:  keys,
	})

	slog.Debug("period metrics ingested",
		"account_id", accountID,
		"granularity", string(g),
		"periods", len(keys),
	)
	return result, nil
}

// mustStart parses a key that already passed MetricInput.Validate.
func mustStart(m domain.PeriodMetric) time.Time {
	t, _ := m.Start()
	return t
}
