package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/churnguard/internal/domain"
	"github.com/opensource-finance/churnguard/internal/repository"
)

// LastClosedMonth returns the key of the month before the one containing now.
func LastClosedMonth(now time.Time) string {
	return domain.PeriodStart(now, domain.GranularityMonth).AddDate(0, -1, 0).Format(time.DateOnly)
}

// RecordSnapshot classifies every account's settled level for month and
// stores the distribution. An empty month means the last closed month.
// Accounts whose first stored period is after month are not counted; a
// missing month of an older account counts as a period without activity.
func (s *Service) RecordSnapshot(ctx context.Context, month string) (*domain.RiskSnapshot, error) {
	if month == "" {
		month = LastClosedMonth(s.now())
	}
	start, err := time.Parse(time.DateOnly, month)
	if err != nil || start.Day() != 1 {
		return nil, fmt.Errorf("%w: month must be the first day of a month: %q", ErrInvalidInput, month)
	}

	ctx, span := tracer.Start(ctx, "dashboard.RecordSnapshot", trace.WithAttributes(
		attribute.String("month", month),
	))
	defer span.End()

	accounts, err := s.provider.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	now := s.now()

	levels := make([]domain.RiskLevel, len(accounts))
	err = s.forEachAccount(ctx, accounts, func(ctx context.Context, i int, acct *domain.Account) error {
		series, err := s.calendarSeries(ctx, acct.ID, domain.GranularityMonth, s.seriesLimit, now)
		if err != nil {
			return err
		}
		idx := series.IndexOf(month)
		if idx < 0 {
			return nil
		}
		assessment, err := s.engine.ClassifyWithOverride(acct.ActiveOverride(), func() (domain.RiskAssessment, error) {
			return s.engine.ClassifyPeriod(series, idx)
		})
		if err != nil {
			return err
		}
		levels[i] = assessment.Level
		return nil
	})
	if err != nil {
		return nil, err
	}

	var counts RiskCounts
	total := 0
	for _, level := range levels {
		if level == "" {
			continue
		}
		counts.Add(level)
		total++
	}

	snapshot := &domain.RiskSnapshot{
		ID:            uuid.New().String(),
		Month:         month,
		MonthLabel:    start.Format("January 2006"),
		LowRisk:       counts.Low,
		MediumRisk:    counts.Medium,
		HighRisk:      counts.High,
		TotalAccounts: total,
		CalculatedAt:  s.now().UTC(),
		Criteria:      s.engine.Policy().Criteria(),
	}

	// Recalculating a month keeps its id.
	if existing, err := s.repo.GetSnapshot(ctx, month); err == nil {
		snapshot.ID = existing.ID
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if err := s.repo.SaveSnapshot(ctx, snapshot); err != nil {
		return nil, err
	}
	s.metrics.SnapshotRecorded()
	s.publish(ctx, domain.TopicSnapshotRecorded, snapshot)

	slog.Info("risk snapshot recorded",
		"month", month,
		"total_accounts", total,
		"high_risk", counts.High,
	)
	return snapshot, nil
}

// Snapshots lists stored snapshots, newest month first.
func (s *Service) Snapshots(ctx context.Context) ([]*domain.RiskSnapshot, error) {
	return s.repo.ListSnapshots(ctx)
}

// publish sends an event when a bus is configured. Failures are logged.
func (s *Service) publish(ctx context.Context, topic string, event any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal event", "topic", topic, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
}
