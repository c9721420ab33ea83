// Package worker reclassifies accounts asynchronously as period metrics
// arrive on the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/churnguard/internal/dashboard"
	"github.com/opensource-finance/churnguard/internal/domain"
	"github.com/opensource-finance/churnguard/internal/observability"
	"github.com/opensource-finance/churnguard/internal/risk"
)

// Snapshotter records the monthly risk distribution.
type Snapshotter interface {
	RecordSnapshot(ctx context.Context, month string) (*domain.RiskSnapshot, error)
}

// Config holds worker configuration.
type Config struct {
	// AlertOnWorsening also alerts when the settled level rises above the
	// level of the period before it, not only on high.
	AlertOnWorsening bool

	// Snapshots, when set, records the last closed month once per month.
	Snapshots Snapshotter

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Worker consumes metrics.ingested events and publishes fresh assessments.
type Worker struct {
	bus      domain.EventBus
	provider domain.MetricsProvider
	engine   *risk.Engine
	metrics  *observability.Metrics
	cfg      Config

	mu               sync.Mutex
	lastSnapshotDone string

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, provider domain.MetricsProvider, engine *risk.Engine, metrics *observability.Metrics, cfg Config) *Worker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		provider: provider,
		engine:   engine,
		metrics:  metrics,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to ingested metrics.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicMetricsIngested, w.handleIngested)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicMetricsIngested, err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicMetricsIngested,
		"alert_on_worsening", w.cfg.AlertOnWorsening,
	)
	return nil
}

func (w *Worker) handleIngested(ctx context.Context, msg *domain.Message) error {
	var ev domain.MetricsIngestedEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		slog.Error("failed to parse ingested event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	assessed, err := w.Reclassify(ctx, ev.AccountID, ev.Granularity)
	if err != nil {
		slog.Error("reclassification failed",
			"account_id", ev.AccountID,
			"error", err,
		)
		return err
	}
	if assessed != nil {
		w.publish(ctx, assessed)
	}

	if ev.Granularity == domain.GranularityMonth {
		w.maybeSnapshot(ctx)
	}
	return nil
}

// Reclassify computes the settled assessment of the account's latest closed
// period and the trending assessment of its open period. It returns nil when
// the account has no metrics yet.
func (w *Worker) Reclassify(ctx context.Context, accountID string, g domain.Granularity) (*domain.RiskAssessedEvent, error) {
	start := time.Now()
	if g == "" {
		g = domain.GranularityMonth
	}

	acct, err := w.provider.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	series, err := w.provider.GetPeriodSeries(ctx, accountID, g, domain.DefaultSeriesLimit)
	if err != nil {
		return nil, err
	}
	now := w.cfg.Now()
	series = domain.AlignSeries(series, g, now, domain.DefaultSeriesLimit)
	if len(series) == 0 {
		return nil, nil
	}

	ev := &domain.RiskAssessedEvent{AccountID: accountID, Granularity: g}

	if override := acct.ActiveOverride(); override != nil {
		assessment := risk.OverrideAssessment(override)
		ev.Settled = &assessment
		return ev, nil
	}

	last := len(series) - 1
	settledIdx := last
	if series[last].PeriodKey == domain.PeriodKeyFor(now, g) {
		trending, err := w.engine.ClassifyTrending(series, last, risk.PeriodProgress(now, g))
		if err != nil {
			return nil, err
		}
		w.metrics.Classified(trending)
		ev.Trending = &trending
		settledIdx = last - 1
	}

	if settledIdx >= 0 {
		settled, err := w.engine.ClassifyPeriod(series, settledIdx)
		if err != nil {
			return nil, err
		}
		w.metrics.Classified(settled)
		ev.Settled = &settled

		if settledIdx > 0 {
			prev, err := w.engine.ClassifyPeriod(series, settledIdx-1)
			if err != nil {
				return nil, err
			}
			ev.PreviousLevel = prev.Level
		}
	}

	slog.Debug("account reclassified",
		"account_id", accountID,
		"granularity", string(g),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return ev, nil
}

// ShouldAlert reports whether an assessment warrants a risk.alert event.
func ShouldAlert(ev *domain.RiskAssessedEvent, alertOnWorsening bool) bool {
	if ev == nil || ev.Settled == nil || ev.Settled.Mode == domain.ModeOverride {
		return false
	}
	if ev.Settled.Level == domain.RiskHigh {
		return true
	}
	return alertOnWorsening && ev.PreviousLevel != "" &&
		ev.Settled.Level.Severity() > ev.PreviousLevel.Severity()
}

func (w *Worker) publish(ctx context.Context, ev *domain.RiskAssessedEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal assessment", "account_id", ev.AccountID, "error", err)
		return
	}

	if err := w.bus.Publish(ctx, domain.TopicRiskAssessed, payload); err != nil {
		slog.Error("failed to publish assessment",
			"account_id", ev.AccountID,
			"error", err,
		)
	}

	if ShouldAlert(ev, w.cfg.AlertOnWorsening) {
		if err := w.bus.Publish(ctx, domain.TopicRiskAlert, payload); err != nil {
			slog.Error("failed to publish alert",
				"account_id", ev.AccountID,
				"error", err,
			)
			return
		}
		w.metrics.AlertPublished()
		slog.Info("risk alert published",
			"account_id", ev.AccountID,
			"risk_level", string(ev.Settled.Level),
			"previous_level", string(ev.PreviousLevel),
			"risk_reason", ev.Settled.Reason,
		)
	}
}

// maybeSnapshot records the last closed month the first time the worker
// sees monthly metrics after that month ends.
func (w *Worker) maybeSnapshot(ctx context.Context) {
	if w.cfg.Snapshots == nil {
		return
	}
	month := dashboard.LastClosedMonth(w.cfg.Now())

	w.mu.Lock()
	if w.lastSnapshotDone == month {
		w.mu.Unlock()
		return
	}
	w.lastSnapshotDone = month
	w.mu.Unlock()

	if _, err := w.cfg.Snapshots.RecordSnapshot(ctx, month); err != nil {
		slog.Error("failed to record snapshot", "month", month, "error", err)
		w.mu.Lock()
		w.lastSnapshotDone = ""
		w.mu.Unlock()
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
