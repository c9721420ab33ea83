// Package provider serves period series and account data to the
// classification pipeline with a read-through cache in front of the
// repository.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/churnguard/internal/cache"
	"github.com/opensource-finance/churnguard/internal/domain"
	"github.com/opensource-finance/churnguard/internal/observability"
)

// DefaultTTL bounds how long a cached series may lag behind the store.
const DefaultTTL = 5 * time.Minute

// CachedProvider implements domain.MetricsProvider over a repository.
// Only default-length series are cached; other limits read through.
type CachedProvider struct {
	source  domain.MetricsProvider
	cache   domain.Cache
	ttl     time.Duration
	metrics *observability.Metrics
}

// New creates a cached provider. A nil cache disables caching.
func New(source domain.MetricsProvider, c domain.Cache, ttl time.Duration, metrics *observability.Metrics) *CachedProvider {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CachedProvider{
		source:  source,
		cache:   c,
		ttl:     ttl,
		metrics: metrics,
	}
}

// SeriesKey is the cache key for an account's default-length series.
func SeriesKey(accountID string, g domain.Granularity) string {
	return accountID + ":" + string(g)
}

// GetPeriodSeries returns the trailing series, oldest first.
func (p *CachedProvider) GetPeriodSeries(ctx context.Context, accountID string, g domain.Granularity, limit int) (domain.PeriodSeries, error) {
	if limit <= 0 {
		limit = domain.DefaultSeriesLimit
	}
	cacheable := p.cache != nil && limit == domain.DefaultSeriesLimit
	key := SeriesKey(accountID, g)

	if cacheable {
		series, err := p.cache.GetSeries(ctx, key)
		if err != nil {
			// Cache errors fall through to the source.
			slog.Warn("series cache read failed", "account_id", accountID, "error", err)
		} else if series != nil {
			p.metrics.CacheHit()
			return series, nil
		}
		p.metrics.CacheMiss()
	}

	series, err := p.source.GetPeriodSeries(ctx, accountID, g, limit)
	if err != nil {
		return nil, fmt.Errorf("load series for %s: %w", accountID, err)
	}
	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("series for %s: %w", accountID, err)
	}

	if cacheable {
		if err := p.cache.SetSeries(ctx, key, series, p.ttl); err != nil {
			slog.Warn("series cache write failed", "account_id", accountID, "error", err)
		}
	}
	return series, nil
}

// GetAccount returns account master data.
func (p *CachedProvider) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	return p.source.GetAccount(ctx, accountID)
}

// ListAccounts returns all accounts.
func (p *CachedProvider) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	return p.source.ListAccounts(ctx)
}

// Invalidate drops cached series of an account for every granularity.
func (p *CachedProvider) Invalidate(ctx context.Context, accountID string) error {
	if p.cache == nil {
		return nil
	}
	for _, g := range []domain.Granularity{domain.GranularityMonth, domain.GranularityWeek} {
		if err := cache.DeleteSeries(ctx, p.cache, SeriesKey(accountID, g)); err != nil {
			return fmt.Errorf("invalidate %s: %w", accountID, err)
		}
	}
	return nil
}

var _ domain.MetricsProvider = (*CachedProvider)(nil)
