// Package observability exposes Prometheus metrics for ChurnGuard.
// All recording methods are safe on a nil *Metrics.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/churnguard/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	classifications   *prometheus.CounterVec
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	ingestedPeriods   prometheus.Counter
	alerts            prometheus.Counter
	snapshots         prometheus.Counter
}

// NewMetrics registers collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "churnguard",
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "churnguard",
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "churnguard",
			Name:      "classifications_total",
			Help:      "Risk assessments produced by mode and level.",
		}, []string{"mode", "level"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "churnguard",
			Name:      "series_cache_hits_total",
			Help:      "Period series served from cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "churnguard",
			Name:      "series_cache_misses_total",
			Help:      "Period series read from the repository.",
		}),
		ingestedPeriods: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "churnguard",
			Name:      "ingested_periods_total",
			Help:      "Period metrics stored through the ingest API.",
		}),
		alerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "churnguard",
			Name:      "risk_alerts_total",
			Help:      "Risk alerts published by the reclassification worker.",
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "churnguard",
			Name:      "snapshots_recorded_total",
			Help:      "Monthly risk snapshots recorded.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpDuration,
		m.classifications,
		m.cacheHits,
		m.cacheMisses,
		m.ingestedPeriods,
		m.alerts,
		m.snapshots,
	)

	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Middleware records request counts and durations by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Classified(a domain.RiskAssessment) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(string(a.Mode), string(a.Level)).Inc()
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

func (m *Metrics) PeriodsIngested(n int) {
	if m == nil {
		return
	}
	m.ingestedPeriods.Add(float64(n))
}

func (m *Metrics) AlertPublished() {
	if m == nil {
		return
	}
	m.alerts.Inc()
}

func (m *Metrics) SnapshotRecorded() {
	if m == nil {
		return
	}
	m.snapshots.Inc()
}
