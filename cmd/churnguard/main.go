// ChurnGuard - churn-risk classification for restaurant client accounts.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensource-finance/churnguard/internal/api"
	"github.com/opensource-finance/churnguard/internal/auth"
	"github.com/opensource-finance/churnguard/internal/bus"
	"github.com/opensource-finance/churnguard/internal/cache"
	"github.com/opensource-finance/churnguard/internal/config"
	"github.com/opensource-finance/churnguard/internal/dashboard"
	"github.com/opensource-finance/churnguard/internal/domain"
	"github.com/opensource-finance/churnguard/internal/observability"
	"github.com/opensource-finance/churnguard/internal/provider"
	"github.com/opensource-finance/churnguard/internal/repository"
	"github.com/opensource-finance/churnguard/internal/risk"
	"github.com/opensource-finance/churnguard/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(config.NewLogger(cfg.Logging))

	slog.Info("starting churnguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"session_store", cfg.Auth.SessionStore,
	)

	if err := run(cfg); err != nil {
		slog.Error("churnguard stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("churnguard shutdown complete")
}

func run(cfg *domain.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	metrics := observability.NewMetrics()

	policy := risk.PolicyFromConfig(cfg.Policy)
	engine, err := risk.NewEngine(policy)
	if err != nil {
		return fmt.Errorf("initialize risk engine: %w", err)
	}
	slog.Info("risk engine initialized", "policy_version", policy.Version)

	cached := provider.New(repo, cacheImpl, cfg.Cache.SeriesTTL, metrics)

	svc, err := dashboard.New(dashboard.Options{
		Repository:  repo,
		Provider:    cached,
		Engine:      engine,
		Bus:         busImpl,
		Metrics:     metrics,
		Workers:     cfg.Dashboard.Workers,
		SeriesLimit: cfg.Dashboard.SeriesLimit,
	})
	if err != nil {
		return fmt.Errorf("initialize dashboard: %w", err)
	}

	authSvc, closeAuth, err := newAuthService(ctx, cfg, cacheImpl)
	if err != nil {
		return fmt.Errorf("initialize auth: %w", err)
	}
	defer closeAuth()

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, cached, engine, metrics, worker.Config{
			AlertOnWorsening: cfg.Worker.AlertOnWorsening,
			Snapshots:        svc,
		})
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start reclassification worker", "error", err)
			asyncWorker = nil
		} else {
			slog.Info("reclassification worker started")
		}
	}

	srv := api.NewServer(cfg.Server, api.Dependencies{
		Dashboard:  svc,
		Auth:       authSvc,
		Repository: repo,
		Cache:      cacheImpl,
		Metrics:    metrics,
	}, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("churnguard is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case serveErr = <-errCh:
		slog.Error("server failed", "error", serveErr)
	}

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop reclassification worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	return serveErr
}

// newAuthService wires the session and credential stores and seeds the
// admin password on first start.
func newAuthService(ctx context.Context, cfg *domain.Config, limiter domain.Cache) (*auth.Service, func(), error) {
	var (
		sessions auth.SessionStore
		creds    auth.CredentialStore
		closeFn  = func() {}
	)

	switch cfg.Auth.SessionStore {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect session store: %w", err)
		}
		sessions = auth.NewRedisSessionStore(client)
		creds = auth.NewRedisCredentialStore(client)
		closeFn = func() { client.Close() }
	default:
		sessions = auth.NewMemorySessionStore()
		creds = &auth.MemoryCredentialStore{}
	}

	svc := auth.NewService(sessions, creds, limiter, auth.ConfigFrom(cfg.Auth))
	if err := svc.Bootstrap(ctx, cfg.Auth.AdminPassword); err != nil {
		closeFn()
		if errors.Is(err, auth.ErrNotConfigured) {
			return nil, nil, fmt.Errorf("%w: set %sADMIN_PASSWORD", err, config.EnvPrefix)
		}
		return nil, nil, err
	}
	slog.Info("auth initialized", "session_store", cfg.Auth.SessionStore)
	return svc, closeFn, nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ChurnGuard - account churn-risk dashboard")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /api/auth/login              - Start a session")
	fmt.Println("    GET  /api/accounts                - Account table with risk levels")
	fmt.Println("    GET  /api/accounts/{id}/history   - Per-period assessments")
	fmt.Println("    POST /api/accounts/{id}/metrics   - Ingest period metrics")
	fmt.Println("    GET  /api/summary                 - Summary cards")
	fmt.Println("    GET  /api/risk-scores/latest      - Current risk per account")
	fmt.Println("    POST /api/snapshots               - Record a monthly snapshot")
	fmt.Println("    GET  /health                      - Health check")
	fmt.Println("    GET  /metrics                     - Prometheus metrics")
	fmt.Println()
}
