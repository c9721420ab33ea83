package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/churnguard/internal/auth"
	"github.com/opensource-finance/churnguard/internal/dashboard"
	"github.com/opensource-finance/churnguard/internal/domain"
	"github.com/opensource-finance/churnguard/internal/observability"
)

// Dependencies are the services the API serves.
type Dependencies struct {
	Dashboard *dashboard.Service
	Auth      *auth.Service

	// Health checks. Either may be nil.
	Repository domain.Repository
	Cache      domain.Cache

	Metrics *observability.Metrics
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Dependencies, version string) *Server {
	handler := NewHandler(deps, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware(cfg.AllowedOrigins))
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))
	router.Use(deps.Metrics.Middleware)

	// Public endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", deps.Metrics.Handler())
	router.Post("/api/auth/login", handler.Login)
	router.Post("/api/auth/logout", handler.Logout)

	// Session required
	router.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(deps.Auth))

		r.Get("/auth/check", handler.CheckSession)
		r.Post("/auth/change-password", handler.ChangePassword)

		r.Get("/accounts", handler.ListAccounts)
		r.Get("/accounts/{id}", handler.GetAccount)
		r.Put("/accounts/{id}", handler.UpsertAccount)
		r.Get("/accounts/{id}/history", handler.GetHistory)
		r.Post("/accounts/{id}/metrics", handler.IngestMetrics)

		r.Get("/summary", handler.GetSummary)
		r.Get("/risk-scores/latest", handler.LatestRiskScores)

		r.Get("/snapshots", handler.ListSnapshots)
		r.Post("/snapshots", handler.RecordSnapshot)

		r.Post("/filters/validate", handler.ValidateFilter)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
