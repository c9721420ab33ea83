package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/churnguard/internal/auth"
	"github.com/opensource-finance/churnguard/internal/comparison"
	"github.com/opensource-finance/churnguard/internal/dashboard"
	"github.com/opensource-finance/churnguard/internal/domain"
	"github.com/opensource-finance/churnguard/internal/filter"
	"github.com/opensource-finance/churnguard/internal/repository"
	"github.com/opensource-finance/churnguard/internal/risk"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	dashboard *dashboard.Service
	auth      *auth.Service
	repo      domain.Repository
	cache     domain.Cache
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies, version string) *Handler {
	return &Handler{
		dashboard: deps.Dashboard,
		auth:      deps.Auth,
		repo:      deps.Repository,
		cache:     deps.Cache,
		version:   version,
	}
}

// UserInfo describes the signed-in operator.
type UserInfo struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

var adminUser = UserInfo{ID: auth.AdminUserID, Role: "admin"}

// LoginRequest is the request body for POST /api/auth/login.
type LoginRequest struct {
	Password string `json:"password"`
}

// LoginResponse is the response for POST /api/auth/login.
type LoginResponse struct {
	Message   string    `json:"message"`
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      UserInfo  `json:"user"`
}

// ChangePasswordRequest is the request body for POST /api/auth/change-password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// AccountRequest is the request body for PUT /api/accounts/{id}.
type AccountRequest struct {
	Name          string               `json:"name"`
	CSM           string               `json:"csm"`
	Status        string               `json:"status"`
	LocationCount int                  `json:"location_cnt"`
	Override      *domain.RiskOverride `json:"override,omitempty"`
}

// IngestRequest is the request body for POST /api/accounts/{id}/metrics.
type IngestRequest struct {
	Granularity string               `json:"granularity"`
	Periods     []domain.MetricInput `json:"periods"`
}

// AccountsResponse is the response for GET /api/accounts.
type AccountsResponse struct {
	Granularity domain.Granularity   `json:"granularity"`
	Period      comparison.Period    `json:"period"`
	PeriodLabel string               `json:"periodLabel"`
	Count       int                  `json:"count"`
	Accounts    []*domain.AccountRow `json:"accounts"`
}

// HistoryResponse is the response for GET /api/accounts/{id}/history.
type HistoryResponse struct {
	AccountID   string                   `json:"account_id"`
	Granularity domain.Granularity       `json:"granularity"`
	Points      []dashboard.HistoryPoint `json:"points"`
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "repository not available")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	session, err := h.auth.Login(r.Context(), clientKey(r), req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid password")
		return
	case errors.Is(err, auth.ErrTooManyAttempts):
		writeError(w, http.StatusTooManyRequests, "Too many login attempts, try again later")
		return
	case errors.Is(err, auth.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "admin password not configured")
		return
	case err != nil:
		slog.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Message:   "Login successful",
		SessionID: session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      adminUser,
	})
}

// Logout handles POST /api/auth/logout. Unknown tokens still succeed.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), bearerToken(r)); err != nil {
		slog.Error("logout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Logged out successfully",
	})
}

// CheckSession handles GET /api/auth/check.
func (h *Handler) CheckSession(w http.ResponseWriter, r *http.Request) {
	session := GetSession(r.Context())
	resp := map[string]any{
		"authenticated": true,
		"user":          adminUser,
	}
	if session != nil {
		resp["expiresAt"] = session.ExpiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// ChangePassword handles POST /api/auth/change-password.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "currentPassword and newPassword are required")
		return
	}

	err := h.auth.ChangePassword(r.Context(), req.CurrentPassword, req.NewPassword)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusBadRequest, "Current password is incorrect")
		return
	case errors.Is(err, auth.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("New password must be at least %d characters", h.auth.MinPasswordLength()))
		return
	case err != nil:
		slog.Error("password change failed", "error", err)
		writeError(w, http.StatusInternalServerError, "password change failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Password changed successfully",
	})
}

// ListAccounts handles GET /api/accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parseQuery(w, r)
	if !ok {
		return
	}

	rows, err := h.dashboard.Rows(r.Context(), q)
	if err != nil {
		writeServiceError(w, err, "failed to list accounts")
		return
	}

	writeJSON(w, http.StatusOK, AccountsResponse{
		Granularity: q.Granularity,
		Period:      q.Period,
		PeriodLabel: q.Period.Label(),
		Count:       len(rows),
		Accounts:    rows,
	})
}

// GetAccount handles GET /api/accounts/{id}.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parseQuery(w, r)
	if !ok {
		return
	}

	row, err := h.dashboard.Row(r.Context(), chi.URLParam(r, "id"), q)
	if err != nil {
		writeServiceError(w, err, "failed to get account")
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// UpsertAccount handles PUT /api/accounts/{id}.
func (h *Handler) UpsertAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	acct := &domain.Account{
		ID:            chi.URLParam(r, "id"),
		Name:          strings.TrimSpace(req.Name),
		CSM:           strings.TrimSpace(req.CSM),
		Status:        strings.ToUpper(strings.TrimSpace(req.Status)),
		LocationCount: req.LocationCount,
		Override:      req.Override,
	}
	if err := h.dashboard.UpsertAccount(r.Context(), acct); err != nil {
		writeServiceError(w, err, "failed to save account")
		return
	}

	slog.Info("account saved", "account_id", acct.ID, "status", acct.Status)
	writeJSON(w, http.StatusOK, acct)
}

// GetHistory handles GET /api/accounts/{id}/history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	g, err := domain.ParseGranularity(r.URL.Query().Get("granularity"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	points, err := h.dashboard.History(r.Context(), id, g)
	if err != nil {
		writeServiceError(w, err, "failed to get history")
		return
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		AccountID:   id,
		Granularity: g,
		Points:      points,
	})
}

// IngestMetrics handles POST /api/accounts/{id}/metrics.
func (h *Handler) IngestMetrics(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	granularity := req.Granularity
	if granularity == "" {
		granularity = r.URL.Query().Get("granularity")
	}
	g, err := domain.ParseGranularity(granularity)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.dashboard.Ingest(r.Context(), chi.URLParam(r, "id"), g, req.Periods)
	if err != nil {
		writeServiceError(w, err, "failed to ingest metrics")
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

// GetSummary handles GET /api/summary.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parseQuery(w, r)
	if !ok {
		return
	}

	summary, err := h.dashboard.Summary(r.Context(), q)
	if err != nil {
		writeServiceError(w, err, "failed to build summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// LatestRiskScores handles GET /api/risk-scores/latest.
func (h *Handler) LatestRiskScores(w http.ResponseWriter, r *http.Request) {
	scores, err := h.dashboard.LatestRiskScores(r.Context())
	if err != nil {
		writeServiceError(w, err, "failed to get risk scores")
		return
	}
	writeJSON(w, http.StatusOK, scores)
}

// ListSnapshots handles GET /api/snapshots.
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.dashboard.Snapshots(r.Context())
	if err != nil {
		writeServiceError(w, err, "failed to list snapshots")
		return
	}
	if snapshots == nil {
		snapshots = []*domain.RiskSnapshot{}
	}
	writeJSON(w, http.StatusOK, snapshots)
}

// RecordSnapshot handles POST /api/snapshots. An empty body records the
// last closed month.
func (h *Handler) RecordSnapshot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Month string `json:"month"`
	}
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	snapshot, err := h.dashboard.RecordSnapshot(r.Context(), req.Month)
	if err != nil {
		writeServiceError(w, err, "failed to record snapshot")
		return
	}

	slog.Info("risk snapshot recorded",
		"month", snapshot.Month,
		"high_risk", snapshot.HighRisk,
		"total_accounts", snapshot.TotalAccounts,
	)
	writeJSON(w, http.StatusCreated, snapshot)
}

// ValidateFilter handles POST /api/filters/validate.
func (h *Handler) ValidateFilter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Expression string `json:"expression"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if err := h.dashboard.ValidateFilter(req.Expression); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"valid": false,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid": true,
	})
}

func (h *Handler) parseQuery(w http.ResponseWriter, r *http.Request) (dashboard.Query, bool) {
	values := r.URL.Query()
	q, err := dashboard.ParseQuery(values.Get("granularity"), values.Get("period"), values.Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return dashboard.Query{}, false
	}
	return q, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

// writeServiceError maps service errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, dashboard.ErrInvalidInput),
		errors.Is(err, dashboard.ErrUnknownPeriod),
		errors.Is(err, filter.ErrInvalidExpression),
		errors.Is(err, repository.ErrInvalidInput),
		errors.Is(err, risk.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		slog.Error(msg, "error", err)
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
