// Package auth implements the single-operator dashboard login: a bcrypt
// password, opaque bearer sessions and login throttling.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/opensource-finance/churnguard/internal/domain"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired")
	ErrPasswordTooShort   = errors.New("password too short")
	ErrTooManyAttempts    = errors.New("too many login attempts")
	ErrNotConfigured      = errors.New("admin password not configured")
)

// AdminUserID is the identity every session belongs to.
const AdminUserID = "admin"

// Session is an authenticated dashboard session.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SessionStore persists sessions by token.
type SessionStore interface {
	Save(ctx context.Context, session *Session) error

	// Get returns ErrSessionNotFound for unknown tokens. Expired sessions
	// may still be returned; the service checks expiry.
	Get(ctx context.Context, token string) (*Session, error)

	Delete(ctx context.Context, token string) error
}

// CredentialStore holds the admin password hash.
type CredentialStore interface {
	// PasswordHash returns "" when no password has been set.
	PasswordHash(ctx context.Context) (string, error)
	SetPasswordHash(ctx context.Context, hash string) error
}

// Config tunes the service.
type Config struct {
	SessionTTL time.Duration

	// MaxLoginAttempts per client within LoginWindow; 0 disables throttling.
	MaxLoginAttempts  int
	LoginWindow       time.Duration
	MinPasswordLength int
	BcryptCost        int
}

// ConfigFrom maps the application auth settings.
func ConfigFrom(cfg domain.AuthConfig) Config {
	return Config{
		SessionTTL:        cfg.SessionTTL,
		MaxLoginAttempts:  cfg.MaxLoginAttempts,
		LoginWindow:       cfg.LoginWindow,
		MinPasswordLength: cfg.MinPasswordLength,
		BcryptCost:        cfg.BcryptCost,
	}
}

// Service authenticates the dashboard operator.
type Service struct {
	sessions SessionStore
	creds    CredentialStore
	limiter  domain.Cache
	cfg      Config
	now      func() time.Time
}

// NewService creates an auth service. A nil limiter disables throttling.
func NewService(sessions SessionStore, creds CredentialStore, limiter domain.Cache, cfg Config) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.LoginWindow <= 0 {
		cfg.LoginWindow = 15 * time.Minute
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = 8
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		sessions: sessions,
		creds:    creds,
		limiter:  limiter,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Bootstrap seeds the password hash when none is stored yet.
// An already stored password wins over initialPassword.
func (s *Service) Bootstrap(ctx context.Context, initialPassword string) error {
	hash, err := s.creds.PasswordHash(ctx)
	if err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}
	if hash != "" {
		return nil
	}
	if initialPassword == "" {
		return ErrNotConfigured
	}
	if err := s.setPassword(ctx, initialPassword); err != nil {
		return err
	}
	slog.Info("admin password initialized")
	return nil
}

// Login checks the password and starts a session. clientKey identifies the
// caller for throttling (typically the remote IP).
func (s *Service) Login(ctx context.Context, clientKey, password string) (*Session, error) {
	if err := s.throttle(ctx, clientKey); err != nil {
		return nil, err
	}
	if err := s.verify(ctx, password); err != nil {
		slog.Warn("login failed", "client", clientKey)
		return nil, err
	}

	now := s.now().UTC()
	session := &Session{
		Token:     uuid.NewString(),
		UserID:    AdminUserID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.SessionTTL),
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

// Check returns the live session for token. Expired sessions are removed.
func (s *Service) Check(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}
	session, err := s.sessions.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.Expired(s.now()) {
		if err := s.sessions.Delete(ctx, token); err != nil {
			slog.Warn("failed to delete expired session", "error", err)
		}
		return nil, ErrSessionExpired
	}
	return session, nil
}

// Logout ends a session. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessions.Delete(ctx, token)
}

// ChangePassword replaces the password after checking the current one.
// Existing sessions stay valid.
func (s *Service) ChangePassword(ctx context.Context, current, next string) error {
	if err := s.verify(ctx, current); err != nil {
		return err
	}
	if err := s.setPassword(ctx, next); err != nil {
		return err
	}
	slog.Info("admin password changed")
	return nil
}

// MinPasswordLength is the shortest accepted password.
func (s *Service) MinPasswordLength() int {
	return s.cfg.MinPasswordLength
}

func (s *Service) verify(ctx context.Context, password string) error {
	hash, err := s.creds.PasswordHash(ctx)
	if err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}
	if hash == "" {
		return ErrNotConfigured
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func (s *Service) setPassword(ctx context.Context, password string) error {
	if len(password) < s.cfg.MinPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrPasswordTooShort, s.cfg.MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.creds.SetPasswordHash(ctx, string(hash))
}

// throttle counts login attempts per client. Limiter failures let the
// attempt through.
func (s *Service) throttle(ctx context.Context, clientKey string) error {
	if s.limiter == nil || s.cfg.MaxLoginAttempts <= 0 {
		return nil
	}
	count, err := s.limiter.IncrementCounter(ctx, "login:"+clientKey, s.cfg.LoginWindow)
	if err != nil {
		slog.Warn("login throttle unavailable", "error", err)
		return nil
	}
	if count > int64(s.cfg.MaxLoginAttempts) {
		return ErrTooManyAttempts
	}
	return nil
}
