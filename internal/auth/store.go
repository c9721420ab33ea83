package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemorySessionStore keeps sessions in process memory.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]Session)}
}

func (m *MemorySessionStore) Save(ctx context.Context, session *Session) error {
	m.mu.Lock()
	m.sessions[session.Token] = *session
	m.mu.Unlock()
	return nil
}

func (m *MemorySessionStore) Get(ctx context.Context, token string) (*Session, error) {
	m.mu.RLock()
	session, ok := m.sessions[token]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

func (m *MemorySessionStore) Delete(ctx context.Context, token string) error {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
	return nil
}

// MemoryCredentialStore keeps the password hash in process memory.
type MemoryCredentialStore struct {
	mu   sync.RWMutex
	hash string
}

func (m *MemoryCredentialStore) PasswordHash(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hash, nil
}

func (m *MemoryCredentialStore) SetPasswordHash(ctx context.Context, hash string) error {
	m.mu.Lock()
	m.hash = hash
	m.mu.Unlock()
	return nil
}

const (
	sessionKeyPrefix = "churnguard:session:"
	passwordHashKey  = "churnguard:auth:password"

	// expiredSessionGrace keeps expired sessions around briefly so that
	// callers see ErrSessionExpired rather than ErrSessionNotFound.
	expiredSessionGrace = time.Hour
)

// RedisSessionStore keeps sessions in Redis so they survive restarts and
// are shared between replicas.
type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore wraps an existing client.
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func (r *RedisSessionStore) Save(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	ttl := time.Until(session.ExpiresAt) + expiredSessionGrace
	return r.client.Set(ctx, sessionKeyPrefix+session.Token, data, ttl).Err()
}

func (r *RedisSessionStore) Get(ctx context.Context, token string) (*Session, error) {
	data, err := r.client.Get(ctx, sessionKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, token string) error {
	return r.client.Del(ctx, sessionKeyPrefix+token).Err()
}

// RedisCredentialStore keeps the password hash in Redis.
type RedisCredentialStore struct {
	client *redis.Client
}

// NewRedisCredentialStore wraps an existing client.
func NewRedisCredentialStore(client *redis.Client) *RedisCredentialStore {
	return &RedisCredentialStore{client: client}
}

func (r *RedisCredentialStore) PasswordHash(ctx context.Context) (string, error) {
	hash, err := r.client.Get(ctx, passwordHashKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return hash, err
}

func (r *RedisCredentialStore) SetPasswordHash(ctx context.Context, hash string) error {
	return r.client.Set(ctx, passwordHashKey, hash, 0).Err()
}

var (
	_ SessionStore    = (*MemorySessionStore)(nil)
	_ SessionStore    = (*RedisSessionStore)(nil)
	_ CredentialStore = (*MemoryCredentialStore)(nil)
	_ CredentialStore = (*RedisCredentialStore)(nil)
)
