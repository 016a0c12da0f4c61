package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kinship-app/kinship/internal/platform/cache"
)

// Session is an authenticated login.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// SessionRepo provides session storage operations.
type SessionRepo interface {
	// Create creates a new session for the user.
	Create(ctx context.Context, userID string, ttl time.Duration) (*Session, error)

	// Get retrieves a live session by token. Returns ErrSessionNotFound or ErrSessionExpired.
	Get(ctx context.Context, token string) (*Session, error)

	// Delete removes a session (logout). Deleting an unknown token is not an error.
	Delete(ctx context.Context, token string) error
}

// GenerateToken creates a cryptographically secure random token.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func newSession(userID string, ttl time.Duration) (*Session, error) {
	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Session{Token: token, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(ttl)}, nil
}

// MemorySessionRepo is an in-memory implementation of SessionRepo.
type MemorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]*Session // by token
}

// NewMemorySessionRepo creates a new in-memory session repository.
func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{sessions: make(map[string]*Session)}
}

func (r *MemorySessionRepo) Create(ctx context.Context, userID string, ttl time.Duration) (*Session, error) {
	s, err := newSession(userID, ttl)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.sessions[s.Token] = s
	r.mu.Unlock()
	cp := *s
	return &cp, nil
}

func (r *MemorySessionRepo) Get(ctx context.Context, token string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.IsExpired() {
		return nil, ErrSessionExpired
	}
	cp := *s
	return &cp, nil
}

func (r *MemorySessionRepo) Delete(ctx context.Context, token string) error {
	r.mu.Lock()
	delete(r.sessions, token)
	r.mu.Unlock()
	return nil
}

// DeleteExpired removes expired sessions and returns how many were dropped.
func (r *MemorySessionRepo) DeleteExpired(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	for token, s := range r.sessions {
		if s.IsExpired() {
			delete(r.sessions, token)
			n++
		}
	}
	return n, nil
}

// CacheSessionRepo keeps sessions in the platform cache so they survive
// across server instances sharing a valkey backend.
type CacheSessionRepo struct {
	cache cache.Cache
}

func NewCacheSessionRepo(c cache.Cache) *CacheSessionRepo {
	return &CacheSessionRepo{cache: c}
}

func sessionKey(token string) string { return "session:" + token }

func (r *CacheSessionRepo) Create(ctx context.Context, userID string, ttl time.Duration) (*Session, error) {
	s, err := newSession(userID, ttl)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, sessionKey(s.Token), b, ttl); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return s, nil
}

func (r *CacheSessionRepo) Get(ctx context.Context, token string) (*Session, error) {
	b, err := r.cache.Get(ctx, sessionKey(token))
	switch {
	case errors.Is(err, cache.ErrNotFound):
		return nil, ErrSessionNotFound
	case errors.Is(err, cache.ErrExpired):
		return nil, ErrSessionExpired
	case err != nil:
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.IsExpired() {
		return nil, ErrSessionExpired
	}
	return &s, nil
}

func (r *CacheSessionRepo) Delete(ctx context.Context, token string) error {
	return r.cache.Delete(ctx, sessionKey(token))
}

var (
	_ SessionRepo = (*MemorySessionRepo)(nil)
	_ SessionRepo = (*CacheSessionRepo)(nil)
)
