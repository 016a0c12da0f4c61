// Package identity provides users, password authentication and sessions.
package identity

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("user already exists")
	ErrEmailExists     = errors.New("email already in use")
	ErrInvalidPassword = errors.New("invalid password")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionNotFound = errors.New("session not found")
)

// User is an account and its public profile.
type User struct {
	ID             string    `json:"id"` // UUIDv7
	Username       string    `json:"username"`
	Email          string    `json:"email,omitempty"`
	Name           string    `json:"name"`
	Headline       string    `json:"headline"`
	Location       string    `json:"location"`
	BannerImg      string    `json:"bannerImg"`
	ProfilePicture string    `json:"profilePicture"`
	PasswordHash   string    `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Summary is the public subset embedded in other records.
type Summary struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Name           string `json:"name"`
	Headline       string `json:"headline"`
	ProfilePicture string `json:"profilePicture"`
}

// Summary returns the public subset of u.
func (u *User) Summary() Summary {
	return Summary{
		ID:             u.ID,
		Username:       u.Username,
		Name:           u.Name,
		Headline:       u.Headline,
		ProfilePicture: u.ProfilePicture,
	}
}

// PartyRepo provides user storage operations.
type PartyRepo interface {
	// Create creates a new user. Returns ErrUserExists if username is taken.
	Create(ctx context.Context, user *User) error

	// Get retrieves a user by ID. Returns ErrUserNotFound if not found.
	Get(ctx context.Context, id string) (*User, error)

	// GetByUsername retrieves a user by username. Returns ErrUserNotFound if not found.
	GetByUsername(ctx context.Context, username string) (*User, error)

	// Update replaces an existing user.
	Update(ctx context.Context, user *User) error

	// List returns all users ordered by username.
	List(ctx context.Context) ([]*User, error)
}

// NewID returns a time-ordered UUIDv7 string.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MemoryPartyRepo stores users in memory with username and email indexes.
type MemoryPartyRepo struct {
	mu         sync.RWMutex
	users      map[string]*User  // by ID
	byUsername map[string]string // username -> ID
	byEmail    map[string]string // normalized email -> ID
}

func NewMemoryPartyRepo() *MemoryPartyRepo {
	return &MemoryPartyRepo{
		users:      make(map[string]*User),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
	}
}

func (r *MemoryPartyRepo) Create(ctx context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byUsername[user.Username]; exists {
		return ErrUserExists
	}
	norm := normalizeEmail(user.Email)
	if norm != "" {
		if _, exists := r.byEmail[norm]; exists {
			return ErrEmailExists
		}
	}

	if user.ID == "" {
		user.ID = NewID()
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	u := *user
	r.users[u.ID] = &u
	r.byUsername[u.Username] = u.ID
	if norm != "" {
		r.byEmail[norm] = u.ID
	}
	return nil
}

func (r *MemoryPartyRepo) Get(ctx context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := *user
	return &u, nil
}

func (r *MemoryPartyRepo) GetByUsername(ctx context.Context, username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUsername[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := *r.users[id]
	return &u, nil
}

func (r *MemoryPartyRepo) Update(ctx context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.users[user.ID]
	if !ok {
		return ErrUserNotFound
	}
	if existing.Username != user.Username {
		if _, taken := r.byUsername[user.Username]; taken {
			return ErrUserExists
		}
	}
	oldNorm, newNorm := normalizeEmail(existing.Email), normalizeEmail(user.Email)
	if oldNorm != newNorm && newNorm != "" {
		if owner, taken := r.byEmail[newNorm]; taken && owner != user.ID {
			return ErrEmailExists
		}
	}

	if existing.Username != user.Username {
		delete(r.byUsername, existing.Username)
		r.byUsername[user.Username] = user.ID
	}
	if oldNorm != newNorm {
		if oldNorm != "" {
			delete(r.byEmail, oldNorm)
		}
		if newNorm != "" {
			r.byEmail[newNorm] = user.ID
		}
	}

	user.CreatedAt = existing.CreatedAt
	user.UpdatedAt = time.Now()
	u := *user
	r.users[u.ID] = &u
	return nil
}

func (r *MemoryPartyRepo) List(ctx context.Context) ([]*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*User, 0, len(r.users))
	for _, user := range r.users {
		u := *user
		result = append(result, &u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	return result, nil
}

var _ PartyRepo = (*MemoryPartyRepo)(nil)
