package identity

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kinship-app/kinship/internal/platform/logutil"
)

// SeededUser is a user to create at startup.
type SeededUser struct {
	Username string
	Password string
	Email    string
	Name     string
	Headline string
	Location string
}

// Bootstrap creates seeded users idempotently.
type Bootstrap struct {
	repo PartyRepo
	auth *UserAuth
	log  *slog.Logger
}

func NewBootstrap(repo PartyRepo, auth *UserAuth, log *slog.Logger) *Bootstrap {
	log = logutil.NoopIfNil(log)
	return &Bootstrap{repo: repo, auth: auth, log: log}
}

// Run creates every missing user and returns how many were created.
// Existing users are left untouched, including their passwords.
func (b *Bootstrap) Run(ctx context.Context, seeded []SeededUser) (int, error) {
	var created int
	for _, s := range seeded {
		_, err := b.repo.GetByUsername(ctx, s.Username)
		if err == nil {
			b.log.Debug("user already exists", "username", s.Username)
			continue
		}
		if !errors.Is(err, ErrUserNotFound) {
			return created, err
		}

		hash, err := b.auth.HashPassword(s.Password)
		if err != nil {
			return created, err
		}
		user := &User{
			Username:     s.Username,
			Email:        s.Email,
			Name:         s.Name,
			Headline:     s.Headline,
			Location:     s.Location,
			PasswordHash: hash,
		}
		if user.Name == "" {
			user.Name = s.Username
		}
		if err := b.repo.Create(ctx, user); err != nil {
			return created, err
		}
		b.log.Info("created user", "username", s.Username, "user_id", user.ID)
		created++
	}
	return created, nil
}
