package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kinship-app/kinship/internal/components/identity"
	"github.com/kinship-app/kinship/internal/platform/cache/memory"
)

func sessionRepos(t *testing.T) map[string]identity.SessionRepo {
	t.Helper()
	c := memory.New(time.Hour, 0)
	t.Cleanup(func() { c.Close() })
	return map[string]identity.SessionRepo{
		"memory": identity.NewMemorySessionRepo(),
		"cache":  identity.NewCacheSessionRepo(c),
	}
}

func TestSessionRepo_CRUD(t *testing.T) {
	for name, repo := range sessionRepos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			session, err := repo.Create(ctx, "user-123", time.Hour)
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			if session.Token == "" {
				t.Error("token should be assigned")
			}

			got, err := repo.Get(ctx, session.Token)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.UserID != "user-123" {
				t.Errorf("expected userID 'user-123', got %q", got.UserID)
			}

			if err := repo.Delete(ctx, session.Token); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if _, err := repo.Get(ctx, session.Token); !errors.Is(err, identity.ErrSessionNotFound) {
				t.Errorf("expected ErrSessionNotFound, got %v", err)
			}
			if err := repo.Delete(ctx, session.Token); err != nil {
				t.Errorf("second Delete should be a no-op, got %v", err)
			}
		})
	}
}

func TestSessionRepo_Expired(t *testing.T) {
	for name, repo := range sessionRepos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			session, err := repo.Create(ctx, "user-123", 5*time.Millisecond)
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			time.Sleep(20 * time.Millisecond)

			_, err = repo.Get(ctx, session.Token)
			if !errors.Is(err, identity.ErrSessionExpired) && !errors.Is(err, identity.ErrSessionNotFound) {
				t.Errorf("expected an expired session error, got %v", err)
			}
		})
	}
}

func TestMemorySessionRepo_DeleteExpired(t *testing.T) {
	repo := identity.NewMemorySessionRepo()
	ctx := context.Background()

	_, _ = repo.Create(ctx, "a", time.Millisecond)
	live, _ := repo.Create(ctx, "b", time.Hour)
	time.Sleep(10 * time.Millisecond)

	n, err := repo.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired session removed, got %d", n)
	}
	if _, err := repo.Get(ctx, live.Token); err != nil {
		t.Errorf("live session was removed: %v", err)
	}
}
