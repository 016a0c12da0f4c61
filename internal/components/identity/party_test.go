package identity_test

import (
	"context"
	"errors"
	"testing"

	"github.com/kinship-app/kinship/internal/components/identity"
	"github.com/kinship-app/kinship/internal/platform/store/sqlite"
)

// repos returns every PartyRepo implementation so each test runs against all of them.
func repos(t *testing.T) map[string]identity.PartyRepo {
	t.Helper()
	db, err := sqlite.Open(context.Background(), t.TempDir(), nil, identity.Models()...)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return map[string]identity.PartyRepo{
		"memory": identity.NewMemoryPartyRepo(),
		"gorm":   identity.NewGormPartyRepo(db.DB),
	}
}

func TestPartyRepo_CRUD(t *testing.T) {
	for name, repo := range repos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			user := &identity.User{
				Username:     "alice",
				Email:        "Alice@Example.com",
				Name:         "Alice Smith",
				Headline:     "Engineer",
				PasswordHash: "hashed",
			}

			if err := repo.Create(ctx, user); err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			if user.ID == "" {
				t.Fatal("ID should be assigned on create")
			}

			got, err := repo.Get(ctx, user.ID)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.Username != "alice" || got.Headline != "Engineer" {
				t.Errorf("unexpected user: %+v", got)
			}

			got, err = repo.GetByUsername(ctx, "alice")
			if err != nil {
				t.Fatalf("GetByUsername failed: %v", err)
			}
			if got.ID != user.ID {
				t.Errorf("ID mismatch: %s vs %s", got.ID, user.ID)
			}

			got.Location = "Lisbon"
			if err := repo.Update(ctx, got); err != nil {
				t.Fatalf("Update failed: %v", err)
			}
			again, _ := repo.Get(ctx, user.ID)
			if again.Location != "Lisbon" {
				t.Errorf("Location = %q after update", again.Location)
			}
			if again.PasswordHash != "hashed" {
				t.Errorf("update lost the password hash: %q", again.PasswordHash)
			}

			if _, err := repo.Get(ctx, "missing"); !errors.Is(err, identity.ErrUserNotFound) {
				t.Errorf("expected ErrUserNotFound, got %v", err)
			}
		})
	}
}

func TestPartyRepo_Conflicts(t *testing.T) {
	for name, repo := range repos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := repo.Create(ctx, &identity.User{Username: "alice", Email: "a@example.com", PasswordHash: "h"}); err != nil {
				t.Fatalf("Create failed: %v", err)
			}

			err := repo.Create(ctx, &identity.User{Username: "alice", PasswordHash: "h"})
			if !errors.Is(err, identity.ErrUserExists) {
				t.Errorf("duplicate username: expected ErrUserExists, got %v", err)
			}

			err = repo.Create(ctx, &identity.User{Username: "bob", Email: " A@example.com ", PasswordHash: "h"})
			if !errors.Is(err, identity.ErrEmailExists) {
				t.Errorf("duplicate email: expected ErrEmailExists, got %v", err)
			}

			// Users without email never collide.
			if err := repo.Create(ctx, &identity.User{Username: "carol", PasswordHash: "h"}); err != nil {
				t.Fatalf("Create carol failed: %v", err)
			}
			if err := repo.Create(ctx, &identity.User{Username: "dave", PasswordHash: "h"}); err != nil {
				t.Fatalf("Create dave failed: %v", err)
			}

			if err := repo.Update(ctx, &identity.User{ID: "missing", Username: "x", PasswordHash: "h"}); !errors.Is(err, identity.ErrUserNotFound) {
				t.Errorf("update missing: expected ErrUserNotFound, got %v", err)
			}
		})
	}
}

func TestPartyRepo_ListOrdered(t *testing.T) {
	for name, repo := range repos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, u := range []string{"mallory", "alice", "bob"} {
				if err := repo.Create(ctx, &identity.User{Username: u, PasswordHash: "h"}); err != nil {
					t.Fatalf("Create %s: %v", u, err)
				}
			}
			users, err := repo.List(ctx)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			var names []string
			for _, u := range users {
				names = append(names, u.Username)
			}
			if len(names) != 3 || names[0] != "alice" || names[1] != "bob" || names[2] != "mallory" {
				t.Errorf("List order = %v", names)
			}
		})
	}
}

func TestNewID_IsVersion7(t *testing.T) {
	id := identity.NewID()
	if len(id) != 36 || id[14] != '7' {
		t.Errorf("expected a UUIDv7, got %q", id)
	}
	if identity.NewID() == id {
		t.Error("IDs should be unique")
	}
}
