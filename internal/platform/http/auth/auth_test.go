package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kinship-app/kinship/internal/components/api"
	"github.com/kinship-app/kinship/internal/components/identity"
	"github.com/kinship-app/kinship/internal/platform/http/auth"
)

type gate struct {
	handler  http.Handler
	sessions *identity.MemorySessionRepo
	user     *identity.User
}

func newGate(t *testing.T) *gate {
	t.Helper()
	party := identity.NewMemoryPartyRepo()
	u := &identity.User{Username: "alice", PasswordHash: "h"}
	if err := party.Create(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	sessions := identity.NewMemorySessionRepo()

	mw := auth.NewAuthGate(auth.AuthGateConfig{
		RequireAuth: func(path string) bool { return !strings.HasPrefix(path, "/public") },
		SessionRepo: sessions,
		PartyRepo:   party,
	})
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := auth.GetUserFromContext(r.Context())
		if u == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if auth.GetSessionFromContext(r.Context()) == nil {
			t.Error("session missing from context")
		}
		_, _ = w.Write([]byte(u.Username))
	}))
	return &gate{handler: h, sessions: sessions, user: u}
}

func reason(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env api.ErrorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env.Error.ReasonCode
}

func TestAuthGate(t *testing.T) {
	g := newGate(t)
	ctx := context.Background()
	live, _ := g.sessions.Create(ctx, g.user.ID, time.Hour)
	expired, _ := g.sessions.Create(ctx, g.user.ID, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	tests := []struct {
		name       string
		path       string
		setup      func(r *http.Request)
		wantStatus int
		wantReason string
		wantBody   string
	}{
		{"public path", "/public/x", func(*http.Request) {}, http.StatusNoContent, "", ""},
		{"no token", "/api/x", func(*http.Request) {}, http.StatusUnauthorized, api.ReasonUnauthenticated, ""},
		{"unknown token", "/api/x", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized, api.ReasonUnauthenticated, ""},
		{"expired token", "/api/x", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+expired.Token) }, http.StatusUnauthorized, api.ReasonSessionExpired, ""},
		{"bearer", "/api/x", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+live.Token) }, http.StatusOK, "", "alice"},
		{"cookie", "/api/x", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: auth.CookieName, Value: live.Token}) }, http.StatusOK, "", "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			tt.setup(r)
			rec := httptest.NewRecorder()
			g.handler.ServeHTTP(rec, r)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantReason != "" {
				if got := reason(t, rec); got != tt.wantReason {
					t.Errorf("reason = %q, want %q", got, tt.wantReason)
				}
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestCurrentUser(t *testing.T) {
	if _, err := auth.CurrentUser(context.Background()); err == nil {
		t.Error("expected error without a user in context")
	}
}
