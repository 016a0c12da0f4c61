package authn_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kinship-app/kinship/internal/components/api"
	"github.com/kinship-app/kinship/internal/components/api/authn"
	"github.com/kinship-app/kinship/internal/components/identity"
	"github.com/kinship-app/kinship/internal/platform/cache/memory"
	"github.com/kinship-app/kinship/internal/platform/http/auth"
	"github.com/kinship-app/kinship/internal/platform/metrics"
	"github.com/kinship-app/kinship/internal/platform/ratelimit"
)

type env struct {
	handler  *authn.Handler
	sessions *identity.MemorySessionRepo
	party    *identity.MemoryPartyRepo
	limiter  *ratelimit.Limiter
	metrics  *metrics.Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	party := identity.NewMemoryPartyRepo()
	ua := identity.NewUserAuthFast()
	if _, err := identity.NewBootstrap(party, ua, nil).Run(context.Background(), []identity.SeededUser{
		{Username: "alice", Password: "secret"},
	}); err != nil {
		t.Fatal(err)
	}
	c := memory.New(time.Minute, 0)
	t.Cleanup(func() { c.Close() })

	e := &env{
		sessions: identity.NewMemorySessionRepo(),
		party:    party,
		limiter:  ratelimit.New(c, &ratelimit.Config{RequestsPerWindow: 3, Window: time.Minute, KeyPrefix: "login:"}),
		metrics:  metrics.New(),
	}
	e.handler = authn.NewHandler(authn.Deps{
		Users:      party,
		Sessions:   e.sessions,
		Auth:       ua,
		SessionTTL: time.Hour,
		Limiter:    e.limiter,
		Metrics:    e.metrics,
	})
	return e
}

// assertLogins checks that exactly one attempt was recorded, with result.
func assertLogins(t *testing.T, m *metrics.Registry, result string) {
	t.Helper()
	want := fmt.Sprintf(`
# HELP kinship_login_attempts_total Login attempts by result.
# TYPE kinship_login_attempts_total counter
kinship_login_attempts_total{result=%q} 1
`, result)
	if err := testutil.GatherAndCompare(m.Gatherer(), strings.NewReader(want), "kinship_login_attempts_total"); err != nil {
		t.Error(err)
	}
}

func (e *env) login(body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	req.RemoteAddr = "192.0.2.7:5000"
	rec := httptest.NewRecorder()
	e.handler.Login(rec, req)
	return rec
}

func TestLogin_Success(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	// A prior failure is forgotten after a successful login.
	if _, err := e.limiter.Allow(ctx, "192.0.2.7"); err != nil {
		t.Fatal(err)
	}

	rec := e.login(`{"username":"alice","password":"secret"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp authn.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Token == "" || resp.User == nil || resp.User.Username != "alice" {
		t.Fatalf("response = %+v", resp)
	}
	if strings.Contains(rec.Body.String(), "argon2") {
		t.Error("password hash leaked")
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.CookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != resp.Token || !cookie.HttpOnly {
		t.Errorf("cookie = %+v", cookie)
	}
	if _, err := e.sessions.Get(ctx, resp.Token); err != nil {
		t.Errorf("session not stored: %v", err)
	}

	res, err := e.limiter.Check(ctx, "192.0.2.7")
	if err != nil {
		t.Fatal(err)
	}
	if res.Remaining != 3 {
		t.Errorf("limiter not reset, remaining = %d", res.Remaining)
	}
	assertLogins(t, e.metrics, authn.ResultOK)
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantReason string
		wantResult string
	}{
		{"wrong password", `{"username":"alice","password":"nope"}`, http.StatusUnauthorized, api.ReasonInvalidCredentials, authn.ResultInvalidCredentials},
		{"unknown user", `{"username":"mallory","password":"x"}`, http.StatusUnauthorized, api.ReasonInvalidCredentials, authn.ResultInvalidCredentials},
		{"missing password", `{"username":"alice"}`, http.StatusBadRequest, api.ReasonMissingField, authn.ResultBadRequest},
		{"bad json", `{`, http.StatusBadRequest, api.ReasonBadRequest, authn.ResultBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			rec := e.login(tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var envl api.ErrorEnvelope
			if err := json.NewDecoder(rec.Body).Decode(&envl); err != nil {
				t.Fatal(err)
			}
			if envl.Error.ReasonCode != tt.wantReason {
				t.Errorf("reason = %q, want %q", envl.Error.ReasonCode, tt.wantReason)
			}
			if envl.Error.Message == "" {
				t.Error("message is empty")
			}
			assertLogins(t, e.metrics, tt.wantResult)
		})
	}
}

func TestLogoutAndMe(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	user, _ := e.party.GetByUsername(ctx, "alice")
	session, err := e.sessions.Create(ctx, user.ID, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	gate := auth.NewAuthGate(auth.AuthGateConfig{
		RequireAuth: func(string) bool { return true },
		SessionRepo: e.sessions,
		PartyRepo:   e.party,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	rec := httptest.NewRecorder()
	gate(http.HandlerFunc(e.handler.Me)).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"username":"alice"`) {
		t.Fatalf("me = %d %s", rec.Code, rec.Body)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	rec = httptest.NewRecorder()
	gate(http.HandlerFunc(e.handler.Logout)).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout = %d", rec.Code)
	}
	if _, err := e.sessions.Get(ctx, session.Token); err == nil {
		t.Error("session survived logout")
	}

	rec = httptest.NewRecorder()
	e.handler.Me(rec, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("me without session = %d", rec.Code)
	}
}
