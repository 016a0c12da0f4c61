package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kinship-app/kinship/internal/components/connections"
	"github.com/kinship-app/kinship/internal/components/identity"
	"github.com/kinship-app/kinship/internal/components/profiles"
	"github.com/kinship-app/kinship/internal/frameworks/service"
	"github.com/kinship-app/kinship/internal/platform/cache/memory"
	"github.com/kinship-app/kinship/internal/platform/config"
	"github.com/kinship-app/kinship/internal/platform/deps"
	"github.com/kinship-app/kinship/internal/platform/http/server"
	"github.com/kinship-app/kinship/internal/platform/metrics"

	_ "github.com/kinship-app/kinship/internal/services/loader"
)

type stubService struct {
	prefix      string
	unprotected []string
	closed      *[]string
}

func (s *stubService) Handler() http.Handler { return http.NotFoundHandler() }
func (s *stubService) Prefix() string        { return s.prefix }
func (s *stubService) Unprotected() []string { return s.unprotected }
func (s *stubService) Close() error {
	*s.closed = append(*s.closed, s.prefix)
	return nil
}

func TestIsAuthRequired(t *testing.T) {
	svcs := []service.Service{&stubService{prefix: "api", unprotected: []string{"/healthz", "/auth/login"}}}

	tests := []struct {
		path string
		want bool
	}{
		{"/api/healthz", false},
		{"/api/auth/login", false},
		{"/api/auth/loginx", true},
		{"/api/auth/me", true},
		{"/api/connections/requests", true},
		{"/metrics", false},
		{"/unknown", true},
	}
	for _, tt := range tests {
		if got := server.IsAuthRequired(tt.path, svcs); got != tt.want {
			t.Errorf("IsAuthRequired(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestNew_RequiresSharedDeps(t *testing.T) {
	deps.ResetDeps()
	if _, err := server.New(config.DevConfig(), nil, nil); !errors.Is(err, server.ErrMissingSharedDeps) {
		t.Fatalf("err = %v, want ErrMissingSharedDeps", err)
	}
}

func TestShutdown_ClosesServicesInReverseOrder(t *testing.T) {
	setupDeps(t, config.DevConfig())
	var closed []string
	srv, err := server.New(config.DevConfig(), nil, []service.Service{
		&stubService{prefix: "first", closed: &closed},
		&stubService{prefix: "second", closed: &closed},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if strings.Join(closed, ",") != "second,first" {
		t.Errorf("closed = %v", closed)
	}
}

func setupDeps(t *testing.T, cfg *config.Config) {
	t.Helper()
	ctx := context.Background()
	party := identity.NewMemoryPartyRepo()
	ua := identity.NewUserAuthFast()
	if _, err := identity.NewBootstrap(party, ua, nil).Run(ctx, []identity.SeededUser{
		{Username: "alice", Password: "alice-pw"},
		{Username: "bob", Password: "bob-pw"},
	}); err != nil {
		t.Fatal(err)
	}

	c := memory.New(time.Minute, 0)
	t.Cleanup(func() { c.Close() })
	m := metrics.New()
	conns := connections.NewService(connections.ServiceDeps{
		Repo:    connections.NewMemoryRepo(),
		Users:   party,
		Cache:   c,
		Metrics: m,
	})

	deps.ResetDeps()
	t.Cleanup(deps.ResetDeps)
	deps.SetDeps(&deps.Deps{
		PartyRepo:   party,
		SessionRepo: identity.NewMemorySessionRepo(),
		UserAuth:    ua,
		Connections: conns,
		Profiles:    profiles.NewService(party, conns, cfg.Profiles.MaxImageBytes, nil),
		Config:      cfg,
		Cache:       c,
		Metrics:     m,
	})
}

func newTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	setupDeps(t, cfg)
	svcs, err := service.Build(service.CoreServices, cfg.Services, nil)
	if err != nil {
		t.Fatal(err)
	}
	srv, err := server.New(cfg, nil, svcs)
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

type client struct {
	t     *testing.T
	base  string
	token string
}

func (c *client) do(method, path, body string) (int, []byte) {
	c.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, c.base+path, r)
	if err != nil {
		c.t.Fatal(err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b
}

func (c *client) login(username, password string) {
	c.t.Helper()
	code, body := c.do(http.MethodPost, "/api/auth/login", `{"username":"`+username+`","password":"`+password+`"}`)
	if code != http.StatusOK {
		c.t.Fatalf("login %s = %d %s", username, code, body)
	}
	var resp struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(body, &resp)
	c.token = resp.Token
}

func (c *client) me() identity.User {
	c.t.Helper()
	code, body := c.do(http.MethodGet, "/api/auth/me", "")
	if code != http.StatusOK {
		c.t.Fatalf("me = %d %s", code, body)
	}
	var u identity.User
	_ = json.Unmarshal(body, &u)
	return u
}

func TestServer_EndToEnd(t *testing.T) {
	ts := newTestServer(t, config.DevConfig())
	alice := &client{t: t, base: ts.URL}
	bob := &client{t: t, base: ts.URL}

	if code, _ := alice.do(http.MethodGet, "/api/healthz", ""); code != http.StatusOK {
		t.Fatalf("healthz = %d", code)
	}
	if code, _ := alice.do(http.MethodGet, "/api/connections/requests", ""); code != http.StatusUnauthorized {
		t.Fatalf("anonymous requests = %d", code)
	}

	alice.login("alice", "alice-pw")
	bob.login("bob", "bob-pw")
	aliceID, bobID := alice.me().ID, bob.me().ID

	if code, body := alice.do(http.MethodPost, "/api/connections/request/"+bobID, ""); code != http.StatusCreated {
		t.Fatalf("send = %d %s", code, body)
	}

	_, body := bob.do(http.MethodGet, "/api/connections/status/"+aliceID, "")
	var st connections.StatusRecord
	_ = json.Unmarshal(body, &st)
	if st.Status != connections.StatusReceived || st.RequestID == "" {
		t.Fatalf("bob status = %s", body)
	}
	if code, body := bob.do(http.MethodPut, "/api/connections/accept/"+st.RequestID, ""); code != http.StatusOK {
		t.Fatalf("accept = %d %s", code, body)
	}

	_, body = alice.do(http.MethodGet, "/api/users/bob", "")
	var p profiles.Profile
	_ = json.Unmarshal(body, &p)
	if len(p.Connections) != 1 || p.Connections[0] != aliceID {
		t.Fatalf("bob profile = %s", body)
	}

	if code, body := alice.do(http.MethodPatch, "/api/users/me", `{"headline":"Gardener"}`); code != http.StatusOK {
		t.Fatalf("patch = %d %s", code, body)
	}

	code, body := alice.do(http.MethodGet, "/metrics", "")
	if code != http.StatusOK || !strings.Contains(string(body), `kinship_connection_actions_total{action="accept",result="ok"} 1`) {
		t.Errorf("metrics missing accept counter: %d", code)
	}

	if code, _ := alice.do(http.MethodPost, "/api/auth/logout", ""); code != http.StatusOK {
		t.Fatalf("logout = %d", code)
	}
	if code, _ := alice.do(http.MethodGet, "/api/auth/me", ""); code != http.StatusUnauthorized {
		t.Errorf("me after logout = %d", code)
	}
}

func TestServer_LoginRateLimited(t *testing.T) {
	cfg := config.DevConfig()
	cfg.Auth.LoginRateLimit.RequestsPerWindow = 2
	ts := newTestServer(t, cfg)
	c := &client{t: t, base: ts.URL}

	for i := 0; i < 2; i++ {
		if code, _ := c.do(http.MethodPost, "/api/auth/login", `{"username":"alice","password":"wrong"}`); code != http.StatusUnauthorized {
			t.Fatalf("attempt %d = %d", i, code)
		}
	}
	code, body := c.do(http.MethodPost, "/api/auth/login", `{"username":"alice","password":"alice-pw"}`)
	if code != http.StatusTooManyRequests || !strings.Contains(string(body), "rate_limited") {
		t.Fatalf("third attempt = %d %s", code, body)
	}
}

func TestServer_NotFoundUsesEnvelope(t *testing.T) {
	ts := newTestServer(t, config.DevConfig())
	c := &client{t: t, base: ts.URL}
	c.login("alice", "alice-pw")

	code, body := c.do(http.MethodGet, "/api/nope", "")
	if code != http.StatusNotFound || !strings.Contains(string(body), `"reason_code":"not_found"`) {
		t.Errorf("GET /api/nope = %d %s", code, body)
	}
}
