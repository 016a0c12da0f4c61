// Package api provides the /api/* endpoints.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kinship-app/kinship/internal/components/api"
	"github.com/kinship-app/kinship/internal/components/api/authn"
	connapi "github.com/kinship-app/kinship/internal/components/api/connections"
	"github.com/kinship-app/kinship/internal/components/api/users"
	"github.com/kinship-app/kinship/internal/frameworks/service"
	"github.com/kinship-app/kinship/internal/platform/cfg"
	"github.com/kinship-app/kinship/internal/platform/deps"
	"github.com/kinship-app/kinship/internal/platform/http/auth"
	"github.com/kinship-app/kinship/internal/platform/logutil"
	"github.com/kinship-app/kinship/internal/platform/ratelimit"
)

func init() {
	service.MustRegister("api", New)
}

// Config holds api service options from [services.api].
type Config struct {
	// ProfileMaxBodyBytes bounds PATCH /api/users/me bodies. Zero derives it
	// from profiles.max_image_bytes.
	ProfileMaxBodyBytes int64 `mapstructure:"profile_max_body_bytes"`

	// LoginRateLimit toggles the per-address login limiter. Default: true.
	LoginRateLimit *bool `mapstructure:"login_rate_limit"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.LoginRateLimit == nil {
		on := true
		c.LoginRateLimit = &on
	}
}

// Service is the API service.
type Service struct {
	router chi.Router
	conf   *Config
	log    *slog.Logger
}

// New creates the API service from the shared deps.
func New(m map[string]any, log *slog.Logger) (service.Service, error) {
	log = logutil.NoopIfNil(log)

	var c Config
	unused, err := cfg.DecodeWithUnused(m, &c)
	if err != nil {
		return nil, err
	}
	if len(unused) > 0 {
		log.Warn("unused config keys", "unused_keys", unused)
	}

	d := deps.GetDeps()
	if d == nil {
		return nil, errors.New("shared deps not initialized")
	}
	if c.ProfileMaxBodyBytes <= 0 {
		c.ProfileMaxBodyBytes = profileBodyLimit(d.Config.Profiles.MaxImageBytes)
	}

	var limiter *ratelimit.Limiter
	if *c.LoginRateLimit && d.Cache != nil {
		limiter = ratelimit.New(d.Cache, &ratelimit.Config{
			RequestsPerWindow: d.Config.Auth.LoginRateLimit.RequestsPerWindow,
			Window:            d.Config.LoginWindow(),
			KeyPrefix:         "ratelimit:login:",
		})
	}

	authHandler := authn.NewHandler(authn.Deps{
		Users:      d.PartyRepo,
		Sessions:   d.SessionRepo,
		Auth:       d.UserAuth,
		SessionTTL: d.Config.SessionTTL(),
		Limiter:    limiter,
		Metrics:    d.Metrics,
		Log:        log,
	})
	usersHandler := users.NewHandler(d.Profiles, c.ProfileMaxBodyBytes, auth.CurrentUser, log)
	connHandler := connapi.NewHandler(d.Connections, auth.CurrentUser, log)

	r := chi.NewRouter()

	// Health endpoint (public)
	r.Get("/healthz", api.HealthHandler)

	r.Route("/auth", func(r chi.Router) {
		if limiter != nil {
			r.With(limiter.Middleware(func(w http.ResponseWriter, _ *http.Request, _ *ratelimit.Result) {
				d.Metrics.LoginAttempt("rate_limited")
				api.WriteTooManyRequests(w, "Too many login attempts, please try again later")
			})).Post("/login", authHandler.Login)
		} else {
			r.Post("/login", authHandler.Login)
		}
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	r.Route("/users", func(r chi.Router) {
		r.Patch("/me", usersHandler.UpdateMe)
		r.Get("/{username}", usersHandler.Get)
	})

	r.Route("/connections", func(r chi.Router) {
		r.Get("/status/{userId}", connHandler.Status)
		r.Post("/request/{userId}", connHandler.Send)
		r.Put("/accept/{requestId}", connHandler.Accept)
		r.Put("/reject/{requestId}", connHandler.Reject)
		r.Get("/requests", connHandler.Requests)
		r.Delete("/{userId}", connHandler.Remove)
	})

	log.Debug("api service ready",
		"profile_max_body_bytes", c.ProfileMaxBodyBytes,
		"login_rate_limit", limiter != nil,
		"session_ttl", d.Config.SessionTTL().String())
	return &Service{router: r, conf: &c, log: log}, nil
}

// profileBodyLimit fits two base64 images plus the text fields.
func profileBodyLimit(maxImageBytes int) int64 {
	if maxImageBytes <= 0 {
		return api.DefaultMaxBodyBytes
	}
	encoded := int64(maxImageBytes+2) / 3 * 4
	return 2*encoded + api.DefaultMaxBodyBytes
}

// Handler returns the service's HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Prefix returns the URL prefix for this service.
func (s *Service) Prefix() string {
	return "api"
}

// Unprotected returns paths that don't require session authentication.
func (s *Service) Unprotected() []string {
	return []string{"/healthz", "/auth/login"}
}

// Close releases any resources held by the service.
func (s *Service) Close() error {
	return nil
}

