// Package authn implements the login, logout and current-user endpoints.
package authn

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kinship-app/kinship/internal/components/api"
	"github.com/kinship-app/kinship/internal/components/identity"
	"github.com/kinship-app/kinship/internal/platform/appctx"
	"github.com/kinship-app/kinship/internal/platform/http/auth"
	"github.com/kinship-app/kinship/internal/platform/logutil"
	"github.com/kinship-app/kinship/internal/platform/metrics"
	"github.com/kinship-app/kinship/internal/platform/ratelimit"
)

// Login attempt results, as reported to metrics.
const (
	ResultOK                 = "ok"
	ResultInvalidCredentials = "invalid_credentials"
	ResultBadRequest         = "bad_request"
	ResultError              = "error"
)

// LoginRequest is the request body for POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned on a successful login. The token is also set as a cookie.
type LoginResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
	User      *identity.User `json:"user"`
}

// Handler serves /api/auth.
type Handler struct {
	users      identity.PartyRepo
	sessions   identity.SessionRepo
	auth       *identity.UserAuth
	sessionTTL time.Duration
	limiter    *ratelimit.Limiter
	metrics    *metrics.Registry
	log        *slog.Logger
}

// Deps bundles the handler's collaborators. Limiter and Metrics may be nil.
type Deps struct {
	Users      identity.PartyRepo
	Sessions   identity.SessionRepo
	Auth       *identity.UserAuth
	SessionTTL time.Duration
	Limiter    *ratelimit.Limiter
	Metrics    *metrics.Registry
	Log        *slog.Logger
}

// NewHandler creates the auth handler.
func NewHandler(d Deps) *Handler {
	ttl := d.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Handler{
		users:      d.Users,
		sessions:   d.Sessions,
		auth:       d.Auth,
		sessionTTL: ttl,
		limiter:    d.Limiter,
		metrics:    d.Metrics,
		log:        logutil.NoopIfNil(d.Log),
	}
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.logger(ctx)

	var req LoginRequest
	if err := api.DecodeJSON(w, r, api.DefaultMaxBodyBytes, &req); err != nil {
		h.metrics.LoginAttempt(ResultBadRequest)
		api.WriteBadRequest(w, api.ReasonBadRequest, err.Error())
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		h.metrics.LoginAttempt(ResultBadRequest)
		api.WriteBadRequest(w, api.ReasonMissingField, "Username and password are required")
		return
	}

	user, err := h.auth.Authenticate(ctx, h.users, req.Username, req.Password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		h.metrics.LoginAttempt(ResultInvalidCredentials)
		log.Info("login rejected", "username", req.Username)
		api.WriteUnauthorized(w, api.ReasonInvalidCredentials, "Invalid username or password")
		return
	}
	if err != nil {
		h.metrics.LoginAttempt(ResultError)
		log.Error("login failed", "error", err)
		api.WriteInternalError(w, "Login failed")
		return
	}

	session, err := h.sessions.Create(ctx, user.ID, h.sessionTTL)
	if err != nil {
		h.metrics.LoginAttempt(ResultError)
		log.Error("session create failed", "error", err)
		api.WriteInternalError(w, "Login failed")
		return
	}

	if h.limiter != nil {
		if err := h.limiter.Reset(ctx, ratelimit.KeyFromRequest(r)); err != nil {
			log.Warn("rate limit reset failed", "error", err)
		}
	}
	h.metrics.LoginAttempt(ResultOK)
	log.Info("login succeeded", "user_id", user.ID)

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	api.WriteJSON(w, http.StatusOK, LoginResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      user,
	})
}

// Logout handles POST /api/auth/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if session := auth.GetSessionFromContext(r.Context()); session != nil {
		if err := h.sessions.Delete(r.Context(), session.Token); err != nil {
			h.logger(r.Context()).Warn("session delete failed", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
	})
	api.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

// Me handles GET /api/auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r.Context())
	if user == nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "Authentication required")
		return
	}
	api.WriteJSON(w, http.StatusOK, user)
}

// logger prefers the request-scoped logger and falls back to the handler's.
func (h *Handler) logger(ctx context.Context) *slog.Logger {
	if l, ok := appctx.LoggerFromContext(ctx); ok {
		return l
	}
	return h.log
}
