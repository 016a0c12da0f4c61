// Package auth provides session authentication middleware for HTTP servers.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kinship-app/kinship/internal/components/api"
	"github.com/kinship-app/kinship/internal/components/identity"
	"github.com/kinship-app/kinship/internal/platform/appctx"
	"github.com/kinship-app/kinship/internal/platform/logutil"
)

// CookieName is the session cookie set on login.
const CookieName = "kinship_session"

type contextKey string

const (
	sessionContextKey contextKey = "session"
	userContextKey    contextKey = "user"
)

// AuthGateConfig configures the session auth gate middleware.
type AuthGateConfig struct {
	// RequireAuth returns true if the given path requires session authentication.
	RequireAuth func(path string) bool

	// Log is the base logger for auth-related warnings and errors.
	Log *slog.Logger

	// SessionRepo provides session lookup by token.
	SessionRepo identity.SessionRepo

	// PartyRepo provides user lookup by ID.
	PartyRepo identity.PartyRepo
}

// NewAuthGate returns a middleware that enforces session authentication.
// Paths for which RequireAuth is false pass through untouched.
func NewAuthGate(cfg AuthGateConfig) func(http.Handler) http.Handler {
	cfg.Log = logutil.NoopIfNil(cfg.Log)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RequireAuth(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token := ExtractSessionToken(r)
			if token == "" {
				api.WriteUnauthorized(w, api.ReasonUnauthenticated, "Authentication required")
				return
			}

			session, err := cfg.SessionRepo.Get(r.Context(), token)
			switch {
			case errors.Is(err, identity.ErrSessionExpired):
				api.WriteUnauthorized(w, api.ReasonSessionExpired, "Your session has expired, please log in again")
				return
			case err != nil:
				if !errors.Is(err, identity.ErrSessionNotFound) {
					cfg.Log.Error("session lookup failed", "error", err)
				}
				api.WriteUnauthorized(w, api.ReasonUnauthenticated, "Authentication required")
				return
			}

			user, err := cfg.PartyRepo.Get(r.Context(), session.UserID)
			if err != nil {
				api.WriteUnauthorized(w, api.ReasonUnauthenticated, "Authentication required")
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey, session)
			ctx = context.WithValue(ctx, userContextKey, user)

			// Handler logs carry user_id; the access log does not.
			ctx = appctx.WithLogger(ctx, appctx.GetLogger(ctx).With("user_id", user.ID))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ExtractSessionToken returns the session token from the cookie or the
// Authorization bearer header.
func ExtractSessionToken(r *http.Request) string {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// GetSessionFromContext returns the session from request context.
func GetSessionFromContext(ctx context.Context) *identity.Session {
	session, _ := ctx.Value(sessionContextKey).(*identity.Session)
	return session
}

// GetUserFromContext returns the user from request context.
func GetUserFromContext(ctx context.Context) *identity.User {
	user, _ := ctx.Value(userContextKey).(*identity.User)
	return user
}

// CurrentUser adapts GetUserFromContext to the resolver shape handlers take.
func CurrentUser(ctx context.Context) (*identity.User, error) {
	if u := GetUserFromContext(ctx); u != nil {
		return u, nil
	}
	return nil, identity.ErrSessionNotFound
}
