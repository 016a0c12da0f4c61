// Package middleware provides always-on transport middleware for HTTP servers.
package middleware

import (
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kinship-app/kinship/internal/platform/appctx"
	"github.com/kinship-app/kinship/internal/platform/ratelimit"
)

// RequestLogger attaches a request-scoped logger to the request context.
//
// It must run after chi's middleware.RequestID so the request ID is set.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// These fields are inherited by the access log and by handlers
			// that use appctx.GetLogger(r.Context()).
			reqLogger := base.With(
				"request_id", chimw.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path, // path only, no query string
				"client_ip", ratelimit.KeyFromRequest(r),
			)
			next.ServeHTTP(w, r.WithContext(appctx.WithLogger(r.Context(), reqLogger)))
		})
	}
}
