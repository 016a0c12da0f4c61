package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kinship-app/kinship/internal/platform/appctx"
	"github.com/kinship-app/kinship/internal/platform/metrics"
)

// AccessLog logs one line per request and feeds the HTTP metrics.
// It uses the request-scoped logger from RequestLogger and adds response
// fields only. fallback is used when that logger is missing.
func AccessLog(fallback *slog.Logger, m *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger, ok := appctx.LoggerFromContext(r.Context())
				if !ok {
					logger = fallback.With(
						"request_id", chimw.GetReqID(r.Context()),
						"method", r.Method,
						"path", r.URL.Path,
					)
				}

				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				elapsed := time.Since(start)

				level := slog.LevelInfo
				if status >= 500 {
					level = slog.LevelError
				}
				logger.Log(r.Context(), level, "request",
					"status", status,
					"bytes", ww.BytesWritten(),
					"duration_ms", elapsed.Milliseconds(),
				)

				m.ObserveHTTP(routePattern(r), r.Method, status, elapsed)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// routePattern returns the chi route pattern so metric labels stay bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
