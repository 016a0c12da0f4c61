// Package ratelimit provides fixed-window rate limiting on top of a cache counter.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kinship-app/kinship/internal/platform/appctx"
	"github.com/kinship-app/kinship/internal/platform/cache"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// Config defines rate limiting parameters.
type Config struct {
	// RequestsPerWindow is the maximum requests allowed per window.
	RequestsPerWindow int64

	// Window is the time window for rate limiting.
	Window time.Duration

	// KeyPrefix is prepended to all rate limit keys.
	KeyPrefix string
}

// DefaultConfig returns the login limiter defaults.
func DefaultConfig() *Config {
	return &Config{
		RequestsPerWindow: 10,
		Window:            time.Minute,
		KeyPrefix:         "ratelimit:",
	}
}

// Limiter counts hits per key in the cache.
type Limiter struct {
	counter cache.Counter
	config  *Config
}

// New creates a limiter. A nil cfg uses DefaultConfig.
func New(c cache.Counter, cfg *Config) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Limiter{counter: c, config: cfg}
}

// Result is the outcome of one check.
type Result struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// Allow records one hit for key and reports whether it fits the window.
func (l *Limiter) Allow(ctx context.Context, key string) (*Result, error) {
	count, resetAt, err := l.counter.Increment(ctx, l.config.KeyPrefix+key, 1, l.config.Window)
	if err != nil {
		return nil, err
	}
	return l.result(count, count <= l.config.RequestsPerWindow, resetAt), nil
}

// Check reports the current state without recording a hit.
func (l *Limiter) Check(ctx context.Context, key string) (*Result, error) {
	count, err := l.counter.GetCount(ctx, l.config.KeyPrefix+key)
	if err != nil {
		return nil, err
	}
	return l.result(count, count < l.config.RequestsPerWindow, time.Now().Add(l.config.Window)), nil
}

// Reset clears the counter for key, e.g. after a successful login.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.counter.Reset(ctx, l.config.KeyPrefix+key)
}

func (l *Limiter) result(count int64, allowed bool, resetAt time.Time) *Result {
	remaining := l.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Allowed:   allowed,
		Limit:     l.config.RequestsPerWindow,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// KeyFromRequest returns the client address: the first X-Forwarded-For hop
// when present, otherwise RemoteAddr without its port.
func KeyFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RejectFunc writes the response for a limited request.
type RejectFunc func(w http.ResponseWriter, r *http.Request, res *Result)

// Middleware limits requests per client address. Counter failures let the
// request through and are logged.
func (l *Limiter) Middleware(reject RejectFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := KeyFromRequest(r)
			res, err := l.Allow(r.Context(), key)
			if err != nil {
				appctx.GetLogger(r.Context()).Warn("rate limiter unavailable, allowing request",
					slog.String("key", key), slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				retry := int(time.Until(res.ResetAt).Seconds())
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				reject(w, r, res)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
