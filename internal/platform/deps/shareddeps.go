// Package deps holds the collaborators shared by every mounted service.
package deps

import (
	"sync"

	"github.com/kinship-app/kinship/internal/components/connections"
	"github.com/kinship-app/kinship/internal/components/identity"
	"github.com/kinship-app/kinship/internal/components/profiles"
	"github.com/kinship-app/kinship/internal/platform/cache"
	"github.com/kinship-app/kinship/internal/platform/config"
	"github.com/kinship-app/kinship/internal/platform/metrics"
)

var (
	sharedDeps     *Deps
	sharedDepsOnce sync.Once
)

// Deps holds shared dependencies for all services.
type Deps struct {
	// Identity (for session-gated endpoints)
	PartyRepo   identity.PartyRepo
	SessionRepo identity.SessionRepo
	UserAuth    *identity.UserAuth

	// Domain services
	Connections *connections.Service
	Profiles    *profiles.Service

	// Config (for handlers that need config values)
	Config *config.Config

	// Cache backs the login rate limiter.
	Cache cache.CacheWithCounter

	// Metrics may be nil; every recorder is nil-safe.
	Metrics *metrics.Registry
}

// SetDeps sets the shared dependencies. Must be called once at startup
// before any services are constructed.
func SetDeps(d *Deps) {
	sharedDepsOnce.Do(func() {
		sharedDeps = d
	})
}

// GetDeps returns the shared dependencies, or nil if SetDeps has not been called.
func GetDeps() *Deps {
	return sharedDeps
}

// ResetDeps is for testing only. Resets the singleton.
func ResetDeps() {
	sharedDeps = nil
	sharedDepsOnce = sync.Once{}
}
