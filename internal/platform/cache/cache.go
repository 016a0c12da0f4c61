// Package cache provides TTL key-value storage and counters behind pluggable drivers.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrExpired       = errors.New("key expired")
	ErrUnknownDriver = errors.New("unknown cache driver")
)

// Cache provides TTL-based key-value storage.
type Cache interface {
	// Get retrieves a value by key. Returns ErrNotFound if not present.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. If TTL is 0, the driver default is used.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists and is not expired.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases resources.
	Close() error
}

// Counter provides atomic increments for rate limiting.
type Counter interface {
	// Increment adds delta to the counter and returns the new value and the
	// time the window resets. A missing key is created with the given TTL.
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, time.Time, error)

	// GetCount returns the current counter value, 0 if not found.
	GetCount(ctx context.Context, key string) (int64, error)

	// Reset removes the counter.
	Reset(ctx context.Context, key string) error
}

// CacheWithCounter combines Cache and Counter.
type CacheWithCounter interface {
	Cache
	Counter
}

// Default TTLs for the cache categories used by the server.
const (
	TTLConnectionStatus = time.Minute
	TTLRateLimit        = time.Minute
)

// Factory builds a driver from its free-form config section.
type Factory func(config map[string]any, logger *slog.Logger) (CacheWithCounter, error)

var (
	driversMu sync.RWMutex
	drivers   = map[string]Factory{}
)

// RegisterDriver makes a driver available by name. Called from driver init functions.
func RegisterDriver(name string, f Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, dup := drivers[name]; dup {
		panic("cache: driver registered twice: " + name)
	}
	drivers[name] = f
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for n := range drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New builds the named driver. config is the driver's own section and may be nil.
func New(name string, config map[string]any, logger *slog.Logger) (CacheWithCounter, error) {
	driversMu.RLock()
	f, ok := drivers[name]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownDriver, name, Drivers())
	}
	return f(config, logger)
}

// NewFromConfig picks the driver section named driver out of sections and builds it.
func NewFromConfig(driver string, sections map[string]any, logger *slog.Logger) (CacheWithCounter, error) {
	var section map[string]any
	if raw, ok := sections[driver]; ok {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cache.drivers.%s must be a table", driver)
		}
		section = m
	}
	return New(driver, section, logger)
}
