// Package memory provides an in-process cache driver with TTL expiry.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kinship-app/kinship/internal/platform/cache"
	"github.com/kinship-app/kinship/internal/platform/cfg"
	"github.com/kinship-app/kinship/internal/platform/logutil"
)

// Config is the [cache.drivers.memory] section.
type Config struct {
	DefaultTTL      time.Duration `mapstructure:"default_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 15 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
}

func init() {
	cache.RegisterDriver("memory", func(raw map[string]any, logger *slog.Logger) (cache.CacheWithCounter, error) {
		var c Config
		unused, err := cfg.DecodeWithUnused(raw, &c)
		if err != nil {
			return nil, err
		}
		logger = logutil.NoopIfNil(logger)
		if len(unused) > 0 {
			logger.Warn("memory cache: ignoring unknown keys", "keys", unused)
		}
		logger.Debug("memory cache ready", "default_ttl", c.DefaultTTL, "cleanup_interval", c.CleanupInterval)
		return New(c.DefaultTTL, c.CleanupInterval), nil
	})
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

type counter struct {
	value     int64
	expiresAt time.Time
}

// Cache is an in-memory cache with TTL support.
type Cache struct {
	mu         sync.RWMutex
	items      map[string]entry
	counters   map[string]*counter
	defaultTTL time.Duration
	now        func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a cache. cleanupInterval 0 disables the background sweeper.
func New(defaultTTL, cleanupInterval time.Duration) *Cache {
	c := &Cache{
		items:      make(map[string]entry),
		counters:   make(map[string]*counter),
		defaultTTL: defaultTTL,
		now:        time.Now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.sweep(cleanupInterval)
	} else {
		close(c.done)
	}
	return c
}

func (c *Cache) sweep(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.items {
		if now.After(e.expiresAt) {
			delete(c.items, k)
		}
	}
	for k, n := range c.counters {
		if now.After(n.expiresAt) {
			delete(c.counters, k)
		}
	}
}

func (c *Cache) ttl(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.defaultTTL
	}
	return ttl
}

// Get returns a copy of the stored value.
func (c *Cache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	if !ok {
		return nil, cache.ErrNotFound
	}
	if c.now().After(e.expiresAt) {
		return nil, cache.ErrExpired
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores a copy of value.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{
		value:     append([]byte(nil), value...),
		expiresAt: c.now().Add(c.ttl(ttl)),
	}
	c.mu.Lock()
	c.items[key] = e
	c.mu.Unlock()
	return nil
}

// Delete removes a key.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

// Exists reports whether key is present and unexpired.
func (c *Cache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	return ok && !c.now().After(e.expiresAt), nil
}

// Increment adds delta to a fixed-window counter.
func (c *Cache) Increment(_ context.Context, key string, delta int64, ttl time.Duration) (int64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n, ok := c.counters[key]
	if !ok || now.After(n.expiresAt) {
		n = &counter{value: delta, expiresAt: now.Add(c.ttl(ttl))}
		c.counters[key] = n
		return n.value, n.expiresAt, nil
	}
	n.value += delta
	return n.value, n.expiresAt, nil
}

// GetCount returns the live counter value.
func (c *Cache) GetCount(_ context.Context, key string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.counters[key]
	if !ok || c.now().After(n.expiresAt) {
		return 0, nil
	}
	return n.value, nil
}

// Reset drops a counter.
func (c *Cache) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.counters, key)
	c.mu.Unlock()
	return nil
}

// Close stops the sweeper and waits for it to exit. Safe to call twice.
func (c *Cache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
	return nil
}

var _ cache.CacheWithCounter = (*Cache)(nil)
