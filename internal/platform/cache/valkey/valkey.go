// Package valkey provides a Valkey/Redis cache driver.
package valkey

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/kinship-app/kinship/internal/platform/cache"
	"github.com/kinship-app/kinship/internal/platform/cfg"
	"github.com/kinship-app/kinship/internal/platform/logutil"
)

// Config is the [cache.drivers.valkey] section.
type Config struct {
	Address      string        `mapstructure:"address"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
}

// ApplyDefaults implements cfg.Setter.
func (c *Config) ApplyDefaults() {
	if c.Address == "" {
		c.Address = "localhost:6379"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "kinship:"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3 * time.Second
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 15 * time.Minute
	}
}

// DefaultConfig returns a config with defaults applied.
func DefaultConfig() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

func init() {
	cache.RegisterDriver("valkey", func(raw map[string]any, logger *slog.Logger) (cache.CacheWithCounter, error) {
		var c Config
		unused, err := cfg.DecodeWithUnused(raw, &c)
		if err != nil {
			return nil, fmt.Errorf("valkey cache config: %w", err)
		}
		logger = logutil.NoopIfNil(logger)
		if len(unused) > 0 {
			logger.Warn("valkey cache: ignoring unknown keys", "keys", unused)
		}
		return New(&c, logger)
	})
}

// Cache stores entries in Valkey. Client-side caching is disabled so every
// read observes the latest write from any server instance.
type Cache struct {
	client     valkey.Client
	prefix     string
	defaultTTL time.Duration
	logger     *slog.Logger
}

// New connects and pings. It fails fast when the server is unreachable.
func New(c *Config, logger *slog.Logger) (*Cache, error) {
	if c == nil {
		c = DefaultConfig()
	}
	c.ApplyDefaults()
	logger = logutil.NoopIfNil(logger)

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:      []string{c.Address},
		Username:         c.Username,
		Password:         c.Password,
		SelectDB:         c.DB,
		DisableCache:     true,
		ConnWriteTimeout: c.WriteTimeout,
		Dialer:           net.Dialer{Timeout: c.DialTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect %s: %w", c.Address, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.DialTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey ping %s: %w", c.Address, err)
	}

	logger.Info("valkey cache connected", "address", c.Address, "db", c.DB)
	return &Cache{
		client:     client,
		prefix:     c.KeyPrefix,
		defaultTTL: c.DefaultTTL,
		logger:     logger,
	}, nil
}

func (c *Cache) key(k string) string { return c.prefix + k }

func (c *Cache) ttl(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.defaultTTL
	}
	return ttl
}

// Get retrieves a value. Valkey drops expired keys itself, so a miss is always ErrNotFound.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Do(ctx, c.client.B().Get().Key(c.key(key)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("valkey get: %w", err)
	}
	return b, nil
}

// Set stores value with a millisecond TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cmd := c.client.B().Set().Key(c.key(key)).Value(valkey.BinaryString(value)).
		PxMilliseconds(c.ttl(ttl).Milliseconds()).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey set: %w", err)
	}
	return nil
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Do(ctx, c.client.B().Del().Key(c.key(key)).Build()).Error(); err != nil {
		return fmt.Errorf("valkey del: %w", err)
	}
	return nil
}

// Exists checks for a live key.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Do(ctx, c.client.B().Exists().Key(c.key(key)).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("valkey exists: %w", err)
	}
	return n > 0, nil
}

// Increment runs INCRBY and arms the window expiry on the first hit.
func (c *Cache) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, time.Time, error) {
	k := c.key(key)
	window := c.ttl(ttl)

	n, err := c.client.Do(ctx, c.client.B().Incrby().Key(k).Increment(delta).Build()).AsInt64()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("valkey incrby: %w", err)
	}

	pttl, err := c.client.Do(ctx, c.client.B().Pttl().Key(k).Build()).AsInt64()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("valkey pttl: %w", err)
	}
	// -1 means the key has no expiry yet: this call opened the window.
	if pttl < 0 {
		if err := c.client.Do(ctx, c.client.B().Pexpire().Key(k).Milliseconds(window.Milliseconds()).Build()).Error(); err != nil {
			return 0, time.Time{}, fmt.Errorf("valkey pexpire: %w", err)
		}
		pttl = window.Milliseconds()
	}
	return n, time.Now().Add(time.Duration(pttl) * time.Millisecond), nil
}

// GetCount returns the counter value, 0 when missing.
func (c *Cache) GetCount(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Do(ctx, c.client.B().Get().Key(c.key(key)).Build()).AsInt64()
	if valkey.IsValkeyNil(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("valkey get counter: %w", err)
	}
	return n, nil
}

// Reset deletes the counter.
func (c *Cache) Reset(ctx context.Context, key string) error {
	return c.Delete(ctx, key)
}

// Close closes the client.
func (c *Cache) Close() error {
	c.client.Close()
	return nil
}

var _ cache.CacheWithCounter = (*Cache)(nil)
