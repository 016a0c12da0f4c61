// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds the server configuration.
type Config struct {
	// Mode is the operating mode: prod or dev.
	Mode string `toml:"mode"`

	// PublicOrigin is the public origin (scheme + host + port) for this instance.
	// Example: "http://localhost:8480"
	PublicOrigin string `toml:"public_origin"`

	// ListenAddr is the address to listen on.
	// Example: ":8480"
	ListenAddr string `toml:"listen_addr"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`

	// Store selects the persistence driver for users and connections.
	Store StoreConfig `toml:"store"`

	// Cache configuration
	Cache CacheConfig `toml:"cache"`

	// Auth holds session and login settings.
	Auth AuthConfig `toml:"auth"`

	// Profiles holds profile editing limits.
	Profiles ProfilesConfig `toml:"profiles"`

	// Users are seeded on startup when missing.
	Users []SeededUser `toml:"users"`

	// Services holds per-service options keyed by service name.
	// Example: [services.api] profile_max_body_bytes = 4194304
	Services map[string]map[string]any `toml:"services"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `toml:"level"`

	// Format is json or text. Default: json.
	Format string `toml:"format"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `toml:"driver"`

	// DataDir holds the sqlite database file. Required for sqlite.
	DataDir string `toml:"data_dir"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	// Driver is the cache driver name: "memory" (default) or "valkey".
	Driver string `toml:"driver"`

	// Drivers holds per-driver configuration.
	// Example: [cache.drivers.valkey] address = "localhost:6379"
	Drivers map[string]any `toml:"drivers"`

	// StatusTTLSeconds bounds how long a computed connection status is cached.
	StatusTTLSeconds int `toml:"status_ttl_seconds"`
}

// AuthConfig holds session and login settings.
type AuthConfig struct {
	// SessionTTLSeconds is the lifetime of a login session. Default: 86400.
	SessionTTLSeconds int `toml:"session_ttl_seconds"`

	// LoginRateLimit bounds login attempts per client address.
	LoginRateLimit RateLimitConfig `toml:"login_rate_limit"`
}

// RateLimitConfig bounds requests per window.
type RateLimitConfig struct {
	RequestsPerWindow int64 `toml:"requests_per_window"`
	WindowSeconds     int   `toml:"window_seconds"`
}

// ProfilesConfig holds profile editing limits.
type ProfilesConfig struct {
	// MaxImageBytes bounds the decoded size of banner and avatar images.
	MaxImageBytes int `toml:"max_image_bytes"`
}

// SeededUser is a user created at startup if missing.
type SeededUser struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
	Email    string `toml:"email"`
	Name     string `toml:"name"`
	Headline string `toml:"headline"`
	Location string `toml:"location"`
}

// SessionTTL returns the session lifetime as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Auth.SessionTTLSeconds) * time.Second
}

// StatusTTL returns the connection status cache lifetime.
func (c *Config) StatusTTL() time.Duration {
	return time.Duration(c.Cache.StatusTTLSeconds) * time.Second
}

// LoginWindow returns the login rate limit window.
func (c *Config) LoginWindow() time.Duration {
	return time.Duration(c.Auth.LoginRateLimit.WindowSeconds) * time.Second
}

// Redacted returns a copy safe for logging: seeded passwords and cache secrets are masked.
func (c *Config) Redacted() Config {
	out := *c
	out.Users = make([]SeededUser, len(c.Users))
	for i, u := range c.Users {
		if u.Password != "" {
			u.Password = "[REDACTED]"
		}
		out.Users[i] = u
	}
	if len(c.Cache.Drivers) > 0 {
		out.Cache.Drivers = make(map[string]any, len(c.Cache.Drivers))
		for name, raw := range c.Cache.Drivers {
			m, ok := raw.(map[string]any)
			if !ok {
				out.Cache.Drivers[name] = raw
				continue
			}
			cp := make(map[string]any, len(m))
			for k, v := range m {
				if strings.Contains(strings.ToLower(k), "password") {
					v = "[REDACTED]"
				}
				cp[k] = v
			}
			out.Cache.Drivers[name] = cp
		}
	}
	return out
}

// Validate checks enum fields and required values.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.DataDir == "" {
			return fmt.Errorf("store.data_dir is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("invalid store.driver %q: must be memory or sqlite", c.Store.Driver)
	}

	switch c.Cache.Driver {
	case "memory", "valkey":
	default:
		return fmt.Errorf("invalid cache.driver %q: must be memory or valkey", c.Cache.Driver)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging.format %q: must be json or text", c.Logging.Format)
	}

	if c.Auth.SessionTTLSeconds <= 0 {
		return fmt.Errorf("auth.session_ttl_seconds must be positive")
	}
	if c.Profiles.MaxImageBytes <= 0 {
		return fmt.Errorf("profiles.max_image_bytes must be positive")
	}

	if c.PublicOrigin != "" {
		u, err := url.Parse(c.PublicOrigin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid public_origin %q: must be scheme://host[:port]", c.PublicOrigin)
		}
	}

	seen := make(map[string]bool, len(c.Users))
	for _, u := range c.Users {
		if u.Username == "" || u.Password == "" {
			return fmt.Errorf("seeded users need a username and a password")
		}
		if seen[u.Username] {
			return fmt.Errorf("seeded user %q listed twice", u.Username)
		}
		seen[u.Username] = true
	}
	return nil
}
