package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Mode represents the server operating mode.
type Mode string

const (
	ModeProd Mode = "prod"
	ModeDev  Mode = "dev"
)

// ParseMode parses a mode string, returning an error for invalid values.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prod", "":
		return ModeProd, nil
	case "dev":
		return ModeDev, nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be one of prod, dev", s)
	}
}

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but file is missing or invalid, loading fails.
	ConfigPath string

	// ModeFlag is the --mode flag value (overrides config file mode).
	ModeFlag string

	// FlagOverrides are CLI flag values that override config file values.
	FlagOverrides FlagOverrides

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
// A nil or empty pointer leaves the file value in place.
type FlagOverrides struct {
	ListenAddr    *string
	PublicOrigin  *string
	LoggingLevel  *string
	LoggingFormat *string
	StoreDriver   *string
	DataDir       *string
	CacheDriver   *string
}

// fileConfig mirrors Config but with pointer sections to detect presence.
type fileConfig struct {
	Mode         string                    `toml:"mode"`
	PublicOrigin string                    `toml:"public_origin"`
	ListenAddr   string                    `toml:"listen_addr"`
	Logging      *LoggingConfig            `toml:"logging"`
	Store        *StoreConfig              `toml:"store"`
	Cache        *CacheConfig              `toml:"cache"`
	Auth         *authConfig               `toml:"auth"`
	Profiles     *ProfilesConfig           `toml:"profiles"`
	Users        []SeededUser              `toml:"users"`
	Services     map[string]map[string]any `toml:"services"`
}

type authConfig struct {
	SessionTTLSeconds int              `toml:"session_ttl_seconds"`
	LoginRateLimit    *RateLimitConfig `toml:"login_rate_limit"`
}

// Load loads configuration with the following precedence:
//  1. Determine effective mode: --mode flag > mode in config file > default (prod)
//  2. Start from mode preset defaults
//  3. Overlay TOML config file values
//  4. Overlay CLI flags
//  5. Validate
//
// Unknown TOML keys produce a warning but do not fail the load.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var fc fileConfig
	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				// Driver and service maps are free-form and decoded later by their owner.
				if strings.HasPrefix(k.String(), "cache.drivers.") || strings.HasPrefix(k.String(), "services.") {
					continue
				}
				keys = append(keys, k.String())
			}
			if len(keys) > 0 {
				logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
			}
		}
	}

	modeStr := fc.Mode
	if opts.ModeFlag != "" {
		modeStr = opts.ModeFlag
	}
	mode, err := ParseMode(modeStr)
	if err != nil {
		return nil, err
	}

	cfg := presetForMode(mode)
	if opts.ConfigPath != "" {
		overlayFileConfig(cfg, &fc)
	}
	overlayFlags(cfg, opts.FlagOverrides)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func presetForMode(mode Mode) *Config {
	if mode == ModeDev {
		return DevConfig()
	}
	return ProdConfig()
}

// ProdConfig returns production defaults.
func ProdConfig() *Config {
	return &Config{
		Mode:         string(ModeProd),
		PublicOrigin: "http://localhost:8480",
		ListenAddr:   ":8480",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Driver:  "sqlite",
			DataDir: ".kinship",
		},
		Cache: CacheConfig{
			Driver:           "memory",
			StatusTTLSeconds: 60,
		},
		Auth: AuthConfig{
			SessionTTLSeconds: 86400,
			LoginRateLimit: RateLimitConfig{
				RequestsPerWindow: 10,
				WindowSeconds:     60,
			},
		},
		Profiles: ProfilesConfig{
			MaxImageBytes: 2 << 20,
		},
	}
}

// DevConfig returns development defaults: in-memory store and verbose text logs.
func DevConfig() *Config {
	cfg := ProdConfig()
	cfg.Mode = string(ModeDev)
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "text"
	cfg.Store.Driver = "memory"
	cfg.Store.DataDir = ""
	cfg.Auth.LoginRateLimit.RequestsPerWindow = 100
	return cfg
}

func overlayFileConfig(cfg *Config, fc *fileConfig) {
	if fc.PublicOrigin != "" {
		cfg.PublicOrigin = fc.PublicOrigin
	}
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.Logging != nil {
		if fc.Logging.Level != "" {
			cfg.Logging.Level = fc.Logging.Level
		}
		if fc.Logging.Format != "" {
			cfg.Logging.Format = fc.Logging.Format
		}
	}
	if fc.Store != nil {
		if fc.Store.Driver != "" {
			cfg.Store.Driver = fc.Store.Driver
		}
		if fc.Store.DataDir != "" {
			cfg.Store.DataDir = fc.Store.DataDir
		}
	}
	if fc.Cache != nil {
		if fc.Cache.Driver != "" {
			cfg.Cache.Driver = fc.Cache.Driver
		}
		if fc.Cache.Drivers != nil {
			cfg.Cache.Drivers = fc.Cache.Drivers
		}
		if fc.Cache.StatusTTLSeconds > 0 {
			cfg.Cache.StatusTTLSeconds = fc.Cache.StatusTTLSeconds
		}
	}
	if fc.Auth != nil {
		if fc.Auth.SessionTTLSeconds > 0 {
			cfg.Auth.SessionTTLSeconds = fc.Auth.SessionTTLSeconds
		}
		if rl := fc.Auth.LoginRateLimit; rl != nil {
			if rl.RequestsPerWindow > 0 {
				cfg.Auth.LoginRateLimit.RequestsPerWindow = rl.RequestsPerWindow
			}
			if rl.WindowSeconds > 0 {
				cfg.Auth.LoginRateLimit.WindowSeconds = rl.WindowSeconds
			}
		}
	}
	if fc.Profiles != nil && fc.Profiles.MaxImageBytes > 0 {
		cfg.Profiles.MaxImageBytes = fc.Profiles.MaxImageBytes
	}
	if len(fc.Users) > 0 {
		cfg.Users = fc.Users
	}
	if fc.Services != nil {
		cfg.Services = fc.Services
	}
}

func overlayFlags(cfg *Config, f FlagOverrides) {
	set := func(dst *string, src *string) {
		if src != nil && *src != "" {
			*dst = *src
		}
	}
	set(&cfg.ListenAddr, f.ListenAddr)
	set(&cfg.PublicOrigin, f.PublicOrigin)
	set(&cfg.Logging.Level, f.LoggingLevel)
	set(&cfg.Logging.Format, f.LoggingFormat)
	set(&cfg.Store.Driver, f.StoreDriver)
	set(&cfg.Store.DataDir, f.DataDir)
	set(&cfg.Cache.Driver, f.CacheDriver)
}
