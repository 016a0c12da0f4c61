package cfg_test

import (
	"strings"
	"testing"
	"time"

	"github.com/kinship-app/kinship/internal/platform/cfg"
)

type driverConfig struct {
	Address string        `mapstructure:"address"`
	DB      int           `mapstructure:"db"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func (c *driverConfig) ApplyDefaults() {
	if c.Address == "" {
		c.Address = "localhost:6379"
	}
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Second
	}
}

func TestDecode_AppliesDefaults(t *testing.T) {
	var c driverConfig
	if err := cfg.Decode(map[string]any{"db": 2}, &c); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if c.Address != "localhost:6379" {
		t.Errorf("expected default address, got %q", c.Address)
	}
	if c.DB != 2 {
		t.Errorf("expected db 2, got %d", c.DB)
	}
	if c.Timeout != 3*time.Second {
		t.Errorf("expected default timeout, got %v", c.Timeout)
	}
}

func TestDecode_WeakTypesAndDurations(t *testing.T) {
	var c driverConfig
	in := map[string]any{"address": "cache:6379", "db": "4", "timeout": "250ms"}
	if err := cfg.Decode(in, &c); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if c.DB != 4 || c.Timeout != 250*time.Millisecond || c.Address != "cache:6379" {
		t.Errorf("unexpected decode result: %+v", c)
	}
}

func TestDecodeWithUnused(t *testing.T) {
	var c driverConfig
	unused, err := cfg.DecodeWithUnused(map[string]any{"address": "x", "zeta": 1, "alpha": 2}, &c)
	if err != nil {
		t.Fatalf("DecodeWithUnused failed: %v", err)
	}
	if len(unused) != 2 || unused[0] != "alpha" || unused[1] != "zeta" {
		t.Errorf("expected sorted [alpha zeta], got %v", unused)
	}
}

func TestDecodeStrict(t *testing.T) {
	var c driverConfig
	err := cfg.DecodeStrict(map[string]any{"adress": "typo"}, &c)
	if err == nil || !strings.Contains(err.Error(), "adress") {
		t.Fatalf("expected unused key error naming adress, got %v", err)
	}
	if err := cfg.DecodeStrict(nil, &c); err != nil {
		t.Errorf("nil input should decode cleanly, got %v", err)
	}
}
