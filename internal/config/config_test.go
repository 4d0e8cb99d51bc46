package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Engine.VerifyCacheCapacity != 10000 {
		t.Errorf("verify_cache_capacity = %d, want 10000", cfg.Engine.VerifyCacheCapacity)
	}
	if cfg.Engine.ExecuteTimeout != 5*time.Second {
		t.Errorf("execute_timeout = %v, want 5s", cfg.Engine.ExecuteTimeout)
	}
	if cfg.Engine.VerifyBaseline != 10*time.Second {
		t.Errorf("verify_baseline = %v, want 10s", cfg.Engine.VerifyBaseline)
	}
	if cfg.Engine.GasMinETH != 0.001 || cfg.Engine.GasMaxETH != 0.005 {
		t.Errorf("gas range = [%v, %v], want [0.001, 0.005]", cfg.Engine.GasMinETH, cfg.Engine.GasMaxETH)
	}
	if cfg.Engine.RetentionDays != 0 {
		t.Errorf("retention_days = %d, want 0 (keep forever)", cfg.Engine.RetentionDays)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
logging:
  level: debug
  format: text
engine:
  execute_timeout: 2s
  verify_cache_capacity: 500
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v, want debug/text", cfg.Logging)
	}
	if cfg.Engine.ExecuteTimeout != 2*time.Second {
		t.Errorf("execute_timeout = %v, want 2s", cfg.Engine.ExecuteTimeout)
	}
	if cfg.Engine.VerifyCacheCapacity != 500 {
		t.Errorf("verify_cache_capacity = %d, want 500", cfg.Engine.VerifyCacheCapacity)
	}
	// Unset keys keep their defaults.
	if cfg.Engine.VerifyBaseline != 10*time.Second {
		t.Errorf("verify_baseline = %v, want default 10s", cfg.Engine.VerifyBaseline)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load of a missing file should fail")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("GRID_LOGGING_LEVEL", "warn")
	t.Setenv("GRID_ENGINE_EXECUTE_TIMEOUT", "1s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("logging.level = %q, want env override warn", cfg.Logging.Level)
	}
	if cfg.Engine.ExecuteTimeout != time.Second {
		t.Errorf("execute_timeout = %v, want env override 1s", cfg.Engine.ExecuteTimeout)
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"zero cache", func(c *Config) { c.Engine.VerifyCacheCapacity = 0 }},
		{"zero timeout", func(c *Config) { c.Engine.ExecuteTimeout = 0 }},
		{"negative delay", func(c *Config) { c.Engine.ExecuteDelay = -time.Second }},
		{"negative retention", func(c *Config) { c.Engine.RetentionDays = -1 }},
		{"zero gas min", func(c *Config) { c.Engine.GasMinETH = 0 }},
		{"inverted gas range", func(c *Config) { c.Engine.GasMinETH = 0.01; c.Engine.GasMaxETH = 0.001 }},
		{"zero baseline", func(c *Config) { c.Engine.VerifyBaseline = 0 }},
		{"stats ttl too long", func(c *Config) { c.Engine.StatsTTL = 10 * time.Second }},
		{"zero event buffer", func(c *Config) { c.Engine.EventBuffer = 0 }},
		{"archive without path", func(c *Config) { c.Archive.Enabled = true; c.Archive.Path = "" }},
		{"metrics without addr", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Addr = "" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted an invalid config")
			}
		})
	}
}
