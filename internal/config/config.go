// Package config defines all configuration for the trading core.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// every field overridable via GRID_* environment variables. The file is
// optional: an empty path yields the defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// maxStatsTTL bounds how stale a cached analytics snapshot may be.
const maxStatsTTL = 5 * time.Second

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Notify  NotifyConfig  `mapstructure:"notify"`
}

// EngineConfig tunes the matching core and the simulated settlement chain.
//
//   - VerifyCacheCapacity: max entries in the verification LRU cache.
//   - ExecuteTimeout: hard deadline for one contract execution.
//   - ExecuteDelay: simulated chain latency per execution (0 disables).
//   - RetentionDays: evict completed/cancelled orders older than this;
//     0 keeps everything forever. Pending and matched orders are never evicted.
//   - GasMinETH / GasMaxETH: uniform range for simulated gas per execution.
//   - VerifyBaseline: reference latency that verification is measured against.
//   - StatsTTL: cache lifetime for analytics snapshots (max 5s).
//   - EventBuffer: engine event channel capacity; overflow drops events.
type EngineConfig struct {
	VerifyCacheCapacity int           `mapstructure:"verify_cache_capacity"`
	ExecuteTimeout      time.Duration `mapstructure:"execute_timeout"`
	ExecuteDelay        time.Duration `mapstructure:"execute_delay"`
	RetentionDays       int           `mapstructure:"retention_days"`
	GasMinETH           float64       `mapstructure:"gas_min_eth"`
	GasMaxETH           float64       `mapstructure:"gas_max_eth"`
	VerifyBaseline      time.Duration `mapstructure:"verify_baseline"`
	StatsTTL            time.Duration `mapstructure:"stats_ttl"`
	EventBuffer         int           `mapstructure:"event_buffer"`
}

// ArchiveConfig sets where terminal orders and contracts are persisted
// (SQLite database file). Disabled archives keep everything in memory only.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// NotifyConfig controls the in-process event fan-out.
type NotifyConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
}

// Load reads config from a YAML file with env var overrides
// (GRID_ENGINE_EXECUTE_TIMEOUT, GRID_LOGGING_LEVEL, ...). An empty path
// skips the file and returns defaults merged with the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("engine.verify_cache_capacity", 10000)
	v.SetDefault("engine.execute_timeout", "5s")
	v.SetDefault("engine.execute_delay", "25ms")
	v.SetDefault("engine.retention_days", 0)
	v.SetDefault("engine.gas_min_eth", 0.001)
	v.SetDefault("engine.gas_max_eth", 0.005)
	v.SetDefault("engine.verify_baseline", "10s")
	v.SetDefault("engine.stats_ttl", "2s")
	v.SetDefault("engine.event_buffer", 256)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.path", "data/gridtrade.db")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("notify.enabled", true)
	v.SetDefault("notify.buffer_size", 64)
}

// Default returns the built-in configuration, the same values Load yields
// with no file and no environment overrides.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults cannot fail to unmarshal; a failure here is a programmer error.
		panic(err)
	}
	return cfg
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	if c.Engine.VerifyCacheCapacity < 1 {
		return fmt.Errorf("engine.verify_cache_capacity must be >= 1")
	}
	if c.Engine.ExecuteTimeout <= 0 {
		return fmt.Errorf("engine.execute_timeout must be > 0")
	}
	if c.Engine.ExecuteDelay < 0 {
		return fmt.Errorf("engine.execute_delay must be >= 0")
	}
	if c.Engine.RetentionDays < 0 {
		return fmt.Errorf("engine.retention_days must be >= 0 (0 = keep forever)")
	}
	if c.Engine.GasMinETH <= 0 {
		return fmt.Errorf("engine.gas_min_eth must be > 0")
	}
	if c.Engine.GasMaxETH < c.Engine.GasMinETH {
		return fmt.Errorf("engine.gas_max_eth must be >= engine.gas_min_eth")
	}
	if c.Engine.VerifyBaseline <= 0 {
		return fmt.Errorf("engine.verify_baseline must be > 0")
	}
	if c.Engine.StatsTTL <= 0 || c.Engine.StatsTTL > maxStatsTTL {
		return fmt.Errorf("engine.stats_ttl must be in (0, %s]", maxStatsTTL)
	}
	if c.Engine.EventBuffer < 1 {
		return fmt.Errorf("engine.event_buffer must be >= 1")
	}
	if c.Archive.Enabled && c.Archive.Path == "" {
		return fmt.Errorf("archive.path is required when archive.enabled is true")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics.enabled is true")
	}
	if c.Notify.Enabled && c.Notify.BufferSize < 1 {
		return fmt.Errorf("notify.buffer_size must be >= 1 when notify.enabled is true")
	}
	return nil
}
