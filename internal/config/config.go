// Package config loads engine configuration from YAML with environment
// overrides, and watches the file for live-tunable changes.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/conductor-labs/delegate/internal/confidence"
)

// Config is the full engine configuration.
type Config struct {
	Confidence confidence.Config `mapstructure:"confidence"`

	// Resources maps resource type to ledger capacity.
	Resources map[string]int `mapstructure:"resources"`

	Redis struct {
		// Addr enables the Redis-backed pattern store when non-empty.
		Addr string `mapstructure:"addr"`
	} `mapstructure:"redis"`

	Journal struct {
		// DSN enables the Postgres outcome journal when non-empty.
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"journal"`

	Server struct {
		Port        int `mapstructure:"port"`
		MetricsPort int `mapstructure:"metrics_port"`
		HealthPort  int `mapstructure:"health_port"`
	} `mapstructure:"server"`

	RateLimit struct {
		// RequestsPerSecond of 0 disables API rate limiting.
		RequestsPerSecond float64 `mapstructure:"requests_per_second"`
		Burst             int     `mapstructure:"burst"`
	} `mapstructure:"rate_limit"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{
		Confidence: confidence.DefaultConfig(),
		Resources:  map[string]int{},
	}
	cfg.Server.Port = 8080
	cfg.Server.MetricsPort = 2112
	cfg.Server.HealthPort = 8081
	cfg.RateLimit.Burst = 10
	return cfg
}

// Load reads configuration from the given path, or from CONFIG_PATH when
// path is empty, then applies environment overrides and validates. A missing
// file yields defaults plus env overrides.
func Load(path string) (*Config, *viper.Viper, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	v := viper.New()
	cfg := Default()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Validate checks the configuration for internal consistency. Malformed
// confidence thresholds are fatal at setup, per the construction-time
// propagation policy.
func (c *Config) Validate() error {
	if err := c.Confidence.Validate(); err != nil {
		return err
	}
	for rt, capacity := range c.Resources {
		if capacity < 0 {
			return fmt.Errorf("%w: resource %q capacity must be >= 0, got %d",
				confidence.ErrInvalidConfig, rt, capacity)
		}
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: rate_limit.requests_per_second must be >= 0",
			confidence.ErrInvalidConfig)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if dsn := os.Getenv("JOURNAL_DSN"); dsn != "" {
		cfg.Journal.DSN = dsn
	}
	if p := os.Getenv("SERVER_PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			cfg.Server.Port = n
		}
	}
	if p := os.Getenv("METRICS_PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			cfg.Server.MetricsPort = n
		}
	}
	if p := os.Getenv("HEALTH_PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			cfg.Server.HealthPort = n
		}
	}
	if m := os.Getenv("MIN_EXECUTIONS"); m != "" {
		if n, err := strconv.Atoi(m); err == nil && n > 0 {
			cfg.Confidence.MinExecutions = n
		}
	}
}

// Watch re-reads the file on every change and calls onChange with the new
// configuration. A change that fails to parse or validate is logged and
// skipped; the engine keeps running on the previous configuration. Only
// live-tunable settings (confidence thresholds, ledger capacities) should be
// applied by onChange; structural settings need a restart.
func Watch(v *viper.Viper, logger *zap.Logger, onChange func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("config file changed", zap.String("file", e.Name))
		applyChange(v, logger, onChange)
	})
	v.WatchConfig()
}

// applyChange re-unmarshals the watched configuration and hands a valid
// result to onChange. Viper has already re-read the file by the time the
// change callback fires.
func applyChange(v *viper.Viper, logger *zap.Logger, onChange func(*Config)) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		logger.Warn("ignoring config change: unmarshal failed", zap.Error(err))
		return
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Warn("ignoring config change: validation failed", zap.Error(err))
		return
	}
	onChange(cfg)
}
