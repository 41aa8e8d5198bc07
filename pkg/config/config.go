// Package config provides configuration file support for ebspin.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/ebspin/pkg/retry"
	"github.com/cuemby/ebspin/pkg/waiter"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the binary looks for a config file when --config is not given
const DefaultPath = "/etc/ebspin/config.yaml"

// Config represents the ebspin configuration.
type Config struct {
	Retry   RetryConfig   `yaml:"retry"`
	Wait    WaitConfig    `yaml:"wait"`
	API     APIConfig     `yaml:"api"`
	Logging LoggingConfig `yaml:"logging"`
	Journal JournalConfig `yaml:"journal"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// RetryConfig configures the backoff around idempotent provider calls.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

// WaitConfig bounds the polling waits on resource state transitions.
type WaitConfig struct {
	Interval        time.Duration `yaml:"interval"`
	VolumeTimeout   time.Duration `yaml:"volume_timeout"`
	SnapshotTimeout time.Duration `yaml:"snapshot_timeout"`
	AttachTimeout   time.Duration `yaml:"attach_timeout"`
}

// APIConfig throttles calls to the provider API.
type APIConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// JournalConfig enables the local attach history. Empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig enables the node_exporter textfile export. Empty disables it.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// TracingConfig selects the span exporter: none or stdout.
type TracingConfig struct {
	Exporter string `yaml:"exporter"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Second,
			MaxInterval:     30 * time.Second,
			Multiplier:      2,
		},
		Wait: WaitConfig{
			Interval:        5 * time.Second,
			VolumeTimeout:   10 * time.Minute,
			SnapshotTimeout: 60 * time.Minute,
			AttachTimeout:   10 * time.Minute,
		},
		API: APIConfig{
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Tracing: TracingConfig{
			Exporter: "none",
		},
	}
}

// Load loads configuration from path.
// Returns default config if file doesn't exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every bound is usable.
func (c *Config) Validate() error {
	if err := c.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Wait.Interval <= 0 {
		return errors.New("invalid config: wait.interval must be positive")
	}
	if c.Wait.VolumeTimeout <= 0 || c.Wait.SnapshotTimeout <= 0 || c.Wait.AttachTimeout <= 0 {
		return errors.New("invalid config: wait timeouts must be positive")
	}
	if c.API.RequestsPerSecond <= 0 || c.API.Burst < 1 {
		return errors.New("invalid config: api.requests_per_second and api.burst must be positive")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid config: unknown logging.format %q", c.Logging.Format)
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("invalid config: unknown tracing.exporter %q", c.Tracing.Exporter)
	}
	return nil
}

// RetryPolicy converts the retry section into a policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     c.Retry.MaxAttempts,
		InitialInterval: c.Retry.InitialInterval,
		MaxInterval:     c.Retry.MaxInterval,
		Multiplier:      c.Retry.Multiplier,
	}
}

// VolumeWaiter bounds waits for volumes to become available.
func (c *Config) VolumeWaiter() waiter.Waiter {
	return waiter.New(c.Wait.VolumeTimeout, c.Wait.Interval)
}

// SnapshotWaiter bounds waits for snapshots to complete.
func (c *Config) SnapshotWaiter() waiter.Waiter {
	return waiter.New(c.Wait.SnapshotTimeout, c.Wait.Interval)
}

// AttachWaiter bounds waits for attachments to settle.
func (c *Config) AttachWaiter() waiter.Waiter {
	return waiter.New(c.Wait.AttachTimeout, c.Wait.Interval)
}
