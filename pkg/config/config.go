// Package config loads the blemon YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemon/ingest"
	"github.com/srg/blemon/internal/reset"
	"github.com/srg/blemon/internal/sensor"
	"github.com/srg/blemon/internal/webhook"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPath overrides the configuration file location.
	EnvPath = "BLEMON_CONFIG"
	// DefaultPath is used when EnvPath is unset.
	DefaultPath = "blemon.yaml"
)

// Supported platform backends.
const (
	BackendBlueZ = "bluez"
	BackendHCI   = "hci"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// ParseLogLevel accepts debug, info, warn and error. Empty means info.
func ParseLogLevel(s string) (logrus.Level, error) {
	switch s {
	case "debug":
		return logrus.DebugLevel, nil
	case "", "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
	}
}

// Config holds application configuration
type Config struct {
	LogLevel     string `yaml:"log_level" default:"info"`
	Backend      string `yaml:"backend" default:"bluez"`
	Adapter      string `yaml:"adapter"`
	ResetOnStart bool   `yaml:"reset_on_start" default:"true"`

	Discovery Discovery        `yaml:"discovery"`
	Retry     Retry            `yaml:"retry"`
	Reset     reset.Commands   `yaml:"reset"`
	Webhook   webhook.Config   `yaml:"webhook"`
	Sensors   []sensor.Binding `yaml:"sensors"`
}

type Discovery struct {
	Window   time.Duration `yaml:"window" default:"30s"`
	Cooldown time.Duration `yaml:"cooldown" default:"500ms"`
	// ReadyTimeout bounds how long the sink waits for discovery; zero waits forever.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

type Retry struct {
	Budget         int                     `yaml:"budget" default:"3"`
	ResetOnSuccess bool                    `yaml:"reset_on_success"`
	StaleWatches   ingest.StaleWatchPolicy `yaml:"stale_watches" default:"keep"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Path returns the configuration file location.
func Path() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads, parses and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	for i := range cfg.Sensors {
		cfg.Sensors[i].ApplyDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration before start.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return invalid("log_level %q, want debug, info, warn or error", c.LogLevel)
	}
	switch c.Backend {
	case BackendBlueZ, BackendHCI:
	default:
		return invalid("backend %q, want %s or %s", c.Backend, BackendBlueZ, BackendHCI)
	}

	if c.Discovery.Window <= 0 || c.Discovery.Cooldown <= 0 {
		return invalid("discovery window and cooldown must be positive")
	}
	if c.Discovery.ReadyTimeout < 0 {
		return invalid("discovery.ready_timeout must not be negative")
	}
	if c.Retry.Budget < 0 {
		return invalid("retry.budget must not be negative")
	}
	switch c.Retry.StaleWatches {
	case ingest.KeepWatches, ingest.InvalidateWatches:
	default:
		return invalid("retry.stale_watches %q", c.Retry.StaleWatches)
	}
	if c.Reset.SettleDelay < 0 || c.Reset.PowerDelay < 0 {
		return invalid("reset delays must not be negative")
	}
	if c.Webhook.Timeout <= 0 || c.Webhook.QueueSize <= 0 || c.Webhook.Workers <= 0 {
		return invalid("webhook timeout, queue_size and workers must be positive")
	}

	if len(c.Sensors) == 0 {
		return invalid("no sensors configured")
	}
	if _, err := sensor.NewBindings(c.Sensors); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Bindings indexes the configured sensors.
func (c *Config) Bindings() (*sensor.Bindings, error) {
	return sensor.NewBindings(c.Sensors)
}

// EngineOptions maps the configuration onto engine options restricted to
// the configured sensors.
func (c *Config) EngineOptions() ingest.Options {
	opts := ingest.DefaultOptions()
	opts.Adapter = c.Adapter
	opts.DiscoveryWindow = c.Discovery.Window
	opts.Cooldown = c.Discovery.Cooldown
	opts.RetryBudget = c.Retry.Budget
	opts.ResetOnSuccess = c.Retry.ResetOnSuccess
	opts.ResetOnStart = c.ResetOnStart
	opts.StaleWatches = c.Retry.StaleWatches
	for _, s := range c.Sensors {
		opts.AllowList = append(opts.AllowList, s.MacAddress)
	}
	return opts
}

// WebhookConfig returns the sink settings.
func (c *Config) WebhookConfig() webhook.Config {
	wc := c.Webhook
	wc.ReadyTimeout = c.Discovery.ReadyTimeout
	return wc
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, _ := ParseLogLevel(c.LogLevel)
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
