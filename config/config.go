// Package config loads daemon configuration from an optional YAML file with
// environment variable overrides. Environment variables use the AGENTGRID
// prefix and win over file values, so containerized deployments can tune a
// single knob without shipping a new file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces the environment overrides (e.g. AGENTGRID_SERVER_ADDR).
const EnvPrefix = "AGENTGRID"

// Duration wraps time.Duration so "30s" style values work in both YAML and
// environment variables.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(value string) error {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig tunes the HTTP control surface.
type ServerConfig struct {
	Addr            string   `yaml:"addr" envconfig:"SERVER_ADDR"`
	AllowedOrigins  []string `yaml:"allowed_origins" envconfig:"SERVER_ALLOWED_ORIGINS"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" envconfig:"SERVER_SHUTDOWN_TIMEOUT"`
}

// LoggingConfig tunes structured logging output.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"`
}

// BusConfig tunes the event bus.
type BusConfig struct {
	HistoryCap int `yaml:"history_cap" envconfig:"BUS_HISTORY_CAP"`
}

// RouterConfig tunes message routing and the agent registry.
type RouterConfig struct {
	QueueCapacity     int      `yaml:"queue_capacity" envconfig:"ROUTER_QUEUE_CAPACITY"`
	DefaultTimeout    Duration `yaml:"default_timeout" envconfig:"ROUTER_DEFAULT_TIMEOUT"`
	CacheTTL          Duration `yaml:"cache_ttl" envconfig:"ROUTER_CACHE_TTL"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval" envconfig:"ROUTER_HEARTBEAT_INTERVAL"`
	HeartbeatTimeout  Duration `yaml:"heartbeat_timeout" envconfig:"ROUTER_HEARTBEAT_TIMEOUT"`
}

// WorkflowConfig tunes workflow execution.
type WorkflowConfig struct {
	StepAttempts int `yaml:"step_attempts" envconfig:"WORKFLOW_STEP_ATTEMPTS"`
}

// ResilienceConfig tunes the shared resilience primitives.
type ResilienceConfig struct {
	BreakerThreshold   int      `yaml:"breaker_threshold" envconfig:"BREAKER_THRESHOLD"`
	BreakerRecovery    Duration `yaml:"breaker_recovery" envconfig:"BREAKER_RECOVERY"`
	RateLimit          int      `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	RateWindow         Duration `yaml:"rate_window" envconfig:"RATE_WINDOW"`
	RateBlockThreshold int      `yaml:"rate_block_threshold" envconfig:"RATE_BLOCK_THRESHOLD"`
}

// Config is the full daemon configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Bus        BusConfig        `yaml:"bus"`
	Router     RouterConfig     `yaml:"router"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Bus: BusConfig{
			HistoryCap: 100,
		},
		Router: RouterConfig{
			QueueCapacity:     1024,
			DefaultTimeout:    Duration(30 * time.Second),
			CacheTTL:          Duration(30 * time.Second),
			HeartbeatInterval: Duration(5 * time.Second),
			HeartbeatTimeout:  Duration(30 * time.Second),
		},
		Workflow: WorkflowConfig{
			StepAttempts: 3,
		},
		Resilience: ResilienceConfig{
			BreakerThreshold:   5,
			BreakerRecovery:    Duration(30 * time.Second),
			RateLimit:          100,
			RateWindow:         Duration(time.Minute),
			RateBlockThreshold: 5,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path (if
// path is non-empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Router.QueueCapacity < 0 {
		return fmt.Errorf("router.queue_capacity must not be negative")
	}
	if c.Router.DefaultTimeout <= 0 {
		return fmt.Errorf("router.default_timeout must be positive")
	}
	if c.Router.HeartbeatInterval <= 0 || c.Router.HeartbeatTimeout <= 0 {
		return fmt.Errorf("router heartbeat settings must be positive")
	}
	if c.Workflow.StepAttempts < 1 {
		return fmt.Errorf("workflow.step_attempts must be at least 1")
	}
	if c.Resilience.BreakerThreshold < 1 {
		return fmt.Errorf("resilience.breaker_threshold must be at least 1")
	}
	if c.Resilience.RateLimit < 1 {
		return fmt.Errorf("resilience.rate_limit must be at least 1")
	}
	return nil
}
