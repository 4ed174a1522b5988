package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Executor kinds
const (
	ExecutorSimulated = "simulated"
	ExecutorGRPC      = "grpc"
	ExecutorHTTP      = "http"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Session   SessionConfig
	Executor  ExecutorConfig
	Stream    StreamConfig
	Logging   LogConfig
	RateLimit RateLimitConfig

	// File optionally names a YAML or TOML file overlaid on the environment.
	File string `envconfig:"CONFIG_FILE"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"API_PORT" default:"8000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// SessionConfig holds session lifecycle configuration.
type SessionConfig struct {
	GracePeriod    time.Duration `envconfig:"SESSION_GRACE_PERIOD" default:"5m"`
	SweepInterval  time.Duration `envconfig:"SESSION_SWEEP_INTERVAL" default:"30s"`
	MaxRunDuration time.Duration `envconfig:"MAX_RUN_DURATION" default:"10m"`
}

// ExecutorConfig selects and configures the automation executor.
type ExecutorConfig struct {
	Kind         string        `envconfig:"EXECUTOR_KIND" default:"simulated"`
	DefaultModel string        `envconfig:"LLM_MODEL" default:"gpt-4o"`
	Address      string        `envconfig:"EXECUTOR_ADDR" default:"localhost:50052"`
	URL          string        `envconfig:"EXECUTOR_URL" default:"http://localhost:8001"`
	Steps        int           `envconfig:"EXECUTOR_STEPS" default:"3"`
	StepDelay    time.Duration `envconfig:"EXECUTOR_STEP_DELAY" default:"250ms"`
}

// StreamConfig holds execution channel transport configuration.
type StreamConfig struct {
	PingInterval time.Duration `envconfig:"WS_PING_INTERVAL" default:"20s"`
	WriteTimeout time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"10s"`
	ReadLimit    int64         `envconfig:"WS_READ_LIMIT" default:"65536"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables, then overlays
// CONFIG_FILE when set.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	// PORT is honoured for platforms that inject it
	if _, ok := os.LookupEnv("API_PORT"); !ok {
		if port := os.Getenv("PORT"); port != "" {
			cfg.Server.Port = port
		}
	}
	if cfg.File != "" {
		if err := cfg.overlayFile(cfg.File); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
		},
		Session: SessionConfig{
			GracePeriod:    5 * time.Minute,
			SweepInterval:  30 * time.Second,
			MaxRunDuration: 10 * time.Minute,
		},
		Executor: ExecutorConfig{
			Kind:         ExecutorSimulated,
			DefaultModel: "gpt-4o",
			Address:      "localhost:50052",
			URL:          "http://localhost:8001",
			Steps:        3,
			StepDelay:    250 * time.Millisecond,
		},
		Stream: StreamConfig{
			PingInterval: 20 * time.Second,
			WriteTimeout: 10 * time.Second,
			ReadLimit:    64 * 1024,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("invalid config: port is required")
	}
	if c.Session.GracePeriod <= 0 {
		return fmt.Errorf("invalid config: session grace period must be positive, got %s", c.Session.GracePeriod)
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("invalid config: sweep interval must be positive, got %s", c.Session.SweepInterval)
	}
	if c.Session.MaxRunDuration <= 0 {
		return fmt.Errorf("invalid config: max run duration must be positive, got %s", c.Session.MaxRunDuration)
	}
	if c.Executor.DefaultModel == "" {
		return fmt.Errorf("invalid config: default model is required")
	}
	switch c.Executor.Kind {
	case ExecutorSimulated:
		if c.Executor.Steps < 0 {
			return fmt.Errorf("invalid config: executor steps must not be negative")
		}
	case ExecutorGRPC:
		if c.Executor.Address == "" {
			return fmt.Errorf("invalid config: EXECUTOR_ADDR is required for the grpc executor")
		}
	case ExecutorHTTP:
		if c.Executor.URL == "" {
			return fmt.Errorf("invalid config: EXECUTOR_URL is required for the http executor")
		}
	default:
		return fmt.Errorf("invalid config: unknown executor kind %q", c.Executor.Kind)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
