package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors Config for file decoding. Pointer fields distinguish
// "absent" from zero so only keys present in the file override.
type fileConfig struct {
	Server struct {
		Port            *string `yaml:"port" toml:"port"`
		Host            *string `yaml:"host" toml:"host"`
		ShutdownTimeout *string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	} `yaml:"server" toml:"server"`
	Session struct {
		GracePeriod    *string `yaml:"grace_period" toml:"grace_period"`
		SweepInterval  *string `yaml:"sweep_interval" toml:"sweep_interval"`
		MaxRunDuration *string `yaml:"max_run_duration" toml:"max_run_duration"`
	} `yaml:"session" toml:"session"`
	Executor struct {
		Kind         *string `yaml:"kind" toml:"kind"`
		DefaultModel *string `yaml:"default_model" toml:"default_model"`
		Address      *string `yaml:"address" toml:"address"`
		URL          *string `yaml:"url" toml:"url"`
		Steps        *int    `yaml:"steps" toml:"steps"`
		StepDelay    *string `yaml:"step_delay" toml:"step_delay"`
	} `yaml:"executor" toml:"executor"`
	Stream struct {
		PingInterval *string `yaml:"ping_interval" toml:"ping_interval"`
		WriteTimeout *string `yaml:"write_timeout" toml:"write_timeout"`
		ReadLimit    *int64  `yaml:"read_limit" toml:"read_limit"`
	} `yaml:"stream" toml:"stream"`
	Logging struct {
		Level       *string `yaml:"level" toml:"level"`
		Development *bool   `yaml:"development" toml:"development"`
	} `yaml:"logging" toml:"logging"`
	RateLimit struct {
		RequestsPerSecond *int  `yaml:"requests_per_second" toml:"requests_per_second"`
		Burst             *int  `yaml:"burst" toml:"burst"`
		Enabled           *bool `yaml:"enabled" toml:"enabled"`
	} `yaml:"rate_limit" toml:"rate_limit"`
}

// overlayFile decodes path and applies every key it sets.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	case ".toml":
		err = toml.Unmarshal(data, &fc)
	default:
		return fmt.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return fc.apply(c)
}

func (fc *fileConfig) apply(c *Config) error {
	setString(&c.Server.Port, fc.Server.Port)
	setString(&c.Server.Host, fc.Server.Host)
	setString(&c.Executor.Kind, fc.Executor.Kind)
	setString(&c.Executor.DefaultModel, fc.Executor.DefaultModel)
	setString(&c.Executor.Address, fc.Executor.Address)
	setString(&c.Executor.URL, fc.Executor.URL)
	setString(&c.Logging.Level, fc.Logging.Level)

	if fc.Executor.Steps != nil {
		c.Executor.Steps = *fc.Executor.Steps
	}
	if fc.Stream.ReadLimit != nil {
		c.Stream.ReadLimit = *fc.Stream.ReadLimit
	}
	if fc.Logging.Development != nil {
		c.Logging.Development = *fc.Logging.Development
	}
	if fc.RateLimit.RequestsPerSecond != nil {
		c.RateLimit.RequestsPerSecond = *fc.RateLimit.RequestsPerSecond
	}
	if fc.RateLimit.Burst != nil {
		c.RateLimit.Burst = *fc.RateLimit.Burst
	}
	if fc.RateLimit.Enabled != nil {
		c.RateLimit.Enabled = *fc.RateLimit.Enabled
	}

	durations := []struct {
		key string
		src *string
		dst *time.Duration
	}{
		{"server.shutdown_timeout", fc.Server.ShutdownTimeout, &c.Server.ShutdownTimeout},
		{"session.grace_period", fc.Session.GracePeriod, &c.Session.GracePeriod},
		{"session.sweep_interval", fc.Session.SweepInterval, &c.Session.SweepInterval},
		{"session.max_run_duration", fc.Session.MaxRunDuration, &c.Session.MaxRunDuration},
		{"executor.step_delay", fc.Executor.StepDelay, &c.Executor.StepDelay},
		{"stream.ping_interval", fc.Stream.PingInterval, &c.Stream.PingInterval},
		{"stream.write_timeout", fc.Stream.WriteTimeout, &c.Stream.WriteTimeout},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
