// Package config loads coordkit runtime configuration from TOML or YAML files
// with COORDKIT_* environment overrides.
//
// # Precedence
//
// Defaults, then the file (if any), then environment variables:
//
//	COORDKIT_BUS_HISTORY_SIZE=500
//	COORDKIT_TASKS_MAX_CONCURRENT=8
//	COORDKIT_TASKS_POLL_INTERVAL=250ms
//	COORDKIT_LOG_LEVEL=debug
//	COORDKIT_TELEMETRY_ENABLED=true
//	COORDKIT_TELEMETRY_ENDPOINT=localhost:4317
//	COORDKIT_SHUTDOWN_TIMEOUT=10s
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/coordkit/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "COORDKIT_"

// ErrInvalidConfig indicates a configuration value out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete runtime configuration.
type Config struct {
	Bus       BusConfig       `toml:"bus" yaml:"bus" envPrefix:"BUS_"`
	Tasks     TasksConfig     `toml:"tasks" yaml:"tasks" envPrefix:"TASKS_"`
	Logging   LoggingConfig   `toml:"logging" yaml:"logging" envPrefix:"LOG_"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Shutdown  ShutdownConfig  `toml:"shutdown" yaml:"shutdown" envPrefix:"SHUTDOWN_"`
}

// BusConfig configures the message bus.
type BusConfig struct {
	HistorySize int `toml:"history_size" yaml:"history_size" env:"HISTORY_SIZE"`
}

// TasksConfig configures the task manager and its polling loop.
type TasksConfig struct {
	WorkerID      string        `toml:"worker_id" yaml:"worker_id" env:"WORKER_ID"`
	MaxConcurrent int           `toml:"max_concurrent" yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	PollInterval  time.Duration `toml:"poll_interval" yaml:"poll_interval" env:"POLL_INTERVAL"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `toml:"level" yaml:"level" env:"LEVEL"`
}

// TelemetryConfig configures OTLP tracing. Disabled tracing uses a no-op tracer.
type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled" yaml:"enabled" env:"ENABLED"`
	ServiceName string `toml:"service_name" yaml:"service_name" env:"SERVICE_NAME"`
	Endpoint    string `toml:"endpoint" yaml:"endpoint" env:"ENDPOINT"`
	Protocol    string `toml:"protocol" yaml:"protocol" env:"PROTOCOL"`
	Insecure    bool   `toml:"insecure" yaml:"insecure" env:"INSECURE"`
	Debug       bool   `toml:"debug" yaml:"debug" env:"DEBUG"`
}

// ShutdownConfig configures graceful shutdown.
type ShutdownConfig struct {
	Timeout time.Duration `toml:"timeout" yaml:"timeout" env:"TIMEOUT"`
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		Bus: BusConfig{
			HistorySize: 1000,
		},
		Tasks: TasksConfig{
			WorkerID:      "task-manager",
			MaxConcurrent: 4,
			PollInterval:  100 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "coordkit",
			Protocol:    "grpc",
		},
		Shutdown: ShutdownConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result. The format is chosen by extension:
// .toml, .yaml or .yml.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return fmt.Errorf("%w: unsupported config format %q", ErrInvalidConfig, ext)
	}
	return nil
}

// ApplyEnv overrides cfg with COORDKIT_* environment variables.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Bus.HistorySize <= 0 {
		errs = append(errs, fmt.Errorf("%w: bus.history_size must be positive", ErrInvalidConfig))
	}
	if c.Tasks.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("%w: tasks.max_concurrent must be positive", ErrInvalidConfig))
	}
	if c.Tasks.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: tasks.poll_interval must be positive", ErrInvalidConfig))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("%w: logging.level: %v", ErrInvalidConfig, err))
	}
	if c.Telemetry.Enabled {
		switch c.Telemetry.Protocol {
		case "grpc", "http":
		default:
			errs = append(errs, fmt.Errorf("%w: telemetry.protocol must be grpc or http", ErrInvalidConfig))
		}
	}
	if c.Shutdown.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: shutdown.timeout must be positive", ErrInvalidConfig))
	}
	return errors.Join(errs...)
}

// WriteTOML encodes the configuration as TOML.
func (c Config) WriteTOML(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
