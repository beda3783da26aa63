// Package config loads runtime settings from an optional TOML file with
// environment variable overrides. A missing file is not an error; every
// setting has a usable default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full runtime configuration.
type Config struct {
	Logging  LoggingConfig  `toml:"logging"`
	Events   EventsConfig   `toml:"events"`
	Pipes    PipesConfig    `toml:"pipes"`
	Shutdown ShutdownConfig `toml:"shutdown"`
	Journal  JournalConfig  `toml:"journal"`
	Kill     KillConfig     `toml:"kill"`
}

// LoggingConfig controls the logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`
}

// EventsConfig sizes the async event dispatcher.
type EventsConfig struct {
	QueueSize      int    `toml:"queue_size"`
	Workers        int    `toml:"workers"`
	HandlerTimeout string `toml:"handler_timeout"`
}

// Timeout returns the parsed handler timeout, falling back to the default
// when the configured value does not parse.
func (c EventsConfig) Timeout() time.Duration {
	return parseDuration(c.HandlerTimeout, 5*time.Second)
}

// PipesConfig sizes the per-pipe in-process buffers.
type PipesConfig struct {
	BufferSize int `toml:"buffer_size"`
}

// ShutdownConfig controls graceful termination of live children.
type ShutdownConfig struct {
	// Grace is how long children get between SIGTERM and SIGKILL.
	Grace string `toml:"grace"`
}

// GraceDuration returns the parsed grace period, falling back to the
// default when the configured value does not parse.
func (c ShutdownConfig) GraceDuration() time.Duration {
	return parseDuration(c.Grace, 5*time.Second)
}

// JournalConfig controls the lifecycle journal.
type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// KillConfig sets signal defaults.
type KillConfig struct {
	// DefaultSignal is the signal name used when none is given, with or
	// without the SIG prefix.
	DefaultSignal string `toml:"default_signal"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Logging:  LoggingConfig{Level: "info"},
		Events:   EventsConfig{QueueSize: 1024, Workers: 4, HandlerTimeout: "5s"},
		Pipes:    PipesConfig{BufferSize: 1 << 20},
		Shutdown: ShutdownConfig{Grace: "5s"},
		Journal:  JournalConfig{Enabled: false, Path: "procbus.jsonl"},
		Kill:     KillConfig{DefaultSignal: "TERM"},
	}
}

// Load reads the TOML file at path, applies PROCBUS_* environment
// overrides and normalizes the result. An empty path or a missing file
// yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return Default(), fmt.Errorf("config: parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// No file, defaults apply.
		default:
			return Default(), fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg.normalize()
	return cfg, nil
}

// applyEnv overrides settings from PROCBUS_* environment variables.
// Values that fail to parse are ignored.
func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("PROCBUS_LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	if v, ok := os.LookupEnv("PROCBUS_QUEUE_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Events.QueueSize = n
		}
	}
	if v, ok := os.LookupEnv("PROCBUS_WORKERS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Events.Workers = n
		}
	}
	if v, ok := os.LookupEnv("PROCBUS_HANDLER_TIMEOUT"); ok {
		cfg.Events.HandlerTimeout = v
	}
	if v, ok := os.LookupEnv("PROCBUS_PIPE_BUFFER"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipes.BufferSize = n
		}
	}
	if v, ok := os.LookupEnv("PROCBUS_SHUTDOWN_GRACE"); ok {
		cfg.Shutdown.Grace = v
	}
	if v, ok := os.LookupEnv("PROCBUS_JOURNAL"); ok {
		cfg.Journal.Enabled = true
		cfg.Journal.Path = v
	}
	if v, ok := os.LookupEnv("PROCBUS_KILL_SIGNAL"); ok {
		cfg.Kill.DefaultSignal = v
	}
}

// normalize clamps sizes to sane minimums and fills empty strings with
// defaults.
func (c *Config) normalize() {
	def := Default()
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Events.QueueSize < 1 {
		c.Events.QueueSize = def.Events.QueueSize
	}
	if c.Events.Workers < 1 {
		c.Events.Workers = def.Events.Workers
	}
	if c.Pipes.BufferSize < 4096 {
		c.Pipes.BufferSize = def.Pipes.BufferSize
	}
	if c.Journal.Path == "" {
		c.Journal.Path = def.Journal.Path
	}
	if c.Kill.DefaultSignal == "" {
		c.Kill.DefaultSignal = def.Kill.DefaultSignal
	}
}

// parseDuration parses s, returning fallback for empty or invalid input.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
