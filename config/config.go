// Package config loads jetstream's YAML deployment configuration: which
// listeners to bind, the Stream buffering tunables, and the logging level.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML document.
type Config struct {
	Listeners []ListenerConfig `yaml:"listeners"`
	Stream    StreamConfig     `yaml:"stream"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// ListenerConfig names one socket to bind: network is "tcp" or "unix",
// address is "host:port" or a filesystem path respectively.
type ListenerConfig struct {
	Network string `yaml:"network"`
	Address string `yaml:"address"`
}

// StreamConfig carries the Stream buffering defaults (spec default: 100
// MiB / 4 KiB); zero values are replaced by those defaults in Load.
type StreamConfig struct {
	MaxBufferSize int `yaml:"max_buffer_size"`
	ReadChunkSize int `yaml:"read_chunk_size"`
}

// LoggingConfig selects the slog level; Level must parse via
// slog.Level.UnmarshalText ("debug", "info", "warn", "error").
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ParseLevel parses Logging.Level into a slog.Level, defaulting to Info on
// an empty or unrecognized string.
func (l LoggingConfig) ParseLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

const (
	defaultMaxBufferSize = 100 * 1024 * 1024
	defaultReadChunkSize = 4096
	defaultLoggingLevel  = "info"
)

// Load reads and validates a Config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Stream.MaxBufferSize == 0 {
		c.Stream.MaxBufferSize = defaultMaxBufferSize
	}
	if c.Stream.ReadChunkSize == 0 {
		c.Stream.ReadChunkSize = defaultReadChunkSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLoggingLevel
	}
}

func (c *Config) validate() error {
	if len(c.Listeners) == 0 {
		return fmt.Errorf("at least one listener is required")
	}
	for i, l := range c.Listeners {
		switch l.Network {
		case "tcp", "unix":
		default:
			return fmt.Errorf("listeners[%d]: network must be tcp or unix, got %q", i, l.Network)
		}
		if l.Address == "" {
			return fmt.Errorf("listeners[%d]: address is required", i)
		}
	}
	if c.Stream.MaxBufferSize <= 0 {
		return fmt.Errorf("stream.max_buffer_size must be positive")
	}
	if c.Stream.ReadChunkSize <= 0 {
		return fmt.Errorf("stream.read_chunk_size must be positive")
	}
	return nil
}
