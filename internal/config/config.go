// Package config loads the mcptap server configuration file.
package config

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Journal JournalConfig `yaml:"journal"`
	Bus     BusConfig     `yaml:"bus"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig controls the HTTP/WS listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr renders the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// JournalConfig locates the sqlite journal.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// BusConfig tunes the fan-out bus.
type BusConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel maps the configured level name onto slog. Unknown names
// fall back to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "127.0.0.1", Port: 8787},
		Journal: JournalConfig{Path: "mcptap.db"},
		Bus:     BusConfig{QueueSize: 256},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads a YAML config file, expanding $ENV references. Unknown
// keys are rejected so typos surface at startup instead of silently
// using defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Bus.QueueSize <= 0 {
		return fmt.Errorf("bus.queue_size must be positive")
	}
	if c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required")
	}
	return nil
}
