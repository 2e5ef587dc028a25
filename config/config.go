package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"collab-server/collab"
)

// Config represents the complete server configuration. Secrets and storage
// backends stay in the environment; the file only carries tuning knobs.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Collab CollabConfig `yaml:"collab"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`
}

// CollabConfig contains collaboration tuning parameters
type CollabConfig struct {
	LockTTLMinutes        int `yaml:"lock_ttl_minutes"`
	PresenceMaxAgeSeconds int `yaml:"presence_max_age_seconds"`
	ReapIntervalSeconds   int `yaml:"reap_interval_seconds"`
	StreamGraceSeconds    int `yaml:"stream_grace_seconds"`
	EventBuffer           int `yaml:"event_buffer"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:   ":3002",
			LogLevel: "info",
		},
		Collab: CollabConfig{
			LockTTLMinutes:        30,
			PresenceMaxAgeSeconds: 60,
			ReapIntervalSeconds:   15,
			StreamGraceSeconds:    5,
			EventBuffer:           64,
		},
	}
}

// Load reads and parses the configuration file. An empty path yields the
// defaults; keys absent from the file keep their default values.
func Load(path string) (*Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Collab.Validate(); err != nil {
		return fmt.Errorf("collab config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Listen == "" {
		return fmt.Errorf("listen cannot be empty")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[s.LogLevel] {
		return fmt.Errorf("log_level must be one of [trace, debug, info, warn, error], got '%s'", s.LogLevel)
	}

	return nil
}

// Validate validates collaboration tuning
func (c *CollabConfig) Validate() error {
	if c.LockTTLMinutes < 1 {
		return fmt.Errorf("lock_ttl_minutes must be at least 1, got %d", c.LockTTLMinutes)
	}

	if c.PresenceMaxAgeSeconds < 1 {
		return fmt.Errorf("presence_max_age_seconds must be at least 1, got %d", c.PresenceMaxAgeSeconds)
	}

	if c.ReapIntervalSeconds < 1 {
		return fmt.Errorf("reap_interval_seconds must be at least 1, got %d", c.ReapIntervalSeconds)
	}

	if c.StreamGraceSeconds < 1 {
		return fmt.Errorf("stream_grace_seconds must be at least 1, got %d", c.StreamGraceSeconds)
	}

	if c.EventBuffer < 1 {
		return fmt.Errorf("event_buffer must be at least 1, got %d", c.EventBuffer)
	}

	return nil
}

// GetLockTTL returns the lock TTL as a time.Duration
func (c *CollabConfig) GetLockTTL() time.Duration {
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

// GetPresenceMaxAge returns the presence staleness bound as a time.Duration
func (c *CollabConfig) GetPresenceMaxAge() time.Duration {
	return time.Duration(c.PresenceMaxAgeSeconds) * time.Second
}

// GetReapInterval returns the reaper period as a time.Duration
func (c *CollabConfig) GetReapInterval() time.Duration {
	return time.Duration(c.ReapIntervalSeconds) * time.Second
}

// GetStreamGrace returns the post-stream retention window as a time.Duration
func (c *CollabConfig) GetStreamGrace() time.Duration {
	return time.Duration(c.StreamGraceSeconds) * time.Second
}

// Settings converts the tuning section into service settings.
func (c *CollabConfig) Settings() collab.Settings {
	return collab.Settings{
		LockTTL:        c.GetLockTTL(),
		PresenceMaxAge: c.GetPresenceMaxAge(),
		ReapInterval:   c.GetReapInterval(),
		StreamGrace:    c.GetStreamGrace(),
		EventBuffer:    c.EventBuffer,
	}
}
