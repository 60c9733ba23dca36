package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete tracker configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Tracker TrackerConfig `yaml:"tracker"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains UDP server configuration
type ServerConfig struct {
	UDPPort     int    `yaml:"udp_port"`
	BindAddress string `yaml:"bind_address"`
	BufferSize  int    `yaml:"buffer_size"`
}

// TrackerConfig contains lobby tracking parameters
type TrackerConfig struct {
	Workers             int `yaml:"workers"`
	QueueSize           int `yaml:"queue_size"`
	LobbyTimeoutMinutes int `yaml:"lobby_timeout_minutes"`
	SweepSeconds        int `yaml:"sweep_seconds"`
	ResponseLimit       int `yaml:"response_limit"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			UDPPort:     21541,
			BindAddress: "0.0.0.0",
			BufferSize:  8192,
		},
		Tracker: TrackerConfig{
			Workers:             4,
			QueueSize:           256,
			LobbyTimeoutMinutes: 5,
			SweepSeconds:        15,
			ResponseLimit:       500,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Tracker.Validate(); err != nil {
		return fmt.Errorf("tracker config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	return nil
}

// Validate validates tracker configuration
func (t *TrackerConfig) Validate() error {
	if t.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", t.Workers)
	}

	if t.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", t.QueueSize)
	}

	if t.LobbyTimeoutMinutes < 1 {
		return fmt.Errorf("lobby_timeout_minutes must be at least 1, got %d", t.LobbyTimeoutMinutes)
	}

	if t.SweepSeconds < 1 {
		return fmt.Errorf("sweep_seconds must be at least 1, got %d", t.SweepSeconds)
	}

	if t.ResponseLimit < 1 {
		return fmt.Errorf("response_limit must be at least 1, got %d", t.ResponseLimit)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetLobbyTimeout returns the lobby timeout as a time.Duration
func (t *TrackerConfig) GetLobbyTimeout() time.Duration {
	return time.Duration(t.LobbyTimeoutMinutes) * time.Minute
}

// GetSweepInterval returns the expiry sweep interval as a time.Duration
func (t *TrackerConfig) GetSweepInterval() time.Duration {
	return time.Duration(t.SweepSeconds) * time.Second
}
