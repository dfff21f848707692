// Package config loads and validates the service configuration.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration for the shopchat service.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Search  SearchConfig  `yaml:"search"`
	Relay   RelayConfig   `yaml:"relay"`
	Session SessionConfig `yaml:"session"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LLMConfig struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	MaxTokens  int    `yaml:"max_tokens"`
	MaxRetries int    `yaml:"max_retries"`
}

type SearchConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Timeout      string `yaml:"timeout"`
	DefaultLimit int    `yaml:"default_limit"`
}

// TimeoutDuration parses the request timeout. Validate guarantees the
// value parses.
func (c SearchConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

type RelayConfig struct {
	// TTL bounds how long an unspent attachment token is kept. Empty
	// disables sweeping.
	TTL           string `yaml:"ttl"`
	SweepInterval string `yaml:"sweep_interval"`
}

// TTLDuration parses the token retention window. Zero means no sweep.
func (c RelayConfig) TTLDuration() time.Duration {
	if c.TTL == "" {
		return 0
	}
	d, _ := time.ParseDuration(c.TTL)
	return d
}

// SweepIntervalDuration parses the sweep cadence.
func (c RelayConfig) SweepIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.SweepInterval)
	return d
}

type SessionConfig struct {
	// HistoryLimit caps how many messages are replayed to the model per
	// turn. -1 replays the full stored history; zero or absent takes the
	// default.
	HistoryLimit int `yaml:"history_limit"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, merges, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with all defaults applied and no credentials.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.Search.Timeout == "" {
		cfg.Search.Timeout = "30s"
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 20
	}
	if cfg.Relay.SweepInterval == "" {
		cfg.Relay.SweepInterval = "1m"
	}
	if cfg.Session.HistoryLimit == 0 {
		cfg.Session.HistoryLimit = 100
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks invariants that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.LLM.Provider != "anthropic" {
		return fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not valid", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format %q is not valid", c.Logging.Format)
	}
	if _, err := time.ParseDuration(c.Search.Timeout); err != nil {
		return fmt.Errorf("search.timeout %q is not a valid duration", c.Search.Timeout)
	}
	if c.Relay.TTL != "" {
		d, err := time.ParseDuration(c.Relay.TTL)
		if err != nil || d < 0 {
			return fmt.Errorf("relay.ttl %q is not a valid duration", c.Relay.TTL)
		}
	}
	if _, err := time.ParseDuration(c.Relay.SweepInterval); err != nil {
		return fmt.Errorf("relay.sweep_interval %q is not a valid duration", c.Relay.SweepInterval)
	}
	if c.Session.HistoryLimit < -1 {
		return fmt.Errorf("session.history_limit %d is not valid, use -1 for unlimited", c.Session.HistoryLimit)
	}
	return nil
}
