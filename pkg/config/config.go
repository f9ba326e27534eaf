// Package config loads and validates the YAML session configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/chatloop-dev/chatloop/internal/toolhost"
)

// maxConfigSize bounds how much YAML we are willing to parse.
const maxConfigSize = 1 << 20

// Config represents the application configuration.
type Config struct {
	// API access
	OpenAIKey string `yaml:"openai_key"`
	BaseURL   string `yaml:"base_url"`

	// Model configuration
	Model             string  `yaml:"model"`
	SystemPrompt      string  `yaml:"system_prompt"`
	MaxTokens         int     `yaml:"max_tokens"`
	Temperature       float64 `yaml:"temperature"`
	MaxContextTokens  int     `yaml:"max_context_tokens"`
	RequestsPerMinute int     `yaml:"requests_per_minute"`

	// Snapshot storage
	Storage StorageConfig `yaml:"storage"`

	// Rate-limit retry behavior
	Retry RetryConfig `yaml:"retry"`

	// Tool providers launched at session start
	Providers []toolhost.ProviderConfig `yaml:"providers"`

	// Per-model pricing overrides
	Pricing []PricingOverride `yaml:"pricing"`

	// REPL history file; empty keeps history in memory only
	HistoryFile string `yaml:"history_file"`
}

// StorageConfig selects and configures the snapshot backend.
type StorageConfig struct {
	Backend       string `yaml:"backend"` // file, redis
	Dir           string `yaml:"dir"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// RetryConfig tunes the rate-limit retry loop.
type RetryConfig struct {
	MaxRetries       int `yaml:"max_retries"`
	BaseDelaySeconds int `yaml:"base_delay_seconds"`
	MaxDelaySeconds  int `yaml:"max_delay_seconds"`
}

// PricingOverride replaces or adds pricing for one model.
type PricingOverride struct {
	Model           string  `yaml:"model"`
	InputPer1M      float64 `yaml:"input_per_1m"`
	OutputPer1M     float64 `yaml:"output_per_1m"`
	CachedPer1M     float64 `yaml:"cached_per_1m"`
	SupportsCaching bool    `yaml:"supports_caching"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes", info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = "gpt-4o"
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = "You are a helpful assistant."
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = defaultStorageDir()
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 10
	}
	if c.Retry.BaseDelaySeconds == 0 {
		c.Retry.BaseDelaySeconds = 1
	}
	if c.Retry.MaxDelaySeconds == 0 {
		c.Retry.MaxDelaySeconds = 60
	}
}

func (c *Config) applyEnv() {
	if c.OpenAIKey == "" {
		c.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.BaseURL == "" {
		c.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
}

func defaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatloop"
	}
	return filepath.Join(home, ".chatloop", "snapshots")
}

// SaveConfig saves configuration to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}

	if c.OpenAIKey == "" {
		return fmt.Errorf("openai_key must be set in config or OPENAI_API_KEY")
	}

	switch c.Storage.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Storage.Backend == "redis" && c.Storage.RedisAddr == "" {
		return fmt.Errorf("redis_addr is required for the redis backend")
	}

	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider name is required")
		}
		if p.Command == "" {
			return fmt.Errorf("provider %s: command is required", p.Name)
		}
	}

	return nil
}
