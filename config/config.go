// Package config defines the FleetDNA application configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level FleetDNA configuration.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	Inference InferenceConfig `json:"inference" yaml:"inference"`
	Queue     QueueConfig     `json:"queue" yaml:"queue"`
	DataDir   string          `json:"data_dir" yaml:"data_dir"`
	LogLevel  string          `json:"log_level" yaml:"log_level"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // listen address, e.g., ":9090"
}

// AuthConfig controls API authentication.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
	AdminUser string `json:"admin_user" yaml:"admin_user"`
	AdminPass string `json:"admin_pass" yaml:"admin_pass"`
}

// InferenceConfig controls the language-model provider.
type InferenceConfig struct {
	APIKey      string        `json:"api_key" yaml:"api_key"`
	BaseURL     string        `json:"base_url" yaml:"base_url"`
	FastModel   string        `json:"fast_model" yaml:"fast_model"`
	FullModel   string        `json:"full_model" yaml:"full_model"`
	MaxTokens   int           `json:"max_tokens" yaml:"max_tokens"`
	Temperature float64       `json:"temperature" yaml:"temperature"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
}

// QueueConfig controls drain and retention behavior.
type QueueConfig struct {
	BatchSize     int           `json:"batch_size" yaml:"batch_size"`
	MaxAttempts   int           `json:"max_attempts" yaml:"max_attempts"`
	RetentionDays int           `json:"retention_days" yaml:"retention_days"`
	DrainInterval time.Duration `json:"drain_interval" yaml:"drain_interval"`
}

// apiKeyEnv is consulted when the config file carries no inference key.
const apiKeyEnv = "FLEETDNA_API_KEY"

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":9090",
		},
		Auth: AuthConfig{
			AdminUser: "admin",
		},
		Inference: InferenceConfig{
			FastModel:   "llama-3.1-8b-instant",
			FullModel:   "llama-3.3-70b-versatile",
			MaxTokens:   4096,
			Temperature: 0.1,
			Timeout:     60 * time.Second,
		},
		Queue: QueueConfig{
			BatchSize:     10,
			MaxAttempts:   3,
			RetentionDays: 7,
			DrainInterval: time.Minute,
		},
		DataDir:  "./data",
		LogLevel: "info",
	}
}

// Load reads a YAML config file and returns the parsed configuration.
// The inference API key falls back to the FLEETDNA_API_KEY environment
// variable when the file does not set one.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if c.Inference.APIKey == "" {
		c.Inference.APIKey = os.Getenv(apiKeyEnv)
	}
}
