package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/docmind-dev/docmind/pkg/session"
)

// Config represents the application configuration
type Config struct {
	// API Keys
	OpenAIKey string `yaml:"openai_key"`

	// Model Configuration
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`

	// Storage Configuration
	Storage StorageConfig `yaml:"storage"`

	// Session Configuration
	Session session.Config `yaml:"session"`

	// Classifier Configuration
	Classifier ClassifierConfig `yaml:"classifier"`

	// Assembler Configuration
	Assembler AssemblerConfig `yaml:"assembler"`

	// Cleanup Configuration
	Cleanup CleanupConfig `yaml:"cleanup"`

	// Server Configuration
	Server ServerConfig `yaml:"server"`
}

// StorageConfig selects and configures the session storage backend
type StorageConfig struct {
	// Backend is one of "file", "redis", "sqlite"
	Backend string `yaml:"backend"`

	// File backend
	Dir string `yaml:"dir"`

	// SQLite backend
	SQLitePath string `yaml:"sqlite_path"`

	// Redis backend
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	RedisPrefix   string        `yaml:"redis_prefix"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
}

// ClassifierConfig configures key moment detection
type ClassifierConfig struct {
	// KeywordsPath overrides the built-in keyword table (optional)
	KeywordsPath string `yaml:"keywords_path"`

	// DedupeWindow suppresses repeat moments with the same type and
	// title within the window (0 = disabled)
	DedupeWindow time.Duration `yaml:"dedupe_window"`
}

// AssemblerConfig configures context assembly
type AssemblerConfig struct {
	// TokenBudget caps the assembled context size
	TokenBudget int `yaml:"token_budget"`

	// Estimator is "heuristic" or "tiktoken"
	Estimator string `yaml:"estimator"`

	// Encoding is the tiktoken encoding name
	Encoding string `yaml:"encoding"`
}

// CleanupConfig configures the retention sweep
type CleanupConfig struct {
	// Schedule is a cron expression; empty disables the janitor
	Schedule string `yaml:"schedule"`

	// ArchiveAfter is how long an active session may idle before archival
	ArchiveAfter time.Duration `yaml:"archive_after"`

	// DeleteAfter is how long an archived session may idle before deletion
	DeleteAfter time.Duration `yaml:"delete_after"`
}

// ServerConfig holds the observability server settings
type ServerConfig struct {
	MetricsPort int `yaml:"metrics_port"`

	// RateLimit is questions per second per project (0 = unlimited)
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	cfg.Session = session.DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	cfg := &Config{Session: session.DefaultConfig()}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if c.Assembler.TokenBudget == 0 {
		c.Assembler.TokenBudget = 2000
	}
	if c.Assembler.Estimator == "" {
		c.Assembler.Estimator = "heuristic"
	}
	if c.Assembler.Encoding == "" {
		c.Assembler.Encoding = "cl100k_base"
	}
	if c.Cleanup.ArchiveAfter == 0 {
		c.Cleanup.ArchiveAfter = 30 * 24 * time.Hour
	}
	if c.Cleanup.DeleteAfter == 0 {
		c.Cleanup.DeleteAfter = 90 * 24 * time.Hour
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 9090
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 5
	}

	// Load API keys from environment if not in config
	if c.OpenAIKey == "" {
		c.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	}

	c.Storage.Dir = expandHome(c.Storage.Dir)
	c.Storage.SQLitePath = expandHome(c.Storage.SQLitePath)
}

// expandHome resolves a leading ~ to the user's home directory, which
// os paths never do on their own.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "file", "sqlite":
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}

	if c.Cleanup.DeleteAfter < c.Cleanup.ArchiveAfter {
		return fmt.Errorf("delete_after must not be shorter than archive_after")
	}

	return c.Session.Validate()
}
