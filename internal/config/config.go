package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/menta2k/piece-locator/pkg/confidence"
	"github.com/menta2k/piece-locator/pkg/embedding"
	"github.com/menta2k/piece-locator/pkg/features"
	"github.com/menta2k/piece-locator/pkg/grid"
	"github.com/menta2k/piece-locator/pkg/matcher"
	"github.com/menta2k/piece-locator/pkg/processing"
)

// Config holds the application configuration
type Config struct {
	Grid       grid.Config          `json:"grid"`
	Features   features.Config      `json:"features"`
	Embedding  embedding.HaarConfig `json:"embedding"`
	Matcher    matcher.Config       `json:"matcher"`
	Confidence confidence.Config    `json:"confidence"`
	Processing processing.Config    `json:"processing"`
	Store      StoreConfig          `json:"store"`
	Log        LogConfig            `json:"log"`
	Workers    int                  `json:"workers"`
}

// StoreConfig selects where built descriptor sets are persisted
type StoreConfig struct {
	Backend       string `json:"backend"` // none, file or redis
	Dir           string `json:"dir"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	Namespace     string `json:"namespace"`
	// TTLSeconds expires stored sets in Redis; 0 keeps them forever
	TTLSeconds int `json:"ttl_seconds"`
}

// TTL returns the Redis expiry as a duration
func (s StoreConfig) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Grid:       grid.DefaultConfig(),
		Features:   features.DefaultConfig(),
		Embedding:  embedding.DefaultHaarConfig(),
		Matcher:    matcher.DefaultConfig(),
		Confidence: confidence.DefaultConfig(),
		Processing: processing.DefaultConfig(),
		Store: StoreConfig{
			Backend:   "none",
			Dir:       "./refsets",
			RedisAddr: "localhost:6379",
			Namespace: "refsets",
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Fields missing from the
// file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Grid.Validate(); err != nil {
		return err
	}
	if err := c.Features.Validate(); err != nil {
		return err
	}
	if err := c.Embedding.Validate(); err != nil {
		return err
	}
	if err := c.Matcher.Validate(); err != nil {
		return err
	}
	if err := c.Confidence.Validate(); err != nil {
		return err
	}
	if err := c.Processing.Validate(); err != nil {
		return err
	}

	switch c.Store.Backend {
	case "", "none":
	case "file":
		if c.Store.Dir == "" {
			return fmt.Errorf("store.dir is required for the file backend")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("store.backend must be none, file or redis, got %q", c.Store.Backend)
	}
	if c.Store.TTLSeconds < 0 {
		return fmt.Errorf("store.ttl_seconds must not be negative")
	}

	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "piece-locator", "config.json")
}
