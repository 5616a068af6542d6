package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.feather/config.toml.
type Config struct {
	DefaultSession string   `toml:"default_session"`
	Remote         Remote   `toml:"remote"`
	Realtime       Realtime `toml:"realtime"`
	Blob           Blob     `toml:"blob"`
	Sync           Sync     `toml:"sync"`
}

// Remote configures the backend REST API.
type Remote struct {
	BaseURL  string `toml:"base_url"`
	APIKey   string `toml:"api_key"`
	UserID   string `toml:"user_id"`
	PageSize int    `toml:"page_size"`
}

// Realtime configures the backend change feed.
type Realtime struct {
	URL string `toml:"url"`
}

// Blob configures attachment object storage.
type Blob struct {
	Endpoint      string `toml:"endpoint"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	Bucket        string `toml:"bucket"`
	UseSSL        bool   `toml:"use_ssl"`
	PublicBaseURL string `toml:"public_base_url"`
}

// Sync configures the periodic sync loop.
type Sync struct {
	IntervalSeconds int `toml:"interval_seconds"`
}

// Default returns a config with defaults applied, used when no
// config.toml exists yet.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads config from the given path and fills in defaults.
// Returns nil config and error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Remote.PageSize <= 0 {
		c.Remote.PageSize = 500
	}
	if c.Sync.IntervalSeconds <= 0 {
		c.Sync.IntervalSeconds = 30
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
