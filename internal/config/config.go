// ABOUTME: Configuration management for agora with YAML config loading.
// ABOUTME: Handles database backend settings, feed defaults, env overrides, and ~ expansion.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Database backends.
const (
	BackendRemote = "remote"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Environment variables that override the config file.
const (
	EnvDatabaseURL    = "AGORA_DATABASE_URL"
	EnvDatabaseSecret = "AGORA_DATABASE_SECRET"
)

const (
	defaultPageSize = 10
	defaultMode     = "trending"
	defaultAddr     = "127.0.0.1:8080"
)

// Config stores agora configuration loaded from ~/.config/agora/config.yaml.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Feed     FeedConfig     `yaml:"feed"`
	Identity IdentityConfig `yaml:"identity"`
	Server   ServerConfig   `yaml:"server"`
	LogLevel string         `yaml:"log_level,omitempty"`
}

// DatabaseConfig selects and configures the realtime database.
type DatabaseConfig struct {
	Backend    string `yaml:"backend,omitempty"`
	URL        string `yaml:"url,omitempty"`
	Secret     string `yaml:"secret,omitempty"`
	SQLitePath string `yaml:"sqlite_path,omitempty"`
}

// FeedConfig holds feed display defaults.
type FeedConfig struct {
	PageSize    int    `yaml:"page_size,omitempty"`
	DefaultMode string `yaml:"default_mode,omitempty"`
}

// IdentityConfig holds the label attached to comments from this device.
type IdentityConfig struct {
	Name string `yaml:"name,omitempty"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// HasRemote returns true if a hosted database URL is configured.
func (c *Config) HasRemote() bool {
	return c.Database.URL != ""
}

// ResolveBackend returns the configured backend, defaulting to remote when a
// URL is set and to sqlite otherwise.
func (c *Config) ResolveBackend() string {
	if c.Database.Backend != "" {
		return strings.ToLower(c.Database.Backend)
	}
	if c.HasRemote() {
		return BackendRemote
	}
	return BackendSQLite
}

// GetSQLitePath returns the local database path, defaulting to agora.db in the data dir.
func (c *Config) GetSQLitePath() (string, error) {
	if c.Database.SQLitePath != "" {
		return ExpandPath(c.Database.SQLitePath)
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "agora.db"), nil
}

// PageSize returns the feed page size.
func (c *Config) PageSize() int {
	if c.Feed.PageSize > 0 {
		return c.Feed.PageSize
	}
	return defaultPageSize
}

// DefaultMode returns the filter mode the feed opens in.
func (c *Config) DefaultMode() string {
	if c.Feed.DefaultMode != "" {
		return c.Feed.DefaultMode
	}
	return defaultMode
}

// ServerAddr returns the HTTP listen address.
func (c *Config) ServerAddr() string {
	if c.Server.Addr != "" {
		return c.Server.Addr
	}
	return defaultAddr
}

// Level returns the configured log level, defaulting to info.
func (c *Config) Level() (log.Level, error) {
	if c.LogLevel == "" {
		return log.InfoLevel, nil
	}
	return log.ParseLevel(c.LogLevel)
}

// Validate checks that the configuration can be used to open a database.
func (c *Config) Validate() error {
	switch c.ResolveBackend() {
	case BackendRemote:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the remote backend")
		}
	case BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("unknown database backend %q", c.Database.Backend)
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	return nil
}

// DataDir returns the agora data directory.
func DataDir() (string, error) {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "agora"), nil
}

// LocalStoragePath returns the file holding device-local interaction state.
func LocalStoragePath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "local.yaml"), nil
}

// GetConfigPath returns the config file path.
func GetConfigPath() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "agora", "config.yaml"), nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/")), nil
	}
	return path, nil
}

// Load reads config from disk and applies environment overrides.
// Returns default config if the file doesn't exist.
func Load() (*Config, error) {
	cfg, err := loadFile()
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// Update applies fn to the on-disk config and saves it. Environment
// overrides are not written back.
func Update(fn func(*Config)) error {
	cfg, err := loadFile()
	if err != nil {
		return err
	}
	fn(cfg)
	return cfg.Save()
}

func loadFile() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv(EnvDatabaseSecret); v != "" {
		c.Database.Secret = v
	}
}

// Save writes config to disk.
func (c *Config) Save() error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
