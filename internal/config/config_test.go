// ABOUTME: Tests for agora configuration loading and path expansion.
// ABOUTME: Covers YAML parsing, defaults, env overrides, and backend selection.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"tilde only", "~", home},
		{"tilde slash", "~/foo/bar", filepath.Join(home, "foo", "bar")},
		{"absolute", "/tmp/foo", "/tmp/foo"},
		{"relative", "foo/bar", "foo/bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandPath(tt.input)
			if err != nil {
				t.Fatalf("ExpandPath(%q) error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLoadDefaultConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(EnvDatabaseURL, "")
	t.Setenv(EnvDatabaseSecret, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.HasRemote() {
		t.Error("expected HasRemote() to be false for default config")
	}
	if got := cfg.ResolveBackend(); got != BackendSQLite {
		t.Errorf("expected sqlite backend by default, got %q", got)
	}
	if cfg.PageSize() != 10 {
		t.Errorf("expected default page size 10, got %d", cfg.PageSize())
	}
	if cfg.DefaultMode() != "trending" {
		t.Errorf("expected default mode trending, got %q", cfg.DefaultMode())
	}
	if lvl, err := cfg.Level(); err != nil || lvl != log.InfoLevel {
		t.Errorf("expected info level, got %v (%v)", lvl, err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadYAMLConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	t.Setenv(EnvDatabaseURL, "")
	t.Setenv(EnvDatabaseSecret, "")

	configDir := filepath.Join(tmpDir, "agora")
	if err := os.MkdirAll(configDir, 0750); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}

	configData := `database:
  url: "https://example-default-rtdb.firebaseio.com"
  secret: "db-secret"
  sqlite_path: "~/agora-test.db"
feed:
  page_size: 25
  default_mode: newest
identity:
  name: "ada"
server:
  addr: ":9090"
log_level: debug
`
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(configData), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Database.URL != "https://example-default-rtdb.firebaseio.com" {
		t.Errorf("unexpected url %q", cfg.Database.URL)
	}
	if cfg.Database.Secret != "db-secret" {
		t.Errorf("unexpected secret %q", cfg.Database.Secret)
	}
	if got := cfg.ResolveBackend(); got != BackendRemote {
		t.Errorf("expected remote backend when url is set, got %q", got)
	}
	if cfg.PageSize() != 25 {
		t.Errorf("expected page size 25, got %d", cfg.PageSize())
	}
	if cfg.DefaultMode() != "newest" {
		t.Errorf("expected default mode newest, got %q", cfg.DefaultMode())
	}
	if cfg.Identity.Name != "ada" {
		t.Errorf("expected identity ada, got %q", cfg.Identity.Name)
	}
	if cfg.ServerAddr() != ":9090" {
		t.Errorf("expected addr :9090, got %q", cfg.ServerAddr())
	}
	if lvl, _ := cfg.Level(); lvl != log.DebugLevel {
		t.Errorf("expected debug level, got %v", lvl)
	}

	home, _ := os.UserHomeDir()
	if got, err := cfg.GetSQLitePath(); err != nil {
		t.Fatalf("GetSQLitePath() error: %v", err)
	} else if got != filepath.Join(home, "agora-test.db") {
		t.Errorf("GetSQLitePath() = %q", got)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	configDir := filepath.Join(tmpDir, "agora")
	_ = os.MkdirAll(configDir, 0750)
	_ = os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte("database: [unclosed"), 0600)

	if _, err := Load(); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(EnvDatabaseURL, "https://env.firebaseio.com")
	t.Setenv(EnvDatabaseSecret, "env-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.URL != "https://env.firebaseio.com" {
		t.Errorf("expected env url, got %q", cfg.Database.URL)
	}
	if cfg.Database.Secret != "env-secret" {
		t.Errorf("expected env secret, got %q", cfg.Database.Secret)
	}
}

func TestSaveAndLoad(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(EnvDatabaseURL, "")
	t.Setenv(EnvDatabaseSecret, "")

	cfg := &Config{
		Database: DatabaseConfig{URL: "https://saved.firebaseio.com", Secret: "saved"},
		Identity: IdentityConfig{Name: "grace"},
	}
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	path, _ := GetConfigPath()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected 0600 permissions, got %o", info.Mode().Perm())
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.Database.URL != "https://saved.firebaseio.com" {
		t.Errorf("expected saved url, got %q", loaded.Database.URL)
	}
	if loaded.Identity.Name != "grace" {
		t.Errorf("expected saved identity, got %q", loaded.Identity.Name)
	}
}

func TestUpdateDoesNotPersistEnv(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(EnvDatabaseURL, "")
	t.Setenv(EnvDatabaseSecret, "")

	if err := (&Config{Database: DatabaseConfig{URL: "https://file.firebaseio.com"}}).Save(); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	t.Setenv(EnvDatabaseSecret, "env-secret")
	if err := Update(func(c *Config) { c.Identity.Name = "ada" }); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	path, _ := GetConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if strings.Contains(string(data), "env-secret") {
		t.Error("expected env secret not to be written to disk")
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.Identity.Name != "ada" {
		t.Errorf("expected updated identity, got %q", loaded.Identity.Name)
	}
	if loaded.Database.URL != "https://file.firebaseio.com" {
		t.Errorf("expected file url kept, got %q", loaded.Database.URL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"sqlite default", Config{}, false},
		{"memory", Config{Database: DatabaseConfig{Backend: "memory"}}, false},
		{"remote without url", Config{Database: DatabaseConfig{Backend: "remote"}}, true},
		{"unknown backend", Config{Database: DatabaseConfig{Backend: "postgres"}}, true},
		{"bad log level", Config{LogLevel: "loud"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDataPaths(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dataDir)

	cfg := &Config{}
	if got, _ := cfg.GetSQLitePath(); got != filepath.Join(dataDir, "agora", "agora.db") {
		t.Errorf("GetSQLitePath() = %q", got)
	}
	if got, _ := LocalStoragePath(); got != filepath.Join(dataDir, "agora", "local.yaml") {
		t.Errorf("LocalStoragePath() = %q", got)
	}
}
