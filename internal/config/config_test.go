// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "config-test-secret-0123456789abcdef"

// validConfig returns defaults that pass validation.
func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Auth.JWTSecret = testSecret
	return cfg
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Server.Port != 3857 {
		t.Errorf("Server.Port = %d, want 3857", cfg.Server.Port)
	}
	if cfg.Relay.Namespace != "quill" || cfg.Bridge.Namespace != "quill" {
		t.Errorf("namespaces = %q/%q, want quill/quill", cfg.Relay.Namespace, cfg.Bridge.Namespace)
	}
	if cfg.Store.Driver != StoreBadger {
		t.Errorf("Store.Driver = %q, want badger", cfg.Store.Driver)
	}
	if cfg.Relay.Connection.HandshakeTimeout != 30*time.Second {
		t.Errorf("HandshakeTimeout = %s, want 30s", cfg.Relay.Connection.HandshakeTimeout)
	}
	if cfg.Client.AutosaveInterval != 2*time.Second {
		t.Errorf("Client.AutosaveInterval = %s, want 2s", cfg.Client.AutosaveInterval)
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := LoadFile(""); err == nil || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Errorf("LoadFile() error = %v, want JWT_SECRET error", err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("RELAY_NAMESPACE", "notes")
	t.Setenv("RELAY_HANDSHAKE_TIMEOUT", "5s")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("STORE_DRIVER", "mysql")
	t.Setenv("MYSQL_DSN", "quill:pw@tcp(db:3306)/quill?parseTime=true")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("UNRELATED_SETTING", "ignored")

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Relay.Namespace != "notes" || cfg.Bridge.Namespace != "notes" {
		t.Errorf("namespaces = %q/%q, want notes/notes", cfg.Relay.Namespace, cfg.Bridge.Namespace)
	}
	if cfg.Relay.Connection.HandshakeTimeout != 5*time.Second {
		t.Errorf("HandshakeTimeout = %s, want 5s", cfg.Relay.Connection.HandshakeTimeout)
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.Auth.CORSOrigins) != len(want) {
		t.Fatalf("CORSOrigins = %v, want %v", cfg.Auth.CORSOrigins, want)
	}
	for i := range want {
		if cfg.Auth.CORSOrigins[i] != want[i] {
			t.Errorf("CORSOrigins[%d] = %q, want %q", i, cfg.Auth.CORSOrigins[i], want[i])
		}
	}
	if cfg.Store.Driver != StoreMySQL || cfg.Store.DSN == "" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Fanout().Addr != "redis:6379" {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
}

func TestFileLayerAndPrecedence(t *testing.T) {
	path := writeFile(t, `
server:
  port: 8080
  environment: staging
auth:
  jwt_secret: file-secret-0123456789abcdef0123456789
  cors_origins:
    - https://app.example
store:
  driver: memory
logging:
  level: debug
  format: console
`)
	t.Setenv("HTTP_PORT", "8181")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Server.Port != 8181 {
		t.Errorf("Server.Port = %d, want env value 8181", cfg.Server.Port)
	}
	if cfg.Server.Environment != "staging" {
		t.Errorf("Environment = %q, want staging", cfg.Server.Environment)
	}
	if cfg.Store.Driver != StoreMemory {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
	if len(cfg.Auth.CORSOrigins) != 1 || cfg.Auth.CORSOrigins[0] != "https://app.example" {
		t.Errorf("CORSOrigins = %v", cfg.Auth.CORSOrigins)
	}
	if lc := cfg.Logging.Logger(); lc.Level != "debug" || lc.Format != "console" {
		t.Errorf("Logger() = %+v", lc)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile() with a missing file succeeded")
	}
}

func TestFindConfigFile(t *testing.T) {
	path := writeFile(t, "server:\n  port: 1\n")
	t.Setenv(ConfigPathEnvVar, path)
	if got := findConfigFile(); got != path {
		t.Errorf("findConfigFile() = %q, want %q", got, path)
	}

	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "nope.yaml"))
	orig := DefaultConfigPaths
	DefaultConfigPaths = nil
	defer func() { DefaultConfigPaths = orig }()
	if got := findConfigFile(); got != "" {
		t.Errorf("findConfigFile() = %q, want empty", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "JWT_SECRET"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port must be at least 1"},
		{"bad environment", func(c *Config) { c.Server.Environment = "qa" }, "server.environment must be one of"},
		{"bad namespace", func(c *Config) { c.Relay.Namespace = "a/b" }, "room name"},
		{"upgrade window", func(c *Config) { c.Relay.UpgradeWindow = 0 }, "upgrade_window"},
		{"dev tokens in production", func(c *Config) {
			c.Server.Environment = "production"
			c.Auth.DevTokens = true
		}, "AUTH_DEV_TOKENS"},
		{"wildcard cors in production", func(c *Config) {
			c.Server.Environment = "production"
			c.Auth.CORSOrigins = []string{"*"}
		}, "wildcard"},
		{"wildcard cors in development", func(c *Config) { c.Auth.CORSOrigins = []string{"*"} }, ""},
		{"bad cors origin", func(c *Config) { c.Auth.CORSOrigins = []string{"not-a-url"} }, "CORS origin"},
		{"bridge http url", func(c *Config) { c.Bridge.RelayURL = "http://relay:3857" }, "ws://"},
		{"outbox without path", func(c *Config) { c.Outbox.Path = "" }, "outbox path"},
		{"outbox in memory", func(c *Config) {
			c.Outbox.Path = ""
			c.Outbox.InMemory = true
		}, ""},
		{"nats url scheme", func(c *Config) { c.NATS.URL = "http://nats:4222" }, "NATS_URL"},
		{"nats disabled skips checks", func(c *Config) {
			c.NATS.Enabled = false
			c.NATS.URL = ""
		}, ""},
		{"unknown store", func(c *Config) { c.Store.Driver = "sqlite" }, "store.driver must be one of"},
		{"mysql without dsn", func(c *Config) { c.Store.Driver = StoreMySQL }, "MYSQL_DSN"},
		{"badger without path", func(c *Config) { c.Store.Path = "" }, "STORE_PATH"},
		{"redis without addr", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Addr = ""
		}, "REDIS_ADDR"},
		{"client autosave", func(c *Config) { c.Client.AutosaveInterval = 0 }, "autosave_interval"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level must be one of"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadAgent(t *testing.T) {
	t.Run("requires a token", func(t *testing.T) {
		t.Setenv("AGENT_TOKEN", "")
		_, err := LoadAgentFile("")
		if err == nil || !strings.Contains(err.Error(), "AGENT_TOKEN") {
			t.Fatalf("LoadAgentFile() error = %v, want AGENT_TOKEN error", err)
		}
	})

	t.Run("does not need a relay secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		t.Setenv("AGENT_TOKEN", "header.payload.signature")
		t.Setenv("AGENT_RESOURCES", "note-1, note-2,,")
		t.Setenv("STORE_DRIVER", StoreMemory)

		cfg, err := LoadAgentFile("")
		if err != nil {
			t.Fatalf("LoadAgentFile() error = %v", err)
		}
		if got := strings.Join(cfg.Agent.Resources, "|"); got != "note-1|note-2" {
			t.Errorf("Agent.Resources = %q, want note-1|note-2", got)
		}
		if cfg.Store.Driver != StoreMemory {
			t.Errorf("Store.Driver = %q, want %q", cfg.Store.Driver, StoreMemory)
		}
	})

	t.Run("still validates the store", func(t *testing.T) {
		t.Setenv("AGENT_TOKEN", "header.payload.signature")
		t.Setenv("STORE_DRIVER", StoreMySQL)
		t.Setenv("MYSQL_DSN", "")
		if _, err := LoadAgentFile(""); err == nil {
			t.Fatal("LoadAgentFile() accepted mysql without a DSN")
		}
	})
}

func TestServerAddr(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 3857}
	if got := s.Addr(); got != "127.0.0.1:3857" {
		t.Errorf("Addr() = %q", got)
	}
}
