// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/quillsync/internal/bridge"
	"github.com/tomtom215/quillsync/internal/legacy"
	"github.com/tomtom215/quillsync/internal/outbox"
	"github.com/tomtom215/quillsync/internal/relay"
	"github.com/tomtom215/quillsync/internal/syncclient"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/quillsync/config.yaml",
}

// ConfigPathEnvVar names the environment variable holding the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values.
func defaultConfig() *Config {
	out := outbox.DefaultConfig()
	out.Path = "./data/outbox"

	natsClient := legacy.DefaultNATSConfig()

	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3857,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Environment:     "development",
		},
		Relay: RelayConfig{
			Namespace:     "quill",
			UpgradeRate:   60,
			UpgradeWindow: time.Minute,
			Connection:    relay.DefaultConfig(),
		},
		Auth: AuthConfig{
			TokenTTL:    24 * time.Hour,
			CORSOrigins: []string{"http://localhost:3000"},
			IngressRate: 600,
		},
		Bridge: bridge.DefaultConfig(),
		Outbox: out,
		NATS: NATSConfig{
			Enabled:       true,
			Embedded:      true,
			Host:          "127.0.0.1",
			Port:          4222,
			URL:           natsClient.URL,
			MaxReconnects: natsClient.MaxReconnects,
			ReconnectWait: natsClient.ReconnectWait,
			CloseTimeout:  natsClient.CloseTimeout,
		},
		Legacy: legacy.DefaultConfig(),
		Store: StoreConfig{
			Driver: StoreBadger,
			Path:   "./data/notes",
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Client: syncclient.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration with koanf from three layers:
//  1. Defaults: built-in values from defaultConfig
//  2. Config File: optional YAML file
//  3. Environment Variables: override any mapped setting
//
// The result is validated before it is returned.
func Load() (*Config, error) {
	return load(findConfigFile(), (*Config).Validate)
}

// LoadFile is Load with an explicit config file path. An empty path skips
// the file layer.
func LoadFile(path string) (*Config, error) {
	return load(path, (*Config).Validate)
}

// LoadAgent loads the configuration of the sync agent. Only the sections
// the agent uses are validated, so no relay secret is needed.
func LoadAgent() (*Config, error) {
	return load(findConfigFile(), (*Config).ValidateAgent)
}

// LoadAgentFile is LoadAgent with an explicit config file path.
func LoadAgentFile(path string) (*Config, error) {
	return load(path, (*Config).ValidateAgent)
}

func load(configPath string, validate func(*Config) error) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	// The bridge writes into the relay's notification rooms.
	cfg.Bridge.Namespace = cfg.Relay.Namespace

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns CONFIG_PATH if it exists, otherwise the first
// existing default path, otherwise "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated strings when they come
// from the environment.
var sliceConfigPaths = []string{
	"auth.cors_origins",
	"agent.resources",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps lower-cased environment variable names to koanf paths.
var envMappings = map[string]string{
	// Server
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_idle_timeout":     "server.idle_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"environment":           "server.environment",

	// Relay
	"relay_namespace":              "relay.namespace",
	"relay_upgrade_rate":           "relay.upgrade_rate",
	"relay_upgrade_window":         "relay.upgrade_window",
	"relay_send_buffer":            "relay.connection.send_buffer",
	"relay_max_message_size":       "relay.connection.max_message_size",
	"relay_handshake_timeout":      "relay.connection.handshake_timeout",
	"relay_frames_per_second":      "relay.connection.frames_per_second",
	"relay_burst":                  "relay.connection.burst",
	"relay_notification_retention": "relay.connection.notification_retention",

	// Auth
	"jwt_secret":         "auth.jwt_secret",
	"jwt_ttl":            "auth.token_ttl",
	"auth_dev_tokens":    "auth.dev_tokens",
	"casbin_policy_path": "auth.policy_path",
	"cors_origins":       "auth.cors_origins",
	"ingress_rate_limit": "auth.ingress_rate",

	// Bridge
	"bridge_relay_url":        "bridge.relay_url",
	"bridge_concurrency":      "bridge.concurrency",
	"bridge_breaker_failures": "bridge.breaker_failures",
	"bridge_breaker_timeout":  "bridge.breaker_timeout",

	// Outbox
	"outbox_path":           "outbox.path",
	"outbox_in_memory":      "outbox.in_memory",
	"outbox_retry_interval": "outbox.retry_interval",
	"outbox_max_retries":    "outbox.max_retries",
	"outbox_entry_ttl":      "outbox.entry_ttl",

	// NATS
	"nats_enabled":        "nats.enabled",
	"nats_embedded":       "nats.embedded",
	"nats_host":           "nats.host",
	"nats_port":           "nats.port",
	"nats_url":            "nats.url",
	"nats_max_reconnects": "nats.max_reconnects",

	// Legacy channel
	"legacy_topic_prefix": "legacy.topic_prefix",
	"legacy_sender_id":    "legacy.sender_id",

	// Store
	"store_driver": "store.driver",
	"store_path":   "store.path",
	"mysql_dsn":    "store.dsn",

	// Redis
	"redis_enabled":  "redis.enabled",
	"redis_addr":     "redis.addr",
	"redis_password": "redis.password",
	"redis_db":       "redis.db",

	// Sync client
	"client_relay_url":         "client.relay_url",
	"client_namespace":         "client.namespace",
	"client_autosave_interval": "client.autosave_interval",
	"client_snapshot_interval": "client.snapshot_interval",
	"client_snapshot_limit":    "client.snapshot_limit",

	// Sync agent
	"agent_token":     "agent.token",
	"agent_resources": "agent.resources",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps an environment variable name to its koanf path.
// Unmapped variables return "" and are skipped so that unrelated
// environment does not leak into the configuration.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
