// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/tomtom215/quillsync/internal/authz"
	"github.com/tomtom215/quillsync/internal/bridge"
	"github.com/tomtom215/quillsync/internal/fanout"
	"github.com/tomtom215/quillsync/internal/legacy"
	"github.com/tomtom215/quillsync/internal/logging"
	"github.com/tomtom215/quillsync/internal/outbox"
	"github.com/tomtom215/quillsync/internal/relay"
	"github.com/tomtom215/quillsync/internal/syncclient"
)

// Config holds all application configuration loaded from defaults, an
// optional YAML file and environment variables, in that order of priority.
//
// Component sections reuse the component's own Config type where it has
// one, so a field added there is configurable without touching this file.
type Config struct {
	Server  ServerConfig      `koanf:"server"`
	Relay   RelayConfig       `koanf:"relay"`
	Auth    AuthConfig        `koanf:"auth"`
	Bridge  bridge.Config     `koanf:"bridge"`
	Outbox  outbox.Config     `koanf:"outbox"`
	NATS    NATSConfig        `koanf:"nats"`
	Legacy  legacy.Config     `koanf:"legacy"`
	Store   StoreConfig       `koanf:"store"`
	Redis   RedisConfig       `koanf:"redis"`
	Client  syncclient.Config `koanf:"client"`
	Agent   AgentConfig       `koanf:"agent"`
	Logging LoggingConfig     `koanf:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Environment     string        `koanf:"environment" validate:"oneof=development staging production"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsProduction reports whether the server runs in production mode.
func (s ServerConfig) IsProduction() bool {
	return s.Environment == "production"
}

// RelayConfig holds the collaboration relay settings.
type RelayConfig struct {
	// Namespace prefixes collaboration and notification room names.
	Namespace string `koanf:"namespace" validate:"required,roomname"`

	// UpgradeRate websocket upgrades are allowed per client IP within
	// UpgradeWindow. Zero disables the limit.
	UpgradeRate   int           `koanf:"upgrade_rate" validate:"gte=0"`
	UpgradeWindow time.Duration `koanf:"upgrade_window"`

	Connection relay.Config `koanf:"connection"`
}

// AuthConfig holds authentication and authorization settings.
type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret"`
	TokenTTL  time.Duration `koanf:"token_ttl"`

	// DevTokens enables POST /internal/v1/token. Never in production.
	DevTokens bool `koanf:"dev_tokens"`

	// PolicyPath is a casbin CSV policy. Empty uses the built-in policy.
	PolicyPath string `koanf:"policy_path"`

	CORSOrigins []string `koanf:"cors_origins"`

	// IngressRate bounds notification ingress requests per client IP per
	// minute.
	IngressRate int `koanf:"ingress_rate" validate:"gte=0"`
}

// Authz returns the casbin enforcer configuration.
func (a AuthConfig) Authz() authz.Config {
	return authz.Config{PolicyPath: a.PolicyPath}
}

// NATSConfig holds the NATS settings used by the legacy event channel.
type NATSConfig struct {
	Enabled bool `koanf:"enabled"`

	// Embedded runs an in-process nats-server on Host:Port.
	Embedded bool   `koanf:"embedded"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`

	// URL is the client connection URL. With Embedded it normally points
	// at Host:Port.
	URL           string        `koanf:"url"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
	CloseTimeout  time.Duration `koanf:"close_timeout"`
}

// Client returns the NATS client settings for the legacy channel.
func (n NATSConfig) Client() legacy.NATSConfig {
	return legacy.NATSConfig{
		URL:           n.URL,
		MaxReconnects: n.MaxReconnects,
		ReconnectWait: n.ReconnectWait,
		CloseTimeout:  n.CloseTimeout,
	}
}

// Store drivers.
const (
	StoreMemory = "memory"
	StoreBadger = "badger"
	StoreMySQL  = "mysql"
)

// StoreConfig selects the note persistence backend.
type StoreConfig struct {
	Driver string `koanf:"driver" validate:"oneof=memory badger mysql"`

	// Path is the badger directory.
	Path string `koanf:"path"`

	// DSN is the MySQL data source name.
	DSN string `koanf:"dsn"`
}

// RedisConfig enables cross-instance relay fan-out through redis pub/sub.
type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"gte=0"`
}

// Fanout returns the fan-out connection settings.
func (r RedisConfig) Fanout() fanout.RedisConfig {
	return fanout.RedisConfig{Addr: r.Addr, Password: r.Password, DB: r.DB}
}

// AgentConfig holds the settings of the headless sync agent.
type AgentConfig struct {
	// Token is the bearer token presented to the relay. The agent's
	// identity is read from its claims.
	Token string `koanf:"token"`

	// Resources are opened at startup in addition to command-line
	// arguments.
	Resources []string `koanf:"resources" validate:"dive,required,max=256"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Logger returns the configuration for logging.Init.
func (l LoggingConfig) Logger() logging.Config {
	return logging.Config{
		Level:     l.Level,
		Format:    l.Format,
		Caller:    l.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	}
}
