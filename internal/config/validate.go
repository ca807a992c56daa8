// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tomtom215/quillsync/internal/validation"
)

// MinJWTSecretLength is the shortest accepted HMAC secret.
const MinJWTSecretLength = 32

// Validate checks that required configuration is present and consistent.
// Struct tags are checked first, then each section's own rules.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return verr
	}

	validators := []func() error{
		c.validateServer,
		c.validateRelay,
		c.validateAuth,
		c.validateBridge,
		c.Outbox.Validate,
		c.validateNATS,
		c.validateStore,
		c.validateRedis,
		c.Client.Validate,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAgent checks the sections used by the sync agent: the agent
// token, the legacy transport, the note store and the client settings.
func (c *Config) ValidateAgent() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return verr
	}

	validators := []func() error{
		c.validateAgent,
		c.validateNATS,
		c.validateStore,
		c.Client.Validate,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateAgent() error {
	if strings.TrimSpace(c.Agent.Token) == "" {
		return fmt.Errorf("AGENT_TOKEN is required")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server read_timeout and write_timeout must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown_timeout must be positive, got %s", c.Server.ShutdownTimeout)
	}
	return nil
}

func (c *Config) validateRelay() error {
	if c.Relay.UpgradeRate > 0 && c.Relay.UpgradeWindow <= 0 {
		return fmt.Errorf("relay upgrade_window must be positive when upgrade_rate is set")
	}
	conn := c.Relay.Connection
	if conn.HandshakeTimeout < 0 || conn.PongWait < 0 || conn.WriteWait < 0 {
		return fmt.Errorf("relay connection timeouts must not be negative")
	}
	if conn.FramesPerSecond < 0 || conn.Burst < 0 {
		return fmt.Errorf("relay frames_per_second and burst must not be negative")
	}
	return nil
}

func (c *Config) validateAuth() error {
	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", MinJWTSecretLength)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token_ttl must be positive, got %s", c.Auth.TokenTTL)
	}
	if c.Auth.DevTokens && c.Server.IsProduction() {
		return fmt.Errorf("AUTH_DEV_TOKENS must not be enabled in production")
	}
	for _, origin := range c.Auth.CORSOrigins {
		if origin == "*" {
			if c.Server.IsProduction() {
				return fmt.Errorf("CORS_ORIGINS wildcard is not allowed in production")
			}
			continue
		}
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid CORS origin %q", origin)
		}
	}
	return nil
}

func (c *Config) validateBridge() error {
	return validateWebsocketURL("bridge relay_url", c.Bridge.RelayURL)
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if c.NATS.Embedded && (c.NATS.Port < 1 || c.NATS.Port > 65535) {
		return fmt.Errorf("nats port must be between 1 and 65535, got %d", c.NATS.Port)
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("NATS_URL is required when NATS_ENABLED=true")
	}
	if !strings.HasPrefix(c.NATS.URL, "nats://") && !strings.HasPrefix(c.NATS.URL, "tls://") {
		return fmt.Errorf("NATS_URL must start with nats:// or tls://, got %q", c.NATS.URL)
	}
	if c.Legacy.TopicPrefix == "" {
		return fmt.Errorf("legacy topic_prefix is required when NATS is enabled")
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case StoreBadger:
		if c.Store.Path == "" {
			return fmt.Errorf("STORE_PATH is required for the badger store")
		}
	case StoreMySQL:
		if c.Store.DSN == "" {
			return fmt.Errorf("MYSQL_DSN is required for the mysql store")
		}
	}
	return nil
}

func (c *Config) validateRedis() error {
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("REDIS_ADDR is required when REDIS_ENABLED=true")
	}
	return nil
}

func validateWebsocketURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%s must use ws:// or wss://, got %q", name, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}
