// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

// Package bridge lets server-side code push notifications to users through
// the relay. Each user has a notification room; the bridge keeps one relay
// connection per user, writes NOTIFICATION frames to it and queues failed
// deliveries in the outbox.
package bridge

import "time"

// Config configures a Bridge.
type Config struct {
	// RelayURL is the relay's websocket base URL, e.g. ws://localhost:3857.
	RelayURL string `koanf:"relay_url" validate:"required,url"`

	// Namespace prefixes every notification room name.
	Namespace string `koanf:"namespace" validate:"required"`

	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
	WriteTimeout     time.Duration `koanf:"write_timeout"`

	// Concurrency bounds parallel deliveries in BroadcastToUsers.
	Concurrency int `koanf:"concurrency" validate:"gte=0"`

	// BreakerFailures consecutive dial failures open the circuit breaker
	// for BreakerTimeout.
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

// DefaultConfig returns the defaults used by cmd/server.
func DefaultConfig() Config {
	return Config{
		RelayURL:         "ws://127.0.0.1:3857",
		Namespace:        "quill",
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		Concurrency:      16,
		BreakerFailures:  5,
		BreakerTimeout:   30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Namespace == "" {
		c.Namespace = d.Namespace
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = d.BreakerFailures
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = d.BreakerTimeout
	}
	return c
}
