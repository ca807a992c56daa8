// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

// Package legacy implements the discrete event channel that runs next to
// the CRDT relay. Clients join a room per resource and broadcast
// "title:update", "content:update" and "typing" events to the other
// members. Messages travel over watermill: an in-process gochannel for
// tests and single-node setups, core NATS in production.
package legacy

import (
	"time"
)

// Event names carried in the "event" metadata key.
const (
	EventTitleUpdate   = "title:update"
	EventContentUpdate = "content:update"
	EventTyping        = "typing"
)

// Config configures a Channel.
type Config struct {
	// TopicPrefix is prepended to the room ID with a dot.
	TopicPrefix string `koanf:"topic_prefix"`

	// SenderID identifies this channel's messages so its own broadcasts
	// are skipped. A random ID is used when empty.
	SenderID string `koanf:"sender_id"`

	// RejoinInitial and RejoinMax bound the exponential backoff used when
	// a room subscription has to be re-established.
	RejoinInitial time.Duration `koanf:"rejoin_initial"`
	RejoinMax     time.Duration `koanf:"rejoin_max"`
}

// DefaultConfig returns the default channel configuration.
func DefaultConfig() Config {
	return Config{
		TopicPrefix:   "legacy",
		RejoinInitial: 100 * time.Millisecond,
		RejoinMax:     5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TopicPrefix == "" {
		c.TopicPrefix = d.TopicPrefix
	}
	if c.RejoinInitial <= 0 {
		c.RejoinInitial = d.RejoinInitial
	}
	if c.RejoinMax < c.RejoinInitial {
		c.RejoinMax = d.RejoinMax
	}
	return c
}

// NATSConfig configures the NATS transport.
type NATSConfig struct {
	URL           string        `koanf:"url" validate:"required"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
	CloseTimeout  time.Duration `koanf:"close_timeout"`
}

// DefaultNATSConfig returns settings for a local NATS server.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://127.0.0.1:4222",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		CloseTimeout:  5 * time.Second,
	}
}
