// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

// Package syncclient is the client side of collaborative editing. A
// Manager owns one Session per open resource; each Session holds a CRDT
// replica, keeps it in sync with the relay room of the resource, mirrors
// title and content changes on the legacy event channel, autosaves to the
// document store and keeps a ring of in-memory snapshots.
package syncclient

import (
	"fmt"
	"time"
)

// Config configures a Manager.
type Config struct {
	// RelayURL is the relay's websocket base URL, e.g. ws://localhost:3857.
	RelayURL string `koanf:"relay_url" validate:"required"`

	// Namespace prefixes collaboration room names: {namespace}-{resourceId}.
	Namespace string `koanf:"namespace" validate:"required"`

	AutosaveInterval time.Duration `koanf:"autosave_interval"`
	SnapshotInterval time.Duration `koanf:"snapshot_interval"`
	SnapshotLimit    int           `koanf:"snapshot_limit"`

	DialTimeout      time.Duration `koanf:"dial_timeout"`
	WriteTimeout     time.Duration `koanf:"write_timeout"`
	ReconnectInitial time.Duration `koanf:"reconnect_initial"`
	ReconnectMax     time.Duration `koanf:"reconnect_max"`

	// SendBuffer is the outbound frame queue of one connection.
	SendBuffer int `koanf:"send_buffer"`

	// SaveTimeout bounds one Store.Save or Store.LoadLatest call.
	SaveTimeout time.Duration `koanf:"save_timeout"`
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		RelayURL:         "ws://127.0.0.1:3857",
		Namespace:        "quill",
		AutosaveInterval: 2 * time.Second,
		SnapshotInterval: 30 * time.Second,
		SnapshotLimit:    10,
		DialTimeout:      5 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReconnectInitial: 250 * time.Millisecond,
		ReconnectMax:     10 * time.Second,
		SendBuffer:       256,
		SaveTimeout:      10 * time.Second,
	}
}

// withDefaults fills non-positive durations and limits from
// DefaultConfig. RelayURL and Namespace are left as given.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AutosaveInterval <= 0 {
		c.AutosaveInterval = d.AutosaveInterval
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = d.SnapshotInterval
	}
	if c.SnapshotLimit <= 0 {
		c.SnapshotLimit = d.SnapshotLimit
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReconnectInitial <= 0 {
		c.ReconnectInitial = d.ReconnectInitial
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = d.ReconnectMax
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = d.SaveTimeout
	}
	return c
}

// Validate checks the intervals and limits.
func (c Config) Validate() error {
	if c.RelayURL == "" {
		return fmt.Errorf("client relay_url is required")
	}
	if c.Namespace == "" {
		return fmt.Errorf("client namespace is required")
	}
	if c.AutosaveInterval <= 0 {
		return fmt.Errorf("client autosave_interval must be positive, got %s", c.AutosaveInterval)
	}
	if c.SnapshotInterval < c.AutosaveInterval {
		return fmt.Errorf("client snapshot_interval (%s) must not be shorter than autosave_interval (%s)", c.SnapshotInterval, c.AutosaveInterval)
	}
	if c.SnapshotLimit <= 0 {
		return fmt.Errorf("client snapshot_limit must be positive, got %d", c.SnapshotLimit)
	}
	if c.DialTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("client dial_timeout and write_timeout must be positive")
	}
	if c.ReconnectInitial <= 0 || c.ReconnectMax < c.ReconnectInitial {
		return fmt.Errorf("client reconnect_max (%s) must be at least reconnect_initial (%s)", c.ReconnectMax, c.ReconnectInitial)
	}
	if c.SaveTimeout <= 0 {
		return fmt.Errorf("client save_timeout must be positive, got %s", c.SaveTimeout)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("client send_buffer must be positive, got %d", c.SendBuffer)
	}
	return nil
}

// RoomFor returns the collaboration room of resourceID.
func RoomFor(namespace, resourceID string) string {
	return namespace + "-" + resourceID
}
