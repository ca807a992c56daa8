// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

// Package outbox is a durable queue of notification deliveries that failed
// on the first attempt. Entries are persisted to BadgerDB and redelivered by
// a RetryLoop with exponential backoff until they are confirmed, exceed
// MaxRetries or outlive EntryTTL.
package outbox

import (
	"errors"
	"fmt"
	"time"
)

// Config controls storage and retry behavior.
type Config struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string `koanf:"path"`

	// InMemory keeps the queue in memory only. Used by tests and by
	// deployments that accept losing queued notifications on restart.
	InMemory bool `koanf:"in_memory"`

	// SyncWrites forces fsync on every write.
	SyncWrites bool `koanf:"sync_writes"`

	// RetryInterval is the time between retry passes.
	RetryInterval time.Duration `koanf:"retry_interval"`

	// MaxRetries is the number of failed redeliveries after which an entry
	// is discarded.
	MaxRetries int `koanf:"max_retries"`

	// RetryBackoff is the base of the exponential backoff.
	RetryBackoff time.Duration `koanf:"retry_backoff"`

	// MaxBackoff caps the backoff.
	MaxBackoff time.Duration `koanf:"max_backoff"`

	// EntryTTL is how long an undelivered entry is kept.
	EntryTTL time.Duration `koanf:"entry_ttl"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Path:          "/data/outbox",
		SyncWrites:    true,
		RetryInterval: 10 * time.Second,
		MaxRetries:    20,
		RetryBackoff:  2 * time.Second,
		MaxBackoff:    5 * time.Minute,
		EntryTTL:      24 * time.Hour,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return errors.New("outbox path is required unless in_memory is set")
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("outbox retry_interval must be positive, got %s", c.RetryInterval)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("outbox max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.RetryBackoff <= 0 {
		return fmt.Errorf("outbox retry_backoff must be positive, got %s", c.RetryBackoff)
	}
	if c.MaxBackoff < c.RetryBackoff {
		return fmt.Errorf("outbox max_backoff (%s) must not be below retry_backoff (%s)", c.MaxBackoff, c.RetryBackoff)
	}
	if c.EntryTTL <= 0 {
		return fmt.Errorf("outbox entry_ttl must be positive, got %s", c.EntryTTL)
	}
	return nil
}
