// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

// Package echo suppresses redundant legacy-channel emits. A session mirrors
// title and content changes as discrete events; an emit is skipped when it
// repeats what this session last sent or what a peer just sent.
package echo

import (
	"sync"
	"time"

	"github.com/tomtom215/quillsync/internal/cache"
)

// Fields mirrored on the legacy channel.
const (
	FieldTitle   = "title"
	FieldContent = "content"
)

// Config bounds the per-author entries.
type Config struct {
	MaxAuthors int
	TTL        time.Duration
}

// DefaultConfig returns the defaults used by sessions.
func DefaultConfig() Config {
	return Config{MaxAuthors: 256, TTL: 10 * time.Minute}
}

// Cache remembers the last value sent per field, the last value received
// per field, and the last value received per author and field.
type Cache struct {
	mu           sync.Mutex
	maxAuthors   int
	lastSent     map[string]string
	lastReceived map[string]string
	byAuthor     *cache.LRU[string]
	// authors indexes byAuthor by field. Entries whose LRU value expired or
	// was evicted are pruned lazily.
	authors map[string]map[string]struct{}
}

// New creates an empty cache.
func New(cfg Config, opts ...cache.Option) *Cache {
	d := DefaultConfig()
	if cfg.MaxAuthors <= 0 {
		cfg.MaxAuthors = d.MaxAuthors
	}
	if cfg.TTL <= 0 {
		cfg.TTL = d.TTL
	}
	return &Cache{
		maxAuthors:   cfg.MaxAuthors,
		lastSent:     make(map[string]string),
		lastReceived: make(map[string]string),
		byAuthor:     cache.NewLRU[string](cfg.MaxAuthors, cfg.TTL, opts...),
		authors:      make(map[string]map[string]struct{}),
	}
}

// ShouldEmit reports whether content differs from the last value sent for
// field and from every unexpired value received for it from any author.
func (c *Cache) ShouldEmit(field, content string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sent, ok := c.lastSent[field]; ok && sent == content {
		return false
	}
	if recv, ok := c.lastReceived[field]; ok && recv == content {
		return false
	}
	for authorID := range c.authors[field] {
		v, ok := c.byAuthor.Get(authorKey(field, authorID))
		if !ok {
			delete(c.authors[field], authorID)
			continue
		}
		if v == content {
			return false
		}
	}
	return true
}

// RecordSent remembers content as the last value sent for field.
func (c *Cache) RecordSent(field, content string) {
	c.mu.Lock()
	c.lastSent[field] = content
	c.mu.Unlock()
}

// RecordReceived remembers content as received from authorID.
func (c *Cache) RecordReceived(field, authorID, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastReceived[field] = content
	c.byAuthor.Add(authorKey(field, authorID), content)

	set := c.authors[field]
	if set == nil {
		set = make(map[string]struct{})
		c.authors[field] = set
	}
	set[authorID] = struct{}{}
	if len(set) > c.maxAuthors {
		c.pruneLocked(field)
	}
}

// pruneLocked drops index entries whose LRU value is gone.
func (c *Cache) pruneLocked(field string) {
	for authorID := range c.authors[field] {
		if _, ok := c.byAuthor.Get(authorKey(field, authorID)); !ok {
			delete(c.authors[field], authorID)
		}
	}
}

// LastFrom returns the last value received from authorID for field.
func (c *Cache) LastFrom(field, authorID string) (string, bool) {
	return c.byAuthor.Get(authorKey(field, authorID))
}

// Clear forgets everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.lastSent = make(map[string]string)
	c.lastReceived = make(map[string]string)
	c.authors = make(map[string]map[string]struct{})
	c.byAuthor.Clear()
	c.mu.Unlock()
}

func authorKey(field, authorID string) string {
	return field + "\x00" + authorID
}
