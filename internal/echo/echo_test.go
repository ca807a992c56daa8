// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package echo

import (
	"testing"
	"time"

	"github.com/tomtom215/quillsync/internal/cache"
)

func TestShouldEmit(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(c *Cache)
		content string
		want    bool
	}{
		{"fresh cache", func(*Cache) {}, "hello", true},
		{"same as last sent", func(c *Cache) { c.RecordSent(FieldContent, "hello") }, "hello", false},
		{"changed since sent", func(c *Cache) { c.RecordSent(FieldContent, "hello") }, "hello!", true},
		{"just received from peer", func(c *Cache) { c.RecordReceived(FieldContent, "bob", "hello") }, "hello", false},
		{"other field received", func(c *Cache) { c.RecordReceived(FieldTitle, "bob", "hello") }, "hello", true},
		{"earlier receive from another author", func(c *Cache) {
			c.RecordReceived(FieldContent, "alice", "hello")
			c.RecordReceived(FieldContent, "bob", "bye")
		}, "hello", false},
		{"superseded by the same author", func(c *Cache) {
			c.RecordReceived(FieldContent, "bob", "hello")
			c.RecordReceived(FieldContent, "bob", "bye")
		}, "hello", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(DefaultConfig())
			tt.prepare(c)
			if got := c.ShouldEmit(FieldContent, tt.content); got != tt.want {
				t.Errorf("ShouldEmit() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPerAuthorEntriesAreBounded(t *testing.T) {
	c := New(Config{MaxAuthors: 2, TTL: time.Minute})
	c.RecordReceived(FieldTitle, "a", "1")
	c.RecordReceived(FieldTitle, "b", "2")
	c.RecordReceived(FieldTitle, "c", "3")

	if _, ok := c.LastFrom(FieldTitle, "a"); ok {
		t.Error("oldest author entry should have been evicted")
	}
	if v, ok := c.LastFrom(FieldTitle, "c"); !ok || v != "3" {
		t.Errorf("LastFrom(c) = %q, %v", v, ok)
	}
}

func TestPerAuthorEntriesExpire(t *testing.T) {
	now := time.Unix(0, 0)
	c := New(Config{MaxAuthors: 10, TTL: time.Minute}, cache.WithClock(func() time.Time { return now }))
	c.RecordReceived(FieldContent, "a", "x")
	now = now.Add(2 * time.Minute)
	if _, ok := c.LastFrom(FieldContent, "a"); ok {
		t.Error("author entry should have expired")
	}
}

func TestExpiredAuthorNoLongerSuppresses(t *testing.T) {
	now := time.Unix(0, 0)
	c := New(Config{MaxAuthors: 10, TTL: time.Minute}, cache.WithClock(func() time.Time { return now }))
	c.RecordReceived(FieldContent, "alice", "x")
	c.RecordReceived(FieldContent, "bob", "y")
	if c.ShouldEmit(FieldContent, "x") {
		t.Fatal("ShouldEmit(x) = true while alice's entry is live")
	}

	now = now.Add(2 * time.Minute)
	if !c.ShouldEmit(FieldContent, "x") {
		t.Error("ShouldEmit(x) = false after alice's entry expired")
	}
	if c.ShouldEmit(FieldContent, "y") {
		t.Error("ShouldEmit(y) = true; y is the last value received")
	}
}

func TestClear(t *testing.T) {
	c := New(DefaultConfig())
	c.RecordSent(FieldTitle, "t")
	c.RecordReceived(FieldContent, "a", "x")
	c.Clear()

	if !c.ShouldEmit(FieldTitle, "t") || !c.ShouldEmit(FieldContent, "x") {
		t.Error("Clear left suppression state behind")
	}
	if _, ok := c.LastFrom(FieldContent, "a"); ok {
		t.Error("Clear left author entries behind")
	}
}
