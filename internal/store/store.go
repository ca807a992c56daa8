// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

// Package store is the document persistence collaborator of a sync
// session: it loads the latest saved content of a note for seeding and
// saves title and content on autosave.
//
// Implementations:
//   - Memory: process-local, for tests and the agent's offline mode
//   - Badger: embedded BadgerDB
//   - Gorm: a relational notes table through GORM (MySQL driver)
package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by backends that distinguish a missing note
// from an empty one. LoadLatest reports absence with ok=false instead.
var ErrNotFound = errors.New("store: note not found")

// Patch is the set of fields an autosave writes.
type Patch struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Record is a stored note.
type Record struct {
	Patch
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists notes.
type Store interface {
	// LoadLatest returns the saved content of id; ok is false when nothing
	// was saved yet.
	LoadLatest(ctx context.Context, id string) (content string, ok bool, err error)
	Save(ctx context.Context, id string, p Patch) error
}

// Memory is an in-process Store.
type Memory struct {
	mu    sync.RWMutex
	notes map[string]Record
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{notes: make(map[string]Record)}
}

// LoadLatest implements Store.
func (m *Memory) LoadLatest(ctx context.Context, id string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.notes[id]
	return r.Content, ok, nil
}

// Save implements Store.
func (m *Memory) Save(ctx context.Context, id string, p Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes[id] = Record{Patch: p, UpdatedAt: time.Now().UTC()}
	return nil
}

// Get returns the full record of id.
func (m *Memory) Get(id string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.notes[id]
	return r, ok
}
