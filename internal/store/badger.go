// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/quillsync/internal/logging"
)

const notePrefix = "note:"

// Badger stores notes as JSON records in BadgerDB.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens the database at path, or an in-memory one when
// inMemory is set.
func OpenBadger(path string, inMemory bool) (*Badger, error) {
	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}
	logging.Info().Str("path", path).Bool("in_memory", inMemory).Msg("note store opened")
	return &Badger{db: db}, nil
}

// LoadLatest implements Store.
func (b *Badger) LoadLatest(ctx context.Context, id string) (string, bool, error) {
	r, err := b.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return r.Content, true, nil
}

// Get returns the stored record of id or ErrNotFound.
func (b *Badger) Get(ctx context.Context, id string) (Record, error) {
	var r Record
	if err := ctx.Err(); err != nil {
		return r, err
	}
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(notePrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &r) })
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return r, fmt.Errorf("load note %s: %w", id, err)
	}
	return r, err
}

// Save implements Store.
func (b *Badger) Save(ctx context.Context, id string, p Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(Record{Patch: p, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal note: %w", err)
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(notePrefix+id), data)
	}); err != nil {
		return fmt.Errorf("save note %s: %w", id, err)
	}
	return nil
}

// Close closes the database.
func (b *Badger) Close() error {
	return b.db.Close()
}
