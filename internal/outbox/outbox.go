// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/quillsync/internal/logging"
	"github.com/tomtom215/quillsync/internal/metrics"
	"github.com/tomtom215/quillsync/internal/protocol"
)

var (
	// ErrClosed is returned by operations on a closed outbox.
	ErrClosed = errors.New("outbox: closed")

	// ErrNilEntry is returned when enqueuing a notification without a type.
	ErrNilEntry = errors.New("outbox: nil entry")

	// ErrEmptyEntryID is returned when an operation is given an empty ID.
	ErrEmptyEntryID = errors.New("outbox: empty entry id")

	// ErrEntryNotFound is returned when the entry does not exist.
	ErrEntryNotFound = errors.New("outbox: entry not found")
)

const (
	prefixPending   = "pending:"
	prefixConfirmed = "confirmed:"
)

// Entry is one queued delivery.
type Entry struct {
	ID            string                       `json:"id"`
	UserID        string                       `json:"user_id"`
	Notification  protocol.NotificationMessage `json:"notification"`
	CreatedAt     time.Time                    `json:"created_at"`
	Attempts      int                          `json:"attempts"`
	LastAttemptAt time.Time                    `json:"last_attempt_at,omitempty"`
	LastError     string                       `json:"last_error,omitempty"`
	ConfirmedAt   *time.Time                   `json:"confirmed_at,omitempty"`
}

// Stats counts stored entries.
type Stats struct {
	Pending   int64
	Confirmed int64
}

// Outbox stores undelivered notifications in BadgerDB.
type Outbox struct {
	db  *badger.DB
	cfg Config

	mu     sync.RWMutex
	closed bool

	// Entries currently being redelivered.
	processing sync.Map
}

// Open opens (or creates) the outbox described by cfg.
func Open(cfg Config) (*Outbox, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid outbox config: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites && !cfg.InMemory
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Msg("outbox opened")
	return &Outbox{db: db, cfg: cfg}, nil
}

// Config returns the configuration the outbox was opened with.
func (o *Outbox) Config() Config {
	return o.cfg
}

func (o *Outbox) checkOpen() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrClosed
	}
	return nil
}

// Ping reports whether the outbox is open and its database answers a read.
func (o *Outbox) Ping(ctx context.Context) error {
	if err := o.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return o.db.View(func(*badger.Txn) error { return nil })
}

// Enqueue stores a delivery of msg to userID and returns its entry ID.
func (o *Outbox) Enqueue(ctx context.Context, userID string, msg protocol.NotificationMessage) (string, error) {
	if err := o.checkOpen(); err != nil {
		return "", err
	}
	if userID == "" || msg.Type == "" {
		return "", ErrNilEntry
	}

	entry := Entry{
		ID:           uuid.New().String(),
		UserID:       userID,
		Notification: msg,
		CreatedAt:    time.Now().UTC(),
	}
	data, err := json.Marshal(&entry)
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}

	err = o.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(prefixPending+entry.ID), data).WithTTL(o.cfg.EntryTTL))
	})
	if err != nil {
		return "", fmt.Errorf("write entry: %w", err)
	}

	metrics.OutboxPending.Inc()
	logging.Ctx(ctx).Debug().Str("entry_id", entry.ID).Str("user_id", userID).Msg("notification queued for retry")
	return entry.ID, nil
}

// Confirm moves an entry from pending to confirmed.
func (o *Outbox) Confirm(ctx context.Context, entryID string) error {
	if err := o.checkOpen(); err != nil {
		return err
	}
	if entryID == "" {
		return ErrEmptyEntryID
	}

	err := o.db.Update(func(txn *badger.Txn) error {
		entry, err := getEntry(txn, prefixPending+entryID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		entry.ConfirmedAt = &now
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal confirmed entry: %w", err)
		}
		if err := txn.Set([]byte(prefixConfirmed+entryID), data); err != nil {
			return fmt.Errorf("set confirmed entry: %w", err)
		}
		return txn.Delete([]byte(prefixPending + entryID))
	})
	if err != nil {
		return err
	}
	metrics.OutboxPending.Dec()
	return nil
}

// Pending returns every unconfirmed entry from one consistent snapshot.
func (o *Outbox) Pending(ctx context.Context) ([]*Entry, error) {
	if err := o.checkOpen(); err != nil {
		return nil, err
	}

	var entries []*Entry
	err := o.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var entry Entry
			item := it.Item()
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &entry) }); err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("outbox skipping unreadable entry")
				continue
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate pending entries: %w", err)
	}
	return entries, nil
}

// RecordAttempt bumps an entry's attempt count after a failed redelivery.
func (o *Outbox) RecordAttempt(ctx context.Context, entryID string, at time.Time, lastError string) error {
	if err := o.checkOpen(); err != nil {
		return err
	}
	if entryID == "" {
		return ErrEmptyEntryID
	}

	return o.db.Update(func(txn *badger.Txn) error {
		key := prefixPending + entryID
		entry, err := getEntry(txn, key)
		if err != nil {
			return err
		}
		entry.Attempts++
		entry.LastAttemptAt = at.UTC()
		entry.LastError = lastError
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		return txn.SetEntry(badger.NewEntry([]byte(key), data).WithTTL(o.cfg.EntryTTL))
	})
}

// Delete removes an entry in either state.
func (o *Outbox) Delete(ctx context.Context, entryID string) error {
	if err := o.checkOpen(); err != nil {
		return err
	}
	if entryID == "" {
		return ErrEmptyEntryID
	}

	var wasPending bool
	err := o.db.Update(func(txn *badger.Txn) error {
		for _, key := range []string{prefixPending + entryID, prefixConfirmed + entryID} {
			if _, err := txn.Get([]byte(key)); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			wasPending = key == prefixPending+entryID
			return txn.Delete([]byte(key))
		}
		return ErrEntryNotFound
	})
	if err == nil && wasPending {
		metrics.OutboxPending.Dec()
	}
	return err
}

// Compact removes confirmed entries and returns how many were removed.
func (o *Outbox) Compact(ctx context.Context) (int, error) {
	if err := o.checkOpen(); err != nil {
		return 0, err
	}

	var keys [][]byte
	err := o.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(prefixConfirmed)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil || len(keys) == 0 {
		return 0, err
	}

	wb := o.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("delete confirmed entry: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush compaction: %w", err)
	}
	return len(keys), nil
}

// TryClaim marks an entry as in flight. It returns false if another
// goroutine already holds it. Callers release with Release.
func (o *Outbox) TryClaim(entryID string) bool {
	_, held := o.processing.LoadOrStore(entryID, struct{}{})
	return !held
}

// Release ends a claim taken with TryClaim.
func (o *Outbox) Release(entryID string) {
	o.processing.Delete(entryID)
}

// Stats counts pending and confirmed entries.
func (o *Outbox) Stats() Stats {
	var st Stats
	if o.checkOpen() != nil {
		return st
	}
	err := o.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for p, n := range map[string]*int64{prefixPending: &st.Pending, prefixConfirmed: &st.Confirmed} {
			prefix := []byte(p)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				*n++
			}
		}
		return nil
	})
	if err != nil {
		logging.Warn().Err(err).Msg("outbox stats failed to count entries")
	}
	metrics.OutboxPending.Set(float64(st.Pending))
	return st
}

// Close closes the database. Later calls return ErrClosed.
func (o *Outbox) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	if err := o.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	logging.Info().Msg("outbox closed")
	return nil
}

func getEntry(txn *badger.Txn, key string) (*Entry, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	var entry Entry
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &entry) }); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	return &entry, nil
}
