// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package fanout

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type subscriber struct {
	node uuid.UUID
	fn   func([]byte)
}

// Hub is an in-process message bus shared by Local nodes.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]subscriber
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]subscriber)}
}

// Node returns a Fanout endpoint with its own identity.
func (h *Hub) Node() *Local {
	return &Local{hub: h, id: uuid.New()}
}

// Local is one node attached to a Hub.
type Local struct {
	hub *Hub
	id  uuid.UUID
}

// ID returns the node identity.
func (l *Local) ID() uuid.UUID {
	return l.id
}

// Subscribe registers fn for frames published to room by other nodes.
func (l *Local) Subscribe(room string, fn func(frame []byte)) (func(), error) {
	h := l.hub
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	ch := Channel(room)
	if h.subs[ch] == nil {
		h.subs[ch] = make(map[uint64]subscriber)
	}
	h.subs[ch][id] = subscriber{node: l.id, fn: fn}
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[ch], id)
			if len(h.subs[ch]) == 0 {
				delete(h.subs, ch)
			}
		})
	}, nil
}

// Publish delivers frame synchronously to every other node's subscribers.
func (l *Local) Publish(ctx context.Context, room string, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h := l.hub
	h.mu.RLock()
	targets := make([]func([]byte), 0, len(h.subs[Channel(room)]))
	for _, s := range h.subs[Channel(room)] {
		if s.node != l.id {
			targets = append(targets, s.fn)
		}
	}
	h.mu.RUnlock()

	for _, fn := range targets {
		fn(frame)
	}
	return nil
}
