// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package syncclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/quillsync/internal/crdt"
)

// ErrNoSnapshot is returned by Restore for an index outside the ring.
var ErrNoSnapshot = errors.New("syncclient: no such snapshot")

// Snapshot is a point-in-time full state of a replica.
type Snapshot struct {
	TakenAt time.Time
	State   []byte
}

// Texts decodes the snapshot into its title and content.
func (s Snapshot) Texts() (title, content string, err error) {
	doc := crdt.New()
	defer doc.Destroy()
	if err := doc.ApplyRemote(s.State, crdt.OriginRestore); err != nil {
		return "", "", fmt.Errorf("decode snapshot: %w", err)
	}
	return doc.Text(TextTitle), doc.Text(TextContent), nil
}

// ring is a fixed-capacity buffer that evicts the oldest snapshot first.
type ring struct {
	buf   []Snapshot
	start int
	n     int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]Snapshot, capacity)}
}

func (r *ring) push(s Snapshot) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = s
		r.n++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

// list returns the snapshots oldest first.
func (r *ring) list() []Snapshot {
	out := make([]Snapshot, r.n)
	for i := range out {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *ring) at(i int) (Snapshot, bool) {
	if i < 0 || i >= r.n {
		return Snapshot{}, false
	}
	return r.buf[(r.start+i)%len(r.buf)], true
}
