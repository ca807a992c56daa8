// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package crdt

import "strings"

// item is one inserted rune. Deleted items stay in place as tombstones so
// that later inserts can still reference them as origins.
type item struct {
	id      ID
	lamport uint64
	content string
	deleted bool
}

// after reports whether a sorts before b among siblings sharing an origin.
// Newer inserts come first, ties broken by the higher client ID.
func (a *item) after(lamport, client uint64) bool {
	if a.lamport != lamport {
		return a.lamport > lamport
	}
	return a.id.Client > client
}

// sequence is the linearized RGA for one named text.
type sequence struct {
	items   []*item
	visible int
}

func (s *sequence) indexOf(it *item) int {
	for i, x := range s.items {
		if x == it {
			return i
		}
	}
	return -1
}

// integrate places it right after origin (or at the start), skipping every
// element that belongs to a newer sibling subtree.
func (s *sequence) integrate(it *item, origin *item) {
	idx := 0
	if origin != nil {
		idx = s.indexOf(origin) + 1
	}
	for idx < len(s.items) && s.items[idx].after(it.lamport, it.id.Client) {
		idx++
	}
	s.items = append(s.items, nil)
	copy(s.items[idx+1:], s.items[idx:])
	s.items[idx] = it
	s.visible++
}

func (s *sequence) remove(it *item) {
	if !it.deleted {
		it.deleted = true
		s.visible--
	}
}

// visibleAt returns the n-th visible item (0-based) or nil.
func (s *sequence) visibleAt(n int) *item {
	for _, it := range s.items {
		if it.deleted {
			continue
		}
		if n == 0 {
			return it
		}
		n--
	}
	return nil
}

func (s *sequence) String() string {
	var b strings.Builder
	for _, it := range s.items {
		if !it.deleted {
			b.WriteString(it.content)
		}
	}
	return b.String()
}
