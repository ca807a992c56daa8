// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package crdt

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// ID identifies one operation: the replica that created it and that
// replica's sequence number. Clocks of one client are contiguous from 0.
type ID struct {
	Client uint64
	Clock  uint64
}

func (id ID) String() string {
	return fmt.Sprintf("%d:%d", id.Client, id.Clock)
}

// Kind is the operation type.
type Kind uint8

const (
	KindInsert Kind = 1
	KindDelete Kind = 2
)

// Op is a single replicated operation. Inserts carry exactly one rune and
// the ID of the element they were inserted after (nil for the start of the
// text). Deletes carry the ID of the element they remove.
type Op struct {
	ID      ID
	Lamport uint64
	Kind    Kind
	Text    string
	Origin  *ID
	Target  ID
	Content string
}

// Update is a decoded delta.
type Update struct {
	Ops []Op
}

// StateVector maps a client to the next clock it expects from that client,
// which is also the number of that client's operations already integrated.
type StateVector map[uint64]uint64

// Clone returns an independent copy.
func (sv StateVector) Clone() StateVector {
	out := make(StateVector, len(sv))
	for k, v := range sv {
		out[k] = v
	}
	return out
}

// Missing returns how many operations known to sv are absent from other.
func (sv StateVector) Missing(other StateVector) uint64 {
	var n uint64
	for client, clock := range sv {
		if have := other[client]; clock > have {
			n += clock - have
		}
	}
	return n
}

// clients returns the client IDs in ascending order.
func (sv StateVector) clients() []uint64 {
	out := make([]uint64, 0, len(sv))
	for c := range sv {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Origin tags why a document changed so observers can tell locally authored
// edits from merged network state.
type Origin uint8

const (
	OriginLocal Origin = iota
	OriginRemote
	OriginSeed
	OriginRestore
)

func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	case OriginSeed:
		return "seed"
	case OriginRestore:
		return "restore"
	default:
		return "unknown"
	}
}

// Edit is a local splice: remove Delete runes at Pos, then insert Insert there.
type Edit struct {
	Text   string
	Pos    int
	Delete int
	Insert string
}

// NewClientID returns a random non-zero client identifier.
func NewClientID() uint64 {
	for {
		u := uuid.New()
		if id := binary.BigEndian.Uint64(u[:8]); id != 0 {
			return id
		}
	}
}
