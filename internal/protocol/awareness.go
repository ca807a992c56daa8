// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package protocol

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
	"google.golang.org/protobuf/encoding/protowire"
)

// AwarenessEntry is one client's presence state. A nil or JSON null State
// announces that the client left.
type AwarenessEntry struct {
	ClientID uint64
	Clock    uint64
	State    json.RawMessage
}

// Removed reports whether the entry announces a departure.
func (e AwarenessEntry) Removed() bool {
	return len(e.State) == 0 || bytes.Equal(e.State, []byte("null"))
}

// AwarenessUpdate is the payload of an Awareness frame:
// varint count, then per entry varint client, varint clock and a
// length-prefixed JSON state.
type AwarenessUpdate struct {
	Entries []AwarenessEntry
}

// EncodeAwareness serializes u.
func EncodeAwareness(u AwarenessUpdate) []byte {
	b := protowire.AppendVarint(nil, uint64(len(u.Entries)))
	for _, e := range u.Entries {
		state := e.State
		if len(state) == 0 {
			state = json.RawMessage("null")
		}
		b = protowire.AppendVarint(b, e.ClientID)
		b = protowire.AppendVarint(b, e.Clock)
		b = protowire.AppendBytes(b, state)
	}
	return b
}

// DecodeAwareness parses an awareness payload and checks every state is
// valid JSON.
func DecodeAwareness(b []byte) (AwarenessUpdate, error) {
	var u AwarenessUpdate
	count, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return u, fmt.Errorf("%w: awareness count: %v", ErrMalformedFrame, protowire.ParseError(n))
	}
	b = b[n:]
	// Each entry takes at least three bytes.
	if count > uint64(len(b)/3) {
		return u, fmt.Errorf("%w: awareness count %d exceeds payload", ErrMalformedFrame, count)
	}
	u.Entries = make([]AwarenessEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		var e AwarenessEntry
		if e.ClientID, n = protowire.ConsumeVarint(b); n < 0 {
			return u, fmt.Errorf("%w: awareness client: %v", ErrMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]
		if e.Clock, n = protowire.ConsumeVarint(b); n < 0 {
			return u, fmt.Errorf("%w: awareness clock: %v", ErrMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]
		state, m := protowire.ConsumeBytes(b)
		if m < 0 {
			return u, fmt.Errorf("%w: awareness state: %v", ErrMalformedFrame, protowire.ParseError(m))
		}
		b = b[m:]
		if !json.Valid(state) {
			return u, fmt.Errorf("%w: awareness state for client %d is not JSON", ErrMalformedFrame, e.ClientID)
		}
		e.State = append(json.RawMessage(nil), state...)
		u.Entries = append(u.Entries, e)
	}
	if len(b) != 0 {
		return u, fmt.Errorf("%w: %d trailing awareness bytes", ErrMalformedFrame, len(b))
	}
	return u, nil
}
