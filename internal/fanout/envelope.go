// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package fanout

import (
	"errors"

	"github.com/google/uuid"
)

// ChannelPrefix is prepended to the room name to form the pub/sub channel.
const ChannelPrefix = "quillsync:room:"

// ErrShortEnvelope is returned for a message too short to carry a node ID.
var ErrShortEnvelope = errors.New("fanout: envelope shorter than node id")

// Channel returns the pub/sub channel for room.
func Channel(room string) string {
	return ChannelPrefix + room
}

// seal prefixes frame with the publishing node's ID.
func seal(node uuid.UUID, frame []byte) []byte {
	out := make([]byte, 0, len(node)+len(frame))
	out = append(out, node[:]...)
	return append(out, frame...)
}

// open splits an envelope into the sender and the frame.
func open(b []byte) (uuid.UUID, []byte, error) {
	var node uuid.UUID
	if len(b) < len(node) {
		return node, nil, ErrShortEnvelope
	}
	copy(node[:], b[:len(node)])
	return node, b[len(node):], nil
}
