// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package crdt

import "errors"

var (
	// ErrMalformedUpdate is returned when an update or state vector cannot be
	// decoded or contains an invalid operation. Nothing from it is merged.
	ErrMalformedUpdate = errors.New("crdt: malformed update")

	// ErrOutOfRange is returned for local edits addressing positions outside
	// the current text.
	ErrOutOfRange = errors.New("crdt: edit out of range")

	// ErrDestroyed is returned by operations on a destroyed document.
	ErrDestroyed = errors.New("crdt: document destroyed")
)
