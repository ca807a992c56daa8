// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package syncclient

import (
	"github.com/tomtom215/quillsync/internal/metrics"
)

// pendingQueue buffers deltas produced while offline. Deltas leave it in
// insertion order and only after a successful send.
type pendingQueue struct {
	items [][]byte
}

func (q *pendingQueue) push(update []byte) {
	q.items = append(q.items, update)
	metrics.ClientPendingUpdates.Inc()
}

// flush sends queued deltas in order and stops at the first failure,
// keeping it and everything after it.
func (q *pendingQueue) flush(send func([]byte) error) (int, error) {
	n := 0
	for n < len(q.items) {
		if err := send(q.items[n]); err != nil {
			q.items = q.items[n:]
			metrics.ClientPendingUpdates.Sub(float64(n))
			return n, err
		}
		n++
	}
	q.items = nil
	metrics.ClientPendingUpdates.Sub(float64(n))
	return n, nil
}

func (q *pendingQueue) len() int {
	return len(q.items)
}

func (q *pendingQueue) reset() {
	metrics.ClientPendingUpdates.Sub(float64(len(q.items)))
	q.items = nil
}
