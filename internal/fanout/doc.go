// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

/*
Package fanout carries relay frames between relay instances that serve the
same room.

Each instance subscribes to a channel per active room and publishes the
frames it merged locally. Frames carry the publishing node's ID so that a
node never receives its own frames back.

Two implementations are provided:

  - Local: an in-process hub. Every Node obtained from the same Hub sees the
    others' frames. Used by tests and single-binary multi-registry setups.
  - Redis: redis pub/sub through go-redis. Used when several relay
    processes sit behind one load balancer.
*/
package fanout
