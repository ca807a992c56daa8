// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

/*
Package services adapts components that do not already speak suture's
Serve(ctx) pattern.

HTTPServerService binds the listener and runs an *http.Server, draining it
with Shutdown when the context is canceled.

EmbeddedNATSService runs an in-process core NATS server for the legacy
event channel. Start can be called before the tree runs so that clients
created during wiring connect immediately.

The relay registry and the outbox retry loop implement Serve themselves
and are added to the tree without a wrapper.
*/
package services
