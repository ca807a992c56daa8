// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

/*
Command server runs the Quillsync relay.

The relay accepts WebSocket connections on /ws/{room}, keeps one CRDT
replica per room and forwards SYNC, AWARENESS and NOTIFICATION frames
between the members. Backend services push notifications through
POST /internal/v1/notify; the built-in notification bridge delivers them
to each user's notification room and queues failures in a BadgerDB
outbox that is retried with backoff.

# Process Layout

	RootSupervisor ("quillsync")
	├── DataSupervisor ("data-layer")
	│   └── outbox retry loop
	├── MessagingSupervisor ("messaging-layer")
	│   ├── embedded NATS server (if NATS_ENABLED and NATS_EMBEDDED)
	│   └── relay registry (handshake janitor)
	└── APISupervisor ("api-layer")
	    └── HTTP server

The embedded NATS server carries the legacy event channel used by
sync agents. With REDIS_ENABLED the relay fans frames out to other relay
instances through redis pub/sub.

# Configuration

Configuration is loaded via Koanf v2 (highest priority wins):
  - Environment variables, e.g. HTTP_PORT, JWT_SECRET, RELAY_NAMESPACE
  - Config file (config.yaml, or the path in CONFIG_PATH)
  - Built-in defaults

JWT_SECRET (32+ characters) is required.

# Signal Handling

SIGINT and SIGTERM cancel the supervisor tree. The HTTP server drains for
HTTP_SHUTDOWN_TIMEOUT, the registry closes every WebSocket with a
going-away frame, then the bridge, the outbox and the fan-out are closed.

# Example

	export JWT_SECRET=$(openssl rand -base64 48)
	export AUTH_DEV_TOKENS=true
	./server
*/
package main
