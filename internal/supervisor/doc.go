// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

/*
Package supervisor runs the relay server's long-lived services under a
suture v4 supervisor tree.

# Layout

	root ("quillsync")
	├── LayerData ("data-layer")
	│   └── outbox.RetryLoop
	├── LayerMessaging ("messaging-layer")
	│   ├── services.EmbeddedNATSService (if nats.embedded)
	│   └── relay.Registry (handshake janitor, room shutdown)
	└── LayerAPI ("api-layer")
	    └── services.HTTPServerService

Each layer restarts independently. A service that keeps failing trips
the FailureThreshold and is backed off for FailureBackoff before the
next attempt.

# Events

Supervisor events are written to a *slog.Logger through sutureslog. The
server passes logging.NewSlogLogger so the events share the zerolog
output of the rest of the process.

# Usage

	tree := supervisor.New(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.Add(supervisor.LayerData, retryLoop)
	tree.Add(supervisor.LayerMessaging, registry)
	tree.Add(supervisor.LayerAPI, services.NewHTTPServerService(srv, addr, 10*time.Second))
	return tree.Serve(ctx)

Services live in the services subpackage; any value with
Serve(context.Context) error can be added directly.
*/
package supervisor
