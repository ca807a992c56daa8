// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

/*
Package api exposes the relay server over HTTP using the chi router.

Routes:

	GET  /ws/{room}           websocket relay connection for a room
	GET  /ws?room=            same, room from the query string
	GET  /health/live         liveness probe
	GET  /health/ready        readiness probe (runs the registered checks)
	GET  /metrics             Prometheus metrics
	POST /internal/v1/notify  notification ingress for backend services
	POST /internal/v1/token   development token issuer (auth.dev_tokens only)

Every route gets request and correlation IDs, panic recovery and real-IP
extraction. CORS is global so that preflight requests are answered.
Websocket upgrades and the ingress are rate-limited per client IP with
httprate.

Responses are JSON. Errors use one envelope:

	{"status":"error","error":{"code":"VALIDATION_ERROR","message":"..."}}

The ingress needs a bearer token whose role may call the ingress or publish
notifications under the casbin policy.
*/
package api
