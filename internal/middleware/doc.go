// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

/*
Package middleware provides the HTTP middleware shared by the Quillsync API.

Key Components:

  - RequestID: request and correlation IDs for distributed tracing
  - RequestLogger: one structured zerolog line per request
  - PrometheusMetrics: request counts, latency and in-flight requests

All three keep the http.Hijacker of the wrapped writer reachable, so they
can sit in front of websocket upgrades.

Middleware Stack:

The api package adapts these http.HandlerFunc middlewares to chi:

	r.Use(chiMiddleware(middleware.RequestID))
	r.Use(chiMiddleware(middleware.RequestLogger))
	r.Use(chiMiddleware(middleware.PrometheusMetrics))

Request Tracing:

X-Request-ID is honored when present and generated otherwise. The
correlation ID is taken from X-Correlation-ID when a caller such as the
notification bridge forwards one, so one user action can be followed across
the relay, the bridge and the outbox:

	logging.Ctx(r.Context()).Info().Msg("notification accepted")
*/
package middleware
