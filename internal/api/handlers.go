// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/quillsync/internal/auth"
	"github.com/tomtom215/quillsync/internal/bridge"
	"github.com/tomtom215/quillsync/internal/protocol"
	"github.com/tomtom215/quillsync/internal/relay"
)

// Notifier delivers a notification to every open client of each user.
// *bridge.Bridge implements it.
type Notifier interface {
	BroadcastToUsers(ctx context.Context, userIDs []string, msg protocol.NotificationMessage) bridge.BroadcastResult
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type namedCheck struct {
	name  string
	check ReadinessCheck
}

// Handler contains dependencies for API handlers.
//
// Handler methods are split across files:
//   - handlers_health.go: liveness and readiness probes
//   - handlers_notify.go: notification ingress
//   - handlers_token.go: development token issuer
type Handler struct {
	relay     *relay.Handler
	registry  *relay.Registry
	gate      *auth.Gate
	jwt       *auth.JWTManager
	notifier  Notifier
	checks    []namedCheck
	startTime time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithRegistry reports room counts in the readiness probe.
func WithRegistry(r *relay.Registry) HandlerOption {
	return func(h *Handler) {
		h.registry = r
	}
}

// WithNotifier enables POST /internal/v1/notify.
func WithNotifier(n Notifier) HandlerOption {
	return func(h *Handler) {
		h.notifier = n
	}
}

// WithTokenIssuer enables POST /internal/v1/token.
func WithTokenIssuer(jwt *auth.JWTManager) HandlerOption {
	return func(h *Handler) {
		h.jwt = jwt
	}
}

// WithReadinessCheck adds a dependency to GET /health/ready.
func WithReadinessCheck(name string, check ReadinessCheck) HandlerOption {
	return func(h *Handler) {
		h.checks = append(h.checks, namedCheck{name: name, check: check})
	}
}

// NewHandler creates the API handler. relayHandler serves websocket
// upgrades; gate authenticates the internal endpoints.
func NewHandler(relayHandler *relay.Handler, gate *auth.Gate, opts ...HandlerOption) *Handler {
	h := &Handler{
		relay:     relayHandler,
		gate:      gate,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WebSocketRoom upgrades GET /ws/{room}.
func (h *Handler) WebSocketRoom(w http.ResponseWriter, r *http.Request) {
	h.relay.ServeRoom(w, r, strings.TrimSpace(chi.URLParam(r, "room")))
}

// WebSocket upgrades GET /ws?room=.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	h.relay.ServeHTTP(w, r)
}
