// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package relay

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/quillsync/internal/auth"
	"github.com/tomtom215/quillsync/internal/authz"
	"github.com/tomtom215/quillsync/internal/logging"
)

// Handler upgrades HTTP requests into relay connections.
type Handler struct {
	registry *Registry
	gate     *auth.Gate
	cfg      Config
	origins  []string
}

// NewHandler creates a websocket handler. A nil gate treats every
// connection as anonymous, which never allows NOTIFICATION frames.
func NewHandler(registry *Registry, gate *auth.Gate, cfg Config, allowedOrigins []string) *Handler {
	return &Handler{
		registry: registry,
		gate:     gate,
		cfg:      cfg.withDefaults(),
		origins:  allowedOrigins,
	}
}

// ServeRoom upgrades the request and attaches the connection to room.
// Authentication failures are answered with 401 before the upgrade; an
// empty room is answered after it with a policy-violation close frame.
func (h *Handler) ServeRoom(w http.ResponseWriter, r *http.Request, room string) {
	principal := auth.Anonymous
	canNotify := false
	if h.gate != nil {
		p, err := h.gate.Authenticate(r)
		if err != nil {
			logging.Warn().Err(err).Str("room", room).Msg("websocket authentication failed")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		principal = p
		if !h.gate.Allowed(p, authz.ObjectRoom, authz.ActionJoin) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		canNotify = h.gate.Allowed(p, authz.ObjectNotification, authz.ActionPublish)
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: h.cfg.HandshakeTimeout,
		CheckOrigin: func(r *http.Request) bool {
			return h.checkOrigin(r, principal)
		},
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Str("room", room).Msg("websocket upgrade failed")
		return
	}

	conn := NewConn(ws, principal, canNotify, h.cfg)
	if err := conn.Start(h.registry, room); err != nil && !errors.Is(err, ErrEmptyRoom) {
		logging.Error().Err(err).Str("room", room).Msg("failed to start connection")
	}
}

// ServeHTTP reads the room from the room query parameter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.ServeRoom(w, r, strings.TrimSpace(r.URL.Query().Get("room")))
}

// checkOrigin accepts listed browser origins. Requests without an Origin
// header come from non-browser peers and must carry a token.
func (h *Handler) checkOrigin(r *http.Request, p auth.Principal) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return p.Role != auth.RoleAnonymous || len(h.origins) == 0
	}
	if len(h.origins) == 0 {
		return true
	}
	for _, allowed := range h.origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	logging.Warn().Str("origin", origin).Msg("websocket connection rejected from unauthorized origin")
	return false
}
