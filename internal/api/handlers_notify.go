// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package api

import (
	"net/http"

	"github.com/tomtom215/quillsync/internal/auth"
	"github.com/tomtom215/quillsync/internal/authz"
	"github.com/tomtom215/quillsync/internal/logging"
	"github.com/tomtom215/quillsync/internal/protocol"
)

// authorizeIngress authenticates the caller of an internal endpoint. It
// writes the error response and returns false when the caller is not
// allowed.
func (h *Handler) authorizeIngress(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	if h.gate == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Authentication is not configured", nil)
		return auth.Anonymous, false
	}
	p, err := h.gate.Authenticate(r)
	if err != nil {
		respondError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "Invalid token", err)
		return p, false
	}
	if p.Role == auth.RoleAnonymous {
		respondError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "Bearer token required", nil)
		return p, false
	}
	if !h.gate.Allowed(p, authz.ObjectIngress, authz.ActionCall) && !h.gate.Allowed(p, authz.ObjectNotification, authz.ActionPublish) {
		respondError(w, r, http.StatusForbidden, ErrCodeForbidden, "Role may not send notifications", nil)
		return p, false
	}
	return p, true
}

// Notify handles POST /internal/v1/notify. The notification is pushed to
// every listed user's notification room; deliveries that fail are queued
// by the bridge and retried.
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	if h.notifier == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Notification bridge is not configured", nil)
		return
	}
	principal, ok := h.authorizeIngress(w, r)
	if !ok {
		return
	}

	var req NotifyRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body", err)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondAPIError(w, r, http.StatusBadRequest, apiErr)
		return
	}

	msg := protocol.NewNotificationMessage(req.Type, req.ResourceID, req.Data)
	msg.Actor = req.Actor
	if msg.Actor == "" {
		msg.Actor = principal.UserID
	}

	res := h.notifier.BroadcastToUsers(r.Context(), req.UserIDs, msg)

	logging.Ctx(r.Context()).Info().
		Str("notification_id", msg.ID).
		Str("type", msg.Type).
		Str("caller", principal.UserID).
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Msg("notification accepted")

	respondSuccess(w, r, http.StatusAccepted, NotifyResponse{ID: msg.ID, Sent: res.Sent, Failed: res.Failed})
}
