// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package api

import (
	"net/http"

	"github.com/tomtom215/quillsync/internal/auth"
	"github.com/tomtom215/quillsync/internal/logging"
)

// IssueToken handles POST /internal/v1/token. It signs a token for any
// user and role without checking credentials, so the route is mounted only
// when development tokens are enabled.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	if h.jwt == nil {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "Token issuing is disabled", nil)
		return
	}

	var req TokenRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body", err)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondAPIError(w, r, http.StatusBadRequest, apiErr)
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleUser
	}
	if req.DisplayName == "" {
		req.DisplayName = req.UserID
	}

	token, err := h.jwt.GenerateToken(req.UserID, req.DisplayName, req.Role)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "Failed to sign token", err)
		return
	}

	logging.Ctx(r.Context()).Warn().Str("user_id", req.UserID).Str("role", req.Role).Msg("issued development token")
	respondSuccess(w, r, http.StatusOK, TokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int64(h.jwt.TTL().Seconds()),
	})
}
