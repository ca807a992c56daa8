// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package api

import (
	"github.com/goccy/go-json"

	"github.com/tomtom215/quillsync/internal/validation"
)

// MaxNotifyRecipients bounds one ingress call.
const MaxNotifyRecipients = 1000

// maxBodyBytes bounds request bodies of the internal endpoints.
const maxBodyBytes = 1 << 20

// NotifyRequest is the body of POST /internal/v1/notify.
type NotifyRequest struct {
	UserIDs    []string        `json:"user_ids" validate:"required,min=1,max=1000,dive,required,max=256"`
	Type       string          `json:"type" validate:"required,oneof=invitation role_change removal comment_added share_accepted mention"`
	ResourceID string          `json:"resource_id,omitempty" validate:"omitempty,max=256"`
	Actor      string          `json:"actor,omitempty" validate:"omitempty,max=256"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// NotifyResponse is the body of a 202 from the ingress. Failed deliveries
// are queued for retry and still count as accepted.
type NotifyResponse struct {
	ID     string `json:"id"`
	Sent   int    `json:"sent"`
	Failed int    `json:"failed"`
}

// TokenRequest is the body of POST /internal/v1/token.
type TokenRequest struct {
	UserID      string `json:"user_id" validate:"required,max=256"`
	DisplayName string `json:"display_name,omitempty" validate:"omitempty,max=256"`
	Role        string `json:"role,omitempty" validate:"omitempty,oneof=anonymous user backend"`
}

// TokenResponse carries a signed bearer token.
type TokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int64  `json:"expires_in"`
}

// validateRequest validates a struct using go-playground/validator.
// Returns nil if validation passes.
func validateRequest(req interface{}) *APIError {
	verr := validation.ValidateStruct(req)
	if verr == nil {
		return nil
	}
	code, msg, details := verr.Envelope()
	return &APIError{Code: code, Message: msg, Details: details}
}
