// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package protocol

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Notification types pushed from the backend to a user's open clients.
const (
	NotifyInvitation    = "invitation"
	NotifyRoleChange    = "role_change"
	NotifyRemoval       = "removal"
	NotifyCommentAdded  = "comment_added"
	NotifyShareAccepted = "share_accepted"
	NotifyMention       = "mention"
)

// NotificationRoomInfix joins the namespace and the user ID in the name of
// a user's notification room.
const NotificationRoomInfix = "-notifications-"

// IsNotificationRoom reports whether name is a notification room. Those
// rooms carry awareness and notification frames only.
func IsNotificationRoom(name string) bool {
	return strings.Contains(name, NotificationRoomInfix)
}

// NotificationMessage is the JSON body of a NOTIFICATION frame and the
// element type of a notification room's awareness list.
type NotificationMessage struct {
	ID         string          `json:"id"`
	Type       string          `json:"type" validate:"required,oneof=invitation role_change removal comment_added share_accepted mention"`
	ResourceID string          `json:"resource_id,omitempty"`
	Actor      string          `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewNotificationMessage stamps an ID and creation time.
func NewNotificationMessage(typ, resourceID string, data json.RawMessage) NotificationMessage {
	return NotificationMessage{
		ID:         uuid.NewString(),
		Type:       typ,
		ResourceID: resourceID,
		Data:       data,
		CreatedAt:  time.Now().UTC(),
	}
}

// NotificationFrame encodes m as a NOTIFICATION frame.
func NotificationFrame(m NotificationMessage) (Notification, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return Notification{}, fmt.Errorf("marshal notification: %w", err)
	}
	return Notification{Payload: payload}, nil
}

// ParseNotification decodes a NOTIFICATION payload.
func ParseNotification(payload []byte) (NotificationMessage, error) {
	var m NotificationMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return m, fmt.Errorf("%w: notification json: %v", ErrMalformedFrame, err)
	}
	if m.Type == "" {
		return m, fmt.Errorf("%w: notification without type", ErrMalformedFrame)
	}
	return m, nil
}

// NotificationState is the awareness state a relay publishes for a
// notification room.
type NotificationState struct {
	Notifications []NotificationMessage `json:"notifications"`
}

// PresenceState is the awareness state a client publishes for itself.
type PresenceState struct {
	User struct {
		ID          string `json:"id"`
		DisplayName string `json:"name"`
	} `json:"user"`
	Cursor *Cursor `json:"cursor,omitempty"`
	Typing bool    `json:"typing,omitempty"`
}

// Cursor is a text selection in rune offsets.
type Cursor struct {
	Text   string `json:"text"`
	Anchor int    `json:"anchor"`
	Head   int    `json:"head"`
}
