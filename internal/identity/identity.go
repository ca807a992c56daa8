// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

// Package identity is the "who am I" collaborator of the sync client.
package identity

import (
	"github.com/tomtom215/quillsync/internal/auth"
)

// User is the local user of a sync client.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
}

// Anonymous reports whether the user has no ID.
func (u User) Anonymous() bool {
	return u.ID == ""
}

// Provider returns the current user.
type Provider interface {
	CurrentUser() User
}

// Static always returns the same user.
type Static User

// CurrentUser implements Provider.
func (s Static) CurrentUser() User {
	return User(s)
}

// FromClaims builds a user from validated token claims. The display name
// falls back to the subject.
func FromClaims(c *auth.Claims) User {
	if c == nil {
		return User{}
	}
	name := c.DisplayName
	if name == "" {
		name = c.Subject
	}
	return User{ID: c.Subject, DisplayName: name}
}

// FromPrincipal builds a user from an authenticated relay principal.
func FromPrincipal(p auth.Principal) User {
	name := p.DisplayName
	if name == "" {
		name = p.UserID
	}
	return User{ID: p.UserID, DisplayName: name}
}
