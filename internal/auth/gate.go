// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package auth

import (
	"net/http"
	"strings"
)

// Principal is the authenticated caller of a request or connection.
type Principal struct {
	UserID      string
	DisplayName string
	Role        string
}

// Anonymous is the principal of a request without a token.
var Anonymous = Principal{Role: RoleAnonymous}

// Authorizer decides whether a role may perform action on object.
type Authorizer interface {
	Enforce(subject, object, action string) (bool, error)
}

// Gate authenticates HTTP requests and websocket upgrades and answers
// authorization questions about the resulting principal.
type Gate struct {
	jwt        *JWTManager
	authorizer Authorizer
}

// NewGate combines token validation and policy enforcement.
func NewGate(jwt *JWTManager, authorizer Authorizer) *Gate {
	return &Gate{jwt: jwt, authorizer: authorizer}
}

// Authenticate extracts a bearer token from the Authorization header or
// the "token" query parameter. A request without a token is Anonymous; a
// request with an invalid token is an error.
func (g *Gate) Authenticate(r *http.Request) (Principal, error) {
	token := bearerToken(r)
	if token == "" {
		return Anonymous, nil
	}
	claims, err := g.jwt.ValidateToken(token)
	if err != nil {
		return Anonymous, err
	}
	return Principal{UserID: claims.Subject, DisplayName: claims.DisplayName, Role: claims.Role}, nil
}

// Allowed reports whether p may perform action on object. Enforcement
// errors deny.
func (g *Gate) Allowed(p Principal, object, action string) bool {
	if g.authorizer == nil {
		return false
	}
	ok, err := g.authorizer.Enforce(p.Role, object, action)
	return err == nil && ok
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}
	return r.URL.Query().Get("token")
}
