// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/quillsync/internal/auth"
	"github.com/tomtom215/quillsync/internal/authz"
	"github.com/tomtom215/quillsync/internal/bridge"
	"github.com/tomtom215/quillsync/internal/logging"
	"github.com/tomtom215/quillsync/internal/protocol"
	"github.com/tomtom215/quillsync/internal/relay"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls [][]string
	last  protocol.NotificationMessage
}

func (f *fakeNotifier) BroadcastToUsers(_ context.Context, userIDs []string, msg protocol.NotificationMessage) bridge.BroadcastResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userIDs)
	f.last = msg
	return bridge.BroadcastResult{Sent: len(userIDs) - 1, Failed: 1}
}

const testSecret = "api-test-secret-0123456789abcdefghij"

func newIssuer(t *testing.T) *auth.JWTManager {
	t.Helper()
	jwt, err := auth.NewJWTManager(testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return jwt
}

type testServer struct {
	*httptest.Server
	jwt      *auth.JWTManager
	notifier *fakeNotifier
	registry *relay.Registry
}

func newTestServer(t *testing.T, opts ...HandlerOption) *testServer {
	t.Helper()
	jwt := newIssuer(t)
	enforcer, err := authz.NewEnforcer(authz.Config{})
	if err != nil {
		t.Fatal(err)
	}
	gate := auth.NewGate(jwt, enforcer)
	registry := relay.NewRegistry(relay.DefaultConfig())
	notifier := &fakeNotifier{}

	base := []HandlerOption{WithRegistry(registry), WithNotifier(notifier)}
	h := NewHandler(relay.NewHandler(registry, gate, relay.DefaultConfig(), nil), gate, append(base, opts...)...)
	srv := httptest.NewServer(NewRouter(h, nil).SetupChi())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, jwt: jwt, notifier: notifier, registry: registry}
}

func (s *testServer) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := s.jwt.GenerateToken(userID, userID, role)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, APIResponse) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatal(err)
			}
			reader = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out APIResponse
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, out
}

func TestHealthLive(t *testing.T) {
	srv := newTestServer(t)
	resp, body := srv.do(t, http.MethodGet, "/health/live", "", nil)
	if resp.StatusCode != http.StatusOK || body.Status != "success" {
		t.Errorf("status = %d/%q, want 200/success", resp.StatusCode, body.Status)
	}
	if resp.Header.Get("X-Request-ID") == "" || body.Meta.RequestID != resp.Header.Get("X-Request-ID") {
		t.Errorf("request id header %q, meta %q", resp.Header.Get("X-Request-ID"), body.Meta.RequestID)
	}
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name       string
		check      ReadinessCheck
		wantStatus int
	}{
		{"all checks pass", func(context.Context) error { return nil }, http.StatusOK},
		{"failing check", func(context.Context) error { return errors.New("outbox closed") }, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, WithReadinessCheck("outbox", tt.check))
			resp, body := srv.do(t, http.MethodGet, "/health/ready", "", nil)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK && (body.Error == nil || body.Error.Code != ErrCodeServiceUnavailable) {
				t.Errorf("error = %+v", body.Error)
			}
		})
	}
}

func TestNotFoundUsesEnvelope(t *testing.T) {
	srv := newTestServer(t)
	resp, body := srv.do(t, http.MethodGet, "/nope", "", nil)
	if resp.StatusCode != http.StatusNotFound || body.Status != "error" || body.Error == nil || body.Error.Code != ErrCodeNotFound {
		t.Errorf("got %d %+v", resp.StatusCode, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), "relay_rooms_active") {
		t.Errorf("metrics status %d, body has relay_rooms_active = %v", resp.StatusCode, strings.Contains(string(data), "relay_rooms_active"))
	}
}

func TestNotifyAuthorization(t *testing.T) {
	srv := newTestServer(t)
	valid := NotifyRequest{UserIDs: []string{"u1"}, Type: protocol.NotifyMention}

	tests := []struct {
		name       string
		token      string
		wantStatus int
		wantCode   string
	}{
		{"no token", "", http.StatusUnauthorized, ErrCodeUnauthorized},
		{"bad token", "garbage", http.StatusUnauthorized, ErrCodeUnauthorized},
		{"user role", srv.token(t, "u9", auth.RoleUser), http.StatusForbidden, ErrCodeForbidden},
		{"backend role", srv.token(t, "svc", auth.RoleBackend), http.StatusAccepted, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := srv.do(t, http.MethodPost, "/internal/v1/notify", tt.token, valid)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantCode != "" && (body.Error == nil || body.Error.Code != tt.wantCode) {
				t.Errorf("error = %+v, want code %s", body.Error, tt.wantCode)
			}
		})
	}
}

func TestNotifyValidation(t *testing.T) {
	srv := newTestServer(t)
	token := srv.token(t, "svc", auth.RoleBackend)

	tests := []struct {
		name     string
		body     interface{}
		wantCode string
	}{
		{"malformed json", `{"user_ids":`, ErrCodeBadRequest},
		{"unknown field", `{"user_ids":["u1"],"type":"mention","priority":1}`, ErrCodeBadRequest},
		{"no recipients", NotifyRequest{Type: protocol.NotifyMention}, ErrCodeValidation},
		{"empty recipient", NotifyRequest{UserIDs: []string{""}, Type: protocol.NotifyMention}, ErrCodeValidation},
		{"unknown type", NotifyRequest{UserIDs: []string{"u1"}, Type: "poke"}, ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := srv.do(t, http.MethodPost, "/internal/v1/notify", token, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			if body.Error == nil || body.Error.Code != tt.wantCode {
				t.Errorf("error = %+v, want code %s", body.Error, tt.wantCode)
			}
		})
	}
	if len(srv.notifier.calls) != 0 {
		t.Errorf("notifier called %d times for invalid requests", len(srv.notifier.calls))
	}
}

func TestNotifyBroadcasts(t *testing.T) {
	srv := newTestServer(t)
	token := srv.token(t, "svc", auth.RoleBackend)

	req := NotifyRequest{
		UserIDs:    []string{"u1", "u2", "u3"},
		Type:       protocol.NotifyInvitation,
		ResourceID: "note-7",
		Data:       json.RawMessage(`{"role":"editor"}`),
	}
	resp, body := srv.do(t, http.MethodPost, "/internal/v1/notify", token, req)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	data, _ := json.Marshal(body.Data)
	var got NotifyResponse
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Sent != 2 || got.Failed != 1 || got.ID == "" {
		t.Errorf("response = %+v", got)
	}

	srv.notifier.mu.Lock()
	defer srv.notifier.mu.Unlock()
	if len(srv.notifier.calls) != 1 || len(srv.notifier.calls[0]) != 3 {
		t.Fatalf("calls = %v", srv.notifier.calls)
	}
	if srv.notifier.last.Actor != "svc" || srv.notifier.last.ResourceID != "note-7" || srv.notifier.last.ID != got.ID {
		t.Errorf("message = %+v", srv.notifier.last)
	}
}

func TestTokenEndpoint(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		srv := newTestServer(t)
		resp, _ := srv.do(t, http.MethodPost, "/internal/v1/token", "", TokenRequest{UserID: "u1"})
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("issues verifiable tokens", func(t *testing.T) {
		srv := newTestServer(t, WithTokenIssuer(newIssuer(t)))

		resp, body := srv.do(t, http.MethodPost, "/internal/v1/token", "", TokenRequest{UserID: "u1", Role: auth.RoleBackend})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		data, _ := json.Marshal(body.Data)
		var tok TokenResponse
		if err := json.Unmarshal(data, &tok); err != nil {
			t.Fatal(err)
		}
		claims, err := srv.jwt.ValidateToken(tok.Token)
		if err != nil {
			t.Fatalf("ValidateToken() error = %v", err)
		}
		if claims.Subject != "u1" || claims.Role != auth.RoleBackend || tok.ExpiresIn != 3600 {
			t.Errorf("claims = %+v, expires_in = %d", claims, tok.ExpiresIn)
		}
	})

	t.Run("rejects unknown roles", func(t *testing.T) {
		srv := newTestServer(t, WithTokenIssuer(newIssuer(t)))
		resp, body := srv.do(t, http.MethodPost, "/internal/v1/token", "", TokenRequest{UserID: "u1", Role: "root"})
		if resp.StatusCode != http.StatusBadRequest || body.Error == nil || body.Error.Code != ErrCodeValidation {
			t.Errorf("got %d %+v", resp.StatusCode, body.Error)
		}
	})
}

func TestWebSocketRoutes(t *testing.T) {
	srv := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	for _, path := range []string{"/ws/note-1", "/ws?room=note-2"} {
		t.Run(path, func(t *testing.T) {
			ws, resp, err := websocket.DefaultDialer.Dial(wsURL+path, nil)
			if err != nil {
				t.Fatalf("Dial: %v", err)
			}
			_ = resp.Body.Close()
			defer ws.Close()

			_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, data, err := ws.ReadMessage()
			if err != nil {
				t.Fatalf("ReadMessage: %v", err)
			}
			f, err := protocol.Decode(data)
			if err != nil {
				t.Fatal(err)
			}
			if _, ok := f.(protocol.SyncStep1); !ok {
				t.Errorf("first frame = %T, want SyncStep1", f)
			}
		})
	}
	if srv.registry.Len() == 0 {
		t.Error("registry has no rooms after websocket joins")
	}
}

func TestUpgradeRateLimit(t *testing.T) {
	registry := relay.NewRegistry(relay.DefaultConfig())
	h := NewHandler(relay.NewHandler(registry, nil, relay.DefaultConfig(), nil), auth.NewGate(newIssuer(t), nil))
	cfg := DefaultChiMiddlewareConfig()
	cfg.UpgradeRequests = 1
	srv := httptest.NewServer(NewRouter(h, NewChiMiddleware(cfg)).SetupChi())
	defer srv.Close()

	// Plain GETs are rejected by the upgrader but still count.
	first, err := http.Get(srv.URL + "/ws/room-a")
	if err != nil {
		t.Fatal(err)
	}
	first.Body.Close()
	second, err := http.Get(srv.URL + "/ws/room-a")
	if err != nil {
		t.Fatal(err)
	}
	second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second upgrade status = %d, want 429", second.StatusCode)
	}
}
