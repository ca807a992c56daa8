// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package relay

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/quillsync/internal/auth"
	"github.com/tomtom215/quillsync/internal/authz"
	"github.com/tomtom215/quillsync/internal/crdt"
	"github.com/tomtom215/quillsync/internal/fanout"
	"github.com/tomtom215/quillsync/internal/logging"
	"github.com/tomtom215/quillsync/internal/protocol"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

const testSecret = "relay-test-secret-0123456789abcdef"

type testRelay struct {
	server   *httptest.Server
	registry *Registry
	jwt      *auth.JWTManager
}

func newTestRelay(t *testing.T, opts ...RegistryOption) *testRelay {
	t.Helper()
	jwt, err := auth.NewJWTManager(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}
	enforcer, err := authz.NewEnforcer(authz.Config{})
	if err != nil {
		t.Fatalf("NewEnforcer: %v", err)
	}
	cfg := DefaultConfig()
	cfg.WriteWait = 2 * time.Second
	registry := NewRegistry(cfg, opts...)
	handler := NewHandler(registry, auth.NewGate(jwt, enforcer), cfg, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		handler.ServeRoom(w, r, strings.TrimPrefix(r.URL.Path, "/ws/"))
	})
	mux.Handle("/ws", handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testRelay{server: srv, registry: registry, jwt: jwt}
}

func (tr *testRelay) url(path string) string {
	return "ws" + strings.TrimPrefix(tr.server.URL, "http") + path
}

func (tr *testRelay) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := tr.jwt.GenerateToken(userID, userID, role)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return tok
}

type testClient struct {
	t  *testing.T
	ws *websocket.Conn
}

// dial connects to path and consumes the opening SyncStep1. Notification
// rooms send none.
func (tr *testRelay) dial(t *testing.T, path, token string) *testClient {
	t.Helper()
	c := tr.dialRaw(t, path, token)
	if protocol.IsNotificationRoom(path) {
		return c
	}
	if _, ok := c.read().(protocol.SyncStep1); !ok {
		t.Fatalf("first frame is not SyncStep1")
	}
	return c
}

func (tr *testRelay) dialRaw(t *testing.T, path, token string) *testClient {
	t.Helper()
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := websocket.DefaultDialer.Dial(tr.url(path), header)
	if err != nil {
		t.Fatalf("Dial(%s): %v", path, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return &testClient{t: t, ws: ws}
}

func (c *testClient) send(f protocol.Frame) {
	c.t.Helper()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, protocol.Encode(f)); err != nil {
		c.t.Fatalf("WriteMessage: %v", err)
	}
}

func (c *testClient) read() protocol.Frame {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		c.t.Fatalf("ReadMessage: %v", err)
	}
	f, err := protocol.Decode(data)
	if err != nil {
		c.t.Fatalf("Decode: %v", err)
	}
	return f
}

// expectSilence fails if a frame arrives within d. The connection cannot
// be read from afterwards.
func (c *testClient) expectSilence(d time.Duration) {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(d))
	if _, data, err := c.ws.ReadMessage(); err == nil {
		f, _ := protocol.Decode(data)
		c.t.Fatalf("unexpected frame %T", f)
	}
}

// expectClose reads until the server's close frame and returns its code.
func (c *testClient) expectClose() int {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := c.ws.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return ce.Code
		}
		c.t.Fatalf("ReadMessage: %v, want close frame", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func edit(t *testing.T, doc *crdt.Doc, pos int, text string) []byte {
	t.Helper()
	u, err := doc.ApplyLocal(crdt.Edit{Text: "content", Pos: pos, Insert: text})
	if err != nil {
		t.Fatalf("ApplyLocal: %v", err)
	}
	return u
}

func TestUpdateBroadcastExcludesSender(t *testing.T) {
	tr := newTestRelay(t)
	a := tr.dial(t, "/ws/notes-1", "")
	b := tr.dial(t, "/ws/notes-1", "")
	waitFor(t, "two connections", func() bool {
		room, ok := tr.registry.Lookup("notes-1")
		return ok && room.Len() == 2
	})

	doc := crdt.New()
	update := edit(t, doc, 0, "hi")
	a.send(protocol.SyncUpdate{Update: update})

	got, ok := b.read().(protocol.SyncUpdate)
	if !ok {
		t.Fatalf("peer did not receive SyncUpdate")
	}
	peer := crdt.New()
	if err := peer.ApplyRemote(got.Update, crdt.OriginRemote); err != nil {
		t.Fatalf("ApplyRemote: %v", err)
	}
	if peer.Text("content") != "hi" {
		t.Errorf("peer content = %q, want %q", peer.Text("content"), "hi")
	}

	room, _ := tr.registry.Lookup("notes-1")
	if room.Text("content") != "hi" {
		t.Errorf("room content = %q, want %q", room.Text("content"), "hi")
	}
	a.expectSilence(150 * time.Millisecond)
}

func TestRoomIsolation(t *testing.T) {
	tr := newTestRelay(t)
	a := tr.dial(t, "/ws/notes-1", "")
	other := tr.dial(t, "/ws/notes-2", "")
	waitFor(t, "two rooms", func() bool { return tr.registry.Len() == 2 })

	a.send(protocol.SyncUpdate{Update: edit(t, crdt.New(), 0, "x")})
	waitFor(t, "merge", func() bool {
		room, _ := tr.registry.Lookup("notes-1")
		return room.Text("content") == "x"
	})

	room2, _ := tr.registry.Lookup("notes-2")
	if room2.Text("content") != "" {
		t.Errorf("notes-2 content = %q, want empty", room2.Text("content"))
	}
	other.expectSilence(150 * time.Millisecond)
}

func TestRoomTeardownOnLastLeave(t *testing.T) {
	tr := newTestRelay(t)
	destroyed := make(chan string, 4)
	tr.registry.OnDestroy(func(r *Room) { destroyed <- r.Name() })

	a := tr.dial(t, "/ws/notes-1", "")
	a.send(protocol.SyncUpdate{Update: edit(t, crdt.New(), 0, "old")})
	waitFor(t, "merge", func() bool {
		room, ok := tr.registry.Lookup("notes-1")
		return ok && room.Text("content") == "old"
	})

	_ = a.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = a.ws.Close()
	waitFor(t, "room teardown", func() bool { return tr.registry.Len() == 0 })

	b := tr.dialRaw(t, "/ws/notes-1", "")
	step1, ok := b.read().(protocol.SyncStep1)
	if !ok {
		t.Fatalf("first frame is not SyncStep1")
	}
	sv, err := crdt.DecodeStateVector(step1.StateVector)
	if err != nil {
		t.Fatal(err)
	}
	if len(sv) != 0 {
		t.Errorf("recreated room state vector = %v, want empty", sv)
	}
	select {
	case name := <-destroyed:
		if name != "notes-1" {
			t.Errorf("OnDestroy(%q), want notes-1", name)
		}
	case <-time.After(2 * time.Second):
		t.Error("OnDestroy was not called")
	}
}

func TestSyncStep1ReturnsCausalGap(t *testing.T) {
	tr := newTestRelay(t)
	author := crdt.New()
	a := tr.dial(t, "/ws/notes-1", "")

	a.send(protocol.SyncUpdate{Update: edit(t, author, 0, "abc")})
	waitFor(t, "first merge", func() bool {
		room, _ := tr.registry.Lookup("notes-1")
		return room.Text("content") == "abc"
	})

	// B saw the first three operations before disconnecting.
	stale := author.StateVector()
	a.send(protocol.SyncUpdate{Update: edit(t, author, 3, "de")})
	waitFor(t, "second merge", func() bool {
		room, _ := tr.registry.Lookup("notes-1")
		return room.Text("content") == "abcde"
	})

	b := tr.dial(t, "/ws/notes-1", "")
	b.send(protocol.SyncStep1{StateVector: crdt.EncodeStateVector(stale)})
	reply, ok := b.read().(protocol.SyncStep2)
	if !ok {
		t.Fatalf("reply is not SyncStep2")
	}
	u, err := crdt.DecodeUpdate(reply.Update)
	if err != nil {
		t.Fatalf("DecodeUpdate: %v", err)
	}
	if gap := author.StateVector().Missing(stale); uint64(len(u.Ops)) != gap {
		t.Errorf("diff carries %d ops, want causal gap %d", len(u.Ops), gap)
	}
	if len(u.Ops) != 2 {
		t.Errorf("diff carries %d ops, want 2", len(u.Ops))
	}
}

func TestMalformedUpdateKeepsConnection(t *testing.T) {
	tr := newTestRelay(t)
	a := tr.dial(t, "/ws/notes-1", "")

	a.send(protocol.SyncUpdate{Update: []byte{0xff, 0xff, 0xff}})
	a.send(protocol.SyncStep1{StateVector: crdt.EncodeStateVector(nil)})
	if _, ok := a.read().(protocol.SyncStep2); !ok {
		t.Fatalf("connection did not survive a merge error")
	}
}

func TestMalformedFrameClosesOnlyOffender(t *testing.T) {
	tr := newTestRelay(t)
	bad := tr.dial(t, "/ws/notes-1", "")
	good := tr.dial(t, "/ws/notes-1", "")

	if err := bad.ws.WriteMessage(websocket.BinaryMessage, []byte{42}); err != nil {
		t.Fatal(err)
	}
	if code := bad.expectClose(); code != websocket.CloseProtocolError {
		t.Errorf("close code = %d, want %d", code, websocket.CloseProtocolError)
	}

	good.send(protocol.SyncStep1{StateVector: crdt.EncodeStateVector(nil)})
	if _, ok := good.read().(protocol.SyncStep2); !ok {
		t.Fatalf("well-behaved connection was affected")
	}
}

func TestEmptyRoomClosesConnection(t *testing.T) {
	tr := newTestRelay(t)
	c := tr.dialRaw(t, "/ws?room=", "")
	if code := c.expectClose(); code != websocket.ClosePolicyViolation {
		t.Errorf("close code = %d, want %d", code, websocket.ClosePolicyViolation)
	}
	if tr.registry.Len() != 0 {
		t.Errorf("registry has %d rooms, want 0", tr.registry.Len())
	}
}

func TestQueryRoomParameter(t *testing.T) {
	tr := newTestRelay(t)
	tr.dial(t, "/ws?room=notes-9", "")
	waitFor(t, "room", func() bool {
		_, ok := tr.registry.Lookup("notes-9")
		return ok
	})
}

func TestInvalidTokenRejected(t *testing.T) {
	tr := newTestRelay(t)
	header := http.Header{"Authorization": []string{"Bearer not-a-token"}}
	_, resp, err := websocket.DefaultDialer.Dial(tr.url("/ws/notes-1"), header)
	if err == nil {
		t.Fatal("Dial succeeded with an invalid token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %v, want 401", resp)
	}
	_ = resp.Body.Close()
}

func notificationPayload(t *testing.T, id string) protocol.Notification {
	t.Helper()
	m := protocol.NewNotificationMessage(protocol.NotifyInvitation, "note-1", json.RawMessage(`{"from":"alice"}`))
	m.ID = id
	f, err := protocol.NotificationFrame(m)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func readNotifications(t *testing.T, c *testClient) []protocol.NotificationMessage {
	t.Helper()
	aw, ok := c.read().(protocol.Awareness)
	if !ok {
		t.Fatalf("frame is not Awareness")
	}
	u, err := protocol.DecodeAwareness(aw.Update)
	if err != nil {
		t.Fatal(err)
	}
	if len(u.Entries) != 1 || u.Entries[0].ClientID != ServerClientID {
		t.Fatalf("entries = %+v, want one server entry", u.Entries)
	}
	var st protocol.NotificationState
	if err := json.Unmarshal(u.Entries[0].State, &st); err != nil {
		t.Fatal(err)
	}
	return st.Notifications
}

func TestNotificationDeliveredOncePerClient(t *testing.T) {
	tr := newTestRelay(t)
	room := "quill-notifications-u1"
	c1 := tr.dial(t, "/ws/"+room, tr.token(t, "u1", auth.RoleUser))
	c2 := tr.dial(t, "/ws/"+room, tr.token(t, "u1", auth.RoleUser))
	backend := tr.dial(t, "/ws/"+room, tr.token(t, "api", auth.RoleBackend))
	waitFor(t, "three connections", func() bool {
		r, ok := tr.registry.Lookup(room)
		return ok && r.Len() == 3
	})

	backend.send(notificationPayload(t, "n-1"))

	for i, c := range []*testClient{c1, c2} {
		got := readNotifications(t, c)
		if len(got) != 1 || got[0].ID != "n-1" || got[0].Type != protocol.NotifyInvitation {
			t.Errorf("client %d notifications = %+v", i+1, got)
		}
	}
	c1.expectSilence(150 * time.Millisecond)
	c2.expectSilence(10 * time.Millisecond)
}

func TestNotificationRetentionAndLateJoin(t *testing.T) {
	tr := newTestRelay(t)
	room := "quill-notifications-u2"
	backend := tr.dial(t, "/ws/"+room, tr.token(t, "api", auth.RoleBackend))

	n := DefaultConfig().NotificationRetention + 5
	for i := 0; i < n; i++ {
		backend.send(notificationPayload(t, "n-"+string(rune('a'+i%26))+strings.Repeat("x", i/26)))
		readNotifications(t, backend)
	}

	late := tr.dialRaw(t, "/ws/"+room, tr.token(t, "u2", auth.RoleUser))
	got := readNotifications(t, late)
	if len(got) != DefaultConfig().NotificationRetention {
		t.Errorf("retained %d notifications, want %d", len(got), DefaultConfig().NotificationRetention)
	}
}

func TestUnauthorizedNotificationClosesConnection(t *testing.T) {
	tr := newTestRelay(t)
	room := "quill-notifications-u1"
	user := tr.dial(t, "/ws/"+room, tr.token(t, "u1", auth.RoleUser))
	anon := tr.dial(t, "/ws/"+room, "")

	anon.send(notificationPayload(t, "forged"))
	if code := anon.expectClose(); code != websocket.ClosePolicyViolation {
		t.Errorf("close code = %d, want %d", code, websocket.ClosePolicyViolation)
	}
	user.expectSilence(150 * time.Millisecond)
}

func TestAwarenessBroadcastAndRemoval(t *testing.T) {
	tr := newTestRelay(t)
	a := tr.dial(t, "/ws/notes-1", "")
	b := tr.dial(t, "/ws/notes-1", "")

	state := json.RawMessage(`{"user":{"id":"a","name":"Ann"}}`)
	a.send(protocol.Awareness{Update: protocol.EncodeAwareness(protocol.AwarenessUpdate{
		Entries: []protocol.AwarenessEntry{{ClientID: 7, Clock: 1, State: state}},
	})})

	// The sender receives its own awareness back.
	for _, c := range []*testClient{a, b} {
		if _, ok := c.read().(protocol.Awareness); !ok {
			t.Fatal("frame is not Awareness")
		}
	}

	_ = a.ws.Close()
	aw, ok := b.read().(protocol.Awareness)
	if !ok {
		t.Fatal("frame is not Awareness")
	}
	u, err := protocol.DecodeAwareness(aw.Update)
	if err != nil {
		t.Fatal(err)
	}
	if len(u.Entries) != 1 || u.Entries[0].ClientID != 7 || !u.Entries[0].Removed() {
		t.Errorf("removal entries = %+v", u.Entries)
	}
	if u.Entries[0].Clock != 2 {
		t.Errorf("removal clock = %d, want 2", u.Entries[0].Clock)
	}
}

func TestCrossNodeFanout(t *testing.T) {
	hub := fanout.NewHub()
	node1 := newTestRelay(t, WithFanout(hub.Node()))
	node2 := newTestRelay(t, WithFanout(hub.Node()))

	author := crdt.New()
	a := node1.dial(t, "/ws/notes-1", "")
	a.send(protocol.SyncUpdate{Update: edit(t, author, 0, "ab")})
	waitFor(t, "merge on node1", func() bool {
		room, _ := node1.registry.Lookup("notes-1")
		return room.Text("content") == "ab"
	})

	// Joining node2 pulls the existing state from node1.
	b := node2.dial(t, "/ws/notes-1", "")
	pulled, ok := b.read().(protocol.SyncUpdate)
	if !ok {
		t.Fatal("node2 client did not receive pulled state")
	}
	peer := crdt.New()
	if err := peer.ApplyRemote(pulled.Update, crdt.OriginRemote); err != nil {
		t.Fatal(err)
	}
	room2, _ := node2.registry.Lookup("notes-1")
	if room2.Text("content") != "ab" {
		t.Errorf("node2 content = %q, want %q", room2.Text("content"), "ab")
	}

	a.send(protocol.SyncUpdate{Update: edit(t, author, 2, "c")})
	got, ok := b.read().(protocol.SyncUpdate)
	if !ok {
		t.Fatal("node2 client did not receive live update")
	}
	if err := peer.ApplyRemote(got.Update, crdt.OriginRemote); err != nil {
		t.Fatal(err)
	}
	if peer.Text("content") != "abc" {
		t.Errorf("node2 replica = %q, want %q", peer.Text("content"), "abc")
	}
	a.expectSilence(150 * time.Millisecond)
}

func TestSweepClosesStalledHandshakes(t *testing.T) {
	cfg := DefaultConfig()
	reg := NewRegistry(cfg)
	c := NewConn(nil, auth.Anonymous, false, cfg)
	if err := reg.Join("notes-1", c); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateSyncing {
		t.Fatalf("state = %s, want syncing", c.State())
	}

	if n := reg.Sweep(time.Now()); n != 0 {
		t.Errorf("Sweep() closed %d fresh connections", n)
	}
	if n := reg.Sweep(time.Now().Add(cfg.HandshakeTimeout + time.Second)); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if c.State() != StateClosed {
		t.Errorf("state = %s, want closed", c.State())
	}
}

func TestNotificationRoomConnectionsSurviveSweep(t *testing.T) {
	cfg := DefaultConfig()
	reg := NewRegistry(cfg)
	user := NewConn(nil, auth.Anonymous, false, cfg)
	backend := NewConn(nil, auth.Anonymous, true, cfg)
	for _, c := range []*Conn{user, backend} {
		if err := reg.Join("quill-notifications-u1", c); err != nil {
			t.Fatal(err)
		}
	}
	room, ok := reg.Lookup("quill-notifications-u1")
	if !ok {
		t.Fatal("room not found")
	}
	if err := room.handle(backend, notificationPayload(t, "n-1")); err != nil {
		t.Fatalf("handle(notification) = %v", err)
	}

	if n := reg.Sweep(time.Now().Add(cfg.HandshakeTimeout + time.Second)); n != 0 {
		t.Errorf("Sweep() closed %d notification connections", n)
	}
	for name, c := range map[string]*Conn{"user": user, "backend": backend} {
		if c.State() != StateLive {
			t.Errorf("%s state = %s, want live", name, c.State())
		}
	}
}

func TestNotificationRoomHoldsNoReplica(t *testing.T) {
	cfg := DefaultConfig()
	reg := NewRegistry(cfg)
	c := NewConn(nil, auth.Anonymous, false, cfg)
	if err := reg.Join("quill-notifications-u1", c); err != nil {
		t.Fatal(err)
	}
	room, _ := reg.Lookup("quill-notifications-u1")
	if !room.IsNotification() || room.doc != nil || room.StateVector() != nil {
		t.Fatal("notification room created a replica")
	}

	tests := []struct {
		name  string
		frame protocol.Frame
	}{
		{"step1", protocol.SyncStep1{StateVector: crdt.EncodeStateVector(nil)}},
		{"step2", protocol.SyncStep2{}},
		{"update", protocol.SyncUpdate{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := room.handle(c, tt.frame); !errors.Is(err, ErrSyncInNotificationRoom) {
				t.Errorf("handle() = %v, want ErrSyncInNotificationRoom", err)
			}
		})
	}

	collab, _ := reg.GetOrCreate("quill-note-1")
	if collab.IsNotification() || collab.doc == nil {
		t.Error("collaboration room has no replica")
	}
}

func TestSyncInNotificationRoomClosesConnection(t *testing.T) {
	tr := newTestRelay(t)
	room := "quill-notifications-u1"
	user := tr.dial(t, "/ws/"+room, tr.token(t, "u1", auth.RoleUser))

	user.send(protocol.SyncStep1{StateVector: crdt.EncodeStateVector(nil)})
	if code := user.expectClose(); code != websocket.CloseProtocolError {
		t.Errorf("close code = %d, want %d", code, websocket.CloseProtocolError)
	}
}

func TestRegistryJoinLeave(t *testing.T) {
	reg := NewRegistry(DefaultConfig())
	var created []string
	reg.OnCreate(func(r *Room) { created = append(created, r.Name()) })

	c1 := NewConn(nil, auth.Anonymous, false, DefaultConfig())
	c2 := NewConn(nil, auth.Anonymous, false, DefaultConfig())
	if err := reg.Join("", c1); !errors.Is(err, ErrEmptyRoom) {
		t.Errorf("Join(\"\") error = %v, want ErrEmptyRoom", err)
	}
	_ = reg.Join("b", c1)
	_ = reg.Join("a", c2)

	if got := reg.Rooms(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Rooms() = %v", got)
	}
	if len(created) != 2 {
		t.Errorf("OnCreate calls = %d, want 2", len(created))
	}

	reg.Leave(c1)
	reg.Leave(c1)
	if _, ok := reg.Lookup("b"); ok {
		t.Error("room b survived its last leave")
	}
	if !reg.Remove("a") {
		t.Error("Remove(a) = false")
	}
	if c2.State() != StateClosed {
		t.Errorf("connection of removed room is %s", c2.State())
	}
	if reg.Remove("a") {
		t.Error("second Remove(a) = true")
	}
}

func TestPushNotificationUnknownRoom(t *testing.T) {
	reg := NewRegistry(DefaultConfig())
	err := reg.PushNotification("nobody", []byte(`{"type":"mention"}`))
	if !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("PushNotification() error = %v, want ErrRoomNotFound", err)
	}
}

func TestConnStateString(t *testing.T) {
	tests := []struct {
		state ConnState
		want  string
	}{
		{StateConnecting, "connecting"},
		{StateSyncing, "syncing"},
		{StateLive, "live"},
		{StateClosed, "closed"},
		{ConnState(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestSlowConsumerIsClosed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendBuffer = 2
	slow := NewConn(nil, auth.Anonymous, false, cfg)
	fast := NewConn(nil, auth.Anonymous, false, DefaultConfig())

	for i := 0; i < 2; i++ {
		if !slow.enqueue([]byte{byte(i)}) {
			t.Fatalf("enqueue %d rejected before the queue was full", i)
		}
	}
	if slow.enqueue([]byte{2}) {
		t.Fatal("enqueue on a full queue succeeded")
	}
	if slow.State() != StateClosed {
		t.Errorf("slow consumer state = %s, want closed", slow.State())
	}
	if slow.closeCode != websocket.CloseTryAgainLater {
		t.Errorf("close code = %d, want %d", slow.closeCode, websocket.CloseTryAgainLater)
	}
	if slow.enqueue([]byte{3}) {
		t.Error("enqueue after close succeeded")
	}

	if !fast.enqueue([]byte{0}) {
		t.Error("other connection was affected by the slow consumer")
	}
}

func TestInboundRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FramesPerSecond = 1
	cfg.Burst = 2
	c := NewConn(nil, auth.Anonymous, false, cfg)

	if !c.limiter.Allow() || !c.limiter.Allow() {
		t.Fatal("burst frames were limited")
	}
	if c.limiter.Allow() {
		t.Error("frame beyond the burst was allowed")
	}
}
