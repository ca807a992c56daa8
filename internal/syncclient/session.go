// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package syncclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/quillsync/internal/crdt"
	"github.com/tomtom215/quillsync/internal/echo"
	"github.com/tomtom215/quillsync/internal/identity"
	"github.com/tomtom215/quillsync/internal/legacy"
	"github.com/tomtom215/quillsync/internal/logging"
	"github.com/tomtom215/quillsync/internal/metrics"
	"github.com/tomtom215/quillsync/internal/protocol"
	"github.com/tomtom215/quillsync/internal/store"
)

// Named texts of a note replica.
const (
	TextTitle   = "title"
	TextContent = "content"
)

// relayAuthor is the echo cache author of values merged from the relay.
const relayAuthor = "relay"

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("syncclient: session closed")

// Status is the connectivity indicator of a session.
type Status struct {
	Connected      bool `json:"connected"`
	PendingChanges int  `json:"pending_changes"`
	QueuedUpdates  int  `json:"queued_updates"`
	Synced         bool `json:"synced"`
}

// Session is one open resource. All of its operations are serialized.
type Session struct {
	m          *Manager
	resourceID string
	room       string
	user       identity.User

	// refs is guarded by Manager.mu.
	refs int

	mu             sync.Mutex
	closed         bool
	doc            *crdt.Doc
	echo           *echo.Cache
	queue          pendingQueue
	pendingChanges int
	connected      bool
	synced         bool
	seedChecked    bool
	presenceDone   bool
	awarenessClock uint64
	typing         bool
	title          string
	content        string
	peers          map[uint64]protocol.PresenceState
	typingUsers    map[string]bool
	snapshots      *ring
	deferred       []func()

	link         *transport
	stopAutosave func()
	stopSnapshot func()
}

func newSession(m *Manager, resourceID string) *Session {
	s := &Session{
		m:           m,
		resourceID:  resourceID,
		room:        RoomFor(m.cfg.Namespace, resourceID),
		user:        m.identity.CurrentUser(),
		refs:        1,
		doc:         crdt.New(),
		echo:        echo.New(m.echoCfg),
		peers:       make(map[uint64]protocol.PresenceState),
		typingUsers: make(map[string]bool),
		snapshots:   newRing(m.cfg.SnapshotLimit),
	}
	s.doc.OnUpdate(s.onDocUpdate)
	s.link = newTransport(m.cfg, s.room, m.token, s)
	return s
}

func (s *Session) start() {
	s.mu.Lock()
	s.stopAutosave = s.m.sched.Every(s.m.cfg.AutosaveInterval, s.autosave)
	s.stopSnapshot = s.m.sched.Every(s.m.cfg.SnapshotInterval, s.snapshot)
	s.mu.Unlock()
	s.link.start()
}

// unlock releases s.mu and then runs the callbacks queued while it was
// held, so hooks may call back into the session.
func (s *Session) unlock() {
	calls := s.deferred
	s.deferred = nil
	s.mu.Unlock()
	for _, fn := range calls {
		fn()
	}
}

func (s *Session) later(fn func()) {
	s.deferred = append(s.deferred, fn)
}

func (s *Session) debug() *zerolog.Event {
	return logging.Debug().Str("resource_id", s.resourceID)
}

// ResourceID returns the resource this session edits.
func (s *Session) ResourceID() string {
	return s.resourceID
}

// Room returns the relay and legacy room name.
func (s *Session) Room() string {
	return s.room
}

// Edit applies a local splice and returns its delta. Transmission happens
// asynchronously.
func (s *Session) Edit(e crdt.Edit) ([]byte, error) {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.doc.ApplyLocal(e)
}

// SetTitle replaces the title.
func (s *Session) SetTitle(title string) ([]byte, error) {
	return s.replace(TextTitle, title)
}

// SetContent replaces the whole content.
func (s *Session) SetContent(content string) ([]byte, error) {
	return s.replace(TextContent, content)
}

func (s *Session) replace(text, value string) ([]byte, error) {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.doc.Replace(text, value)
}

// Title returns the materialized title.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ""
	}
	return s.doc.Text(TextTitle)
}

// Content returns the materialized content.
func (s *Session) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ""
	}
	return s.doc.Text(TextContent)
}

// Status returns the connectivity indicator.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Connected:      s.connected,
		PendingChanges: s.pendingChanges,
		QueuedUpdates:  s.queue.len(),
		Synced:         s.synced,
	}
}

// SetTyping publishes the local typing indicator on both channels.
func (s *Session) SetTyping(typing bool) {
	s.mu.Lock()
	defer s.unlock()
	if s.closed || s.typing == typing {
		return
	}
	s.typing = typing
	s.announce()

	if ch := s.m.legacy; ch != nil {
		payload := legacy.TypingPayload{UserID: s.user.ID, DisplayName: s.user.DisplayName, Typing: typing}
		room := s.room
		s.later(func() {
			if err := ch.Emit(context.Background(), room, legacy.EventTyping, payload); err != nil {
				logging.Warn().Err(err).Str("room", room).Msg("failed to emit typing event")
			}
		})
	}
}

// Peers returns the presence states of the other clients in the room,
// ordered by client ID.
func (s *Session) Peers() []protocol.PresenceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]protocol.PresenceState, len(ids))
	for i, id := range ids {
		out[i] = s.peers[id]
	}
	return out
}

// TypingUsers returns the users that announced typing on the legacy channel.
func (s *Session) TypingUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.typingUsers))
	for id, typing := range s.typingUsers {
		if typing {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshots returns the in-memory snapshots, oldest first.
func (s *Session) Snapshots() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots.list()
}

// Restore rewrites title and content to snapshot i as a local edit.
func (s *Session) Restore(i int) error {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return ErrSessionClosed
	}
	snap, ok := s.snapshots.at(i)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoSnapshot, i)
	}
	title, content, err := snap.Texts()
	if err != nil {
		return err
	}
	if _, err := s.doc.ReplaceAs(crdt.OriginRestore, TextTitle, title); err != nil {
		return fmt.Errorf("restore title: %w", err)
	}
	if _, err := s.doc.ReplaceAs(crdt.OriginRestore, TextContent, content); err != nil {
		return fmt.Errorf("restore content: %w", err)
	}
	logging.Info().Str("resource_id", s.resourceID).Int("snapshot", i).Time("taken_at", snap.TakenAt).Msg("restored snapshot")
	return nil
}

// onDocUpdate observes the replica. Every replica mutation happens with
// s.mu held, so this runs with s.mu held too.
func (s *Session) onDocUpdate(update []byte, origin crdt.Origin) {
	switch origin {
	case crdt.OriginRemote:
		s.observeRemote()
	case crdt.OriginSeed:
		s.transmit(update)
		s.observeRemote()
	default:
		s.transmit(update)
		s.pendingChanges++
		s.mirror()
	}
}

// transmit sends update now or queues it behind earlier undelivered ones.
func (s *Session) transmit(update []byte) {
	if s.connected && s.queue.len() == 0 {
		if err := s.link.sendFrame(protocol.SyncUpdate{Update: update}); err == nil {
			return
		}
	}
	s.queue.push(update)
}

// observeRemote fires the change hooks for values that did not originate
// in a local edit.
func (s *Session) observeRemote() {
	if title := s.doc.Text(TextTitle); title != s.title {
		s.title = title
		s.echo.RecordReceived(echo.FieldTitle, relayAuthor, title)
		s.notifyTitle(title)
	}
	if content := s.doc.Text(TextContent); content != s.content {
		s.content = content
		s.echo.RecordReceived(echo.FieldContent, relayAuthor, content)
		s.notifyContent(content)
	}
}

func (s *Session) notifyTitle(title string) {
	id := s.resourceID
	for _, h := range s.m.titleHooks() {
		s.later(func() { h(id, title) })
	}
}

func (s *Session) notifyContent(content string) {
	id := s.resourceID
	for _, h := range s.m.contentHooks() {
		s.later(func() { h(id, content) })
	}
}

// mirror emits changed title and content on the legacy channel unless the
// echo cache says the value was just sent or received.
func (s *Session) mirror() {
	if title := s.doc.Text(TextTitle); title != s.title {
		s.title = title
		s.emitField(echo.FieldTitle, legacy.EventTitleUpdate, title)
	}
	if content := s.doc.Text(TextContent); content != s.content {
		s.content = content
		s.emitField(echo.FieldContent, legacy.EventContentUpdate, content)
	}
}

func (s *Session) emitField(field, event, value string) {
	ch := s.m.legacy
	if ch == nil {
		return
	}
	if !s.echo.ShouldEmit(field, value) {
		metrics.ClientLegacyEvents.WithLabelValues("out", "suppressed").Inc()
		return
	}
	s.echo.RecordSent(field, value)

	payload := legacy.FieldPayload{AuthorID: s.user.ID, Value: value}
	room := s.room
	s.later(func() {
		if err := ch.Emit(context.Background(), room, event, payload); err != nil {
			logging.Warn().Err(err).Str("room", room).Str("event", event).Msg("failed to mirror change on legacy channel")
		}
	})
}

// receiveLegacy handles an event from another legacy channel member.
func (s *Session) receiveLegacy(msg legacy.Message) {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return
	}

	switch msg.Event {
	case legacy.EventTitleUpdate, legacy.EventContentUpdate:
		var p legacy.FieldPayload
		if err := msg.Decode(&p); err != nil {
			logging.Warn().Err(err).Str("room", s.room).Str("event", msg.Event).Msg("invalid legacy payload")
			return
		}
		if msg.Event == legacy.EventTitleUpdate {
			s.echo.RecordReceived(echo.FieldTitle, p.AuthorID, p.Value)
			s.notifyTitle(p.Value)
		} else {
			s.echo.RecordReceived(echo.FieldContent, p.AuthorID, p.Value)
			s.notifyContent(p.Value)
		}
	case legacy.EventTyping:
		var p legacy.TypingPayload
		if err := msg.Decode(&p); err != nil || p.UserID == "" {
			return
		}
		if p.Typing {
			s.typingUsers[p.UserID] = true
		} else {
			delete(s.typingUsers, p.UserID)
		}
	}
}

// onConnected runs on the transport goroutine after each successful dial.
func (s *Session) onConnected() {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return
	}
	s.connected = true

	sv := crdt.EncodeStateVector(s.doc.StateVector())
	if err := s.link.sendFrame(protocol.SyncStep1{StateVector: sv}); err != nil {
		s.debug().Err(err).Msg("failed to send sync step 1")
	}
	n, err := s.queue.flush(func(update []byte) error {
		return s.link.sendFrame(protocol.SyncUpdate{Update: update})
	})
	if err != nil {
		logging.Warn().Err(err).Str("resource_id", s.resourceID).Int("flushed", n).Int("remaining", s.queue.len()).Msg("pending queue flush interrupted")
	}
	s.announce()
	s.debug().Int("flushed", n).Msg("connected to relay")
}

func (s *Session) onDisconnected(err error) {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return
	}
	s.connected = false
	s.synced = false
	s.peers = make(map[uint64]protocol.PresenceState)
	logging.Info().Err(err).Str("resource_id", s.resourceID).Int("queued", s.queue.len()).Msg("relay connection lost")
}

func (s *Session) received(f protocol.Frame) {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return
	}

	switch f := f.(type) {
	case protocol.SyncStep1:
		sv, err := crdt.DecodeStateVector(f.StateVector)
		if err != nil {
			logging.Warn().Err(err).Str("resource_id", s.resourceID).Msg("invalid relay state vector")
			return
		}
		if diff := s.doc.Diff(sv); diff != nil {
			if err := s.link.sendFrame(protocol.SyncStep2{Update: diff}); err != nil {
				s.debug().Err(err).Msg("failed to send sync step 2")
			}
		}
	case protocol.SyncStep2:
		s.merge(f.Update)
		if !s.synced {
			s.synced = true
			s.firstSync()
		}
	case protocol.SyncUpdate:
		s.merge(f.Update)
	case protocol.Awareness:
		s.applyAwareness(f.Update)
	case protocol.Notification:
		s.debug().Msg("ignoring notification frame in collaboration room")
	}
}

func (s *Session) merge(update []byte) {
	if len(update) == 0 {
		return
	}
	if err := s.doc.ApplyRemote(update, crdt.OriginRemote); err != nil {
		logging.Warn().Err(err).Str("resource_id", s.resourceID).Msg("discarded remote update")
	}
}

// firstSync runs once per connection after the relay's state arrived.
// Seeding and the auto-accept hook happen at most once per session.
func (s *Session) firstSync() {
	if !s.seedChecked {
		s.seedChecked = true
		if s.doc.IsEmpty() {
			s.seed()
		}
	}
	if !s.presenceDone {
		s.presenceDone = true
		id, user := s.resourceID, s.user
		for _, h := range s.m.acceptHooks() {
			s.later(func() { h(context.Background(), id, user) })
		}
	}
}

func (s *Session) seed() {
	ctx, cancel := context.WithTimeout(context.Background(), s.m.cfg.SaveTimeout)
	defer cancel()

	content, ok, err := s.m.store.LoadLatest(ctx, s.resourceID)
	if err != nil {
		// Try again after the next sync.
		s.seedChecked = false
		logging.Warn().Err(err).Str("resource_id", s.resourceID).Msg("failed to load content for seeding")
		return
	}
	if !ok || content == "" {
		return
	}
	if _, err := s.doc.ReplaceAs(crdt.OriginSeed, TextContent, content); err != nil {
		logging.Warn().Err(err).Str("resource_id", s.resourceID).Msg("failed to seed replica")
		return
	}
	logging.Info().Str("resource_id", s.resourceID).Int("chars", len(content)).Msg("seeded replica from store")
}

func (s *Session) applyAwareness(payload []byte) {
	u, err := protocol.DecodeAwareness(payload)
	if err != nil {
		logging.Warn().Err(err).Str("resource_id", s.resourceID).Msg("invalid awareness update")
		return
	}
	self := s.doc.ClientID()
	for _, e := range u.Entries {
		// Client 0 is the relay's own entry.
		if e.ClientID == self || e.ClientID == 0 {
			continue
		}
		if e.Removed() {
			delete(s.peers, e.ClientID)
			continue
		}
		var st protocol.PresenceState
		if err := json.Unmarshal(e.State, &st); err != nil {
			continue
		}
		s.peers[e.ClientID] = st
	}
}

// announce publishes this client's presence.
func (s *Session) announce() {
	if !s.connected {
		return
	}
	var st protocol.PresenceState
	st.User.ID = s.user.ID
	st.User.DisplayName = s.user.DisplayName
	st.Typing = s.typing
	state, err := json.Marshal(st)
	if err != nil {
		return
	}
	s.awarenessClock++
	update := protocol.EncodeAwareness(protocol.AwarenessUpdate{Entries: []protocol.AwarenessEntry{{
		ClientID: s.doc.ClientID(),
		Clock:    s.awarenessClock,
		State:    state,
	}}})
	if err := s.link.sendFrame(protocol.Awareness{Update: update}); err != nil {
		s.debug().Err(err).Msg("failed to publish presence")
	}
}

func (s *Session) autosave() {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return
	}
	_ = s.saveLocked(context.Background())
}

// saveLocked persists title and content when there are unsaved local
// changes. On failure the counter is kept for the next tick.
func (s *Session) saveLocked(ctx context.Context) error {
	if s.pendingChanges == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.m.cfg.SaveTimeout)
	defer cancel()

	patch := store.Patch{Title: s.doc.Text(TextTitle), Content: s.doc.Text(TextContent)}
	err := s.m.store.Save(ctx, s.resourceID, patch)
	metrics.RecordAutosave(err)
	if err != nil {
		logging.Warn().Err(err).Str("resource_id", s.resourceID).Int("pending_changes", s.pendingChanges).Msg("autosave failed, retrying next tick")
		return fmt.Errorf("autosave %s: %w", s.resourceID, err)
	}
	s.debug().Int("changes", s.pendingChanges).Msg("autosaved")
	s.pendingChanges = 0
	return nil
}

func (s *Session) snapshot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.snapshots.push(Snapshot{TakenAt: s.m.sched.Now(), State: s.doc.EncodeState()})
	metrics.ClientSnapshots.Inc()
}

// close flushes autosave and releases everything. Frames still queued on
// the connection are abandoned.
func (s *Session) close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	err := s.saveLocked(ctx)
	s.closed = true
	stopAutosave, stopSnapshot := s.stopAutosave, s.stopSnapshot
	s.unlock()

	if stopAutosave != nil {
		stopAutosave()
	}
	if stopSnapshot != nil {
		stopSnapshot()
	}
	s.link.close()
	if s.m.legacy != nil {
		s.m.legacy.Leave(s.room)
	}

	s.mu.Lock()
	s.connected = false
	s.synced = false
	s.queue.reset()
	s.doc.Destroy()
	s.echo.Clear()
	s.peers = nil
	s.typingUsers = nil
	s.mu.Unlock()

	logging.Info().Str("resource_id", s.resourceID).Msg("closed resource")
	return err
}
