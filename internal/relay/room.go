// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package relay

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/quillsync/internal/crdt"
	"github.com/tomtom215/quillsync/internal/logging"
	"github.com/tomtom215/quillsync/internal/metrics"
	"github.com/tomtom215/quillsync/internal/protocol"
)

// ServerClientID is the awareness client ID under which the relay publishes
// a notification room's retained notifications. Replicas never use 0.
const ServerClientID uint64 = 0

type awarenessState struct {
	clock uint64
	state json.RawMessage
	// owner is nil for entries learned from another relay instance.
	owner *Conn
}

// Room is one broadcast domain: its connections, the canonical replica and
// the ephemeral awareness map. Notification rooms have no replica. All
// mutation happens under mu; fan-out to connection queues happens after mu
// is released.
type Room struct {
	name   string
	cfg    Config
	fanout Fanout
	notify bool

	mu            sync.Mutex
	closed        bool
	doc           *crdt.Doc
	conns         map[*Conn]struct{}
	awareness     map[uint64]awarenessState
	notifications []protocol.NotificationMessage
	notifyClock   uint64
	unsubscribe   func()
	createdAt     time.Time
}

func newRoom(name string, cfg Config, fanout Fanout) *Room {
	r := &Room{
		name:      name,
		cfg:       cfg,
		fanout:    fanout,
		notify:    protocol.IsNotificationRoom(name),
		conns:     make(map[*Conn]struct{}),
		awareness: make(map[uint64]awarenessState),
		createdAt: time.Now(),
	}
	if !r.notify {
		r.doc = crdt.New()
	}
	return r
}

// Name returns the room name.
func (r *Room) Name() string {
	return r.name
}

// Len returns the number of attached connections.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// IsNotification reports whether r is a notification room.
func (r *Room) IsNotification() bool {
	return r.notify
}

// StateVector returns the canonical replica's state vector. It is nil for
// notification rooms.
func (r *Room) StateVector() crdt.StateVector {
	if r.doc == nil {
		return nil
	}
	return r.doc.StateVector()
}

// Text materializes a text of the canonical replica.
func (r *Room) Text(name string) string {
	if r.doc == nil {
		return ""
	}
	return r.doc.Text(name)
}

// join attaches c and queues the opening handshake: the room's state
// vector and the current awareness states. Notification rooms have nothing
// to sync, so their connections are live at once and get no SyncStep1.
func (r *Room) join(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[c] = struct{}{}
	c.room.Store(r)
	c.joinedAt = time.Now()
	if r.notify {
		c.setState(StateLive)
	} else {
		c.setState(StateSyncing)
		sv := crdt.EncodeStateVector(r.doc.StateVector())
		r.sendLocked(c, protocol.SyncStep1{StateVector: sv})
	}
	if u := r.fullAwarenessLocked(); len(u.Entries) > 0 {
		r.sendLocked(c, protocol.Awareness{Update: protocol.EncodeAwareness(u)})
	}
}

// leave detaches c, drops its awareness entries and tells the remaining
// members. It reports whether c was attached, how many connections are
// left and the removal frame to publish to other relay instances.
func (r *Room) leave(c *Conn) (found bool, remaining int, removal []byte) {
	r.mu.Lock()
	if _, ok := r.conns[c]; !ok {
		n := len(r.conns)
		r.mu.Unlock()
		return false, n, nil
	}
	delete(r.conns, c)
	c.room.Store(nil)

	var removed []protocol.AwarenessEntry
	for id := range c.awarenessIDs {
		if st, ok := r.awareness[id]; ok && st.owner == c {
			delete(r.awareness, id)
			removed = append(removed, protocol.AwarenessEntry{ClientID: id, Clock: st.clock + 1})
		}
		delete(c.awarenessIDs, id)
	}
	targets := r.targetsLocked(nil)
	n := len(r.conns)
	r.mu.Unlock()

	if len(removed) == 0 {
		return true, n, nil
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ClientID < removed[j].ClientID })
	frame := protocol.Encode(protocol.Awareness{Update: protocol.EncodeAwareness(protocol.AwarenessUpdate{Entries: removed})})
	r.broadcast(targets, frame, protocol.MessageAwareness)
	return true, n, frame
}

// handle dispatches one inbound frame. A returned error is a protocol
// error and closes c; merge errors are logged and swallowed.
func (r *Room) handle(c *Conn, frame protocol.Frame) error {
	if r.notify && frame.Type() == protocol.MessageSync {
		return ErrSyncInNotificationRoom
	}
	switch f := frame.(type) {
	case protocol.SyncStep1:
		return r.handleSyncStep1(c, f)
	case protocol.SyncStep2:
		return r.handleUpdate(c, f.Update)
	case protocol.SyncUpdate:
		return r.handleUpdate(c, f.Update)
	case protocol.Awareness:
		return r.handleAwareness(c, f)
	case protocol.Notification:
		if !c.canNotify {
			metrics.RelayNotifications.WithLabelValues("unauthorized").Inc()
			return ErrUnauthorizedFrame
		}
		if err := r.PushNotification(f.Payload); err != nil {
			return err
		}
		c.setState(StateLive)
		return nil
	default:
		return fmt.Errorf("%w: %T", protocol.ErrUnknownFrame, frame)
	}
}

func (r *Room) handleSyncStep1(c *Conn, f protocol.SyncStep1) error {
	sv, err := crdt.DecodeStateVector(f.StateVector)
	if err != nil {
		return fmt.Errorf("sync step 1: %w", err)
	}
	c.setState(StateLive)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.sendLocked(c, protocol.SyncStep2{Update: r.doc.Diff(sv)})
	return nil
}

func (r *Room) handleUpdate(c *Conn, update []byte) error {
	c.setState(StateLive)
	if len(update) == 0 {
		return nil
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	if err := r.doc.ApplyRemote(update, crdt.OriginRemote); err != nil {
		r.mu.Unlock()
		metrics.RelayMergeErrors.Inc()
		logging.Warn().Err(err).Str("room", r.name).Uint64("conn_id", c.id).Msg("discarded update")
		return nil
	}
	targets := r.targetsLocked(c)
	r.mu.Unlock()

	frame := protocol.Encode(protocol.SyncUpdate{Update: update})
	r.broadcast(targets, frame, protocol.MessageSync)
	r.publish(frame)
	return nil
}

func (r *Room) handleAwareness(c *Conn, f protocol.Awareness) error {
	u, err := protocol.DecodeAwareness(f.Update)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.applyAwarenessLocked(u, c)
	targets := r.targetsLocked(nil)
	r.mu.Unlock()

	frame := protocol.Encode(f)
	r.broadcast(targets, frame, protocol.MessageAwareness)
	r.publish(frame)
	return nil
}

// applyAwarenessLocked records entries for owner (nil for remote relays).
// The server entry cannot be overwritten by clients.
func (r *Room) applyAwarenessLocked(u protocol.AwarenessUpdate, owner *Conn) {
	for _, e := range u.Entries {
		if e.ClientID == ServerClientID {
			continue
		}
		if cur, ok := r.awareness[e.ClientID]; ok && cur.clock > e.Clock {
			continue
		}
		if e.Removed() {
			delete(r.awareness, e.ClientID)
			if owner != nil {
				delete(owner.awarenessIDs, e.ClientID)
			}
			continue
		}
		r.awareness[e.ClientID] = awarenessState{clock: e.Clock, state: e.State, owner: owner}
		if owner != nil {
			owner.awarenessIDs[e.ClientID] = struct{}{}
		}
	}
}

// PushNotification appends a notification to the room's server awareness
// entry and broadcasts the new state to every connection as one Awareness
// frame.
func (r *Room) PushNotification(payload []byte) error {
	if err := r.pushNotification(payload); err != nil {
		return err
	}
	r.publish(protocol.Encode(protocol.Notification{Payload: payload}))
	return nil
}

func (r *Room) pushNotification(payload []byte) error {
	msg, err := protocol.ParseNotification(payload)
	if err != nil {
		metrics.RelayNotifications.WithLabelValues("malformed").Inc()
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	for _, existing := range r.notifications {
		if msg.ID != "" && existing.ID == msg.ID {
			r.mu.Unlock()
			return nil
		}
	}
	r.notifications = append(r.notifications, msg)
	if over := len(r.notifications) - r.cfg.NotificationRetention; over > 0 {
		r.notifications = append([]protocol.NotificationMessage(nil), r.notifications[over:]...)
	}
	r.notifyClock++
	entry, err := r.notificationEntryLocked()
	targets := r.targetsLocked(nil)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	metrics.RelayNotifications.WithLabelValues("accepted").Inc()
	frame := protocol.Encode(protocol.Awareness{Update: protocol.EncodeAwareness(protocol.AwarenessUpdate{Entries: []protocol.AwarenessEntry{entry}})})
	r.broadcast(targets, frame, protocol.MessageAwareness)
	return nil
}

func (r *Room) notificationEntryLocked() (protocol.AwarenessEntry, error) {
	state, err := json.Marshal(protocol.NotificationState{Notifications: r.notifications})
	if err != nil {
		return protocol.AwarenessEntry{}, fmt.Errorf("marshal notification state: %w", err)
	}
	return protocol.AwarenessEntry{ClientID: ServerClientID, Clock: r.notifyClock, State: state}, nil
}

func (r *Room) fullAwarenessLocked() protocol.AwarenessUpdate {
	ids := make([]uint64, 0, len(r.awareness))
	for id := range r.awareness {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var u protocol.AwarenessUpdate
	if len(r.notifications) > 0 {
		if entry, err := r.notificationEntryLocked(); err == nil {
			u.Entries = append(u.Entries, entry)
		}
	}
	for _, id := range ids {
		st := r.awareness[id]
		u.Entries = append(u.Entries, protocol.AwarenessEntry{ClientID: id, Clock: st.clock, State: st.state})
	}
	return u
}

// handleRemote applies a frame published by another relay instance.
// Nothing received here is published again.
func (r *Room) handleRemote(raw []byte) {
	frame, err := protocol.Decode(raw)
	if err != nil {
		logging.Warn().Err(err).Str("room", r.name).Msg("ignoring malformed fan-out frame")
		return
	}
	if r.notify && frame.Type() == protocol.MessageSync {
		return
	}

	switch f := frame.(type) {
	case protocol.SyncStep1:
		sv, err := crdt.DecodeStateVector(f.StateVector)
		if err != nil {
			return
		}
		if diff := r.doc.Diff(sv); diff != nil {
			r.publish(protocol.Encode(protocol.SyncStep2{Update: diff}))
		}
	case protocol.SyncStep2, protocol.SyncUpdate:
		var update []byte
		if s2, ok := f.(protocol.SyncStep2); ok {
			update = s2.Update
		} else {
			update = f.(protocol.SyncUpdate).Update
		}
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		before := r.doc.StateVector()
		if err := r.doc.ApplyRemote(update, crdt.OriginRemote); err != nil {
			r.mu.Unlock()
			metrics.RelayMergeErrors.Inc()
			return
		}
		changed := r.doc.StateVector().Missing(before) > 0
		targets := r.targetsLocked(nil)
		r.mu.Unlock()
		if changed {
			r.broadcast(targets, protocol.Encode(protocol.SyncUpdate{Update: update}), protocol.MessageSync)
		}
	case protocol.Awareness:
		u, err := protocol.DecodeAwareness(f.Update)
		if err != nil {
			return
		}
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		r.applyAwarenessLocked(u, nil)
		targets := r.targetsLocked(nil)
		r.mu.Unlock()
		r.broadcast(targets, raw, protocol.MessageAwareness)
	case protocol.Notification:
		if err := r.pushNotification(f.Payload); err != nil {
			logging.Warn().Err(err).Str("room", r.name).Msg("ignoring fan-out notification")
		}
	}
}

// requestState asks other relay instances for the room's current content.
func (r *Room) requestState() {
	if r.doc == nil {
		return
	}
	r.publish(protocol.Encode(protocol.SyncStep1{StateVector: crdt.EncodeStateVector(r.doc.StateVector())}))
}

func (r *Room) publish(frame []byte) {
	if r.fanout == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteWait)
	defer cancel()
	if err := r.fanout.Publish(ctx, r.name, frame); err != nil {
		logging.Debug().Err(err).Str("room", r.name).Msg("fan-out publish failed")
	}
}

// targetsLocked snapshots the connections except skip.
func (r *Room) targetsLocked(skip *Conn) []*Conn {
	out := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		if c != skip {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (r *Room) sendLocked(c *Conn, f protocol.Frame) {
	if c.enqueue(protocol.Encode(f)) {
		metrics.RecordFrame("out", f.Type().String())
	}
}

func (r *Room) broadcast(targets []*Conn, frame []byte, typ protocol.MessageType) {
	for _, c := range targets {
		if c.enqueue(frame) {
			metrics.RecordFrame("out", typ.String())
		}
	}
}

// teardown frees every resource of an empty or removed room and returns
// the connections that were still attached.
func (r *Room) teardown() []*Conn {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conns := r.targetsLocked(nil)
	for _, c := range conns {
		c.room.Store(nil)
	}
	r.conns = map[*Conn]struct{}{}
	r.awareness = map[uint64]awarenessState{}
	r.notifications = nil
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if r.doc != nil {
		r.doc.Destroy()
	}
	return conns
}
