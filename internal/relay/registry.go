// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package relay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/quillsync/internal/logging"
	"github.com/tomtom215/quillsync/internal/metrics"
)

// Fanout carries frames between relay instances serving the same room.
// Subscribers never receive frames they published themselves.
type Fanout interface {
	Subscribe(room string, fn func(frame []byte)) (unsubscribe func(), err error)
	Publish(ctx context.Context, room string, frame []byte) error
}

// ErrRoomNotFound is returned by PushNotification for an unknown room.
var ErrRoomNotFound = errors.New("relay: room not found")

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithFanout connects the registry to other relay instances.
func WithFanout(f Fanout) RegistryOption {
	return func(r *Registry) {
		r.fanout = f
	}
}

// Registry owns every room of one relay process. A room exists while at
// least one connection is attached to it; the last leave destroys it and
// its replica.
//
// Lock order: Registry.mu before Room.mu.
type Registry struct {
	cfg    Config
	fanout Fanout

	mu    sync.Mutex
	rooms map[string]*Room

	onCreate  []func(*Room)
	onDestroy []func(*Room)
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		cfg:   cfg.withDefaults(),
		rooms: make(map[string]*Room),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnCreate registers a hook called after a room is created.
func (r *Registry) OnCreate(fn func(*Room)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCreate = append(r.onCreate, fn)
}

// OnDestroy registers a hook called after a room is torn down.
func (r *Registry) OnDestroy(fn func(*Room)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDestroy = append(r.onDestroy, fn)
}

// GetOrCreate returns the named room, creating it when absent.
func (r *Registry) GetOrCreate(name string) (*Room, error) {
	if name == "" {
		return nil, ErrEmptyRoom
	}
	r.mu.Lock()
	room, created := r.getOrCreateLocked(name)
	hooks := r.onCreate
	r.mu.Unlock()

	if created {
		r.created(room, hooks)
	}
	return room, nil
}

func (r *Registry) getOrCreateLocked(name string) (*Room, bool) {
	if room, ok := r.rooms[name]; ok {
		return room, false
	}
	room := newRoom(name, r.cfg, r.fanout)
	r.rooms[name] = room
	metrics.RelayRoomsActive.Set(float64(len(r.rooms)))
	return room, true
}

func (r *Registry) created(room *Room, hooks []func(*Room)) {
	if r.fanout != nil {
		unsubscribe, err := r.fanout.Subscribe(room.name, room.handleRemote)
		if err != nil {
			logging.Error().Err(err).Str("room", room.name).Msg("fan-out subscribe failed")
		} else {
			room.mu.Lock()
			if room.closed {
				room.mu.Unlock()
				unsubscribe()
			} else {
				room.unsubscribe = unsubscribe
				room.mu.Unlock()
				room.requestState()
			}
		}
	}
	logging.Debug().Str("room", room.name).Msg("room created")
	for _, fn := range hooks {
		fn(room)
	}
}

// Lookup returns the named room if it exists.
func (r *Registry) Lookup(name string) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[name]
	return room, ok
}

// Join attaches c to the named room, creating the room when needed.
func (r *Registry) Join(name string, c *Conn) error {
	if name == "" {
		return ErrEmptyRoom
	}
	r.mu.Lock()
	room, created := r.getOrCreateLocked(name)
	hooks := r.onCreate
	room.join(c)
	metrics.RelayConnectionsActive.Inc()
	r.mu.Unlock()

	if created {
		r.created(room, hooks)
	}
	logging.Debug().Str("room", name).Uint64("conn_id", c.id).Str("user_id", c.principal.UserID).Msg("connection joined")
	return nil
}

// Leave detaches c from its room and destroys the room once it is empty.
func (r *Registry) Leave(c *Conn) {
	room := c.room.Load()
	if room == nil {
		return
	}

	r.mu.Lock()
	found, remaining, removal := room.leave(c)
	if !found {
		r.mu.Unlock()
		return
	}
	metrics.RelayConnectionsActive.Dec()
	destroy := remaining == 0 && r.rooms[room.name] == room
	if destroy {
		delete(r.rooms, room.name)
		metrics.RelayRoomsActive.Set(float64(len(r.rooms)))
	}
	hooks := r.onDestroy
	r.mu.Unlock()

	if removal != nil {
		room.publish(removal)
	}
	if destroy {
		r.destroy(room, hooks)
	}
}

// Remove tears a room down, closing every connection still attached.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	room, ok := r.rooms[name]
	if ok {
		delete(r.rooms, name)
		metrics.RelayRoomsActive.Set(float64(len(r.rooms)))
	}
	hooks := r.onDestroy
	r.mu.Unlock()

	if !ok {
		return false
	}
	for _, c := range r.destroy(room, hooks) {
		metrics.RelayConnectionsActive.Dec()
		c.closeWith(websocket.CloseGoingAway, errors.New("room closed"))
	}
	return true
}

func (r *Registry) destroy(room *Room, hooks []func(*Room)) []*Conn {
	conns := room.teardown()
	logging.Debug().Str("room", room.name).Msg("room destroyed")
	for _, fn := range hooks {
		fn(room)
	}
	return conns
}

// Rooms returns the names of the live rooms, sorted.
func (r *Registry) Rooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// PushNotification injects a notification into a live room as if an
// authorized connection had sent it.
func (r *Registry) PushNotification(name string, payload []byte) error {
	room, ok := r.Lookup(name)
	if !ok {
		return ErrRoomNotFound
	}
	return room.PushNotification(payload)
}

// Sweep closes connections that have not finished the handshake within
// HandshakeTimeout of joining. It returns how many were closed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.Unlock()

	var stale []*Conn
	for _, room := range rooms {
		room.mu.Lock()
		for c := range room.conns {
			if c.State() < StateLive && now.Sub(c.joinedAt) > r.cfg.HandshakeTimeout {
				stale = append(stale, c)
			}
		}
		room.mu.Unlock()
	}
	for _, c := range stale {
		metrics.RecordDrop("handshake_timeout")
		c.closeWith(websocket.ClosePolicyViolation, errors.New("handshake timeout"))
	}
	return len(stale)
}

// Serve runs the handshake janitor until ctx is done, then closes every
// connection with a going-away close frame.
func (r *Registry) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.HandshakeTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return ctx.Err()
		case now := <-ticker.C:
			if n := r.Sweep(now); n > 0 {
				logging.Info().Int("closed", n).Msg("closed connections stuck in handshake")
			}
		}
	}
}

func (r *Registry) shutdown() {
	r.mu.Lock()
	var conns []*Conn
	for _, room := range r.rooms {
		room.mu.Lock()
		for c := range room.conns {
			conns = append(conns, c)
		}
		room.mu.Unlock()
	}
	rooms := len(r.rooms)
	r.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, errors.New("server shutting down"))
	}
	logging.Info().Int("rooms", rooms).Int("connections", len(conns)).Msg("relay registry stopped")
}

// String implements fmt.Stringer for supervisor logging.
func (r *Registry) String() string {
	return "relay-registry"
}
