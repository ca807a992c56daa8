// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomtom215/quillsync/internal/auth"
	"github.com/tomtom215/quillsync/internal/logging"
	"github.com/tomtom215/quillsync/internal/metrics"
	"github.com/tomtom215/quillsync/internal/protocol"
)

// ConnState is the lifecycle of one relay connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateSyncing
	StateLive
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSyncing:
		return "syncing"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrEmptyRoom is returned when a connection names no room.
	ErrEmptyRoom = errors.New("relay: empty room name")

	// ErrUnauthorizedFrame is returned when a connection sends a frame type
	// it is not allowed to send.
	ErrUnauthorizedFrame = errors.New("relay: frame not authorized for connection")

	// ErrSyncInNotificationRoom is returned when a SYNC frame arrives in a
	// notification room, which holds no replica.
	ErrSyncInNotificationRoom = errors.New("relay: sync frame in notification room")

	errSlowConsumer = errors.New("relay: send queue full")
)

// connIDCounter hands out process-unique connection IDs.
var connIDCounter atomic.Uint64

// Conn is one websocket connection attached to exactly one room.
type Conn struct {
	id        uint64
	ws        *websocket.Conn
	cfg       Config
	principal auth.Principal
	canNotify bool
	limiter   *rate.Limiter

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeCode int
	closeText string

	state    atomic.Int32
	joinedAt time.Time

	room atomic.Pointer[Room]

	// Guarded by the owning room's mutex.
	awarenessIDs map[uint64]struct{}
}

// NewConn wraps an upgraded websocket.
func NewConn(ws *websocket.Conn, principal auth.Principal, canNotify bool, cfg Config) *Conn {
	cfg = cfg.withDefaults()
	return &Conn{
		id:           connIDCounter.Add(1),
		ws:           ws,
		cfg:          cfg,
		principal:    principal,
		canNotify:    canNotify,
		limiter:      rate.NewLimiter(rate.Limit(cfg.FramesPerSecond), cfg.Burst),
		send:         make(chan []byte, cfg.SendBuffer),
		done:         make(chan struct{}),
		awarenessIDs: make(map[uint64]struct{}),
	}
}

// ID returns the connection ID.
func (c *Conn) ID() uint64 {
	return c.id
}

// State returns the current lifecycle state.
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Conn) setState(s ConnState) {
	for {
		cur := c.state.Load()
		// Closed is terminal and states only move forward.
		if ConnState(cur) >= s {
			return
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// enqueue hands msg to the write pump without blocking. A full queue
// closes the connection so one slow consumer never stalls a broadcast.
func (c *Conn) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		metrics.RecordDrop("slow_consumer")
		c.closeWith(websocket.CloseTryAgainLater, errSlowConsumer)
		return false
	}
}

// closeWith stops the connection. The write pump sends a close frame with
// code and the reason, then closes the socket, which ends the read pump.
func (c *Conn) closeWith(code int, reason error) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		if reason != nil {
			c.closeText = reason.Error()
		}
		c.state.Store(int32(StateClosed))
		close(c.done)
	})
}

// Close closes the connection normally.
func (c *Conn) Close() {
	c.closeWith(websocket.CloseNormalClosure, nil)
}

// readPump decodes inbound frames and hands them to the room until the
// socket fails or the connection is closed. The write pump owns closing
// the socket.
func (c *Conn) readPump(reg *Registry) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		reg.Leave(c)
		c.Close()
	}()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Uint64("conn_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		if kind != websocket.BinaryMessage {
			c.protocolError(errors.New("text message on binary protocol"))
			return
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			c.protocolError(err)
			return
		}
		metrics.RecordFrame("in", frame.Type().String())

		room := c.room.Load()
		if room == nil {
			return
		}
		if err := room.handle(c, frame); err != nil {
			c.protocolError(err)
			return
		}
	}
}

func (c *Conn) protocolError(err error) {
	code := websocket.CloseProtocolError
	reason := "protocol_error"
	if errors.Is(err, ErrUnauthorizedFrame) {
		code = websocket.ClosePolicyViolation
		reason = "unauthorized"
	}
	metrics.RecordDrop(reason)
	logging.Warn().Err(err).Uint64("conn_id", c.id).Str("user_id", c.principal.UserID).Msg("closing connection on protocol error")
	c.closeWith(code, err)
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, err)
				return
			}
		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, err)
				return
			}
		case <-c.done:
			// Flush what is already queued so a rejection reason or the
			// last broadcast reaches the peer before the close frame.
			c.drain()
			msg := websocket.FormatCloseMessage(c.closeCode, truncateReason(c.closeText))
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteWait))
			return
		}
	}
}

func (c *Conn) drain() {
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Close frame payloads are limited to 125 bytes, 2 of them the code.
func truncateReason(s string) string {
	if len(s) > 123 {
		return s[:123]
	}
	return s
}

// Start joins room and runs the pumps. It returns ErrEmptyRoom (after
// closing the socket) when room is empty.
func (c *Conn) Start(reg *Registry, room string) error {
	if room == "" {
		metrics.RecordDrop("empty_room")
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ErrEmptyRoom.Error())
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteWait))
		_ = c.ws.Close()
		c.state.Store(int32(StateClosed))
		return ErrEmptyRoom
	}
	if err := reg.Join(room, c); err != nil {
		_ = c.ws.Close()
		return err
	}
	go c.writePump()
	go c.readPump(reg)
	return nil
}
