// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/quillsync/internal/logging"
	"github.com/tomtom215/quillsync/internal/metrics"
	"github.com/tomtom215/quillsync/internal/outbox"
	"github.com/tomtom215/quillsync/internal/protocol"
)

var (
	// ErrDial wraps failures to open a relay connection.
	ErrDial = errors.New("bridge: dial relay")

	// ErrSend wraps failures to write to an open relay connection.
	ErrSend = errors.New("bridge: send notification")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bridge: closed")
)

const breakerName = "bridge-dial"

// Queue stores deliveries that failed so they can be retried later.
type Queue interface {
	Enqueue(ctx context.Context, userID string, msg protocol.NotificationMessage) (string, error)
}

// TokenSource returns the bearer token presented to the relay.
type TokenSource func() (string, error)

// BroadcastResult counts per-recipient outcomes of BroadcastToUsers.
type BroadcastResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

var _ outbox.Deliverer = (*Bridge)(nil)

// Bridge pushes notifications from backend code into users' notification
// rooms on the relay. It keeps one relay connection per user.
type Bridge struct {
	cfg     Config
	token   TokenSource
	queue   Queue
	dialer  *websocket.Dialer
	breaker *gobreaker.CircuitBreaker[*websocket.Conn]
	dials   singleflight.Group

	mu     sync.Mutex
	conns  map[string]*userConn
	closed bool
}

type userConn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (uc *userConn) close() {
	uc.closeOnce.Do(func() {
		_ = uc.ws.Close()
	})
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithQueue stores failed deliveries in q.
func WithQueue(q Queue) Option {
	return func(b *Bridge) {
		b.queue = q
	}
}

// WithTokenSource sets the bearer token source. Without one the bridge
// connects anonymously and the relay rejects its frames.
func WithTokenSource(ts TokenSource) Option {
	return func(b *Bridge) {
		b.token = ts
	}
}

// New creates a bridge for the relay at cfg.RelayURL.
func New(cfg Config, opts ...Option) *Bridge {
	cfg = cfg.withDefaults()
	b := &Bridge{
		cfg:   cfg,
		conns: make(map[string]*userConn),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
	for _, opt := range opts {
		opt(b)
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	b.breaker = gobreaker.NewCircuitBreaker[*websocket.Conn](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state transition")
			metrics.RecordBreakerTransition(name, from.String(), to.String(), int(to))
		},
	})
	return b
}

// RoomFor returns the notification room of userID.
func RoomFor(namespace, userID string) string {
	return namespace + protocol.NotificationRoomInfix + userID
}

// SendToUser delivers msg to every open client of userID. On failure the
// delivery is queued for retry and false is returned. It never returns an
// error and never panics.
func (b *Bridge) SendToUser(ctx context.Context, userID string, msg protocol.NotificationMessage) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Interface("panic", r).Str("user_id", userID).Msg("recovered panic in notification delivery")
			ok = false
		}
	}()

	err := b.Deliver(ctx, userID, msg)
	metrics.RecordDelivery(err == nil)
	if err == nil {
		return true
	}

	log := logging.Ctx(ctx)
	log.Warn().Err(err).Str("user_id", userID).Str("type", msg.Type).Msg("notification delivery failed")
	if b.queue != nil && userID != "" {
		if _, qerr := b.queue.Enqueue(context.WithoutCancel(ctx), userID, msg); qerr != nil {
			log.Error().Err(qerr).Str("user_id", userID).Msg("failed to queue notification")
		}
	}
	return false
}

// BroadcastToUsers delivers msg to each user independently with bounded
// parallelism.
func (b *Bridge) BroadcastToUsers(ctx context.Context, userIDs []string, msg protocol.NotificationMessage) BroadcastResult {
	var sent, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(b.cfg.Concurrency)
	for _, id := range userIDs {
		g.Go(func() error {
			if b.SendToUser(ctx, id, msg) {
				sent.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return BroadcastResult{Sent: int(sent.Load()), Failed: int(failed.Load())}
}

// Deliver writes one NOTIFICATION frame to userID's room. It is the
// outbox's redelivery path and does not queue on failure.
func (b *Bridge) Deliver(ctx context.Context, userID string, msg protocol.NotificationMessage) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", ErrSend)
	}
	frame, err := protocol.NotificationFrame(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSend, err)
	}

	uc, err := b.connFor(ctx, userID)
	if err != nil {
		return err
	}

	uc.writeMu.Lock()
	defer uc.writeMu.Unlock()
	deadline := time.Now().Add(b.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = uc.ws.SetWriteDeadline(deadline)
	if err := uc.ws.WriteMessage(websocket.BinaryMessage, protocol.Encode(frame)); err != nil {
		b.drop(userID, uc)
		return fmt.Errorf("%w: %v", ErrSend, err)
	}
	return nil
}

func (b *Bridge) connFor(ctx context.Context, userID string) (*userConn, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if uc, ok := b.conns[userID]; ok {
		b.mu.Unlock()
		return uc, nil
	}
	b.mu.Unlock()

	v, err, _ := b.dials.Do(userID, func() (any, error) {
		b.mu.Lock()
		if uc, ok := b.conns[userID]; ok {
			b.mu.Unlock()
			return uc, nil
		}
		b.mu.Unlock()

		ws, err := b.breaker.Execute(func() (*websocket.Conn, error) {
			return b.dial(ctx, userID)
		})
		if err != nil {
			return nil, err
		}

		uc := &userConn{ws: ws}
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			_ = ws.Close()
			return nil, ErrClosed
		}
		b.conns[userID] = uc
		metrics.BridgeConnectionsActive.Set(float64(len(b.conns)))
		b.mu.Unlock()

		go b.readLoop(userID, uc)
		return uc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*userConn), nil
}

func (b *Bridge) dial(ctx context.Context, userID string) (*websocket.Conn, error) {
	header := http.Header{}
	if b.token != nil {
		token, err := b.token()
		if err != nil {
			return nil, fmt.Errorf("%w: token: %v", ErrDial, err)
		}
		header.Set("Authorization", "Bearer "+token)
	}

	target := strings.TrimRight(b.cfg.RelayURL, "/") + "/ws/" + url.PathEscape(RoomFor(b.cfg.Namespace, userID))
	dctx, cancel := context.WithTimeout(ctx, b.cfg.HandshakeTimeout)
	defer cancel()

	ws, resp, err := b.dialer.DialContext(dctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrDial, target, err)
	}
	logging.Debug().Str("user_id", userID).Msg("bridge connected to notification room")
	return ws, nil
}

// readLoop discards relay traffic and removes the connection once the
// relay closes it. The next send dials again.
func (b *Bridge) readLoop(userID string, uc *userConn) {
	defer b.drop(userID, uc)
	for {
		if _, _, err := uc.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug().Err(err).Str("user_id", userID).Msg("bridge connection closed by relay")
			}
			return
		}
	}
}

func (b *Bridge) drop(userID string, uc *userConn) {
	b.mu.Lock()
	if cur, ok := b.conns[userID]; ok && cur == uc {
		delete(b.conns, userID)
		metrics.BridgeConnectionsActive.Set(float64(len(b.conns)))
	}
	b.mu.Unlock()
	uc.close()
}

// Connections returns the number of open relay connections.
func (b *Bridge) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Close closes every relay connection. Later sends fail and are queued.
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.closed = true
	conns := b.conns
	b.conns = make(map[string]*userConn)
	b.mu.Unlock()

	for _, uc := range conns {
		uc.writeMu.Lock()
		_ = uc.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		uc.writeMu.Unlock()
		uc.close()
	}
	metrics.BridgeConnectionsActive.Set(0)
	return nil
}
