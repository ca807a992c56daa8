// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package syncclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/quillsync/internal/logging"
	"github.com/tomtom215/quillsync/internal/protocol"
)

// ErrOffline is returned when a frame cannot be handed to a live relay
// connection. It is retryable; the session buffers the delta.
var ErrOffline = errors.New("syncclient: relay offline")

// TokenSource returns the bearer token presented to the relay.
type TokenSource func() (string, error)

// linkHandler receives connection events. Calls come from the transport
// goroutine, one at a time.
type linkHandler interface {
	onConnected()
	received(protocol.Frame)
	onDisconnected(err error)
}

// transport keeps one websocket to a relay room open, reconnecting with
// exponential backoff until closed.
type transport struct {
	target  string
	cfg     Config
	token   TokenSource
	dialer  *websocket.Dialer
	handler linkHandler

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	ws   *websocket.Conn
	send chan []byte
}

func newTransport(cfg Config, room string, token TokenSource, handler linkHandler) *transport {
	ctx, cancel := context.WithCancel(context.Background())
	return &transport{
		target:  strings.TrimRight(cfg.RelayURL, "/") + "/ws/" + url.PathEscape(room),
		cfg:     cfg,
		token:   token,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout, Proxy: http.ProxyFromEnvironment},
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (t *transport) start() {
	go t.run()
}

func (t *transport) run() {
	defer close(t.done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.ReconnectInitial
	b.MaxInterval = t.cfg.ReconnectMax
	b.MaxElapsedTime = 0

	for {
		live, err := t.session()
		if t.ctx.Err() != nil {
			return
		}
		if live {
			b.Reset()
		}
		wait := b.NextBackOff()
		logging.Debug().Err(err).Str("url", t.target).Dur("retry_in", wait).Msg("relay connection lost")

		timer := time.NewTimer(wait)
		select {
		case <-t.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session dials once and pumps frames until the connection ends. live
// reports whether the dial succeeded.
func (t *transport) session() (live bool, err error) {
	ws, err := t.dial()
	if err != nil {
		return false, err
	}

	send := make(chan []byte, t.cfg.SendBuffer)
	t.mu.Lock()
	if t.ctx.Err() != nil {
		t.mu.Unlock()
		_ = ws.Close()
		return true, t.ctx.Err()
	}
	t.ws = ws
	t.send = send
	t.mu.Unlock()

	writerDone := make(chan struct{})
	go t.writePump(ws, send, writerDone)

	t.handler.onConnected()
	err = t.readPump(ws)

	t.mu.Lock()
	t.ws = nil
	t.send = nil
	close(send)
	t.mu.Unlock()
	_ = ws.Close()
	<-writerDone

	t.handler.onDisconnected(err)
	return true, err
}

func (t *transport) dial() (*websocket.Conn, error) {
	header := http.Header{}
	if t.token != nil {
		token, err := t.token()
		if err != nil {
			return nil, fmt.Errorf("%w: token: %v", ErrOffline, err)
		}
		header.Set("Authorization", "Bearer "+token)
	}

	ctx, cancel := context.WithTimeout(t.ctx, t.cfg.DialTimeout)
	defer cancel()
	ws, resp, err := t.dialer.DialContext(ctx, t.target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrOffline, t.target, err)
	}
	return ws, nil
}

func (t *transport) readPump(ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		f, err := protocol.Decode(data)
		if err != nil {
			logging.Warn().Err(err).Str("url", t.target).Msg("dropping undecodable relay frame")
			continue
		}
		t.handler.received(f)
	}
}

func (t *transport) writePump(ws *websocket.Conn, send <-chan []byte, done chan<- struct{}) {
	defer close(done)
	for data := range send {
		_ = ws.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
		if err := ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
			_ = ws.Close()
			for range send {
			}
			return
		}
	}
}

// sendFrame queues f on the live connection without blocking.
func (t *transport) sendFrame(f protocol.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.send == nil {
		return ErrOffline
	}
	select {
	case t.send <- protocol.Encode(f):
		return nil
	default:
		return fmt.Errorf("%w: send queue full", ErrOffline)
	}
}

// drop closes the current connection; the run loop reconnects.
func (t *transport) drop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ws != nil {
		_ = t.ws.Close()
	}
}

// close stops reconnecting and abandons queued frames.
func (t *transport) close() {
	t.cancel()
	t.mu.Lock()
	if t.ws != nil {
		_ = t.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = t.ws.Close()
	}
	t.mu.Unlock()
	<-t.done
}
