// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/tomtom215/quillsync/internal/logging"
)

// ErrNATSStopped is returned by Serve when the embedded server shuts down
// without being asked to.
var ErrNATSStopped = errors.New("embedded NATS server stopped")

// EmbeddedNATSConfig configures the in-process NATS server that carries the
// legacy event channel. Port -1 picks a random free port.
type EmbeddedNATSConfig struct {
	ServerName   string
	Host         string
	Port         int
	MaxPayload   int32
	ReadyTimeout time.Duration
}

// EmbeddedNATSService runs a core NATS server (no JetStream) under the
// supervisor. Serve starts the server if it is not already running and
// shuts it down when the context is canceled. If the server dies on its
// own, Serve returns ErrNATSStopped and the next Serve starts a fresh one.
type EmbeddedNATSService struct {
	cfg EmbeddedNATSConfig

	mu     sync.Mutex
	server *server.Server
}

// NewEmbeddedNATSService creates the service. The server is not started
// until Start or Serve is called.
func NewEmbeddedNATSService(cfg EmbeddedNATSConfig) *EmbeddedNATSService {
	if cfg.ServerName == "" {
		cfg.ServerName = "quillsync-legacy"
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = 1024 * 1024
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 10 * time.Second
	}
	return &EmbeddedNATSService{cfg: cfg}
}

// Start launches the server and waits until it accepts connections. It is
// a no-op when the server is already running. Call it before creating NATS
// clients so they connect on the first attempt.
func (s *EmbeddedNATSService) Start() error {
	_, err := s.ensureRunning()
	return err
}

func (s *EmbeddedNATSService) ensureRunning() (*server.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil && s.server.Running() {
		return s.server, nil
	}

	ns, err := server.NewServer(&server.Options{
		ServerName: s.cfg.ServerName,
		Host:       s.cfg.Host,
		Port:       s.cfg.Port,
		MaxPayload: s.cfg.MaxPayload,
		NoSigs:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}
	ns.SetLogger(logging.NewNATSServerLogger("nats-server"), false, false)

	go ns.Start()

	if !ns.ReadyForConnections(s.cfg.ReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within %s", s.cfg.ReadyTimeout)
	}

	logging.Info().Str("url", ns.ClientURL()).Msg("embedded NATS server ready")
	s.server = ns
	return ns, nil
}

// Serve implements suture.Service.
func (s *EmbeddedNATSService) Serve(ctx context.Context) error {
	ns, err := s.ensureRunning()
	if err != nil {
		return err
	}

	stopped := make(chan struct{})
	go func() {
		ns.WaitForShutdown()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		ns.Shutdown()
		<-stopped
		return ctx.Err()
	case <-stopped:
		logging.Warn().Msg("embedded NATS server stopped unexpectedly")
		return ErrNATSStopped
	}
}

// ClientURL returns the URL clients should connect to, or "" when the
// server is not running.
func (s *EmbeddedNATSService) ClientURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil || !s.server.Running() {
		return ""
	}
	return s.server.ClientURL()
}

// Running reports whether the server accepts connections.
func (s *EmbeddedNATSService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server != nil && s.server.Running()
}

// Shutdown stops the server outside of supervision.
func (s *EmbeddedNATSService) Shutdown() {
	s.mu.Lock()
	ns := s.server
	s.mu.Unlock()
	if ns == nil {
		return
	}
	ns.Shutdown()
	ns.WaitForShutdown()
}

// String implements fmt.Stringer.
func (s *EmbeddedNATSService) String() string {
	return "embedded-nats"
}
