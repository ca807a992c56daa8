// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package syncclient

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/tomtom215/quillsync/internal/echo"
	"github.com/tomtom215/quillsync/internal/identity"
	"github.com/tomtom215/quillsync/internal/legacy"
	"github.com/tomtom215/quillsync/internal/logging"
	"github.com/tomtom215/quillsync/internal/schedule"
	"github.com/tomtom215/quillsync/internal/store"
)

var (
	// ErrEmptyResource is returned by OpenResource for an empty ID.
	ErrEmptyResource = errors.New("syncclient: empty resource id")

	// ErrManagerClosed is returned after Close.
	ErrManagerClosed = errors.New("syncclient: manager closed")

	// ErrUnknownSession is returned when closing a session this manager
	// does not hold.
	ErrUnknownSession = errors.New("syncclient: unknown session")
)

// AutoAcceptFunc is called once per session when presence is established.
type AutoAcceptFunc func(ctx context.Context, resourceID string, user identity.User)

// Manager owns the open sessions of one client. Independent managers can
// coexist in one process.
type Manager struct {
	cfg      Config
	store    store.Store
	identity identity.Provider
	legacy   *legacy.Channel
	sched    schedule.Scheduler
	token    TokenSource
	echoCfg  echo.Config

	mu       sync.Mutex
	closed   bool
	sessions map[string]*Session
	byRoom   map[string]*Session
	onTitle  []func(resourceID, title string)
	onBody   []func(resourceID, content string)
	onAccept []AutoAcceptFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithLegacy mirrors title and content changes on ch.
func WithLegacy(ch *legacy.Channel) Option {
	return func(m *Manager) {
		m.legacy = ch
	}
}

// WithScheduler runs autosave and snapshots on s instead of the wall clock.
func WithScheduler(s schedule.Scheduler) Option {
	return func(m *Manager) {
		m.sched = s
	}
}

// WithTokenSource authenticates relay connections.
func WithTokenSource(ts TokenSource) Option {
	return func(m *Manager) {
		m.token = ts
	}
}

// WithEchoConfig bounds the per-session echo caches.
func WithEchoConfig(cfg echo.Config) Option {
	return func(m *Manager) {
		m.echoCfg = cfg
	}
}

// NewManager creates a manager that persists through st and identifies
// the local user through id.
func NewManager(cfg Config, st store.Store, id identity.Provider, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg.withDefaults(),
		store:    st,
		identity: id,
		sched:    schedule.Real{},
		echoCfg:  echo.DefaultConfig(),
		sessions: make(map[string]*Session),
		byRoom:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.legacy != nil {
		for _, event := range []string{legacy.EventTitleUpdate, legacy.EventContentUpdate, legacy.EventTyping} {
			m.legacy.On(event, m.onLegacy)
		}
	}
	return m
}

// OnRemoteTitleChange registers a hook for titles changed by others.
func (m *Manager) OnRemoteTitleChange(fn func(resourceID, title string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTitle = append(m.onTitle, fn)
}

// OnRemoteContentChange registers a hook for content changed by others.
func (m *Manager) OnRemoteContentChange(fn func(resourceID, content string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onBody = append(m.onBody, fn)
}

// OnAutoAcceptPendingShare registers a hook that runs once per session
// after its first completed sync.
func (m *Manager) OnAutoAcceptPendingShare(fn AutoAcceptFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAccept = append(m.onAccept, fn)
}

func (m *Manager) titleHooks() []func(string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.onTitle)
}

func (m *Manager) contentHooks() []func(string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.onBody)
}

func (m *Manager) acceptHooks() []AutoAcceptFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.onAccept)
}

// OpenResource opens resourceID or returns the session already open for
// it. Every successful call must be paired with CloseResource.
func (m *Manager) OpenResource(ctx context.Context, resourceID string) (*Session, error) {
	if resourceID == "" {
		return nil, ErrEmptyResource
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if s, ok := m.sessions[resourceID]; ok {
		s.refs++
		m.mu.Unlock()
		return s, nil
	}
	s := newSession(m, resourceID)
	m.sessions[resourceID] = s
	m.byRoom[s.room] = s
	m.mu.Unlock()

	if m.legacy != nil {
		if err := m.legacy.Join(ctx, s.room); err != nil {
			logging.Warn().Err(err).Str("resource_id", resourceID).Msg("legacy channel join failed")
		}
	}
	s.start()

	logging.Info().Str("resource_id", resourceID).Str("room", s.room).Msg("opened resource")
	return s, nil
}

// CloseResource releases one reference to s. The last release flushes
// autosave and tears the session down; the flush error is returned.
func (m *Manager) CloseResource(ctx context.Context, s *Session) error {
	m.mu.Lock()
	if cur, ok := m.sessions[s.resourceID]; !ok || cur != s {
		m.mu.Unlock()
		return ErrUnknownSession
	}
	s.refs--
	if s.refs > 0 {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, s.resourceID)
	delete(m.byRoom, s.room)
	m.mu.Unlock()

	return s.close(ctx)
}

// Sessions returns the number of open sessions.
func (m *Manager) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close tears down every session regardless of references.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.byRoom = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) onLegacy(_ context.Context, msg legacy.Message) {
	m.mu.Lock()
	s := m.byRoom[msg.Room]
	m.mu.Unlock()
	if s != nil {
		s.receiveLegacy(msg)
	}
}
