// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tomtom215/quillsync/internal/auth"
	"github.com/tomtom215/quillsync/internal/config"
	"github.com/tomtom215/quillsync/internal/identity"
	"github.com/tomtom215/quillsync/internal/legacy"
	"github.com/tomtom215/quillsync/internal/logging"
	"github.com/tomtom215/quillsync/internal/store"
	"github.com/tomtom215/quillsync/internal/syncclient"
)

// closeTimeout bounds the final autosave flush on shutdown.
const closeTimeout = 10 * time.Second

// agent keeps a set of resources open and logs what other users change.
type agent struct {
	user     identity.User
	manager  *syncclient.Manager
	legacy   *legacy.Channel
	store    store.Store
	closer   io.Closer
	sessions []*syncclient.Session
}

// openStore opens the note store selected by cfg. The closer is nil for
// stores that hold no resources.
func openStore(cfg config.StoreConfig) (store.Store, io.Closer, error) {
	switch cfg.Driver {
	case config.StoreMemory:
		return store.NewMemory(), nil, nil
	case config.StoreBadger:
		b, err := store.OpenBadger(cfg.Path, false)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	case config.StoreMySQL:
		g, err := store.OpenMySQL(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return g, g, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// identityFromToken reads the agent's user from its bearer token. The
// relay verifies the token; the agent only needs to know who it is.
func identityFromToken(token string) (identity.User, error) {
	claims, err := auth.PeekClaims(token)
	if err != nil {
		return identity.User{}, err
	}
	return identity.FromClaims(claims), nil
}

func newAgent(cfg *config.Config) (*agent, error) {
	user, err := identityFromToken(cfg.Agent.Token)
	if err != nil {
		return nil, fmt.Errorf("read agent token: %w", err)
	}

	st, closer, err := openStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open note store: %w", err)
	}
	a := &agent{user: user, store: st, closer: closer}

	opts := []syncclient.Option{
		syncclient.WithTokenSource(func() (string, error) { return cfg.Agent.Token, nil }),
	}
	if cfg.NATS.Enabled {
		a.legacy, err = legacy.NewNATS(cfg.NATS.Client(), cfg.Legacy)
		if err != nil {
			a.closeStore()
			return nil, fmt.Errorf("connect legacy channel: %w", err)
		}
		opts = append(opts, syncclient.WithLegacy(a.legacy))
	}

	a.manager = syncclient.NewManager(cfg.Client, st, identity.Static(user), opts...)
	a.manager.OnRemoteTitleChange(func(resourceID, title string) {
		logging.Info().Str("resource_id", resourceID).Str("title", title).Msg("remote title change")
	})
	a.manager.OnRemoteContentChange(func(resourceID, content string) {
		logging.Info().Str("resource_id", resourceID).Int("length", len(content)).Msg("remote content change")
	})
	a.manager.OnAutoAcceptPendingShare(func(_ context.Context, resourceID string, u identity.User) {
		logging.Debug().Str("resource_id", resourceID).Str("user_id", u.ID).Msg("resource synced")
	})
	return a, nil
}

// open opens every resource. Already opened ones stay open on error.
func (a *agent) open(ctx context.Context, resourceIDs []string) error {
	for _, id := range resourceIDs {
		s, err := a.manager.OpenResource(ctx, id)
		if err != nil {
			return fmt.Errorf("open %s: %w", id, err)
		}
		a.sessions = append(a.sessions, s)
	}
	return nil
}

// run keeps the sessions open until ctx is canceled, then closes them.
func (a *agent) run(ctx context.Context) error {
	<-ctx.Done()
	return a.close()
}

func (a *agent) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error
	if err := a.manager.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close sessions: %w", err))
	}
	if a.legacy != nil {
		if err := a.legacy.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close legacy channel: %w", err))
		}
	}
	if err := a.closeStore(); err != nil {
		errs = append(errs, err)
	}
	a.sessions = nil
	return errors.Join(errs...)
}

func (a *agent) closeStore() error {
	if a.closer == nil {
		return nil
	}
	if err := a.closer.Close(); err != nil {
		return fmt.Errorf("close note store: %w", err)
	}
	return nil
}
