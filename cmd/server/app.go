// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tomtom215/quillsync/internal/api"
	"github.com/tomtom215/quillsync/internal/auth"
	"github.com/tomtom215/quillsync/internal/authz"
	"github.com/tomtom215/quillsync/internal/bridge"
	"github.com/tomtom215/quillsync/internal/config"
	"github.com/tomtom215/quillsync/internal/fanout"
	"github.com/tomtom215/quillsync/internal/logging"
	"github.com/tomtom215/quillsync/internal/outbox"
	"github.com/tomtom215/quillsync/internal/relay"
	"github.com/tomtom215/quillsync/internal/supervisor"
	"github.com/tomtom215/quillsync/internal/supervisor/services"
)

// bridgeUserID is the subject of the tokens the notification bridge
// presents to the relay.
const bridgeUserID = "notification-bridge"

// app holds every component of a running relay server.
type app struct {
	cfg *config.Config

	jwt      *auth.JWTManager
	registry *relay.Registry
	outbox   *outbox.Outbox
	bridge   *bridge.Bridge
	fanout   *fanout.Redis
	nats     *services.EmbeddedNATSService
	handler  http.Handler
	tree     *supervisor.Tree
}

// newApp wires the server from cfg. When wiring fails halfway the
// components created so far are released.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg
	var err error

	if cfg.NATS.Enabled && cfg.NATS.Embedded {
		a.nats = services.NewEmbeddedNATSService(services.EmbeddedNATSConfig{
			Host: cfg.NATS.Host,
			Port: cfg.NATS.Port,
		})
		if err = a.nats.Start(); err != nil {
			return fmt.Errorf("start embedded NATS: %w", err)
		}
	}

	a.jwt, err = auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("create JWT manager: %w", err)
	}
	enforcer, err := authz.NewEnforcer(cfg.Auth.Authz())
	if err != nil {
		return fmt.Errorf("create authorization enforcer: %w", err)
	}
	gate := auth.NewGate(a.jwt, enforcer)

	var registryOpts []relay.RegistryOption
	if cfg.Redis.Enabled {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		a.fanout, err = fanout.NewRedis(dialCtx, cfg.Redis.Fanout())
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis fan-out: %w", err)
		}
		registryOpts = append(registryOpts, relay.WithFanout(a.fanout))
		logging.Info().Str("addr", cfg.Redis.Addr).Msg("cross-instance fan-out enabled")
	}
	a.registry = relay.NewRegistry(cfg.Relay.Connection, registryOpts...)

	a.outbox, err = outbox.Open(cfg.Outbox)
	if err != nil {
		return fmt.Errorf("open outbox: %w", err)
	}

	a.bridge = bridge.New(cfg.Bridge,
		bridge.WithQueue(a.outbox),
		bridge.WithTokenSource(func() (string, error) {
			return a.jwt.GenerateToken(bridgeUserID, "Notification Bridge", auth.RoleBackend)
		}),
	)

	handlerOpts := []api.HandlerOption{
		api.WithRegistry(a.registry),
		api.WithNotifier(a.bridge),
		api.WithReadinessCheck("outbox", a.outbox.Ping),
	}
	if a.nats != nil {
		handlerOpts = append(handlerOpts, api.WithReadinessCheck("nats", func(context.Context) error {
			if !a.nats.Running() {
				return errors.New("embedded NATS server is not running")
			}
			return nil
		}))
	}
	if cfg.Auth.DevTokens {
		handlerOpts = append(handlerOpts, api.WithTokenIssuer(a.jwt))
		logging.Warn().Msg("development token endpoint enabled (AUTH_DEV_TOKENS=true)")
	}

	relayHandler := relay.NewHandler(a.registry, gate, cfg.Relay.Connection, cfg.Auth.CORSOrigins)
	mwCfg := api.DefaultChiMiddlewareConfig()
	mwCfg.CORSAllowedOrigins = cfg.Auth.CORSOrigins
	mwCfg.UpgradeRequests = cfg.Relay.UpgradeRate
	mwCfg.UpgradeWindow = cfg.Relay.UpgradeWindow
	mwCfg.IngressRequests = cfg.Auth.IngressRate

	router := api.NewRouter(api.NewHandler(relayHandler, gate, handlerOpts...), api.NewChiMiddleware(mwCfg))
	a.handler = router.SetupChi()

	a.tree = supervisor.New(logging.NewSlogLogger(), supervisor.TreeConfig{ShutdownTimeout: a.cfg.Server.ShutdownTimeout})
	return nil
}

// httpServer returns the listener configuration for a.handler.
func (a *app) httpServer() *http.Server {
	return &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.Server.ReadTimeout,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		IdleTimeout:       a.cfg.Server.IdleTimeout,
	}
}

// run supervises the services until ctx is canceled, then releases every
// resource.
func (a *app) run(ctx context.Context) error {
	a.tree.Add(supervisor.LayerData, outbox.NewRetryLoop(a.outbox, a.bridge))
	if a.nats != nil {
		a.tree.Add(supervisor.LayerMessaging, a.nats)
	}
	a.tree.Add(supervisor.LayerMessaging, a.registry)
	a.tree.Add(supervisor.LayerAPI, services.NewHTTPServerService(a.httpServer(), a.cfg.Server.Addr(), a.cfg.Server.ShutdownTimeout))

	logging.Info().
		Str("addr", a.cfg.Server.Addr()).
		Str("namespace", a.cfg.Relay.Namespace).
		Bool("nats", a.nats != nil).
		Bool("redis", a.fanout != nil).
		Msg("starting supervisor tree")

	runErr := a.tree.Serve(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	} else if runErr != nil {
		logging.Error().Err(runErr).Msg("supervisor tree error")
	}

	if unstopped, _ := a.tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service failed to stop within timeout")
		}
	}

	a.close()
	return runErr
}

// close releases resources in reverse wiring order. It tolerates
// components that were never created.
func (a *app) close() {
	if a.bridge != nil {
		if err := a.bridge.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing notification bridge")
		}
	}
	if a.outbox != nil {
		if err := a.outbox.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing outbox")
		}
	}
	if a.fanout != nil {
		if err := a.fanout.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing redis fan-out")
		}
	}
	if a.nats != nil {
		a.nats.Shutdown()
	}
}
