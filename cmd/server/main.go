// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/quillsync/internal/config"
	"github.com/tomtom215/quillsync/internal/logging"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(cfg.Logging.Logger())

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Str("addr", cfg.Server.Addr()).
		Str("outbox", cfg.Outbox.Path).
		Msg("Starting Quillsync relay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize server")
	}

	if err := a.run(ctx); err != nil {
		logging.Error().Err(err).Msg("Server stopped with error")
		stop()
		os.Exit(1)
	}
	logging.Info().Msg("Server stopped gracefully")
}
