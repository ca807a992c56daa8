// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tomtom215/quillsync/internal/config"
	"github.com/tomtom215/quillsync/internal/logging"
)

func main() {
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the environment is read")
	flag.Parse()

	// Variables already set in the environment win over the file.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Fatal().Err(err).Str("file", *envFile).Msg("Failed to load env file")
	}

	cfg, err := config.LoadAgent()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(cfg.Logging.Logger())

	resources := append(append([]string(nil), cfg.Agent.Resources...), flag.Args()...)
	if len(resources) == 0 {
		logging.Fatal().Msg("No resources to open: pass resource IDs as arguments or set AGENT_RESOURCES")
	}

	a, err := newAgent(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize sync agent")
	}
	logging.Info().
		Str("user_id", a.user.ID).
		Str("relay", cfg.Client.RelayURL).
		Bool("legacy", a.legacy != nil).
		Strs("resources", resources).
		Msg("Starting Quillsync sync agent")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.open(ctx, resources); err != nil {
		logging.Error().Err(err).Msg("Failed to open resources")
		_ = a.close()
		stop()
		os.Exit(1)
	}

	if err := a.run(ctx); err != nil {
		logging.Error().Err(err).Msg("Sync agent stopped with error")
		stop()
		os.Exit(1)
	}
	logging.Info().Msg("Sync agent stopped")
}
