// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

// Package logging provides the zerolog-based logger shared by every Quillsync
// component.
//
// The relay, the notification bridge and the client synchronization manager
// all log through the package-level helpers so that a single Init call at
// startup controls level, format and destination:
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//	logging.Info().Str("room", name).Msg("Room created")
//
// Component loggers carry a "component" field:
//
//	log := logging.WithComponent("relay")
//	log.Debug().Uint64("conn_id", id).Msg("Connection joined")
//
// Always terminate event chains with Msg or Send; an unterminated event is
// never written.
package logging

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level: trace, debug, info, warn, error, fatal, panic, disabled.
	Level string

	// Format is json or console.
	Format string

	Caller    bool
	Timestamp bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

// current is swapped atomically so Init can run while other goroutines log.
var current atomic.Pointer[zerolog.Logger]

//nolint:gochecknoinits // logging must work before Init is called
func init() {
	Init(Config{Level: "info", Format: "json", Timestamp: true})
}

// Init configures the global logger. It may be called again at any time,
// which is how tests silence output.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFieldName = "time"
	zerolog.MessageFieldName = "message"

	l := New(cfg)
	current.Store(&l)
}

// New builds a logger from cfg without touching the global one. The level
// filter of the returned logger is applied on top of the global level.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(out).Level(parseLevel(cfg.Level)).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// parseLevel maps a configured level name to zerolog. Unknown and empty
// names mean info.
func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// Logger returns a copy of the global logger.
func Logger() zerolog.Logger {
	return *current.Load()
}

// WithComponent returns a child logger tagged with the component name.
func WithComponent(component string) zerolog.Logger {
	return current.Load().With().Str("component", component).Logger()
}

func Debug() *zerolog.Event { return current.Load().Debug() }

func Info() *zerolog.Event { return current.Load().Info() }

func Warn() *zerolog.Event { return current.Load().Warn() }

func Error() *zerolog.Event { return current.Load().Error() }

// Fatal starts a fatal level event. os.Exit(1) is called after Msg.
func Fatal() *zerolog.Event { return current.Load().Fatal() }

// Err starts an error level event with err attached, or an info event
// when err is nil.
//
//	logging.Err(err).Str("room", name).Msg("Merge finished")
func Err(err error) *zerolog.Event { return current.Load().Err(err) }
