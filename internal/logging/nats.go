// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package logging

import (
	"fmt"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/rs/zerolog"
)

// NATSServerLogger implements server.Logger for an embedded NATS server.
type NATSServerLogger struct {
	logger zerolog.Logger
}

var _ server.Logger = (*NATSServerLogger)(nil)

// NewNATSServerLogger returns a logger tagged with the given component.
func NewNATSServerLogger(component string) *NATSServerLogger {
	return &NATSServerLogger{logger: WithComponent(component)}
}

// Noticef implements server.Logger.
func (l *NATSServerLogger) Noticef(format string, v ...interface{}) {
	l.logger.Info().Msg(fmt.Sprintf(format, v...))
}

// Warnf implements server.Logger.
func (l *NATSServerLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn().Msg(fmt.Sprintf(format, v...))
}

// Fatalf implements server.Logger. The server handles its own shutdown
// after a fatal condition, so this only logs at error level.
func (l *NATSServerLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error().Bool("fatal", true).Msg(fmt.Sprintf(format, v...))
}

// Errorf implements server.Logger.
func (l *NATSServerLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error().Msg(fmt.Sprintf(format, v...))
}

// Debugf implements server.Logger.
func (l *NATSServerLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug().Msg(fmt.Sprintf(format, v...))
}

// Tracef implements server.Logger.
func (l *NATSServerLogger) Tracef(format string, v ...interface{}) {
	l.logger.Trace().Msg(fmt.Sprintf(format, v...))
}
