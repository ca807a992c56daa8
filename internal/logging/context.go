// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// fieldsKey stores one ctxFields value per context. Setters copy it, so
// a derived context never changes its parent's fields.
type fieldsKey struct{}

type ctxFields struct {
	correlationID string
	requestID     string
}

func fieldsFrom(ctx context.Context) ctxFields {
	f, _ := ctx.Value(fieldsKey{}).(ctxFields)
	return f
}

// GenerateCorrelationID returns a short random ID for tracing one logical
// operation (a notification fan-out, a resync) across log lines.
func GenerateCorrelationID() string {
	return uuid.NewString()[:8]
}

func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	f := fieldsFrom(ctx)
	f.correlationID = id
	return context.WithValue(ctx, fieldsKey{}, f)
}

func ContextWithNewCorrelationID(ctx context.Context) context.Context {
	return ContextWithCorrelationID(ctx, GenerateCorrelationID())
}

// CorrelationIDFromContext returns the correlation ID or "".
func CorrelationIDFromContext(ctx context.Context) string {
	return fieldsFrom(ctx).correlationID
}

// ContextWithRequestID attaches the HTTP request ID set by the request ID
// middleware.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	f := fieldsFrom(ctx)
	f.requestID = id
	return context.WithValue(ctx, fieldsKey{}, f)
}

// RequestIDFromContext returns the request ID or "".
func RequestIDFromContext(ctx context.Context) string {
	return fieldsFrom(ctx).requestID
}

// Ctx returns the global logger enriched with the IDs carried by ctx.
//
//	logging.Ctx(ctx).Info().Str("user_id", id).Msg("Notification queued")
func Ctx(ctx context.Context) *zerolog.Logger {
	f := fieldsFrom(ctx)
	l := Logger()
	if f.correlationID == "" && f.requestID == "" {
		return &l
	}
	lc := l.With()
	if f.correlationID != "" {
		lc = lc.Str("correlation_id", f.correlationID)
	}
	if f.requestID != "" {
		lc = lc.Str("request_id", f.requestID)
	}
	l = lc.Logger()
	return &l
}
