// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/tomtom215/quillsync/internal/logging"
)

// Tracing headers.
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderCorrelationID = "X-Correlation-ID"
)

// maxTraceIDLength bounds IDs accepted from clients; longer or non-printable
// values are replaced.
const maxTraceIDLength = 128

// RequestID assigns a request ID and a correlation ID to each request,
// reusing well-formed IDs sent by the caller, and echoes both back.
func RequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := traceID(r.Header.Get(HeaderRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		correlationID := traceID(r.Header.Get(HeaderCorrelationID))
		if correlationID == "" {
			correlationID = logging.GenerateCorrelationID()
		}

		h := w.Header()
		h.Set(HeaderRequestID, requestID)
		h.Set(HeaderCorrelationID, correlationID)

		ctx := logging.ContextWithRequestID(r.Context(), requestID)
		ctx = logging.ContextWithCorrelationID(ctx, correlationID)
		next(w, r.WithContext(ctx))
	}
}

func traceID(v string) string {
	if len(v) > maxTraceIDLength {
		return ""
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 0x21 || v[i] > 0x7e {
			return ""
		}
	}
	return v
}

// GetRequestID returns the request ID set by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	return logging.RequestIDFromContext(ctx)
}
