// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package api

import (
	"context"
	"net/http"
	"time"
)

// readinessTimeout bounds all readiness checks together.
const readinessTimeout = 3 * time.Second

// HealthLive handles liveness probe requests.
// Returns 200 OK if the process is alive, regardless of dependencies.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, r, http.StatusOK, map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// ReadinessStatus is the body of GET /health/ready.
type ReadinessStatus struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
	Rooms  int               `json:"rooms"`
	Uptime float64           `json:"uptime"`
}

// HealthReady handles readiness probe requests.
// Returns 200 only if every registered check passes, 503 otherwise.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := ReadinessStatus{
		Ready:  true,
		Checks: make(map[string]string, len(h.checks)),
		Uptime: time.Since(h.startTime).Seconds(),
	}
	for _, c := range h.checks {
		if err := c.check(ctx); err != nil {
			status.Ready = false
			status.Checks[c.name] = err.Error()
			continue
		}
		status.Checks[c.name] = "ok"
	}
	if h.registry != nil {
		status.Rooms = h.registry.Len()
	}

	if !status.Ready {
		respondJSON(w, r, http.StatusServiceUnavailable, &APIResponse{
			Status: "error",
			Data:   status,
			Error:  &APIError{Code: ErrCodeServiceUnavailable, Message: "Service is not ready"},
		})
		return
	}
	respondSuccess(w, r, http.StatusOK, status)
}
