// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

/*
Package metrics holds the Prometheus collectors exported at /metrics.

Relay:
  - relay_rooms_active (gauge)
  - relay_connections_active (gauge)
  - relay_frames_total{direction,type} (counter)
  - relay_connections_dropped_total{reason} (counter)
  - relay_merge_errors_total (counter)
  - relay_notifications_total{result} (counter)

Notification bridge and outbox:
  - bridge_deliveries_total{result} (counter)
  - bridge_connections_active (gauge)
  - outbox_pending_entries (gauge)
  - outbox_retries_total{result} (counter)
  - outbox_discarded_total{reason} (counter)

Client synchronization:
  - client_autosaves_total{result} (counter)
  - client_snapshots_total (counter)
  - client_pending_updates (gauge)
  - client_legacy_events_total{direction,result} (counter)

HTTP:
  - http_requests_total{method,route,status} (counter)
  - http_request_duration_seconds{method,route} (histogram)
  - http_requests_in_flight (gauge)

Circuit breakers:
  - circuit_breaker_state{name} (gauge, 0=closed 1=half-open 2=open)
  - circuit_breaker_transitions_total{name,from,to} (counter)
*/
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RelayRoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_rooms_active",
		Help: "Number of rooms with at least one connection",
	})

	RelayConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_active",
		Help: "Number of open relay connections",
	})

	RelayFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_frames_total",
		Help: "Frames received and sent by the relay",
	}, []string{"direction", "type"})

	RelayConnectionsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_connections_dropped_total",
		Help: "Connections closed by the relay, by reason",
	}, []string{"reason"})

	RelayMergeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_merge_errors_total",
		Help: "Updates rejected by the canonical replica",
	})

	RelayNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_notifications_total",
		Help: "NOTIFICATION frames handled by the relay",
	}, []string{"result"})

	BridgeDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_deliveries_total",
		Help: "Notification deliveries attempted by the bridge",
	}, []string{"result"})

	BridgeConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_connections_active",
		Help: "Open bridge connections to notification rooms",
	})

	OutboxPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_pending_entries",
		Help: "Notifications waiting for redelivery",
	})

	OutboxRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_retries_total",
		Help: "Redelivery attempts from the outbox",
	}, []string{"result"})

	OutboxDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_discarded_total",
		Help: "Outbox entries given up on",
	}, []string{"reason"})

	ClientAutosaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "client_autosaves_total",
		Help: "Autosave attempts by result",
	}, []string{"result"})

	ClientSnapshots = promauto.NewCounter(prometheus.CounterOpts{
		Name: "client_snapshots_total",
		Help: "In-memory snapshots captured",
	})

	ClientPendingUpdates = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "client_pending_updates",
		Help: "Deltas buffered while disconnected, across open resources",
	})

	ClientLegacyEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "client_legacy_events_total",
		Help: "Legacy channel events by direction and result",
	}, []string{"direction", "result"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method, route pattern and status",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "http_requests_in_flight",
		Help: "HTTP requests being served",
	})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"name"})

	CircuitBreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_transitions_total",
		Help: "Circuit breaker state transitions",
	}, []string{"name", "from", "to"})
)

// RecordFrame counts one frame. direction is "in" or "out".
func RecordFrame(direction, frameType string) {
	RelayFrames.WithLabelValues(direction, frameType).Inc()
}

// RecordDrop counts a connection closed by the relay.
func RecordDrop(reason string) {
	RelayConnectionsDropped.WithLabelValues(reason).Inc()
}

// RecordDelivery counts a bridge delivery outcome.
func RecordDelivery(delivered bool) {
	if delivered {
		BridgeDeliveries.WithLabelValues("delivered").Inc()
		return
	}
	BridgeDeliveries.WithLabelValues("queued").Inc()
}

// RecordAutosave counts an autosave outcome.
func RecordAutosave(err error) {
	if err != nil {
		ClientAutosaves.WithLabelValues("error").Inc()
		return
	}
	ClientAutosaves.WithLabelValues("success").Inc()
}

// RecordBreakerTransition updates the breaker gauges. state follows the
// gobreaker numbering (closed, half-open, open).
func RecordBreakerTransition(name, from, to string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		HTTPRequestsInFlight.Inc()
		return
	}
	HTTPRequestsInFlight.Dec()
}

// RecordHTTPRequest counts one served request.
func RecordHTTPRequest(method, route, status string, d time.Duration) {
	HTTPRequests.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
