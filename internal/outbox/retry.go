// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package outbox

import (
	"context"
	"math"
	"time"

	"github.com/tomtom215/quillsync/internal/logging"
	"github.com/tomtom215/quillsync/internal/metrics"
	"github.com/tomtom215/quillsync/internal/protocol"
)

// Deliverer sends one notification to one user. The bridge implements it.
type Deliverer interface {
	Deliver(ctx context.Context, userID string, msg protocol.NotificationMessage) error
}

// RetryResult summarizes one retry pass.
type RetryResult struct {
	Delivered  int
	Failed     int
	Expired    int
	MaxRetried int
	Skipped    int
}

// RetryLoop periodically redelivers pending entries.
type RetryLoop struct {
	outbox    *Outbox
	deliverer Deliverer
	cfg       Config
	now       func() time.Time
}

// NewRetryLoop creates a retry loop over outbox.
func NewRetryLoop(outbox *Outbox, deliverer Deliverer) *RetryLoop {
	return &RetryLoop{
		outbox:    outbox,
		deliverer: deliverer,
		cfg:       outbox.Config(),
		now:       time.Now,
	}
}

// Serve runs retry passes every RetryInterval until ctx is done.
func (r *RetryLoop) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.RetryInterval)
	defer ticker.Stop()

	logging.Info().
		Dur("interval", r.cfg.RetryInterval).
		Int("max_retries", r.cfg.MaxRetries).
		Msg("outbox retry loop started")

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("outbox retry loop stopped")
			return ctx.Err()
		case <-ticker.C:
			r.RunOnce(ctx)
			if _, err := r.outbox.Compact(ctx); err != nil {
				logging.Warn().Err(err).Msg("outbox compaction failed")
			}
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (r *RetryLoop) String() string {
	return "outbox-retry-loop"
}

// RunOnce processes every pending entry once.
func (r *RetryLoop) RunOnce(ctx context.Context) RetryResult {
	var res RetryResult
	entries, err := r.outbox.Pending(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("outbox retry: failed to list pending entries")
		return res
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		switch r.process(ctx, entry) {
		case resultDelivered:
			res.Delivered++
		case resultFailed:
			res.Failed++
		case resultExpired:
			res.Expired++
		case resultMaxRetried:
			res.MaxRetried++
		case resultSkipped:
			res.Skipped++
		}
	}

	if res.Delivered+res.Failed+res.Expired+res.MaxRetried > 0 {
		logging.Info().
			Int("delivered", res.Delivered).
			Int("failed", res.Failed).
			Int("expired", res.Expired).
			Int("max_retried", res.MaxRetried).
			Msg("outbox retry pass complete")
	}
	return res
}

type result int

const (
	resultDelivered result = iota
	resultFailed
	resultExpired
	resultMaxRetried
	resultSkipped
)

func (r *RetryLoop) process(ctx context.Context, entry *Entry) result {
	if !r.outbox.TryClaim(entry.ID) {
		return resultSkipped
	}
	defer r.outbox.Release(entry.ID)

	now := r.now()
	if now.Sub(entry.CreatedAt) > r.cfg.EntryTTL {
		r.discard(ctx, entry, "expired")
		return resultExpired
	}
	if entry.Attempts >= r.cfg.MaxRetries {
		r.discard(ctx, entry, "max_retries")
		return resultMaxRetried
	}
	if !entry.LastAttemptAt.IsZero() && now.Sub(entry.LastAttemptAt) < r.Backoff(entry.Attempts) {
		return resultSkipped
	}

	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := r.deliverer.Deliver(dctx, entry.UserID, entry.Notification)
	cancel()
	if err != nil {
		metrics.OutboxRetries.WithLabelValues("failed").Inc()
		logging.Warn().
			Err(err).
			Str("entry_id", entry.ID).
			Str("user_id", entry.UserID).
			Int("attempt", entry.Attempts+1).
			Msg("outbox redelivery failed")
		if err := r.outbox.RecordAttempt(ctx, entry.ID, now, err.Error()); err != nil {
			logging.Error().Err(err).Str("entry_id", entry.ID).Msg("outbox failed to record attempt")
		}
		return resultFailed
	}

	metrics.OutboxRetries.WithLabelValues("delivered").Inc()
	if err := r.outbox.Confirm(ctx, entry.ID); err != nil {
		logging.Error().Err(err).Str("entry_id", entry.ID).Msg("outbox failed to confirm entry")
		return resultFailed
	}
	return resultDelivered
}

func (r *RetryLoop) discard(ctx context.Context, entry *Entry, reason string) {
	logging.Info().
		Str("entry_id", entry.ID).
		Str("user_id", entry.UserID).
		Int("attempts", entry.Attempts).
		Str("reason", reason).
		Msg("outbox discarding entry")
	if err := r.outbox.Delete(ctx, entry.ID); err != nil {
		logging.Error().Err(err).Str("entry_id", entry.ID).Msg("outbox failed to delete entry")
	}
	metrics.OutboxDiscarded.WithLabelValues(reason).Inc()
}

// Backoff returns the delay before retry number attempts+1:
// RetryBackoff * 2^attempts, capped at MaxBackoff.
func (r *RetryLoop) Backoff(attempts int) time.Duration {
	maxBackoff := r.cfg.MaxBackoff
	if attempts > 50 {
		return maxBackoff
	}
	backoff := time.Duration(float64(r.cfg.RetryBackoff) * math.Pow(2, float64(attempts)))
	if backoff < 0 || backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}
