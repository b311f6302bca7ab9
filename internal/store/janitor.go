// Package store provides the Janitor for purging idle sessions.
package store

import (
	"context"
	"log/slog"
	"time"
)

// Janitor periodically deletes sessions that have been idle longer than the
// retention window.
type Janitor struct {
	store        Store
	ttl          time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

// NewJanitor creates a Janitor. A non-positive pollInterval defaults to a
// tenth of the TTL, bounded to at least one minute.
func NewJanitor(s Store, ttl, pollInterval time.Duration) *Janitor {
	if pollInterval <= 0 {
		pollInterval = ttl / 10
		if pollInterval < time.Minute {
			pollInterval = time.Minute
		}
	}
	return &Janitor{
		store:        s,
		ttl:          ttl,
		pollInterval: pollInterval,
		now:          time.Now,
	}
}

// Run starts the purge loop. It blocks until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	if j.ttl <= 0 {
		slog.Info("Janitor.Run: session TTL disabled, not starting")
		return
	}
	slog.Info("Janitor.Run: starting session janitor", "ttl", j.ttl, "pollInterval", j.pollInterval)

	ticker := time.NewTicker(j.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Janitor.Run: stopping")
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep purges idle sessions once and returns how many were removed.
func (j *Janitor) Sweep(ctx context.Context) int64 {
	cutoff := j.now().Add(-j.ttl)
	n, err := j.store.PurgeSessionsBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Janitor.Sweep: purge failed", "error", err)
		return 0
	}
	if n > 0 {
		slog.Info("Janitor.Sweep: purged idle sessions", "count", n, "cutoff", cutoff)
	}
	return n
}
