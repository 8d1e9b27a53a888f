// Package worker holds maintenance jobs that run alongside a batch.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// StaleResetter is satisfied by storage.RunReader.
type StaleResetter interface {
	ResetStale(ctx context.Context, pipeline string, cutoff time.Time) (int64, error)
}

// Reaper fails runs left queued or processing by a crashed invocation so the
// retry policy can see them. It runs once, before the batch creates its own runs.
type Reaper struct {
	pipeline   string
	staleAfter time.Duration
	store      StaleResetter
	now        func() time.Time
}

// NewReaper creates a reaper. A zero staleAfter disables it.
func NewReaper(pipeline string, staleAfter time.Duration, store StaleResetter) *Reaper {
	return &Reaper{
		pipeline:   pipeline,
		staleAfter: staleAfter,
		store:      store,
		now:        time.Now,
	}
}

// Reap resets stale runs and returns how many changed.
func (r *Reaper) Reap(ctx context.Context) int64 {
	if r.staleAfter <= 0 {
		return 0
	}

	cutoff := r.now().Add(-r.staleAfter)
	n, err := r.store.ResetStale(ctx, r.pipeline, cutoff)
	if err != nil {
		slog.Error("Failed to reset stale runs", "pipeline", r.pipeline, "error", err)
		return 0
	}
	if n > 0 {
		slog.Info("Reset stale runs", "pipeline", r.pipeline, "count", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return n
}
