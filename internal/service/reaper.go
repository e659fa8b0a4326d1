package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sawtell/cutshop/internal/domain"
)

// Reaper auto-pauses jobs that sit in progress with no state change for
// longer than the configured threshold. It is a periodic sweep outside the
// request path; it pauses through the same transactional JobService.Pause
// as user actions, so a concurrent pause or resume on the same job
// serializes through the job row lock and the loser is a no-op.
type Reaper struct {
	jobs      *JobService
	store     JobStore
	interval  time.Duration
	threshold time.Duration
	now       func() time.Time
}

// NewReaper creates a new Reaper.
func NewReaper(jobs *JobService, store JobStore, interval, threshold time.Duration) *Reaper {
	return &Reaper{
		jobs:      jobs,
		store:     store,
		interval:  interval,
		threshold: threshold,
		now:       time.Now,
	}
}

// Run sweeps on every tick until the context is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("inactivity reaper started",
		"interval", r.interval, "threshold", r.threshold)
	for {
		select {
		case <-ctx.Done():
			slog.Info("inactivity reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep pauses every job left in progress since before the threshold. One
// failed job is logged and skipped; the sweep moves on.
func (r *Reaper) Sweep(ctx context.Context) {
	cutoff := r.now().Add(-r.threshold)
	ids, err := r.store.StaleInProgress(ctx, cutoff)
	if err != nil {
		slog.Error("inactivity sweep failed", "error", err)
		return
	}
	for _, id := range ids {
		if _, err := r.jobs.Pause(ctx, id); err != nil {
			// A job deleted between the scan and the pause is not news.
			if !errors.Is(err, domain.ErrNotFound) {
				slog.Error("auto-pause failed", "job_id", id, "error", err)
			}
			continue
		}
		slog.Info("job auto-paused after inactivity", "job_id", id)
	}
}
