package dispatch

import (
	"context"
	"time"
)

// Reconciler sweeps orphaned QUEUED records (enqueue failed after the job
// write) and stale RUNNING records (crashed worker, no heartbeat) so both
// become eligible for redelivery (spec §4.2, §8 scenario 14).
type Reconciler struct {
	Engine *Engine
	// QueuedGrace is how old a QUEUED record must be before it's considered
	// orphaned and re-enqueued.
	QueuedGrace time.Duration
	// Interval is how often the sweep runs.
	Interval time.Duration
}

// NewReconciler builds a Reconciler with spec-reasonable defaults.
func NewReconciler(e *Engine) *Reconciler {
	return &Reconciler{Engine: e, QueuedGrace: 2 * time.Minute, Interval: 30 * time.Second}
}

// Run sweeps on Interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	now := time.Now().UTC()

	orphaned, err := r.Engine.opts.Store.ReapOrphanedQueued(ctx, now.Add(-r.QueuedGrace))
	if err == nil {
		for _, j := range orphaned {
			if err := r.Engine.opts.Queue.Enqueue(ctx, j.ID); err != nil {
				r.Engine.opts.Log.Warn(ctx, "reconciler: re-enqueue orphaned job failed", "job_id", j.ID, "err", err)
			}
		}
	}

	stale, err := r.Engine.opts.Store.ReapStaleRunning(ctx, now)
	if err == nil {
		for _, j := range stale {
			// The job stays RUNNING in the store. When the fresh message is
			// handled, the QUEUED->RUNNING CAS misses and the message is
			// deleted, so the job is not executed a second time; the original
			// worker's RUNNING->terminal CAS still applies if it finishes.
			if err := r.Engine.opts.Queue.Enqueue(ctx, j.ID); err != nil {
				r.Engine.opts.Log.Warn(ctx, "reconciler: re-enqueue stale running job failed", "job_id", j.ID, "err", err)
			}
		}
	}
}
