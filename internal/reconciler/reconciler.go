// Package reconciler repairs state left behind by lost workers. It
// periodically fails running tasks whose heartbeat expired and returns
// expired queue leases to the ready pool.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"foundry/internal/config"
	"foundry/internal/logging"
	"foundry/internal/queue"
	"foundry/internal/task"
)

// Reconciler sweeps the task store and job queue on an interval.
type Reconciler struct {
	store    *task.Store
	jobs     *queue.Store
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// New constructs a reconciler from configuration.
func New(store *task.Store, jobs *queue.Store, cfg *config.Config, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = logging.NewNop()
	}
	interval := time.Duration(cfg.Workflow.ReconcileInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := time.Duration(cfg.Workflow.HeartbeatTimeout) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Reconciler{
		store:    store,
		jobs:     jobs,
		interval: interval,
		timeout:  timeout,
		logger:   logging.NewComponentLogger(logger, "reconciler"),
	}
}

// Run sweeps until the context ends. One sweep happens immediately so a
// restart repairs stale state without waiting a full interval.
func (r *Reconciler) Run(ctx context.Context) error {
	r.Sweep(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one reconciliation pass.
func (r *Reconciler) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.timeout)
	failed, err := r.store.FailStaleRunning(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("stale running sweep failed", logging.Error(err))
		}
	}
	for _, id := range failed {
		r.logger.Warn("task failed, worker heartbeat expired", logging.String(logging.FieldTaskID, id))
	}

	reclaimed, err := r.jobs.ReclaimExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("lease reclaim failed", logging.Error(err))
		}
		return
	}
	if reclaimed > 0 {
		r.logger.Info("queue leases reclaimed", logging.Int64("count", reclaimed))
	}
}
