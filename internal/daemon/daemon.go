// Package daemon assembles the stores, worker pool, reconciler, notifier,
// and API server into a single lifecycle with flock-based locking to prevent
// multiple instances from sharing one database.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"foundry/internal/config"
	"foundry/internal/coordinator"
	"foundry/internal/logging"
	"foundry/internal/notify"
	"foundry/internal/queue"
	"foundry/internal/reconciler"
	"foundry/internal/server"
	"foundry/internal/task"
	"foundry/internal/trainer"
	"foundry/internal/worker"
)

// Daemon owns the long-running components of the training service.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store *task.Store
	jobs  *queue.Store
	hub   *notify.Hub
	coord *coordinator.Coordinator
	pool  *worker.Pool
	recon *reconciler.Reconciler
	watch *notify.Watcher
	api   *server.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New opens the stores and wires every component.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	store, err := task.OpenFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	jobs, err := queue.OpenFromConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open job queue: %w", err)
	}

	hub := notify.NewHub(0)
	coord := coordinator.New(store, jobs, cfg, logger)
	client := trainer.NewCLI(trainer.WithBinary(cfg.Trainer.Binary))
	pool := worker.NewPool(store, jobs, client, cfg, logger)
	recon := reconciler.New(store, jobs, cfg, logger)
	watch := notify.NewWatcher(
		store,
		hub,
		time.Duration(cfg.Notifier.PollIntervalMillis)*time.Millisecond,
		time.Duration(cfg.Notifier.RetentionSeconds)*time.Second,
		logger,
	)
	apiSrv := server.New(cfg, coord, hub, pool, logger)

	lockPath := filepath.Join(cfg.Paths.DataDir, "foundryd.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		jobs:     jobs,
		hub:      hub,
		coord:    coord,
		pool:     pool,
		recon:    recon,
		watch:    watch,
		api:      apiSrv,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Coordinator exposes the write path for embedding callers.
func (d *Daemon) Coordinator() *coordinator.Coordinator {
	return d.coord
}

// Start acquires the instance lock and launches every component. It returns
// once the API server is listening; background loops run until Stop.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another foundry daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	if err := d.api.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		close(d.done)
		return err
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return d.pool.Run(gctx) })
	g.Go(func() error { return d.recon.Run(gctx) })
	g.Go(func() error { return d.watch.Run(gctx) })

	go func() {
		defer close(d.done)
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("component exited", logging.Error(err))
		}
	}()

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("db", d.store.Path()),
		logging.String("lock", d.lockPath),
		logging.Int("workers", d.cfg.Workers.Count))
	return nil
}

// Stop shuts every component down and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.running.Store(false)

	if d.cancel != nil {
		d.cancel()
	}
	if d.done != nil {
		select {
		case <-d.done:
		case <-time.After(10 * time.Second):
			d.logger.Warn("shutdown timed out waiting for components")
		}
	}
	d.api.Stop()
	if err := d.jobs.Close(); err != nil {
		d.logger.Warn("close job queue", logging.Error(err))
	}
	if err := d.store.Close(); err != nil {
		d.logger.Warn("close task store", logging.Error(err))
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release lock", logging.Error(err))
	}
	d.logger.Info("daemon stopped")
}

// Wait blocks until the background components exit.
func (d *Daemon) Wait(ctx context.Context) error {
	if d.done == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return nil
	}
}
