// Package worker runs the training worker pool. Each worker polls the job
// queue, claims the referenced task record, drives the external trainer, and
// finalizes the record with the outcome. Claiming is a conditional store
// update, so a job delivered more than once still trains at most once.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"foundry/internal/config"
	"foundry/internal/logging"
	"foundry/internal/queue"
	"foundry/internal/task"
	"foundry/internal/trainer"
)

// errStopRequested aborts a run when the cancel flag is observed at an epoch
// boundary.
var errStopRequested = errors.New("stop requested")

// Pool owns a set of training workers sharing one queue topic.
type Pool struct {
	store   *task.Store
	jobs    *queue.Store
	client  trainer.Client
	cfg     *config.Config
	logger  *slog.Logger
	running atomic.Int64
}

// NewPool constructs a worker pool.
func NewPool(store *task.Store, jobs *queue.Store, client trainer.Client, cfg *config.Config, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pool{
		store:  store,
		jobs:   jobs,
		client: client,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "worker"),
	}
}

// Running reports how many workers are currently executing a task.
func (p *Pool) Running() int {
	return int(p.running.Load())
}

// Run starts the configured number of workers and blocks until the context
// ends.
func (p *Pool) Run(ctx context.Context) error {
	count := p.cfg.Workers.Count
	if count <= 0 {
		count = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < count; i++ {
		workerID := fmt.Sprintf("worker-%d", i+1)
		g.Go(func() error {
			return p.runWorker(ctx, workerID)
		})
	}
	return g.Wait()
}

func (p *Pool) runWorker(ctx context.Context, workerID string) error {
	logger := p.logger.With(logging.String(logging.FieldWorkerID, workerID))
	pollInterval := time.Duration(p.cfg.Workflow.QueuePollInterval) * time.Second
	retryInterval := time.Duration(p.cfg.Workflow.ErrorRetryInterval) * time.Second
	lease := time.Duration(p.cfg.Workflow.QueueLeaseSeconds) * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		job, err := p.jobs.Dequeue(ctx, p.cfg.Workers.Topic, lease)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("dequeue failed", logging.Error(err))
			if !sleepCtx(ctx, retryInterval) {
				return ctx.Err()
			}
			continue
		}
		if job == nil {
			if !sleepCtx(ctx, pollInterval) {
				return ctx.Err()
			}
			continue
		}

		p.handleJob(ctx, logger, job)
	}
}

func (p *Pool) handleJob(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	logger = logger.With(logging.String(logging.FieldTaskID, job.TaskID))

	claimed, err := p.store.Claim(ctx, job.TaskID)
	if err != nil {
		// Leave the job leased; the lease expires and the queue redelivers.
		logger.Warn("claim failed", logging.Error(err))
		return
	}
	if !claimed {
		// Stopped before start, already handled, or a duplicate delivery.
		logger.Info("job skipped, task not pending")
		p.ack(ctx, logger, job)
		return
	}

	p.running.Add(1)
	logger.Info("task claimed")
	outcome := p.runTask(ctx, logger, job.TaskID)
	p.running.Add(-1)

	finCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		finCtx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if _, err := p.store.Finalize(finCtx, job.TaskID, outcome); err != nil {
		logger.Error("finalize failed", logging.Error(err))
	} else {
		logger.Info("task finalized", logging.String("status", string(outcome.Status)))
	}
	p.ack(ctx, logger, job)
}

func (p *Pool) runTask(ctx context.Context, logger *slog.Logger, taskID string) task.Outcome {
	t, err := p.store.GetByID(ctx, taskID)
	if err != nil {
		return task.Outcome{Status: task.StatusFailed, ErrorMessage: fmt.Sprintf("load task: %v", err)}
	}

	spec, err := p.buildSpec(t)
	if err != nil {
		return task.Outcome{Status: task.StatusFailed, ErrorMessage: err.Error()}
	}

	// Cancellation may have landed between enqueue and claim.
	if cancelled, err := p.store.CancelRequested(ctx, taskID); err == nil && cancelled {
		logger.Info("stop requested before start")
		return task.Outcome{Status: task.StatusStopped}
	}

	runCtx := ctx
	var cancelTimeout context.CancelFunc
	if p.cfg.Trainer.TimeoutSeconds > 0 {
		runCtx, cancelTimeout = context.WithTimeout(ctx, time.Duration(p.cfg.Trainer.TimeoutSeconds)*time.Second)
		defer cancelTimeout()
	}
	runCtx, cancelRun := context.WithCancelCause(runCtx)

	heartbeatDone := make(chan struct{})
	go p.heartbeatLoop(runCtx, logger, taskID, heartbeatDone)
	defer func() { <-heartbeatDone }()
	defer cancelRun(nil)

	result, err := p.client.Train(runCtx, spec, func(update trainer.ProgressUpdate) {
		p.recordProgress(runCtx, logger, taskID, update)
		if cancelled, cerr := p.store.CancelRequested(runCtx, taskID); cerr == nil && cancelled {
			logger.Info("stop requested at epoch boundary", logging.Int("epoch", update.Epoch))
			cancelRun(errStopRequested)
		}
	})
	if err != nil {
		cause := context.Cause(runCtx)
		switch {
		case errors.Is(cause, errStopRequested):
			return task.Outcome{Status: task.StatusStopped}
		case ctx.Err() != nil:
			return task.Outcome{Status: task.StatusFailed, ErrorMessage: "interrupted by shutdown"}
		case runCtx.Err() != nil:
			return task.Outcome{Status: task.StatusFailed, ErrorMessage: "training timed out"}
		default:
			logger.Error("training failed", logging.Error(err))
			return task.Outcome{Status: task.StatusFailed, ErrorMessage: err.Error()}
		}
	}

	return task.Outcome{
		Status:      task.StatusCompleted,
		OutputDir:   result.OutputDir,
		WeightsPath: result.WeightsPath,
	}
}

// recordProgress writes the update with a short bounded retry so a transient
// store error does not kill an hours-long run.
func (p *Pool) recordProgress(ctx context.Context, logger *slog.Logger, taskID string, update trainer.ProgressUpdate) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		lastErr = p.store.UpdateProgress(ctx, taskID, update.Epoch, update.TotalEpochs, update.Metrics)
		if lastErr == nil {
			return
		}
		if !sleepCtx(ctx, 100*time.Millisecond) {
			return
		}
	}
	logger.Warn("progress write failed", logging.Int("epoch", update.Epoch), logging.Error(lastErr))
}

func (p *Pool) heartbeatLoop(ctx context.Context, logger *slog.Logger, taskID string, done chan<- struct{}) {
	defer close(done)
	interval := time.Duration(p.cfg.Workflow.HeartbeatInterval) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.store.UpdateHeartbeat(ctx, taskID); err != nil && ctx.Err() == nil {
				logger.Warn("heartbeat failed", logging.Error(err))
			}
		}
	}
}

func (p *Pool) buildSpec(t *task.Task) (trainer.Spec, error) {
	var cfg struct {
		ModelVersion string  `json:"model_version"`
		DatasetDir   string  `json:"dataset_dir"`
		Epochs       int     `json:"epochs"`
		BatchSize    int     `json:"batch_size"`
		ImageSize    int     `json:"image_size"`
		LearningRate float64 `json:"learning_rate"`
	}
	if err := json.Unmarshal([]byte(t.ConfigJSON), &cfg); err != nil {
		return trainer.Spec{}, fmt.Errorf("decode task config: %w", err)
	}
	epochs := cfg.Epochs
	if epochs <= 0 {
		epochs = t.TotalEpochs
	}
	return trainer.Spec{
		TaskID:       t.ID,
		ModelVersion: t.ModelVersion,
		DatasetDir:   cfg.DatasetDir,
		OutputDir:    filepath.Join(p.cfg.Paths.ArtifactsDir, t.ID),
		Epochs:       epochs,
		BatchSize:    cfg.BatchSize,
		ImageSize:    cfg.ImageSize,
		LearningRate: cfg.LearningRate,
	}, nil
}

func (p *Pool) ack(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	ackCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ackCtx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := p.jobs.Ack(ackCtx, job.ID); err != nil {
		logger.Warn("ack failed", logging.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
