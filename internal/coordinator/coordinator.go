// Package coordinator ties submission, persistence, and queueing together.
// It owns the write path: validate the request, create the durable record,
// then publish the queue job. Reads and cancellations route through it as
// well so the API and CLI share one behaviour.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"foundry/internal/config"
	"foundry/internal/logging"
	"foundry/internal/queue"
	"foundry/internal/task"
)

// SubmitRequest carries a training task submission.
type SubmitRequest struct {
	Name         string  `json:"name"`
	ModelVersion string  `json:"model_version"`
	DatasetDir   string  `json:"dataset_dir,omitempty"`
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	ImageSize    int     `json:"image_size,omitempty"`
	LearningRate float64 `json:"learning_rate,omitempty"`
}

var supportedModelVersions = map[string]struct{}{
	"v5":  {},
	"v8":  {},
	"v11": {},
}

// SupportedModelVersions lists the accepted model version identifiers.
func SupportedModelVersions() []string {
	return []string{"v5", "v8", "v11"}
}

// Stats aggregates task counts with the queue backlog.
type Stats struct {
	Tasks      task.StatsSummary
	QueueDepth int
}

// Coordinator mediates between clients, the task store, and the job queue.
type Coordinator struct {
	store  *task.Store
	jobs   *queue.Store
	cfg    *config.Config
	logger *slog.Logger
}

// New constructs a coordinator.
func New(store *task.Store, jobs *queue.Store, cfg *config.Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{
		store:  store,
		jobs:   jobs,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "coordinator"),
	}
}

// Submit validates the request, persists a pending record, and enqueues the
// job. The record is created before the enqueue; if the queue rejects the job
// the record is marked failed so no orphan pending task lingers.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*task.Task, error) {
	if err := c.validate(req); err != nil {
		return nil, err
	}
	if err := c.checkDiskSpace(); err != nil {
		return nil, err
	}

	configJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	t := &task.Task{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(req.Name),
		ModelVersion: req.ModelVersion,
		ConfigJSON:   string(configJSON),
		TotalEpochs:  req.Epochs,
	}
	if err := c.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create task record: %w", err)
	}

	if err := c.jobs.Enqueue(ctx, c.cfg.Workers.Topic, t.ID); err != nil {
		c.logger.Error("enqueue failed after record creation",
			logging.String(logging.FieldTaskID, t.ID),
			logging.Error(err))
		if _, failErr := c.store.FailPending(ctx, t.ID, task.ScheduleFailedReason); failErr != nil {
			c.logger.Error("mark schedule failure", logging.String(logging.FieldTaskID, t.ID), logging.Error(failErr))
		}
		return nil, fmt.Errorf("%w: %v", task.ErrQueueUnavailable, err)
	}

	c.logger.Info("task submitted",
		logging.String(logging.FieldTaskID, t.ID),
		logging.String("name", t.Name),
		logging.String("model_version", t.ModelVersion),
		logging.Int("epochs", req.Epochs))
	return c.store.GetByID(ctx, t.ID)
}

// Get returns a task by identifier.
func (c *Coordinator) Get(ctx context.Context, id string) (*task.Task, error) {
	return c.store.GetByID(ctx, id)
}

// List returns tasks filtered by the given statuses, newest first.
func (c *Coordinator) List(ctx context.Context, statuses ...task.Status) ([]*task.Task, error) {
	return c.store.List(ctx, statuses...)
}

// History returns the persisted per-epoch metric records for a task.
func (c *Coordinator) History(ctx context.Context, id string) ([]task.EpochRecord, error) {
	if _, err := c.store.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return c.store.EpochHistory(ctx, id)
}

// Stats aggregates task state counts and queue backlog.
func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	summary, err := c.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	depth, err := c.jobs.Depth(ctx, c.cfg.Workers.Topic)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Tasks: summary, QueueDepth: depth}, nil
}

// Cancel requests cancellation of a task. A pending task stops immediately;
// a running task keeps the flag and stops at the next epoch boundary.
// Cancelling a task that already finished is a no-op returning the current
// record, so retried cancels stay safe.
func (c *Coordinator) Cancel(ctx context.Context, id string) (*task.Task, error) {
	if err := c.store.RequestCancel(ctx, id); err != nil {
		if errors.Is(err, task.ErrAlreadyTerminal) {
			return c.store.GetByID(ctx, id)
		}
		return nil, err
	}

	stopped, err := c.store.StopPending(ctx, id)
	if err != nil {
		return nil, err
	}
	if stopped {
		c.logger.Info("pending task stopped", logging.String(logging.FieldTaskID, id))
	} else {
		c.logger.Info("cancellation requested", logging.String(logging.FieldTaskID, id))
	}
	return c.store.GetByID(ctx, id)
}

func (c *Coordinator) validate(req SubmitRequest) error {
	var violations []string
	if strings.TrimSpace(req.Name) == "" {
		violations = append(violations, "name must not be empty")
	}
	if _, ok := supportedModelVersions[req.ModelVersion]; !ok {
		violations = append(violations, fmt.Sprintf("model_version %q is not supported (expected one of %s)",
			req.ModelVersion, strings.Join(SupportedModelVersions(), ", ")))
	}
	if strings.TrimSpace(req.DatasetDir) == "" {
		violations = append(violations, "dataset_dir must not be empty")
	}
	if req.Epochs <= 0 {
		violations = append(violations, "epochs must be positive")
	} else if req.Epochs > c.cfg.Limits.MaxEpochs {
		violations = append(violations, fmt.Sprintf("epochs must not exceed %d", c.cfg.Limits.MaxEpochs))
	}
	if req.BatchSize <= 0 {
		violations = append(violations, "batch_size must be positive")
	} else if req.BatchSize > c.cfg.Limits.MaxBatchSize {
		violations = append(violations, fmt.Sprintf("batch_size must not exceed %d", c.cfg.Limits.MaxBatchSize))
	}
	if req.ImageSize < 0 {
		violations = append(violations, "image_size must not be negative")
	}
	if req.LearningRate < 0 {
		violations = append(violations, "learning_rate must not be negative")
	}
	if len(violations) > 0 {
		return &task.ValidationError{Violations: violations}
	}
	return nil
}

// WaitForTerminal polls until the task reaches a terminal state or the
// context ends. Used by synchronous CLI flows.
func (c *Coordinator) WaitForTerminal(ctx context.Context, id string, interval time.Duration) (*task.Task, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		t, err := c.store.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if t.Status.IsTerminal() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-ticker.C:
		}
	}
}
