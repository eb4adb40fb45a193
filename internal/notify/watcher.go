package notify

import (
	"context"
	"log/slog"
	"time"

	"foundry/internal/logging"
	"foundry/internal/task"
)

// Watcher polls the task store and publishes observable changes to the hub.
// Publishing from a single place keeps the hub's view consistent no matter
// which component moved the record: workers, the coordinator, or the
// reconciler.
type Watcher struct {
	store     *task.Store
	hub       *Hub
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger

	seen map[string]observed
}

type observed struct {
	status task.Status
	epoch  int
}

// NewWatcher constructs a watcher with the given poll interval and closed
// stream retention.
func NewWatcher(store *task.Store, hub *Hub, interval, retention time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if retention <= 0 {
		retention = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Watcher{
		store:     store,
		hub:       hub,
		interval:  interval,
		retention: retention,
		logger:    logging.NewComponentLogger(logger, "notify"),
		seen:      make(map[string]observed),
	}
}

// Run polls until the context ends.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil && ctx.Err() == nil {
				w.logger.Warn("notifier sweep failed", logging.Error(err))
			}
			w.hub.Prune(time.Now().Add(-w.retention))
		}
	}
}

// sweep lists only active tasks; tracked tasks that dropped out of the
// active set are re-read individually so their terminal transition is
// published exactly once, after which they are forgotten. Historical
// terminal tasks never enter the tracking map, keeping it bounded by the
// number of in-flight runs.
func (w *Watcher) sweep(ctx context.Context) error {
	active, err := w.store.List(ctx, task.StatusPending, task.StatusRunning)
	if err != nil {
		return err
	}
	current := make(map[string]struct{}, len(active))
	for _, t := range active {
		current[t.ID] = struct{}{}
		w.observe(t)
	}

	for id := range w.seen {
		if _, ok := current[id]; ok {
			continue
		}
		t, err := w.store.GetByID(ctx, id)
		if err != nil {
			delete(w.seen, id)
			continue
		}
		w.observe(t)
		if t.Status.IsTerminal() {
			delete(w.seen, id)
		}
	}
	return nil
}

func (w *Watcher) observe(t *task.Task) {
	prev, known := w.seen[t.ID]
	curr := observed{status: t.Status, epoch: t.CurrentEpoch}
	if known && prev == curr {
		return
	}
	w.seen[t.ID] = curr

	if t.Status.IsTerminal() {
		w.hub.Publish(TerminalEvent(t))
		return
	}
	if t.Status == task.StatusRunning && (!known || prev.epoch != t.CurrentEpoch) {
		w.hub.Publish(ProgressEvent(t))
	}
}

// ProgressEvent builds a progress message from a task snapshot.
func ProgressEvent(t *task.Task) Event {
	return Event{
		Type:        EventProgress,
		TaskID:      t.ID,
		Status:      string(t.Status),
		Epoch:       t.CurrentEpoch,
		TotalEpochs: t.TotalEpochs,
		Percent:     t.Progress(),
		Metrics:     t.Metrics(),
	}
}

// TerminalEvent builds the closing message for a task that reached a terminal
// state. Completed tasks produce a finished message carrying the weights
// location; failed and stopped tasks produce an error message with the
// recorded reason.
func TerminalEvent(t *task.Task) Event {
	if t.Status == task.StatusCompleted {
		return Event{
			Type:        EventFinished,
			TaskID:      t.ID,
			Status:      string(t.Status),
			Epoch:       t.CurrentEpoch,
			TotalEpochs: t.TotalEpochs,
			Percent:     100,
			Metrics:     t.Metrics(),
			WeightsPath: t.WeightsPath,
		}
	}
	message := t.ErrorMessage
	if message == "" && t.Status == task.StatusStopped {
		message = "training stopped by request"
	}
	return Event{
		Type:        EventError,
		TaskID:      t.ID,
		Status:      string(t.Status),
		Epoch:       t.CurrentEpoch,
		TotalEpochs: t.TotalEpochs,
		Percent:     t.Progress(),
		Message:     message,
	}
}
