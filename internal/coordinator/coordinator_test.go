package coordinator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"foundry/internal/coordinator"
	"foundry/internal/task"
	"foundry/internal/testsupport"
)

func newCoordinator(t *testing.T) (*coordinator.Coordinator, *task.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	jobs := testsupport.MustOpenQueue(t, cfg)
	return coordinator.New(store, jobs, cfg, nil), store
}

func validRequest() coordinator.SubmitRequest {
	return coordinator.SubmitRequest{
		Name:         "detect-forklifts",
		ModelVersion: "v8",
		DatasetDir:   "/data/forklifts",
		Epochs:       10,
		BatchSize:    16,
	}
}

func TestSubmitCreatesPendingAndEnqueues(t *testing.T) {
	coord, _ := newCoordinator(t)
	ctx := context.Background()

	created, err := coord.Submit(ctx, validRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if created.Status != task.StatusPending {
		t.Fatalf("expected pending status, got %s", created.Status)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}
	if created.TotalEpochs != 10 {
		t.Fatalf("expected 10 total epochs, got %d", created.TotalEpochs)
	}

	stats, err := coord.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.QueueDepth != 1 {
		t.Fatalf("expected queue depth 1, got %d", stats.QueueDepth)
	}
	if stats.Tasks.Pending != 1 {
		t.Fatalf("expected 1 pending task, got %d", stats.Tasks.Pending)
	}
}

func TestSubmitValidation(t *testing.T) {
	coord, _ := newCoordinator(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*coordinator.SubmitRequest)
	}{
		{"empty name", func(r *coordinator.SubmitRequest) { r.Name = "  " }},
		{"unknown model", func(r *coordinator.SubmitRequest) { r.ModelVersion = "v99" }},
		{"missing dataset", func(r *coordinator.SubmitRequest) { r.DatasetDir = "  " }},
		{"zero epochs", func(r *coordinator.SubmitRequest) { r.Epochs = 0 }},
		{"negative epochs", func(r *coordinator.SubmitRequest) { r.Epochs = -5 }},
		{"excessive epochs", func(r *coordinator.SubmitRequest) { r.Epochs = 1_000_000 }},
		{"zero batch", func(r *coordinator.SubmitRequest) { r.BatchSize = 0 }},
		{"excessive batch", func(r *coordinator.SubmitRequest) { r.BatchSize = 100_000 }},
		{"negative learning rate", func(r *coordinator.SubmitRequest) { r.LearningRate = -0.1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			_, err := coord.Submit(ctx, req)
			var validation *task.ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}

	// Nothing should have been persisted.
	tasks, err := coord.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected no tasks after rejected submissions, got %d", len(tasks))
	}
}

func TestCancelPendingStopsImmediately(t *testing.T) {
	coord, _ := newCoordinator(t)
	ctx := context.Background()

	created, err := coord.Submit(ctx, validRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	cancelled, err := coord.Cancel(ctx, created.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != task.StatusStopped {
		t.Fatalf("expected stopped, got %s", cancelled.Status)
	}
	if !cancelled.CancelRequested {
		t.Fatal("expected cancel flag set")
	}
}

func TestCancelRunningSetsFlagOnly(t *testing.T) {
	coord, store := newCoordinator(t)
	ctx := context.Background()

	created, err := coord.Submit(ctx, validRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := store.Claim(ctx, created.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	cancelled, err := coord.Cancel(ctx, created.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != task.StatusRunning {
		t.Fatalf("expected running while worker winds down, got %s", cancelled.Status)
	}
	if !cancelled.CancelRequested {
		t.Fatal("expected cancel flag set")
	}
}

func TestCancelTerminalIsNoOp(t *testing.T) {
	coord, store := newCoordinator(t)
	ctx := context.Background()

	created, err := coord.Submit(ctx, validRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := store.Claim(ctx, created.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := store.Finalize(ctx, created.ID, task.Outcome{Status: task.StatusCompleted}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	got, err := coord.Cancel(ctx, created.ID)
	if err != nil {
		t.Fatalf("Cancel after completion: %v", err)
	}
	if got.Status != task.StatusCompleted {
		t.Fatalf("expected record to stay completed, got %s", got.Status)
	}
	if got.CancelRequested {
		t.Fatal("completed record must not gain a cancel flag")
	}

	// A second cancel behaves identically.
	again, err := coord.Cancel(ctx, created.ID)
	if err != nil {
		t.Fatalf("repeat Cancel: %v", err)
	}
	if again.Status != task.StatusCompleted {
		t.Fatalf("expected completed on repeat cancel, got %s", again.Status)
	}
}

func TestCancelUnknownTask(t *testing.T) {
	coord, _ := newCoordinator(t)
	_, err := coord.Cancel(context.Background(), "nope")
	if !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHistoryRequiresKnownTask(t *testing.T) {
	coord, _ := newCoordinator(t)
	_, err := coord.History(context.Background(), "nope")
	if !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWaitForTerminal(t *testing.T) {
	coord, store := newCoordinator(t)
	ctx := context.Background()

	created, err := coord.Submit(ctx, validRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		if _, err := store.Claim(ctx, created.ID); err != nil {
			return
		}
		_, _ = store.Finalize(ctx, created.ID, task.Outcome{Status: task.StatusCompleted})
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	final, err := coord.WaitForTerminal(waitCtx, created.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForTerminal: %v", err)
	}
	if final.Status != task.StatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
}
