package reconciler_test

import (
	"context"
	"testing"
	"time"

	"foundry/internal/reconciler"
	"foundry/internal/task"
	"foundry/internal/testsupport"
)

func TestSweepFailsStaleRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.HeartbeatTimeout = 1
	store := testsupport.MustOpenStore(t, cfg)
	jobs := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	record := testsupport.NewTask(t, store, "orphaned")
	if _, err := store.Claim(ctx, record.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	r := reconciler.New(store, jobs, cfg, nil)

	// Heartbeat is fresh; the first sweep must leave the task alone.
	r.Sweep(ctx)
	current, err := store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if current.Status != task.StatusRunning {
		t.Fatalf("expected running after fresh sweep, got %s", current.Status)
	}

	time.Sleep(1100 * time.Millisecond)
	r.Sweep(ctx)

	final, err := store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final.Status != task.StatusFailed {
		t.Fatalf("expected failed after stale sweep, got %s", final.Status)
	}
	if final.ErrorMessage != task.WorkerLostReason {
		t.Fatalf("unexpected reason %q", final.ErrorMessage)
	}
}

func TestSweepReclaimsExpiredLeases(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	jobs := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	if err := jobs.Enqueue(ctx, cfg.Workers.Topic, "task-x"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := jobs.Dequeue(ctx, cfg.Workers.Topic, 10*time.Millisecond); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	r := reconciler.New(store, jobs, cfg, nil)
	r.Sweep(ctx)

	job, err := jobs.Dequeue(ctx, cfg.Workers.Topic, time.Minute)
	if err != nil {
		t.Fatalf("Dequeue after sweep: %v", err)
	}
	if job == nil || job.TaskID != "task-x" {
		t.Fatalf("expected reclaimed job, got %+v", job)
	}
}
