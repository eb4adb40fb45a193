package notify

import (
	"context"
	"testing"

	"foundry/internal/task"
	"foundry/internal/testsupport"
)

func TestWatcherPublishesProgressAndTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	hub := NewHub(16)
	watcher := NewWatcher(store, hub, 0, 0, nil)
	ctx := context.Background()

	record := testsupport.NewTask(t, store, "watched")
	if _, err := store.Claim(ctx, record.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := store.UpdateProgress(ctx, record.ID, 1, 3, map[string]float64{"loss": 0.9}); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}

	if err := watcher.sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	events, _, err := hub.Fetch(ctx, record.ID, 0, false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 1 || events[0].Type != EventProgress || events[0].Epoch != 1 {
		t.Fatalf("expected one progress event for epoch 1, got %+v", events)
	}

	// Unchanged state publishes nothing new.
	if err := watcher.sweep(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	events, _, err = hub.Fetch(ctx, record.ID, 1, false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no new events, got %+v", events)
	}

	if _, err := store.Finalize(ctx, record.ID, task.Outcome{
		Status:      task.StatusCompleted,
		WeightsPath: "/artifacts/w/best.pt",
	}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := watcher.sweep(ctx); err != nil {
		t.Fatalf("third sweep: %v", err)
	}

	events, _, err = hub.Fetch(ctx, record.ID, 1, false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 1 || events[0].Type != EventFinished {
		t.Fatalf("expected finished event, got %+v", events)
	}
	if events[0].WeightsPath != "/artifacts/w/best.pt" {
		t.Fatalf("expected weights path on finished event, got %q", events[0].WeightsPath)
	}
	if !hub.Closed(record.ID) {
		t.Fatal("expected stream closed after terminal event")
	}
	if _, tracked := watcher.seen[record.ID]; tracked {
		t.Fatal("expected finished task dropped from tracking")
	}
}

func TestWatcherReportsFailureAsError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	hub := NewHub(16)
	watcher := NewWatcher(store, hub, 0, 0, nil)
	ctx := context.Background()

	record := testsupport.NewTask(t, store, "doomed")
	if _, err := store.Claim(ctx, record.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := watcher.sweep(ctx); err != nil {
		t.Fatalf("sweep while running: %v", err)
	}
	if _, err := store.Finalize(ctx, record.ID, task.Outcome{
		Status:       task.StatusFailed,
		ErrorMessage: "CUDA out of memory",
	}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if err := watcher.sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	events, _, err := hub.Fetch(ctx, record.ID, 1, false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("expected error event, got %+v", events)
	}
	if events[0].Message != "CUDA out of memory" {
		t.Fatalf("expected failure reason on event, got %q", events[0].Message)
	}
	if _, tracked := watcher.seen[record.ID]; tracked {
		t.Fatal("expected failed task dropped from tracking")
	}
}

func TestWatcherTracksOnlyActiveTasks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	hub := NewHub(16)
	watcher := NewWatcher(store, hub, 0, 0, nil)
	ctx := context.Background()

	// Tasks that finished before the watcher ever saw them must not enter
	// the tracking map.
	old := testsupport.NewTask(t, store, "long-done")
	if _, err := store.Claim(ctx, old.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := store.Finalize(ctx, old.ID, task.Outcome{Status: task.StatusCompleted}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	live := testsupport.NewTask(t, store, "in-flight")
	if _, err := store.Claim(ctx, live.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	if err := watcher.sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if _, tracked := watcher.seen[old.ID]; tracked {
		t.Fatal("historical terminal task must not be tracked")
	}
	if _, tracked := watcher.seen[live.ID]; !tracked {
		t.Fatal("expected running task tracked")
	}
	if len(watcher.seen) != 1 {
		t.Fatalf("expected tracking map bounded to active tasks, got %d entries", len(watcher.seen))
	}
}
