package testsupport

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"foundry/internal/config"
	"foundry/internal/queue"
	"foundry/internal/task"
)

// MustOpenStore opens a task.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *task.Store {
	t.Helper()

	store, err := task.OpenFromConfig(cfg)
	if err != nil {
		t.Fatalf("task.OpenFromConfig: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenQueue opens a queue.Store for tests and registers cleanup.
func MustOpenQueue(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	jobs, err := queue.OpenFromConfig(cfg)
	if err != nil {
		t.Fatalf("queue.OpenFromConfig: %v", err)
	}
	t.Cleanup(func() {
		jobs.Close()
	})
	return jobs
}

// NewTask creates a pending task record for tests.
func NewTask(t testing.TB, store *task.Store, name string) *task.Task {
	t.Helper()

	record := &task.Task{
		ID:           uuid.NewString(),
		Name:         name,
		ModelVersion: "v8",
		ConfigJSON:   `{"model_version":"v8","epochs":3,"batch_size":4}`,
		TotalEpochs:  3,
	}
	if err := store.Create(context.Background(), record); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	created, err := store.GetByID(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("store.GetByID: %v", err)
	}
	return created
}
