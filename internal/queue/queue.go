// Package queue provides the durable FIFO job queue that decouples task
// submission from execution. Jobs survive restarts and are delivered at least
// once: a dequeue takes a lease, an ack removes the job, and expired leases
// return the job to the ready pool.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"foundry/internal/config"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS queue_jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    topic TEXT NOT NULL,
    task_id TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT 'ready',
    enqueued_at TEXT NOT NULL,
    lease_expires_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_queue_jobs_topic_state ON queue_jobs (topic, state, id);
`

const (
	stateReady  = "ready"
	stateLeased = "leased"
)

// Job is one queued unit of work referencing a task record by identifier.
type Job struct {
	ID         int64
	Topic      string
	TaskID     string
	EnqueuedAt time.Time
}

// Store is a SQLite-backed job queue.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the queue database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create queue schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// OpenFromConfig opens the queue database under the configured data directory.
func OpenFromConfig(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return Open(filepath.Join(cfg.Paths.DataDir, "queue.db"))
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Enqueue publishes a job for the topic. The referenced task record must
// already exist.
func (s *Store) Enqueue(ctx context.Context, topic, taskID string) error {
	if strings.TrimSpace(topic) == "" {
		return errors.New("topic must not be empty")
	}
	if strings.TrimSpace(taskID) == "" {
		return errors.New("task id must not be empty")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO queue_jobs (topic, task_id, state, enqueued_at) VALUES (?, ?, ?, ?)`,
		topic,
		taskID,
		stateReady,
		now,
	)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Dequeue leases the oldest ready job for the topic. It returns nil when the
// queue is empty. The caller must Ack the job once handled or the lease will
// expire and the job becomes deliverable again.
func (s *Store) Dequeue(ctx context.Context, topic string, lease time.Duration) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, topic, task_id, enqueued_at FROM queue_jobs
         WHERE topic = ? AND state = ? ORDER BY id LIMIT 1`,
		topic,
		stateReady,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue job: %w", err)
	}

	expires := time.Now().UTC().Add(lease).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE queue_jobs SET state = ?, lease_expires_at = ? WHERE id = ? AND state = ?`,
		stateLeased,
		expires,
		job.ID,
		stateReady,
	)
	if err != nil {
		return nil, fmt.Errorf("lease job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected != 1 {
		// Another consumer leased it first.
		return nil, nil
	}
	return job, nil
}

// Ack removes a handled job from the queue.
func (s *Store) Ack(ctx context.Context, jobID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queue_jobs WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("ack job: %w", err)
	}
	return nil
}

// ReclaimExpired returns jobs with expired leases to the ready pool and
// reports how many were reclaimed.
func (s *Store) ReclaimExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE queue_jobs SET state = ?, lease_expires_at = NULL
         WHERE state = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?`,
		stateReady,
		stateLeased,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim expired jobs: %w", err)
	}
	return res.RowsAffected()
}

// Depth reports how many jobs are waiting or leased for the topic.
func (s *Store) Depth(ctx context.Context, topic string) (int, error) {
	var depth int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM queue_jobs WHERE topic = ?`,
		topic,
	).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id          int64
		topic       string
		taskID      string
		enqueuedRaw string
	)
	if err := scanner.Scan(&id, &topic, &taskID, &enqueuedRaw); err != nil {
		return nil, err
	}
	job := &Job{ID: id, Topic: topic, TaskID: taskID}
	if enqueued, err := time.Parse(time.RFC3339Nano, enqueuedRaw); err == nil {
		job.EnqueuedAt = enqueued
	}
	return job, nil
}
