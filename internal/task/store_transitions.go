package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Claim atomically transitions a pending task to running on behalf of a
// worker. Exactly one concurrent caller wins; the rest observe false.
func (s *Store) Claim(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE tasks
         SET status = ?, started_at = ?, last_heartbeat = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusRunning,
		now,
		now,
		now,
		id,
		StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// Finalize transitions a running task into a terminal state and records the
// outcome. A task already out of running is left untouched.
func (s *Store) Finalize(ctx context.Context, id string, outcome Outcome) (bool, error) {
	if !outcome.Status.IsTerminal() {
		return false, fmt.Errorf("finalize requires a terminal status, got %q", outcome.Status)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE tasks
         SET status = ?, output_dir = COALESCE(?, output_dir),
             weights_path = COALESCE(?, weights_path),
             error_message = ?, finished_at = ?, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		outcome.Status,
		nullableString(outcome.OutputDir),
		nullableString(outcome.WeightsPath),
		nullableString(outcome.ErrorMessage),
		now,
		now,
		id,
		StatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("finalize task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// StopPending transitions a pending task directly to stopped without a worker
// ever touching it.
func (s *Store) StopPending(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE tasks
         SET status = ?, finished_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusStopped,
		now,
		now,
		id,
		StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("stop pending task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// FailPending marks a pending task as failed with the given reason. Used when
// the queue rejects the job after the record was created.
func (s *Store) FailPending(ctx context.Context, id, reason string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE tasks
         SET status = ?, error_message = ?, finished_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusFailed,
		reason,
		now,
		now,
		id,
		StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("fail pending task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// RequestCancel sets the cooperative cancellation flag on a non-terminal task.
// Terminal tasks report ErrAlreadyTerminal; unknown identifiers report
// ErrNotFound.
func (s *Store) RequestCancel(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE tasks
         SET cancel_requested = 1, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		now,
		id,
		StatusPending,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, id, current.Status)
	}
	return nil
}

// CancelRequested reports whether cancellation has been requested for a task.
func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	ctx = ensureContext(ctx)
	var flag int64
	err := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM tasks WHERE id = ?`, id).Scan(&flag)
	if err != nil {
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag != 0, nil
}

// UpdateProgress records the latest epoch counters and metric snapshot for a
// running task and appends the epoch to the durable history. Writes against a
// task that already left running are ignored, and epoch numbers never move
// backwards.
func (s *Store) UpdateProgress(ctx context.Context, id string, epoch, totalEpochs int, metrics map[string]float64) error {
	metricsJSON := ""
	if len(metrics) > 0 {
		encoded, err := json.Marshal(metrics)
		if err != nil {
			return fmt.Errorf("marshal metrics: %w", err)
		}
		metricsJSON = string(encoded)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.execWithRetry(
		ctx,
		`UPDATE tasks
         SET current_epoch = ?, total_epochs = ?, metrics_json = ?,
             last_heartbeat = ?, updated_at = ?
         WHERE id = ? AND status = ? AND current_epoch <= ?`,
		epoch,
		totalEpochs,
		nullableString(metricsJSON),
		now,
		now,
		id,
		StatusRunning,
		epoch,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}

	_, err = s.execWithRetry(
		ctx,
		`INSERT OR IGNORE INTO task_epochs (task_id, epoch, metrics_json, recorded_at)
         VALUES (?, ?, ?, ?)`,
		id,
		epoch,
		nullableString(metricsJSON),
		now,
	)
	if err != nil {
		return fmt.Errorf("record epoch: %w", err)
	}
	return nil
}

// UpdateHeartbeat refreshes the liveness timestamp for a running task.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.execWithRetry(
		ctx,
		`UPDATE tasks SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ?`,
		now,
		now,
		id,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// FailStaleRunning marks running tasks whose heartbeat predates cutoff as
// failed and returns their identifiers.
func (s *Store) FailStaleRunning(ctx context.Context, cutoff time.Time) ([]string, error) {
	ctx = ensureContext(ctx)
	cutoffStr := cutoff.UTC().Format(time.RFC3339Nano)

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id FROM tasks
         WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusRunning,
		cutoffStr,
	)
	if err != nil {
		return nil, fmt.Errorf("find stale running: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var failed []string
	for _, id := range ids {
		now := time.Now().UTC().Format(time.RFC3339Nano)
		res, err := s.execWithRetry(
			ctx,
			`UPDATE tasks
             SET status = ?, error_message = ?, finished_at = ?, last_heartbeat = NULL, updated_at = ?
             WHERE id = ? AND status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
			StatusFailed,
			WorkerLostReason,
			now,
			now,
			id,
			StatusRunning,
			cutoffStr,
		)
		if err != nil {
			return failed, fmt.Errorf("fail stale task %s: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return failed, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 1 {
			failed = append(failed, id)
		}
	}
	return failed, nil
}
