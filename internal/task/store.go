package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Create inserts a new pending task record. The record must exist before the
// corresponding queue job is published.
func (s *Store) Create(ctx context.Context, t *Task) error {
	if t == nil {
		return errors.New("task is nil")
	}
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	t.Status = StatusPending
	t.CreatedAt = now
	t.UpdatedAt = now
	timestamp := now.Format(time.RFC3339Nano)

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO tasks (
            id, name, model_version, config_json, status, cancel_requested,
            current_epoch, total_epochs, metrics_json, output_dir, weights_path,
            error_message, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.Name,
		t.ModelVersion,
		t.ConfigJSON,
		StatusPending,
		t.CurrentEpoch,
		t.TotalEpochs,
		nullableString(t.MetricsJSON),
		nullableString(t.OutputDir),
		nullableString(t.WeightsPath),
		nullableString(t.ErrorMessage),
		timestamp,
		timestamp,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, t.ID)
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetByID fetches a task record by identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*Task, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// List returns tasks filtered by status set, newest first. No statuses means
// all tasks.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Task, error) {
	ctx = ensureContext(ctx)
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + taskColumns + ` FROM tasks`
	orderClause := ` ORDER BY created_at DESC, id DESC`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Stats returns task counts grouped by lifecycle state.
func (s *Store) Stats(ctx context.Context) (StatsSummary, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return StatsSummary{}, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	summary := StatsSummary{}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return StatsSummary{}, err
		}
		summary.Total += count
		switch status {
		case StatusPending:
			summary.Pending += count
		case StatusRunning:
			summary.Running += count
		case StatusCompleted:
			summary.Completed += count
		case StatusFailed:
			summary.Failed += count
		case StatusStopped:
			summary.Stopped += count
		}
	}
	return summary, rows.Err()
}

// EpochHistory returns the persisted per-epoch metric records for a task in
// epoch order.
func (s *Store) EpochHistory(ctx context.Context, id string) ([]EpochRecord, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT epoch, metrics_json, recorded_at FROM task_epochs WHERE task_id = ? ORDER BY epoch`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("epoch history: %w", err)
	}
	defer rows.Close()

	var records []EpochRecord
	for rows.Next() {
		var (
			epoch       int
			metricsRaw  sql.NullString
			recordedRaw string
		)
		if err := rows.Scan(&epoch, &metricsRaw, &recordedRaw); err != nil {
			return nil, err
		}
		record := EpochRecord{Epoch: epoch, Metrics: map[string]float64{}}
		if metricsRaw.Valid && metricsRaw.String != "" {
			if err := json.Unmarshal([]byte(metricsRaw.String), &record.Metrics); err != nil {
				record.Metrics = map[string]float64{}
			}
		}
		if recorded, err := parseTimeString(recordedRaw); err == nil {
			record.RecordedAt = recorded
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

const taskColumns = "id, name, model_version, config_json, status, cancel_requested, current_epoch, total_epochs, metrics_json, output_dir, weights_path, error_message, created_at, updated_at, started_at, finished_at, last_heartbeat"

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		id              string
		name            string
		modelVersion    string
		configJSON      string
		statusStr       string
		cancelRequested int64
		currentEpoch    int
		totalEpochs     int
		metricsJSON     sql.NullString
		outputDir       sql.NullString
		weightsPath     sql.NullString
		errorMessage    sql.NullString
		createdRaw      string
		updatedRaw      string
		startedRaw      sql.NullString
		finishedRaw     sql.NullString
		heartbeatRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&name,
		&modelVersion,
		&configJSON,
		&statusStr,
		&cancelRequested,
		&currentEpoch,
		&totalEpochs,
		&metricsJSON,
		&outputDir,
		&weightsPath,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&finishedRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}

	t := &Task{
		ID:              id,
		Name:            name,
		ModelVersion:    modelVersion,
		ConfigJSON:      configJSON,
		Status:          Status(statusStr),
		CancelRequested: cancelRequested != 0,
		CurrentEpoch:    currentEpoch,
		TotalEpochs:     totalEpochs,
		MetricsJSON:     metricsJSON.String,
		OutputDir:       outputDir.String,
		WeightsPath:     weightsPath.String,
		ErrorMessage:    errorMessage.String,
	}

	if created, err := parseTimeString(createdRaw); err == nil {
		t.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		t.UpdatedAt = updated
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			t.StartedAt = &started
		}
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			t.FinishedAt = &finished
		}
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			t.LastHeartbeat = &heartbeat
		}
	}
	return t, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
