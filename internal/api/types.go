// Package api defines the JSON payloads shared by the HTTP server and its
// clients.
package api

import (
	"time"

	"foundry/internal/coordinator"
	"foundry/internal/notify"
	"foundry/internal/task"
)

// TaskPayload is the wire representation of a task record.
type TaskPayload struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	ModelVersion    string             `json:"model_version"`
	Status          string             `json:"status"`
	CancelRequested bool               `json:"cancel_requested,omitempty"`
	CurrentEpoch    int                `json:"current_epoch"`
	TotalEpochs     int                `json:"total_epochs"`
	Percent         float64            `json:"percent"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	OutputDir       string             `json:"output_dir,omitempty"`
	WeightsPath     string             `json:"weights_path,omitempty"`
	Error           string             `json:"error,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	StartedAt       *time.Time         `json:"started_at,omitempty"`
	FinishedAt      *time.Time         `json:"finished_at,omitempty"`
}

// FromTask converts a task record into its wire form.
func FromTask(t *task.Task) TaskPayload {
	return TaskPayload{
		ID:              t.ID,
		Name:            t.Name,
		ModelVersion:    t.ModelVersion,
		Status:          string(t.Status),
		CancelRequested: t.CancelRequested,
		CurrentEpoch:    t.CurrentEpoch,
		TotalEpochs:     t.TotalEpochs,
		Percent:         t.Progress(),
		Metrics:         t.Metrics(),
		OutputDir:       t.OutputDir,
		WeightsPath:     t.WeightsPath,
		Error:           t.ErrorMessage,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		StartedAt:       t.StartedAt,
		FinishedAt:      t.FinishedAt,
	}
}

// SubmitRequest mirrors coordinator.SubmitRequest on the wire.
type SubmitRequest = coordinator.SubmitRequest

// TaskResponse wraps a single task.
type TaskResponse struct {
	Task TaskPayload `json:"task"`
}

// TaskListResponse wraps a task listing.
type TaskListResponse struct {
	Tasks []TaskPayload `json:"tasks"`
}

// StatsResponse reports task counts and queue backlog.
type StatsResponse struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Running    int `json:"running"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Stopped    int `json:"stopped"`
	QueueDepth int `json:"queue_depth"`
}

// EventsResponse carries buffered progress events for long-poll consumers.
type EventsResponse struct {
	Events []notify.Event `json:"events"`
	Next   uint64         `json:"next"`
	Closed bool           `json:"closed"`
}

// EpochPayload is one persisted epoch history entry.
type EpochPayload struct {
	Epoch      int                `json:"epoch"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	RecordedAt time.Time          `json:"recorded_at"`
}

// HistoryResponse wraps a task's epoch history.
type HistoryResponse struct {
	TaskID string         `json:"task_id"`
	Epochs []EpochPayload `json:"epochs"`
}

// HealthResponse reports daemon liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Workers int    `json:"workers_busy"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
