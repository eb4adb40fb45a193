package task

import (
	"encoding/json"
	"strings"
	"time"
)

// Status represents the lifecycle of a training task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// WorkerLostReason is the failure reason recorded when reconciliation detects
// a running task whose worker stopped heartbeating.
const WorkerLostReason = "worker lost: heartbeat expired"

// ScheduleFailedReason is the failure reason recorded when a task could not be
// handed to the job queue after its record was created.
const ScheduleFailedReason = "failed to schedule: job queue unavailable"

var allStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusStopped,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether the status permits no further mutation.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// Task represents a training task record persisted in SQLite.
type Task struct {
	ID              string
	Name            string
	ModelVersion    string
	ConfigJSON      string
	Status          Status
	CancelRequested bool
	CurrentEpoch    int
	TotalEpochs     int
	MetricsJSON     string
	OutputDir       string
	WeightsPath     string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	LastHeartbeat   *time.Time
}

// Progress derives the completion percentage from epoch counters, clamped to
// [0,100].
func (t *Task) Progress() float64 {
	if t.TotalEpochs <= 0 {
		return 0
	}
	percent := float64(t.CurrentEpoch) / float64(t.TotalEpochs) * 100
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

// Metrics decodes the latest metric snapshot. A missing or malformed payload
// yields an empty map.
func (t *Task) Metrics() map[string]float64 {
	if strings.TrimSpace(t.MetricsJSON) == "" {
		return map[string]float64{}
	}
	metrics := map[string]float64{}
	if err := json.Unmarshal([]byte(t.MetricsJSON), &metrics); err != nil {
		return map[string]float64{}
	}
	return metrics
}

// EpochRecord is one persisted per-epoch history entry used for charting.
type EpochRecord struct {
	Epoch      int
	Metrics    map[string]float64
	RecordedAt time.Time
}

// Outcome describes the terminal state a worker finalizes a running task into.
type Outcome struct {
	Status       Status
	OutputDir    string
	WeightsPath  string
	ErrorMessage string
}

// StatsSummary aggregates task counts per lifecycle state.
type StatsSummary struct {
	Total     int
	Pending   int
	Running   int
	Completed int
	Failed    int
	Stopped   int
}
