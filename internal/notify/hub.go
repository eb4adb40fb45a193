// Package notify fans task progress out to observers. The hub keeps a
// bounded, sequence-numbered event buffer per task; observers fetch events
// newer than a sequence they already hold and may block until something
// arrives. Delivery is decoupled from training: a slow observer never slows a
// worker down.
package notify

import (
	"context"
	"sync"
	"time"
)

// EventType distinguishes the messages observers receive.
type EventType string

const (
	EventProgress EventType = "progress"
	EventFinished EventType = "finished"
	EventError    EventType = "error"
)

// Event is one observer-visible update for a task.
type Event struct {
	Sequence    uint64             `json:"seq"`
	Type        EventType          `json:"type"`
	TaskID      string             `json:"task_id"`
	Status      string             `json:"status"`
	Epoch       int                `json:"epoch,omitempty"`
	TotalEpochs int                `json:"total_epochs,omitempty"`
	Percent     float64            `json:"percent"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	WeightsPath string             `json:"weights_path,omitempty"`
	Message     string             `json:"message,omitempty"`
	Timestamp   time.Time          `json:"ts"`
}

// Terminal reports whether the event closes the task's stream.
func (e Event) Terminal() bool {
	return e.Type == EventFinished || e.Type == EventError
}

type stream struct {
	buffer    []Event
	nextSeq   uint64
	closed    bool
	lastEpoch int
	touched   time.Time
}

// Hub stores recent progress events per task and wakes waiters on publish.
type Hub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	streams  map[string]*stream
}

// NewHub constructs a hub buffering up to capacity events per task.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	h := &Hub{capacity: capacity, streams: make(map[string]*stream)}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Publish appends an event to the task's stream. Progress events with an
// epoch older than one already delivered are dropped, and nothing is accepted
// after a terminal event.
func (h *Hub) Publish(evt Event) {
	if h == nil || evt.TaskID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.streams[evt.TaskID]
	if st == nil {
		st = &stream{}
		h.streams[evt.TaskID] = st
	}
	if st.closed {
		return
	}
	if evt.Type == EventProgress {
		if evt.Epoch < st.lastEpoch {
			return
		}
		st.lastEpoch = evt.Epoch
	}

	st.nextSeq++
	evt.Sequence = st.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if len(st.buffer) == h.capacity {
		copy(st.buffer, st.buffer[1:])
		st.buffer = st.buffer[:h.capacity-1]
	}
	st.buffer = append(st.buffer, evt)
	st.touched = time.Now()
	if evt.Terminal() {
		st.closed = true
	}
	h.cond.Broadcast()
}

// Fetch returns the task's events with sequence greater than since. When wait
// is true and nothing new is buffered, Fetch blocks until an event arrives,
// the stream is already closed, or the context ends.
func (h *Hub) Fetch(ctx context.Context, taskID string, since uint64, wait bool) ([]Event, uint64, error) {
	if h == nil {
		return nil, since, nil
	}

	cancelWait := make(chan struct{})
	if wait && ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.cond.Broadcast()
			case <-cancelWait:
			}
		}()
	}
	defer close(cancelWait)

	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		events, next, closed := h.snapshotLocked(taskID, since)
		if len(events) > 0 || closed || !wait {
			return events, next, contextError(ctx)
		}
		if err := contextError(ctx); err != nil {
			return nil, next, err
		}
		h.cond.Wait()
		if err := contextError(ctx); err != nil {
			return nil, next, err
		}
	}
}

// Latest returns the most recent event for a task, when one is buffered.
func (h *Hub) Latest(taskID string) (Event, bool) {
	if h == nil {
		return Event{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.streams[taskID]
	if st == nil || len(st.buffer) == 0 {
		return Event{}, false
	}
	return st.buffer[len(st.buffer)-1], true
}

// Closed reports whether the task's stream has seen a terminal event.
func (h *Hub) Closed(taskID string) bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.streams[taskID]
	return st != nil && st.closed
}

// Prune drops closed streams untouched since before cutoff and returns how
// many were removed.
func (h *Hub) Prune(cutoff time.Time) int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for id, st := range h.streams {
		if st.closed && st.touched.Before(cutoff) {
			delete(h.streams, id)
			removed++
		}
	}
	return removed
}

func (h *Hub) snapshotLocked(taskID string, since uint64) ([]Event, uint64, bool) {
	st := h.streams[taskID]
	if st == nil {
		return nil, since, false
	}
	if len(st.buffer) == 0 {
		return nil, st.nextSeq, st.closed
	}
	startIdx := -1
	for i, evt := range st.buffer {
		if evt.Sequence > since {
			startIdx = i
			break
		}
	}
	if startIdx < 0 {
		return nil, st.nextSeq, st.closed
	}
	out := make([]Event, len(st.buffer)-startIdx)
	copy(out, st.buffer[startIdx:])
	return out, st.nextSeq, st.closed
}

func contextError(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
