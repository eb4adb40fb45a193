package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"foundry/internal/api"
	"foundry/internal/coordinator"
	"foundry/internal/logging"
	"foundry/internal/notify"
	"foundry/internal/task"
)

const maxSubmitBody = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	busy := 0
	if s.pool != nil {
		busy = s.pool.Running()
	}
	s.writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok", Workers: busy})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	t, err := s.coord.Submit(r.Context(), req)
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.TaskResponse{Task: api.FromTask(t)})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var statuses []task.Status
	for _, raw := range r.URL.Query()["status"] {
		status, ok := task.ParseStatus(raw)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(raw))
			return
		}
		statuses = append(statuses, status)
	}

	tasks, err := s.coord.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payloads := make([]api.TaskPayload, 0, len(tasks))
	for _, t := range tasks {
		payloads = append(payloads, api.FromTask(t))
	}
	s.writeJSON(w, http.StatusOK, api.TaskListResponse{Tasks: payloads})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.coord.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.StatsResponse{
		Total:      stats.Tasks.Total,
		Pending:    stats.Tasks.Pending,
		Running:    stats.Tasks.Running,
		Completed:  stats.Tasks.Completed,
		Failed:     stats.Tasks.Failed,
		Stopped:    stats.Tasks.Stopped,
		QueueDepth: stats.QueueDepth,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.coord.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.TaskResponse{Task: api.FromTask(t)})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	t, err := s.coord.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.TaskResponse{Task: api.FromTask(t)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	records, err := s.coord.History(r.Context(), id)
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	epochs := make([]api.EpochPayload, 0, len(records))
	for _, record := range records {
		epochs = append(epochs, api.EpochPayload{
			Epoch:      record.Epoch,
			Metrics:    record.Metrics,
			RecordedAt: record.RecordedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, api.HistoryResponse{TaskID: id, Epochs: epochs})
}

// handleEvents serves buffered progress events. With wait=1 the request
// blocks until something newer than since arrives, capped at 25 seconds so
// proxies do not kill the connection. Observers attaching after the hub
// stream was pruned get the terminal snapshot rebuilt from the store.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	record, err := s.coord.Get(r.Context(), id)
	if err != nil {
		s.writeTaskError(w, err)
		return
	}

	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid since parameter")
			return
		}
		since = parsed
	}
	wait := r.URL.Query().Get("wait") == "1"

	events, next, err := s.hub.Fetch(r.Context(), id, since, false)
	if err != nil && r.Context().Err() != nil {
		return
	}
	if len(events) == 0 && !s.hub.Closed(id) {
		if record.Status.IsTerminal() {
			evt := terminalSnapshot(record, since)
			s.writeJSON(w, http.StatusOK, api.EventsResponse{
				Events: []notify.Event{evt},
				Next:   evt.Sequence,
				Closed: true,
			})
			return
		}
		if wait {
			ctx, cancel := context.WithTimeout(r.Context(), 25*time.Second)
			defer cancel()
			events, next, err = s.hub.Fetch(ctx, id, since, true)
			if err != nil && len(events) == 0 && r.Context().Err() != nil {
				return
			}
		}
	}
	if events == nil {
		events = []notify.Event{}
	}
	s.writeJSON(w, http.StatusOK, api.EventsResponse{
		Events: events,
		Next:   next,
		Closed: s.hub.Closed(id),
	})
}

// handleStream serves the task's progress as server-sent events until a
// terminal message is delivered.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.coord.Get(r.Context(), id); err != nil {
		s.writeTaskError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var since uint64
	for {
		events, next, err := s.hub.Fetch(r.Context(), id, since, false)
		if err != nil {
			return
		}
		if len(events) == 0 {
			if s.hub.Closed(id) {
				return
			}
			// The hub has nothing buffered. A terminal record with no hub
			// stream means the stream was pruned before we attached, so the
			// closing snapshot is rebuilt from the store.
			record, err := s.coord.Get(r.Context(), id)
			if err != nil {
				return
			}
			if record.Status.IsTerminal() {
				events = []notify.Event{terminalSnapshot(record, since)}
				next = since + 1
			} else {
				events, next, err = s.hub.Fetch(r.Context(), id, since, true)
				if err != nil && len(events) == 0 {
					return
				}
			}
		}
		since = next
		for _, evt := range events {
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("event: " + string(evt.Type) + "\ndata: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
			if evt.Terminal() {
				return
			}
		}
		if s.hub.Closed(id) {
			return
		}
	}
}

// terminalSnapshot rebuilds the closing event from the persisted record for
// observers the hub can no longer serve.
func terminalSnapshot(t *task.Task, since uint64) notify.Event {
	evt := notify.TerminalEvent(t)
	evt.Sequence = since + 1
	evt.Timestamp = time.Now().UTC()
	return evt
}

func (s *Server) writeTaskError(w http.ResponseWriter, err error) {
	var validation *task.ValidationError
	var disk *coordinator.DiskSpaceError
	switch {
	case errors.As(err, &validation):
		s.writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &disk):
		s.writeError(w, http.StatusInsufficientStorage, disk.Error())
	case errors.Is(err, task.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, task.ErrQueueUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
