package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"foundry/internal/api"
	"foundry/internal/coordinator"
	"foundry/internal/notify"
	"foundry/internal/server"
	"foundry/internal/task"
	"foundry/internal/testsupport"
)

type fixture struct {
	handler http.Handler
	store   *task.Store
	hub     *notify.Hub
	coord   *coordinator.Coordinator
}

type idlePool struct{}

func (idlePool) Running() int { return 0 }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	jobs := testsupport.MustOpenQueue(t, cfg)
	coord := coordinator.New(store, jobs, cfg, nil)
	hub := notify.NewHub(16)
	srv := server.New(cfg, coord, hub, idlePool{}, nil)
	return &fixture{handler: srv.Handler(), store: store, hub: hub, coord: coord}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) submit(t *testing.T) api.TaskPayload {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/training", api.SubmitRequest{
		Name:         "http-run",
		ModelVersion: "v8",
		DatasetDir:   "/data/http-run",
		Epochs:       5,
		BatchSize:    8,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp api.TaskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	return resp.Task
}

func TestSubmitAndGet(t *testing.T) {
	f := newFixture(t)
	created := f.submit(t)
	if created.Status != "pending" {
		t.Fatalf("expected pending, got %s", created.Status)
	}

	rec := f.do(t, http.MethodGet, "/api/training/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get returned %d", rec.Code)
	}
	var resp api.TaskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if resp.Task.ID != created.ID || resp.Task.Name != "http-run" {
		t.Fatalf("unexpected task %+v", resp.Task)
	}
}

func TestSubmitValidationReturns400(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/training", api.SubmitRequest{
		Name:         "",
		ModelVersion: "v8",
		Epochs:       5,
		BatchSize:    8,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp api.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Error == "" {
		t.Fatal("expected error message")
	}
}

func TestSubmitRejectsUnknownFields(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/training", map[string]any{
		"name":          "x",
		"model_version": "v8",
		"epochs":        5,
		"batch_size":    8,
		"bogus":         true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestGetUnknownReturns404(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/training/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListFilterByStatus(t *testing.T) {
	f := newFixture(t)
	first := f.submit(t)
	f.submit(t)
	if rec := f.do(t, http.MethodPost, "/api/training/"+first.ID+"/cancel", nil); rec.Code != http.StatusOK {
		t.Fatalf("cancel returned %d", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/api/training?status=pending", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d", rec.Code)
	}
	var resp api.TaskListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(resp.Tasks) != 1 {
		t.Fatalf("expected 1 pending task, got %d", len(resp.Tasks))
	}

	rec = f.do(t, http.MethodGet, "/api/training?status=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad status filter, got %d", rec.Code)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t)
	created := f.submit(t)
	if rec := f.do(t, http.MethodPost, "/api/training/"+created.ID+"/cancel", nil); rec.Code != http.StatusOK {
		t.Fatalf("first cancel returned %d", rec.Code)
	}

	// Retrying the cancel returns the settled record rather than an error.
	rec := f.do(t, http.MethodPost, "/api/training/"+created.ID+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeat cancel, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp api.TaskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode cancel response: %v", err)
	}
	if resp.Task.ID != created.ID || resp.Task.Status != "stopped" {
		t.Fatalf("expected stopped record back, got %+v", resp.Task)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.submit(t)
	f.submit(t)

	rec := f.do(t, http.MethodGet, "/api/training/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats returned %d", rec.Code)
	}
	var resp api.StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if resp.Total != 2 || resp.Pending != 2 || resp.QueueDepth != 2 {
		t.Fatalf("unexpected stats %+v", resp)
	}
}

func TestEventsEndpoint(t *testing.T) {
	f := newFixture(t)
	created := f.submit(t)

	f.hub.Publish(notify.Event{Type: notify.EventProgress, TaskID: created.ID, Epoch: 1, TotalEpochs: 5, Percent: 20})
	f.hub.Publish(notify.Event{Type: notify.EventProgress, TaskID: created.ID, Epoch: 2, TotalEpochs: 5, Percent: 40})

	rec := f.do(t, http.MethodGet, "/api/training/"+created.ID+"/events", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events returned %d", rec.Code)
	}
	var resp api.EventsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(resp.Events) != 2 || resp.Next != 2 {
		t.Fatalf("unexpected events response %+v", resp)
	}

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/training/%s/events?since=%d", created.ID, resp.Next), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events returned %d", rec.Code)
	}
	var more api.EventsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &more); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(more.Events) != 0 {
		t.Fatalf("expected no new events, got %d", len(more.Events))
	}
}

func TestEventsUnknownTaskReturns404(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/training/nope/events", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStreamDeliversTerminalEvent(t *testing.T) {
	f := newFixture(t)
	created := f.submit(t)

	f.hub.Publish(notify.Event{Type: notify.EventProgress, TaskID: created.ID, Epoch: 1, TotalEpochs: 5})
	f.hub.Publish(notify.Event{Type: notify.EventFinished, TaskID: created.ID, Status: "completed", WeightsPath: "/w/best.pt"})

	rec := f.do(t, http.MethodGet, "/api/training/"+created.ID+"/stream", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stream returned %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	if !bytes.Contains([]byte(body), []byte("event: progress")) {
		t.Fatalf("expected progress event in stream, got %q", body)
	}
	if !bytes.Contains([]byte(body), []byte("event: finished")) {
		t.Fatalf("expected finished event in stream, got %q", body)
	}
}

func TestEventsAfterStreamPrunedServesStoredOutcome(t *testing.T) {
	f := newFixture(t)
	created := f.submit(t)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	// The task finishes without anything ever reaching the hub, as happens
	// after a daemon restart or once the closed stream was pruned.
	if _, err := f.store.Claim(ctx, created.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := f.store.Finalize(ctx, created.ID, task.Outcome{
		Status:      task.StatusCompleted,
		WeightsPath: "/w/best.pt",
	}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/api/training/"+created.ID+"/events?wait=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events returned %d", rec.Code)
	}
	var resp api.EventsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(resp.Events) != 1 || resp.Events[0].Type != notify.EventFinished {
		t.Fatalf("expected single finished event, got %+v", resp.Events)
	}
	if resp.Events[0].WeightsPath != "/w/best.pt" {
		t.Fatalf("expected weights path on rebuilt event, got %q", resp.Events[0].WeightsPath)
	}
	if !resp.Closed {
		t.Fatal("expected closed response for settled task")
	}
}

func TestStreamAfterPruneDeliversStoredOutcome(t *testing.T) {
	f := newFixture(t)
	created := f.submit(t)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	if _, err := f.store.Claim(ctx, created.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := f.store.Finalize(ctx, created.ID, task.Outcome{
		Status:       task.StatusFailed,
		ErrorMessage: "loader crashed",
	}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	f.hub.Publish(notify.Event{Type: notify.EventError, TaskID: created.ID, Status: "failed", Message: "loader crashed"})
	f.hub.Prune(time.Now().Add(time.Minute))

	rec := f.do(t, http.MethodGet, "/api/training/"+created.ID+"/stream", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stream returned %d", rec.Code)
	}
	body := rec.Body.String()
	if !bytes.Contains([]byte(body), []byte("event: error")) {
		t.Fatalf("expected error event rebuilt from the record, got %q", body)
	}
	if !bytes.Contains([]byte(body), []byte("loader crashed")) {
		t.Fatalf("expected failure reason in stream, got %q", body)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	f := newFixture(t)
	created := f.submit(t)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	if _, err := f.store.Claim(ctx, created.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	for epoch := 1; epoch <= 2; epoch++ {
		if err := f.store.UpdateProgress(ctx, created.ID, epoch, 5, map[string]float64{"loss": 0.5}); err != nil {
			t.Fatalf("UpdateProgress: %v", err)
		}
	}

	rec := f.do(t, http.MethodGet, "/api/training/"+created.ID+"/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history returned %d", rec.Code)
	}
	var resp api.HistoryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(resp.Epochs) != 2 {
		t.Fatalf("expected 2 epochs, got %d", len(resp.Epochs))
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health returned %d", rec.Code)
	}
	var resp api.HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("unexpected health %+v", resp)
	}
}
