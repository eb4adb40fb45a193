package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"foundry/internal/api"
)

// apiClient is a thin HTTP wrapper over the daemon API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(addr string) *apiClient {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &apiClient{
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *apiClient) submit(ctx context.Context, req api.SubmitRequest) (api.TaskPayload, error) {
	var resp api.TaskResponse
	if err := c.do(ctx, http.MethodPost, "/api/training", req, &resp); err != nil {
		return api.TaskPayload{}, err
	}
	return resp.Task, nil
}

func (c *apiClient) get(ctx context.Context, id string) (api.TaskPayload, error) {
	var resp api.TaskResponse
	if err := c.do(ctx, http.MethodGet, "/api/training/"+url.PathEscape(id), nil, &resp); err != nil {
		return api.TaskPayload{}, err
	}
	return resp.Task, nil
}

func (c *apiClient) list(ctx context.Context, statuses []string) ([]api.TaskPayload, error) {
	path := "/api/training"
	if len(statuses) > 0 {
		params := url.Values{}
		for _, status := range statuses {
			params.Add("status", status)
		}
		path += "?" + params.Encode()
	}
	var resp api.TaskListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

func (c *apiClient) cancel(ctx context.Context, id string) (api.TaskPayload, error) {
	var resp api.TaskResponse
	if err := c.do(ctx, http.MethodPost, "/api/training/"+url.PathEscape(id)+"/cancel", nil, &resp); err != nil {
		return api.TaskPayload{}, err
	}
	return resp.Task, nil
}

func (c *apiClient) stats(ctx context.Context) (api.StatsResponse, error) {
	var resp api.StatsResponse
	if err := c.do(ctx, http.MethodGet, "/api/training/stats", nil, &resp); err != nil {
		return api.StatsResponse{}, err
	}
	return resp, nil
}

func (c *apiClient) events(ctx context.Context, id string, since uint64, wait bool) (api.EventsResponse, error) {
	params := url.Values{}
	params.Set("since", strconv.FormatUint(since, 10))
	if wait {
		params.Set("wait", "1")
	}
	path := "/api/training/" + url.PathEscape(id) + "/events?" + params.Encode()
	var resp api.EventsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return api.EventsResponse{}, err
	}
	return resp, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr api.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if jsonErr := json.Unmarshal(data, &apiErr); jsonErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
