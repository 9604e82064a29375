package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/relaykit/taskqueue/internal/api/handlers"
	"github.com/relaykit/taskqueue/internal/task"
)

// TaskQueueClient is a thin, hand-written HTTP client for the task API and
// admin API (§6 External Interfaces). It does not wrap a generated client:
// the server's surface is small enough that typed request/response structs
// plus a single doRequest helper cover it without a codegen step.
type TaskQueueClient struct {
	baseURL string
	opts    *options
	ws      *WebSocketClient
}

// New creates a new TaskQueueClient pointed at baseURL (e.g.
// "http://localhost:8080").
func New(baseURL string, opts ...Option) (*TaskQueueClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("client: base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("client: invalid base URL: %w", err)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &TaskQueueClient{baseURL: baseURL, opts: o}, nil
}

// apiError is returned by doRequest when the server responds with a non-2xx
// status; it carries the decoded ErrorResponse envelope when one was sent.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("client: server responded %d: %s", e.StatusCode, e.Message)
}

func (c *TaskQueueClient) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("client: building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.opts.apiKey != "" {
		req.Header.Set("X-API-Key", c.opts.apiKey)
	}
	for k, v := range c.opts.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("client: reading response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var envelope handlers.ErrorResponse
		_ = json.Unmarshal(data, &envelope)
		return &apiError{StatusCode: resp.StatusCode, Message: envelope.Message}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("client: decoding response: %w", err)
	}
	return nil
}

// SubmitTaskOptions carries the optional per-task overrides accepted by
// SubmitTask; zero values fall through to the handler's or engine's default
// (§6 task policy cascade).
type SubmitTaskOptions struct {
	Priority          *int
	MaxRetries        *int
	MaxProcessingTime *time.Duration
}

// SubmitTask enqueues a new task and returns it as stored (§4.1 Enqueue).
func (c *TaskQueueClient) SubmitTask(ctx context.Context, handlerName string, payload map[string]interface{}, opts SubmitTaskOptions) (*task.Task, error) {
	req := handlers.CreateTaskRequest{
		Handler:           handlerName,
		Payload:           payload,
		Priority:          opts.Priority,
		MaxRetries:        opts.MaxRetries,
		MaxProcessingTime: opts.MaxProcessingTime,
	}

	var t task.Task
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/tasks", req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTask retrieves a task by ID.
func (c *TaskQueueClient) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	var t task.Task
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(taskID), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// CancelTask soft-deletes a task by ID (§4.5 DeleteTask, soft form).
func (c *TaskQueueClient) CancelTask(ctx context.Context, taskID string) (*task.Task, error) {
	var t task.Task
	if err := c.doRequest(ctx, http.MethodDelete, "/api/v1/tasks/"+url.PathEscape(taskID), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasks lists tasks, optionally filtered by status ("pending",
// "processing", "done", "failed", "deleted"). Pass "" for no filter.
func (c *TaskQueueClient) ListTasks(ctx context.Context, status string) (*handlers.ListResponse, error) {
	path := "/api/v1/tasks"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}

	var resp handlers.ListResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListWorkers returns the active worker registry.
func (c *TaskQueueClient) ListWorkers(ctx context.Context) (map[string]interface{}, error) {
	var resp map[string]interface{}
	if err := c.doRequest(ctx, http.MethodGet, "/admin/workers", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetWorker returns a single worker's heartbeat record.
func (c *TaskQueueClient) GetWorker(ctx context.Context, workerID string) (map[string]interface{}, error) {
	var resp map[string]interface{}
	if err := c.doRequest(ctx, http.MethodGet, "/admin/workers/"+url.PathEscape(workerID), nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// PauseWorker pauses a worker; it stops dequeuing new tasks but finishes
// whatever it is already processing.
func (c *TaskQueueClient) PauseWorker(ctx context.Context, workerID string) error {
	return c.doRequest(ctx, http.MethodPost, "/admin/workers/"+url.PathEscape(workerID)+"/pause", nil, nil)
}

// ResumeWorker resumes a paused worker.
func (c *TaskQueueClient) ResumeWorker(ctx context.Context, workerID string) error {
	return c.doRequest(ctx, http.MethodPost, "/admin/workers/"+url.PathEscape(workerID)+"/resume", nil, nil)
}

// GetQueueDepths returns the pending backlog grouped by priority.
func (c *TaskQueueClient) GetQueueDepths(ctx context.Context) (map[string]interface{}, error) {
	var resp map[string]interface{}
	if err := c.doRequest(ctx, http.MethodGet, "/admin/queues", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ListFailedTasks returns the dead-letter index (§4.7 ListFailed).
func (c *TaskQueueClient) ListFailedTasks(ctx context.Context) ([]*task.Task, error) {
	var resp struct {
		Tasks []*task.Task `json:"tasks"`
		Count int          `json:"count"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/admin/failed", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// RetryFailedTask re-enqueues a failed task as a fresh task and returns its
// new ID.
func (c *TaskQueueClient) RetryFailedTask(ctx context.Context, taskID string) (string, error) {
	req := handlers.RetryFailedRequest{TaskID: taskID}
	var resp struct {
		NewTaskID string `json:"new_task_id"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/admin/failed/retry", req, &resp); err != nil {
		return "", err
	}
	return resp.NewTaskID, nil
}

// CheckHealth checks API server (and, if configured, storage backend)
// health.
func (c *TaskQueueClient) CheckHealth(ctx context.Context) (map[string]interface{}, error) {
	var resp map[string]interface{}
	if err := c.doRequest(ctx, http.MethodGet, "/admin/health", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ConnectWebSocket establishes a WebSocket connection for real-time task
// events (§7 event channel). Call Events after connecting to read them.
func (c *TaskQueueClient) ConnectWebSocket(ctx context.Context) error {
	if c.ws != nil && c.ws.IsConnected() {
		return nil
	}
	c.ws = newWebSocketClient(c.baseURL, c.opts.apiKey)
	return c.ws.Connect(ctx)
}

// Events returns a channel of task events. ConnectWebSocket must be called
// first; an unconnected client returns a closed channel.
func (c *TaskQueueClient) Events() <-chan *Event {
	if c.ws == nil {
		ch := make(chan *Event)
		close(ch)
		return ch
	}
	return c.ws.Events()
}

// CloseWebSocket closes the WebSocket connection, if any.
func (c *TaskQueueClient) CloseWebSocket() error {
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

// StatusCode extracts the HTTP status code from an error returned by this
// client's methods, or 0 if err did not originate from the HTTP layer.
func StatusCode(err error) int {
	apiErr, ok := err.(*apiError)
	if !ok {
		return 0
	}
	return apiErr.StatusCode
}
