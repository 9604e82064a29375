package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/taskqueue/internal/task"
)

// fakeAdminEngine is a minimal stand-in for *engine.Engine satisfying
// AdminEngine, just enough to exercise handler plumbing without storage.
type fakeAdminEngine struct {
	failed      []*task.Task
	retryErr    error
	retryResult *task.Task
}

func (f *fakeAdminEngine) GetAllTasks(ctx context.Context, status *task.Status) ([]*task.Task, error) {
	return nil, nil
}

func (f *fakeAdminEngine) ListFailed(ctx context.Context) ([]*task.Task, error) {
	return f.failed, nil
}

func (f *fakeAdminEngine) RetryFailed(ctx context.Context, id string) (*task.Task, error) {
	if f.retryErr != nil {
		return nil, f.retryErr
	}
	return f.retryResult, nil
}

func (f *fakeAdminEngine) CountFailed(ctx context.Context) (int, error) {
	return len(f.failed), nil
}

func TestAdminHandler_respondJSON(t *testing.T) {
	h := &AdminHandler{}

	w := httptest.NewRecorder()
	data := map[string]string{"status": "ok"}

	h.respondJSON(w, http.StatusOK, data)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "ok", response["status"])
}

func TestAdminHandler_respondError(t *testing.T) {
	h := &AdminHandler{}

	w := httptest.NewRecorder()
	h.respondError(w, http.StatusNotFound, "worker not found")

	assert.Equal(t, http.StatusNotFound, w.Code)

	var response map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "Not Found", response["error"])
	assert.Equal(t, "worker not found", response["message"])
}

func TestAdminHandler_ListWorkers_NoRedis(t *testing.T) {
	h := NewAdminHandler(&fakeAdminEngine{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/workers", nil)
	w := httptest.NewRecorder()

	h.ListWorkers(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["count"])
}

func TestAdminHandler_GetWorker_MissingID(t *testing.T) {
	h := NewAdminHandler(&fakeAdminEngine{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/workers/", nil)
	w := httptest.NewRecorder()

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("workerID", "")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	h.GetWorker(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "worker ID is required", response["message"])
}

func TestAdminHandler_GetWorker_NoRedis(t *testing.T) {
	h := NewAdminHandler(&fakeAdminEngine{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/workers/w1", nil)
	w := httptest.NewRecorder()

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("workerID", "w1")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	h.GetWorker(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminHandler_PauseWorker_MissingID(t *testing.T) {
	h := NewAdminHandler(&fakeAdminEngine{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/workers//pause", nil)
	w := httptest.NewRecorder()

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("workerID", "")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	h.PauseWorker(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandler_PauseWorker_NoRedis(t *testing.T) {
	h := NewAdminHandler(&fakeAdminEngine{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/workers/w1/pause", nil)
	w := httptest.NewRecorder()

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("workerID", "w1")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	h.PauseWorker(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestAdminHandler_ResumeWorker_MissingID(t *testing.T) {
	h := NewAdminHandler(&fakeAdminEngine{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/workers//resume", nil)
	w := httptest.NewRecorder()

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("workerID", "")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	h.ResumeWorker(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandler_GetQueues(t *testing.T) {
	h := NewAdminHandler(&fakeAdminEngine{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/queues", nil)
	w := httptest.NewRecorder()

	h.GetQueues(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["total_depth"])
}

func TestAdminHandler_ListFailed(t *testing.T) {
	failedTask := task.New("echo", nil, 0, task.DefaultMaxRetries, task.DefaultMaxProcessingTime)
	failedTask.Status = task.StatusFailed

	h := NewAdminHandler(&fakeAdminEngine{failed: []*task.Task{failedTask}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/failed", nil)
	w := httptest.NewRecorder()

	h.ListFailed(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["count"])
}

func TestAdminHandler_RetryFailedTask_MissingTaskID(t *testing.T) {
	h := NewAdminHandler(&fakeAdminEngine{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/failed/retry", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	h.RetryFailedTask(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandler_RetryFailedTask_InvalidJSON(t *testing.T) {
	h := NewAdminHandler(&fakeAdminEngine{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/failed/retry", strings.NewReader(`not json`))
	w := httptest.NewRecorder()

	h.RetryFailedTask(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandler_RetryFailedTask_NotFound(t *testing.T) {
	h := NewAdminHandler(&fakeAdminEngine{retryErr: task.ErrTaskNotFound}, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/failed/retry", strings.NewReader(`{"task_id":"missing"}`))
	w := httptest.NewRecorder()

	h.RetryFailedTask(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminHandler_RetryFailedTask_Success(t *testing.T) {
	fresh := task.New("echo", nil, 0, task.DefaultMaxRetries, task.DefaultMaxProcessingTime)
	h := NewAdminHandler(&fakeAdminEngine{retryResult: fresh}, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/failed/retry", strings.NewReader(`{"task_id":"old-id"}`))
	w := httptest.NewRecorder()

	h.RetryFailedTask(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, fresh.ID, body["new_task_id"])
}

func TestAdminHandler_HealthCheck_NoRedis(t *testing.T) {
	h := NewAdminHandler(&fakeAdminEngine{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/health", nil)
	w := httptest.NewRecorder()

	h.HealthCheck(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRetryFailedRequest_Struct(t *testing.T) {
	req := RetryFailedRequest{TaskID: "task-123"}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded RetryFailedRequest
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, req.TaskID, decoded.TaskID)
}
