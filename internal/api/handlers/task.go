package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relaykit/taskqueue/internal/logger"
	"github.com/relaykit/taskqueue/internal/task"
)

// Engine is the subset of *engine.Engine the task API depends on.
type Engine interface {
	Enqueue(ctx context.Context, handler string, payload map[string]interface{}, overrides task.Overrides) (*task.Task, error)
	GetTaskByID(ctx context.Context, id string) (*task.Task, error)
	GetAllTasks(ctx context.Context, status *task.Status) ([]*task.Task, error)
	DeleteTask(ctx context.Context, id string, hard bool) (*task.Task, error)
}

// CreateTaskRequest is the POST /api/v1/tasks body.
type CreateTaskRequest struct {
	Handler           string                 `json:"handler"`
	Payload           map[string]interface{} `json:"payload"`
	Priority          *int                   `json:"priority,omitempty"`
	MaxRetries        *int                   `json:"max_retries,omitempty"`
	MaxProcessingTime *time.Duration         `json:"max_processing_time,omitempty"`
}

// TaskHandler handles task-related HTTP requests against the engine's
// public operations.
type TaskHandler struct {
	engine Engine
}

func NewTaskHandler(eng Engine) *TaskHandler {
	return &TaskHandler{engine: eng}
}

// Create handles POST /api/v1/tasks.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Handler == "" {
		h.respondError(w, http.StatusBadRequest, "handler is required")
		return
	}

	overrides := task.Overrides{
		MaxRetries:        req.MaxRetries,
		MaxProcessingTime: req.MaxProcessingTime,
		Priority:          req.Priority,
	}

	t, err := h.engine.Enqueue(r.Context(), req.Handler, req.Payload, overrides)
	if err != nil {
		logger.Error().Err(err).Str("handler", req.Handler).Msg("failed to enqueue task")
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	logger.Info().Str("task_id", t.ID).Str("handler", t.Handler).Int("priority", t.Priority).Msg("task created")
	h.respondJSON(w, http.StatusCreated, t)
}

// Get handles GET /api/v1/tasks/{taskID}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		h.respondError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	t, err := h.engine.GetTaskByID(r.Context(), taskID)
	if err != nil {
		h.respondTaskLookupError(w, taskID, err)
		return
	}

	h.respondJSON(w, http.StatusOK, t)
}

// Cancel handles DELETE /api/v1/tasks/{taskID}. It soft-deletes the task;
// the task state machine rejects deletes of a processing task with
// ErrInvalidTransition, which is answered with 409.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		h.respondError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	t, err := h.engine.DeleteTask(r.Context(), taskID, false)
	if err != nil {
		if errors.Is(err, task.ErrInvalidTransition) {
			h.respondError(w, http.StatusConflict, "task cannot be cancelled in its current status")
			return
		}
		h.respondTaskLookupError(w, taskID, err)
		return
	}

	logger.Info().Str("task_id", taskID).Msg("task cancelled")
	h.respondJSON(w, http.StatusOK, t)
}

// ListResponse is the GET /api/v1/tasks response envelope.
type ListResponse struct {
	Tasks      []*task.Task `json:"tasks"`
	TotalCount int          `json:"total_count"`
}

// List handles GET /api/v1/tasks, optionally filtered by ?status=.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	var statusFilter *task.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := task.ParseStatus(raw)
		statusFilter = &s
	}

	tasks, err := h.engine.GetAllTasks(r.Context(), statusFilter)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list tasks")
		h.respondError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	h.respondJSON(w, http.StatusOK, ListResponse{Tasks: tasks, TotalCount: len(tasks)})
}

func (h *TaskHandler) respondTaskLookupError(w http.ResponseWriter, taskID string, err error) {
	if errors.Is(err, task.ErrTaskNotFound) {
		h.respondError(w, http.StatusNotFound, "task not found")
		return
	}
	logger.Error().Err(err).Str("task_id", taskID).Msg("task lookup failed")
	h.respondError(w, http.StatusInternalServerError, "failed to look up task")
}

// ErrorResponse is the JSON envelope for every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (h *TaskHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
