package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/relaykit/taskqueue/internal/logger"
	"github.com/relaykit/taskqueue/internal/metrics"
	"github.com/relaykit/taskqueue/internal/task"
	"github.com/relaykit/taskqueue/internal/worker"
)

// AdminEngine is the subset of *engine.Engine the admin API depends on.
type AdminEngine interface {
	GetAllTasks(ctx context.Context, status *task.Status) ([]*task.Task, error)
	ListFailed(ctx context.Context) ([]*task.Task, error)
	RetryFailed(ctx context.Context, id string) (*task.Task, error)
	CountFailed(ctx context.Context) (int, error)
}

// AdminHandler handles admin API requests. redisClient is optional: worker
// liveness/pause management has no natural Redis-less equivalent, so it
// degrades to "no workers known" when the configured backend is not Redis.
type AdminHandler struct {
	engine      AdminEngine
	redisClient *redis.Client
}

func NewAdminHandler(eng AdminEngine, redisClient *redis.Client) *AdminHandler {
	return &AdminHandler{engine: eng, redisClient: redisClient}
}

// ListWorkers handles GET /admin/workers.
func (h *AdminHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	if h.redisClient == nil {
		h.respondJSON(w, http.StatusOK, map[string]interface{}{"workers": []worker.WorkerInfo{}, "count": 0})
		return
	}

	workers, err := worker.GetActiveWorkers(r.Context(), h.redisClient)
	if err != nil {
		logger.Error().Err(err).Msg("failed to get active workers")
		h.respondError(w, http.StatusInternalServerError, "failed to get workers")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"workers": workers,
		"count":   len(workers),
	})
}

// GetWorker handles GET /admin/workers/{workerID}.
func (h *AdminHandler) GetWorker(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	if workerID == "" {
		h.respondError(w, http.StatusBadRequest, "worker ID is required")
		return
	}
	if h.redisClient == nil {
		h.respondError(w, http.StatusNotFound, "worker not found or not active")
		return
	}

	workers, err := worker.GetActiveWorkers(r.Context(), h.redisClient)
	if err != nil {
		logger.Error().Err(err).Str("worker_id", workerID).Msg("failed to get worker details")
		h.respondError(w, http.StatusInternalServerError, "failed to get worker")
		return
	}

	for _, wk := range workers {
		if wk.ID == workerID {
			h.respondJSON(w, http.StatusOK, wk)
			return
		}
	}

	h.respondError(w, http.StatusNotFound, "worker not found")
}

// GetQueues handles GET /admin/queues, reporting the pending backlog by
// priority.
func (h *AdminHandler) GetQueues(w http.ResponseWriter, r *http.Request) {
	pending := task.StatusPending
	tasks, err := h.engine.GetAllTasks(r.Context(), &pending)
	if err != nil {
		logger.Error().Err(err).Msg("failed to get pending tasks")
		h.respondError(w, http.StatusInternalServerError, "failed to get queue statistics")
		return
	}

	depthByPriority := make(map[int]int)
	for _, t := range tasks {
		depthByPriority[t.Priority]++
	}
	for priority, depth := range depthByPriority {
		metrics.UpdateQueueDepth(strconv.Itoa(priority), float64(depth))
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"depth_by_priority": depthByPriority,
		"total_depth":       len(tasks),
	})
}

// ListFailed handles GET /admin/failed — the dead-letter index.
func (h *AdminHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.engine.ListFailed(r.Context())
	if err != nil {
		logger.Error().Err(err).Msg("failed to list failed tasks")
		h.respondError(w, http.StatusInternalServerError, "failed to list failed tasks")
		return
	}

	count, _ := h.engine.CountFailed(r.Context())
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"count": count,
	})
}

// RetryFailedRequest is the POST /admin/failed/retry body.
type RetryFailedRequest struct {
	TaskID string `json:"task_id"`
}

// RetryFailedTask handles POST /admin/failed/retry. It re-enqueues the named
// failed task as a fresh task (§3: failed has no direct edge back to
// pending) and soft-deletes the original.
func (h *AdminHandler) RetryFailedTask(w http.ResponseWriter, r *http.Request) {
	var req RetryFailedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TaskID == "" {
		h.respondError(w, http.StatusBadRequest, "task_id is required")
		return
	}

	fresh, err := h.engine.RetryFailed(r.Context(), req.TaskID)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			h.respondError(w, http.StatusNotFound, "task not found")
			return
		}
		logger.Error().Err(err).Str("task_id", req.TaskID).Msg("failed to retry failed task")
		h.respondError(w, http.StatusConflict, err.Error())
		return
	}

	logger.Info().Str("original_task_id", req.TaskID).Str("new_task_id", fresh.ID).Msg("failed task re-queued")
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "task re-queued",
		"new_task_id":  fresh.ID,
		"original_id":  req.TaskID,
	})
}

// HealthCheck handles GET /admin/health.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.redisClient != nil {
		if err := h.redisClient.Ping(r.Context()).Err(); err != nil {
			h.respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"redis":  "disconnected",
				"error":  err.Error(),
			})
			return
		}
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy"})
}

// PauseWorker handles POST /admin/workers/{workerID}/pause.
func (h *AdminHandler) PauseWorker(w http.ResponseWriter, r *http.Request) {
	h.setPauseFlag(w, r, true)
}

// ResumeWorker handles POST /admin/workers/{workerID}/resume.
func (h *AdminHandler) ResumeWorker(w http.ResponseWriter, r *http.Request) {
	h.setPauseFlag(w, r, false)
}

func (h *AdminHandler) setPauseFlag(w http.ResponseWriter, r *http.Request, paused bool) {
	workerID := chi.URLParam(r, "workerID")
	if workerID == "" {
		h.respondError(w, http.StatusBadRequest, "worker ID is required")
		return
	}
	if h.redisClient == nil {
		h.respondError(w, http.StatusNotImplemented, "worker pause/resume requires a redis backend")
		return
	}

	alive, err := worker.IsWorkerAlive(r.Context(), h.redisClient, workerID)
	if err != nil {
		logger.Error().Err(err).Str("worker_id", workerID).Msg("failed to check worker status")
		h.respondError(w, http.StatusInternalServerError, "failed to check worker status")
		return
	}
	if !alive {
		h.respondError(w, http.StatusNotFound, "worker not found or not active")
		return
	}

	pauseKey := fmt.Sprintf("worker:%s:paused", workerID)
	var opErr error
	if paused {
		opErr = h.redisClient.Set(r.Context(), pauseKey, "1", 0).Err()
	} else {
		opErr = h.redisClient.Del(r.Context(), pauseKey).Err()
	}
	if opErr != nil {
		logger.Error().Err(opErr).Str("worker_id", workerID).Bool("paused", paused).Msg("failed to update worker pause flag")
		h.respondError(w, http.StatusInternalServerError, "failed to update worker state")
		return
	}

	verb := "resumed"
	if paused {
		verb = "paused"
	}
	logger.Info().Str("worker_id", workerID).Msg("worker " + verb)
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "worker " + verb,
		"worker_id": workerID,
	})
}

func (h *AdminHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (h *AdminHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}
