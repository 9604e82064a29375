package engine

import (
	"context"
	"fmt"

	"github.com/relaykit/taskqueue/internal/logger"
	"github.com/relaykit/taskqueue/internal/metrics"
	"github.com/relaykit/taskqueue/internal/task"
)

// ListFailed is the admin-facing view over tasks parked in the terminal
// failed status (§3 Data Model: there is no separate dead-letter status,
// only a read over status=failed).
func (e *Engine) ListFailed(ctx context.Context) ([]*task.Task, error) {
	status := task.StatusFailed
	tasks, err := e.storage.LoadTasks(ctx, &status)
	if err != nil {
		return nil, fmt.Errorf("engine: list failed: %w", err)
	}
	return tasks, nil
}

// RetryFailed re-enqueues a failed task as a brand new task carrying the same
// handler, payload and policy, then soft-deletes the original. A failed task
// cannot transition back to pending directly (§3 ValidTransitions has no
// failed→pending edge); re-submission always produces a fresh task ID so the
// retry count and history of the original attempt stay intact for audit.
func (e *Engine) RetryFailed(ctx context.Context, id string) (*task.Task, error) {
	original, err := e.storage.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if original.Status != task.StatusFailed {
		return nil, fmt.Errorf("engine: task %s is not in failed status", id)
	}

	fresh := task.New(original.Handler, original.Payload, original.Priority, original.MaxRetries, original.MaxProcessingTime)
	if err := e.storage.Enqueue(ctx, fresh); err != nil {
		return nil, fmt.Errorf("engine: retry failed task %s: %w", id, err)
	}
	e.emitter.EmitTaskAdded(fresh)

	sm := task.NewStateMachine(original)
	if err := sm.SoftDelete(); err == nil {
		if updErr := e.storage.UpdateTask(ctx, original); updErr != nil {
			logger.Warn().Err(updErr).Str("task_id", id).Msg("failed to soft-delete retried task original")
		} else {
			e.emitter.EmitTaskRemoved(original)
		}
	}

	return fresh, nil
}

// CountFailed returns the number of tasks currently parked in failed status,
// the admin dashboard's at-a-glance backlog size.
func (e *Engine) CountFailed(ctx context.Context) (int, error) {
	tasks, err := e.ListFailed(ctx)
	if err != nil {
		return 0, err
	}
	count := len(tasks)
	metrics.SetFailedIndexSize(float64(count))
	return count, nil
}
