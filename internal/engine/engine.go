// Package engine implements the Queue Engine (§4.1): the orchestration layer
// owning enqueue, priority-ordered dequeue, retry accounting, stuck-task
// reclamation, and event emission. It depends one-way on storage.Adapter and
// registry.Registry and never the reverse (§9 Design Notes, "Cycle between
// engine, worker, and repository").
package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/relaykit/taskqueue/internal/events"
	"github.com/relaykit/taskqueue/internal/logger"
	"github.com/relaykit/taskqueue/internal/metrics"
	"github.com/relaykit/taskqueue/internal/registry"
	"github.com/relaykit/taskqueue/internal/storage"
	"github.com/relaykit/taskqueue/internal/task"
)

// Engine ties one storage adapter and one handler registry together under a
// single configuration. A *Pool (internal/worker) drives it; it never holds
// a reference back to its pool (one-way dependency).
type Engine struct {
	storage  storage.Adapter
	registry *registry.Registry
	emitter  *events.Emitter
	locker   Locker
	opts     Options
}

// New constructs a non-singleton engine. Every call returns a separate
// engine; this package has no process-global instance accessor.
func New(adapter storage.Adapter, reg *registry.Registry, opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	if opts.MaxRetries > task.HardMaxRetries {
		return nil, fmt.Errorf("%w: %d > %d", ErrMaxRetriesOverCap, opts.MaxRetries, task.HardMaxRetries)
	}

	return &Engine{
		storage:  adapter,
		registry: reg,
		emitter:  events.NewEmitter(),
		locker:   noopLocker{},
		opts:     opts,
	}, nil
}

// SetLocker installs the cross-process reclaim guard (§4.3 "Redis"). Engines
// over memory/file backends keep the default no-op locker.
func (e *Engine) SetLocker(l Locker) {
	e.locker = l
}

func (e *Engine) Emitter() *events.Emitter     { return e.emitter }
func (e *Engine) Registry() *registry.Registry { return e.registry }
func (e *Engine) Options() Options             { return e.opts }

// Enqueue creates a task with its effective policy resolved once (§9 "Policy
// resolution"), persists it, and emits taskAdded.
func (e *Engine) Enqueue(ctx context.Context, handler string, payload map[string]interface{}, overrides task.Overrides) (*task.Task, error) {
	if overrides.MaxRetries != nil && *overrides.MaxRetries > task.HardMaxRetries {
		return nil, fmt.Errorf("%w: %d > %d", ErrMaxRetriesOverCap, *overrides.MaxRetries, task.HardMaxRetries)
	}

	entry, ok := e.registry.Get(handler)
	if !ok && e.opts.StrictHandlerValidation {
		return nil, fmt.Errorf("%w: %q", ErrHandlerNotRegistered, handler)
	}

	valid, msg, _ := e.registry.Validate(handler, payload)
	if !valid {
		if !e.opts.SkipOnPayloadError {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, msg)
		}
		logger.Warn().Str("handler", handler).Str("reason", msg).Msg("enqueuing task despite payload validation failure")
	}

	var handlerDefaults task.HandlerDefaults
	if ok {
		handlerDefaults = entry.Defaults()
	}
	policy := task.ResolvePolicy(overrides, handlerDefaults, task.Policy{
		MaxRetries:        e.opts.MaxRetries,
		MaxProcessingTime: e.opts.MaxProcessingTime,
	})

	t := task.New(handler, payload, priorityFromOverrides(overrides), policy.MaxRetries, policy.MaxProcessingTime)
	if err := e.storage.Enqueue(ctx, t); err != nil {
		return nil, fmt.Errorf("engine: enqueue: %w", err)
	}
	metrics.RecordTaskSubmission(t.Handler, strconv.Itoa(t.Priority))
	e.emitter.EmitTaskAdded(t)
	return t, nil
}

func priorityFromOverrides(o task.Overrides) int {
	if o.Priority != nil {
		return *o.Priority
	}
	return 0
}

// Dequeue returns the next runnable task, or nil if none is available. On an
// empty queue it opportunistically triggers stuck-task reclamation before
// returning, per §4.1's dequeue algorithm.
func (e *Engine) Dequeue(ctx context.Context) (*task.Task, error) {
	t, err := e.storage.Dequeue(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: dequeue: %w", err)
	}
	if t == nil {
		if _, reclaimErr := e.ReclaimStuck(ctx); reclaimErr != nil {
			logger.Warn().Err(reclaimErr).Msg("stuck task reclamation failed on idle dequeue")
		}
		return nil, nil
	}
	return t, nil
}

// UpdateTask persists t (whole-task replace; §4.3 "last-writer-wins").
func (e *Engine) UpdateTask(ctx context.Context, t *task.Task) error {
	if err := e.storage.UpdateTask(ctx, t); err != nil {
		return fmt.Errorf("engine: update task %s: %w", t.ID, err)
	}
	return nil
}

func (e *Engine) GetTaskByID(ctx context.Context, id string) (*task.Task, error) {
	t, err := e.storage.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (e *Engine) GetAllTasks(ctx context.Context, status *task.Status) ([]*task.Task, error) {
	tasks, err := e.storage.LoadTasks(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("engine: load tasks: %w", err)
	}
	return tasks, nil
}

// DeleteTask removes a task, soft by default. Emits taskRemoved exactly once
// per transition into deleted; calling it again on an already-deleted task
// is idempotent and emits nothing further (§8 "Soft-delete is idempotent").
func (e *Engine) DeleteTask(ctx context.Context, id string, hard bool) (*task.Task, error) {
	existing, err := e.storage.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	alreadyDeleted := existing.Status == task.StatusDeleted
	if alreadyDeleted && !hard {
		return existing, nil
	}

	t, err := e.storage.DeleteTask(ctx, id, hard)
	if err != nil {
		return nil, fmt.Errorf("engine: delete task %s: %w", id, err)
	}
	if !alreadyDeleted {
		e.emitter.EmitTaskRemoved(t)
	}
	return t, nil
}

// ResolveHandlerPolicy exposes the cascade (task override > handler default
// > engine default) for callers that need the effective timeout/retry
// budget for a handler. Dequeued
// tasks already carry their resolved policy baked in at Enqueue time, so
// this is only needed when re-deriving it is cheaper than trusting the
// stored values (e.g. admin tooling).
func (e *Engine) ResolveHandlerPolicy(handler string) task.Policy {
	var handlerDefaults task.HandlerDefaults
	if entry, ok := e.registry.Get(handler); ok {
		handlerDefaults = entry.Defaults()
	}
	return task.ResolvePolicy(task.Overrides{}, handlerDefaults, task.Policy{
		MaxRetries:        e.opts.MaxRetries,
		MaxProcessingTime: e.opts.MaxProcessingTime,
	})
}
