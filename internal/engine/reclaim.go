package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaykit/taskqueue/internal/logger"
	"github.com/relaykit/taskqueue/internal/task"
)

// Locker coordinates the stuck-task sweep across multiple engine processes
// sharing one backend, so the sweep itself does not race N times per cycle.
// It is a guard, not an atomicity primitive: the per-task transition goes
// through the storage adapter's UpdateTask, which is last-writer-wins with
// no compare-and-set, so two sweeps that both get past TryLock (for example
// after the lock's TTL lapses mid-sweep) can each reclaim the same task.
type Locker interface {
	// TryLock attempts to acquire a short-lived lock. Returns false if
	// another process currently holds it.
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context)
}

// noopLocker is used by backends with no natural cross-process mutex
// (memory, file): the sweep always proceeds, matching those backends'
// existing single-process assumption.
type noopLocker struct{}

func (noopLocker) TryLock(ctx context.Context) (bool, error) { return true, nil }
func (noopLocker) Unlock(ctx context.Context)                {}

// RedisLocker implements the sweep guard as a SETNX-with-TTL key, the same
// pattern the teacher's scheduler used to ensure only one process ran its
// periodic sweep at a time.
type RedisLocker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, key: fmt.Sprintf("%s:reclaim:lock", prefix), ttl: 5 * time.Second}
}

func (l *RedisLocker) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, "1", l.ttl).Result()
}

func (l *RedisLocker) Unlock(ctx context.Context) {
	l.client.Del(ctx, l.key)
}

// ReclaimStuck scans processing tasks and resolves any whose attempt has
// exceeded its effective maxProcessingTime (§4.1 "Retry and stuck
// detection"). It is the only path that retries or fails a task whose
// attempt ran too long: this covers both a worker that crashed mid-attempt
// and a worker whose handler exceeded its budget, since the worker pool
// abandons a timed-out task in processing instead of resolving it itself.
func (e *Engine) ReclaimStuck(ctx context.Context) (int, error) {
	locked, err := e.locker.TryLock(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine: acquiring reclaim lock: %w", err)
	}
	if !locked {
		return 0, nil
	}
	defer e.locker.Unlock(ctx)

	processing := task.StatusProcessing
	tasks, err := e.storage.LoadTasks(ctx, &processing)
	if err != nil {
		return 0, fmt.Errorf("engine: loading processing tasks: %w", err)
	}

	now := time.Now().UTC()
	reclaimed := 0
	for _, t := range tasks {
		if !t.Stuck(now) {
			continue
		}
		if err := e.resolveStuckTask(ctx, t); err != nil {
			logger.Error().Err(err).Str("task_id", t.ID).Msg("failed to reclaim stuck task")
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}

func (e *Engine) resolveStuckTask(ctx context.Context, t *task.Task) error {
	e.emitter.EmitTaskStuck(t)

	sm := task.NewStateMachine(t)
	if t.CanRetry() {
		if err := sm.Retry("stuck: exceeded max processing time"); err != nil {
			return err
		}
		if err := e.storage.UpdateTask(ctx, t); err != nil {
			return err
		}
		e.emitter.EmitTaskRetried(t)
		return nil
	}

	if err := sm.Fail(fmt.Sprintf("stuck: exceeded %d/%d retries", t.RetryCount, t.MaxRetries)); err != nil {
		return err
	}
	if err := e.storage.UpdateTask(ctx, t); err != nil {
		return err
	}
	e.emitter.EmitTaskFailed(t, nil)
	return nil
}
