package storage

import (
	"context"
	"time"

	"github.com/relaykit/taskqueue/internal/metrics"
	"github.com/relaykit/taskqueue/internal/task"
)

// instrumented wraps an Adapter and records its per-operation duration and
// error rate, regardless of which backend is underneath. NewFromConfig
// applies it to every adapter it builds, so the memory/file/redis/sql
// implementations stay free of metrics plumbing.
type instrumented struct {
	inner Adapter
}

func newInstrumented(inner Adapter) Adapter {
	return &instrumented{inner: inner}
}

func observe(operation string, start time.Time, err error) {
	metrics.RecordBackendOperation(operation, time.Since(start).Seconds())
	if err != nil {
		metrics.RecordBackendError(operation)
	}
}

func (i *instrumented) Enqueue(ctx context.Context, t *task.Task) error {
	start := time.Now()
	err := i.inner.Enqueue(ctx, t)
	observe("enqueue", start, err)
	return err
}

func (i *instrumented) Dequeue(ctx context.Context) (*task.Task, error) {
	start := time.Now()
	t, err := i.inner.Dequeue(ctx)
	observe("dequeue", start, err)
	return t, err
}

func (i *instrumented) LoadTasks(ctx context.Context, status *task.Status) ([]*task.Task, error) {
	start := time.Now()
	tasks, err := i.inner.LoadTasks(ctx, status)
	observe("load_tasks", start, err)
	return tasks, err
}

func (i *instrumented) GetTask(ctx context.Context, id string) (*task.Task, error) {
	start := time.Now()
	t, err := i.inner.GetTask(ctx, id)
	// A missing task is an expected outcome, not a backend fault — don't
	// count task.ErrTaskNotFound against the error rate.
	if err != nil && err != task.ErrTaskNotFound {
		observe("get_task", start, err)
	} else {
		observe("get_task", start, nil)
	}
	return t, err
}

func (i *instrumented) UpdateTask(ctx context.Context, t *task.Task) error {
	start := time.Now()
	err := i.inner.UpdateTask(ctx, t)
	observe("update_task", start, err)
	return err
}

func (i *instrumented) DeleteTask(ctx context.Context, id string, hard bool) (*task.Task, error) {
	start := time.Now()
	t, err := i.inner.DeleteTask(ctx, id, hard)
	observe("delete_task", start, err)
	return t, err
}

func (i *instrumented) Close() error {
	return i.inner.Close()
}

var _ Adapter = (*instrumented)(nil)
