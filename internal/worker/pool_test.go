package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/taskqueue/internal/engine"
	"github.com/relaykit/taskqueue/internal/registry"
	"github.com/relaykit/taskqueue/internal/storage"
	"github.com/relaykit/taskqueue/internal/task"
)

var errHandlerAlwaysFails = errors.New("handler always fails")

func newTestPoolEngine(t *testing.T, reg *registry.Registry) *engine.Engine {
	e, err := engine.New(storage.NewMemory(), reg, engine.Options{
		Delay:             10 * time.Millisecond,
		MaxProcessingTime: time.Minute,
	})
	require.NoError(t, err)
	return e
}

func TestPool_ProcessesEnqueuedTaskToCompletion(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]interface{}{}

	reg := registry.New()
	reg.Register("echo", func(payload map[string]interface{}) (map[string]interface{}, error) {
		mu.Lock()
		defer mu.Unlock()
		seen["handled"] = true
		return payload, nil
	}, registry.Options{})

	e := newTestPoolEngine(t, reg)
	ctx := context.Background()

	tsk, err := e.Enqueue(ctx, "echo", map[string]interface{}{"x": 1}, task.Overrides{})
	require.NoError(t, err)

	p := NewPool("", e, reg, nil)
	require.NoError(t, p.Start(ctx, 1))

	require.Eventually(t, func() bool {
		got, err := e.GetTaskByID(ctx, tsk.ID)
		return err == nil && got.Status == task.StatusDone
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, seen["handled"].(bool))
}

func TestPool_RetriesFailingHandlerUntilBudgetExhausted(t *testing.T) {
	reg := registry.New()
	reg.Register("always_fails", func(payload map[string]interface{}) (map[string]interface{}, error) {
		return nil, errHandlerAlwaysFails
	}, registry.Options{})

	e := newTestPoolEngine(t, reg)
	ctx := context.Background()

	maxRetries := 1
	tsk, err := e.Enqueue(ctx, "always_fails", nil, task.Overrides{MaxRetries: &maxRetries})
	require.NoError(t, err)

	p := NewPool("", e, reg, nil)
	require.NoError(t, p.Start(ctx, 1))

	require.Eventually(t, func() bool {
		got, err := e.GetTaskByID(ctx, tsk.ID)
		return err == nil && got.Status == task.StatusFailed
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop(context.Background()))

	final, err := e.GetTaskByID(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, final.RetryCount)
}

func TestPool_StopWaitsForPollersAndReturnsToIdle(t *testing.T) {
	reg := registry.New()
	e := newTestPoolEngine(t, reg)
	p := NewPool("pool-1", e, reg, nil)

	require.NoError(t, p.Start(context.Background(), 2))
	assert.Equal(t, StateBusy, p.State())

	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, StateIdle, p.State())
}
