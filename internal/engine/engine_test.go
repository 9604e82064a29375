package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/taskqueue/internal/events"
	"github.com/relaykit/taskqueue/internal/registry"
	"github.com/relaykit/taskqueue/internal/storage"
	"github.com/relaykit/taskqueue/internal/task"
)

func newTestEngine(t *testing.T) *Engine {
	reg := registry.New()
	reg.Register("noop", func(p map[string]interface{}) (map[string]interface{}, error) {
		return p, nil
	}, registry.Options{})

	e, err := New(storage.NewMemory(), reg, Options{MaxProcessingTime: time.Minute})
	require.NoError(t, err)
	return e
}

func TestNew_RejectsMaxRetriesOverCap(t *testing.T) {
	_, err := New(storage.NewMemory(), registry.New(), Options{MaxRetries: task.HardMaxRetries + 1})
	assert.ErrorIs(t, err, ErrMaxRetriesOverCap)
}

func TestEngine_Enqueue_EmitsAdded(t *testing.T) {
	e := newTestEngine(t)

	var added int
	e.Emitter().On(events.TaskAdded, func(ev events.Event) { added++ })

	tsk, err := e.Enqueue(context.Background(), "noop", map[string]interface{}{"a": 1}, task.Overrides{})
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, tsk.Status)
	assert.Equal(t, 0, tsk.RetryCount)
	assert.Equal(t, 1, added)
}

func TestEngine_Enqueue_RejectsOverrideOverCap(t *testing.T) {
	e := newTestEngine(t)
	over := task.HardMaxRetries + 1
	_, err := e.Enqueue(context.Background(), "noop", nil, task.Overrides{MaxRetries: &over})
	assert.ErrorIs(t, err, ErrMaxRetriesOverCap)
}

func TestEngine_Enqueue_StrictValidationRejectsUnknownHandler(t *testing.T) {
	reg := registry.New()
	e, err := New(storage.NewMemory(), reg, Options{StrictHandlerValidation: true})
	require.NoError(t, err)

	_, err = e.Enqueue(context.Background(), "missing", nil, task.Overrides{})
	assert.ErrorIs(t, err, ErrHandlerNotRegistered)
}

func TestEngine_Enqueue_ValidatorRejectsInvalidPayload(t *testing.T) {
	reg := registry.New()
	reg.Register("send_email", func(p map[string]interface{}) (map[string]interface{}, error) {
		return nil, nil
	}, registry.Options{ExpectedKeys: []string{"to"}})

	e, err := New(storage.NewMemory(), reg, Options{})
	require.NoError(t, err)

	_, err = e.Enqueue(context.Background(), "send_email", map[string]interface{}{}, task.Overrides{})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestEngine_Enqueue_SkipOnPayloadErrorStillEnqueues(t *testing.T) {
	reg := registry.New()
	reg.Register("send_email", func(p map[string]interface{}) (map[string]interface{}, error) {
		return nil, nil
	}, registry.Options{ExpectedKeys: []string{"to"}})

	e, err := New(storage.NewMemory(), reg, Options{SkipOnPayloadError: true})
	require.NoError(t, err)

	tsk, err := e.Enqueue(context.Background(), "send_email", map[string]interface{}{}, task.Overrides{})
	require.NoError(t, err)
	assert.NotNil(t, tsk)
}

func TestEngine_DequeueEmptyTriggersReclaimWithoutError(t *testing.T) {
	e := newTestEngine(t)
	got, err := e.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEngine_DequeueOrdersByPriority(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	low := 0
	high := 5
	_, err := e.Enqueue(ctx, "noop", nil, task.Overrides{Priority: &low})
	require.NoError(t, err)
	tsk, err := e.Enqueue(ctx, "noop", nil, task.Overrides{Priority: &high})
	require.NoError(t, err)

	got, err := e.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tsk.ID, got.ID)
}

func TestEngine_DeleteTask_SoftIsIdempotentAboutEvents(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	tsk, err := e.Enqueue(ctx, "noop", nil, task.Overrides{})
	require.NoError(t, err)

	removedCount := 0
	e.Emitter().On(events.TaskRemoved, func(ev events.Event) { removedCount++ })

	_, err = e.DeleteTask(ctx, tsk.ID, false)
	require.NoError(t, err)
	_, err = e.DeleteTask(ctx, tsk.ID, false)
	require.NoError(t, err)

	assert.Equal(t, 1, removedCount)
}

func TestEngine_GetAllTasks_FiltersByStatus(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Enqueue(ctx, "noop", nil, task.Overrides{})
	require.NoError(t, err)

	pending := task.StatusPending
	all, err := e.GetAllTasks(ctx, &pending)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestEngine_ResolveHandlerPolicy_CascadesHandlerDefault(t *testing.T) {
	reg := registry.New()
	maxRetries := 7
	reg.Register("noop", func(p map[string]interface{}) (map[string]interface{}, error) {
		return p, nil
	}, registry.Options{MaxRetries: &maxRetries})

	e, err := New(storage.NewMemory(), reg, Options{})
	require.NoError(t, err)

	policy := e.ResolveHandlerPolicy("noop")
	assert.Equal(t, 7, policy.MaxRetries)
}
