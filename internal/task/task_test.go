package task

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	payload := map[string]interface{}{"to": "user@example.com"}
	tsk := New("send_email", payload, 5, 3, 5*time.Minute)

	assert.NotEmpty(t, tsk.ID)
	assert.Equal(t, "send_email", tsk.Handler)
	assert.Equal(t, payload, tsk.Payload)
	assert.Equal(t, 5, tsk.Priority)
	assert.Equal(t, StatusPending, tsk.Status)
	assert.Equal(t, 0, tsk.RetryCount)
	assert.Equal(t, 3, tsk.MaxRetries)
	assert.Equal(t, 5*time.Minute, tsk.MaxProcessingTime)
	assert.False(t, tsk.CreatedAt.IsZero())
	assert.False(t, tsk.UpdatedAt.IsZero())
}

func TestTask_ToJSON_FromJSON(t *testing.T) {
	original := New("send_email", map[string]interface{}{"to": "a@b.com"}, 0, 3, time.Minute)

	data, err := original.ToJSON()
	require.NoError(t, err)

	restored, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, original.Handler, restored.Handler)
	assert.Equal(t, original.Priority, restored.Priority)
	assert.Equal(t, original.Status, restored.Status)
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON([]byte("not json"))
	assert.Error(t, err)
}

func TestTask_ToMap_FromMap(t *testing.T) {
	original := New("send_email", map[string]interface{}{"to": "a@b.com"}, 0, 3, time.Minute)

	m := original.ToMap()
	assert.Contains(t, m, "data")

	restored, err := FromMap(m)
	require.NoError(t, err)
	assert.Equal(t, original.ID, restored.ID)
}

func TestFromMap_Invalid(t *testing.T) {
	_, err := FromMap(map[string]interface{}{})
	assert.Equal(t, ErrInvalidTaskData, err)

	_, err = FromMap(map[string]interface{}{"data": 123})
	assert.Equal(t, ErrInvalidTaskData, err)
}

func TestTask_CanRetry(t *testing.T) {
	tsk := New("send_email", nil, 0, 3, time.Minute)

	tsk.RetryCount = 0
	assert.True(t, tsk.CanRetry())

	tsk.RetryCount = 2
	assert.True(t, tsk.CanRetry())

	tsk.RetryCount = 3
	assert.False(t, tsk.CanRetry())

	tsk.RetryCount = 5
	assert.False(t, tsk.CanRetry())
}

func TestTask_Stuck(t *testing.T) {
	tsk := New("send_email", nil, 0, 3, 100*time.Millisecond)
	now := time.Now().UTC()

	tsk.Status = StatusProcessing
	tsk.UpdatedAt = now.Add(-200 * time.Millisecond)
	assert.True(t, tsk.Stuck(now))

	tsk.UpdatedAt = now.Add(-100 * time.Millisecond)
	assert.False(t, tsk.Stuck(now), "duration exactly equal to budget is not stuck")

	tsk.UpdatedAt = now.Add(-10 * time.Millisecond)
	assert.False(t, tsk.Stuck(now))

	tsk.Status = StatusPending
	tsk.UpdatedAt = now.Add(-time.Hour)
	assert.False(t, tsk.Stuck(now), "only processing tasks can be stuck")
}

func TestTask_Clone(t *testing.T) {
	original := New("send_email", map[string]interface{}{"to": "a@b.com"}, 0, 3, time.Minute)
	original.Result = map[string]interface{}{"sent": true}

	clone := original.Clone()
	clone.Payload["to"] = "mutated@b.com"
	clone.Result["sent"] = false

	assert.Equal(t, "a@b.com", original.Payload["to"])
	assert.Equal(t, true, original.Result["sent"])
}

func TestTask_JSONMarshal_Unmarshal(t *testing.T) {
	now := time.Now().UTC()
	tsk := &Task{
		ID:                "test-id",
		Handler:           "send_email",
		Payload:           map[string]interface{}{"to": "test@example.com"},
		Priority:          2,
		Status:            StatusPending,
		RetryCount:        0,
		MaxRetries:        3,
		MaxProcessingTime: 5 * time.Minute,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	data, err := json.Marshal(tsk)
	require.NoError(t, err)

	var restored Task
	require.NoError(t, json.Unmarshal(data, &restored))

	assert.Equal(t, tsk.ID, restored.ID)
	assert.Equal(t, tsk.Handler, restored.Handler)
	assert.Equal(t, tsk.Priority, restored.Priority)
}
