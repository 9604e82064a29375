package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status   Status
		expected string
	}{
		{StatusPending, "pending"},
		{StatusProcessing, "processing"},
		{StatusDone, "done"},
		{StatusFailed, "failed"},
		{StatusDeleted, "deleted"},
		{Status(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		input    string
		expected Status
	}{
		{"pending", StatusPending},
		{"processing", StatusProcessing},
		{"done", StatusDone},
		{"completed", StatusDone},
		{"failed", StatusFailed},
		{"deleted", StatusDeleted},
		{"invalid", StatusPending},
		{"", StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseStatus(tt.input))
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	terminal := []Status{StatusDone, StatusFailed}
	nonTerminal := []Status{StatusPending, StatusProcessing, StatusDeleted}

	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "expected %s to be terminal", s)
	}
	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), "expected %s to not be terminal", s)
	}
}

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusDeleted, true},
		{StatusPending, StatusDone, false},
		{StatusPending, StatusFailed, false},

		{StatusProcessing, StatusDone, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, true},
		{StatusProcessing, StatusDeleted, false},

		{StatusDone, StatusDeleted, true},
		{StatusDone, StatusPending, false},

		{StatusFailed, StatusDeleted, true},
		{StatusFailed, StatusPending, false},

		{StatusDeleted, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStateMachine_Start(t *testing.T) {
	tsk := New("send_email", nil, 0, 3, 0)
	sm := NewStateMachine(tsk)

	err := sm.Start("worker-1")
	require.NoError(t, err)

	assert.Equal(t, StatusProcessing, tsk.Status)
	assert.Equal(t, "worker-1", tsk.WorkerID)
}

func TestStateMachine_Start_Invalid(t *testing.T) {
	tsk := New("send_email", nil, 0, 3, 0)
	tsk.Status = StatusDone
	sm := NewStateMachine(tsk)

	err := sm.Start("worker-1")
	assert.Equal(t, ErrInvalidTransition, err)
}

func TestStateMachine_Complete(t *testing.T) {
	tsk := New("send_email", nil, 0, 3, 0)
	sm := NewStateMachine(tsk)
	require.NoError(t, sm.Start("worker-1"))

	result := map[string]interface{}{"output": "ok"}
	err := sm.Complete(result)
	require.NoError(t, err)

	assert.Equal(t, StatusDone, tsk.Status)
	assert.Equal(t, result, tsk.Result)
}

func TestStateMachine_Fail(t *testing.T) {
	tsk := New("send_email", nil, 0, 3, 0)
	sm := NewStateMachine(tsk)
	require.NoError(t, sm.Start("worker-1"))

	err := sm.Fail("smtp: connection refused")
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, tsk.Status)
	assert.Equal(t, "smtp: connection refused", tsk.Log)
}

func TestStateMachine_Retry_WithRetriesLeft(t *testing.T) {
	tsk := New("send_email", nil, 0, 3, 0)
	sm := NewStateMachine(tsk)
	require.NoError(t, sm.Start("worker-1"))

	err := sm.Retry("timeout")
	require.NoError(t, err)

	assert.Equal(t, StatusPending, tsk.Status)
	assert.Equal(t, 1, tsk.RetryCount)
	assert.Empty(t, tsk.WorkerID)
}

func TestStateMachine_Retry_Exhausted(t *testing.T) {
	tsk := New("send_email", nil, 0, 0, 0)
	sm := NewStateMachine(tsk)
	require.NoError(t, sm.Start("worker-1"))

	err := sm.Retry("timeout")
	assert.Equal(t, ErrRetriesExhausted, err)
	assert.Equal(t, StatusProcessing, tsk.Status)
}

func TestStateMachine_SoftDelete(t *testing.T) {
	tsk := New("send_email", nil, 0, 3, 0)
	sm := NewStateMachine(tsk)

	err := sm.SoftDelete()
	require.NoError(t, err)
	assert.Equal(t, StatusDeleted, tsk.Status)
}
