package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedisBridge_ChannelName(t *testing.T) {
	b := NewRedisBridge(nil)
	assert.Equal(t, "taskqueue:events:taskAdded", b.channelName(TaskAdded))
	assert.Equal(t, "taskqueue:events:taskFailed", b.channelName(TaskFailed))
}

func TestNewRedisBridge(t *testing.T) {
	b := NewRedisBridge(nil)
	assert.NotNil(t, b)
}
