package events

import (
	"encoding/json"
	"time"

	"github.com/relaykit/taskqueue/internal/task"
)

// Type names the seven lifecycle events the engine emits (§4.5, §6).
type Type string

const (
	TaskAdded     Type = "taskAdded"
	TaskStarted   Type = "taskStarted"
	TaskCompleted Type = "taskCompleted"
	TaskFailed    Type = "taskFailed"
	TaskRetried   Type = "taskRetried"
	TaskStuck     Type = "taskStuck"
	TaskRemoved   Type = "taskRemoved"
)

// Event is the payload handed to every listener. Err is populated only for
// TaskFailed. Task is a snapshot (task.Clone()) so listeners can never
// mutate engine-owned state.
type Event struct {
	Type      Type       `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
	Task      *task.Task `json:"task,omitempty"`
	Err       string     `json:"error,omitempty"`
}

func newEvent(t Type, tsk *task.Task) Event {
	ev := Event{Type: t, Timestamp: time.Now().UTC()}
	if tsk != nil {
		ev.Task = tsk.Clone()
	}
	return ev
}

// ToJSON serializes the event for the websocket feed and the Redis bridge.
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON is the inverse of ToJSON, used by subscribers of the Redis bridge.
func FromJSON(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
