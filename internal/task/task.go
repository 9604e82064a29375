package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// HardMaxRetries is the system-wide cap no handler or task override may
// exceed (§3 Data Model, §6 engine configuration).
const HardMaxRetries = 10

// Task is the unit of work tracked by the engine. ID, CreatedAt and
// UpdatedAt are assigned at enqueue time; Handler, Payload, CreatedAt,
// MaxRetries, MaxProcessingTime and Priority are never mutated afterward.
type Task struct {
	ID                string                 `json:"id"`
	Handler           string                 `json:"handler"`
	Payload           map[string]interface{} `json:"payload"`
	Status            Status                 `json:"status"`
	Priority          int                    `json:"priority"`
	RetryCount        int                    `json:"retry_count"`
	MaxRetries        int                    `json:"max_retries"`
	MaxProcessingTime time.Duration          `json:"max_processing_time"`
	Log               string                 `json:"log,omitempty"`
	Result            map[string]interface{} `json:"result,omitempty"`
	WorkerID          string                 `json:"worker_id,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// New creates a task with its effective policy already resolved and baked
// in (§9 Design Notes: resolution happens once, not re-read mid-attempt).
func New(handler string, payload map[string]interface{}, priority, maxRetries int, maxProcessingTime time.Duration) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:                uuid.New().String(),
		Handler:           handler,
		Payload:           payload,
		Status:            StatusPending,
		Priority:          priority,
		RetryCount:        0,
		MaxRetries:        maxRetries,
		MaxProcessingTime: maxProcessingTime,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// CanRetry reports whether another attempt is permitted under the task's own
// effective policy.
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// Stuck reports whether a task currently Processing has exceeded its
// effective processing budget. Strict greater-than: a duration exactly equal
// to MaxProcessingTime is not stuck (§8 boundary behavior).
func (t *Task) Stuck(now time.Time) bool {
	return t.Status == StatusProcessing && now.Sub(t.UpdatedAt) > t.MaxProcessingTime
}

// ToJSON serializes the task, used by the Redis adapter for each task key.
func (t *Task) ToJSON() ([]byte, error) {
	return json.Marshal(t)
}

// FromJSON deserializes a task previously produced by ToJSON.
func FromJSON(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ToMap wraps the task's JSON encoding in a flat map under the "data" key.
// No storage adapter uses this shape; the Redis adapter stores ToJSON output.
func (t *Task) ToMap() map[string]interface{} {
	data, _ := t.ToJSON()
	return map[string]interface{}{
		"data": string(data),
	}
}

// FromMap is the inverse of ToMap.
func FromMap(m map[string]interface{}) (*Task, error) {
	data, ok := m["data"].(string)
	if !ok {
		return nil, ErrInvalidTaskData
	}
	return FromJSON([]byte(data))
}

// Clone returns a copy safe to hand to callers without letting them mutate
// engine-owned state through shared maps.
func (t *Task) Clone() *Task {
	clone := *t
	if t.Payload != nil {
		clone.Payload = make(map[string]interface{}, len(t.Payload))
		for k, v := range t.Payload {
			clone.Payload[k] = v
		}
	}
	if t.Result != nil {
		clone.Result = make(map[string]interface{}, len(t.Result))
		for k, v := range t.Result {
			clone.Result[k] = v
		}
	}
	return &clone
}
