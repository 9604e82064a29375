// Package storage implements the Storage Adapter contract (§4.3): the only
// boundary the Queue Engine is allowed to cross to persist and retrieve
// tasks. Every adapter below satisfies Adapter with the same semantics;
// which atomicity primitive backs Dequeue differs per adapter, but the
// contract it presents does not.
package storage

import (
	"context"
	"errors"

	"github.com/relaykit/taskqueue/internal/task"
)

// ErrInvalidBackend is a configuration error: an unknown backend name was
// requested (§7 Error Handling Design, "Configuration" category).
var ErrInvalidBackend = errors.New("storage: unknown backend")

// Adapter is the fixed contract every storage backend implements (§4.3).
// Implementations: Memory, File, Redis, SQL, and any user-supplied Custom
// adapter.
type Adapter interface {
	// Enqueue durably adds a task. No ordering guarantee beyond what
	// priority + createdAt encode.
	Enqueue(ctx context.Context, t *task.Task) error

	// Dequeue atomically selects the highest-priority pending task
	// (priority desc, createdAt asc, id asc tiebreaker), transitions it to
	// processing, and returns it. Returns (nil, nil) when no task is
	// runnable — callers must never block waiting for one.
	Dequeue(ctx context.Context) (*task.Task, error)

	// LoadTasks returns a snapshot of tasks. status narrows to a single
	// status; nil returns every task regardless of status.
	LoadTasks(ctx context.Context, status *task.Status) ([]*task.Task, error)

	// GetTask returns a single task by id, or task.ErrTaskNotFound.
	GetTask(ctx context.Context, id string) (*task.Task, error)

	// UpdateTask persists t in place of whatever is currently stored under
	// t.ID. Last-writer-wins; compare-and-set is not required (§4.3).
	UpdateTask(ctx context.Context, t *task.Task) error

	// DeleteTask removes a task. hard=false flips status to deleted and
	// retains the row for audit; hard=true removes it entirely.
	DeleteTask(ctx context.Context, id string, hard bool) (*task.Task, error)

	// Close releases any resources (connections, file handles) the adapter
	// holds.
	Close() error
}

// priorityOrder reports whether a should be dequeued before b under the
// engine's total ordering: priority desc, createdAt asc, id asc (§3
// Invariants, §8 boundary "priority ties resolved by older createdAt
// first").
func priorityOrder(a, b *task.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// queueScore implements the Redis adapter's documented scoring function
// (§6 Persistent formats): priority*10^6 − createdAtMillis. Priority
// dominates the score only for tasks created less than 10^6 ms apart per
// step of priority difference.
func queueScore(t *task.Task) float64 {
	return float64(t.Priority)*1_000_000 - float64(t.CreatedAt.UnixMilli())
}
