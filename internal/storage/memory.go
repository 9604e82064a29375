package storage

import (
	"context"
	"sync"

	"github.com/relaykit/taskqueue/internal/task"
)

// Memory is a single process-local adapter. A mutex serializes concurrent
// pollers within the process; there is no durability — on restart all
// state is lost (§4.3 "In-memory").
type Memory struct {
	mu    sync.Mutex
	tasks map[string]*task.Task
}

func NewMemory() *Memory {
	return &Memory{tasks: make(map[string]*task.Task)}
}

func (m *Memory) Enqueue(ctx context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *Memory) Dequeue(ctx context.Context) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *task.Task
	for _, t := range m.tasks {
		if t.Status != task.StatusPending {
			continue
		}
		if best == nil || priorityOrder(t, best) {
			best = t
		}
	}
	if best == nil {
		return nil, nil
	}

	sm := task.NewStateMachine(best)
	if err := sm.Start(""); err != nil {
		return nil, err
	}
	return best.Clone(), nil
}

func (m *Memory) LoadTasks(ctx context.Context, status *task.Status) ([]*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if status != nil && t.Status != *status {
			continue
		}
		out = append(out, t.Clone())
	}
	return out, nil
}

func (m *Memory) GetTask(ctx context.Context, id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, task.ErrTaskNotFound
	}
	return t.Clone(), nil
}

func (m *Memory) UpdateTask(ctx context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[t.ID]; !ok {
		return task.ErrTaskNotFound
	}
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *Memory) DeleteTask(ctx context.Context, id string, hard bool) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.tasks[id]
	if !ok {
		return nil, task.ErrTaskNotFound
	}

	if hard {
		delete(m.tasks, id)
		return existing.Clone(), nil
	}

	sm := task.NewStateMachine(existing)
	if err := sm.SoftDelete(); err != nil {
		return nil, err
	}
	return existing.Clone(), nil
}

func (m *Memory) Close() error {
	return nil
}

var _ Adapter = (*Memory)(nil)
