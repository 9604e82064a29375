package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/relaykit/taskqueue/internal/logger"
	"github.com/relaykit/taskqueue/internal/task"
)

// File persists the entire task list to one JSON file, write-temp-then-
// rename for atomic replacement (§4.3 "File (JSON)"). An in-process mutex
// serializes concurrent pollers; cross-process safety is NOT provided, and
// no warning is logged when several adapters or processes share one path.
type File struct {
	mu    sync.Mutex
	path  string
	tasks map[string]*task.Task
}

// NewFile opens (or creates) path as the backing store. path must end in
// ".json"; any other extension is a configuration error.
func NewFile(path string) (*File, error) {
	if strings.ToLower(filepath.Ext(path)) != ".json" {
		return nil, fmt.Errorf("storage: file backend requires a .json path, got %q", path)
	}

	f := &File{path: path, tasks: make(map[string]*task.Task)}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) load() error {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage: reading %s: %w", f.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var list []*task.Task
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("storage: %s is not a valid task list: %w", f.path, err)
	}
	for _, t := range list {
		f.tasks[t.ID] = t
	}
	return nil
}

// persist must be called with f.mu held.
func (f *File) persist() error {
	list := make([]*task.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return priorityOrder(list[i], list[j]) })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshaling task list: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("storage: writing temp file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("storage: renaming temp file into place: %w", err)
	}
	return nil
}

func (f *File) Enqueue(ctx context.Context, t *task.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tasks[t.ID] = t.Clone()
	if err := f.persist(); err != nil {
		return err
	}
	logger.Debug().Str("task_id", t.ID).Str("handler", t.Handler).Msg("task enqueued")
	return nil
}

func (f *File) Dequeue(ctx context.Context) (*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var best *task.Task
	for _, t := range f.tasks {
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
	if err := f.persist(); err != nil {
		return nil, err
	}
	return best.Clone(), nil
}

func (f *File) LoadTasks(ctx context.Context, status *task.Status) ([]*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*task.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		if status != nil && t.Status != *status {
			continue
		}
		out = append(out, t.Clone())
	}
	return out, nil
}

func (f *File) GetTask(ctx context.Context, id string) (*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.tasks[id]
	if !ok {
		return nil, task.ErrTaskNotFound
	}
	return t.Clone(), nil
}

func (f *File) UpdateTask(ctx context.Context, t *task.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.tasks[t.ID]; !ok {
		return task.ErrTaskNotFound
	}
	f.tasks[t.ID] = t.Clone()
	return f.persist()
}

func (f *File) DeleteTask(ctx context.Context, id string, hard bool) (*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, ok := f.tasks[id]
	if !ok {
		return nil, task.ErrTaskNotFound
	}

	if hard {
		delete(f.tasks, id)
		if err := f.persist(); err != nil {
			return nil, err
		}
		return existing.Clone(), nil
	}

	sm := task.NewStateMachine(existing)
	if err := sm.SoftDelete(); err != nil {
		return nil, err
	}
	if err := f.persist(); err != nil {
		return nil, err
	}
	return existing.Clone(), nil
}

func (f *File) Close() error {
	return nil
}

var _ Adapter = (*File)(nil)
