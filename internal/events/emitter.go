package events

import (
	"sync"

	"github.com/relaykit/taskqueue/internal/logger"
	"github.com/relaykit/taskqueue/internal/task"
)

// Listener receives a synchronously-emitted event. A listener that panics or
// that re-subscribes during its own invocation must never corrupt the
// emitter or block delivery to other listeners (§9 Design Notes).
type Listener func(Event)

// Emitter is the engine's event channel: a process-local, synchronous,
// in-registration-order fan-out with no persistence (§4.5). It holds a
// copy-on-write listener slice per event type so that a listener adding or
// removing subscriptions mid-emission never mutates the slice being ranged
// over.
type Emitter struct {
	mu        sync.RWMutex
	listeners map[Type][]Listener
}

func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[Type][]Listener)}
}

// On registers a listener for an event type. Order of registration is the
// order of invocation.
func (e *Emitter) On(t Type, l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make([]Listener, len(e.listeners[t])+1)
	copy(next, e.listeners[t])
	next[len(next)-1] = l
	e.listeners[t] = next
}

// emit invokes every listener registered for t, in order. A listener panic is
// recovered and logged so one bad subscriber cannot abort emission to the
// rest or crash the caller (the engine).
func (e *Emitter) emit(ev Event) {
	e.mu.RLock()
	ls := e.listeners[ev.Type]
	e.mu.RUnlock()

	for _, l := range ls {
		e.invoke(l, ev)
	}
}

func (e *Emitter) invoke(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Str("event_type", string(ev.Type)).
				Msg("event listener panicked")
		}
	}()
	l(ev)
}

func (e *Emitter) EmitTaskAdded(tsk *task.Task) {
	e.emit(newEvent(TaskAdded, tsk))
}

func (e *Emitter) EmitTaskStarted(tsk *task.Task) {
	e.emit(newEvent(TaskStarted, tsk))
}

func (e *Emitter) EmitTaskCompleted(tsk *task.Task) {
	e.emit(newEvent(TaskCompleted, tsk))
}

func (e *Emitter) EmitTaskFailed(tsk *task.Task, err error) {
	ev := newEvent(TaskFailed, tsk)
	if err != nil {
		ev.Err = err.Error()
	}
	e.emit(ev)
}

func (e *Emitter) EmitTaskRetried(tsk *task.Task) {
	e.emit(newEvent(TaskRetried, tsk))
}

func (e *Emitter) EmitTaskStuck(tsk *task.Task) {
	e.emit(newEvent(TaskStuck, tsk))
}

func (e *Emitter) EmitTaskRemoved(tsk *task.Task) {
	e.emit(newEvent(TaskRemoved, tsk))
}
