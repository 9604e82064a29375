package worker

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/relaykit/taskqueue/internal/logger"
	"github.com/relaykit/taskqueue/internal/registry"
)

// ErrHandlerNotFound reports a dequeued task naming a handler the local
// registry no longer (or never did) carry.
var ErrHandlerNotFound = errors.New("worker: handler not found for task")

// ErrExecutionTimeout is returned when a handler invocation is abandoned
// after racing past its effective deadline (§5 "Cancellation / timeouts":
// the handler is not forcibly terminated, the attempt is just abandoned).
var ErrExecutionTimeout = errors.New("worker: handler execution timed out")

// executionGrace is added to a task's maxProcessingTime before the executor
// gives up waiting on the handler (§4.4 step 3, "recommended grace: 1s").
const executionGrace = 1 * time.Second

// Executor invokes a registry.HandlerFunc under a deadline, isolating the
// caller from both panics and handlers that simply never return.
type Executor struct {
	registry *registry.Registry
}

func NewExecutor(reg *registry.Registry) *Executor {
	return &Executor{registry: reg}
}

type handlerOutcome struct {
	result map[string]interface{}
	err    error
}

// Execute looks up the handler for taskID's handler name and runs it against
// payload, abandoning it if it runs longer than maxProcessingTime+grace.
// Because HandlerFunc carries no context parameter, an abandoned handler
// goroutine is left running to completion in the background; its eventual
// result is discarded silently (§5: handlers must be idempotent to tolerate
// this along with at-least-once redelivery).
func (e *Executor) Execute(taskID, handlerName string, payload map[string]interface{}, maxProcessingTime time.Duration) (result map[string]interface{}, err error) {
	entry, ok := e.registry.Get(handlerName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrHandlerNotFound, handlerName)
	}

	log := logger.WithTask(taskID)
	log.Debug().Str("handler", handlerName).Msg("executing task")

	done := make(chan handlerOutcome, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				log.Error().
					Str("handler", handlerName).
					Interface("panic", r).
					Str("stack", string(stack)).
					Msg("task handler panicked")
				done <- handlerOutcome{err: fmt.Errorf("handler panicked: %v", r)}
				return
			}
		}()
		res, hErr := entry.Fn(payload)
		done <- handlerOutcome{result: res, err: hErr}
	}()

	select {
	case outcome := <-done:
		duration := time.Since(start)
		if outcome.err != nil {
			log.Error().Err(outcome.err).Dur("duration", duration).Msg("task handler failed")
			return nil, outcome.err
		}
		log.Debug().Dur("duration", duration).Msg("task handler succeeded")
		return outcome.result, nil

	case <-time.After(maxProcessingTime + executionGrace):
		log.Warn().Str("handler", handlerName).Dur("budget", maxProcessingTime).Msg("task handler timed out")
		return nil, ErrExecutionTimeout
	}
}
