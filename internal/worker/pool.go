// Package worker implements the Worker Pool (§4.4): a fixed number of
// cooperative pollers that call the engine's Dequeue, invoke the matching
// handler under a timeout, and drive each task to its terminal status
// update. The pool depends on the engine only through the narrow Engine
// interface below (§9 "Worker → Engine → Storage", one-way dependencies).
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"

	"github.com/relaykit/taskqueue/internal/engine"
	"github.com/relaykit/taskqueue/internal/events"
	"github.com/relaykit/taskqueue/internal/logger"
	"github.com/relaykit/taskqueue/internal/metrics"
	"github.com/relaykit/taskqueue/internal/registry"
	"github.com/relaykit/taskqueue/internal/task"
)

// Engine is the subset of *engine.Engine the pool depends on (dequeue,
// persist, emit, read options). The dependency is one-way: engine never
// imports worker.
type Engine interface {
	Dequeue(ctx context.Context) (*task.Task, error)
	UpdateTask(ctx context.Context, t *task.Task) error
	Emitter() *events.Emitter
	Options() engine.Options
}

// State is the pool's coarse operational state, surfaced to the admin API.
type State int

const (
	StateIdle State = iota
	StateBusy
	StatePaused
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StatePaused:
		return "paused"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Pool runs N cooperative pollers against one Engine.
type Pool struct {
	id       string
	engine   Engine
	executor *Executor
	heartbeat *Heartbeat

	concurrency int
	active      atomic.Bool
	state       atomic.Int32
	activeTasks atomic.Int32

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewPool builds a pool that dequeues from engine and dispatches to handlers
// registered in reg. heartbeatClient is optional: pass nil to skip the
// Redis-backed liveness/pause surface entirely (memory/file/SQL backends
// have no natural place to publish it).
func NewPool(id string, eng Engine, reg *registry.Registry, heartbeatClient *redis.Client) *Pool {
	if id == "" {
		id = fmt.Sprintf("worker-%s", randomSuffix())
	}

	p := &Pool{
		id:       id,
		engine:   eng,
		executor: NewExecutor(reg),
		stopCh:   make(chan struct{}),
	}
	if heartbeatClient != nil {
		p.heartbeat = NewHeartbeat(heartbeatClient, id, 5*time.Second, 15*time.Second)
	}
	p.state.Store(int32(StateIdle))
	return p
}

// Start launches concurrency pollers. Each observes p.active and p.stopCh to
// cooperate with Stop (§4.4 "stopWorker() sets an atomic active=false flag").
func (p *Pool) Start(ctx context.Context, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}
	p.concurrency = concurrency
	p.active.Store(true)
	p.state.Store(int32(StateBusy))
	p.stopCh = make(chan struct{})

	if p.heartbeat != nil {
		p.heartbeat.Start(ctx)
		p.heartbeat.UpdateConcurrency(concurrency)
	}
	metrics.SetActiveWorkers(float64(concurrency))

	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go p.pollLoop(ctx, i)
	}

	logger.Info().Str("worker_id", p.id).Int("concurrency", concurrency).Msg("worker pool started")
	return nil
}

// Stop flips the active flag and waits for every poller to exit. A poller
// mid-handler-invocation is allowed to finish; no cancellation is sent
// (§4.4 "stopWorker()").
func (p *Pool) Stop(ctx context.Context) error {
	p.state.Store(int32(StateShuttingDown))
	p.active.Store(false)
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var result *multierror.Error
	select {
	case <-done:
		logger.Info().Str("worker_id", p.id).Msg("worker pool stopped")
	case <-ctx.Done():
		logger.Warn().Str("worker_id", p.id).Msg("worker pool shutdown context canceled before pollers exited")
		result = multierror.Append(result, fmt.Errorf("worker pool: shutdown context expired before pollers exited: %w", ctx.Err()))
	}

	if p.heartbeat != nil {
		if err := p.heartbeat.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("worker pool: heartbeat shutdown: %w", err))
		}
	}
	metrics.SetActiveWorkers(0)
	p.state.Store(int32(StateIdle))
	return result.ErrorOrNil()
}

func (p *Pool) State() State { return State(p.state.Load()) }
func (p *Pool) ID() string   { return p.id }

func randomSuffix() string {
	return uuid.New().String()[:8]
}

func (p *Pool) pollLoop(ctx context.Context, pollerNum int) {
	defer p.wg.Done()
	log := logger.WithWorker(p.id)
	log.Debug().Int("poller", pollerNum).Msg("poller started")

	delay := p.engine.Options().Delay
	if delay <= 0 {
		delay = 10 * time.Second
	}

	for p.active.Load() {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if p.heartbeat != nil {
			if paused, err := p.heartbeat.IsPaused(ctx); err == nil && paused {
				p.sleep(delay)
				continue
			}
		}

		t, err := p.engine.Dequeue(ctx)
		if err != nil {
			log.Error().Err(err).Msg("dequeue failed")
			p.sleep(delay)
			continue
		}
		if t == nil {
			p.sleep(delay)
			continue
		}

		p.process(ctx, t)
	}
}

func (p *Pool) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-p.stopCh:
	}
}

// process drives one dequeued task through handler invocation (§4.4 steps
// 3-6). Handler-exception retry accounting is this poller's job; timeout
// retry accounting deliberately is not (§1 "two authoritative, non-
// overlapping retry paths"). A timed-out task is left in processing and
// simply abandoned here — the idle-path stuck sweep (Engine.ReclaimStuck)
// is the sole place that ever retries or fails a timed-out task, so a
// crashed worker and a merely-slow handler are reconciled through the exact
// same code path instead of racing two independent retry counters.
func (p *Pool) process(ctx context.Context, t *task.Task) {
	log := logger.WithTask(t.ID)
	p.engine.Emitter().EmitTaskStarted(t)
	metrics.RecordQueueLatency(strconv.Itoa(t.Priority), time.Since(t.CreatedAt).Seconds())

	if p.heartbeat != nil {
		n := p.activeTasks.Add(1)
		p.heartbeat.UpdateActiveTasks(int(n))
		defer func() {
			n := p.activeTasks.Add(-1)
			p.heartbeat.UpdateActiveTasks(int(n))
		}()
	}

	attemptStart := time.Now()
	result, err := p.executor.Execute(t.ID, t.Handler, t.Payload, t.MaxProcessingTime)
	attemptDuration := time.Since(attemptStart).Seconds()
	metrics.RecordWorkerBusyTime(p.id, attemptDuration)

	if err == nil {
		p.completeTask(ctx, t, result, attemptDuration)
		return
	}

	if err == ErrExecutionTimeout {
		log.Warn().Msg("handler timed out; leaving task for stuck-task reclamation")
		return
	}

	log.Error().Err(err).Msg("handler returned an error")
	if p.engine.Options().CrashOnWorkerError {
		logger.Fatal().Str("worker_id", p.id).Err(err).Msg("crashOnWorkerError: stopping worker pool")
	}
	p.retryOrFailTask(ctx, t, err.Error(), attemptDuration)
}

func (p *Pool) completeTask(ctx context.Context, t *task.Task, result map[string]interface{}, duration float64) {
	sm := task.NewStateMachine(t)
	if err := sm.Complete(result); err != nil {
		logger.Error().Err(err).Str("task_id", t.ID).Msg("failed to transition task to done")
		return
	}
	if err := p.engine.UpdateTask(ctx, t); err != nil {
		logger.Error().Err(err).Str("task_id", t.ID).Msg("failed to persist completed task")
		return
	}
	metrics.RecordTaskCompletion(t.Handler, task.StatusDone.String(), duration)
	p.engine.Emitter().EmitTaskCompleted(t)
}

// retryOrFailTask is the worker-level half of the retry/fail branch: retry a
// handler-exception task if budget remains, otherwise fail it terminally
// (§4.4 step 6). The timeout half of the same branch lives entirely in
// Engine.resolveStuckTask instead.
func (p *Pool) retryOrFailTask(ctx context.Context, t *task.Task, logMsg string, duration float64) {
	sm := task.NewStateMachine(t)

	if t.CanRetry() {
		if err := sm.Retry(logMsg); err != nil {
			logger.Error().Err(err).Str("task_id", t.ID).Msg("failed to transition task to pending for retry")
			return
		}
		if err := p.engine.UpdateTask(ctx, t); err != nil {
			logger.Error().Err(err).Str("task_id", t.ID).Msg("failed to persist retried task")
			return
		}
		metrics.RecordTaskRetry(t.Handler)
		// The attempt that just ran did fail, even though the task itself
		// lives on in pending — emit both so listeners see the failed
		// attempt and the subsequent retry, not just the retry.
		p.engine.Emitter().EmitTaskFailed(t, fmt.Errorf("%s", logMsg))
		p.engine.Emitter().EmitTaskRetried(t)
		return
	}

	if err := sm.Fail(logMsg); err != nil {
		logger.Error().Err(err).Str("task_id", t.ID).Msg("failed to transition task to failed")
		return
	}
	if err := p.engine.UpdateTask(ctx, t); err != nil {
		logger.Error().Err(err).Str("task_id", t.ID).Msg("failed to persist failed task")
		return
	}
	metrics.RecordTaskCompletion(t.Handler, task.StatusFailed.String(), duration)
	metrics.IncrementFailedIndexAdded()
	p.engine.Emitter().EmitTaskFailed(t, fmt.Errorf("%s", logMsg))
}
