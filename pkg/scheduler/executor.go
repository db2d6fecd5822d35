package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kubev2v/task-engine/internal/util"
	srvErrors "github.com/kubev2v/task-engine/pkg/errors"
	"github.com/kubev2v/task-engine/pkg/workerpool"
)

const (
	DefaultPriority      = 5
	DefaultHighWatermark = 10000
	DefaultLowWatermark  = 5000

	dispatcherStartTimeout = 5 * time.Second
)

var errQueueClosed = errors.New("task queue is closed")

type Options struct {
	// Priority is the default priority of tasks created on the executor.
	Priority      int
	HighWatermark int
	LowWatermark  int
	// Owner makes the executor undestroyable from outside: only ShutdownAs
	// with the same owner is allowed to shut it down.
	Owner   any
	Metrics Metrics
	Logger  *zap.Logger
}

func (o *Options) fillDefaults() {
	if o.HighWatermark <= 0 {
		o.HighWatermark = DefaultHighWatermark
	}
	if o.LowWatermark <= 0 || o.LowWatermark >= o.HighWatermark {
		o.LowWatermark = max(o.HighWatermark/2, 1)
	}
	if o.Metrics == nil {
		o.Metrics = NilMetrics{}
	}
	if o.Logger == nil {
		o.Logger = zap.L()
	}
}

// Executor owns one task queue and the dispatcher goroutine that starts
// queued tasks on workers claimed from the pool.
type Executor struct {
	name     string
	opts     Options
	pool     *workerpool.Pool
	registry *Registry
	queue    *taskQueue
	metrics  Metrics
	logger   *zap.SugaredLogger
	priority atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards the dispatcher state below. It is never held while a task
	// is being started.
	mu         sync.Mutex
	suspended  bool
	terminated bool
	cycling    bool
	sentinel   *Task
	inFlight   map[*Task]struct{}

	resumed        *util.Signal
	progress       *util.Signal
	stop           chan struct{}
	ready          chan struct{}
	dispatcherDone chan struct{}
	shutdownOnce   sync.Once

	executed atomic.Int64
	failed   atomic.Int64
	aborted  atomic.Int64
	killed   atomic.Int64
	skipped  atomic.Int64
}

// NewExecutor starts an executor and its dispatcher. It fails when a
// dependency is missing or the dispatcher does not come up.
func NewExecutor(name string, pool *workerpool.Pool, registry *Registry, opts Options) (*Executor, error) {
	if pool == nil {
		return nil, fmt.Errorf("executor %s: worker pool is required", name)
	}
	if registry == nil {
		return nil, fmt.Errorf("executor %s: registry is required", name)
	}
	opts.fillDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		name:           name,
		opts:           opts,
		pool:           pool,
		registry:       registry,
		queue:          newTaskQueue(opts.HighWatermark, opts.LowWatermark),
		metrics:        opts.Metrics,
		logger:         opts.Logger.Sugar().Named("executor").With("executor", name),
		ctx:            ctx,
		cancel:         cancel,
		inFlight:       make(map[*Task]struct{}),
		resumed:        util.NewSignal(),
		progress:       util.NewSignal(),
		stop:           make(chan struct{}),
		ready:          make(chan struct{}),
		dispatcherDone: make(chan struct{}),
	}
	e.priority.Store(int64(opts.Priority))

	go e.dispatch()

	select {
	case <-e.ready:
	case <-time.After(dispatcherStartTimeout):
		cancel()
		return nil, fmt.Errorf("executor %s: dispatcher did not start within %s", name, dispatcherStartTimeout)
	}
	e.logger.Debugw("executor started", "priority", opts.Priority)
	return e, nil
}

func (e *Executor) Name() string               { return e.name }
func (e *Executor) Priority() int              { return int(e.priority.Load()) }
func (e *Executor) Pool() *workerpool.Pool     { return e.pool }
func (e *Executor) Registry() *Registry        { return e.registry }
func (e *Executor) QueueLen() int              { return e.queue.len() }
func (e *Executor) Owner() any                 { return e.opts.Owner }
func (e *Executor) CreateTask(body Body) *Task { return e.newTask(body) }

func (e *Executor) newTask(body Body) *Task {
	t := newTask(body, e.registry)
	t.exec = e
	t.priority.Store(e.priority.Load())
	return t
}

func (e *Executor) dispatch() {
	defer close(e.dispatcherDone)
	close(e.ready)

	for {
		e.mu.Lock()
		if e.terminated {
			e.mu.Unlock()
			return
		}
		if e.suspended {
			wait := e.resumed.C()
			e.mu.Unlock()
			select {
			case <-wait:
			case <-e.stop:
			}
			continue
		}
		e.cycling = true
		arrived := e.queue.arrived.C()
		e.mu.Unlock()

		t := e.queue.pop()
		if t == nil {
			e.endCycle()
			select {
			case <-arrived:
			case <-e.stop:
			}
			continue
		}

		if t.sentinel {
			e.mu.Lock()
			e.suspended = true
			if e.sentinel == t {
				e.sentinel = nil
			}
			e.mu.Unlock()
			t.finish(Submitted, Executed, nil)
			e.logger.Infow("executor suspended", "mode", "graceful")
			e.endCycle()
			continue
		}

		e.start(t)
		e.endCycle()
	}
}

func (e *Executor) endCycle() {
	e.mu.Lock()
	e.cycling = false
	e.mu.Unlock()
	e.progress.Broadcast()
}

// start claims a worker and hands t to it.
func (e *Executor) start(t *Task) {
	w, err := e.pool.Acquire(e.ctx)
	if err != nil {
		if e.ctx.Err() != nil {
			e.logger.Warnw("discarding task, executor is shutting down", "task", t.String())
			t.finish(Submitted, Aborted, nil)
			return
		}
		e.logger.Errorw("failed to acquire worker", "task", t.String(), "error", err)
		t.finish(Submitted, Failed, err)
		return
	}

	e.mu.Lock()
	e.inFlight[t] = struct{}{}
	e.mu.Unlock()

	if err := w.Run(func() { e.execute(t, w) }); err != nil {
		e.pool.Release(w)
		e.forget(t)
		e.logger.Errorw("failed to start task on worker", "task", t.String(), "worker", w.String(), "error", err)
		t.finish(Submitted, Failed, err)
	}
}

func (e *Executor) execute(t *Task, w *workerpool.Worker) {
	t.run(w)
	// A task killed between dispatch and start never reaches finish here.
	e.forget(t)
}

func (e *Executor) forget(t *Task) {
	e.mu.Lock()
	_, ok := e.inFlight[t]
	delete(e.inFlight, t)
	e.mu.Unlock()
	if ok {
		e.progress.Broadcast()
	}
}

// enqueue binds t to the executor and queues it, blocking on backpressure.
func (e *Executor) enqueue(ctx context.Context, t *Task) error {
	if e.Terminated() {
		e.metrics.RecordTaskRejected(e.name, "terminated")
		t.finish(Submitted, Aborted, nil)
		return srvErrors.NewExecutorTerminatedError(e.name)
	}
	t.bindContext(e)

	if err := e.queue.push(ctx, t, e.Priority()); err != nil {
		if errors.Is(err, errQueueClosed) {
			e.metrics.RecordTaskRejected(e.name, "terminated")
			t.finish(Submitted, Aborted, nil)
			return srvErrors.NewExecutorTerminatedError(e.name)
		}
		e.metrics.RecordTaskRejected(e.name, "backpressure")
		t.finish(Submitted, Aborted, nil)
		return fmt.Errorf("queueing task %s on %s: %w", t, e.name, err)
	}
	e.metrics.RecordQueueDepth(e.name, e.queue.len())
	return nil
}

// requeue moves a task taken out of another executor's queue onto this one.
func (e *Executor) requeue(t *Task) error {
	t.bindContext(e)
	if err := e.queue.pushNow(t, e.Priority()); err != nil {
		t.finish(Submitted, Aborted, nil)
		return srvErrors.NewExecutorTerminatedError(e.name)
	}
	return nil
}

func (e *Executor) taskFinished(t *Task, from, to Status) {
	if from == Started {
		if w := t.Worker(); w != nil {
			e.registry.stopped(t, w.GoroutineID())
		}
		e.metrics.RecordTaskDuration(e.name, t.Priority(), time.Since(t.StartedAt()))
	}
	if !t.sentinel {
		e.record(t, to)
	}

	e.mu.Lock()
	delete(e.inFlight, t)
	e.mu.Unlock()
	e.progress.Broadcast()
}

func (e *Executor) record(t *Task, to Status) {
	switch to {
	case Executed:
		e.executed.Add(1)
	case Failed:
		e.failed.Add(1)
		t.mu.Lock()
		err, handled := t.err, t.handled
		t.mu.Unlock()
		e.logger.Errorw("task failed", "task", t.String(), "error", err, "handled", handled)
	case Aborted:
		e.aborted.Add(1)
	case Killed:
		e.killed.Add(1)
	case Skipped:
		e.skipped.Add(1)
	}
	e.metrics.RecordTaskOutcome(e.name, to)
}

// Suspend stops the dispatcher from starting new tasks.
//
// Immediate suspension takes effect before the next queue pull and returns
// once every running task has finished, not counting the task calling
// Suspend. Graceful suspension queues a marker behind the tasks already
// queued and returns once the dispatcher reaches it.
func (e *Executor) Suspend(ctx context.Context, immediate bool) error {
	if immediate {
		return e.suspendNow(ctx)
	}
	return e.suspendGracefully(ctx)
}

func (e *Executor) suspendNow(ctx context.Context) error {
	e.mu.Lock()
	if e.terminated {
		e.mu.Unlock()
		return srvErrors.NewExecutorTerminatedError(e.name)
	}
	e.suspended = true
	e.mu.Unlock()

	self := currentTask(ctx, e.registry)
	for {
		wait := e.progress.C()
		if e.quiescent(self) {
			e.logger.Infow("executor suspended", "mode", "immediate", "queued", e.queue.len())
			return nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Executor) suspendGracefully(ctx context.Context) error {
	e.mu.Lock()
	if e.terminated {
		e.mu.Unlock()
		return srvErrors.NewExecutorTerminatedError(e.name)
	}
	if e.suspended {
		e.mu.Unlock()
		return nil
	}
	s, fresh := e.sentinel, false
	if s == nil {
		fresh = true
		s = newTask(func(context.Context) error { return nil }, nil)
		s.name = "suspend"
		s.sentinel = true
		s.exec = e
		s.status.Store(int32(Submitted))
		e.sentinel = s
	}
	e.mu.Unlock()

	if fresh {
		if err := e.queue.pushBehind(s, e.Priority()); err != nil {
			return srvErrors.NewExecutorTerminatedError(e.name)
		}
	}
	select {
	case <-s.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume lets the dispatcher start tasks again. A graceful suspension that
// has not been reached yet is cancelled.
func (e *Executor) Resume() {
	e.mu.Lock()
	s := e.sentinel
	e.sentinel = nil
	wasSuspended := e.suspended
	e.suspended = false
	e.mu.Unlock()

	if s != nil && e.queue.remove(s) {
		s.finish(Submitted, Aborted, nil)
	}
	e.resumed.Broadcast()
	if wasSuspended {
		e.logger.Infow("executor resumed", "queued", e.queue.len())
	}
}

func (e *Executor) Suspended() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.suspended
}

func (e *Executor) Terminated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminated
}

// ChangePriority sets the executor's default priority and moves every task
// still queued to it.
func (e *Executor) ChangePriority(p int) {
	e.priority.Store(int64(p))
	tasks := e.queue.reprioritizeAll(p)
	for _, t := range tasks {
		t.priority.Store(int64(p))
	}
	e.logger.Infow("executor priority changed", "priority", p, "queued", len(tasks))
}

// WaitForTasksEnding blocks until the queue is empty and nothing is running,
// ignoring the task calling it.
func (e *Executor) WaitForTasksEnding(ctx context.Context) error {
	self := currentTask(ctx, e.registry)
	for {
		wait := e.progress.C()
		if e.idle(self) {
			return nil
		}
		select {
		case <-wait:
		case <-e.dispatcherDone:
			if e.idle(self) {
				return nil
			}
			return srvErrors.NewExecutorTerminatedError(e.name)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Executor) quiescent(self *Task) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cycling {
		return false
	}
	for t := range e.inFlight {
		if t != self {
			return false
		}
	}
	return true
}

func (e *Executor) idle(self *Task) bool {
	return e.queue.len() == 0 && e.quiescent(self)
}

// Shutdown stops the executor. It fails with an UndestroyableError when the
// executor was created with an Owner.
func (e *Executor) Shutdown(ctx context.Context, wait bool) error {
	if e.opts.Owner != nil {
		err := srvErrors.NewUndestroyableError("executor " + e.name)
		e.logger.Errorw("refusing to shut down executor", "error", err)
		return err
	}
	return e.shutdown(ctx, wait)
}

// ShutdownAs stops an executor on behalf of owner.
func (e *Executor) ShutdownAs(ctx context.Context, owner any, wait bool) error {
	if e.opts.Owner != owner {
		err := srvErrors.NewUndestroyableError("executor " + e.name)
		e.logger.Errorw("refusing to shut down executor", "error", err)
		return err
	}
	return e.shutdown(ctx, wait)
}

// shutdown optionally waits for the queue to drain, then discards whatever
// is still queued, cancels running tasks and joins the dispatcher.
func (e *Executor) shutdown(ctx context.Context, wait bool) error {
	var err error
	e.shutdownOnce.Do(func() {
		if wait {
			err = e.WaitForTasksEnding(ctx)
		}

		e.mu.Lock()
		e.suspended = true
		e.terminated = true
		e.mu.Unlock()

		for _, t := range e.queue.close() {
			if !t.sentinel {
				e.logger.Warnw("discarding queued task", "task", t.String())
			}
			t.finish(Submitted, Aborted, nil)
		}
		e.cancel()
		close(e.stop)
		<-e.dispatcherDone

		e.resumed.Broadcast()
		e.progress.Broadcast()
		e.logger.Infow("executor shut down", "executed", e.executed.Load(), "failed", e.failed.Load())
	})
	return err
}

func (e *Executor) Stats() Stats {
	e.mu.Lock()
	inFlight := len(e.inFlight)
	suspended, terminated := e.suspended, e.terminated
	e.mu.Unlock()

	return Stats{
		Name:       e.name,
		Priority:   e.Priority(),
		Queued:     e.queue.len(),
		InFlight:   inFlight,
		Suspended:  suspended,
		Terminated: terminated,
		Executed:   e.executed.Load(),
		Failed:     e.failed.Load(),
		Aborted:    e.aborted.Load(),
		Killed:     e.killed.Load(),
		Skipped:    e.skipped.Load(),
	}
}
