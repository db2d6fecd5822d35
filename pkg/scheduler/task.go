package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/kubev2v/task-engine/internal/util"
	srvErrors "github.com/kubev2v/task-engine/pkg/errors"
	"github.com/kubev2v/task-engine/pkg/workerpool"
)

// Task is a unit of work with an identity, a priority and a lifecycle.
//
// Builder methods (WithPriority, WithName, RunOnlyOnce, WithExceptionHandler)
// are meant to be called by the creator before Submit.
type Task struct {
	id       uuid.UUID
	name     string
	body     Body
	priority atomic.Int64
	status   atomic.Int32
	sentinel bool

	runOnceKey  string
	alreadyDone func() bool
	handler     ExceptionHandler
	onFinish    func(*Task)

	group    *Group
	registry *Registry
	creator  *Task

	mu         sync.Mutex
	exec       *Executor
	ctx        context.Context
	cancel     context.CancelFunc
	worker     *workerpool.Worker
	redirect   *Task
	err        error
	handled    bool
	result     any
	hasResult  bool
	startedAt  time.Time
	finishedAt time.Time

	probablyStuck atomic.Bool
	stuckOnce     sync.Once
	returnedOnce  sync.Once

	started  chan struct{}
	finished chan struct{}
	returned chan struct{}
	stuck    chan struct{}
}

func newTask(body Body, registry *Registry) *Task {
	return &Task{
		id:       uuid.New(),
		body:     body,
		registry: registry,
		started:  make(chan struct{}),
		finished: make(chan struct{}),
		returned: make(chan struct{}),
		stuck:    make(chan struct{}),
	}
}

func (t *Task) ID() uuid.UUID  { return t.id }
func (t *Task) Name() string   { return t.name }
func (t *Task) Priority() int  { return int(t.priority.Load()) }
func (t *Task) Creator() *Task { return t.creator }

// Status reports the lifecycle state. A run-once task redirected to an
// existing task reports the state of that task.
func (t *Task) Status() Status {
	return Status(t.target().status.Load())
}

// Err is the error captured when the task finished, if any.
func (t *Task) Err() error {
	target := t.target()
	target.mu.Lock()
	defer target.mu.Unlock()
	return target.err
}

func (t *Task) IsProbablyStuck() bool {
	return t.target().probablyStuck.Load()
}

func (t *Task) StartedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt
}

func (t *Task) FinishedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finishedAt
}

// Worker is the worker the task was started on, nil before start.
func (t *Task) Worker() *workerpool.Worker {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.worker
}

// Executor is the executor the task was queued on, nil before submit.
func (t *Task) Executor() *Executor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exec
}

// Redirect returns the task this one was deduplicated into, if any.
func (t *Task) Redirect() *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.redirect
}

// Done is closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.target().finished
}

func (t *Task) String() string {
	if t.name != "" {
		return fmt.Sprintf("%s(%s)", t.name, t.id.String()[:8])
	}
	return t.id.String()
}

func (t *Task) target() *Task {
	if r := t.Redirect(); r != nil {
		return r
	}
	return t
}

func (t *Task) WithName(name string) *Task {
	t.name = name
	return t
}

// WithPriority sets the scheduling priority. On a task that is already
// queued the task is moved within its queue; use Group.ChangeTaskPriority to
// move it between buckets.
func (t *Task) WithPriority(p int) *Task {
	t.priority.Store(int64(p))
	if t.Status() == Submitted {
		if e := t.Executor(); e != nil {
			e.queue.reprioritize(t, p)
		}
	}
	return t
}

// RunOnlyOnce deduplicates the task by key: while another task submitted
// under the same key has not finished, Submit redirects this handle to it.
// alreadyDone, when not nil, is consulted at submit and a true result makes
// the task finish as Skipped without running.
func (t *Task) RunOnlyOnce(key string, alreadyDone func() bool) *Task {
	t.runOnceKey = key
	t.alreadyDone = alreadyDone
	return t
}

func (t *Task) WithExceptionHandler(h ExceptionHandler) *Task {
	t.handler = h
	return t
}

func (t *Task) Submit() error {
	return t.SubmitContext(context.Background())
}

// SubmitContext queues the task. ctx bounds the wait when the queue is above
// its high watermark. When called from inside a running task the task is
// recorded as the creator, for Kill cascading.
func (t *Task) SubmitContext(ctx context.Context) error {
	if t.body == nil {
		return srvErrors.NewEmptyExecutableError(t.id.String())
	}
	if !t.status.CompareAndSwap(int32(Created), int32(Submitted)) {
		if Status(t.status.Load()) == Aborted {
			return srvErrors.NewTaskStateError(t.id.String(), "submit", srvErrors.ReasonAborted)
		}
		return srvErrors.NewTaskStateError(t.id.String(), "submit", srvErrors.ReasonAlreadySubmitted)
	}

	exec, err := t.resolveExecutor()
	if err != nil {
		t.finish(Submitted, Aborted, nil)
		return err
	}
	t.mu.Lock()
	t.exec = exec
	t.mu.Unlock()

	if t.runOnceKey != "" {
		existing, skip := t.registry.claim(t)
		if existing != nil {
			t.mu.Lock()
			t.redirect = existing
			t.mu.Unlock()
			return nil
		}
		if skip {
			t.finish(Submitted, Skipped, nil)
			return nil
		}
	}

	if creator := currentTask(ctx, t.registry); creator != nil && creator != t {
		t.creator = creator
		t.registry.addChild(creator, t)
	}
	return exec.enqueue(ctx, t)
}

func (t *Task) resolveExecutor() (*Executor, error) {
	if t.group != nil {
		return t.group.Bucket(t.Priority())
	}
	if e := t.Executor(); e != nil {
		return e, nil
	}
	return nil, fmt.Errorf("task %s is not bound to an executor", t)
}

// Abort removes a queued task before it is dispatched and reports whether it
// did. A task that has been claimed by the dispatcher can no longer be
// aborted.
func (t *Task) Abort() bool {
	if t.Redirect() != nil {
		return false
	}
	switch Status(t.status.Load()) {
	case Created:
		return t.finish(Created, Aborted, nil)
	case Submitted:
		if e := t.Executor(); e != nil && e.queue.remove(t) {
			return t.finish(Submitted, Aborted, nil)
		}
	}
	return false
}

// Interrupt cancels the task's context and retires its worker so the pool
// can replace it. The task finishes with whatever its body returns.
// A task that has not started yet is aborted instead.
func (t *Task) Interrupt() {
	target := t.target()
	switch target.Status() {
	case Created, Submitted:
		target.Abort()
	case Started:
		// The body closes returned under mu before its worker goes back to
		// the pool, so holding mu keeps w bound to this task.
		target.mu.Lock()
		cancel, w, e := target.cancel, target.worker, target.exec
		running := !target.hasReturned()
		if running && w != nil && e != nil {
			e.pool.Retire(w)
		}
		target.mu.Unlock()
		if !running {
			return
		}
		if cancel != nil {
			cancel()
		}
		if e != nil {
			e.logger.Infow("task interrupted", "task", target.String())
		}
	}
}

// Kill terminates the task at once: it is marked Killed, its context is
// cancelled and its worker retired. With cascade, the unfinished tasks it
// submitted are killed too.
func (t *Task) Kill(cascade bool) {
	target := t.target()
	var children []*Task
	if cascade && target.registry != nil {
		children = target.registry.Children(target)
	}
	target.kill()
	for _, c := range children {
		c.Kill(true)
	}
}

func (t *Task) kill() {
	killed := srvErrors.NewTaskKilledError(t.id.String())
	for {
		switch s := Status(t.status.Load()); s {
		case Created:
			if t.Abort() {
				return
			}
		case Submitted:
			if t.Abort() || t.finish(Submitted, Killed, killed) {
				return
			}
		case Started:
			w := t.Worker()
			if t.finish(Started, Killed, killed) {
				if e := t.Executor(); e != nil && w != nil {
					e.pool.Retire(w)
					e.logger.Warnw("task killed", "task", t.String(), "worker", w.String())
				}
				return
			}
		default:
			return
		}
	}
}

// ConfirmTerminated waits, with exponential backoff up to maxWait, until the
// task body has returned and a retired worker goroutine has exited.
func (t *Task) ConfirmTerminated(ctx context.Context, maxWait time.Duration) error {
	target := t.target()
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		select {
		case <-target.returned:
		default:
			return struct{}{}, fmt.Errorf("task %s body has not returned", target)
		}
		if w := target.Worker(); w != nil && w.State() == workerpool.Retired && w.Alive() {
			return struct{}{}, fmt.Errorf("worker %s of task %s is still alive", w, target)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(maxWait))
	return err
}

// MarkProbablyStuck flags the task. With releaseWaiters, pending and future
// waits return a probably-stuck error unless they ignore the flag.
func (t *Task) MarkProbablyStuck(releaseWaiters bool) {
	target := t.target()
	target.probablyStuck.Store(true)
	if releaseWaiters {
		target.stuckOnce.Do(func() { close(target.stuck) })
	}
}

func (t *Task) WaitForStart(ctx context.Context, opts ...WaitOption) error {
	target, stuck, err := t.prepareWait("wait for start", opts)
	if err != nil {
		return err
	}
	select {
	case <-target.started:
		return nil
	default:
	}
	select {
	case <-target.started:
		return nil
	case <-target.finished:
		select {
		case <-target.started:
			return nil
		default:
		}
		switch target.Status() {
		case Aborted:
			return srvErrors.NewTaskStateError(target.id.String(), "wait for start", srvErrors.ReasonAborted)
		case Killed, Failed:
			return target.Err()
		}
		return nil
	case <-stuck:
		return srvErrors.NewTaskStateError(target.id.String(), "wait for start", srvErrors.ReasonProbablyStuck)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForFinish blocks until the task reaches a terminal state. It does not
// report the task's own error; use Join for that.
func (t *Task) WaitForFinish(ctx context.Context, opts ...WaitOption) error {
	target, stuck, err := t.prepareWait("wait for finish", opts)
	if err != nil {
		return err
	}
	select {
	case <-target.finished:
		return nil
	default:
	}
	select {
	case <-target.finished:
		return nil
	case <-stuck:
		return srvErrors.NewTaskStateError(target.id.String(), "wait for finish", srvErrors.ReasonProbablyStuck)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) prepareWait(op string, opts []WaitOption) (*Task, <-chan struct{}, error) {
	target := t.target()
	if target.Status() == Created {
		return nil, nil, srvErrors.NewTaskStateError(target.id.String(), op, srvErrors.ReasonNotSubmitted)
	}
	o := waitOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	var stuck <-chan struct{} = target.stuck
	if o.ignoreProbablyStuck {
		stuck = nil
	}
	return target, stuck, nil
}

// Join waits for the task to finish and returns its error unless an
// exception handler marked it handled. An aborted task joins without error.
func (t *Task) Join(ctx context.Context, opts ...WaitOption) error {
	if err := t.WaitForFinish(ctx, opts...); err != nil {
		return err
	}
	target := t.target()
	target.mu.Lock()
	defer target.mu.Unlock()
	if target.handled {
		return nil
	}
	return target.err
}

func (t *Task) bindContext(e *Executor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
	t.exec = e
	t.ctx, t.cancel = context.WithCancel(e.ctx)
}

// run executes the body on the worker goroutine.
func (t *Task) run(w *workerpool.Worker) {
	defer t.markReturned()

	t.mu.Lock()
	t.worker = w
	t.startedAt = time.Now()
	ctx, e := t.ctx, t.exec
	t.mu.Unlock()

	if !t.status.CompareAndSwap(int32(Submitted), int32(Started)) {
		return
	}
	t.registry.started(t, w.GoroutineID())
	close(t.started)

	err := t.invoke(withTask(ctx, t), e)
	t.markReturned()
	if err != nil {
		t.finish(Started, Failed, err)
		return
	}
	t.finish(Started, Executed, nil)
}

func (t *Task) invoke(ctx context.Context, e *Executor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.RecordTaskPanic(e.name, r)
			err = srvErrors.NewPanicError(r, debug.Stack())
		}
	}()
	return t.body(ctx)
}

// finish moves the task from one state to a terminal one. Only the first
// caller wins; later calls return false.
func (t *Task) finish(from, to Status, err error) bool {
	if !t.status.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	t.mu.Lock()
	t.err = err
	t.finishedAt = time.Now()
	cancel, e := t.cancel, t.exec
	t.mu.Unlock()

	if err != nil && to == Failed && t.handler != nil {
		handled := t.handler(t, err)
		t.mu.Lock()
		t.handled = handled
		t.mu.Unlock()
	}
	if cancel != nil {
		cancel()
	}
	if t.registry != nil {
		t.registry.removeChild(t)
	}
	if from != Started {
		t.markReturned()
	}
	if e != nil {
		e.taskFinished(t, from, to)
	}
	close(t.finished)
	if t.onFinish != nil {
		t.onFinish(t)
	}
	return true
}

// markReturned records that the body will not run any further. A run-once
// key is only released here, so a task killed while its body keeps running
// still owns it.
func (t *Task) markReturned() {
	t.returnedOnce.Do(func() {
		t.mu.Lock()
		close(t.returned)
		t.mu.Unlock()
		if t.registry != nil {
			t.registry.unclaim(t)
		}
	})
}

func (t *Task) hasReturned() bool {
	select {
	case <-t.returned:
		return true
	default:
		return false
	}
}

// ProducerTask is a Task whose body yields a value.
type ProducerTask[T any] struct {
	*Task
}

func newProducerTask[T any](body Producer[T], create func(Body) *Task) *ProducerTask[T] {
	var t *Task
	var wrapped Body
	if body != nil {
		wrapped = func(ctx context.Context) error {
			v, err := body(ctx)
			t.mu.Lock()
			t.result = v
			t.hasResult = true
			t.mu.Unlock()
			return err
		}
	}
	t = create(wrapped)
	return &ProducerTask[T]{Task: t}
}

// CreateProducerTask creates a ProducerTask on e.
func CreateProducerTask[T any](e *Executor, body Producer[T]) *ProducerTask[T] {
	return newProducerTask(body, e.CreateTask)
}

// CreateGroupProducerTask creates a ProducerTask routed by priority within g.
func CreateGroupProducerTask[T any](g *Group, priority int, body Producer[T]) *ProducerTask[T] {
	return newProducerTask(body, func(b Body) *Task { return g.CreateTask(priority, b) })
}

func (p *ProducerTask[T]) WithName(name string) *ProducerTask[T] {
	p.Task.WithName(name)
	return p
}

func (p *ProducerTask[T]) WithPriority(priority int) *ProducerTask[T] {
	p.Task.WithPriority(priority)
	return p
}

func (p *ProducerTask[T]) RunOnlyOnce(key string, alreadyDone func() bool) *ProducerTask[T] {
	p.Task.RunOnlyOnce(key, alreadyDone)
	return p
}

func (p *ProducerTask[T]) WithExceptionHandler(h ExceptionHandler) *ProducerTask[T] {
	p.Task.WithExceptionHandler(h)
	return p
}

// Get joins the task and returns the produced value.
func (p *ProducerTask[T]) Get(ctx context.Context, opts ...WaitOption) (T, error) {
	var zero T
	if err := p.Join(ctx, opts...); err != nil {
		return zero, err
	}
	target := p.target()
	target.mu.Lock()
	defer target.mu.Unlock()
	if !target.hasResult {
		return zero, srvErrors.NewTaskStateError(target.id.String(), "get", srvErrors.ReasonNoResult)
	}
	v, _ := target.result.(T)
	return v, nil
}

type taskKey struct{}

func withTask(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, taskKey{}, t)
}

// FromContext returns the task whose body received ctx.
func FromContext(ctx context.Context) *Task {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(taskKey{}).(*Task)
	return t
}

// currentTask finds the task running the caller, first through ctx and then
// through the goroutine the caller runs on.
func currentTask(ctx context.Context, r *Registry) *Task {
	if t := FromContext(ctx); t != nil {
		return t
	}
	if r == nil {
		return nil
	}
	return r.runningOn(util.GoroutineID())
}
