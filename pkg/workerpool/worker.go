package workerpool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/kubev2v/task-engine/internal/util"
)

type Kind int

const (
	Poolable Kind = iota
	Detached
)

func (k Kind) String() string {
	switch k {
	case Poolable:
		return "poolable"
	case Detached:
		return "detached"
	default:
		return "unknown"
	}
}

type State int32

const (
	Idle State = iota
	Running
	Retired
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Retired:
		return "retired"
	default:
		return "unknown"
	}
}

var errNotAcquired = errors.New("worker is not acquired")

// Worker is a goroutine that executes units of work handed to it by Run.
type Worker struct {
	id    uuid.UUID
	kind  Kind
	pool  *Pool
	state atomic.Int32
	gid   atomic.Int64

	work     chan func()
	quit     chan struct{}
	quitOnce sync.Once
	exited   chan struct{}
	started  chan struct{}
}

func newWorker(p *Pool, kind Kind) *Worker {
	w := &Worker{
		id:      uuid.New(),
		kind:    kind,
		pool:    p,
		work:    make(chan func(), 1),
		quit:    make(chan struct{}),
		exited:  make(chan struct{}),
		started: make(chan struct{}),
	}
	w.state.Store(int32(Running))
	go w.loop()
	<-w.started
	return w
}

func (w *Worker) ID() uuid.UUID { return w.id }
func (w *Worker) Kind() Kind    { return w.kind }
func (w *Worker) State() State  { return State(w.state.Load()) }

// GoroutineID is the runtime id of the worker goroutine, used to find its
// stack in a goroutine dump.
func (w *Worker) GoroutineID() int64 { return w.gid.Load() }

// Alive reports whether the worker goroutine is still running.
func (w *Worker) Alive() bool {
	select {
	case <-w.exited:
		return false
	default:
		return true
	}
}

// Exited is closed when the worker goroutine returns.
func (w *Worker) Exited() <-chan struct{} { return w.exited }

func (w *Worker) String() string {
	return fmt.Sprintf("%s-worker-%s", w.kind, w.id.String()[:8])
}

// Run hands fn to the worker. The worker must have been obtained from Acquire.
func (w *Worker) Run(fn func()) error {
	if w.State() != Running {
		return errNotAcquired
	}
	select {
	case <-w.quit:
		return errNotAcquired
	default:
	}
	select {
	case w.work <- fn:
		return nil
	default:
		return fmt.Errorf("worker %s already has pending work", w)
	}
}

func (w *Worker) stop() {
	w.quitOnce.Do(func() { close(w.quit) })
}

func (w *Worker) loop() {
	defer close(w.exited)
	w.gid.Store(util.GoroutineID())
	close(w.started)

	for {
		select {
		case fn := <-w.work:
			w.execute(fn)
			if !w.pool.release(w) {
				return
			}
		case <-w.quit:
			w.pool.Retire(w)
			return
		}
	}
}

func (w *Worker) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.pool.logger.Errorw("worker recovered from panic", "worker", w.String(), "panic", r)
		}
	}()
	fn()
}
