package scheduler

import (
	"context"
	"fmt"
	"sync"

	srvErrors "github.com/kubev2v/task-engine/pkg/errors"
	"github.com/kubev2v/task-engine/pkg/workerpool"
)

type Work[T any] func(ctx context.Context) (T, error)

type Result[T any] struct {
	Data T
	Err  error
}

type Future[T any] struct {
	input  chan T
	cancel func()
}

func NewFuture[T any](input chan T, cancel func()) *Future[T] {
	return &Future[T]{
		input:  input,
		cancel: cancel,
	}
}

// C receives exactly one value once the work is done.
func (f *Future[T]) C() chan T {
	return f.input
}

// Stop interrupts the work: queued work is aborted, running work sees its
// context cancelled.
func (f *Future[T]) Stop() {
	f.cancel()
}

// Scheduler is a future-returning front end over a private executor.
type Scheduler struct {
	exec *Executor
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

func NewScheduler(name string, pool *workerpool.Pool, registry *Registry, opts Options) (*Scheduler, error) {
	s := &Scheduler{}
	opts.Owner = s
	e, err := NewExecutor(name, pool, registry, opts)
	if err != nil {
		return nil, fmt.Errorf("creating scheduler %s: %w", name, err)
	}
	s.exec = e
	return s, nil
}

func (s *Scheduler) Executor() *Executor { return s.exec }

// AddWork submits w and returns a future for its result. After Close the
// future yields context.Canceled.
func (s *Scheduler) AddWork(w Work[any]) *Future[Result[any]] {
	c := make(chan Result[any], 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c <- Result[any]{Err: context.Canceled}
		return NewFuture(c, func() {})
	}
	s.wg.Add(1)
	s.mu.Unlock()

	p := CreateProducerTask(s.exec, Producer[any](w))
	p.onFinish = func(t *Task) {
		defer s.wg.Done()
		c <- futureResult(t)
	}
	if err := p.Submit(); err != nil {
		select {
		case <-p.finished:
		default:
			s.wg.Done()
			c <- Result[any]{Err: err}
		}
		if !srvErrors.IsExecutorTerminatedError(err) {
			s.exec.logger.Errorw("failed to submit work", "task", p.String(), "error", err)
		}
	}
	return NewFuture(c, p.Interrupt)
}

func futureResult(t *Task) Result[any] {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch Status(t.status.Load()) {
	case Aborted:
		return Result[any]{Err: context.Canceled}
	case Executed:
		return Result[any]{Data: t.result}
	default:
		return Result[any]{Data: t.result, Err: t.err}
	}
}

// Close aborts queued work, cancels running work and waits for it to return.
func (s *Scheduler) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		_ = s.exec.ShutdownAs(context.Background(), s, false)
		s.wg.Wait()
	})
}
