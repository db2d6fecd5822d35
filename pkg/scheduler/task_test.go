package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	srvErrors "github.com/kubev2v/task-engine/pkg/errors"
	"github.com/kubev2v/task-engine/pkg/scheduler"
	"github.com/kubev2v/task-engine/pkg/workerpool"
)

var _ = Describe("Task", func() {
	var (
		ctx  context.Context
		pool *workerpool.Pool
		e    *scheduler.Executor
	)

	noop := func(context.Context) error { return nil }

	BeforeEach(func() {
		ctx = context.Background()
		pool = newPool(2, 4)
		e = newExecutor(pool, scheduler.Options{})
	})

	AfterEach(func() {
		Expect(e.Shutdown(ctx, false)).To(Succeed())
		pool.ShutdownAll()
	})

	Describe("Submit", func() {
		// Given a task that was already submitted
		// When it is submitted again
		// Then a TaskStateError is returned
		It("should reject a second submit", func() {
			t := e.CreateTask(noop)
			Expect(t.Submit()).To(Succeed())

			err := t.Submit()

			var stateErr *srvErrors.TaskStateError
			Expect(errors.As(err, &stateErr)).To(BeTrue())
			Expect(stateErr.Reason).To(Equal(srvErrors.ReasonAlreadySubmitted))
		})

		It("should reject submitting an aborted task", func() {
			t := e.CreateTask(noop)
			Expect(t.Abort()).To(BeTrue())

			err := t.Submit()

			var stateErr *srvErrors.TaskStateError
			Expect(errors.As(err, &stateErr)).To(BeTrue())
			Expect(stateErr.Reason).To(Equal(srvErrors.ReasonAborted))
		})

		It("should reject a task without a body", func() {
			t := e.CreateTask(nil)

			err := t.Submit()

			Expect(srvErrors.IsEmptyExecutableError(err)).To(BeTrue())
			Expect(t.Status()).To(Equal(scheduler.Created))
		})

		It("should run the body and mark the task executed", func() {
			var ran atomic.Bool
			t := e.CreateTask(func(context.Context) error {
				ran.Store(true)
				return nil
			}).WithName("simple")

			Expect(t.Submit()).To(Succeed())
			Expect(t.Join(ctx)).To(Succeed())

			Expect(ran.Load()).To(BeTrue())
			Expect(t.Status()).To(Equal(scheduler.Executed))
			Expect(t.Name()).To(Equal("simple"))
			Expect(t.FinishedAt()).NotTo(BeZero())
		})

		It("should expose the running task through the context", func() {
			got := make(chan *scheduler.Task, 1)
			t := e.CreateTask(func(ctx context.Context) error {
				got <- scheduler.FromContext(ctx)
				return nil
			})

			Expect(t.Submit()).To(Succeed())

			Eventually(got).Should(Receive(BeIdenticalTo(t)))
		})
	})

	Describe("RunOnlyOnce", func() {
		// Given two tasks with the same run-once key submitted before either starts
		// When the executor resumes
		// Then the body runs once and both handles observe the same outcome
		It("should execute once for concurrent submissions of the same key", func() {
			Expect(e.Suspend(ctx, true)).To(Succeed())
			var runs atomic.Int32
			body := func(context.Context) error {
				runs.Add(1)
				return nil
			}
			first := e.CreateTask(body).RunOnlyOnce("sync-inventory", nil)
			second := e.CreateTask(body).RunOnlyOnce("sync-inventory", nil)

			Expect(first.Submit()).To(Succeed())
			Expect(second.Submit()).To(Succeed())
			Expect(second.Redirect()).To(BeIdenticalTo(first))

			e.Resume()
			Expect(first.Join(ctx)).To(Succeed())
			Expect(second.Join(ctx)).To(Succeed())

			Expect(runs.Load()).To(Equal(int32(1)))
			Expect(first.Status()).To(Equal(scheduler.Executed))
			Expect(second.Status()).To(Equal(scheduler.Executed))
		})

		It("should share the produced value between redirected handles", func() {
			Expect(e.Suspend(ctx, true)).To(Succeed())
			var runs atomic.Int32
			body := func(context.Context) (int, error) {
				return int(runs.Add(1)), nil
			}
			first := scheduler.CreateProducerTask(e, body).RunOnlyOnce("answer", nil)
			second := scheduler.CreateProducerTask(e, body).RunOnlyOnce("answer", nil)
			Expect(first.Submit()).To(Succeed())
			Expect(second.Submit()).To(Succeed())
			e.Resume()

			v1, err := first.Get(ctx)
			Expect(err).NotTo(HaveOccurred())
			v2, err := second.Get(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(v1).To(Equal(1))
			Expect(v2).To(Equal(1))
		})

		It("should skip the task when the already-done predicate holds", func() {
			var runs atomic.Int32
			t := e.CreateTask(func(context.Context) error {
				runs.Add(1)
				return nil
			}).RunOnlyOnce("done-already", func() bool { return true })

			Expect(t.Submit()).To(Succeed())

			Expect(t.Status()).To(Equal(scheduler.Skipped))
			Expect(t.Join(ctx)).To(Succeed())
			Expect(runs.Load()).To(BeZero())
		})

		It("should allow the key again once the first task finished", func() {
			first := e.CreateTask(noop).RunOnlyOnce("again", nil)
			Expect(first.Submit()).To(Succeed())
			Expect(first.Join(ctx)).To(Succeed())

			second := e.CreateTask(noop).RunOnlyOnce("again", nil)
			Expect(second.Submit()).To(Succeed())

			Expect(second.Redirect()).To(BeNil())
			Expect(second.Join(ctx)).To(Succeed())
		})

		// Given a run-once task killed while its body ignores cancellation
		// When another task with the same key is submitted
		// Then it is redirected until the killed body has returned
		It("should keep the key while a killed body is still running", func() {
			var running, peak atomic.Int32
			release := make(chan struct{})
			body := func(context.Context) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				<-release
				running.Add(-1)
				return nil
			}
			first := e.CreateTask(body).RunOnlyOnce("migrate-vm", nil)
			Expect(first.Submit()).To(Succeed())
			Expect(first.WaitForStart(ctx)).To(Succeed())
			first.Kill(false)
			Expect(first.Status()).To(Equal(scheduler.Killed))

			second := e.CreateTask(body).RunOnlyOnce("migrate-vm", nil)
			Expect(second.Submit()).To(Succeed())

			Expect(second.Redirect()).To(BeIdenticalTo(first))
			Expect(second.Status()).To(Equal(scheduler.Killed))
			Consistently(peak.Load, 100*time.Millisecond).Should(Equal(int32(1)))

			close(release)
			Expect(first.ConfirmTerminated(ctx, 3*time.Second)).To(Succeed())

			third := e.CreateTask(body).RunOnlyOnce("migrate-vm", nil)
			Expect(third.Submit()).To(Succeed())
			Expect(third.Redirect()).To(BeNil())
			Expect(third.Join(ctx)).To(Succeed())
			Expect(peak.Load()).To(Equal(int32(1)))
		})
	})

	Describe("Abort", func() {
		// Given a task still in the queue
		// When it is aborted
		// Then Abort returns true and the body never runs
		It("should abort a queued task cleanly", func() {
			Expect(e.Suspend(ctx, true)).To(Succeed())
			var runs atomic.Int32
			t := e.CreateTask(func(context.Context) error {
				runs.Add(1)
				return nil
			})
			Expect(t.Submit()).To(Succeed())

			Expect(t.Abort()).To(BeTrue())
			Expect(t.Abort()).To(BeFalse())

			e.Resume()
			Expect(e.WaitForTasksEnding(ctx)).To(Succeed())
			Expect(runs.Load()).To(BeZero())
			Expect(t.Status()).To(Equal(scheduler.Aborted))
			Expect(t.Join(ctx)).To(Succeed())
			Expect(t.WaitForStart(ctx)).To(Satisfy(srvErrors.IsTaskStateError))
		})

		It("should not abort a started task", func() {
			release := make(chan struct{})
			t := e.CreateTask(func(context.Context) error {
				<-release
				return nil
			})
			Expect(t.Submit()).To(Succeed())
			Expect(t.WaitForStart(ctx)).To(Succeed())

			Expect(t.Abort()).To(BeFalse())

			close(release)
			Expect(t.Join(ctx)).To(Succeed())
		})
	})

	Describe("Join", func() {
		It("should return the error of the body", func() {
			boom := errors.New("boom")
			t := e.CreateTask(func(context.Context) error { return boom })
			Expect(t.Submit()).To(Succeed())

			Expect(t.Join(ctx)).To(MatchError(boom))
			Expect(t.Status()).To(Equal(scheduler.Failed))
		})

		It("should not return an error marked handled", func() {
			boom := errors.New("boom")
			var seen error
			t := e.CreateTask(func(context.Context) error { return boom }).
				WithExceptionHandler(func(_ *scheduler.Task, err error) bool {
					seen = err
					return true
				})
			Expect(t.Submit()).To(Succeed())

			Expect(t.Join(ctx)).To(Succeed())
			Expect(seen).To(MatchError(boom))
			Expect(t.Err()).To(MatchError(boom))
		})

		It("should turn a panic into an error", func() {
			t := e.CreateTask(func(context.Context) error { panic("kaboom") })
			Expect(t.Submit()).To(Succeed())

			err := t.Join(ctx)

			Expect(srvErrors.IsPanicError(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("kaboom"))
		})
	})

	Describe("ProducerTask", func() {
		It("should return the produced value", func() {
			p := scheduler.CreateProducerTask(e, func(context.Context) (string, error) {
				return "inventory", nil
			}).WithName("producer")
			Expect(p.Submit()).To(Succeed())

			v, err := p.Get(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("inventory"))
		})

		It("should report no result for an aborted producer", func() {
			p := scheduler.CreateProducerTask(e, func(context.Context) (string, error) {
				return "never", nil
			})
			Expect(p.Abort()).To(BeTrue())

			_, err := p.Get(ctx)

			var stateErr *srvErrors.TaskStateError
			Expect(errors.As(err, &stateErr)).To(BeTrue())
			Expect(stateErr.Reason).To(Equal(srvErrors.ReasonNoResult))
		})
	})

	Describe("Interrupt", func() {
		It("should cancel the context of a running task", func() {
			t := e.CreateTask(func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			})
			Expect(t.Submit()).To(Succeed())
			Expect(t.WaitForStart(ctx)).To(Succeed())

			t.Interrupt()

			Expect(t.Join(ctx)).To(MatchError(context.Canceled))
			Expect(t.Status()).To(Equal(scheduler.Failed))
			Expect(t.ConfirmTerminated(ctx, 3*time.Second)).To(Succeed())
		})

		// Given a task whose body is returning while it is interrupted
		// When its worker goes back to the pool and runs the next task
		// Then the next task's worker is never retired by that interrupt
		It("should not retire a worker reused by another task", func() {
			single := workerpool.NewPool(workerpool.Options{MaxPoolable: 1, MaxWorkers: 1, AcquireTimeout: 20 * time.Millisecond})
			defer single.ShutdownAll()
			se := newExecutor(single, scheduler.Options{})
			defer func() { _ = se.Shutdown(ctx, false) }()

			for i := 0; i < 50; i++ {
				proceed := make(chan struct{})
				first := se.CreateTask(func(context.Context) error {
					<-proceed
					return nil
				})
				Expect(first.Submit()).To(Succeed())
				Expect(first.WaitForStart(ctx)).To(Succeed())

				interrupted := make(chan struct{})
				go func() {
					defer close(interrupted)
					first.Interrupt()
				}()
				close(proceed)

				hold := make(chan struct{})
				next := se.CreateTask(func(context.Context) error {
					<-hold
					return nil
				})
				Expect(next.Submit()).To(Succeed())
				Expect(next.WaitForStart(ctx)).To(Succeed())
				Eventually(interrupted).Should(BeClosed())

				Expect(next.Worker().State()).To(Equal(workerpool.Running))
				close(hold)
				Expect(next.Join(ctx)).To(Succeed())
				Expect(first.Join(ctx)).To(Succeed())
			}
		})
	})

	Describe("Kill", func() {
		// Given a running task
		// When it is killed
		// Then it is marked killed at once and its worker goroutine exits
		It("should kill a running task and retire its worker", func() {
			t := e.CreateTask(func(ctx context.Context) error {
				<-ctx.Done()
				return nil
			})
			Expect(t.Submit()).To(Succeed())
			Expect(t.WaitForStart(ctx)).To(Succeed())
			w := t.Worker()

			t.Kill(false)

			Expect(t.Status()).To(Equal(scheduler.Killed))
			Expect(srvErrors.IsTaskKilledError(t.Join(ctx))).To(BeTrue())
			Expect(t.ConfirmTerminated(ctx, 3*time.Second)).To(Succeed())
			Expect(w.State()).To(Equal(workerpool.Retired))
			Expect(w.Alive()).To(BeFalse())
		})

		// Given a running task that submitted a child task
		// When the parent is killed with cascade
		// Then the child is killed too
		It("should cascade to tasks submitted by the killed task", func() {
			childStarted := make(chan struct{})
			children := make(chan *scheduler.Task, 1)
			parent := e.CreateTask(func(ctx context.Context) error {
				child := e.CreateTask(func(cctx context.Context) error {
					close(childStarted)
					<-cctx.Done()
					return cctx.Err()
				})
				if err := child.SubmitContext(ctx); err != nil {
					return err
				}
				children <- child
				<-ctx.Done()
				return ctx.Err()
			})
			Expect(parent.Submit()).To(Succeed())
			var child *scheduler.Task
			Eventually(children).Should(Receive(&child))
			Eventually(childStarted).Should(BeClosed())
			Expect(child.Creator()).To(BeIdenticalTo(parent))

			parent.Kill(true)

			Expect(parent.Status()).To(Equal(scheduler.Killed))
			Expect(child.Status()).To(Equal(scheduler.Killed))
		})

		It("should abort a task that has not started", func() {
			Expect(e.Suspend(ctx, true)).To(Succeed())
			t := e.CreateTask(noop)
			Expect(t.Submit()).To(Succeed())

			t.Kill(false)

			Expect(t.Status()).To(Equal(scheduler.Aborted))
		})
	})

	Describe("Waiting", func() {
		It("should refuse to wait on a task that was never submitted", func() {
			t := e.CreateTask(noop)

			err := t.WaitForFinish(ctx)

			var stateErr *srvErrors.TaskStateError
			Expect(errors.As(err, &stateErr)).To(BeTrue())
			Expect(stateErr.Reason).To(Equal(srvErrors.ReasonNotSubmitted))
		})

		// Given a running task flagged as probably stuck
		// When a caller waits for it
		// Then the wait returns early unless it ignores the flag
		It("should stop waiting on a task flagged probably stuck", func() {
			release := make(chan struct{})
			t := e.CreateTask(func(context.Context) error {
				<-release
				return nil
			})
			Expect(t.Submit()).To(Succeed())
			Expect(t.WaitForStart(ctx)).To(Succeed())

			t.MarkProbablyStuck(true)

			Expect(t.IsProbablyStuck()).To(BeTrue())
			Expect(srvErrors.IsProbablyStuckError(t.WaitForFinish(ctx))).To(BeTrue())

			short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			Expect(t.WaitForFinish(short, scheduler.IgnoreProbablyStuck())).To(MatchError(context.DeadlineExceeded))

			close(release)
			Expect(t.Join(ctx, scheduler.IgnoreProbablyStuck())).To(Succeed())
		})

		It("should keep waiting when the flag does not release waiters", func() {
			release := make(chan struct{})
			t := e.CreateTask(func(context.Context) error {
				<-release
				return nil
			})
			Expect(t.Submit()).To(Succeed())
			Expect(t.WaitForStart(ctx)).To(Succeed())
			t.MarkProbablyStuck(false)

			done := make(chan error, 1)
			go func() { done <- t.WaitForFinish(ctx) }()

			Consistently(done, 50*time.Millisecond).ShouldNot(Receive())
			close(release)
			Eventually(done).Should(Receive(BeNil()))
		})
	})
})
