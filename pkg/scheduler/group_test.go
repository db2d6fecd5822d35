package scheduler_test

import (
	"context"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	srvErrors "github.com/kubev2v/task-engine/pkg/errors"
	"github.com/kubev2v/task-engine/pkg/scheduler"
	"github.com/kubev2v/task-engine/pkg/workerpool"
)

type fakeWatchdog struct {
	stopped atomic.Int32
}

func (f *fakeWatchdog) Stop() { f.stopped.Add(1) }

var _ = Describe("Group", func() {
	var (
		ctx  context.Context
		pool *workerpool.Pool
		g    *scheduler.Group
	)

	noop := func(context.Context) error { return nil }

	BeforeEach(func() {
		ctx = context.Background()
		pool = newPool(2, 4)
		var err error
		g, err = scheduler.NewGroup("test", pool, newRegistry(), scheduler.GroupOptions{
			Priorities: []int{10, 1, 5},
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = g.Shutdown(ctx, false)
		pool.ShutdownAll()
	})

	Describe("Routing", func() {
		It("should build buckets lazily", func() {
			Expect(g.Buckets()).To(BeEmpty())

			t := g.CreateTask(1, noop)
			Expect(t.Submit()).To(Succeed())

			Expect(g.Buckets()).To(HaveLen(1))
			Expect(t.Join(ctx)).To(Succeed())
		})

		// Given buckets for priorities 1, 5 and 10
		// When tasks are created with priorities that have no exact bucket
		// Then each is routed to the nearest level
		It("should route tasks to the nearest priority level", func() {
			seven := g.CreateTask(7, noop)
			eight := g.CreateTask(8, noop)
			zero := g.CreateTask(0, noop)
			def := g.CreateDefaultTask(noop)

			for _, t := range []*scheduler.Task{seven, eight, zero, def} {
				Expect(t.Submit()).To(Succeed())
			}

			Expect(seven.Executor().Priority()).To(Equal(5))
			Expect(eight.Executor().Priority()).To(Equal(10))
			Expect(zero.Executor().Priority()).To(Equal(1))
			Expect(def.Executor().Priority()).To(Equal(5))
			Expect(seven.Executor()).To(BeIdenticalTo(def.Executor()))
			Expect(g.Buckets()).To(HaveLen(3))
			Expect(g.Buckets()[0].Priority()).To(Equal(10))
		})

		// Given tasks with priorities 4 and 6 that both route to level 5
		// When they are submitted in that order to a suspended bucket
		// Then the bucket claims them in submission order
		It("should keep submission order within a bucket", func() {
			single := workerpool.NewPool(workerpool.Options{MaxPoolable: 1, MaxWorkers: 1, AcquireTimeout: time.Hour})
			defer single.ShutdownAll()
			sg, err := scheduler.NewGroup("ordered", single, newRegistry(), scheduler.GroupOptions{
				Priorities: []int{1, 5, 10},
			})
			Expect(err).NotTo(HaveOccurred())
			defer func() { _ = sg.Shutdown(ctx, false) }()

			bucket, err := sg.Bucket(5)
			Expect(err).NotTo(HaveOccurred())
			Expect(bucket.Suspend(ctx, true)).To(Succeed())

			order := &recorder{}
			a := sg.CreateTask(4, order.body("A"))
			b := sg.CreateTask(6, order.body("B"))
			Expect(a.Submit()).To(Succeed())
			Expect(b.Submit()).To(Succeed())
			Expect(b.Executor()).To(BeIdenticalTo(a.Executor()))
			bucket.Resume()

			Expect(sg.WaitForTasksEnding(ctx)).To(Succeed())
			Expect(order.names()).To(Equal([]string{"A", "B"}))
		})

		It("should return the same bucket for the same level", func() {
			a, err := g.Bucket(4)
			Expect(err).NotTo(HaveOccurred())
			b, err := g.Bucket(6)
			Expect(err).NotTo(HaveOccurred())

			Expect(a).To(BeIdenticalTo(b))
		})
	})

	Describe("ChangeTaskPriority", func() {
		// Given a task queued in a suspended low priority bucket
		// When its priority is raised
		// Then it moves to the high priority bucket and runs there
		It("should move a queued task between buckets", func() {
			low, err := g.Bucket(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(low.Suspend(ctx, true)).To(Succeed())

			var ran atomic.Bool
			t := g.CreateTask(1, func(context.Context) error {
				ran.Store(true)
				return nil
			})
			Expect(t.Submit()).To(Succeed())
			Consistently(ran.Load, 50*time.Millisecond).Should(BeFalse())

			Expect(g.ChangeTaskPriority(t, 10)).To(Succeed())

			Expect(t.Join(ctx)).To(Succeed())
			Expect(ran.Load()).To(BeTrue())
			Expect(t.Priority()).To(Equal(10))
			Expect(t.Executor().Priority()).To(Equal(10))
			Expect(low.QueueLen()).To(BeZero())
		})

		It("should only record the priority of a running task", func() {
			release := make(chan struct{})
			t := g.CreateTask(1, func(context.Context) error {
				<-release
				return nil
			})
			Expect(t.Submit()).To(Succeed())
			Expect(t.WaitForStart(ctx)).To(Succeed())
			before := t.Executor()

			Expect(g.ChangeTaskPriority(t, 10)).To(Succeed())

			Expect(t.Priority()).To(Equal(10))
			Expect(t.Executor()).To(BeIdenticalTo(before))
			close(release)
			Expect(t.Join(ctx)).To(Succeed())
		})
	})

	Describe("WaitForTasksEnding", func() {
		// Given a task that spawns a child in another bucket
		// When the group waits for its tasks
		// Then the wait covers the child as well
		It("should wait for tasks spawned in other buckets", func() {
			var childDone atomic.Bool
			parent := g.CreateTask(1, func(ctx context.Context) error {
				time.Sleep(20 * time.Millisecond)
				return g.CreateTask(10, func(context.Context) error {
					time.Sleep(30 * time.Millisecond)
					childDone.Store(true)
					return nil
				}).SubmitContext(ctx)
			})
			Expect(parent.Submit()).To(Succeed())

			Expect(g.WaitForTasksEnding(ctx)).To(Succeed())

			Expect(childDone.Load()).To(BeTrue())
		})
	})

	Describe("Suspend and Resume", func() {
		It("should suspend every bucket", func() {
			for _, p := range []int{1, 10} {
				_, err := g.Bucket(p)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(g.Suspend(ctx, true)).To(Succeed())

			var ran atomic.Int32
			for _, p := range []int{1, 10} {
				Expect(g.CreateTask(p, func(context.Context) error {
					ran.Add(1)
					return nil
				}).Submit()).To(Succeed())
			}
			Consistently(ran.Load, 100*time.Millisecond).Should(BeZero())

			g.Resume()

			Eventually(ran.Load).Should(Equal(int32(2)))
		})
	})

	Describe("Shutdown", func() {
		It("should shut every bucket down and stop the watchdog", func() {
			w := &fakeWatchdog{}
			g.SetWatchdog(w)
			var executed atomic.Int32
			for _, p := range []int{1, 5, 10} {
				Expect(g.CreateTask(p, func(context.Context) error {
					executed.Add(1)
					return nil
				}).Submit()).To(Succeed())
			}
			buckets := g.Buckets()

			Expect(g.Shutdown(ctx, true)).To(Succeed())

			Expect(executed.Load()).To(Equal(int32(3)))
			Expect(w.stopped.Load()).To(Equal(int32(1)))
			for _, b := range buckets {
				Expect(b.Terminated()).To(BeTrue())
			}
			Expect(g.Buckets()).To(BeEmpty())
			Expect(srvErrors.IsExecutorTerminatedError(g.CreateTask(5, noop).Submit())).To(BeTrue())
		})

		It("should not let a bucket be shut down from outside", func() {
			b, err := g.Bucket(5)
			Expect(err).NotTo(HaveOccurred())

			Expect(srvErrors.IsUndestroyableError(b.Shutdown(ctx, false))).To(BeTrue())
			Expect(b.Terminated()).To(BeFalse())
		})

		It("should refuse to shut down an undestroyable group", func() {
			owner := &struct{ name string }{name: "engine"}
			owned, err := scheduler.NewGroup("owned", pool, newRegistry(), scheduler.GroupOptions{Owner: owner})
			Expect(err).NotTo(HaveOccurred())

			Expect(srvErrors.IsUndestroyableError(owned.Shutdown(ctx, false))).To(BeTrue())
			Expect(owned.ShutdownAs(ctx, owner, false)).To(Succeed())
		})
	})
})
