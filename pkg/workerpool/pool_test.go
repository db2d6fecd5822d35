package workerpool_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	srvErrors "github.com/kubev2v/task-engine/pkg/errors"
	"github.com/kubev2v/task-engine/pkg/workerpool"
)

var _ = Describe("Pool", func() {
	var (
		p   *workerpool.Pool
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
	})

	AfterEach(func() {
		if p != nil {
			p.ShutdownAll()
		}
	})

	Describe("Acquire", func() {
		// Given an empty pool with two poolable slots
		// When a worker is acquired
		// Then a poolable worker in the Running state is created
		It("should create a poolable worker first", func() {
			p = workerpool.NewPool(workerpool.Options{MaxPoolable: 2, MaxWorkers: 4})

			w, err := p.Acquire(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(w.Kind()).To(Equal(workerpool.Poolable))
			Expect(w.State()).To(Equal(workerpool.Running))
			Expect(p.Stats().Running).To(Equal(1))
		})

		// Given a pool whose poolable slots are all busy
		// When another worker is acquired
		// Then a detached worker is created under the combined cap
		It("should create detached workers beyond the poolable cap", func() {
			p = workerpool.NewPool(workerpool.Options{MaxPoolable: 1, MaxWorkers: 2})

			first, err := p.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			second, err := p.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(first.Kind()).To(Equal(workerpool.Poolable))
			Expect(second.Kind()).To(Equal(workerpool.Detached))
			Expect(p.Stats().Detached).To(Equal(1))
		})

		// Given a poolable worker that finished its work
		// When a worker is acquired again
		// Then the same worker is reused
		It("should reuse idle poolable workers", func() {
			p = workerpool.NewPool(workerpool.Options{MaxPoolable: 1, MaxWorkers: 1})

			w, err := p.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			done := make(chan struct{})
			Expect(w.Run(func() { close(done) })).To(Succeed())
			Eventually(done).Should(BeClosed())
			Eventually(func() workerpool.State { return w.State() }).Should(Equal(workerpool.Idle))

			again, err := p.Acquire(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(again.ID()).To(Equal(w.ID()))
			Expect(p.Stats().Poolable).To(Equal(1))
		})

		// Given a saturated pool
		// When Acquire blocks longer than the acquire timeout
		// Then the combined cap is raised and a detached worker is supplied
		It("should escalate the cap when saturated", func() {
			p = workerpool.NewPool(workerpool.Options{
				MaxPoolable:    1,
				MaxWorkers:     1,
				AcquireTimeout: 20 * time.Millisecond,
				CapIncrement:   2,
				CapDecayIdle:   time.Hour,
			})

			_, err := p.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())

			w, err := p.Acquire(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(w.Kind()).To(Equal(workerpool.Detached))
			Expect(p.Cap()).To(Equal(3))
			Expect(p.Stats().Escalations).To(Equal(1))
		})

		// Given a pool built with default options that is saturated
		// When one more worker is acquired
		// Then the cap is raised by the default increment
		It("should escalate with default options", func() {
			p = workerpool.NewPool(workerpool.Options{})
			initial := p.Cap()
			for i := 0; i < initial; i++ {
				_, err := p.Acquire(ctx)
				Expect(err).NotTo(HaveOccurred())
			}

			w, err := p.Acquire(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(w.Kind()).To(Equal(workerpool.Detached))
			Expect(p.Cap()).To(Equal(initial + workerpool.DefaultCapIncrement))
			Expect(p.Stats().Escalations).To(Equal(1))
		})

		// Given a saturated pool with escalation disabled
		// When Acquire waits past the acquire timeout
		// Then the cap stays put and the caller waits until its context ends
		It("should not escalate when escalation is disabled", func() {
			p = workerpool.NewPool(workerpool.Options{
				MaxPoolable:    1,
				MaxWorkers:     1,
				AcquireTimeout: 10 * time.Millisecond,
				AcquireRetries: workerpool.NoEscalation,
			})
			_, err := p.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())

			waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
			defer cancel()
			_, err = p.Acquire(waitCtx)

			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(p.Cap()).To(Equal(1))
			Expect(p.Stats().Escalations).To(BeZero())
		})

		// Given a raised cap
		// When no further escalation happens for the decay period
		// Then the cap returns to its initial value
		It("should lower a raised cap after an idle period", func() {
			p = workerpool.NewPool(workerpool.Options{
				MaxPoolable:    1,
				MaxWorkers:     1,
				AcquireTimeout: 10 * time.Millisecond,
				CapIncrement:   1,
				CapDecayIdle:   50 * time.Millisecond,
			})
			_, err := p.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			_, err = p.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Cap()).To(Equal(2))

			Eventually(p.Cap, 2*time.Second, 10*time.Millisecond).Should(Equal(1))
		})

		// Given a saturated pool
		// When a worker is released while another caller waits
		// Then the waiter gets the released worker without escalation
		It("should wake a waiting caller on release", func() {
			p = workerpool.NewPool(workerpool.Options{
				MaxPoolable:    1,
				MaxWorkers:     1,
				AcquireTimeout: time.Hour,
			})
			w, err := p.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())

			got := make(chan *workerpool.Worker, 1)
			go func() {
				defer GinkgoRecover()
				other, err := p.Acquire(ctx)
				Expect(err).NotTo(HaveOccurred())
				got <- other
			}()

			Consistently(got, 50*time.Millisecond).ShouldNot(Receive())
			p.Release(w)

			var other *workerpool.Worker
			Eventually(got).Should(Receive(&other))
			Expect(other.ID()).To(Equal(w.ID()))
			Expect(p.Stats().Escalations).To(BeZero())
		})

		// Given a saturated pool
		// When the caller's context is cancelled
		// Then Acquire returns the context error
		It("should honour context cancellation", func() {
			p = workerpool.NewPool(workerpool.Options{MaxPoolable: 1, MaxWorkers: 1, AcquireTimeout: time.Hour})
			_, err := p.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())

			cctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
			defer cancel()
			_, err = p.Acquire(cctx)

			Expect(err).To(MatchError(context.DeadlineExceeded))
		})
	})

	Describe("Release", func() {
		// Given a detached worker
		// When its work finishes
		// Then the worker retires and its goroutine exits
		It("should retire detached workers after one unit of work", func() {
			p = workerpool.NewPool(workerpool.Options{MaxPoolable: 1, MaxWorkers: 2})
			_, err := p.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			d, err := p.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Kind()).To(Equal(workerpool.Detached))

			Expect(d.Run(func() {})).To(Succeed())

			Eventually(d.Exited()).Should(BeClosed())
			Expect(d.State()).To(Equal(workerpool.Retired))
			Eventually(func() int { return p.Stats().Detached }).Should(BeZero())
		})
	})

	Describe("Retire", func() {
		// Given a worker running a blocked unit of work
		// When it is retired
		// Then its capacity is released at once and the goroutine exits when the work returns
		It("should free capacity of a running worker immediately", func() {
			p = workerpool.NewPool(workerpool.Options{MaxPoolable: 1, MaxWorkers: 1, AcquireTimeout: time.Hour})
			w, err := p.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			unblock := make(chan struct{})
			Expect(w.Run(func() { <-unblock })).To(Succeed())

			p.Retire(w)

			Expect(w.State()).To(Equal(workerpool.Retired))
			Expect(p.Running()).To(BeZero())
			replacement, err := p.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(replacement.ID()).NotTo(Equal(w.ID()))
			Expect(w.Alive()).To(BeTrue())

			close(unblock)
			Eventually(w.Exited()).Should(BeClosed())
		})
	})

	Describe("ShutdownAll", func() {
		// Given a pool with idle workers
		// When it is shut down
		// Then idle workers exit and further acquisitions fail
		It("should stop idle workers and reject acquisition", func() {
			p = workerpool.NewPool(workerpool.Options{MaxPoolable: 2, MaxWorkers: 2})
			w, err := p.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			p.Release(w)
			Eventually(func() int { return p.Stats().Idle }).Should(Equal(1))

			p.ShutdownAll()

			Eventually(w.Exited()).Should(BeClosed())
			_, err = p.Acquire(ctx)
			Expect(srvErrors.IsPoolClosedError(err)).To(BeTrue())
		})

		// Given a caller blocked in Acquire
		// When the pool shuts down
		// Then the caller is released with an error
		It("should unblock waiting callers", func() {
			p = workerpool.NewPool(workerpool.Options{MaxPoolable: 1, MaxWorkers: 1, AcquireTimeout: time.Hour})
			_, err := p.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())

			errCh := make(chan error, 1)
			go func() {
				_, err := p.Acquire(ctx)
				errCh <- err
			}()
			Consistently(errCh, 30*time.Millisecond).ShouldNot(Receive())

			p.ShutdownAll()

			var got error
			Eventually(errCh).Should(Receive(&got))
			Expect(srvErrors.IsPoolClosedError(got)).To(BeTrue())
		})
	})

	Describe("Concurrency", func() {
		// Given many goroutines sharing a small pool
		// When each acquires, runs and releases repeatedly
		// Then every unit of work runs and the pool never exceeds its cap
		It("should serve concurrent callers", func() {
			p = workerpool.NewPool(workerpool.Options{MaxPoolable: 4, MaxWorkers: 4, AcquireTimeout: time.Hour})

			var executed atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					w, err := p.Acquire(ctx)
					Expect(err).NotTo(HaveOccurred())
					Expect(p.Running()).To(BeNumerically("<=", 4))
					Expect(w.Run(func() { executed.Add(1) })).To(Succeed())
				}()
			}
			wg.Wait()

			Eventually(executed.Load).Should(Equal(int32(50)))
			Eventually(p.Running).Should(BeZero())
		})
	})
})
