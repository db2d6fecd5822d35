package services_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/kubev2v/task-engine/internal/config"
	"github.com/kubev2v/task-engine/internal/services"
	srvErrors "github.com/kubev2v/task-engine/pkg/errors"
	"github.com/kubev2v/task-engine/pkg/scheduler"
)

var _ = Describe("WorkloadService", func() {
	var (
		engine *services.Engine
		svc    *services.WorkloadService
	)

	newService := func(opts ...config.MonitorOption) {
		if len(opts) == 0 {
			opts = []config.MonitorOption{config.WithStuckThreshold(time.Minute)}
		}
		var err error
		engine, err = services.NewEngine(testConfig(opts...), prom.NewRegistry())
		Expect(err).NotTo(HaveOccurred())
		svc = services.NewWorkloadService(engine)
	}

	AfterEach(func() {
		_ = engine.Shutdown(context.Background(), false)
	})

	It("should start in ready state", func() {
		newService()
		Expect(svc.GetStatus().State).To(Equal(services.WorkloadReady))
	})

	// Given a workload whose tasks spawn children
	// When it runs to completion
	// Then every task is executed and the summary says so
	It("should run a workload with children", func() {
		newService()

		Expect(svc.Start(services.Workload{Tasks: 20, Children: 2, TaskDuration: time.Millisecond})).To(Succeed())
		status, err := svc.Wait(context.Background())
		Expect(err).NotTo(HaveOccurred())

		Expect(status.State).To(Equal(services.WorkloadCompleted))
		Expect(status.Summary).NotTo(BeNil())
		Expect(status.Summary.Submitted).To(Equal(20))
		Expect(status.Summary.ByStatus[scheduler.Executed]).To(Equal(20))
		Expect(status.Summary.Buckets).NotTo(BeEmpty())
	})

	It("should refuse a second workload while one is running", func() {
		newService()

		Expect(svc.Start(services.Workload{Tasks: 4, TaskDuration: 200 * time.Millisecond})).To(Succeed())
		err := svc.Start(services.Workload{Tasks: 1})
		Expect(srvErrors.IsWorkloadInProgressError(err)).To(BeTrue())

		_, err = svc.Wait(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(svc.Start(services.Workload{Tasks: 1})).To(Succeed())
		_, err = svc.Wait(context.Background())
		Expect(err).NotTo(HaveOccurred())
	})

	It("should report stuck tasks flagged by the monitor", func() {
		newService(config.WithStuckThreshold(50 * time.Millisecond))

		Expect(svc.Start(services.Workload{Tasks: 2, Stuck: 1, Timeout: 5 * time.Second})).To(Succeed())
		status, err := svc.Wait(context.Background())
		Expect(err).NotTo(HaveOccurred())

		Expect(status.State).To(Equal(services.WorkloadCompleted))
		Expect(status.Summary.ProbablyStuck).To(Equal(1))
		Expect(status.Summary.Flagged).To(BeNumerically(">=", 1))
	})

	It("should deduplicate tasks sharing a run-once key", func() {
		newService()

		Expect(svc.Start(services.Workload{Tasks: 6, RunOnceKeys: 1, TaskDuration: 100 * time.Millisecond})).To(Succeed())
		status, err := svc.Wait(context.Background())
		Expect(err).NotTo(HaveOccurred())

		Expect(status.Summary.Redirected).To(BeNumerically(">=", 1))
	})

	It("should kill what is left when the timeout elapses", func() {
		newService(config.WithEnabled(false))

		Expect(svc.Start(services.Workload{Tasks: 2, TaskDuration: time.Hour, Timeout: 100 * time.Millisecond})).To(Succeed())
		status, err := svc.Wait(context.Background())
		Expect(err).NotTo(HaveOccurred())

		Expect(status.State).To(Equal(services.WorkloadCompleted))
		Expect(status.Summary.ByStatus[scheduler.Killed]).To(Equal(2))
	})

	It("should fail when stopped", func() {
		newService()

		Expect(svc.Start(services.Workload{Tasks: 2, TaskDuration: time.Hour})).To(Succeed())
		Eventually(func() int { return len(engine.Registry().InFlight()) }).Should(BeNumerically(">=", 2))
		svc.Stop()

		status, err := svc.Wait(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(status.State).To(Equal(services.WorkloadError))
		Expect(status.Error).To(HaveOccurred())
	})
})
