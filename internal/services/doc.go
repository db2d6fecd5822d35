// Package services assembles the task engine and drives workloads through it.
//
// # Service Dependency Graph
//
//	CLI (cmd/run)
//	    │
//	    ▼
//	Services Layer
//	    ├── Engine ───────────► Pool, Synchronizer, Registry, Group, Scheduler, Monitor, Exporter
//	    └── WorkloadService ──► Engine (Scheduler for the driver, Group for the tasks)
//
// # Engine
//
// Engine is the composition root. NewEngine validates the configuration and
// builds, in order:
//
//  1. the metrics exporter, when metrics are enabled
//  2. the shared worker pool
//  3. the synchronizer and the registry every executor shares
//  4. the executor group, owned by the engine so nobody else can shut it down
//  5. a future scheduler on its own executor
//  6. the watchdog, attached to the group and started
//
// Shutdown runs the other way round and aggregates every error:
//
//	engine, err := services.NewEngine(cfg, prometheus.DefaultRegisterer)
//	defer engine.Shutdown(ctx, true)
//
//	t := engine.Group().CreateTask(10, func(ctx context.Context) error { ... })
//	_ = t.Submit()
//
// # WorkloadService
//
// WorkloadService runs a synthetic workload used to smoke test a configuration.
//
// State Machine:
//
//	┌───────┐    ┌─────────┐    ┌───────────┐
//	│ Ready │───►│ Running │───►│ Completed │
//	└───────┘    └─────────┘    └───────────┘
//	                 │  ▲             │
//	                 ▼  │ (restart)   │
//	             ┌───────┐            │
//	             │ Error │◄───────────┘ (next run fails)
//	             └───────┘
//
// Key behaviors:
//   - Only one workload runs at a time (returns WorkloadInProgressError otherwise)
//   - The driver is a future on the engine scheduler; Stop interrupts it and the
//     driver kills every unfinished task with cascade
//   - Tasks are spread round robin over the group's priority levels and may
//     submit and join child tasks, which exercises pool escalation
//   - Stuck tasks park until the workload is summarized so the watchdog can
//     flag them
//   - A timeout kills whatever has not finished and still produces a summary
//
// Usage:
//
//	svc := services.NewWorkloadService(engine)
//	err := svc.Start(services.Workload{Tasks: 100, Children: 2})
//	status, err := svc.Wait(ctx)
package services
