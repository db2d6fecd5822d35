// Package scheduler runs tasks on workers drawn from a shared worker pool.
//
// Tasks are created on an Executor (one queue, one dispatcher) or on a Group
// (one Executor per priority level) and start once the dispatcher claims a
// worker for them.
//
// # Architecture Overview
//
//	┌─────────────────────────────────────────────────────────────────────┐
//	│                              Group                                  │
//	│                                                                     │
//	│   CreateTask(priority, body) ──► nearest priority level             │
//	│                                                                     │
//	│  ┌──────────────┐      ┌──────────────┐      ┌──────────────┐       │
//	│  │ Executor p10 │      │ Executor p5  │      │ Executor p1  │       │
//	│  │  [queue]     │      │  [queue]     │      │  [queue]     │       │
//	│  │  dispatch()  │      │  dispatch()  │      │  dispatch()  │       │
//	│  └──────┬───────┘      └──────┬───────┘      └──────┬───────┘       │
//	│         └─────────────────────┼─────────────────────┘               │
//	│                               ▼                                     │
//	│                  workerpool.Pool.Acquire(ctx)                       │
//	│                               │                                     │
//	│                 ┌─────────────┴─────────────┐                       │
//	│                 ▼                           ▼                       │
//	│          poolable worker             detached worker                │
//	└─────────────────────────────────────────────────────────────────────┘
//
// Every executor of an engine shares one Registry, which tracks run-once
// keys, the tasks currently executing and which task submitted which.
//
// # Task Lifecycle
//
//	Created ──Submit()──► Submitted ──dispatch──► Started ──► Executed
//	   │                     │                      │    └──► Failed
//	   │                     │                      └──Kill()──► Killed
//	   └──Abort()────────────┴──Abort()──► Aborted
//
// A run-once task whose already-done predicate holds at submit finishes as
// Skipped without being queued. A run-once task submitted while another task
// with the same key is unfinished is redirected: its handle reports the
// status, error and result of the existing task. A killed task keeps its key
// until its body has actually returned.
//
// # Dispatcher
//
// Each executor runs one dispatcher goroutine:
//
//	for {
//	    if terminated { return }
//	    if suspended  { wait for Resume }
//	    t := queue.pop()          // highest priority, then oldest
//	    if t == nil   { wait for a push }
//	    w := pool.Acquire(ctx)    // may block, may grow the pool
//	    w.Run(t.run)
//	}
//
// Within one executor tasks are claimed in submission order. The priority a
// task carries only picks its bucket; changing the priority of a task that is
// already queued moves it ahead of or behind its peers. Nothing is
// guaranteed across buckets of a group.
//
// # Backpressure
//
// Once a queue holds HighWatermark tasks, Submit blocks until it drains
// below LowWatermark or the submit context is done.
//
// # Cancellation
//
// The context handed to a body is the task's cancellation token:
//
//   - Abort removes a queued task; no worker was ever claimed.
//   - Interrupt cancels the context and retires the worker so the pool can
//     replace it. The task finishes with whatever the body returns.
//   - Kill cancels the context, retires the worker and marks the task Killed
//     right away. With cascade it also kills the tasks the victim submitted.
//
// Goroutines cannot be stopped from outside, so a body that ignores its
// context keeps running after Kill. ConfirmTerminated polls with backoff
// until the body has returned and the retired worker is gone.
//
// # Waiting
//
// WaitForStart, WaitForFinish, Join and ProducerTask.Get block on the task.
// Once the watchdog has flagged a task as probably stuck they return a
// TaskStateError instead, unless called with IgnoreProbablyStuck.
//
// # Futures
//
// Scheduler keeps the AddWork/Future style on top of a private executor:
//
//	s, _ := scheduler.NewScheduler("collector", pool, registry, scheduler.Options{})
//	defer s.Close()
//
//	future := s.AddWork(func(ctx context.Context) (any, error) {
//	    return "done", nil
//	})
//	result := <-future.C()
package scheduler
