package scheduler

import (
	"context"
	"time"
)

// Body is the executable part of a Task. The context is cancelled when the
// task is interrupted, killed or its executor shuts down; bodies that block
// should select on ctx.Done().
type Body func(ctx context.Context) error

// Producer is the body of a ProducerTask.
type Producer[T any] func(ctx context.Context) (T, error)

// ExceptionHandler is called with the error captured from a failed task.
// Returning true marks the error as handled: Join and Get no longer return it.
type ExceptionHandler func(t *Task, err error) bool

// Status is the lifecycle state of a task.
type Status int32

const (
	Created Status = iota
	Submitted
	Started
	Executed
	Aborted
	Failed
	Killed
	Skipped
)

func (s Status) String() string {
	switch s {
	case Created:
		return "created"
	case Submitted:
		return "submitted"
	case Started:
		return "started"
	case Executed:
		return "executed"
	case Aborted:
		return "aborted"
	case Failed:
		return "failed"
	case Killed:
		return "killed"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Finished reports whether s is a terminal state.
func (s Status) Finished() bool {
	return s >= Executed
}

type waitOptions struct {
	ignoreProbablyStuck bool
}

type WaitOption func(*waitOptions)

// IgnoreProbablyStuck keeps waiting on a task even after the watchdog has
// flagged it.
func IgnoreProbablyStuck() WaitOption {
	return func(o *waitOptions) {
		o.ignoreProbablyStuck = true
	}
}

// Metrics receives execution events from executors. Implementations must be
// safe for concurrent use and must not block.
type Metrics interface {
	RecordTaskDuration(executor string, priority int, d time.Duration)
	RecordTaskOutcome(executor string, status Status)
	RecordTaskPanic(executor string, v any)
	RecordQueueDepth(executor string, depth int)
	RecordTaskRejected(executor string, reason string)
}

// NilMetrics drops every event. It is used when no Metrics are configured.
type NilMetrics struct{}

func (NilMetrics) RecordTaskDuration(string, int, time.Duration) {}
func (NilMetrics) RecordTaskOutcome(string, Status)              {}
func (NilMetrics) RecordTaskPanic(string, any)                   {}
func (NilMetrics) RecordQueueDepth(string, int)                  {}
func (NilMetrics) RecordTaskRejected(string, string)             {}

// Stats is a snapshot of an executor.
type Stats struct {
	Name       string
	Priority   int
	Queued     int
	InFlight   int
	Suspended  bool
	Terminated bool
	Executed   int64
	Failed     int64
	Aborted    int64
	Killed     int64
	Skipped    int64
}

// Watchdog is a background observer that is stopped together with a Group.
type Watchdog interface {
	Stop()
}
