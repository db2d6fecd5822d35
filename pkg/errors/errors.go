// Package errors defines the error taxonomy shared by the task engine
// packages. Every error type has a constructor and an Is helper so callers
// never need to type-assert.
package errors

import (
	"errors"
	"fmt"
)

// Reasons attached to a TaskStateError.
const (
	ReasonAlreadySubmitted = "already submitted"
	ReasonAborted          = "aborted"
	ReasonNotSubmitted     = "not submitted"
	ReasonProbablyStuck    = "probably stuck"
	ReasonNoResult         = "no result available"
)

// TaskStateError is returned when an operation is not legal in the current
// lifecycle state of a task.
type TaskStateError struct {
	TaskID string
	Op     string
	Reason string
}

func (e *TaskStateError) Error() string {
	return fmt.Sprintf("task %s: cannot %s: %s", e.TaskID, e.Op, e.Reason)
}

func NewTaskStateError(taskID, op, reason string) *TaskStateError {
	return &TaskStateError{TaskID: taskID, Op: op, Reason: reason}
}

func IsTaskStateError(err error) bool {
	var e *TaskStateError
	return errors.As(err, &e)
}

// IsProbablyStuckError reports whether err is a TaskStateError raised because
// the watchdog flagged the task.
func IsProbablyStuckError(err error) bool {
	var e *TaskStateError
	if errors.As(err, &e) {
		return e.Reason == ReasonProbablyStuck
	}
	return false
}

// EmptyExecutableError is returned when a task is created without a body.
type EmptyExecutableError struct {
	TaskID string
}

func (e *EmptyExecutableError) Error() string {
	return fmt.Sprintf("task %s has no executable body", e.TaskID)
}

func NewEmptyExecutableError(taskID string) *EmptyExecutableError {
	return &EmptyExecutableError{TaskID: taskID}
}

func IsEmptyExecutableError(err error) bool {
	var e *EmptyExecutableError
	return errors.As(err, &e)
}

// UndestroyableError is returned when a component created as externally
// undestroyable is asked to shut down by someone other than its owner.
type UndestroyableError struct {
	Component string
}

func (e *UndestroyableError) Error() string {
	return fmt.Sprintf("%s can only be shut down by the component that created it", e.Component)
}

func NewUndestroyableError(component string) *UndestroyableError {
	return &UndestroyableError{Component: component}
}

func IsUndestroyableError(err error) bool {
	var e *UndestroyableError
	return errors.As(err, &e)
}

// PoolClosedError is returned by worker acquisition after ShutdownAll.
type PoolClosedError struct {
	Pool string
}

func (e *PoolClosedError) Error() string {
	return fmt.Sprintf("worker pool %s is closed", e.Pool)
}

func NewPoolClosedError(pool string) *PoolClosedError {
	return &PoolClosedError{Pool: pool}
}

func IsPoolClosedError(err error) bool {
	var e *PoolClosedError
	return errors.As(err, &e)
}

// ExecutorTerminatedError is returned when work is handed to an executor
// that has been shut down.
type ExecutorTerminatedError struct {
	Executor string
}

func (e *ExecutorTerminatedError) Error() string {
	return fmt.Sprintf("executor %s is terminated", e.Executor)
}

func NewExecutorTerminatedError(executor string) *ExecutorTerminatedError {
	return &ExecutorTerminatedError{Executor: executor}
}

func IsExecutorTerminatedError(err error) bool {
	var e *ExecutorTerminatedError
	return errors.As(err, &e)
}

// TaskKilledError is the captured error of a task terminated by Kill.
type TaskKilledError struct {
	TaskID string
}

func (e *TaskKilledError) Error() string {
	return fmt.Sprintf("task %s was killed", e.TaskID)
}

func NewTaskKilledError(taskID string) *TaskKilledError {
	return &TaskKilledError{TaskID: taskID}
}

func IsTaskKilledError(err error) bool {
	var e *TaskKilledError
	return errors.As(err, &e)
}

// PanicError wraps a value recovered from a panicking task body.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

func NewPanicError(value any, stack []byte) *PanicError {
	return &PanicError{Value: value, Stack: stack}
}

func IsPanicError(err error) bool {
	var e *PanicError
	return errors.As(err, &e)
}

// WorkloadInProgressError is returned when a workload is started while
// another one is still running.
type WorkloadInProgressError struct{}

func (e *WorkloadInProgressError) Error() string {
	return "a workload is already in progress"
}

func NewWorkloadInProgressError() *WorkloadInProgressError {
	return &WorkloadInProgressError{}
}

func IsWorkloadInProgressError(err error) bool {
	var e *WorkloadInProgressError
	return errors.As(err, &e)
}
