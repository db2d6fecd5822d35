package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	srvErrors "github.com/kubev2v/task-engine/pkg/errors"
	"github.com/kubev2v/task-engine/pkg/scheduler"
	"github.com/kubev2v/task-engine/pkg/workerpool"
)

type WorkloadState string

const (
	WorkloadReady     WorkloadState = "ready"
	WorkloadRunning   WorkloadState = "running"
	WorkloadCompleted WorkloadState = "completed"
	WorkloadError     WorkloadState = "error"
)

// Workload describes a synthetic batch of tasks spread over the group's
// priority levels.
type Workload struct {
	Tasks int
	// Children is the number of child tasks each task submits and joins.
	Children int
	// Stuck tasks park on a channel that is only closed once the workload
	// has been summarized.
	Stuck        int
	TaskDuration time.Duration
	// RunOnceKeys, when positive, spreads the tasks over that many run-once keys.
	RunOnceKeys int
	Timeout     time.Duration
}

type Summary struct {
	Submitted     int
	Redirected    int
	ByStatus      map[scheduler.Status]int
	ProbablyStuck int
	Flagged       int64
	Elapsed       time.Duration
	Pool          workerpool.Stats
	Buckets       []scheduler.Stats
}

type WorkloadStatus struct {
	State   WorkloadState
	Error   error
	Summary *Summary
}

// WorkloadService drives one workload at a time through the engine. The
// driving body itself runs on the engine's future scheduler.
type WorkloadService struct {
	engine *Engine
	logger *zap.SugaredLogger

	mu      sync.Mutex
	state   WorkloadState
	err     error
	summary *Summary
	future  *scheduler.Future[scheduler.Result[any]]
	done    chan struct{}
}

func NewWorkloadService(e *Engine) *WorkloadService {
	done := make(chan struct{})
	close(done)
	return &WorkloadService{
		engine: e,
		logger: zap.S().Named("workload_service"),
		state:  WorkloadReady,
		done:   done,
	}
}

// Start runs w in the background. It fails with WorkloadInProgressError
// while another workload is running.
func (s *WorkloadService) Start(w Workload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == WorkloadRunning {
		return srvErrors.NewWorkloadInProgressError()
	}

	s.state = WorkloadRunning
	s.err = nil
	s.summary = nil
	s.done = make(chan struct{})
	s.future = s.engine.Scheduler().AddWork(func(ctx context.Context) (any, error) {
		return s.run(ctx, w)
	})

	s.logger.Infow("workload started", "tasks", w.Tasks, "children", w.Children, "stuck", w.Stuck)
	go s.wait(s.future, s.done)
	return nil
}

// Stop interrupts the running workload. Its tasks are killed.
func (s *WorkloadService) Stop() {
	s.mu.Lock()
	f := s.future
	s.mu.Unlock()
	if f != nil {
		f.Stop()
	}
}

// Wait blocks until the current workload is over or ctx is done.
func (s *WorkloadService) Wait(ctx context.Context) (WorkloadStatus, error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		return s.GetStatus(), nil
	case <-ctx.Done():
		return s.GetStatus(), ctx.Err()
	}
}

func (s *WorkloadService) GetStatus() WorkloadStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return WorkloadStatus{State: s.state, Error: s.err, Summary: s.summary}
}

func (s *WorkloadService) wait(f *scheduler.Future[scheduler.Result[any]], done chan struct{}) {
	defer close(done)
	r := <-f.C()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.future = nil
	if r.Err != nil {
		s.state = WorkloadError
		s.err = r.Err
		s.logger.Errorw("workload failed", "error", r.Err)
		return
	}
	s.state = WorkloadCompleted
	s.summary, _ = r.Data.(*Summary)
	if s.summary != nil {
		s.logger.Infow("workload completed", "elapsed", s.summary.Elapsed, "stuck", s.summary.ProbablyStuck)
	}
}

func (s *WorkloadService) run(ctx context.Context, w Workload) (*Summary, error) {
	start := time.Now()
	group := s.engine.Group()
	levels := s.engine.Config().Executor.Priorities

	release := make(chan struct{})
	defer close(release)

	tasks := make([]*scheduler.Task, 0, w.Tasks+w.Stuck)
	killAll := func() {
		for _, t := range tasks {
			if !t.Status().Finished() {
				t.Kill(true)
			}
		}
	}

	for i := 0; i < w.Tasks; i++ {
		prio := levels[i%len(levels)]
		t := group.CreateTask(prio, s.body(w, prio)).WithName(fmt.Sprintf("workload-%d", i))
		if w.RunOnceKeys > 0 {
			t.RunOnlyOnce(fmt.Sprintf("workload-key-%d", i%w.RunOnceKeys), nil)
		}
		if err := t.SubmitContext(ctx); err != nil {
			killAll()
			return nil, fmt.Errorf("submitting %s: %w", t, err)
		}
		tasks = append(tasks, t)
	}
	for i := 0; i < w.Stuck; i++ {
		t := group.CreateDefaultTask(func(context.Context) error {
			<-release
			return nil
		}).WithName(fmt.Sprintf("stuck-%d", i))
		if err := t.SubmitContext(ctx); err != nil {
			killAll()
			return nil, fmt.Errorf("submitting %s: %w", t, err)
		}
		tasks = append(tasks, t)
	}

	waitCtx := ctx
	if w.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}
	for _, t := range tasks {
		if err := t.WaitForFinish(waitCtx); err != nil && !srvErrors.IsProbablyStuckError(err) {
			s.logger.Warnw("workload did not finish in time", "error", err)
			break
		}
	}
	if waitCtx.Err() != nil {
		killAll()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary := &Summary{
		Submitted: len(tasks),
		ByStatus:  make(map[scheduler.Status]int),
		Flagged:   s.engine.FlaggedTasks(),
		Elapsed:   time.Since(start),
		Pool:      s.engine.Pool().Stats(),
		Buckets:   group.Stats(),
	}
	for _, t := range tasks {
		summary.ByStatus[t.Status()]++
		if t.Redirect() != nil {
			summary.Redirected++
		}
		if t.IsProbablyStuck() {
			summary.ProbablyStuck++
		}
	}
	return summary, nil
}

func (s *WorkloadService) body(w Workload, prio int) scheduler.Body {
	group := s.engine.Group()
	return func(ctx context.Context) error {
		if err := sleep(ctx, w.TaskDuration); err != nil {
			return err
		}

		children := make([]*scheduler.Task, 0, w.Children)
		for c := 0; c < w.Children; c++ {
			child := group.CreateTask(prio, func(ctx context.Context) error {
				return sleep(ctx, w.TaskDuration)
			})
			if err := child.SubmitContext(ctx); err != nil {
				return err
			}
			children = append(children, child)
		}

		var err error
		for _, c := range children {
			err = multierr.Append(err, c.Join(ctx))
		}
		return err
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
