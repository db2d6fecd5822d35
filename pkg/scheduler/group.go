package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kubev2v/task-engine/internal/util"
	srvErrors "github.com/kubev2v/task-engine/pkg/errors"
	"github.com/kubev2v/task-engine/pkg/workerpool"
)

var DefaultPriorities = []int{1, 5, 10}

type GroupOptions struct {
	// Priorities are the levels a bucket can be built for. Tasks are routed
	// to the nearest level.
	Priorities      []int
	DefaultPriority int
	HighWatermark   int
	LowWatermark    int
	Owner           any
	Metrics         Metrics
	Logger          *zap.Logger
}

// Group routes tasks to one executor per priority level. Buckets are built
// the first time a level is used.
type Group struct {
	name     string
	opts     GroupOptions
	pool     *workerpool.Pool
	registry *Registry
	logger   *zap.SugaredLogger

	buckets    sync.Map // int -> *Executor
	terminated atomic.Bool
	once       sync.Once

	mu       sync.Mutex
	watchdog Watchdog
}

func NewGroup(name string, pool *workerpool.Pool, registry *Registry, opts GroupOptions) (*Group, error) {
	if pool == nil || registry == nil {
		return nil, fmt.Errorf("group %s: worker pool and registry are required", name)
	}
	if len(opts.Priorities) == 0 {
		opts.Priorities = DefaultPriorities
	}
	levels := make([]int, 0, len(opts.Priorities))
	for _, p := range opts.Priorities {
		if !util.Contains(levels, p) {
			levels = append(levels, p)
		}
	}
	sort.Ints(levels)
	opts.Priorities = levels
	if opts.DefaultPriority == 0 {
		opts.DefaultPriority = DefaultPriority
	}
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	return &Group{
		name:     name,
		opts:     opts,
		pool:     pool,
		registry: registry,
		logger:   opts.Logger.Sugar().Named("executor_group").With("group", name),
	}, nil
}

func (g *Group) Name() string { return g.name }

// CreateTask creates a task that is routed to the bucket matching priority
// when submitted.
func (g *Group) CreateTask(priority int, body Body) *Task {
	t := newTask(body, g.registry)
	t.group = g
	t.priority.Store(int64(priority))
	return t
}

// CreateDefaultTask creates a task at the group's default priority.
func (g *Group) CreateDefaultTask(body Body) *Task {
	return g.CreateTask(g.opts.DefaultPriority, body)
}

// Bucket returns the executor serving priority, building it on first use.
func (g *Group) Bucket(priority int) (*Executor, error) {
	level := util.Nearest(g.opts.Priorities, priority)
	if v, ok := g.buckets.Load(level); ok {
		return v.(*Executor), nil
	}

	var e *Executor
	err := g.registry.sync.ExecuteErr(g.bucketKey(level), func() error {
		if v, ok := g.buckets.Load(level); ok {
			e = v.(*Executor)
			return nil
		}
		if g.terminated.Load() {
			return srvErrors.NewExecutorTerminatedError(g.name)
		}
		created, err := NewExecutor(fmt.Sprintf("%s-p%d", g.name, level), g.pool, g.registry, Options{
			Priority:      level,
			HighWatermark: g.opts.HighWatermark,
			LowWatermark:  g.opts.LowWatermark,
			Owner:         g,
			Metrics:       g.opts.Metrics,
			Logger:        g.opts.Logger,
		})
		if err != nil {
			return err
		}
		g.buckets.Store(level, created)
		g.logger.Infow("bucket created", "priority", level)
		e = created
		return nil
	})
	return e, err
}

func (g *Group) bucketKey(level int) string {
	return fmt.Sprintf("group/%s/bucket/%d", g.name, level)
}

// Buckets returns the buckets built so far, highest priority first.
func (g *Group) Buckets() []*Executor {
	var buckets []*Executor
	g.buckets.Range(func(_, v any) bool {
		buckets = append(buckets, v.(*Executor))
		return true
	})
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Priority() > buckets[j].Priority()
	})
	return buckets
}

// ChangeTaskPriority changes the priority of t. A task still queued is moved
// to the bucket of its new priority; a running task only records it.
func (g *Group) ChangeTaskPriority(t *Task, priority int) error {
	to, err := g.Bucket(priority)
	if err != nil {
		return err
	}
	from := t.Executor()
	if from == nil || t.Status() != Submitted {
		t.priority.Store(int64(priority))
		return nil
	}
	if from == to {
		t.WithPriority(priority)
		return nil
	}
	if !from.queue.remove(t) {
		t.priority.Store(int64(priority))
		return nil
	}
	t.priority.Store(int64(priority))
	g.logger.Debugw("moving task between buckets", "task", t.String(), "from", from.Name(), "to", to.Name())
	return to.requeue(t)
}

// WaitForTasksEnding waits on every bucket in turn and repeats until a full
// pass finds nothing queued or running.
func (g *Group) WaitForTasksEnding(ctx context.Context) error {
	self := currentTask(ctx, g.registry)
	for {
		buckets := g.Buckets()
		for _, b := range buckets {
			if err := b.WaitForTasksEnding(ctx); err != nil {
				return err
			}
		}
		settled := len(buckets) == len(g.Buckets())
		for _, b := range buckets {
			if !b.idle(self) {
				settled = false
			}
		}
		if settled {
			return nil
		}
	}
}

func (g *Group) Suspend(ctx context.Context, immediate bool) error {
	for _, b := range g.Buckets() {
		if err := b.Suspend(ctx, immediate); err != nil {
			return err
		}
	}
	return nil
}

func (g *Group) Resume() {
	for _, b := range g.Buckets() {
		b.Resume()
	}
}

// SetWatchdog attaches a watchdog that is stopped when the group shuts down.
func (g *Group) SetWatchdog(w Watchdog) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.watchdog = w
}

func (g *Group) Stats() []Stats {
	buckets := g.Buckets()
	stats := make([]Stats, 0, len(buckets))
	for _, b := range buckets {
		stats = append(stats, b.Stats())
	}
	return stats
}

func (g *Group) Shutdown(ctx context.Context, wait bool) error {
	if g.opts.Owner != nil {
		err := srvErrors.NewUndestroyableError("executor group " + g.name)
		g.logger.Errorw("refusing to shut down executor group", "error", err)
		return err
	}
	return g.shutdown(ctx, wait)
}

func (g *Group) ShutdownAs(ctx context.Context, owner any, wait bool) error {
	if g.opts.Owner != owner {
		err := srvErrors.NewUndestroyableError("executor group " + g.name)
		g.logger.Errorw("refusing to shut down executor group", "error", err)
		return err
	}
	return g.shutdown(ctx, wait)
}

// shutdown drains the group when asked to, then shuts every bucket down
// concurrently and stops the watchdog.
func (g *Group) shutdown(ctx context.Context, wait bool) error {
	var err error
	g.once.Do(func() {
		if wait {
			if err = g.WaitForTasksEnding(ctx); err != nil {
				g.logger.Warnw("shutting down before tasks ended", "error", err)
			}
		}
		g.terminated.Store(true)

		var buckets []*Executor
		for _, level := range g.opts.Priorities {
			g.registry.sync.Execute(g.bucketKey(level), func() {
				if v, ok := g.buckets.LoadAndDelete(level); ok {
					buckets = append(buckets, v.(*Executor))
				}
			})
		}

		var eg errgroup.Group
		for _, b := range buckets {
			eg.Go(func() error {
				return b.ShutdownAs(ctx, g, false)
			})
		}
		if shutdownErr := eg.Wait(); shutdownErr != nil && err == nil {
			err = shutdownErr
		}

		g.mu.Lock()
		w := g.watchdog
		g.watchdog = nil
		g.mu.Unlock()
		if w != nil {
			w.Stop()
		}
		g.logger.Infow("executor group shut down", "buckets", len(buckets))
	})
	return err
}
