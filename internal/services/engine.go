package services

import (
	"context"
	"fmt"

	prom "github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kubev2v/task-engine/internal/config"
	"github.com/kubev2v/task-engine/pkg/metrics"
	"github.com/kubev2v/task-engine/pkg/monitor"
	"github.com/kubev2v/task-engine/pkg/scheduler"
	"github.com/kubev2v/task-engine/pkg/synchronizer"
	"github.com/kubev2v/task-engine/pkg/workerpool"
)

// Engine wires the pool, the registry, the executor group, the future
// scheduler, the watchdog and the metrics exporter from one configuration.
type Engine struct {
	cfg          *config.Configuration
	pool         *workerpool.Pool
	synchronizer *synchronizer.Synchronizer
	registry     *scheduler.Registry
	group        *scheduler.Group
	scheduler    *scheduler.Scheduler
	monitor      *monitor.Monitor
	exporter     *metrics.Exporter
	logger       *zap.SugaredLogger
}

// NewEngine builds an engine. reg may be nil when metrics are disabled; when
// they are enabled a nil reg means the default Prometheus registerer.
func NewEngine(cfg *config.Configuration, reg prom.Registerer) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	e := &Engine{
		cfg:          cfg,
		synchronizer: synchronizer.New(),
		logger:       zap.S().Named("engine"),
	}

	var m scheduler.Metrics = scheduler.NilMetrics{}
	if cfg.Metrics.Export {
		exporter, err := metrics.NewExporter(cfg.Metrics.Namespace, reg)
		if err != nil {
			return nil, fmt.Errorf("creating metrics exporter: %w", err)
		}
		e.exporter = exporter
		m = exporter
	}

	retries := cfg.Pool.AcquireRetries
	if retries == 0 {
		retries = workerpool.NoEscalation
	}
	e.pool = workerpool.NewPool(workerpool.Options{
		Name:           cfg.Pool.Name,
		MaxPoolable:    cfg.Pool.MaxPoolable,
		MaxWorkers:     cfg.Pool.MaxWorkers,
		AcquireTimeout: cfg.Pool.AcquireTimeout,
		AcquireRetries: retries,
		CapIncrement:   cfg.Pool.CapIncrement,
		CapDecayIdle:   cfg.Pool.CapDecayIdle,
	})
	e.registry = scheduler.NewRegistry(e.synchronizer)

	if e.exporter != nil {
		if err := e.exporter.RegisterPool(e.pool); err != nil {
			e.pool.ShutdownAll()
			return nil, fmt.Errorf("registering pool metrics: %w", err)
		}
	}

	group, err := scheduler.NewGroup(cfg.Executor.GroupName, e.pool, e.registry, scheduler.GroupOptions{
		Priorities:      cfg.Executor.Priorities,
		DefaultPriority: cfg.Executor.DefaultPriority,
		HighWatermark:   cfg.Executor.HighWatermark,
		LowWatermark:    cfg.Executor.LowWatermark,
		Owner:           e,
		Metrics:         m,
	})
	if err != nil {
		e.pool.ShutdownAll()
		return nil, fmt.Errorf("creating executor group: %w", err)
	}
	e.group = group

	e.scheduler, err = scheduler.NewScheduler(cfg.Executor.GroupName+"-futures", e.pool, e.registry, scheduler.Options{
		HighWatermark: cfg.Executor.HighWatermark,
		LowWatermark:  cfg.Executor.LowWatermark,
		Metrics:       m,
	})
	if err != nil {
		_ = e.group.ShutdownAs(context.Background(), e, false)
		e.pool.ShutdownAll()
		return nil, err
	}

	if cfg.Monitor.Enabled {
		policy, _ := monitor.ParsePolicy(cfg.Monitor.TerminationPolicy)
		e.monitor = monitor.New(e.registry, monitor.Options{
			PollingInterval:     cfg.Monitor.PollingInterval,
			StuckThreshold:      cfg.Monitor.StuckThreshold,
			MarkAsProbablyStuck: cfg.Monitor.MarkAsProbablyStuck,
			Policy:              policy,
			LogStatus:           cfg.Monitor.LogStatus,
			WarningsPerSecond:   cfg.Monitor.WarningsPerSecond,
			ConfirmTimeout:      cfg.Monitor.ConfirmTimeout,
			Pool:                e.pool,
		})
		e.group.SetWatchdog(e.monitor)
		if e.exporter != nil {
			if err := e.exporter.RegisterCounter("stuck_tasks_total", "Tasks flagged as probably stuck.", e.monitor.Flagged); err != nil {
				e.logger.Warnw("failed to register stuck task counter", "error", err)
			}
		}
		e.monitor.Start()
	}

	e.logger.Infow("engine started",
		"pool", cfg.Pool.Name,
		"group", cfg.Executor.GroupName,
		"priorities", cfg.Executor.Priorities,
		"monitor", cfg.Monitor.Enabled,
		"metrics", cfg.Metrics.Export)

	return e, nil
}

func (e *Engine) Config() *config.Configuration            { return e.cfg }
func (e *Engine) Pool() *workerpool.Pool                   { return e.pool }
func (e *Engine) Synchronizer() *synchronizer.Synchronizer { return e.synchronizer }
func (e *Engine) Registry() *scheduler.Registry            { return e.registry }
func (e *Engine) Group() *scheduler.Group                  { return e.group }
func (e *Engine) Scheduler() *scheduler.Scheduler          { return e.scheduler }

// Monitor is nil when the watchdog is disabled.
func (e *Engine) Monitor() *monitor.Monitor { return e.monitor }

// FlaggedTasks is the number of tasks the watchdog flagged as probably stuck.
func (e *Engine) FlaggedTasks() int64 {
	if e.monitor == nil {
		return 0
	}
	return e.monitor.Flagged()
}

// Shutdown stops the future scheduler and the group (which stops the
// watchdog) and then every worker of the pool. With wait, the group drains
// before it stops.
func (e *Engine) Shutdown(ctx context.Context, wait bool) error {
	var err error

	if wait {
		err = multierr.Append(err, e.group.WaitForTasksEnding(ctx))
	}
	e.scheduler.Close()
	err = multierr.Append(err, e.group.ShutdownAs(ctx, e, false))
	if e.monitor != nil {
		e.monitor.Stop()
	}
	e.pool.ShutdownAll()

	if err != nil {
		e.logger.Warnw("engine stopped with errors", "error", err)
		return err
	}
	e.logger.Info("engine stopped")
	return nil
}
