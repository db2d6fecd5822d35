// Package monitor watches in-flight tasks and flags the ones that look stuck.
//
// A task is a candidate once it has been running longer than StuckThreshold
// while its worker goroutine is parked (channel, select, lock, sleep, I/O).
// The candidate's stack is sampled on every poll; two identical consecutive
// samples flag the task as probably stuck. This is a heuristic: a legitimately
// slow blocking call looks the same as a wedged one.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/kubev2v/task-engine/internal/util"
	"github.com/kubev2v/task-engine/pkg/scheduler"
	"github.com/kubev2v/task-engine/pkg/workerpool"
)

const (
	DefaultPollingInterval = time.Second
	DefaultStuckThreshold  = 5 * time.Second
	DefaultConfirmTimeout  = 30 * time.Second
)

// Source lists the tasks currently executing. *scheduler.Registry implements it.
type Source interface {
	InFlight() []*scheduler.Task
}

type Options struct {
	PollingInterval time.Duration
	StuckThreshold  time.Duration
	// MarkAsProbablyStuck releases the waiters of a flagged task.
	MarkAsProbablyStuck bool
	Policy              Policy
	// LogStatus logs a summary of in-flight tasks on every poll.
	LogStatus         bool
	WarningsPerSecond float64
	// ConfirmTimeout bounds how long the monitor polls for a killed or
	// interrupted task to actually terminate.
	ConfirmTimeout time.Duration
	// Pool, when set, is included in status logs.
	Pool   *workerpool.Pool
	Logger *zap.Logger
}

type sample struct {
	stack string
	at    time.Time
}

type Monitor struct {
	source  Source
	opts    Options
	logger  *zap.SugaredLogger
	limiter *rate.Limiter

	samples map[uuid.UUID]sample
	flagged atomic.Int64

	ctx      context.Context
	cancel   context.CancelFunc
	started  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
	confirms sync.WaitGroup
}

func New(source Source, opts Options) *Monitor {
	if opts.PollingInterval <= 0 {
		opts.PollingInterval = DefaultPollingInterval
	}
	if opts.StuckThreshold <= 0 {
		opts.StuckThreshold = DefaultStuckThreshold
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = DefaultConfirmTimeout
	}
	base := opts.Logger
	if base == nil {
		base = zap.L()
	}

	limit := rate.Inf
	burst := 1
	if opts.WarningsPerSecond > 0 {
		limit = rate.Limit(opts.WarningsPerSecond)
		burst = max(1, int(opts.WarningsPerSecond))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		source:  source,
		opts:    opts,
		logger:  base.Sugar().Named("monitor"),
		limiter: rate.NewLimiter(limit, burst),
		samples: make(map[uuid.UUID]sample),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start launches the polling loop. Calling it more than once has no effect.
func (m *Monitor) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	m.logger.Infow("monitor started",
		"interval", m.opts.PollingInterval,
		"threshold", m.opts.StuckThreshold,
		"policy", m.opts.Policy.String())
	go m.loop()
}

// Stop ends the polling loop and waits for pending termination checks.
// It is safe to call more than once, and before Start.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		if m.started.Load() {
			<-m.done
		}
		m.confirms.Wait()
		m.logger.Infow("monitor stopped", "flagged", m.flagged.Load())
	})
}

// Flagged is the number of tasks flagged as probably stuck so far.
func (m *Monitor) Flagged() int64 {
	return m.flagged.Load()
}

func (m *Monitor) loop() {
	defer close(m.done)

	ticker := time.NewTicker(m.opts.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			m.check(now)
		}
	}
}

func (m *Monitor) check(now time.Time) {
	tasks := m.source.InFlight()
	if m.opts.LogStatus {
		m.logStatus(tasks)
	}

	var candidates []*scheduler.Task
	for _, t := range tasks {
		if t.IsProbablyStuck() || now.Sub(t.StartedAt()) < m.opts.StuckThreshold {
			continue
		}
		candidates = append(candidates, t)
	}

	seen := make(map[uuid.UUID]struct{}, len(candidates))
	if len(candidates) > 0 {
		dump := util.DumpGoroutines()
		for _, t := range candidates {
			w := t.Worker()
			if w == nil {
				continue
			}
			g, ok := dump[w.GoroutineID()]
			if !ok || !g.Waiting() {
				continue
			}
			seen[t.ID()] = struct{}{}

			prev, sampled := m.samples[t.ID()]
			if sampled && prev.stack == g.Stack {
				delete(m.samples, t.ID())
				m.flag(t, g, now.Sub(prev.at))
				continue
			}
			m.samples[t.ID()] = sample{stack: g.Stack, at: now}
		}
	}

	for id := range m.samples {
		if _, ok := seen[id]; !ok {
			delete(m.samples, id)
		}
	}
}

func (m *Monitor) flag(t *scheduler.Task, g util.GoroutineDump, unchangedFor time.Duration) {
	m.flagged.Add(1)
	t.MarkProbablyStuck(m.opts.MarkAsProbablyStuck)

	if m.limiter.Allow() {
		m.logger.Warnw("task is probably stuck",
			"task", t.String(),
			"running_for", time.Since(t.StartedAt()),
			"unchanged_for", unchangedFor,
			"state", g.State,
			"policy", m.opts.Policy.String())
		if ce := m.logger.Desugar().Check(zapcore.DebugLevel, "stack of probably stuck task"); ce != nil {
			ce.Write(zap.Stringer("task", t), zap.String("stack", g.Stack))
		}
	}

	switch m.opts.Policy {
	case PolicyInterrupt:
		t.Interrupt()
	case PolicyKill:
		t.Kill(false)
	default:
		return
	}

	m.confirms.Add(1)
	go func() {
		defer m.confirms.Done()
		if err := t.ConfirmTerminated(m.ctx, m.opts.ConfirmTimeout); err != nil {
			m.logger.Errorw("task did not terminate", "task", t.String(), "policy", m.opts.Policy.String(), "error", err)
			return
		}
		m.logger.Infow("task terminated", "task", t.String(), "status", t.Status().String())
	}()
}

func (m *Monitor) logStatus(tasks []*scheduler.Task) {
	fields := []any{"in_flight", len(tasks), "flagged", m.flagged.Load()}
	if len(tasks) > 0 {
		fields = append(fields, "oldest", tasks[0].String(), "oldest_running_for", time.Since(tasks[0].StartedAt()))
	}
	if m.opts.Pool != nil {
		s := m.opts.Pool.Stats()
		fields = append(fields, "running", s.Running, "idle", s.Idle, "cap", s.Cap, "escalations", s.Escalations)
	}
	m.logger.Infow("monitor status", fields...)
}
