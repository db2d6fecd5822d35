// Package metrics exports task engine activity to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/kubev2v/task-engine/pkg/scheduler"
	"github.com/kubev2v/task-engine/pkg/workerpool"
)

const DefaultNamespace = "task_engine"

// Exporter records executor events as Prometheus collectors.
type Exporter struct {
	namespace string
	reg       prom.Registerer

	taskDurationSeconds *prom.HistogramVec
	taskOutcomeTotal    *prom.CounterVec
	taskPanicTotal      *prom.CounterVec
	taskRejectedTotal   *prom.CounterVec
	queueDepth          *prom.GaugeVec
}

var _ scheduler.Metrics = (*Exporter)(nil)

// NewExporter creates the collectors and registers them with reg. Collectors
// already registered under the same names are reused.
func NewExporter(namespace string, reg prom.Registerer) (*Exporter, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds.",
		Buckets:   prom.DefBuckets,
	}, []string{"executor", "priority"})
	outcomeVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_outcome_total",
		Help:      "Finished tasks by terminal status.",
	}, []string{"executor", "status"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of task panics.",
	}, []string{"executor"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_rejected_total",
		Help:      "Total number of tasks rejected at submit.",
	}, []string{"executor", "reason"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Queue depth observed at the last submit.",
	}, []string{"executor"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if outcomeVec, err = registerCollector(reg, outcomeVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}

	return &Exporter{
		namespace:           namespace,
		reg:                 reg,
		taskDurationSeconds: durationVec,
		taskOutcomeTotal:    outcomeVec,
		taskPanicTotal:      panicVec,
		taskRejectedTotal:   rejectedVec,
		queueDepth:          queueDepthVec,
	}, nil
}

func (m *Exporter) RecordTaskDuration(executor string, priority int, d time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(normalizeLabel(executor, "unknown"), strconv.Itoa(priority)).Observe(d.Seconds())
}

func (m *Exporter) RecordTaskOutcome(executor string, status scheduler.Status) {
	if m == nil {
		return
	}
	m.taskOutcomeTotal.WithLabelValues(normalizeLabel(executor, "unknown"), status.String()).Inc()
}

func (m *Exporter) RecordTaskPanic(executor string, _ any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(normalizeLabel(executor, "unknown")).Inc()
}

func (m *Exporter) RecordQueueDepth(executor string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(executor, "unknown")).Set(float64(depth))
}

func (m *Exporter) RecordTaskRejected(executor string, reason string) {
	if m == nil {
		return
	}
	m.taskRejectedTotal.WithLabelValues(normalizeLabel(executor, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RegisterPool exposes the pool's Stats as gauges evaluated at scrape time.
func (m *Exporter) RegisterPool(pool *workerpool.Pool) error {
	labels := prom.Labels{"pool": normalizeLabel(pool.Name(), "default")}
	gauges := map[string]struct {
		help  string
		value func(workerpool.Stats) int
	}{
		"pool_running_workers":  {"Workers currently running a task.", func(s workerpool.Stats) int { return s.Running }},
		"pool_idle_workers":     {"Poolable workers parked in an idle slot.", func(s workerpool.Stats) int { return s.Idle }},
		"pool_poolable_workers": {"Live poolable workers.", func(s workerpool.Stats) int { return s.Poolable }},
		"pool_detached_workers": {"Live detached workers.", func(s workerpool.Stats) int { return s.Detached }},
		"pool_worker_cap":       {"Current combined worker cap.", func(s workerpool.Stats) int { return s.Cap }},
	}
	for name, g := range gauges {
		value := g.value
		collector := prom.NewGaugeFunc(prom.GaugeOpts{
			Namespace:   m.namespace,
			Name:        name,
			Help:        g.help,
			ConstLabels: labels,
		}, func() float64 { return float64(value(pool.Stats())) })
		if _, err := registerCollector(m.reg, collector); err != nil {
			return fmt.Errorf("registering %s: %w", name, err)
		}
	}

	escalations := prom.NewCounterFunc(prom.CounterOpts{
		Namespace:   m.namespace,
		Name:        "pool_cap_escalations_total",
		Help:        "Times the worker cap was raised because acquisition timed out.",
		ConstLabels: labels,
	}, func() float64 { return float64(pool.Stats().Escalations) })
	if _, err := registerCollector(m.reg, escalations); err != nil {
		return fmt.Errorf("registering pool_cap_escalations_total: %w", err)
	}
	return nil
}

// RegisterCounter exposes a monotonically increasing value, such as the
// number of tasks flagged by the watchdog.
func (m *Exporter) RegisterCounter(name, help string, value func() int64) error {
	c := prom.NewCounterFunc(prom.CounterOpts{
		Namespace: m.namespace,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(value()) })
	_, err := registerCollector(m.reg, c)
	return err
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
