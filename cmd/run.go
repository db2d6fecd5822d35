package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	prom "github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kubev2v/task-engine/internal/services"
	"github.com/kubev2v/task-engine/pkg/scheduler"
)

type runOptions struct {
	workload     services.Workload
	printMetrics bool
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a synthetic workload through the engine and print a summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, root)
		},
	}

	fs := cmd.Flags()
	fs.IntVar(&opts.workload.Tasks, "tasks", 100, "number of tasks")
	fs.IntVar(&opts.workload.Children, "children", 0, "child tasks submitted and joined by each task")
	fs.IntVar(&opts.workload.Stuck, "stuck", 0, "tasks that park until the workload is summarized")
	fs.DurationVar(&opts.workload.TaskDuration, "task-duration", 10*time.Millisecond, "time each task body sleeps")
	fs.IntVar(&opts.workload.RunOnceKeys, "run-once-keys", 0, "spread tasks over this many run-once keys")
	fs.DurationVar(&opts.workload.Timeout, "timeout", time.Minute, "kill whatever is unfinished after this long")
	fs.BoolVar(&opts.printMetrics, "print-metrics", true, "print gathered metrics when metrics are enabled")
	return cmd
}

func (o *runOptions) run(cmd *cobra.Command, root *rootOptions) error {
	logger := zap.S().Named("run")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prom.NewRegistry()
	engine, err := services.NewEngine(root.cfg, reg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := engine.Shutdown(shutdownCtx, false); err != nil {
			logger.Errorw("engine shutdown failed", "error", err)
		}
	}()

	svc := services.NewWorkloadService(engine)
	if err := svc.Start(o.workload); err != nil {
		return err
	}

	status, err := svc.Wait(ctx)
	if err != nil {
		logger.Warnw("interrupted, stopping workload", "error", err)
		svc.Stop()
		status, _ = svc.Wait(context.Background())
	}

	out := cmd.OutOrStdout()
	if status.State == services.WorkloadError {
		_, _ = color.New(color.FgRed, color.Bold).Fprintf(out, "workload failed: %v\n", status.Error)
		return status.Error
	}
	printSummary(out, status.Summary)

	if o.printMetrics && root.cfg.Metrics.Export {
		families, err := reg.Gather()
		if err != nil {
			return fmt.Errorf("gathering metrics: %w", err)
		}
		printMetrics(out, families)
	}
	return nil
}

func printSummary(out io.Writer, s *services.Summary) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	_, _ = bold.Fprintf(out, "workload summary (%s)\n", s.Elapsed.Round(time.Millisecond))
	_, _ = fmt.Fprintf(out, "  submitted   %d (%d redirected)\n", s.Submitted, s.Redirected)

	for _, st := range []scheduler.Status{
		scheduler.Executed, scheduler.Skipped, scheduler.Aborted,
		scheduler.Failed, scheduler.Killed, scheduler.Started,
	} {
		n := s.ByStatus[st]
		if n == 0 {
			continue
		}
		c := green
		switch st {
		case scheduler.Failed, scheduler.Killed:
			c = red
		case scheduler.Aborted, scheduler.Started:
			c = yellow
		}
		_, _ = c.Fprintf(out, "  %-11s %d\n", st, n)
	}
	if s.ProbablyStuck > 0 {
		_, _ = red.Fprintf(out, "  %-11s %d (flagged %d)\n", "stuck", s.ProbablyStuck, s.Flagged)
	}

	_, _ = bold.Fprintf(out, "pool %s\n", s.Pool.Name)
	_, _ = fmt.Fprintf(out, "  poolable %d  detached %d  idle %d  cap %d (initial %d)  escalations %d\n",
		s.Pool.Poolable, s.Pool.Detached, s.Pool.Idle, s.Pool.Cap, s.Pool.InitialCap, s.Pool.Escalations)

	_, _ = bold.Fprintln(out, "buckets")
	for _, b := range s.Buckets {
		_, _ = fmt.Fprintf(out, "  %-16s executed %-6d failed %-4d aborted %-4d killed %-4d queued %d\n",
			b.Name, b.Executed, b.Failed, b.Aborted, b.Killed, b.Queued)
	}
}

func printMetrics(out io.Writer, families []*dto.MetricFamily) {
	_, _ = color.New(color.Bold).Fprintln(out, "metrics")
	for _, f := range families {
		for _, m := range f.GetMetric() {
			_, _ = fmt.Fprintf(out, "  %s%s %s\n", f.GetName(), labels(m), value(f.GetType(), m))
		}
	}
}

func labels(m *dto.Metric) string {
	if len(m.GetLabel()) == 0 {
		return ""
	}
	s := "{"
	for i, l := range m.GetLabel() {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%s=%q", l.GetName(), l.GetValue())
	}
	return s + "}"
}

func value(t dto.MetricType, m *dto.Metric) string {
	switch t {
	case dto.MetricType_COUNTER:
		return fmt.Sprintf("%g", m.GetCounter().GetValue())
	case dto.MetricType_GAUGE:
		return fmt.Sprintf("%g", m.GetGauge().GetValue())
	case dto.MetricType_HISTOGRAM:
		h := m.GetHistogram()
		return fmt.Sprintf("count=%d sum=%.3fs", h.GetSampleCount(), h.GetSampleSum())
	default:
		return "-"
	}
}
