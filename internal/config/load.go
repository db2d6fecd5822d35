package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"

	"github.com/kubev2v/task-engine/pkg/monitor"
)

const (
	KeyPoolName           = "pool.name"
	KeyPoolMaxPoolable    = "pool.max-poolable"
	KeyPoolMaxWorkers     = "pool.max-workers"
	KeyPoolAcquireTimeout = "pool.acquire-timeout"
	KeyPoolAcquireRetries = "pool.acquire-retries"
	KeyPoolCapIncrement   = "pool.cap-increment"
	KeyPoolCapDecayIdle   = "pool.cap-decay-idle"

	KeyExecutorGroupName       = "executor.group-name"
	KeyExecutorPriorities      = "executor.priorities"
	KeyExecutorDefaultPriority = "executor.default-priority"
	KeyExecutorHighWatermark   = "executor.high-watermark"
	KeyExecutorLowWatermark    = "executor.low-watermark"

	KeyMonitorEnabled             = "monitor.enabled"
	KeyMonitorPollingInterval     = "monitor.polling-interval"
	KeyMonitorStuckThreshold      = "monitor.stuck-threshold"
	KeyMonitorMarkAsProbablyStuck = "monitor.mark-as-probably-stuck"
	KeyMonitorTerminationPolicy   = "monitor.termination-policy"
	KeyMonitorLogStatus           = "monitor.log-status"
	KeyMonitorWarningsPerSecond   = "monitor.warnings-per-second"
	KeyMonitorConfirmTimeout      = "monitor.confirm-timeout"

	KeyMetricsEnabled   = "metrics.enabled"
	KeyMetricsNamespace = "metrics.namespace"

	KeyLogFormat = "log-format"
	KeyLogLevel  = "log-level"
)

// Reader is a string-keyed configuration source. *viper.Viper implements it.
type Reader interface {
	IsSet(key string) bool
	GetString(key string) string
	GetInt(key string) int
	GetIntSlice(key string) []int
	GetBool(key string) bool
	GetFloat64(key string) float64
	GetDuration(key string) time.Duration
}

// Load starts from the defaults and overrides every key set in r.
func Load(r Reader) (*Configuration, error) {
	cfg := NewConfigurationWithOptionsAndDefaults()

	readString(r, KeyPoolName, &cfg.Pool.Name)
	readInt(r, KeyPoolMaxPoolable, &cfg.Pool.MaxPoolable)
	readInt(r, KeyPoolMaxWorkers, &cfg.Pool.MaxWorkers)
	readDuration(r, KeyPoolAcquireTimeout, &cfg.Pool.AcquireTimeout)
	readInt(r, KeyPoolAcquireRetries, &cfg.Pool.AcquireRetries)
	readInt(r, KeyPoolCapIncrement, &cfg.Pool.CapIncrement)
	readDuration(r, KeyPoolCapDecayIdle, &cfg.Pool.CapDecayIdle)

	readString(r, KeyExecutorGroupName, &cfg.Executor.GroupName)
	if r.IsSet(KeyExecutorPriorities) {
		cfg.Executor.Priorities = r.GetIntSlice(KeyExecutorPriorities)
	}
	readInt(r, KeyExecutorDefaultPriority, &cfg.Executor.DefaultPriority)
	readInt(r, KeyExecutorHighWatermark, &cfg.Executor.HighWatermark)
	readInt(r, KeyExecutorLowWatermark, &cfg.Executor.LowWatermark)

	readBool(r, KeyMonitorEnabled, &cfg.Monitor.Enabled)
	readDuration(r, KeyMonitorPollingInterval, &cfg.Monitor.PollingInterval)
	readDuration(r, KeyMonitorStuckThreshold, &cfg.Monitor.StuckThreshold)
	readBool(r, KeyMonitorMarkAsProbablyStuck, &cfg.Monitor.MarkAsProbablyStuck)
	readString(r, KeyMonitorTerminationPolicy, &cfg.Monitor.TerminationPolicy)
	readBool(r, KeyMonitorLogStatus, &cfg.Monitor.LogStatus)
	if r.IsSet(KeyMonitorWarningsPerSecond) {
		cfg.Monitor.WarningsPerSecond = r.GetFloat64(KeyMonitorWarningsPerSecond)
	}
	readDuration(r, KeyMonitorConfirmTimeout, &cfg.Monitor.ConfirmTimeout)

	readBool(r, KeyMetricsEnabled, &cfg.Metrics.Export)
	readString(r, KeyMetricsNamespace, &cfg.Metrics.Namespace)

	readString(r, KeyLogFormat, &cfg.LogFormat)
	readString(r, KeyLogLevel, &cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every inconsistent value at once.
func (c *Configuration) Validate() error {
	var err error
	if c.Pool.MaxWorkers < 1 {
		err = multierr.Append(err, fmt.Errorf("%s must be at least 1, got %d", KeyPoolMaxWorkers, c.Pool.MaxWorkers))
	}
	if c.Pool.MaxPoolable < 0 || c.Pool.MaxPoolable > c.Pool.MaxWorkers {
		err = multierr.Append(err, fmt.Errorf("%s must be between 0 and %s (%d), got %d",
			KeyPoolMaxPoolable, KeyPoolMaxWorkers, c.Pool.MaxWorkers, c.Pool.MaxPoolable))
	}
	if c.Pool.AcquireTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s must be positive", KeyPoolAcquireTimeout))
	}
	if c.Pool.AcquireRetries < 0 {
		err = multierr.Append(err, fmt.Errorf("%s must not be negative", KeyPoolAcquireRetries))
	}
	if c.Pool.CapIncrement < 1 {
		err = multierr.Append(err, fmt.Errorf("%s must be at least 1", KeyPoolCapIncrement))
	}

	if len(c.Executor.Priorities) == 0 {
		err = multierr.Append(err, fmt.Errorf("%s must not be empty", KeyExecutorPriorities))
	}
	if c.Executor.LowWatermark < 0 || c.Executor.LowWatermark >= c.Executor.HighWatermark {
		err = multierr.Append(err, fmt.Errorf("%s (%d) must be below %s (%d)",
			KeyExecutorLowWatermark, c.Executor.LowWatermark, KeyExecutorHighWatermark, c.Executor.HighWatermark))
	}

	if c.Monitor.PollingInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s must be positive", KeyMonitorPollingInterval))
	}
	if c.Monitor.StuckThreshold <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s must be positive", KeyMonitorStuckThreshold))
	}
	if _, perr := monitor.ParsePolicy(c.Monitor.TerminationPolicy); perr != nil {
		err = multierr.Append(err, fmt.Errorf("%s: %w", KeyMonitorTerminationPolicy, perr))
	}

	switch c.LogFormat {
	case "console", "json":
	default:
		err = multierr.Append(err, fmt.Errorf("%s must be console or json, got %q", KeyLogFormat, c.LogFormat))
	}
	if _, lerr := zapcore.ParseLevel(c.LogLevel); lerr != nil {
		err = multierr.Append(err, fmt.Errorf("%s: %w", KeyLogLevel, lerr))
	}
	return err
}

// RegisterFlags declares one flag per configuration key, defaulting to the
// built-in defaults, so the flag set can be bound to a viper instance.
func RegisterFlags(fs *pflag.FlagSet) {
	d := NewConfigurationWithOptionsAndDefaults()

	fs.String(KeyPoolName, d.Pool.Name, "name of the shared worker pool")
	fs.Int(KeyPoolMaxPoolable, d.Pool.MaxPoolable, "maximum number of reusable workers")
	fs.Int(KeyPoolMaxWorkers, d.Pool.MaxWorkers, "initial cap on poolable plus detached workers")
	fs.Duration(KeyPoolAcquireTimeout, d.Pool.AcquireTimeout, "wait before the worker cap is raised")
	fs.Int(KeyPoolAcquireRetries, d.Pool.AcquireRetries, "cap escalations allowed per acquisition")
	fs.Int(KeyPoolCapIncrement, d.Pool.CapIncrement, "workers added to the cap on each escalation")
	fs.Duration(KeyPoolCapDecayIdle, d.Pool.CapDecayIdle, "idle period after which a raised cap decays")

	fs.String(KeyExecutorGroupName, d.Executor.GroupName, "name of the executor group")
	fs.IntSlice(KeyExecutorPriorities, d.Executor.Priorities, "priority levels of the executor group")
	fs.Int(KeyExecutorDefaultPriority, d.Executor.DefaultPriority, "priority of tasks created without one")
	fs.Int(KeyExecutorHighWatermark, d.Executor.HighWatermark, "queue length at which submitters block")
	fs.Int(KeyExecutorLowWatermark, d.Executor.LowWatermark, "queue length at which blocked submitters resume")

	fs.Bool(KeyMonitorEnabled, d.Monitor.Enabled, "run the stuck task monitor")
	fs.Duration(KeyMonitorPollingInterval, d.Monitor.PollingInterval, "interval between monitor samples")
	fs.Duration(KeyMonitorStuckThreshold, d.Monitor.StuckThreshold, "running time after which a parked task is sampled")
	fs.Bool(KeyMonitorMarkAsProbablyStuck, d.Monitor.MarkAsProbablyStuck, "release waiters of tasks flagged as probably stuck")
	fs.String(KeyMonitorTerminationPolicy, d.Monitor.TerminationPolicy, "action on flagged tasks: none, interrupt or kill")
	fs.Bool(KeyMonitorLogStatus, d.Monitor.LogStatus, "log a status line on every monitor sample")
	fs.Float64(KeyMonitorWarningsPerSecond, d.Monitor.WarningsPerSecond, "rate limit of probably stuck warnings")
	fs.Duration(KeyMonitorConfirmTimeout, d.Monitor.ConfirmTimeout, "how long to wait for a terminated task to exit")

	fs.Bool(KeyMetricsEnabled, d.Metrics.Export, "export prometheus metrics")
	fs.String(KeyMetricsNamespace, d.Metrics.Namespace, "prometheus metric namespace")

	fs.String(KeyLogFormat, d.LogFormat, "log format: console or json")
	fs.String(KeyLogLevel, d.LogLevel, "log level")
}

func readString(r Reader, key string, dst *string) {
	if r.IsSet(key) {
		*dst = r.GetString(key)
	}
}

func readInt(r Reader, key string, dst *int) {
	if r.IsSet(key) {
		*dst = r.GetInt(key)
	}
}

func readBool(r Reader, key string, dst *bool) {
	if r.IsSet(key) {
		*dst = r.GetBool(key)
	}
}

func readDuration(r Reader, key string, dst *time.Duration) {
	if r.IsSet(key) {
		*dst = r.GetDuration(key)
	}
}
