package workerpool

import (
	"runtime"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMaxWorkers     = 16
	DefaultAcquireTimeout = 500 * time.Millisecond
	DefaultAcquireRetries = 8
	DefaultCapIncrement   = 4
	DefaultCapDecayIdle   = 10 * time.Second

	// NoEscalation as AcquireRetries keeps the combined cap fixed.
	NoEscalation = -1
)

// Options configure a Pool. Zero values are replaced by defaults.
type Options struct {
	Name string
	// MaxPoolable bounds the number of reusable workers.
	MaxPoolable int
	// MaxWorkers is the initial combined cap of poolable and detached workers.
	MaxWorkers int
	// AcquireTimeout is how long Acquire waits for a release before escalating.
	AcquireTimeout time.Duration
	// AcquireRetries is the number of cap escalations a single Acquire may
	// trigger. Use NoEscalation to disable escalation.
	AcquireRetries int
	// CapIncrement is the step used to raise and lower the combined cap.
	CapIncrement int
	// CapDecayIdle is the quiet period after which a raised cap is lowered by one step.
	CapDecayIdle time.Duration
	Logger       *zap.Logger
}

func (o *Options) fillDefaults() {
	if o.Name == "" {
		o.Name = "default"
	}
	if o.MaxPoolable <= 0 {
		o.MaxPoolable = runtime.GOMAXPROCS(0)
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = max(DefaultMaxWorkers, o.MaxPoolable)
	}
	if o.MaxWorkers < o.MaxPoolable {
		o.MaxWorkers = o.MaxPoolable
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = DefaultAcquireTimeout
	}
	if o.AcquireRetries == 0 {
		o.AcquireRetries = DefaultAcquireRetries
	}
	if o.CapIncrement <= 0 {
		o.CapIncrement = DefaultCapIncrement
	}
	if o.CapDecayIdle <= 0 {
		o.CapDecayIdle = DefaultCapDecayIdle
	}
	if o.Logger == nil {
		o.Logger = zap.L()
	}
}
