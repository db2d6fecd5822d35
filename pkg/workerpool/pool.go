package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kubev2v/task-engine/internal/util"
	srvErrors "github.com/kubev2v/task-engine/pkg/errors"
)

type slot struct {
	mu sync.Mutex
	w  *Worker
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Name        string
	Poolable    int
	Detached    int
	Running     int
	Idle        int
	Cap         int
	InitialCap  int
	MaxPoolable int
	Escalations int
	Closed      bool
}

// Pool hands out workers to executors.
type Pool struct {
	opts   Options
	logger *zap.SugaredLogger

	slots   []slot
	scanDir atomic.Uint32
	idle    atomic.Int32
	running atomic.Int32

	// mu guards worker creation and the combined cap.
	mu             sync.Mutex
	poolable       int
	detached       int
	cap            int
	escalations    int
	lastEscalation time.Time
	decaying       bool

	workers  sync.Map // uuid.UUID -> *Worker
	released *util.Signal
	closed   atomic.Bool
	done     chan struct{}
}

func NewPool(opts Options) *Pool {
	opts.fillDefaults()
	return &Pool{
		opts:     opts,
		logger:   opts.Logger.Sugar().Named("worker_pool").With("pool", opts.Name),
		slots:    make([]slot, opts.MaxPoolable),
		cap:      opts.MaxWorkers,
		released: util.NewSignal(),
		done:     make(chan struct{}),
	}
}

func (p *Pool) Name() string { return p.opts.Name }

// Acquire returns a worker in the Running state. It blocks while the pool is
// saturated and only fails when ctx is done or the pool is shut down.
func (p *Pool) Acquire(ctx context.Context) (*Worker, error) {
	credits := p.opts.AcquireRetries

	for {
		if p.closed.Load() {
			return nil, srvErrors.NewPoolClosedError(p.opts.Name)
		}

		// Take the wake-up channel before trying so a release that happens
		// in between is not missed.
		wake := p.released.C()
		if w := p.tryAcquire(); w != nil {
			return w, nil
		}

		timer := time.NewTimer(p.opts.AcquireTimeout)
		select {
		case <-wake:
			timer.Stop()
			continue
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-p.done:
			timer.Stop()
			return nil, srvErrors.NewPoolClosedError(p.opts.Name)
		case <-timer.C:
		}

		if credits <= 0 {
			p.logger.Errorw("worker acquisition still blocked, no escalation credit left",
				"running", p.running.Load(), "cap", p.Cap())
			continue
		}
		credits--
		p.escalate()
	}
}

func (p *Pool) tryAcquire() *Worker {
	if w := p.takeIdle(); w != nil {
		return w
	}
	return p.create()
}

// takeIdle scans the idle slots, alternating direction between calls.
func (p *Pool) takeIdle() *Worker {
	if p.idle.Load() <= 0 {
		return nil
	}
	n := len(p.slots)
	reverse := p.scanDir.Add(1)%2 == 0
	for i := 0; i < n; i++ {
		idx := i
		if reverse {
			idx = n - 1 - i
		}
		s := &p.slots[idx]
		s.mu.Lock()
		w := s.w
		s.w = nil
		s.mu.Unlock()
		if w == nil {
			continue
		}
		p.idle.Add(-1)
		if w.state.CompareAndSwap(int32(Idle), int32(Running)) {
			p.running.Add(1)
			return w
		}
		// Retired while parked.
	}
	return nil
}

func (p *Pool) create() *Worker {
	p.mu.Lock()
	var kind Kind
	switch {
	case p.poolable < p.opts.MaxPoolable && p.poolable+p.detached < p.cap:
		kind = Poolable
		p.poolable++
	case p.poolable+p.detached < p.cap:
		kind = Detached
		p.detached++
	default:
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.running.Add(1)
	w := newWorker(p, kind)
	p.workers.Store(w.id, w)
	p.logger.Debugw("worker created", "worker", w.String())
	return w
}

// park puts an idle poolable worker into a free slot.
func (p *Pool) park(w *Worker) bool {
	n := len(p.slots)
	start := int(p.scanDir.Load()) % max(n, 1)
	for i := 0; i < n; i++ {
		s := &p.slots[(start+i)%n]
		s.mu.Lock()
		if s.w == nil {
			s.w = w
			s.mu.Unlock()
			p.idle.Add(1)
			return true
		}
		s.mu.Unlock()
	}
	return false
}

// Release returns a worker obtained from Acquire without running anything on it.
func (p *Pool) Release(w *Worker) {
	p.release(w)
}

// release moves a running worker back to the idle slots, or retires it.
// It returns false when the worker goroutine has to exit.
func (p *Pool) release(w *Worker) bool {
	if !w.state.CompareAndSwap(int32(Running), int32(Idle)) {
		// Retired while running; capacity was already given back.
		w.stop()
		return false
	}
	p.running.Add(-1)

	if w.kind == Detached || p.closed.Load() || !p.park(w) {
		p.retire(w)
		return false
	}
	p.released.Broadcast()
	return true
}

// Retire forces w into the Retired state and frees its capacity. A worker
// that is executing keeps going until its unit of work returns.
func (p *Pool) Retire(w *Worker) {
	for {
		s := State(w.state.Load())
		if s == Retired {
			return
		}
		if w.state.CompareAndSwap(int32(s), int32(Retired)) {
			if s == Running {
				p.running.Add(-1)
			}
			p.forget(w)
			return
		}
	}
}

func (p *Pool) retire(w *Worker) {
	w.state.Store(int32(Retired))
	p.forget(w)
}

func (p *Pool) forget(w *Worker) {
	if _, loaded := p.workers.LoadAndDelete(w.id); !loaded {
		return
	}
	p.mu.Lock()
	if w.kind == Poolable {
		p.poolable--
	} else {
		p.detached--
	}
	p.mu.Unlock()
	w.stop()
	p.logger.Debugw("worker retired", "worker", w.String())
	p.released.Broadcast()
}

func (p *Pool) escalate() {
	p.mu.Lock()
	p.cap += p.opts.CapIncrement
	p.escalations++
	p.lastEscalation = time.Now()
	newCap := p.cap
	startDecay := !p.decaying
	p.decaying = true
	p.mu.Unlock()

	p.logger.Warnw("worker acquisition timed out, raising worker cap",
		"cap", newCap, "running", p.running.Load())
	if startDecay {
		go p.decay()
	}
	p.released.Broadcast()
}

// decay lowers a raised cap back toward its initial value once escalation stops.
func (p *Pool) decay() {
	ticker := time.NewTicker(p.opts.CapDecayIdle)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		if time.Since(p.lastEscalation) >= p.opts.CapDecayIdle {
			p.cap = max(p.cap-p.opts.CapIncrement, p.opts.MaxWorkers)
			p.logger.Infow("lowering worker cap", "cap", p.cap)
		}
		if p.cap <= p.opts.MaxWorkers {
			p.decaying = false
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
	}
}

func (p *Pool) Cap() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cap
}

func (p *Pool) Running() int { return int(p.running.Load()) }

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Name:        p.opts.Name,
		Poolable:    p.poolable,
		Detached:    p.detached,
		Running:     int(p.running.Load()),
		Idle:        int(p.idle.Load()),
		Cap:         p.cap,
		InitialCap:  p.opts.MaxWorkers,
		MaxPoolable: p.opts.MaxPoolable,
		Escalations: p.escalations,
		Closed:      p.closed.Load(),
	}
}

// ShutdownAll closes the pool. Idle workers exit immediately, running
// workers exit once their current unit of work returns, and blocked
// Acquire calls fail.
func (p *Pool) ShutdownAll() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	close(p.done)

	for i := range p.slots {
		s := &p.slots[i]
		s.mu.Lock()
		w := s.w
		s.w = nil
		s.mu.Unlock()
		if w == nil {
			continue
		}
		p.idle.Add(-1)
		if w.state.CompareAndSwap(int32(Idle), int32(Retired)) {
			p.forget(w)
		}
	}
	p.workers.Range(func(_, v any) bool {
		v.(*Worker).stop()
		return true
	})
	p.released.Broadcast()
	p.logger.Infow("worker pool shut down")
}

// Closed reports whether ShutdownAll has been called.
func (p *Pool) Closed() bool { return p.closed.Load() }
