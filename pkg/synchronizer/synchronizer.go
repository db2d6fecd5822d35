// Package synchronizer provides named critical sections.
//
// A Synchronizer keeps one lock per key, but only while at least one caller
// holds or waits for it. The first caller for a key inserts an entry, later
// callers join it by bumping its holder count, and the last one out removes
// it. The registry therefore never grows beyond the set of keys currently in
// use.
package synchronizer

import (
	"runtime"
	"sync"
	"sync/atomic"
)

type entry struct {
	mu      sync.Mutex
	holders atomic.Int32
}

type Synchronizer struct {
	entries sync.Map // string -> *entry
	size    atomic.Int64
}

func New() *Synchronizer {
	return &Synchronizer{}
}

// Execute runs action while holding the lock for key.
func (s *Synchronizer) Execute(key string, action func()) {
	unlock := s.Lock(key)
	defer unlock()
	action()
}

// ExecuteErr is Execute for actions that return an error.
func (s *Synchronizer) ExecuteErr(key string, action func() error) error {
	unlock := s.Lock(key)
	defer unlock()
	return action()
}

// Lock acquires the lock for key and returns the function that releases it.
// The returned function must be called exactly once.
func (s *Synchronizer) Lock(key string) func() {
	e := s.acquire(key)
	e.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			s.release(key, e)
		})
	}
}

// Len is the number of keys currently held or waited on.
func (s *Synchronizer) Len() int {
	return int(s.size.Load())
}

func (s *Synchronizer) Contains(key string) bool {
	_, ok := s.entries.Load(key)
	return ok
}

func (s *Synchronizer) acquire(key string) *entry {
	fresh := &entry{}
	fresh.holders.Store(1)
	for {
		v, loaded := s.entries.LoadOrStore(key, fresh)
		if !loaded {
			s.size.Add(1)
			return fresh
		}
		// Lost the race; join the winner unless it is being torn down.
		e := v.(*entry)
		for {
			n := e.holders.Load()
			if n <= 0 {
				break
			}
			if e.holders.CompareAndSwap(n, n+1) {
				return e
			}
		}
		runtime.Gosched()
	}
}

func (s *Synchronizer) release(key string, e *entry) {
	if e.holders.Add(-1) > 0 {
		return
	}
	if s.entries.CompareAndDelete(key, e) {
		s.size.Add(-1)
	}
}
