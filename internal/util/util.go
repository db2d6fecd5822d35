package util

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// Contains checks if a slice contains a specific value
func Contains[T comparable](slice []T, val T) bool {
	for _, item := range slice {
		if item == val {
			return true
		}
	}
	return false
}

// Nearest returns the element of levels closest to v. Ties go to the lower
// level. It returns v when levels is empty.
func Nearest(levels []int, v int) int {
	if len(levels) == 0 {
		return v
	}
	best := levels[0]
	for _, l := range levels[1:] {
		d, bd := abs(l-v), abs(best-v)
		if d < bd || (d == bd && l < best) {
			best = l
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

var goroutinePrefix = []byte("goroutine ")

// GoroutineID returns the id of the calling goroutine, parsed from the
// header of its stack trace. It returns 0 if the header cannot be parsed.
func GoroutineID() int64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, goroutinePrefix)
	if i := bytes.IndexByte(buf, ' '); i > 0 {
		buf = buf[:i]
	}
	id, err := strconv.ParseInt(string(buf), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Signal is a broadcast notification: every goroutine holding the channel
// returned by C is woken by the next Broadcast.
type Signal struct {
	mu sync.Mutex
	ch chan struct{}
}

func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// C returns the channel closed by the next Broadcast.
func (s *Signal) C() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

func (s *Signal) Broadcast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.ch)
	s.ch = make(chan struct{})
}
