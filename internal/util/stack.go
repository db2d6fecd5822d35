package util

import (
	"bytes"
	"runtime"
	"strconv"
)

// GoroutineDump is one goroutine parsed out of a full stack dump.
type GoroutineDump struct {
	ID int64
	// State is the wait reason from the header, e.g. "chan receive" or "running".
	State string
	// Stack holds the frames without the header line.
	Stack string
}

// Waiting reports whether the goroutine is parked rather than executing.
func (g GoroutineDump) Waiting() bool {
	switch g.State {
	case "running", "runnable", "preempted", "":
		return false
	}
	return true
}

// DumpGoroutines captures the stacks of all goroutines, the same dump the
// pprof goroutine profile produces at debug level 2, keyed by goroutine id.
func DumpGoroutines() map[int64]GoroutineDump {
	buf := make([]byte, 1<<16)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, len(buf)*2)
	}
	return ParseGoroutines(buf)
}

// ParseGoroutines parses the output of runtime.Stack(buf, true).
func ParseGoroutines(dump []byte) map[int64]GoroutineDump {
	out := make(map[int64]GoroutineDump)
	for _, block := range bytes.Split(dump, []byte("\n\n")) {
		block = bytes.TrimSpace(block)
		if !bytes.HasPrefix(block, goroutinePrefix) {
			continue
		}
		header, frames, _ := bytes.Cut(block, []byte("\n"))
		g, ok := parseHeader(header)
		if !ok {
			continue
		}
		g.Stack = string(frames)
		out[g.ID] = g
	}
	return out
}

// parseHeader parses lines like "goroutine 42 [chan receive, 3 minutes]:".
func parseHeader(header []byte) (GoroutineDump, bool) {
	rest := bytes.TrimPrefix(header, goroutinePrefix)
	idPart, statePart, found := bytes.Cut(rest, []byte(" ["))
	if !found {
		return GoroutineDump{}, false
	}
	id, err := strconv.ParseInt(string(idPart), 10, 64)
	if err != nil {
		return GoroutineDump{}, false
	}
	statePart, _, _ = bytes.Cut(statePart, []byte("]"))
	state, _, _ := bytes.Cut(statePart, []byte(","))
	return GoroutineDump{ID: id, State: string(bytes.TrimSpace(state))}, true
}
