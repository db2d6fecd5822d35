package monitor

import (
	"fmt"
	"strings"
)

// Policy is what the monitor does to a task once it is flagged.
type Policy int

const (
	PolicyNone Policy = iota
	PolicyInterrupt
	PolicyKill
)

func (p Policy) String() string {
	switch p {
	case PolicyInterrupt:
		return "interrupt"
	case PolicyKill:
		return "kill"
	default:
		return "none"
	}
}

// ParsePolicy accepts "none", "interrupt" and "kill". An empty string is none.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return PolicyNone, nil
	case "interrupt":
		return PolicyInterrupt, nil
	case "kill":
		return PolicyKill, nil
	}
	return PolicyNone, fmt.Errorf("unknown termination policy %q", s)
}
