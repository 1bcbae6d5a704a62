package model

import (
	"fmt"
	"strings"
)

// Priority orders re-judge tasks in the judge queue. Lower values run first.
type Priority int

const (
	PriorityHigh    Priority = -10
	PriorityDefault Priority = 0
	PriorityLow     Priority = 10
)

// ParsePriority maps a priority name to its value. An empty name is the default priority.
func ParsePriority(name string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "high":
		return PriorityHigh, nil
	case "", "default":
		return PriorityDefault, nil
	case "low":
		return PriorityLow, nil
	default:
		return PriorityDefault, fmt.Errorf("unknown priority %q", name)
	}
}

func (p Priority) String() string {
	switch {
	case p < PriorityDefault:
		return "high"
	case p > PriorityDefault:
		return "low"
	default:
		return "default"
	}
}
