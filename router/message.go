package router

import (
	"time"

	"github.com/agentgrid/agentgrid/core"
)

// Priority orders messages in the routing queue. Higher values drain first.
type Priority int

const (
	// PriorityLow is background work.
	PriorityLow Priority = iota
	// PriorityNormal is the default tier.
	PriorityNormal
	// PriorityHigh preempts normal traffic at dequeue time.
	PriorityHigh
	// PriorityUrgent drains before everything else.
	PriorityUrgent
)

// String returns the wire name of the priority tier.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

// ParsePriority maps a tier name to a Priority, defaulting to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "urgent":
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}

// Message is a routed request. It is created per call, consumed once by the
// dispatch worker, and never mutated after enqueue.
type Message struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Method    string         `json:"method"`
	Args      map[string]any `json:"args,omitempty"`
	Priority  Priority       `json:"priority"`
	Timeout   time.Duration  `json:"timeout"`
	Cacheable bool           `json:"cacheable"`

	enqueuedAt time.Time
}

// NewMessage builds a message with a fresh id and the default priority.
func NewMessage(from, to, method string, args map[string]any) *Message {
	return &Message{
		ID:       core.NewID(),
		From:     from,
		To:       to,
		Method:   method,
		Args:     args,
		Priority: PriorityNormal,
	}
}

// Result captures one agent's outcome within a broadcast.
type Result struct {
	Value any   `json:"value,omitempty"`
	Err   error `json:"-"`
}

// dispatchResult travels from the worker back to the waiting caller.
type dispatchResult struct {
	value any
	err   error
}
