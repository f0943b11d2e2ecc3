package bus

import (
	"time"

	"github.com/agentgrid/agentgrid/core"
)

// Event is the immutable record delivered to listeners. RetryCount is zero on
// first emission and incremented on each re-emission scheduled by a retry
// policy.
type Event struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Payload       any       `json:"payload"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source,omitempty"`
	CorrelationID string    `json:"correlation_id"`
	RetryCount    int       `json:"retry_count"`
}

// NewEvent creates an event with a fresh id and correlation id.
func NewEvent(name string, payload any) Event {
	return Event{
		ID:            core.NewID(),
		Name:          name,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
		CorrelationID: core.NewID(),
	}
}

// Handler processes a delivered event. A non-nil error is reported to the
// bus error hook but does not interrupt dispatch to other listeners.
type Handler func(Event) error

// Filter is a pure predicate deciding whether a listener receives an event.
type Filter func(Event) bool

// ErrorHook receives listener failures captured during dispatch.
type ErrorHook func(ev Event, listenerID string, err error)

// RetryPolicy schedules re-emission when at least one listener errored.
// The nth retry fires after Base × 2^(n-1).
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
}
