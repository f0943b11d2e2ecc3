package testutil

import (
	"sync"

	"github.com/agentgrid/agentgrid/bus"
)

// EventRecorder captures bus traffic for later assertion. Subscribe its
// Handler to one or more event names, exercise the system, then inspect the
// captured events.
type EventRecorder struct {
	mu     sync.Mutex
	events []bus.Event
}

// NewEventRecorder creates an empty recorder.
func NewEventRecorder() *EventRecorder { return &EventRecorder{} }

// Handler is the bus.Handler that records every delivered event.
func (r *EventRecorder) Handler(ev bus.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything captured so far.
func (r *EventRecorder) Events() []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bus.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Names returns the captured event names in delivery order.
func (r *EventRecorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.events))
	for i, ev := range r.events {
		names[i] = ev.Name
	}
	return names
}

// Count returns the number of captured events.
func (r *EventRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
