package core

import (
	"context"
	"sort"
)

// AgentStatus describes an agent's availability as tracked by the registry.
type AgentStatus string

const (
	// StatusActive means the agent is idle and eligible for routing.
	StatusActive AgentStatus = "active"
	// StatusBusy means the agent currently has dispatched work in flight.
	StatusBusy AgentStatus = "busy"
	// StatusInactive means the agent missed its heartbeat window. Inactive
	// agents are never selected by routing until a heartbeat restores them.
	StatusInactive AgentStatus = "inactive"
	// StatusError means the agent was marked faulty by an operator.
	StatusError AgentStatus = "error"
)

// Agent is the contract every registered handler implements.
//
// Agents declare a capability set (string tags used for routing eligibility)
// and a method table (the operations they can execute). Dispatch of a method
// outside the declared table fails fast with an unsupported_method error
// instead of falling through a runtime default case.
type Agent interface {
	ID() string
	Name() string
	Capabilities() []string
	Methods() []string
	Handle(ctx context.Context, method string, args map[string]any) (any, error)
}

// HandlerFunc is the typed handler bound to a single declared method.
type HandlerFunc func(ctx context.Context, args map[string]any) (any, error)

// funcAgent is the closure-based Agent used by most registrations. The method
// table is fixed at construction; Handle only dispatches declared methods.
type funcAgent struct {
	id       string
	name     string
	caps     []string
	handlers map[string]HandlerFunc
}

// NewAgent builds an Agent from a method table. It is the registration-side
// adapter for handler functions supplied by external agent implementations.
func NewAgent(id, name string, capabilities []string, handlers map[string]HandlerFunc) Agent {
	caps := make([]string, len(capabilities))
	copy(caps, capabilities)

	table := make(map[string]HandlerFunc, len(handlers))
	for method, fn := range handlers {
		table[method] = fn
	}

	return &funcAgent{id: id, name: name, caps: caps, handlers: table}
}

func (a *funcAgent) ID() string   { return a.id }
func (a *funcAgent) Name() string { return a.name }

func (a *funcAgent) Capabilities() []string {
	caps := make([]string, len(a.caps))
	copy(caps, a.caps)
	return caps
}

// Methods returns the declared method names in deterministic order.
func (a *funcAgent) Methods() []string {
	methods := make([]string, 0, len(a.handlers))
	for m := range a.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

func (a *funcAgent) Handle(ctx context.Context, method string, args map[string]any) (any, error) {
	fn, ok := a.handlers[method]
	if !ok {
		return nil, NewUnsupportedMethodError(a.id, method)
	}
	return fn(ctx, args)
}

// HasCapabilities reports whether the agent's capability set is a superset of
// the required tags.
func HasCapabilities(a Agent, required []string) bool {
	owned := map[string]struct{}{}
	for _, c := range a.Capabilities() {
		owned[c] = struct{}{}
	}
	for _, r := range required {
		if _, ok := owned[r]; !ok {
			return false
		}
	}
	return true
}
