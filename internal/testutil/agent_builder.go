package testutil

import (
	"context"

	"github.com/agentgrid/agentgrid/core"
)

// AgentBuilder helps construct stub agents with fluent chaining for tests.
// Example:
//
//	agent := NewAgentBuilder("a1").Capability("analysis").Returns("run", 42).Build()
type AgentBuilder struct {
	id       string
	name     string
	caps     []string
	handlers map[string]core.HandlerFunc
}

// NewAgentBuilder creates a builder for an agent with the given id. The name
// defaults to the id. Use chainable methods then call Build.
func NewAgentBuilder(id string) *AgentBuilder {
	return &AgentBuilder{id: id, name: id, handlers: map[string]core.HandlerFunc{}}
}

// Name overrides the agent's display name (chainable).
func (b *AgentBuilder) Name(name string) *AgentBuilder { b.name = name; return b }

// Capability appends capability tags (chainable).
func (b *AgentBuilder) Capability(caps ...string) *AgentBuilder {
	b.caps = append(b.caps, caps...)
	return b
}

// Handles binds a handler function to a declared method (chainable).
func (b *AgentBuilder) Handles(method string, fn core.HandlerFunc) *AgentBuilder {
	b.handlers[method] = fn
	return b
}

// Returns declares a method that always answers with a fixed value (chainable).
func (b *AgentBuilder) Returns(method string, value any) *AgentBuilder {
	return b.Handles(method, func(context.Context, map[string]any) (any, error) {
		return value, nil
	})
}

// Fails declares a method that always answers with the given error (chainable).
func (b *AgentBuilder) Fails(method string, err error) *AgentBuilder {
	return b.Handles(method, func(context.Context, map[string]any) (any, error) {
		return nil, err
	})
}

// Build constructs the core.Agent value.
func (b *AgentBuilder) Build() core.Agent {
	return core.NewAgent(b.id, b.name, b.caps, b.handlers)
}
