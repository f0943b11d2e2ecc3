package testutil

import (
	"github.com/agentgrid/agentgrid/workflow"
)

// DefinitionBuilder helps construct workflow definitions with fluent chaining
// for tests. Example:
//
//	def := NewDefinitionBuilder("pipeline").
//		Step("fetch", "a1", "fetch").
//		Step("report", "a2", "report", "fetch").
//		Build()
type DefinitionBuilder struct {
	def workflow.Definition
}

// NewDefinitionBuilder creates a builder for a named workflow definition.
func NewDefinitionBuilder(name string) *DefinitionBuilder {
	return &DefinitionBuilder{def: workflow.Definition{Name: name}}
}

// Step appends an agent-targeted step with optional dependencies (chainable).
func (b *DefinitionBuilder) Step(id, agent, method string, deps ...string) *DefinitionBuilder {
	b.def.Steps = append(b.def.Steps, workflow.StepDefinition{
		ID:        id,
		Agent:     agent,
		Method:    method,
		DependsOn: deps,
	})
	return b
}

// CapabilityStep appends a capability-targeted step with optional
// dependencies (chainable).
func (b *DefinitionBuilder) CapabilityStep(id string, capabilities []string, method string, deps ...string) *DefinitionBuilder {
	b.def.Steps = append(b.def.Steps, workflow.StepDefinition{
		ID:           id,
		Capabilities: capabilities,
		Method:       method,
		DependsOn:    deps,
	})
	return b
}

// Build returns the assembled definition.
func (b *DefinitionBuilder) Build() workflow.Definition { return b.def }
