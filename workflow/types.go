package workflow

import "time"

// Status describes the lifecycle of a workflow run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// StepStatus describes the lifecycle of a single step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	// StepSkipped marks steps that never ran because an earlier wave failed.
	StepSkipped StepStatus = "skipped"
)

// StepDefinition declares one unit of work inside a workflow.
//
// A step targets either a specific agent by ID or, when Agent is empty, any
// registered agent whose capabilities cover the Capabilities list. Capability
// targets are resolved at execution time so a step lands on the least loaded
// eligible agent.
type StepDefinition struct {
	// ID uniquely names the step within the workflow.
	ID string `json:"id"`

	// Agent pins the step to a specific agent ID. Optional.
	Agent string `json:"agent,omitempty"`

	// Capabilities selects the executing agent by capability when Agent is
	// empty.
	Capabilities []string `json:"capabilities,omitempty"`

	// Method is the agent method invoked for this step.
	Method string `json:"method"`

	// Args are passed verbatim to the agent handler.
	Args map[string]any `json:"args,omitempty"`

	// DependsOn lists step IDs that must complete before this step runs.
	DependsOn []string `json:"depends_on,omitempty"`

	// Timeout bounds one execution attempt of this step; zero inherits the
	// router's default message timeout.
	Timeout time.Duration `json:"timeout,omitempty"`

	// MaxAttempts bounds retries for retryable failures; zero uses the
	// coordinator default.
	MaxAttempts int `json:"max_attempts,omitempty"`

	// Priority is the routing queue tier name ("low", "normal", "high",
	// "urgent"); empty means normal.
	Priority string `json:"priority,omitempty"`
}

// Definition is a complete workflow submission.
type Definition struct {
	Name  string           `json:"name"`
	Steps []StepDefinition `json:"steps"`
}

// Step is the runtime state of one step.
type Step struct {
	Definition StepDefinition `json:"definition"`
	Status     StepStatus     `json:"status"`

	// AssignedAgent is the agent that executed (or is executing) the step.
	AssignedAgent string `json:"assigned_agent,omitempty"`

	Result     any       `json:"result,omitempty"`
	Err        error     `json:"-"`
	Attempts   int       `json:"attempts"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Workflow is the runtime state of one submitted workflow.
type Workflow struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status Status `json:"status"`

	Steps map[string]*Step `json:"steps"`

	// Err is the first step failure that terminated the workflow.
	Err error `json:"-"`

	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Clone returns a deep copy safe to hand out while the run mutates the
// original under the coordinator lock.
func (w *Workflow) Clone() *Workflow {
	out := *w
	out.Steps = make(map[string]*Step, len(w.Steps))
	for id, step := range w.Steps {
		s := *step
		out.Steps[id] = &s
	}
	return &out
}

// Duration returns how long the workflow has been running, or its total
// runtime once finished. It is zero for workflows that never started.
func (w *Workflow) Duration() time.Duration {
	if w.StartedAt.IsZero() {
		return 0
	}
	if w.FinishedAt.IsZero() {
		return time.Since(w.StartedAt)
	}
	return w.FinishedAt.Sub(w.StartedAt)
}

// StepResult returns the result of a completed step, with ok reporting
// whether the step exists and completed.
func (w *Workflow) StepResult(stepID string) (any, bool) {
	step, ok := w.Steps[stepID]
	if !ok || step.Status != StepCompleted {
		return nil, false
	}
	return step.Result, true
}
