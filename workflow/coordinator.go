package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/agentgrid/agentgrid/bus"
	"github.com/agentgrid/agentgrid/core"
	"github.com/agentgrid/agentgrid/logging"
	"github.com/agentgrid/agentgrid/metrics"
	"github.com/agentgrid/agentgrid/resilience"
	"github.com/agentgrid/agentgrid/router"
)

// Namespace prefixes every event the coordinator announces on the bus.
const Namespace = "workflow"

// DefaultStepAttempts bounds retries for steps that do not set their own.
const DefaultStepAttempts = 3

// Sender routes one step invocation to an agent. *router.Router satisfies it.
type Sender interface {
	Send(ctx context.Context, from, to, method string, args map[string]any, optFns ...func(o *router.SendOptions)) (any, error)
	FindOptimalAgent(required []string, exclude ...string) (string, bool)
}

// Options configures a Coordinator.
type Options struct {
	// StepAttempts is the default retry budget per step.
	StepAttempts int

	// StepDelays overrides the backoff schedule between step attempts.
	StepDelays []time.Duration

	// Bus receives workflow lifecycle announcements. Optional.
	Bus *bus.Bus

	// Logger defaults to NoOp logger if nil.
	Logger logging.Logger

	// Metrics receives Prometheus instrumentation. Optional.
	Metrics *metrics.Collector
}

// Coordinator validates and executes workflow definitions against the agent
// registry.
type Coordinator struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
	done      map[string]chan struct{}
	cancels   map[string]context.CancelFunc

	sender    Sender
	events    *bus.Namespace
	logger    logging.Logger
	collector *metrics.Collector

	stepAttempts int
	stepDelays   []time.Duration

	wg sync.WaitGroup
}

// New constructs a Coordinator that routes steps through sender.
func New(sender Sender, optFns ...func(o *Options)) *Coordinator {
	opts := Options{
		StepAttempts: DefaultStepAttempts,
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	c := &Coordinator{
		workflows:    make(map[string]*Workflow),
		done:         make(map[string]chan struct{}),
		cancels:      make(map[string]context.CancelFunc),
		sender:       sender,
		logger:       opts.Logger,
		collector:    opts.Metrics,
		stepAttempts: opts.StepAttempts,
		stepDelays:   opts.StepDelays,
	}

	if opts.Bus != nil {
		c.events = opts.Bus.Namespaced(Namespace)
	}

	return c
}

// Submit validates the definition and starts executing it asynchronously.
// Invalid definitions (no steps, duplicate step IDs, unknown dependencies,
// dependency cycles) are rejected synchronously with a validation error and
// never stored.
func (c *Coordinator) Submit(ctx context.Context, def Definition) (string, error) {
	if err := validate(def); err != nil {
		return "", err
	}

	wf := &Workflow{
		ID:        core.NewID(),
		Name:      def.Name,
		Status:    StatusPending,
		Steps:     make(map[string]*Step, len(def.Steps)),
		CreatedAt: time.Now(),
	}
	for _, sd := range def.Steps {
		wf.Steps[sd.ID] = &Step{Definition: sd, Status: StepPending}
	}

	runCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.workflows[wf.ID] = wf
	c.done[wf.ID] = make(chan struct{})
	c.cancels[wf.ID] = cancel
	c.mu.Unlock()

	if c.collector != nil {
		c.collector.WorkflowStarted()
	}

	c.wg.Add(1)
	go c.run(runCtx, wf.ID, def)

	return wf.ID, nil
}

// Status returns a snapshot of the workflow's current state.
func (c *Coordinator) Status(workflowID string) (*Workflow, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	wf, ok := c.workflows[workflowID]
	if !ok {
		return nil, core.NewError(core.KindNotFound, "workflow %s not found", workflowID)
	}
	return wf.Clone(), nil
}

// Wait blocks until the workflow settles, the timeout fires, or ctx is
// cancelled, and returns the final snapshot.
func (c *Coordinator) Wait(ctx context.Context, workflowID string, timeout time.Duration) (*Workflow, error) {
	c.mu.RLock()
	doneCh, ok := c.done[workflowID]
	c.mu.RUnlock()
	if !ok {
		return nil, core.NewError(core.KindNotFound, "workflow %s not found", workflowID)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-doneCh:
		return c.Status(workflowID)
	case <-timer.C:
		return nil, core.NewTimeoutError("workflow "+workflowID, timeout)
	case <-ctx.Done():
		return nil, core.NewCancelledError(ctx.Err())
	}
}

// Cancel requests cancellation of a running workflow. Steps already in flight
// observe it through their context; pending steps never start.
func (c *Coordinator) Cancel(workflowID string) error {
	c.mu.RLock()
	cancel, ok := c.cancels[workflowID]
	c.mu.RUnlock()
	if !ok {
		return core.NewError(core.KindNotFound, "workflow %s not found", workflowID)
	}
	cancel()
	return nil
}

// ActiveCount returns the number of workflows still pending or running.
func (c *Coordinator) ActiveCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, wf := range c.workflows {
		if wf.Status == StatusPending || wf.Status == StatusRunning {
			n++
		}
	}
	return n
}

// Shutdown waits for in-flight workflow runs to settle.
func (c *Coordinator) Shutdown() { c.wg.Wait() }

// validate rejects structurally broken definitions. Cycle detection is
// Kahn's algorithm: if the peel-off never reaches every step, a cycle
// remains.
func validate(def Definition) error {
	if len(def.Steps) == 0 {
		return core.NewValidationError("workflow has no steps")
	}

	indegree := make(map[string]int, len(def.Steps))
	for _, sd := range def.Steps {
		if sd.ID == "" {
			return core.NewValidationError("workflow step has empty id")
		}
		if sd.Method == "" {
			return core.NewValidationError("step %s has no method", sd.ID)
		}
		if sd.Agent == "" && len(sd.Capabilities) == 0 {
			return core.NewValidationError("step %s targets neither an agent nor capabilities", sd.ID)
		}
		if sd.Timeout < 0 {
			return core.NewValidationError("step %s has negative timeout", sd.ID)
		}
		if _, dup := indegree[sd.ID]; dup {
			return core.NewValidationError("duplicate step id %s", sd.ID)
		}
		indegree[sd.ID] = 0
	}

	dependents := make(map[string][]string)
	for _, sd := range def.Steps {
		for _, dep := range sd.DependsOn {
			if _, ok := indegree[dep]; !ok {
				return core.NewValidationError("step %s depends on unknown step %s", sd.ID, dep)
			}
			if dep == sd.ID {
				return core.NewValidationError("step %s depends on itself", sd.ID)
			}
			indegree[sd.ID]++
			dependents[dep] = append(dependents[dep], sd.ID)
		}
	}

	queue := make([]string, 0, len(indegree))
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(def.Steps) {
		return core.NewValidationError("workflow contains a dependency cycle")
	}
	return nil
}

// run executes the workflow wave by wave until every step settles or a wave
// reports a failure.
func (c *Coordinator) run(ctx context.Context, workflowID string, def Definition) {
	defer c.wg.Done()

	c.mu.Lock()
	wf := c.workflows[workflowID]
	wf.Status = StatusRunning
	wf.StartedAt = time.Now()
	c.mu.Unlock()

	c.emit("started", workflowID)
	c.logger.Info("workflow started", "workflow_id", workflowID, "name", def.Name, "steps", len(def.Steps))

	completed := make(map[string]struct{}, len(def.Steps))
	var failure error

	for len(completed) < len(def.Steps) && failure == nil {
		if err := ctx.Err(); err != nil {
			failure = core.NewCancelledError(err)
			break
		}

		ready := c.readySteps(workflowID, def, completed)
		if len(ready) == 0 {
			// Unreachable after validation; guards against a stalled loop.
			failure = core.NewError(core.KindExecution, "no runnable steps remain")
			break
		}

		var wg sync.WaitGroup
		for _, stepID := range ready {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				c.runStep(ctx, workflowID, id)
			}(stepID)
		}
		wg.Wait()

		c.mu.RLock()
		for _, stepID := range ready {
			step := wf.Steps[stepID]
			if step.Status == StepCompleted {
				completed[stepID] = struct{}{}
			} else if failure == nil {
				failure = step.Err
			}
		}
		c.mu.RUnlock()
	}

	c.finish(workflowID, failure)
}

// readySteps returns pending steps whose dependencies have all completed.
func (c *Coordinator) readySteps(workflowID string, def Definition, completed map[string]struct{}) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	wf := c.workflows[workflowID]
	var ready []string
	for _, sd := range def.Steps {
		if wf.Steps[sd.ID].Status != StepPending {
			continue
		}
		ok := true
		for _, dep := range sd.DependsOn {
			if _, done := completed[dep]; !done {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, sd.ID)
		}
	}
	return ready
}

// runStep executes one step, retrying retryable failures with backoff.
// Capability-targeted steps re-resolve their agent on every attempt so a
// retry can land on a healthier replica.
func (c *Coordinator) runStep(ctx context.Context, workflowID, stepID string) {
	c.mu.Lock()
	wf := c.workflows[workflowID]
	step := wf.Steps[stepID]
	step.Status = StepRunning
	step.StartedAt = time.Now()
	sd := step.Definition
	c.mu.Unlock()

	attempts := sd.MaxAttempts
	if attempts <= 0 {
		attempts = c.stepAttempts
	}

	var tried int
	op := func(ctx context.Context) (any, error) {
		tried++
		target := sd.Agent
		if target == "" {
			id, ok := c.sender.FindOptimalAgent(sd.Capabilities)
			if !ok {
				return nil, core.NewError(core.KindNotFound, "no agent covers capabilities %v", sd.Capabilities)
			}
			target = id
		}

		c.mu.Lock()
		step.AssignedAgent = target
		c.mu.Unlock()

		sendOpts := []func(o *router.SendOptions){
			router.WithPriority(router.ParsePriority(sd.Priority)),
		}
		if sd.Timeout > 0 {
			sendOpts = append(sendOpts, router.WithTimeout(sd.Timeout))
		}
		return c.sender.Send(ctx, "workflow:"+workflowID, target, sd.Method, sd.Args, sendOpts...)
	}

	retryOpts := []func(o *resilience.RetryOptions){
		resilience.WithMaxAttempts(attempts),
		resilience.WithRetryLogger(c.logger),
	}
	if len(c.stepDelays) > 0 {
		retryOpts = append(retryOpts, resilience.WithDelays(c.stepDelays...))
	}

	result, err := resilience.Retry(ctx, op, retryOpts...)

	c.mu.Lock()
	step.Attempts = tried
	step.FinishedAt = time.Now()
	if err != nil {
		step.Status = StepFailed
		step.Err = err
	} else {
		step.Status = StepCompleted
		step.Result = result
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("workflow step failed", "workflow_id", workflowID, "step_id", stepID, "attempts", tried, "error", err)
		c.emit("step.failed", stepID)
		return
	}

	c.logger.Debug("workflow step completed", "workflow_id", workflowID, "step_id", stepID, "attempts", tried)
	c.emit("step.completed", stepID)
}

// finish settles the workflow, marking never-started steps skipped on
// failure.
func (c *Coordinator) finish(workflowID string, failure error) {
	c.mu.Lock()
	wf := c.workflows[workflowID]
	wf.FinishedAt = time.Now()

	if failure != nil {
		wf.Status = StatusFailed
		if core.KindOf(failure) == core.KindCancelled {
			wf.Status = StatusCancelled
		}
		wf.Err = failure
		for _, step := range wf.Steps {
			if step.Status == StepPending {
				step.Status = StepSkipped
			}
		}
	} else {
		wf.Status = StatusCompleted
	}
	status := wf.Status

	doneCh := c.done[workflowID]
	cancel := c.cancels[workflowID]
	delete(c.cancels, workflowID)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c.collector != nil {
		c.collector.WorkflowFinished(string(status))
	}

	switch status {
	case StatusCompleted:
		c.logger.Info("workflow completed", "workflow_id", workflowID)
		c.emit("completed", workflowID)
	case StatusCancelled:
		c.logger.Info("workflow cancelled", "workflow_id", workflowID)
		c.emit("cancelled", workflowID)
	default:
		c.logger.Error("workflow failed", "workflow_id", workflowID, "error", failure)
		c.emit("failed", workflowID)
	}

	close(doneCh)
}

func (c *Coordinator) emit(event string, payload any) {
	if c.events != nil {
		c.events.EmitSync(event, payload)
	}
}
