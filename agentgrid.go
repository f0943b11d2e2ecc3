// Package agentgrid provides a high-level façade over the event bus, agent
// registry/router, workflow coordinator, and resilience primitives enabling
// rapid construction of in-process multi-agent systems. Most applications
// interact with this package by:
//  1. Creating an Orchestrator via New() (optionally supplying config, logger, metrics)
//  2. Registering one or more agents (core.NewAgent or custom implementations)
//  3. Sending messages (Send/Broadcast), publishing events (Emit/Subscribe),
//     or submitting multi-step workflows (SubmitWorkflow/WaitWorkflow)
//
// The façade wires the subsystems together through explicit dependency
// injection: every component receives its collaborators at construction and
// nothing lives in package-level state, so independent Orchestrators can
// coexist in one process. All defaults are safe for local development and
// testing; production deployments typically supply a tuned config and a
// structured logger.
package agentgrid

import (
	"context"
	"sync"
	"time"

	"github.com/agentgrid/agentgrid/bus"
	"github.com/agentgrid/agentgrid/config"
	"github.com/agentgrid/agentgrid/core"
	"github.com/agentgrid/agentgrid/logging"
	"github.com/agentgrid/agentgrid/metrics"
	"github.com/agentgrid/agentgrid/router"
	"github.com/agentgrid/agentgrid/workflow"
)

// Options configures the Orchestrator instance.
type Options struct {
	// Config supplies the tunables for every subsystem. Defaults to
	// config.Default() if nil.
	Config *config.Config

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger

	// Metrics receives Prometheus instrumentation from the router and the
	// workflow coordinator. Optional.
	Metrics *metrics.Collector
}

// AgentCounts breaks registered agents down by availability.
type AgentCounts struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Busy    int `json:"busy"`
	Offline int `json:"offline"`
}

// Health is a read-only snapshot of the orchestrator for liveness and
// readiness probes.
type Health struct {
	Started         bool        `json:"started"`
	Agents          AgentCounts `json:"agents"`
	PendingEvents   int         `json:"pending_events"`
	ActiveWorkflows int         `json:"active_workflows"`
	AverageLoad     float64     `json:"average_load"`
}

// Orchestrator is the high-level façade aggregating the bus, router, and
// workflow coordinator.
type Orchestrator struct {
	cfg    *config.Config
	logger logging.Logger

	bus       *bus.Bus
	router    *router.Router
	workflows *workflow.Coordinator

	mu      sync.Mutex
	started bool
}

// New creates an Orchestrator with optional overrides. All subsystems are
// constructed from the supplied (or default) config and share the same logger
// and metrics collector.
func New(optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		Config: config.Default(),
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	cfg := opts.Config

	b := bus.New(func(o *bus.Options) {
		o.HistoryCap = cfg.Bus.HistoryCap
		o.Logger = opts.Logger
	})

	r := router.New(func(o *router.Options) {
		o.QueueCapacity = cfg.Router.QueueCapacity
		o.DefaultTimeout = cfg.Router.DefaultTimeout.Std()
		o.CacheTTL = cfg.Router.CacheTTL.Std()
		o.HeartbeatInterval = cfg.Router.HeartbeatInterval.Std()
		o.HeartbeatTimeout = cfg.Router.HeartbeatTimeout.Std()
		o.Bus = b
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
	})

	w := workflow.New(r, func(o *workflow.Options) {
		o.StepAttempts = cfg.Workflow.StepAttempts
		o.Bus = b
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
	})

	return &Orchestrator{
		cfg:       cfg,
		logger:    opts.Logger,
		bus:       b,
		router:    r,
		workflows: w,
	}
}

// Start launches the routing worker and heartbeat sweep. Must be called
// before Send, Broadcast, or SubmitWorkflow.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return core.NewValidationError("orchestrator already started")
	}
	if err := o.router.Start(ctx); err != nil {
		return err
	}
	o.started = true
	return nil
}

// Stop shuts the subsystems down in dependency order: no new messages, then
// in-flight workflows, then the bus.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	o.mu.Unlock()

	o.router.Stop()
	o.workflows.Shutdown()
	o.bus.Close()
}

// Bus exposes the underlying event bus for advanced subscriptions.
func (o *Orchestrator) Bus() *bus.Bus { return o.bus }

// Router exposes the underlying router for registry inspection.
func (o *Orchestrator) Router() *router.Router { return o.router }

// Workflows exposes the underlying workflow coordinator.
func (o *Orchestrator) Workflows() *workflow.Coordinator { return o.workflows }

// RegisterAgent adds an agent to the registry.
func (o *Orchestrator) RegisterAgent(a core.Agent, optFns ...func(opts *router.RegisterOptions)) (string, error) {
	return o.router.Register(a, optFns...)
}

// UnregisterAgent removes an agent from the registry.
func (o *Orchestrator) UnregisterAgent(agentID string) bool {
	return o.router.Unregister(agentID)
}

// Send routes a point-to-point message and waits for the response.
func (o *Orchestrator) Send(ctx context.Context, from, to, method string, args map[string]any, optFns ...func(opts *router.SendOptions)) (any, error) {
	return o.router.Send(ctx, from, to, method, args, optFns...)
}

// Broadcast routes a message to every eligible agent except the sender.
func (o *Orchestrator) Broadcast(ctx context.Context, from, method string, args map[string]any, filter func(router.Registration) bool) map[string]router.Result {
	return o.router.Broadcast(ctx, from, method, args, filter)
}

// Subscribe registers a bus listener.
func (o *Orchestrator) Subscribe(event string, handler bus.Handler, optFns ...func(opts *bus.SubscribeOptions)) string {
	return o.bus.Subscribe(event, handler, optFns...)
}

// Emit publishes an event on the bus.
func (o *Orchestrator) Emit(ctx context.Context, event string, payload any, optFns ...func(opts *bus.EmitOptions)) error {
	return o.bus.Emit(ctx, event, payload, optFns...)
}

// SubmitWorkflow validates and starts a workflow, returning its ID.
func (o *Orchestrator) SubmitWorkflow(ctx context.Context, def workflow.Definition) (string, error) {
	return o.workflows.Submit(ctx, def)
}

// WorkflowStatus returns a snapshot of a workflow's state.
func (o *Orchestrator) WorkflowStatus(workflowID string) (*workflow.Workflow, error) {
	return o.workflows.Status(workflowID)
}

// WaitWorkflow blocks until the workflow settles or the timeout fires.
func (o *Orchestrator) WaitWorkflow(ctx context.Context, workflowID string, timeout time.Duration) (*workflow.Workflow, error) {
	return o.workflows.Wait(ctx, workflowID, timeout)
}

// Health returns the probe snapshot.
func (o *Orchestrator) Health() Health {
	o.mu.Lock()
	started := o.started
	o.mu.Unlock()

	counts := o.router.StatusCounts()
	total := 0
	for _, n := range counts {
		total += n
	}

	return Health{
		Started: started,
		Agents: AgentCounts{
			Total:   total,
			Active:  counts[core.StatusActive],
			Busy:    counts[core.StatusBusy],
			Offline: counts[core.StatusInactive] + counts[core.StatusError],
		},
		PendingEvents:   o.router.QueueDepth(),
		ActiveWorkflows: o.workflows.ActiveCount(),
		AverageLoad:     o.router.AverageLoad(),
	}
}
