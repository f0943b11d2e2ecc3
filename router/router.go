package router

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentgrid/agentgrid/bus"
	"github.com/agentgrid/agentgrid/core"
	"github.com/agentgrid/agentgrid/logging"
	"github.com/agentgrid/agentgrid/metrics"
)

// Default tuning values. All of them are overridable through Options so
// deployments are not stuck with magic constants.
const (
	DefaultQueueCapacity     = 1024
	DefaultTimeout           = 30 * time.Second
	DefaultCacheTTL          = 30 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultHeartbeatTimeout  = 30 * time.Second
)

// Namespace prefixes every event the router announces on the bus.
const Namespace = "router"

// Options configures a Router instance.
type Options struct {
	// QueueCapacity bounds the routing queue; zero means unbounded.
	QueueCapacity int

	// DefaultTimeout applies to messages sent without an explicit timeout.
	DefaultTimeout time.Duration

	// CacheTTL is the retention window for idempotent responses.
	CacheTTL time.Duration

	// HeartbeatInterval is the cadence of the background staleness sweep.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout marks an agent inactive once its heartbeat is older.
	HeartbeatTimeout time.Duration

	// Bus receives routing announcements (dispatched/completed/failed,
	// registrations, heartbeat timeouts). Optional.
	Bus *bus.Bus

	// Logger defaults to NoOp logger if nil.
	Logger logging.Logger

	// Metrics receives Prometheus instrumentation. Optional.
	Metrics *metrics.Collector
}

// Metrics is the read-only routing counters snapshot.
type Metrics struct {
	TotalMessages       uint64        `json:"total_messages"`
	SuccessfulMessages  uint64        `json:"successful_messages"`
	FailedMessages      uint64        `json:"failed_messages"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	ActiveAgents        int           `json:"active_agents"`
	QueueDepth          int           `json:"queue_depth"`
}

// Router tracks registered agents and routes prioritized messages to them.
// All registry mutation happens under a single lock; dispatch runs in worker
// goroutines fed by the queue signal.
type Router struct {
	mu       sync.RWMutex
	agents   map[string]*Registration
	orderSeq uint64

	queue *messageQueue
	cache *responseCache

	events    *bus.Namespace
	logger    logging.Logger
	collector *metrics.Collector

	defaultTimeout time.Duration
	hbInterval     time.Duration
	hbTimeout      time.Duration

	statsMu      sync.Mutex
	total        uint64
	succeeded    uint64
	failed       uint64
	totalLatency time.Duration

	runCtx  context.Context
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New constructs a Router with optional configuration.
func New(optFns ...func(o *Options)) *Router {
	opts := Options{
		QueueCapacity:     DefaultQueueCapacity,
		DefaultTimeout:    DefaultTimeout,
		CacheTTL:          DefaultCacheTTL,
		HeartbeatInterval: DefaultHeartbeatInterval,
		HeartbeatTimeout:  DefaultHeartbeatTimeout,
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	r := &Router{
		agents:         make(map[string]*Registration),
		queue:          newMessageQueue(opts.QueueCapacity),
		cache:          newResponseCache(opts.CacheTTL),
		logger:         opts.Logger,
		collector:      opts.Metrics,
		defaultTimeout: opts.DefaultTimeout,
		hbInterval:     opts.HeartbeatInterval,
		hbTimeout:      opts.HeartbeatTimeout,
		stopCh:         make(chan struct{}),
	}

	if opts.Bus != nil {
		r.events = opts.Bus.Namespaced(Namespace)
	}

	return r
}

// Start launches the dispatch worker and the heartbeat sweep. The context is
// the parent for every handler invocation.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return core.NewValidationError("router already started")
	}
	r.started = true
	r.runCtx = ctx

	r.wg.Add(2)
	go r.dispatchLoop()
	go r.sweepLoop()

	r.logger.Info("router started", "heartbeat_interval", r.hbInterval, "heartbeat_timeout", r.hbTimeout)
	return nil
}

// Stop terminates the workers, failing queued messages with an unavailable
// error, and waits for in-flight dispatches to settle.
func (r *Router) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.mu.Unlock()

	close(r.stopCh)
	r.queue.drain(core.NewError(core.KindUnavailable, "router stopped"))
	r.wg.Wait()
	r.logger.Info("router stopped")
}

// RegisterOptions configures one agent registration.
type RegisterOptions struct {
	// IdempotentMethods is the allow-list of methods whose responses may be
	// served from the cache. Every entry must be a declared method.
	IdempotentMethods []string
}

// WithIdempotentMethods marks methods as safe for response caching.
func WithIdempotentMethods(methods ...string) func(o *RegisterOptions) {
	return func(o *RegisterOptions) { o.IdempotentMethods = methods }
}

// Register adds an agent to the registry. Malformed registrations are
// rejected synchronously with a validation error.
func (r *Router) Register(agent core.Agent, optFns ...func(o *RegisterOptions)) (string, error) {
	if agent == nil {
		return "", core.NewValidationError("agent must not be nil")
	}
	if agent.ID() == "" {
		return "", core.NewValidationError("agent id must not be empty")
	}
	if agent.Name() == "" {
		return "", core.NewValidationError("agent name must not be empty")
	}

	opts := RegisterOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	methods := agent.Methods()
	methodSet := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		methodSet[m] = struct{}{}
	}

	idempotent := make(map[string]struct{}, len(opts.IdempotentMethods))
	for _, m := range opts.IdempotentMethods {
		if _, ok := methodSet[m]; !ok {
			return "", core.NewValidationError("idempotent method %q not declared by agent %s", m, agent.ID())
		}
		idempotent[m] = struct{}{}
	}

	r.mu.Lock()
	if _, exists := r.agents[agent.ID()]; exists {
		r.mu.Unlock()
		return "", core.NewValidationError("agent %s already registered", agent.ID())
	}

	r.orderSeq++
	now := time.Now()
	r.agents[agent.ID()] = &Registration{
		ID:            agent.ID(),
		Name:          agent.Name(),
		Capabilities:  agent.Capabilities(),
		Methods:       methods,
		Status:        core.StatusActive,
		LastHeartbeat: now,
		RegisteredAt:  now,
		agent:         agent,
		methods:       methodSet,
		idempotent:    idempotent,
		order:         r.orderSeq,
	}
	r.mu.Unlock()

	r.publishActiveAgents()
	r.emit("agent.registered", agent.ID())
	r.logger.Info("agent registered", "agent_id", agent.ID(), "capabilities", agent.Capabilities())

	return agent.ID(), nil
}

// Unregister removes an agent, reporting whether it was registered.
func (r *Router) Unregister(agentID string) bool {
	r.mu.Lock()
	_, ok := r.agents[agentID]
	delete(r.agents, agentID)
	r.mu.Unlock()

	if ok {
		r.publishActiveAgents()
		r.emit("agent.unregistered", agentID)
		r.logger.Info("agent unregistered", "agent_id", agentID)
	}
	return ok
}

// Heartbeat refreshes an agent's liveness, restoring inactive agents to
// active.
func (r *Router) Heartbeat(agentID string) error {
	r.mu.Lock()
	reg, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return core.NewAgentNotFoundError(agentID)
	}

	reg.LastHeartbeat = time.Now()
	recovered := reg.Status == core.StatusInactive
	if recovered {
		reg.Status = core.StatusActive
	}
	r.mu.Unlock()

	if recovered {
		r.publishActiveAgents()
		r.emit("agent.recovered", agentID)
	}
	return nil
}

// SetAgentStatus force-sets an agent's status. Used by operators to fence a
// faulty agent out of routing.
func (r *Router) SetAgentStatus(agentID string, status core.AgentStatus) error {
	r.mu.Lock()
	reg, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return core.NewAgentNotFoundError(agentID)
	}
	reg.Status = status
	r.mu.Unlock()

	r.publishActiveAgents()
	return nil
}

// SendOptions configures one routed message.
type SendOptions struct {
	Priority Priority
	Timeout  time.Duration

	// Cacheable allows serving/storing the response through the idempotency
	// cache. Only effective for methods on the registration's allow-list.
	Cacheable bool
}

// WithPriority sets the queue tier.
func WithPriority(p Priority) func(o *SendOptions) {
	return func(o *SendOptions) { o.Priority = p }
}

// WithTimeout overrides the default message timeout.
func WithTimeout(d time.Duration) func(o *SendOptions) {
	return func(o *SendOptions) { o.Timeout = d }
}

// WithoutCache bypasses the idempotency cache for this call.
func WithoutCache() func(o *SendOptions) {
	return func(o *SendOptions) { o.Cacheable = false }
}

// Send routes a point-to-point message and waits for the response. It fails
// fast, before enqueueing, when the target is missing, not active, or never
// declared the method. The caller receives a timeout error once the message
// timeout elapses; already-started handler work is not forcibly aborted.
func (r *Router) Send(ctx context.Context, from, to, method string, args map[string]any, optFns ...func(o *SendOptions)) (any, error) {
	opts := SendOptions{Priority: PriorityNormal, Timeout: r.defaultTimeout, Cacheable: true}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = r.defaultTimeout
	}

	r.mu.RLock()
	if !r.started {
		r.mu.RUnlock()
		return nil, core.NewError(core.KindUnavailable, "router not started")
	}
	reg, ok := r.agents[to]
	if !ok {
		r.mu.RUnlock()
		return nil, core.NewAgentNotFoundError(to)
	}
	if reg.Status == core.StatusInactive || reg.Status == core.StatusError {
		status := reg.Status
		r.mu.RUnlock()
		return nil, core.NewAgentUnavailableError(to, status)
	}
	if !reg.hasMethod(method) {
		r.mu.RUnlock()
		return nil, core.NewUnsupportedMethodError(to, method)
	}
	cacheable := opts.Cacheable && reg.isIdempotent(method)
	r.mu.RUnlock()

	if cacheable {
		if value, hit := r.cache.get(cacheKey(to, method, args)); hit {
			if r.collector != nil {
				r.collector.RecordCacheHit()
			}
			r.logger.Debug("cache hit", "agent_id", to, "method", method)
			return value, nil
		}
	}

	msg := NewMessage(from, to, method, args)
	msg.Priority = opts.Priority
	msg.Timeout = opts.Timeout
	msg.Cacheable = cacheable
	msg.enqueuedAt = time.Now()

	item := &queuedMessage{msg: msg, respCh: make(chan dispatchResult, 1)}
	if err := r.queue.push(item); err != nil {
		return nil, err
	}
	r.publishQueueDepth()

	timer := time.NewTimer(msg.Timeout)
	defer timer.Stop()

	select {
	case res := <-item.respCh:
		return res.value, res.err
	case <-timer.C:
		return nil, core.NewTimeoutError("message "+method+" to "+to, msg.Timeout)
	case <-ctx.Done():
		return nil, core.NewCancelledError(ctx.Err())
	}
}

// Broadcast routes the message to every registered agent accepted by the
// optional filter, except the sender. It never fails as a whole: each agent's
// outcome, success or error, is captured in the result map.
func (r *Router) Broadcast(ctx context.Context, from, method string, args map[string]any, filter func(Registration) bool, optFns ...func(o *SendOptions)) map[string]Result {
	r.mu.RLock()
	targets := make([]string, 0, len(r.agents))
	for id, reg := range r.agents {
		if id == from {
			continue
		}
		if filter != nil && !filter(reg.snapshot()) {
			continue
		}
		targets = append(targets, id)
	}
	r.mu.RUnlock()

	results := make(map[string]Result, len(targets))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, id := range targets {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			value, err := r.Send(ctx, from, agentID, method, args, optFns...)
			mu.Lock()
			results[agentID] = Result{Value: value, Err: err}
			mu.Unlock()
		}(id)
	}

	wg.Wait()
	return results
}

// FindOptimalAgent selects the active agent whose capability set covers the
// requirement with the lowest load score. Ties break deterministically toward
// the earliest registration. The boolean reports whether any agent qualified.
func (r *Router) FindOptimalAgent(required []string, exclude ...string) (string, bool) {
	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Registration
	for _, reg := range r.agents {
		if reg.Status != core.StatusActive {
			continue
		}
		if _, skip := excluded[reg.ID]; skip {
			continue
		}
		if !coversCapabilities(reg.Capabilities, required) {
			continue
		}
		if best == nil || reg.LoadScore < best.LoadScore ||
			(reg.LoadScore == best.LoadScore && reg.order < best.order) {
			best = reg
		}
	}

	if best == nil {
		return "", false
	}
	return best.ID, true
}

// AgentStatus returns a snapshot of one registration.
func (r *Router) AgentStatus(agentID string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.agents[agentID]
	if !ok {
		return Registration{}, core.NewAgentNotFoundError(agentID)
	}
	return reg.snapshot(), nil
}

// ListAgents returns snapshots of all registrations in registration order.
func (r *Router) ListAgents() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regs := make([]*Registration, 0, len(r.agents))
	for _, reg := range r.agents {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].order < regs[j].order })

	out := make([]Registration, len(regs))
	for i, reg := range regs {
		out[i] = reg.snapshot()
	}
	return out
}

// Metrics returns the routing counters snapshot.
func (r *Router) Metrics() Metrics {
	r.statsMu.Lock()
	m := Metrics{
		TotalMessages:      r.total,
		SuccessfulMessages: r.succeeded,
		FailedMessages:     r.failed,
	}
	if r.total > 0 {
		m.AverageResponseTime = r.totalLatency / time.Duration(r.total)
	}
	r.statsMu.Unlock()

	m.ActiveAgents = r.countActive()
	m.QueueDepth = r.queue.depth()
	return m
}

// AverageLoad returns the mean load score across all registered agents.
func (r *Router) AverageLoad() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.agents) == 0 {
		return 0
	}
	sum := 0
	for _, reg := range r.agents {
		sum += reg.LoadScore
	}
	return float64(sum) / float64(len(r.agents))
}

// StatusCounts returns per-status agent totals for the health surface.
func (r *Router) StatusCounts() map[core.AgentStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := map[core.AgentStatus]int{}
	for _, reg := range r.agents {
		counts[reg.Status]++
	}
	return counts
}

// QueueDepth returns the number of waiting messages.
func (r *Router) QueueDepth() int { return r.queue.depth() }

// dispatchLoop is the single queue consumer. Each wake-up drains the heap
// completely; execution itself fans out so one slow handler does not block
// higher priority traffic behind it.
func (r *Router) dispatchLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			return
		case <-r.queue.signal:
			for {
				item, ok := r.queue.pop()
				if !ok {
					break
				}
				r.publishQueueDepth()

				r.wg.Add(1)
				go r.dispatch(item)
			}
		}
	}
}

// dispatch executes one dequeued message against its target agent.
func (r *Router) dispatch(item *queuedMessage) {
	defer r.wg.Done()

	msg := item.msg

	queueWait := time.Since(msg.enqueuedAt)

	r.mu.Lock()
	reg, ok := r.agents[msg.To]
	if !ok {
		r.mu.Unlock()
		item.respCh <- dispatchResult{err: core.NewAgentNotFoundError(msg.To)}
		return
	}
	if reg.Status == core.StatusInactive || reg.Status == core.StatusError {
		status := reg.Status
		r.mu.Unlock()
		item.respCh <- dispatchResult{err: core.NewAgentUnavailableError(msg.To, status)}
		return
	}
	reg.inFlight++
	reg.LoadScore++
	reg.Status = core.StatusBusy
	agent := reg.agent
	r.mu.Unlock()

	r.publishActiveAgents()
	r.emit("message.dispatched", msg.ID)

	callCtx := r.runCtx
	cancel := func() {}
	if msg.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(callCtx, msg.Timeout)
	}
	start := time.Now()
	value, err := agent.Handle(callCtx, msg.Method, msg.Args)
	dur := time.Since(start)
	cancel()

	r.settle(msg.To, reg)
	r.recordStats(dur, err == nil)

	if err != nil {
		if core.KindOf(err) == "" {
			err = core.NewExecutionError(msg.To, err)
		}
		r.logger.Warn("message dispatch failed", "agent_id", msg.To, "method", msg.Method, "duration", dur, "error", err)
		r.emit("message.failed", msg.ID)
		item.respCh <- dispatchResult{err: err}
		return
	}

	if msg.Cacheable {
		r.cache.put(cacheKey(msg.To, msg.Method, msg.Args), value)
	}

	r.logger.Debug("message dispatch completed", "agent_id", msg.To, "method", msg.Method, "duration", dur, "queue_wait", queueWait)
	r.emit("message.completed", msg.ID)
	item.respCh <- dispatchResult{value: value}
}

// settle restores the registration after a dispatch, treating completion as
// an implicit heartbeat. The load score never goes negative.
func (r *Router) settle(agentID string, reg *Registration) {
	r.mu.Lock()
	if current, ok := r.agents[agentID]; !ok || current != reg {
		// Unregistered mid-flight; nothing to restore.
		r.mu.Unlock()
		return
	}

	reg.inFlight--
	if reg.inFlight < 0 {
		reg.inFlight = 0
	}
	reg.LoadScore--
	if reg.LoadScore < 0 {
		reg.LoadScore = 0
	}
	reg.LastHeartbeat = time.Now()
	if reg.inFlight == 0 && reg.Status != core.StatusError {
		reg.Status = core.StatusActive
	}
	r.mu.Unlock()

	r.publishActiveAgents()
}

// sweepLoop periodically marks agents with stale heartbeats inactive.
func (r *Router) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.hbInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Router) sweep() {
	now := time.Now()

	r.mu.Lock()
	var stale []string
	for id, reg := range r.agents {
		if reg.Status == core.StatusInactive || reg.Status == core.StatusError {
			continue
		}
		if now.Sub(reg.LastHeartbeat) > r.hbTimeout {
			reg.Status = core.StatusInactive
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		r.logger.Warn("agent heartbeat timed out", "agent_id", id, "timeout", r.hbTimeout)
		r.emit("agent.timeout", id)
	}
	if len(stale) > 0 {
		r.publishActiveAgents()
	}
}

func (r *Router) recordStats(dur time.Duration, success bool) {
	r.statsMu.Lock()
	r.total++
	if success {
		r.succeeded++
	} else {
		r.failed++
	}
	r.totalLatency += dur
	r.statsMu.Unlock()

	if r.collector != nil {
		r.collector.RecordDispatch(dur.Seconds(), success)
	}
}

func (r *Router) countActive() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, reg := range r.agents {
		if reg.Status == core.StatusActive {
			n++
		}
	}
	return n
}

func (r *Router) emit(event string, payload any) {
	if r.events != nil {
		r.events.EmitSync(event, payload)
	}
}

func (r *Router) publishQueueDepth() {
	if r.collector != nil {
		r.collector.SetQueueDepth(r.queue.depth())
	}
}

func (r *Router) publishActiveAgents() {
	if r.collector != nil {
		r.collector.SetActiveAgents(r.countActive())
	}
}

func coversCapabilities(owned, required []string) bool {
	set := make(map[string]struct{}, len(owned))
	for _, c := range owned {
		set[c] = struct{}{}
	}
	for _, req := range required {
		if _, ok := set[req]; !ok {
			return false
		}
	}
	return true
}
