package bus

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentgrid/agentgrid/core"
	"github.com/agentgrid/agentgrid/logging"
)

// listener is owned exclusively by the bus. The fired flag guards one-shot
// listeners against double invocation when emits race.
type listener struct {
	id       string
	priority int
	once     bool
	filter   Filter
	handler  Handler
	seq      uint64
	fired    atomic.Bool
}

// Options configures a Bus instance.
type Options struct {
	// HistoryCap bounds the diagnostic history ring. Oldest entries are
	// dropped once the cap is reached. Zero disables history retention.
	HistoryCap int

	// Logger receives best-effort diagnostics for listener failures.
	// Defaults to NoOp logger if nil.
	Logger logging.Logger
}

// DefaultHistoryCap bounds the history ring unless overridden.
const DefaultHistoryCap = 100

// Bus is the in-process event dispatcher. It is safe for concurrent use.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string][]*listener
	seq       uint64

	history    []Event
	historyCap int

	errorHook ErrorHook
	logger    logging.Logger

	// wg tracks background re-emissions so Close can drain them.
	wg sync.WaitGroup
}

// New constructs a Bus with optional configuration.
func New(optFns ...func(o *Options)) *Bus {
	opts := Options{
		HistoryCap: DefaultHistoryCap,
		Logger:     logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Bus{
		listeners:  make(map[string][]*listener),
		historyCap: opts.HistoryCap,
		logger:     opts.Logger,
	}
}

// SubscribeOptions configures a single subscription.
type SubscribeOptions struct {
	// Priority orders listener invocation; higher fires first. Listeners with
	// equal priority fire in subscription order.
	Priority int

	// Once removes the listener automatically after its first invocation.
	Once bool

	// Filter is a pure predicate; the listener only receives events the
	// filter accepts.
	Filter Filter
}

// WithPriority sets the listener ordering priority.
func WithPriority(p int) func(o *SubscribeOptions) {
	return func(o *SubscribeOptions) { o.Priority = p }
}

// WithOnce marks the subscription as one-shot.
func WithOnce() func(o *SubscribeOptions) {
	return func(o *SubscribeOptions) { o.Once = true }
}

// WithFilter attaches a filter predicate to the subscription.
func WithFilter(f Filter) func(o *SubscribeOptions) {
	return func(o *SubscribeOptions) { o.Filter = f }
}

// Subscribe registers a handler for the named event and returns the listener
// id used for unsubscription.
func (b *Bus) Subscribe(name string, handler Handler, optFns ...func(o *SubscribeOptions)) string {
	opts := SubscribeOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	l := &listener{
		id:       core.NewID(),
		priority: opts.Priority,
		once:     opts.Once,
		filter:   opts.Filter,
		handler:  handler,
		seq:      b.seq,
	}

	ls := append(b.listeners[name], l)
	// Descending priority, stable on insertion order for ties.
	sort.SliceStable(ls, func(i, j int) bool {
		if ls[i].priority != ls[j].priority {
			return ls[i].priority > ls[j].priority
		}
		return ls[i].seq < ls[j].seq
	})
	b.listeners[name] = ls

	return l.id
}

// Once registers a one-shot handler for the named event.
func (b *Bus) Once(name string, handler Handler, optFns ...func(o *SubscribeOptions)) string {
	return b.Subscribe(name, handler, append(optFns, WithOnce())...)
}

// Unsubscribe removes the listener with the given id. It reports whether a
// listener was actually removed.
func (b *Bus) Unsubscribe(name, listenerID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ls := b.listeners[name]
	for i, l := range ls {
		if l.id == listenerID {
			b.listeners[name] = append(ls[:i:i], ls[i+1:]...)
			if len(b.listeners[name]) == 0 {
				delete(b.listeners, name)
			}
			return true
		}
	}
	return false
}

// SetErrorHook installs the single global hook receiving listener failures.
func (b *Bus) SetErrorHook(hook ErrorHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errorHook = hook
}

// EmitOptions configures a single emission.
type EmitOptions struct {
	Source        string
	CorrelationID string

	// Delay suspends the emission before dispatch.
	Delay time.Duration

	// Retry re-emits the event with exponential backoff while listeners keep
	// failing, up to Retry.Attempts re-emissions.
	Retry *RetryPolicy
}

// WithSource tags the event with its originating component.
func WithSource(source string) func(o *EmitOptions) {
	return func(o *EmitOptions) { o.Source = source }
}

// WithCorrelationID overrides the generated correlation id.
func WithCorrelationID(id string) func(o *EmitOptions) {
	return func(o *EmitOptions) { o.CorrelationID = id }
}

// WithDelay suspends the emission for d before dispatch.
func WithDelay(d time.Duration) func(o *EmitOptions) {
	return func(o *EmitOptions) { o.Delay = d }
}

// WithRetry attaches an exponential backoff re-emission policy.
func WithRetry(attempts int, base time.Duration) func(o *EmitOptions) {
	return func(o *EmitOptions) { o.Retry = &RetryPolicy{Attempts: attempts, Base: base} }
}

// Emit dispatches the named event to all matching listeners in priority
// order. The optional delay is honored before dispatch (context aware).
// Listener errors are reported to the error hook and never interrupt delivery
// to the remaining listeners; if a retry policy is attached and at least one
// listener errored, re-emission is scheduled in the background with
// exponential backoff.
func (b *Bus) Emit(ctx context.Context, name string, payload any, optFns ...func(o *EmitOptions)) error {
	opts := EmitOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	ev := NewEvent(name, payload)
	ev.Source = opts.Source
	if opts.CorrelationID != "" {
		ev.CorrelationID = opts.CorrelationID
	}

	if opts.Delay > 0 {
		timer := time.NewTimer(opts.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return core.NewCancelledError(ctx.Err())
		}
	}

	b.dispatch(ev, opts.Retry)
	return nil
}

// EmitSync dispatches immediately on the caller's goroutine, skipping delay
// and retry handling. Listener failures are only reported to the hook and
// logged.
func (b *Bus) EmitSync(name string, payload any, optFns ...func(o *EmitOptions)) {
	opts := EmitOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	ev := NewEvent(name, payload)
	ev.Source = opts.Source
	if opts.CorrelationID != "" {
		ev.CorrelationID = opts.CorrelationID
	}

	b.dispatch(ev, nil)
}

// dispatch delivers the event and returns the number of listener failures.
func (b *Bus) dispatch(ev Event, retry *RetryPolicy) int {
	start := time.Now()

	b.mu.Lock()
	b.appendHistoryLocked(ev)
	snapshot := make([]*listener, len(b.listeners[ev.Name]))
	copy(snapshot, b.listeners[ev.Name])
	hook := b.errorHook
	b.mu.Unlock()

	failed := 0
	fired := 0
	for _, l := range snapshot {
		if l.filter != nil && !l.filter(ev) {
			continue
		}
		if l.once && !l.fired.CompareAndSwap(false, true) {
			continue
		}

		fired++
		if err := l.handler(ev); err != nil {
			failed++
			if hook != nil {
				hook(ev, l.id, err)
			}
			b.logger.Warn("event listener failed", "event", ev.Name, "listener_id", l.id, "error", err)
		}

		if l.once {
			b.Unsubscribe(ev.Name, l.id)
		}
	}

	b.logger.Debug("event dispatched", "event", ev.Name, "listeners", fired, "failed", failed, "duration", time.Since(start))

	if retry != nil && failed > 0 && ev.RetryCount < retry.Attempts {
		b.scheduleRetry(ev, retry)
	}

	return failed
}

// scheduleRetry re-emits the event after base × 2^(attempt-1), incrementing
// the retry counter carried on the event metadata.
func (b *Bus) scheduleRetry(ev Event, retry *RetryPolicy) {
	backoff := retry.Base << uint(ev.RetryCount)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		time.Sleep(backoff)

		next := ev
		next.RetryCount++
		next.Timestamp = time.Now().UTC()
		b.dispatch(next, retry)
	}()
}

// WaitFor suspends the caller until the next event with the given name (and
// matching the optional filter) arrives, returning its payload. It fails with
// a timeout error once the window elapses. Implemented as a disposable
// one-shot listener guarded by a timer.
func (b *Bus) WaitFor(ctx context.Context, name string, timeout time.Duration, filter Filter) (any, error) {
	ch := make(chan Event, 1)

	optFns := []func(o *SubscribeOptions){WithOnce()}
	if filter != nil {
		optFns = append(optFns, WithFilter(filter))
	}

	id := b.Subscribe(name, func(ev Event) error {
		select {
		case ch <- ev:
		default:
		}
		return nil
	}, optFns...)
	defer b.Unsubscribe(name, id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-ch:
		return ev.Payload, nil
	case <-timer.C:
		return nil, core.NewTimeoutError("wait for event "+name, timeout)
	case <-ctx.Done():
		return nil, core.NewCancelledError(ctx.Err())
	}
}

// History returns up to limit most recent dispatched events, oldest first.
// limit <= 0 returns the full retained ring.
func (b *Bus) History(limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.history)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]Event, n)
	copy(out, b.history[len(b.history)-n:])
	return out
}

// ListenerCount returns the number of listeners registered for the event.
func (b *Bus) ListenerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[name])
}

// Close waits for scheduled background re-emissions to settle.
func (b *Bus) Close() {
	b.wg.Wait()
}

func (b *Bus) appendHistoryLocked(ev Event) {
	if b.historyCap <= 0 {
		return
	}
	b.history = append(b.history, ev)
	if len(b.history) > b.historyCap {
		b.history = b.history[len(b.history)-b.historyCap:]
	}
}
