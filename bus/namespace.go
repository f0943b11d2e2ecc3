package bus

import (
	"context"
	"time"
)

// Namespace is a prefixing view over a Bus so a subsystem can use short event
// names without colliding with other components. All operations delegate to
// the underlying bus with "prefix.name".
type Namespace struct {
	bus    *Bus
	prefix string
}

// Namespaced returns a view that prefixes every event name with prefix.
func (b *Bus) Namespaced(prefix string) *Namespace {
	return &Namespace{bus: b, prefix: prefix}
}

func (n *Namespace) qualify(name string) string { return n.prefix + "." + name }

// Subscribe registers a handler under the namespaced event name.
func (n *Namespace) Subscribe(name string, handler Handler, optFns ...func(o *SubscribeOptions)) string {
	return n.bus.Subscribe(n.qualify(name), handler, optFns...)
}

// Once registers a one-shot handler under the namespaced event name.
func (n *Namespace) Once(name string, handler Handler, optFns ...func(o *SubscribeOptions)) string {
	return n.bus.Once(n.qualify(name), handler, optFns...)
}

// Unsubscribe removes a listener registered through this namespace.
func (n *Namespace) Unsubscribe(name, listenerID string) bool {
	return n.bus.Unsubscribe(n.qualify(name), listenerID)
}

// Emit publishes under the namespaced event name.
func (n *Namespace) Emit(ctx context.Context, name string, payload any, optFns ...func(o *EmitOptions)) error {
	return n.bus.Emit(ctx, n.qualify(name), payload, optFns...)
}

// EmitSync publishes under the namespaced event name without delay or retry.
func (n *Namespace) EmitSync(name string, payload any, optFns ...func(o *EmitOptions)) {
	n.bus.EmitSync(n.qualify(name), payload, optFns...)
}

// WaitFor suspends until the namespaced event arrives or the timeout fires.
func (n *Namespace) WaitFor(ctx context.Context, name string, timeout time.Duration, filter Filter) (any, error) {
	return n.bus.WaitFor(ctx, n.qualify(name), timeout, filter)
}
