// Package bus implements the typed in-process publish/subscribe core used by
// the router, coordinator and external observers.
//
// Listeners are registered against named events with an ordering priority, an
// optional pure filter predicate and an optional one-shot flag. Dispatch
// invokes listeners in non-increasing priority order (stable on insertion for
// ties); a listener error is reported to a single global error hook and never
// stops delivery to the remaining listeners. Every dispatch is appended to a
// bounded FIFO-trimmed history ring for diagnostics.
//
// Emit supports delayed delivery and an exponential-backoff re-emission policy
// for events whose dispatch saw at least one listener error. WaitFor suspends
// the caller until the next matching event or a timeout, implemented as a
// disposable one-shot listener guarded by a timer.
package bus
