// Package router implements the agent registry and message router.
//
// Agents register with a capability set and a typed method table. Messages are
// point-to-point or broadcast, inserted into a priority-ordered queue
// (urgent > high > normal > low, FIFO within a tier) and drained by a
// dispatch worker woken through a channel signal rather than a polling tick.
// On dispatch the target agent's load score is incremented and its status set
// to busy; on settlement the load is decremented (floored at zero), status
// restored and the heartbeat refreshed.
//
// Results of methods registered as idempotent are cached under a composite
// (agent, method, args) key for a configurable TTL, so repeated identical
// requests are served without re-invoking the handler. A background sweep
// marks agents whose heartbeat went stale as inactive and announces the
// timeout on the event bus; routing never selects inactive agents.
package router
