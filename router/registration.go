package router

import (
	"time"

	"github.com/agentgrid/agentgrid/core"
)

// Registration is the registry's view of one agent: identity, capabilities,
// live status, load score and heartbeat. It is mutated only by the router
// (dispatch transitions, heartbeat sweep) under the registry lock.
type Registration struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Capabilities  []string         `json:"capabilities"`
	Methods       []string         `json:"methods"`
	Status        core.AgentStatus `json:"status"`
	LoadScore     int              `json:"load_score"`
	LastHeartbeat time.Time        `json:"last_heartbeat"`
	RegisteredAt  time.Time        `json:"registered_at"`

	agent      core.Agent
	methods    map[string]struct{}
	idempotent map[string]struct{}
	order      uint64
	inFlight   int
}

// snapshot returns a copy safe for external consumption.
func (r *Registration) snapshot() Registration {
	out := *r
	out.agent = nil
	out.methods = nil
	out.idempotent = nil

	out.Capabilities = make([]string, len(r.Capabilities))
	copy(out.Capabilities, r.Capabilities)
	out.Methods = make([]string, len(r.Methods))
	copy(out.Methods, r.Methods)

	return out
}

// hasMethod reports whether the agent declared the method at registration.
func (r *Registration) hasMethod(method string) bool {
	_, ok := r.methods[method]
	return ok
}

// isIdempotent reports whether the method was registered on the idempotent
// allow-list, making its responses cacheable.
func (r *Registration) isIdempotent(method string) bool {
	_, ok := r.idempotent[method]
	return ok
}
