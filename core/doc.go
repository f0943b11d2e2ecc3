// Package core provides the foundational domain types shared by the AgentGrid
// orchestration components. It defines:
//
//   - Agents (independently implemented handlers with a declared capability
//     set and a typed method table)
//   - Structured errors (kind, message, contextual details, retryable flag)
//     used by every component so retry eligibility never relies on string
//     matching
//   - Agent status values used by the registry and health surface
//
// The package intentionally keeps implementation concerns (routing, workflow
// scheduling, event dispatch) out of scope, exposing small interfaces so the
// higher layers stay decoupled and independently testable.
package core
