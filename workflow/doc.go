// Package workflow coordinates multi-step agent workflows as dependency
// graphs. Submitted definitions are validated up front (unique step IDs,
// resolvable dependencies, no cycles) and then executed asynchronously in
// waves: every step whose dependencies have completed runs concurrently with
// its siblings, and the next wave starts only when the current one has fully
// settled. Individual steps route through the agent registry and retry
// transient failures with backoff before counting as failed.
package workflow
