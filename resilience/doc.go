// Package resilience provides the failure-isolation primitives shared by the
// router and coordinator: retry-with-backoff for retryable errors, a circuit
// breaker state machine for protecting repeatedly failing call-sites, and a
// fixed-window rate limiter with suspicious-activity tracking.
//
// All primitives consume the structured errors from package core, so retry
// eligibility and rejection kinds are decided from typed metadata rather than
// string matching.
package resilience
