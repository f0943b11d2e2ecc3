// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when constructing domain objects (agents, workflow
// definitions) and capturing bus traffic. These helpers are intentionally
// minimal. They are not intended for production usage.
package testutil
