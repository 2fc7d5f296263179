// Package types holds the structured error type shared across the session
// engine, the LLM provider adapters, and the HTTP boundary.
//
// It intentionally stays small: a single Error type with a stable code,
// optional HTTP status and retryable hint, and builder methods, so that a
// failure originating in a guardrail check, a provider call, or a store
// lookup can cross package boundaries without losing its classification.
package types
