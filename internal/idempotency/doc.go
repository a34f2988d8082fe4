// Package idempotency remembers the result of an operation by a caller-supplied
// key for a bounded time, so retried requests return the original result
// instead of repeating side effects.
package idempotency
