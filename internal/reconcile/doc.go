// Package reconcile periodically rebuilds the denormalized conversation
// preview from the message log, so a failed best-effort preview write never
// stays wrong for long.
package reconcile
