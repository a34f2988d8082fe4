// Package store provides persistent storage for hostel messaging using SQLite.
//
// # Data Models
//
//   - Conversation: one per participant, optionally assigned to a support user,
//     carrying a denormalized preview of its newest message
//   - Message: an append-only log entry with a delivery status
//     (sent -> delivered -> read)
//
// # Ordering
//
// Messages are listed by (created_at, seq). Appends are serialized inside the
// store and created_at never moves backwards, so the order matches the order in
// which appends completed. Timestamps are stored as fixed-width UTC text.
//
// # Status Tracking
//
// MarkDelivered and MarkRead only move status forward. Calls that would move it
// backward return the stored message with changed=false and touch nothing.
// Marking read also stamps delivered_at when the delivered step was skipped.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// # Testing
//
// Use NewMockStore() for unit tests of the layers above. Use NewSQLiteStore
// with a path under t.TempDir() for tests against real SQLite.
package store
