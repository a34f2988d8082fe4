// Package broker provides in-memory room fan-out for live connections.
//
// # Rooms
//
// A room is keyed by the canonical string "conversation_<id>". RoomKey accepts
// either the bare conversation id or the prefixed form, so callers never need
// to care which one a client sent.
//
// # Delivery
//
// Publish is synchronous and best effort: every current member's Send is
// called once. A failing Send is logged and skipped. Publishing to an empty
// room is a delivery miss, logged at debug level and never an error.
//
// Conn.Send must not block. The socket package satisfies this with a bounded
// per-connection queue that drops frames for slow consumers.
//
// # Concurrency
//
// Membership lives under one RWMutex. Publishes hold the read lock while
// sending, so a connection removed by Leave or Disconnect never receives a
// later publish.
package broker
