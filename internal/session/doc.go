// Package session tracks live socket connections.
//
// Each connection has at most one current room. Joining a new room leaves the
// previous one first. Disconnect drops the connection's typing indicators,
// removes it from every broker room and forgets the session; calling it again,
// or for a connection that never joined anything, is a no-op.
//
// Sessions idle longer than the configured timeout are swept by RunSweeper,
// mirroring the periodic cleanup loop used for other hub-style registries.
package session
