// ABOUTME: Connection session registry binding each live connection to at most one room
// ABOUTME: Handles connect/join/leave/disconnect lifecycle and idle session sweeping

package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/hostel-messaging/internal/broker"
)

// ErrUnknownConnection is returned for operations on a connection that is not
// registered or has already disconnected.
var ErrUnknownConnection = errors.New("unknown connection")

// State is the lifecycle state of a session.
type State string

const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// Rooms is the broker surface the manager drives.
type Rooms interface {
	Join(conn broker.Conn, conversationID string) string
	Leave(connID, conversationID string)
	Disconnect(connID string) []string
}

// Typing drops typing indicators owned by a connection.
type Typing interface {
	DropConnection(connID string)
	DropConnectionInRoom(connID, conversationID string)
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID          string
	Room        string // empty when not in a room
	State       State
	ConnectedAt time.Time
	LastSeen    time.Time
}

type session struct {
	conn        broker.Conn
	room        string
	connectedAt time.Time
	lastSeen    time.Time
}

func (s *session) snapshot(state State) Snapshot {
	return Snapshot{
		ID:          s.conn.ID(),
		Room:        s.room,
		State:       state,
		ConnectedAt: s.connectedAt,
		LastSeen:    s.lastSeen,
	}
}

// Manager tracks live connections and their current room.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session // keyed by connection ID
	rooms    Rooms
	typing   Typing
	logger   *slog.Logger
}

// NewManager creates a Manager. typing may be nil. Pass nil logger for default.
func NewManager(rooms Rooms, typing Typing, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*session),
		rooms:    rooms,
		typing:   typing,
		logger:   logger.With("component", "session"),
	}
}

// OnConnect registers a new connection with no room.
func (m *Manager) OnConnect(conn broker.Conn) Snapshot {
	now := time.Now()
	s := &session{
		conn:        conn,
		connectedAt: now,
		lastSeen:    now,
	}

	m.mu.Lock()
	m.sessions[conn.ID()] = s
	count := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("connection opened", "conn_id", conn.ID(), "connections", count)
	return s.snapshot(StateConnected)
}

// OnJoinRequest moves the connection into the conversation's room, leaving
// its current room first. Returns the room key.
func (m *Manager) OnJoinRequest(connID, conversationID string) (string, error) {
	room := broker.RoomKey(conversationID)

	m.mu.Lock()
	s, ok := m.sessions[connID]
	if !ok {
		m.mu.Unlock()
		return "", ErrUnknownConnection
	}

	previous := ""
	if s.room != "" && s.room != room {
		previous = s.room
		m.rooms.Leave(connID, previous)
		m.logger.Debug("left previous room", "conn_id", connID, "room", previous)
	}

	m.rooms.Join(s.conn, conversationID)
	s.room = room
	s.lastSeen = time.Now()
	m.mu.Unlock()

	if previous != "" {
		m.dropTyping(connID, previous)
	}

	m.logger.Info("joined room", "conn_id", connID, "room", room)
	return room, nil
}

// OnLeaveRequest removes the connection from the conversation's room.
// Leaving a room the connection is not in is a no-op.
func (m *Manager) OnLeaveRequest(connID, conversationID string) (string, error) {
	room := broker.RoomKey(conversationID)

	m.mu.Lock()
	s, ok := m.sessions[connID]
	if !ok {
		m.mu.Unlock()
		return "", ErrUnknownConnection
	}

	m.rooms.Leave(connID, conversationID)
	if s.room == room {
		s.room = ""
	}
	s.lastSeen = time.Now()
	m.mu.Unlock()

	m.dropTyping(connID, room)

	m.logger.Info("left room", "conn_id", connID, "room", room)
	return room, nil
}

// dropTyping hides the connection's indicators in a room it no longer
// occupies. Must be called without m.mu held.
func (m *Manager) dropTyping(connID, room string) {
	if m.typing != nil {
		m.typing.DropConnectionInRoom(connID, room)
	}
}

// OnDisconnect drops typing state, removes the connection from every room and
// forgets the session. Safe for unknown connections and repeat calls.
// Returns the final snapshot and whether the connection was known.
func (m *Manager) OnDisconnect(connID string) (Snapshot, bool) {
	if m.typing != nil {
		m.typing.DropConnection(connID)
	}

	m.mu.Lock()
	s, ok := m.sessions[connID]
	delete(m.sessions, connID)
	count := len(m.sessions)
	m.rooms.Disconnect(connID)
	m.mu.Unlock()

	if !ok {
		return Snapshot{ID: connID, State: StateDisconnected}, false
	}

	m.logger.Info("connection closed", "conn_id", connID, "connections", count)
	return s.snapshot(StateDisconnected), true
}

// Touch records inbound activity on the connection.
func (m *Manager) Touch(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[connID]; ok {
		s.lastSeen = time.Now()
	}
}

// Session returns a snapshot of the connection's session.
func (m *Manager) Session(connID string) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[connID]
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(StateConnected), true
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep disconnects sessions with no activity for longer than idle. Connections
// implementing io.Closer are closed. Returns the swept connection ids.
func (m *Manager) Sweep(idle time.Duration) []string {
	now := time.Now()

	m.mu.RLock()
	var stale []*session
	for _, s := range m.sessions {
		if now.Sub(s.lastSeen) > idle {
			stale = append(stale, s)
		}
	}
	m.mu.RUnlock()

	swept := make([]string, 0, len(stale))
	for _, s := range stale {
		id := s.conn.ID()
		if _, ok := m.OnDisconnect(id); !ok {
			continue
		}
		if closer, ok := s.conn.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				m.logger.Debug("closing stale connection", "conn_id", id, "error", err)
			}
		}
		swept = append(swept, id)
	}

	if len(swept) > 0 {
		m.logger.Info("swept idle connections", "count", len(swept))
	}
	return swept
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(idle)
		}
	}
}
