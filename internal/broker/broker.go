// ABOUTME: In-memory room broker fanning events out to live connections
// ABOUTME: Tracks room membership per connection and publishes with optional sender exclusion

package broker

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// roomPrefix is prepended to conversation ids to form room keys.
const roomPrefix = "conversation_"

// Event names published to rooms.
const (
	EventNewMessage           = "newMessage"
	EventTypingShow           = "typingShow"
	EventTypingHide           = "typingHide"
	EventMessageStatusChanged = "messageStatusChanged"
)

// Event is a named payload delivered to room members.
type Event struct {
	Name    string
	Room    string
	Payload any
}

// Conn is a live connection that can receive events. Send must not block.
type Conn interface {
	ID() string
	Send(event Event) error
}

// RoomKey normalises a conversation id or room key to the canonical room key.
func RoomKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, roomPrefix) {
		return raw
	}
	return roomPrefix + raw
}

// ConversationID strips the room prefix, returning the bare conversation id.
func ConversationID(raw string) string {
	return strings.TrimPrefix(strings.TrimSpace(raw), roomPrefix)
}

// Broker maps rooms to member connections.
type Broker struct {
	mu          sync.RWMutex
	rooms       map[string]map[string]Conn     // roomKey -> connID -> conn
	memberships map[string]map[string]struct{} // connID -> roomKeys
	logger      *slog.Logger
}

// New creates a broker. Pass nil logger for default.
func New(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		rooms:       make(map[string]map[string]Conn),
		memberships: make(map[string]map[string]struct{}),
		logger:      logger.With("component", "broker"),
	}
}

// Join adds conn to the conversation's room. Joining twice is a no-op.
// Returns the room key.
func (b *Broker) Join(conn Conn, conversationID string) string {
	room := RoomKey(conversationID)
	connID := conn.ID()

	b.mu.Lock()
	defer b.mu.Unlock()

	members, ok := b.rooms[room]
	if !ok {
		members = make(map[string]Conn)
		b.rooms[room] = members
	}
	members[connID] = conn

	rooms, ok := b.memberships[connID]
	if !ok {
		rooms = make(map[string]struct{})
		b.memberships[connID] = rooms
	}
	rooms[room] = struct{}{}

	b.logger.Debug("joined room", "room", room, "conn_id", connID, "members", len(members))
	return room
}

// Leave removes the connection from the conversation's room.
// Safe to call for connections that are not members.
func (b *Broker) Leave(connID, conversationID string) {
	room := RoomKey(conversationID)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeLocked(connID, room)
}

// Disconnect removes the connection from every room and returns the rooms it left.
func (b *Broker) Disconnect(connID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	rooms := b.memberships[connID]
	left := make([]string, 0, len(rooms))
	for room := range rooms {
		left = append(left, room)
	}
	for _, room := range left {
		b.removeLocked(connID, room)
	}
	sort.Strings(left)

	if len(left) > 0 {
		b.logger.Debug("connection removed from rooms", "conn_id", connID, "rooms", left)
	}
	return left
}

// removeLocked drops one membership. Caller must hold b.mu.
func (b *Broker) removeLocked(connID, room string) {
	if members, ok := b.rooms[room]; ok {
		if _, member := members[connID]; member {
			delete(members, connID)
			b.logger.Debug("left room", "room", room, "conn_id", connID)
		}
		if len(members) == 0 {
			delete(b.rooms, room)
		}
	}

	if rooms, ok := b.memberships[connID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(b.memberships, connID)
		}
	}
}

// Publish delivers an event to every member of the conversation's room.
// Returns the number of members the event was handed to.
func (b *Broker) Publish(conversationID, name string, payload any) int {
	return b.PublishExcept(conversationID, name, payload, "")
}

// PublishExcept delivers an event to every member except excludeConnID.
// An empty excludeConnID excludes nobody.
func (b *Broker) PublishExcept(conversationID, name string, payload any, excludeConnID string) int {
	room := RoomKey(conversationID)
	event := Event{Name: name, Room: room, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for id, conn := range b.rooms[room] {
		if excludeConnID != "" && id == excludeConnID {
			continue
		}
		if err := conn.Send(event); err != nil {
			b.logger.Warn("failed to deliver event",
				"room", room,
				"event", name,
				"conn_id", id,
				"error", err)
			continue
		}
		delivered++
	}

	if delivered == 0 {
		b.logger.Debug("delivery miss: no recipients", "room", room, "event", name)
	}
	return delivered
}

// Members returns the connection ids in the conversation's room, sorted.
func (b *Broker) Members(conversationID string) []string {
	room := RoomKey(conversationID)

	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.rooms[room]))
	for id := range b.rooms[room] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RoomsOf returns the room keys the connection belongs to, sorted.
func (b *Broker) RoomsOf(connID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rooms := make([]string, 0, len(b.memberships[connID]))
	for room := range b.memberships[connID] {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// RoomCount returns the number of non-empty rooms.
func (b *Broker) RoomCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms)
}
