// ABOUTME: Socket event names and payload shapes for client and connection-scoped frames
// ABOUTME: Room-scoped server events come from the broker; these are the rest

package socket

import "encoding/json"

// Client to server events.
const (
	EventJoinRoom         = "joinRoom"
	EventLeaveRoom        = "leaveRoom"
	EventTypingStart      = "typingStart"
	EventTypingStop       = "typingStop"
	EventMessageDelivered = "messageDelivered"
	EventMessageRead      = "messageRead"
)

// Connection-scoped server events.
const (
	EventConnected = "connected"
	EventJoined    = "joined"
	EventLeft      = "left"
	EventError     = "error"
)

// Frame is the wire shape of a client frame.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomRequest is the data of joinRoom and leaveRoom.
type RoomRequest struct {
	ConversationID string `json:"conversation_id" validate:"required"`
}

// TypingRequest is the data of typingStart and typingStop.
type TypingRequest struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	ActorID        string `json:"actor_id"`
	ActorRole      string `json:"actor_role" validate:"omitempty,oneof=participant support"`
}

// StatusRequest is the data of messageDelivered and messageRead.
type StatusRequest struct {
	MessageID      string `json:"message_id" validate:"required"`
	ConversationID string `json:"conversation_id"`
}

// ConnectedPayload greets a new connection.
type ConnectedPayload struct {
	ConnectionID string `json:"connection_id"`
}

// RoomPayload acknowledges joinRoom and leaveRoom.
type RoomPayload struct {
	ConversationID string `json:"conversation_id"`
	Room           string `json:"room"`
}

// ErrorPayload reports a failed client event. The connection stays open.
type ErrorPayload struct {
	Event   string `json:"event"`
	Error   string `json:"error"`
	Message string `json:"message"`
}
