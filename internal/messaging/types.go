// ABOUTME: Request, filter and wire payload types for the messaging service
// ABOUTME: JSON shapes shared by the REST handlers and socket events

package messaging

import (
	"time"

	"github.com/2389/hostel-messaging/internal/store"
)

// Pagination bounds for ListMessages.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// PreviewLength is the maximum number of runes kept in a conversation preview.
const PreviewLength = 120

// MaxBodyLength is the maximum number of runes in a message body.
const MaxBodyLength = 4000

// SendRequest is everything needed to append a message.
type SendRequest struct {
	ConversationID string
	SenderID       string
	SenderRole     store.SenderRole
	Body           string

	// IdempotencyKey, when set, makes retries return the first result
	IdempotencyKey string
}

// ListFilter selects which conversations to list. Exactly one field is used,
// checked in the order ParticipantID, AssigneeID, All.
type ListFilter struct {
	ParticipantID string
	AssigneeID    string
	All           bool
}

// Page requests a window of a conversation's log.
type Page struct {
	Limit  int
	Offset int
}

// normalize applies the default limit and clamps both fields.
func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// MessagePage is a window of a conversation's log with pagination metadata.
type MessagePage struct {
	Data    []MessagePayload `json:"data"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
	HasMore bool             `json:"hasMore"`
}

// MessagePayload is the JSON shape of a message.
type MessagePayload struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	SenderRole     string     `json:"sender_role"`
	Body           string     `json:"body"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

// NewMessagePayload converts a stored message.
func NewMessagePayload(m *store.Message) MessagePayload {
	return MessagePayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderRole:     string(m.SenderRole),
		Body:           m.Body,
		Status:         string(m.Status),
		CreatedAt:      m.CreatedAt,
		DeliveredAt:    m.DeliveredAt,
		ReadAt:         m.ReadAt,
	}
}

// ConversationPayload is the JSON shape of a conversation.
type ConversationPayload struct {
	ID                string     `json:"id"`
	ParticipantID     string     `json:"participant_id"`
	SupportAssigneeID *string    `json:"support_assignee_id"`
	LastMessage       *string    `json:"last_message"`
	LastMessageAt     *time.Time `json:"last_message_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// NewConversationPayload converts a stored conversation.
func NewConversationPayload(c *store.Conversation) ConversationPayload {
	return ConversationPayload{
		ID:                c.ID,
		ParticipantID:     c.ParticipantID,
		SupportAssigneeID: c.SupportAssigneeID,
		LastMessage:       c.LastMessage,
		LastMessageAt:     c.LastMessageAt,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

// NewConversationPayloads converts a list, never returning nil.
func NewConversationPayloads(convs []*store.Conversation) []ConversationPayload {
	out := make([]ConversationPayload, 0, len(convs))
	for _, c := range convs {
		out = append(out, NewConversationPayload(c))
	}
	return out
}

// StatusPayload is the body of messageStatusChanged events.
type StatusPayload struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
}
