// ABOUTME: Store interface and data types for hostel-messaging persistence
// ABOUTME: Defines Conversation, Message, status lifecycle and the Store interface

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a participant already owns a conversation
var ErrDuplicateConversation = errors.New("conversation already exists for participant")

// SenderRole identifies which side of a conversation authored a message
type SenderRole string

const (
	SenderRoleParticipant SenderRole = "participant"
	SenderRoleSupport     SenderRole = "support"
)

// Valid reports whether r is a known role.
func (r SenderRole) Valid() bool {
	return r == SenderRoleParticipant || r == SenderRoleSupport
}

// MessageStatus is the delivery lifecycle of a message: sent -> delivered -> read.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// rank orders statuses so transitions can be compared.
func (s MessageStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Advances reports whether moving from s to next is a forward transition.
func (s MessageStatus) Advances(next MessageStatus) bool {
	return next.rank() > s.rank()
}

// Conversation is the durable channel between one resident and the support pool.
// SupportAssigneeID is nil while the conversation sits in the shared queue.
type Conversation struct {
	ID                string
	ParticipantID     string
	SupportAssigneeID *string
	LastMessage       *string // denormalized preview of the newest message
	LastMessageAt     *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Message is a single entry in a conversation's ordered log.
// Seq is assigned by the store and breaks created_at ties.
type Message struct {
	ID             string
	Seq            int64
	ConversationID string
	SenderID       string
	SenderRole     SenderRole
	Body           string
	Status         MessageStatus
	CreatedAt      time.Time
	DeliveredAt    *time.Time
	ReadAt         *time.Time
}

// Store defines the interface for conversation and message persistence
type Store interface {
	// Conversations
	FindOrCreateConversation(ctx context.Context, participantID string) (*Conversation, bool, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context) ([]*Conversation, error)
	ListConversationsForParticipant(ctx context.Context, participantID string) ([]*Conversation, error)
	ListConversationsForAssignee(ctx context.Context, assigneeID string) ([]*Conversation, error)
	AssignConversation(ctx context.Context, id, assigneeID string) (*Conversation, error)
	TouchConversation(ctx context.Context, id string, preview *string, at *time.Time) error

	// Messages
	AppendMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*Message, int, error)
	LatestMessage(ctx context.Context, conversationID string) (*Message, error)

	// Delivery/read tracking. changed is false when the call would move status backward.
	MarkDelivered(ctx context.Context, id string, at time.Time) (msg *Message, changed bool, err error)
	MarkRead(ctx context.Context, id string, at time.Time) (msg *Message, changed bool, err error)

	// Ping checks the store is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

func newID() string {
	return uuid.New().String()
}
