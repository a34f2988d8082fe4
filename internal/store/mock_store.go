// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation ID
	byParticipant map[string]string        // participant ID -> conversation ID
	messages      map[string][]*Message    // keyed by conversation ID, in log order
	messageIndex  map[string]*Message      // keyed by message ID
	nextSeq       int64
	lastAppend    time.Time

	// PingErr is returned by Ping when set
	PingErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		byParticipant: make(map[string]string),
		messages:      make(map[string][]*Message),
		messageIndex:  make(map[string]*Message),
	}
}

func copyConversation(c *Conversation) *Conversation {
	result := *c
	if c.SupportAssigneeID != nil {
		v := *c.SupportAssigneeID
		result.SupportAssigneeID = &v
	}
	if c.LastMessage != nil {
		v := *c.LastMessage
		result.LastMessage = &v
	}
	if c.LastMessageAt != nil {
		v := *c.LastMessageAt
		result.LastMessageAt = &v
	}
	return &result
}

func copyMessage(msg *Message) *Message {
	result := *msg
	if msg.DeliveredAt != nil {
		v := *msg.DeliveredAt
		result.DeliveredAt = &v
	}
	if msg.ReadAt != nil {
		v := *msg.ReadAt
		result.ReadAt = &v
	}
	return &result
}

// FindOrCreateConversation returns the participant's conversation, creating it if needed.
func (m *MockStore) FindOrCreateConversation(ctx context.Context, participantID string) (*Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byParticipant[participantID]; ok {
		return copyConversation(m.conversations[id]), false, nil
	}

	now := time.Now().UTC()
	conv := &Conversation{
		ID:            newID(),
		ParticipantID: participantID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.conversations[conv.ID] = conv
	m.byParticipant[participantID] = conv.ID

	return copyConversation(conv), true, nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(conv), nil
}

// filterConversations returns matching conversations ordered by updated_at desc.
func (m *MockStore) filterConversations(keep func(*Conversation) bool) []*Conversation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Conversation, 0)
	for _, conv := range m.conversations {
		if keep(conv) {
			result = append(result, copyConversation(conv))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.After(result[j].UpdatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// ListConversations returns every conversation.
func (m *MockStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	return m.filterConversations(func(*Conversation) bool { return true }), nil
}

// ListConversationsForParticipant returns the participant's conversations.
func (m *MockStore) ListConversationsForParticipant(ctx context.Context, participantID string) ([]*Conversation, error) {
	return m.filterConversations(func(c *Conversation) bool {
		return c.ParticipantID == participantID
	}), nil
}

// ListConversationsForAssignee returns conversations assigned to assigneeID plus unassigned ones.
func (m *MockStore) ListConversationsForAssignee(ctx context.Context, assigneeID string) ([]*Conversation, error) {
	return m.filterConversations(func(c *Conversation) bool {
		return c.SupportAssigneeID == nil || *c.SupportAssigneeID == assigneeID
	}), nil
}

// AssignConversation sets or clears the support assignee.
func (m *MockStore) AssignConversation(ctx context.Context, id, assigneeID string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}

	if assigneeID == "" {
		conv.SupportAssigneeID = nil
	} else {
		v := assigneeID
		conv.SupportAssigneeID = &v
	}
	conv.UpdatedAt = time.Now().UTC()

	return copyConversation(conv), nil
}

// TouchConversation refreshes the preview fields.
func (m *MockStore) TouchConversation(ctx context.Context, id string, preview *string, at *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}

	if preview != nil {
		v := *preview
		conv.LastMessage = &v
	} else {
		conv.LastMessage = nil
	}

	if at != nil {
		v := at.UTC()
		conv.LastMessageAt = &v
		if v.After(conv.UpdatedAt) {
			conv.UpdatedAt = v
		}
	} else {
		conv.LastMessageAt = nil
	}
	return nil
}

// AppendMessage appends a message to the conversation's log.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = newID()
	}

	now := time.Now().UTC()
	if now.Before(m.lastAppend) {
		now = m.lastAppend
	}
	m.lastAppend = now
	m.nextSeq++

	msg.Seq = m.nextSeq
	msg.Status = StatusSent
	msg.CreatedAt = now
	msg.DeliveredAt = nil
	msg.ReadAt = nil

	stored := copyMessage(msg)
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], stored)
	m.messageIndex[msg.ID] = stored
	return nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messageIndex[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(msg), nil
}

// ListMessages returns a page of the conversation's log and the total count.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*Message, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.messages[conversationID]
	total := len(log)

	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	result := make([]*Message, 0, end-offset)
	for _, msg := range log[offset:end] {
		result = append(result, copyMessage(msg))
	}
	return result, total, nil
}

// LatestMessage returns the newest message in the conversation.
func (m *MockStore) LatestMessage(ctx context.Context, conversationID string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.messages[conversationID]
	if len(log) == 0 {
		return nil, ErrNotFound
	}
	return copyMessage(log[len(log)-1]), nil
}

// MarkDelivered moves a sent message to delivered.
func (m *MockStore) MarkDelivered(ctx context.Context, id string, at time.Time) (*Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messageIndex[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if !msg.Status.Advances(StatusDelivered) {
		return copyMessage(msg), false, nil
	}

	stamp := at.UTC()
	msg.Status = StatusDelivered
	msg.DeliveredAt = &stamp
	return copyMessage(msg), true, nil
}

// MarkRead moves a message to read.
func (m *MockStore) MarkRead(ctx context.Context, id string, at time.Time) (*Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messageIndex[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if !msg.Status.Advances(StatusRead) {
		return copyMessage(msg), false, nil
	}

	stamp := at.UTC()
	msg.Status = StatusRead
	msg.ReadAt = &stamp
	if msg.DeliveredAt == nil {
		delivered := stamp
		msg.DeliveredAt = &delivered
	}
	return copyMessage(msg), true, nil
}

// Ping returns PingErr.
func (m *MockStore) Ping(ctx context.Context) error {
	return m.PingErr
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

var _ Store = (*MockStore)(nil)
var _ Store = (*SQLiteStore)(nil)
