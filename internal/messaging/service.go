// ABOUTME: Messaging service orchestrating conversation/message persistence and room fan-out
// ABOUTME: Persists first, then publishes; the store is the source of truth, the broker is best effort

package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/2389/hostel-messaging/internal/broker"
	"github.com/2389/hostel-messaging/internal/idempotency"
	"github.com/2389/hostel-messaging/internal/store"
)

// Publisher fans events out to a conversation's room.
type Publisher interface {
	PublishExcept(conversationID, name string, payload any, excludeConnID string) int
}

// Service is the single entry point for REST and socket handlers.
type Service struct {
	store     store.Store
	publisher Publisher
	sends     *idempotency.Cache[*store.Message]
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Service. sends may be nil to disable idempotency keys.
// Pass nil logger for default.
func New(st store.Store, publisher Publisher, sends *idempotency.Cache[*store.Message], logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		publisher: publisher,
		sends:     sends,
		logger:    logger.With("component", "messaging"),
		now:       time.Now,
	}
}

// StartConversation returns the participant's conversation, creating it on
// first contact. created reports whether it was just created.
func (s *Service) StartConversation(ctx context.Context, participantID string) (*store.Conversation, bool, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return nil, false, validationError("participant_id is required")
	}

	conv, created, err := s.store.FindOrCreateConversation(ctx, participantID)
	if err != nil {
		s.logger.Error("failed to start conversation", "participant_id", participantID, "error", err)
		return nil, false, storeError(err, "conversation")
	}

	if created {
		s.logger.Info("conversation created", "conversation_id", conv.ID, "participant_id", participantID)
	}
	return conv, created, nil
}

// GetConversation returns a conversation by id.
func (s *Service) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	id = broker.ConversationID(id)
	if id == "" {
		return nil, validationError("conversation_id is required")
	}

	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, s.logStoreError(err, "conversation", "conversation_id", id)
	}
	return conv, nil
}

// GetMessage returns a message by id.
func (s *Service) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, validationError("message_id is required")
	}

	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, s.logStoreError(err, "message", "message_id", id)
	}
	return msg, nil
}

// ListConversations lists conversations for a participant, for an assignee
// (their own plus the unassigned queue), or all of them.
func (s *Service) ListConversations(ctx context.Context, filter ListFilter) ([]*store.Conversation, error) {
	var convs []*store.Conversation
	var err error

	switch {
	case strings.TrimSpace(filter.ParticipantID) != "":
		convs, err = s.store.ListConversationsForParticipant(ctx, strings.TrimSpace(filter.ParticipantID))
	case strings.TrimSpace(filter.AssigneeID) != "":
		convs, err = s.store.ListConversationsForAssignee(ctx, strings.TrimSpace(filter.AssigneeID))
	case filter.All:
		convs, err = s.store.ListConversations(ctx)
	default:
		return nil, validationError("one of participant_id, assignee_id or all is required")
	}

	if err != nil {
		return nil, s.logStoreError(err, "conversations")
	}
	return convs, nil
}

// AssignConversation sets the support assignee. An empty assigneeID returns the
// conversation to the shared queue.
func (s *Service) AssignConversation(ctx context.Context, id, assigneeID string) (*store.Conversation, error) {
	id = broker.ConversationID(id)
	if id == "" {
		return nil, validationError("conversation_id is required")
	}

	conv, err := s.store.AssignConversation(ctx, id, strings.TrimSpace(assigneeID))
	if err != nil {
		return nil, s.logStoreError(err, "conversation", "conversation_id", id)
	}

	s.logger.Info("conversation assigned", "conversation_id", id, "assignee_id", assigneeID)
	return conv, nil
}

func (s *Service) validateSend(req *SendRequest) error {
	req.ConversationID = broker.ConversationID(req.ConversationID)
	req.SenderID = strings.TrimSpace(req.SenderID)

	if req.ConversationID == "" {
		return validationError("conversation_id is required")
	}
	if req.SenderID == "" {
		return validationError("sender_id is required")
	}
	if !req.SenderRole.Valid() {
		return validationError("sender_role must be participant or support")
	}
	if strings.TrimSpace(req.Body) == "" {
		return validationError("body is required")
	}
	if utf8.RuneCountInString(req.Body) > MaxBodyLength {
		return validationError("body exceeds %d characters", MaxBodyLength)
	}
	return nil
}

// SendMessage appends a message, refreshes the conversation preview and
// publishes newMessage to the room. With an IdempotencyKey, a retry returns
// the first message without appending or publishing again.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) (*store.Message, error) {
	if err := s.validateSend(&req); err != nil {
		return nil, err
	}

	if s.sends == nil || req.IdempotencyKey == "" {
		return s.send(ctx, req)
	}

	key := req.ConversationID + "|" + req.SenderID + "|" + req.IdempotencyKey
	msg, replayed, err := s.sends.Do(key, func() (*store.Message, error) {
		return s.send(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		s.logger.Debug("replayed idempotent send",
			"conversation_id", req.ConversationID,
			"message_id", msg.ID)
	}
	return msg, nil
}

func (s *Service) send(ctx context.Context, req SendRequest) (*store.Message, error) {
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		SenderRole:     req.SenderRole,
		Body:           req.Body,
	}

	// Record first; the log is the source of truth
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, s.logStoreError(err, "conversation", "conversation_id", req.ConversationID)
	}

	s.logger.Debug("message recorded",
		"conversation_id", msg.ConversationID,
		"message_id", msg.ID,
		"sender_role", msg.SenderRole)

	preview := Preview(msg.Body)
	at := msg.CreatedAt
	if err := s.store.TouchConversation(ctx, msg.ConversationID, &preview, &at); err != nil {
		s.logger.Warn("failed to update conversation preview",
			"conversation_id", msg.ConversationID,
			"error", err)
	}

	s.publisher.PublishExcept(msg.ConversationID, broker.EventNewMessage, NewMessagePayload(msg), "")
	return msg, nil
}

// ListMessages returns a page of the conversation's log in ascending order.
func (s *Service) ListMessages(ctx context.Context, conversationID string, page Page) (*MessagePage, error) {
	conversationID = broker.ConversationID(conversationID)
	if conversationID == "" {
		return nil, validationError("conversation_id is required")
	}
	page = page.normalize()

	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, s.logStoreError(err, "conversation", "conversation_id", conversationID)
	}

	msgs, total, err := s.store.ListMessages(ctx, conversationID, page.Limit, page.Offset)
	if err != nil {
		return nil, s.logStoreError(err, "messages", "conversation_id", conversationID)
	}

	data := make([]MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		data = append(data, NewMessagePayload(m))
	}

	return &MessagePage{
		Data:    data,
		Total:   total,
		Limit:   page.Limit,
		Offset:  page.Offset,
		HasMore: page.Offset+len(data) < total,
	}, nil
}

// MarkDelivered advances a message to delivered. excludeConnID, when set, keeps
// the status event from echoing back to the reporting connection.
func (s *Service) MarkDelivered(ctx context.Context, messageID, excludeConnID string) (*store.Message, error) {
	return s.markStatus(ctx, messageID, excludeConnID, store.StatusDelivered)
}

// MarkRead advances a message to read. See MarkDelivered.
func (s *Service) MarkRead(ctx context.Context, messageID, excludeConnID string) (*store.Message, error) {
	return s.markStatus(ctx, messageID, excludeConnID, store.StatusRead)
}

func (s *Service) markStatus(ctx context.Context, messageID, excludeConnID string, status store.MessageStatus) (*store.Message, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, validationError("message_id is required")
	}

	now := s.now()
	var msg *store.Message
	var changed bool
	var err error

	switch status {
	case store.StatusDelivered:
		msg, changed, err = s.store.MarkDelivered(ctx, messageID, now)
	case store.StatusRead:
		msg, changed, err = s.store.MarkRead(ctx, messageID, now)
	default:
		return nil, validationError("unsupported status %q", status)
	}
	if err != nil {
		return nil, s.logStoreError(err, "message", "message_id", messageID)
	}

	if !changed {
		s.logger.Debug("status update ignored",
			"message_id", messageID,
			"requested", status,
			"current", msg.Status)
		return msg, nil
	}

	stamp := now
	if status == store.StatusRead && msg.ReadAt != nil {
		stamp = *msg.ReadAt
	} else if status == store.StatusDelivered && msg.DeliveredAt != nil {
		stamp = *msg.DeliveredAt
	}

	s.publisher.PublishExcept(msg.ConversationID, broker.EventMessageStatusChanged, StatusPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Status:         string(msg.Status),
		Timestamp:      stamp,
	}, excludeConnID)

	return msg, nil
}

// ReconcilePreviews recomputes every conversation's preview from the tail of
// its message log. Returns how many conversations were corrected.
func (s *Service) ReconcilePreviews(ctx context.Context) (int, error) {
	convs, err := s.store.ListConversations(ctx)
	if err != nil {
		return 0, s.logStoreError(err, "conversations")
	}

	fixed := 0
	for _, conv := range convs {
		if err := ctx.Err(); err != nil {
			return fixed, err
		}

		var preview *string
		var at *time.Time

		latest, err := s.store.LatestMessage(ctx, conv.ID)
		switch {
		case err == nil:
			p := Preview(latest.Body)
			t := latest.CreatedAt
			preview, at = &p, &t
		case errors.Is(err, store.ErrNotFound):
			// Empty log: preview must be empty too
		default:
			return fixed, s.logStoreError(err, "message", "conversation_id", conv.ID)
		}

		if previewMatches(conv, preview, at) {
			continue
		}

		if err := s.store.TouchConversation(ctx, conv.ID, preview, at); err != nil {
			return fixed, s.logStoreError(err, "conversation", "conversation_id", conv.ID)
		}
		fixed++
		s.logger.Info("reconciled conversation preview", "conversation_id", conv.ID)
	}

	return fixed, nil
}

func previewMatches(conv *store.Conversation, preview *string, at *time.Time) bool {
	if (conv.LastMessage == nil) != (preview == nil) {
		return false
	}
	if preview != nil && *conv.LastMessage != *preview {
		return false
	}
	if (conv.LastMessageAt == nil) != (at == nil) {
		return false
	}
	return at == nil || conv.LastMessageAt.Equal(*at)
}

// Ping checks the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return &Error{Kind: KindUnavailable, Message: "storage temporarily unavailable", Err: err}
	}
	return nil
}

// Preview truncates body to PreviewLength runes.
func Preview(body string) string {
	body = strings.TrimSpace(body)
	if utf8.RuneCountInString(body) <= PreviewLength {
		return body
	}
	runes := []rune(body)
	return string(runes[:PreviewLength])
}

// logStoreError logs unexpected store failures and maps err into the taxonomy.
func (s *Service) logStoreError(err error, what string, attrs ...any) *Error {
	mapped := storeError(err, what)
	if mapped.Kind == KindUnavailable {
		s.logger.Error("store operation failed", append(attrs, "error", err)...)
	}
	return mapped
}
