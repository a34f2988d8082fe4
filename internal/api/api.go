// ABOUTME: REST handlers for conversations, messages and delivery status
// ABOUTME: Validates requests at the boundary and delegates to the messaging service

package api

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/2389/hostel-messaging/internal/auth"
	"github.com/2389/hostel-messaging/internal/messaging"
	"github.com/2389/hostel-messaging/internal/store"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// IdempotencyKeyHeader lets clients retry sends safely.
const IdempotencyKeyHeader = "Idempotency-Key"

// Service is the messaging operations the handlers need.
type Service interface {
	StartConversation(ctx context.Context, participantID string) (*store.Conversation, bool, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	ListConversations(ctx context.Context, filter messaging.ListFilter) ([]*store.Conversation, error)
	AssignConversation(ctx context.Context, id, assigneeID string) (*store.Conversation, error)
	SendMessage(ctx context.Context, req messaging.SendRequest) (*store.Message, error)
	ListMessages(ctx context.Context, conversationID string, page messaging.Page) (*messaging.MessagePage, error)
	GetMessage(ctx context.Context, id string) (*store.Message, error)
	MarkDelivered(ctx context.Context, messageID, excludeConnID string) (*store.Message, error)
	MarkRead(ctx context.Context, messageID, excludeConnID string) (*store.Message, error)
	Ping(ctx context.Context) error
}

// StartConversationRequest is the body of POST /conversations.
type StartConversationRequest struct {
	ParticipantID string `json:"participant_id" validate:"required"`
}

// StartConversationResponse is returned by POST /conversations.
type StartConversationResponse struct {
	ConversationID string `json:"conversation_id"`
	Created        bool   `json:"created"`
}

// SendMessageRequest is the body of POST /messages.
type SendMessageRequest struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	SenderID       string `json:"sender_id" validate:"required"`
	SenderRole     string `json:"sender_role" validate:"required,oneof=participant support"`
	Body           string `json:"body" validate:"required,max=4000"`
}

// AssignRequest is the body of PUT /conversations/{id}/assignee.
// An empty assignee returns the conversation to the shared queue.
type AssignRequest struct {
	AssigneeID string `json:"assignee_id"`
}

// StatusResponse is returned by the status PATCH endpoints.
type StatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Handler serves the messaging REST API.
type Handler struct {
	svc      Service
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler creates a Handler. Pass nil logger for default.
func NewHandler(svc Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New()
	// Report JSON field names in validation messages
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		svc:      svc,
		validate: v,
		logger:   logger.With("component", "api"),
	}
}

// Routes registers the canonical endpoints and the legacy adapter on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/conversations", h.handleStartConversation)
	r.Get("/conversations", h.handleListConversations)
	r.Get("/conversations/{id}", h.handleGetConversation)
	r.With(auth.RequireSupportHTTP()).Put("/conversations/{id}/assignee", h.handleAssign)
	r.Get("/conversations/{id}/messages", h.handleListMessages)

	r.Post("/messages", h.handleSendMessage)
	r.Patch("/messages/{id}/read", h.handleMarkRead)
	r.Patch("/messages/{id}/delivered", h.handleMarkDelivered)

	h.compatRoutes(r)
}

// handleStartConversation handles POST /conversations.
func (h *Handler) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	var req StartConversationRequest
	if msg, ok := h.decodeJSON(w, r, &req); !ok {
		sendJSONError(w, http.StatusBadRequest, string(messaging.KindValidation), msg)
		return
	}

	h.startConversation(w, r, req.ParticipantID, func(conv *store.Conversation, created bool) any {
		return StartConversationResponse{ConversationID: conv.ID, Created: created}
	})
}

// startConversation runs the get-or-create and writes 201 for new, 200 for existing.
func (h *Handler) startConversation(w http.ResponseWriter, r *http.Request, participantID string, body func(*store.Conversation, bool) any) {
	participantID, ok := h.actingAs(w, r, participantID)
	if !ok {
		return
	}

	conv, created, err := h.svc.StartConversation(r.Context(), participantID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, body(conv, created))
}

// handleListConversations handles GET /conversations?participant_id=|assignee_id=|all=true.
func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := messaging.ListFilter{
		ParticipantID: q.Get("participant_id"),
		AssigneeID:    q.Get("assignee_id"),
	}
	if all := q.Get("all"); all != "" {
		parsed, err := strconv.ParseBool(all)
		if err != nil {
			sendJSONError(w, http.StatusBadRequest, string(messaging.KindValidation), "all must be a boolean")
			return
		}
		filter.All = parsed
	}

	if filter.ParticipantID != "" {
		id, ok := h.actingAs(w, r, filter.ParticipantID)
		if !ok {
			return
		}
		filter.ParticipantID = id
	} else if !h.requireSupport(w, r) {
		return
	}

	h.listConversations(w, r, filter)
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request, filter messaging.ListFilter) {
	convs, err := h.svc.ListConversations(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messaging.NewConversationPayloads(convs))
}

// handleGetConversation handles GET /conversations/{id}.
func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.svc.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !h.canSee(w, r, conv) {
		return
	}
	writeJSON(w, http.StatusOK, messaging.NewConversationPayload(conv))
}

// handleAssign handles PUT /conversations/{id}/assignee.
func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if msg, ok := h.decodeJSON(w, r, &req); !ok {
		sendJSONError(w, http.StatusBadRequest, string(messaging.KindValidation), msg)
		return
	}

	conv, err := h.svc.AssignConversation(r.Context(), chi.URLParam(r, "id"), req.AssigneeID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messaging.NewConversationPayload(conv))
}

// handleListMessages handles GET /conversations/{id}/messages?limit=&offset=.
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	page, msg, ok := parsePage(r)
	if !ok {
		sendJSONError(w, http.StatusBadRequest, string(messaging.KindValidation), msg)
		return
	}

	id := chi.URLParam(r, "id")
	if !h.canSeeID(w, r, id) {
		return
	}

	result, err := h.svc.ListMessages(r.Context(), id, page)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSendMessage handles POST /messages.
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if msg, ok := h.decodeJSON(w, r, &req); !ok {
		sendJSONError(w, http.StatusBadRequest, string(messaging.KindValidation), msg)
		return
	}

	h.sendMessage(w, r, messaging.SendRequest{
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		SenderRole:     store.SenderRole(req.SenderRole),
		Body:           req.Body,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)),
	}, func(m *store.Message) any { return messaging.NewMessagePayload(m) })
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request, req messaging.SendRequest, body func(*store.Message) any) {
	if authCtx := auth.FromContext(r.Context()); authCtx != nil && !authCtx.IsSupport() {
		if req.SenderRole != store.SenderRoleParticipant {
			sendJSONError(w, http.StatusForbidden, "forbidden", "participants can only send as participant")
			return
		}
		sender, ok := h.actingAs(w, r, req.SenderID)
		if !ok {
			return
		}
		req.SenderID = sender
		if !h.canSeeID(w, r, req.ConversationID) {
			return
		}
	}

	msg, err := h.svc.SendMessage(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, body(msg))
}

// handleMarkRead handles PATCH /messages/{id}/read.
func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.canSeeMessage(w, r, id) {
		return
	}
	msg, err := h.svc.MarkRead(r.Context(), id, "")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{ID: msg.ID, Status: string(msg.Status)})
}

// handleMarkDelivered handles PATCH /messages/{id}/delivered.
func (h *Handler) handleMarkDelivered(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.canSeeMessage(w, r, id) {
		return
	}
	msg, err := h.svc.MarkDelivered(r.Context(), id, "")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{ID: msg.ID, Status: string(msg.Status)})
}

// parsePage reads limit and offset query params. Absent values use the
// service defaults; out-of-range values are clamped by the service.
func parsePage(r *http.Request) (messaging.Page, string, bool) {
	var page messaging.Page
	q := r.URL.Query()

	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return page, "limit must be an integer", false
		}
		if n < 1 {
			n = 1
		}
		page.Limit = n
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return page, "offset must be an integer", false
		}
		page.Offset = n
	}
	return page, "", true
}

// actingAs resolves the participant a request acts for. With a participant
// token the claimed id must be empty or match the token subject.
func (h *Handler) actingAs(w http.ResponseWriter, r *http.Request, claimed string) (string, bool) {
	claimed = strings.TrimSpace(claimed)
	authCtx := auth.FromContext(r.Context())
	if authCtx == nil || authCtx.IsSupport() {
		return claimed, true
	}
	if claimed == "" {
		return authCtx.SubjectID, true
	}
	if claimed != authCtx.SubjectID {
		sendJSONError(w, http.StatusForbidden, "forbidden", "cannot act for another participant")
		return "", false
	}
	return claimed, true
}

// requireSupport rejects participant tokens.
func (h *Handler) requireSupport(w http.ResponseWriter, r *http.Request) bool {
	authCtx := auth.FromContext(r.Context())
	if authCtx != nil && !authCtx.IsSupport() {
		sendJSONError(w, http.StatusForbidden, "forbidden", "support role required")
		return false
	}
	return true
}

// canSee checks a participant token owns the conversation.
func (h *Handler) canSee(w http.ResponseWriter, r *http.Request, conv *store.Conversation) bool {
	authCtx := auth.FromContext(r.Context())
	if authCtx == nil || authCtx.IsSupport() || conv.ParticipantID == authCtx.SubjectID {
		return true
	}
	// Same response as a missing conversation
	sendJSONError(w, http.StatusNotFound, string(messaging.KindNotFound), "conversation not found")
	return false
}

// canSeeID is canSee for handlers that only have the id.
func (h *Handler) canSeeID(w http.ResponseWriter, r *http.Request, id string) bool {
	authCtx := auth.FromContext(r.Context())
	if authCtx == nil || authCtx.IsSupport() {
		return true
	}
	conv, err := h.svc.GetConversation(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return false
	}
	return h.canSee(w, r, conv)
}

// canSeeMessage checks a participant token owns the message's conversation.
// A foreign message looks missing.
func (h *Handler) canSeeMessage(w http.ResponseWriter, r *http.Request, id string) bool {
	authCtx := auth.FromContext(r.Context())
	if authCtx == nil || authCtx.IsSupport() {
		return true
	}
	msg, err := h.svc.GetMessage(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return false
	}
	conv, err := h.svc.GetConversation(r.Context(), msg.ConversationID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return false
	}
	if conv.ParticipantID != authCtx.SubjectID {
		sendJSONError(w, http.StatusNotFound, string(messaging.KindNotFound), "message not found")
		return false
	}
	return true
}
