// ABOUTME: Compatibility adapter for the legacy messaging routes used by older mobile and web clients
// ABOUTME: Collapses field aliases into the canonical request shapes; nothing else accepts aliases

package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/2389/hostel-messaging/internal/auth"
	"github.com/2389/hostel-messaging/internal/messaging"
	"github.com/2389/hostel-messaging/internal/store"
)

// legacyStartRequest is the body of POST /conversation/start.
type legacyStartRequest struct {
	UserID        string `json:"user_id"`
	ParticipantID string `json:"participant_id"`
	AdminID       string `json:"admin_id"` // accepted and ignored; conversations are shared
}

// legacyStartResponse keeps the old {id} shape.
type legacyStartResponse struct {
	ID string `json:"id"`
}

// legacySendRequest accepts every sender and body alias older clients use.
type legacySendRequest struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderUserID   string `json:"sender_user_id"`
	SenderAdminID  string `json:"sender_admin_id"`
	SenderRole     string `json:"sender_role"`
	Text           string `json:"text"`
	Content        string `json:"content"`
	Body           string `json:"body"`
}

// canonical collapses aliases: sender_id, then sender_user_id, then
// sender_admin_id; body, then text, then content. Without an explicit role a
// sender_admin_id marks the sender as support.
func (req legacySendRequest) canonical() SendMessageRequest {
	out := SendMessageRequest{
		ConversationID: req.ConversationID,
		SenderID:       firstNonEmpty(req.SenderID, req.SenderUserID, req.SenderAdminID),
		SenderRole:     strings.TrimSpace(req.SenderRole),
		Body:           firstNonEmpty(req.Body, req.Text, req.Content),
	}
	if out.SenderRole == "" {
		out.SenderRole = string(store.SenderRoleParticipant)
		if strings.TrimSpace(req.SenderAdminID) != "" {
			out.SenderRole = string(store.SenderRoleSupport)
		}
	}
	return out
}

// legacyMessage is the canonical payload plus the duplicated fields old
// clients read.
type legacyMessage struct {
	messaging.MessagePayload
	Text          string  `json:"text"`
	Content       string  `json:"content"`
	SenderUserID  *string `json:"sender_user_id"`
	SenderAdminID *string `json:"sender_admin_id"`
	IsRead        bool    `json:"is_read"`
}

func newLegacyMessage(m *store.Message) legacyMessage {
	out := legacyMessage{
		MessagePayload: messaging.NewMessagePayload(m),
		Text:           m.Body,
		Content:        m.Body,
		IsRead:         m.Status == store.StatusRead,
	}
	sender := m.SenderID
	if m.SenderRole == store.SenderRoleSupport {
		out.SenderAdminID = &sender
	} else {
		out.SenderUserID = &sender
	}
	return out
}

// legacyConversation adds the old user_id/admin_id names.
type legacyConversation struct {
	messaging.ConversationPayload
	UserID  string  `json:"user_id"`
	AdminID *string `json:"admin_id"`
}

func newLegacyConversations(convs []*store.Conversation) []legacyConversation {
	out := make([]legacyConversation, 0, len(convs))
	for _, c := range convs {
		out = append(out, legacyConversation{
			ConversationPayload: messaging.NewConversationPayload(c),
			UserID:              c.ParticipantID,
			AdminID:             c.SupportAssigneeID,
		})
	}
	return out
}

// legacyReadResponse keeps the old confirmation message.
type legacyReadResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
	Status  string `json:"status"`
}

// compatRoutes registers the legacy route shapes.
func (h *Handler) compatRoutes(r chi.Router) {
	r.Post("/conversation/start", h.handleLegacyStart)
	r.Post("/user/conversations/{user_id}", h.handleLegacyStart)

	r.Post("/message/send", h.handleLegacySend)
	r.Post("/send", h.handleLegacySend)

	r.With(auth.RequireSupportHTTP()).Get("/admin/conversations/{admin_id}", h.handleLegacyAdminConversations)
	r.Get("/user/conversations/{user_id}", h.handleLegacyUserConversations)

	r.Get("/messages/{conversation_id}", h.handleLegacyMessages)
	r.Patch("/message/read/{message_id}", h.handleLegacyMarkRead)
}

// handleLegacyStart handles POST /conversation/start and
// POST /user/conversations/{user_id}. The path id wins over the body.
func (h *Handler) handleLegacyStart(w http.ResponseWriter, r *http.Request) {
	var req legacyStartRequest
	if msg, ok := h.decodeOptionalJSON(w, r, &req); !ok {
		sendJSONError(w, http.StatusBadRequest, string(messaging.KindValidation), msg)
		return
	}

	participantID := firstNonEmpty(chi.URLParam(r, "user_id"), req.UserID, req.ParticipantID)
	if participantID == "" && auth.FromContext(r.Context()) == nil {
		sendJSONError(w, http.StatusBadRequest, string(messaging.KindValidation), "user_id is required")
		return
	}

	h.startConversation(w, r, participantID, func(conv *store.Conversation, _ bool) any {
		return legacyStartResponse{ID: conv.ID}
	})
}

// handleLegacySend handles POST /message/send and POST /send.
func (h *Handler) handleLegacySend(w http.ResponseWriter, r *http.Request) {
	var legacy legacySendRequest
	if msg, ok := h.decodeJSON(w, r, &legacy); !ok {
		sendJSONError(w, http.StatusBadRequest, string(messaging.KindValidation), msg)
		return
	}

	req := legacy.canonical()
	if err := h.validate.Struct(req); err != nil {
		sendJSONError(w, http.StatusBadRequest, string(messaging.KindValidation), validationMessage(err))
		return
	}

	h.sendMessage(w, r, messaging.SendRequest{
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		SenderRole:     store.SenderRole(req.SenderRole),
		Body:           req.Body,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)),
	}, func(m *store.Message) any { return newLegacyMessage(m) })
}

// handleLegacyAdminConversations handles GET /admin/conversations/{admin_id}.
// Conversations are shared, so every admin sees all of them.
func (h *Handler) handleLegacyAdminConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.svc.ListConversations(r.Context(), messaging.ListFilter{All: true})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLegacyConversations(convs))
}

// handleLegacyUserConversations handles GET /user/conversations/{user_id}.
func (h *Handler) handleLegacyUserConversations(w http.ResponseWriter, r *http.Request) {
	participantID, ok := h.actingAs(w, r, chi.URLParam(r, "user_id"))
	if !ok {
		return
	}

	convs, err := h.svc.ListConversations(r.Context(), messaging.ListFilter{ParticipantID: participantID})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLegacyConversations(convs))
}

// handleLegacyMessages handles GET /messages/{conversation_id}. Without
// limit or offset it returns the whole log as a bare array like it used to;
// with either it returns the canonical page.
func (h *Handler) handleLegacyMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversation_id")
	if !h.canSeeID(w, r, id) {
		return
	}

	q := r.URL.Query()
	if q.Has("limit") || q.Has("offset") {
		page, msg, ok := parsePage(r)
		if !ok {
			sendJSONError(w, http.StatusBadRequest, string(messaging.KindValidation), msg)
			return
		}
		result, err := h.svc.ListMessages(r.Context(), id, page)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	all := make([]messaging.MessagePayload, 0)
	page := messaging.Page{Limit: messaging.MaxPageLimit}
	for {
		result, err := h.svc.ListMessages(r.Context(), id, page)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		all = append(all, result.Data...)
		if !result.HasMore || len(result.Data) == 0 {
			break
		}
		page.Offset += len(result.Data)
	}
	writeJSON(w, http.StatusOK, all)
}

// handleLegacyMarkRead handles PATCH /message/read/{message_id}.
func (h *Handler) handleLegacyMarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "message_id")
	if !h.canSeeMessage(w, r, id) {
		return
	}
	msg, err := h.svc.MarkRead(r.Context(), id, "")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, legacyReadResponse{
		Message: "Message marked as read",
		ID:      msg.ID,
		Status:  string(msg.Status),
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
