// ABOUTME: Websocket endpoint upgrading HTTP requests and dispatching client events
// ABOUTME: Routes join/leave to the session manager, typing to presence and status updates to the service

package socket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/2389/hostel-messaging/internal/auth"
	"github.com/2389/hostel-messaging/internal/messaging"
	"github.com/2389/hostel-messaging/internal/session"
	"github.com/2389/hostel-messaging/internal/store"
)

// eventTimeout bounds the store work behind a single client event.
const eventTimeout = 10 * time.Second

// Service is the messaging operations socket events need.
type Service interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetMessage(ctx context.Context, id string) (*store.Message, error)
	MarkDelivered(ctx context.Context, messageID, excludeConnID string) (*store.Message, error)
	MarkRead(ctx context.Context, messageID, excludeConnID string) (*store.Message, error)
}

// Typing is the presence coordinator as seen by socket events.
type Typing interface {
	TypingStart(conversationID, actorID, actorRole, connID string)
	TypingStop(conversationID, actorID, connID string)
}

// Options configures heartbeats, buffering and origin checks.
type Options struct {
	PingInterval   time.Duration
	IdleTimeout    time.Duration
	SendBuffer     int
	AllowedOrigins []string
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 60 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

// Handler serves the websocket endpoint.
type Handler struct {
	sessions *session.Manager
	typing   Typing
	svc      Service
	opts     Options
	upgrader websocket.Upgrader
	validate *validator.Validate
	logger   *slog.Logger

	mu     sync.Mutex
	conns  map[string]*Conn
	closed bool
}

// NewHandler creates a Handler. Pass nil logger for default.
func NewHandler(sessions *session.Manager, typing Typing, svc Service, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})

	h := &Handler{
		sessions: sessions,
		typing:   typing,
		svc:      svc,
		opts:     opts,
		validate: v,
		logger:   logger.With("component", "socket"),
		conns:    make(map[string]*Conn),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin allows requests without an Origin header (non-browser clients)
// and origins on the allow list. "*" allows everything.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.opts.AllowedOrigins, "*") || slices.Contains(h.opts.AllowedOrigins, origin)
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.Debug("upgrade failed", "error", err)
		return
	}

	c := newConn(ws, h.opts.SendBuffer, auth.FromContext(r.Context()), h.logger)
	if !h.track(c) {
		_ = c.Close()
		return
	}
	defer h.untrack(c)

	h.sessions.OnConnect(c)
	c.reply(EventConnected, ConnectedPayload{ConnectionID: c.ID()})

	go c.writePump(h.opts.PingInterval)
	h.readPump(r.Context(), c)

	h.sessions.OnDisconnect(c.ID())
	_ = c.Close()
}

func (h *Handler) track(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c.ID()] = c
	return true
}

func (h *Handler) untrack(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c.ID())
}

// Count returns the number of open connections.
func (h *Handler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close refuses new upgrades and closes every open connection.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// readPump reads frames until the client goes away or the idle deadline passes.
func (h *Handler) readPump(ctx context.Context, c *Conn) {
	c.ws.SetReadLimit(maxFrameBytes)
	extend := func() {
		_ = c.ws.SetReadDeadline(time.Now().Add(h.opts.IdleTimeout))
		h.sessions.Touch(c.ID())
	}
	extend()
	c.ws.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
		extend()

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.reply(EventError, ErrorPayload{Error: string(messaging.KindValidation), Message: "invalid frame"})
			continue
		}

		h.handleFrame(ctx, c, frame)
	}
}

// handleFrame dispatches one client event. Failures become error frames; a
// bad event never closes the connection.
func (h *Handler) handleFrame(ctx context.Context, c *Conn, frame Frame) {
	frame, err := normalizeFrame(frame)
	if err == nil {
		ctx, cancel := context.WithTimeout(ctx, eventTimeout)
		err = h.dispatch(ctx, c, frame)
		cancel()
	}
	if err == nil {
		return
	}

	kind := messaging.KindOf(err)
	if kind == messaging.KindInternal || kind == messaging.KindUnavailable {
		c.logger.Warn("socket event failed", "event", frame.Event, "error", err)
	} else {
		c.logger.Debug("socket event rejected", "event", frame.Event, "error", err)
	}
	c.reply(EventError, ErrorPayload{
		Event:   frame.Event,
		Error:   string(kind),
		Message: messaging.PublicMessage(err),
	})
}

func (h *Handler) dispatch(ctx context.Context, c *Conn, frame Frame) error {
	switch frame.Event {
	case EventJoinRoom:
		var req RoomRequest
		if err := h.decode(frame.Data, &req); err != nil {
			return err
		}
		return h.joinRoom(ctx, c, req)

	case EventLeaveRoom:
		var req RoomRequest
		if err := h.decode(frame.Data, &req); err != nil {
			return err
		}
		room, err := h.sessions.OnLeaveRequest(c.ID(), req.ConversationID)
		if err != nil {
			return sessionError(err)
		}
		c.reply(EventLeft, RoomPayload{ConversationID: req.ConversationID, Room: room})
		return nil

	case EventTypingStart, EventTypingStop:
		var req TypingRequest
		if err := h.decode(frame.Data, &req); err != nil {
			return err
		}
		actorID, err := actorFor(c.auth, req.ActorID)
		if err != nil {
			return err
		}
		if err := h.mayActIn(ctx, c, req.ConversationID); err != nil {
			return err
		}
		if frame.Event == EventTypingStart {
			h.typing.TypingStart(req.ConversationID, actorID, actorRoleFor(c.auth, req.ActorRole), c.ID())
		} else {
			h.typing.TypingStop(req.ConversationID, actorID, c.ID())
		}
		return nil

	case EventMessageDelivered, EventMessageRead:
		var req StatusRequest
		if err := h.decode(frame.Data, &req); err != nil {
			return err
		}
		if err := h.ownsMessage(ctx, c, req.MessageID); err != nil {
			return err
		}
		var err error
		if frame.Event == EventMessageDelivered {
			_, err = h.svc.MarkDelivered(ctx, req.MessageID, c.ID())
		} else {
			_, err = h.svc.MarkRead(ctx, req.MessageID, c.ID())
		}
		return err

	default:
		return &messaging.Error{Kind: messaging.KindValidation, Message: "unknown event"}
	}
}

// joinRoom checks the conversation exists and, for participant tokens, that
// it is theirs, then moves the connection into its room.
func (h *Handler) joinRoom(ctx context.Context, c *Conn, req RoomRequest) error {
	conv, err := h.svc.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return err
	}
	if !c.canSee(conv) {
		return &messaging.Error{Kind: messaging.KindNotFound, Message: "conversation not found"}
	}

	room, err := h.sessions.OnJoinRequest(c.ID(), conv.ID)
	if err != nil {
		return sessionError(err)
	}
	c.reply(EventJoined, RoomPayload{ConversationID: conv.ID, Room: room})
	return nil
}

// mayActIn checks a participant token owns the conversation. Connections
// without a participant token skip the lookup.
func (h *Handler) mayActIn(ctx context.Context, c *Conn, conversationID string) error {
	if c.auth == nil || c.auth.IsSupport() {
		return nil
	}
	conv, err := h.svc.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !c.canSee(conv) {
		return &messaging.Error{Kind: messaging.KindNotFound, Message: "conversation not found"}
	}
	return nil
}

// ownsMessage rejects status updates from participant tokens on messages in
// someone else's conversation. Foreign messages look missing.
func (h *Handler) ownsMessage(ctx context.Context, c *Conn, messageID string) error {
	if c.auth == nil || c.auth.IsSupport() {
		return nil
	}
	msg, err := h.svc.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if err := h.mayActIn(ctx, c, msg.ConversationID); err != nil {
		if messaging.KindOf(err) == messaging.KindNotFound {
			return &messaging.Error{Kind: messaging.KindNotFound, Message: "message not found"}
		}
		return err
	}
	return nil
}

// decode unmarshals event data and validates it.
func (h *Handler) decode(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return &messaging.Error{Kind: messaging.KindValidation, Message: "invalid event data"}
	}
	if err := h.validate.Struct(dst); err != nil {
		return &messaging.Error{Kind: messaging.KindValidation, Message: validationMessage(err)}
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid event data"
	}
	fe := verrs[0]
	if fe.Tag() == "required" {
		return fe.Field() + " is required"
	}
	return fe.Field() + " is invalid"
}

func sessionError(err error) error {
	if errors.Is(err, session.ErrUnknownConnection) {
		return &messaging.Error{Kind: messaging.KindConflict, Message: "connection is closing", Err: err}
	}
	return err
}

// actorFor resolves the typing actor. Participant tokens can only type as
// themselves; without auth the client must name the actor.
func actorFor(authCtx *auth.AuthContext, claimed string) (string, error) {
	claimed = strings.TrimSpace(claimed)
	if authCtx != nil && !authCtx.IsSupport() {
		if claimed != "" && claimed != authCtx.SubjectID {
			return "", &messaging.Error{Kind: messaging.KindValidation, Message: "actor_id does not match token"}
		}
		return authCtx.SubjectID, nil
	}
	if claimed == "" {
		if authCtx != nil {
			return authCtx.SubjectID, nil
		}
		return "", &messaging.Error{Kind: messaging.KindValidation, Message: "actor_id is required"}
	}
	return claimed, nil
}

// actorRoleFor prefers the token role over the claimed one.
func actorRoleFor(authCtx *auth.AuthContext, claimed string) string {
	if authCtx != nil {
		return authCtx.Role
	}
	return claimed
}
