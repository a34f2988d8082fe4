// ABOUTME: Typing indicator coordinator with server-side expiry watchdogs
// ABOUTME: Publishes typingShow/typingHide through the broker, excluding the typer's connection

package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/hostel-messaging/internal/broker"
)

// DefaultTypingTimeout is how long an indicator stays up without a refresh.
const DefaultTypingTimeout = 6 * time.Second

// Publisher fans events out to a conversation's room.
type Publisher interface {
	PublishExcept(conversationID, name string, payload any, excludeConnID string) int
}

// TypingPayload is the body of typingShow and typingHide events.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	ActorID        string `json:"actor_id"`
	ActorRole      string `json:"actor_role,omitempty"`
}

type typingKey struct {
	conversationID string
	actorID        string
}

type indicator struct {
	connID string
	timer  *time.Timer
	gen    uint64
}

// Coordinator tracks who is typing where and expires stale indicators.
type Coordinator struct {
	mu        sync.Mutex
	active    map[typingKey]*indicator
	gen       uint64
	publisher Publisher
	timeout   time.Duration
	logger    *slog.Logger
}

// New creates a Coordinator. A zero timeout uses DefaultTypingTimeout.
// Pass nil logger for default.
func New(publisher Publisher, timeout time.Duration, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &Coordinator{
		active:    make(map[typingKey]*indicator),
		publisher: publisher,
		timeout:   timeout,
		logger:    logger.With("component", "presence"),
	}
}

// TypingStart shows the indicator to the rest of the room and arms (or refreshes)
// its watchdog.
func (c *Coordinator) TypingStart(conversationID, actorID, actorRole, connID string) {
	conversationID = broker.ConversationID(conversationID)
	key := typingKey{conversationID: conversationID, actorID: actorID}

	c.mu.Lock()
	if existing, ok := c.active[key]; ok {
		existing.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.active[key] = &indicator{
		connID: connID,
		gen:    gen,
		timer:  time.AfterFunc(c.timeout, func() { c.expire(key, gen) }),
	}
	c.mu.Unlock()

	c.publisher.PublishExcept(conversationID, broker.EventTypingShow, TypingPayload{
		ConversationID: conversationID,
		ActorID:        actorID,
		ActorRole:      actorRole,
	}, connID)
}

// TypingStop clears the indicator. Hide is published even when no indicator was
// active so clients converge.
func (c *Coordinator) TypingStop(conversationID, actorID, connID string) {
	conversationID = broker.ConversationID(conversationID)
	key := typingKey{conversationID: conversationID, actorID: actorID}

	c.mu.Lock()
	if existing, ok := c.active[key]; ok {
		existing.timer.Stop()
		delete(c.active, key)
	}
	c.mu.Unlock()

	c.publishHide(key, connID)
}

// expire fires from the watchdog. A stale generation means the indicator was
// refreshed or stopped after this timer was armed.
func (c *Coordinator) expire(key typingKey, gen uint64) {
	c.mu.Lock()
	existing, ok := c.active[key]
	if !ok || existing.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.active, key)
	c.mu.Unlock()

	c.logger.Debug("typing indicator expired",
		"conversation_id", key.conversationID,
		"actor_id", key.actorID)
	c.publishHide(key, existing.connID)
}

// DropConnection expires every indicator owned by the connection.
func (c *Coordinator) DropConnection(connID string) {
	c.drop(connID, func(typingKey) bool { return true })
}

// DropConnectionInRoom expires the connection's indicators in one
// conversation, for a connection leaving or switching rooms.
func (c *Coordinator) DropConnectionInRoom(connID, conversationID string) {
	conversationID = broker.ConversationID(conversationID)
	c.drop(connID, func(key typingKey) bool { return key.conversationID == conversationID })
}

func (c *Coordinator) drop(connID string, match func(typingKey) bool) {
	c.mu.Lock()
	var dropped []typingKey
	for key, ind := range c.active {
		if ind.connID == connID && match(key) {
			ind.timer.Stop()
			delete(c.active, key)
			dropped = append(dropped, key)
		}
	}
	c.mu.Unlock()

	for _, key := range dropped {
		c.publishHide(key, connID)
	}
}

func (c *Coordinator) publishHide(key typingKey, excludeConnID string) {
	c.publisher.PublishExcept(key.conversationID, broker.EventTypingHide, TypingPayload{
		ConversationID: key.conversationID,
		ActorID:        key.actorID,
	}, excludeConnID)
}

// Active returns the actors currently typing in the conversation, sorted.
func (c *Coordinator) Active(conversationID string) []string {
	conversationID = broker.ConversationID(conversationID)

	c.mu.Lock()
	defer c.mu.Unlock()

	actors := make([]string, 0)
	for key := range c.active {
		if key.conversationID == conversationID {
			actors = append(actors, key.actorID)
		}
	}
	sort.Strings(actors)
	return actors
}

// Close stops every watchdog without publishing.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, ind := range c.active {
		ind.timer.Stop()
		delete(c.active, key)
	}
}
