// ABOUTME: Websocket connection wrapper implementing the broker connection contract
// ABOUTME: Queues outbound frames on a bounded channel drained by a single writer goroutine

package socket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/hostel-messaging/internal/auth"
	"github.com/2389/hostel-messaging/internal/broker"
	"github.com/2389/hostel-messaging/internal/store"
)

const (
	// writeWait bounds a single frame write
	writeWait = 10 * time.Second

	// maxFrameBytes caps inbound frames
	maxFrameBytes = 64 << 10
)

// Connection errors
var (
	ErrConnClosed = errors.New("connection closed")
	ErrBufferFull = errors.New("send buffer full")
)

// outFrame is the wire shape of every server frame.
type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Conn is one websocket client. It satisfies broker.Conn and io.Closer.
type Conn struct {
	id     string
	ws     *websocket.Conn
	auth   *auth.AuthContext
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	send   chan []byte
	done   chan struct{}
}

func newConn(ws *websocket.Conn, buffer int, authCtx *auth.AuthContext, logger *slog.Logger) *Conn {
	id := uuid.New().String()
	return &Conn{
		id:     id,
		ws:     ws,
		auth:   authCtx,
		logger: logger.With("conn_id", id),
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// canSee reports whether the connection's token may act in the conversation.
func (c *Conn) canSee(conv *store.Conversation) bool {
	return c.auth == nil || c.auth.IsSupport() || conv.ParticipantID == c.auth.SubjectID
}

// Send queues a room event. It never blocks: a full buffer drops the frame
// for this connection only.
func (c *Conn) Send(event broker.Event) error {
	return c.enqueue(event.Name, event.Payload)
}

// enqueue marshals and queues a frame.
func (c *Conn) enqueue(name string, data any) error {
	frame, err := json.Marshal(outFrame{Event: name, Data: data})
	if err != nil {
		return err
	}

	// Hold the read lock while sending to prevent close during send
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrBufferFull
	}
}

// reply queues a connection-scoped frame, logging drops.
func (c *Conn) reply(name string, data any) {
	if err := c.enqueue(name, data); err != nil && !errors.Is(err, ErrConnClosed) {
		c.logger.Warn("dropped reply", "event", name, "error", err)
	}
}

// Close sends a close frame and tears down the socket. Safe to call repeatedly.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.ws.Close()
}

// writePump drains the send queue and pings on interval until the
// connection closes or a write fails.
func (c *Conn) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("write failed", "error", err)
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed", "error", err)
				_ = c.Close()
				return
			}
		}
	}
}

func (c *Conn) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
