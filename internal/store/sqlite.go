// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so that TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	// appendMu serializes appends so seq order always agrees with created_at order
	appendMu   sync.Mutex
	lastAppend time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps PRAGMAs and :memory: databases consistent
	// across queries. SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id                  TEXT PRIMARY KEY,
			participant_id      TEXT NOT NULL,
			support_assignee_id TEXT,
			last_message        TEXT,
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_participant
			ON conversations(participant_id);

		CREATE INDEX IF NOT EXISTS idx_conversations_assignee
			ON conversations(support_assignee_id, updated_at);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at);

		CREATE TABLE IF NOT EXISTS messages (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			sender_id       TEXT NOT NULL,
			sender_role     TEXT NOT NULL,
			body            TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'sent',
			created_at      TEXT NOT NULL,
			delivered_at    TEXT,
			read_at         TEXT,

			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			CHECK (sender_role IN ('participant', 'support')),
			CHECK (status IN ('sent', 'delivered', 'read'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_order
			ON messages(conversation_id, created_at, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "conversations",
			column: "last_message_at",
			apply:  `ALTER TABLE conversations ADD COLUMN last_message_at TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(
			`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column,
		).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping verifies the database connection is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// nullTime returns nil for a nil pointer so the column is stored as NULL
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

const conversationColumns = `id, participant_id, support_assignee_id, last_message, last_message_at, created_at, updated_at`

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var assignee, lastMessage, lastMessageAt sql.NullString
	var createdAtStr, updatedAtStr string

	if err := row.Scan(
		&conv.ID,
		&conv.ParticipantID,
		&assignee,
		&lastMessage,
		&lastMessageAt,
		&createdAtStr,
		&updatedAtStr,
	); err != nil {
		return nil, err
	}

	if assignee.Valid {
		conv.SupportAssigneeID = &assignee.String
	}
	if lastMessage.Valid {
		conv.LastMessage = &lastMessage.String
	}

	var err error
	if conv.LastMessageAt, err = parseNullTime(lastMessageAt); err != nil {
		return nil, fmt.Errorf("parsing last_message_at: %w", err)
	}
	if conv.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &conv, nil
}

func (s *SQLiteStore) queryConversations(ctx context.Context, query string, args ...any) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]*Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		conversations = append(conversations, conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return conversations, nil
}

// getConversationByParticipant returns ErrNotFound if the participant has no conversation.
func (s *SQLiteStore) getConversationByParticipant(ctx context.Context, participantID string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE participant_id = ?`

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, participantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation by participant: %w", err)
	}
	return conv, nil
}

// FindOrCreateConversation returns the participant's conversation, creating an
// unassigned one on first contact. created reports whether a row was inserted.
func (s *SQLiteStore) FindOrCreateConversation(ctx context.Context, participantID string) (*Conversation, bool, error) {
	conv, err := s.getConversationByParticipant(ctx, participantID)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	now := s.now().UTC()
	conv = &Conversation{
		ID:            newID(),
		ParticipantID: participantID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, participant_id, support_assignee_id, last_message, last_message_at, created_at, updated_at)
		VALUES (?, ?, NULL, NULL, NULL, ?, ?)
	`,
		conv.ID,
		conv.ParticipantID,
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
	)
	if err != nil {
		// Another request created it between our lookup and insert
		if isConstraintViolation(err) {
			existing, lookupErr := s.getConversationByParticipant(ctx, participantID)
			if lookupErr == nil {
				s.logger.Debug("found existing conversation after race", "conversation_id", existing.ID)
				return existing, false, nil
			}
			return nil, false, ErrDuplicateConversation
		}
		return nil, false, fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "participant_id", participantID)
	return conv, true, nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns every conversation, most recently active first.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	return s.queryConversations(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		ORDER BY updated_at DESC, id ASC
	`)
}

// ListConversationsForParticipant returns the participant's conversations.
func (s *SQLiteStore) ListConversationsForParticipant(ctx context.Context, participantID string) ([]*Conversation, error) {
	return s.queryConversations(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE participant_id = ?
		ORDER BY updated_at DESC, id ASC
	`, participantID)
}

// ListConversationsForAssignee returns conversations assigned to assigneeID plus
// the unassigned shared queue, most recently active first.
func (s *SQLiteStore) ListConversationsForAssignee(ctx context.Context, assigneeID string) ([]*Conversation, error) {
	return s.queryConversations(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE support_assignee_id = ? OR support_assignee_id IS NULL
		ORDER BY updated_at DESC, id ASC
	`, assigneeID)
}

// AssignConversation sets the support assignee. An empty assigneeID returns the
// conversation to the shared queue.
func (s *SQLiteStore) AssignConversation(ctx context.Context, id, assigneeID string) (*Conversation, error) {
	var assignee any
	if assigneeID != "" {
		assignee = assigneeID
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET support_assignee_id = ?, updated_at = ?
		WHERE id = ?
	`, assignee, formatTime(s.now()), id)
	if err != nil {
		return nil, fmt.Errorf("assigning conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	s.logger.Debug("assigned conversation", "id", id, "assignee_id", assigneeID)
	return s.GetConversation(ctx, id)
}

// TouchConversation refreshes the denormalized preview. updated_at only moves
// forward, and is left alone when at is nil.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id string, preview *string, at *time.Time) error {
	var previewArg any
	if preview != nil {
		previewArg = *preview
	}

	var result sql.Result
	var err error
	if at != nil {
		result, err = s.db.ExecContext(ctx, `
			UPDATE conversations
			SET last_message = ?, last_message_at = ?, updated_at = MAX(updated_at, ?)
			WHERE id = ?
		`, previewArg, nullTime(at), formatTime(*at), id)
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE conversations
			SET last_message = ?, last_message_at = NULL
			WHERE id = ?
		`, previewArg, id)
	}
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

const messageColumns = `seq, id, conversation_id, sender_id, sender_role, body, status, created_at, delivered_at, read_at`

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var role, status, createdAtStr string
	var deliveredAt, readAt sql.NullString

	if err := row.Scan(
		&msg.Seq,
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&role,
		&msg.Body,
		&status,
		&createdAtStr,
		&deliveredAt,
		&readAt,
	); err != nil {
		return nil, err
	}

	msg.SenderRole = SenderRole(role)
	msg.Status = MessageStatus(status)

	var err error
	if msg.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing message created_at: %w", err)
	}
	if msg.DeliveredAt, err = parseNullTime(deliveredAt); err != nil {
		return nil, fmt.Errorf("parsing delivered_at: %w", err)
	}
	if msg.ReadAt, err = parseNullTime(readAt); err != nil {
		return nil, fmt.Errorf("parsing read_at: %w", err)
	}
	return &msg, nil
}

// AppendMessage stores a new message with status=sent. The store assigns Seq
// and CreatedAt; CreatedAt never goes backwards across appends.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = newID()
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, msg.ConversationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking conversation: %w", err)
	}

	now := s.now().UTC()
	if now.Before(s.lastAppend) {
		now = s.lastAppend
	}

	msg.Status = StatusSent
	msg.CreatedAt = now
	msg.DeliveredAt = nil
	msg.ReadAt = nil

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, sender_role, body, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		string(msg.SenderRole),
		msg.Body,
		string(msg.Status),
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading message seq: %w", err)
	}
	msg.Seq = seq
	s.lastAppend = now

	s.logger.Debug("appended message", "id", msg.ID, "conversation_id", msg.ConversationID, "seq", seq)
	return nil
}

// GetMessage retrieves a message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// ListMessages returns a page of the conversation's log in ascending order along
// with the total message count. A limit of 0 or less returns everything after offset.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*Message, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting messages: %w", err)
	}

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, seq ASC
		LIMIT ? OFFSET ?
	`, conversationID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, total, nil
}

// LatestMessage returns the tail of the conversation's log.
// Returns ErrNotFound if the conversation has no messages.
func (s *SQLiteStore) LatestMessage(ctx context.Context, conversationID string) (*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest message: %w", err)
	}
	return msg, nil
}

// MarkDelivered moves a sent message to delivered. Messages already delivered
// or read are returned unchanged.
func (s *SQLiteStore) MarkDelivered(ctx context.Context, id string, at time.Time) (*Message, bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'delivered', delivered_at = ?
		WHERE id = ? AND status = 'sent'
	`, formatTime(at), id)
	if err != nil {
		return nil, false, fmt.Errorf("marking message delivered: %w", err)
	}
	return s.afterStatusUpdate(ctx, id, result)
}

// MarkRead moves a message to read, stamping delivered_at if it was skipped.
// Messages already read are returned unchanged.
func (s *SQLiteStore) MarkRead(ctx context.Context, id string, at time.Time) (*Message, bool, error) {
	stamp := formatTime(at)
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'read', read_at = ?, delivered_at = COALESCE(delivered_at, ?)
		WHERE id = ? AND status != 'read'
	`, stamp, stamp, id)
	if err != nil {
		return nil, false, fmt.Errorf("marking message read: %w", err)
	}
	return s.afterStatusUpdate(ctx, id, result)
}

func (s *SQLiteStore) afterStatusUpdate(ctx context.Context, id string, result sql.Result) (*Message, bool, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("getting rows affected: %w", err)
	}

	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, false, err
	}

	changed := rowsAffected > 0
	if changed {
		s.logger.Debug("message status changed", "id", id, "status", msg.Status)
	}
	return msg, changed, nil
}
