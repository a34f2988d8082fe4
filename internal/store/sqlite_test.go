// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers conversation find-or-create, message ordering, pagination and status tracking

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	conv, _, err := store.FindOrCreateConversation(ctx, "resident-1")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Migrations must be idempotent across restarts
	store, err = NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "resident-1", got.ParticipantID)
}

func TestFindOrCreateConversation(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	conv, created, err := store.FindOrCreateConversation(ctx, "resident-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "resident-1", conv.ParticipantID)
	assert.Nil(t, conv.SupportAssigneeID)
	assert.Nil(t, conv.LastMessage)
	assert.False(t, conv.CreatedAt.IsZero())

	again, created, err := store.FindOrCreateConversation(ctx, "resident-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)

	other, created, err := store.FindOrCreateConversation(ctx, "resident-2")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, conv.ID, other.ID)
}

func TestFindOrCreateConversation_Concurrent(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	const workers = 8
	ids := make([]string, workers)
	var createdCount int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := range workers {
		wg.Go(func() {
			conv, created, err := store.FindOrCreateConversation(ctx, "resident-race")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[i] = conv.ID
			if created {
				createdCount++
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount, "exactly one caller should create the conversation")
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	all, err := store.ListConversations(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetConversation_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListConversations_OrderedByUpdatedAt(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	first, _, err := store.FindOrCreateConversation(ctx, "resident-1")
	require.NoError(t, err)
	second, _, err := store.FindOrCreateConversation(ctx, "resident-2")
	require.NoError(t, err)

	// Bump the first conversation's activity past the second
	at := time.Now().Add(time.Minute)
	preview := "hello"
	require.NoError(t, store.TouchConversation(ctx, first.ID, &preview, &at))

	list, err := store.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "hello", *list[0].LastMessage)
}

func TestListConversationsForParticipant(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	conv, _, err := store.FindOrCreateConversation(ctx, "resident-1")
	require.NoError(t, err)
	_, _, err = store.FindOrCreateConversation(ctx, "resident-2")
	require.NoError(t, err)

	list, err := store.ListConversationsForParticipant(ctx, "resident-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, conv.ID, list[0].ID)

	empty, err := store.ListConversationsForParticipant(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NotNil(t, empty, "empty result should be an empty slice, not nil")
}

func TestAssignConversation(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	mine, _, err := store.FindOrCreateConversation(ctx, "resident-1")
	require.NoError(t, err)
	theirs, _, err := store.FindOrCreateConversation(ctx, "resident-2")
	require.NoError(t, err)
	queued, _, err := store.FindOrCreateConversation(ctx, "resident-3")
	require.NoError(t, err)

	got, err := store.AssignConversation(ctx, mine.ID, "support-a")
	require.NoError(t, err)
	require.NotNil(t, got.SupportAssigneeID)
	assert.Equal(t, "support-a", *got.SupportAssigneeID)

	_, err = store.AssignConversation(ctx, theirs.ID, "support-b")
	require.NoError(t, err)

	list, err := store.ListConversationsForAssignee(ctx, "support-a")
	require.NoError(t, err)

	ids := make([]string, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{mine.ID, queued.ID}, ids)

	// Clearing puts it back in the shared queue
	cleared, err := store.AssignConversation(ctx, theirs.ID, "")
	require.NoError(t, err)
	assert.Nil(t, cleared.SupportAssigneeID)

	list, err = store.ListConversationsForAssignee(ctx, "support-a")
	require.NoError(t, err)
	assert.Len(t, list, 3)

	_, err = store.AssignConversation(ctx, "missing", "support-a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTouchConversation(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	conv, _, err := store.FindOrCreateConversation(ctx, "resident-1")
	require.NoError(t, err)

	at := time.Now().UTC().Add(time.Second)
	preview := "see you at checkout"
	require.NoError(t, store.TouchConversation(ctx, conv.ID, &preview, &at))

	got, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, preview, *got.LastMessage)
	require.NotNil(t, got.LastMessageAt)
	assert.True(t, got.LastMessageAt.Equal(at))
	assert.True(t, got.UpdatedAt.Equal(at))

	// An older timestamp never moves updated_at backwards
	older := at.Add(-time.Hour)
	require.NoError(t, store.TouchConversation(ctx, conv.ID, &preview, &older))
	got, err = store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(at))

	require.NoError(t, store.TouchConversation(ctx, conv.ID, nil, nil))
	got, err = store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastMessage)
	assert.Nil(t, got.LastMessageAt)

	assert.ErrorIs(t, store.TouchConversation(ctx, "missing", nil, nil), ErrNotFound)
}

func TestAppendMessage(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	conv, _, err := store.FindOrCreateConversation(ctx, "resident-1")
	require.NoError(t, err)

	msg := &Message{
		ID:             "msg-1",
		ConversationID: conv.ID,
		SenderID:       "resident-1",
		SenderRole:     SenderRoleParticipant,
		Body:           "Is breakfast included?",
		Status:         StatusRead, // ignored; appends always start as sent
	}
	require.NoError(t, store.AppendMessage(ctx, msg))
	assert.Equal(t, StatusSent, msg.Status)
	assert.Positive(t, msg.Seq)
	assert.False(t, msg.CreatedAt.IsZero())

	got, err := store.GetMessage(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, msg.Body, got.Body)
	assert.Equal(t, SenderRoleParticipant, got.SenderRole)
	assert.Equal(t, StatusSent, got.Status)
	assert.True(t, got.CreatedAt.Equal(msg.CreatedAt))
	assert.Nil(t, got.DeliveredAt)
	assert.Nil(t, got.ReadAt)
}

func TestAppendMessage_UnknownConversation(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	err := store.AppendMessage(context.Background(), &Message{
		ConversationID: "missing",
		SenderID:       "resident-1",
		SenderRole:     SenderRoleParticipant,
		Body:           "hello",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendMessage_ClockSkewKeepsOrder(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	conv, _, err := store.FindOrCreateConversation(ctx, "resident-1")
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{base, base.Add(-time.Minute), base}
	var i int
	store.now = func() time.Time {
		ts := clock[i%len(clock)]
		i++
		return ts
	}

	for n := range 3 {
		require.NoError(t, store.AppendMessage(ctx, &Message{
			ConversationID: conv.ID,
			SenderID:       "resident-1",
			SenderRole:     SenderRoleParticipant,
			Body:           fmt.Sprintf("msg %d", n),
		}))
	}

	msgs, _, err := store.ListMessages(ctx, conv.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for n, m := range msgs {
		assert.Equal(t, fmt.Sprintf("msg %d", n), m.Body)
		assert.False(t, m.CreatedAt.Before(base), "created_at must not go backwards")
	}
}

func TestListMessages_OrderAndPagination(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	conv, _, err := store.FindOrCreateConversation(ctx, "resident-1")
	require.NoError(t, err)

	for n := range 5 {
		role := SenderRoleParticipant
		if n%2 == 1 {
			role = SenderRoleSupport
		}
		require.NoError(t, store.AppendMessage(ctx, &Message{
			ConversationID: conv.ID,
			SenderID:       "sender",
			SenderRole:     role,
			Body:           fmt.Sprintf("msg %d", n),
		}))
	}

	all, total, err := store.ListMessages(ctx, conv.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, all, 5)
	for n := 1; n < len(all); n++ {
		assert.Greater(t, all[n].Seq, all[n-1].Seq)
	}

	page, total, err := store.ListMessages(ctx, conv.ID, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "msg 1", page[0].Body)
	assert.Equal(t, "msg 2", page[1].Body)

	past, total, err := store.ListMessages(ctx, conv.ID, 10, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, past)

	none, total, err := store.ListMessages(ctx, "other", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, none)
}

func TestLatestMessage(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	conv, _, err := store.FindOrCreateConversation(ctx, "resident-1")
	require.NoError(t, err)

	_, err = store.LatestMessage(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	for _, body := range []string{"first", "second"} {
		require.NoError(t, store.AppendMessage(ctx, &Message{
			ConversationID: conv.ID,
			SenderID:       "resident-1",
			SenderRole:     SenderRoleParticipant,
			Body:           body,
		}))
	}

	latest, err := store.LatestMessage(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", latest.Body)
}

func TestMarkDeliveredAndRead(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	msg := appendTestMessage(t, store, "resident-1")
	at := time.Now().UTC()

	delivered, changed, err := store.MarkDelivered(ctx, msg.ID, at)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StatusDelivered, delivered.Status)
	require.NotNil(t, delivered.DeliveredAt)
	assert.True(t, delivered.DeliveredAt.Equal(at))

	// Repeating is a no-op
	_, changed, err = store.MarkDelivered(ctx, msg.ID, at.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, changed)

	read, changed, err := store.MarkRead(ctx, msg.ID, at.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StatusRead, read.Status)
	require.NotNil(t, read.ReadAt)
	assert.True(t, read.DeliveredAt.Equal(at), "read must keep the original delivered_at")

	// Delivered after read never moves status backwards
	after, changed, err := store.MarkDelivered(ctx, msg.ID, at.Add(3*time.Second))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, StatusRead, after.Status)

	_, changed, err = store.MarkRead(ctx, msg.ID, at.Add(4*time.Second))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestMarkRead_SkipsDelivered(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	msg := appendTestMessage(t, store, "resident-1")
	at := time.Now().UTC()

	read, changed, err := store.MarkRead(ctx, msg.ID, at)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StatusRead, read.Status)
	require.NotNil(t, read.DeliveredAt)
	assert.True(t, read.DeliveredAt.Equal(at))
}

func TestMarkStatus_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	_, _, err := store.MarkDelivered(ctx, "missing", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = store.MarkRead(ctx, "missing", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	assert.NoError(t, store.Ping(context.Background()))
}

func appendTestMessage(t *testing.T, s Store, participantID string) *Message {
	t.Helper()
	ctx := context.Background()

	conv, _, err := s.FindOrCreateConversation(ctx, participantID)
	require.NoError(t, err)

	msg := &Message{
		ConversationID: conv.ID,
		SenderID:       participantID,
		SenderRole:     SenderRoleParticipant,
		Body:           "hello",
	}
	require.NoError(t, s.AppendMessage(ctx, msg))
	return msg
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	return store
}
