// ABOUTME: Unit tests for MockStore to ensure behavior matches SQLiteStore
// ABOUTME: Focuses on find-or-create, forward-only status and copy isolation

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_FindOrCreateConversation(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	conv, created, err := store.FindOrCreateConversation(ctx, "resident-1")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := store.FindOrCreateConversation(ctx, "resident-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)
}

func TestMockStore_ReturnsCopies(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	msg := appendTestMessage(t, store, "resident-1")

	got, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	got.Body = "tampered"

	again, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", again.Body)
}

func TestMockStore_StatusForwardOnly(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	msg := appendTestMessage(t, store, "resident-1")
	now := time.Now()

	read, changed, err := store.MarkRead(ctx, msg.ID, now)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotNil(t, read.DeliveredAt)

	after, changed, err := store.MarkDelivered(ctx, msg.ID, now)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, StatusRead, after.Status)
}

func TestMockStore_ListMessagesPagination(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	conv, _, err := store.FindOrCreateConversation(ctx, "resident-1")
	require.NoError(t, err)
	for range 3 {
		require.NoError(t, store.AppendMessage(ctx, &Message{
			ConversationID: conv.ID,
			SenderID:       "resident-1",
			SenderRole:     SenderRoleParticipant,
			Body:           "x",
		}))
	}

	page, total, err := store.ListMessages(ctx, conv.ID, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 1)

	page, _, err = store.ListMessages(ctx, conv.ID, 2, 5)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMockStore_AssigneeQueue(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	a, _, _ := store.FindOrCreateConversation(ctx, "resident-1")
	b, _, _ := store.FindOrCreateConversation(ctx, "resident-2")

	_, err := store.AssignConversation(ctx, b.ID, "support-b")
	require.NoError(t, err)

	list, err := store.ListConversationsForAssignee(ctx, "support-a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)
}

func TestMockStore_Ping(t *testing.T) {
	store := NewMockStore()
	assert.NoError(t, store.Ping(context.Background()))

	store.PingErr = errors.New("down")
	assert.Error(t, store.Ping(context.Background()))
}
