package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"presence-service/internal/models"
)

func delivered(id int, tempID string) models.DeliveredPayload {
	return models.DeliveredPayload{
		Message: models.Message{
			ID:             id,
			ConversationID: 5,
			SenderID:       1,
			ReceiverID:     2,
			Content:        "hi",
			CreatedAt:      time.Now(),
		},
		TempID: tempID,
	}
}

func TestReconcileUpgradesPendingEntry(t *testing.T) {
	store := NewStore()
	store.AddPending(LocalMessage{TempID: "t1", SenderID: 1, ReceiverID: 2, Content: "hi"})
	require.Equal(t, 1, store.PendingCount())

	require.True(t, store.Reconcile(delivered(42, "t1")))

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, 42, msgs[0].ID)
	require.False(t, msgs[0].Pending)
	require.Equal(t, 0, store.PendingCount())
}

func TestReconcileInsertsUnmatchedBroadcast(t *testing.T) {
	store := NewStore()

	require.True(t, store.Reconcile(delivered(42, "")))

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, 42, msgs[0].ID)
}

func TestReconcileDeduplicatesByServerID(t *testing.T) {
	store := NewStore()

	require.True(t, store.Reconcile(delivered(42, "")))
	// Same message echoed via a second room.
	require.False(t, store.Reconcile(delivered(42, "")))
	require.Len(t, store.Messages(), 1)
}

func TestReconcileAfterFallbackDeliveryIgnoresLateEcho(t *testing.T) {
	store := NewStore()
	store.AddPending(LocalMessage{TempID: "t1", SenderID: 1, ReceiverID: 2, Content: "hi"})

	// The message arrived via another path first, without the temp id.
	require.True(t, store.Reconcile(delivered(42, "")))
	// The tagged echo must not produce a second entry for id 42, and it
	// settles the optimistic entry instead of leaving it rendering forever.
	require.False(t, store.Reconcile(delivered(42, "t1")))

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, 42, msgs[0].ID)
	require.Equal(t, 0, store.PendingCount())
}

func TestFailRemovesPendingOnly(t *testing.T) {
	store := NewStore()
	store.AddPending(LocalMessage{TempID: "t1", Content: "hi"})
	require.True(t, store.Reconcile(delivered(42, "")))

	require.True(t, store.Fail("t1"))
	require.False(t, store.Fail("t1"))

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, 42, msgs[0].ID)
}

func TestFailIgnoresConfirmedEntry(t *testing.T) {
	store := NewStore()
	store.AddPending(LocalMessage{TempID: "t1", Content: "hi"})
	require.True(t, store.Reconcile(delivered(42, "t1")))

	require.False(t, store.Fail("t1"))
	require.Len(t, store.Messages(), 1)
}

func TestUnreadCounter(t *testing.T) {
	unread := NewUnreadCounter()

	require.Equal(t, 1, unread.Increment(5))
	require.Equal(t, 2, unread.Increment(5))
	require.Equal(t, 1, unread.Increment(7))
	require.Equal(t, 3, unread.Total())

	unread.Reset(5)
	require.Equal(t, 0, unread.Count(5))
	require.Equal(t, 1, unread.Total())
}
