package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"presence-service/internal/models"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// stubServer runs script against each accepted connection.
func stubServer(t *testing.T, script func(t *testing.T, conn *websocket.Conn)) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		script(t, conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func readClientEvent(t *testing.T, conn *websocket.Conn) models.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event models.Event
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}

func TestSendReconcilesAgainstBroadcast(t *testing.T) {
	url := stubServer(t, func(t *testing.T, conn *websocket.Conn) {
		event := readClientEvent(t, conn)
		require.Equal(t, models.EventMessageSend, event.Type)

		var p models.SendMessagePayload
		require.NoError(t, json.Unmarshal(event.Payload, &p))
		// The broadcast echoes the readable body back with the temp id.
		delivered, err := models.NewEvent(models.EventMessageDelivered, "conversation:5", models.DeliveredPayload{
			Message: models.Message{ID: 42, ConversationID: 5, SenderID: 1, ReceiverID: 2, Content: p.Content},
			TempID:  p.TempID,
		})
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(delivered))
		time.Sleep(200 * time.Millisecond)
	})

	c := New(Options{URL: url, Token: "tok", UserID: 1})
	require.NoError(t, c.Dial(context.Background()))
	defer c.Close()

	tempID, err := c.Send(2, "hello there", "")
	require.NoError(t, err)
	require.NotEmpty(t, tempID)
	require.Equal(t, 1, c.Store().PendingCount())

	waitFor(t, func() bool { return c.Store().PendingCount() == 0 })

	msgs := c.Store().Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, 42, msgs[0].ID)
	require.Equal(t, "hello there", msgs[0].Content)
	require.False(t, msgs[0].Pending)
}

func TestLateTaggedEchoSettlesOptimisticEntry(t *testing.T) {
	url := stubServer(t, func(t *testing.T, conn *websocket.Conn) {
		event := readClientEvent(t, conn)
		var p models.SendMessagePayload
		require.NoError(t, json.Unmarshal(event.Payload, &p))

		// The conversation room delivers first, without the temp id.
		first, err := models.NewEvent(models.EventMessageDelivered, "conversation:5", models.DeliveredPayload{
			Message: models.Message{ID: 42, ConversationID: 5, SenderID: 1, ReceiverID: 2, Content: p.Content},
		})
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(first))

		// The tagged echo through the personal room arrives second.
		echo, err := models.NewEvent(models.EventMessageDelivered, "user:1", models.DeliveredPayload{
			Message: models.Message{ID: 42, ConversationID: 5, SenderID: 1, ReceiverID: 2, Content: p.Content},
			TempID:  p.TempID,
		})
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(echo))
		time.Sleep(300 * time.Millisecond)
	})

	var mu sync.Mutex
	failures := 0
	c := New(Options{URL: url, UserID: 1, SendTimeout: 100 * time.Millisecond, OnSendFailure: func(string, string) {
		mu.Lock()
		failures++
		mu.Unlock()
	}})
	require.NoError(t, c.Dial(context.Background()))
	defer c.Close()

	_, err := c.Send(2, "hi", "")
	require.NoError(t, err)

	waitFor(t, func() bool { return c.Store().PendingCount() == 0 })
	msgs := c.Store().Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, 42, msgs[0].ID)

	// Well past the send timeout nothing rolls back: the echo settled the
	// optimistic entry even though its delivery was deduplicated.
	time.Sleep(150 * time.Millisecond)
	mu.Lock()
	require.Zero(t, failures)
	mu.Unlock()
	require.Len(t, c.Store().Messages(), 1)
}

func TestSendRollsBackOnErrorEvent(t *testing.T) {
	url := stubServer(t, func(t *testing.T, conn *websocket.Conn) {
		event := readClientEvent(t, conn)
		var p models.SendMessagePayload
		require.NoError(t, json.Unmarshal(event.Payload, &p))

		failure, err := models.NewEvent(models.EventError, "", models.ErrorPayload{
			Code: "SEND_FAILED", Message: "could not deliver", TempID: p.TempID,
		})
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(failure))
		time.Sleep(200 * time.Millisecond)
	})

	var mu sync.Mutex
	var failedTemp, failedReason string
	c := New(Options{URL: url, UserID: 1, OnSendFailure: func(tempID, reason string) {
		mu.Lock()
		failedTemp, failedReason = tempID, reason
		mu.Unlock()
	}})
	require.NoError(t, c.Dial(context.Background()))
	defer c.Close()

	tempID, err := c.Send(2, "hi", "")
	require.NoError(t, err)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return failedTemp != ""
	})
	mu.Lock()
	require.Equal(t, tempID, failedTemp)
	require.Equal(t, "rejected", failedReason)
	mu.Unlock()
	require.Empty(t, c.Store().Messages())
}

func TestSendRollsBackOnTimeout(t *testing.T) {
	url := stubServer(t, func(t *testing.T, conn *websocket.Conn) {
		_ = readClientEvent(t, conn) // swallow the send, confirm nothing
		time.Sleep(500 * time.Millisecond)
	})

	var mu sync.Mutex
	reason := ""
	c := New(Options{URL: url, UserID: 1, SendTimeout: 50 * time.Millisecond, OnSendFailure: func(_, r string) {
		mu.Lock()
		reason = r
		mu.Unlock()
	}})
	require.NoError(t, c.Dial(context.Background()))
	defer c.Close()

	_, err := c.Send(2, "hi", "")
	require.NoError(t, err)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return reason != ""
	})
	mu.Lock()
	require.Equal(t, "timeout", reason)
	mu.Unlock()
	require.Equal(t, 0, c.Store().PendingCount())
}

func TestUnreadTalliesFollowNotificationsAndReceipts(t *testing.T) {
	url := stubServer(t, func(t *testing.T, conn *websocket.Conn) {
		push := func(eventType string, payload any) {
			event, err := models.NewEvent(eventType, "", payload)
			require.NoError(t, err)
			require.NoError(t, conn.WriteJSON(event))
		}
		push(models.EventMessageNotification, models.NotificationPayload{ConversationID: 5, MessageID: 41, SenderID: 2})
		push(models.EventMessageNotification, models.NotificationPayload{ConversationID: 5, MessageID: 42, SenderID: 2})
		// Own echo must not count.
		push(models.EventMessageNotification, models.NotificationPayload{ConversationID: 5, MessageID: 43, SenderID: 1})
		push(models.EventReadReceipt, models.ReadReceiptPayload{ConversationID: 5, ReaderID: 1, Count: 2})
		time.Sleep(500 * time.Millisecond)
	})

	c := New(Options{URL: url, UserID: 1})
	require.NoError(t, c.Dial(context.Background()))
	defer c.Close()

	waitFor(t, func() bool { return c.Unread().Count(5) >= 2 })
	waitFor(t, func() bool { return c.Unread().Count(5) == 0 })
}

func TestSendWithoutConnectionFails(t *testing.T) {
	c := New(Options{UserID: 1})
	_, err := c.Send(2, "hi", "")
	require.ErrorIs(t, err, ErrNotConnected)
}
