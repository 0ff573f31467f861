package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"presence-service/internal/mocks"
	"presence-service/internal/models"
	"presence-service/internal/presence"
	"presence-service/internal/repositories"
)

// dispatcherStub records dispatched sends so handshake tests can assert the
// read pump routes message_send frames.
type dispatcherStub struct {
	mu    sync.Mutex
	sends []models.SendMessagePayload
}

func (d *dispatcherStub) SendMessage(ctx context.Context, senderID int, p models.SendMessagePayload) (models.DeliveredPayload, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sends = append(d.sends, p)
	return models.DeliveredPayload{}, nil
}

func (d *dispatcherStub) MarkRead(ctx context.Context, readerID int, conversationID int) (models.ReadReceiptPayload, error) {
	return models.ReadReceiptPayload{}, nil
}

func (d *dispatcherStub) sent() []models.SendMessagePayload {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.SendMessagePayload(nil), d.sends...)
}

type harness struct {
	server     *httptest.Server
	hub        *Hub
	registry   *presence.Registry
	dispatcher *dispatcherStub
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	verifier := new(mocks.VerifierMock)
	verifier.On("Verify", "tok-alice").Return("alice", nil)
	verifier.On("Verify", "tok-bob").Return("bob", nil)
	verifier.On("Verify", "tok-carol").Return("carol", nil)
	verifier.On("Verify", mock.Anything).Return("", errors.New("invalid credential"))

	directory := new(mocks.UserDirectoryMock)
	directory.On("ResolveStableID", mock.Anything, "alice").Return(models.User{ID: 1, StableID: "alice", Username: "alice"}, nil)
	directory.On("ResolveStableID", mock.Anything, "bob").Return(models.User{ID: 2, StableID: "bob", Username: "bob"}, nil)
	// carol's credential verifies but the directory has no row for her.
	directory.On("ResolveStableID", mock.Anything, "carol").Return(models.User{}, repositories.ErrUserNotFound)
	directory.On("UpdateLastSeen", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	hub := NewHub()
	registry := presence.NewRegistry(nil)
	dispatcher := &dispatcherStub{}
	handler := NewHandler(hub, registry, verifier, directory, dispatcher)

	router := gin.New()
	router.GET("/ws", handler.Handle)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &harness{server: server, hub: hub, registry: registry, dispatcher: dispatcher}
}

func (h *harness) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var event models.Event
	require.NoError(t, json.Unmarshal(raw, &event))
	return event
}

func sendEvent(t *testing.T, conn *websocket.Conn, eventType, room string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(models.Event{Type: eventType, Room: room, Payload: data}))
}

func waitOnline(t *testing.T, registry *presence.Registry, stableID string, want bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if registry.IsOnline(stableID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("identity %q online=%v never observed", stableID, want)
}

func TestHandshakeDeliversSnapshotToNewConnectionOnly(t *testing.T) {
	h := newHarness(t)

	alice := h.dial(t, "tok-alice")
	snapshot := readEvent(t, alice)
	require.Equal(t, models.EventOnlineSnapshot, snapshot.Type)

	var snap models.SnapshotPayload
	require.NoError(t, json.Unmarshal(snapshot.Payload, &snap))
	require.Contains(t, snap.StableIDs, "alice")
	require.True(t, h.registry.IsOnline("alice"))
}

func TestPresenceOnlineBroadcastToOthers(t *testing.T) {
	h := newHarness(t)

	alice := h.dial(t, "tok-alice")
	_ = readEvent(t, alice) // alice's own snapshot

	bob := h.dial(t, "tok-bob")
	bobSnapshot := readEvent(t, bob)
	require.Equal(t, models.EventOnlineSnapshot, bobSnapshot.Type)

	var snap models.SnapshotPayload
	require.NoError(t, json.Unmarshal(bobSnapshot.Payload, &snap))
	require.ElementsMatch(t, []string{"alice", "bob"}, snap.StableIDs)

	online := readEvent(t, alice)
	require.Equal(t, models.EventPresenceOnline, online.Type)
	var p models.PresencePayload
	require.NoError(t, json.Unmarshal(online.Payload, &p))
	require.Equal(t, "bob", p.StableID)
	require.True(t, p.Online)
}

func TestDisconnectBroadcastsOfflineAndUnregisters(t *testing.T) {
	h := newHarness(t)

	alice := h.dial(t, "tok-alice")
	_ = readEvent(t, alice)

	bob := h.dial(t, "tok-bob")
	_ = readEvent(t, bob)
	_ = readEvent(t, alice) // bob online

	require.NoError(t, bob.Close())

	offline := readEvent(t, alice)
	require.Equal(t, models.EventPresenceOffline, offline.Type)
	waitOnline(t, h.registry, "bob", false)
}

func TestDuplicateIdentityConnectionsListedOnce(t *testing.T) {
	h := newHarness(t)

	first := h.dial(t, "tok-alice")
	_ = readEvent(t, first)
	second := h.dial(t, "tok-alice")
	_ = readEvent(t, second)

	waitOnline(t, h.registry, "alice", true)
	require.Equal(t, []string{"alice"}, h.registry.Snapshot())

	// First disconnect keeps alice online; no offline broadcast reaches the
	// second device before its own close.
	require.NoError(t, first.Close())
	time.Sleep(50 * time.Millisecond)
	require.True(t, h.registry.IsOnline("alice"))
}

func TestInvalidCredentialDegradesInsteadOfClosing(t *testing.T) {
	h := newHarness(t)

	anon := h.dial(t, "bad-token")
	snapshot := readEvent(t, anon)
	require.Equal(t, models.EventOnlineSnapshot, snapshot.Type)
	require.Empty(t, h.registry.Snapshot())
}

func TestRoomJoinAndBroadcast(t *testing.T) {
	h := newHarness(t)

	alice := h.dial(t, "tok-alice")
	_ = readEvent(t, alice)

	sendEvent(t, alice, models.EventRoomJoin, "", models.RoomPayload{Room: "conversation:5"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && h.hub.RoomSize("conversation:5") == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, h.hub.RoomSize("conversation:5"))

	event, err := models.NewEvent(models.EventReadReceipt, "conversation:5", models.ReadReceiptPayload{ConversationID: 5, ReaderID: 2, Count: 1})
	require.NoError(t, err)
	h.hub.Broadcast("conversation:5", event)

	got := readEvent(t, alice)
	require.Equal(t, models.EventReadReceipt, got.Type)
}

func TestMessageSendReachesDispatcher(t *testing.T) {
	h := newHarness(t)

	alice := h.dial(t, "tok-alice")
	_ = readEvent(t, alice)

	sendEvent(t, alice, models.EventMessageSend, "", models.SendMessagePayload{ReceiverID: 2, Content: "hi", TempID: "t1"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(h.dispatcher.sent()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	sends := h.dispatcher.sent()
	require.Len(t, sends, 1)
	require.Equal(t, "t1", sends[0].TempID)
}

func TestUnresolvedIdentityCannotSend(t *testing.T) {
	h := newHarness(t)

	// Valid credential, no directory row: carol is tracked online by her
	// stable id but holds no internal user id.
	carol := h.dial(t, "tok-carol")
	snapshot := readEvent(t, carol)
	require.Equal(t, models.EventOnlineSnapshot, snapshot.Type)
	waitOnline(t, h.registry, "carol", true)

	sendEvent(t, carol, models.EventMessageSend, "", models.SendMessagePayload{ReceiverID: 2, Content: "hi", TempID: "t1"})

	// The frame is dropped before the pipeline ever sees it.
	time.Sleep(150 * time.Millisecond)
	require.Empty(t, h.dispatcher.sent())
}

func TestTypingPassthroughExcludesSender(t *testing.T) {
	h := newHarness(t)

	alice := h.dial(t, "tok-alice")
	_ = readEvent(t, alice)
	bob := h.dial(t, "tok-bob")
	_ = readEvent(t, bob)
	_ = readEvent(t, alice) // bob online

	sendEvent(t, alice, models.EventRoomJoin, "", models.RoomPayload{Room: "conversation:5"})
	sendEvent(t, bob, models.EventRoomJoin, "", models.RoomPayload{Room: "conversation:5"})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && h.hub.RoomSize("conversation:5") < 2 {
		time.Sleep(5 * time.Millisecond)
	}

	sendEvent(t, alice, models.EventTypingStart, "conversation:5", nil)

	typing := readEvent(t, bob)
	require.Equal(t, models.EventTypingStart, typing.Type)
	var p models.TypingPayload
	require.NoError(t, json.Unmarshal(typing.Payload, &p))
	require.Equal(t, 1, p.UserID)
}

func TestUnknownEventGetsErrorFrame(t *testing.T) {
	h := newHarness(t)

	alice := h.dial(t, "tok-alice")
	_ = readEvent(t, alice)

	sendEvent(t, alice, "bogus_event", "", nil)

	errEvent := readEvent(t, alice)
	require.Equal(t, models.EventError, errEvent.Type)
	var p models.ErrorPayload
	require.NoError(t, json.Unmarshal(errEvent.Payload, &p))
	require.Equal(t, "UNKNOWN_EVENT", p.Code)
}
