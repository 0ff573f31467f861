// Package client is the connection-side counterpart of the delivery service:
// it dials the websocket endpoint, renders sends optimistically, reconciles
// them against the authoritative broadcasts, and keeps per-conversation
// unread tallies.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"presence-service/internal/models"
)

// ErrNotConnected is returned by operations invoked before Dial or after the
// connection dropped.
var ErrNotConnected = errors.New("client: not connected")

const defaultSendTimeout = 10 * time.Second

// Options configures a Client.
type Options struct {
	// URL is the websocket endpoint (ws:// or wss://).
	URL string
	// Token is the bearer credential presented at the handshake.
	Token string
	// UserID is this client's resolved internal id, used to recognize its
	// own echoes and receipts.
	UserID int
	// SendTimeout bounds how long a pending entry waits for its broadcast
	// before rolling back. Zero means the default.
	SendTimeout time.Duration

	// OnSendFailure fires when a pending entry is rolled back, with the
	// temp id and a reason ("rejected" or "timeout").
	OnSendFailure func(tempID, reason string)
	// OnPresence fires for presence_online and presence_offline events.
	OnPresence func(models.PresencePayload)
	// OnSnapshot fires once with the online set observed at connect time.
	OnSnapshot func([]string)
	// OnUnreadChange fires whenever a conversation's unread tally moves.
	OnUnreadChange func(conversationID, count int)
}

// Client owns one dialed connection plus the reconciliation state behind it.
type Client struct {
	opts   Options
	store  *Store
	unread *UnreadCounter

	mu     sync.Mutex
	conn   *websocket.Conn
	timers map[string]*time.Timer

	done      chan struct{}
	closeOnce sync.Once
}

// New builds a Client; call Dial to connect.
func New(opts Options) *Client {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	return &Client{
		opts:   opts,
		store:  NewStore(),
		unread: NewUnreadCounter(),
		timers: make(map[string]*time.Timer),
		done:   make(chan struct{}),
	}
}

// Store exposes the rendered message view.
func (c *Client) Store() *Store { return c.store }

// Unread exposes the unread tallies.
func (c *Client) Unread() *UnreadCounter { return c.unread }

// Dial connects and starts the read loop. The context bounds the handshake
// only, not the connection's lifetime.
func (c *Client) Dial(ctx context.Context) error {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// Close tears down the connection. Pending entries stay in the store; their
// timers still fire.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Send renders the message optimistically, encrypts the body, and transmits
// it. The returned temp id correlates the eventual confirmation or rollback.
func (c *Client) Send(receiverID int, content, attachment string) (string, error) {
	tempID := uuid.NewString()

	c.store.AddPending(LocalMessage{
		TempID:     tempID,
		SenderID:   c.opts.UserID,
		ReceiverID: receiverID,
		Content:    content,
		Attachment: attachment,
		CreatedAt:  time.Now(),
	})
	c.armRollback(tempID)

	err := c.writeEvent(models.EventMessageSend, "", models.SendMessagePayload{
		ReceiverID: receiverID,
		Content:    content,
		Attachment: attachment,
		TempID:     tempID,
	})
	if err != nil {
		c.rollback(tempID, "rejected")
		return tempID, err
	}
	return tempID, nil
}

// MarkRead asks the server to mark a conversation read and clears the local
// tally immediately.
func (c *Client) MarkRead(conversationID int) error {
	c.unread.Reset(conversationID)
	c.notifyUnread(conversationID)
	return c.writeEvent(models.EventMarkRead, "", models.MarkReadPayload{ConversationID: conversationID})
}

// JoinConversation subscribes to a conversation room.
func (c *Client) JoinConversation(conversationID int) error {
	return c.writeEvent(models.EventRoomJoin, "", models.RoomPayload{Room: models.ConversationRoom(conversationID)})
}

// LeaveConversation unsubscribes from a conversation room.
func (c *Client) LeaveConversation(conversationID int) error {
	return c.writeEvent(models.EventRoomLeave, "", models.RoomPayload{Room: models.ConversationRoom(conversationID)})
}

func (c *Client) writeEvent(eventType, room string, payload any) error {
	event, err := models.NewEvent(eventType, room, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(event)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var event models.Event
		if err := conn.ReadJSON(&event); err != nil {
			select {
			case <-c.done:
			default:
				log.Debug().Err(err).Msg("client: read loop ended")
			}
			return
		}
		c.handleEvent(event)
	}
}

func (c *Client) handleEvent(event models.Event) {
	switch event.Type {
	case models.EventMessageDelivered:
		var p models.DeliveredPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return
		}
		c.disarmRollback(p.TempID)
		c.store.Reconcile(p)

	case models.EventMessageNotification:
		var p models.NotificationPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return
		}
		// Own sends echo to the personal room too; they are not unread.
		if p.SenderID == c.opts.UserID {
			return
		}
		c.unread.Increment(p.ConversationID)
		c.notifyUnread(p.ConversationID)

	case models.EventReadReceipt:
		var p models.ReadReceiptPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return
		}
		if p.ReaderID == c.opts.UserID {
			c.unread.Reset(p.ConversationID)
			c.notifyUnread(p.ConversationID)
		}

	case models.EventPresenceOnline, models.EventPresenceOffline:
		if c.opts.OnPresence == nil {
			return
		}
		var p models.PresencePayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return
		}
		c.opts.OnPresence(p)

	case models.EventOnlineSnapshot:
		if c.opts.OnSnapshot == nil {
			return
		}
		var p models.SnapshotPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return
		}
		c.opts.OnSnapshot(p.StableIDs)

	case models.EventError:
		var p models.ErrorPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return
		}
		if p.TempID != "" {
			c.rollback(p.TempID, "rejected")
		}
	}
}

// armRollback starts the send timeout for one pending entry.
func (c *Client) armRollback(tempID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timers[tempID] = time.AfterFunc(c.opts.SendTimeout, func() {
		c.rollback(tempID, "timeout")
	})
}

func (c *Client) disarmRollback(tempID string) {
	if tempID == "" {
		return
	}
	c.mu.Lock()
	if timer, ok := c.timers[tempID]; ok {
		timer.Stop()
		delete(c.timers, tempID)
	}
	c.mu.Unlock()
}

// rollback removes a pending entry and surfaces the failure. Entries already
// confirmed are untouched, so a late timer is harmless.
func (c *Client) rollback(tempID, reason string) {
	c.disarmRollback(tempID)
	if !c.store.Fail(tempID) {
		return
	}
	log.Warn().Str("temp_id", tempID).Str("reason", reason).Msg("client: send rolled back")
	if c.opts.OnSendFailure != nil {
		c.opts.OnSendFailure(tempID, reason)
	}
}

func (c *Client) notifyUnread(conversationID int) {
	if c.opts.OnUnreadChange != nil {
		c.opts.OnUnreadChange(conversationID, c.unread.Count(conversationID))
	}
}
