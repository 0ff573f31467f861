package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"presence-service/internal/delivery"
	"presence-service/internal/models"
	"presence-service/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 65536
	sendBufSize    = 256
)

// Dispatcher handles client events that need domain logic. Implemented by the
// delivery pipeline.
type Dispatcher interface {
	SendMessage(ctx context.Context, senderID int, p models.SendMessagePayload) (models.DeliveredPayload, error)
	MarkRead(ctx context.Context, readerID int, conversationID int) (models.ReadReceiptPayload, error)
}

// Client owns one live websocket connection. The read pump decodes incoming
// frames into typed events and dispatches them synchronously; outgoing
// broadcasts arrive over the buffered send channel and are written by the
// write pump.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	dispatcher Dispatcher

	connID   string
	stableID string
	userID   int

	send       chan []byte
	closeOnce  sync.Once
	onClose    func(reason string)
	onActivity func()
}

func newClient(hub *Hub, conn *websocket.Conn, dispatcher Dispatcher, connID, stableID string, userID int) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		dispatcher: dispatcher,
		connID:     connID,
		stableID:   stableID,
		userID:     userID,
		send:       make(chan []byte, sendBufSize),
	}
}

// SendEvent queues an event for this connection only.
func (c *Client) SendEvent(event models.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event", event.Type).Msg("ws: marshal event")
		return
	}
	c.trySend(payload)
}

func (c *Client) sendError(code, message, tempID string) {
	event, err := models.NewEvent(models.EventError, "", models.ErrorPayload{Code: code, Message: message, TempID: tempID})
	if err != nil {
		return
	}
	c.SendEvent(event)
}

// readPump reads frames until the connection dies, then runs the teardown
// exactly once. Must be called on the connection's goroutine.
func (c *Client) readPump(ctx context.Context) {
	defer c.close("read loop exited")

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		if c.onActivity != nil {
			c.onActivity()
		}
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("conn_id", c.connID).Msg("ws: read error")
			}
			return
		}

		var event models.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			c.sendError("INVALID_FRAME", "frame is not a valid event", "")
			continue
		}
		c.handleEvent(ctx, event)
	}
}

// writePump drains the send channel and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close("write loop exited")
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Debug().Err(err).Str("conn_id", c.connID).Msg("ws: write error")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) close(reason string) {
	c.closeOnce.Do(func() {
		if c.onClose != nil {
			c.onClose(reason)
		}
		c.conn.Close()
	})
}

// handleEvent validates the frame against the closed event set and dispatches.
// Malformed payloads degrade to a no-op with an error frame back to the
// sender; they never terminate the connection.
func (c *Client) handleEvent(ctx context.Context, event models.Event) {
	observability.IncWSEvent(event.Type)

	switch event.Type {
	case models.EventRoomJoin:
		var p models.RoomPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.Room == "" {
			c.sendError("INVALID_PAYLOAD", "invalid room_join payload", "")
			return
		}
		c.hub.Join(c, p.Room)

	case models.EventRoomLeave:
		var p models.RoomPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.Room == "" {
			c.sendError("INVALID_PAYLOAD", "invalid room_leave payload", "")
			return
		}
		c.hub.Leave(c, p.Room)

	case models.EventMessageSend:
		var p models.SendMessagePayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid message_send payload", "")
			return
		}
		c.dispatchMessage(ctx, p)

	case models.EventMarkRead:
		var p models.MarkReadPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.ConversationID == 0 {
			c.sendError("INVALID_PAYLOAD", "invalid mark_read payload", "")
			return
		}
		if c.userID == 0 {
			return
		}
		if _, err := c.dispatcher.MarkRead(ctx, c.userID, p.ConversationID); err != nil {
			log.Error().Err(err).Int("conversation_id", p.ConversationID).Int("reader_id", c.userID).Msg("ws: mark read failed")
			c.sendError("MARK_READ_FAILED", "could not mark conversation read", "")
		}

	case models.EventTypingStart, models.EventTypingStop:
		if event.Room == "" {
			c.sendError("INVALID_PAYLOAD", "room required for typing events", "")
			return
		}
		// Ephemeral pass-through, no persistence.
		out, err := models.NewEvent(event.Type, event.Room, models.TypingPayload{UserID: c.userID, Room: event.Room})
		if err != nil {
			return
		}
		c.hub.BroadcastRoomExcept(event.Room, out, c)

	default:
		c.sendError("UNKNOWN_EVENT", "unknown event type: "+event.Type, "")
	}
}

// dispatchMessage runs the fanout pipeline for one message_send frame. This
// is a fire-and-forget channel: validation and resolution misses drop the one
// message silently, only persistence failures surface back to the sender.
func (c *Client) dispatchMessage(ctx context.Context, p models.SendMessagePayload) {
	if c.userID == 0 {
		observability.IncMessageDropped("unresolved_sender")
		log.Warn().Str("stable_id", c.stableID).Msg("ws: message from unresolved identity dropped")
		return
	}

	_, err := c.dispatcher.SendMessage(ctx, c.userID, p)
	if err == nil {
		return
	}
	if delivery.IsSilentDrop(err) {
		return // already logged and counted by the pipeline
	}
	log.Error().Err(err).Int("sender_id", c.userID).Int("receiver_id", p.ReceiverID).Str("temp_id", p.TempID).Msg("ws: message fanout failed")
	c.sendError("SEND_FAILED", "message could not be delivered", p.TempID)
}
