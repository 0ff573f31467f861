package models

import (
	"encoding/json"
	"time"
)

// Event types - client to server.
const (
	EventMessageSend = "message_send"
	EventMarkRead    = "mark_read"
	EventRoomJoin    = "room_join"
	EventRoomLeave   = "room_leave"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
)

// Event types - server to client.
const (
	EventPresenceOnline      = "presence_online"
	EventPresenceOffline     = "presence_offline"
	EventOnlineSnapshot      = "online_snapshot"
	EventMessageDelivered    = "message_delivered"
	EventMessageNotification = "message_notification"
	EventReadReceipt         = "read_receipt"
	EventError               = "error"
)

// Event is the wire envelope for every websocket frame. Each type carries a
// fixed payload struct; payloads are validated at the connection boundary
// before any dispatch.
type Event struct {
	Type      string          `json:"type"`
	Room      string          `json:"room,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

// NewEvent marshals a payload into a server-originated event stamped with the
// current time.
func NewEvent(eventType, room string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:      eventType,
		Room:      room,
		Payload:   data,
		Timestamp: time.Now().Unix(),
	}, nil
}

// --- Client to server payloads ---

// SendMessagePayload is the message_send body. TempID is an opaque
// client-generated correlation id, echoed back unchanged on delivery.
type SendMessagePayload struct {
	ReceiverID int    `json:"receiver_id"`
	Content    string `json:"content"`
	Attachment string `json:"attachment,omitempty"`
	TempID     string `json:"temp_id,omitempty"`
}

// MarkReadPayload asks the server to mark a whole conversation read.
type MarkReadPayload struct {
	ConversationID int `json:"conversation_id"`
}

// RoomPayload names the room for join/leave requests.
type RoomPayload struct {
	Room string `json:"room"`
}

// --- Server to client payloads ---

// PresencePayload announces one identity going online or offline.
type PresencePayload struct {
	StableID string `json:"stable_id"`
	UserID   int    `json:"user_id,omitempty"`
	Online   bool   `json:"online"`
}

// SnapshotPayload lists every identity online at connect time. Sent only to
// the connection that just joined.
type SnapshotPayload struct {
	StableIDs []string `json:"stable_ids"`
}

// DeliveredPayload is the full message_delivered body.
type DeliveredPayload struct {
	Message  Message `json:"message"`
	TempID   string  `json:"temp_id,omitempty"`
	Sender   Profile `json:"sender"`
	Receiver Profile `json:"receiver"`
}

// NotificationPayload is the lightweight message_notification body sent to the
// receiver's personal room for unread-counter aggregation.
type NotificationPayload struct {
	ConversationID int `json:"conversation_id"`
	MessageID      int `json:"message_id"`
	SenderID       int `json:"sender_id"`
}

// ReadReceiptPayload reports a bulk mark-read on a conversation.
type ReadReceiptPayload struct {
	ConversationID int       `json:"conversation_id"`
	ReaderID       int       `json:"reader_id"`
	Count          int       `json:"count"`
	ReadAt         time.Time `json:"read_at"`
}

// TypingPayload is passed through to the named room without persistence.
type TypingPayload struct {
	UserID int    `json:"user_id"`
	Room   string `json:"room"`
}

// ErrorPayload is sent back to the originating connection only.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TempID  string `json:"temp_id,omitempty"`
}
