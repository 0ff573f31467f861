package models

import "time"

// Message represents one chat message. Content is stored exactly as received:
// clients encrypt and decrypt, the server treats the body as an opaque blob.
type Message struct {
	ID             int       `db:"id" json:"id"`
	ConversationID int       `db:"conversation_id" json:"conversation_id"`
	SenderID       int       `db:"sender_id" json:"sender_id"`
	ReceiverID     int       `db:"receiver_id" json:"receiver_id"`
	Content        string    `db:"content" json:"content"`
	Attachment     string    `db:"attachment" json:"attachment,omitempty"`
	Read           bool      `db:"read" json:"read"`
	Deleted        bool      `db:"deleted" json:"deleted"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
