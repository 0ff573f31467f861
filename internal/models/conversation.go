package models

import (
	"database/sql"
	"time"
)

// Conversation represents a private conversation between exactly two users.
// Participants are stored in canonical order (user1_id < user2_id).
type Conversation struct {
	ID            int           `db:"id" json:"id"`
	User1ID       int           `db:"user1_id" json:"user1_id"`
	User2ID       int           `db:"user2_id" json:"user2_id"`
	LastMessageID sql.NullInt64 `db:"last_message_id" json:"last_message_id,omitempty"`
	LastActivity  time.Time     `db:"last_activity" json:"last_activity"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
}

// HasParticipant reports whether a user belongs to the conversation.
func (c Conversation) HasParticipant(userID int) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// Peer returns the other participant's id.
func (c Conversation) Peer(userID int) int {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}
