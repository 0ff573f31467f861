package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"presence-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	Create(ctx context.Context, conversationID, senderID, receiverID int, content, attachment string) (models.Message, error)
	Get(ctx context.Context, messageID int) (models.Message, error)
	ListForConversation(ctx context.Context, conversationID int) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, conversationID int, readerID int) (int, error)
	SoftDelete(ctx context.Context, messageID int, senderID int) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Create stores a message. Content is persisted exactly as received.
func (r *MessageRepo) Create(ctx context.Context, conversationID, senderID, receiverID int, content, attachment string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (conversation_id, sender_id, receiver_id, content, attachment)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, conversation_id, sender_id, receiver_id, content, attachment, read, deleted, created_at`,
		conversationID, senderID, receiverID, content, attachment).StructScan(&msg)
	return msg, err
}

// Get retrieves a single message.
func (r *MessageRepo) Get(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT id, conversation_id, sender_id, receiver_id, content, attachment, read, deleted, created_at
        FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListForConversation returns ordered messages, soft-deleted ones excluded.
func (r *MessageRepo) ListForConversation(ctx context.Context, conversationID int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT id, conversation_id, sender_id, receiver_id, content, attachment, read, deleted, created_at
        FROM messages WHERE conversation_id=$1 AND deleted = FALSE ORDER BY created_at ASC`, conversationID)
	return msgs, err
}

// MarkConversationRead marks every unread message addressed to the reader in
// the conversation and returns how many rows changed. Zero is not an error.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, conversationID int, readerID int) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET read = TRUE
        WHERE conversation_id=$1 AND receiver_id=$2 AND read = FALSE`, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// SoftDelete marks a message deleted (sender only). Physical deletion is a
// collaborator concern.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID int, senderID int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET deleted = TRUE WHERE id=$1 AND sender_id=$2`, messageID, senderID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}
