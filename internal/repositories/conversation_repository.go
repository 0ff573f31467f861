package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/jmoiron/sqlx"

	"presence-service/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	FindOrCreate(ctx context.Context, userID int, peerID int) (models.Conversation, error)
	Get(ctx context.Context, conversationID int) (models.Conversation, error)
	UpdateLastMessage(ctx context.Context, conversationID int, messageID int) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// FindOrCreate returns the conversation for the pair, creating it lazily.
// Participants are normalized to canonical order first so (a,b) and (b,a)
// resolve to the same row.
func (r *ConversationRepo) FindOrCreate(ctx context.Context, userID int, peerID int) (models.Conversation, error) {
	if userID == peerID {
		return models.Conversation{}, errors.New("cannot create conversation with self")
	}
	participants := []int{userID, peerID}
	sort.Ints(participants)
	user1, user2 := participants[0], participants[1]

	var conv models.Conversation
	query := `SELECT id, user1_id, user2_id, last_message_id, last_activity, created_at
        FROM conversations WHERE user1_id=$1 AND user2_id=$2`
	err := r.db.GetContext(ctx, &conv, query, user1, user2)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, err
	}

	// Lost a race with a concurrent first message and the unique pair
	// constraint fired: fall back to the existing row.
	insert := `INSERT INTO conversations (user1_id, user2_id) VALUES ($1, $2)
        ON CONFLICT (user1_id, user2_id) DO UPDATE SET user1_id = EXCLUDED.user1_id
        RETURNING id, user1_id, user2_id, last_message_id, last_activity, created_at`
	if err := r.db.QueryRowxContext(ctx, insert, user1, user2).StructScan(&conv); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// Get fetches a conversation by id.
func (r *ConversationRepo) Get(ctx context.Context, conversationID int) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT id, user1_id, user2_id, last_message_id, last_activity, created_at
        FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// UpdateLastMessage moves the last-message pointer and activity timestamp.
func (r *ConversationRepo) UpdateLastMessage(ctx context.Context, conversationID int, messageID int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE conversations SET last_message_id=$2, last_activity=NOW() WHERE id=$1`,
		conversationID, messageID)
	return err
}
