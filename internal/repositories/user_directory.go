package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"presence-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserDirectory resolves stable external identities to internal users and
// keeps last-seen bookkeeping. It stands in for the identity-resolution
// collaborator; the REST layer that syncs rows into it is outside this service.
type UserDirectory interface {
	ResolveStableID(ctx context.Context, stableID string) (models.User, error)
	Lookup(ctx context.Context, userID int) (models.User, error)
	UpdateLastSeen(ctx context.Context, userID int, at time.Time) error
}

// UserDirectoryRepo is a sqlx implementation of UserDirectory.
type UserDirectoryRepo struct {
	db *sqlx.DB
}

// NewUserDirectoryRepo constructs a UserDirectoryRepo.
func NewUserDirectoryRepo(db *sqlx.DB) *UserDirectoryRepo {
	return &UserDirectoryRepo{db: db}
}

// ResolveStableID maps an external identity to its directory row.
func (r *UserDirectoryRepo) ResolveStableID(ctx context.Context, stableID string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, stable_id, username, avatar_url, last_seen, created_at
        FROM users WHERE stable_id=$1`, stableID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// Lookup fetches a user by internal id.
func (r *UserDirectoryRepo) Lookup(ctx context.Context, userID int) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, stable_id, username, avatar_url, last_seen, created_at
        FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// UpdateLastSeen records when the user's last connection closed.
func (r *UserDirectoryRepo) UpdateLastSeen(ctx context.Context, userID int, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_seen=$2 WHERE id=$1`, userID, at)
	return err
}
