package models

import (
	"database/sql"
	"time"
)

// User is the directory row linking a stable external identity to the
// internal storage id plus the display data carried on delivery payloads.
type User struct {
	ID        int          `db:"id" json:"id"`
	StableID  string       `db:"stable_id" json:"stable_id"`
	Username  string       `db:"username" json:"username"`
	AvatarURL string       `db:"avatar_url" json:"avatar_url,omitempty"`
	LastSeen  sql.NullTime `db:"last_seen" json:"last_seen,omitempty"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// Profile is the subset of User echoed to other clients.
type Profile struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Profile converts the row into its broadcast form.
func (u User) Profile() Profile {
	return Profile{ID: u.ID, Username: u.Username, AvatarURL: u.AvatarURL}
}
