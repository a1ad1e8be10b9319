package models

import "time"

// APIKey represents a long-lived credential owned by a user. Only the SHA-256
// hash of the key is stored; the plaintext is shown once at creation.
type APIKey struct {
	ID          int64      `db:"id" json:"id"`
	UserID      int64      `db:"user_id" json:"user_id"`
	KeyHash     string     `db:"key_hash" json:"-"`
	KeyPrefix   string     `db:"key_prefix" json:"key_prefix"` // First chars for display (e.g., "thk_abc12345")
	Description *string    `db:"description" json:"description"`
	Revoked     bool       `db:"revoked" json:"revoked"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	LastUsedAt  *time.Time `db:"last_used_at" json:"last_used_at"`
}
