// api_key_repository.go implements APIKeyRepository, providing database queries for API key
// creation, hash lookup, revocation and last-used timestamp updates.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/taskhub/taskhub-api/internal/db/models"
)

const apiKeyColumns = `k.id, k.user_id, k.key_hash, k.key_prefix, k.description, k.revoked, k.created_at, k.last_used_at`

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db *sqlx.DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *sqlx.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// Create inserts key and fills in the generated id, revoked flag and created_at.
// A colliding hash yields *UniqueViolationError; a missing owner yields ErrNotFound.
func (r *APIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	query := `
		INSERT INTO api_keys (user_id, key_hash, key_prefix, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id, revoked, created_at
	`

	err := r.db.QueryRowxContext(ctx, query, key.UserID, key.KeyHash, key.KeyPrefix, key.Description).
		Scan(&key.ID, &key.Revoked, &key.CreatedAt)
	if err != nil {
		return translateError(err)
	}
	return nil
}

// GetActiveByHash retrieves a non-revoked key whose owner still exists.
// Returns (nil, nil) when there is no such key.
func (r *APIKeyRepository) GetActiveByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys k
		JOIN users u ON u.id = k.user_id
		WHERE k.key_hash = $1 AND NOT k.revoked
	`

	key := &models.APIKey{}
	err := r.db.GetContext(ctx, key, query, keyHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return key, nil
}

// ListByUser returns every key owned by userID, newest first, revoked ones included.
func (r *APIKeyRepository) ListByUser(ctx context.Context, userID int64) ([]*models.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys k
		WHERE k.user_id = $1
		ORDER BY k.created_at DESC, k.id DESC
	`

	keys := []*models.APIKey{}
	if err := r.db.SelectContext(ctx, &keys, query, userID); err != nil {
		return nil, err
	}
	return keys, nil
}

// Revoke marks the key revoked when it belongs to userID. Revoking an already
// revoked key succeeds. Returns ErrNotFound when no key matches both ids.
func (r *APIKeyRepository) Revoke(ctx context.Context, userID, keyID int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE api_keys SET revoked = TRUE WHERE id = $1 AND user_id = $2`, keyID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastUsed records when the key last authenticated a request.
func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, keyID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, at, keyID)
	return err
}
