package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/taskhub/taskhub-api/internal/auth"
	"github.com/taskhub/taskhub-api/internal/db/models"
	"github.com/taskhub/taskhub-api/internal/db/repositories"
	"github.com/taskhub/taskhub-api/internal/safego"
	"github.com/taskhub/taskhub-api/internal/telemetry"
)

const (
	// maxGenerateAttempts bounds retries after a key hash collision.
	maxGenerateAttempts = 3
	lastUsedTimeout     = 5 * time.Second
)

// APIKeyStore is the persistence contract APIKeyService depends on.
// *repositories.APIKeyRepository satisfies it.
type APIKeyStore interface {
	Create(ctx context.Context, key *models.APIKey) error
	GetActiveByHash(ctx context.Context, keyHash string) (*models.APIKey, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.APIKey, error)
	Revoke(ctx context.Context, userID, keyID int64) error
	UpdateLastUsed(ctx context.Context, keyID int64, at time.Time) error
}

// GeneratedKey is the one-time view of a new key, the only value that ever
// carries the plaintext.
type GeneratedKey struct {
	ID          int64     `json:"id"`
	KeyValue    string    `json:"key_value"`
	KeyPrefix   string    `json:"key_prefix"`
	Description *string   `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// APIKeyService manages the API key lifecycle.
type APIKeyService struct {
	keys   APIKeyStore
	prefix string
	now    func() time.Time
	// runAsync schedules best-effort work off the request path.
	runAsync func(fn func(ctx context.Context))
}

// NewAPIKeyService creates a new APIKeyService issuing keys that start with prefix + "_".
func NewAPIKeyService(keys APIKeyStore, prefix string) *APIKeyService {
	if prefix == "" {
		prefix = auth.DefaultAPIKeyPrefix
	}
	return &APIKeyService{
		keys:   keys,
		prefix: prefix,
		now:    time.Now,
		runAsync: func(fn func(ctx context.Context)) {
			safego.GoWithTimeout(lastUsedTimeout, fn)
		},
	}
}

// Generate creates a key for userID and returns its plaintext once.
func (s *APIKeyService) Generate(ctx context.Context, userID int64, description *string) (*GeneratedKey, error) {
	if description != nil {
		trimmed := strings.TrimSpace(*description)
		if trimmed == "" {
			description = nil
		} else {
			description = &trimmed
		}
	}

	for attempt := 1; ; attempt++ {
		gen, err := auth.GenerateAPIKey(s.prefix)
		if err != nil {
			return nil, err
		}

		key := &models.APIKey{
			UserID:      userID,
			KeyHash:     gen.Hash,
			KeyPrefix:   gen.DisplayPrefix,
			Description: description,
		}
		err = s.keys.Create(ctx, key)
		if err == nil {
			telemetry.APIKeysIssuedTotal.Inc()
			slog.Info("api key generated", "user_id", userID, "key_id", key.ID, "key_prefix", key.KeyPrefix)
			return &GeneratedKey{
				ID:          key.ID,
				KeyValue:    gen.Key,
				KeyPrefix:   key.KeyPrefix,
				Description: key.Description,
				CreatedAt:   key.CreatedAt,
			}, nil
		}

		var uv *repositories.UniqueViolationError
		if errors.As(err, &uv) && uv.Constraint == repositories.ConstraintAPIKeyHash && attempt < maxGenerateAttempts {
			slog.Warn("api key hash collision, regenerating", "attempt", attempt)
			continue
		}
		if errors.Is(err, repositories.ErrNotFound) {
			// The caller's token outlived its account.
			return nil, auth.ErrNotAuthenticated
		}
		return nil, fmt.Errorf("failed to store api key: %w", err)
	}
}

// Revoke marks keyID revoked if userID owns it. Keys that do not exist and
// keys owned by someone else both yield *auth.NotFoundError.
func (s *APIKeyService) Revoke(ctx context.Context, userID, keyID int64) error {
	if err := s.keys.Revoke(ctx, userID, keyID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return &auth.NotFoundError{Detail: "API key not found"}
		}
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	telemetry.APIKeysRevokedTotal.Inc()
	slog.Info("api key revoked", "user_id", userID, "key_id", keyID)
	return nil
}

// Lookup resolves a presented key to its record. It returns (nil, nil) for
// unknown and revoked keys and for keys whose owner no longer exists. A hit
// schedules a last_used_at update that never affects the result.
func (s *APIKeyService) Lookup(ctx context.Context, keyValue string) (*models.APIKey, error) {
	if keyValue == "" {
		return nil, nil
	}

	key, err := s.keys.GetActiveByHash(ctx, auth.HashAPIKey(keyValue))
	if err != nil {
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}
	if key == nil {
		return nil, nil
	}

	keyID, at := key.ID, s.now()
	s.runAsync(func(ctx context.Context) {
		if err := s.keys.UpdateLastUsed(ctx, keyID, at); err != nil {
			telemetry.APIKeyLastUsedFailuresTotal.Inc()
			slog.Warn("failed to update api key last_used_at", "key_id", keyID, "error", err)
		}
	})
	return key, nil
}

// List returns userID's keys, newest first. Plaintext values are never
// available after generation.
func (s *APIKeyService) List(ctx context.Context, userID int64) ([]*models.APIKey, error) {
	keys, err := s.keys.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}
