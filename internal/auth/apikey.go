// Package auth provides the authentication primitives of the task API: password
// hashing, access token issuance/validation, API key generation and the
// ownership guard used by resource handlers.
//
// Two credential schemes are supported: JWTs (issued at login, verified without
// any storage access) and API keys (long-lived, stored as a SHA-256 digest,
// individually revocable). See internal/middleware/auth.go for the request-time
// logic that arbitrates between them.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// APIKeyLength is the length of the random part of the API key in bytes
	APIKeyLength = 32

	// DisplayPrefixLength is the number of characters kept for listings
	DisplayPrefixLength = 12

	// DefaultAPIKeyPrefix namespaces generated keys so they are recognisable in
	// logs and secret scanners.
	DefaultAPIKeyPrefix = "thk"
)

// GeneratedAPIKey is a freshly minted key. Key is the only plaintext copy the
// system ever holds; Hash and DisplayPrefix are what gets stored.
type GeneratedAPIKey struct {
	Key           string
	Hash          string
	DisplayPrefix string
}

// GenerateAPIKey creates a new random API key of the form prefix_<base64url>.
func GenerateAPIKey(prefix string) (*GeneratedAPIKey, error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullKey := fmt.Sprintf("%s_%s", prefix, base64.RawURLEncoding.EncodeToString(randomBytes))

	displayPrefix := fullKey
	if len(fullKey) > DisplayPrefixLength {
		displayPrefix = fullKey[:DisplayPrefixLength]
	}

	return &GeneratedAPIKey{
		Key:           fullKey,
		Hash:          HashAPIKey(fullKey),
		DisplayPrefix: displayPrefix,
	}, nil
}

// HashAPIKey returns the hex SHA-256 digest used to store and look up a key.
// Keys carry 256 bits of entropy, so a fast unsalted digest is enough and
// keeps lookup a single indexed equality match.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ExtractBearerToken extracts the credential from an Authorization header.
// Expected format: "Bearer <token>"; the scheme is matched case-insensitively.
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("token is empty after Bearer prefix")
	}

	return token, nil
}
