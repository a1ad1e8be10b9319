// Package auth - jwt.go issues and validates the short-lived access tokens
// handed out at login. Tokens are HS256-signed, carry the user id as subject,
// and are never stored: the only ways a token stops working are expiry and a
// signature mismatch.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTokenLifetime is how long an access token stays valid.
	DefaultTokenLifetime = 30 * time.Minute

	// MinSecretLength is the shortest signing secret accepted outside dev mode.
	MinSecretLength = 32
)

// TokenConfig is the immutable input to NewTokenManager.
type TokenConfig struct {
	Secret   []byte
	Issuer   string
	Lifetime time.Duration
}

// Claims is the access token payload.
type Claims struct {
	jwt.RegisteredClaims
}

// IssuedToken is an encoded token plus its expiry.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

// TokenManager mints and verifies access tokens with a single server-held
// secret. It holds no mutable state and is safe for concurrent use.
type TokenManager struct {
	secret   []byte
	issuer   string
	lifetime time.Duration
	now      func() time.Time
}

// NewTokenManager copies cfg.Secret so later changes to the caller's slice
// cannot alter signing.
func NewTokenManager(cfg TokenConfig) (*TokenManager, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token signing secret is empty")
	}
	lifetime := cfg.Lifetime
	if lifetime == 0 {
		lifetime = DefaultTokenLifetime
	}
	if lifetime < 0 {
		return nil, fmt.Errorf("token lifetime must be positive, got %s", lifetime)
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	return &TokenManager{
		secret:   secret,
		issuer:   cfg.Issuer,
		lifetime: lifetime,
		now:      time.Now,
	}, nil
}

// WithClock returns a copy of m that reads time from now. Used by tests to
// step past a token's expiry.
func (m *TokenManager) WithClock(now func() time.Time) *TokenManager {
	c := *m
	c.now = now
	return &c
}

// Lifetime returns the configured token lifetime.
func (m *TokenManager) Lifetime() time.Duration { return m.lifetime }

// Issue mints a token for userID expiring one lifetime from now.
func (m *TokenManager) Issue(userID int64) (*IssuedToken, error) {
	issuedAt := m.now()
	expiresAt := issuedAt.Add(m.lifetime)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &IssuedToken{Token: signed, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Validate verifies the signature first and the expiry second, returning the
// subject as a user id. Any structural, algorithm or signature problem yields
// ErrInvalidToken; a correctly signed token at or past its expiry yields
// ErrExpiredToken.
func (m *TokenManager) Validate(tokenString string) (int64, error) {
	if tokenString == "" {
		return 0, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, opts...)

	// golang-jwt checks the signature before it validates claims, so an
	// expiry error here implies the signature was good.
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrExpiredToken
		}
		return 0, ErrInvalidToken
	}
	if !token.Valid {
		return 0, ErrInvalidToken
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, ErrInvalidToken
	}
	return userID, nil
}
