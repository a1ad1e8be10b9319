// Package auth - password.go hashes and verifies account passwords with bcrypt.
// The cost factor comes from configuration so it can be raised per deployment
// without a rebuild.
package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is used when configuration does not override it.
const DefaultBcryptCost = 12

// PasswordHasher produces salted, adaptive password digests.
type PasswordHasher struct {
	cost int
	// dummy is compared against when a login names an unknown email so the
	// request takes as long as a wrong-password attempt.
	dummy []byte
}

// NewPasswordHasher validates cost against bcrypt's accepted range.
func NewPasswordHasher(cost int) (*PasswordHasher, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("taskhub-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy digest: %w", err)
	}
	return &PasswordHasher{cost: cost, dummy: dummy}, nil
}

// Cost returns the configured work factor.
func (h *PasswordHasher) Cost() int { return h.cost }

// Hash returns a bcrypt digest of plaintext. A fresh random salt is drawn on
// every call, so hashing the same input twice yields different digests.
func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("password is empty")
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether plaintext produced digest. Empty inputs never match.
// bcrypt compares in constant time.
func (h *PasswordHasher) Verify(plaintext, digest string) bool {
	if plaintext == "" || digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

// DummyVerify performs a throwaway comparison and always reports false.
func (h *PasswordHasher) DummyVerify(plaintext string) bool {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plaintext))
	return false
}
