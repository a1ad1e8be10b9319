// Package auth - errors.go defines the error taxonomy shared by the credential
// store, the key manager, the token manager and the HTTP layer. Every expected,
// user-facing failure is one of the types below; anything else is treated as an
// infrastructure failure and surfaced as a generic 500.
package auth

import (
	"errors"
	"net/http"
	"strings"
)

// Token validation failures. They never reach the client verbatim: the
// middleware collapses both into ErrNotAuthenticated.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// ValidationError reports every rule an input violated, not just the first.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "; ")
}

// NewValidationError returns nil when problems is empty so callers can write
// `return auth.NewValidationError(problems)` unconditionally.
func NewValidationError(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

// ConflictError is returned when a unique field is already in use.
type ConflictError struct {
	Detail string
}

func (e *ConflictError) Error() string { return e.Detail }

// Conflict details used by registration and profile updates.
const (
	DetailEmailTaken    = "Email already registered"
	DetailUsernameTaken = "Username already taken"
)

// AuthenticationError covers bad logins and missing/invalid/expired/revoked
// credentials. The detail is deliberately generic.
type AuthenticationError struct {
	Detail string
}

func (e *AuthenticationError) Error() string { return e.Detail }

var (
	// ErrInvalidCredentials is the single login failure. Unknown email and
	// wrong password are indistinguishable.
	ErrInvalidCredentials = &AuthenticationError{Detail: "incorrect email or password"}

	// ErrNotAuthenticated is returned by the middleware whatever the reason.
	ErrNotAuthenticated = &AuthenticationError{Detail: "not authenticated"}
)

// ForbiddenError means the identity is valid but does not own the resource.
type ForbiddenError struct {
	Detail string
}

func (e *ForbiddenError) Error() string {
	if e.Detail == "" {
		return "forbidden"
	}
	return e.Detail
}

// NotFoundError means the referenced user or key does not exist (or, for
// keys, is not visible to the caller).
type NotFoundError struct {
	Detail string
}

func (e *NotFoundError) Error() string {
	if e.Detail == "" {
		return "not found"
	}
	return e.Detail
}

// HTTPStatus maps an error from this package's taxonomy to its status code.
// ok is false for errors outside the taxonomy.
func HTTPStatus(err error) (status int, ok bool) {
	var (
		validationErr *ValidationError
		conflictErr   *ConflictError
		authErr       *AuthenticationError
		forbiddenErr  *ForbiddenError
		notFoundErr   *NotFoundError
	)
	switch {
	case errors.As(err, &validationErr), errors.As(err, &conflictErr):
		return http.StatusBadRequest, true
	case errors.As(err, &authErr):
		return http.StatusUnauthorized, true
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrExpiredToken):
		return http.StatusUnauthorized, true
	case errors.As(err, &forbiddenErr):
		return http.StatusForbidden, true
	case errors.As(err, &notFoundErr):
		return http.StatusNotFound, true
	}
	return http.StatusInternalServerError, false
}
