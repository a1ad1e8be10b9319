// Package repositories implements the data access layer for users and API keys.
// Each repository type encapsulates all database queries for one table.
// Handlers and services never issue SQL directly; every query lives here so it can be tested against sqlmock in isolation.
package repositories

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Constraint names declared by the embedded migrations.
const (
	ConstraintUserEmail    = "users_email_key"
	ConstraintUserUsername = "users_username_key"
	ConstraintAPIKeyHash   = "api_keys_key_hash_key"
)

const (
	pqUniqueViolation     = pq.ErrorCode("23505")
	pqForeignKeyViolation = pq.ErrorCode("23503")
)

// ErrNotFound is returned by write operations whose target row does not exist.
// Read operations return (nil, nil) instead.
var ErrNotFound = errors.New("record not found")

// UniqueViolationError reports that an insert or update hit a UNIQUE constraint.
type UniqueViolationError struct {
	Constraint string
	Err        error
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("unique constraint %q violated", e.Constraint)
}

func (e *UniqueViolationError) Unwrap() error { return e.Err }

// translateError converts driver errors the service layer needs to act on.
func translateError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pqUniqueViolation:
		return &UniqueViolationError{Constraint: pqErr.Constraint, Err: err}
	case pqForeignKeyViolation:
		return fmt.Errorf("%w: %s", ErrNotFound, pqErr.Constraint)
	}
	return err
}
