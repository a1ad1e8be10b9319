// Package services implements the account and credential business logic that sits between the HTTP handlers and the repositories.
// UserService owns registration, login and profile changes; APIKeyService owns the API key lifecycle.
// Both speak in auth error types so handlers can map outcomes to status codes without inspecting storage errors.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taskhub/taskhub-api/internal/auth"
	"github.com/taskhub/taskhub-api/internal/db/models"
	"github.com/taskhub/taskhub-api/internal/db/repositories"
	"github.com/taskhub/taskhub-api/internal/telemetry"
	"github.com/taskhub/taskhub-api/internal/validation"
)

// UserStore is the persistence contract UserService depends on.
// *repositories.UserRepository satisfies it.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
	Update(ctx context.Context, user *models.User) error
	DeleteWithKeys(ctx context.Context, id int64) error
}

// RegisterInput carries the fields of a new account.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// UpdateInput carries profile changes. Nil fields are left untouched.
type UpdateInput struct {
	Username *string
	Email    *string
	Password *string
}

// LoginResult is returned by a successful Authenticate call.
type LoginResult struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	User        *models.PublicUser
}

// UserService handles account registration, login and profile management.
type UserService struct {
	users  UserStore
	hasher *auth.PasswordHasher
	tokens *auth.TokenManager
}

// NewUserService creates a new UserService
func NewUserService(users UserStore, hasher *auth.PasswordHasher, tokens *auth.TokenManager) *UserService {
	return &UserService{users: users, hasher: hasher, tokens: tokens}
}

func userNotFound(id int64) error {
	return &auth.NotFoundError{Detail: fmt.Sprintf("User with ID %d not found", id)}
}

// Register validates in, rejects duplicate email or username, and stores the
// new account with a bcrypt password hash.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.PublicUser, error) {
	email := validation.NormalizeEmail(in.Email)
	if err := auth.NewValidationError(validation.ValidateRegistration(in.Username, email, in.Password)); err != nil {
		return nil, err
	}

	if err := s.checkAvailable(ctx, 0, &in.Username, &email); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{Username: in.Username, Email: email, PasswordHash: hash}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, storeError("create user", err)
	}
	return user.Public(), nil
}

// checkAvailable reports a conflict when email or username belongs to an
// account other than selfID. The UNIQUE constraints remain authoritative; this
// only produces the friendly error for the common non-racing case.
func (s *UserService) checkAvailable(ctx context.Context, selfID int64, username, email *string) error {
	if email != nil {
		existing, err := s.users.GetByEmail(ctx, *email)
		if err != nil {
			return fmt.Errorf("failed to look up email: %w", err)
		}
		if existing != nil && existing.ID != selfID {
			return &auth.ConflictError{Detail: auth.DetailEmailTaken}
		}
	}
	if username != nil {
		existing, err := s.users.GetByUsername(ctx, *username)
		if err != nil {
			return fmt.Errorf("failed to look up username: %w", err)
		}
		if existing != nil && existing.ID != selfID {
			return &auth.ConflictError{Detail: auth.DetailUsernameTaken}
		}
	}
	return nil
}

// storeError maps repository errors to auth errors, wrapping anything else.
func storeError(op string, err error) error {
	var uv *repositories.UniqueViolationError
	if errors.As(err, &uv) {
		switch uv.Constraint {
		case repositories.ConstraintUserEmail:
			return &auth.ConflictError{Detail: auth.DetailEmailTaken}
		case repositories.ConstraintUserUsername:
			return &auth.ConflictError{Detail: auth.DetailUsernameTaken}
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// Authenticate checks an email/password pair and issues an access token.
// Unknown email and wrong password produce the same error and take the same
// bcrypt time.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.users.GetByEmail(ctx, validation.NormalizeEmail(email))
	if err != nil {
		telemetry.LoginAttemptsTotal.WithLabelValues(telemetry.OutcomeError).Inc()
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if user == nil {
		s.hasher.DummyVerify(password)
		telemetry.LoginAttemptsTotal.WithLabelValues(telemetry.OutcomeRejected).Inc()
		return nil, auth.ErrInvalidCredentials
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		telemetry.LoginAttemptsTotal.WithLabelValues(telemetry.OutcomeRejected).Inc()
		return nil, auth.ErrInvalidCredentials
	}

	issued, err := s.tokens.Issue(user.ID)
	if err != nil {
		telemetry.LoginAttemptsTotal.WithLabelValues(telemetry.OutcomeError).Inc()
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	telemetry.LoginAttemptsTotal.WithLabelValues(telemetry.OutcomeSuccess).Inc()
	return &LoginResult{
		AccessToken: issued.Token,
		TokenType:   "bearer",
		ExpiresAt:   issued.ExpiresAt,
		User:        user.Public(),
	}, nil
}

// Get returns the public projection of user id.
func (s *UserService) Get(ctx context.Context, id int64) (*models.PublicUser, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, userNotFound(id)
	}
	return user.Public(), nil
}

// List returns a page of users ordered by id.
func (s *UserService) List(ctx context.Context, limit, offset int) ([]*models.PublicUser, error) {
	users, err := s.users.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	out := make([]*models.PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	return out, nil
}

// Update applies the supplied profile changes. Every supplied field is
// validated with the registration rules and a new password is re-hashed.
func (s *UserService) Update(ctx context.Context, id int64, in UpdateInput) (*models.PublicUser, error) {
	if in.Email != nil {
		email := validation.NormalizeEmail(*in.Email)
		in.Email = &email
	}
	creds := validation.Credentials{Username: in.Username, Email: in.Email, Password: in.Password}
	if err := auth.NewValidationError(creds.Check()); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, userNotFound(id)
	}

	if err := s.checkAvailable(ctx, id, in.Username, in.Email); err != nil {
		return nil, err
	}

	if in.Username != nil {
		user.Username = *in.Username
	}
	if in.Email != nil {
		user.Email = *in.Email
	}
	if in.Password != nil {
		hash, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		user.PasswordHash = hash
	}

	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, userNotFound(id)
		}
		return nil, storeError("update user", err)
	}
	return user.Public(), nil
}

// Delete removes the account and makes every key it owned unusable.
func (s *UserService) Delete(ctx context.Context, id int64) error {
	if err := s.users.DeleteWithKeys(ctx, id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return userNotFound(id)
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}
