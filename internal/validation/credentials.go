// Package validation checks account input before it reaches storage. Each
// validator collects every violated rule so the client can fix all of them in
// one round trip, and returns nil when the input is acceptable.
package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const (
	UsernameMinLength = 3
	UsernameMaxLength = 50
	// EmailMaxLength is the RFC 5321 path limit; the column holds 255.
	EmailMaxLength    = 254
	PasswordMinLength = 8
	// PasswordMaxBytes is bcrypt's input limit; longer passwords are refused
	// rather than silently truncated.
	PasswordMaxBytes = 72
)

var validate = validator.New()

// Credentials is the set of account fields that may be checked. Nil fields are
// skipped, which lets profile updates validate only what they change.
type Credentials struct {
	Username *string
	Email    *string
	Password *string
}

// Check returns a list of human-readable problems, empty when all supplied
// fields are valid.
func (c Credentials) Check() []string {
	var problems []string
	if c.Username != nil {
		problems = append(problems, CheckUsername(*c.Username)...)
	}
	if c.Email != nil {
		problems = append(problems, CheckEmail(*c.Email)...)
	}
	if c.Password != nil {
		problems = append(problems, CheckPassword(*c.Password)...)
	}
	return problems
}

// CheckUsername enforces the 3–50 character length rule, counted in runes,
// and rejects control characters and invalid UTF-8, which Postgres text
// columns refuse.
func CheckUsername(username string) []string {
	var problems []string
	n := utf8.RuneCountInString(username)
	if n < UsernameMinLength || n > UsernameMaxLength {
		problems = append(problems, fmt.Sprintf("username must be between %d and %d characters", UsernameMinLength, UsernameMaxLength))
	}
	if !utf8.ValidString(username) || strings.IndexFunc(username, unicode.IsControl) >= 0 {
		problems = append(problems, "username must not contain control characters")
	}
	return problems
}

// CheckEmail validates the address grammar and length.
func CheckEmail(email string) []string {
	if err := validate.Var(email, fmt.Sprintf("required,email,max=%d", EmailMaxLength)); err != nil {
		return []string{"email must be a valid email address"}
	}
	return nil
}

// CheckPassword enforces length and character-class rules.
func CheckPassword(password string) []string {
	var problems []string

	if utf8.RuneCountInString(password) < PasswordMinLength {
		problems = append(problems, fmt.Sprintf("password must be at least %d characters", PasswordMinLength))
	}
	if len(password) > PasswordMaxBytes {
		problems = append(problems, fmt.Sprintf("password must be at most %d bytes", PasswordMaxBytes))
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper {
		problems = append(problems, "password must contain at least one uppercase letter")
	}
	if !hasLower {
		problems = append(problems, "password must contain at least one lowercase letter")
	}
	if !hasDigit {
		problems = append(problems, "password must contain at least one digit")
	}

	return problems
}

// NormalizeEmail trims surrounding whitespace and lower-cases the address.
// Email uniqueness is case-insensitive; usernames are compared exactly.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateRegistration checks every field of a new account.
func ValidateRegistration(username, email, password string) []string {
	return Credentials{Username: &username, Email: &email, Password: &password}.Check()
}
