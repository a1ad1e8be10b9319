// Package middleware provides the Gin middleware chain for the task API:
// request ids, metrics, security headers and authentication.
//
// Middleware ordering is enforced in router.go:
//
//	Recovery → RequestID → Metrics → Logger → CORS → SecurityHeaders → Auth → Handler
//
// Security headers run before auth so they appear on 401 responses too.
// Auth resolves the caller to an auth.Identity; handlers read it with
// CurrentIdentity and apply ownership checks themselves.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/taskhub/taskhub-api/internal/auth"
	"github.com/taskhub/taskhub-api/internal/db/models"
	"github.com/taskhub/taskhub-api/internal/telemetry"
)

const (
	// APIKeyHeader carries a long-lived API key.
	APIKeyHeader = "X-API-Key"

	// IdentityKey is the gin.Context key holding the resolved auth.Identity.
	IdentityKey = "auth_identity"
)

// AuthState is a step of one authentication decision.
type AuthState int

const (
	StateNoCredential AuthState = iota
	StateCheckingToken
	StateCheckingKey
	StateAuthenticated
	StateRejected
)

func (s AuthState) String() string {
	switch s {
	case StateNoCredential:
		return "no_credential"
	case StateCheckingToken:
		return "checking_token"
	case StateCheckingKey:
		return "checking_key"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	}
	return "unknown"
}

// Reason explains a rejection in logs and never reaches the client.
type Reason string

const (
	ReasonMissing      Reason = "missing"
	ReasonInvalidToken Reason = "invalid_token"
	ReasonExpiredToken Reason = "expired_token"
	ReasonInvalidKey   Reason = "invalid_key"
	ReasonLookupError  Reason = "lookup_error"
)

// Scheme selects which credential types an endpoint accepts.
type Scheme uint8

const (
	SchemeToken Scheme = 1 << iota
	SchemeAPIKey

	SchemeAny = SchemeToken | SchemeAPIKey
)

// TokenValidator resolves an access token to a user id. *auth.TokenManager satisfies it.
type TokenValidator interface {
	Validate(token string) (int64, error)
}

// KeyLookup resolves an API key to its record, returning nil for unknown or
// revoked keys. *services.APIKeyService satisfies it.
type KeyLookup interface {
	Lookup(ctx context.Context, keyValue string) (*models.APIKey, error)
}

// Credentials are the raw values a request presented.
type Credentials struct {
	Bearer string
	APIKey string
	// MalformedAuthorization is set when an Authorization header was present
	// but was not a usable bearer token.
	MalformedAuthorization bool
}

// CredentialsFromRequest reads the Authorization and X-API-Key headers.
func CredentialsFromRequest(r *http.Request) Credentials {
	var creds Credentials
	if header := r.Header.Get("Authorization"); header != "" {
		token, err := auth.ExtractBearerToken(header)
		if err != nil {
			creds.MalformedAuthorization = true
		} else {
			creds.Bearer = token
		}
	}
	creds.APIKey = r.Header.Get(APIKeyHeader)
	return creds
}

func (c Credentials) hasToken() bool { return c.Bearer != "" || c.MalformedAuthorization }

// Decision is the outcome of Authenticate.
type Decision struct {
	State    AuthState
	Identity auth.Identity
	// Method is the scheme that produced the final state, or telemetry.MethodNone.
	Method string
	Reason Reason
	// Err is set when the key store failed.
	Err error
	// Path lists every state visited, in order.
	Path []AuthState
}

func (d *Decision) enter(s AuthState) {
	d.State = s
	d.Path = append(d.Path, s)
}

// Authenticator decides, per request, who the caller is. It holds no
// per-request state and caches nothing.
type Authenticator struct {
	tokens TokenValidator
	keys   KeyLookup
}

// NewAuthenticator creates a new Authenticator
func NewAuthenticator(tokens TokenValidator, keys KeyLookup) *Authenticator {
	return &Authenticator{tokens: tokens, keys: keys}
}

// Authenticate accepts either scheme. See AuthenticateWith.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) Decision {
	return a.AuthenticateWith(ctx, creds, SchemeAny)
}

// AuthenticateWith tries the bearer token first and, when it is absent or
// fails, the API key. A valid token short-circuits: the key is not consulted.
func (a *Authenticator) AuthenticateWith(ctx context.Context, creds Credentials, schemes Scheme) Decision {
	d := Decision{Method: telemetry.MethodNone}
	d.enter(StateNoCredential)

	if schemes&SchemeToken != 0 && creds.hasToken() {
		d.enter(StateCheckingToken)
		d.Method = auth.MethodJWT
		if creds.MalformedAuthorization {
			d.Reason = ReasonInvalidToken
		} else {
			userID, err := a.tokens.Validate(creds.Bearer)
			switch {
			case err == nil:
				d.Identity = auth.Identity{UserID: userID, Method: auth.MethodJWT}
				d.Reason = ""
				d.enter(StateAuthenticated)
				return d
			case errors.Is(err, auth.ErrExpiredToken):
				d.Reason = ReasonExpiredToken
			default:
				d.Reason = ReasonInvalidToken
			}
		}
	}

	if schemes&SchemeAPIKey != 0 && creds.APIKey != "" {
		d.enter(StateCheckingKey)
		d.Method = auth.MethodAPIKey
		key, err := a.keys.Lookup(ctx, creds.APIKey)
		switch {
		case err != nil:
			d.Reason = ReasonLookupError
			d.Err = err
		case key == nil:
			d.Reason = ReasonInvalidKey
		default:
			d.Identity = auth.Identity{UserID: key.UserID, Method: auth.MethodAPIKey, APIKeyID: key.ID}
			d.Reason = ""
			d.enter(StateAuthenticated)
			return d
		}
	}

	if d.Reason == "" {
		d.Reason = ReasonMissing
	}
	d.enter(StateRejected)
	return d
}

// RequireAuth returns a handler that aborts with 401 unless the request
// authenticates with one of schemes. The response never says which check failed.
func RequireAuth(a *Authenticator, schemes Scheme) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := a.AuthenticateWith(c.Request.Context(), CredentialsFromRequest(c.Request), schemes)

		outcome := telemetry.OutcomeSuccess
		switch {
		case d.Err != nil:
			outcome = telemetry.OutcomeError
		case d.State != StateAuthenticated:
			outcome = telemetry.OutcomeRejected
		}
		telemetry.AuthAttemptsTotal.WithLabelValues(d.Method, outcome).Inc()

		if d.State != StateAuthenticated {
			if d.Err != nil {
				slog.Error("api key lookup failed", "request_id", RequestID(c), "error", d.Err)
			} else {
				slog.Debug("authentication rejected", "request_id", RequestID(c), "reason", string(d.Reason), "path", c.FullPath())
			}
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": auth.ErrNotAuthenticated.Detail})
			return
		}

		c.Set(IdentityKey, d.Identity)
		c.Next()
	}
}

// AuthMiddleware accepts a bearer token or an API key.
func AuthMiddleware(a *Authenticator) gin.HandlerFunc { return RequireAuth(a, SchemeAny) }

// TokenOnly accepts only a bearer token.
func TokenOnly(a *Authenticator) gin.HandlerFunc { return RequireAuth(a, SchemeToken) }

// APIKeyOnly accepts only an API key.
func APIKeyOnly(a *Authenticator) gin.HandlerFunc { return RequireAuth(a, SchemeAPIKey) }

// CurrentIdentity returns the identity resolved by the auth middleware.
func CurrentIdentity(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}
