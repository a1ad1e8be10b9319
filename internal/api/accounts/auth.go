package accounts

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/taskhub/taskhub-api/internal/services"
)

// AuthHandlers serves registration, login and API key management.
type AuthHandlers struct {
	users *services.UserService
	keys  *services.APIKeyService
}

// NewAuthHandlers creates a new AuthHandlers instance
func NewAuthHandlers(users *services.UserService, keys *services.APIKeyService) *AuthHandlers {
	return &AuthHandlers{users: users, keys: keys}
}

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginUser is the user summary embedded in a login response.
type LoginUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	User        LoginUser `json:"user"`
}

// GenerateAPIKeyRequest is the optional body of POST /api/auth/apikey/generate.
type GenerateAPIKeyRequest struct {
	Description *string `json:"description"`
}

// APIKeySummary is the listing view of a key. It never includes the key value.
type APIKeySummary struct {
	ID          int64      `json:"id"`
	KeyPrefix   string     `json:"key_prefix"`
	Description *string    `json:"description"`
	Revoked     bool       `json:"revoked"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at"`
}

// @Summary      Register
// @Description  Create a user account. The response never includes the password.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body  RegisterRequest  true  "New account"
// @Success      201  {object}  models.PublicUser
// @Failure      400  {object}  map[string]interface{}  "Validation failure or email/username already in use"
// @Router       /api/auth/register [post]
func (h *AuthHandlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, invalidInput("request body must be a JSON object"))
			return
		}

		user, err := h.users.Register(c.Request.Context(), services.RegisterInput{
			Username: req.Username,
			Email:    req.Email,
			Password: req.Password,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, user)
	}
}

// @Summary      Login
// @Description  Exchange an email and password for a short-lived bearer token.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body  LoginRequest  true  "Credentials"
// @Success      200  {object}  LoginResponse
// @Failure      401  {object}  map[string]interface{}  "incorrect email or password"
// @Router       /api/auth/login [post]
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, invalidInput("request body must be a JSON object"))
			return
		}

		res, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, LoginResponse{
			AccessToken: res.AccessToken,
			TokenType:   res.TokenType,
			User: LoginUser{
				ID:       res.User.ID,
				Username: res.User.Username,
				Email:    res.User.Email,
			},
		})
	}
}

// @Summary      Generate API key
// @Description  Create a long-lived API key for the caller. The key value is returned only in this response.
// @Tags         API Keys
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  GenerateAPIKeyRequest  false  "Optional description"
// @Success      201  {object}  services.GeneratedKey
// @Failure      401  {object}  map[string]interface{}  "not authenticated"
// @Router       /api/auth/apikey/generate [post]
func (h *AuthHandlers) GenerateAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := callerID(c)
		if !ok {
			return
		}

		var req GenerateAPIKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			respondError(c, invalidInput("request body must be a JSON object"))
			return
		}

		gen, err := h.keys.Generate(c.Request.Context(), userID, req.Description)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gen)
	}
}

// @Summary      List API keys
// @Description  List the caller's API keys, newest first. Only the display prefix of each key is shown.
// @Tags         API Keys
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "keys: []APIKeySummary"
// @Router       /api/auth/apikey [get]
func (h *AuthHandlers) ListAPIKeysHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := callerID(c)
		if !ok {
			return
		}

		keys, err := h.keys.List(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err)
			return
		}

		resp := make([]APIKeySummary, 0, len(keys))
		for _, k := range keys {
			resp = append(resp, APIKeySummary{
				ID:          k.ID,
				KeyPrefix:   k.KeyPrefix,
				Description: k.Description,
				Revoked:     k.Revoked,
				CreatedAt:   k.CreatedAt,
				LastUsedAt:  k.LastUsedAt,
			})
		}

		c.JSON(http.StatusOK, gin.H{"keys": resp})
	}
}

// @Summary      Revoke API key
// @Description  Permanently disable one of the caller's API keys. Revoking an already revoked key succeeds.
// @Tags         API Keys
// @Security     Bearer
// @Param        key_id  path  int  true  "API key ID"
// @Success      204
// @Failure      404  {object}  map[string]interface{}  "API key not found"
// @Router       /api/auth/apikey/revoke/{key_id} [post]
func (h *AuthHandlers) RevokeAPIKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := callerID(c)
		if !ok {
			return
		}

		keyID, err := pathID(c, "key_id")
		if err != nil {
			respondError(c, err)
			return
		}

		if err := h.keys.Revoke(c.Request.Context(), userID, keyID); err != nil {
			respondError(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}
