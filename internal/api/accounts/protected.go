package accounts

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/taskhub/taskhub-api/internal/auth"
	"github.com/taskhub/taskhub-api/internal/services"
)

// ProtectedHandlers serves probe endpoints that only echo the caller back.
// Mount them behind AuthMiddleware, TokenOnly or APIKeyOnly.
type ProtectedHandlers struct {
	users *services.UserService
}

// NewProtectedHandlers creates a new ProtectedHandlers instance
func NewProtectedHandlers(users *services.UserService) *ProtectedHandlers {
	return &ProtectedHandlers{users: users}
}

// ProbeResponse describes who the caller authenticated as.
type ProbeResponse struct {
	Message    string `json:"message"`
	UserID     int64  `json:"user_id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	AuthMethod string `json:"auth_method"`
}

var authMethodLabels = map[string]string{
	auth.MethodJWT:    "JWT token",
	auth.MethodAPIKey: "API key",
}

// @Summary      Protected probe
// @Description  Accepts a bearer token or an API key.
// @Tags         Protected
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  ProbeResponse
// @Failure      401  {object}  map[string]interface{}  "not authenticated"
// @Router       /api/protected [get]
func (h *ProtectedHandlers) AnyHandler() gin.HandlerFunc {
	return h.probe("You have access to this protected endpoint")
}

// @Summary      JWT-only probe
// @Tags         Protected
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  ProbeResponse
// @Router       /api/protected/jwt-only [get]
func (h *ProtectedHandlers) JWTOnlyHandler() gin.HandlerFunc {
	return h.probe("You have access to this JWT-only protected endpoint")
}

// @Summary      API-key-only probe
// @Tags         Protected
// @Produce      json
// @Success      200  {object}  ProbeResponse
// @Router       /api/protected/api-key-only [get]
func (h *ProtectedHandlers) APIKeyOnlyHandler() gin.HandlerFunc {
	return h.probe("You have access to this API key-only protected endpoint")
}

func (h *ProtectedHandlers) probe(message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, id, ok := currentUser(c, h.users)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, ProbeResponse{
			Message:    message,
			UserID:     user.ID,
			Username:   user.Username,
			Email:      user.Email,
			AuthMethod: authMethodLabels[id.Method],
		})
	}
}
