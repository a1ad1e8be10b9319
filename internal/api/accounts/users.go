package accounts

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/taskhub/taskhub-api/internal/auth"
	"github.com/taskhub/taskhub-api/internal/services"
)

const (
	defaultListLimit = 100
	maxListLimit     = 100
)

// UserHandlers serves the /api/users endpoints.
type UserHandlers struct {
	users *services.UserService
}

// NewUserHandlers creates a new UserHandlers instance
func NewUserHandlers(users *services.UserService) *UserHandlers {
	return &UserHandlers{users: users}
}

// UpdateUserRequest is the body of PUT /api/users/{id}. Omitted fields are unchanged.
type UpdateUserRequest struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
}

// @Summary      List users
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Param        skip   query  int  false  "Number of users to skip"  default(0)
// @Param        limit  query  int  false  "Maximum users to return (1-100)"  default(100)
// @Success      200  {array}  models.PublicUser
// @Failure      400  {object}  map[string]interface{}  "Invalid pagination"
// @Router       /api/users [get]
func (h *UserHandlers) ListUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var problems []string

		skip, err := strconv.Atoi(c.DefaultQuery("skip", "0"))
		if err != nil || skip < 0 {
			problems = append(problems, "skip must be a non-negative integer")
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
		if err != nil || limit < 1 || limit > maxListLimit {
			problems = append(problems, "limit must be between 1 and 100")
		}
		if len(problems) > 0 {
			respondError(c, invalidInput(problems...))
			return
		}

		users, err := h.users.List(c.Request.Context(), limit, skip)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, users)
	}
}

// @Summary      Current user
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  models.PublicUser
// @Router       /api/users/me [get]
func (h *UserHandlers) GetCurrentUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, _, ok := currentUser(c, h.users)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

// @Summary      Get user
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Param        id  path  int  true  "User ID"
// @Success      200  {object}  models.PublicUser
// @Failure      404  {object}  map[string]interface{}  "User not found"
// @Router       /api/users/{id} [get]
func (h *UserHandlers) GetUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}

		user, err := h.users.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, user)
	}
}

// @Summary      Update user
// @Description  Update the caller's own profile. Only supplied fields change; a new password is re-hashed.
// @Tags         Users
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  int                true  "User ID"
// @Param        body  body  UpdateUserRequest  true  "Fields to change"
// @Success      200  {object}  models.PublicUser
// @Failure      400  {object}  map[string]interface{}  "Validation failure or conflict"
// @Failure      403  {object}  map[string]interface{}  "Not authorized to update this user"
// @Failure      404  {object}  map[string]interface{}  "User not found"
// @Router       /api/users/{id} [put]
func (h *UserHandlers) UpdateUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := h.ownedTarget(c, "Not authorized to update this user")
		if !ok {
			return
		}

		var req UpdateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, invalidInput("request body must be a JSON object"))
			return
		}

		user, err := h.users.Update(c.Request.Context(), id, services.UpdateInput{
			Username: req.Username,
			Email:    req.Email,
			Password: req.Password,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, user)
	}
}

// @Summary      Delete user
// @Description  Delete the caller's own account. Every API key it owns stops working immediately.
// @Tags         Users
// @Security     Bearer
// @Param        id  path  int  true  "User ID"
// @Success      204
// @Failure      403  {object}  map[string]interface{}  "Not authorized to delete this user"
// @Failure      404  {object}  map[string]interface{}  "User not found"
// @Router       /api/users/{id} [delete]
func (h *UserHandlers) DeleteUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := h.ownedTarget(c, "Not authorized to delete this user")
		if !ok {
			return
		}

		if err := h.users.Delete(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// ownedTarget resolves the {id} path parameter, answers 404 when the user
// does not exist and 403 when the caller is someone else.
func (h *UserHandlers) ownedTarget(c *gin.Context, forbidden string) (int64, bool) {
	caller, ok := callerID(c)
	if !ok {
		return 0, false
	}

	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return 0, false
	}

	if _, err := h.users.Get(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return 0, false
	}

	if err := auth.RequireOwner(id, caller); err != nil {
		respondError(c, &auth.ForbiddenError{Detail: forbidden})
		return 0, false
	}

	return id, true
}
