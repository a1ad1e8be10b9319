// Package accounts implements the HTTP handlers for registration, login, API
// key management, user profiles and the authenticated probe endpoints.
//
// Every error response has the shape {"detail": "..."}. Validation failures
// additionally carry an "errors" array listing each violated rule. Errors
// outside the auth taxonomy are logged and returned as a generic 500 so that
// storage details never reach the client.
package accounts

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/taskhub/taskhub-api/internal/auth"
	"github.com/taskhub/taskhub-api/internal/db/models"
	"github.com/taskhub/taskhub-api/internal/middleware"
	"github.com/taskhub/taskhub-api/internal/services"
)

const internalErrorDetail = "internal server error"

// respondError writes err as a {"detail"} response and aborts the chain.
func respondError(c *gin.Context, err error) {
	status, ok := auth.HTTPStatus(err)
	if !ok {
		slog.Error("request failed",
			"request_id", middleware.RequestID(c),
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": internalErrorDetail})
		return
	}

	body := gin.H{"detail": detailOf(err)}
	var verr *auth.ValidationError
	if errors.As(err, &verr) {
		body["errors"] = verr.Problems
	}
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", "Bearer")
	}
	c.AbortWithStatusJSON(status, body)
}

// detailOf returns the client-facing message of a taxonomy error, ignoring
// any wrapping context added on the way up.
func detailOf(err error) string {
	var (
		verr      *auth.ValidationError
		conflict  *auth.ConflictError
		authErr   *auth.AuthenticationError
		forbidden *auth.ForbiddenError
		notFound  *auth.NotFoundError
	)
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case errors.As(err, &conflict):
		return conflict.Error()
	case errors.As(err, &authErr):
		return authErr.Error()
	case errors.As(err, &forbidden):
		return forbidden.Error()
	case errors.As(err, &notFound):
		return notFound.Error()
	}
	return auth.ErrNotAuthenticated.Detail
}

func invalidInput(problems ...string) error {
	return auth.NewValidationError(problems)
}

// pathID parses a positive integer path parameter.
func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id < 1 {
		return 0, invalidInput(fmt.Sprintf("%s must be a positive integer", name))
	}
	return id, nil
}

// callerID returns the authenticated user id, or writes a 401 when the route
// was mounted without the auth middleware.
func callerID(c *gin.Context) (int64, bool) {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		respondError(c, auth.ErrNotAuthenticated)
		return 0, false
	}
	return id.UserID, true
}

// currentUser loads the caller's profile. A credential whose owner has since
// been deleted is treated as no credential at all.
func currentUser(c *gin.Context, users *services.UserService) (*models.PublicUser, auth.Identity, bool) {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		respondError(c, auth.ErrNotAuthenticated)
		return nil, auth.Identity{}, false
	}
	user, err := users.Get(c.Request.Context(), id.UserID)
	if err != nil {
		var nf *auth.NotFoundError
		if errors.As(err, &nf) {
			err = auth.ErrNotAuthenticated
		}
		respondError(c, err)
		return nil, id, false
	}
	return user, id, true
}
