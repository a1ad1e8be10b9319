// Package api wires together all HTTP routes for the taskhub API.
//
// Route grouping:
//   - /health and /ready are unauthenticated probes.
//   - /api/auth/register and /api/auth/login are public.
//   - /api/auth/apikey/* manages the caller's API keys and accepts only a
//     bearer token, so a leaked key cannot mint or revoke other keys.
//   - /api/users/* and /api/protected accept either credential scheme, except
//     the single-scheme probes under /api/protected.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/taskhub/taskhub-api/internal/api/accounts"
	"github.com/taskhub/taskhub-api/internal/auth"
	"github.com/taskhub/taskhub-api/internal/config"
	"github.com/taskhub/taskhub-api/internal/middleware"
	"github.com/taskhub/taskhub-api/internal/services"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// UserStore is the user persistence the router needs, including health checks.
type UserStore interface {
	services.UserStore
	Pinger
}

// Stores are the persistence backends behind the router.
// cmd/server passes the Postgres repositories; tests pass memstore.
type Stores struct {
	Users   UserStore
	APIKeys services.APIKeyStore
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, stores Stores) (*gin.Engine, error) {
	hasher, err := auth.NewPasswordHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to create password hasher: %w", err)
	}
	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.Issuer,
		Lifetime: cfg.Auth.TokenLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}

	userService := services.NewUserService(stores.Users, hasher, tokens)
	keyService := services.NewAPIKeyService(stores.APIKeys, cfg.Auth.APIKeys.Prefix)
	authenticator := middleware.NewAuthenticator(tokens, keyService)

	authHandlers := accounts.NewAuthHandlers(userService, keyService)
	userHandlers := accounts.NewUserHandlers(userService)
	protectedHandlers := accounts.NewProtectedHandlers(userService)

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))

	router.GET("/health", healthCheckHandler(stores.Users))
	router.GET("/ready", readinessHandler(stores.Users))

	apiGroup := router.Group("/api")

	authGroup := apiGroup.Group("/auth")
	{
		authGroup.POST("/register", authHandlers.RegisterHandler())
		authGroup.POST("/login", authHandlers.LoginHandler())

		keys := authGroup.Group("/apikey", middleware.TokenOnly(authenticator))
		keys.GET("", authHandlers.ListAPIKeysHandler())
		keys.POST("/generate", authHandlers.GenerateAPIKeyHandler())
		keys.POST("/revoke/:key_id", authHandlers.RevokeAPIKeyHandler())
	}

	users := apiGroup.Group("/users", middleware.AuthMiddleware(authenticator))
	{
		users.GET("", userHandlers.ListUsersHandler())
		users.GET("/me", userHandlers.GetCurrentUserHandler())
		users.GET("/:id", userHandlers.GetUserHandler())
		users.PUT("/:id", userHandlers.UpdateUserHandler())
		users.DELETE("/:id", userHandlers.DeleteUserHandler())
	}

	protected := apiGroup.Group("/protected")
	{
		protected.GET("", middleware.AuthMiddleware(authenticator), protectedHandlers.AnyHandler())
		protected.GET("/jwt-only", middleware.TokenOnly(authenticator), protectedHandlers.JWTOnlyHandler())
		protected.GET("/api-key-only", middleware.APIKeyOnly(authenticator), protectedHandlers.APIKeyOnlyHandler())
	}

	return router, nil
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy"
// @Router       /health [get]
func healthCheckHandler(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(c.Request.Context()); err != nil {
			slog.Warn("health check: database ping failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unavailable",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"database": "connected",
			"time":     time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true"
// @Failure      503  {object}  map[string]interface{}  "ready: false"
// @Router       /ready [get]
func readinessHandler(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": gin.H{"database": "unhealthy"},
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": gin.H{"database": "healthy"},
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// LoggerMiddleware logs one structured record per request. The output
// format follows the handler installed by telemetry.SetupLogger.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		level := slog.LevelInfo
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}

		slog.LogAttrs(
			c.Request.Context(),
			level,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", middleware.RequestID(c)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := "GET, POST, PUT, DELETE, OPTIONS"
	if len(cfg.Security.CORS.AllowedMethods) > 0 {
		methods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		wildcard := false
		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" {
				wildcard = true
				allowed = true
				break
			}
			if allowedOrigin == origin {
				allowed = true
			}
		}

		if allowed && origin != "" {
			if wildcard {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-API-Key, X-Request-ID")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
