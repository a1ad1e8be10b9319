package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/taskhub/taskhub-api/internal/config"
	"github.com/taskhub/taskhub-api/internal/testutil/memstore"
	"github.com/taskhub/taskhub-api/internal/db/models"
	"github.com/taskhub/taskhub-api/internal/db/repositories"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// Test setup helpers
// ---------------------------------------------------------------------------

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8000},
		Auth: config.AuthConfig{
			JWTSecret:     "0123456789abcdef0123456789abcdef",
			Issuer:        "taskhub-test",
			TokenLifetime: 30 * time.Minute,
			BcryptCost:    bcrypt.MinCost,
			APIKeys:       config.APIKeysConfig{Prefix: "thk"},
		},
		Security: config.SecurityConfig{
			CORS: config.CORSConfig{AllowedOrigins: []string{"https://app.example.com"}},
		},
		Logging: config.LoggingConfig{Level: "info", Format: "json"},
	}
}

func newTestRouter(t *testing.T) (*gin.Engine, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	r, err := NewRouter(testConfig(), Stores{Users: store.Users(), APIKeys: store.APIKeys()})
	require.NoError(t, err)
	return r, store
}

type headers map[string]string

func bearer(token string) headers { return headers{"Authorization": "Bearer " + token} }
func apiKey(key string) headers   { return headers{"X-API-Key": key} }

func do(r *gin.Engine, method, path string, body any, h headers) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range h {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), "body: %s", w.Body.String())
	return body
}

func registerUser(t *testing.T, r *gin.Engine, username, email string) int64 {
	t.Helper()
	w := do(r, http.MethodPost, "/api/auth/register", gin.H{"username": username, "email": email, "password": "Secret123"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return int64(decode(t, w)["id"].(float64))
}

func login(t *testing.T, r *gin.Engine, email string) string {
	t.Helper()
	w := do(r, http.MethodPost, "/api/auth/login", gin.H{"email": email, "password": "Secret123"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode(t, w)["access_token"].(string)
}

func generateKey(t *testing.T, r *gin.Engine, token string) (int64, string) {
	t.Helper()
	w := do(r, http.MethodPost, "/api/auth/apikey/generate", gin.H{"description": "ci"}, bearer(token))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	return int64(body["id"].(float64)), body["key_value"].(string)
}

// ---------------------------------------------------------------------------
// End-to-end scenarios
// ---------------------------------------------------------------------------

func TestScenario_RegisterLoginKeyLifecycle(t *testing.T) {
	r, _ := newTestRouter(t)

	// 1. register
	w := do(r, http.MethodPost, "/api/auth/register", gin.H{
		"username": "alice", "email": "alice@example.com", "password": "Secret123",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, "alice@example.com", body["email"])
	assert.NotContains(t, body, "password")
	assert.NotContains(t, body, "password_hash")
	assert.NotContains(t, w.Body.String(), "Secret123")

	// 2. duplicate email
	w = do(r, http.MethodPost, "/api/auth/register", gin.H{
		"username": "alice2", "email": "alice@example.com", "password": "Secret123",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"detail":"Email already registered"}`, w.Body.String())

	// 3. login
	w = do(r, http.MethodPost, "/api/auth/login", gin.H{"email": "alice@example.com", "password": "Secret123"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, "bearer", body["token_type"])
	token, _ := body["access_token"].(string)
	require.NotEmpty(t, token)
	user := body["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])

	// 4. wrong password
	w = do(r, http.MethodPost, "/api/auth/login", gin.H{"email": "alice@example.com", "password": "Wrong1234"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"detail":"incorrect email or password"}`, w.Body.String())

	// 5. generate a key and use it
	keyID, keyValue := generateKey(t, r, token)
	require.NotEmpty(t, keyValue)
	w = do(r, http.MethodGet, "/api/protected", nil, apiKey(keyValue))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "API key", decode(t, w)["auth_method"])

	// 6. revoke and reuse
	w = do(r, http.MethodPost, fmt.Sprintf("/api/auth/apikey/revoke/%d", keyID), nil, bearer(token))
	require.Equal(t, http.StatusNoContent, w.Code)
	w = do(r, http.MethodGet, "/api/protected", nil, apiKey(keyValue))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"detail":"not authenticated"}`, w.Body.String())
}

func TestLogin_UnknownEmailMatchesWrongPassword(t *testing.T) {
	r, _ := newTestRouter(t)
	registerUser(t, r, "alice", "alice@example.com")

	wrong := do(r, http.MethodPost, "/api/auth/login", gin.H{"email": "alice@example.com", "password": "Wrong1234"}, nil)
	unknown := do(r, http.MethodPost, "/api/auth/login", gin.H{"email": "ghost@example.com", "password": "Wrong1234"}, nil)

	assert.Equal(t, wrong.Code, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
	assert.Equal(t, "Bearer", unknown.Header().Get("WWW-Authenticate"))
}

func TestRegister_ValidationErrors(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/auth/register", gin.H{"username": "al", "email": "nope", "password": "short"}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	problems, ok := body["errors"].([]any)
	require.True(t, ok, "errors array missing: %v", body)
	assert.GreaterOrEqual(t, len(problems), 3)
	assert.NotEmpty(t, body["detail"])

	w = do(r, http.MethodPost, "/api/auth/register", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegister_DuplicateUsername(t *testing.T) {
	r, _ := newTestRouter(t)
	registerUser(t, r, "alice", "alice@example.com")

	w := do(r, http.MethodPost, "/api/auth/register", gin.H{"username": "alice", "email": "other@example.com", "password": "Secret123"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"detail":"Username already taken"}`, w.Body.String())
}

func TestRegister_RejectsValuesTheSchemaCannotStore(t *testing.T) {
	r, _ := newTestRouter(t)

	longEmail := strings.Repeat("a", 60) + "@" + strings.Repeat("b", 300) + ".com"
	tests := []struct {
		name     string
		username string
		email    string
	}{
		{"email over 254 chars", "alice", longEmail},
		{"nul byte in username", "ali\x00ce", "alice@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/api/auth/register", gin.H{"username": tt.username, "email": tt.email, "password": "Secret123"}, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Contains(t, decode(t, w), "errors")
		})
	}
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

func TestAPIKeyEndpoints_RequireToken(t *testing.T) {
	r, _ := newTestRouter(t)
	registerUser(t, r, "alice", "alice@example.com")
	token := login(t, r, "alice@example.com")
	_, keyValue := generateKey(t, r, token)

	w := do(r, http.MethodPost, "/api/auth/apikey/generate", nil, apiKey(keyValue))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/api/auth/apikey/generate", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
}

func TestAPIKeyGenerate_EmptyBody(t *testing.T) {
	r, _ := newTestRouter(t)
	registerUser(t, r, "alice", "alice@example.com")
	token := login(t, r, "alice@example.com")

	w := do(r, http.MethodPost, "/api/auth/apikey/generate", nil, bearer(token))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Nil(t, body["description"])
	assert.NotEmpty(t, body["key_value"])
	assert.NotEmpty(t, body["created_at"])
}

func TestAPIKeyList_ShowsPrefixOnly(t *testing.T) {
	r, _ := newTestRouter(t)
	registerUser(t, r, "alice", "alice@example.com")
	token := login(t, r, "alice@example.com")
	_, keyValue := generateKey(t, r, token)

	w := do(r, http.MethodGet, "/api/auth/apikey", nil, bearer(token))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), keyValue)

	keys := decode(t, w)["keys"].([]any)
	require.Len(t, keys, 1)
	entry := keys[0].(map[string]any)
	assert.Equal(t, keyValue[:12], entry["key_prefix"])
	assert.Equal(t, "ci", entry["description"])
	assert.Equal(t, false, entry["revoked"])
}

func TestAPIKeyRevoke_NotOwned(t *testing.T) {
	r, _ := newTestRouter(t)
	registerUser(t, r, "alice", "alice@example.com")
	registerUser(t, r, "bobby", "bob@example.com")
	aliceToken := login(t, r, "alice@example.com")
	bobToken := login(t, r, "bob@example.com")
	keyID, keyValue := generateKey(t, r, aliceToken)

	w := do(r, http.MethodPost, fmt.Sprintf("/api/auth/apikey/revoke/%d", keyID), nil, bearer(bobToken))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"detail":"API key not found"}`, w.Body.String())

	w = do(r, http.MethodGet, "/api/protected", nil, apiKey(keyValue))
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, "/api/auth/apikey/revoke/abc", nil, bearer(aliceToken))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Revoking twice succeeds.
	for i := 0; i < 2; i++ {
		w = do(r, http.MethodPost, fmt.Sprintf("/api/auth/apikey/revoke/%d", keyID), nil, bearer(aliceToken))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}

// ---------------------------------------------------------------------------
// Authentication precedence and probes
// ---------------------------------------------------------------------------

func TestProtectedProbes(t *testing.T) {
	r, _ := newTestRouter(t)
	userID := registerUser(t, r, "alice", "alice@example.com")
	token := login(t, r, "alice@example.com")
	_, keyValue := generateKey(t, r, token)

	tests := []struct {
		name       string
		path       string
		h          headers
		wantStatus int
		wantMethod string
	}{
		{"any with token", "/api/protected", bearer(token), http.StatusOK, "JWT token"},
		{"any with key", "/api/protected", apiKey(keyValue), http.StatusOK, "API key"},
		{"any with nothing", "/api/protected", nil, http.StatusUnauthorized, ""},
		{"any with bad token falls back to key", "/api/protected", headers{"Authorization": "Bearer junk", "X-API-Key": keyValue}, http.StatusOK, "API key"},
		{"token wins over key", "/api/protected", headers{"Authorization": "Bearer " + token, "X-API-Key": "thk_bogus"}, http.StatusOK, "JWT token"},
		{"jwt-only with token", "/api/protected/jwt-only", bearer(token), http.StatusOK, "JWT token"},
		{"jwt-only with key", "/api/protected/jwt-only", apiKey(keyValue), http.StatusUnauthorized, ""},
		{"api-key-only with key", "/api/protected/api-key-only", apiKey(keyValue), http.StatusOK, "API key"},
		{"api-key-only with token", "/api/protected/api-key-only", bearer(token), http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, tt.path, nil, tt.h)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus != http.StatusOK {
				assert.JSONEq(t, `{"detail":"not authenticated"}`, w.Body.String())
				return
			}
			body := decode(t, w)
			assert.Equal(t, tt.wantMethod, body["auth_method"])
			assert.Equal(t, float64(userID), body["user_id"])
			assert.Equal(t, "alice", body["username"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func TestUsers_ListAndGet(t *testing.T) {
	r, _ := newTestRouter(t)
	aliceID := registerUser(t, r, "alice", "alice@example.com")
	registerUser(t, r, "bobby", "bob@example.com")
	registerUser(t, r, "carol", "carol@example.com")
	token := login(t, r, "alice@example.com")

	w := do(r, http.MethodGet, "/api/users?skip=1&limit=1", nil, bearer(token))
	require.Equal(t, http.StatusOK, w.Code)
	var page []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page, 1)
	assert.Equal(t, "bobby", page[0]["username"])

	for _, q := range []string{"limit=0", "limit=101", "skip=-1", "limit=abc"} {
		w = do(r, http.MethodGet, "/api/users?"+q, nil, bearer(token))
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}

	w = do(r, http.MethodGet, "/api/users", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/api/users/me", nil, bearer(token))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(aliceID), decode(t, w)["id"])

	w = do(r, http.MethodGet, "/api/users/999", nil, bearer(token))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"detail":"User with ID 999 not found"}`, w.Body.String())
}

func TestUsers_UpdateOwnership(t *testing.T) {
	r, _ := newTestRouter(t)
	aliceID := registerUser(t, r, "alice", "alice@example.com")
	bobID := registerUser(t, r, "bobby", "bob@example.com")
	token := login(t, r, "alice@example.com")

	w := do(r, http.MethodPut, fmt.Sprintf("/api/users/%d", bobID), gin.H{"username": "hijack"}, bearer(token))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"detail":"Not authorized to update this user"}`, w.Body.String())

	w = do(r, http.MethodPut, "/api/users/999", gin.H{"username": "ghost"}, bearer(token))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPut, fmt.Sprintf("/api/users/%d", aliceID), gin.H{"email": "bob@example.com"}, bearer(token))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"detail":"Email already registered"}`, w.Body.String())

	w = do(r, http.MethodPut, fmt.Sprintf("/api/users/%d", aliceID), gin.H{"username": "alice2", "password": "N3wPassword"}, bearer(token))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "alice2", decode(t, w)["username"])

	w = do(r, http.MethodPost, "/api/auth/login", gin.H{"email": "alice@example.com", "password": "N3wPassword"}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUsers_DeleteDisablesCredentials(t *testing.T) {
	r, _ := newTestRouter(t)
	aliceID := registerUser(t, r, "alice", "alice@example.com")
	bobID := registerUser(t, r, "bobby", "bob@example.com")
	token := login(t, r, "alice@example.com")
	_, keyValue := generateKey(t, r, token)

	w := do(r, http.MethodDelete, fmt.Sprintf("/api/users/%d", bobID), nil, bearer(token))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"detail":"Not authorized to delete this user"}`, w.Body.String())

	w = do(r, http.MethodDelete, fmt.Sprintf("/api/users/%d", aliceID), nil, bearer(token))
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(r, http.MethodGet, "/api/protected", nil, apiKey(keyValue))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// The token is still correctly signed, but it now names no one.
	w = do(r, http.MethodGet, "/api/users/me", nil, bearer(token))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/api/auth/apikey/generate", nil, bearer(token))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"detail":"not authenticated"}`, w.Body.String())
	assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
}

// ---------------------------------------------------------------------------
// Error handling
// ---------------------------------------------------------------------------

// brokenUsers fails every email lookup as if the database were down.
type brokenUsers struct {
	*memstore.Users
}

func (brokenUsers) GetByEmail(context.Context, string) (*models.User, error) {
	return nil, errors.New("dial tcp 10.0.0.5:5432: connection refused")
}

func TestUnexpectedErrorsAreGeneric(t *testing.T) {
	store := memstore.New()
	r, err := NewRouter(testConfig(), Stores{Users: brokenUsers{store.Users()}, APIKeys: store.APIKeys()})
	require.NoError(t, err)

	w := do(r, http.MethodPost, "/api/auth/login", gin.H{"email": "alice@example.com", "password": "Secret123"}, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"detail":"internal server error"}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "10.0.0.5")
}

func TestNewRouter_InvalidConfig(t *testing.T) {
	store := memstore.New()
	cfg := testConfig()
	cfg.Auth.JWTSecret = ""
	_, err := NewRouter(cfg, Stores{Users: store.Users(), APIKeys: store.APIKeys()})
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Middleware chain
// ---------------------------------------------------------------------------

func TestSecurityHeadersOnRejection(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodGet, "/api/protected", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestCORS(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodOptions, "/api/auth/login", nil, headers{"Origin": "https://app.example.com"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")

	w = do(r, http.MethodOptions, "/api/auth/login", nil, headers{"Origin": "https://evil.example.com"})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

// ---------------------------------------------------------------------------
// healthCheckHandler / readinessHandler
// ---------------------------------------------------------------------------

func newHealthRepo(t *testing.T, pingOK bool) *repositories.UserRepository {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if pingOK {
		mock.ExpectPing()
	} else {
		mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	}
	return repositories.NewUserRepository(sqlx.NewDb(db, "sqlmock"))
}

func TestHealthCheckHandler(t *testing.T) {
	tests := []struct {
		name       string
		pingOK     bool
		wantStatus int
		wantField  string
	}{
		{"healthy", true, http.StatusOK, "healthy"},
		{"unhealthy", false, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/health", healthCheckHandler(newHealthRepo(t, tt.pingOK)))

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantField, decode(t, w)["status"])
		})
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		pingOK     bool
		wantStatus int
		wantReady  bool
	}{
		{"ready", true, http.StatusOK, true},
		{"not ready", false, http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/ready", readinessHandler(newHealthRepo(t, tt.pingOK)))

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantReady, decode(t, w)["ready"])
		})
	}
}
