package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripgate/booking-backend/pkg/jwt"
)

type stubRevocations struct {
	revoked map[string]bool
	err     error
}

func (s *stubRevocations) IsRevoked(_ context.Context, jti string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.revoked[jti], nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupTestJWTService() *jwt.Service {
	return jwt.NewService(
		"test-access-secret-key-123456789",
		"test-refresh-secret-key-123456789",
		time.Hour,
		24*time.Hour,
	)
}

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func protectedRouter(jwtService *jwt.Service, revocations RevocationChecker) *gin.Engine {
	router := setupTestRouter()
	router.GET("/protected", AuthMiddleware(jwtService, revocations, testLogger()), func(c *gin.Context) {
		userCtx, _ := GetUserContext(c)
		c.JSON(http.StatusOK, gin.H{
			"user_id": userCtx.UserID,
			"email":   userCtx.Email,
			"staff":   userCtx.IsStaff(),
		})
	})
	return router
}

func doGet(router *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	code, _ := body["code"].(string)
	return code
}

func TestAuthMiddleware_Success(t *testing.T) {
	jwtService := setupTestJWTService()
	router := protectedRouter(jwtService, &stubRevocations{})

	userID := uuid.New()
	token, err := jwtService.GenerateAccessToken(userID, "ada@example.com", []string{jwt.RoleTraveler})
	require.NoError(t, err)

	w := doGet(router, "Bearer "+token)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), userID.String())
	assert.Contains(t, w.Body.String(), `"staff":false`)
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	jwtService := setupTestJWTService()
	router := protectedRouter(jwtService, &stubRevocations{})

	refresh, err := jwtService.GenerateRefreshToken(uuid.New(), "ada@example.com")
	require.NoError(t, err)

	expiredService := jwt.NewService("test-access-secret-key-123456789", "test-refresh-secret-key-123456789", -time.Minute, time.Hour)
	expired, err := expiredService.GenerateAccessToken(uuid.New(), "ada@example.com", nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"missing header", "", "MISSING_AUTH_HEADER"},
		{"wrong scheme", "Basic abc", "INVALID_AUTH_FORMAT"},
		{"empty token", "Bearer   ", "INVALID_AUTH_FORMAT"},
		{"garbage token", "Bearer not.a.token", "INVALID_TOKEN"},
		{"refresh token", "Bearer " + refresh, "INVALID_TOKEN"},
		{"expired token", "Bearer " + expired, "TOKEN_EXPIRED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doGet(router, tt.header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}
}

func TestAuthMiddleware_RevokedToken(t *testing.T) {
	jwtService := setupTestJWTService()
	token, err := jwtService.GenerateAccessToken(uuid.New(), "ada@example.com", nil)
	require.NoError(t, err)
	claims, err := jwtService.ValidateAccessToken(token)
	require.NoError(t, err)

	router := protectedRouter(jwtService, &stubRevocations{revoked: map[string]bool{claims.ID: true}})
	w := doGet(router, "Bearer "+token)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "TOKEN_REVOKED", errorCode(t, w))
}

func TestAuthMiddleware_RevocationStoreDown(t *testing.T) {
	jwtService := setupTestJWTService()
	token, err := jwtService.GenerateAccessToken(uuid.New(), "ada@example.com", nil)
	require.NoError(t, err)

	router := protectedRouter(jwtService, &stubRevocations{err: errors.New("redis: connection refused")})
	w := doGet(router, "Bearer "+token)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "AUTH_UNAVAILABLE", errorCode(t, w))
}

func TestRequireRole(t *testing.T) {
	jwtService := setupTestJWTService()
	router := setupTestRouter()
	router.GET("/admin", AuthMiddleware(jwtService, nil, testLogger()), RequireRole(jwt.RoleAgent, jwt.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	router.GET("/no-auth", RequireRole(jwt.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	request := func(path string, roles []string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if roles != nil {
			token, err := jwtService.GenerateAccessToken(uuid.New(), "staff@example.com", roles)
			require.NoError(t, err)
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusNoContent, request("/admin", []string{jwt.RoleAgent}).Code)
	assert.Equal(t, http.StatusNoContent, request("/admin", []string{jwt.RoleTraveler, jwt.RoleAdmin}).Code)

	w := request("/admin", []string{jwt.RoleTraveler})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "INSUFFICIENT_PERMISSIONS", errorCode(t, w))

	w = request("/no-auth", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "MISSING_USER_CONTEXT", errorCode(t, w))
}

func TestUserContext_IsStaff(t *testing.T) {
	assert.True(t, UserContext{Roles: []string{jwt.RoleAgent}}.IsStaff())
	assert.True(t, UserContext{Roles: []string{jwt.RoleAdmin}}.IsStaff())
	assert.False(t, UserContext{Roles: []string{jwt.RoleTraveler}}.IsStaff())
	assert.False(t, UserContext{}.IsStaff())
}
