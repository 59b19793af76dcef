package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/tripgate/booking-backend/internal/middleware"
	"github.com/tripgate/booking-backend/pkg/jwt"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func traveler() *middleware.UserContext {
	return &middleware.UserContext{UserID: uuid.New(), Email: "ada@example.com", Roles: []string{jwt.RoleTraveler}}
}

func agent() *middleware.UserContext {
	return &middleware.UserContext{UserID: uuid.New(), Email: "agent@example.com", Roles: []string{jwt.RoleAgent}}
}

// setupTestRouter returns a router that authenticates every request as user.
// A nil user leaves the request anonymous.
func setupTestRouter(t *testing.T, user *middleware.UserContext) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, RegisterValidators())

	router := gin.New()
	router.Use(func(c *gin.Context) {
		if user != nil {
			c.Set(middleware.UserContextKey, *user)
		}
		c.Next()
	})
	return router
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewBuffer(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}
