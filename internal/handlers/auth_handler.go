package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tripgate/booking-backend/internal/middleware"
	"github.com/tripgate/booking-backend/internal/utils"
)

// TokenRevoker blocks an access token id until it expires
type TokenRevoker interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
}

// LogoutAuditor records logouts
type LogoutAuditor interface {
	LogLogout(ctx context.Context, userID uuid.UUID, ipAddress, userAgent string) error
}

// AuthHandler handles session endpoints. Token issuance lives in the
// identity service; this API only revokes.
type AuthHandler struct {
	revoker TokenRevoker
	audit   LogoutAuditor
	logger  *logrus.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(revoker TokenRevoker, audit LogoutAuditor, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{
		revoker: revoker,
		audit:   audit,
		logger:  logger,
	}
}

// Logout handles POST /api/v1/auth/logout by revoking the presented token
func (h *AuthHandler) Logout(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Code:    "MISSING_USER_CONTEXT",
			Message: "User context not found",
		})
		return
	}

	clientIP := utils.GetRealIP(c)
	userAgent := utils.GetUserAgent(c)

	if err := h.revoker.Revoke(c.Request.Context(), userCtx.TokenID, userCtx.ExpiresAt); err != nil {
		h.logger.WithError(err).WithField("user_id", userCtx.UserID).Error("Failed to revoke token")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "logout_failed",
			Code:    "LOGOUT_FAILED",
			Message: "Please try again shortly.",
		})
		return
	}

	if h.audit != nil {
		if err := h.audit.LogLogout(c.Request.Context(), userCtx.UserID, clientIP, userAgent); err != nil {
			h.logger.WithError(err).Warn("AUDIT ERROR [LogLogout]")
		}
	}

	h.logger.WithFields(logrus.Fields{
		"user_id": userCtx.UserID,
		"ip":      clientIP,
	}).Info("User logged out")

	c.JSON(http.StatusOK, gin.H{"message": "Successfully logged out"})
}
