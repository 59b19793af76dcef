package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tripgate/booking-backend/internal/middleware"
	"github.com/tripgate/booking-backend/internal/models"
	"github.com/tripgate/booking-backend/internal/services"
	"github.com/tripgate/booking-backend/pkg/validator"
)

// BookingService is the booking flow the traveler endpoints drive
type BookingService interface {
	RequestBooking(ctx context.Context, accountID uuid.UUID, req *models.CreateBookingRequest) (*models.BookingSummary, error)
	CaptureFee(ctx context.Context, caller services.Caller, bookingID uuid.UUID, paymentMethodRef string) (*models.BookingSummary, error)
	CaptureFare(ctx context.Context, caller services.Caller, bookingID uuid.UUID, paymentMethodRef string) (*models.BookingSummary, error)
	CancelBooking(ctx context.Context, caller services.Caller, bookingID uuid.UUID, reason string) (*models.BookingSummary, error)
	GetBooking(ctx context.Context, caller services.Caller, bookingID uuid.UUID) (*models.BookingSummary, error)
}

// BookingOrchestratorHandler handles the traveler booking endpoints
type BookingOrchestratorHandler struct {
	bookings BookingService
	logger   *logrus.Logger
}

// NewBookingOrchestratorHandler creates a new BookingOrchestratorHandler
func NewBookingOrchestratorHandler(bookings BookingService, logger *logrus.Logger) *BookingOrchestratorHandler {
	return &BookingOrchestratorHandler{
		bookings: bookings,
		logger:   logger,
	}
}

// callerFrom builds the service caller from the authenticated user
func callerFrom(c *gin.Context) (services.Caller, bool) {
	userCtx, ok := middleware.GetUserContext(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Code:    "MISSING_USER_CONTEXT",
			Message: "Authentication is required.",
		})
		return services.Caller{}, false
	}
	return services.Caller{AccountID: userCtx.UserID, Staff: userCtx.IsStaff()}, true
}

// bookingID parses the :id path parameter
func bookingID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondBindError(c, "invalid booking id")
		return uuid.Nil, false
	}
	return id, true
}

// paymentStatusCode answers 202 while the gateway is still settling
func paymentStatusCode(summary *models.BookingSummary) int {
	if summary.PaymentStatus == string(models.PaymentStatusPending) {
		return http.StatusAccepted
	}
	return http.StatusOK
}

// ============================================================================
// REQUEST BOOKING - POST /api/v1/bookings
// ============================================================================

// CreateBooking confirms the offer's fare and stores a requested booking
func (h *BookingOrchestratorHandler) CreateBooking(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, validator.Describe(err))
		return
	}

	summary, err := h.bookings.RequestBooking(c.Request.Context(), caller.AccountID, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"booking_id":        summary.ID,
		"booking_reference": summary.BookingReference,
		"account_id":        caller.AccountID,
	}).Info("Booking requested")

	c.JSON(http.StatusCreated, summary)
}

// ============================================================================
// GET BOOKING - GET /api/v1/bookings/:id
// ============================================================================

// GetBooking returns the booking summary
func (h *BookingOrchestratorHandler) GetBooking(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	id, ok := bookingID(c)
	if !ok {
		return
	}

	summary, err := h.bookings.GetBooking(c.Request.Context(), caller, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ============================================================================
// PAY SERVICE FEE - POST /api/v1/bookings/:id/fee-payment
// ============================================================================

// PayServiceFee captures the service fee and places the GDS hold
func (h *BookingOrchestratorHandler) PayServiceFee(c *gin.Context) {
	h.pay(c, h.bookings.CaptureFee)
}

// ============================================================================
// PAY FARE - POST /api/v1/bookings/:id/fare-payment
// ============================================================================

// PayFare captures the airline fare and confirms the booking
func (h *BookingOrchestratorHandler) PayFare(c *gin.Context) {
	h.pay(c, h.bookings.CaptureFare)
}

type captureFunc func(ctx context.Context, caller services.Caller, bookingID uuid.UUID, paymentMethodRef string) (*models.BookingSummary, error)

func (h *BookingOrchestratorHandler) pay(c *gin.Context, capture captureFunc) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	id, ok := bookingID(c)
	if !ok {
		return
	}

	var req models.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, validator.Describe(err))
		return
	}

	summary, err := capture(c.Request.Context(), caller, id, req.PaymentMethodRef)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(paymentStatusCode(summary), summary)
}

// ============================================================================
// CANCEL - POST /api/v1/bookings/:id/cancel
// ============================================================================

// CancelBooking cancels the booking and refunds per the cancellation policy
func (h *BookingOrchestratorHandler) CancelBooking(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	id, ok := bookingID(c)
	if !ok {
		return
	}

	var req models.CancelBookingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, validator.Describe(err))
			return
		}
	}

	summary, err := h.bookings.CancelBooking(c.Request.Context(), caller, id, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
