package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tripgate/booking-backend/internal/middleware"
	"github.com/tripgate/booking-backend/internal/models"
	"github.com/tripgate/booking-backend/internal/services"
	"github.com/tripgate/booking-backend/pkg/validator"
)

const (
	defaultQueueLimit = 100
	maxQueueLimit     = 500
)

// BookingOperations are the agent/admin booking actions
type BookingOperations interface {
	RecordTicketing(ctx context.Context, bookingID uuid.UUID, ticketNumbers []string) (*models.BookingSummary, error)
	ListReconciliationQueue(ctx context.Context, limit int) (*models.ReconciliationQueue, error)
}

// SweepRunner runs the reconciliation sweep on demand and reports jobs
type SweepRunner interface {
	RunReconciliationNow(ctx context.Context) (services.SweepReport, error)
	GetJobStatus() map[string]interface{}
}

// BookingEventReader reads a booking's audit trail
type BookingEventReader interface {
	GetBookingEvents(ctx context.Context, bookingID uuid.UUID, limit int) ([]services.AuditRecord, error)
}

// AdminHandler handles operator endpoints
type AdminHandler struct {
	bookings BookingOperations
	sweeper  SweepRunner
	events   BookingEventReader
	logger   *logrus.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(bookings BookingOperations, sweeper SweepRunner, events BookingEventReader, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		bookings: bookings,
		sweeper:  sweeper,
		events:   events,
		logger:   logger,
	}
}

// queryLimit reads ?limit= within [1, maxQueueLimit]
func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultQueueLimit)))
	if err != nil || limit <= 0 {
		return defaultQueueLimit
	}
	if limit > maxQueueLimit {
		return maxQueueLimit
	}
	return limit
}

// RecordTicketing handles POST /api/v1/admin/bookings/:id/ticketing
func (h *AdminHandler) RecordTicketing(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}

	var req models.RecordTicketingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, validator.Describe(err))
		return
	}

	summary, err := h.bookings.RecordTicketing(c.Request.Context(), id, req.TicketNumbers)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	userCtx, _ := middleware.GetUserContext(c)
	h.logger.WithFields(logrus.Fields{
		"booking_id": id,
		"tickets":    len(req.TicketNumbers),
		"staff_id":   userCtx.UserID,
	}).Info("Ticketing recorded by staff")

	c.JSON(http.StatusOK, summary)
}

// ReconciliationQueue handles GET /api/v1/admin/reconciliation
func (h *AdminHandler) ReconciliationQueue(c *gin.Context) {
	queue, err := h.bookings.ListReconciliationQueue(c.Request.Context(), queryLimit(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, queue)
}

// RunReconciliation handles POST /api/v1/admin/reconciliation/run
func (h *AdminHandler) RunReconciliation(c *gin.Context) {
	report, err := h.sweeper.RunReconciliationNow(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// JobStatus handles GET /api/v1/admin/jobs
func (h *AdminHandler) JobStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.sweeper.GetJobStatus())
}

// BookingEvents handles GET /api/v1/admin/bookings/:id/events
func (h *AdminHandler) BookingEvents(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}

	records, err := h.events.GetBookingEvents(c.Request.Context(), id, queryLimit(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": records})
}
