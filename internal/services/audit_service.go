package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/tripgate/booking-backend/internal/models"
	"github.com/tripgate/booking-backend/internal/utils"
)

// Booking audit actions
const (
	AuditBookingRequested    = "BOOKING_REQUESTED"
	AuditFeeCaptured         = "FEE_CAPTURED"
	AuditBookingHeld         = "BOOKING_HELD"
	AuditFareCaptured        = "FARE_CAPTURED"
	AuditBookingCompleted    = "BOOKING_COMPLETED"
	AuditBookingCancelled    = "BOOKING_CANCELLED"
	AuditReconciliationFail  = "RECONCILIATION_FAILED"
	AuditLateCaptureRefunded = "LATE_CAPTURE_REFUNDED"
	AuditLogout              = "LOGOUT"
	auditEntityBooking       = "booking"
	auditEntityUser          = "user"
	defaultAuditEventsLimit  = 50
)

// AuditService writes the booking audit trail to audit_logs
type AuditService struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewAuditService creates a new audit service
func NewAuditService(db *sqlx.DB, logger *logrus.Logger) *AuditService {
	return &AuditService{db: db, logger: logger}
}

// AuditEvent represents an event to be logged
type AuditEvent struct {
	UserID     *uuid.UUID   // acting account, nil for system jobs
	Action     string       // one of the Audit* actions
	EntityType string       // booking, user
	EntityID   *uuid.UUID   // affected entity
	IPAddress  string       // empty for system jobs
	UserAgent  string
	Details    models.JSONB // stored as JSONB
}

// AuditRecord is one stored audit event
type AuditRecord struct {
	Action     string       `json:"action" db:"action"`
	EntityType string       `json:"entity_type" db:"entity_type"`
	IPAddress  *string      `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  *string      `json:"user_agent,omitempty" db:"user_agent"`
	Details    models.JSONB `json:"details,omitempty" db:"details"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}

// LogBookingEvent records action against b. A failed write is logged and
// never fails the booking operation.
func (s *AuditService) LogBookingEvent(ctx context.Context, action string, b *models.Booking, details map[string]interface{}) {
	if b == nil {
		return
	}
	d := models.JSONB{
		"booking_reference": b.BookingReference,
		"status":            b.Status,
		"total":             b.Total.String(),
		"currency":          b.Currency,
	}
	if b.RequiresAttention() {
		d["attention_reason"] = b.AttentionReason
	}
	for k, v := range details {
		d[k] = v
	}

	accountID := b.AccountID
	bookingID := b.ID
	if err := s.logEvent(ctx, AuditEvent{
		UserID:     &accountID,
		Action:     action,
		EntityType: auditEntityBooking,
		EntityID:   &bookingID,
		Details:    d,
	}); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id": b.ID,
			"action":     action,
		}).Warn("Failed to write booking audit event")
	}
}

// LogLogout logs a token revocation
func (s *AuditService) LogLogout(ctx context.Context, userID uuid.UUID, ipAddress, userAgent string) error {
	return s.logEvent(ctx, AuditEvent{
		UserID:     &userID,
		Action:     AuditLogout,
		EntityType: auditEntityUser,
		EntityID:   &userID,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		Details:    models.JSONB{"device_info": utils.ParseUserAgent(userAgent)},
	})
}

// logEvent writes one row to audit_logs
func (s *AuditService) logEvent(ctx context.Context, event AuditEvent) error {
	query := `
		INSERT INTO audit_logs (user_id, action, entity_type, entity_id, ip_address, user_agent, details, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, NOW())
	`

	_, err := s.db.ExecContext(ctx, query,
		event.UserID,
		event.Action,
		event.EntityType,
		event.EntityID,
		event.IPAddress,
		event.UserAgent,
		event.Details,
	)
	if err != nil {
		return fmt.Errorf("failed to log audit event: %w", err)
	}
	return nil
}

// GetBookingEvents returns a booking's audit trail, newest first
func (s *AuditService) GetBookingEvents(ctx context.Context, bookingID uuid.UUID, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = defaultAuditEventsLimit
	}

	var records []AuditRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT action, entity_type, ip_address, user_agent, details, created_at
		FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3`, auditEntityBooking, bookingID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking events: %w", err)
	}
	return records, nil
}
