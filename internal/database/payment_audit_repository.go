package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/tripgate/booking-backend/internal/models"
)

// PaymentAuditRepository handles payment audit operations. Rows carrying a
// provider event id are also the webhook idempotency ledger.
type PaymentAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

const insertPaymentAudit = `
	INSERT INTO payment_audits (
		id, payment_id, booking_id, provider_event_id, intent_id,
		event_type, event_source,
		expected_amount, received_amount, currency, amounts_match,
		payment_status, raw_body, error_message, is_duplicate,
		ip_address, user_agent, created_at, processed_at
	) VALUES (
		:id, :payment_id, :booking_id, :provider_event_id, :intent_id,
		:event_type, :event_source,
		:expected_amount, :received_amount, :currency, :amounts_match,
		:payment_status, :raw_body, :error_message, :is_duplicate,
		:ip_address, :user_agent, :created_at, :processed_at
	)`

func prepareAudit(audit *models.PaymentAudit) {
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}
}

// Log creates a new payment audit entry.
// This should NEVER fail silently - payment events must be logged
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}
	prepareAudit(audit)

	if _, err := r.db.NamedExecContext(ctx, insertPaymentAudit, audit); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": audit.EventType,
			"payment_id": audit.PaymentID,
		}).Error("CRITICAL: Failed to log payment audit")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"event_type": audit.EventType,
		"payment_id": audit.PaymentID,
	}).Debug("Payment audit logged")

	return nil
}

// IsProcessed reports whether a provider event was already applied
func (r *PaymentAuditRepository) IsProcessed(ctx context.Context, providerEventID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM payment_audits
			WHERE provider_event_id = $1 AND is_duplicate = FALSE AND processed_at IS NOT NULL
		)`, providerEventID)
	if err != nil {
		return false, fmt.Errorf("failed to check duplicate: %w", err)
	}
	return exists, nil
}

// RecordProviderEvent stores an applied provider event. Returns false when
// the event id was already recorded by a concurrent delivery.
func (r *PaymentAuditRepository) RecordProviderEvent(ctx context.Context, audit *models.PaymentAudit) (bool, error) {
	if audit == nil || audit.ProviderEventID == nil {
		return false, fmt.Errorf("provider event id is required")
	}
	prepareAudit(audit)

	query := insertPaymentAudit + `
	ON CONFLICT (provider_event_id) WHERE is_duplicate = FALSE DO NOTHING`

	result, err := r.db.NamedExecContext(ctx, query, audit)
	if err != nil {
		r.logger.WithError(err).WithField("event_id", *audit.ProviderEventID).
			Error("CRITICAL: Failed to record provider event")
		return false, fmt.Errorf("failed to record provider event: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// GetByBooking retrieves all audit entries for a booking
func (r *PaymentAuditRepository) GetByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.PaymentAudit, error) {
	var audits []*models.PaymentAudit
	err := r.db.SelectContext(ctx, &audits, `
		SELECT * FROM payment_audits
		WHERE booking_id = $1
		ORDER BY created_at ASC`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get audits by booking: %w", err)
	}
	return audits, nil
}

// GetAmountMismatches retrieves all audits where amounts don't match
func (r *PaymentAuditRepository) GetAmountMismatches(ctx context.Context, limit int) ([]*models.PaymentAudit, error) {
	var audits []*models.PaymentAudit
	err := r.db.SelectContext(ctx, &audits, `
		SELECT * FROM payment_audits
		WHERE amounts_match = FALSE
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get amount mismatches: %w", err)
	}
	return audits, nil
}
