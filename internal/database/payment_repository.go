package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tripgate/booking-backend/internal/models"
	"github.com/tripgate/booking-backend/pkg/apperrors"
)

// PaymentRepository handles payment database operations
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository creates a new PaymentRepository
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// PaymentUpdate carries the optional columns written with a status change
type PaymentUpdate struct {
	ChargeID      *string
	FailureReason *string
	EventAt       *time.Time // provider event time; older events are rejected
}

// Create inserts a new payment attempt
func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	now := time.Now().UTC()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO payments (
			id, booking_id, account_id, purpose, amount, currency, status,
			intent_id, payment_method_ref, refund_amount, captured_at, reconciled_at,
			created_at, updated_at
		) VALUES (
			:id, :booking_id, :account_id, :purpose, :amount, :currency, :status,
			:intent_id, :payment_method_ref, :refund_amount, :captured_at, :reconciled_at,
			:created_at, :updated_at
		)`
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetByID returns a payment
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var p models.Payment
	err := r.db.GetContext(ctx, &p, `SELECT * FROM payments WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("database.PaymentRepository.GetByID", "payment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

// GetByIntentID returns the payment created for a gateway intent
func (r *PaymentRepository) GetByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.GetContext(ctx, &p, `SELECT * FROM payments WHERE intent_id = $1`, intentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("database.PaymentRepository.GetByIntentID", "payment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment by intent: %w", err)
	}
	return &p, nil
}

// ListByBooking returns a booking's payments, newest first
func (r *PaymentRepository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.SelectContext(ctx, &payments,
		`SELECT * FROM payments WHERE booking_id = $1 ORDER BY created_at DESC, id`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

// SetIntent records the gateway intent created for a pending payment
func (r *PaymentRepository) SetIntent(ctx context.Context, id uuid.UUID, intentID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payments SET intent_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND (intent_id IS NULL OR intent_id = $2)`,
		id, intentID)
	if err != nil {
		return fmt.Errorf("failed to set payment intent: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.Conflict("database.PaymentRepository.SetIntent", "payment already has a different intent")
	}
	return nil
}

// UpdateStatus moves a payment from one of from to to. Returns a conflict
// error if the payment moved on meanwhile or the event is older than the
// last one applied.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from []models.PaymentStatus, to models.PaymentStatus, u PaymentUpdate) (*models.Payment, error) {
	const op = "database.PaymentRepository.UpdateStatus"

	fromStrings := make([]string, len(from))
	for i, s := range from {
		fromStrings[i] = string(s)
	}

	query := `
		UPDATE payments SET
			status = $2,
			provider_charge_id = COALESCE($4, provider_charge_id),
			failure_reason = COALESCE($5, failure_reason),
			last_event_at = COALESCE($6, last_event_at),
			captured_at = CASE WHEN $2 = 'captured' THEN NOW() ELSE captured_at END,
			updated_at = NOW()
		WHERE id = $1
		  AND status = ANY($3)
		  AND ($6::timestamptz IS NULL OR last_event_at IS NULL OR last_event_at <= $6)
		RETURNING *`

	var p models.Payment
	err := r.db.QueryRowxContext(ctx, query, id, to, pq.Array(fromStrings), u.ChargeID, u.FailureReason, u.EventAt).StructScan(&p)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Conflict(op, "payment is no longer in the expected status")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update payment status: %w", err)
	}
	return &p, nil
}

// AddRefund records a refund of amount against a captured payment. The
// cumulative refund can never exceed the captured amount.
func (r *PaymentRepository) AddRefund(ctx context.Context, id uuid.UUID, amount models.Money, reason string) (*models.Payment, error) {
	const op = "database.PaymentRepository.AddRefund"

	var p models.Payment
	err := r.db.QueryRowxContext(ctx, `
		UPDATE payments SET
			status = 'refunded',
			refund_amount = refund_amount + $2,
			refund_reason = $3,
			updated_at = NOW()
		WHERE id = $1
		  AND status IN ('captured', 'refunded')
		  AND amount - refund_amount >= $2
		RETURNING *`, id, amount, reason).StructScan(&p)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Conflict(op, "refund exceeds the refundable amount")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record refund: %w", err)
	}
	return &p, nil
}

// SyncRefundedTotal raises refund_amount to the provider-reported total. Used
// for refunds issued outside this service (dashboard, disputes).
func (r *PaymentRepository) SyncRefundedTotal(ctx context.Context, id uuid.UUID, refunded models.Money, eventAt time.Time) (*models.Payment, error) {
	var p models.Payment
	err := r.db.QueryRowxContext(ctx, `
		UPDATE payments SET
			status = 'refunded',
			refund_amount = GREATEST(refund_amount, LEAST($2, amount)),
			last_event_at = $3,
			updated_at = NOW()
		WHERE id = $1
		  AND status IN ('captured', 'refunded')
		  AND (last_event_at IS NULL OR last_event_at <= $3)
		RETURNING *`, id, refunded, eventAt).StructScan(&p)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Conflict("database.PaymentRepository.SyncRefundedTotal", "payment is not refundable")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to sync refund: %w", err)
	}
	return &p, nil
}
