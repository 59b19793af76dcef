package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/tripgate/booking-backend/internal/models"
	"github.com/tripgate/booking-backend/pkg/apperrors"
)

// FinancialExceptionRepository stores the reconciliation queue
type FinancialExceptionRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewFinancialExceptionRepository creates a new FinancialExceptionRepository
func NewFinancialExceptionRepository(db *sqlx.DB, logger *logrus.Logger) *FinancialExceptionRepository {
	return &FinancialExceptionRepository{db: db, logger: logger}
}

// Create queues an exception. Like payment audits, this must never fail silently.
func (r *FinancialExceptionRepository) Create(ctx context.Context, fe *models.FinancialException) error {
	query := `
		INSERT INTO financial_exceptions (
			id, booking_id, payment_id, kind, amount, currency, status,
			attempts, last_error, details, created_at, updated_at
		) VALUES (
			:id, :booking_id, :payment_id, :kind, :amount, :currency, :status,
			:attempts, :last_error, :details, :created_at, :updated_at
		)`
	if _, err := r.db.NamedExecContext(ctx, query, fe); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id": fe.BookingID,
			"kind":       fe.Kind,
			"amount":     fe.Amount.String(),
		}).Error("CRITICAL: Failed to queue financial exception")
		return fmt.Errorf("failed to create financial exception: %w", err)
	}
	return nil
}

// ListPending returns pending exceptions of kind, oldest first
func (r *FinancialExceptionRepository) ListPending(ctx context.Context, kind models.FinancialExceptionKind, limit int) ([]models.FinancialException, error) {
	var items []models.FinancialException
	err := r.db.SelectContext(ctx, &items, `
		SELECT * FROM financial_exceptions
		WHERE status = 'pending' AND kind = $1
		ORDER BY created_at ASC
		LIMIT $2`, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list financial exceptions: %w", err)
	}
	return items, nil
}

// ListOpen returns every exception not yet resolved
func (r *FinancialExceptionRepository) ListOpen(ctx context.Context, limit int) ([]models.FinancialException, error) {
	var items []models.FinancialException
	err := r.db.SelectContext(ctx, &items, `
		SELECT * FROM financial_exceptions
		WHERE status <> 'resolved'
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list open financial exceptions: %w", err)
	}
	return items, nil
}

// HasOpen reports whether paymentID has an unresolved exception of kind
func (r *FinancialExceptionRepository) HasOpen(ctx context.Context, paymentID uuid.UUID, kind models.FinancialExceptionKind) (bool, error) {
	var open bool
	err := r.db.GetContext(ctx, &open, `
		SELECT EXISTS (
			SELECT 1 FROM financial_exceptions
			WHERE payment_id = $1 AND kind = $2 AND status <> 'resolved'
		)`, paymentID, kind)
	if err != nil {
		return false, fmt.Errorf("failed to check open financial exceptions: %w", err)
	}
	return open, nil
}

// RecordAttempt counts a failed retry, escalating to operators when asked
func (r *FinancialExceptionRepository) RecordAttempt(ctx context.Context, id uuid.UUID, cause error, escalate bool) error {
	status := models.ExceptionStatusPending
	if escalate {
		status = models.ExceptionStatusEscalated
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE financial_exceptions
		SET attempts = attempts + 1, last_error = $2, status = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id, msg, status)
	if err != nil {
		return fmt.Errorf("failed to record exception attempt: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.Conflict("database.FinancialExceptionRepository.RecordAttempt", "exception is no longer pending")
	}
	return nil
}

// Resolve closes an exception
func (r *FinancialExceptionRepository) Resolve(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE financial_exceptions
		SET status = 'resolved', resolved_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status <> 'resolved'`, id)
	if err != nil {
		return fmt.Errorf("failed to resolve financial exception: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.Conflict("database.FinancialExceptionRepository.Resolve", "exception already resolved")
	}
	return nil
}
