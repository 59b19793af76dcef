package models

import (
	"time"

	"github.com/google/uuid"
)

// FinancialExceptionKind names the money movement that lost its pair.
type FinancialExceptionKind string

const (
	ExceptionCancellationRefund FinancialExceptionKind = "cancellation_refund" // refund owed after cancel, retried by the sweeper
	ExceptionFeeRefund          FinancialExceptionKind = "fee_refund"          // fee taken without a hold, operator only
	ExceptionAmountMismatch     FinancialExceptionKind = "amount_mismatch"
	ExceptionCaptureUnknown     FinancialExceptionKind = "capture_unknown"
)

// Retryable reports whether the reconciliation sweeper may act on the exception.
func (k FinancialExceptionKind) Retryable() bool {
	switch k {
	case ExceptionCancellationRefund:
		return true
	case ExceptionFeeRefund, ExceptionAmountMismatch, ExceptionCaptureUnknown:
		return false
	}
	return false
}

// FinancialExceptionStatus tracks operator/sweeper progress.
type FinancialExceptionStatus string

const (
	ExceptionStatusPending   FinancialExceptionStatus = "pending"
	ExceptionStatusResolved  FinancialExceptionStatus = "resolved"
	ExceptionStatusEscalated FinancialExceptionStatus = "escalated"
)

// FinancialException is a queued reconciliation item: money moved (or should
// have) without its expected paired effect.
type FinancialException struct {
	ID         uuid.UUID                `json:"id" db:"id"`
	BookingID  uuid.UUID                `json:"booking_id" db:"booking_id"`
	PaymentID  *uuid.UUID               `json:"payment_id,omitempty" db:"payment_id"`
	Kind       FinancialExceptionKind   `json:"kind" db:"kind"`
	Amount     Money                    `json:"amount" db:"amount"`
	Currency   string                   `json:"currency" db:"currency"`
	Status     FinancialExceptionStatus `json:"status" db:"status"`
	Attempts   int                      `json:"attempts" db:"attempts"`
	LastError  *string                  `json:"last_error,omitempty" db:"last_error"`
	Details    JSONB                    `json:"details,omitempty" db:"details"`
	CreatedAt  time.Time                `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time                `json:"updated_at" db:"updated_at"`
	ResolvedAt *time.Time               `json:"resolved_at,omitempty" db:"resolved_at"`
}

// NewFinancialException creates a pending exception.
func NewFinancialException(kind FinancialExceptionKind, bookingID uuid.UUID, paymentID *uuid.UUID, amount Money, currency string, cause error) *FinancialException {
	now := time.Now()
	fe := &FinancialException{
		ID:        uuid.New(),
		BookingID: bookingID,
		PaymentID: paymentID,
		Kind:      kind,
		Amount:    amount,
		Currency:  currency,
		Status:    ExceptionStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if cause != nil {
		msg := cause.Error()
		fe.LastError = &msg
	}
	return fe
}

// ReconciliationQueue is the operator view of work that needs a human.
type ReconciliationQueue struct {
	Bookings   []Booking            `json:"bookings"`
	Exceptions []FinancialException `json:"exceptions"`
}
