package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentPurpose tags what a payment pays for. Purpose is never inferred from amounts.
type PaymentPurpose string

const (
	PaymentPurposeServiceFee PaymentPurpose = "service_fee"
	PaymentPurposeFare       PaymentPurpose = "fare"
)

// PaymentStatus is the lifecycle of one payment attempt.
// pending -> captured -> refunded, or pending -> failed.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusCaptured PaymentStatus = "captured"
	PaymentStatusRefunded PaymentStatus = "refunded" // fully or partially, see RefundAmount
	PaymentStatusFailed   PaymentStatus = "failed"
)

// CanTransitionTo reports whether s -> next moves forward. A captured payment
// never goes back to pending, whatever order webhooks arrive in.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return next == PaymentStatusCaptured || next == PaymentStatusFailed
	case PaymentStatusCaptured:
		return next == PaymentStatusRefunded
	case PaymentStatusRefunded:
		return next == PaymentStatusRefunded
	case PaymentStatusFailed:
		return false
	}
	return false
}

// Payment is one monetary transaction attempt against a booking.
type Payment struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	BookingID uuid.UUID      `json:"booking_id" db:"booking_id"`
	AccountID uuid.UUID      `json:"account_id" db:"account_id"`
	Purpose   PaymentPurpose `json:"purpose" db:"purpose"`
	Amount    Money          `json:"amount" db:"amount"`
	Currency  string         `json:"currency" db:"currency"`
	Status    PaymentStatus  `json:"status" db:"status"`

	// Gateway identifiers
	IntentID         *string `json:"intent_id,omitempty" db:"intent_id"`
	PaymentMethodRef *string `json:"-" db:"payment_method_ref"`
	ProviderChargeID *string `json:"provider_charge_id,omitempty" db:"provider_charge_id"`

	RefundAmount  Money   `json:"refund_amount" db:"refund_amount"`
	RefundReason  *string `json:"refund_reason,omitempty" db:"refund_reason"`
	FailureReason *string `json:"failure_reason,omitempty" db:"failure_reason"`

	// LastEventAt is the provider timestamp of the newest applied webhook event.
	LastEventAt *time.Time `json:"-" db:"last_event_at"`
	// ReconciledAt is set once a captured payment has its paired effect
	// (a GDS hold for a fee, a confirmed booking for a fare) or is refunded.
	ReconciledAt *time.Time `json:"-" db:"reconciled_at"`

	CapturedAt *time.Time `json:"captured_at,omitempty" db:"captured_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// Refundable is the captured amount not yet refunded.
func (p *Payment) Refundable() Money {
	switch p.Status {
	case PaymentStatusCaptured, PaymentStatusRefunded:
		if r := p.Amount - p.RefundAmount; r > 0 {
			return r
		}
	case PaymentStatusPending, PaymentStatusFailed:
	}
	return 0
}

// IsUnreconciledCapture reports a captured payment still waiting for its paired effect.
func (p *Payment) IsUnreconciledCapture() bool {
	return p.Status == PaymentStatusCaptured && p.ReconciledAt == nil
}

// IntentRef returns the gateway intent id or "".
func (p *Payment) IntentRef() string {
	if p.IntentID == nil {
		return ""
	}
	return *p.IntentID
}
