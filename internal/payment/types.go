// Package payment is the card payment gateway adapter: payment intents,
// refunds and webhook verification on top of Stripe.
package payment

import (
	"time"

	"github.com/tripgate/booking-backend/internal/models"
)

// IntentRequest asks the gateway to create a payment intent
type IntentRequest struct {
	Amount           models.Money
	Currency         string
	PaymentMethodRef string
	IdempotencyKey   string // our payment id, so a retried create is a no-op
	Description      string
	Metadata         map[string]string
}

// IntentRef identifies a created intent and what we asked it to collect
type IntentRef struct {
	ID       string
	Amount   models.Money
	Currency string
}

// Outcome is the result of confirming an intent
type Outcome struct {
	IntentID       string
	Status         models.PaymentStatus // captured, pending or failed
	Amount         models.Money         // amount the gateway reports
	Currency       string
	ChargeID       string
	FailureReason  string
	GatewayStatus  string
	AmountReceived models.Money
}

// RefundRequest describes a refund against a captured intent. Captured and
// AlreadyRefunded come from our own payment record and bound the refund.
type RefundRequest struct {
	IntentID        string
	Currency        string
	Captured        models.Money
	AlreadyRefunded models.Money
	Amount          *models.Money // nil = everything still refundable
	Reason          string
	IdempotencyKey  string
}

// RefundOutcome is the gateway's answer to a refund
type RefundOutcome struct {
	RefundID string
	Amount   models.Money
	Status   string // succeeded or pending
}

// Event types applied by the booking core
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventChargeRefunded   = "charge.refunded"
)

// Event is a verified webhook event
type Event struct {
	ID             string
	Type           string
	Created        time.Time
	IntentID       string
	Status         models.PaymentStatus // empty for event types the core ignores
	Amount         models.Money         // amount received (succeeded) or requested
	AmountRefunded models.Money
	Currency       string
	FailureReason  string
	Payload        []byte
}

// Relevant reports whether the booking core acts on this event type.
func (e *Event) Relevant() bool {
	return e.Status != "" && e.IntentID != ""
}
