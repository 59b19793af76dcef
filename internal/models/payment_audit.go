package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventIntentCreated    PaymentEventType = "intent_created"
	PaymentEventIntentConfirmed  PaymentEventType = "intent_confirmed"
	PaymentEventWebhookReceived  PaymentEventType = "webhook_received"
	PaymentEventCaptured         PaymentEventType = "payment_captured"
	PaymentEventFailed           PaymentEventType = "payment_failed"
	PaymentEventRefundCompleted  PaymentEventType = "refund_completed"
	PaymentEventRefundFailed     PaymentEventType = "refund_failed"
	PaymentEventAmountMismatch   PaymentEventType = "amount_mismatch"
	PaymentEventStaleEvent       PaymentEventType = "stale_event_ignored"
	PaymentEventUnknownIntent    PaymentEventType = "unknown_intent"
	PaymentEventReconciliationKO PaymentEventType = "reconciliation_failed"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceBackend       PaymentEventSource = "backend"
	PaymentSourceStripeWebhook PaymentEventSource = "stripe_webhook"
	PaymentSourceStripeAPI     PaymentEventSource = "stripe_api"
	PaymentSourceSystem        PaymentEventSource = "system"
)

// PaymentAudit is an immutable log entry for a payment event. Entries with a
// ProviderEventID double as the webhook idempotency ledger: the column is unique.
type PaymentAudit struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	PaymentID       *uuid.UUID `json:"payment_id,omitempty" db:"payment_id"`
	BookingID       *uuid.UUID `json:"booking_id,omitempty" db:"booking_id"`
	ProviderEventID *string    `json:"provider_event_id,omitempty" db:"provider_event_id"`
	IntentID        *string    `json:"intent_id,omitempty" db:"intent_id"`

	EventType   PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource PaymentEventSource `json:"event_source" db:"event_source"`

	// Amount tracking - CRITICAL for verification
	ExpectedAmount *Money  `json:"expected_amount,omitempty" db:"expected_amount"`
	ReceivedAmount *Money  `json:"received_amount,omitempty" db:"received_amount"`
	Currency       *string `json:"currency,omitempty" db:"currency"`
	AmountsMatch   *bool   `json:"amounts_match,omitempty" db:"amounts_match"`

	PaymentStatus *string `json:"payment_status,omitempty" db:"payment_status"`
	RawBody       *string `json:"raw_body,omitempty" db:"raw_body"`
	ErrorMessage  *string `json:"error_message,omitempty" db:"error_message"`
	IsDuplicate   bool    `json:"is_duplicate" db:"is_duplicate"`

	IPAddress *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent *string `json:"user_agent,omitempty" db:"user_agent"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// SetPayment links the entry to a payment and its booking
func (pa *PaymentAudit) SetPayment(p *Payment) *PaymentAudit {
	pa.PaymentID = &p.ID
	pa.BookingID = &p.BookingID
	if p.IntentID != nil {
		pa.IntentID = p.IntentID
	}
	return pa
}

// SetProviderEvent sets the gateway event id and intent
func (pa *PaymentAudit) SetProviderEvent(eventID, intentID string) *PaymentAudit {
	pa.ProviderEventID = &eventID
	if intentID != "" {
		pa.IntentID = &intentID
	}
	return pa
}

// SetAmounts records both amounts and returns whether they match exactly
func (pa *PaymentAudit) SetAmounts(expected, received Money, currency string) bool {
	pa.ExpectedAmount = &expected
	pa.ReceivedAmount = &received
	pa.Currency = &currency
	match := expected == received
	pa.AmountsMatch = &match
	return match
}

// SetPaymentStatus sets the payment status from gateway
func (pa *PaymentAudit) SetPaymentStatus(status string) *PaymentAudit {
	pa.PaymentStatus = &status
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(message string) *PaymentAudit {
	pa.ErrorMessage = &message
	return pa
}

// SetRawBody stores the raw webhook body before parsing
func (pa *PaymentAudit) SetRawBody(body string) *PaymentAudit {
	pa.RawBody = &body
	return pa
}

// SetMetadata sets request metadata
func (pa *PaymentAudit) SetMetadata(ip, userAgent string) *PaymentAudit {
	if ip != "" {
		pa.IPAddress = &ip
	}
	if userAgent != "" {
		pa.UserAgent = &userAgent
	}
	return pa
}

// MarkProcessed stamps the processing time
func (pa *PaymentAudit) MarkProcessed() *PaymentAudit {
	now := time.Now()
	pa.ProcessedAt = &now
	return pa
}

// MarkAsDuplicate marks this event as a duplicate
func (pa *PaymentAudit) MarkAsDuplicate() *PaymentAudit {
	pa.IsDuplicate = true
	return pa
}
