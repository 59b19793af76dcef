package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// BOOKING STATUS (matches DB ENUM booking_status, public contract)
// ============================================================================

// BookingStatus is the persisted lifecycle state of a flight booking.
// The string values are consumed by downstream reporting and must not change.
type BookingStatus string

const (
	BookingStatusRequested            BookingStatus = "requested"             // fare confirmed, fee computed, no money moved
	BookingStatusFeePending           BookingStatus = "fee_pending"           // fee capture + GDS hold in flight
	BookingStatusHeld                 BookingStatus = "held"                  // GDS order placed
	BookingStatusConfirmed            BookingStatus = "confirmed"             // airline fare captured
	BookingStatusCompleted            BookingStatus = "completed"             // ticket numbers recorded
	BookingStatusCancelled            BookingStatus = "cancelled"             // cancelled, nothing refunded
	BookingStatusRefunded             BookingStatus = "refunded"              // cancelled, refund issued
	BookingStatusFailedReconciliation BookingStatus = "failed_reconciliation" // money taken without a hold, operator only
)

// BookingStatuses lists every status.
func BookingStatuses() []BookingStatus {
	return []BookingStatus{
		BookingStatusRequested,
		BookingStatusFeePending,
		BookingStatusHeld,
		BookingStatusConfirmed,
		BookingStatusCompleted,
		BookingStatusCancelled,
		BookingStatusRefunded,
		BookingStatusFailedReconciliation,
	}
}

// IsValid reports whether s is a known status.
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusRequested, BookingStatusFeePending, BookingStatusHeld,
		BookingStatusConfirmed, BookingStatusCompleted, BookingStatusCancelled,
		BookingStatusRefunded, BookingStatusFailedReconciliation:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusCompleted, BookingStatusCancelled, BookingStatusRefunded, BookingStatusFailedReconciliation:
		return true
	case BookingStatusRequested, BookingStatusFeePending, BookingStatusHeld, BookingStatusConfirmed:
		return false
	}
	return false
}

// IsCancellable reports whether a traveler may cancel from this status.
func (s BookingStatus) IsCancellable() bool {
	switch s {
	case BookingStatusRequested, BookingStatusHeld:
		return true
	case BookingStatusFeePending, BookingStatusConfirmed, BookingStatusCompleted,
		BookingStatusCancelled, BookingStatusRefunded, BookingStatusFailedReconciliation:
		return false
	}
	return false
}

// NextStatuses returns the statuses reachable from s in one step.
// fee_pending is a lease on requested, so releasing it back to requested is
// not a backward move. Nothing ever returns to requested from held onwards.
func (s BookingStatus) NextStatuses() []BookingStatus {
	switch s {
	case BookingStatusRequested:
		return []BookingStatus{BookingStatusFeePending, BookingStatusCancelled, BookingStatusRefunded}
	case BookingStatusFeePending:
		return []BookingStatus{BookingStatusHeld, BookingStatusRequested, BookingStatusFailedReconciliation}
	case BookingStatusHeld:
		return []BookingStatus{BookingStatusConfirmed, BookingStatusCancelled, BookingStatusRefunded}
	case BookingStatusConfirmed:
		return []BookingStatus{BookingStatusCompleted}
	case BookingStatusCompleted, BookingStatusCancelled, BookingStatusRefunded, BookingStatusFailedReconciliation:
		return nil
	}
	return nil
}

// CanTransitionTo reports whether s -> next is an allowed transition.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range s.NextStatuses() {
		if allowed == next {
			return true
		}
	}
	return false
}

// AttentionReason explains why a booking carries the requires_attention sub-status.
type AttentionReason string

const (
	AttentionNone           AttentionReason = ""
	AttentionInventoryGone  AttentionReason = "inventory_gone"  // fare sold out before the hold, re-quote
	AttentionPriceChanged   AttentionReason = "price_changed"   // GDS price differs, traveler must re-confirm
	AttentionHoldRetry      AttentionReason = "hold_retry"      // GDS unavailable after fee capture, fee retained
	AttentionCaptureUnknown AttentionReason = "capture_unknown" // fee capture outcome never observed
	AttentionAmountMismatch AttentionReason = "amount_mismatch" // gateway amount differs from requested
	AttentionRefundFailed   AttentionReason = "refund_failed"   // compensating refund did not go through
)

// TripType is one_way or round_trip
type TripType string

const (
	TripTypeOneWay    TripType = "one_way"
	TripTypeRoundTrip TripType = "round_trip"
)

// Pending operations guard long-running flows that do not change the status.
const (
	OperationNone        = ""
	OperationCaptureFare = "capture_fare"
	OperationCancel      = "cancel"
)

// ============================================================================
// BOOKING
// ============================================================================

// Booking is one itinerary request owned by one account.
type Booking struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	BookingReference string     `json:"booking_reference" db:"booking_reference"`
	AccountID        uuid.UUID  `json:"account_id" db:"account_id"`
	AgentID          *uuid.UUID `json:"agent_id,omitempty" db:"agent_id"`
	PackageID        *uuid.UUID `json:"package_id,omitempty" db:"package_id"`
	IdempotencyKey   *string    `json:"-" db:"idempotency_key"`

	// Itinerary snapshot
	Origin       string     `json:"origin" db:"origin"`
	Destination  string     `json:"destination" db:"destination"`
	DepartureAt  time.Time  `json:"departure_at" db:"departure_at"`
	ReturnAt     *time.Time `json:"return_at,omitempty" db:"return_at"`
	Carrier      string     `json:"carrier" db:"carrier"`
	FlightNumber string     `json:"flight_number" db:"flight_number"`
	CabinClass   string     `json:"cabin_class" db:"cabin_class"`
	TripType     TripType   `json:"trip_type" db:"trip_type"`
	OfferPayload RawJSON    `json:"-" db:"offer_payload"`

	// Party composition
	Adults   int `json:"adults" db:"adults"`
	Children int `json:"children" db:"children"`
	Infants  int `json:"infants" db:"infants"`

	// Money, one currency per booking
	Currency   string `json:"currency" db:"currency"`
	BaseFare   Money  `json:"base_fare" db:"base_fare"`
	ServiceFee Money  `json:"service_fee" db:"service_fee"`
	Taxes      Money  `json:"taxes" db:"taxes"`
	Discount   Money  `json:"discount" db:"discount"`
	Total      Money  `json:"total" db:"total"`

	// Lifecycle
	Status           BookingStatus   `json:"status" db:"status"`
	AttentionReason  AttentionReason `json:"attention_reason,omitempty" db:"attention_reason"`
	PendingOperation string          `json:"-" db:"pending_operation"`
	PendingSince     *time.Time      `json:"-" db:"pending_since"`

	// GDS
	GDSOrderID          *string     `json:"-" db:"gds_order_id"`
	GDSConfirmationCode *string     `json:"gds_confirmation_code,omitempty" db:"gds_confirmation_code"`
	TicketNumbers       StringArray `json:"ticket_numbers,omitempty" db:"ticket_numbers"`

	CancellationReason *string    `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`

	Passengers []Passenger `json:"passengers,omitempty" db:"-"`
}

// PassengerCount is the total party size.
func (b *Booking) PassengerCount() int {
	return b.Adults + b.Children + b.Infants
}

// RecomputeTotal sets Total from its components. Every mutation of a monetary
// field must go through this.
func (b *Booking) RecomputeTotal() {
	b.Total = b.BaseFare + b.ServiceFee + b.Taxes - b.Discount
}

// SetAmounts replaces all monetary components and recomputes the total.
func (b *Booking) SetAmounts(base, fee, taxes, discount Money) {
	b.BaseFare = base
	b.ServiceFee = fee
	b.Taxes = taxes
	b.Discount = discount
	b.RecomputeTotal()
}

// FareAmount is what the airline fare payment captures: base + taxes - discount.
func (b *Booking) FareAmount() Money {
	return b.BaseFare + b.Taxes - b.Discount
}

// RequiresAttention reports the requires_attention sub-status.
func (b *Booking) RequiresAttention() bool {
	return b.AttentionReason != AttentionNone
}

// IsOwnedBy reports whether accountID owns the booking. Agents never own.
func (b *Booking) IsOwnedBy(accountID uuid.UUID) bool {
	return b.AccountID == accountID
}

// ============================================================================
// PASSENGER
// ============================================================================

// PassengerType is adult, child or infant
type PassengerType string

const (
	PassengerAdult  PassengerType = "adult"
	PassengerChild  PassengerType = "child"
	PassengerInfant PassengerType = "infant"
)

// Passenger is one traveler on a booking. Deleted with its booking.
type Passenger struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	BookingID      uuid.UUID     `json:"booking_id" db:"booking_id"`
	FirstName      string        `json:"first_name" db:"first_name"`
	LastName       string        `json:"last_name" db:"last_name"`
	DateOfBirth    time.Time     `json:"date_of_birth" db:"date_of_birth"`
	Gender         string        `json:"gender" db:"gender"`
	PassengerType  PassengerType `json:"passenger_type" db:"passenger_type"`
	Email          *string       `json:"email,omitempty" db:"email"`
	Phone          *string       `json:"phone,omitempty" db:"phone"`
	DocumentType   string        `json:"document_type" db:"document_type"`
	DocumentNumber string        `json:"document_number" db:"document_number"`
	DocumentExpiry *time.Time    `json:"document_expiry,omitempty" db:"document_expiry"`
	Nationality    string        `json:"nationality" db:"nationality"`
	IssuingCountry string        `json:"issuing_country" db:"issuing_country"`
	SeatAssignment *string       `json:"seat_assignment,omitempty" db:"seat_assignment"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
}

// ============================================================================
// RESPONSES
// ============================================================================

// BookingSummary is what the inbound layer returns to travelers.
type BookingSummary struct {
	ID                  uuid.UUID     `json:"id"`
	BookingReference    string        `json:"booking_reference"`
	Status              BookingStatus `json:"status"`
	RequiresAttention   bool          `json:"requires_attention"`
	Origin              string        `json:"origin"`
	Destination         string        `json:"destination"`
	DepartureAt         time.Time     `json:"departure_at"`
	ReturnAt            *time.Time    `json:"return_at,omitempty"`
	Currency            string        `json:"currency"`
	BaseFare            Money         `json:"base_fare"`
	ServiceFee          Money         `json:"service_fee"`
	Taxes               Money         `json:"taxes"`
	Discount            Money         `json:"discount"`
	Total               Money         `json:"total"`
	GDSConfirmationCode *string       `json:"gds_confirmation_code,omitempty"`
	TicketNumbers       []string      `json:"ticket_numbers,omitempty"`
	RefundedAmount      Money         `json:"refunded_amount"`
	PaymentStatus       string        `json:"payment_status,omitempty"` // status of the latest payment attempt
	Message             string        `json:"message,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
}

// Summary builds a BookingSummary from the booking.
func (b *Booking) Summary() *BookingSummary {
	return &BookingSummary{
		ID:                  b.ID,
		BookingReference:    b.BookingReference,
		Status:              b.Status,
		RequiresAttention:   b.RequiresAttention(),
		Origin:              b.Origin,
		Destination:         b.Destination,
		DepartureAt:         b.DepartureAt,
		ReturnAt:            b.ReturnAt,
		Currency:            b.Currency,
		BaseFare:            b.BaseFare,
		ServiceFee:          b.ServiceFee,
		Taxes:               b.Taxes,
		Discount:            b.Discount,
		Total:               b.Total,
		GDSConfirmationCode: b.GDSConfirmationCode,
		TicketNumbers:       b.TicketNumbers,
		CreatedAt:           b.CreatedAt,
	}
}
