package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tripgate/booking-backend/internal/database"
	"github.com/tripgate/booking-backend/internal/gds"
	"github.com/tripgate/booking-backend/internal/models"
	"github.com/tripgate/booking-backend/internal/payment"
)

// The orchestrator and sweeper depend on these narrow interfaces. The
// database repositories, the GDS client and the Stripe gateway implement them.

// BookingStore persists bookings and applies compare-and-swap transitions
type BookingStore interface {
	Create(ctx context.Context, b *models.Booking, referencePrefix string) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetByIdempotencyKey(ctx context.Context, accountID uuid.UUID, key string) (*models.Booking, error)
	ListByStatus(ctx context.Context, status models.BookingStatus, limit int) ([]models.Booking, error)
	ListStaleFeePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error)
	ListStaleOperations(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error)
	ListExpiredRequests(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error)
	Transition(ctx context.Context, id uuid.UUID, t database.BookingTransition) (*models.Booking, error)
}

// PaymentStore persists payment attempts
type PaymentStore interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetByIntentID(ctx context.Context, intentID string) (*models.Payment, error)
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.Payment, error)
	SetIntent(ctx context.Context, id uuid.UUID, intentID string) error
	UpdateStatus(ctx context.Context, id uuid.UUID, from []models.PaymentStatus, to models.PaymentStatus, u database.PaymentUpdate) (*models.Payment, error)
	AddRefund(ctx context.Context, id uuid.UUID, amount models.Money, reason string) (*models.Payment, error)
	SyncRefundedTotal(ctx context.Context, id uuid.UUID, refunded models.Money, eventAt time.Time) (*models.Payment, error)
}

// AccountStore reads accounts and runs the periodic subscription jobs
type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	ResetPeriodUsage(ctx context.Context) (int64, error)
	ExpireSubscriptions(ctx context.Context, now time.Time) (int64, error)
}

// ExceptionStore queues financial exceptions for the sweeper and operators
type ExceptionStore interface {
	Create(ctx context.Context, fe *models.FinancialException) error
	ListPending(ctx context.Context, kind models.FinancialExceptionKind, limit int) ([]models.FinancialException, error)
	ListOpen(ctx context.Context, limit int) ([]models.FinancialException, error)
	HasOpen(ctx context.Context, paymentID uuid.UUID, kind models.FinancialExceptionKind) (bool, error)
	RecordAttempt(ctx context.Context, id uuid.UUID, cause error, escalate bool) error
	Resolve(ctx context.Context, id uuid.UUID) error
}

// PaymentEventLog is the payment audit trail and the webhook dedupe ledger
type PaymentEventLog interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
	IsProcessed(ctx context.Context, providerEventID string) (bool, error)
	RecordProviderEvent(ctx context.Context, audit *models.PaymentAudit) (bool, error)
}

// FareConfirmer re-prices an offer against the GDS
type FareConfirmer interface {
	ConfirmFare(ctx context.Context, offer json.RawMessage) (*gds.ConfirmedOffer, error)
}

// OrderPlacer manages GDS hold orders
type OrderPlacer interface {
	CreateOrder(ctx context.Context, offer *gds.ConfirmedOffer, travelers []gds.Traveler) (*gds.OrderRef, error)
	GetOrder(ctx context.Context, orderID string) (*gds.OrderDetails, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// PaymentGateway moves money
type PaymentGateway interface {
	CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.IntentRef, error)
	ConfirmIntent(ctx context.Context, ref payment.IntentRef) (*payment.Outcome, error)
	GetIntent(ctx context.Context, intentID string) (*payment.Outcome, error)
	Refund(ctx context.Context, req payment.RefundRequest) (*payment.RefundOutcome, error)
}

// BookingAuditor records the booking audit trail
type BookingAuditor interface {
	LogBookingEvent(ctx context.Context, action string, b *models.Booking, details map[string]interface{})
}

var (
	_ BookingStore    = (*database.BookingRepository)(nil)
	_ PaymentStore    = (*database.PaymentRepository)(nil)
	_ AccountStore    = (*database.AccountRepository)(nil)
	_ ExceptionStore  = (*database.FinancialExceptionRepository)(nil)
	_ PaymentEventLog = (*database.PaymentAuditRepository)(nil)
	_ FareConfirmer   = (*gds.Client)(nil)
	_ OrderPlacer     = (*gds.Client)(nil)
	_ PaymentGateway  = (*payment.StripeGateway)(nil)
	_ BookingAuditor  = (*AuditService)(nil)
)
