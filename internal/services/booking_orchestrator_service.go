package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tripgate/booking-backend/internal/database"
	"github.com/tripgate/booking-backend/internal/gds"
	"github.com/tripgate/booking-backend/internal/models"
	"github.com/tripgate/booking-backend/internal/payment"
	"github.com/tripgate/booking-backend/pkg/apperrors"
	"github.com/tripgate/booking-backend/pkg/validator"
)

// errPaymentPending marks a capture the gateway has not settled yet. The
// webhook finishes the flow.
var errPaymentPending = errors.New("payment is still processing")

// Traveler-facing notes attached to booking summaries
const (
	messagePaymentProcessing = "Your payment is processing. We will update your booking once it completes."
	messagePaymentReceived   = "Your payment was received; our team will confirm your booking shortly."
	messageRequote           = "This fare is no longer available at the quoted price, please search again."
	messageHoldRetry         = "Your service fee was received but the seats could not be reserved yet, please try again shortly."
	messageCaptureUnknown    = "We are confirming the status of your last payment."
	messageRefundQueued      = "Your booking is cancelled. Part of your refund is delayed and will be processed automatically."
)

// BookingOrchestratorConfig holds configuration for the orchestrator
type BookingOrchestratorConfig struct {
	ReferencePrefix string
	MaxAdvanceDays  int
	RefundTimeout   time.Duration // bound on each refund call inside a flow
}

// Caller is the authenticated account behind an inbound call. Staff (agents
// and admins) may act on any booking.
type Caller struct {
	AccountID uuid.UUID
	Staff     bool
}

// BookingOrchestratorService drives a booking through
// requested -> fee_pending -> held -> confirmed -> completed, plus cancellation.
// Every state change is a compare-and-swap on the stored status; nothing is
// locked while a provider call is in flight.
type BookingOrchestratorService struct {
	bookings   BookingStore
	payments   PaymentStore
	accounts   AccountStore
	exceptions ExceptionStore
	events     PaymentEventLog
	fares      FareConfirmer
	orders     OrderPlacer
	gateway    PaymentGateway
	audit      BookingAuditor
	fees       *FeePolicy
	config     BookingOrchestratorConfig
	logger     *logrus.Logger
	now        func() time.Time
}

// NewBookingOrchestratorService creates a new orchestrator service
func NewBookingOrchestratorService(
	bookings BookingStore,
	payments PaymentStore,
	accounts AccountStore,
	exceptions ExceptionStore,
	events PaymentEventLog,
	fares FareConfirmer,
	orders OrderPlacer,
	gateway PaymentGateway,
	audit BookingAuditor,
	fees *FeePolicy,
	config BookingOrchestratorConfig,
	logger *logrus.Logger,
) *BookingOrchestratorService {
	return &BookingOrchestratorService{
		bookings:   bookings,
		payments:   payments,
		accounts:   accounts,
		exceptions: exceptions,
		events:     events,
		fares:      fares,
		orders:     orders,
		gateway:    gateway,
		audit:      audit,
		fees:       fees,
		config:     config,
		logger:     logger,
		now:        time.Now,
	}
}

// ============================================================================
// REQUEST
// ============================================================================

// RequestBooking confirms the fare with the GDS, computes the service fee and
// stores a requested booking. No money moves.
func (s *BookingOrchestratorService) RequestBooking(
	ctx context.Context,
	accountID uuid.UUID,
	req *models.CreateBookingRequest,
) (*models.BookingSummary, error) {
	const op = "services.RequestBooking"

	// 1. Same idempotency key returns the booking it created
	if req.IdempotencyKey != nil && *req.IdempotencyKey != "" {
		existing, err := s.bookings.GetByIdempotencyKey(ctx, accountID, *req.IdempotencyKey)
		if err == nil {
			return s.summarize(ctx, existing), nil
		}
		if !apperrors.Is(err, apperrors.KindNotFound) {
			return nil, err
		}
	}

	if len(req.Offer) == 0 {
		return nil, apperrors.New(apperrors.KindInvalidOffer, op, "offer is required")
	}
	if len(req.Travelers) == 0 {
		return nil, apperrors.Validation(op, "at least one traveler is required")
	}

	bookingID := uuid.New()
	passengers := make([]models.Passenger, 0, len(req.Travelers))
	for i := range req.Travelers {
		p, err := req.Travelers[i].ToPassenger(bookingID)
		if err != nil {
			return nil, apperrors.Validation(op, fmt.Sprintf("traveler %d: %v", i+1, err))
		}
		passengers = append(passengers, p)
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	// 2. Authoritative price
	confirmed, err := s.fares.ConfirmFare(ctx, req.Offer)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := validator.ValidateTripDates(confirmed.DepartureAt, confirmed.ReturnAt, now, s.config.MaxAdvanceDays); err != nil {
		return nil, err
	}

	// 3. Fee and discount
	count := len(passengers)
	tier := account.EffectiveTier(now)
	fee := s.fees.ComputeServiceFee(
		s.fees.IsDomestic(confirmed.Origin, confirmed.Destination),
		count,
		s.fees.IsUrgent(confirmed.DepartureAt, now),
		s.fees.IsGroup(count),
		tier,
		account.BookingsUsedThisPeriod,
	)
	var discount models.Money
	if req.UseReferralCredit {
		discount = ReferralDiscount(account.ReferralCredit, confirmed.BaseFare, confirmed.Taxes)
	}

	// 4. Persist
	b := &models.Booking{
		ID:             bookingID,
		AccountID:      accountID,
		IdempotencyKey: req.IdempotencyKey,
		Origin:         confirmed.Origin,
		Destination:    confirmed.Destination,
		DepartureAt:    confirmed.DepartureAt,
		ReturnAt:       confirmed.ReturnAt,
		Carrier:        confirmed.Carrier,
		FlightNumber:   confirmed.FlightNumber,
		CabinClass:     confirmed.CabinClass,
		TripType:       confirmed.TripType,
		OfferPayload:   models.RawJSON(confirmed.Offer),
		Currency:       strings.ToUpper(confirmed.Currency),
		Status:         models.BookingStatusRequested,
		Passengers:     passengers,
	}
	for _, p := range passengers {
		switch p.PassengerType {
		case models.PassengerAdult:
			b.Adults++
		case models.PassengerChild:
			b.Children++
		case models.PassengerInfant:
			b.Infants++
		}
	}
	b.SetAmounts(confirmed.BaseFare, fee, confirmed.Taxes, discount)

	if err := s.bookings.Create(ctx, b, s.config.ReferencePrefix); err != nil {
		// Lost a race on the same idempotency key
		if apperrors.Is(err, apperrors.KindConflict) && req.IdempotencyKey != nil {
			if existing, gerr := s.bookings.GetByIdempotencyKey(ctx, accountID, *req.IdempotencyKey); gerr == nil {
				return s.summarize(ctx, existing), nil
			}
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":        b.ID,
		"booking_reference": b.BookingReference,
		"account_id":        accountID,
		"tier":              tier,
		"service_fee":       b.ServiceFee.String(),
		"total":             b.Total.String(),
	}).Info("Booking requested")
	s.audit.LogBookingEvent(ctx, AuditBookingRequested, b, map[string]interface{}{
		"service_fee": b.ServiceFee.String(),
		"discount":    b.Discount.String(),
		"passengers":  count,
	})

	return s.summarize(ctx, b), nil
}

// ============================================================================
// SERVICE FEE + HOLD
// ============================================================================

// CaptureFee captures the service fee and then places the GDS hold. The fee
// is always captured before the hold is attempted. A fee that was captured
// earlier but never paired with a hold is reused, never charged twice.
func (s *BookingOrchestratorService) CaptureFee(
	ctx context.Context,
	caller Caller,
	bookingID uuid.UUID,
	paymentMethodRef string,
) (*models.BookingSummary, error) {
	const op = "services.CaptureFee"

	b, err := s.loadOwned(ctx, caller, bookingID)
	if err != nil {
		return nil, err
	}
	if err := checkFeeCapturable(op, b); err != nil {
		return nil, err
	}

	existing, err := s.payments.ListByBooking(ctx, b.ID)
	if err != nil {
		return nil, err
	}

	leased, err := s.takeFeeLease(ctx, b)
	if err != nil {
		return nil, err
	}

	fee, err := s.capture(ctx, leased, models.PaymentPurposeServiceFee, leased.ServiceFee, paymentMethodRef, existing)
	if err != nil {
		return s.captureFailed(ctx, leased, fee, err, func(attention models.AttentionReason) {
			s.releaseFeeLease(ctx, leased, attention)
		})
	}
	s.audit.LogBookingEvent(ctx, AuditFeeCaptured, leased, map[string]interface{}{
		"payment_id": fee.ID,
		"amount":     fee.Amount.String(),
	})

	held, err := s.placeHold(ctx, leased, fee)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, held), nil
}

// checkFeeCapturable rejects bookings that are not waiting for their fee
func checkFeeCapturable(op string, b *models.Booking) error {
	switch b.Status {
	case models.BookingStatusRequested:
	case models.BookingStatusFeePending:
		return apperrors.Conflict(op, "service fee payment is already in progress")
	case models.BookingStatusHeld, models.BookingStatusConfirmed, models.BookingStatusCompleted,
		models.BookingStatusCancelled, models.BookingStatusRefunded, models.BookingStatusFailedReconciliation:
		return apperrors.Conflict(op, fmt.Sprintf("service fee cannot be paid for a %s booking", b.Status))
	}
	if b.PendingOperation != models.OperationNone {
		return apperrors.Conflict(op, "another operation is in progress for this booking")
	}

	switch b.AttentionReason {
	case models.AttentionInventoryGone:
		return apperrors.New(apperrors.KindInventoryGone, op, "fare must be re-quoted")
	case models.AttentionPriceChanged:
		return apperrors.New(apperrors.KindPriceChanged, op, "fare must be re-confirmed")
	case models.AttentionAmountMismatch, models.AttentionRefundFailed:
		return apperrors.New(apperrors.KindReconciliationRequired, op, "booking is under review")
	case models.AttentionNone, models.AttentionHoldRetry, models.AttentionCaptureUnknown:
	}
	return nil
}

func (s *BookingOrchestratorService) takeFeeLease(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	none := models.OperationNone
	leased, err := s.bookings.Transition(ctx, b.ID, database.BookingTransition{
		From:            []models.BookingStatus{models.BookingStatusRequested},
		To:              models.BookingStatusFeePending,
		ExpectOperation: &none,
	})
	if err != nil {
		return nil, err
	}
	leased.Passengers = b.Passengers
	return leased, nil
}

// releaseFeeLease returns a fee_pending booking to requested. A failure is
// left to the reconciliation sweeper, which releases stale leases.
func (s *BookingOrchestratorService) releaseFeeLease(ctx context.Context, b *models.Booking, attention models.AttentionReason) *models.Booking {
	released, err := s.bookings.Transition(ctx, b.ID, database.BookingTransition{
		From:      []models.BookingStatus{models.BookingStatusFeePending},
		To:        models.BookingStatusRequested,
		Attention: &attention,
	})
	if err != nil {
		s.logger.WithError(err).WithField("booking_id", b.ID).Error("Failed to release fee_pending booking")
		return b
	}
	return released
}

// placeHold creates the GDS order for a booking whose fee is captured.
func (s *BookingOrchestratorService) placeHold(ctx context.Context, b *models.Booking, fee *models.Payment) (*models.Booking, error) {
	ref, err := s.orders.CreateOrder(ctx, offerFromBooking(b), travelersFromPassengers(b.Passengers))
	if err != nil {
		switch kind := apperrors.KindOf(err); kind {
		case apperrors.KindInventoryGone, apperrors.KindInvalidOffer:
			return nil, s.compensateFee(ctx, b, fee, models.AttentionInventoryGone, err)
		case apperrors.KindPriceChanged:
			return nil, s.compensateFee(ctx, b, fee, models.AttentionPriceChanged, err)
		default:
			s.logger.WithError(err).WithFields(logrus.Fields{
				"booking_id": b.ID,
				"payment_id": fee.ID,
				"kind":       kind,
			}).Warn("GDS hold failed after fee capture, fee retained for retry")
			s.releaseFeeLease(ctx, b, models.AttentionHoldRetry)
			return nil, err
		}
	}

	none := models.AttentionNone
	held, err := s.bookings.Transition(ctx, b.ID, database.BookingTransition{
		From:               []models.BookingStatus{models.BookingStatusFeePending},
		To:                 models.BookingStatusHeld,
		Attention:          &none,
		GDSOrderID:         &ref.OrderID,
		GDSConfirmation:    &ref.ConfirmationCode,
		ReconcilePaymentID: &fee.ID,
		IncrementUsage:     true,
	})
	if err != nil {
		// The lease was taken away (stale sweep) while the order was placed.
		// Drop the order; the captured fee stays unreconciled and is reused.
		s.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id": b.ID,
			"order_id":   ref.OrderID,
		}).Error("CRITICAL: GDS hold placed but booking could not be moved to held, cancelling order")
		if cerr := s.orders.CancelOrder(ctx, ref.OrderID); cerr != nil {
			s.logger.WithError(cerr).WithField("order_id", ref.OrderID).Error("Failed to cancel orphaned GDS order")
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":        held.ID,
		"booking_reference": held.BookingReference,
		"confirmation_code": ref.ConfirmationCode,
	}).Info("Booking held")
	s.audit.LogBookingEvent(ctx, AuditBookingHeld, held, map[string]interface{}{
		"confirmation_code": ref.ConfirmationCode,
	})
	return held, nil
}

// compensateFee refunds the fee after the GDS refused the hold. If the refund
// fails the booking goes to failed_reconciliation, which no automated job
// touches again.
func (s *BookingOrchestratorService) compensateFee(
	ctx context.Context,
	b *models.Booking,
	fee *models.Payment,
	attention models.AttentionReason,
	cause error,
) error {
	const op = "services.compensateFee"

	if amount := fee.Refundable(); amount > 0 {
		key := "hold-" + fee.ID.String()
		if err := s.refundPayment(ctx, b, fee, amount, "fare no longer available", key); err != nil {
			return s.failReconciliation(ctx, op, b, fee, amount, err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"attention":  attention,
	}).Warn("GDS refused the hold, fee refunded, booking needs a new quote")
	s.releaseFeeLease(ctx, b, attention)
	return cause
}

func (s *BookingOrchestratorService) failReconciliation(
	ctx context.Context,
	op string,
	b *models.Booking,
	fee *models.Payment,
	amount models.Money,
	cause error,
) error {
	attention := models.AttentionRefundFailed
	failed, err := s.bookings.Transition(ctx, b.ID, database.BookingTransition{
		From:      []models.BookingStatus{models.BookingStatusFeePending},
		To:        models.BookingStatusFailedReconciliation,
		Attention: &attention,
	})
	if err != nil {
		s.logger.WithError(err).WithField("booking_id", b.ID).Error("Failed to move booking to failed_reconciliation")
		failed = b
	}

	if err := s.exceptions.Create(ctx, models.NewFinancialException(
		models.ExceptionFeeRefund, b.ID, &fee.ID, amount, fee.Currency, cause)); err != nil {
		s.logger.WithError(err).WithField("booking_id", b.ID).Error("Failed to queue fee refund exception")
	}

	s.logger.WithError(cause).WithFields(logrus.Fields{
		"booking_id":        b.ID,
		"booking_reference": b.BookingReference,
		"payment_id":        fee.ID,
		"intent_id":         fee.IntentRef(),
		"amount":            amount.String(),
		"currency":          fee.Currency,
	}).Error("CRITICAL: service fee captured without a GDS hold and the refund failed")

	s.logPayment(ctx, models.PaymentEventReconciliationKO, fee, cause.Error())
	s.audit.LogBookingEvent(ctx, AuditReconciliationFail, failed, map[string]interface{}{
		"payment_id": fee.ID,
		"amount":     amount.String(),
		"error":      cause.Error(),
	})

	return apperrors.Wrap(apperrors.KindReconciliationRequired, op, cause)
}

// ============================================================================
// AIRLINE FARE
// ============================================================================

// CaptureFare captures base + taxes - discount for a held booking and
// confirms it.
func (s *BookingOrchestratorService) CaptureFare(
	ctx context.Context,
	caller Caller,
	bookingID uuid.UUID,
	paymentMethodRef string,
) (*models.BookingSummary, error) {
	const op = "services.CaptureFare"

	b, err := s.loadOwned(ctx, caller, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingStatusHeld {
		return nil, apperrors.Conflict(op, fmt.Sprintf("airline fare cannot be paid for a %s booking", b.Status))
	}
	if b.PendingOperation != models.OperationNone {
		return nil, apperrors.Conflict(op, "another operation is in progress for this booking")
	}
	if b.AttentionReason == models.AttentionAmountMismatch {
		return nil, apperrors.New(apperrors.KindReconciliationRequired, op, "booking is under review")
	}

	existing, err := s.payments.ListByBooking(ctx, b.ID)
	if err != nil {
		return nil, err
	}

	leased, err := s.startOperation(ctx, b, models.OperationCaptureFare)
	if err != nil {
		return nil, err
	}

	fare, err := s.capture(ctx, leased, models.PaymentPurposeFare, leased.FareAmount(), paymentMethodRef, existing)
	if err != nil {
		return s.captureFailed(ctx, leased, fare, err, func(attention models.AttentionReason) {
			s.endOperation(ctx, leased, models.OperationCaptureFare, attention)
		})
	}

	confirmed, err := s.confirmBooking(ctx, leased, fare, true)
	if err != nil {
		// A webhook may have confirmed it first
		if current, gerr := s.bookings.GetByID(ctx, b.ID); gerr == nil && current.Status == models.BookingStatusConfirmed {
			return s.summarize(ctx, current), nil
		}
		return nil, err
	}
	return s.summarize(ctx, confirmed), nil
}

func (s *BookingOrchestratorService) confirmBooking(ctx context.Context, b *models.Booking, fare *models.Payment, leased bool) (*models.Booking, error) {
	none := models.AttentionNone
	t := database.BookingTransition{
		From:               []models.BookingStatus{models.BookingStatusHeld},
		To:                 models.BookingStatusConfirmed,
		ClearOperation:     true,
		Attention:          &none,
		ReconcilePaymentID: &fare.ID,
	}
	// Unleased confirmations (webhooks) must not overtake a cancellation
	op := models.OperationNone
	if leased {
		op = models.OperationCaptureFare
	}
	t.ExpectOperation = &op

	confirmed, err := s.bookings.Transition(ctx, b.ID, t)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":        confirmed.ID,
		"booking_reference": confirmed.BookingReference,
		"payment_id":        fare.ID,
	}).Info("Airline fare captured, booking confirmed")
	s.audit.LogBookingEvent(ctx, AuditFareCaptured, confirmed, map[string]interface{}{
		"payment_id": fare.ID,
		"amount":     fare.Amount.String(),
	})
	return confirmed, nil
}

// startOperation leases a booking for an operation that keeps its status
func (s *BookingOrchestratorService) startOperation(ctx context.Context, b *models.Booking, operation string) (*models.Booking, error) {
	none := models.OperationNone
	leased, err := s.bookings.Transition(ctx, b.ID, database.BookingTransition{
		From:            []models.BookingStatus{b.Status},
		To:              b.Status,
		ExpectOperation: &none,
		SetOperation:    &operation,
	})
	if err != nil {
		return nil, err
	}
	leased.Passengers = b.Passengers
	return leased, nil
}

func (s *BookingOrchestratorService) endOperation(ctx context.Context, b *models.Booking, operation string, attention models.AttentionReason) {
	if _, err := s.bookings.Transition(ctx, b.ID, database.BookingTransition{
		From:            []models.BookingStatus{b.Status},
		To:              b.Status,
		ExpectOperation: &operation,
		ClearOperation:  true,
		Attention:       &attention,
	}); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id": b.ID,
			"operation":  operation,
		}).Error("Failed to end booking operation")
	}
}

// ============================================================================
// CAPTURE (shared by fee and fare)
// ============================================================================

// capture returns a captured payment of purpose for b. An earlier captured
// payment that was never paired is reused; a pending one is resumed with its
// original idempotency key.
func (s *BookingOrchestratorService) capture(
	ctx context.Context,
	b *models.Booking,
	purpose models.PaymentPurpose,
	amount models.Money,
	paymentMethodRef string,
	existing []models.Payment,
) (*models.Payment, error) {
	for i := range existing {
		p := &existing[i]
		if p.Purpose != purpose {
			continue
		}
		switch p.Status {
		case models.PaymentStatusCaptured:
			if !p.IsUnreconciledCapture() {
				continue
			}
			// A capture for the wrong amount is never paired with a hold or a confirmation
			disputed, err := s.exceptions.HasOpen(ctx, p.ID, models.ExceptionAmountMismatch)
			if err != nil {
				return nil, err
			}
			if disputed {
				return p, apperrors.New(apperrors.KindReconciliationRequired, "services.capture", "captured payment is under review")
			}
			s.logger.WithFields(logrus.Fields{
				"booking_id": b.ID,
				"payment_id": p.ID,
				"purpose":    purpose,
			}).Info("Reusing captured payment")
			return p, nil
		case models.PaymentStatusPending:
			return s.collect(ctx, b, p)
		case models.PaymentStatusRefunded, models.PaymentStatusFailed:
		}
	}

	p := &models.Payment{
		BookingID: b.ID,
		AccountID: b.AccountID,
		Purpose:   purpose,
		Amount:    amount,
		Currency:  b.Currency,
		Status:    models.PaymentStatusPending,
	}
	if paymentMethodRef != "" {
		p.PaymentMethodRef = &paymentMethodRef
	}

	// Nothing to collect (waived fee, fare fully covered by credit)
	if amount == 0 {
		now := s.now()
		p.Status = models.PaymentStatusCaptured
		p.CapturedAt = &now
		if err := s.payments.Create(ctx, p); err != nil {
			return nil, err
		}
		s.logPayment(ctx, models.PaymentEventCaptured, p, "")
		return p, nil
	}

	if err := s.payments.Create(ctx, p); err != nil {
		return nil, err
	}
	return s.collect(ctx, b, p)
}

// collect creates (or resumes) the gateway intent for a pending payment,
// confirms it and records the result.
func (s *BookingOrchestratorService) collect(ctx context.Context, b *models.Booking, p *models.Payment) (*models.Payment, error) {
	const op = "services.collect"

	ref := payment.IntentRef{ID: p.IntentRef(), Amount: p.Amount, Currency: p.Currency}
	if ref.ID == "" {
		methodRef := ""
		if p.PaymentMethodRef != nil {
			methodRef = *p.PaymentMethodRef
		}
		created, err := s.gateway.CreateIntent(ctx, payment.IntentRequest{
			Amount:           p.Amount,
			Currency:         p.Currency,
			PaymentMethodRef: methodRef,
			IdempotencyKey:   p.ID.String(),
			Description:      fmt.Sprintf("%s %s", b.BookingReference, p.Purpose),
			Metadata: map[string]string{
				"booking_id":        b.ID.String(),
				"booking_reference": b.BookingReference,
				"payment_id":        p.ID.String(),
				"purpose":           string(p.Purpose),
			},
		})
		if err != nil {
			return p, err
		}
		if err := s.payments.SetIntent(ctx, p.ID, created.ID); err != nil {
			return p, err
		}
		p.IntentID = &created.ID
		ref = *created
		s.logPayment(ctx, models.PaymentEventIntentCreated, p, "")
	}

	outcome, err := s.gateway.ConfirmIntent(ctx, ref)
	switch {
	case apperrors.Is(err, apperrors.KindAmountMismatch):
		s.recordAmountMismatch(ctx, b, p, outcome)
		return p, err
	case apperrors.Is(err, apperrors.KindPaymentDeclined):
		s.markFailed(ctx, p, err.Error())
		return p, err
	case err != nil:
		return p, err
	}

	switch outcome.Status {
	case models.PaymentStatusCaptured:
		return s.markCaptured(ctx, p, outcome.ChargeID)
	case models.PaymentStatusFailed:
		reason := outcome.FailureReason
		if reason == "" {
			reason = "payment was declined"
		}
		s.markFailed(ctx, p, reason)
		return p, apperrors.New(apperrors.KindPaymentDeclined, op, reason)
	case models.PaymentStatusPending, models.PaymentStatusRefunded:
	}
	return p, errPaymentPending
}

func (s *BookingOrchestratorService) markCaptured(ctx context.Context, p *models.Payment, chargeID string) (*models.Payment, error) {
	var u database.PaymentUpdate
	if chargeID != "" {
		u.ChargeID = &chargeID
	}
	captured, err := s.payments.UpdateStatus(ctx, p.ID,
		[]models.PaymentStatus{models.PaymentStatusPending}, models.PaymentStatusCaptured, u)
	if apperrors.Is(err, apperrors.KindConflict) {
		// The webhook got there first
		current, gerr := s.payments.GetByID(ctx, p.ID)
		if gerr != nil {
			return p, gerr
		}
		if current.Status != models.PaymentStatusCaptured {
			return current, err
		}
		return current, nil
	}
	if err != nil {
		return p, err
	}
	s.logPayment(ctx, models.PaymentEventCaptured, captured, "")
	return captured, nil
}

func (s *BookingOrchestratorService) markFailed(ctx context.Context, p *models.Payment, reason string) {
	if _, err := s.payments.UpdateStatus(ctx, p.ID,
		[]models.PaymentStatus{models.PaymentStatusPending}, models.PaymentStatusFailed,
		database.PaymentUpdate{FailureReason: &reason}); err != nil && !apperrors.Is(err, apperrors.KindConflict) {
		s.logger.WithError(err).WithField("payment_id", p.ID).Error("Failed to mark payment failed")
	}
	p.Status = models.PaymentStatusFailed
	s.logPayment(ctx, models.PaymentEventFailed, p, reason)
}

// recordAmountMismatch stores a capture whose amount or currency differs
// from what was requested. The money is taken, so the payment is captured,
// but nothing proceeds until an operator looks at it.
func (s *BookingOrchestratorService) recordAmountMismatch(ctx context.Context, b *models.Booking, p *models.Payment, outcome *payment.Outcome) {
	received, currency, chargeID := p.Amount, p.Currency, ""
	if outcome != nil {
		received, currency, chargeID = outcome.Amount, strings.ToUpper(outcome.Currency), outcome.ChargeID
	}

	if captured, err := s.markCaptured(ctx, p, chargeID); err == nil {
		*p = *captured
	}

	if err := s.exceptions.Create(ctx, models.NewFinancialException(
		models.ExceptionAmountMismatch, b.ID, &p.ID, received, currency,
		fmt.Errorf("expected %s %s, gateway captured %s %s", p.Amount, p.Currency, received, currency))); err != nil {
		s.logger.WithError(err).WithField("booking_id", b.ID).Error("Failed to queue amount mismatch exception")
	}

	audit := models.NewPaymentAudit(models.PaymentEventAmountMismatch, models.PaymentSourceStripeAPI).SetPayment(p)
	audit.SetAmounts(p.Amount, received, currency)
	if err := s.events.Log(ctx, audit); err != nil {
		s.logger.WithError(err).Warn("Failed to log amount mismatch audit")
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":        b.ID,
		"booking_reference": b.BookingReference,
		"payment_id":        p.ID,
		"intent_id":         p.IntentRef(),
		"expected":          p.Amount.String(),
		"received":          received.String(),
		"currency":          currency,
	}).Error("CRITICAL: gateway captured a different amount than requested")
}

// flagAmountMismatch stops the booking behind a mismatched capture. A
// fee_pending lease is released so the hold is never placed; cancelled and
// settled bookings keep their status and the exception carries the case.
func (s *BookingOrchestratorService) flagAmountMismatch(ctx context.Context, bookingID uuid.UUID) {
	attention := models.AttentionAmountMismatch
	for attempt := 0; attempt < 3; attempt++ {
		b, err := s.bookings.GetByID(ctx, bookingID)
		if err != nil {
			s.logger.WithError(err).WithField("booking_id", bookingID).Error("Failed to load booking to flag amount mismatch")
			return
		}

		t := database.BookingTransition{
			From:      []models.BookingStatus{b.Status},
			To:        b.Status,
			Attention: &attention,
		}
		switch b.Status {
		case models.BookingStatusRequested, models.BookingStatusHeld:
		case models.BookingStatusFeePending:
			t.To = models.BookingStatusRequested
			t.ClearOperation = true
		case models.BookingStatusConfirmed, models.BookingStatusCompleted, models.BookingStatusCancelled,
			models.BookingStatusRefunded, models.BookingStatusFailedReconciliation:
			return
		}

		_, err = s.bookings.Transition(ctx, bookingID, t)
		if err == nil {
			return
		}
		if !apperrors.Is(err, apperrors.KindConflict) {
			s.logger.WithError(err).WithField("booking_id", bookingID).Error("Failed to flag amount mismatch on booking")
			return
		}
	}
	s.logger.WithField("booking_id", bookingID).Error("Booking kept changing, amount mismatch not flagged")
}

// captureFailed finishes a failed capture: release the lease with the right
// attention flag and decide what the traveler sees.
func (s *BookingOrchestratorService) captureFailed(
	ctx context.Context,
	b *models.Booking,
	p *models.Payment,
	err error,
	release func(models.AttentionReason),
) (*models.BookingSummary, error) {
	if errors.Is(err, errPaymentPending) {
		release(models.AttentionNone)
		current, gerr := s.bookings.GetByID(ctx, b.ID)
		if gerr != nil {
			current = b
		}
		summary := s.summarize(ctx, current)
		summary.PaymentStatus = string(models.PaymentStatusPending)
		summary.Message = messagePaymentProcessing
		return summary, nil
	}

	attention := models.AttentionNone
	switch apperrors.KindOf(err) {
	case apperrors.KindAmountMismatch, apperrors.KindReconciliationRequired:
		attention = models.AttentionAmountMismatch
	case apperrors.KindPaymentDeclined, apperrors.KindValidation:
	default:
		// The intent exists but its outcome was not observed
		if p != nil && p.IntentID != nil {
			attention = models.AttentionCaptureUnknown
		}
	}

	s.logger.WithError(err).WithFields(logrus.Fields{
		"booking_id": b.ID,
		"status":     b.Status,
		"attention":  attention,
	}).Warn("Payment capture did not complete")
	release(attention)
	return nil, err
}

// ============================================================================
// CANCELLATION
// ============================================================================

// CancelBooking cancels a requested or held booking and refunds the policy
// share of the total, bounded by what was actually captured. A refund that
// fails or times out never blocks the cancellation: it is queued as a
// financial exception for the sweeper.
func (s *BookingOrchestratorService) CancelBooking(
	ctx context.Context,
	caller Caller,
	bookingID uuid.UUID,
	reason string,
) (*models.BookingSummary, error) {
	const op = "services.CancelBooking"

	b, err := s.loadOwned(ctx, caller, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.Status.IsCancellable() {
		return nil, apperrors.Conflict(op, fmt.Sprintf("a %s booking cannot be cancelled", b.Status))
	}
	if b.PendingOperation != models.OperationNone {
		return nil, apperrors.Conflict(op, "another operation is in progress for this booking")
	}

	account, err := s.accounts.GetByID(ctx, b.AccountID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	pct := RefundPercentage(b.DepartureAt, now, account.EffectiveTier(now))

	leased, err := s.startOperation(ctx, b, models.OperationCancel)
	if err != nil {
		return nil, err
	}

	payments, err := s.payments.ListByBooking(ctx, b.ID)
	if err != nil {
		s.endOperation(ctx, leased, models.OperationCancel, leased.AttentionReason)
		return nil, err
	}

	var refundable models.Money
	var unsettled []uuid.UUID
	for i := range payments {
		refundable += payments[i].Refundable()
		if payments[i].Status == models.PaymentStatusPending {
			unsettled = append(unsettled, payments[i].ID)
		}
	}
	remaining := b.Total.Percent(pct).Min(refundable)

	var refunded, queued models.Money
	for i := range payments {
		if remaining <= 0 {
			break
		}
		p := &payments[i]
		amount := p.Refundable().Min(remaining)
		if amount <= 0 {
			continue
		}
		remaining -= amount

		key := fmt.Sprintf("cancel-%s-%s", b.ID, p.ID)
		if err := s.refundPayment(ctx, b, p, amount, "booking cancelled", key); err != nil {
			queued += amount
			if qerr := s.exceptions.Create(ctx, models.NewFinancialException(
				models.ExceptionCancellationRefund, b.ID, &p.ID, amount, p.Currency, err)); qerr != nil {
				s.logger.WithError(qerr).WithField("booking_id", b.ID).Error("Failed to queue cancellation refund")
			}
			continue
		}
		refunded += amount
	}

	if b.Status == models.BookingStatusHeld && b.GDSOrderID != nil {
		if err := s.orders.CancelOrder(ctx, *b.GDSOrderID); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"booking_id": b.ID,
				"order_id":   *b.GDSOrderID,
			}).Warn("Failed to cancel GDS order, it will lapse unticketed")
		}
	}

	final := models.BookingStatusCancelled
	if refunded > 0 && queued == 0 {
		final = models.BookingStatusRefunded
	}
	attention := models.AttentionNone
	if queued > 0 {
		attention = models.AttentionRefundFailed
	}
	cancelOp := models.OperationCancel
	if reason == "" {
		reason = "cancelled by traveler"
	}

	cancelled, err := s.bookings.Transition(ctx, b.ID, database.BookingTransition{
		From:               []models.BookingStatus{b.Status},
		To:                 final,
		ExpectOperation:    &cancelOp,
		ClearOperation:     true,
		Attention:          &attention,
		CancellationReason: &reason,
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":        b.ID,
		"booking_reference": b.BookingReference,
		"refund_percentage": pct,
		"refunded":          refunded.String(),
		"queued":            queued.String(),
		"status":            final,
	}).Info("Booking cancelled")
	s.audit.LogBookingEvent(ctx, AuditBookingCancelled, cancelled, map[string]interface{}{
		"refund_percentage": pct,
		"refunded":          refunded.String(),
		"queued":            queued.String(),
		"reason":            reason,
	})

	// A capture that settled while the booking was leased for cancellation
	// found it busy and was left alone; later ones are refunded by the webhook
	for _, id := range unsettled {
		p, err := s.payments.GetByID(ctx, id)
		if err != nil || p.Status != models.PaymentStatusCaptured {
			continue
		}
		s.refundLateCapture(ctx, cancelled, p)
		if current, gerr := s.bookings.GetByID(ctx, b.ID); gerr == nil {
			cancelled = current
		}
	}

	summary := s.summarize(ctx, cancelled)
	if queued > 0 || cancelled.AttentionReason == models.AttentionRefundFailed {
		summary.Message = messageRefundQueued
	}
	return summary, nil
}

// refundPayment refunds amount of p under the refund timeout and records it.
func (s *BookingOrchestratorService) refundPayment(
	ctx context.Context,
	b *models.Booking,
	p *models.Payment,
	amount models.Money,
	reason string,
	idempotencyKey string,
) error {
	rctx := ctx
	if s.config.RefundTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, s.config.RefundTimeout)
		defer cancel()
	}

	out, err := s.gateway.Refund(rctx, payment.RefundRequest{
		IntentID:        p.IntentRef(),
		Currency:        p.Currency,
		Captured:        p.Amount,
		AlreadyRefunded: p.RefundAmount,
		Amount:          &amount,
		Reason:          reason,
		IdempotencyKey:  idempotencyKey,
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id": b.ID,
			"payment_id": p.ID,
			"amount":     amount.String(),
		}).Error("Refund failed")
		s.logPayment(ctx, models.PaymentEventRefundFailed, p, err.Error())
		return err
	}

	updated, err := s.payments.AddRefund(ctx, p.ID, amount, reason)
	if err != nil {
		// The gateway refunded; charge.refunded brings the record up to date.
		s.logger.WithError(err).WithFields(logrus.Fields{
			"payment_id": p.ID,
			"refund_id":  out.RefundID,
		}).Error("Refund issued but not recorded")
	} else {
		*p = *updated
	}
	s.logPayment(ctx, models.PaymentEventRefundCompleted, p, "")
	return nil
}

// ============================================================================
// TICKETING
// ============================================================================

// RecordTicketing completes a confirmed booking with its ticket numbers
func (s *BookingOrchestratorService) RecordTicketing(ctx context.Context, bookingID uuid.UUID, ticketNumbers []string) (*models.BookingSummary, error) {
	const op = "services.RecordTicketing"

	if len(ticketNumbers) == 0 {
		return nil, apperrors.Validation(op, "at least one ticket number is required")
	}
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingStatusConfirmed {
		return nil, apperrors.Conflict(op, fmt.Sprintf("tickets cannot be recorded for a %s booking", b.Status))
	}

	completed, err := s.bookings.Transition(ctx, b.ID, database.BookingTransition{
		From:          []models.BookingStatus{models.BookingStatusConfirmed},
		To:            models.BookingStatusCompleted,
		TicketNumbers: ticketNumbers,
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": completed.ID,
		"tickets":    len(ticketNumbers),
	}).Info("Booking completed")
	s.audit.LogBookingEvent(ctx, AuditBookingCompleted, completed, map[string]interface{}{
		"ticket_numbers": ticketNumbers,
	})
	return s.summarize(ctx, completed), nil
}

// SyncTicketing polls the GDS for confirmed bookings and completes the ones
// that have been ticketed. Returns how many were completed.
func (s *BookingOrchestratorService) SyncTicketing(ctx context.Context, limit int) (int, error) {
	confirmed, err := s.bookings.ListByStatus(ctx, models.BookingStatusConfirmed, limit)
	if err != nil {
		return 0, err
	}

	completed := 0
	for i := range confirmed {
		b := &confirmed[i]
		if b.GDSOrderID == nil {
			continue
		}
		order, err := s.orders.GetOrder(ctx, *b.GDSOrderID)
		if err != nil {
			s.logger.WithError(err).WithField("booking_id", b.ID).Warn("Ticketing sync: failed to get order")
			continue
		}
		if len(order.TicketNumbers) == 0 {
			continue
		}
		if _, err := s.RecordTicketing(ctx, b.ID, order.TicketNumbers); err != nil {
			s.logger.WithError(err).WithField("booking_id", b.ID).Warn("Ticketing sync: failed to record tickets")
			continue
		}
		completed++
	}
	return completed, nil
}

// ============================================================================
// WEBHOOK EVENTS
// ============================================================================

// ApplyPaymentEvent applies a verified gateway event. Redelivery of an event
// already applied is a no-op. Status changes only move forward, so
// out-of-order delivery cannot regress a captured payment.
func (s *BookingOrchestratorService) ApplyPaymentEvent(ctx context.Context, ev *payment.Event) error {
	if ev == nil || !ev.Relevant() {
		return nil
	}

	processed, err := s.events.IsProcessed(ctx, ev.ID)
	if err != nil {
		return err
	}
	if processed {
		s.logger.WithField("event_id", ev.ID).Debug("Duplicate payment event ignored")
		return nil
	}

	audit := models.NewPaymentAudit(models.PaymentEventWebhookReceived, models.PaymentSourceStripeWebhook).
		SetProviderEvent(ev.ID, ev.IntentID).
		SetPaymentStatus(ev.Type)
	if len(ev.Payload) > 0 {
		audit.SetRawBody(string(ev.Payload))
	}

	p, err := s.payments.GetByIntentID(ctx, ev.IntentID)
	if apperrors.Is(err, apperrors.KindNotFound) {
		s.logger.WithFields(logrus.Fields{
			"event_id":  ev.ID,
			"intent_id": ev.IntentID,
		}).Warn("Payment event for unknown intent")
		audit.EventType = models.PaymentEventUnknownIntent
		return s.recordEvent(ctx, audit)
	}
	if err != nil {
		return err
	}
	audit.SetPayment(p)

	eventAt := ev.Created
	switch ev.Type {
	case payment.EventPaymentSucceeded:
		if !capturedAsRequested(p, ev.Amount, ev.Currency) && p.Status == models.PaymentStatusPending {
			b, berr := s.bookings.GetByID(ctx, p.BookingID)
			if berr != nil {
				return berr
			}
			s.recordAmountMismatch(ctx, b, p, &payment.Outcome{
				IntentID: ev.IntentID,
				Amount:   ev.Amount,
				Currency: ev.Currency,
			})
			s.flagAmountMismatch(ctx, b.ID)
			audit.EventType = models.PaymentEventAmountMismatch
			audit.SetAmounts(p.Amount, ev.Amount, ev.Currency)
			return s.recordEvent(ctx, audit)
		}

		captured, err := s.payments.UpdateStatus(ctx, p.ID,
			[]models.PaymentStatus{models.PaymentStatusPending}, models.PaymentStatusCaptured,
			database.PaymentUpdate{EventAt: &eventAt})
		switch {
		case apperrors.Is(err, apperrors.KindConflict):
			audit.EventType = models.PaymentEventStaleEvent
		case err != nil:
			return err
		default:
			audit.EventType = models.PaymentEventCaptured
			s.continueAfterCapture(ctx, captured)
		}

	case payment.EventPaymentFailed:
		reason := ev.FailureReason
		_, err := s.payments.UpdateStatus(ctx, p.ID,
			[]models.PaymentStatus{models.PaymentStatusPending}, models.PaymentStatusFailed,
			database.PaymentUpdate{FailureReason: &reason, EventAt: &eventAt})
		switch {
		case apperrors.Is(err, apperrors.KindConflict):
			audit.EventType = models.PaymentEventStaleEvent
		case err != nil:
			return err
		default:
			audit.EventType = models.PaymentEventFailed
			audit.SetError(reason)
		}

	case payment.EventChargeRefunded:
		_, err := s.payments.SyncRefundedTotal(ctx, p.ID, ev.AmountRefunded, eventAt)
		switch {
		case apperrors.Is(err, apperrors.KindConflict):
			audit.EventType = models.PaymentEventStaleEvent
		case err != nil:
			return err
		default:
			audit.EventType = models.PaymentEventRefundCompleted
		}
	}

	return s.recordEvent(ctx, audit)
}

// capturedAsRequested reports whether the gateway took exactly what p asked for
func capturedAsRequested(p *models.Payment, amount models.Money, currency string) bool {
	return amount == p.Amount && strings.EqualFold(currency, p.Currency)
}

func (s *BookingOrchestratorService) recordEvent(ctx context.Context, audit *models.PaymentAudit) error {
	inserted, err := s.events.RecordProviderEvent(ctx, audit.MarkProcessed())
	if err != nil {
		return err
	}
	if !inserted {
		s.logger.WithField("event_id", audit.ProviderEventID).Debug("Payment event recorded concurrently")
	}
	return nil
}

// continueAfterCapture finishes the flow a settled capture was waiting for:
// a service fee on a requested booking proceeds to the hold, a fare on a
// held booking confirms it. Failures are logged; the traveler can retry.
func (s *BookingOrchestratorService) continueAfterCapture(ctx context.Context, p *models.Payment) {
	b, err := s.bookings.GetByID(ctx, p.BookingID)
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", p.ID).Warn("Captured payment has no readable booking")
		return
	}
	log := s.logger.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"payment_id": p.ID,
		"purpose":    p.Purpose,
	})

	if b.Status == models.BookingStatusCancelled || b.Status == models.BookingStatusRefunded {
		s.refundLateCapture(ctx, b, p)
		return
	}

	switch p.Purpose {
	case models.PaymentPurposeServiceFee:
		if b.Status != models.BookingStatusRequested || checkFeeCapturable("services.continueAfterCapture", b) != nil {
			return
		}
		leased, err := s.takeFeeLease(ctx, b)
		if err != nil {
			log.WithError(err).Info("Fee captured but booking is busy, hold left to the traveler")
			return
		}
		s.audit.LogBookingEvent(ctx, AuditFeeCaptured, leased, map[string]interface{}{
			"payment_id": p.ID,
			"amount":     p.Amount.String(),
		})
		if _, err := s.placeHold(ctx, leased, p); err != nil {
			log.WithError(err).Warn("Hold after asynchronous fee capture failed")
		}

	case models.PaymentPurposeFare:
		if b.Status != models.BookingStatusHeld {
			return
		}
		if _, err := s.confirmBooking(ctx, b, p, false); err != nil {
			log.WithError(err).Info("Fare captured but booking could not be confirmed")
		}
	}
}

// refundLateCapture returns money that settled after its booking was
// cancelled. The cancellation never counted it, so it is refunded in full;
// a failed refund is queued for the sweeper.
func (s *BookingOrchestratorService) refundLateCapture(ctx context.Context, b *models.Booking, p *models.Payment) {
	current, err := s.payments.GetByID(ctx, p.ID)
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", p.ID).Error("Late capture on a cancelled booking: payment not readable")
		return
	}
	amount := current.Refundable()
	if amount <= 0 || !current.IsUnreconciledCapture() {
		return
	}

	log := s.logger.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"payment_id": current.ID,
		"purpose":    current.Purpose,
		"amount":     amount.String(),
	})
	log.Warn("Payment captured after the booking was cancelled, refunding")

	if err := s.refundPayment(ctx, b, current, amount, "booking cancelled", "late-"+current.ID.String()); err != nil {
		if qerr := s.exceptions.Create(ctx, models.NewFinancialException(
			models.ExceptionCancellationRefund, b.ID, &current.ID, amount, current.Currency, err)); qerr != nil {
			log.WithError(qerr).Error("Failed to queue late capture refund")
		}
		attention := models.AttentionRefundFailed
		if _, terr := s.bookings.Transition(ctx, b.ID, database.BookingTransition{
			From:      []models.BookingStatus{b.Status},
			To:        b.Status,
			Attention: &attention,
		}); terr != nil {
			log.WithError(terr).Warn("Failed to flag queued late capture refund")
		}
		return
	}

	s.audit.LogBookingEvent(ctx, AuditLateCaptureRefunded, b, map[string]interface{}{
		"payment_id": current.ID,
		"amount":     amount.String(),
	})
}

// ============================================================================
// READ
// ============================================================================

// GetBooking returns a booking the caller may see
func (s *BookingOrchestratorService) GetBooking(ctx context.Context, caller Caller, bookingID uuid.UUID) (*models.BookingSummary, error) {
	b, err := s.loadOwned(ctx, caller, bookingID)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, b), nil
}

// ListReconciliationQueue returns what needs an operator: bookings in
// failed_reconciliation and open financial exceptions.
func (s *BookingOrchestratorService) ListReconciliationQueue(ctx context.Context, limit int) (*models.ReconciliationQueue, error) {
	bookings, err := s.bookings.ListByStatus(ctx, models.BookingStatusFailedReconciliation, limit)
	if err != nil {
		return nil, err
	}
	exceptions, err := s.exceptions.ListOpen(ctx, limit)
	if err != nil {
		return nil, err
	}
	queue := &models.ReconciliationQueue{Bookings: bookings, Exceptions: exceptions}
	if queue.Bookings == nil {
		queue.Bookings = []models.Booking{}
	}
	if queue.Exceptions == nil {
		queue.Exceptions = []models.FinancialException{}
	}
	return queue, nil
}

// loadOwned hides bookings of other accounts behind not_found
func (s *BookingOrchestratorService) loadOwned(ctx context.Context, caller Caller, bookingID uuid.UUID) (*models.Booking, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !caller.Staff && !b.IsOwnedBy(caller.AccountID) {
		return nil, apperrors.NotFound("services.loadOwned", "booking not found")
	}
	return b, nil
}

// summarize builds the traveler view. Payment details are best effort.
func (s *BookingOrchestratorService) summarize(ctx context.Context, b *models.Booking) *models.BookingSummary {
	summary := b.Summary()
	summary.Message = bookingMessage(b)

	payments, err := s.payments.ListByBooking(ctx, b.ID)
	if err != nil {
		s.logger.WithError(err).WithField("booking_id", b.ID).Warn("Failed to load payments for summary")
		return summary
	}
	for i := range payments {
		summary.RefundedAmount += payments[i].RefundAmount
	}
	if len(payments) > 0 {
		summary.PaymentStatus = string(payments[0].Status)
	}
	return summary
}

func bookingMessage(b *models.Booking) string {
	if b.Status == models.BookingStatusFailedReconciliation {
		return messagePaymentReceived
	}
	switch b.AttentionReason {
	case models.AttentionInventoryGone, models.AttentionPriceChanged:
		return messageRequote
	case models.AttentionHoldRetry:
		return messageHoldRetry
	case models.AttentionCaptureUnknown:
		return messageCaptureUnknown
	case models.AttentionAmountMismatch:
		return messagePaymentReceived
	case models.AttentionRefundFailed:
		return messageRefundQueued
	case models.AttentionNone:
	}
	return ""
}

// logPayment writes a payment audit entry; failures only log.
func (s *BookingOrchestratorService) logPayment(ctx context.Context, eventType models.PaymentEventType, p *models.Payment, errMsg string) {
	audit := models.NewPaymentAudit(eventType, models.PaymentSourceBackend).SetPayment(p)
	if errMsg != "" {
		audit.SetError(errMsg)
	}
	if err := s.events.Log(ctx, audit); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"payment_id": p.ID,
			"event_type": eventType,
		}).Warn("Failed to write payment audit")
	}
}

// offerFromBooking rebuilds the confirmed offer stored at request time
func offerFromBooking(b *models.Booking) *gds.ConfirmedOffer {
	return &gds.ConfirmedOffer{
		Offer:        []byte(b.OfferPayload),
		Currency:     b.Currency,
		BaseFare:     b.BaseFare,
		Taxes:        b.Taxes,
		GrandTotal:   b.BaseFare + b.Taxes,
		Origin:       b.Origin,
		Destination:  b.Destination,
		DepartureAt:  b.DepartureAt,
		ReturnAt:     b.ReturnAt,
		Carrier:      b.Carrier,
		FlightNumber: b.FlightNumber,
		CabinClass:   b.CabinClass,
		TripType:     b.TripType,
	}
}

func travelersFromPassengers(passengers []models.Passenger) []gds.Traveler {
	travelers := make([]gds.Traveler, 0, len(passengers))
	for i, p := range passengers {
		t := gds.Traveler{
			ID:          fmt.Sprintf("%d", i+1),
			FirstName:   p.FirstName,
			LastName:    p.LastName,
			DateOfBirth: p.DateOfBirth,
			Gender:      p.Gender,
			Document: gds.Document{
				Type:           p.DocumentType,
				Number:         p.DocumentNumber,
				Expiry:         p.DocumentExpiry,
				IssuingCountry: p.IssuingCountry,
				Nationality:    p.Nationality,
			},
		}
		if p.Email != nil {
			t.Email = *p.Email
		}
		if p.Phone != nil {
			t.Phone = *p.Phone
		}
		travelers = append(travelers, t)
	}
	return travelers
}
