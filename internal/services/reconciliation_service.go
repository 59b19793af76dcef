package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tripgate/booking-backend/internal/config"
	"github.com/tripgate/booking-backend/internal/database"
	"github.com/tripgate/booking-backend/internal/models"
	"github.com/tripgate/booking-backend/internal/payment"
	"github.com/tripgate/booking-backend/pkg/apperrors"
)

// SweepReport counts what one reconciliation pass did
type SweepReport struct {
	RefundsRetried         int `json:"refunds_retried"`
	RefundsResolved        int `json:"refunds_resolved"`
	Escalated              int `json:"escalated"`
	StaleFeeReleased       int `json:"stale_fee_released"`
	StaleOperationsCleared int `json:"stale_operations_cleared"`
	Expired                int `json:"expired"`
}

// ReconciliationService retries queued refunds and releases bookings left
// behind by interrupted flows. It never touches failed_reconciliation
// bookings or exceptions that are not retryable; those wait for an operator.
type ReconciliationService struct {
	bookings   BookingStore
	payments   PaymentStore
	exceptions ExceptionStore
	events     PaymentEventLog
	gateway    PaymentGateway
	cfg        config.BookingConfig
	logger     *logrus.Logger
	now        func() time.Time
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(
	bookings BookingStore,
	payments PaymentStore,
	exceptions ExceptionStore,
	events PaymentEventLog,
	gateway PaymentGateway,
	cfg config.BookingConfig,
	logger *logrus.Logger,
) *ReconciliationService {
	return &ReconciliationService{
		bookings:   bookings,
		payments:   payments,
		exceptions: exceptions,
		events:     events,
		gateway:    gateway,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// RunOnce performs one sweep. Individual item failures are logged and the
// sweep carries on; only a failed listing aborts it.
func (s *ReconciliationService) RunOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	if err := s.retryRefunds(ctx, &report); err != nil {
		return report, err
	}
	if err := s.releaseStaleFees(ctx, &report); err != nil {
		return report, err
	}
	if err := s.clearStaleOperations(ctx, &report); err != nil {
		return report, err
	}
	if err := s.expireRequests(ctx, &report); err != nil {
		return report, err
	}

	s.logger.WithFields(logrus.Fields{
		"refunds_retried":  report.RefundsRetried,
		"refunds_resolved": report.RefundsResolved,
		"escalated":        report.Escalated,
		"stale_fee":        report.StaleFeeReleased,
		"stale_operations": report.StaleOperationsCleared,
		"expired":          report.Expired,
	}).Info("Reconciliation sweep finished")
	return report, nil
}

func (s *ReconciliationService) batch() int {
	if s.cfg.SweepBatchSize > 0 {
		return s.cfg.SweepBatchSize
	}
	return 100
}

// retryRefunds retries cancellation refunds that failed inline
func (s *ReconciliationService) retryRefunds(ctx context.Context, report *SweepReport) error {
	pending, err := s.exceptions.ListPending(ctx, models.ExceptionCancellationRefund, s.batch())
	if err != nil {
		return fmt.Errorf("failed to list pending refunds: %w", err)
	}

	for i := range pending {
		fe := &pending[i]
		if !fe.Kind.Retryable() || fe.PaymentID == nil {
			continue
		}
		log := s.logger.WithFields(logrus.Fields{
			"exception_id": fe.ID,
			"booking_id":   fe.BookingID,
			"payment_id":   *fe.PaymentID,
		})

		p, err := s.payments.GetByID(ctx, *fe.PaymentID)
		if err != nil {
			log.WithError(err).Warn("Refund retry: payment not readable")
			continue
		}

		amount := fe.Amount.Min(p.Refundable())
		if amount <= 0 {
			// Already refunded out of band
			if err := s.exceptions.Resolve(ctx, fe.ID); err != nil {
				log.WithError(err).Warn("Refund retry: failed to resolve exception")
				continue
			}
			report.RefundsResolved++
			continue
		}

		report.RefundsRetried++
		_, err = s.gateway.Refund(ctx, payment.RefundRequest{
			IntentID:        p.IntentRef(),
			Currency:        p.Currency,
			Captured:        p.Amount,
			AlreadyRefunded: p.RefundAmount,
			Amount:          &amount,
			Reason:          "booking cancelled",
			IdempotencyKey:  "exception-" + fe.ID.String(),
		})
		if err != nil {
			escalate := fe.Attempts+1 >= s.cfg.ExceptionMaxAttempts
			if rerr := s.exceptions.RecordAttempt(ctx, fe.ID, err, escalate); rerr != nil {
				log.WithError(rerr).Warn("Refund retry: failed to record attempt")
			}
			if escalate {
				report.Escalated++
				log.WithError(err).WithField("attempts", fe.Attempts+1).
					Error("CRITICAL: cancellation refund escalated to operators")
			} else {
				log.WithError(err).Warn("Refund retry failed")
			}
			continue
		}

		if _, err := s.payments.AddRefund(ctx, p.ID, amount, "booking cancelled"); err != nil {
			log.WithError(err).Error("Refund retry issued but not recorded")
		}
		audit := models.NewPaymentAudit(models.PaymentEventRefundCompleted, models.PaymentSourceSystem).SetPayment(p)
		if err := s.events.Log(ctx, audit); err != nil {
			log.WithError(err).Warn("Refund retry: failed to write payment audit")
		}
		if err := s.exceptions.Resolve(ctx, fe.ID); err != nil {
			log.WithError(err).Warn("Refund retry: failed to resolve exception")
			continue
		}
		report.RefundsResolved++
		log.WithField("amount", amount.String()).Info("Queued cancellation refund completed")
	}
	return nil
}

// releaseStaleFees returns fee_pending bookings whose flow died to requested
func (s *ReconciliationService) releaseStaleFees(ctx context.Context, report *SweepReport) error {
	stale, err := s.bookings.ListStaleFeePending(ctx, s.now().Add(-s.cfg.StaleOperationAfter), s.batch())
	if err != nil {
		return fmt.Errorf("failed to list stale fee_pending bookings: %w", err)
	}

	for i := range stale {
		b := &stale[i]
		attention := s.feeAttention(ctx, b)
		if _, err := s.bookings.Transition(ctx, b.ID, database.BookingTransition{
			From:           []models.BookingStatus{models.BookingStatusFeePending},
			To:             models.BookingStatusRequested,
			ClearOperation: true,
			Attention:      &attention,
		}); err != nil {
			if !apperrors.Is(err, apperrors.KindConflict) {
				s.logger.WithError(err).WithField("booking_id", b.ID).Warn("Failed to release stale fee_pending booking")
			}
			continue
		}
		report.StaleFeeReleased++
		s.logger.WithFields(logrus.Fields{
			"booking_id": b.ID,
			"attention":  attention,
		}).Warn("Released stale fee_pending booking")
	}
	return nil
}

// feeAttention decides how a released booking is flagged. A captured fee
// that never got its hold means hold_retry. A pending fee intent is asked
// about once; one captured for the wrong amount blocks the booking, anything
// unresolved is capture_unknown.
func (s *ReconciliationService) feeAttention(ctx context.Context, b *models.Booking) models.AttentionReason {
	payments, err := s.payments.ListByBooking(ctx, b.ID)
	if err != nil {
		return models.AttentionCaptureUnknown
	}

	unknown := false
	for i := range payments {
		p := &payments[i]
		if p.Purpose != models.PaymentPurposeServiceFee {
			continue
		}
		if p.IsUnreconciledCapture() {
			return models.AttentionHoldRetry
		}
		if p.Status != models.PaymentStatusPending || p.IntentID == nil {
			continue
		}

		outcome, err := s.gateway.GetIntent(ctx, *p.IntentID)
		if err != nil || outcome.Status != models.PaymentStatusCaptured {
			unknown = true
			continue
		}
		if !capturedAsRequested(p, outcome.Amount, outcome.Currency) {
			s.recordFeeMismatch(ctx, b, p, outcome)
			return models.AttentionAmountMismatch
		}
		u := database.PaymentUpdate{}
		if outcome.ChargeID != "" {
			u.ChargeID = &outcome.ChargeID
		}
		if _, err := s.payments.UpdateStatus(ctx, p.ID,
			[]models.PaymentStatus{models.PaymentStatusPending}, models.PaymentStatusCaptured, u); err == nil {
			return models.AttentionHoldRetry
		}
		unknown = true
	}

	if unknown {
		return models.AttentionCaptureUnknown
	}
	return models.AttentionNone
}

// recordFeeMismatch captures the fee as the gateway reports it and queues
// the difference for an operator
func (s *ReconciliationService) recordFeeMismatch(ctx context.Context, b *models.Booking, p *models.Payment, outcome *payment.Outcome) {
	received, currency := outcome.Amount, strings.ToUpper(outcome.Currency)
	log := s.logger.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"payment_id": p.ID,
		"intent_id":  p.IntentRef(),
		"expected":   p.Amount.String(),
		"received":   received.String(),
		"currency":   currency,
	})

	u := database.PaymentUpdate{}
	if outcome.ChargeID != "" {
		u.ChargeID = &outcome.ChargeID
	}
	if captured, err := s.payments.UpdateStatus(ctx, p.ID,
		[]models.PaymentStatus{models.PaymentStatusPending}, models.PaymentStatusCaptured, u); err == nil {
		*p = *captured
	} else if !apperrors.Is(err, apperrors.KindConflict) {
		log.WithError(err).Warn("Failed to mark mismatched fee captured")
	}

	if err := s.exceptions.Create(ctx, models.NewFinancialException(
		models.ExceptionAmountMismatch, b.ID, &p.ID, received, currency,
		fmt.Errorf("expected %s %s, gateway captured %s %s", p.Amount, p.Currency, received, currency))); err != nil {
		log.WithError(err).Error("Failed to queue amount mismatch exception")
	}

	audit := models.NewPaymentAudit(models.PaymentEventAmountMismatch, models.PaymentSourceSystem).SetPayment(p)
	audit.SetAmounts(p.Amount, received, currency)
	if err := s.events.Log(ctx, audit); err != nil {
		log.WithError(err).Warn("Failed to log amount mismatch audit")
	}
	log.Error("CRITICAL: stale fee intent captured a different amount than requested")
}

// clearStaleOperations ends leases on requested/held bookings that outlived
// their flow
func (s *ReconciliationService) clearStaleOperations(ctx context.Context, report *SweepReport) error {
	stale, err := s.bookings.ListStaleOperations(ctx, s.now().Add(-s.cfg.StaleOperationAfter), s.batch())
	if err != nil {
		return fmt.Errorf("failed to list stale operations: %w", err)
	}

	for i := range stale {
		b := &stale[i]
		operation := b.PendingOperation
		t := database.BookingTransition{
			From:            []models.BookingStatus{b.Status},
			To:              b.Status,
			ExpectOperation: &operation,
			ClearOperation:  true,
		}
		if operation == models.OperationCaptureFare {
			attention := models.AttentionCaptureUnknown
			t.Attention = &attention
		}
		if _, err := s.bookings.Transition(ctx, b.ID, t); err != nil {
			if !apperrors.Is(err, apperrors.KindConflict) {
				s.logger.WithError(err).WithField("booking_id", b.ID).Warn("Failed to clear stale operation")
			}
			continue
		}
		report.StaleOperationsCleared++
		s.logger.WithFields(logrus.Fields{
			"booking_id": b.ID,
			"operation":  operation,
		}).Warn("Cleared stale booking operation")
	}
	return nil
}

// expireRequests cancels requested bookings whose offer has lapsed with no
// money ever moved
func (s *ReconciliationService) expireRequests(ctx context.Context, report *SweepReport) error {
	if s.cfg.OfferTTL <= 0 {
		return nil
	}
	expired, err := s.bookings.ListExpiredRequests(ctx, s.now().Add(-s.cfg.OfferTTL), s.batch())
	if err != nil {
		return fmt.Errorf("failed to list expired requests: %w", err)
	}

	reason := "offer expired"
	none := models.OperationNone
	for i := range expired {
		b := &expired[i]
		if _, err := s.bookings.Transition(ctx, b.ID, database.BookingTransition{
			From:               []models.BookingStatus{models.BookingStatusRequested},
			To:                 models.BookingStatusCancelled,
			ExpectOperation:    &none,
			CancellationReason: &reason,
		}); err != nil {
			if !apperrors.Is(err, apperrors.KindConflict) {
				s.logger.WithError(err).WithField("booking_id", b.ID).Warn("Failed to expire booking request")
			}
			continue
		}
		report.Expired++
	}
	return nil
}
