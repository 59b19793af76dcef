package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tripgate/booking-backend/internal/database"
	"github.com/tripgate/booking-backend/internal/gds"
	"github.com/tripgate/booking-backend/internal/models"
	"github.com/tripgate/booking-backend/internal/payment"
	"github.com/tripgate/booking-backend/pkg/apperrors"
)

// memDB backs the fake stores. Every fake takes its lock, so concurrent
// flows see the same compare-and-swap semantics the repositories give.
type memDB struct {
	mu          sync.Mutex
	clock       time.Time
	bookings    map[uuid.UUID]*models.Booking
	payments    map[uuid.UUID]*models.Payment
	accounts    map[uuid.UUID]*models.Account
	exceptions  []*models.FinancialException
	audits      []*models.PaymentAudit
	processed   map[string]bool
	transitions []models.BookingStatus
	seq         int
}

func newMemDB(now time.Time) *memDB {
	return &memDB{
		clock:     now,
		bookings:  make(map[uuid.UUID]*models.Booking),
		payments:  make(map[uuid.UUID]*models.Payment),
		accounts:  make(map[uuid.UUID]*models.Account),
		processed: make(map[string]bool),
	}
}

// tick returns a strictly increasing timestamp so "newest first" is stable
func (db *memDB) tick() time.Time {
	db.seq++
	return db.clock.Add(time.Duration(db.seq) * time.Millisecond)
}

func cloneBooking(b *models.Booking, withPassengers bool) *models.Booking {
	c := *b
	c.Passengers = nil
	if withPassengers {
		c.Passengers = append([]models.Passenger(nil), b.Passengers...)
	}
	return &c
}

func clonePayment(p *models.Payment) *models.Payment {
	c := *p
	return &c
}

func containsStatus(statuses []models.BookingStatus, s models.BookingStatus) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

func containsPaymentStatus(statuses []models.PaymentStatus, s models.PaymentStatus) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

// ============================================================================
// BOOKINGS
// ============================================================================

type fakeBookings struct{ db *memDB }

func (f *fakeBookings) Create(_ context.Context, b *models.Booking, referencePrefix string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()

	if b.IdempotencyKey != nil {
		for _, existing := range f.db.bookings {
			if existing.AccountID == b.AccountID && existing.IdempotencyKey != nil && *existing.IdempotencyKey == *b.IdempotencyKey {
				return apperrors.Conflict("fake.Create", "duplicate idempotency key")
			}
		}
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.BookingReference == "" {
		f.db.seq++
		b.BookingReference = fmt.Sprintf("%s-%06d", referencePrefix, f.db.seq)
	}
	if b.Discount > 0 {
		if a := f.db.accounts[b.AccountID]; a != nil {
			a.ReferralCredit -= b.Discount
		}
	}
	now := f.db.tick()
	b.CreatedAt = now
	b.UpdatedAt = now
	b.RecomputeTotal()
	f.db.bookings[b.ID] = cloneBooking(b, true)
	return nil
}

func (f *fakeBookings) GetByID(_ context.Context, id uuid.UUID) (*models.Booking, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	b, ok := f.db.bookings[id]
	if !ok {
		return nil, apperrors.NotFound("fake.GetByID", "booking not found")
	}
	return cloneBooking(b, true), nil
}

func (f *fakeBookings) GetByIdempotencyKey(_ context.Context, accountID uuid.UUID, key string) (*models.Booking, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, b := range f.db.bookings {
		if b.AccountID == accountID && b.IdempotencyKey != nil && *b.IdempotencyKey == key {
			return cloneBooking(b, true), nil
		}
	}
	return nil, apperrors.NotFound("fake.GetByIdempotencyKey", "booking not found")
}

func (f *fakeBookings) list(match func(b *models.Booking) bool, limit int) []models.Booking {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []models.Booking
	for _, b := range f.db.bookings {
		if match(b) {
			out = append(out, *cloneBooking(b, false))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (f *fakeBookings) ListByStatus(_ context.Context, status models.BookingStatus, limit int) ([]models.Booking, error) {
	return f.list(func(b *models.Booking) bool { return b.Status == status }, limit), nil
}

func (f *fakeBookings) ListStaleFeePending(_ context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	return f.list(func(b *models.Booking) bool {
		return b.Status == models.BookingStatusFeePending && b.PendingSince != nil && b.PendingSince.Before(cutoff)
	}, limit), nil
}

func (f *fakeBookings) ListStaleOperations(_ context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	return f.list(func(b *models.Booking) bool {
		return (b.Status == models.BookingStatusRequested || b.Status == models.BookingStatusHeld) &&
			b.PendingOperation != "" && b.PendingSince != nil && b.PendingSince.Before(cutoff)
	}, limit), nil
}

func (f *fakeBookings) ListExpiredRequests(_ context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	f.db.mu.Lock()
	moneyMoved := make(map[uuid.UUID]bool)
	for _, p := range f.db.payments {
		if p.Status != models.PaymentStatusFailed {
			moneyMoved[p.BookingID] = true
		}
	}
	f.db.mu.Unlock()

	return f.list(func(b *models.Booking) bool {
		return b.Status == models.BookingStatusRequested && b.PendingOperation == "" &&
			b.CreatedAt.Before(cutoff) && !moneyMoved[b.ID]
	}, limit), nil
}

func (f *fakeBookings) Transition(_ context.Context, id uuid.UUID, t database.BookingTransition) (*models.Booking, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()

	b, ok := f.db.bookings[id]
	if !ok {
		return nil, apperrors.NotFound("fake.Transition", "booking not found")
	}
	if !containsStatus(t.From, b.Status) {
		return nil, apperrors.Conflict("fake.Transition", "booking status changed")
	}
	if t.ExpectOperation != nil && b.PendingOperation != *t.ExpectOperation {
		return nil, apperrors.Conflict("fake.Transition", "booking operation changed")
	}
	if t.ReconcilePaymentID != nil {
		p := f.db.payments[*t.ReconcilePaymentID]
		if p == nil || p.Status != models.PaymentStatusCaptured {
			return nil, apperrors.Conflict("fake.Transition", "payment is not captured")
		}
		now := f.db.tick()
		p.ReconciledAt = &now
	}
	if t.IncrementUsage {
		if a := f.db.accounts[b.AccountID]; a != nil {
			a.BookingsUsedThisPeriod++
		}
	}

	now := f.db.tick()
	b.Status = t.To
	b.UpdatedAt = now
	switch {
	case t.SetOperation != nil:
		b.PendingOperation = *t.SetOperation
		b.PendingSince = &now
	case t.ClearOperation:
		b.PendingOperation = ""
		b.PendingSince = nil
	case t.To == models.BookingStatusFeePending:
		b.PendingSince = &now
	}
	if t.Attention != nil {
		b.AttentionReason = *t.Attention
	}
	if t.GDSOrderID != nil {
		b.GDSOrderID = t.GDSOrderID
	}
	if t.GDSConfirmation != nil {
		b.GDSConfirmationCode = t.GDSConfirmation
	}
	if t.TicketNumbers != nil {
		b.TicketNumbers = models.StringArray(t.TicketNumbers)
	}
	if t.CancellationReason != nil {
		b.CancellationReason = t.CancellationReason
	}
	f.db.transitions = append(f.db.transitions, t.To)
	return cloneBooking(b, false), nil
}

// ============================================================================
// PAYMENTS
// ============================================================================

type fakePayments struct{ db *memDB }

func (f *fakePayments) Create(_ context.Context, p *models.Payment) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}
	now := f.db.tick()
	p.CreatedAt = now
	p.UpdatedAt = now
	f.db.payments[p.ID] = clonePayment(p)
	return nil
}

func (f *fakePayments) GetByID(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	p, ok := f.db.payments[id]
	if !ok {
		return nil, apperrors.NotFound("fake.GetByID", "payment not found")
	}
	return clonePayment(p), nil
}

func (f *fakePayments) GetByIntentID(_ context.Context, intentID string) (*models.Payment, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, p := range f.db.payments {
		if p.IntentRef() == intentID {
			return clonePayment(p), nil
		}
	}
	return nil, apperrors.NotFound("fake.GetByIntentID", "payment not found")
}

func (f *fakePayments) ListByBooking(_ context.Context, bookingID uuid.UUID) ([]models.Payment, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []models.Payment
	for _, p := range f.db.payments {
		if p.BookingID == bookingID {
			out = append(out, *clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakePayments) SetIntent(_ context.Context, id uuid.UUID, intentID string) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	p, ok := f.db.payments[id]
	if !ok || p.Status != models.PaymentStatusPending || (p.IntentID != nil && *p.IntentID != intentID) {
		return apperrors.Conflict("fake.SetIntent", "payment already has a different intent")
	}
	p.IntentID = &intentID
	return nil
}

func (f *fakePayments) UpdateStatus(_ context.Context, id uuid.UUID, from []models.PaymentStatus, to models.PaymentStatus, u database.PaymentUpdate) (*models.Payment, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	p, ok := f.db.payments[id]
	if !ok || !containsPaymentStatus(from, p.Status) {
		return nil, apperrors.Conflict("fake.UpdateStatus", "payment is no longer in the expected status")
	}
	if u.EventAt != nil && p.LastEventAt != nil && u.EventAt.Before(*p.LastEventAt) {
		return nil, apperrors.Conflict("fake.UpdateStatus", "stale event")
	}
	p.Status = to
	if u.ChargeID != nil {
		p.ProviderChargeID = u.ChargeID
	}
	if u.FailureReason != nil {
		p.FailureReason = u.FailureReason
	}
	if u.EventAt != nil {
		p.LastEventAt = u.EventAt
	}
	if to == models.PaymentStatusCaptured {
		now := f.db.tick()
		p.CapturedAt = &now
	}
	return clonePayment(p), nil
}

func (f *fakePayments) AddRefund(_ context.Context, id uuid.UUID, amount models.Money, reason string) (*models.Payment, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	p, ok := f.db.payments[id]
	if !ok || p.Refundable() < amount {
		return nil, apperrors.Conflict("fake.AddRefund", "refund exceeds the refundable amount")
	}
	p.Status = models.PaymentStatusRefunded
	p.RefundAmount += amount
	p.RefundReason = &reason
	return clonePayment(p), nil
}

func (f *fakePayments) SyncRefundedTotal(_ context.Context, id uuid.UUID, refunded models.Money, eventAt time.Time) (*models.Payment, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	p, ok := f.db.payments[id]
	if !ok || (p.Status != models.PaymentStatusCaptured && p.Status != models.PaymentStatusRefunded) {
		return nil, apperrors.Conflict("fake.SyncRefundedTotal", "payment is not refundable")
	}
	if p.LastEventAt != nil && eventAt.Before(*p.LastEventAt) {
		return nil, apperrors.Conflict("fake.SyncRefundedTotal", "stale event")
	}
	p.Status = models.PaymentStatusRefunded
	if refunded.Min(p.Amount) > p.RefundAmount {
		p.RefundAmount = refunded.Min(p.Amount)
	}
	p.LastEventAt = &eventAt
	return clonePayment(p), nil
}

// ============================================================================
// ACCOUNTS, EXCEPTIONS, EVENT LOG
// ============================================================================

type fakeAccounts struct{ db *memDB }

func (f *fakeAccounts) GetByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	a, ok := f.db.accounts[id]
	if !ok {
		return nil, apperrors.NotFound("fake.GetByID", "account not found")
	}
	c := *a
	return &c, nil
}

func (f *fakeAccounts) ResetPeriodUsage(_ context.Context) (int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var n int64
	for _, a := range f.db.accounts {
		if a.BookingsUsedThisPeriod > 0 {
			a.BookingsUsedThisPeriod = 0
			n++
		}
	}
	return n, nil
}

func (f *fakeAccounts) ExpireSubscriptions(_ context.Context, now time.Time) (int64, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var n int64
	for _, a := range f.db.accounts {
		if a.Tier != models.TierNone && a.SubscriptionEnd != nil && !a.SubscriptionEnd.After(now) {
			a.Tier = models.TierNone
			n++
		}
	}
	return n, nil
}

type fakeExceptions struct{ db *memDB }

func (f *fakeExceptions) Create(_ context.Context, fe *models.FinancialException) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	c := *fe
	f.db.exceptions = append(f.db.exceptions, &c)
	return nil
}

func (f *fakeExceptions) ListPending(_ context.Context, kind models.FinancialExceptionKind, limit int) ([]models.FinancialException, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []models.FinancialException
	for _, fe := range f.db.exceptions {
		if fe.Kind == kind && fe.Status == models.ExceptionStatusPending && (limit <= 0 || len(out) < limit) {
			out = append(out, *fe)
		}
	}
	return out, nil
}

func (f *fakeExceptions) ListOpen(_ context.Context, limit int) ([]models.FinancialException, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []models.FinancialException
	for _, fe := range f.db.exceptions {
		if fe.Status != models.ExceptionStatusResolved && (limit <= 0 || len(out) < limit) {
			out = append(out, *fe)
		}
	}
	return out, nil
}

func (f *fakeExceptions) HasOpen(_ context.Context, paymentID uuid.UUID, kind models.FinancialExceptionKind) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	for _, fe := range f.db.exceptions {
		if fe.Kind == kind && fe.Status != models.ExceptionStatusResolved && fe.PaymentID != nil && *fe.PaymentID == paymentID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeExceptions) find(id uuid.UUID) *models.FinancialException {
	for _, fe := range f.db.exceptions {
		if fe.ID == id {
			return fe
		}
	}
	return nil
}

func (f *fakeExceptions) RecordAttempt(_ context.Context, id uuid.UUID, cause error, escalate bool) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	fe := f.find(id)
	if fe == nil {
		return apperrors.NotFound("fake.RecordAttempt", "exception not found")
	}
	fe.Attempts++
	if cause != nil {
		msg := cause.Error()
		fe.LastError = &msg
	}
	if escalate {
		fe.Status = models.ExceptionStatusEscalated
	}
	return nil
}

func (f *fakeExceptions) Resolve(_ context.Context, id uuid.UUID) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	fe := f.find(id)
	if fe == nil {
		return apperrors.NotFound("fake.Resolve", "exception not found")
	}
	fe.Status = models.ExceptionStatusResolved
	return nil
}

type fakeEventLog struct{ db *memDB }

func (f *fakeEventLog) Log(_ context.Context, audit *models.PaymentAudit) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.audits = append(f.db.audits, audit)
	return nil
}

func (f *fakeEventLog) IsProcessed(_ context.Context, providerEventID string) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return f.db.processed[providerEventID], nil
}

func (f *fakeEventLog) RecordProviderEvent(_ context.Context, audit *models.PaymentAudit) (bool, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if audit.ProviderEventID == nil {
		return false, errors.New("provider event id required")
	}
	if f.db.processed[*audit.ProviderEventID] {
		return false, nil
	}
	f.db.processed[*audit.ProviderEventID] = true
	f.db.audits = append(f.db.audits, audit)
	return true, nil
}

// ============================================================================
// PROVIDERS
// ============================================================================

type fakeGDS struct {
	mu         sync.Mutex
	offer      *gds.ConfirmedOffer
	confirmErr error
	createErr  error
	getErr     error
	tickets    []string
	confirms   int
	creates    int
	cancelled  []string
	travelers  []gds.Traveler
	onCancel   func() // runs outside the lock
}

func (f *fakeGDS) ConfirmFare(_ context.Context, offer json.RawMessage) (*gds.ConfirmedOffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms++
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	c := *f.offer
	c.Offer = offer
	return &c, nil
}

func (f *fakeGDS) CreateOrder(_ context.Context, _ *gds.ConfirmedOffer, travelers []gds.Traveler) (*gds.OrderRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.travelers = travelers
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &gds.OrderRef{
		OrderID:          fmt.Sprintf("order-%d", f.creates),
		ConfirmationCode: fmt.Sprintf("PNR%03d", f.creates),
	}, nil
}

func (f *fakeGDS) GetOrder(_ context.Context, orderID string) (*gds.OrderDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &gds.OrderDetails{OrderID: orderID, TicketNumbers: f.tickets}, nil
}

func (f *fakeGDS) CancelOrder(_ context.Context, orderID string) error {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, orderID)
	hook := f.onCancel
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

type fakeGateway struct {
	mu         sync.Mutex
	createErr  error
	confirmErr error
	outcome    *payment.Outcome // nil = captured for the requested amount
	getOutcome *payment.Outcome
	refundErr  error
	intents    []payment.IntentRequest
	confirms   int
	refunds    []payment.RefundRequest
}

func (f *fakeGateway) CreateIntent(_ context.Context, req payment.IntentRequest) (*payment.IntentRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.intents = append(f.intents, req)
	return &payment.IntentRef{
		ID:       fmt.Sprintf("pi_%d", len(f.intents)),
		Amount:   req.Amount,
		Currency: req.Currency,
	}, nil
}

func (f *fakeGateway) ConfirmIntent(_ context.Context, ref payment.IntentRef) (*payment.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms++
	if f.outcome == nil {
		return &payment.Outcome{
			IntentID: ref.ID,
			Status:   models.PaymentStatusCaptured,
			Amount:   ref.Amount,
			Currency: ref.Currency,
			ChargeID: "ch_" + ref.ID,
		}, f.confirmErr
	}
	out := *f.outcome
	out.IntentID = ref.ID
	return &out, f.confirmErr
}

func (f *fakeGateway) GetIntent(_ context.Context, intentID string) (*payment.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getOutcome == nil {
		return nil, apperrors.New(apperrors.KindProviderUnavailable, "fake.GetIntent", "unavailable")
	}
	out := *f.getOutcome
	out.IntentID = intentID
	return &out, nil
}

func (f *fakeGateway) Refund(_ context.Context, req payment.RefundRequest) (*payment.RefundOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, req)
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	amount := req.Captured - req.AlreadyRefunded
	if req.Amount != nil {
		amount = *req.Amount
	}
	return &payment.RefundOutcome{RefundID: fmt.Sprintf("re_%d", len(f.refunds)), Amount: amount, Status: "succeeded"}, nil
}

type fakeAuditor struct {
	mu      sync.Mutex
	actions []string
}

func (f *fakeAuditor) LogBookingEvent(_ context.Context, action string, _ *models.Booking, _ map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
}

func (f *fakeAuditor) has(action string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.actions {
		if a == action {
			return true
		}
	}
	return false
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
