package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/tripgate/booking-backend/internal/models"
	"github.com/tripgate/booking-backend/pkg/apperrors"
)

const (
	bookingReferenceConstraint   = "bookings_booking_reference_key"
	bookingIdempotencyConstraint = "bookings_account_idempotency_key"

	maxReferenceAttempts = 5
)

// BookingRepository handles booking and passenger database operations
type BookingRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB, logger *logrus.Logger) *BookingRepository {
	return &BookingRepository{db: db, logger: logger}
}

// BookingTransition is one compare-and-swap update of a booking row. The row
// only changes if its status is in From (and, when ExpectOperation is set, its
// pending operation matches). Optional fields are written in the same statement.
type BookingTransition struct {
	From []models.BookingStatus
	To   models.BookingStatus

	ExpectOperation *string // guard on pending_operation, nil = don't care
	SetOperation    *string // start a lease (sets pending_since)
	ClearOperation  bool    // end any lease and clear pending_since

	Attention          *models.AttentionReason
	GDSOrderID         *string
	GDSConfirmation    *string
	TicketNumbers      []string
	CancellationReason *string

	// Written in the same transaction as the status change
	ReconcilePaymentID *uuid.UUID
	IncrementUsage     bool
}

// ============================================================================
// CREATE
// ============================================================================

// Create inserts a booking with its passengers. A discount on the booking is
// consumed from the account's referral credit in the same transaction. The
// booking reference is generated here; it is only replaced when the insert
// collided on it, i.e. before it was ever stored.
func (r *BookingRepository) Create(ctx context.Context, b *models.Booking, referencePrefix string) error {
	const op = "database.BookingRepository.Create"

	now := time.Now().UTC()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = now
	b.UpdatedAt = now
	b.RecomputeTotal()

	for attempt := 1; ; attempt++ {
		if b.BookingReference == "" {
			ref, err := models.GenerateBookingReference(referencePrefix)
			if err != nil {
				return apperrors.Internal(op, err)
			}
			b.BookingReference = ref
		}

		err := r.insert(ctx, b)
		if err == nil {
			return nil
		}

		switch {
		case isUniqueViolation(err, bookingReferenceConstraint) && attempt < maxReferenceAttempts:
			r.logger.WithFields(logrus.Fields{
				"booking_reference": b.BookingReference,
				"attempt":           attempt,
			}).Warn("Booking reference collision, generating a new one")
			b.BookingReference = ""
		case isUniqueViolation(err, bookingIdempotencyConstraint):
			return apperrors.Wrap(apperrors.KindConflict, op, err)
		default:
			return err
		}
	}
}

func (r *BookingRepository) insert(ctx context.Context, b *models.Booking) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO bookings (
			id, booking_reference, account_id, agent_id, package_id, idempotency_key,
			origin, destination, departure_at, return_at, carrier, flight_number,
			cabin_class, trip_type, offer_payload,
			adults, children, infants,
			currency, base_fare, service_fee, taxes, discount, total,
			status, attention_reason, pending_operation,
			created_at, updated_at
		) VALUES (
			:id, :booking_reference, :account_id, :agent_id, :package_id, :idempotency_key,
			:origin, :destination, :departure_at, :return_at, :carrier, :flight_number,
			:cabin_class, :trip_type, :offer_payload,
			:adults, :children, :infants,
			:currency, :base_fare, :service_fee, :taxes, :discount, :total,
			:status, :attention_reason, :pending_operation,
			:created_at, :updated_at
		)`
	if _, err := tx.NamedExecContext(ctx, query, b); err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	for i := range b.Passengers {
		p := &b.Passengers[i]
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		p.BookingID = b.ID
		p.CreatedAt = b.CreatedAt

		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO booking_passengers (
				id, booking_id, first_name, last_name, date_of_birth, gender, passenger_type,
				email, phone, document_type, document_number, document_expiry,
				nationality, issuing_country, seat_assignment, created_at
			) VALUES (
				:id, :booking_id, :first_name, :last_name, :date_of_birth, :gender, :passenger_type,
				:email, :phone, :document_type, :document_number, :document_expiry,
				:nationality, :issuing_country, :seat_assignment, :created_at
			)`, p)
		if err != nil {
			return fmt.Errorf("failed to insert passenger: %w", err)
		}
	}

	if b.Discount > 0 {
		result, err := tx.ExecContext(ctx, `
			UPDATE accounts
			SET referral_credit = referral_credit - $2, updated_at = NOW()
			WHERE id = $1 AND referral_credit >= $2`,
			b.AccountID, b.Discount)
		if err != nil {
			return fmt.Errorf("failed to consume referral credit: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return apperrors.Conflict("database.BookingRepository.Create", "referral credit changed, please retry")
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}
	return nil
}

// ============================================================================
// READ
// ============================================================================

// GetByID returns a booking with its passengers
func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var b models.Booking
	err := r.db.GetContext(ctx, &b, `SELECT * FROM bookings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("database.BookingRepository.GetByID", "booking not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}

	if err := r.db.SelectContext(ctx, &b.Passengers,
		`SELECT * FROM booking_passengers WHERE booking_id = $1 ORDER BY created_at, id`, id); err != nil {
		return nil, fmt.Errorf("failed to get passengers: %w", err)
	}
	return &b, nil
}

// GetByIdempotencyKey returns the booking an account created with key
func (r *BookingRepository) GetByIdempotencyKey(ctx context.Context, accountID uuid.UUID, key string) (*models.Booking, error) {
	var id uuid.UUID
	err := r.db.GetContext(ctx, &id,
		`SELECT id FROM bookings WHERE account_id = $1 AND idempotency_key = $2`, accountID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("database.BookingRepository.GetByIdempotencyKey", "booking not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking by idempotency key: %w", err)
	}
	return r.GetByID(ctx, id)
}

// ListByStatus returns bookings in status, oldest update first
func (r *BookingRepository) ListByStatus(ctx context.Context, status models.BookingStatus, limit int) ([]models.Booking, error) {
	var bookings []models.Booking
	err := r.db.SelectContext(ctx, &bookings,
		`SELECT * FROM bookings WHERE status = $1 ORDER BY updated_at ASC LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings by status: %w", err)
	}
	return bookings, nil
}

// ListStaleFeePending returns bookings whose fee capture has been in flight since before cutoff
func (r *BookingRepository) ListStaleFeePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	var bookings []models.Booking
	err := r.db.SelectContext(ctx, &bookings, `
		SELECT * FROM bookings
		WHERE status = 'fee_pending' AND pending_since < $1
		ORDER BY pending_since ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale fee_pending bookings: %w", err)
	}
	return bookings, nil
}

// ListStaleOperations returns requested/held bookings whose lease was taken before cutoff
func (r *BookingRepository) ListStaleOperations(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	var bookings []models.Booking
	err := r.db.SelectContext(ctx, &bookings, `
		SELECT * FROM bookings
		WHERE status IN ('requested', 'held')
		  AND pending_operation <> ''
		  AND pending_since < $1
		ORDER BY pending_since ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale operations: %w", err)
	}
	return bookings, nil
}

// ListExpiredRequests returns requested bookings created before cutoff that
// never had money captured or in flight.
func (r *BookingRepository) ListExpiredRequests(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	var bookings []models.Booking
	err := r.db.SelectContext(ctx, &bookings, `
		SELECT b.* FROM bookings b
		WHERE b.status = 'requested'
		  AND b.pending_operation = ''
		  AND b.created_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM payments p
			WHERE p.booking_id = b.id AND p.status IN ('pending', 'captured', 'refunded')
		  )
		ORDER BY b.created_at ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired requests: %w", err)
	}
	return bookings, nil
}

// ============================================================================
// TRANSITIONS
// ============================================================================

// Transition applies t to booking id and returns the updated row. A row that
// no longer matches the expected state yields a conflict error.
func (r *BookingRepository) Transition(ctx context.Context, id uuid.UUID, t BookingTransition) (*models.Booking, error) {
	const op = "database.BookingRepository.Transition"

	query, args := buildTransition(id, t)

	needsTx := t.ReconcilePaymentID != nil || t.IncrementUsage
	if !needsTx {
		var b models.Booking
		err := r.db.QueryRowxContext(ctx, query, args...).StructScan(&b)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.transitionConflict(ctx, op, id, t)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to transition booking: %w", err)
		}
		return &b, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var b models.Booking
	err = tx.QueryRowxContext(ctx, query, args...).StructScan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.transitionConflict(ctx, op, id, t)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition booking: %w", err)
	}

	if t.ReconcilePaymentID != nil {
		result, err := tx.ExecContext(ctx, `
			UPDATE payments SET reconciled_at = NOW(), updated_at = NOW()
			WHERE id = $1 AND booking_id = $2 AND status = 'captured'`,
			*t.ReconcilePaymentID, id)
		if err != nil {
			return nil, fmt.Errorf("failed to reconcile payment: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return nil, apperrors.Conflict(op, "payment is not captured")
		}
	}

	if t.IncrementUsage {
		if _, err := tx.ExecContext(ctx, `
			UPDATE accounts
			SET bookings_used_this_period = bookings_used_this_period + 1, updated_at = NOW()
			WHERE id = $1`, b.AccountID); err != nil {
			return nil, fmt.Errorf("failed to increment booking usage: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}
	return &b, nil
}

func (r *BookingRepository) transitionConflict(ctx context.Context, op string, id uuid.UUID, t BookingTransition) error {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM bookings WHERE id = $1)`, id); err == nil && !exists {
		return apperrors.NotFound(op, "booking not found")
	}
	r.logger.WithFields(logrus.Fields{
		"booking_id": id,
		"to":         t.To,
	}).Info("Booking transition lost compare-and-swap")
	return apperrors.Conflict(op, fmt.Sprintf("booking is no longer in %s", joinStatuses(t.From)))
}

func buildTransition(id uuid.UUID, t BookingTransition) (string, []interface{}) {
	args := []interface{}{id, t.To, pq.Array(statusStrings(t.From))}
	sets := []string{"status = $2", "updated_at = NOW()"}
	where := []string{"id = $1", "status = ANY($3)"}

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if t.ExpectOperation != nil {
		where = append(where, "pending_operation = "+arg(*t.ExpectOperation))
	}
	switch {
	case t.SetOperation != nil:
		sets = append(sets, "pending_operation = "+arg(*t.SetOperation), "pending_since = NOW()")
	case t.ClearOperation:
		sets = append(sets, "pending_operation = ''", "pending_since = NULL")
	case t.To == models.BookingStatusFeePending:
		sets = append(sets, "pending_since = NOW()")
	}
	if t.Attention != nil {
		sets = append(sets, "attention_reason = "+arg(string(*t.Attention)))
	}
	if t.GDSOrderID != nil {
		sets = append(sets, "gds_order_id = "+arg(*t.GDSOrderID))
	}
	if t.GDSConfirmation != nil {
		sets = append(sets, "gds_confirmation_code = "+arg(*t.GDSConfirmation))
	}
	if t.TicketNumbers != nil {
		sets = append(sets, "ticket_numbers = "+arg(pq.Array(t.TicketNumbers)))
	}
	if t.CancellationReason != nil {
		sets = append(sets, "cancellation_reason = "+arg(*t.CancellationReason))
	}

	switch t.To {
	case models.BookingStatusConfirmed:
		sets = append(sets, "confirmed_at = NOW()")
	case models.BookingStatusCompleted:
		sets = append(sets, "completed_at = NOW()")
	case models.BookingStatusCancelled, models.BookingStatusRefunded:
		// Re-flagging a cancelled booking keeps its original cancellation time
		sets = append(sets, "cancelled_at = COALESCE(cancelled_at, NOW())")
	case models.BookingStatusRequested, models.BookingStatusFeePending, models.BookingStatusHeld,
		models.BookingStatusFailedReconciliation:
	}

	query := fmt.Sprintf("UPDATE bookings SET %s WHERE %s RETURNING *",
		strings.Join(sets, ", "), strings.Join(where, " AND "))
	return query, args
}

func statusStrings(statuses []models.BookingStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func joinStatuses(statuses []models.BookingStatus) string {
	return strings.Join(statusStrings(statuses), "/")
}
