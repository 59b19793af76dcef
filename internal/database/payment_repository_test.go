package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripgate/booking-backend/internal/models"
	"github.com/tripgate/booking-backend/pkg/apperrors"
)

var paymentColumns = []string{
	"id", "booking_id", "account_id", "purpose", "amount", "currency", "status",
	"intent_id", "payment_method_ref", "provider_charge_id", "refund_amount", "refund_reason",
	"failure_reason", "last_event_at", "reconciled_at", "captured_at", "created_at", "updated_at",
}

func paymentRows(id uuid.UUID, status models.PaymentStatus, amount, refunded string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(paymentColumns).AddRow(
		id.String(), uuid.New().String(), uuid.New().String(), "service_fee", amount, "USD", string(status),
		"pi_1", nil, nil, refunded, nil,
		nil, nil, nil, now, now, now,
	)
}

func TestPaymentRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)

	mock.ExpectExec(`INSERT INTO payments`).WillReturnResult(sqlmock.NewResult(0, 1))

	p := &models.Payment{
		BookingID: uuid.New(),
		AccountID: uuid.New(),
		Purpose:   models.PaymentPurposeServiceFee,
		Amount:    models.MustParseMoney("25.00"),
		Currency:  "USD",
	}
	require.NoError(t, repo.Create(context.Background(), p))
	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, models.PaymentStatusPending, p.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_GetByIntentID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)
	id := uuid.New()

	t.Run("Found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT \* FROM payments WHERE intent_id = \$1`).
			WithArgs("pi_1").
			WillReturnRows(paymentRows(id, models.PaymentStatusCaptured, "25.00", "0.00"))

		p, err := repo.GetByIntentID(context.Background(), "pi_1")
		require.NoError(t, err)
		assert.Equal(t, id, p.ID)
		assert.Equal(t, models.PaymentPurposeServiceFee, p.Purpose)
		assert.Equal(t, models.MustParseMoney("25.00"), p.Refundable())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Unknown intent", func(t *testing.T) {
		mock.ExpectQuery(`SELECT \* FROM payments WHERE intent_id = \$1`).
			WithArgs("pi_missing").
			WillReturnRows(sqlmock.NewRows(paymentColumns))

		_, err := repo.GetByIntentID(context.Background(), "pi_missing")
		assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPaymentRepository_UpdateStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)
	id := uuid.New()

	t.Run("Forward move", func(t *testing.T) {
		charge := "ch_1"
		mock.ExpectQuery(`UPDATE payments SET`).
			WithArgs(id, models.PaymentStatusCaptured, sqlmock.AnyArg(), &charge, nil, nil).
			WillReturnRows(paymentRows(id, models.PaymentStatusCaptured, "25.00", "0.00"))

		p, err := repo.UpdateStatus(context.Background(), id,
			[]models.PaymentStatus{models.PaymentStatusPending}, models.PaymentStatusCaptured,
			PaymentUpdate{ChargeID: &charge})
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusCaptured, p.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Already moved on", func(t *testing.T) {
		mock.ExpectQuery(`UPDATE payments SET`).
			WillReturnRows(sqlmock.NewRows(paymentColumns))

		_, err := repo.UpdateStatus(context.Background(), id,
			[]models.PaymentStatus{models.PaymentStatusPending}, models.PaymentStatusFailed, PaymentUpdate{})
		assert.True(t, apperrors.Is(err, apperrors.KindConflict))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPaymentRepository_AddRefund(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)
	id := uuid.New()

	t.Run("Within captured amount", func(t *testing.T) {
		amount := models.MustParseMoney("12.50")
		mock.ExpectQuery(`UPDATE payments SET\s+status = 'refunded'`).
			WithArgs(id, amount, "cancellation").
			WillReturnRows(paymentRows(id, models.PaymentStatusRefunded, "25.00", "12.50"))

		p, err := repo.AddRefund(context.Background(), id, amount, "cancellation")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusRefunded, p.Status)
		assert.Equal(t, models.MustParseMoney("12.50"), p.Refundable())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Over the cap", func(t *testing.T) {
		mock.ExpectQuery(`UPDATE payments SET\s+status = 'refunded'`).
			WillReturnRows(sqlmock.NewRows(paymentColumns))

		_, err := repo.AddRefund(context.Background(), id, models.MustParseMoney("99.00"), "cancellation")
		assert.True(t, apperrors.Is(err, apperrors.KindConflict))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
