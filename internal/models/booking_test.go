package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBooking_RecomputeTotal(t *testing.T) {
	b := &Booking{}
	b.SetAmounts(MustParseMoney("450.00"), MustParseMoney("25.00"), MustParseMoney("96.70"), MustParseMoney("20.00"))

	assert.Equal(t, MustParseMoney("551.70"), b.Total)
	assert.Equal(t, MustParseMoney("526.70"), b.FareAmount())

	b.ServiceFee = 0
	b.RecomputeTotal()
	assert.Equal(t, b.BaseFare+b.Taxes-b.Discount, b.Total)
}

func TestBookingStatus_NoBackwardMoves(t *testing.T) {
	forbidden := [][2]BookingStatus{
		{BookingStatusHeld, BookingStatusRequested},
		{BookingStatusHeld, BookingStatusFeePending},
		{BookingStatusConfirmed, BookingStatusHeld},
		{BookingStatusCompleted, BookingStatusConfirmed},
		{BookingStatusRequested, BookingStatusHeld},
		{BookingStatusConfirmed, BookingStatusCancelled},
	}
	for _, pair := range forbidden {
		assert.False(t, pair[0].CanTransitionTo(pair[1]), "%s -> %s", pair[0], pair[1])
	}

	for _, s := range BookingStatuses() {
		assert.True(t, s.IsValid())
		if s.IsTerminal() {
			assert.Empty(t, s.NextStatuses(), s)
		}
	}
	assert.False(t, BookingStatus("paid").IsValid())
}

func TestBookingStatus_HeldOnlyThroughFeePending(t *testing.T) {
	for _, s := range BookingStatuses() {
		if s.CanTransitionTo(BookingStatusHeld) {
			assert.Equal(t, BookingStatusFeePending, s)
		}
	}
}

func TestBookingStatus_IsCancellable(t *testing.T) {
	for _, s := range BookingStatuses() {
		want := s == BookingStatusRequested || s == BookingStatusHeld
		assert.Equal(t, want, s.IsCancellable(), s)
	}
}

func TestPaymentStatus_ForwardOnly(t *testing.T) {
	assert.True(t, PaymentStatusPending.CanTransitionTo(PaymentStatusCaptured))
	assert.True(t, PaymentStatusPending.CanTransitionTo(PaymentStatusFailed))
	assert.True(t, PaymentStatusCaptured.CanTransitionTo(PaymentStatusRefunded))
	assert.False(t, PaymentStatusCaptured.CanTransitionTo(PaymentStatusPending))
	assert.False(t, PaymentStatusFailed.CanTransitionTo(PaymentStatusCaptured))
	assert.False(t, PaymentStatusRefunded.CanTransitionTo(PaymentStatusCaptured))
}

func TestPayment_Refundable(t *testing.T) {
	p := &Payment{Amount: Units(100), Status: PaymentStatusPending}
	assert.Equal(t, Money(0), p.Refundable())

	p.Status = PaymentStatusCaptured
	assert.Equal(t, Units(100), p.Refundable())

	p.Status = PaymentStatusRefunded
	p.RefundAmount = Units(40)
	assert.Equal(t, Units(60), p.Refundable())

	p.RefundAmount = Units(100)
	assert.Equal(t, Money(0), p.Refundable())
}

func TestAccount_EffectiveTier(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-time.Second)

	assert.Equal(t, TierGold, (&Account{Tier: TierGold, SubscriptionEnd: &future}).EffectiveTier(now))
	assert.Equal(t, TierNone, (&Account{Tier: TierGold, SubscriptionEnd: &past}).EffectiveTier(now))
	assert.Equal(t, TierNone, (&Account{Tier: TierSilver}).EffectiveTier(now))
	assert.Equal(t, TierNone, (&Account{}).EffectiveTier(now))
}

func TestGenerateBookingReference(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		ref, err := GenerateBookingReference("tgt")
		require.NoError(t, err)
		assert.True(t, IsValidBookingReference(ref), ref)
		assert.Equal(t, "TGT-", ref[:4])
		seen[ref] = true
	}
	assert.Greater(t, len(seen), 150)

	_, err := GenerateBookingReference("TOOLONG")
	assert.Error(t, err)

	ref, err := GenerateBookingReference("")
	require.NoError(t, err)
	assert.Equal(t, "TGT-", ref[:4])
}

func TestIsValidBookingReference(t *testing.T) {
	assert.True(t, IsValidBookingReference("TGT-ABC123"))
	assert.False(t, IsValidBookingReference("TGT-AB1234"))
	assert.False(t, IsValidBookingReference("tgt-abc123"))
	assert.False(t, IsValidBookingReference("TGTABC123"))
}

func TestBooking_Summary(t *testing.T) {
	code := "X7K2LM"
	b := &Booking{
		ID:                  uuid.New(),
		BookingReference:    "TGT-QWE987",
		Status:              BookingStatusHeld,
		AttentionReason:     AttentionHoldRetry,
		GDSConfirmationCode: &code,
	}
	s := b.Summary()
	assert.Equal(t, b.ID, s.ID)
	assert.True(t, s.RequiresAttention)
	assert.Equal(t, &code, s.GDSConfirmationCode)
}
