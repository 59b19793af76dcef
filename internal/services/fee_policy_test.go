package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tripgate/booking-backend/internal/config"
	"github.com/tripgate/booking-backend/internal/models"
)

func testFeeConfig() config.FeeConfig {
	return config.FeeConfig{
		DomesticBase:      models.Units(25),
		DomesticCap:       models.Units(50),
		InternationalBase: models.Units(50),
		InternationalCap:  models.Units(100),
		UrgentSurcharge:   models.Units(25),
		GroupPerPerson:    models.Units(15),
		GroupMinSize:      5,
		BronzeWaivers:     6,
		SilverWaivers:     15,
		Currency:          "USD",
	}
}

func testBookingConfig() config.BookingConfig {
	return config.BookingConfig{
		ReferencePrefix:      "TGT",
		DomesticAirports:     []string{"JFK", "LAX", "ORD"},
		UrgentWindow:         7 * 24 * time.Hour,
		MaxAdvanceDays:       365,
		OfferTTL:             24 * time.Hour,
		StaleOperationAfter:  15 * time.Minute,
		ExceptionMaxAttempts: 3,
		SweepBatchSize:       50,
	}
}

func TestComputeServiceFee(t *testing.T) {
	policy := NewFeePolicy(testFeeConfig(), testBookingConfig())

	tests := []struct {
		name       string
		domestic   bool
		passengers int
		urgent     bool
		group      bool
		tier       models.SubscriptionTier
		used       int
		want       string
	}{
		{"Domestic single", true, 1, false, false, models.TierNone, 0, "25.00"},
		{"Domestic capped", true, 3, false, false, models.TierNone, 0, "50.00"},
		{"International single", false, 1, false, false, models.TierNone, 0, "50.00"},
		{"International capped", false, 4, false, false, models.TierNone, 0, "100.00"},
		{"Urgent surcharge added after cap", false, 4, true, false, models.TierNone, 0, "125.00"},
		{"Group rate overrides base", false, 6, false, true, models.TierNone, 0, "90.00"},
		{"Group rate needs minimum size", true, 4, false, true, models.TierNone, 0, "50.00"},
		{"Group and urgent", true, 5, true, true, models.TierNone, 0, "100.00"},
		{"Gold waives everything", false, 6, true, true, models.TierGold, 500, "0.00"},
		{"Silver within allowance", true, 1, true, false, models.TierSilver, 14, "0.00"},
		{"Silver allowance spent", true, 1, false, false, models.TierSilver, 15, "25.00"},
		{"Bronze within allowance", false, 1, true, false, models.TierBronze, 5, "0.00"},
		{"Bronze allowance spent", false, 1, true, false, models.TierBronze, 6, "75.00"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := policy.ComputeServiceFee(tc.domestic, tc.passengers, tc.urgent, tc.group, tc.tier, tc.used)
			assert.Equal(t, models.MustParseMoney(tc.want), got)
		})
	}
}

func TestComputeServiceFee_Deterministic(t *testing.T) {
	policy := NewFeePolicy(testFeeConfig(), testBookingConfig())

	first := policy.ComputeServiceFee(false, 3, true, false, models.TierBronze, 9)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, policy.ComputeServiceFee(false, 3, true, false, models.TierBronze, 9))
	}
}

func TestFeePolicy_Classification(t *testing.T) {
	policy := NewFeePolicy(testFeeConfig(), testBookingConfig())
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	assert.True(t, policy.IsDomestic("JFK", "LAX"))
	assert.False(t, policy.IsDomestic("JFK", "LHR"))
	assert.False(t, policy.IsDomestic("CDG", "LHR"))

	assert.True(t, policy.IsUrgent(now.Add(6*24*time.Hour), now))
	assert.False(t, policy.IsUrgent(now.Add(7*24*time.Hour), now))

	assert.True(t, policy.IsGroup(5))
	assert.False(t, policy.IsGroup(4))
}

func TestReferralDiscount(t *testing.T) {
	base := models.MustParseMoney("200.00")
	taxes := models.MustParseMoney("40.00")

	assert.Equal(t, models.Money(0), ReferralDiscount(0, base, taxes))
	assert.Equal(t, models.MustParseMoney("30.00"), ReferralDiscount(models.MustParseMoney("30.00"), base, taxes))
	assert.Equal(t, models.MustParseMoney("240.00"), ReferralDiscount(models.MustParseMoney("500.00"), base, taxes))
}

func TestRefundPercentage(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		until time.Duration
		tier  models.SubscriptionTier
		want  int
	}{
		{"30 hours out", 30 * time.Hour, models.TierNone, 100},
		{"Exactly 24 hours", 24 * time.Hour, models.TierNone, 100},
		{"18 hours out", 18 * time.Hour, models.TierBronze, 50},
		{"Exactly 12 hours", 12 * time.Hour, models.TierNone, 50},
		{"10 hours out", 10 * time.Hour, models.TierNone, 0},
		{"10 hours out, silver", 10 * time.Hour, models.TierSilver, 100},
		{"10 hours out, gold", 10 * time.Hour, models.TierGold, 100},
		{"Already departed, gold", -time.Hour, models.TierGold, 100},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RefundPercentage(now.Add(tc.until), now, tc.tier))
		})
	}
}
