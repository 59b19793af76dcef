package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripgate/booking-backend/internal/models"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/tripgate_test")
	t.Setenv("JWT_SECRET", "test-access-secret")
	t.Setenv("JWT_REFRESH_SECRET", "test-refresh-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.GDS.TokenRefreshBuffer)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, "TGT", cfg.Booking.ReferencePrefix)
	assert.Equal(t, 7*24*time.Hour, cfg.Booking.UrgentWindow)
	assert.Contains(t, cfg.Booking.DomesticAirports, "JFK")
	assert.Equal(t, models.Units(25), cfg.Fees.DomesticBase)
	assert.Equal(t, models.Units(100), cfg.Fees.InternationalCap)
	assert.Equal(t, 5, cfg.Fees.GroupMinSize)
	assert.Equal(t, "0 0 0 1 * *", cfg.Cron.UsageResetSpec)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("FEE_DOMESTIC_BASE", "19.99")
	t.Setenv("AMADEUS_TIMEOUT", "10s")
	t.Setenv("DOMESTIC_AIRPORTS", "CMB, HRI ,")
	t.Setenv("PROVIDER_RETRY_MAX_ATTEMPTS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, models.MustParseMoney("19.99"), cfg.Fees.DomesticBase)
	assert.Equal(t, 10*time.Second, cfg.GDS.CallTimeout)
	assert.Equal(t, []string{"CMB", "HRI"}, cfg.Booking.DomesticAirports)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestValidate(t *testing.T) {
	t.Run("missing database url", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")
		t.Setenv("JWT_SECRET", "a")
		t.Setenv("JWT_REFRESH_SECRET", "b")
		_, err := Load()
		assert.EqualError(t, err, "DATABASE_URL is required")
	})

	t.Run("production requires provider credentials", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("ENVIRONMENT", "production")
		_, err := Load()
		assert.Error(t, err)

		t.Setenv("AMADEUS_CLIENT_ID", "id")
		t.Setenv("AMADEUS_CLIENT_SECRET", "secret")
		t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
		t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
		_, err = Load()
		assert.NoError(t, err)
	})

	t.Run("international fee must exceed domestic", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("FEE_INTERNATIONAL_BASE", "20")
		_, err := Load()
		assert.Error(t, err)
	})
}
