package services

import (
	"time"

	"github.com/tripgate/booking-backend/internal/models"
)

// RefundPercentage is the share of the booking total refunded on cancellation.
// tier must be the effective tier at now.
func RefundPercentage(departure, now time.Time, tier models.SubscriptionTier) int {
	if tier.IsPremium() {
		return 100
	}

	until := departure.Sub(now)
	switch {
	case until >= 24*time.Hour:
		return 100
	case until >= 12*time.Hour:
		return 50
	default:
		return 0
	}
}
