package services

import (
	"time"

	"github.com/tripgate/booking-backend/internal/config"
	"github.com/tripgate/booking-backend/internal/models"
)

// FeePolicy computes the platform service fee. It does no I/O.
type FeePolicy struct {
	cfg              config.FeeConfig
	domesticAirports map[string]bool
	urgentWindow     time.Duration
}

// NewFeePolicy creates a fee policy from the fee schedule and booking settings
func NewFeePolicy(fees config.FeeConfig, booking config.BookingConfig) *FeePolicy {
	airports := make(map[string]bool, len(booking.DomesticAirports))
	for _, code := range booking.DomesticAirports {
		airports[code] = true
	}
	return &FeePolicy{
		cfg:              fees,
		domesticAirports: airports,
		urgentWindow:     booking.UrgentWindow,
	}
}

// ComputeServiceFee applies, in order: the group rate or the capped
// per-passenger base, the urgency surcharge, then the subscription waiver.
// A waiver replaces the whole fee with zero.
func (p *FeePolicy) ComputeServiceFee(
	isDomestic bool,
	passengerCount int,
	isUrgent bool,
	isGroup bool,
	tier models.SubscriptionTier,
	bookingsUsedThisPeriod int,
) models.Money {
	var fee models.Money

	if isGroup && passengerCount >= p.cfg.GroupMinSize {
		fee = p.cfg.GroupPerPerson * models.Money(passengerCount)
	} else {
		base, ceiling := p.cfg.InternationalBase, p.cfg.InternationalCap
		if isDomestic {
			base, ceiling = p.cfg.DomesticBase, p.cfg.DomesticCap
		}
		fee = (base * models.Money(passengerCount)).Min(ceiling)
	}

	if isUrgent {
		fee += p.cfg.UrgentSurcharge
	}

	if p.waived(tier, bookingsUsedThisPeriod) {
		return 0
	}
	return fee
}

// waived reports whether the tier still has a free booking this period.
// tier must already be the effective tier.
func (p *FeePolicy) waived(tier models.SubscriptionTier, used int) bool {
	switch tier {
	case models.TierGold:
		return true
	case models.TierSilver:
		return used < p.cfg.SilverWaivers
	case models.TierBronze:
		return used < p.cfg.BronzeWaivers
	case models.TierNone:
		return false
	}
	return false
}

// IsDomestic reports whether both endpoints are domestic airports
func (p *FeePolicy) IsDomestic(origin, destination string) bool {
	return p.domesticAirports[origin] && p.domesticAirports[destination]
}

// IsUrgent reports whether departure falls inside the short-notice window
func (p *FeePolicy) IsUrgent(departure, now time.Time) bool {
	return departure.Sub(now) < p.urgentWindow
}

// IsGroup reports whether the party qualifies for the group rate
func (p *FeePolicy) IsGroup(passengerCount int) bool {
	return passengerCount >= p.cfg.GroupMinSize
}

// ReferralDiscount is the referral credit applied to a booking: never more
// than the fare itself, so the fee is always paid.
func ReferralDiscount(credit, baseFare, taxes models.Money) models.Money {
	if credit <= 0 {
		return 0
	}
	return credit.Min(baseFare + taxes)
}
