package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionTier is the traveler's subscription level.
type SubscriptionTier string

const (
	TierNone   SubscriptionTier = "none"
	TierBronze SubscriptionTier = "bronze"
	TierSilver SubscriptionTier = "silver"
	TierGold   SubscriptionTier = "gold"
)

// IsValid reports whether t is a known tier.
func (t SubscriptionTier) IsValid() bool {
	switch t {
	case TierNone, TierBronze, TierSilver, TierGold:
		return true
	}
	return false
}

// IsPremium reports tiers that always get a full refund on cancellation.
func (t SubscriptionTier) IsPremium() bool {
	switch t {
	case TierSilver, TierGold:
		return true
	case TierNone, TierBronze:
		return false
	}
	return false
}

// Account is the traveler-owning account as the booking core sees it.
// Identity and credentials live with the auth collaborator.
type Account struct {
	ID                     uuid.UUID        `json:"id" db:"id"`
	Email                  string           `json:"email" db:"email"`
	FullName               *string          `json:"full_name,omitempty" db:"full_name"`
	Tier                   SubscriptionTier `json:"subscription_tier" db:"subscription_tier"`
	SubscriptionEnd        *time.Time       `json:"subscription_end,omitempty" db:"subscription_end"`
	BookingsUsedThisPeriod int              `json:"bookings_used_this_period" db:"bookings_used_this_period"`
	ReferralCredit         Money            `json:"referral_credit" db:"referral_credit"`
	CreatedAt              time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at" db:"updated_at"`
}

// EffectiveTier is the tier in force at now. A lapsed subscription counts as none.
func (a *Account) EffectiveTier(now time.Time) SubscriptionTier {
	if a.Tier == "" || a.Tier == TierNone {
		return TierNone
	}
	if a.SubscriptionEnd == nil || !a.SubscriptionEnd.After(now) {
		return TierNone
	}
	return a.Tier
}
