package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tripgate/booking-backend/internal/models"
	"github.com/tripgate/booking-backend/pkg/apperrors"
)

// AccountRepository reads traveler accounts and maintains their subscription counters
type AccountRepository struct {
	db *sqlx.DB
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetByID returns an account
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	err := r.db.GetContext(ctx, &a, `
		SELECT id, email, full_name, subscription_tier, subscription_end,
		       bookings_used_this_period, referral_credit, created_at, updated_at
		FROM accounts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("database.AccountRepository.GetByID", "account not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}

// ResetPeriodUsage zeroes every account's waived-booking counter
func (r *AccountRepository) ResetPeriodUsage(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET bookings_used_this_period = 0, updated_at = NOW()
		WHERE bookings_used_this_period <> 0`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset booking usage: %w", err)
	}
	return result.RowsAffected()
}

// ExpireSubscriptions downgrades subscriptions that ended before now
func (r *AccountRepository) ExpireSubscriptions(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET subscription_tier = 'none', updated_at = NOW()
		WHERE subscription_tier <> 'none' AND subscription_end IS NOT NULL AND subscription_end < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire subscriptions: %w", err)
	}
	return result.RowsAffected()
}
