package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// RevokedTokenRepository is the PostgreSQL token revocation store, used when
// Redis is not configured.
type RevokedTokenRepository struct {
	db *sqlx.DB
}

// NewRevokedTokenRepository creates a new RevokedTokenRepository
func NewRevokedTokenRepository(db *sqlx.DB) *RevokedTokenRepository {
	return &RevokedTokenRepository{db: db}
}

// Revoke blocks a token id until it would have expired anyway
func (r *RevokedTokenRepository) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at, revoked_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (jti) DO NOTHING`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether a token id is revoked and not yet expired
func (r *RevokedTokenRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := r.db.GetContext(ctx, &revoked, `
		SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti = $1 AND expires_at > NOW())`, jti)
	if err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}
	return revoked, nil
}

// PurgeExpired deletes entries for tokens that have expired
func (r *RevokedTokenRepository) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge revoked tokens: %w", err)
	}
	return result.RowsAffected()
}
