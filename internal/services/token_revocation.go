package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tripgate/booking-backend/internal/database"
)

const revokedTokenKeyPrefix = "revoked_token:"

// TokenRevocationStore blocks access tokens by id (jti) until they expire
type TokenRevocationStore interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

var (
	_ TokenRevocationStore = (*RedisRevocationStore)(nil)
	_ TokenRevocationStore = (*database.RevokedTokenRepository)(nil)
)

// RedisRevocationStore keeps revoked token ids in Redis with a TTL equal to
// the token's remaining lifetime, so entries clean themselves up.
type RedisRevocationStore struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewRedisRevocationStore creates a new RedisRevocationStore
func NewRedisRevocationStore(client redis.Cmdable) *RedisRevocationStore {
	return &RedisRevocationStore{client: client, now: time.Now}
}

// Revoke blocks jti until expiresAt. An already expired token needs no entry.
func (s *RedisRevocationStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, revokedTokenKeyPrefix+jti, 1, ttl.Round(time.Second)+time.Second).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether jti is revoked
func (s *RedisRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedTokenKeyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}
	return n > 0, nil
}
