package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	ginmiddleware "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/tripgate/booking-backend/internal/utils"
)

const rateLimitPrefix = "rate_limiter"

// NewLimiterStore returns a Redis-backed store shared by all instances, or
// an in-process store when client is nil.
func NewLimiterStore(client *redis.Client) (limiter.Store, error) {
	if client == nil {
		return memory.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          rateLimitPrefix,
			CleanUpInterval: limiter.DefaultCleanUpInterval,
		}), nil
	}

	store, err := redisstore.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix:   rateLimitPrefix,
		MaxRetry: 3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis limiter store: %w", err)
	}
	return store, nil
}

// rateLimitKey scopes limits per authenticated user, falling back to the
// client address
func rateLimitKey(routeID string) func(c *gin.Context) string {
	return func(c *gin.Context) string {
		if userCtx, ok := GetUserContext(c); ok {
			return routeID + ":user:" + userCtx.UserID.String()
		}
		return routeID + ":ip:" + utils.GetRealIP(c)
	}
}

// NewRateLimiter limits routeID to rateStr (limiter format, e.g. "30-M").
// An unreachable store lets requests through.
func NewRateLimiter(store limiter.Store, rateStr, routeID string, logger *logrus.Logger) (gin.HandlerFunc, error) {
	rate, err := limiter.NewRateFromFormatted(rateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid rate %q for %s: %w", rateStr, routeID, err)
	}

	return ginmiddleware.NewMiddleware(limiter.New(store, rate),
		ginmiddleware.WithKeyGetter(rateLimitKey(routeID)),
		ginmiddleware.WithLimitReachedHandler(func(c *gin.Context) {
			logger.WithFields(logrus.Fields{
				"route": routeID,
				"ip":    utils.GetRealIP(c),
			}).Warn("Rate limit exceeded")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "Too many requests. Please try again shortly.",
				"code":    "RATE_LIMITED",
			})
		}),
		ginmiddleware.WithErrorHandler(func(c *gin.Context, err error) {
			logger.WithError(err).WithField("route", routeID).Error("Rate limiter store failed")
			c.Next()
		}),
	), nil
}
