package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tripgate/booking-backend/internal/config"
	"github.com/tripgate/booking-backend/internal/gds"
	"github.com/tripgate/booking-backend/internal/payment"
	"github.com/tripgate/booking-backend/pkg/apperrors"
	"github.com/tripgate/booking-backend/pkg/retry"
)

// check-providers verifies GDS and Stripe credentials from the environment
// without touching the database or creating any charge.
func main() {
	keyword := flag.String("keyword", "LON", "location keyword for the GDS probe")
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = 1

	tokens := gds.NewTokenManager(gds.TokenConfig{
		BaseURL:       cfg.GDS.BaseURL,
		ClientID:      cfg.GDS.ClientID,
		ClientSecret:  cfg.GDS.ClientSecret,
		RefreshBuffer: cfg.GDS.TokenRefreshBuffer,
		Timeout:       cfg.GDS.CallTimeout,
	}, logger)
	client := gds.NewClient(gds.Config{
		BaseURL:     cfg.GDS.BaseURL,
		CallTimeout: cfg.GDS.CallTimeout,
	}, tokens, policy, logger)
	gateway := payment.NewStripeGateway(payment.Config{
		SecretKey:   cfg.Stripe.SecretKey,
		CallTimeout: cfg.Stripe.CallTimeout,
	}, policy, logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if _, err := tokens.Token(ctx); err != nil {
			return fmt.Errorf("gds token: %w", err)
		}
		locations, err := client.SearchLocations(ctx, *keyword)
		if err != nil {
			return fmt.Errorf("gds location search: %w", err)
		}
		logger.WithFields(logrus.Fields{"keyword": *keyword, "results": len(locations)}).Info("GDS reachable")
		return nil
	})

	g.Go(func() error {
		// A made-up intent id: not_found proves the key authenticates
		_, err := gateway.GetIntent(ctx, "pi_provider_check")
		switch kind := apperrors.KindOf(err); {
		case err == nil, kind == apperrors.KindNotFound:
			logger.Info("Stripe reachable")
			return nil
		default:
			return fmt.Errorf("stripe (%s): %w", kind, err)
		}
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Provider check failed")
		os.Exit(1)
	}
	logger.Info("All providers reachable")
}
