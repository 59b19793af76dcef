package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"

	"github.com/tripgate/booking-backend/internal/models"
	"github.com/tripgate/booking-backend/pkg/apperrors"
	"github.com/tripgate/booking-backend/pkg/retry"
)

// stripeAPI is the subset of the Stripe client the gateway uses.
type stripeAPI interface {
	CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	ConfirmPaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
	CreateRefund(ctx context.Context, params *stripe.RefundCreateParams) (*stripe.Refund, error)
}

// stripeClientAPI adapts *stripe.Client to stripeAPI
type stripeClientAPI struct {
	sc *stripe.Client
}

func (a *stripeClientAPI) CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error) {
	return a.sc.V1PaymentIntents.Create(ctx, params)
}

func (a *stripeClientAPI) RetrievePaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	return a.sc.V1PaymentIntents.Retrieve(ctx, id, nil)
}

func (a *stripeClientAPI) ConfirmPaymentIntent(ctx context.Context, id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error) {
	return a.sc.V1PaymentIntents.Confirm(ctx, id, params)
}

func (a *stripeClientAPI) CreateRefund(ctx context.Context, params *stripe.RefundCreateParams) (*stripe.Refund, error) {
	return a.sc.V1Refunds.Create(ctx, params)
}

// Config holds gateway settings
type Config struct {
	SecretKey     string
	WebhookSecret string
	CallTimeout   time.Duration
}

// StripeGateway is the Payment Gateway Adapter. It never touches booking state.
type StripeGateway struct {
	api           stripeAPI
	webhookSecret string
	callTimeout   time.Duration
	policy        retry.Policy
	logger        *logrus.Logger
}

// NewStripeGateway creates a gateway backed by the Stripe API
func NewStripeGateway(cfg Config, policy retry.Policy, logger *logrus.Logger) *StripeGateway {
	return newStripeGateway(&stripeClientAPI{sc: stripe.NewClient(cfg.SecretKey)}, cfg, policy, logger)
}

func newStripeGateway(api stripeAPI, cfg Config, policy retry.Policy, logger *logrus.Logger) *StripeGateway {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &StripeGateway{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		callTimeout:   timeout,
		policy:        policy,
		logger:        logger,
	}
}

// CreateIntent creates an unconfirmed payment intent for amount.
func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (*IntentRef, error) {
	const op = "payment.CreateIntent"

	if req.Amount <= 0 {
		return nil, apperrors.Validation(op, "amount must be positive")
	}
	if req.Currency == "" {
		return nil, apperrors.Validation(op, "currency is required")
	}

	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(req.Amount.Minor()),
		Currency: stripe.String(strings.ToLower(req.Currency)),
	}
	if req.PaymentMethodRef != "" {
		params.PaymentMethod = stripe.String(req.PaymentMethodRef)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey("intent-" + req.IdempotencyKey)
	}

	var pi *stripe.PaymentIntent
	err := g.policy.Do(ctx, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
		var err error
		pi, err = g.api.CreatePaymentIntent(cctx, params)
		return classifyStripeError(op, err)
	})
	if err != nil {
		g.logger.WithError(err).WithField("amount", req.Amount.String()).Error("Failed to create payment intent")
		return nil, err
	}

	g.logger.WithFields(logrus.Fields{
		"intent_id": pi.ID,
		"amount":    req.Amount.String(),
		"currency":  req.Currency,
	}).Info("Payment intent created")

	return &IntentRef{ID: pi.ID, Amount: req.Amount, Currency: strings.ToUpper(req.Currency)}, nil
}

// ConfirmIntent confirms an intent (or re-reads one already confirmed) and
// reports the outcome. A captured result whose amount or currency differs
// from ref is returned together with an amount_mismatch error and must never
// be treated as a success.
func (g *StripeGateway) ConfirmIntent(ctx context.Context, ref IntentRef) (*Outcome, error) {
	const op = "payment.ConfirmIntent"

	pi, err := g.retrieve(ctx, op, ref.ID)
	if err != nil {
		return nil, err
	}

	if pi.Status == stripe.PaymentIntentStatusRequiresConfirmation {
		cctx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
		pi, err = g.api.ConfirmPaymentIntent(cctx, ref.ID, &stripe.PaymentIntentConfirmParams{})
		if err != nil {
			err = classifyStripeError(op, err)
			if apperrors.Is(err, apperrors.KindPaymentDeclined) {
				return &Outcome{IntentID: ref.ID, Status: models.PaymentStatusFailed, FailureReason: err.Error()}, nil
			}
			return nil, err
		}
	}

	outcome := outcomeFromIntent(pi)

	if outcome.Status == models.PaymentStatusCaptured {
		if outcome.Amount != ref.Amount || !strings.EqualFold(outcome.Currency, ref.Currency) {
			g.logger.WithFields(logrus.Fields{
				"intent_id":         ref.ID,
				"expected_amount":   ref.Amount.String(),
				"expected_currency": ref.Currency,
				"received_amount":   outcome.Amount.String(),
				"received_currency": outcome.Currency,
			}).Error("CRITICAL: Payment amount mismatch")
			return outcome, apperrors.New(apperrors.KindAmountMismatch, op,
				fmt.Sprintf("captured %s %s, expected %s %s", outcome.Amount, outcome.Currency, ref.Amount, ref.Currency))
		}
	}

	g.logger.WithFields(logrus.Fields{
		"intent_id": ref.ID,
		"status":    outcome.Status,
	}).Info("Payment intent confirmed")

	return outcome, nil
}

// GetIntent reads the current state of an intent without confirming it.
func (g *StripeGateway) GetIntent(ctx context.Context, intentID string) (*Outcome, error) {
	pi, err := g.retrieve(ctx, "payment.GetIntent", intentID)
	if err != nil {
		return nil, err
	}
	return outcomeFromIntent(pi), nil
}

func (g *StripeGateway) retrieve(ctx context.Context, op, id string) (*stripe.PaymentIntent, error) {
	if id == "" {
		return nil, apperrors.Validation(op, "intent id is required")
	}
	var pi *stripe.PaymentIntent
	err := g.policy.Do(ctx, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
		var err error
		pi, err = g.api.RetrievePaymentIntent(cctx, id)
		return classifyStripeError(op, err)
	})
	return pi, err
}

// Refund refunds part or all of a captured intent. An amount above what is
// still refundable is rejected before the gateway is called.
func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (*RefundOutcome, error) {
	const op = "payment.Refund"

	if req.IntentID == "" {
		return nil, apperrors.Validation(op, "intent id is required")
	}
	remaining := req.Captured - req.AlreadyRefunded
	if remaining <= 0 {
		return nil, apperrors.Validation(op, "nothing left to refund")
	}
	amount := remaining
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount <= 0 {
		return nil, apperrors.Validation(op, "refund amount must be positive")
	}
	if amount > remaining {
		return nil, apperrors.Validation(op,
			fmt.Sprintf("refund %s exceeds refundable %s", amount, remaining))
	}

	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(req.IntentID),
		Amount:        stripe.Int64(amount.Minor()),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey("refund-" + req.IdempotencyKey)
	}

	var refund *stripe.Refund
	err := g.policy.Do(ctx, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
		var err error
		refund, err = g.api.CreateRefund(cctx, params)
		return classifyStripeError(op, err)
	})
	if err != nil {
		g.logger.WithError(err).WithField("intent_id", req.IntentID).Error("Refund failed")
		return nil, err
	}

	switch refund.Status {
	case stripe.RefundStatusSucceeded, stripe.RefundStatusPending, stripe.RefundStatusRequiresAction:
	default:
		return nil, apperrors.New(apperrors.KindPaymentDeclined, op,
			fmt.Sprintf("refund %s ended in status %s", refund.ID, refund.Status))
	}

	g.logger.WithFields(logrus.Fields{
		"intent_id": req.IntentID,
		"refund_id": refund.ID,
		"amount":    amount.String(),
		"status":    refund.Status,
	}).Info("Refund issued")

	return &RefundOutcome{RefundID: refund.ID, Amount: amount, Status: string(refund.Status)}, nil
}

// outcomeFromIntent maps Stripe intent statuses onto payment statuses.
func outcomeFromIntent(pi *stripe.PaymentIntent) *Outcome {
	o := &Outcome{
		IntentID:       pi.ID,
		Amount:         models.MoneyFromMinor(pi.Amount),
		AmountReceived: models.MoneyFromMinor(pi.AmountReceived),
		Currency:       strings.ToUpper(string(pi.Currency)),
		GatewayStatus:  string(pi.Status),
	}
	if pi.LatestCharge != nil {
		o.ChargeID = pi.LatestCharge.ID
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		o.Status = models.PaymentStatusCaptured
		if pi.AmountReceived > 0 {
			o.Amount = o.AmountReceived
		}
	case stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresCapture:
		o.Status = models.PaymentStatusPending
	case stripe.PaymentIntentStatusRequiresPaymentMethod, stripe.PaymentIntentStatusCanceled:
		o.Status = models.PaymentStatusFailed
		if pi.LastPaymentError != nil {
			o.FailureReason = pi.LastPaymentError.Msg
		}
	default:
		o.Status = models.PaymentStatusPending
	}
	return o
}

// classifyStripeError maps Stripe errors to the error taxonomy.
func classifyStripeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.Wrap(apperrors.KindProviderUnavailable, op, err)
	}

	var se *stripe.Error
	if !errors.As(err, &se) {
		return apperrors.Wrap(apperrors.KindProviderUnavailable, op, err)
	}

	switch {
	case se.HTTPStatusCode == http.StatusTooManyRequests:
		return &apperrors.Error{Kind: apperrors.KindRateLimited, Op: op, Message: "rate limit exceeded", Err: err}
	case se.Type == stripe.ErrorTypeCard:
		return apperrors.Wrap(apperrors.KindPaymentDeclined, op, err)
	case se.HTTPStatusCode >= 500 || se.Type == stripe.ErrorTypeAPI:
		return apperrors.Wrap(apperrors.KindProviderUnavailable, op, err)
	case se.HTTPStatusCode == http.StatusNotFound || se.Code == stripe.ErrorCodeResourceMissing:
		return apperrors.Wrap(apperrors.KindNotFound, op, err)
	case se.Type == stripe.ErrorTypeIdempotency:
		return apperrors.Wrap(apperrors.KindConflict, op, err)
	default:
		return apperrors.Wrap(apperrors.KindValidation, op, err)
	}
}
