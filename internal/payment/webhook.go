package payment

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/tripgate/booking-backend/internal/models"
	"github.com/tripgate/booking-backend/pkg/apperrors"
)

// VerifyWebhook checks the signature and decodes the event. It has no side
// effects, so redelivered events verify the same way every time; duplicate
// suppression happens where the event is applied.
func (g *StripeGateway) VerifyWebhook(payload []byte, signature string) (*Event, error) {
	const op = "payment.VerifyWebhook"

	if g.webhookSecret == "" {
		return nil, apperrors.New(apperrors.KindInternal, op, "webhook secret is not configured")
	}

	se, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		g.logger.WithError(err).Warn("Rejected webhook with invalid signature")
		return nil, apperrors.Wrap(apperrors.KindUnauthorized, op, err)
	}

	event := &Event{
		ID:      se.ID,
		Type:    string(se.Type),
		Created: time.Unix(se.Created, 0).UTC(),
		Payload: payload,
	}
	if se.Data == nil {
		return event, nil
	}

	switch event.Type {
	case EventPaymentSucceeded, EventPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(se.Data.Raw, &pi); err != nil {
			return nil, apperrors.Wrap(apperrors.KindValidation, op, err)
		}
		event.IntentID = pi.ID
		event.Currency = strings.ToUpper(string(pi.Currency))
		if event.Type == EventPaymentSucceeded {
			event.Status = models.PaymentStatusCaptured
			event.Amount = models.MoneyFromMinor(pi.AmountReceived)
			if pi.AmountReceived == 0 {
				event.Amount = models.MoneyFromMinor(pi.Amount)
			}
		} else {
			event.Status = models.PaymentStatusFailed
			event.Amount = models.MoneyFromMinor(pi.Amount)
			if pi.LastPaymentError != nil {
				event.FailureReason = pi.LastPaymentError.Msg
			}
		}

	case EventChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(se.Data.Raw, &ch); err != nil {
			return nil, apperrors.Wrap(apperrors.KindValidation, op, err)
		}
		if ch.PaymentIntent != nil {
			event.IntentID = ch.PaymentIntent.ID
		}
		event.Status = models.PaymentStatusRefunded
		event.Amount = models.MoneyFromMinor(ch.Amount)
		event.AmountRefunded = models.MoneyFromMinor(ch.AmountRefunded)
		event.Currency = strings.ToUpper(string(ch.Currency))
	}

	return event, nil
}
