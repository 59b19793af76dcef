package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tripgate/booking-backend/internal/payment"
	"github.com/tripgate/booking-backend/pkg/apperrors"
)

// maxWebhookBody caps the webhook payload read into memory. Larger bodies
// are rejected rather than truncated, which would only fail the signature.
const maxWebhookBody = 512 << 10

// WebhookVerifier authenticates gateway webhook payloads
type WebhookVerifier interface {
	VerifyWebhook(payload []byte, signature string) (*payment.Event, error)
}

// PaymentEventApplier applies verified payment events to bookings
type PaymentEventApplier interface {
	ApplyPaymentEvent(ctx context.Context, ev *payment.Event) error
}

// PaymentWebhookHandler receives payment gateway webhooks
type PaymentWebhookHandler struct {
	verifier WebhookVerifier
	events   PaymentEventApplier
	logger   *logrus.Logger
}

// NewPaymentWebhookHandler creates a new PaymentWebhookHandler
func NewPaymentWebhookHandler(verifier WebhookVerifier, events PaymentEventApplier, logger *logrus.Logger) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{
		verifier: verifier,
		events:   events,
		logger:   logger,
	}
}

// HandleWebhook handles POST /api/v1/payments/webhook.
//
// A 2xx tells the gateway to stop redelivering, so only failures a retry can
// fix (our storage or a provider outage) answer 500. Events that cannot
// apply, such as stale or unknown ones, are acknowledged.
func (h *PaymentWebhookHandler) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		h.logger.WithError(err).Warn("Failed to read webhook body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if len(payload) > maxWebhookBody {
		h.logger.WithField("limit_bytes", maxWebhookBody).Warn("Webhook body too large")
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	ev, err := h.verifier.VerifyWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if apperrors.Is(err, apperrors.KindInternal) {
			h.logger.WithError(err).Error("Webhook verification unavailable")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook verification unavailable"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	log := h.logger.WithFields(logrus.Fields{
		"event_id":   ev.ID,
		"event_type": ev.Type,
		"intent_id":  ev.IntentID,
	})

	if err := h.events.ApplyPaymentEvent(c.Request.Context(), ev); err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.KindInternal, apperrors.KindProviderUnavailable, apperrors.KindRateLimited:
			log.WithError(err).Error("Failed to apply payment event, asking for redelivery")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "event not applied"})
			return
		default:
			log.WithError(err).Warn("Payment event acknowledged without effect")
		}
	} else {
		log.Info("Payment event processed")
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
