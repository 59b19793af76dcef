package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripgate/booking-backend/internal/models"
	"github.com/tripgate/booking-backend/internal/payment"
	"github.com/tripgate/booking-backend/pkg/apperrors"
)

type fakeVerifier struct {
	err       error
	payload   []byte
	signature string
}

func (f *fakeVerifier) VerifyWebhook(payload []byte, signature string) (*payment.Event, error) {
	f.payload, f.signature = payload, signature
	if f.err != nil {
		return nil, f.err
	}
	return &payment.Event{
		ID:       "evt_1",
		Type:     payment.EventPaymentSucceeded,
		IntentID: "pi_1",
		Status:   models.PaymentStatusCaptured,
		Payload:  payload,
	}, nil
}

type fakeApplier struct {
	err    error
	events []*payment.Event
}

func (f *fakeApplier) ApplyPaymentEvent(_ context.Context, ev *payment.Event) error {
	f.events = append(f.events, ev)
	return f.err
}

func webhookRouter(t *testing.T, verifier *fakeVerifier, applier *fakeApplier) *gin.Engine {
	router := setupTestRouter(t, nil)
	h := NewPaymentWebhookHandler(verifier, applier, testLogger())
	router.POST("/api/v1/payments/webhook", h.HandleWebhook)
	return router
}

func postWebhook(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewBufferString(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleWebhook_Applies(t *testing.T) {
	verifier := &fakeVerifier{}
	applier := &fakeApplier{}
	router := webhookRouter(t, verifier, applier)

	w := postWebhook(router, `{"id":"evt_1"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"id":"evt_1"}`, string(verifier.payload))
	assert.Equal(t, "t=1,v1=abc", verifier.signature)
	require.Len(t, applier.events, 1)
	assert.Equal(t, "evt_1", applier.events[0].ID)
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	applier := &fakeApplier{}
	router := webhookRouter(t, &fakeVerifier{err: apperrors.Wrap(apperrors.KindUnauthorized, "payment.VerifyWebhook", errors.New("bad signature"))}, applier)

	w := postWebhook(router, `{}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, applier.events)
}

func TestHandleWebhook_BodySize(t *testing.T) {
	// A charge payload with long metadata still fits
	large := `{"id":"evt_1","pad":"` + strings.Repeat("x", 200<<10) + `"}`
	verifier := &fakeVerifier{}
	applier := &fakeApplier{}
	router := webhookRouter(t, verifier, applier)

	w := postWebhook(router, large)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, verifier.payload, len(large))

	verifier = &fakeVerifier{}
	applier = &fakeApplier{}
	router = webhookRouter(t, verifier, applier)

	w = postWebhook(router, strings.Repeat("x", maxWebhookBody+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Nil(t, verifier.payload, "oversized bodies are never verified")
	assert.Empty(t, applier.events)
}

func TestHandleWebhook_ApplyOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"storage failure asks for redelivery", apperrors.Internal("database.RecordProviderEvent", errors.New("timeout")), http.StatusInternalServerError},
		{"provider outage asks for redelivery", apperrors.New(apperrors.KindProviderUnavailable, "gds.CreateOrder", "503"), http.StatusInternalServerError},
		{"conflict is acknowledged", apperrors.Conflict("services.ApplyPaymentEvent", "booking moved on"), http.StatusOK},
		{"inventory gone is acknowledged", apperrors.New(apperrors.KindInventoryGone, "gds.CreateOrder", "sold out"), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := webhookRouter(t, &fakeVerifier{}, &fakeApplier{err: tt.err})
			w := postWebhook(router, `{}`)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
