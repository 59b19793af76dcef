package apperrors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain error", errors.New("boom"), KindInternal},
		{"classified", New(KindInventoryGone, "gds.CreateOrder", "sold out"), KindInventoryGone},
		{"wrapped twice", fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", New(KindPriceChanged, "op", "x"))), KindPriceChanged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := map[Kind]bool{
		KindRateLimited:         true,
		KindProviderUnavailable: true,
	}

	for _, kind := range Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			assert.Equal(t, retryable[kind], IsRetryable(New(kind, "op", "msg")))
		})
	}
}

func TestRetryAfterOf(t *testing.T) {
	err := fmt.Errorf("confirm fare: %w", RateLimited("gds.ConfirmFare", 3*time.Second))

	assert.Equal(t, 3*time.Second, RetryAfterOf(err))
	assert.True(t, Is(err, KindRateLimited))
	assert.Zero(t, RetryAfterOf(errors.New("other")))
}

func TestError_Message(t *testing.T) {
	err := Wrap(KindProviderUnavailable, "gds.CreateOrder", errors.New("connection reset"))
	assert.Equal(t, "gds.CreateOrder: provider_unavailable: connection reset", err.Error())

	err = New(KindValidation, "", "departure date is in the past")
	assert.Equal(t, "departure date is in the past", err.Error())
}

func TestKinds_Unique(t *testing.T) {
	seen := map[Kind]bool{}
	for _, k := range Kinds() {
		assert.False(t, seen[k], "duplicate kind %s", k)
		seen[k] = true
	}
	assert.Len(t, seen, 14)
}
