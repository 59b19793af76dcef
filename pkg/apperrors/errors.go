// Package apperrors defines the error classes shared by the booking core,
// its provider adapters and the HTTP layer.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error. The set is closed: every consumer switches on it.
type Kind string

const (
	KindValidation             Kind = "validation"
	KindUnauthorized           Kind = "unauthorized"
	KindForbidden              Kind = "forbidden"
	KindNotFound               Kind = "not_found"
	KindConflict               Kind = "conflict"
	KindInvalidOffer           Kind = "invalid_offer"
	KindRateLimited            Kind = "rate_limited"
	KindProviderUnavailable    Kind = "provider_unavailable"
	KindInventoryGone          Kind = "inventory_gone"
	KindPriceChanged           Kind = "price_changed"
	KindAmountMismatch         Kind = "amount_mismatch"
	KindPaymentDeclined        Kind = "payment_declined"
	KindReconciliationRequired Kind = "reconciliation_required"
	KindInternal               Kind = "internal"
)

// Kinds returns every defined Kind.
func Kinds() []Kind {
	return []Kind{
		KindValidation,
		KindUnauthorized,
		KindForbidden,
		KindNotFound,
		KindConflict,
		KindInvalidOffer,
		KindRateLimited,
		KindProviderUnavailable,
		KindInventoryGone,
		KindPriceChanged,
		KindAmountMismatch,
		KindPaymentDeclined,
		KindReconciliationRequired,
		KindInternal,
	}
}

// Error is a classified error.
type Error struct {
	Kind       Kind
	Op         string        // operation that failed, e.g. "gds.ConfirmFare"
	Message    string        // safe for logs, never shown to travelers as-is
	RetryAfter time.Duration // only set for KindRateLimited
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// RateLimited creates a KindRateLimited error carrying the provider's retry hint.
func RateLimited(op string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Op: op, Message: "rate limit exceeded", RetryAfter: retryAfter}
}

// Convenience constructors for the classes the core raises most often.

func Validation(op, message string) *Error { return New(KindValidation, op, message) }
func NotFound(op, message string) *Error   { return New(KindNotFound, op, message) }
func Conflict(op, message string) *Error   { return New(KindConflict, op, message) }
func Internal(op string, err error) *Error { return Wrap(KindInternal, op, err) }

// KindOf returns the Kind of the first classified error in err's chain.
// Unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether the error class may be retried with backoff.
// InvalidOffer, InventoryGone, PriceChanged and AmountMismatch are never retried.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindProviderUnavailable:
		return true
	default:
		return false
	}
}

// RetryAfterOf returns the provider's retry hint, or zero.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
