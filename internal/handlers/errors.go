package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tripgate/booking-backend/pkg/apperrors"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type errorMapping struct {
	status  int
	code    string
	message string
}

const (
	messageTryAgain      = "Please try again shortly."
	messageRequote       = "This fare is no longer available at the quoted price, please search again."
	messagePaymentReview = "Your payment was received; our team will confirm your booking shortly."
)

// mapKind is the single translation from error class to HTTP reply. Every
// Kind has a case; the default only guards against unclassified values.
func mapKind(kind apperrors.Kind) errorMapping {
	switch kind {
	case apperrors.KindValidation:
		return errorMapping{http.StatusBadRequest, "VALIDATION_ERROR", "The request is invalid."}
	case apperrors.KindUnauthorized:
		return errorMapping{http.StatusUnauthorized, "UNAUTHORIZED", "Authentication is required."}
	case apperrors.KindForbidden:
		return errorMapping{http.StatusForbidden, "FORBIDDEN", "You don't have permission to access this booking."}
	case apperrors.KindNotFound:
		return errorMapping{http.StatusNotFound, "NOT_FOUND", "The requested resource was not found."}
	case apperrors.KindConflict:
		return errorMapping{http.StatusConflict, "CONFLICT", "The booking changed while your request was processed. Please refresh and try again."}
	case apperrors.KindInvalidOffer:
		return errorMapping{http.StatusUnprocessableEntity, "INVALID_OFFER", "This fare offer is not valid, please search again."}
	case apperrors.KindRateLimited:
		return errorMapping{http.StatusTooManyRequests, "RATE_LIMITED", messageTryAgain}
	case apperrors.KindProviderUnavailable:
		return errorMapping{http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE", messageTryAgain}
	case apperrors.KindInventoryGone:
		return errorMapping{http.StatusConflict, "FARE_UNAVAILABLE", messageRequote}
	case apperrors.KindPriceChanged:
		return errorMapping{http.StatusConflict, "PRICE_CHANGED", messageRequote}
	case apperrors.KindAmountMismatch:
		return errorMapping{http.StatusConflict, "PAYMENT_UNDER_REVIEW", messagePaymentReview}
	case apperrors.KindPaymentDeclined:
		return errorMapping{http.StatusPaymentRequired, "PAYMENT_DECLINED", "Your payment was declined. Please use another payment method."}
	case apperrors.KindReconciliationRequired:
		return errorMapping{http.StatusConflict, "PAYMENT_UNDER_REVIEW", messagePaymentReview}
	case apperrors.KindInternal:
		return errorMapping{http.StatusInternalServerError, "INTERNAL_ERROR", "Something went wrong. Please try again later."}
	default:
		return errorMapping{http.StatusInternalServerError, "INTERNAL_ERROR", "Something went wrong. Please try again later."}
	}
}

// respondError writes the reply for err. Only validation errors expose
// their detail; provider and internal messages stay in the logs.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	kind := apperrors.KindOf(err)
	m := mapKind(kind)

	entry := logger.WithError(err).WithFields(logrus.Fields{
		"kind":   kind,
		"path":   c.Request.URL.Path,
		"status": m.status,
	})
	if m.status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Info("Request rejected")
	}

	resp := ErrorResponse{Error: string(kind), Code: m.code, Message: m.message}
	if kind == apperrors.KindValidation {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			resp.Details = appErr.Message
		}
	}
	if retryAfter := apperrors.RetryAfterOf(err); retryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	}

	c.AbortWithStatusJSON(m.status, resp)
}

// respondBindError replies to a request body or parameter that failed binding
func respondBindError(c *gin.Context, details string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error:   string(apperrors.KindValidation),
		Code:    "VALIDATION_ERROR",
		Message: "The request is invalid.",
		Details: details,
	})
}
