// Package validator registers the booking request rules on go-playground/validator
// and checks itinerary dates.
package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tripgate/booking-backend/pkg/apperrors"
)

var iataRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// iataCode accepts a 3-letter upper-case airport or city code
var iataCode validator.Func = func(fl validator.FieldLevel) bool {
	s, ok := fl.Field().Interface().(string)
	return ok && iataRegex.MatchString(s)
}

// passengerType accepts adult, child or infant
var passengerType validator.Func = func(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "adult", "child", "infant":
		return true
	}
	return false
}

// Register adds the custom tags to v. Used for gin's binding engine too.
func Register(v *validator.Validate) error {
	if err := v.RegisterValidation("iata", iataCode); err != nil {
		return fmt.Errorf("failed to register iata: %w", err)
	}
	if err := v.RegisterValidation("passenger_type", passengerType); err != nil {
		return fmt.Errorf("failed to register passenger_type: %w", err)
	}
	return nil
}

// New returns a validator with the custom tags registered
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := Register(v); err != nil {
		panic(err)
	}
	return v
}

// Describe turns validation errors into one readable message
func Describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// ValidateTripDates enforces: departure not in the past, return not before
// departure, departure at most maxAdvanceDays ahead.
func ValidateTripDates(departure time.Time, ret *time.Time, now time.Time, maxAdvanceDays int) error {
	const op = "validator.ValidateTripDates"

	if departure.Before(now) {
		return apperrors.Validation(op, "departure is in the past")
	}
	if ret != nil && ret.Before(departure) {
		return apperrors.Validation(op, "return is before departure")
	}
	if maxAdvanceDays > 0 && departure.After(now.AddDate(0, 0, maxAdvanceDays)) {
		return apperrors.Validation(op, fmt.Sprintf("departure is more than %d days ahead", maxAdvanceDays))
	}
	return nil
}
