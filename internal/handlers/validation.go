package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin/binding"
	govalidator "github.com/go-playground/validator/v10"

	"github.com/tripgate/booking-backend/pkg/validator"
)

// RegisterValidators adds the booking tags (iata, passenger_type) to gin's
// binding engine. Must run before any route binds a request.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*govalidator.Validate)
	if !ok {
		return fmt.Errorf("unexpected binding engine %T", binding.Validator.Engine())
	}
	return validator.Register(v)
}
