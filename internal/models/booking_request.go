package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

// PassengerRequest is one traveler submitted with a booking request
type PassengerRequest struct {
	FirstName      string        `json:"first_name" binding:"required,max=100"`
	LastName       string        `json:"last_name" binding:"required,max=100"`
	DateOfBirth    string        `json:"date_of_birth" binding:"required,datetime=2006-01-02"`
	Gender         string        `json:"gender" binding:"required,oneof=MALE FEMALE"`
	PassengerType  PassengerType `json:"passenger_type" binding:"required,passenger_type"`
	Email          *string       `json:"email,omitempty" binding:"omitempty,email"`
	Phone          *string       `json:"phone,omitempty" binding:"omitempty,max=20"`
	DocumentType   string        `json:"document_type" binding:"required,oneof=PASSPORT IDENTITY_CARD"`
	DocumentNumber string        `json:"document_number" binding:"required,max=50"`
	DocumentExpiry *string       `json:"document_expiry,omitempty" binding:"omitempty,datetime=2006-01-02"`
	Nationality    string        `json:"nationality" binding:"required,len=2"`
	IssuingCountry string        `json:"issuing_country" binding:"required,len=2"`
	SeatAssignment *string       `json:"seat_assignment,omitempty" binding:"omitempty,max=5"`
}

// ToPassenger converts the request into a passenger of bookingID
func (r *PassengerRequest) ToPassenger(bookingID uuid.UUID) (Passenger, error) {
	dob, err := time.Parse(dateLayout, r.DateOfBirth)
	if err != nil {
		return Passenger{}, fmt.Errorf("invalid date_of_birth %q", r.DateOfBirth)
	}

	p := Passenger{
		ID:             uuid.New(),
		BookingID:      bookingID,
		FirstName:      strings.TrimSpace(r.FirstName),
		LastName:       strings.TrimSpace(r.LastName),
		DateOfBirth:    dob,
		Gender:         r.Gender,
		PassengerType:  r.PassengerType,
		Email:          r.Email,
		Phone:          r.Phone,
		DocumentType:   r.DocumentType,
		DocumentNumber: r.DocumentNumber,
		Nationality:    strings.ToUpper(r.Nationality),
		IssuingCountry: strings.ToUpper(r.IssuingCountry),
		SeatAssignment: r.SeatAssignment,
	}
	if r.DocumentExpiry != nil {
		expiry, err := time.Parse(dateLayout, *r.DocumentExpiry)
		if err != nil {
			return Passenger{}, fmt.Errorf("invalid document_expiry %q", *r.DocumentExpiry)
		}
		p.DocumentExpiry = &expiry
	}
	return p, nil
}

// CreateBookingRequest asks for a booking on a fare offer picked from search
type CreateBookingRequest struct {
	Offer             json.RawMessage    `json:"offer" binding:"required"`
	Travelers         []PassengerRequest `json:"travelers" binding:"required,min=1,max=9,dive"`
	IdempotencyKey    *string            `json:"idempotency_key,omitempty" binding:"omitempty,max=128"`
	UseReferralCredit bool               `json:"use_referral_credit"`
}

// PaymentRequest pays the service fee or the airline fare
type PaymentRequest struct {
	PaymentMethodRef string `json:"payment_method_ref" binding:"required,max=255"`
}

// CancelBookingRequest cancels a booking
type CancelBookingRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// RecordTicketingRequest records issued ticket numbers
type RecordTicketingRequest struct {
	TicketNumbers []string `json:"ticket_numbers" binding:"required,min=1,dive,required,max=20"`
}
