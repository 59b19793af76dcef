package gds

import (
	"encoding/json"
	"time"

	"github.com/tripgate/booking-backend/internal/models"
)

// ConfirmedOffer is a fare offer re-priced by the provider immediately before booking.
type ConfirmedOffer struct {
	// Offer is the provider's authoritative priced offer, replayed verbatim into CreateOrder.
	Offer json.RawMessage `json:"offer"`

	Currency   string       `json:"currency"`
	BaseFare   models.Money `json:"base_fare"`
	Taxes      models.Money `json:"taxes"`
	GrandTotal models.Money `json:"grand_total"`

	Origin       string          `json:"origin"`
	Destination  string          `json:"destination"`
	DepartureAt  time.Time       `json:"departure_at"`
	ReturnAt     *time.Time      `json:"return_at,omitempty"`
	Carrier      string          `json:"carrier"`
	FlightNumber string          `json:"flight_number"`
	CabinClass   string          `json:"cabin_class"`
	TripType     models.TripType `json:"trip_type"`
}

// Document is a traveler's travel document
type Document struct {
	Type           string // PASSPORT, IDENTITY_CARD
	Number         string
	Expiry         *time.Time
	IssuingCountry string
	Nationality    string
}

// Traveler is the traveler data sent with an order
type Traveler struct {
	ID          string
	FirstName   string
	LastName    string
	DateOfBirth time.Time
	Gender      string // MALE, FEMALE
	Email       string
	Phone       string
	Document    Document
}

// OrderRef identifies a placed hold order
type OrderRef struct {
	OrderID          string       `json:"order_id"`
	ConfirmationCode string       `json:"confirmation_code"`
	Total            models.Money `json:"total"`
	Currency         string       `json:"currency"`
}

// OrderDetails is a retrieved order
type OrderDetails struct {
	OrderID          string       `json:"order_id"`
	ConfirmationCode string       `json:"confirmation_code"`
	TicketNumbers    []string     `json:"ticket_numbers"`
	Total            models.Money `json:"total"`
	Currency         string       `json:"currency"`
}

// Location is an airport or city returned by location search
type Location struct {
	IATACode    string `json:"iata_code"`
	Name        string `json:"name"`
	SubType     string `json:"sub_type"`
	CityName    string `json:"city_name,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
}

// SearchCriteria describes a flight offers search
type SearchCriteria struct {
	Origin        string `json:"origin" binding:"required,len=3"`
	Destination   string `json:"destination" binding:"required,len=3"`
	DepartureDate string `json:"departure_date" binding:"required"` // YYYY-MM-DD
	ReturnDate    string `json:"return_date,omitempty"`
	Adults        int    `json:"adults" binding:"required,min=1,max=9"`
	Children      int    `json:"children" binding:"min=0,max=9"`
	Infants       int    `json:"infants" binding:"min=0,max=9"`
	TravelClass   string `json:"travel_class,omitempty"`
	NonStop       bool   `json:"non_stop"`
	MaxResults    int    `json:"max_results,omitempty"`
	Currency      string `json:"currency,omitempty"`
}

// OfferSummary is one search result. Raw is what the traveler later submits for booking.
type OfferSummary struct {
	ID         string          `json:"id"`
	GrandTotal models.Money    `json:"grand_total"`
	Currency   string          `json:"currency"`
	Carrier    string          `json:"carrier"`
	Stops      int             `json:"stops"`
	Raw        json.RawMessage `json:"offer"`
}
