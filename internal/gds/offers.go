package gds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/tripgate/booking-backend/internal/models"
	"github.com/tripgate/booking-backend/pkg/apperrors"
)

// ConfirmFare re-prices an offer captured at search time. Pure read against
// the provider: safe to call repeatedly.
func (c *Client) ConfirmFare(ctx context.Context, offer json.RawMessage) (*ConfirmedOffer, error) {
	const op = "gds.ConfirmFare"

	if !gjson.ValidBytes(offer) || !gjson.ParseBytes(offer).IsObject() {
		return nil, apperrors.New(apperrors.KindInvalidOffer, op, "offer is not a JSON object")
	}
	if !gjson.GetBytes(offer, "itineraries.0.segments.0").Exists() {
		return nil, apperrors.New(apperrors.KindInvalidOffer, op, "offer has no itinerary")
	}

	body := map[string]interface{}{
		"data": map[string]interface{}{
			"type":         "flight-offers-pricing",
			"flightOffers": []json.RawMessage{offer},
		},
	}

	resp, err := c.call(ctx, request{
		op:              op,
		method:          http.MethodPost,
		path:            "/v1/shopping/flight-offers/pricing",
		body:            body,
		clientErrorKind: apperrors.KindInvalidOffer,
	})
	if err != nil {
		return nil, err
	}

	priced := gjson.GetBytes(resp.body, "data.flightOffers.0")
	if !priced.Exists() {
		return nil, apperrors.New(apperrors.KindInvalidOffer, op, "pricing response has no offer")
	}

	confirmed, err := parseConfirmedOffer(priced)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalidOffer, op, err)
	}

	c.logger.WithFields(logrus.Fields{
		"origin":      confirmed.Origin,
		"destination": confirmed.Destination,
		"grand_total": confirmed.GrandTotal.String(),
		"currency":    confirmed.Currency,
	}).Info("Fare confirmed with provider")

	return confirmed, nil
}

func parseConfirmedOffer(offer gjson.Result) (*ConfirmedOffer, error) {
	currency := offer.Get("price.currency").String()
	if currency == "" {
		return nil, fmt.Errorf("offer has no currency")
	}
	base, err := models.ParseMoney(offer.Get("price.base").String())
	if err != nil {
		return nil, fmt.Errorf("invalid base price: %w", err)
	}
	totalStr := offer.Get("price.grandTotal").String()
	if totalStr == "" {
		totalStr = offer.Get("price.total").String()
	}
	total, err := models.ParseMoney(totalStr)
	if err != nil {
		return nil, fmt.Errorf("invalid grand total: %w", err)
	}
	if total < base {
		return nil, fmt.Errorf("grand total %s below base %s", total, base)
	}

	outbound := offer.Get("itineraries.0.segments")
	segments := outbound.Array()
	if len(segments) == 0 {
		return nil, fmt.Errorf("offer has no segments")
	}
	first, last := segments[0], segments[len(segments)-1]

	departure, err := parseProviderTime(first.Get("departure.at").String())
	if err != nil {
		return nil, fmt.Errorf("invalid departure time: %w", err)
	}

	co := &ConfirmedOffer{
		Offer:        json.RawMessage(offer.Raw),
		Currency:     currency,
		BaseFare:     base,
		Taxes:        total - base,
		GrandTotal:   total,
		Origin:       first.Get("departure.iataCode").String(),
		Destination:  last.Get("arrival.iataCode").String(),
		DepartureAt:  departure,
		Carrier:      first.Get("carrierCode").String(),
		FlightNumber: first.Get("carrierCode").String() + first.Get("number").String(),
		CabinClass:   offer.Get("travelerPricings.0.fareDetailsBySegment.0.cabin").String(),
		TripType:     models.TripTypeOneWay,
	}
	if co.CabinClass == "" {
		co.CabinClass = "ECONOMY"
	}

	if ret := offer.Get("itineraries.1.segments.0.departure.at"); ret.Exists() {
		returnAt, err := parseProviderTime(ret.String())
		if err != nil {
			return nil, fmt.Errorf("invalid return time: %w", err)
		}
		co.ReturnAt = &returnAt
		co.TripType = models.TripTypeRoundTrip
	}

	return co, nil
}

// parseProviderTime accepts the provider's zone-less local timestamps and RFC3339.
func parseProviderTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", s)
}

// SearchFlightOffers runs a fare search. Results are valid only briefly and
// must be re-confirmed before booking.
func (c *Client) SearchFlightOffers(ctx context.Context, criteria SearchCriteria) ([]OfferSummary, error) {
	const op = "gds.SearchFlightOffers"

	q := url.Values{}
	q.Set("originLocationCode", strings.ToUpper(criteria.Origin))
	q.Set("destinationLocationCode", strings.ToUpper(criteria.Destination))
	q.Set("departureDate", criteria.DepartureDate)
	if criteria.ReturnDate != "" {
		q.Set("returnDate", criteria.ReturnDate)
	}
	q.Set("adults", strconv.Itoa(criteria.Adults))
	if criteria.Children > 0 {
		q.Set("children", strconv.Itoa(criteria.Children))
	}
	if criteria.Infants > 0 {
		q.Set("infants", strconv.Itoa(criteria.Infants))
	}
	if criteria.TravelClass != "" {
		q.Set("travelClass", strings.ToUpper(criteria.TravelClass))
	}
	if criteria.NonStop {
		q.Set("nonStop", "true")
	}
	limit := criteria.MaxResults
	if limit <= 0 || limit > 250 {
		limit = 50
	}
	q.Set("max", strconv.Itoa(limit))
	if criteria.Currency != "" {
		q.Set("currencyCode", strings.ToUpper(criteria.Currency))
	}

	resp, err := c.call(ctx, request{
		op:              op,
		method:          http.MethodGet,
		path:            "/v2/shopping/flight-offers",
		query:           q,
		clientErrorKind: apperrors.KindValidation,
	})
	if err != nil {
		return nil, err
	}

	var offers []OfferSummary
	gjson.GetBytes(resp.body, "data").ForEach(func(_, offer gjson.Result) bool {
		total, err := models.ParseMoney(offer.Get("price.grandTotal").String())
		if err != nil {
			return true
		}
		offers = append(offers, OfferSummary{
			ID:         offer.Get("id").String(),
			GrandTotal: total,
			Currency:   offer.Get("price.currency").String(),
			Carrier:    offer.Get("itineraries.0.segments.0.carrierCode").String(),
			Stops:      int(offer.Get("itineraries.0.segments.#").Int()) - 1,
			Raw:        json.RawMessage(offer.Raw),
		})
		return true
	})

	return offers, nil
}

// SearchLocations looks up airports and cities by keyword. Provider-side
// client errors yield an empty list.
func (c *Client) SearchLocations(ctx context.Context, keyword string) ([]Location, error) {
	const op = "gds.SearchLocations"

	keyword = strings.TrimSpace(keyword)
	if len(keyword) < 2 {
		return []Location{}, nil
	}

	q := url.Values{}
	q.Set("subType", "AIRPORT,CITY")
	q.Set("keyword", strings.ToUpper(keyword))
	q.Set("page[limit]", "10")

	resp, err := c.call(ctx, request{
		op:              op,
		method:          http.MethodGet,
		path:            "/v1/reference-data/locations",
		query:           q,
		clientErrorKind: apperrors.KindValidation,
	})
	if err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.KindValidation, apperrors.KindNotFound:
			c.logger.WithError(err).WithField("keyword", keyword).Warn("Location search rejected by provider")
			return []Location{}, nil
		default:
			return nil, err
		}
	}

	locations := []Location{}
	gjson.GetBytes(resp.body, "data").ForEach(func(_, loc gjson.Result) bool {
		locations = append(locations, Location{
			IATACode:    loc.Get("iataCode").String(),
			Name:        loc.Get("name").String(),
			SubType:     loc.Get("subType").String(),
			CityName:    loc.Get("address.cityName").String(),
			CountryCode: loc.Get("address.countryCode").String(),
		})
		return true
	})
	return locations, nil
}
