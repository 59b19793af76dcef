package gds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/tripgate/booking-backend/internal/models"
	"github.com/tripgate/booking-backend/pkg/apperrors"
)

// CreateOrder places a hold order for a confirmed offer. Sold-out and price
// discrepancy answers are classified as inventory_gone and price_changed.
// An order whose total differs from the confirmed total is cancelled and
// reported as price_changed: it is never kept at a different price.
func (c *Client) CreateOrder(ctx context.Context, offer *ConfirmedOffer, travelers []Traveler) (*OrderRef, error) {
	const op = "gds.CreateOrder"

	if offer == nil || len(offer.Offer) == 0 {
		return nil, apperrors.New(apperrors.KindInvalidOffer, op, "no confirmed offer")
	}
	if len(travelers) == 0 {
		return nil, apperrors.Validation(op, "at least one traveler is required")
	}

	body := map[string]interface{}{
		"data": map[string]interface{}{
			"type":         "flight-order",
			"flightOffers": []json.RawMessage{offer.Offer},
			"travelers":    travelerPayloads(travelers),
		},
	}

	resp, err := c.call(ctx, request{
		op:              op,
		method:          http.MethodPost,
		path:            "/v1/booking/flight-orders",
		body:            body,
		clientErrorKind: apperrors.KindInvalidOffer,
		orderErrors:     true,
	})
	if err != nil {
		return nil, err
	}

	ref := &OrderRef{
		OrderID:          gjson.GetBytes(resp.body, "data.id").String(),
		ConfirmationCode: gjson.GetBytes(resp.body, "data.associatedRecords.0.reference").String(),
		Currency:         offer.Currency,
		Total:            offer.GrandTotal,
	}
	if ref.OrderID == "" {
		return nil, apperrors.New(apperrors.KindProviderUnavailable, op, "order response has no id")
	}

	if totalStr := gjson.GetBytes(resp.body, "data.flightOffers.0.price.grandTotal").String(); totalStr != "" {
		total, perr := models.ParseMoney(totalStr)
		if perr == nil && total != offer.GrandTotal {
			c.logger.WithFields(logrus.Fields{
				"order_id":        ref.OrderID,
				"confirmed_total": offer.GrandTotal.String(),
				"order_total":     total.String(),
			}).Warn("Order priced differently than confirmed fare, cancelling")

			if cerr := c.CancelOrder(ctx, ref.OrderID); cerr != nil {
				c.logger.WithError(cerr).WithField("order_id", ref.OrderID).Error("Failed to cancel mispriced order")
			}
			return nil, apperrors.New(apperrors.KindPriceChanged, op,
				fmt.Sprintf("order total %s differs from confirmed %s", total, offer.GrandTotal))
		}
	}

	c.logger.WithFields(logrus.Fields{
		"order_id":          ref.OrderID,
		"confirmation_code": ref.ConfirmationCode,
		"travelers":         len(travelers),
	}).Info("GDS hold order created")

	return ref, nil
}

// GetOrder retrieves an order, including issued ticket numbers.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*OrderDetails, error) {
	const op = "gds.GetOrder"

	resp, err := c.call(ctx, request{
		op:     op,
		method: http.MethodGet,
		path:   "/v1/booking/flight-orders/" + url.PathEscape(orderID),
	})
	if err != nil {
		return nil, err
	}

	details := &OrderDetails{
		OrderID:          gjson.GetBytes(resp.body, "data.id").String(),
		ConfirmationCode: gjson.GetBytes(resp.body, "data.associatedRecords.0.reference").String(),
		Currency:         gjson.GetBytes(resp.body, "data.flightOffers.0.price.currency").String(),
	}
	if total, err := models.ParseMoney(gjson.GetBytes(resp.body, "data.flightOffers.0.price.grandTotal").String()); err == nil {
		details.Total = total
	}
	for _, t := range gjson.GetBytes(resp.body, "data.tickets.#.documentNumber").Array() {
		if n := t.String(); n != "" {
			details.TicketNumbers = append(details.TicketNumbers, n)
		}
	}
	return details, nil
}

// CancelOrder cancels a hold order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	const op = "gds.CancelOrder"

	_, err := c.call(ctx, request{
		op:     op,
		method: http.MethodDelete,
		path:   "/v1/booking/flight-orders/" + url.PathEscape(orderID),
	})
	if err != nil {
		return err
	}

	c.logger.WithField("order_id", orderID).Info("GDS order cancelled")
	return nil
}

func travelerPayloads(travelers []Traveler) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(travelers))
	for i, t := range travelers {
		id := t.ID
		if id == "" {
			id = fmt.Sprintf("%d", i+1)
		}
		p := map[string]interface{}{
			"id":          id,
			"dateOfBirth": t.DateOfBirth.Format("2006-01-02"),
			"name": map[string]string{
				"firstName": strings.ToUpper(t.FirstName),
				"lastName":  strings.ToUpper(t.LastName),
			},
		}
		if t.Gender != "" {
			p["gender"] = strings.ToUpper(t.Gender)
		}

		contact := map[string]interface{}{}
		if t.Email != "" {
			contact["emailAddress"] = t.Email
		}
		if t.Phone != "" {
			contact["phones"] = []map[string]string{{"deviceType": "MOBILE", "number": t.Phone}}
		}
		if len(contact) > 0 {
			p["contact"] = contact
		}

		if t.Document.Number != "" {
			doc := map[string]interface{}{
				"documentType":    strings.ToUpper(t.Document.Type),
				"number":          t.Document.Number,
				"issuanceCountry": t.Document.IssuingCountry,
				"nationality":     t.Document.Nationality,
				"holder":          true,
			}
			if t.Document.Expiry != nil {
				doc["expiryDate"] = t.Document.Expiry.Format("2006-01-02")
			}
			p["documents"] = []map[string]interface{}{doc}
		}
		out = append(out, p)
	}
	return out
}
