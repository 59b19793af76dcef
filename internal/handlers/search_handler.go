package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tripgate/booking-backend/internal/gds"
	"github.com/tripgate/booking-backend/pkg/validator"
)

// FlightSearcher runs GDS searches
type FlightSearcher interface {
	SearchFlightOffers(ctx context.Context, criteria gds.SearchCriteria) ([]gds.OfferSummary, error)
	SearchLocations(ctx context.Context, keyword string) ([]gds.Location, error)
}

// SearchHandler handles flight and location search
type SearchHandler struct {
	searcher       FlightSearcher
	maxAdvanceDays int
	logger         *logrus.Logger
	now            func() time.Time
}

// NewSearchHandler creates a new SearchHandler
func NewSearchHandler(searcher FlightSearcher, maxAdvanceDays int, logger *logrus.Logger) *SearchHandler {
	return &SearchHandler{
		searcher:       searcher,
		maxAdvanceDays: maxAdvanceDays,
		logger:         logger,
		now:            time.Now,
	}
}

// SearchFlights handles POST /api/v1/flights/search
func (h *SearchHandler) SearchFlights(c *gin.Context) {
	var criteria gds.SearchCriteria
	if err := c.ShouldBindJSON(&criteria); err != nil {
		respondBindError(c, validator.Describe(err))
		return
	}

	departure, err := time.Parse("2006-01-02", criteria.DepartureDate)
	if err != nil {
		respondBindError(c, "departure_date must be YYYY-MM-DD")
		return
	}
	var ret *time.Time
	if criteria.ReturnDate != "" {
		r, err := time.Parse("2006-01-02", criteria.ReturnDate)
		if err != nil {
			respondBindError(c, "return_date must be YYYY-MM-DD")
			return
		}
		ret = &r
	}

	// Dates are whole days, so today counts as not in the past
	now := h.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if err := validator.ValidateTripDates(departure, ret, today, h.maxAdvanceDays); err != nil {
		respondError(c, h.logger, err)
		return
	}

	start := time.Now()
	offers, err := h.searcher.SearchFlightOffers(c.Request.Context(), criteria)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"origin":      strings.ToUpper(criteria.Origin),
		"destination": strings.ToUpper(criteria.Destination),
		"date":        criteria.DepartureDate,
		"results":     len(offers),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Flight search completed")

	c.JSON(http.StatusOK, gin.H{
		"offers": offers,
		"count":  len(offers),
	})
}

// SearchLocations handles GET /api/v1/flights/locations?keyword=
func (h *SearchHandler) SearchLocations(c *gin.Context) {
	keyword := strings.TrimSpace(c.Query("keyword"))
	if len(keyword) < 2 {
		respondBindError(c, "keyword must be at least 2 characters")
		return
	}

	locations, err := h.searcher.SearchLocations(c.Request.Context(), keyword)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"locations": locations})
}
