package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripgate/booking-backend/internal/middleware"
	"github.com/tripgate/booking-backend/internal/models"
	"github.com/tripgate/booking-backend/internal/services"
	"github.com/tripgate/booking-backend/pkg/apperrors"
	"github.com/tripgate/booking-backend/pkg/jwt"
)

type fakeOperations struct {
	tickets    []string
	queueLimit int
	err        error
}

func (f *fakeOperations) RecordTicketing(_ context.Context, id uuid.UUID, tickets []string) (*models.BookingSummary, error) {
	f.tickets = tickets
	if f.err != nil {
		return nil, f.err
	}
	return &models.BookingSummary{ID: id, Status: models.BookingStatusCompleted, TicketNumbers: tickets}, nil
}

func (f *fakeOperations) ListReconciliationQueue(_ context.Context, limit int) (*models.ReconciliationQueue, error) {
	f.queueLimit = limit
	return &models.ReconciliationQueue{}, nil
}

type fakeSweeper struct {
	runs int
}

func (f *fakeSweeper) RunReconciliationNow(_ context.Context) (services.SweepReport, error) {
	f.runs++
	return services.SweepReport{RefundsResolved: 2}, nil
}

func (f *fakeSweeper) GetJobStatus() map[string]interface{} {
	return map[string]interface{}{"running": true, "job_count": 5}
}

type fakeEventReader struct {
	limit int
}

func (f *fakeEventReader) GetBookingEvents(_ context.Context, _ uuid.UUID, limit int) ([]services.AuditRecord, error) {
	f.limit = limit
	return []services.AuditRecord{{Action: services.AuditBookingHeld, EntityType: "booking", CreatedAt: time.Now()}}, nil
}

func adminRouter(t *testing.T, user *middleware.UserContext, ops *fakeOperations, sweeper *fakeSweeper, events *fakeEventReader) *gin.Engine {
	router := setupTestRouter(t, user)
	h := NewAdminHandler(ops, sweeper, events, testLogger())
	admin := router.Group("/api/v1/admin", middleware.RequireRole(jwt.RoleAgent, jwt.RoleAdmin))
	admin.POST("/bookings/:id/ticketing", h.RecordTicketing)
	admin.GET("/bookings/:id/events", h.BookingEvents)
	admin.GET("/reconciliation", h.ReconciliationQueue)
	admin.POST("/reconciliation/run", h.RunReconciliation)
	admin.GET("/jobs", h.JobStatus)
	return router
}

func TestAdmin_RecordTicketing(t *testing.T) {
	ops := &fakeOperations{}
	router := adminRouter(t, agent(), ops, &fakeSweeper{}, &fakeEventReader{})

	w := doJSON(router, http.MethodPost, "/api/v1/admin/bookings/"+uuid.NewString()+"/ticketing",
		map[string]interface{}{"ticket_numbers": []string{"0012345678901"}})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"0012345678901"}, ops.tickets)
	assert.Equal(t, "completed", decodeBody(t, w)["status"])

	w = doJSON(router, http.MethodPost, "/api/v1/admin/bookings/"+uuid.NewString()+"/ticketing",
		map[string]interface{}{"ticket_numbers": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ops.err = apperrors.Conflict("services.RecordTicketing", "booking is not confirmed")
	w = doJSON(router, http.MethodPost, "/api/v1/admin/bookings/"+uuid.NewString()+"/ticketing",
		map[string]interface{}{"ticket_numbers": []string{"0012345678901"}})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAdmin_TravelersAreForbidden(t *testing.T) {
	sweeper := &fakeSweeper{}
	router := adminRouter(t, traveler(), &fakeOperations{}, sweeper, &fakeEventReader{})

	w := doJSON(router, http.MethodPost, "/api/v1/admin/reconciliation/run", nil)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, sweeper.runs)
}

func TestAdmin_ReconciliationQueueLimit(t *testing.T) {
	ops := &fakeOperations{}
	router := adminRouter(t, agent(), ops, &fakeSweeper{}, &fakeEventReader{})

	for query, want := range map[string]int{"": defaultQueueLimit, "?limit=25": 25, "?limit=9999": maxQueueLimit, "?limit=abc": defaultQueueLimit} {
		w := doJSON(router, http.MethodGet, "/api/v1/admin/reconciliation"+query, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, want, ops.queueLimit, query)
	}
}

func TestAdmin_RunReconciliationAndJobs(t *testing.T) {
	sweeper := &fakeSweeper{}
	router := adminRouter(t, agent(), &fakeOperations{}, sweeper, &fakeEventReader{})

	w := doJSON(router, http.MethodPost, "/api/v1/admin/reconciliation/run", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, sweeper.runs)
	assert.EqualValues(t, 2, decodeBody(t, w)["refunds_resolved"])

	w = doJSON(router, http.MethodGet, "/api/v1/admin/jobs", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 5, decodeBody(t, w)["job_count"])
}

func TestAdmin_BookingEvents(t *testing.T) {
	events := &fakeEventReader{}
	router := adminRouter(t, agent(), &fakeOperations{}, &fakeSweeper{}, events)

	w := doJSON(router, http.MethodGet, "/api/v1/admin/bookings/"+uuid.NewString()+"/events?limit=10", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, events.limit)
	assert.Contains(t, w.Body.String(), services.AuditBookingHeld)

	w = doJSON(router, http.MethodGet, "/api/v1/admin/bookings/nope/events", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
