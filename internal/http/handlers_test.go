package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fleet-reservations/internal/application"
	"github.com/example/fleet-reservations/internal/scheduler"
)

var jst = time.FixedZone("JST", 9*60*60)

type stubReservationService struct {
	created     application.CreateReservationParams
	listed      application.ListReservationsParams
	actionAt    time.Time
	lastAction  string
	err         error
	reservation application.Reservation
}

func (s *stubReservationService) CreateReservation(_ context.Context, params application.CreateReservationParams) (application.Reservation, error) {
	s.created = params
	return s.reservation, s.err
}

func (s *stubReservationService) UpdateReservation(context.Context, application.UpdateReservationParams) (application.Reservation, error) {
	s.lastAction = "update"
	return s.reservation, s.err
}

func (s *stubReservationService) DeleteReservation(context.Context, application.Principal, string) error {
	s.lastAction = "delete"
	return s.err
}

func (s *stubReservationService) GetReservation(context.Context, application.Principal, string) (application.Reservation, error) {
	return s.reservation, s.err
}

func (s *stubReservationService) ListReservations(_ context.Context, params application.ListReservationsParams) ([]application.Reservation, error) {
	s.listed = params
	return []application.Reservation{s.reservation}, s.err
}

func (s *stubReservationService) Approve(context.Context, application.Principal, string) (application.Reservation, error) {
	s.lastAction = "approve"
	return s.reservation, s.err
}

func (s *stubReservationService) Withdraw(context.Context, application.Principal, string) (application.Reservation, error) {
	s.lastAction = "withdraw"
	return s.reservation, s.err
}

func (s *stubReservationService) MarkIncomplete(context.Context, application.Principal, string) (application.Reservation, error) {
	s.lastAction = "incomplete"
	return s.reservation, s.err
}

func (s *stubReservationService) ForceClose(context.Context, application.Principal, string) (application.Reservation, error) {
	s.lastAction = "force-close"
	return s.reservation, s.err
}

func (s *stubReservationService) RecordDeparture(_ context.Context, _ application.Principal, _ string, at time.Time) (application.Reservation, error) {
	s.lastAction = "departure"
	s.actionAt = at
	return s.reservation, s.err
}

func (s *stubReservationService) RecordReturn(_ context.Context, _ application.Principal, _ string, at time.Time) (application.Reservation, error) {
	s.lastAction = "return"
	s.actionAt = at
	return s.reservation, s.err
}

func sampleReservation() application.Reservation {
	return application.Reservation{
		ID:        "r1",
		VehicleID: "v1",
		DriverID:  "d1",
		Window: scheduler.Window{
			StartDate: scheduler.NewDate(2025, 3, 10),
			StartTime: scheduler.NewTimeOfDay(8, 0),
			EndDate:   scheduler.NewDate(2025, 3, 10),
			EndTime:   scheduler.NewTimeOfDay(17, 0),
		},
		Status: application.StatusApplying,
	}
}

func newTestRouter(service *stubReservationService) http.Handler {
	return NewRouter(RouterConfig{
		Reservations: NewReservationHandler(service, jst, nil),
		Middleware:   []func(http.Handler) http.Handler{RequirePrincipal(nil)},
	})
}

func doRequest(t *testing.T, handler http.Handler, method, target, body string, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(headerUserID, "u1")
	if admin {
		req.Header.Set(headerIsAdmin, "true")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestReservationHandlers(t *testing.T) {
	t.Parallel()

	t.Run("create parses the window and returns 201", func(t *testing.T) {
		t.Parallel()

		service := &stubReservationService{reservation: sampleReservation()}
		rec := doRequest(t, newTestRouter(service), http.MethodPost, "/reservations",
			`{"vehicle_id":"v1","start_date":"2025-03-10","start_time":"08:00","end_date":"2025-03-10","end_time":"17:00","purpose":"delivery"}`, false)

		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "v1", service.created.VehicleID)
		assert.Equal(t, "u1", service.created.Principal.UserID)
		assert.Equal(t, scheduler.NewTimeOfDay(17, 0), service.created.Window.EndTime)

		var dto reservationDTO
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
		assert.Equal(t, "applying", dto.Status)
		assert.Equal(t, "2025-03-10", dto.StartDate)
	})

	t.Run("create rejects malformed times with 422", func(t *testing.T) {
		t.Parallel()

		service := &stubReservationService{}
		rec := doRequest(t, newTestRouter(service), http.MethodPost, "/reservations",
			`{"vehicle_id":"v1","start_date":"2025-03-10","start_time":"8am","end_date":"2025-03-10","end_time":"17:00"}`, false)

		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		resp := decodeError(t, rec)
		assert.Contains(t, resp.Errors, "start_time")
		assert.Empty(t, service.created.VehicleID, "service must not be called")
	})

	t.Run("map service errors to status codes", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name     string
			err      error
			status   int
			code     string
			errField string
		}{
			{
				name:     "conflict",
				err:      &application.ConflictError{VehicleID: "v1", Conflicts: []scheduler.Conflict{{WithReservationID: "r0", Type: scheduler.ConflictTypeVehicle}}},
				status:   http.StatusConflict,
				code:     "RESERVATION_CONFLICT",
				errField: "r0",
			},
			{
				name:     "rest gap",
				err:      &application.RestGapError{Violations: []scheduler.RuleViolation{{Rule: scheduler.RuleRestGap, Message: "only 8h rest"}}},
				status:   http.StatusConflict,
				code:     "REST_GAP",
				errField: "rest_gap",
			},
			{
				name:   "invalid transition",
				err:    &application.InvalidTransitionError{ReservationID: "r1", Operation: "approve", From: application.StatusBooked},
				status: http.StatusConflict,
				code:   "INVALID_TRANSITION",
			},
			{
				name:     "validation",
				err:      &application.ValidationError{FieldErrors: map[string]string{"vehicle_id": "vehicle does not exist"}},
				status:   http.StatusUnprocessableEntity,
				code:     "VALIDATION_FAILED",
				errField: "vehicle_id",
			},
			{name: "not found", err: application.ErrNotFound, status: http.StatusNotFound},
			{name: "forbidden", err: application.ErrUnauthorized, status: http.StatusForbidden, code: "AUTH_FORBIDDEN"},
			{name: "stale", err: application.ErrStaleState, status: http.StatusConflict, code: "STALE_STATE"},
		}

		for _, tc := range tests {
			tc := tc
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()

				service := &stubReservationService{err: tc.err}
				rec := doRequest(t, newTestRouter(service), http.MethodPost, "/reservations/r1/approve", "", true)

				require.Equal(t, tc.status, rec.Code)
				resp := decodeError(t, rec)
				assert.Equal(t, tc.code, resp.ErrorCode)
				if tc.errField != "" {
					assert.Contains(t, resp.Errors, tc.errField)
				}
			})
		}
	})

	t.Run("departure reads an optional instant", func(t *testing.T) {
		t.Parallel()

		service := &stubReservationService{reservation: sampleReservation()}
		router := newTestRouter(service)

		rec := doRequest(t, router, http.MethodPost, "/reservations/r1/departure", `{"at":"2025-03-10T08:05"}`, false)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "departure", service.lastAction)
		assert.True(t, service.actionAt.Equal(time.Date(2025, 3, 10, 8, 5, 0, 0, jst)))

		rec = doRequest(t, router, http.MethodPost, "/reservations/r1/return", "", false)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "return", service.lastAction)
		assert.True(t, service.actionAt.IsZero(), "empty body means now")

		rec = doRequest(t, router, http.MethodPost, "/reservations/r1/return", `{"at":"yesterday"}`, false)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("routes actions, methods and unknown paths", func(t *testing.T) {
		t.Parallel()

		service := &stubReservationService{reservation: sampleReservation()}
		router := newTestRouter(service)

		for _, action := range []string{"withdraw", "incomplete", "force-close"} {
			rec := doRequest(t, router, http.MethodPost, "/reservations/r1/"+action, "", true)
			require.Equal(t, http.StatusOK, rec.Code, action)
			assert.Equal(t, action, service.lastAction)
		}

		rec := doRequest(t, router, http.MethodGet, "/reservations/r1/approve", "", true)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

		rec = doRequest(t, router, http.MethodPost, "/reservations/r1/teleport", "", true)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = doRequest(t, router, http.MethodDelete, "/reservations/r1", "", false)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "delete", service.lastAction)
	})

	t.Run("list maps query parameters to filter options", func(t *testing.T) {
		t.Parallel()

		service := &stubReservationService{reservation: sampleReservation()}
		rec := doRequest(t, newTestRouter(service), http.MethodGet,
			"/reservations?vehicle_id=v1&from=2025-03-01&to=2025-03-31&status=booked,departed", "", false)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "v1", service.listed.VehicleID)
		require.NotNil(t, service.listed.From)
		assert.Equal(t, "2025-03-01", service.listed.From.String())
		assert.Equal(t, []application.Status{application.StatusBooked, application.StatusDeparted}, service.listed.Statuses)

		var resp listReservationsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Reservations, 1)

		rec = doRequest(t, newTestRouter(service), http.MethodGet, "/reservations?status=reserved", "", false)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

type stubReportService struct {
	clockIn, clockOut *scheduler.TimeOfDay
	err               error
}

func (s *stubReportService) UpdateClock(_ context.Context, _ application.Principal, reportID string, clockIn, clockOut *scheduler.TimeOfDay) (application.DailyReport, error) {
	s.clockIn, s.clockOut = clockIn, clockOut
	return application.DailyReport{ID: reportID, DriverID: "d1", Date: scheduler.NewDate(2025, 3, 10), ClockIn: clockIn, ClockOut: clockOut}, s.err
}

func TestReportHandler(t *testing.T) {
	t.Parallel()

	service := &stubReportService{}
	router := NewRouter(RouterConfig{
		Reports:    NewReportHandler(service, nil),
		Middleware: []func(http.Handler) http.Handler{RequirePrincipal(nil)},
	})

	rec := doRequest(t, router, http.MethodPut, "/reports/rep1/clock", `{"clock_in":"08:30","clock_out":""}`, false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, service.clockIn)
	assert.Equal(t, scheduler.NewTimeOfDay(8, 30), *service.clockIn)
	assert.Nil(t, service.clockOut)

	var dto reportDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, "08:30", dto.ClockIn)

	rec = doRequest(t, router, http.MethodPut, "/reports/rep1/clock", `{"clock_in":"25:99"}`, false)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/reports/rep1/clock", `{}`, false)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type stubReconciler struct{ calls int }

func (s *stubReconciler) Run(context.Context, time.Time) (application.Summary, error) {
	s.calls++
	return application.Summary{Canceled: 2}, nil
}

type stubRepairer struct{ commit bool }

func (s *stubRepairer) FindAndFixConflicts(_ context.Context, commit bool) (application.RepairReport, error) {
	s.commit = commit
	return application.RepairReport{Commit: commit, Conflicts: 1, Samples: []application.ConflictSample{{VehicleID: "v1", WinnerID: "r1", CanceledID: "r2"}}}, nil
}

func TestAdminHandlers(t *testing.T) {
	t.Parallel()

	rec := &stubReconciler{}
	repair := &stubRepairer{}
	router := NewRouter(RouterConfig{
		Admin:      NewAdminHandler(rec, repair, nil),
		Middleware: []func(http.Handler) http.Handler{RequirePrincipal(nil)},
	})

	resp := doRequest(t, router, http.MethodPost, "/admin/reconcile", "", false)
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Zero(t, rec.calls)

	resp = doRequest(t, router, http.MethodPost, "/admin/reconcile", "", true)
	require.Equal(t, http.StatusOK, resp.Code)
	var summary summaryDTO
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Canceled)

	resp = doRequest(t, router, http.MethodPost, "/admin/repair-conflicts?commit=true", "", true)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, repair.commit)
	var report repairDTO
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &report))
	require.Len(t, report.Samples, 1)
	assert.Equal(t, "r2", report.Samples[0].CanceledID)
}
