package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/fleet-reservations/internal/application"
	"github.com/example/fleet-reservations/internal/scheduler"
)

type reservationService interface {
	CreateReservation(ctx context.Context, params application.CreateReservationParams) (application.Reservation, error)
	UpdateReservation(ctx context.Context, params application.UpdateReservationParams) (application.Reservation, error)
	DeleteReservation(ctx context.Context, principal application.Principal, reservationID string) error
	GetReservation(ctx context.Context, principal application.Principal, reservationID string) (application.Reservation, error)
	ListReservations(ctx context.Context, params application.ListReservationsParams) ([]application.Reservation, error)
	Approve(ctx context.Context, principal application.Principal, reservationID string) (application.Reservation, error)
	Withdraw(ctx context.Context, principal application.Principal, reservationID string) (application.Reservation, error)
	MarkIncomplete(ctx context.Context, principal application.Principal, reservationID string) (application.Reservation, error)
	ForceClose(ctx context.Context, principal application.Principal, reservationID string) (application.Reservation, error)
	RecordDeparture(ctx context.Context, principal application.Principal, reservationID string, at time.Time) (application.Reservation, error)
	RecordReturn(ctx context.Context, principal application.Principal, reservationID string, at time.Time) (application.Reservation, error)
}

type ReservationHandler struct {
	service   reservationService
	responder responder
	loc       *time.Location
}

// NewReservationHandler creates the reservation endpoints. Wall times in requests are read in loc.
func NewReservationHandler(service reservationService, loc *time.Location, logger *slog.Logger) *ReservationHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &ReservationHandler{service: service, responder: newResponder(logger), loc: loc}
}

func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req reservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	window, fieldErrs := req.window()
	if len(fieldErrs) > 0 {
		h.responder.writeValidation(r.Context(), w, fieldErrs)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	reservation, err := h.service.CreateReservation(r.Context(), application.CreateReservationParams{
		Principal: principal,
		VehicleID: strings.TrimSpace(req.VehicleID),
		DriverID:  strings.TrimSpace(req.DriverID),
		Window:    window,
		Purpose:   req.Purpose,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toReservationDTO(reservation))
}

func (h *ReservationHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	reservationID, ok := h.reservationID(w, r)
	if !ok {
		return
	}

	var req reservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	window, fieldErrs := req.window()
	if len(fieldErrs) > 0 {
		h.responder.writeValidation(r.Context(), w, fieldErrs)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	reservation, err := h.service.UpdateReservation(r.Context(), application.UpdateReservationParams{
		Principal:     principal,
		ReservationID: reservationID,
		VehicleID:     strings.TrimSpace(req.VehicleID),
		Window:        window,
		Purpose:       req.Purpose,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toReservationDTO(reservation))
}

func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	reservationID, ok := h.reservationID(w, r)
	if !ok {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	reservation, err := h.service.GetReservation(r.Context(), principal, reservationID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toReservationDTO(reservation))
}

func (h *ReservationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	reservationID, ok := h.reservationID(w, r)
	if !ok {
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.DeleteReservation(r.Context(), principal, reservationID); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *ReservationHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	params, fieldErrs := buildListParams(r.URL.Query(), principal)
	if len(fieldErrs) > 0 {
		h.responder.writeValidation(r.Context(), w, fieldErrs)
		return
	}

	reservations, err := h.service.ListReservations(r.Context(), params)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	dtos := make([]reservationDTO, 0, len(reservations))
	for _, reservation := range reservations {
		dtos = append(dtos, toReservationDTO(reservation))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listReservationsResponse{Reservations: dtos})
}

// Action dispatches POST /reservations/{id}/{action}.
func (h *ReservationHandler) Action(w http.ResponseWriter, r *http.Request, action string) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	reservationID, ok := h.reservationID(w, r)
	if !ok {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	ctx := r.Context()
	handlerLogger(ctx, h.responder.logger, "ReservationHandler", "Action",
		"reservation_id", reservationID, "action", action).DebugContext(ctx, "dispatching action")

	var (
		reservation application.Reservation
		err         error
	)
	switch action {
	case "approve":
		reservation, err = h.service.Approve(ctx, principal, reservationID)
	case "withdraw":
		reservation, err = h.service.Withdraw(ctx, principal, reservationID)
	case "incomplete":
		reservation, err = h.service.MarkIncomplete(ctx, principal, reservationID)
	case "force-close":
		reservation, err = h.service.ForceClose(ctx, principal, reservationID)
	case "departure", "return":
		at, fieldErrs := h.decodeInstant(r)
		if len(fieldErrs) > 0 {
			h.responder.writeValidation(ctx, w, fieldErrs)
			return
		}
		if action == "departure" {
			reservation, err = h.service.RecordDeparture(ctx, principal, reservationID, at)
		} else {
			reservation, err = h.service.RecordReturn(ctx, principal, reservationID, at)
		}
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	h.responder.writeJSON(ctx, w, http.StatusOK, toReservationDTO(reservation))
}

func (h *ReservationHandler) reservationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := ReservationIDFromContext(r.Context())
	if !ok || strings.TrimSpace(id) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidReservationID)
		return "", false
	}
	return id, true
}

// decodeInstant reads an optional {"at": "..."} body. An empty body or missing field means now.
func (h *ReservationHandler) decodeInstant(r *http.Request) (time.Time, map[string]string) {
	var req instantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return time.Time{}, map[string]string{"body": errBadRequestBody.Error()}
	}
	if strings.TrimSpace(req.At) == "" {
		return time.Time{}, nil
	}
	at, err := scheduler.ParseInstant(req.At, h.loc)
	if err != nil {
		return time.Time{}, map[string]string{"at": translateValidationMessage("invalid timestamp")}
	}
	return at, nil
}

func buildListParams(query url.Values, principal application.Principal) (application.ListReservationsParams, map[string]string) {
	params := application.ListReservationsParams{
		Principal: principal,
		VehicleID: strings.TrimSpace(query.Get("vehicle_id")),
		DriverID:  strings.TrimSpace(query.Get("driver_id")),
	}
	fieldErrs := map[string]string{}
	if value := strings.TrimSpace(query.Get("from")); value != "" {
		if d, err := scheduler.ParseDate(value); err == nil {
			params.From = &d
		} else {
			fieldErrs["from"] = translateValidationMessage("invalid date")
		}
	}
	if value := strings.TrimSpace(query.Get("to")); value != "" {
		if d, err := scheduler.ParseDate(value); err == nil {
			params.To = &d
		} else {
			fieldErrs["to"] = translateValidationMessage("invalid date")
		}
	}
	for _, value := range query["status"] {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			status, err := application.ParseStatus(part)
			if err != nil {
				fieldErrs["status"] = translateValidationMessage("unknown status")
				continue
			}
			params.Statuses = append(params.Statuses, status)
		}
	}
	return params, fieldErrs
}

type reservationRequest struct {
	VehicleID string `json:"vehicle_id"`
	DriverID  string `json:"driver_id,omitempty"`
	StartDate string `json:"start_date"`
	StartTime string `json:"start_time"`
	EndDate   string `json:"end_date"`
	EndTime   string `json:"end_time"`
	Purpose   string `json:"purpose"`
}

func (req reservationRequest) window() (scheduler.Window, map[string]string) {
	var (
		w    scheduler.Window
		errs = map[string]string{}
		err  error
	)
	if strings.TrimSpace(req.StartDate) != "" {
		if w.StartDate, err = scheduler.ParseDate(req.StartDate); err != nil {
			errs["start_date"] = translateValidationMessage("invalid date")
		}
	}
	if strings.TrimSpace(req.EndDate) != "" {
		if w.EndDate, err = scheduler.ParseDate(req.EndDate); err != nil {
			errs["end_date"] = translateValidationMessage("invalid date")
		}
	}
	if w.StartTime, err = scheduler.ParseTimeOfDay(req.StartTime); err != nil {
		errs["start_time"] = translateValidationMessage("invalid time of day")
	}
	if w.EndTime, err = scheduler.ParseTimeOfDay(req.EndTime); err != nil {
		errs["end_time"] = translateValidationMessage("invalid time of day")
	}
	return w, errs
}

type instantRequest struct {
	At string `json:"at"`
}

type reservationDTO struct {
	ID               string     `json:"id"`
	VehicleID        string     `json:"vehicle_id"`
	DriverID         string     `json:"driver_id"`
	StartDate        string     `json:"start_date"`
	StartTime        string     `json:"start_time"`
	EndDate          string     `json:"end_date"`
	EndTime          string     `json:"end_time"`
	Purpose          string     `json:"purpose,omitempty"`
	Status           string     `json:"status"`
	ActualDeparture  *time.Time `json:"actual_departure,omitempty"`
	ActualReturn     *time.Time `json:"actual_return,omitempty"`
	Approved         bool       `json:"approved"`
	ApprovedBySystem bool       `json:"approved_by_system"`
	ApprovalTime     *time.Time `json:"approval_time,omitempty"`
	ApprovedBy       string     `json:"approved_by,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type listReservationsResponse struct {
	Reservations []reservationDTO `json:"reservations"`
}

func toReservationDTO(r application.Reservation) reservationDTO {
	return reservationDTO{
		ID:               r.ID,
		VehicleID:        r.VehicleID,
		DriverID:         r.DriverID,
		StartDate:        r.Window.StartDate.String(),
		StartTime:        r.Window.StartTime.String(),
		EndDate:          r.Window.EndDate.String(),
		EndTime:          r.Window.EndTime.String(),
		Purpose:          r.Purpose,
		Status:           string(r.Status),
		ActualDeparture:  r.ActualDeparture,
		ActualReturn:     r.ActualReturn,
		Approved:         r.Approved,
		ApprovedBySystem: r.ApprovedBySystem,
		ApprovalTime:     r.ApprovalTime,
		ApprovedBy:       r.ApprovedBy,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}
