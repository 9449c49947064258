package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/fleet-reservations/internal/application"
	"github.com/example/fleet-reservations/internal/scheduler"
)

type reportService interface {
	UpdateClock(ctx context.Context, principal application.Principal, reportID string, clockIn, clockOut *scheduler.TimeOfDay) (application.DailyReport, error)
}

type ReportHandler struct {
	service   reportService
	responder responder
}

func NewReportHandler(service reportService, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{service: service, responder: newResponder(logger)}
}

// UpdateClock handles PUT /reports/{id}/clock. Empty or absent fields clear the value.
func (h *ReportHandler) UpdateClock(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	reportID, ok := ReportIDFromContext(r.Context())
	if !ok || strings.TrimSpace(reportID) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidReportID)
		return
	}

	var req clockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	fieldErrs := map[string]string{}
	clockIn := parseOptionalClock(req.ClockIn, "clock_in", fieldErrs)
	clockOut := parseOptionalClock(req.ClockOut, "clock_out", fieldErrs)
	if len(fieldErrs) > 0 {
		h.responder.writeValidation(r.Context(), w, fieldErrs)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	report, err := h.service.UpdateClock(r.Context(), principal, reportID, clockIn, clockOut)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, toReportDTO(report))
}

func parseOptionalClock(value *string, field string, fieldErrs map[string]string) *scheduler.TimeOfDay {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil
	}
	t, err := scheduler.ParseTimeOfDay(*value)
	if err != nil {
		fieldErrs[field] = translateValidationMessage("invalid time of day")
		return nil
	}
	return &t
}

type clockRequest struct {
	ClockIn  *string `json:"clock_in"`
	ClockOut *string `json:"clock_out"`
}

type reportDTO struct {
	ID       string `json:"id"`
	DriverID string `json:"driver_id"`
	Date     string `json:"date"`
	ClockIn  string `json:"clock_in,omitempty"`
	ClockOut string `json:"clock_out,omitempty"`
}

func toReportDTO(report application.DailyReport) reportDTO {
	dto := reportDTO{ID: report.ID, DriverID: report.DriverID, Date: report.Date.String()}
	if report.ClockIn != nil {
		dto.ClockIn = report.ClockIn.String()
	}
	if report.ClockOut != nil {
		dto.ClockOut = report.ClockOut.String()
	}
	return dto
}
