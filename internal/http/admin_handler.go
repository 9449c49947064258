package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/example/fleet-reservations/internal/application"
)

type reconciler interface {
	Run(ctx context.Context, now time.Time) (application.Summary, error)
}

type conflictRepairer interface {
	FindAndFixConflicts(ctx context.Context, commit bool) (application.RepairReport, error)
}

// AdminHandler exposes operator endpoints. Every route requires an administrator.
type AdminHandler struct {
	reconciler reconciler
	repair     conflictRepairer
	responder  responder
}

func NewAdminHandler(reconciler reconciler, repair conflictRepairer, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{reconciler: reconciler, repair: repair, responder: newResponder(logger)}
}

func (h *AdminHandler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	principal, _ := PrincipalFromContext(r.Context())
	if !principal.IsAdmin {
		h.responder.handleServiceError(r.Context(), w, application.ErrUnauthorized)
		return false
	}
	return true
}

// Reconcile handles POST /admin/reconcile.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.reconciler == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}

	summary, err := h.reconciler.Run(r.Context(), time.Time{})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	failures := make([]failureDTO, 0, len(summary.Failures))
	for _, f := range summary.Failures {
		failures = append(failures, failureDTO{ReservationID: f.ReservationID, VehicleID: f.VehicleID, Step: f.Step, Error: f.Err.Error()})
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, summaryDTO{
		Approved: summary.Approved,
		Expired:  summary.Expired,
		Canceled: summary.Canceled,
		Overdue:  summary.Overdue,
		Extended: summary.Extended,
		Shifted:  summary.Shifted,
		Failed:   summary.Failed,
		Failures: failures,
	})
}

// RepairConflicts handles POST /admin/repair-conflicts. Without commit=true it only previews.
func (h *AdminHandler) RepairConflicts(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.repair == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}

	commit, _ := strconv.ParseBool(r.URL.Query().Get("commit"))
	report, err := h.repair.FindAndFixConflicts(r.Context(), commit)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	samples := make([]conflictSampleDTO, 0, len(report.Samples))
	for _, s := range report.Samples {
		samples = append(samples, conflictSampleDTO{
			VehicleID:    s.VehicleID,
			VehiclePlate: s.VehiclePlate,
			WinnerID:     s.WinnerID,
			CanceledID:   s.CanceledID,
			Window:       s.CanceledWindow.String(),
			Applied:      s.Applied,
		})
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, repairDTO{
		Commit:    report.Commit,
		Conflicts: report.Conflicts,
		Fixed:     report.Fixed,
		Failed:    report.Failed,
		Samples:   samples,
	})
}

type summaryDTO struct {
	Approved int          `json:"approved"`
	Expired  int          `json:"expired"`
	Canceled int          `json:"canceled"`
	Overdue  int          `json:"overdue"`
	Extended int          `json:"extended"`
	Shifted  int          `json:"shifted"`
	Failed   int          `json:"failed"`
	Failures []failureDTO `json:"failures,omitempty"`
}

type failureDTO struct {
	ReservationID string `json:"reservation_id"`
	VehicleID     string `json:"vehicle_id"`
	Step          string `json:"step"`
	Error         string `json:"error"`
}

type repairDTO struct {
	Commit    bool                `json:"commit"`
	Conflicts int                 `json:"conflicts"`
	Fixed     int                 `json:"fixed"`
	Failed    int                 `json:"failed"`
	Samples   []conflictSampleDTO `json:"samples"`
}

type conflictSampleDTO struct {
	VehicleID    string `json:"vehicle_id"`
	VehiclePlate string `json:"vehicle_plate,omitempty"`
	WinnerID     string `json:"winner_id"`
	CanceledID   string `json:"canceled_id"`
	Window       string `json:"window"`
	Applied      bool   `json:"applied"`
}
