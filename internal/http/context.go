package http

import (
	"context"

	"github.com/example/fleet-reservations/internal/application"
)

type contextKey string

const (
	principalContextKey     contextKey = "principal"
	reservationIDContextKey contextKey = "reservation_id"
	reportIDContextKey      contextKey = "report_id"
)

// ContextWithPrincipal returns a derived context containing the authenticated principal.
func ContextWithPrincipal(ctx context.Context, principal application.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// PrincipalFromContext extracts the authenticated principal from context if available.
func PrincipalFromContext(ctx context.Context) (application.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(application.Principal)
	return principal, ok
}

// ContextWithReservationID injects the reservation identifier resolved from the request path.
func ContextWithReservationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, reservationIDContextKey, id)
}

// ReservationIDFromContext extracts a reservation identifier previously associated with the context.
func ReservationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(reservationIDContextKey).(string)
	return id, ok
}

// ContextWithReportID injects the daily report identifier resolved from the request path.
func ContextWithReportID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, reportIDContextKey, id)
}

// ReportIDFromContext extracts a daily report identifier previously associated with the context.
func ReportIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(reportIDContextKey).(string)
	return id, ok
}
