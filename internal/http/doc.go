// Package http provides HTTP handlers and middleware for the fleet reservation API.
//
// Authentication happens in front of this service: RequirePrincipal reads the
// X-User-ID and X-User-Admin headers set by the gateway.
//
// The router exposes the following endpoints:
//   - GET /reservations?vehicle_id=&driver_id=&from=&to=&status=, POST /reservations:
//     list and create reservations exchanging the `reservationDTO` payload defined in
//     reservation_handler.go. Drivers only see their own reservations.
//   - GET, PUT, DELETE /reservations/{id}: read, edit while applying, and delete.
//   - POST /reservations/{id}/approve|withdraw|departure|return|force-close|incomplete:
//     lifecycle actions. departure and return accept an optional {"at": "..."} body.
//   - PUT /reports/{id}/clock: edits a daily report's clock times and propagates them
//     to the matching reservation.
//   - POST /admin/reconcile, POST /admin/repair-conflicts?commit=true: operator
//     endpoints restricted to administrators.
//
// Booking conflicts, rest-gap violations and illegal transitions answer 409 with
// error_code RESERVATION_CONFLICT, REST_GAP or INVALID_TRANSITION. Validation
// failures answer 422, missing resources 404 and permission failures 403.
package http
