package application

import "fmt"

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusApplying   Status = "applying"
	StatusBooked     Status = "booked"
	StatusDeparted   Status = "departed"
	StatusOverdue    Status = "overdue"
	StatusCompleted  Status = "completed"
	StatusCanceled   Status = "canceled"
	StatusIncomplete Status = "incomplete"
)

var allStatuses = []Status{
	StatusApplying,
	StatusBooked,
	StatusDeparted,
	StatusOverdue,
	StatusCompleted,
	StatusCanceled,
	StatusIncomplete,
}

var transitions = map[Status][]Status{
	StatusApplying: {StatusBooked, StatusCanceled},
	StatusBooked:   {StatusDeparted, StatusCanceled, StatusIncomplete},
	StatusDeparted: {StatusOverdue, StatusCompleted, StatusIncomplete},
	StatusOverdue:  {StatusCompleted, StatusIncomplete},
}

// Statuses returns every lifecycle state.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus accepts canonical status names only.
func ParseStatus(value string) (Status, error) {
	for _, s := range allStatuses {
		if string(s) == value {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown reservation status %q", value)
}

// Valid reports whether s is a known state.
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// IsAutomationTerminal reports whether background jobs must leave the reservation alone.
func (s Status) IsAutomationTerminal() bool {
	return s.IsTerminal() || s == StatusIncomplete
}

// Occupies reports whether the state holds the vehicle for conflict purposes at approval time.
func (s Status) Occupies() bool {
	return s == StatusBooked || s == StatusDeparted || s == StatusOverdue
}

// ActiveScope is the status scope checked when a new booking is requested.
func ActiveScope() []Status {
	return []Status{StatusApplying, StatusBooked, StatusDeparted, StatusOverdue}
}

// OccupyingScope is the status scope re-checked when a reservation is approved.
func OccupyingScope() []Status {
	return []Status{StatusBooked, StatusDeparted, StatusOverdue}
}

func nonCanceledScope() []Status {
	return []Status{StatusApplying, StatusBooked, StatusDeparted, StatusOverdue, StatusCompleted, StatusIncomplete}
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates an edge for the reservation and operation named in the error.
func Transition(reservationID, operation string, from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return &InvalidTransitionError{ReservationID: reservationID, Operation: operation, From: from, To: to}
}
