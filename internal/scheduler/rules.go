package scheduler

import (
	"fmt"
	"time"
)

// Rule names a booking rule enforced on every booking path.
type Rule string

const (
	RuleMaxDuration Rule = "max_duration"
	RuleNightShift  Rule = "night_shift"
	RuleRestGap     Rule = "rest_gap"
	RuleLeadTime    Rule = "lead_time"
)

// Limits parameterizes the booking rules.
type Limits struct {
	MaxDuration   time.Duration
	RestGap       time.Duration
	NightBoundary TimeOfDay
	MinLeadTime   time.Duration
}

// DefaultLimits returns the fleet's standard booking limits.
func DefaultLimits() Limits {
	return Limits{
		MaxDuration:   13 * time.Hour,
		RestGap:       10 * time.Hour,
		NightBoundary: NewTimeOfDay(12, 0),
		MinLeadTime:   30 * time.Minute,
	}
}

// RuleViolation describes a broken booking rule.
type RuleViolation struct {
	Rule              Rule
	Message           string
	WithReservationID string
	Gap               time.Duration
}

func (v RuleViolation) String() string {
	return fmt.Sprintf("%s: %s", v.Rule, v.Message)
}

// CheckBookingRules enforces the maximum length and the night-shift boundary rule.
// A window crossing midnight must start at or after the boundary and end at or before
// the boundary on the following day.
func CheckBookingRules(w Window, loc *time.Location, limits Limits) []RuleViolation {
	var violations []RuleViolation

	if limits.MaxDuration > 0 && w.Duration(loc) > limits.MaxDuration {
		violations = append(violations, RuleViolation{
			Rule:    RuleMaxDuration,
			Message: fmt.Sprintf("window longer than %s", limits.MaxDuration),
		})
	}

	if w.CrossesMidnight() {
		switch {
		case !w.EndDate.Equal(w.StartDate.AddDays(1)):
			violations = append(violations, RuleViolation{
				Rule:    RuleNightShift,
				Message: "window may cross at most one midnight",
			})
		case w.StartTime < limits.NightBoundary || w.EndTime > limits.NightBoundary:
			violations = append(violations, RuleViolation{
				Rule:    RuleNightShift,
				Message: fmt.Sprintf("overnight window must start at or after %s and end at or before %s next day", limits.NightBoundary, limits.NightBoundary),
			})
		}
	}

	return violations
}

// CheckRestGap finds the same-driver booking closest to the candidate and reports it when the
// idle time between them is shorter than gap. Overlapping bookings count as a zero gap.
func CheckRestGap(driverBookings []Booking, candidate Booking, loc *time.Location, gap time.Duration) *RuleViolation {
	if gap <= 0 {
		return nil
	}
	start, end := candidate.Window.Start(loc), candidate.Window.End(loc)

	var worst *RuleViolation
	for _, booking := range driverBookings {
		if booking.DriverID != candidate.DriverID {
			continue
		}
		if candidate.ID != "" && booking.ID == candidate.ID {
			continue
		}
		idle := idleBetween(start, end, booking.Window.Start(loc), booking.Window.End(loc))
		if idle >= gap {
			continue
		}
		if worst == nil || idle < worst.Gap {
			worst = &RuleViolation{
				Rule:              RuleRestGap,
				Message:           fmt.Sprintf("only %s rest next to reservation %s, need %s", idle, booking.ID, gap),
				WithReservationID: booking.ID,
				Gap:               idle,
			}
		}
	}
	return worst
}

// CheckLeadTime requires the window to start at least lead after now.
func CheckLeadTime(w Window, loc *time.Location, now time.Time, lead time.Duration) *RuleViolation {
	if lead <= 0 {
		return nil
	}
	if w.Start(loc).Before(now.Add(lead)) {
		return &RuleViolation{
			Rule:    RuleLeadTime,
			Message: fmt.Sprintf("reservations must start at least %s from now", lead),
		}
	}
	return nil
}

func idleBetween(aStart, aEnd, bStart, bEnd time.Time) time.Duration {
	switch {
	case !bStart.Before(aEnd):
		return bStart.Sub(aEnd)
	case !aStart.Before(bEnd):
		return aStart.Sub(bEnd)
	default:
		return 0
	}
}
