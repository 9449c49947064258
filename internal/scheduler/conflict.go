package scheduler

import (
	"sort"
	"time"
)

// Booking is the slice of a reservation the detector needs.
type Booking struct {
	ID        string
	VehicleID string
	DriverID  string
	Window    Window
	CreatedAt time.Time
}

// ConflictType describes the type of conflict detected between bookings.
type ConflictType string

const (
	// ConflictTypeVehicle indicates the vehicle is double-booked.
	ConflictTypeVehicle ConflictType = "vehicle"
)

// Conflict details an overlapping booking that callers can present to users.
type Conflict struct {
	WithReservationID string
	Type              ConflictType
	VehicleID         string
	DriverID          string
	Window            Window
}

// DetectConflicts identifies bookings on the candidate's vehicle whose windows overlap it.
// Callers pass existing bookings already narrowed to the relevant status scope; the
// candidate itself (matched by ID) is ignored so edits do not collide with their old row.
func DetectConflicts(existing []Booking, candidate Booking, loc *time.Location) []Conflict {
	start, end := candidate.Window.Start(loc), candidate.Window.End(loc)

	var conflicts []Conflict
	for _, booking := range existing {
		if booking.VehicleID != candidate.VehicleID {
			continue
		}
		if candidate.ID != "" && booking.ID == candidate.ID {
			continue
		}
		if !Overlap(start, end, booking.Window.Start(loc), booking.Window.End(loc)) {
			continue
		}
		conflicts = append(conflicts, Conflict{
			WithReservationID: booking.ID,
			Type:              ConflictTypeVehicle,
			VehicleID:         booking.VehicleID,
			DriverID:          booking.DriverID,
			Window:            booking.Window,
		})
	}
	return conflicts
}

// Precedes reports whether a was submitted before b: earlier CreatedAt, then smaller ID.
func Precedes(a, b Booking) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Pair is an overlapping pair of bookings by different drivers on one vehicle.
type Pair struct {
	Winner Booking
	Loser  Booking
}

// ConflictingPairs compares every pair of bookings on the same vehicle. The result is ordered
// by winner, then loser, in submission order so callers resolving pairs sequentially
// behave the same on every run.
//
// The comparison is quadratic per vehicle; a sorted sweep would do if fleets grow.
func ConflictingPairs(bookings []Booking, loc *time.Location) []Pair {
	ordered := make([]Booking, len(bookings))
	copy(ordered, bookings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return Precedes(ordered[i], ordered[j])
	})

	var pairs []Pair
	for i := range ordered {
		for j := i + 1; j < len(ordered); j++ {
			a, b := ordered[i], ordered[j]
			if a.VehicleID != b.VehicleID || a.DriverID == b.DriverID {
				continue
			}
			if !a.Window.Overlaps(b.Window, loc) {
				continue
			}
			pairs = append(pairs, Pair{Winner: a, Loser: b})
		}
	}
	return pairs
}
