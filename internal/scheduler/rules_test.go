package scheduler

import (
	"testing"
	"time"
)

func TestCheckBookingRules(t *testing.T) {
	t.Parallel()

	limits := DefaultLimits()

	tests := []struct {
		name   string
		window Window
		want   []Rule
	}{
		{name: "regular day shift", window: window("2025-06-01", "08:00", "2025-06-01", "18:00")},
		{name: "exactly thirteen hours", window: window("2025-06-01", "06:00", "2025-06-01", "19:00")},
		{name: "longer than thirteen hours", window: window("2025-06-01", "06:00", "2025-06-01", "19:30"), want: []Rule{RuleMaxDuration}},
		{name: "night shift within boundary", window: window("2025-06-01", "20:00", "2025-06-02", "08:00")},
		{name: "night shift starting before noon", window: window("2025-06-01", "11:30", "2025-06-02", "00:00"), want: []Rule{RuleNightShift}},
		{name: "night shift ending after noon", window: window("2025-06-01", "23:30", "2025-06-02", "12:30"), want: []Rule{RuleNightShift}},
		{name: "crossing two midnights", window: window("2025-06-01", "23:00", "2025-06-03", "01:00"), want: []Rule{RuleMaxDuration, RuleNightShift}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := CheckBookingRules(tc.window, tokyo, limits)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %+v", tc.want, got)
			}
			for i, rule := range tc.want {
				if got[i].Rule != rule {
					t.Fatalf("expected rule %s at %d, got %s", rule, i, got[i].Rule)
				}
			}
		})
	}
}

func TestCheckRestGap(t *testing.T) {
	t.Parallel()

	previous := Booking{ID: "b", VehicleID: "v1", DriverID: "d1", Window: window("2025-06-01", "10:00", "2025-06-01", "20:00")}

	t.Run("six hour gap is rejected", func(t *testing.T) {
		t.Parallel()
		candidate := Booking{VehicleID: "v2", DriverID: "d1", Window: window("2025-06-02", "02:00", "2025-06-02", "10:00")}
		violation := CheckRestGap([]Booking{previous}, candidate, tokyo, 10*time.Hour)
		if violation == nil {
			t.Fatalf("expected rest gap violation")
		}
		if violation.WithReservationID != "b" || violation.Gap != 6*time.Hour {
			t.Fatalf("unexpected violation %+v", violation)
		}
	})

	t.Run("ten hour gap is accepted", func(t *testing.T) {
		t.Parallel()
		candidate := Booking{VehicleID: "v2", DriverID: "d1", Window: window("2025-06-02", "06:00", "2025-06-02", "12:00")}
		if violation := CheckRestGap([]Booking{previous}, candidate, tokyo, 10*time.Hour); violation != nil {
			t.Fatalf("expected no violation, got %+v", violation)
		}
	})

	t.Run("gap before an existing booking also counts", func(t *testing.T) {
		t.Parallel()
		candidate := Booking{VehicleID: "v2", DriverID: "d1", Window: window("2025-06-01", "00:00", "2025-06-01", "03:00")}
		violation := CheckRestGap([]Booking{previous}, candidate, tokyo, 10*time.Hour)
		if violation == nil || violation.Gap != 7*time.Hour {
			t.Fatalf("expected 7h violation, got %+v", violation)
		}
	})

	t.Run("other drivers are ignored", func(t *testing.T) {
		t.Parallel()
		candidate := Booking{VehicleID: "v2", DriverID: "d2", Window: window("2025-06-01", "21:00", "2025-06-01", "23:00")}
		if violation := CheckRestGap([]Booking{previous}, candidate, tokyo, 10*time.Hour); violation != nil {
			t.Fatalf("expected no violation, got %+v", violation)
		}
	})
}

func TestCheckLeadTime(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 8, 45, 0, 0, tokyo)
	if v := CheckLeadTime(window("2025-06-01", "09:00", "2025-06-01", "10:00"), tokyo, now, 30*time.Minute); v == nil {
		t.Fatalf("expected lead time violation")
	}
	if v := CheckLeadTime(window("2025-06-01", "09:15", "2025-06-01", "10:00"), tokyo, now, 30*time.Minute); v != nil {
		t.Fatalf("expected no violation, got %+v", v)
	}
}
