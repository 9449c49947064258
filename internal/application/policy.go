package application

import (
	"time"

	"github.com/example/fleet-reservations/internal/scheduler"
)

// OverduePolicy selects how the reconciler treats departed reservations past their end.
type OverduePolicy string

const (
	// OverdueMark moves the reservation to overdue.
	OverdueMark OverduePolicy = "mark"
	// OverdueExtend pushes the window end forward and cascades the delay downstream.
	OverdueExtend OverduePolicy = "extend"
)

// Policy holds deployment-tunable rules of the reservation lifecycle.
type Policy struct {
	Location        *time.Location
	Limits          scheduler.Limits
	NoShowTimeout   time.Duration
	OverdueGrace    time.Duration
	OverduePolicy   OverduePolicy
	ExtendIncrement time.Duration
	// AutoApproveAfter approves pending reservations older than this; zero disables it.
	AutoApproveAfter  time.Duration
	SyncReferenceHour scheduler.TimeOfDay
	AdminRecipients   []string
	SampleLimit       int
}

// DefaultPolicy returns the fleet's standard policy in Asia/Tokyo.
func DefaultPolicy() Policy {
	return Policy{
		Location:          jstLocation(),
		Limits:            scheduler.DefaultLimits(),
		NoShowTimeout:     time.Hour,
		OverdueGrace:      30 * time.Minute,
		OverduePolicy:     OverdueMark,
		ExtendIncrement:   30 * time.Minute,
		AutoApproveAfter:  time.Hour,
		SyncReferenceHour: scheduler.NewTimeOfDay(9, 0),
		SampleLimit:       50,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.Location == nil {
		p.Location = def.Location
	}
	if p.Limits == (scheduler.Limits{}) {
		p.Limits = def.Limits
	}
	if p.NoShowTimeout <= 0 {
		p.NoShowTimeout = def.NoShowTimeout
	}
	if p.OverdueGrace <= 0 {
		p.OverdueGrace = def.OverdueGrace
	}
	if p.OverduePolicy == "" {
		p.OverduePolicy = def.OverduePolicy
	}
	if p.ExtendIncrement <= 0 {
		p.ExtendIncrement = def.ExtendIncrement
	}
	if p.SyncReferenceHour == 0 {
		p.SyncReferenceHour = def.SyncReferenceHour
	}
	if p.SampleLimit <= 0 {
		p.SampleLimit = def.SampleLimit
	}
	return p
}

func jstLocation() *time.Location {
	if loc, err := time.LoadLocation("Asia/Tokyo"); err == nil {
		return loc
	}
	return time.FixedZone("JST", 9*60*60)
}
