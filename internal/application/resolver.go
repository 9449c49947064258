package application

import (
	"context"
	"fmt"
	"strings"
)

// Resolver turns operator-typed needles into vehicle and driver ids.
// Matching runs in three passes and stops at the first pass with hits: exact id,
// case-insensitive exact match on a human field, then case-insensitive substring.
type Resolver struct {
	vehicles VehicleCatalog
	drivers  DriverDirectory
}

// NewResolver builds a resolver over the vehicle catalog and driver directory.
func NewResolver(vehicles VehicleCatalog, drivers DriverDirectory) *Resolver {
	return &Resolver{vehicles: vehicles, drivers: drivers}
}

// ResolveVehicleIDs matches needle against vehicle id, plate, code and name.
func (r *Resolver) ResolveVehicleIDs(ctx context.Context, needle string) ([]string, error) {
	if r == nil || r.vehicles == nil {
		return nil, fmt.Errorf("vehicle catalog not configured")
	}
	vehicles, err := r.vehicles.ListVehicles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	candidates := make([]resolvable, 0, len(vehicles))
	for _, v := range vehicles {
		candidates = append(candidates, resolvable{id: v.ID, fields: []string{v.Plate, v.Code, v.Name}})
	}
	return resolve(needle, candidates), nil
}

// ResolveDriverIDs matches needle against driver id, code, name and email.
func (r *Resolver) ResolveDriverIDs(ctx context.Context, needle string) ([]string, error) {
	if r == nil || r.drivers == nil {
		return nil, fmt.Errorf("driver directory not configured")
	}
	drivers, err := r.drivers.ListDrivers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	candidates := make([]resolvable, 0, len(drivers))
	for _, d := range drivers {
		candidates = append(candidates, resolvable{id: d.ID, fields: []string{d.Code, d.Name, d.Email}})
	}
	return resolve(needle, candidates), nil
}

type resolvable struct {
	id     string
	fields []string
}

func resolve(needle string, candidates []resolvable) []string {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return nil
	}
	for _, c := range candidates {
		if c.id == needle {
			return []string{c.id}
		}
	}

	lowered := strings.ToLower(needle)
	match := func(test func(field string) bool) []string {
		var ids []string
		for _, c := range candidates {
			for _, f := range c.fields {
				if f != "" && test(strings.ToLower(f)) {
					ids = append(ids, c.id)
					break
				}
			}
		}
		return ids
	}

	if ids := match(func(f string) bool { return f == lowered }); len(ids) > 0 {
		return ids
	}
	return match(func(f string) bool { return strings.Contains(f, lowered) })
}
