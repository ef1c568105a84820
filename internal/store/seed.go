package store

import (
	"context"
	"fmt"

	"github.com/yash/vesselwatch/pkg/models"
)

// SampleZones are the zones loaded on a fresh deployment when seeding is
// enabled.
func SampleZones() []models.Zone {
	return []models.Zone{
		{
			Name:   "Dubai Port Authority Zone",
			Kind:   models.ZonePort,
			Center: models.Position{Lat: 25.2048, Lon: 55.2708},
			Radius: 5000,
			Active: true,
		},
		{
			Name:   "Jebel Ali Port Zone",
			Kind:   models.ZonePort,
			Center: models.Position{Lat: 25.0964, Lon: 55.1336},
			Radius: 7000,
			Active: true,
		},
		{
			Name:   "Dubai Marina Zone",
			Kind:   models.ZoneKind("marina"),
			Center: models.Position{Lat: 25.0769, Lon: 55.1413},
			Radius: 2000,
			Active: true,
		},
	}
}

// Seed creates the sample zones in s. It is a no-op when s already holds
// zones.
func Seed(ctx context.Context, s Store) (int, error) {
	existing, err := s.Zones(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing zones: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	n := 0
	for _, z := range SampleZones() {
		if _, err := s.CreateZone(ctx, z); err != nil {
			return n, fmt.Errorf("seeding zone %q: %w", z.Name, err)
		}
		n++
	}
	return n, nil
}
