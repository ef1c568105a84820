// Package store defines the persistence contract for vessel records, track
// history, zones and alerts, plus the in-memory reference implementation.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yash/vesselwatch/pkg/models"
)

var (
	// ErrDuplicateKey is returned when a StationID or RegistryID is already
	// held by another vessel.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalid is returned when data fails validation at the store boundary.
	ErrInvalid = errors.New("invalid data")
)

// VesselFilter selects vessels by exact match. Empty fields match all.
type VesselFilter struct {
	Type   string
	Status string
}

// Matches reports whether v passes the filter.
func (f VesselFilter) Matches(v *models.Vessel) bool {
	if f.Type != "" && v.Type != f.Type {
		return false
	}
	if f.Status != "" && v.Status != f.Status {
		return false
	}
	return true
}

// MatchesQuery reports whether v's name, registry id or station id contains
// q, ignoring case.
func MatchesQuery(v *models.Vessel, q string) bool {
	q = strings.ToLower(q)
	return strings.Contains(strings.ToLower(v.Name), q) ||
		strings.Contains(strings.ToLower(v.RegistryID), q) ||
		strings.Contains(strings.ToLower(v.StationID), q)
}

// Store is the contract every vessel store implements. Lookups report
// absence through the ok result, never through an error; errors are reserved
// for validation failures, identity collisions and storage faults.
type Store interface {
	Vessels(ctx context.Context) ([]models.Vessel, error)
	VesselByID(ctx context.Context, id int64) (models.Vessel, bool, error)
	VesselByStationID(ctx context.Context, stationID string) (models.Vessel, bool, error)
	VesselByRegistryID(ctx context.Context, registryID string) (models.Vessel, bool, error)
	CreateVessel(ctx context.Context, v models.Vessel) (models.Vessel, error)
	UpdateVessel(ctx context.Context, id int64, patch models.VesselPatch) (models.Vessel, bool, error)
	DeleteVessel(ctx context.Context, id int64) (bool, error)

	AppendTrackPoint(ctx context.Context, p models.TrackPoint) (models.TrackPoint, error)
	Track(ctx context.Context, vesselID int64) ([]models.TrackPoint, error)

	Zones(ctx context.Context) ([]models.Zone, error)
	CreateZone(ctx context.Context, z models.Zone) (models.Zone, error)
	UpdateZone(ctx context.Context, id int64, patch models.ZonePatch) (models.Zone, bool, error)
	DeleteZone(ctx context.Context, id int64) (bool, error)

	Alerts(ctx context.Context) ([]models.Alert, error)
	VesselAlerts(ctx context.Context, vesselID int64) ([]models.Alert, error)
	CreateAlert(ctx context.Context, a models.Alert) (models.Alert, error)
	UpdateAlert(ctx context.Context, id int64, patch models.AlertPatch) (models.Alert, bool, error)
	DeleteAlert(ctx context.Context, id int64) (bool, error)

	Search(ctx context.Context, query string) ([]models.Vessel, error)
	Filter(ctx context.Context, f VesselFilter) ([]models.Vessel, error)
}

// ValidateVessel checks the fields every stored vessel must carry.
func ValidateVessel(v *models.Vessel) error {
	if strings.TrimSpace(v.StationID) == "" {
		return fmt.Errorf("%w: station id required", ErrInvalid)
	}
	if strings.TrimSpace(v.RegistryID) == "" {
		return fmt.Errorf("%w: registry id required", ErrInvalid)
	}
	if !v.Position.Valid() {
		return fmt.Errorf("%w: position %v out of range", ErrInvalid, v.Position)
	}
	return nil
}

// ValidateZone checks a zone definition.
func ValidateZone(z *models.Zone) error {
	if strings.TrimSpace(z.Name) == "" {
		return fmt.Errorf("%w: zone name required", ErrInvalid)
	}
	if !z.Center.Valid() {
		return fmt.Errorf("%w: zone center %v out of range", ErrInvalid, z.Center)
	}
	if z.Radius <= 0 {
		return fmt.Errorf("%w: zone radius must be positive", ErrInvalid)
	}
	return nil
}

// ApplyVesselDefaults fills the defaults applied on creation.
func ApplyVesselDefaults(v *models.Vessel) {
	if v.RiskLevel == "" {
		v.RiskLevel = models.RiskLow
	}
}
