// Package geofence tracks which circular zones each vessel is inside and turns
// changes into alerts and events.
package geofence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/yash/vesselwatch/internal/events"
	"github.com/yash/vesselwatch/internal/geo"
	"github.com/yash/vesselwatch/internal/keylock"
	"github.com/yash/vesselwatch/internal/metrics"
	"github.com/yash/vesselwatch/pkg/models"
)

// AlertCategory is the category of every alert raised here.
const AlertCategory = "geofence"

// Store is the subset of store.Store the evaluator needs.
type Store interface {
	Zones(ctx context.Context) ([]models.Zone, error)
	CreateAlert(ctx context.Context, a models.Alert) (models.Alert, error)
}

// Transition is one entry, exit or violation produced by an evaluation.
type Transition struct {
	Kind     models.Transition `json:"kind"`
	Zone     models.Zone       `json:"zone"`
	Alert    models.Alert      `json:"alert"`
	Distance float64           `json:"distance"` // metres from zone centre
}

// Membership records that a vessel is currently inside a zone.
type Membership struct {
	VesselID   int64     `json:"vesselId"`
	VesselName string    `json:"vesselName"`
	ZoneID     int64     `json:"zoneId"`
	ZoneName   string    `json:"zoneName"`
	EnteredAt  time.Time `json:"enteredAt"`
	Distance   float64   `json:"distance"`
}

// Evaluator owns the vessel/zone membership table. Evaluations of the same
// vessel are serialised; different vessels evaluate concurrently.
type Evaluator struct {
	store  Store
	pub    events.Publisher
	logger *slog.Logger
	now    func() time.Time

	vessels keylock.Map[int64]

	mu     sync.RWMutex
	inside map[int64]map[int64]Membership // vessel id → zone id → membership
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the evaluator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// WithClock overrides the time source for membership timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator creates an evaluator with an empty membership table.
func NewEvaluator(s Store, pub events.Publisher, opts ...Option) *Evaluator {
	e := &Evaluator{
		store:  s,
		pub:    pub,
		logger: slog.Default(),
		now:    time.Now,
		inside: make(map[int64]map[int64]Membership),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate compares v's position with every active zone. Each entry, exit
// and restricted-zone violation is persisted as an alert and published as a
// geofence_alert event. A violation is raised on every evaluation that finds
// the vessel inside a restricted zone, not just on entry.
//
// Alert persistence failures do not roll back membership; they are joined
// and returned after all zones are processed.
func (e *Evaluator) Evaluate(ctx context.Context, v models.Vessel) ([]Transition, error) {
	zones, err := e.store.Zones(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading zones: %w", err)
	}

	e.vessels.Lock(v.ID)
	defer e.vessels.Unlock(v.ID)

	now := e.now()
	var (
		out  []Transition
		errs []error
	)
	live := make(map[int64]bool, len(zones))

	for _, z := range zones {
		live[z.ID] = true
		if !z.Active {
			continue
		}

		dist := geo.Distance(v.Position, z.Center)
		isInside := dist <= z.Radius
		_, wasInside := e.membership(v.ID, z.ID)

		var kinds []models.Transition
		switch {
		case isInside && !wasInside:
			e.setMembership(Membership{
				VesselID:   v.ID,
				VesselName: v.Name,
				ZoneID:     z.ID,
				ZoneName:   z.Name,
				EnteredAt:  now,
				Distance:   dist,
			})
			kinds = append(kinds, models.TransitionEntry)
		case !isInside && wasInside:
			e.ClearMembership(v.ID, z.ID)
			kinds = append(kinds, models.TransitionExit)
		case isInside:
			e.touchMembership(v.ID, z.ID, dist)
		}
		if isInside && z.Kind == models.ZoneRestricted {
			kinds = append(kinds, models.TransitionViolation)
		}

		for _, kind := range kinds {
			t, err := e.raise(ctx, v, z, kind, dist)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			out = append(out, t)
		}
	}

	e.pruneDeletedZones(v.ID, live)
	return out, errors.Join(errs...)
}

func (e *Evaluator) raise(ctx context.Context, v models.Vessel, z models.Zone, kind models.Transition, dist float64) (Transition, error) {
	vesselID := v.ID
	alert, err := e.store.CreateAlert(ctx, models.Alert{
		VesselID: &vesselID,
		Category: AlertCategory,
		Message:  alertMessage(v.Name, z.Name, kind),
		Severity: severity(kind),
		Active:   true,
	})
	if err != nil {
		return Transition{}, fmt.Errorf("recording %s alert for vessel %d zone %d: %w", kind, v.ID, z.ID, err)
	}

	metrics.GeofenceTransitions.Inc(string(kind))
	e.logger.Info("geofence transition",
		"vessel", v.ID, "zone", z.ID, "kind", kind, "distance_m", dist)

	vessel, zone, a := v, z, alert
	e.pub.Publish(events.Event{
		Kind:       events.GeofenceAlert,
		VesselID:   v.ID,
		Vessel:     &vessel,
		Zone:       &zone,
		Alert:      &a,
		Transition: kind,
	})
	return Transition{Kind: kind, Zone: z, Alert: alert, Distance: dist}, nil
}

func alertMessage(vessel, zone string, kind models.Transition) string {
	switch kind {
	case models.TransitionEntry:
		return fmt.Sprintf("%s entered %s", vessel, zone)
	case models.TransitionExit:
		return fmt.Sprintf("%s exited %s", vessel, zone)
	default:
		return fmt.Sprintf("%s violated restricted zone %s", vessel, zone)
	}
}

func severity(kind models.Transition) models.Severity {
	if kind == models.TransitionViolation {
		return models.SeverityHigh
	}
	return models.SeverityInfo
}

// ---------------------------------------------------------------------------
// Membership table
// ---------------------------------------------------------------------------

func (e *Evaluator) membership(vesselID, zoneID int64) (Membership, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.inside[vesselID][zoneID]
	return m, ok
}

func (e *Evaluator) setMembership(m Membership) {
	e.mu.Lock()
	defer e.mu.Unlock()
	zones, ok := e.inside[m.VesselID]
	if !ok {
		zones = make(map[int64]Membership)
		e.inside[m.VesselID] = zones
	}
	zones[m.ZoneID] = m
}

func (e *Evaluator) touchMembership(vesselID, zoneID int64, dist float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.inside[vesselID][zoneID]; ok {
		m.Distance = dist
		e.inside[vesselID][zoneID] = m
	}
}

// pruneDeletedZones drops memberships for zones that no longer exist.
func (e *Evaluator) pruneDeletedZones(vesselID int64, live map[int64]bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for zoneID := range e.inside[vesselID] {
		if !live[zoneID] {
			delete(e.inside[vesselID], zoneID)
		}
	}
	if len(e.inside[vesselID]) == 0 {
		delete(e.inside, vesselID)
	}
}

// ClearMembership forgets that a vessel is inside a zone without raising an
// exit. The next evaluation inside the zone raises a fresh entry. It reports
// whether a membership existed.
func (e *Evaluator) ClearMembership(vesselID, zoneID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	zones, ok := e.inside[vesselID]
	if !ok {
		return false
	}
	if _, ok := zones[zoneID]; !ok {
		return false
	}
	delete(zones, zoneID)
	if len(zones) == 0 {
		delete(e.inside, vesselID)
	}
	return true
}

// Forget drops every membership of a vessel, used when the vessel is deleted.
func (e *Evaluator) Forget(vesselID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inside, vesselID)
}

// ActiveAlerts returns a snapshot of current memberships ordered by vessel
// then zone.
func (e *Evaluator) ActiveAlerts() []Membership {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Membership, 0, len(e.inside))
	for _, zones := range e.inside {
		for _, m := range zones {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VesselID != out[j].VesselID {
			return out[i].VesselID < out[j].VesselID
		}
		return out[i].ZoneID < out[j].ZoneID
	})
	return out
}

// ZonesNear returns the active zones whose centre lies within radiusKm of
// center.
func (e *Evaluator) ZonesNear(ctx context.Context, center models.Position, radiusKm float64) ([]models.Zone, error) {
	zones, err := e.store.Zones(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading zones: %w", err)
	}
	limit := radiusKm * 1000
	out := []models.Zone{}
	for _, z := range zones {
		if z.Active && geo.Distance(center, z.Center) <= limit {
			out = append(out, z)
		}
	}
	return out, nil
}
