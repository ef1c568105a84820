package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yash/vesselwatch/internal/events"
	"github.com/yash/vesselwatch/internal/geofence"
	"github.com/yash/vesselwatch/internal/keylock"
	"github.com/yash/vesselwatch/internal/metrics"
	"github.com/yash/vesselwatch/internal/store"
	"github.com/yash/vesselwatch/pkg/models"
)

// Evaluator runs geofence checks for a refreshed vessel record.
type Evaluator interface {
	Evaluate(ctx context.Context, v models.Vessel) ([]geofence.Transition, error)
}

// Reconciler merges reports into the store. All work for one station id is
// serialised, so concurrent first reports for an unseen station create
// exactly one record.
type Reconciler struct {
	store   store.Store
	geo     Evaluator
	pub     events.Publisher
	staging *Staging
	logger  *slog.Logger

	stations keylock.Map[string]
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithStaging replaces the default staging cache (no expiry).
func WithStaging(s *Staging) ReconcilerOption {
	return func(r *Reconciler) { r.staging = s }
}

// WithReconcilerLogger sets the reconciler's logger.
func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = l }
}

// NewReconciler wires a reconciler to its collaborators.
func NewReconciler(s store.Store, geo Evaluator, pub events.Publisher, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store:  s,
		geo:    geo,
		pub:    pub,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.staging == nil {
		r.staging = NewStaging(0, r.logger)
	}
	return r
}

// Staging exposes the reconciler's staging cache.
func (r *Reconciler) Staging() *Staging {
	return r.staging
}

// Handle applies one report. A returned error concerns this report only.
func (r *Reconciler) Handle(ctx context.Context, rep Report) error {
	station := rep.Station()
	if station == "" {
		return fmt.Errorf("%w: report without station id", ErrMalformed)
	}

	r.stations.Lock(station)
	defer r.stations.Unlock(station)

	entry := r.staging.get(station)

	switch rep := rep.(type) {
	case *PositionReport:
		return r.handlePosition(ctx, entry, rep)
	case *IdentityReport:
		return r.handleIdentity(ctx, entry, rep)
	default:
		return fmt.Errorf("%w: unsupported report %T", ErrMalformed, rep)
	}
}

func (r *Reconciler) handlePosition(ctx context.Context, entry *staged, rep *PositionReport) error {
	if !usablePosition(rep.Position) {
		entry.mergeKinematics(rep)
		r.logger.Debug("position report without fix staged", "station", rep.StationID)
		return nil
	}

	if !entry.fixLoaded {
		if err := r.loadLatestFix(ctx, entry, rep.StationID); err != nil {
			return err
		}
	}
	if !entry.latestFix.IsZero() && rep.Timestamp.Before(entry.latestFix) {
		return r.backfill(ctx, rep)
	}
	entry.mergePosition(rep)

	v, created, err := r.upsert(ctx, rep.StationID, entry)
	if err != nil {
		return err
	}
	if created {
		metrics.VesselsCreated.Inc()
		r.publish(events.VesselAdded, v)
		r.logger.Info("vessel added", "station", v.StationID, "id", v.ID, "name", v.Name)
	} else {
		r.publish(events.VesselUpdated, v)
	}

	if _, err := r.store.AppendTrackPoint(ctx, trackPoint(v.ID, rep)); err != nil {
		return fmt.Errorf("appending track point for station %s: %w", rep.StationID, err)
	}
	metrics.TrackPointsAppended.Inc()

	if _, err := r.geo.Evaluate(ctx, v); err != nil {
		return fmt.Errorf("evaluating geofences for station %s: %w", rep.StationID, err)
	}
	return nil
}

// loadLatestFix seeds a fresh staging entry from the newest stored track
// point, so a late report after eviction still cannot move the vessel back.
func (r *Reconciler) loadLatestFix(ctx context.Context, entry *staged, station string) error {
	v, ok, err := r.store.VesselByStationID(ctx, station)
	if err != nil {
		return fmt.Errorf("looking up station %s: %w", station, err)
	}
	if ok {
		track, err := r.store.Track(ctx, v.ID)
		if err != nil {
			return fmt.Errorf("loading track for station %s: %w", station, err)
		}
		if n := len(track); n > 0 && track[n-1].Timestamp.After(entry.latestFix) {
			entry.latestFix = track[n-1].Timestamp
		}
	}
	entry.fixLoaded = true
	return nil
}

// backfill records a late fix in history without moving the vessel or
// re-running geofences.
func (r *Reconciler) backfill(ctx context.Context, rep *PositionReport) error {
	v, ok, err := r.store.VesselByStationID(ctx, rep.StationID)
	if err != nil {
		return fmt.Errorf("looking up station %s: %w", rep.StationID, err)
	}
	if !ok {
		return nil
	}
	if _, err := r.store.AppendTrackPoint(ctx, trackPoint(v.ID, rep)); err != nil {
		return fmt.Errorf("backfilling track point for station %s: %w", rep.StationID, err)
	}
	metrics.TrackPointsAppended.Inc()
	r.logger.Debug("late position backfilled", "station", rep.StationID, "timestamp", rep.Timestamp)
	return nil
}

func (r *Reconciler) handleIdentity(ctx context.Context, entry *staged, rep *IdentityReport) error {
	entry.mergeIdentity(rep)

	existing, ok, err := r.store.VesselByStationID(ctx, rep.StationID)
	if err != nil {
		return fmt.Errorf("looking up station %s: %w", rep.StationID, err)
	}
	if !ok {
		return nil
	}

	v, ok, err := r.store.UpdateVessel(ctx, existing.ID, entry.identityPatch())
	if err != nil {
		return fmt.Errorf("updating identity for station %s: %w", rep.StationID, err)
	}
	if !ok {
		return nil
	}
	r.publish(events.VesselUpdated, v)
	return nil
}

// upsert updates the station's record or creates it. A create that loses to
// a concurrent writer falls back to the update path.
func (r *Reconciler) upsert(ctx context.Context, station string, entry *staged) (models.Vessel, bool, error) {
	existing, ok, err := r.store.VesselByStationID(ctx, station)
	if err != nil {
		return models.Vessel{}, false, fmt.Errorf("looking up station %s: %w", station, err)
	}

	if !ok {
		v, err := r.store.CreateVessel(ctx, entry.newVessel(station))
		if err == nil {
			return v, true, nil
		}
		if !errors.Is(err, store.ErrDuplicateKey) {
			return models.Vessel{}, false, fmt.Errorf("creating vessel for station %s: %w", station, err)
		}
		existing, ok, err = r.store.VesselByStationID(ctx, station)
		if err != nil {
			return models.Vessel{}, false, fmt.Errorf("looking up station %s: %w", station, err)
		}
		if !ok {
			return models.Vessel{}, false, fmt.Errorf("creating vessel for station %s: registry id taken by another vessel: %w", station, store.ErrDuplicateKey)
		}
	}

	v, ok, err := r.store.UpdateVessel(ctx, existing.ID, entry.fullPatch())
	if err != nil {
		return models.Vessel{}, false, fmt.Errorf("updating vessel %d: %w", existing.ID, err)
	}
	if !ok {
		return models.Vessel{}, false, fmt.Errorf("vessel %d vanished during update", existing.ID)
	}
	return v, false, nil
}

func (r *Reconciler) publish(kind events.Kind, v models.Vessel) {
	r.pub.Publish(events.Event{Kind: kind, VesselID: v.ID, Vessel: &v})
}

// usablePosition rejects out-of-range fixes and the (0,0) placeholder.
func usablePosition(p models.Position) bool {
	return p.Valid() && !p.IsZero()
}

func trackPoint(vesselID int64, rep *PositionReport) models.TrackPoint {
	ts := rep.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return models.TrackPoint{
		VesselID:  vesselID,
		Position:  rep.Position,
		Timestamp: ts,
		Speed:     rep.Speed,
		Heading:   rep.Heading,
	}
}
