// Package service is the query surface the HTTP layer consumes. It wraps
// the store, the analytics and the geofence evaluator, and publishes the
// change events that administrative writes produce.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yash/vesselwatch/internal/analytics"
	"github.com/yash/vesselwatch/internal/events"
	"github.com/yash/vesselwatch/internal/geofence"
	"github.com/yash/vesselwatch/internal/store"
	"github.com/yash/vesselwatch/pkg/models"
)

var (
	// ErrNotFound means the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable means the entity exists but there is not yet enough
	// data to derive the requested result.
	ErrUnavailable = errors.New("not enough data")

	// ErrInvalid wraps request validation failures.
	ErrInvalid = store.ErrInvalid
)

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the tracker's logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithAnalytics passes options to the ETA predictor and history analyzer.
func WithAnalytics(opts ...analytics.Option) Option {
	return func(t *Tracker) { t.analyticsOpts = append(t.analyticsOpts, opts...) }
}

// WithClock overrides the time stamped on published events.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// Tracker is constructed once by the entry point and shared by every
// request handler.
type Tracker struct {
	store    store.Store
	pub      events.Publisher
	geofence *geofence.Evaluator
	eta      *analytics.ETAPredictor
	history  *analytics.HistoryAnalyzer

	analyticsOpts []analytics.Option
	logger        *slog.Logger
	now           func() time.Time
}

// New creates a tracker.
func New(s store.Store, pub events.Publisher, gf *geofence.Evaluator, opts ...Option) *Tracker {
	t := &Tracker{
		store:    s,
		pub:      pub,
		geofence: gf,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.eta = analytics.NewETAPredictor(s, t.analyticsOpts...)
	t.history = analytics.NewHistoryAnalyzer(s, t.analyticsOpts...)
	return t
}

func (t *Tracker) publish(e events.Event) {
	e.Time = t.now()
	t.pub.Publish(e)
}

// ---------------------------------------------------------------------------
// Vessels
// ---------------------------------------------------------------------------

// Vessels lists every vessel.
func (t *Tracker) Vessels(ctx context.Context) ([]models.Vessel, error) {
	return t.store.Vessels(ctx)
}

// Vessel returns one vessel or ErrNotFound.
func (t *Tracker) Vessel(ctx context.Context, id int64) (models.Vessel, error) {
	v, ok, err := t.store.VesselByID(ctx, id)
	if err != nil {
		return models.Vessel{}, err
	}
	if !ok {
		return models.Vessel{}, fmt.Errorf("vessel %d: %w", id, ErrNotFound)
	}
	return v, nil
}

// CreateVessel registers a vessel outside the ingestion path and announces
// it with vessel_added.
func (t *Tracker) CreateVessel(ctx context.Context, v models.Vessel) (models.Vessel, error) {
	if strings.TrimSpace(v.Name) == "" {
		return models.Vessel{}, fmt.Errorf("%w: vessel name required", ErrInvalid)
	}
	created, err := t.store.CreateVessel(ctx, v)
	if err != nil {
		return models.Vessel{}, fmt.Errorf("creating vessel: %w", err)
	}
	t.logger.Info("vessel created", "id", created.ID, "station", created.StationID)
	t.publish(events.Event{Kind: events.VesselAdded, VesselID: created.ID, Vessel: &created})
	return created, nil
}

// UpdateVessel applies patch and announces it with vessel_updated.
func (t *Tracker) UpdateVessel(ctx context.Context, id int64, patch models.VesselPatch) (models.Vessel, error) {
	if patch.Position != nil && !patch.Position.Valid() {
		return models.Vessel{}, fmt.Errorf("%w: position %v out of range", ErrInvalid, *patch.Position)
	}
	v, ok, err := t.store.UpdateVessel(ctx, id, patch)
	if err != nil {
		return models.Vessel{}, fmt.Errorf("updating vessel %d: %w", id, err)
	}
	if !ok {
		return models.Vessel{}, fmt.Errorf("vessel %d: %w", id, ErrNotFound)
	}
	t.publish(events.Event{Kind: events.VesselUpdated, VesselID: v.ID, Vessel: &v})
	return v, nil
}

// DeleteVessel removes a vessel, drops its geofence memberships and
// announces vessel_deleted. Track history and alerts are kept.
func (t *Tracker) DeleteVessel(ctx context.Context, id int64) error {
	ok, err := t.store.DeleteVessel(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting vessel %d: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("vessel %d: %w", id, ErrNotFound)
	}
	t.geofence.Forget(id)
	t.logger.Info("vessel deleted", "id", id)
	t.publish(events.Event{Kind: events.VesselDeleted, VesselID: id})
	return nil
}

// Track returns the vessel's chronological history.
func (t *Tracker) Track(ctx context.Context, id int64) ([]models.TrackPoint, error) {
	if _, err := t.Vessel(ctx, id); err != nil {
		return nil, err
	}
	return t.store.Track(ctx, id)
}

// Search matches name, registry id or station id, ignoring case.
func (t *Tracker) Search(ctx context.Context, q string) ([]models.Vessel, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, fmt.Errorf("%w: search query required", ErrInvalid)
	}
	return t.store.Search(ctx, q)
}

// Filter returns vessels matching every non-empty field of f.
func (t *Tracker) Filter(ctx context.Context, f store.VesselFilter) ([]models.Vessel, error) {
	return t.store.Filter(ctx, f)
}

// ---------------------------------------------------------------------------
// Analytics
// ---------------------------------------------------------------------------

// ETA predicts arrival at the vessel's destination.
func (t *Tracker) ETA(ctx context.Context, id int64) (models.ETAPrediction, error) {
	p, ok, err := t.eta.Predict(ctx, id)
	return derived(ctx, t, id, p, ok, err)
}

// ETAs predicts arrival for every vessel under way with a destination.
func (t *Tracker) ETAs(ctx context.Context) ([]models.ETAPrediction, error) {
	return t.eta.PredictAll(ctx)
}

// History analyses the last days of the vessel's track.
func (t *Tracker) History(ctx context.Context, id int64, days int) (models.HistoricalAnalysis, error) {
	h, ok, err := t.history.Analyze(ctx, id, days)
	return derived(ctx, t, id, h, ok, err)
}

// Performance scores the vessel's recent voyage.
func (t *Tracker) Performance(ctx context.Context, id int64) (models.PerformanceMetrics, error) {
	m, ok, err := t.history.Performance(ctx, id)
	return derived(ctx, t, id, m, ok, err)
}

// RouteOptimization compares the travelled route with a direct one.
func (t *Tracker) RouteOptimization(ctx context.Context, id int64) (models.RouteOptimization, error) {
	r, ok, err := t.history.OptimizeRoute(ctx, id)
	return derived(ctx, t, id, r, ok, err)
}

// derived maps an analytics result onto ErrNotFound when the vessel is
// missing and ErrUnavailable when it exists but the result is not.
func derived[T any](ctx context.Context, t *Tracker, id int64, res T, ok bool, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if ok {
		return res, nil
	}
	if _, err := t.Vessel(ctx, id); err != nil {
		return zero, err
	}
	return zero, fmt.Errorf("vessel %d: %w", id, ErrUnavailable)
}

// ---------------------------------------------------------------------------
// Zones and alerts
// ---------------------------------------------------------------------------

// Zones lists every zone.
func (t *Tracker) Zones(ctx context.Context) ([]models.Zone, error) {
	return t.store.Zones(ctx)
}

// CreateZone stores a zone and announces zone_created. New zones are
// active unless the caller says otherwise through a later update.
func (t *Tracker) CreateZone(ctx context.Context, z models.Zone) (models.Zone, error) {
	z.Active = true
	if z.Kind == "" {
		z.Kind = models.ZoneMonitoring
	}
	created, err := t.store.CreateZone(ctx, z)
	if err != nil {
		return models.Zone{}, fmt.Errorf("creating zone: %w", err)
	}
	t.publish(events.Event{Kind: events.ZoneCreated, Zone: &created})
	return created, nil
}

// ZonesNear returns active zones whose centre lies within radiusKm.
func (t *Tracker) ZonesNear(ctx context.Context, center models.Position, radiusKm float64) ([]models.Zone, error) {
	if !center.Valid() || radiusKm <= 0 {
		return nil, fmt.Errorf("%w: bad centre or radius", ErrInvalid)
	}
	return t.geofence.ZonesNear(ctx, center, radiusKm)
}

// Memberships returns the vessels currently inside a zone.
func (t *Tracker) Memberships() []geofence.Membership {
	return t.geofence.ActiveAlerts()
}

// Alerts lists every alert.
func (t *Tracker) Alerts(ctx context.Context) ([]models.Alert, error) {
	return t.store.Alerts(ctx)
}

// VesselAlerts lists the alerts raised for one vessel.
func (t *Tracker) VesselAlerts(ctx context.Context, id int64) ([]models.Alert, error) {
	if _, err := t.Vessel(ctx, id); err != nil {
		return nil, err
	}
	return t.store.VesselAlerts(ctx, id)
}

// CreateAlert stores an operator alert and announces alert_created.
func (t *Tracker) CreateAlert(ctx context.Context, a models.Alert) (models.Alert, error) {
	if strings.TrimSpace(a.Message) == "" {
		return models.Alert{}, fmt.Errorf("%w: alert message required", ErrInvalid)
	}
	if a.Category == "" {
		a.Category = "manual"
	}
	if a.Severity == "" {
		a.Severity = models.SeverityInfo
	}
	a.Active = true
	if a.VesselID != nil {
		if _, err := t.Vessel(ctx, *a.VesselID); err != nil {
			return models.Alert{}, err
		}
	}
	created, err := t.store.CreateAlert(ctx, a)
	if err != nil {
		return models.Alert{}, fmt.Errorf("creating alert: %w", err)
	}
	var vid int64
	if created.VesselID != nil {
		vid = *created.VesselID
	}
	t.publish(events.Event{Kind: events.AlertCreated, VesselID: vid, Alert: &created})
	return created, nil
}

// ResolveAlert clears an alert's active flag.
func (t *Tracker) ResolveAlert(ctx context.Context, id int64) (models.Alert, error) {
	inactive := false
	a, ok, err := t.store.UpdateAlert(ctx, id, models.AlertPatch{Active: &inactive})
	if err != nil {
		return models.Alert{}, fmt.Errorf("resolving alert %d: %w", id, err)
	}
	if !ok {
		return models.Alert{}, fmt.Errorf("alert %d: %w", id, ErrNotFound)
	}
	return a, nil
}
