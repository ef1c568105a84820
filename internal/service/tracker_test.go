package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yash/vesselwatch/internal/analytics"
	"github.com/yash/vesselwatch/internal/events"
	"github.com/yash/vesselwatch/internal/geofence"
	"github.com/yash/vesselwatch/internal/store"
	"github.com/yash/vesselwatch/pkg/models"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store   *store.Memory
	sub     *events.Subscription
	eval    *geofence.Evaluator
	tracker *Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := func() time.Time { return now }
	s := store.NewMemory(store.WithClock(clock))
	bus := events.NewBroadcaster(events.WithClock(clock))
	t.Cleanup(bus.Close)
	eval := geofence.NewEvaluator(s, bus)

	f := &fixture{
		store: s,
		sub:   bus.Subscribe(64),
		eval:  eval,
		tracker: New(s, bus, eval,
			WithClock(clock),
			WithAnalytics(analytics.WithClock(clock), analytics.WithRandom(func() float64 { return 0 })),
		),
	}
	return f
}

func (f *fixture) event(t *testing.T) events.Event {
	t.Helper()
	select {
	case e := <-f.sub.C:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event")
		return events.Event{}
	}
}

func sample(station string) models.Vessel {
	return models.Vessel{
		StationID:   station,
		RegistryID:  "IMO" + station,
		Name:        "Ocean Star",
		Type:        "Cargo",
		Status:      "Under Way",
		Position:    models.Position{Lat: 25.5, Lon: 55.5},
		Destination: "Port of Dubai",
		Speed:       12,
	}
}

func TestVesselLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	v, err := f.tracker.CreateVessel(ctx, sample("111"))
	require.NoError(t, err)
	e := f.event(t)
	assert.Equal(t, events.VesselAdded, e.Kind)
	assert.Equal(t, v.ID, e.Vessel.ID)
	assert.Equal(t, now, e.Time)

	name := "Sea Breeze"
	updated, err := f.tracker.UpdateVessel(ctx, v.ID, models.VesselPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Sea Breeze", updated.Name)
	assert.Equal(t, events.VesselUpdated, f.event(t).Kind)

	require.NoError(t, f.tracker.DeleteVessel(ctx, v.ID))
	e = f.event(t)
	assert.Equal(t, events.VesselDeleted, e.Kind)
	assert.Equal(t, v.ID, e.VesselID)

	_, err = f.tracker.Vessel(ctx, v.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.tracker.DeleteVessel(ctx, v.ID), ErrNotFound)
	_, err = f.tracker.UpdateVessel(ctx, v.ID, models.VesselPatch{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateVesselValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	bad := sample("1")
	bad.Name = " "
	_, err := f.tracker.CreateVessel(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = f.tracker.CreateVessel(ctx, sample("2"))
	require.NoError(t, err)
	_, err = f.tracker.CreateVessel(ctx, sample("2"))
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	off := models.Position{Lat: 91, Lon: 0}
	_, err = f.tracker.UpdateVessel(ctx, 1, models.VesselPatch{Position: &off})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestDeleteForgetsMembership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.tracker.CreateZone(ctx, models.Zone{
		Name: "Port", Kind: models.ZonePort, Center: models.Position{Lat: 25.5, Lon: 55.5}, Radius: 1000,
	})
	require.NoError(t, err)

	v, err := f.tracker.CreateVessel(ctx, sample("333"))
	require.NoError(t, err)
	_, err = f.eval.Evaluate(ctx, v)
	require.NoError(t, err)
	require.Len(t, f.tracker.Memberships(), 1)

	require.NoError(t, f.tracker.DeleteVessel(ctx, v.ID))
	assert.Empty(t, f.tracker.Memberships())
}

func TestAnalyticsNotFoundVersusUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.tracker.ETA(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.tracker.History(ctx, 42, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	v, err := f.tracker.CreateVessel(ctx, sample("444"))
	require.NoError(t, err)

	_, err = f.tracker.ETA(ctx, v.ID)
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = f.tracker.Performance(ctx, v.ID)
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = f.tracker.RouteOptimization(ctx, v.ID)
	assert.ErrorIs(t, err, ErrUnavailable)

	for i, s := range []float64{12, 12} {
		speed := s
		_, err := f.store.AppendTrackPoint(ctx, models.TrackPoint{
			VesselID:  v.ID,
			Position:  v.Position,
			Timestamp: now.Add(time.Duration(i-2) * time.Hour),
			Speed:     &speed,
		})
		require.NoError(t, err)
	}

	pred, err := f.tracker.ETA(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 12.0, pred.AverageSpeed)
	assert.Equal(t, 0.3, pred.Confidence)

	preds, err := f.tracker.ETAs(ctx)
	require.NoError(t, err)
	assert.Len(t, preds, 1)

	h, err := f.tracker.History(ctx, v.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, "Ocean Star", h.VesselName)

	_, err = f.tracker.RouteOptimization(ctx, v.ID)
	assert.NoError(t, err)

	track, err := f.tracker.Track(ctx, v.ID)
	require.NoError(t, err)
	assert.Len(t, track, 2)
}

func TestZonesAndAlerts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	z, err := f.tracker.CreateZone(ctx, models.Zone{
		Name: "Watch Area", Center: models.Position{Lat: 10, Lon: 10}, Radius: 2000,
	})
	require.NoError(t, err)
	assert.True(t, z.Active)
	assert.Equal(t, models.ZoneMonitoring, z.Kind)
	e := f.event(t)
	assert.Equal(t, events.ZoneCreated, e.Kind)
	assert.Equal(t, z.ID, e.Zone.ID)

	_, err = f.tracker.CreateZone(ctx, models.Zone{Name: "Bad", Center: models.Position{Lat: 10, Lon: 10}})
	assert.ErrorIs(t, err, ErrInvalid)

	near, err := f.tracker.ZonesNear(ctx, models.Position{Lat: 10.1, Lon: 10}, 50)
	require.NoError(t, err)
	assert.Len(t, near, 1)
	_, err = f.tracker.ZonesNear(ctx, models.Position{Lat: 10, Lon: 10}, 0)
	assert.ErrorIs(t, err, ErrInvalid)

	v, err := f.tracker.CreateVessel(ctx, sample("555"))
	require.NoError(t, err)
	f.event(t)

	a, err := f.tracker.CreateAlert(ctx, models.Alert{VesselID: &v.ID, Message: "Engine failure reported", Severity: models.SeverityHigh})
	require.NoError(t, err)
	assert.True(t, a.Active)
	assert.Equal(t, "manual", a.Category)
	e = f.event(t)
	assert.Equal(t, events.AlertCreated, e.Kind)
	assert.Equal(t, v.ID, e.VesselID)

	missing := int64(999)
	_, err = f.tracker.CreateAlert(ctx, models.Alert{VesselID: &missing, Message: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.tracker.CreateAlert(ctx, models.Alert{Message: ""})
	assert.ErrorIs(t, err, ErrInvalid)

	alerts, err := f.tracker.VesselAlerts(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	resolved, err := f.tracker.ResolveAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, resolved.Active)
	_, err = f.tracker.ResolveAlert(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchAndFilter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.tracker.CreateVessel(ctx, sample("636012345"))
	require.NoError(t, err)

	got, err := f.tracker.Search(ctx, "ocean")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = f.tracker.Search(ctx, "  ")
	assert.ErrorIs(t, err, ErrInvalid)

	got, err = f.tracker.Filter(ctx, store.VesselFilter{Type: "Tanker"})
	require.NoError(t, err)
	assert.Empty(t, got)
}
