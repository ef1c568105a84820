package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yash/vesselwatch/internal/store"
	"github.com/yash/vesselwatch/pkg/models"
)

func openTest(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "vessels.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func vessel(station string) models.Vessel {
	return models.Vessel{
		StationID:  station,
		RegistryID: "IMO" + station,
		Name:       "Vessel " + station,
		Type:       "Cargo",
		Status:     "Under Way",
		Position:   models.Position{Lat: 25.2, Lon: 55.27},
	}
}

func TestSQLiteVesselRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := openTest(t, WithClock(func() time.Time { return now }))

	heading := 270.0
	eta := now.Add(6 * time.Hour)
	in := vessel("123")
	in.Heading = &heading
	in.ETA = &eta

	created, err := s.CreateVessel(ctx, in)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, models.RiskLow, created.RiskLevel)

	got, ok, err := s.VesselByStationID(ctx, "123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created, got)
	assert.Nil(t, got.Course)

	_, ok, err = s.VesselByRegistryID(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteDuplicateKey(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	a, err := s.CreateVessel(ctx, vessel("123"))
	require.NoError(t, err)

	_, err = s.CreateVessel(ctx, vessel("123"))
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	name := "Renamed"
	_, ok, err := s.UpdateVessel(ctx, a.ID, models.VesselPatch{Name: &name})
	require.NoError(t, err)
	require.True(t, ok)

	got, ok, err := s.VesselByStationID(ctx, "123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, a.RegistryID, got.RegistryID)
}

func TestSQLiteUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	v, err := s.CreateVessel(ctx, vessel("123"))
	require.NoError(t, err)

	status := "Moored"
	got, ok, err := s.UpdateVessel(ctx, v.ID, models.VesselPatch{Status: &status})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Moored", got.Status)
	assert.Equal(t, "Vessel 123", got.Name)

	_, ok, err = s.UpdateVessel(ctx, 999, models.VesselPatch{Status: &status})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.DeleteVessel(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.DeleteVessel(ctx, v.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteTrackOrdering(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, offset := range []int{0, 10, 5, 10} {
		speed := float64(offset)
		_, err := s.AppendTrackPoint(ctx, models.TrackPoint{
			VesselID:  1,
			Position:  models.Position{Lat: 25, Lon: 55},
			Timestamp: base.Add(time.Duration(offset) * time.Minute),
			Speed:     &speed,
		})
		require.NoError(t, err)
	}

	track, err := s.Track(ctx, 1)
	require.NoError(t, err)
	require.Len(t, track, 4)
	assert.Equal(t, base, track[0].Timestamp)
	assert.Equal(t, base.Add(5*time.Minute), track[1].Timestamp)
	assert.Less(t, track[2].ID, track[3].ID)
	require.NotNil(t, track[1].Speed)
	assert.Equal(t, 5.0, *track[1].Speed)
	assert.Nil(t, track[1].Heading)

	_, err = s.AppendTrackPoint(ctx, models.TrackPoint{VesselID: 1, Position: models.Position{Lat: -95}})
	assert.ErrorIs(t, err, store.ErrInvalid)
}

func TestSQLiteZonesAndAlerts(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	n, err := store.Seed(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	zones, err := s.Zones(ctx)
	require.NoError(t, err)
	require.Len(t, zones, 3)
	assert.True(t, zones[0].Active)
	assert.Equal(t, models.ZonePort, zones[0].Kind)

	off := false
	z, ok, err := s.UpdateZone(ctx, zones[2].ID, models.ZonePatch{Active: &off})
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, z.Active)

	vid := int64(3)
	a, err := s.CreateAlert(ctx, models.Alert{VesselID: &vid, Category: "geofence", Message: "x entered y", Severity: models.SeverityInfo, Active: true})
	require.NoError(t, err)
	_, err = s.CreateAlert(ctx, models.Alert{Category: "system", Message: "feed down", Severity: models.SeverityWarning, Active: true})
	require.NoError(t, err)

	mine, err := s.VesselAlerts(ctx, vid)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, a.ID, mine[0].ID)

	got, ok, err := s.UpdateAlert(ctx, a.ID, models.AlertPatch{Active: &off})
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, got.Active)

	_, ok, err = s.UpdateAlert(ctx, 999, models.AlertPatch{Active: &off})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteSearchAndFilter(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	a := vessel("100")
	a.Name = "Ocean Star"
	b := vessel("200")
	b.Name = "Desert_Rose"
	b.Type = "Tanker"
	_, err := s.CreateVessel(ctx, a)
	require.NoError(t, err)
	_, err = s.CreateVessel(ctx, b)
	require.NoError(t, err)

	got, err := s.Search(ctx, "OCEAN")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Ocean Star", got[0].Name)

	// Wildcards in the query are literal.
	got, err = s.Search(ctx, "_")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Desert_Rose", got[0].Name)

	got, err = s.Filter(ctx, store.VesselFilter{Type: "Tanker", Status: "Under Way"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = s.Filter(ctx, store.VesselFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
