package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yash/vesselwatch/pkg/models"
)

func newVessel(station string) models.Vessel {
	return models.Vessel{
		StationID:  station,
		RegistryID: "IMO" + station,
		Name:       "Vessel " + station,
		Type:       "Cargo",
		Status:     "Under Way",
		Position:   models.Position{Lat: 25.2, Lon: 55.27},
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// =========================================================================
// Vessels
// =========================================================================

func TestMemoryCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(WithClock(fixedClock(now)))

	v, err := m.CreateVessel(ctx, newVessel("123456789"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.ID)
	assert.Equal(t, now, v.LastUpdate)
	assert.Equal(t, models.RiskLow, v.RiskLevel)

	got, ok, err := m.VesselByID(ctx, v.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v, got)

	got, ok, err = m.VesselByStationID(ctx, "123456789")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v.ID, got.ID)

	got, ok, err = m.VesselByRegistryID(ctx, "IMO123456789")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v.ID, got.ID)

	_, ok, err = m.VesselByStationID(ctx, "000000000")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCreateDuplicateStation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.CreateVessel(ctx, newVessel("111"))
	require.NoError(t, err)

	dup := newVessel("111")
	dup.RegistryID = "IMO-other"
	_, err = m.CreateVessel(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateKey)

	dup = newVessel("222")
	dup.RegistryID = "IMO111"
	_, err = m.CreateVessel(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateKey)

	all, err := m.Vessels(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryCreateValidation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	v := newVessel("")
	_, err := m.CreateVessel(ctx, v)
	assert.ErrorIs(t, err, ErrInvalid)

	v = newVessel("333")
	v.Position = models.Position{Lat: 91, Lon: 0}
	_, err = m.CreateVessel(ctx, v)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestMemoryUpdate(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(WithClock(func() time.Time { return clock }))

	v, err := m.CreateVessel(ctx, newVessel("111"))
	require.NoError(t, err)

	clock = clock.Add(time.Minute)
	speed := 12.5
	heading := 90.0
	got, ok, err := m.UpdateVessel(ctx, v.ID, models.VesselPatch{Speed: &speed, Heading: &heading})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 12.5, got.Speed)
	require.NotNil(t, got.Heading)
	assert.Equal(t, 90.0, *got.Heading)
	assert.Equal(t, clock, got.LastUpdate)
	assert.Equal(t, "Vessel 111", got.Name, "unpatched fields survive")

	_, ok, err = m.UpdateVessel(ctx, 999, models.VesselPatch{Speed: &speed})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryUpdateKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	a, err := m.CreateVessel(ctx, newVessel("111"))
	require.NoError(t, err)

	name := "Renamed"
	_, ok, err := m.UpdateVessel(ctx, a.ID, models.VesselPatch{Name: &name})
	require.NoError(t, err)
	require.True(t, ok)

	got, ok, _ := m.VesselByStationID(ctx, "111")
	require.True(t, ok)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "Renamed", got.Name)
	got, ok, _ = m.VesselByRegistryID(ctx, "IMO111")
	require.True(t, ok)
	assert.Equal(t, a.ID, got.ID)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	heading := 45.0
	in := newVessel("111")
	in.Heading = &heading
	v, err := m.CreateVessel(ctx, in)
	require.NoError(t, err)

	*v.Heading = 180
	v.Name = "mutated"

	got, _, err := m.VesselByID(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 45.0, *got.Heading)
	assert.Equal(t, "Vessel 111", got.Name)
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	v, err := m.CreateVessel(ctx, newVessel("111"))
	require.NoError(t, err)
	_, err = m.AppendTrackPoint(ctx, models.TrackPoint{VesselID: v.ID, Position: v.Position, Timestamp: time.Now()})
	require.NoError(t, err)

	ok, err := m.DeleteVessel(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.DeleteVessel(ctx, v.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = m.VesselByStationID(ctx, "111")
	assert.False(t, ok)

	// The station id is free again.
	_, err = m.CreateVessel(ctx, newVessel("111"))
	require.NoError(t, err)

	track, err := m.Track(ctx, v.ID)
	require.NoError(t, err)
	assert.Len(t, track, 1, "history outlives the record")
}

func TestMemoryConcurrentCreateSameStation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created, dupes := 0, 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.CreateVessel(ctx, newVessel("777"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
			} else if assert.ErrorIs(t, err, ErrDuplicateKey) {
				dupes++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 31, dupes)
}

// =========================================================================
// Track history
// =========================================================================

func TestMemoryTrackChronological(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	pos := models.Position{Lat: 25, Lon: 55}

	for _, offset := range []int{0, 10, 20, 5, 30, 20} {
		_, err := m.AppendTrackPoint(ctx, models.TrackPoint{
			VesselID:  1,
			Position:  pos,
			Timestamp: base.Add(time.Duration(offset) * time.Minute),
		})
		require.NoError(t, err)
	}

	track, err := m.Track(ctx, 1)
	require.NoError(t, err)
	require.Len(t, track, 6)
	for i := 1; i < len(track); i++ {
		assert.False(t, track[i].Timestamp.Before(track[i-1].Timestamp), "index %d out of order", i)
	}
	assert.Equal(t, base.Add(5*time.Minute), track[1].Timestamp)

	// Equal timestamps keep insertion order.
	assert.Equal(t, base.Add(20*time.Minute), track[3].Timestamp)
	assert.Equal(t, base.Add(20*time.Minute), track[4].Timestamp)
	assert.Less(t, track[3].ID, track[4].ID)
}

func TestMemoryTrackInvalidPosition(t *testing.T) {
	m := NewMemory()
	_, err := m.AppendTrackPoint(context.Background(), models.TrackPoint{
		VesselID: 1,
		Position: models.Position{Lat: 0, Lon: 200},
	})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestMemoryTrackSnapshot(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.AppendTrackPoint(ctx, models.TrackPoint{VesselID: 1, Position: models.Position{Lat: 1, Lon: 1}, Timestamp: time.Now()})
	require.NoError(t, err)

	snap, err := m.Track(ctx, 1)
	require.NoError(t, err)

	_, err = m.AppendTrackPoint(ctx, models.TrackPoint{VesselID: 1, Position: models.Position{Lat: 2, Lon: 2}, Timestamp: time.Now()})
	require.NoError(t, err)

	assert.Len(t, snap, 1)
	empty, err := m.Track(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// =========================================================================
// Zones and alerts
// =========================================================================

func TestMemoryZones(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	n, err := Seed(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = Seed(ctx, m)
	require.NoError(t, err)
	assert.Zero(t, n, "seeding is idempotent")

	zones, err := m.Zones(ctx)
	require.NoError(t, err)
	require.Len(t, zones, 3)
	assert.Equal(t, "Dubai Port Authority Zone", zones[0].Name)

	inactive := false
	z, ok, err := m.UpdateZone(ctx, zones[0].ID, models.ZonePatch{Active: &inactive})
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, z.Active)

	bad := -1.0
	_, ok, err = m.UpdateZone(ctx, zones[0].ID, models.ZonePatch{Radius: &bad})
	assert.True(t, ok)
	assert.ErrorIs(t, err, ErrInvalid)

	ok, err = m.DeleteZone(ctx, zones[1].ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = m.CreateZone(ctx, models.Zone{Name: "", Center: models.Position{}, Radius: 10})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestMemoryAlerts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	vid := int64(7)
	for i := 0; i < 3; i++ {
		a := models.Alert{Category: "geofence", Message: fmt.Sprintf("alert %d", i), Severity: models.SeverityInfo, Active: true}
		if i < 2 {
			a.VesselID = &vid
		}
		_, err := m.CreateAlert(ctx, a)
		require.NoError(t, err)
	}

	all, err := m.Alerts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mine, err := m.VesselAlerts(ctx, vid)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	off := false
	a, ok, err := m.UpdateAlert(ctx, all[0].ID, models.AlertPatch{Active: &off})
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, a.Active)

	ok, err = m.DeleteAlert(ctx, all[2].ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = m.CreateAlert(ctx, models.Alert{})
	assert.ErrorIs(t, err, ErrInvalid)
}

// =========================================================================
// Search
// =========================================================================

func TestMemorySearchAndFilter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	a := newVessel("100")
	a.Name = "Ocean Star"
	b := newVessel("200")
	b.Name = "Desert Rose"
	b.Type = "Tanker"
	b.Status = "Moored"
	_, err := m.CreateVessel(ctx, a)
	require.NoError(t, err)
	_, err = m.CreateVessel(ctx, b)
	require.NoError(t, err)

	got, err := m.Search(ctx, "ocean")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Ocean Star", got[0].Name)

	got, err = m.Search(ctx, "imo2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "200", got[0].StationID)

	got, err = m.Filter(ctx, VesselFilter{Type: "Tanker"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Desert Rose", got[0].Name)

	got, err = m.Filter(ctx, VesselFilter{Type: "Cargo", Status: "Moored"})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = m.Filter(ctx, VesselFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
