package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yash/vesselwatch/pkg/models"
)

const defaultVesselCap = 1024

// Memory is the in-process reference Store.
//
// Indexes:
//   - vessels:     id         → record (primary)
//   - stationIdx:  StationID  → id
//   - registryIdx: RegistryID → id
//   - tracks:      vessel id  → chronological track points
//
// Concurrency: sync.RWMutex. Mutations take the write lock, reads take the
// read lock and return copies, so callers always work on a point-in-time
// snapshot and never alias internal state.
type Memory struct {
	mu sync.RWMutex

	vessels     map[int64]*models.Vessel
	stationIdx  map[string]int64
	registryIdx map[string]int64
	tracks      map[int64][]models.TrackPoint
	zones       map[int64]*models.Zone
	alerts      map[int64]*models.Alert

	nextVesselID int64
	nextTrackID  int64
	nextZoneID   int64
	nextAlertID  int64

	now func() time.Time
}

var _ Store = (*Memory)(nil)

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock overrides the time source used for LastUpdate and CreatedAt.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithCapacity pre-sizes the vessel maps.
func WithCapacity(vessels int) MemoryOption {
	return func(m *Memory) {
		m.vessels = make(map[int64]*models.Vessel, vessels)
		m.stationIdx = make(map[string]int64, vessels)
		m.registryIdx = make(map[string]int64, vessels)
		m.tracks = make(map[int64][]models.TrackPoint, vessels)
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		vessels:     make(map[int64]*models.Vessel, defaultVesselCap),
		stationIdx:  make(map[string]int64, defaultVesselCap),
		registryIdx: make(map[string]int64, defaultVesselCap),
		tracks:      make(map[int64][]models.TrackPoint, defaultVesselCap),
		zones:       make(map[int64]*models.Zone),
		alerts:      make(map[int64]*models.Alert),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// =========================================================================
// Vessels
// =========================================================================

// Vessels returns every vessel ordered by id.
func (m *Memory) Vessels(_ context.Context) ([]models.Vessel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collectVessels(func(*models.Vessel) bool { return true }), nil
}

// VesselByID looks a vessel up by its store id.
func (m *Memory) VesselByID(_ context.Context, id int64) (models.Vessel, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.vessels[id]
	if !ok {
		return models.Vessel{}, false, nil
	}
	return cloneVessel(v), true, nil
}

// VesselByStationID looks a vessel up by StationID.
func (m *Memory) VesselByStationID(_ context.Context, stationID string) (models.Vessel, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byIndex(m.stationIdx, stationID)
}

// VesselByRegistryID looks a vessel up by RegistryID.
func (m *Memory) VesselByRegistryID(_ context.Context, registryID string) (models.Vessel, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byIndex(m.registryIdx, registryID)
}

// CreateVessel assigns an id, stamps LastUpdate and stores v. Both identity
// keys must be unused.
func (m *Memory) CreateVessel(_ context.Context, v models.Vessel) (models.Vessel, error) {
	if err := ValidateVessel(&v); err != nil {
		return models.Vessel{}, err
	}
	ApplyVesselDefaults(&v)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.stationIdx[v.StationID]; taken {
		return models.Vessel{}, fmt.Errorf("station id %s: %w", v.StationID, ErrDuplicateKey)
	}
	if _, taken := m.registryIdx[v.RegistryID]; taken {
		return models.Vessel{}, fmt.Errorf("registry id %s: %w", v.RegistryID, ErrDuplicateKey)
	}

	m.nextVesselID++
	v.ID = m.nextVesselID
	v.LastUpdate = m.now()

	stored := cloneVessel(&v)
	m.vessels[v.ID] = &stored
	m.stationIdx[v.StationID] = v.ID
	m.registryIdx[v.RegistryID] = v.ID

	return cloneVessel(&stored), nil
}

// UpdateVessel merges patch into the vessel and refreshes LastUpdate. The
// identity keys never change, so the secondary indexes are left alone.
func (m *Memory) UpdateVessel(_ context.Context, id int64, patch models.VesselPatch) (models.Vessel, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.vessels[id]
	if !ok {
		return models.Vessel{}, false, nil
	}

	next := cloneVessel(cur)
	patch.Apply(&next)
	if err := ValidateVessel(&next); err != nil {
		return models.Vessel{}, true, err
	}

	next.LastUpdate = m.now()
	m.vessels[id] = &next

	return cloneVessel(&next), true, nil
}

// DeleteVessel removes a vessel record. Its track and alerts are kept.
func (m *Memory) DeleteVessel(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.vessels[id]
	if !ok {
		return false, nil
	}
	delete(m.stationIdx, v.StationID)
	delete(m.registryIdx, v.RegistryID)
	delete(m.vessels, id)
	return true, nil
}

// =========================================================================
// Track history
// =========================================================================

// AppendTrackPoint adds p to the vessel's history. In-order points are an
// O(1) append; a late point is inserted at its chronological position.
func (m *Memory) AppendTrackPoint(_ context.Context, p models.TrackPoint) (models.TrackPoint, error) {
	if !p.Position.Valid() {
		return models.TrackPoint{}, fmt.Errorf("%w: track position %v out of range", ErrInvalid, p.Position)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextTrackID++
	p.ID = m.nextTrackID
	p = cloneTrackPoint(&p)

	track := m.tracks[p.VesselID]
	n := len(track)
	if n == 0 || !p.Timestamp.Before(track[n-1].Timestamp) {
		m.tracks[p.VesselID] = append(track, p)
		return cloneTrackPoint(&p), nil
	}

	i := sort.Search(n, func(i int) bool {
		return track[i].Timestamp.After(p.Timestamp)
	})
	track = append(track, models.TrackPoint{})
	copy(track[i+1:], track[i:])
	track[i] = p
	m.tracks[p.VesselID] = track

	return cloneTrackPoint(&p), nil
}

// Track returns a chronological copy of the vessel's history.
func (m *Memory) Track(_ context.Context, vesselID int64) ([]models.TrackPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	track := m.tracks[vesselID]
	out := make([]models.TrackPoint, len(track))
	for i := range track {
		out[i] = cloneTrackPoint(&track[i])
	}
	return out, nil
}

// =========================================================================
// Zones
// =========================================================================

// Zones returns every zone ordered by id.
func (m *Memory) Zones(_ context.Context) ([]models.Zone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Zone, 0, len(m.zones))
	for _, z := range m.zones {
		out = append(out, *z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateZone stores a new zone.
func (m *Memory) CreateZone(_ context.Context, z models.Zone) (models.Zone, error) {
	if err := ValidateZone(&z); err != nil {
		return models.Zone{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextZoneID++
	z.ID = m.nextZoneID
	stored := z
	m.zones[z.ID] = &stored
	return z, nil
}

// UpdateZone merges patch into a zone.
func (m *Memory) UpdateZone(_ context.Context, id int64, patch models.ZonePatch) (models.Zone, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.zones[id]
	if !ok {
		return models.Zone{}, false, nil
	}
	next := *cur
	patch.Apply(&next)
	if err := ValidateZone(&next); err != nil {
		return models.Zone{}, true, err
	}
	m.zones[id] = &next
	return next, true, nil
}

// DeleteZone removes a zone.
func (m *Memory) DeleteZone(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.zones[id]; !ok {
		return false, nil
	}
	delete(m.zones, id)
	return true, nil
}

// =========================================================================
// Alerts
// =========================================================================

// Alerts returns every alert ordered by id.
func (m *Memory) Alerts(_ context.Context) ([]models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collectAlerts(func(*models.Alert) bool { return true }), nil
}

// VesselAlerts returns the alerts raised for one vessel.
func (m *Memory) VesselAlerts(_ context.Context, vesselID int64) ([]models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collectAlerts(func(a *models.Alert) bool {
		return a.VesselID != nil && *a.VesselID == vesselID
	}), nil
}

// CreateAlert stores a new alert stamped with the current time.
func (m *Memory) CreateAlert(_ context.Context, a models.Alert) (models.Alert, error) {
	if a.Message == "" {
		return models.Alert{}, fmt.Errorf("%w: alert message required", ErrInvalid)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextAlertID++
	a.ID = m.nextAlertID
	a.CreatedAt = m.now()
	stored := cloneAlert(&a)
	m.alerts[a.ID] = &stored
	return cloneAlert(&stored), nil
}

// UpdateAlert changes the mutable fields of an alert.
func (m *Memory) UpdateAlert(_ context.Context, id int64, patch models.AlertPatch) (models.Alert, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return models.Alert{}, false, nil
	}
	if patch.Active != nil {
		a.Active = *patch.Active
	}
	return cloneAlert(a), true, nil
}

// DeleteAlert removes an alert.
func (m *Memory) DeleteAlert(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.alerts[id]; !ok {
		return false, nil
	}
	delete(m.alerts, id)
	return true, nil
}

// =========================================================================
// Search
// =========================================================================

// Search matches name, registry id and station id case-insensitively.
func (m *Memory) Search(_ context.Context, query string) ([]models.Vessel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collectVessels(func(v *models.Vessel) bool { return MatchesQuery(v, query) }), nil
}

// Filter returns vessels matching every set field of f.
func (m *Memory) Filter(_ context.Context, f VesselFilter) ([]models.Vessel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collectVessels(f.Matches), nil
}

// =========================================================================
// Internal helpers (caller holds the lock)
// =========================================================================

func (m *Memory) byIndex(idx map[string]int64, key string) (models.Vessel, bool, error) {
	id, ok := idx[key]
	if !ok {
		return models.Vessel{}, false, nil
	}
	return cloneVessel(m.vessels[id]), true, nil
}

func (m *Memory) collectVessels(keep func(*models.Vessel) bool) []models.Vessel {
	out := make([]models.Vessel, 0, len(m.vessels))
	for _, v := range m.vessels {
		if keep(v) {
			out = append(out, cloneVessel(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) collectAlerts(keep func(*models.Alert) bool) []models.Alert {
	out := make([]models.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if keep(a) {
			out = append(out, cloneAlert(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneVessel(v *models.Vessel) models.Vessel {
	c := *v
	c.Heading = cloneFloat(v.Heading)
	c.Course = cloneFloat(v.Course)
	if v.ETA != nil {
		eta := *v.ETA
		c.ETA = &eta
	}
	return c
}

func cloneTrackPoint(p *models.TrackPoint) models.TrackPoint {
	c := *p
	c.Speed = cloneFloat(p.Speed)
	c.Heading = cloneFloat(p.Heading)
	return c
}

func cloneAlert(a *models.Alert) models.Alert {
	c := *a
	if a.VesselID != nil {
		id := *a.VesselID
		c.VesselID = &id
	}
	return c
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
