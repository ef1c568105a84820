package ingest

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yash/vesselwatch/internal/metrics"
	"github.com/yash/vesselwatch/pkg/models"
)

// ---------------------------------------------------------------------------
// Staged fields
// ---------------------------------------------------------------------------

// staged is the last-known merged view of one station's reports. Callers
// hold the station's lock while reading or writing it.
type staged struct {
	position *models.Position
	speed    *float64
	heading  *float64
	course   *float64
	status   string

	name        string
	typ         string
	flag        string
	length      float64
	width       float64
	destination string
	eta         *time.Time

	// latestFix is the source timestamp of the newest applied position.
	// fixLoaded is set once latestFix reflects the stored history, which
	// matters for entries recreated after eviction.
	latestFix time.Time
	fixLoaded bool
	seen      time.Time
}

func (s *staged) mergePosition(r *PositionReport) {
	p := r.Position
	s.position = &p
	s.speed = r.Speed
	s.heading = r.Heading
	s.course = r.Course
	s.status = NavStatusName(r.NavStatus)
	s.latestFix = r.Timestamp
}

// mergeKinematics keeps the non-positional fields of a report whose
// position is missing.
func (s *staged) mergeKinematics(r *PositionReport) {
	s.speed = r.Speed
	s.heading = r.Heading
	s.course = r.Course
	s.status = NavStatusName(r.NavStatus)
}

func (s *staged) mergeIdentity(r *IdentityReport) {
	if name := strings.TrimSpace(r.Name); name != "" {
		s.name = name
	}
	s.typ = VesselTypeName(r.TypeCode)
	if cs := strings.TrimSpace(r.CallSign); cs != "" {
		s.flag = cs
	}
	if l := r.Dimensions.Length(); l > 0 {
		s.length = l
	}
	if w := r.Dimensions.Width(); w > 0 {
		s.width = w
	}
	if dest := strings.TrimSpace(r.Destination); dest != "" {
		s.destination = dest
	}
	if r.ETA != nil {
		eta := *r.ETA
		s.eta = &eta
	}
}

// identityPatch holds only the descriptive fields known so far.
func (s *staged) identityPatch() models.VesselPatch {
	var p models.VesselPatch
	if s.name != "" {
		p.Name = strPtr(s.name)
	}
	if s.typ != "" {
		p.Type = strPtr(s.typ)
	}
	if s.flag != "" {
		p.Flag = strPtr(s.flag)
	}
	if s.length > 0 {
		p.Length = floatPtr(s.length)
	}
	if s.width > 0 {
		p.Width = floatPtr(s.width)
	}
	if s.destination != "" {
		p.Destination = strPtr(s.destination)
	}
	if s.eta != nil {
		eta := *s.eta
		p.ETA = &eta
	}
	return p
}

// fullPatch adds the kinematic fields to identityPatch.
func (s *staged) fullPatch() models.VesselPatch {
	p := s.identityPatch()
	if s.position != nil {
		pos := *s.position
		p.Position = &pos
	}
	speed := 0.0
	if s.speed != nil {
		speed = *s.speed
	}
	p.Speed = &speed
	p.Heading = s.heading
	p.Course = s.course
	if s.status != "" {
		p.Status = strPtr(s.status)
	}
	return p
}

// newVessel builds the record created on a station's first usable fix.
func (s *staged) newVessel(stationID string) models.Vessel {
	v := models.Vessel{
		StationID:      stationID,
		RegistryID:     "IMO" + stationID,
		Name:           "Vessel " + stationID,
		Type:           "Unknown",
		Status:         "Unknown",
		RiskLevel:      models.RiskLow,
		RiskAssessment: "Real-time AIS data",
	}
	s.fullPatch().Apply(&v)
	return v
}

func strPtr(s string) *string      { return &s }
func floatPtr(f float64) *float64 { return &f }

// ---------------------------------------------------------------------------
// Staging cache with idle expiry
// ---------------------------------------------------------------------------

// Staging holds the per-station merge state. Entries idle for longer than
// the TTL are evicted by Sweep; eviction never touches stored records.
type Staging struct {
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*staged

	totalEvicted atomic.Int64
	lastSweep    atomic.Int64 // unix seconds
}

// NewStaging creates a staging cache. ttl <= 0 disables expiry.
func NewStaging(ttl time.Duration, logger *slog.Logger) *Staging {
	if logger == nil {
		logger = slog.Default()
	}
	return &Staging{
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
		entries: make(map[string]*staged),
	}
}

// get returns the entry for station, creating it if needed, and marks it
// active.
func (s *Staging) get(station string) *staged {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[station]
	if !ok {
		e = &staged{}
		s.entries[station] = e
		metrics.StagingEntries.Inc()
	}
	e.seen = s.now()
	return e
}

// Len returns the number of staged stations.
func (s *Staging) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep evicts entries idle since before now-TTL and returns how many were
// removed.
func (s *Staging) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	evicted := 0
	for station, e := range s.entries {
		if e.seen.Before(cutoff) {
			delete(s.entries, station)
			evicted++
		}
	}
	s.mu.Unlock()

	s.lastSweep.Store(s.now().Unix())
	if evicted > 0 {
		s.totalEvicted.Add(int64(evicted))
		metrics.StagingEntries.Add(-float64(evicted))
		metrics.StagingEvicted.Add(int64(evicted))
		s.logger.Debug("staging sweep", "evicted", evicted)
	}
	return evicted
}

// Run sweeps periodically until ctx is done. The interval is a twelfth of
// the TTL, clamped to [1m, 30m].
func (s *Staging) Run(ctx context.Context) error {
	if s.ttl <= 0 {
		s.logger.Info("staging expiry disabled")
		<-ctx.Done()
		return nil
	}

	interval := s.ttl / 12
	if interval < time.Minute {
		interval = time.Minute
	}
	if interval > 30*time.Minute {
		interval = 30 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// StagingStats summarises the cache.
type StagingStats struct {
	Entries      int       `json:"entries"`
	TotalEvicted int64     `json:"totalEvicted"`
	LastSweep    time.Time `json:"lastSweep"`
	TTL          string    `json:"ttl"`
}

// Stats returns a snapshot of cache statistics.
func (s *Staging) Stats() StagingStats {
	return StagingStats{
		Entries:      s.Len(),
		TotalEvicted: s.totalEvicted.Load(),
		LastSweep:    time.Unix(s.lastSweep.Load(), 0),
		TTL:          s.ttl.String(),
	}
}
