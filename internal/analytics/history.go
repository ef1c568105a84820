package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/yash/vesselwatch/internal/geo"
	"github.com/yash/vesselwatch/pkg/models"
)

// DefaultWindowDays is the lookback used when callers pass no window.
const DefaultWindowDays = 30

const (
	baseFuelEfficiency   = 80.0
	fuelPenaltyThreshold = 20.0 // knots
	longHaulKm           = 1000.0
	longHaulBonus        = 5.0
	fuelPerKm            = 0.5
)

// TimeRange is a closed time window. A zero bound is open on that side.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls within the range.
func (tr TimeRange) Contains(t time.Time) bool {
	if !tr.Start.IsZero() && t.Before(tr.Start) {
		return false
	}
	if !tr.End.IsZero() && t.After(tr.End) {
		return false
	}
	return true
}

// HistoryAnalyzer summarises vessel tracks.
type HistoryAnalyzer struct {
	store Reader
	opts  options
}

// NewHistoryAnalyzer creates an analyzer over store.
func NewHistoryAnalyzer(store Reader, opts ...Option) *HistoryAnalyzer {
	return &HistoryAnalyzer{store: store, opts: buildOptions(opts)}
}

// Analyze summarises the last days of the vessel's track (30 when days is
// not positive). ok is false when the vessel is unknown or fewer than two
// points fall in the window.
func (a *HistoryAnalyzer) Analyze(ctx context.Context, vesselID int64, days int) (models.HistoricalAnalysis, bool, error) {
	if days <= 0 {
		days = DefaultWindowDays
	}
	v, track, ok, err := a.load(ctx, vesselID)
	if err != nil || !ok {
		return models.HistoricalAnalysis{}, false, err
	}

	window := TimeRange{Start: a.opts.now().Add(-time.Duration(days) * 24 * time.Hour)}
	recent := make([]models.TrackPoint, 0, len(track))
	for _, p := range track {
		if window.Contains(p.Timestamp) {
			recent = append(recent, p)
		}
	}
	if len(recent) < 2 {
		return models.HistoricalAnalysis{}, false, nil
	}

	path := positions(recent)
	total := geo.PathLength(path) / 1000
	res := models.HistoricalAnalysis{
		VesselID:        v.ID,
		VesselName:      v.Name,
		TotalDistance:   total,
		RouteEfficiency: RouteEfficiency(path),
		PortsVisited:    a.portsVisited(recent),
		TimeAtPorts:     a.timeAtPorts(recent),
		SpeedProfile:    make([]models.SpeedSample, 0, len(recent)),
		HeadingChanges:  []models.HeadingSample{},
	}

	var sum float64
	var n int
	res.MinSpeed = math.Inf(1)
	for _, p := range recent {
		s := 0.0
		if p.Speed != nil {
			s = *p.Speed
			sum += s
			n++
			res.MaxSpeed = math.Max(res.MaxSpeed, s)
			res.MinSpeed = math.Min(res.MinSpeed, s)
		}
		res.SpeedProfile = append(res.SpeedProfile, models.SpeedSample{Timestamp: p.Timestamp, Speed: s, Position: p.Position})
		if p.Heading != nil {
			res.HeadingChanges = append(res.HeadingChanges, models.HeadingSample{Timestamp: p.Timestamp, Heading: *p.Heading, Position: p.Position})
		}
	}
	if n > 0 {
		res.AverageSpeed = sum / float64(n)
	} else {
		res.MinSpeed = 0
	}
	return res, true, nil
}

// Performance derives heuristic scores from the default-window analysis.
// OnTimePerformance is a placeholder drawn from the random source until
// schedule data is available.
func (a *HistoryAnalyzer) Performance(ctx context.Context, vesselID int64) (models.PerformanceMetrics, bool, error) {
	h, ok, err := a.Analyze(ctx, vesselID, DefaultWindowDays)
	if err != nil || !ok {
		return models.PerformanceMetrics{}, false, err
	}

	var portTime float64
	for _, hrs := range h.TimeAtPorts {
		portTime += hrs
	}
	return models.PerformanceMetrics{
		FuelEfficiency:    FuelEfficiency(h.AverageSpeed, h.TotalDistance),
		OnTimePerformance: a.opts.random() * 100,
		RouteAdherence:    h.RouteEfficiency,
		AveragePortTime:   portTime / math.Max(float64(len(h.TimeAtPorts)), 1),
	}, true, nil
}

// OptimizeRoute compares the travelled track with a direct leg from the
// current position to the destination. ok is false unless the vessel has a
// known destination and at least two track points.
func (a *HistoryAnalyzer) OptimizeRoute(ctx context.Context, vesselID int64) (models.RouteOptimization, bool, error) {
	v, track, ok, err := a.load(ctx, vesselID)
	if err != nil || !ok {
		return models.RouteOptimization{}, false, err
	}
	dest, ok := a.opts.gazetteer.Lookup(v.Destination)
	if v.Destination == "" || !ok || len(track) < 2 {
		return models.RouteOptimization{}, false, nil
	}

	current := positions(track)
	optimized := []models.Position{v.Position, dest.Center}
	currentKm := geo.PathLength(current) / 1000
	optimizedKm := geo.DistanceKm(v.Position, dest.Center)
	saved := currentKm - optimizedKm

	res := models.RouteOptimization{
		VesselID:       v.ID,
		CurrentRoute:   current,
		OptimizedRoute: optimized,
		FuelSaved:      saved * fuelPerKm,
	}
	if v.Speed > 0 {
		res.TimeSaved = saved / (v.Speed * knotsToKmh) * 60
	}
	if currentKm > 0 {
		res.Efficiency = optimizedKm / currentKm * 100
	}
	return res, true, nil
}

func (a *HistoryAnalyzer) load(ctx context.Context, vesselID int64) (models.Vessel, []models.TrackPoint, bool, error) {
	v, ok, err := a.store.VesselByID(ctx, vesselID)
	if err != nil {
		return models.Vessel{}, nil, false, fmt.Errorf("loading vessel %d: %w", vesselID, err)
	}
	if !ok {
		return models.Vessel{}, nil, false, nil
	}
	track, err := a.store.Track(ctx, vesselID)
	if err != nil {
		return models.Vessel{}, nil, false, fmt.Errorf("loading track for vessel %d: %w", vesselID, err)
	}
	return v, track, true, nil
}

// portsVisited lists every port containing at least one point, in order of
// first visit.
func (a *HistoryAnalyzer) portsVisited(track []models.TrackPoint) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, p := range track {
		for _, pt := range a.opts.gazetteer.ports {
			if !seen[pt.Name] && pt.Contains(p.Position) {
				seen[pt.Name] = true
				out = append(out, pt.Name)
			}
		}
	}
	return out
}

// timeAtPorts accumulates dwell hours per port by walking the track and
// detecting entry and exit edges. Moving straight from one port into
// another closes the first dwell. A dwell still open at the last point is
// counted up to that point.
func (a *HistoryAnalyzer) timeAtPorts(track []models.TrackPoint) map[string]float64 {
	out := make(map[string]float64)
	var (
		current string
		entered time.Time
	)
	closeDwell := func(at time.Time) {
		out[current] += at.Sub(entered).Hours()
		current = ""
	}

	for _, p := range track {
		pt, inPort := a.opts.gazetteer.Containing(p.Position)
		switch {
		case inPort && pt.Name != current:
			if current != "" {
				closeDwell(p.Timestamp)
			}
			current, entered = pt.Name, p.Timestamp
		case !inPort && current != "":
			closeDwell(p.Timestamp)
		}
	}
	if current != "" {
		closeDwell(track[len(track)-1].Timestamp)
	}
	return out
}

// RouteEfficiency is the direct distance between the endpoints as a
// percentage of the travelled path, or 0 for a path of zero length.
func RouteEfficiency(path []models.Position) float64 {
	if len(path) < 2 {
		return 0
	}
	total := geo.PathLength(path)
	if total <= 0 {
		return 0
	}
	return geo.Distance(path[0], path[len(path)-1]) / total * 100
}

// FuelEfficiency scores fuel use: 80, less two points per knot above 20,
// plus five for a voyage longer than 1000 km. Never negative.
func FuelEfficiency(avgSpeedKnots, totalKm float64) float64 {
	score := baseFuelEfficiency
	if avgSpeedKnots > fuelPenaltyThreshold {
		score -= (avgSpeedKnots - fuelPenaltyThreshold) * 2
	}
	if totalKm > longHaulKm {
		score += longHaulBonus
	}
	return math.Max(0, score)
}
