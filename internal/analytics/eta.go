package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/yash/vesselwatch/internal/geo"
	"github.com/yash/vesselwatch/pkg/models"
)

const (
	defaultSpeedKnots = 10.0
	minTransitKnots   = 0.1 // floor for the travel-time divisor
	slowSpeedKnots    = 5.0
	slowSpeedDelay    = 2.0 // hours
	maxWeatherJitter  = 2.0 // hours

	minConfidence   = 0.1
	maxConfidence   = 0.95
	sparseTrackSize = 5
)

// statusDelay is the heuristic weather/operational delay, in hours, per
// navigational status. Statuses not listed contribute nothing.
var statusDelay = map[string]float64{
	"Under Way":                  0,
	"Anchored":                   2,
	"Restricted Manoeuvrability": 4,
	"Constrained by Draught":     3,
	"Aground":                    24,
	"Engaged in Fishing":         1,
}

// ETAPredictor estimates arrival at a vessel's declared destination.
type ETAPredictor struct {
	store Reader
	opts  options
}

// NewETAPredictor creates a predictor over store.
func NewETAPredictor(store Reader, opts ...Option) *ETAPredictor {
	return &ETAPredictor{store: store, opts: buildOptions(opts)}
}

// Predict returns an arrival estimate for the vessel. ok is false when the
// vessel is unknown, has no destination the gazetteer resolves, or has
// fewer than two track points. Errors are store faults only.
func (p *ETAPredictor) Predict(ctx context.Context, vesselID int64) (models.ETAPrediction, bool, error) {
	v, ok, err := p.store.VesselByID(ctx, vesselID)
	if err != nil {
		return models.ETAPrediction{}, false, fmt.Errorf("loading vessel %d: %w", vesselID, err)
	}
	if !ok {
		return models.ETAPrediction{}, false, nil
	}
	return p.predict(ctx, v)
}

func (p *ETAPredictor) predict(ctx context.Context, v models.Vessel) (models.ETAPrediction, bool, error) {
	if v.Destination == "" {
		return models.ETAPrediction{}, false, nil
	}
	dest, ok := p.opts.gazetteer.Lookup(v.Destination)
	if !ok {
		return models.ETAPrediction{}, false, nil
	}
	track, err := p.store.Track(ctx, v.ID)
	if err != nil {
		return models.ETAPrediction{}, false, fmt.Errorf("loading track for vessel %d: %w", v.ID, err)
	}
	if len(track) < 2 {
		return models.ETAPrediction{}, false, nil
	}

	avg := AverageSpeed(track)
	remaining := geo.DistanceKm(v.Position, dest.Center)
	hours := remaining / (math.Max(avg, minTransitKnots) * knotsToKmh)
	weather := p.weatherImpact(v.Status, avg)

	eta := p.opts.now().Add(hoursToDuration(hours + weather))
	return models.ETAPrediction{
		VesselID:          v.ID,
		Destination:       v.Destination,
		EstimatedArrival:  eta,
		Confidence:        Confidence(track, avg),
		RemainingDistance: remaining,
		AverageSpeed:      avg,
		WeatherImpact:     weather,
	}, true, nil
}

// PredictAll returns predictions for every vessel under way with a
// destination. Vessels without a usable prediction are skipped.
func (p *ETAPredictor) PredictAll(ctx context.Context) ([]models.ETAPrediction, error) {
	vessels, err := p.store.Vessels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing vessels: %w", err)
	}
	var out []models.ETAPrediction
	for _, v := range vessels {
		if v.Destination == "" || v.Status != "Under Way" {
			continue
		}
		pred, ok, err := p.predict(ctx, v)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, pred)
		}
	}
	return out, nil
}

// weatherImpact is a placeholder for real weather data: a status delay,
// a slow-vessel penalty and up to two hours of jitter.
func (p *ETAPredictor) weatherImpact(status string, avgSpeed float64) float64 {
	delay := statusDelay[status]
	if avgSpeed < slowSpeedKnots {
		delay += slowSpeedDelay
	}
	return delay + p.opts.random()*maxWeatherJitter
}

// AverageSpeed is the mean of pair-averaged consecutive speeds, counting
// only pairs where both samples carry a non-zero speed. It falls back to
// 10 knots when no pair qualifies.
func AverageSpeed(track []models.TrackPoint) float64 {
	var total float64
	var n int
	for i := 1; i < len(track); i++ {
		a, b := track[i-1].Speed, track[i].Speed
		if a == nil || b == nil || *a == 0 || *b == 0 {
			continue
		}
		total += (*a + *b) / 2
		n++
	}
	if n == 0 {
		return defaultSpeedKnots
	}
	return total / float64(n)
}

// Confidence scores how steady the vessel's speed has been, in
// [0.1, 0.95]. Short tracks score 0.3; tracks without speeds score 0.5.
func Confidence(track []models.TrackPoint, avgSpeed float64) float64 {
	if len(track) < sparseTrackSize {
		return 0.3
	}
	var dev float64
	var n int
	for _, p := range track {
		if p.Speed == nil || *p.Speed == 0 {
			continue
		}
		dev += math.Abs(*p.Speed - avgSpeed)
		n++
	}
	if n == 0 {
		return 0.5
	}
	if avgSpeed <= 0 {
		return minConfidence
	}
	consistency := math.Max(0, 1-(dev/float64(n))/avgSpeed)
	return math.Min(maxConfidence, math.Max(minConfidence, consistency*0.8+0.2))
}

// hoursToDuration converts h to a Duration, saturating instead of
// overflowing.
func hoursToDuration(h float64) time.Duration {
	switch d := h * float64(time.Hour); {
	case d <= 0 || math.IsNaN(d):
		return 0
	case d >= math.MaxInt64:
		return time.Duration(math.MaxInt64)
	default:
		return time.Duration(d)
	}
}
