// Package analytics computes on-demand arrival predictions and historical
// track analysis from a point-in-time snapshot of the vessel store.
package analytics

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/yash/vesselwatch/internal/geo"
	"github.com/yash/vesselwatch/pkg/models"
)

// Reader is the slice of the store the analytics read from.
type Reader interface {
	Vessels(ctx context.Context) ([]models.Vessel, error)
	VesselByID(ctx context.Context, id int64) (models.Vessel, bool, error)
	Track(ctx context.Context, vesselID int64) ([]models.TrackPoint, error)
}

// knotsToKmh converts a speed in knots to km/h.
const knotsToKmh = 1.852

// ---------------------------------------------------------------------------
// Gazetteer
// ---------------------------------------------------------------------------

// Port is a named reference location. Radius is in metres.
type Port struct {
	Name   string
	Center models.Position
	Radius float64
}

// Contains reports whether p lies within the port radius.
func (pt Port) Contains(p models.Position) bool {
	return geo.Distance(p, pt.Center) <= pt.Radius
}

// Gazetteer resolves destination names to locations. Lookups are by exact
// name; containment checks walk the table in declaration order.
type Gazetteer struct {
	ports  []Port
	byName map[string]int
}

// NewGazetteer builds a gazetteer from ports. Later duplicates replace
// earlier ones.
func NewGazetteer(ports ...Port) *Gazetteer {
	g := &Gazetteer{byName: make(map[string]int, len(ports))}
	for _, p := range ports {
		if i, ok := g.byName[p.Name]; ok {
			g.ports[i] = p
			continue
		}
		g.byName[p.Name] = len(g.ports)
		g.ports = append(g.ports, p)
	}
	return g
}

// DefaultGazetteer returns the built-in table of major ports.
func DefaultGazetteer() *Gazetteer {
	return NewGazetteer(
		Port{"Port of Dubai", models.Position{Lat: 25.2048, Lon: 55.2708}, 5000},
		Port{"Jebel Ali Port", models.Position{Lat: 24.9964, Lon: 55.0136}, 7000},
		Port{"Port of London", models.Position{Lat: 51.5074, Lon: -0.1278}, 6000},
		Port{"Port of San Francisco", models.Position{Lat: 37.7749, Lon: -122.4194}, 5000},
		Port{"Port of Tokyo", models.Position{Lat: 35.6762, Lon: 139.6503}, 8000},
		Port{"Port of Miami", models.Position{Lat: 25.7617, Lon: -80.1918}, 4000},
		Port{"Port of Oslo", models.Position{Lat: 59.9139, Lon: 10.7522}, 3000},
		Port{"Singapore Port", models.Position{Lat: 1.3521, Lon: 103.8198}, 10000},
		Port{"Port of Rotterdam", models.Position{Lat: 51.9225, Lon: 4.4792}, 15000},
		Port{"Port of Shanghai", models.Position{Lat: 31.2304, Lon: 121.4737}, 12000},
	)
}

// Lookup returns the port with the given name.
func (g *Gazetteer) Lookup(name string) (Port, bool) {
	i, ok := g.byName[name]
	if !ok {
		return Port{}, false
	}
	return g.ports[i], true
}

// Containing returns the first port whose radius contains p.
func (g *Gazetteer) Containing(p models.Position) (Port, bool) {
	for _, pt := range g.ports {
		if pt.Contains(p) {
			return pt, true
		}
	}
	return Port{}, false
}

// Ports returns the table in declaration order.
func (g *Gazetteer) Ports() []Port {
	out := make([]Port, len(g.ports))
	copy(out, g.ports)
	return out
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// RandomSource returns values in [0,1). It feeds the placeholder terms
// (weather jitter, on-time performance) that stand in for external data.
type RandomSource func() float64

type options struct {
	gazetteer *Gazetteer
	now       func() time.Time
	random    RandomSource
}

// Option configures a predictor or analyzer.
type Option func(*options)

// WithGazetteer replaces the built-in port table.
func WithGazetteer(g *Gazetteer) Option {
	return func(o *options) { o.gazetteer = g }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRandom overrides the random source. Pass a constant function for
// reproducible output.
func WithRandom(r RandomSource) Option {
	return func(o *options) { o.random = r }
}

func buildOptions(opts []Option) options {
	o := options{
		gazetteer: DefaultGazetteer(),
		now:       time.Now,
		random:    rand.Float64,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// positions extracts the positions of a track.
func positions(track []models.TrackPoint) []models.Position {
	out := make([]models.Position, len(track))
	for i, p := range track {
		out[i] = p.Position
	}
	return out
}
