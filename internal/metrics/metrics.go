// Package metrics is a small Prometheus text-format registry.
package metrics

import (
	"fmt"
	"io"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry holds all application metrics.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	vecs     map[string]*CounterVec
	gauges   map[string]*Gauge
	histos   map[string]*Histogram

	startTime time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:  make(map[string]*Counter),
		vecs:      make(map[string]*CounterVec),
		gauges:    make(map[string]*Gauge),
		histos:    make(map[string]*Histogram),
		startTime: time.Now(),
	}
}

// Counter returns or creates a counter metric.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{name: name, help: help}
	r.counters[name] = c
	return c
}

// CounterVec returns or creates a counter family partitioned by one label.
func (r *Registry) CounterVec(name, help, label string) *CounterVec {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.vecs[name]; ok {
		return v
	}
	v := &CounterVec{name: name, help: help, label: label, values: make(map[string]*atomic.Int64)}
	r.vecs[name] = v
	return v
}

// Gauge returns or creates a gauge metric.
func (r *Registry) Gauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := &Gauge{name: name, help: help}
	r.gauges[name] = g
	return g
}

// Histogram returns or creates a histogram metric.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.histos[name]; ok {
		return h
	}
	h := NewHistogram(name, help, buckets)
	r.histos[name] = h
	return h
}

// WriteTo writes every metric in Prometheus text format, sorted by name.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, r.Export())
	return int64(n), err
}

// Export returns all metrics in Prometheus text format.
func (r *Registry) Export() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	writeGauge(&b, "go_memstats_heap_alloc_bytes", "Number of heap bytes allocated and still in use.", float64(mem.HeapAlloc))
	writeGauge(&b, "go_goroutines", "Number of goroutines.", float64(runtime.NumGoroutine()))
	writeGauge(&b, "process_uptime_seconds", "Time since process start.", time.Since(r.startTime).Seconds())

	for _, name := range sortedKeys(r.counters) {
		c := r.counters[name]
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", c.name, c.help, c.name, c.name, c.Value())
	}
	for _, name := range sortedKeys(r.vecs) {
		r.vecs[name].export(&b)
	}
	for _, name := range sortedKeys(r.gauges) {
		g := r.gauges[name]
		writeGauge(&b, g.name, g.help, g.Get())
	}
	for _, name := range sortedKeys(r.histos) {
		b.WriteString(r.histos[name].Export())
	}
	return b.String()
}

func writeGauge(b *strings.Builder, name, help string, v float64) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n", name, help, name, name, v)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ---------------------------------------------------------------------------
// Counter
// ---------------------------------------------------------------------------

// Counter is a monotonically increasing metric.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	c.value.Add(1)
}

// Add adds v to the counter.
func (c *Counter) Add(v int64) {
	c.value.Add(v)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return c.value.Load()
}

// CounterVec is a set of counters sharing a name, keyed by one label value.
type CounterVec struct {
	name   string
	help   string
	label  string
	mu     sync.Mutex
	values map[string]*atomic.Int64
}

// Inc increments the counter for the given label value.
func (v *CounterVec) Inc(labelValue string) {
	v.mu.Lock()
	c, ok := v.values[labelValue]
	if !ok {
		c = new(atomic.Int64)
		v.values[labelValue] = c
	}
	v.mu.Unlock()
	c.Add(1)
}

// Value returns the counter for the given label value.
func (v *CounterVec) Value(labelValue string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if c, ok := v.values[labelValue]; ok {
		return c.Load()
	}
	return 0
}

func (v *CounterVec) export(b *strings.Builder) {
	v.mu.Lock()
	defer v.mu.Unlock()

	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s counter\n", v.name, v.help, v.name)
	for _, lv := range sortedKeys(v.values) {
		fmt.Fprintf(b, "%s{%s=%q} %d\n", v.name, v.label, lv, v.values[lv].Load())
	}
}

// ---------------------------------------------------------------------------
// Gauge
// ---------------------------------------------------------------------------

// Gauge is a metric that can go up and down.
type Gauge struct {
	name string
	help string
	bits atomic.Uint64
}

// Set sets the gauge to v.
func (g *Gauge) Set(v float64) {
	g.bits.Store(math.Float64bits(v))
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	g.Add(1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	g.Add(-1)
}

// Add adds v to the gauge.
func (g *Gauge) Add(v float64) {
	for {
		old := g.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + v)
		if g.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

// Get returns the current gauge value.
func (g *Gauge) Get() float64 {
	return math.Float64frombits(g.bits.Load())
}

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// Histogram tracks value distributions over fixed cumulative buckets.
type Histogram struct {
	name    string
	help    string
	buckets []float64
	counts  []atomic.Int64
	sum     atomic.Int64 // micro-units
	count   atomic.Int64
}

// NewHistogram creates a histogram with the given upper bounds.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	return &Histogram{
		name:    name,
		help:    help,
		buckets: buckets,
		counts:  make([]atomic.Int64, len(buckets)),
	}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i].Add(1)
		}
	}
	h.sum.Add(int64(v * 1e6))
	h.count.Add(1)
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	return h.count.Load()
}

// Export returns the histogram in Prometheus format.
func (h *Histogram) Export() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
	for i, bound := range h.buckets {
		fmt.Fprintf(&b, "%s_bucket{le=\"%g\"} %d\n", h.name, bound, h.counts[i].Load())
	}
	fmt.Fprintf(&b, "%s_bucket{le=\"+Inf\"} %d\n", h.name, h.count.Load())
	fmt.Fprintf(&b, "%s_sum %f\n", h.name, float64(h.sum.Load())/1e6)
	fmt.Fprintf(&b, "%s_count %d\n", h.name, h.count.Load())
	return b.String()
}

// ---------------------------------------------------------------------------
// Default registry and application metrics
// ---------------------------------------------------------------------------

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

var (
	// Ingestion
	ReportsReceived = defaultRegistry.Counter("vesselwatch_reports_received_total", "Upstream frames received")
	ReportsDropped  = defaultRegistry.Counter("vesselwatch_reports_dropped_total", "Malformed or unsupported frames dropped")
	ReportsFailed   = defaultRegistry.Counter("vesselwatch_reports_failed_total", "Reports aborted by a store error")
	ReportLatency   = defaultRegistry.Histogram("vesselwatch_report_latency_seconds", "Time to reconcile one report", []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5})
	StagingEntries  = defaultRegistry.Gauge("vesselwatch_staging_entries", "Station ids held in the staging cache")
	StagingEvicted  = defaultRegistry.Counter("vesselwatch_staging_evicted_total", "Staging entries evicted after the idle TTL")

	// Store
	VesselsCreated      = defaultRegistry.Counter("vesselwatch_vessels_created_total", "Vessel records created")
	TrackPointsAppended = defaultRegistry.Counter("vesselwatch_track_points_total", "Track points appended")

	// Geofencing
	GeofenceTransitions = defaultRegistry.CounterVec("vesselwatch_geofence_transitions_total", "Geofence transitions by kind", "kind")

	// Fan-out
	Observers        = defaultRegistry.Gauge("vesselwatch_observers", "Subscribed event observers")
	ObserversDropped = defaultRegistry.Counter("vesselwatch_observers_dropped_total", "Observers dropped for a full queue")
	EventsPublished  = defaultRegistry.Counter("vesselwatch_events_published_total", "Events published")

	// Upstream feed
	FeedConnects   = defaultRegistry.Counter("vesselwatch_feed_connects_total", "Successful upstream connections")
	FeedReconnects = defaultRegistry.Counter("vesselwatch_feed_reconnect_attempts_total", "Upstream reconnect attempts")
	FeedConnected  = defaultRegistry.Gauge("vesselwatch_feed_connected", "1 while the upstream feed is connected")

	// HTTP
	HTTPRequests      = defaultRegistry.CounterVec("vesselwatch_http_requests_total", "HTTP requests by status code", "code")
	HTTPLatency       = defaultRegistry.Histogram("vesselwatch_http_latency_seconds", "HTTP request latency", []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1})
	ActiveConnections = defaultRegistry.Gauge("vesselwatch_active_connections", "In-flight HTTP requests")
)
