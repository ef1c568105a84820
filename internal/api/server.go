// Package api maps the tracker's query surface and the event stream onto
// HTTP.
package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/yash/vesselwatch/internal/events"
	"github.com/yash/vesselwatch/internal/metrics"
	"github.com/yash/vesselwatch/internal/service"
	"github.com/yash/vesselwatch/internal/store"
)

// Subscriber hands out event subscriptions to streaming clients.
type Subscriber interface {
	Subscribe(buffer int) *events.Subscription
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithFeedState reports the upstream connection state on /health.
func WithFeedState(fn func() string) Option {
	return func(s *Server) { s.feedState = fn }
}

// WithStreamBuffer sets the per-client event queue length.
func WithStreamBuffer(n int) Option {
	return func(s *Server) { s.streamBuffer = n }
}

// Server serves the REST API, the event streams and the operational
// endpoints.
type Server struct {
	tracker *service.Tracker
	events  Subscriber
	logger  *slog.Logger

	feedState    func() string
	streamBuffer int
	startTime    time.Time
	ready        atomic.Bool
}

// NewServer creates a server. It reports not-ready until SetReady(true).
func NewServer(t *service.Tracker, sub Subscriber, opts ...Option) *Server {
	s := &Server{
		tracker:      t,
		events:       sub,
		logger:       slog.Default(),
		streamBuffer: events.DefaultBuffer,
		startTime:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetReady flips the readiness probe.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Handler returns the routed handler wrapped in request metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Operational
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /live", s.handleLive)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	// Vessels (literal segments before {id})
	mux.HandleFunc("GET /api/vessels", s.handleListVessels)
	mux.HandleFunc("POST /api/vessels", s.handleCreateVessel)
	mux.HandleFunc("GET /api/vessels/search", s.handleSearch)
	mux.HandleFunc("GET /api/vessels/filter", s.handleFilter)
	mux.HandleFunc("GET /api/vessels/{id}", s.handleGetVessel)
	mux.HandleFunc("PUT /api/vessels/{id}", s.handleUpdateVessel)
	mux.HandleFunc("DELETE /api/vessels/{id}", s.handleDeleteVessel)
	mux.HandleFunc("GET /api/vessels/{id}/trail", s.handleTrail)
	mux.HandleFunc("GET /api/vessels/{id}/alerts", s.handleVesselAlerts)

	// Analytics
	mux.HandleFunc("GET /api/eta", s.handleAllETAs)
	mux.HandleFunc("GET /api/vessels/{id}/eta", s.handleETA)
	mux.HandleFunc("GET /api/vessels/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /api/vessels/{id}/performance", s.handlePerformance)
	mux.HandleFunc("GET /api/vessels/{id}/route-optimization", s.handleRouteOptimization)

	// Zones and alerts
	mux.HandleFunc("GET /api/zones", s.handleListZones)
	mux.HandleFunc("POST /api/zones", s.handleCreateZone)
	mux.HandleFunc("GET /api/zones/near", s.handleZonesNear)
	mux.HandleFunc("GET /api/zones/memberships", s.handleMemberships)
	mux.HandleFunc("GET /api/alerts", s.handleListAlerts)
	mux.HandleFunc("POST /api/alerts", s.handleCreateAlert)
	mux.HandleFunc("POST /api/alerts/{id}/resolve", s.handleResolveAlert)

	// Event streams
	mux.HandleFunc("GET /api/events", s.handleSSE)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return s.metricsMiddleware(mux)
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// statusRecorder captures the response code while keeping the streaming
// interfaces of the underlying writer reachable.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.ActiveConnections.Inc()
		defer metrics.ActiveConnections.Dec()

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		metrics.HTTPRequests.Inc(strconv.Itoa(rec.status))
		metrics.HTTPLatency.ObserveSince(start)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "elapsed", time.Since(start))
	})
}

// ---------------------------------------------------------------------------
// Operational handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.startTime).String(),
	}
	if s.feedState != nil {
		health["feed"] = s.feedState()
	}
	code := http.StatusOK
	if !s.ready.Load() {
		health["status"] = "starting"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready.Load() {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("not ready"))
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("alive"))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	metrics.Default().WriteTo(w)
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto status codes: absent entities are
// 404, entities without enough data for a derived result are 204, bad
// input is 400 and identity collisions are 409.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{err.Error()})
	case errors.Is(err, service.ErrUnavailable):
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, service.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, errorBody{err.Error()})
	case errors.Is(err, store.ErrDuplicateKey):
		writeJSON(w, http.StatusConflict, errorBody{err.Error()})
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{"internal error"})
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad id %q", service.ErrInvalid, r.PathValue("id"))
	}
	return id, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", service.ErrInvalid, err)
	}
	return nil
}

func queryFloat(r *http.Request, key string) (float64, error) {
	v, err := strconv.ParseFloat(r.URL.Query().Get(key), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: query parameter %s", service.ErrInvalid, key)
	}
	return v, nil
}
