package api

import (
	"net/http"
	"strconv"

	"github.com/yash/vesselwatch/internal/service"
	"github.com/yash/vesselwatch/internal/store"
	"github.com/yash/vesselwatch/pkg/models"
)

// ---------------------------------------------------------------------------
// Vessels
// ---------------------------------------------------------------------------

func (s *Server) handleListVessels(w http.ResponseWriter, r *http.Request) {
	vessels, err := s.tracker.Vessels(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vessels)
}

func (s *Server) handleGetVessel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.tracker.Vessel(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleCreateVessel(w http.ResponseWriter, r *http.Request) {
	var v models.Vessel
	if err := decodeBody(r, &v); err != nil {
		s.writeError(w, r, err)
		return
	}
	v.ID = 0
	created, err := s.tracker.CreateVessel(r.Context(), v)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateVessel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var patch models.VesselPatch
	if err := decodeBody(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.tracker.UpdateVessel(r.Context(), id, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDeleteVessel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.tracker.DeleteVessel(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTrail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	track, err := s.tracker.Track(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

func (s *Server) handleVesselAlerts(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	alerts, err := s.tracker.VesselAlerts(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	vessels, err := s.tracker.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vessels)
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	vessels, err := s.tracker.Filter(r.Context(), store.VesselFilter{Type: q.Get("type"), Status: q.Get("status")})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vessels)
}

// ---------------------------------------------------------------------------
// Analytics
// ---------------------------------------------------------------------------

// analyticsHandler adapts a per-vessel analytics call.
func analyticsHandler[T any](s *Server, fn func(r *http.Request, id int64) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		res, err := fn(r, id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleETA(w http.ResponseWriter, r *http.Request) {
	analyticsHandler(s, func(r *http.Request, id int64) (models.ETAPrediction, error) {
		return s.tracker.ETA(r.Context(), id)
	})(w, r)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, service.ErrInvalid)
			return
		}
		days = n
	}
	analyticsHandler(s, func(r *http.Request, id int64) (models.HistoricalAnalysis, error) {
		return s.tracker.History(r.Context(), id, days)
	})(w, r)
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	analyticsHandler(s, func(r *http.Request, id int64) (models.PerformanceMetrics, error) {
		return s.tracker.Performance(r.Context(), id)
	})(w, r)
}

func (s *Server) handleRouteOptimization(w http.ResponseWriter, r *http.Request) {
	analyticsHandler(s, func(r *http.Request, id int64) (models.RouteOptimization, error) {
		return s.tracker.RouteOptimization(r.Context(), id)
	})(w, r)
}

func (s *Server) handleAllETAs(w http.ResponseWriter, r *http.Request) {
	preds, err := s.tracker.ETAs(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if preds == nil {
		preds = []models.ETAPrediction{}
	}
	writeJSON(w, http.StatusOK, preds)
}

// ---------------------------------------------------------------------------
// Zones and alerts
// ---------------------------------------------------------------------------

func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	zones, err := s.tracker.Zones(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, zones)
}

func (s *Server) handleCreateZone(w http.ResponseWriter, r *http.Request) {
	var z models.Zone
	if err := decodeBody(r, &z); err != nil {
		s.writeError(w, r, err)
		return
	}
	z.ID = 0
	created, err := s.tracker.CreateZone(r.Context(), z)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleZonesNear(w http.ResponseWriter, r *http.Request) {
	lat, err := queryFloat(r, "lat")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lon, err := queryFloat(r, "lon")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	radius, err := queryFloat(r, "radius")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	zones, err := s.tracker.ZonesNear(r.Context(), models.Position{Lat: lat, Lon: lon}, radius)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, zones)
}

func (s *Server) handleMemberships(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Memberships())
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.tracker.Alerts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var a models.Alert
	if err := decodeBody(r, &a); err != nil {
		s.writeError(w, r, err)
		return
	}
	a.ID = 0
	created, err := s.tracker.CreateAlert(r.Context(), a)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.tracker.ResolveAlert(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
