package models

import "time"

// Position is a WGS84 latitude/longitude pair in degrees.
type Position struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Valid reports whether the position lies within latitude [-90,90] and
// longitude [-180,180].
func (p Position) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// IsZero reports whether the position is the (0,0) placeholder AIS
// transceivers send before they have a fix.
func (p Position) IsZero() bool {
	return p.Lat == 0 && p.Lon == 0
}

// RiskLevel annotates a vessel record with an operator risk rating.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Vessel is the canonical record for one vessel, keyed by StationID.
type Vessel struct {
	ID             int64      `json:"id"`
	RegistryID     string     `json:"registryId"` // IMO-like
	StationID      string     `json:"stationId"`  // MMSI-like
	Name           string     `json:"name"`
	Type           string     `json:"type"`
	Flag           string     `json:"flag,omitempty"`
	Length         float64    `json:"length,omitempty"`
	Width          float64    `json:"width,omitempty"`
	Status         string     `json:"status"`
	Speed          float64    `json:"speed"` // knots
	Heading        *float64   `json:"heading,omitempty"`
	Course         *float64   `json:"course,omitempty"`
	Position       Position   `json:"position"`
	Destination    string     `json:"destination,omitempty"`
	ETA            *time.Time `json:"eta,omitempty"`
	LastUpdate     time.Time  `json:"lastUpdate"`
	RiskLevel      RiskLevel  `json:"riskLevel"`
	RiskAssessment string     `json:"riskAssessment,omitempty"`
}

// VesselPatch is a partial update. Nil fields are left untouched.
// RegistryID and StationID are fixed at creation and have no patch field.
type VesselPatch struct {
	Name           *string    `json:"name,omitempty"`
	Type           *string    `json:"type,omitempty"`
	Flag           *string    `json:"flag,omitempty"`
	Length         *float64   `json:"length,omitempty"`
	Width          *float64   `json:"width,omitempty"`
	Status         *string    `json:"status,omitempty"`
	Speed          *float64   `json:"speed,omitempty"`
	Heading        *float64   `json:"heading,omitempty"`
	Course         *float64   `json:"course,omitempty"`
	Position       *Position  `json:"position,omitempty"`
	Destination    *string    `json:"destination,omitempty"`
	ETA            *time.Time `json:"eta,omitempty"`
	RiskLevel      *RiskLevel `json:"riskLevel,omitempty"`
	RiskAssessment *string    `json:"riskAssessment,omitempty"`
}

// Apply merges the non-nil fields of p into v.
func (p VesselPatch) Apply(v *Vessel) {
	if p.Name != nil {
		v.Name = *p.Name
	}
	if p.Type != nil {
		v.Type = *p.Type
	}
	if p.Flag != nil {
		v.Flag = *p.Flag
	}
	if p.Length != nil {
		v.Length = *p.Length
	}
	if p.Width != nil {
		v.Width = *p.Width
	}
	if p.Status != nil {
		v.Status = *p.Status
	}
	if p.Speed != nil {
		v.Speed = *p.Speed
	}
	if p.Heading != nil {
		h := *p.Heading
		v.Heading = &h
	}
	if p.Course != nil {
		c := *p.Course
		v.Course = &c
	}
	if p.Position != nil {
		v.Position = *p.Position
	}
	if p.Destination != nil {
		v.Destination = *p.Destination
	}
	if p.ETA != nil {
		eta := *p.ETA
		v.ETA = &eta
	}
	if p.RiskLevel != nil {
		v.RiskLevel = *p.RiskLevel
	}
	if p.RiskAssessment != nil {
		v.RiskAssessment = *p.RiskAssessment
	}
}

// TrackPoint is one immutable sample of a vessel's movement history.
type TrackPoint struct {
	ID        int64     `json:"id"`
	VesselID  int64     `json:"vesselId"`
	Position  Position  `json:"position"`
	Timestamp time.Time `json:"timestamp"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
}

// ZoneKind classifies a geofence.
type ZoneKind string

const (
	ZonePort       ZoneKind = "port"
	ZoneRestricted ZoneKind = "restricted"
	ZoneMonitoring ZoneKind = "monitoring"
)

// Zone is a circular geofence. Radius is in metres.
type Zone struct {
	ID     int64    `json:"id"`
	Name   string   `json:"name"`
	Kind   ZoneKind `json:"kind"`
	Center Position `json:"center"`
	Radius float64  `json:"radius"`
	Active bool     `json:"active"`
}

// ZonePatch is a partial zone update.
type ZonePatch struct {
	Name   *string   `json:"name,omitempty"`
	Kind   *ZoneKind `json:"kind,omitempty"`
	Center *Position `json:"center,omitempty"`
	Radius *float64  `json:"radius,omitempty"`
	Active *bool     `json:"active,omitempty"`
}

// Apply merges the non-nil fields of p into z.
func (p ZonePatch) Apply(z *Zone) {
	if p.Name != nil {
		z.Name = *p.Name
	}
	if p.Kind != nil {
		z.Kind = *p.Kind
	}
	if p.Center != nil {
		z.Center = *p.Center
	}
	if p.Radius != nil {
		z.Radius = *p.Radius
	}
	if p.Active != nil {
		z.Active = *p.Active
	}
}

// Severity grades an alert.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityHigh    Severity = "high"
)

// Alert is a persisted notification. Only Active changes after creation.
type Alert struct {
	ID        int64     `json:"id"`
	VesselID  *int64    `json:"vesselId,omitempty"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// AlertPatch is a partial alert update.
type AlertPatch struct {
	Active *bool `json:"active,omitempty"`
}

// Transition is the kind of geofence event a position update produced.
type Transition string

const (
	TransitionEntry     Transition = "entry"
	TransitionExit      Transition = "exit"
	TransitionViolation Transition = "violation"
)

// ---------------------------------------------------------------------------
// Analytics results (computed on demand, never stored)
// ---------------------------------------------------------------------------

// ETAPrediction is an arrival estimate for a vessel's declared destination.
type ETAPrediction struct {
	VesselID          int64     `json:"vesselId"`
	Destination       string    `json:"destination"`
	EstimatedArrival  time.Time `json:"estimatedArrival"`
	Confidence        float64   `json:"confidence"`
	RemainingDistance float64   `json:"remainingDistance"` // km
	AverageSpeed      float64   `json:"averageSpeed"`      // knots
	WeatherImpact     float64   `json:"weatherImpact"`     // hours
}

// SpeedSample is one point of a speed profile.
type SpeedSample struct {
	Timestamp time.Time `json:"timestamp"`
	Speed     float64   `json:"speed"`
	Position  Position  `json:"position"`
}

// HeadingSample is one point of a heading profile.
type HeadingSample struct {
	Timestamp time.Time `json:"timestamp"`
	Heading   float64   `json:"heading"`
	Position  Position  `json:"position"`
}

// HistoricalAnalysis summarises a vessel's track over a lookback window.
type HistoricalAnalysis struct {
	VesselID        int64              `json:"vesselId"`
	VesselName      string             `json:"vesselName"`
	TotalDistance   float64            `json:"totalDistance"` // km
	AverageSpeed    float64            `json:"averageSpeed"`
	MaxSpeed        float64            `json:"maxSpeed"`
	MinSpeed        float64            `json:"minSpeed"`
	RouteEfficiency float64            `json:"routeEfficiency"` // percent
	PortsVisited    []string           `json:"portsVisited"`
	TimeAtPorts     map[string]float64 `json:"timeAtPorts"` // hours
	SpeedProfile    []SpeedSample      `json:"speedProfile"`
	HeadingChanges  []HeadingSample    `json:"headingChanges"`
}

// PerformanceMetrics are heuristic scores derived from a HistoricalAnalysis.
type PerformanceMetrics struct {
	FuelEfficiency    float64 `json:"fuelEfficiency"`
	OnTimePerformance float64 `json:"onTimePerformance"`
	RouteAdherence    float64 `json:"routeAdherence"`
	AveragePortTime   float64 `json:"averagePortTime"`
}

// RouteOptimization compares the travelled route with a direct one.
type RouteOptimization struct {
	VesselID       int64      `json:"vesselId"`
	CurrentRoute   []Position `json:"currentRoute"`
	OptimizedRoute []Position `json:"optimizedRoute"`
	TimeSaved      float64    `json:"timeSaved"` // minutes
	FuelSaved      float64    `json:"fuelSaved"`
	Efficiency     float64    `json:"efficiency"`
}
