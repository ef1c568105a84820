// Package ingest turns upstream AIS frames into vessel records, track history
// and geofence evaluations.
package ingest

import (
	"time"

	"github.com/yash/vesselwatch/pkg/models"
)

// Report is a decoded upstream report: *PositionReport or *IdentityReport.
type Report interface {
	Station() string
	report()
}

// PositionReport carries a vessel's kinematic state.
type PositionReport struct {
	StationID string
	Position  models.Position
	Speed     *float64 // knots
	Heading   *float64
	Course    *float64
	NavStatus int
	Timestamp time.Time
}

// Station returns the reporting station id.
func (r *PositionReport) Station() string { return r.StationID }
func (*PositionReport) report()           {}

// Dimensions are the AIS reference-point offsets in metres: A bow, B stern,
// C port, D starboard.
type Dimensions struct {
	A, B, C, D float64
}

// Length returns A+B.
func (d Dimensions) Length() float64 { return d.A + d.B }

// Width returns C+D.
func (d Dimensions) Width() float64 { return d.C + d.D }

// IdentityReport carries a vessel's static and voyage data.
type IdentityReport struct {
	StationID   string
	Name        string
	TypeCode    int
	CallSign    string
	Dimensions  Dimensions
	Destination string
	ETA         *time.Time
	Timestamp   time.Time
}

// Station returns the reporting station id.
func (r *IdentityReport) Station() string { return r.StationID }
func (*IdentityReport) report()           {}

// ---------------------------------------------------------------------------
// Code tables
// ---------------------------------------------------------------------------

var navStatusNames = map[int]string{
	0:  "Under Way",
	1:  "Anchored",
	2:  "Not Under Command",
	3:  "Restricted Manoeuvrability",
	4:  "Constrained by Draught",
	5:  "Moored",
	6:  "Aground",
	7:  "Engaged in Fishing",
	8:  "Under Way Sailing",
	15: "Undefined",
}

// NavStatusName maps an AIS navigational status code to its display name.
func NavStatusName(code int) string {
	if name, ok := navStatusNames[code]; ok {
		return name
	}
	return "Unknown"
}

var vesselTypeNames = map[int]string{
	1: "Passenger",
	2: "Cargo",
	3: "Tanker",
	4: "Container",
	5: "Fishing",
	6: "Tug",
}

// VesselTypeName maps a ship-type category code to its display name.
func VesselTypeName(code int) string {
	if name, ok := vesselTypeNames[code]; ok {
		return name
	}
	return "Other"
}
