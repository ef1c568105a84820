package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yash/vesselwatch/internal/feed"
	"github.com/yash/vesselwatch/pkg/models"
)

var (
	// ErrMalformed marks a frame that cannot be turned into a report. Such
	// frames are dropped, never retried.
	ErrMalformed = errors.New("malformed report")

	// ErrUnsupported marks a well-formed frame of a type the pipeline ignores.
	ErrUnsupported = errors.New("unsupported message type")
)

// AIS sentinel values meaning "not available".
const (
	headingUnavailable = 511
	courseUnavailable  = 360
	speedUnavailable   = 102.3
)

// Layout of MetaData.time_utc, e.g. "2024-03-01 12:00:00.123456 +0000 UTC".
const aisTimeLayout = "2006-01-02 15:04:05.999999999 -0700 MST"

type aisFrame struct {
	MessageType string `json:"MessageType"`
	MetaData    struct {
		TimeUTC string `json:"time_utc"`
	} `json:"MetaData"`
	Message struct {
		PositionReport   *aisPosition `json:"PositionReport"`
		ShipAndCargoData *aisShipData `json:"ShipAndCargoData"`
	} `json:"Message"`
}

type aisPosition struct {
	UserID             int64    `json:"UserID"`
	Latitude           *float64 `json:"Latitude"`
	Longitude          *float64 `json:"Longitude"`
	SpeedOverGround    *float64 `json:"SpeedOverGround"`
	TrueHeading        *float64 `json:"TrueHeading"`
	CourseOverGround   *float64 `json:"CourseOverGround"`
	NavigationalStatus int      `json:"NavigationalStatus"`
}

type aisShipData struct {
	UserID      int64  `json:"UserID"`
	VesselName  string `json:"VesselName"`
	Type        int    `json:"Type"`
	CallSign    string `json:"CallSign"`
	Destination string `json:"Destination"`
	ETA         int64  `json:"ETA"` // unix seconds
	Dimension   struct {
		A float64 `json:"A"`
		B float64 `json:"B"`
		C float64 `json:"C"`
		D float64 `json:"D"`
	} `json:"Dimension"`
}

// Decode parses one upstream frame. Errors wrap ErrMalformed or
// ErrUnsupported.
func Decode(env feed.Envelope) (Report, error) {
	var f aisFrame
	if err := json.Unmarshal(env.Data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	ts := parseTimestamp(f.MetaData.TimeUTC, env.Received)

	switch {
	case f.Message.PositionReport != nil:
		return decodePosition(f.Message.PositionReport, ts)
	case f.Message.ShipAndCargoData != nil:
		return decodeShipData(f.Message.ShipAndCargoData, ts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, f.MessageType)
	}
}

func decodePosition(m *aisPosition, ts time.Time) (Report, error) {
	if m.UserID <= 0 {
		return nil, fmt.Errorf("%w: position report without UserID", ErrMalformed)
	}

	r := &PositionReport{
		StationID: strconv.FormatInt(m.UserID, 10),
		NavStatus: m.NavigationalStatus,
		Timestamp: ts,
	}
	// Without both coordinates the report decodes as (0,0), which the
	// reconciler stages without touching the record.
	if m.Latitude != nil && m.Longitude != nil {
		r.Position = models.Position{Lat: *m.Latitude, Lon: *m.Longitude}
	}
	if m.SpeedOverGround != nil && *m.SpeedOverGround >= 0 && *m.SpeedOverGround < speedUnavailable {
		r.Speed = m.SpeedOverGround
	}
	if m.TrueHeading != nil && *m.TrueHeading != headingUnavailable {
		r.Heading = m.TrueHeading
	}
	if m.CourseOverGround != nil && *m.CourseOverGround < courseUnavailable {
		r.Course = m.CourseOverGround
	}
	return r, nil
}

func decodeShipData(m *aisShipData, ts time.Time) (Report, error) {
	if m.UserID <= 0 {
		return nil, fmt.Errorf("%w: ship data without UserID", ErrMalformed)
	}
	r := &IdentityReport{
		StationID:   strconv.FormatInt(m.UserID, 10),
		Name:        strings.TrimSpace(m.VesselName),
		TypeCode:    m.Type,
		CallSign:    strings.TrimSpace(m.CallSign),
		Destination: strings.TrimSpace(m.Destination),
		Dimensions:  Dimensions{A: m.Dimension.A, B: m.Dimension.B, C: m.Dimension.C, D: m.Dimension.D},
		Timestamp:   ts,
	}
	if m.ETA > 0 {
		eta := time.Unix(m.ETA, 0).UTC()
		r.ETA = &eta
	}
	return r, nil
}

func parseTimestamp(s string, fallback time.Time) time.Time {
	if s != "" {
		if t, err := time.Parse(aisTimeLayout, s); err == nil {
			return t.UTC()
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC()
		}
	}
	if fallback.IsZero() {
		return time.Now().UTC()
	}
	return fallback.UTC()
}
