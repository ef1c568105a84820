// Package geo provides great-circle helpers shared by the analytics
// components.
package geo

import (
	"math"

	"github.com/yash/vesselwatch/pkg/models"
)

// EarthRadiusMeters is the mean Earth radius used by every distance in the
// module.
const EarthRadiusMeters = 6371000.0

// ToRadians converts degrees to radians.
func ToRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// ToDegrees converts radians to degrees.
func ToDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// Distance returns the haversine distance between two positions in metres.
func Distance(p1, p2 models.Position) float64 {
	if p1 == p2 {
		return 0
	}

	lat1 := ToRadians(p1.Lat)
	lat2 := ToRadians(p2.Lat)
	dLat := ToRadians(p2.Lat - p1.Lat)
	dLon := ToRadians(p2.Lon - p1.Lon)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// Rounding can push a a hair past 1 for antipodal points.
	a = math.Min(1, math.Max(0, a))

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// DistanceKm is Distance in kilometres.
func DistanceKm(p1, p2 models.Position) float64 {
	return Distance(p1, p2) / 1000
}

// Bearing returns the initial great-circle bearing from p1 to p2 in degrees,
// normalised to [0, 360).
func Bearing(p1, p2 models.Position) float64 {
	lat1 := ToRadians(p1.Lat)
	lat2 := ToRadians(p2.Lat)
	dLon := ToRadians(p2.Lon - p1.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	return math.Mod(ToDegrees(math.Atan2(y, x))+360, 360)
}

// PathLength returns the summed distance in metres along consecutive
// positions.
func PathLength(path []models.Position) float64 {
	var total float64
	for i := 1; i < len(path); i++ {
		total += Distance(path[i-1], path[i])
	}
	return total
}
