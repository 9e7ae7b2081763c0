// utils/geo.go
package utils

import (
	"math"
	"time"
)

const earthRadiusMeters = 6371000.0

// Haversine returns the great-circle distance in meters between two
// coordinates. Accurate to within a few meters at city scale, which is what
// bounds the capture-distance and anti-cheat decisions.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// Speed derives m/s from two timestamped fixes. Returns 0 (not an error) when
// elapsed time is zero or negative so validators never divide by zero; callers
// flag non-positive elapsed time as suspicious on their own.
func Speed(lat1, lng1 float64, t1 time.Time, lat2, lng2 float64, t2 time.Time) float64 {
	elapsed := t2.Sub(t1).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return Haversine(lat1, lng1, lat2, lng2) / elapsed
}

// Destination projects a point distanceMeters away from (lat, lng) along the
// given bearing (radians, clockwise from north). Used by the auto-placement
// sampler to turn polar samples into coordinates.
func Destination(lat, lng, distanceMeters, bearing float64) (float64, float64) {
	phi1 := lat * math.Pi / 180
	lambda1 := lng * math.Pi / 180
	delta := distanceMeters / earthRadiusMeters

	phi2 := math.Asin(math.Sin(phi1)*math.Cos(delta) +
		math.Cos(phi1)*math.Sin(delta)*math.Cos(bearing))
	lambda2 := lambda1 + math.Atan2(
		math.Sin(bearing)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2))

	lat2 := phi2 * 180 / math.Pi
	lng2 := lambda2 * 180 / math.Pi
	// Normalize longitude to [-180, 180)
	lng2 = math.Mod(lng2+540, 360) - 180
	return lat2, lng2
}

// Bounds is a lat/lng bounding box for map queries.
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Contains reports whether the point is inside the box. Boxes crossing the
// antimeridian are handled by the East < West case.
func (b Bounds) Contains(lat, lng float64) bool {
	if lat > b.North || lat < b.South {
		return false
	}
	if b.East < b.West {
		return lng >= b.West || lng <= b.East
	}
	return lng >= b.West && lng <= b.East
}

// ValidCoordinate rejects malformed input before it touches any state.
func ValidCoordinate(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180 &&
		!math.IsNaN(lat) && !math.IsNaN(lng)
}
