package geo

import (
	"math"

	"github.com/example/nurse-dispatch/internal/models"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle (Haversine) distance between a and b
// in kilometers. Symmetric, and zero iff a == b. NaN inputs yield NaN;
// callers validate coordinate bounds before calling.
func DistanceKm(a, b models.Coordinate) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
