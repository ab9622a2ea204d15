package geo

import (
	"math"
	"testing"

	"github.com/example/nurse-dispatch/internal/models"
)

func TestDistanceZeroForSamePoint(t *testing.T) {
	p := models.Coordinate{Lat: 12.9716, Lng: 77.5946}
	if d := DistanceKm(p, p); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestDistanceSymmetric(t *testing.T) {
	a := models.Coordinate{Lat: 52.5200, Lng: 13.4050}
	b := models.Coordinate{Lat: 48.8566, Lng: 2.3522}
	if DistanceKm(a, b) != DistanceKm(b, a) {
		t.Fatalf("distance not symmetric: %f vs %f", DistanceKm(a, b), DistanceKm(b, a))
	}
}

func TestDistanceKnownValue(t *testing.T) {
	// one degree of longitude on the equator is ~111.19 km
	a := models.Coordinate{Lat: 0, Lng: 0}
	b := models.Coordinate{Lat: 0, Lng: 1}
	d := DistanceKm(a, b)
	if math.Abs(d-111.19) > 0.5 {
		t.Fatalf("expected ~111.19 km, got %f", d)
	}
}

func TestDistancePropagatesNaN(t *testing.T) {
	a := models.Coordinate{Lat: math.NaN(), Lng: 0}
	b := models.Coordinate{Lat: 0, Lng: 0}
	if !math.IsNaN(DistanceKm(a, b)) {
		t.Fatal("expected NaN for NaN input")
	}
}
