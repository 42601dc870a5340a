package geo

import (
	"math"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	p := models.Coord{Lat: 6.5244, Lng: 3.3792}
	if d := Haversine(p, p); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// One degree of latitude at the equator is ~111.19 km.
	a := models.Coord{Lat: 0, Lng: 0}
	b := models.Coord{Lat: 1, Lng: 0}
	d := Haversine(a, b)
	if math.Abs(d-111195) > 100 {
		t.Fatalf("expected ~111195m, got %f", d)
	}
}

func TestProjectRoundTrip(t *testing.T) {
	origin := models.Coord{Lat: 6.5244, Lng: 3.3792}
	for _, bearing := range []float64{0, 90, 180, 270, 45} {
		moved := Project(origin, bearing, 500)
		d := Haversine(origin, moved)
		if math.Abs(d-500) > 5 {
			t.Fatalf("bearing %f: expected ~500m, got %f", bearing, d)
		}
	}
}

func TestBearingCardinal(t *testing.T) {
	origin := models.Coord{Lat: 0, Lng: 0}
	north := models.Coord{Lat: 1, Lng: 0}
	east := models.Coord{Lat: 0, Lng: 1}
	if b := Bearing(origin, north); math.Abs(b-0) > 0.01 {
		t.Fatalf("expected ~0, got %f", b)
	}
	if b := Bearing(origin, east); math.Abs(b-90) > 0.01 {
		t.Fatalf("expected ~90, got %f", b)
	}
}
