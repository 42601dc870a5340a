package geo

import (
	"math"

	"github.com/example/ride-dispatch/internal/models"
)

const earthRadiusMeters = 6371000.0

// Haversine returns the great-circle distance in meters between two
// points given in decimal degrees.
func Haversine(a, b models.Coord) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// Project moves a point by distanceMeters along bearingDegrees using a
// flat-Earth approximation. Valid for short displacements only; the
// trajectory predictor bounds those to tens of seconds of travel.
func Project(origin models.Coord, bearingDegrees, distanceMeters float64) models.Coord {
	br := toRad(bearingDegrees)
	dLat := distanceMeters * math.Cos(br) / earthRadiusMeters
	dLng := distanceMeters * math.Sin(br) / (earthRadiusMeters * math.Cos(toRad(origin.Lat)))
	return models.Coord{
		Lat: origin.Lat + toDeg(dLat),
		Lng: origin.Lng + toDeg(dLng),
	}
}

// Bearing returns the initial bearing in degrees [0,360) from a to b.
func Bearing(a, b models.Coord) float64 {
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLng := toRad(b.Lng - a.Lng)
	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	deg := toDeg(math.Atan2(y, x))
	return math.Mod(deg+360, 360)
}

func toRad(deg float64) float64 { return deg * math.Pi / 180.0 }
func toDeg(rad float64) float64 { return rad * 180.0 / math.Pi }
