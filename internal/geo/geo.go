// Package geo holds the small amount of spherical and planar geometry the
// flight controller needs.
package geo

import (
	"math"

	"github.com/signalsfoundry/vessel-console/model"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances
// (kilometres).
const EarthRadiusKm = 6371.0

func rad(deg float64) float64 { return deg * math.Pi / 180 }
func deg(rad float64) float64 { return rad * 180 / math.Pi }

// HaversineKm returns the great-circle distance between a and b.
func HaversineKm(a, b model.LatLng) float64 {
	dLat := rad(b.Lat - a.Lat)
	dLng := rad(b.Lng - a.Lng)
	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(rad(a.Lat))*math.Cos(rad(b.Lat))*sinLng*sinLng
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// BearingDeg returns the initial great-circle bearing from a to b, in
// degrees clockwise from north, normalised to [0, 360).
func BearingDeg(a, b model.LatLng) float64 {
	lat1, lat2 := rad(a.Lat), rad(b.Lat)
	dLng := rad(b.Lng - a.Lng)
	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	return Normalize(deg(math.Atan2(y, x)))
}

// Normalize maps any angle in degrees into [0, 360).
func Normalize(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d = 0
	}
	return d
}

// EaseInOutQuad is the quadratic ease-in-out curve on [0, 1].
func EaseInOutQuad(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	return -1 + (4-2*t)*t
}

// Clamp01 limits t to [0, 1].
func Clamp01(t float64) float64 {
	return math.Max(0, math.Min(1, t))
}

// Lerp interpolates linearly between a and b. It returns a exactly at t=0
// and b exactly at t=1.
func Lerp(a, b, t float64) float64 {
	return a*(1-t) + b*t
}

// Interpolate moves planar-linearly in latitude and longitude from a to b.
// It is not a great-circle path.
func Interpolate(a, b model.LatLng, t float64) model.LatLng {
	return model.LatLng{Lat: Lerp(a.Lat, b.Lat, t), Lng: Lerp(a.Lng, b.Lng, t)}
}
