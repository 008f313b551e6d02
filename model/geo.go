package model

import (
	"math"
)

const earthRadiusKm = 6371

func HaversineDistance(aLat, aLon, bLat, bLon float64) float64 {
	aLatRad := aLat * math.Pi / 180
	aLonRad := aLon * math.Pi / 180
	bLatRad := bLat * math.Pi / 180
	bLonRad := bLon * math.Pi / 180
	deltaLat := aLatRad - bLatRad
	deltaLon := aLonRad - bLonRad

	a := math.Cos(aLatRad)*math.Cos(bLatRad)*math.Pow(math.Sin(deltaLon/2), 2) + math.Pow(math.Sin(deltaLat/2), 2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return c * earthRadiusKm
}

// Great-circle distance in km, rounded to 2 decimals.
func DistanceKm(aLat, aLon, bLat, bLon float64) float64 {
	return math.Round(HaversineDistance(aLat, aLon, bLat, bLon)*100) / 100
}

// Distance between two stops in km, rounded to 2 decimals. Stops
// without coordinates are 0 km from everything.
func StopDistanceKm(a, b *Stop) float64 {
	if a == nil || b == nil || !a.HasLocation() || !b.HasLocation() {
		return 0
	}
	return DistanceKm(a.Lat, a.Lon, b.Lat, b.Lon)
}
