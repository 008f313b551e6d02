package storage

import (
	"sort"

	"tidbyt.dev/journey/model"
)

// Sorts stops by distance from lat,lng and applies limit (0 for no
// limit). Shared by backends that can't sort by distance in a query.
func closestStops(stops []model.Stop, lat float64, lng float64, limit int) []model.Stop {
	sort.SliceStable(stops, func(i, j int) bool {
		di := model.HaversineDistance(lat, lng, stops[i].Lat, stops[i].Lon)
		dj := model.HaversineDistance(lat, lng, stops[j].Lat, stops[j].Lon)
		return di < dj
	})

	if limit > 0 && len(stops) > limit {
		stops = stops[:limit]
	}

	return stops
}
