package journey

import (
	"sort"
	"strings"

	"tidbyt.dev/journey/model"
)

func itineraryKey(it *model.Itinerary) string {
	return it.Origin.ID + "|" + it.Destination.ID + "|" + strings.Join(it.RouteIDs(), ",")
}

// Drops duplicate and empty itineraries, then orders the rest by
// number of transfers, confidence (highest first) and duration. When
// two itineraries ride the same routes between the same stops, the
// first one wins. At most maxResults are returned.
func Rank(candidates []model.Itinerary, maxResults int) []model.Itinerary {
	seen := map[string]bool{}
	ranked := []model.Itinerary{}
	for i := range candidates {
		it := &candidates[i]
		if len(it.Legs) == 0 {
			continue
		}
		key := itineraryKey(it)
		if seen[key] {
			continue
		}
		seen[key] = true
		ranked = append(ranked, *it)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := &ranked[i], &ranked[j]
		if a.Transfers != b.Transfers {
			return a.Transfers < b.Transfers
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.DurationMinutes < b.DurationMinutes
	})

	if maxResults > 0 && len(ranked) > maxResults {
		ranked = ranked[:maxResults]
	}

	return ranked
}
