package journey

import (
	"sort"

	"tidbyt.dev/journey/model"
)

const (
	hubRouteDirectionScore = 10
	hubStationBonus        = 50
	hubDetourBonus         = 30
	hubShortDetourBonus    = 20
	hubAccessibleBonus     = 10

	hubDetourRatio      = 1.5
	hubShortDetourRatio = 1.2
)

// A candidate stop for changing vehicles.
type Hub struct {
	Stop            model.Stop
	Score           int
	RouteDirections int
}

// Proposes places to change between origin and destination, best
// first. Candidates are stations, stops served by many routes, and
// stops reachable from the origin that also lead to the
// destination. Platforms of a station are folded into the station.
func (p *Planner) SelectHubs(originID, destinationID string) []Hub {
	idx := p.index

	origin, found := idx.Stop(originID)
	if !found {
		return nil
	}
	destination, found := idx.Stop(destinationID)
	if !found {
		return nil
	}

	excluded := p.endpointStops(origin, destination)

	candidates := map[string]bool{}
	add := func(stopID string) {
		stop := idx.stops[stopID]
		if stop.ParentStation != "" {
			if parent, found := idx.stops[stop.ParentStation]; found && parent.IsStation() {
				stopID = parent.ID
			}
		}
		if excluded[stopID] {
			return
		}
		candidates[stopID] = true
	}

	for _, id := range idx.StopIDs() {
		stop := idx.stops[id]
		if stop.IsStation() || idx.RouteCount(id) >= p.cfg.MinHubRoutes {
			add(id)
		}
	}

	downstream := p.reachableFrom(idx.Platforms(originID), true)
	upstream := p.reachableFrom(idx.Platforms(destinationID), false)
	for id := range downstream {
		if upstream[id] {
			add(id)
		}
	}

	hubs := make([]Hub, 0, len(candidates))
	for id := range candidates {
		stop := idx.stops[id]
		rds := len(idx.StationRoutes(id))
		if rds == 0 {
			continue
		}
		hubs = append(hubs, Hub{
			Stop:            *stop,
			Score:           scoreHub(stop, rds, &origin, &destination),
			RouteDirections: rds,
		})
	}

	sort.Slice(hubs, func(i, j int) bool {
		if hubs[i].Score != hubs[j].Score {
			return hubs[i].Score > hubs[j].Score
		}
		return hubs[i].Stop.ID < hubs[j].Stop.ID
	})

	if len(hubs) > p.cfg.HubLimit {
		hubs = hubs[:p.cfg.HubLimit]
	}

	return hubs
}

// The origin and destination with their platforms, parent stations
// and siblings. None of these can serve as a place to change.
func (p *Planner) endpointStops(origin, destination model.Stop) map[string]bool {
	idx := p.index
	excluded := map[string]bool{}
	for _, s := range []model.Stop{origin, destination} {
		excluded[s.ID] = true
		for _, child := range idx.Children(s.ID) {
			excluded[child] = true
		}
		if s.ParentStation != "" {
			excluded[s.ParentStation] = true
			for _, sibling := range idx.Children(s.ParentStation) {
				excluded[sibling] = true
			}
		}
	}
	return excluded
}

// Stops after (forward) or before (!forward) any of stopIDs on the
// route directions serving them.
func (p *Planner) reachableFrom(stopIDs []string, forward bool) map[string]bool {
	reachable := map[string]bool{}
	for _, stopID := range stopIDs {
		for _, rd := range p.index.StopRoutes(stopID) {
			order := p.index.RouteDirectionStops(rd)
			pos := indexOf(order, stopID)
			if pos < 0 {
				continue
			}
			var span []string
			if forward {
				span = order[pos+1:]
			} else {
				span = order[:pos]
			}
			for _, id := range span {
				reachable[id] = true
			}
		}
	}
	return reachable
}

func scoreHub(hub *model.Stop, routeDirections int, origin, destination *model.Stop) int {
	score := hubRouteDirectionScore * routeDirections

	if hub.IsStation() {
		score += hubStationBonus
	}

	if hub.HasLocation() && origin.HasLocation() && destination.HasLocation() {
		direct := model.HaversineDistance(origin.Lat, origin.Lon, destination.Lat, destination.Lon)
		if direct > 0 {
			via := model.HaversineDistance(origin.Lat, origin.Lon, hub.Lat, hub.Lon) +
				model.HaversineDistance(hub.Lat, hub.Lon, destination.Lat, destination.Lon)
			ratio := via / direct
			if ratio < hubDetourRatio {
				score += hubDetourBonus
			}
			if ratio < hubShortDetourRatio {
				score += hubShortDetourBonus
			}
		}
	}

	if hub.WheelchairBoarding == model.WheelchairAccessible {
		score += hubAccessibleBonus
	}

	return score
}
