package journey

import (
	"sort"

	"tidbyt.dev/journey/model"
)

const (
	directionOutbound = "Outbound"
	directionInbound  = "Inbound"
)

type DirectOptions struct {
	// Service IDs running on the day of travel. Nil means every
	// trip is considered.
	Services map[string]bool

	// Legs kept per route direction. Zero means no cap.
	TripsPerRouteDirection int

	// Legs longer than this are dropped. Zero means no limit.
	MaxLegMinutes int
}

type directCandidate struct {
	leg       model.Leg
	departure int
}

// Finds rides from originID to destinationID without changing
// vehicle, departing at or after minDeparture. Returns legs sorted by
// departure, then route ID. An empty result is not an error.
func (idx *Index) DirectConnections(originID, destinationID string, minDeparture model.Clock, opts DirectOptions) []model.Leg {
	if originID == destinationID {
		return nil
	}

	serving := map[RouteDirection]bool{}
	for _, rd := range idx.stopRoutes[destinationID] {
		serving[rd] = true
	}

	candidates := []directCandidate{}
	for _, rd := range idx.stopRoutes[originID] {
		if !serving[rd] {
			continue
		}

		rdCandidates := []directCandidate{}
		for _, tripID := range idx.routeDirectionTrips[rd] {
			trip := idx.trips[tripID]
			if opts.Services != nil && !opts.Services[trip.ServiceID] {
				continue
			}
			c, ok := idx.connection(trip, originID, destinationID, minDeparture, opts.MaxLegMinutes)
			if ok {
				rdCandidates = append(rdCandidates, c)
			}
		}

		sort.SliceStable(rdCandidates, func(i, j int) bool {
			return rdCandidates[i].departure < rdCandidates[j].departure
		})
		if opts.TripsPerRouteDirection > 0 && len(rdCandidates) > opts.TripsPerRouteDirection {
			rdCandidates = rdCandidates[:opts.TripsPerRouteDirection]
		}
		candidates = append(candidates, rdCandidates...)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.departure != b.departure {
			return a.departure < b.departure
		}
		if a.leg.Route.ID != b.leg.Route.ID {
			return a.leg.Route.ID < b.leg.Route.ID
		}
		return a.leg.Trip.ID < b.leg.Trip.ID
	})

	legs := make([]model.Leg, 0, len(candidates))
	for _, c := range candidates {
		legs = append(legs, c.leg)
	}
	return legs
}

// Builds the leg for riding trip from origin to destination, if it
// makes that ride at or after minDeparture.
func (idx *Index) connection(
	trip *model.Trip,
	originID string,
	destinationID string,
	minDeparture model.Clock,
	maxLegMinutes int,
) (directCandidate, bool) {
	sts := idx.tripStops[trip.ID]

	// A looping trip can visit the origin more than once. Board at
	// the first visit that is followed by the destination.
	from, to := -1, -1
	for i := range sts {
		if sts[i].StopID != originID {
			continue
		}
		for j := i + 1; j < len(sts); j++ {
			if sts[j].StopID == destinationID {
				from, to = i, j
				break
			}
		}
		if to >= 0 {
			break
		}
	}
	if from < 0 || to < 0 {
		return directCandidate{}, false
	}

	board, alight := sts[from], sts[to]
	if alight.StopSequence <= board.StopSequence {
		return directCandidate{}, false
	}

	departure, err := board.DepartureClock()
	if err != nil {
		return directCandidate{}, false
	}
	if !departure.IsAtOrAfter(minDeparture) {
		return directCandidate{}, false
	}

	duration := model.Duration(board.Departure, alight.Arrival)
	if duration <= 0 {
		return directCandidate{}, false
	}
	if maxLegMinutes > 0 && duration > maxLegMinutes {
		return directCandidate{}, false
	}

	visits := make([]model.StopVisit, 0, to-from+1)
	for _, st := range sts[from : to+1] {
		visits = append(visits, model.StopVisit{
			Stop:         *idx.stops[st.StopID],
			StopSequence: st.StopSequence,
			Arrival:      model.DisplayTime(st.Arrival),
			Departure:    model.DisplayTime(st.Departure),
		})
	}

	fromStop := idx.stops[originID]
	toStop := idx.stops[destinationID]

	leg := model.Leg{
		Route:           *idx.routes[trip.RouteID],
		Trip:            *trip,
		From:            *fromStop,
		To:              *toStop,
		Departure:       departure.String(),
		Arrival:         model.DisplayTime(alight.Arrival),
		DurationMinutes: duration,
		Stops:           visits,
		DirectionID:     trip.DirectionID,
		DirectionLabel:  idx.directionLabel(trip),
		DistanceKm:      model.StopDistanceKm(fromStop, toStop),
	}

	return directCandidate{leg: leg, departure: departure.Minutes()}, true
}

// Headsign if the feed has one, else the name of the trip's final
// stop, else a generic label for the direction.
func (idx *Index) directionLabel(trip *model.Trip) string {
	if trip.Headsign != "" {
		return trip.Headsign
	}

	sts := idx.tripStops[trip.ID]
	if len(sts) > 0 {
		if last := idx.stops[sts[len(sts)-1].StopID]; last.Name != "" {
			return last.Name
		}
	}

	if trip.DirectionID == 1 {
		return directionInbound
	}
	return directionOutbound
}
