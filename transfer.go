package journey

import (
	"math"

	"tidbyt.dev/journey/model"
)

const (
	maxTransferConfidence = 85
	minTransferConfidence = 60
	walkingPenalty        = 10
)

// Pairs legs arriving at hub with legs leaving it (or a stop within
// walking distance) into one-transfer itineraries. firstLegs must end
// at the hub or one of its platforms, and both slices are expected in
// departure order.
func (p *Planner) AssembleTransfers(
	origin model.Stop,
	destination model.Stop,
	hub Hub,
	firstLegs []model.Leg,
	secondLegs []model.Leg,
) []model.Itinerary {
	platforms := map[string]bool{}
	for _, id := range p.index.Platforms(hub.Stop.ID) {
		platforms[id] = true
	}

	itineraries := []model.Itinerary{}
	for i := range firstLegs {
		if len(itineraries) >= p.cfg.ResultsPerHub {
			break
		}
		first := &firstLegs[i]

		best := -1
		bestWait, bestFloor, bestWalked := 0, 0, false
		for j := range secondLegs {
			second := &secondLegs[j]

			// Staying on board isn't a transfer
			if second.Trip.ID == first.Trip.ID {
				continue
			}

			floor, walked := p.transferFloor(hub, platforms, &first.To, &second.From)
			wait := model.Duration(first.Arrival, second.Departure)
			if wait < floor || wait > p.cfg.MaxTransferWait {
				continue
			}

			total := first.DurationMinutes + wait + second.DurationMinutes
			if total > p.cfg.MaxJourneyMinutes {
				continue
			}

			if best < 0 || wait < bestWait {
				best, bestWait, bestFloor, bestWalked = j, wait, floor, walked
			}
		}
		if best < 0 {
			continue
		}

		second := secondLegs[best]
		transferStops := []model.Stop{hub.Stop}
		if bestWalked {
			transferStops = append(transferStops, second.From)
		}

		itineraries = append(itineraries, model.Itinerary{
			Origin:          origin,
			Destination:     destination,
			Legs:            []model.Leg{*first, second},
			DurationMinutes: first.DurationMinutes + bestWait + second.DurationMinutes,
			DistanceKm:      math.Round((first.DistanceKm+second.DistanceKm)*100) / 100,
			Transfers:       1,
			WalkingMinutes:  bestFloor,
			WaitMinutes:     bestWait,
			Confidence:      transferConfidence(bestWait, bestWalked),
			TransferStops:   transferStops,
		})
	}

	return itineraries
}

// Minimum minutes needed to change from arriving at arrival to
// departing from departure, and whether that involves walking to a
// different stop.
func (p *Planner) transferFloor(hub Hub, platforms map[string]bool, arrival, departure *model.Stop) (int, bool) {
	if platforms[arrival.ID] && platforms[departure.ID] {
		if hub.Stop.IsStation() {
			return p.cfg.StationTransferMinutes, false
		}
		return p.cfg.StopTransferMinutes, false
	}

	km := model.StopDistanceKm(arrival, departure)
	walk := int(math.Round(km * p.cfg.WalkMinutesPerKm))
	return max(p.cfg.MinWalkMinutes, walk), true
}

// Likelihood, out of 100, that a transfer with the given wait works
// out. Longer waits lose points but never drop below a floor.
func transferConfidence(wait int, walked bool) int {
	confidence := max(minTransferConfidence, maxTransferConfidence-wait)
	if walked {
		confidence -= walkingPenalty
	}
	return min(100, max(0, confidence))
}
