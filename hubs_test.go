package journey_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/journey"
	"tidbyt.dev/journey/config"
	"tidbyt.dev/journey/model"
)

func hubFeed() journey.Feed {
	feed := newFeed().
		Station("AS", 40.00, -74.00).
		Platform("A", "AS", 40.00, -74.00).
		Stop("D", 40.10, -74.00).
		Stop("H", 40.05, -74.00).
		Station("S", 40.05, -73.99).
		Platform("S1", "S", 40.05, -73.99).
		Platform("S2", "S", 40.05, -73.99).
		Station("E", 40.06, -74.00).
		Stop("M", 45.00, -74.00).
		Stop("Q", 41.00, -74.00).
		Stop("F1", 45.10, -74.00).
		Stop("F2", 45.20, -74.00).
		Stop("F3", 45.30, -74.00).
		Stop("G1", 46.10, -74.00).
		Stop("G2", 46.20, -74.00).
		Stop("G3", 46.30, -74.00).
		Trip("x", "X", 0, "A 08:30", "H 09:00").
		Trip("y", "Y", 0, "H 09:10", "D 09:30").
		Trip("z", "Z", 0, "Q 07:00", "S1 07:10").
		Trip("p1", "P1", 0, "S2 07:00", "G1 08:00").
		Trip("p2", "P2", 0, "S2 07:00", "G2 08:00").
		Trip("p3", "P3", 0, "S2 07:00", "G3 08:00").
		Trip("m1", "M1", 0, "M 07:00", "F1 07:30").
		Trip("m2", "M2", 0, "M 07:00", "F2 07:30").
		Trip("m3", "M3", 0, "M 07:00", "F3 07:30").
		Feed()

	for i := range feed.Stops {
		if feed.Stops[i].ID == "M" {
			feed.Stops[i].WheelchairBoarding = model.WheelchairAccessible
		}
	}

	return feed
}

func TestSelectHubs(t *testing.T) {
	p := newPlanner(journey.BuildIndex(hubFeed()))

	hubs := p.SelectHubs("A", "D")

	summary := map[string]int{}
	ids := []string{}
	for _, hub := range hubs {
		ids = append(ids, hub.Stop.ID)
		summary[hub.Stop.ID] = hub.Score
	}

	// S: 4 route directions over its platforms, station, short
	// detour. H: 2 route directions, on the way. M: 3 routes,
	// accessible, far away.
	assert.Equal(t, []string{"S", "H", "M"}, ids)
	assert.Equal(t, map[string]int{
		"S": 4*10 + 50 + 30 + 20,
		"H": 2*10 + 30 + 20,
		"M": 3*10 + 10,
	}, summary)

	assert.Equal(t, 4, hubs[0].RouteDirections)
}

func TestSelectHubsLimit(t *testing.T) {
	p := newPlanner(journey.BuildIndex(hubFeed()), func(cfg *config.Planner) {
		cfg.HubLimit = 2
	})

	hubs := p.SelectHubs("A", "D")
	require.Len(t, hubs, 2)
	assert.Equal(t, "S", hubs[0].Stop.ID)
	assert.Equal(t, "H", hubs[1].Stop.ID)
}

func TestSelectHubsExclusions(t *testing.T) {
	p := newPlanner(journey.BuildIndex(hubFeed()))

	// Stops near the search ends, and stations without service,
	// are never proposed.
	for _, pair := range [][2]string{{"A", "D"}, {"D", "A"}, {"AS", "D"}} {
		for _, hub := range p.SelectHubs(pair[0], pair[1]) {
			assert.NotContains(t, []string{"A", "AS", "D", "E", "S1", "S2"}, hub.Stop.ID)
		}
	}

	// Searching from S itself rules it out.
	for _, hub := range p.SelectHubs("S1", "D") {
		assert.NotEqual(t, "S", hub.Stop.ID)
	}

	assert.Empty(t, p.SelectHubs("nope", "D"))
}

func TestSelectHubsTieBreak(t *testing.T) {
	idx := newFeed().
		Stop("o", 0, 0).
		Stop("d", 0, 0).
		Stop("b", 0, 0).
		Stop("a", 0, 0).
		Trip("t1", "R", 0, "o 08:00", "b 08:10", "a 08:20").
		Trip("t2", "Q", 0, "a 09:00", "b 09:10", "d 09:20").
		Index()

	hubs := newPlanner(idx).SelectHubs("o", "d")

	// Same score, no coordinates to break the tie. Ordered by ID.
	require.Len(t, hubs, 2)
	assert.Equal(t, "a", hubs[0].Stop.ID)
	assert.Equal(t, "b", hubs[1].Stop.ID)
	assert.Equal(t, hubs[0].Score, hubs[1].Score)
}
