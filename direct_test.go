package journey_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/journey"
	"tidbyt.dev/journey/model"
)

func clock(t *testing.T, s string) model.Clock {
	c, err := model.ParseClock(s)
	require.NoError(t, err)
	return c
}

func lineFeed() *feedBuilder {
	return newFeed().
		Stop("s1", 40.00, -74).
		Stop("s2", 40.01, -74).
		Stop("s3", 40.02, -74).
		Stop("s4", 40.03, -74).
		Stop("s5", 40.04, -74).
		Stop("s6", 40.05, -74).
		Stop("s7", 40.06, -74).
		Stop("s8", 40.07, -74)
}

func TestDirectSameTrip(t *testing.T) {
	idx := lineFeed().
		Trip("t1", "R", 0,
			"s1 08:00", "s2 08:05", "s3 08:10", "s4 08:14",
			"s5 08:18", "s6 08:21", "s7 08:25", "s8 08:30").
		Index()

	legs := idx.DirectConnections("s3", "s7", clock(t, "08:00"), journey.DirectOptions{})
	require.Len(t, legs, 1)

	leg := legs[0]
	assert.Equal(t, "08:10", leg.Departure)
	assert.Equal(t, "08:25", leg.Arrival)
	assert.Equal(t, 15, leg.DurationMinutes)
	assert.Equal(t, "s3", leg.From.ID)
	assert.Equal(t, "s7", leg.To.ID)
	assert.Equal(t, "R", leg.Route.ID)
	assert.Equal(t, "t1", leg.Trip.ID)
	assert.Equal(t, "Stop s8", leg.DirectionLabel)
	assert.Equal(t, 4.45, leg.DistanceKm)

	visited := []string{}
	for _, v := range leg.Stops {
		visited = append(visited, v.Stop.ID)
	}
	assert.Equal(t, []string{"s3", "s4", "s5", "s6", "s7"}, visited)
	assert.Equal(t, "08:14", leg.Stops[1].Arrival)

	// Boarding after the departure has passed isn't possible
	legs = idx.DirectConnections("s3", "s7", clock(t, "08:11"), journey.DirectOptions{})
	assert.Empty(t, legs)

	// Departing exactly at the minimum is fine
	legs = idx.DirectConnections("s3", "s7", clock(t, "08:10"), journey.DirectOptions{})
	assert.Len(t, legs, 1)
}

func TestDirectNeverRidesBackwards(t *testing.T) {
	idx := lineFeed().
		Trip("t1", "R", 0, "s1 08:00", "s2 08:05", "s3 08:10", "s4 08:14").
		Trip("t2", "R", 0, "s1 09:00", "s2 09:05", "s3 09:10", "s4 09:14").
		Index()

	assert.Empty(t, idx.DirectConnections("s4", "s1", clock(t, "00:00"), journey.DirectOptions{}))
	assert.Empty(t, idx.DirectConnections("s2", "s2", clock(t, "00:00"), journey.DirectOptions{}))

	for _, pair := range [][2]string{{"s1", "s4"}, {"s2", "s3"}, {"s1", "s2"}} {
		legs := idx.DirectConnections(pair[0], pair[1], clock(t, "00:00"), journey.DirectOptions{})
		require.Len(t, legs, 2)
		for _, leg := range legs {
			first, last := leg.Stops[0], leg.Stops[len(leg.Stops)-1]
			assert.Less(t, first.StopSequence, last.StopSequence)
		}
	}
}

func TestDirectLoopingTrip(t *testing.T) {
	idx := lineFeed().
		Trip("loop", "R", 0, "s1 08:00", "s2 08:05", "s3 08:10", "s1 08:20", "s4 08:25").
		Index()

	legs := idx.DirectConnections("s1", "s3", clock(t, "07:00"), journey.DirectOptions{})
	require.Len(t, legs, 1)
	assert.Equal(t, "08:00", legs[0].Departure)
	assert.Equal(t, 10, legs[0].DurationMinutes)

	// s4 is only reachable after the second visit to s1, but the
	// first visit is also followed by it
	legs = idx.DirectConnections("s1", "s4", clock(t, "07:00"), journey.DirectOptions{})
	require.Len(t, legs, 1)
	assert.Equal(t, 25, legs[0].DurationMinutes)

	// s3 to s1 is allowed, it's forward in the trip
	legs = idx.DirectConnections("s3", "s1", clock(t, "07:00"), journey.DirectOptions{})
	require.Len(t, legs, 1)
	assert.Equal(t, "08:20", legs[0].Arrival)
}

func TestDirectEmptyTimes(t *testing.T) {
	idx := lineFeed().
		Trip("t1", "R", 0, "s1 08:00", "s2", "s3 08:10", "s4").
		Trip("t2", "R", 0, "s1", "s2 09:05", "s3 09:10").
		Index()

	// Duration falls back to the default rather than failing
	assert.Equal(t, model.DefaultDuration, model.Duration("", "081000"))

	// Origin without a departure time can't be checked against the
	// minimum, so the trip is skipped.
	legs := idx.DirectConnections("s1", "s3", clock(t, "07:00"), journey.DirectOptions{})
	require.Len(t, legs, 1)
	assert.Equal(t, "t1", legs[0].Trip.ID)

	// Untimed intermediate stops are kept, without times.
	require.Len(t, legs[0].Stops, 3)
	assert.Equal(t, "s2", legs[0].Stops[1].Stop.ID)
	assert.Equal(t, "", legs[0].Stops[1].Arrival)
	assert.Equal(t, "", legs[0].Stops[1].Departure)

	// Destination without an arrival time gives no usable duration.
	legs = idx.DirectConnections("s1", "s4", clock(t, "07:00"), journey.DirectOptions{})
	assert.Empty(t, legs)
}

func TestDirectSortingAndCaps(t *testing.T) {
	b := lineFeed()
	for i := 0; i < 8; i++ {
		b.Trip(fmt.Sprintf("a%d", i), "A", 0,
			fmt.Sprintf("s1 %02d:00", 8+i), fmt.Sprintf("s2 %02d:20", 8+i))
	}
	b.Trip("b0", "B", 0, "s1 08:00", "s2 08:30")
	b.Trip("b1", "B", 0, "s1 09:30", "s2 09:50")
	idx := b.Index()

	legs := idx.DirectConnections("s1", "s2", clock(t, "08:00"), journey.DirectOptions{
		TripsPerRouteDirection: 3,
	})

	summary := []string{}
	for _, leg := range legs {
		summary = append(summary, leg.Departure+" "+leg.Trip.ID)
	}
	assert.Equal(t, []string{
		"08:00 a0",
		"08:00 b0",
		"09:00 a1",
		"09:30 b1",
		"10:00 a2",
	}, summary)

	// One leg per trip, no cap
	legs = idx.DirectConnections("s1", "s2", clock(t, "00:00"), journey.DirectOptions{})
	assert.Len(t, legs, 10)
}

func TestDirectMaxLegMinutes(t *testing.T) {
	idx := lineFeed().
		Trip("slow", "R", 0, "s1 08:00", "s2 13:01").
		Trip("ok", "R", 0, "s1 09:00", "s2 14:00").
		Index()

	legs := idx.DirectConnections("s1", "s2", clock(t, "00:00"), journey.DirectOptions{MaxLegMinutes: 300})
	require.Len(t, legs, 1)
	assert.Equal(t, "ok", legs[0].Trip.ID)
	assert.Equal(t, 300, legs[0].DurationMinutes)
}

func TestDirectPastMidnight(t *testing.T) {
	idx := lineFeed().
		Trip("owl", "R", 0, "s1 23:50", "s2 24:10", "s3 25:05").
		Index()

	legs := idx.DirectConnections("s1", "s3", clock(t, "23:00"), journey.DirectOptions{})
	require.Len(t, legs, 1)
	assert.Equal(t, "25:05", legs[0].Arrival)
	assert.Equal(t, 75, legs[0].DurationMinutes)

	legs = idx.DirectConnections("s2", "s3", clock(t, "24:00"), journey.DirectOptions{})
	require.Len(t, legs, 1)
	assert.Equal(t, "24:10", legs[0].Departure)
}

func TestDirectServiceFilter(t *testing.T) {
	feed := lineFeed().
		Trip("t1", "R", 0, "s1 08:00", "s2 08:10").
		Trip("t2", "R", 0, "s1 09:00", "s2 09:10").
		Feed()
	feed.Trips[1].ServiceID = "sundays"
	idx := journey.BuildIndex(feed)

	legs := idx.DirectConnections("s1", "s2", clock(t, "00:00"), journey.DirectOptions{
		Services: map[string]bool{"sundays": true},
	})
	require.Len(t, legs, 1)
	assert.Equal(t, "t2", legs[0].Trip.ID)

	legs = idx.DirectConnections("s1", "s2", clock(t, "00:00"), journey.DirectOptions{
		Services: map[string]bool{},
	})
	assert.Empty(t, legs)
}

func TestDirectDirectionLabel(t *testing.T) {
	feed := newFeed().
		Stop("a", 40, -74).
		Stop("b", 40.01, -74).
		Trip("headsign", "R", 0, "a 08:00", "b 08:10").
		Headsign("headsign", "Downtown").
		Trip("laststop", "R", 0, "a 09:00", "b 09:10").
		Trip("inbound", "R", 1, "b 10:00", "a 10:10").
		Trip("outbound", "R", 0, "a 11:00", "b 11:10").
		Feed()

	// Nameless stops leave nothing but the direction
	for i := range feed.Stops {
		if feed.Stops[i].ID == "a" {
			feed.Stops[i].Name = ""
		}
	}
	idx := journey.BuildIndex(feed)

	labels := map[string]string{}
	for _, pair := range [][2]string{{"a", "b"}, {"b", "a"}} {
		for _, leg := range idx.DirectConnections(pair[0], pair[1], clock(t, "00:00"), journey.DirectOptions{}) {
			labels[leg.Trip.ID] = leg.DirectionLabel
		}
	}

	assert.Equal(t, map[string]string{
		"headsign": "Downtown",
		"laststop": "Stop b",
		"outbound": "Stop b",
		"inbound":  "Inbound",
	}, labels)
}
