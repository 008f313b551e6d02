package journey_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/journey"
	"tidbyt.dev/journey/config"
	"tidbyt.dev/journey/model"
)

func TestPlanDirect(t *testing.T) {
	idx := lineFeed().
		Trip("t1", "R", 0,
			"s1 08:00", "s2 08:05", "s3 08:10", "s4 08:14",
			"s5 08:18", "s6 08:21", "s7 08:25", "s8 08:30").
		Index()

	itineraries := newPlanner(idx).PlanJourney(context.Background(), "s3", "s7", "08:00")
	require.Len(t, itineraries, 1)

	it := itineraries[0]
	assert.Equal(t, 0, it.Transfers)
	assert.Equal(t, 15, it.DurationMinutes)
	assert.Equal(t, 100, it.Confidence)
	assert.Equal(t, 0, it.WalkingMinutes)
	assert.Equal(t, 0, it.WaitMinutes)
	assert.Empty(t, it.TransferStops)
	assert.Equal(t, "08:10", it.Departure())
	assert.Equal(t, "08:25", it.Arrival())
}

func TestPlanOutcomes(t *testing.T) {
	p := newPlanner(transferFeed("09:10").Index())

	for _, tc := range []struct {
		name    string
		req     journey.Request
		outcome journey.Outcome
	}{
		{"same stop", journey.Request{OriginID: "A", DestinationID: "A", MinDeparture: "08:00"}, journey.OutcomeSameStop},
		{"unknown origin", journey.Request{OriginID: "nope", DestinationID: "D", MinDeparture: "08:00"}, journey.OutcomeUnknownStop},
		{"unknown destination", journey.Request{OriginID: "A", DestinationID: "nope", MinDeparture: "08:00"}, journey.OutcomeUnknownStop},
		{"bad time", journey.Request{OriginID: "A", DestinationID: "D", MinDeparture: "8h30"}, journey.OutcomeInvalidTime},
		{"bad minute", journey.Request{OriginID: "A", DestinationID: "D", MinDeparture: "08:75"}, journey.OutcomeInvalidTime},
		{"bad date", journey.Request{OriginID: "A", DestinationID: "D", MinDeparture: "08:00", Date: "tomorrow"}, journey.OutcomeInvalidTime},
		{"too late", journey.Request{OriginID: "A", DestinationID: "D", MinDeparture: "08:31"}, journey.OutcomeNoJourney},
		{"wrong way", journey.Request{OriginID: "D", DestinationID: "A", MinDeparture: "08:00"}, journey.OutcomeNoJourney},
		{"found", journey.Request{OriginID: "A", DestinationID: "D", MinDeparture: "08:00"}, journey.OutcomeFound},
		{"found on date", journey.Request{OriginID: "A", DestinationID: "D", MinDeparture: "08:00", Date: "20240315"}, journey.OutcomeFound},
	} {
		t.Run(tc.name, func(t *testing.T) {
			result := p.Plan(context.Background(), tc.req)
			assert.Equal(t, tc.outcome, result.Outcome)
			assert.NotEmpty(t, result.RequestID)
			assert.NotNil(t, result.Itineraries)
			if tc.outcome == journey.OutcomeFound {
				assert.NotEmpty(t, result.Itineraries)
			} else {
				assert.Empty(t, result.Itineraries)
			}
		})
	}
}

func TestPlanJourneySameStop(t *testing.T) {
	p := newPlanner(transferFeed("09:10").Index())

	itineraries := p.PlanJourney(context.Background(), "A", "A", "08:00")
	assert.NotNil(t, itineraries)
	assert.Empty(t, itineraries)
}

func TestPlanServiceDate(t *testing.T) {
	feed := transferFeed("09:10").Feed()
	for i := range feed.Trips {
		if feed.Trips[i].ID == "y1" {
			feed.Trips[i].ServiceID = "weekdays"
		}
	}
	feed.Calendars = append(feed.Calendars, model.Calendar{
		ServiceID: "weekdays",
		StartDate: "20240101",
		EndDate:   "20241231",
		Weekday:   0x3e,
	})
	p := newPlanner(journey.BuildIndex(feed))

	// 2024-03-15 is a friday, 2024-03-16 a saturday
	friday := p.Plan(context.Background(), journey.Request{
		OriginID: "A", DestinationID: "D", MinDeparture: "08:00", Date: "20240315",
	})
	assert.Equal(t, journey.OutcomeFound, friday.Outcome)

	saturday := p.Plan(context.Background(), journey.Request{
		OriginID: "A", DestinationID: "D", MinDeparture: "08:00", Date: "20240316",
	})
	assert.Equal(t, journey.OutcomeNoJourney, saturday.Outcome)

	// Without a date every trip counts
	anyDay := p.Plan(context.Background(), journey.Request{
		OriginID: "A", DestinationID: "D", MinDeparture: "08:00",
	})
	assert.Equal(t, journey.OutcomeFound, anyDay.Outcome)
}

func TestPlanDefaultsToNow(t *testing.T) {
	tz, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	idx := transferFeed("09:10").Index()

	for _, tc := range []struct {
		now   time.Time
		found bool
	}{
		// 08:15 in New York
		{time.Date(2024, 3, 15, 12, 15, 0, 0, time.UTC), true},
		// 08:45 in New York, the only trip left at 08:30
		{time.Date(2024, 3, 15, 12, 45, 0, 0, time.UTC), false},
	} {
		now := tc.now
		p := journey.NewPlanner(idx, config.DefaultPlanner(),
			quietLogger(),
			journey.WithLocation(tz),
			journey.WithClock(func() time.Time { return now }),
		)

		itineraries := p.PlanJourney(context.Background(), "A", "D", "")
		if tc.found {
			assert.Len(t, itineraries, 1)
		} else {
			assert.Empty(t, itineraries)
		}
	}
}

func TestPlanTransferMode(t *testing.T) {
	idx := transferFeed("09:10").
		Trip("direct", "R", 0, "A 08:00", "D 09:00").
		Index()

	always := newPlanner(idx)
	result := always.Plan(context.Background(), journey.Request{
		OriginID: "A", DestinationID: "D", MinDeparture: "07:00",
	})
	require.Len(t, result.Itineraries, 2)
	assert.Equal(t, 0, result.Itineraries[0].Transfers)
	assert.Equal(t, 1, result.Itineraries[1].Transfers)
	assert.Equal(t, 1, result.Hubs)

	fallback := newPlanner(idx, func(cfg *config.Planner) {
		cfg.TransferMode = config.TransferModeFallback
	})
	result = fallback.Plan(context.Background(), journey.Request{
		OriginID: "A", DestinationID: "D", MinDeparture: "07:00",
	})
	require.Len(t, result.Itineraries, 1)
	assert.Equal(t, 0, result.Itineraries[0].Transfers)
	assert.Equal(t, 0, result.Hubs)

	// Transfers are still searched when direct service is gone
	result = fallback.Plan(context.Background(), journey.Request{
		OriginID: "A", DestinationID: "D", MinDeparture: "08:10",
	})
	require.Len(t, result.Itineraries, 1)
	assert.Equal(t, 1, result.Itineraries[0].Transfers)
}

func TestPlanFromStation(t *testing.T) {
	idx := newFeed().
		Station("S", 40.00, -74).
		Platform("S1", "S", 40.00, -74.0001).
		Platform("S2", "S", 40.00, -73.9999).
		Stop("D", 40.10, -74).
		Stop("E", 40.20, -74).
		Trip("a", "A", 0, "S1 08:00", "D 08:20").
		Trip("b", "B", 0, "S2 08:05", "D 08:30").
		Trip("c", "C", 0, "E 08:00", "S2 08:20").
		Index()

	itineraries := newPlanner(idx).PlanJourney(context.Background(), "S", "D", "07:00")
	require.Len(t, itineraries, 2)
	for _, it := range itineraries {
		assert.Equal(t, "S", it.Origin.ID)
		assert.Contains(t, []string{"S1", "S2"}, it.Legs[0].From.ID)
	}

	// And into one
	itineraries = newPlanner(idx).PlanJourney(context.Background(), "E", "S", "07:00")
	require.Len(t, itineraries, 1)
	assert.Equal(t, "S2", itineraries[0].Legs[0].To.ID)
	assert.Equal(t, "S", itineraries[0].Destination.ID)
}

// A grid of crossing lines, with plenty of hubs.
func gridIndex() *journey.Index {
	b := newFeed()
	for row := 0; row < 5; row++ {
		for col := 0; col < 5; col++ {
			b.Stop(fmt.Sprintf("g%d%d", row, col), 40+float64(row)*0.01, -74+float64(col)*0.01)
		}
	}
	for i := 0; i < 5; i++ {
		for dep := 0; dep < 6; dep++ {
			start := 7*60 + dep*15
			rowCalls, colCalls := []string{}, []string{}
			for j := 0; j < 5; j++ {
				at := start + j*4 + i
				rowCalls = append(rowCalls, fmt.Sprintf("g%d%d %02d:%02d", i, j, at/60, at%60))
				colCalls = append(colCalls, fmt.Sprintf("g%d%d %02d:%02d", j, i, (at+2)/60, (at+2)%60))
			}
			b.Trip(fmt.Sprintf("row%d-%d", i, dep), fmt.Sprintf("ROW%d", i), 0, rowCalls...)
			b.Trip(fmt.Sprintf("col%d-%d", i, dep), fmt.Sprintf("COL%d", i), 0, colCalls...)
		}
	}
	return b.Index()
}

func TestPlanTimeConsistency(t *testing.T) {
	p := newPlanner(gridIndex())

	for _, pair := range [][2]string{{"g00", "g44"}, {"g01", "g43"}, {"g10", "g34"}, {"g00", "g04"}} {
		itineraries := p.PlanJourney(context.Background(), pair[0], pair[1], "07:00")
		assertTimeConsistent(t, itineraries)
		for _, it := range itineraries {
			assert.Equal(t, pair[0], it.Origin.ID)
			assert.Equal(t, pair[1], it.Destination.ID)
			assert.LessOrEqual(t, it.DurationMinutes, 360)
		}
	}
}

func TestPlanDeterministic(t *testing.T) {
	idx := gridIndex()

	var expected []string
	for _, workers := range []int{1, 3, 10} {
		p := newPlanner(idx, func(cfg *config.Planner) {
			cfg.HubWorkers = workers
		})
		for i := 0; i < 3; i++ {
			summary := []string{}
			for _, it := range p.PlanJourney(context.Background(), "g00", "g44", "07:00") {
				s := ""
				for _, leg := range it.Legs {
					s += leg.Trip.ID + "@" + leg.Departure + " "
				}
				summary = append(summary, s)
			}
			if expected == nil {
				expected = summary
				require.NotEmpty(t, expected)
			}
			assert.Equal(t, expected, summary)
		}
	}
}

func TestPlanCancelled(t *testing.T) {
	p := newPlanner(transferFeed("09:10").
		Trip("direct", "R", 0, "A 08:00", "D 09:00").
		Index())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := p.Plan(ctx, journey.Request{OriginID: "A", DestinationID: "D", MinDeparture: "07:00"})
	assert.True(t, result.Partial)
	assert.Equal(t, journey.OutcomeFound, result.Outcome)
	require.Len(t, result.Itineraries, 1)
	assert.Equal(t, 0, result.Itineraries[0].Transfers)
}

func TestPlanMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := journey.NewMetrics(registry)

	p := journey.NewPlanner(transferFeed("09:10").Index(), config.DefaultPlanner(),
		quietLogger(),
		journey.WithMetrics(metrics),
	)

	p.PlanJourney(context.Background(), "A", "D", "08:00")
	p.PlanJourney(context.Background(), "A", "D", "08:00")
	p.PlanJourney(context.Background(), "A", "A", "08:00")

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.SearchesTotal.WithLabelValues("found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SearchesTotal.WithLabelValues("same_stop")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.PartialSearches))
}
