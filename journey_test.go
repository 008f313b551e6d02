package journey_test

// Helpers for building small schedules in tests.

import (
	"fmt"
	"io"
	"strings"

	"tidbyt.dev/journey"
	"tidbyt.dev/journey/config"
	"tidbyt.dev/journey/logging"
	"tidbyt.dev/journey/model"
)

type feedBuilder struct {
	feed   journey.Feed
	routes map[string]bool
	seq    map[string]uint32
}

// A feed where every trip runs every day.
func newFeed() *feedBuilder {
	return &feedBuilder{
		feed: journey.Feed{
			Calendars: []model.Calendar{{
				ServiceID: "always",
				StartDate: "20000101",
				EndDate:   "20991231",
				Weekday:   0x7f,
			}},
		},
		routes: map[string]bool{},
		seq:    map[string]uint32{},
	}
}

func (b *feedBuilder) Stop(id string, lat, lon float64) *feedBuilder {
	b.feed.Stops = append(b.feed.Stops, model.Stop{
		ID:   id,
		Name: "Stop " + id,
		Lat:  lat,
		Lon:  lon,
	})
	return b
}

func (b *feedBuilder) Station(id string, lat, lon float64) *feedBuilder {
	b.feed.Stops = append(b.feed.Stops, model.Stop{
		ID:           id,
		Name:         "Station " + id,
		Lat:          lat,
		Lon:          lon,
		LocationType: model.LocationTypeStation,
	})
	return b
}

func (b *feedBuilder) Platform(id, parent string, lat, lon float64) *feedBuilder {
	b.feed.Stops = append(b.feed.Stops, model.Stop{
		ID:            id,
		Name:          "Platform " + id,
		Lat:           lat,
		Lon:           lon,
		ParentStation: parent,
	})
	return b
}

// Adds a trip calling at each of calls in order. A call is "stop
// HH:MM", or just "stop" for a stop without scheduled times.
func (b *feedBuilder) Trip(id, routeID string, direction int8, calls ...string) *feedBuilder {
	if !b.routes[routeID] {
		b.routes[routeID] = true
		b.feed.Routes = append(b.feed.Routes, model.Route{
			ID:        routeID,
			ShortName: routeID,
			Type:      model.RouteTypeBus,
		})
	}

	b.feed.Trips = append(b.feed.Trips, model.Trip{
		ID:          id,
		RouteID:     routeID,
		ServiceID:   "always",
		DirectionID: direction,
	})

	for _, call := range calls {
		fields := strings.Fields(call)
		b.seq[id]++
		st := model.StopTime{
			TripID:       id,
			StopID:       fields[0],
			StopSequence: b.seq[id],
		}
		if len(fields) > 1 {
			c, err := model.ParseClock(fields[1])
			if err != nil {
				panic(fmt.Sprintf("bad time in %q: %v", call, err))
			}
			hhmmss := fmt.Sprintf("%02d%02d00", c.Hour, c.Minute)
			st.Arrival, st.Departure = hhmmss, hhmmss
		}
		b.feed.StopTimes = append(b.feed.StopTimes, st)
	}

	return b
}

func (b *feedBuilder) Headsign(tripID, headsign string) *feedBuilder {
	for i := range b.feed.Trips {
		if b.feed.Trips[i].ID == tripID {
			b.feed.Trips[i].Headsign = headsign
		}
	}
	return b
}

func (b *feedBuilder) Feed() journey.Feed {
	return b.feed
}

func (b *feedBuilder) Index() *journey.Index {
	return journey.BuildIndex(b.feed)
}

func quietLogger() journey.PlannerOption {
	return journey.WithLogger(logging.New(io.Discard, "error"))
}

func newPlanner(idx *journey.Index, tweaks ...func(*config.Planner)) *journey.Planner {
	cfg := config.DefaultPlanner()
	for _, tweak := range tweaks {
		tweak(&cfg)
	}
	return journey.NewPlanner(idx, cfg, quietLogger())
}
