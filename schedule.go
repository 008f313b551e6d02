package journey

import (
	"fmt"
	"time"

	"tidbyt.dev/journey/config"
	"tidbyt.dev/journey/model"
	"tidbyt.dev/journey/storage"
)

// One version of a static feed, loaded from storage and indexed for
// planning.
type Schedule struct {
	Metadata *storage.FeedMetadata
	Reader   storage.FeedReader
	Index    *Index

	location *time.Location
}

// Reads every table the planner needs out of reader.
func LoadFeed(reader storage.FeedReader) (Feed, error) {
	var feed Feed
	var err error

	feed.Stops, err = reader.Stops()
	if err != nil {
		return Feed{}, fmt.Errorf("reading stops: %w", err)
	}
	feed.Routes, err = reader.Routes()
	if err != nil {
		return Feed{}, fmt.Errorf("reading routes: %w", err)
	}
	feed.Trips, err = reader.Trips()
	if err != nil {
		return Feed{}, fmt.Errorf("reading trips: %w", err)
	}
	feed.StopTimes, err = reader.StopTimes()
	if err != nil {
		return Feed{}, fmt.Errorf("reading stop times: %w", err)
	}
	feed.Calendars, err = reader.Calendars()
	if err != nil {
		return Feed{}, fmt.Errorf("reading calendars: %w", err)
	}
	feed.CalendarDates, err = reader.CalendarDates()
	if err != nil {
		return Feed{}, fmt.Errorf("reading calendar dates: %w", err)
	}

	return feed, nil
}

func NewSchedule(reader storage.FeedReader, metadata *storage.FeedMetadata) (*Schedule, error) {
	location, err := time.LoadLocation(metadata.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone: %w", err)
	}

	feed, err := LoadFeed(reader)
	if err != nil {
		return nil, err
	}

	return &Schedule{
		Metadata: metadata,
		Reader:   reader,
		Index:    BuildIndex(feed),
		location: location,
	}, nil
}

// The feed's timezone.
func (s *Schedule) Location() *time.Location {
	return s.location
}

// A planner over this schedule. Blank departure times resolve to the
// current time in the feed's timezone unless opts say otherwise.
func (s *Schedule) Planner(cfg config.Planner, opts ...PlannerOption) *Planner {
	opts = append([]PlannerOption{WithLocation(s.location)}, opts...)
	return NewPlanner(s.Index, cfg, opts...)
}

func (s *Schedule) Stop(id string) (model.Stop, bool) {
	return s.Index.Stop(id)
}

// Returns stops ordered by distance from lat,lon.
//
// If limit is >0, at most limit stops are returned. Only stations and
// stops without a parent station are included.
func (s *Schedule) NearbyStops(lat float64, lon float64, limit int) ([]model.Stop, error) {
	stops, err := s.Reader.NearbyStops(lat, lon, limit)
	if err != nil {
		return nil, fmt.Errorf("getting nearby stops: %w", err)
	}
	return stops, nil
}
