package storage

import (
	"fmt"
	"sort"
	"sync"

	"tidbyt.dev/journey/model"
)

// In memory implementation of Storage below

type memoryMetadataKey struct {
	URL  string
	Hash string
}

type MemoryStorage struct {
	mutex    sync.Mutex
	feeds    map[string]*MemoryStorageFeed
	metadata map[memoryMetadataKey]*FeedMetadata
	requests map[string]*FeedRequest
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		feeds:    map[string]*MemoryStorageFeed{},
		metadata: map[memoryMetadataKey]*FeedMetadata{},
		requests: map[string]*FeedRequest{},
	}
}

func (s *MemoryStorage) ListFeeds(filter ListFeedsFilter) ([]*FeedMetadata, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	feeds := []*FeedMetadata{}
	for _, metadata := range s.metadata {
		if filter.URL != "" && metadata.URL != filter.URL {
			continue
		}
		if filter.Hash != "" && metadata.Hash != filter.Hash {
			continue
		}
		m := *metadata
		feeds = append(feeds, &m)
	}
	sort.Slice(feeds, func(i, j int) bool {
		return feeds[i].RetrievedAt.After(feeds[j].RetrievedAt)
	})
	return feeds, nil
}

func (s *MemoryStorage) WriteFeedMetadata(feed *FeedMetadata) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	m := *feed
	s.metadata[memoryMetadataKey{feed.URL, feed.Hash}] = &m
	return nil
}

func (s *MemoryStorage) ListFeedRequests(url string) ([]FeedRequest, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	reqs := []FeedRequest{}
	for _, req := range s.requests {
		if url != "" && req.URL != url {
			continue
		}
		r := *req
		r.Consumers = append([]FeedConsumer{}, req.Consumers...)
		sort.Slice(r.Consumers, func(i, j int) bool {
			return r.Consumers[i].Name < r.Consumers[j].Name
		})
		reqs = append(reqs, r)
	}

	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].URL < reqs[j].URL
	})

	return reqs, nil
}

func (s *MemoryStorage) WriteFeedRequest(req FeedRequest) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	existing, found := s.requests[req.URL]
	if !found {
		existing = &FeedRequest{URL: req.URL}
		s.requests[req.URL] = existing
	}

	if !req.RefreshedAt.IsZero() {
		existing.RefreshedAt = req.RefreshedAt
	}

	for _, con := range req.Consumers {
		updated := false
		for i, old := range existing.Consumers {
			if old.Name != con.Name {
				continue
			}
			// Only bump updated_at if headers changed
			if old.Headers != con.Headers {
				existing.Consumers[i].Headers = con.Headers
				existing.Consumers[i].UpdatedAt = con.UpdatedAt
			}
			updated = true
			break
		}
		if !updated {
			existing.Consumers = append(existing.Consumers, con)
		}
	}

	return nil
}

func (s *MemoryStorage) GetReader(hash string) (FeedReader, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	f, ok := s.feeds[hash]
	if !ok {
		return nil, fmt.Errorf("feed %s does not exist", hash)
	}
	return f, nil
}

func (s *MemoryStorage) GetWriter(hash string) (FeedWriter, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	f := &MemoryStorageFeed{
		agency:    map[string]model.Agency{},
		stops:     map[string]model.Stop{},
		routes:    map[string]model.Route{},
		trips:     map[string]model.Trip{},
		calendar:  map[string]model.Calendar{},
		stopTimes: []model.StopTime{},
	}
	s.feeds[hash] = f

	return f, nil
}

type MemoryStorageFeed struct {
	agency        map[string]model.Agency
	stops         map[string]model.Stop
	routes        map[string]model.Route
	trips         map[string]model.Trip
	calendar      map[string]model.Calendar
	calendarDates []model.CalendarDate
	stopTimes     []model.StopTime
}

func (f *MemoryStorageFeed) WriteAgency(agency model.Agency) error {
	f.agency[agency.ID] = agency
	return nil
}

func (f *MemoryStorageFeed) WriteStop(stop model.Stop) error {
	f.stops[stop.ID] = stop
	return nil
}

func (f *MemoryStorageFeed) WriteRoute(route model.Route) error {
	f.routes[route.ID] = route
	return nil
}

func (f *MemoryStorageFeed) BeginTrips() error {
	return nil
}

func (f *MemoryStorageFeed) WriteTrip(trip model.Trip) error {
	f.trips[trip.ID] = trip
	return nil
}

func (f *MemoryStorageFeed) EndTrips() error {
	return nil
}

func (f *MemoryStorageFeed) WriteCalendar(cal model.Calendar) error {
	f.calendar[cal.ServiceID] = cal
	return nil
}

func (f *MemoryStorageFeed) WriteCalendarDate(cd model.CalendarDate) error {
	f.calendarDates = append(f.calendarDates, cd)
	return nil
}

func (f *MemoryStorageFeed) BeginStopTimes() error {
	return nil
}

func (f *MemoryStorageFeed) WriteStopTime(stopTime model.StopTime) error {
	f.stopTimes = append(f.stopTimes, stopTime)
	return nil
}

func (f *MemoryStorageFeed) EndStopTimes() error {
	return nil
}

func (f *MemoryStorageFeed) Close() error {
	return nil
}

func (f *MemoryStorageFeed) Agencies() ([]model.Agency, error) {
	agencies := []model.Agency{}
	for _, a := range f.agency {
		agencies = append(agencies, a)
	}
	return agencies, nil
}

func (f *MemoryStorageFeed) Stops() ([]model.Stop, error) {
	stops := []model.Stop{}
	for _, s := range f.stops {
		stops = append(stops, s)
	}
	return stops, nil
}

func (f *MemoryStorageFeed) Routes() ([]model.Route, error) {
	routes := []model.Route{}
	for _, r := range f.routes {
		routes = append(routes, r)
	}
	return routes, nil
}

func (f *MemoryStorageFeed) Trips() ([]model.Trip, error) {
	trips := []model.Trip{}
	for _, t := range f.trips {
		trips = append(trips, t)
	}
	return trips, nil
}

func (f *MemoryStorageFeed) StopTimes() ([]model.StopTime, error) {
	return append([]model.StopTime{}, f.stopTimes...), nil
}

func (f *MemoryStorageFeed) Calendars() ([]model.Calendar, error) {
	cals := []model.Calendar{}
	for _, c := range f.calendar {
		cals = append(cals, c)
	}
	return cals, nil
}

func (f *MemoryStorageFeed) CalendarDates() ([]model.CalendarDate, error) {
	return append([]model.CalendarDate{}, f.calendarDates...), nil
}

func (f *MemoryStorageFeed) NearbyStops(lat float64, lng float64, limit int) ([]model.Stop, error) {
	stops := []model.Stop{}
	for _, s := range f.stops {
		if !nearbyCandidate(&s) {
			continue
		}
		stops = append(stops, s)
	}

	// Map iteration order is random; keep ties stable
	sort.Slice(stops, func(i, j int) bool {
		return stops[i].ID < stops[j].ID
	})

	return closestStops(stops, lat, lng, limit), nil
}
