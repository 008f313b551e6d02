package journey

import (
	"fmt"
	"sort"
	"time"

	"tidbyt.dev/journey/model"
)

// The static tables a schedule is built from.
type Feed struct {
	Stops         []model.Stop
	Routes        []model.Route
	Trips         []model.Trip
	StopTimes     []model.StopTime
	Calendars     []model.Calendar
	CalendarDates []model.CalendarDate
}

// A route travelled in one direction.
type RouteDirection struct {
	RouteID     string
	DirectionID int8
}

// Counts of what went into an Index, and what had to be left out.
type IndexStats struct {
	Stops     int
	Routes    int
	Trips     int
	StopTimes int

	// Trips referencing an unknown route.
	SkippedTrips int

	// Stop times referencing an unknown trip or stop.
	SkippedStopTimes int
}

// Read-only lookup structure over a Feed. An Index is never modified
// after BuildIndex returns, so it can be shared between goroutines.
type Index struct {
	stops  map[string]*model.Stop
	routes map[string]*model.Route
	trips  map[string]*model.Trip

	// Stop times per trip, by stop_sequence
	tripStops map[string][]model.StopTime

	// Route directions serving each stop, sorted
	stopRoutes map[string][]RouteDirection

	// Distinct routes serving each stop
	routeCount map[string]int

	routeDirectionStops map[RouteDirection][]string
	routeDirectionTrips map[RouteDirection][]string

	// Child stops per parent station, sorted
	children map[string][]string

	calendars     map[string]model.Calendar
	calendarDates map[string][]model.CalendarDate

	stopIDs []string
	stats   IndexStats
}

func BuildIndex(feed Feed) *Index {
	idx := &Index{
		stops:               map[string]*model.Stop{},
		routes:              map[string]*model.Route{},
		trips:               map[string]*model.Trip{},
		tripStops:           map[string][]model.StopTime{},
		stopRoutes:          map[string][]RouteDirection{},
		routeCount:          map[string]int{},
		routeDirectionStops: map[RouteDirection][]string{},
		routeDirectionTrips: map[RouteDirection][]string{},
		children:            map[string][]string{},
		calendars:           map[string]model.Calendar{},
		calendarDates:       map[string][]model.CalendarDate{},
	}

	for i := range feed.Stops {
		s := feed.Stops[i]
		idx.stops[s.ID] = &s
		idx.stopIDs = append(idx.stopIDs, s.ID)
	}
	sort.Strings(idx.stopIDs)

	for _, id := range idx.stopIDs {
		s := idx.stops[id]
		if s.ParentStation != "" && s.ParentStation != s.ID {
			idx.children[s.ParentStation] = append(idx.children[s.ParentStation], s.ID)
		}
	}

	for i := range feed.Routes {
		r := feed.Routes[i]
		idx.routes[r.ID] = &r
	}

	for i := range feed.Trips {
		t := feed.Trips[i]
		if _, found := idx.routes[t.RouteID]; !found {
			idx.stats.SkippedTrips++
			continue
		}
		idx.trips[t.ID] = &t
	}

	for _, st := range feed.StopTimes {
		if _, found := idx.trips[st.TripID]; !found {
			idx.stats.SkippedStopTimes++
			continue
		}
		if _, found := idx.stops[st.StopID]; !found {
			idx.stats.SkippedStopTimes++
			continue
		}
		idx.tripStops[st.TripID] = append(idx.tripStops[st.TripID], st)
		idx.stats.StopTimes++
	}

	for _, sts := range idx.tripStops {
		sort.SliceStable(sts, func(i, j int) bool {
			return sts[i].StopSequence < sts[j].StopSequence
		})
	}

	// Group trips by route direction, and note which route
	// directions serve each stop.
	stopRD := map[string]map[RouteDirection]bool{}
	stopRouteIDs := map[string]map[string]bool{}
	rdTrips := map[RouteDirection][]string{}
	for tripID, sts := range idx.tripStops {
		trip := idx.trips[tripID]
		rd := RouteDirection{RouteID: trip.RouteID, DirectionID: trip.DirectionID}
		rdTrips[rd] = append(rdTrips[rd], tripID)

		for _, st := range sts {
			if stopRD[st.StopID] == nil {
				stopRD[st.StopID] = map[RouteDirection]bool{}
				stopRouteIDs[st.StopID] = map[string]bool{}
			}
			stopRD[st.StopID][rd] = true
			stopRouteIDs[st.StopID][trip.RouteID] = true
		}
	}

	for stopID, rds := range stopRD {
		list := make([]RouteDirection, 0, len(rds))
		for rd := range rds {
			list = append(list, rd)
		}
		sortRouteDirections(list)
		idx.stopRoutes[stopID] = list
		idx.routeCount[stopID] = len(stopRouteIDs[stopID])
	}

	for rd, tripIDs := range rdTrips {
		idx.routeDirectionTrips[rd] = idx.sortTripsByDeparture(tripIDs)
		idx.routeDirectionStops[rd] = idx.mergeStopOrder(tripIDs)
	}

	for _, c := range feed.Calendars {
		idx.calendars[c.ServiceID] = c
	}
	for _, cd := range feed.CalendarDates {
		idx.calendarDates[cd.Date] = append(idx.calendarDates[cd.Date], cd)
	}

	idx.stats.Stops = len(idx.stops)
	idx.stats.Routes = len(idx.routes)
	idx.stats.Trips = len(idx.trips)

	return idx
}

func sortRouteDirections(rds []RouteDirection) {
	sort.Slice(rds, func(i, j int) bool {
		if rds[i].RouteID != rds[j].RouteID {
			return rds[i].RouteID < rds[j].RouteID
		}
		return rds[i].DirectionID < rds[j].DirectionID
	})
}

// First scheduled departure of a trip in minutes, or -1 if it has
// no usable times at all.
func (idx *Index) firstDeparture(tripID string) int {
	for _, st := range idx.tripStops[tripID] {
		if c, err := st.DepartureClock(); err == nil {
			return c.Minutes()
		}
	}
	return -1
}

// Orders trips by first departure, trips without times last.
func (idx *Index) sortTripsByDeparture(tripIDs []string) []string {
	sorted := append([]string{}, tripIDs...)
	first := make(map[string]int, len(sorted))
	for _, id := range sorted {
		first[id] = idx.firstDeparture(id)
	}
	sort.Slice(sorted, func(i, j int) bool {
		a, b := first[sorted[i]], first[sorted[j]]
		if (a < 0) != (b < 0) {
			return b < 0
		}
		if a != b {
			return a < b
		}
		return sorted[i] < sorted[j]
	})
	return sorted
}

// Stop order for a route direction. The longest trip gives the
// base order, and stops only visited by other trips are slotted in
// after the closest stop preceding them on that trip.
func (idx *Index) mergeStopOrder(tripIDs []string) []string {
	trips := append([]string{}, tripIDs...)
	sort.Slice(trips, func(i, j int) bool {
		li, lj := len(idx.tripStops[trips[i]]), len(idx.tripStops[trips[j]])
		if li != lj {
			return li > lj
		}
		return trips[i] < trips[j]
	})

	order := []string{}
	seen := map[string]bool{}
	for _, tripID := range trips {
		insertAt := 0
		for _, st := range idx.tripStops[tripID] {
			if seen[st.StopID] {
				insertAt = indexOf(order, st.StopID) + 1
				continue
			}
			order = append(order, "")
			copy(order[insertAt+1:], order[insertAt:])
			order[insertAt] = st.StopID
			seen[st.StopID] = true
			insertAt++
		}
	}

	return order
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func (idx *Index) Stats() IndexStats {
	return idx.stats
}

func (idx *Index) Stop(id string) (model.Stop, bool) {
	s, found := idx.stops[id]
	if !found {
		return model.Stop{}, false
	}
	return *s, true
}

func (idx *Index) Route(id string) (model.Route, bool) {
	r, found := idx.routes[id]
	if !found {
		return model.Route{}, false
	}
	return *r, true
}

func (idx *Index) Trip(id string) (model.Trip, bool) {
	t, found := idx.trips[id]
	if !found {
		return model.Trip{}, false
	}
	return *t, true
}

// All stop IDs, sorted.
func (idx *Index) StopIDs() []string {
	return idx.stopIDs
}

// Stop times of a trip ordered by stop_sequence. Must not be
// modified.
func (idx *Index) TripStops(tripID string) []model.StopTime {
	return idx.tripStops[tripID]
}

func (idx *Index) StopRoutes(stopID string) []RouteDirection {
	return idx.stopRoutes[stopID]
}

// Number of distinct routes calling at a stop.
func (idx *Index) RouteCount(stopID string) int {
	return idx.routeCount[stopID]
}

func (idx *Index) RouteDirectionStops(rd RouteDirection) []string {
	return idx.routeDirectionStops[rd]
}

// Trips of a route direction, ordered by first departure.
func (idx *Index) RouteDirectionTrips(rd RouteDirection) []string {
	return idx.routeDirectionTrips[rd]
}

func (idx *Index) Children(stationID string) []string {
	return idx.children[stationID]
}

// The stop itself followed by its children, if any. Stations don't
// have stop times of their own; their platforms do.
func (idx *Index) Platforms(stopID string) []string {
	return append([]string{stopID}, idx.children[stopID]...)
}

// Route directions serving a stop or any of its children.
func (idx *Index) StationRoutes(stopID string) []RouteDirection {
	seen := map[RouteDirection]bool{}
	list := []RouteDirection{}
	for _, id := range idx.Platforms(stopID) {
		for _, rd := range idx.stopRoutes[id] {
			if !seen[rd] {
				seen[rd] = true
				list = append(list, rd)
			}
		}
	}
	sortRouteDirections(list)
	return list
}

// Service IDs active on date (YYYYMMDD), per calendar.txt and
// calendar_dates.txt.
func (idx *Index) ActiveServices(date string) (map[string]bool, error) {
	parsed, err := time.Parse("20060102", date)
	if err != nil {
		return nil, fmt.Errorf("invalid date: %s", date)
	}

	services := map[string]bool{}
	for _, c := range idx.calendars {
		if c.Weekday&(1<<parsed.Weekday()) == 0 {
			continue
		}
		if c.StartDate > date || c.EndDate < date {
			continue
		}
		services[c.ServiceID] = true
	}

	for _, cd := range idx.calendarDates[date] {
		switch cd.ExceptionType {
		case model.ExceptionTypeAdded:
			services[cd.ServiceID] = true
		case model.ExceptionTypeRemoved:
			delete(services, cd.ServiceID)
		}
	}

	return services, nil
}
