package model

// Holds all external facing types and constants.

type LocationType int

const (
	LocationTypeStop LocationType = iota
	LocationTypeStation
	LocationTypeEntranceExit
	LocationTypeGenericNode
	LocationTypeBoardingArea
)

type RouteType int

const (
	RouteTypeTram       RouteType = 0
	RouteTypeSubway     RouteType = 1
	RouteTypeRail       RouteType = 2
	RouteTypeBus        RouteType = 3
	RouteTypeFerry      RouteType = 4
	RouteTypeCable      RouteType = 5
	RouteTypeAerial     RouteType = 6
	RouteTypeFunicular  RouteType = 7
	RouteTypeTrolleybus RouteType = 11
	RouteTypeMonorail   RouteType = 12
)

type WheelchairBoarding int8

const (
	WheelchairUnknown WheelchairBoarding = iota
	WheelchairAccessible
	WheelchairInaccessible
)

type ExceptionType int8

const (
	ExceptionTypeAdded   ExceptionType = 1
	ExceptionTypeRemoved ExceptionType = 2
)

type Agency struct {
	ID       string
	Name     string
	URL      string
	Timezone string
}

type Calendar struct {
	ServiceID string
	StartDate string
	EndDate   string

	// Bitmask over time.Weekday.
	Weekday int8
}

type CalendarDate struct {
	ServiceID     string
	Date          string
	ExceptionType ExceptionType
}

type Stop struct {
	ID                 string
	Code               string
	Name               string
	Desc               string
	Lat                float64
	Lon                float64
	URL                string
	LocationType       LocationType
	ParentStation      string
	PlatformCode       string
	ZoneID             string
	WheelchairBoarding WheelchairBoarding
}

// Stations (location_type=1) are the feed's official interchanges.
func (s *Stop) IsStation() bool {
	return s.LocationType == LocationTypeStation
}

func (s *Stop) HasLocation() bool {
	return s.Lat != 0 || s.Lon != 0
}

type Trip struct {
	ID          string
	RouteID     string
	ServiceID   string
	Headsign    string
	ShortName   string
	DirectionID int8
}

type Route struct {
	ID        string
	AgencyID  string
	ShortName string
	LongName  string
	Desc      string
	Type      RouteType
	URL       string
	Color     string
	TextColor string
}

// Display name, preferring the short name.
func (r *Route) Name() string {
	if r.ShortName != "" {
		return r.ShortName
	}
	return r.LongName
}

// Arrival and Departure are HHMMSS, as normalized by the parser. Either
// can be empty for stops that aren't timepoints.
type StopTime struct {
	TripID       string
	StopID       string
	Headsign     string
	StopSequence uint32
	Arrival      string
	Departure    string
}

func (st *StopTime) ArrivalClock() (Clock, error) {
	return ParseClock(st.Arrival)
}

func (st *StopTime) DepartureClock() (Clock, error) {
	return ParseClock(st.Departure)
}
