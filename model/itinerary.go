package model

// A stop visited during a leg. Times are HH:MM, empty for stops
// without scheduled times.
type StopVisit struct {
	Stop         Stop   `json:"stop"`
	StopSequence uint32 `json:"stopSequence"`
	Arrival      string `json:"arrival,omitempty"`
	Departure    string `json:"departure,omitempty"`
}

// One ride on a single trip.
type Leg struct {
	Route           Route       `json:"route"`
	Trip            Trip        `json:"trip"`
	From            Stop        `json:"from"`
	To              Stop        `json:"to"`
	Departure       string      `json:"departure"`
	Arrival         string      `json:"arrival"`
	DurationMinutes int         `json:"durationMinutes"`
	Stops           []StopVisit `json:"stops"`
	DirectionID     int8        `json:"directionId"`
	DirectionLabel  string      `json:"directionLabel"`
	DistanceKm      float64     `json:"distanceKm"`
}

// Boarding, intermediate and alighting stops are all included.
func (l *Leg) NumStops() int {
	return len(l.Stops)
}

// A complete journey of one or two legs.
type Itinerary struct {
	Origin          Stop    `json:"origin"`
	Destination     Stop    `json:"destination"`
	Legs            []Leg   `json:"legs"`
	DurationMinutes int     `json:"durationMinutes"`
	DistanceKm      float64 `json:"distanceKm"`
	Transfers       int     `json:"transfers"`
	WalkingMinutes  int     `json:"walkingMinutes"`
	WaitMinutes     int     `json:"waitMinutes"`
	Confidence      int     `json:"confidence"`
	TransferStops   []Stop  `json:"transferStops,omitempty"`
}

func (it *Itinerary) Departure() string {
	if len(it.Legs) == 0 {
		return ""
	}
	return it.Legs[0].Departure
}

func (it *Itinerary) Arrival() string {
	if len(it.Legs) == 0 {
		return ""
	}
	return it.Legs[len(it.Legs)-1].Arrival
}

// Route IDs of all legs, in order.
func (it *Itinerary) RouteIDs() []string {
	ids := make([]string, 0, len(it.Legs))
	for _, leg := range it.Legs {
		ids = append(ids, leg.Route.ID)
	}
	return ids
}
