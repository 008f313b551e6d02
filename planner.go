package journey

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/bluele/gcache"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tidbyt.dev/journey/config"
	"tidbyt.dev/journey/model"
)

type Outcome int

const (
	OutcomeFound Outcome = iota
	OutcomeSameStop
	OutcomeUnknownStop
	OutcomeInvalidTime
	OutcomeNoJourney
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeSameStop:
		return "same_stop"
	case OutcomeUnknownStop:
		return "unknown_stop"
	case OutcomeInvalidTime:
		return "invalid_time"
	case OutcomeNoJourney:
		return "no_journey"
	}
	return "unknown"
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	for _, candidate := range []Outcome{
		OutcomeFound,
		OutcomeSameStop,
		OutcomeUnknownStop,
		OutcomeInvalidTime,
		OutcomeNoJourney,
	} {
		if candidate.String() == string(text) {
			*o = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", text)
}

type Request struct {
	OriginID      string
	DestinationID string

	// Earliest departure as HH:MM (or HH:MM:SS). Blank means now,
	// in the feed's timezone.
	MinDeparture string

	// Service day as YYYYMMDD. Blank considers every trip in the
	// feed regardless of calendar.
	Date string
}

type Result struct {
	RequestID   string
	Outcome     Outcome
	Itineraries []model.Itinerary

	// Number of hubs selected for transfer search.
	Hubs int

	// Set when the search timed out before every hub was
	// evaluated.
	Partial bool
}

// Plans journeys over a single Index. Safe for concurrent use.
type Planner struct {
	index    *Index
	cfg      config.Planner
	location *time.Location
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time
	nearby   gcache.Cache
}

type PlannerOption func(*Planner)

func WithLogger(logger *slog.Logger) PlannerOption {
	return func(p *Planner) {
		p.logger = logger
	}
}

func WithMetrics(metrics *Metrics) PlannerOption {
	return func(p *Planner) {
		p.metrics = metrics
	}
}

// Timezone used to resolve a blank departure time.
func WithLocation(location *time.Location) PlannerOption {
	return func(p *Planner) {
		p.location = location
	}
}

func WithClock(now func() time.Time) PlannerOption {
	return func(p *Planner) {
		p.now = now
	}
}

func NewPlanner(index *Index, cfg config.Planner, opts ...PlannerOption) *Planner {
	p := &Planner{
		index:    index,
		cfg:      cfg,
		location: time.UTC,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.nearby = gcache.New(max(1, cfg.NearbyCacheSize)).
		LRU().
		LoaderFunc(func(key interface{}) (interface{}, error) {
			return p.walkableStops(key.(string)), nil
		}).
		Build()

	return p
}

func (p *Planner) Index() *Index {
	return p.index
}

// Itineraries from originID to destinationID, best first. Returns an
// empty slice when the stops are the same or unknown, when the time
// can't be parsed, or when nothing is found.
func (p *Planner) PlanJourney(ctx context.Context, originID, destinationID, minDeparture string) []model.Itinerary {
	result := p.Plan(ctx, Request{
		OriginID:      originID,
		DestinationID: destinationID,
		MinDeparture:  minDeparture,
	})
	return result.Itineraries
}

func (p *Planner) Plan(ctx context.Context, req Request) Result {
	start := time.Now()
	result := Result{
		RequestID:   uuid.NewString(),
		Itineraries: []model.Itinerary{},
	}

	logger := p.logger.With(
		"request_id", result.RequestID,
		"origin", req.OriginID,
		"destination", req.DestinationID,
	)

	defer func() {
		elapsed := time.Since(start)
		if p.metrics != nil {
			p.metrics.SearchesTotal.WithLabelValues(result.Outcome.String()).Inc()
			p.metrics.SearchSeconds.Observe(elapsed.Seconds())
			p.metrics.HubsEvaluated.Observe(float64(result.Hubs))
			p.metrics.ItinerariesFound.Observe(float64(len(result.Itineraries)))
			if result.Partial {
				p.metrics.PartialSearches.Inc()
			}
		}
		logger.Info(
			"planned journey",
			"outcome", result.Outcome.String(),
			"hubs", result.Hubs,
			"results", len(result.Itineraries),
			"partial", result.Partial,
			"elapsed", elapsed,
		)
	}()

	if req.OriginID == req.DestinationID {
		result.Outcome = OutcomeSameStop
		return result
	}

	origin, found := p.index.Stop(req.OriginID)
	if !found {
		result.Outcome = OutcomeUnknownStop
		return result
	}
	destination, found := p.index.Stop(req.DestinationID)
	if !found {
		result.Outcome = OutcomeUnknownStop
		return result
	}

	minDeparture, err := p.minDeparture(req.MinDeparture)
	if err != nil {
		logger.Debug("bad departure time", "at", req.MinDeparture, "error", err)
		result.Outcome = OutcomeInvalidTime
		return result
	}

	var services map[string]bool
	if req.Date != "" {
		services, err = p.index.ActiveServices(req.Date)
		if err != nil {
			logger.Debug("bad service date", "date", req.Date, "error", err)
			result.Outcome = OutcomeInvalidTime
			return result
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.SearchTimeout())
	defer cancel()

	opts := p.directOptions(services)

	candidates := []model.Itinerary{}
	directLegs := p.connect(p.index.Platforms(origin.ID), p.index.Platforms(destination.ID), minDeparture, opts)
	for _, leg := range directLegs {
		candidates = append(candidates, model.Itinerary{
			Origin:          origin,
			Destination:     destination,
			Legs:            []model.Leg{leg},
			DurationMinutes: leg.DurationMinutes,
			DistanceKm:      leg.DistanceKm,
			Confidence:      100,
		})
	}

	if p.cfg.TransferMode == config.TransferModeAlways || len(directLegs) < p.cfg.MinDirectResults {
		hubs := p.SelectHubs(origin.ID, destination.ID)
		result.Hubs = len(hubs)

		slots := make([][]model.Itinerary, len(hubs))
		var skipped atomic.Int32

		g := errgroup.Group{}
		g.SetLimit(max(1, p.cfg.HubWorkers))
		for i, hub := range hubs {
			if ctx.Err() != nil {
				skipped.Add(int32(len(hubs) - i))
				break
			}
			i, hub := i, hub
			g.Go(func() error {
				if ctx.Err() != nil {
					skipped.Add(1)
					return nil
				}
				slots[i] = p.evaluateHub(origin, destination, hub, minDeparture, opts)
				return nil
			})
		}
		g.Wait()

		if n := skipped.Load(); n > 0 {
			logger.Warn("search timed out", "skipped_hubs", n)
			result.Partial = true
		}

		for _, slot := range slots {
			candidates = append(candidates, slot...)
		}
	}

	result.Itineraries = Rank(candidates, p.cfg.MaxResults)
	if len(result.Itineraries) > 0 {
		result.Outcome = OutcomeFound
	} else {
		result.Outcome = OutcomeNoJourney
	}

	return result
}

func (p *Planner) minDeparture(s string) (model.Clock, error) {
	if s == "" {
		return model.ClockFromTime(p.now().In(p.location)), nil
	}
	return model.ParseClock(s)
}

func (p *Planner) directOptions(services map[string]bool) DirectOptions {
	return DirectOptions{
		Services:               services,
		TripsPerRouteDirection: p.cfg.TripsPerRouteDirection,
		MaxLegMinutes:          p.cfg.MaxLegMinutes,
	}
}

// Direct legs between any of the from stops and any of the to stops,
// by departure.
func (p *Planner) connect(from, to []string, minDeparture model.Clock, opts DirectOptions) []model.Leg {
	legs := []model.Leg{}
	for _, f := range from {
		for _, t := range to {
			legs = append(legs, p.index.DirectConnections(f, t, minDeparture, opts)...)
		}
	}

	if len(from) > 1 || len(to) > 1 {
		sortLegs(legs)
	}

	return legs
}

func sortLegs(legs []model.Leg) {
	sort.SliceStable(legs, func(i, j int) bool {
		a, b := &legs[i], &legs[j]
		ad, _ := model.ParseClock(a.Departure)
		bd, _ := model.ParseClock(b.Departure)
		if ad.Minutes() != bd.Minutes() {
			return ad.Minutes() < bd.Minutes()
		}
		if a.Route.ID != b.Route.ID {
			return a.Route.ID < b.Route.ID
		}
		return a.Trip.ID < b.Trip.ID
	})
}

func (p *Planner) evaluateHub(origin, destination model.Stop, hub Hub, minDeparture model.Clock, opts DirectOptions) []model.Itinerary {
	platforms := p.index.Platforms(hub.Stop.ID)

	firstLegs := p.connect(p.index.Platforms(origin.ID), platforms, minDeparture, opts)
	if len(firstLegs) == 0 {
		return nil
	}

	// Nothing useful departs the hub before the first arrival
	earliest, found := model.Clock{}, false
	for _, leg := range firstLegs {
		c, err := model.ParseClock(leg.Arrival)
		if err != nil {
			continue
		}
		if !found || c.Minutes() < earliest.Minutes() {
			earliest, found = c, true
		}
	}
	if !found {
		return nil
	}

	// Walking from the hub back to an endpoint isn't a transfer
	departFrom := append([]string{}, platforms...)
	excluded := p.endpointStops(origin, destination)
	for _, id := range p.nearbyStops(hub.Stop.ID) {
		if !excluded[id] {
			departFrom = append(departFrom, id)
		}
	}

	secondLegs := p.connect(departFrom, p.index.Platforms(destination.ID), earliest, opts)
	if len(secondLegs) == 0 {
		return nil
	}

	return p.AssembleTransfers(origin, destination, hub, firstLegs, secondLegs)
}

func (p *Planner) nearbyStops(stopID string) []string {
	v, err := p.nearby.Get(stopID)
	if err != nil {
		p.logger.Warn("nearby stop lookup failed", "stop", stopID, "error", err)
		return nil
	}
	return v.([]string)
}

// Served stops within walking radius of stopID, nearest first. The
// stop's own platforms aren't included.
func (p *Planner) walkableStops(stopID string) []string {
	if p.cfg.WalkRadiusKm <= 0 {
		return []string{}
	}

	center, found := p.index.Stop(stopID)
	if !found || !center.HasLocation() {
		return []string{}
	}

	own := map[string]bool{}
	for _, id := range p.index.Platforms(stopID) {
		own[id] = true
	}

	type walkable struct {
		id string
		km float64
	}
	candidates := []walkable{}
	for _, id := range p.index.StopIDs() {
		if own[id] || len(p.index.StopRoutes(id)) == 0 {
			continue
		}
		stop := p.index.stops[id]
		if !stop.HasLocation() {
			continue
		}
		km := model.HaversineDistance(center.Lat, center.Lon, stop.Lat, stop.Lon)
		if km <= p.cfg.WalkRadiusKm {
			candidates = append(candidates, walkable{id, km})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].km < candidates[j].km
	})

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.id)
	}
	return ids
}
