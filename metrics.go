package journey

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	SearchesTotal      *prometheus.CounterVec
	SearchSeconds      prometheus.Histogram
	HubsEvaluated      prometheus.Histogram
	ItinerariesFound   prometheus.Histogram
	PartialSearches    prometheus.Counter
	FeedRefreshesTotal *prometheus.CounterVec
	ScheduleBuilds     prometheus.Counter
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "journey_searches_total",
				Help: "Journey searches by outcome",
			},
			[]string{"outcome"},
		),
		SearchSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "journey_search_seconds",
				Help:    "Wall time spent planning a journey",
				Buckets: prometheus.DefBuckets,
			},
		),
		HubsEvaluated: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "journey_hubs_evaluated",
				Help:    "Transfer hubs considered per search",
				Buckets: prometheus.LinearBuckets(0, 5, 11),
			},
		),
		ItinerariesFound: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "journey_itineraries_found",
				Help:    "Itineraries returned per search",
				Buckets: prometheus.LinearBuckets(0, 2, 11),
			},
		),
		PartialSearches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "journey_partial_searches_total",
				Help: "Searches cut short by the search timeout",
			},
		),
		FeedRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "journey_feed_refreshes_total",
				Help: "Static feed refresh attempts by result",
			},
			[]string{"result"},
		),
		ScheduleBuilds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "journey_schedule_builds_total",
				Help: "Schedule indexes built from storage",
			},
		),
	}

	registry.MustRegister(
		metrics.SearchesTotal,
		metrics.SearchSeconds,
		metrics.HubsEvaluated,
		metrics.ItinerariesFound,
		metrics.PartialSearches,
		metrics.FeedRefreshesTotal,
		metrics.ScheduleBuilds,
	)

	return metrics
}
