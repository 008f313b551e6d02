// Package server exposes journey planning over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tidbyt.dev/journey"
	"tidbyt.dev/journey/config"
	"tidbyt.dev/journey/model"
)

const DefaultStopsLimit = 10

// Provides the schedule to plan on. Called once per request, so
// implementations should be cheap when nothing has changed.
type Source func(ctx context.Context) (*journey.Schedule, error)

type Server struct {
	source   Source
	cfg      config.Planner
	logger   *slog.Logger
	metrics  *journey.Metrics
	registry *prometheus.Registry
	router   chi.Router

	// Planners hold a cache of walkable stops, so one is kept
	// for the most recent schedule.
	mutex    sync.Mutex
	schedule *journey.Schedule
	planner  *journey.Planner
}

func New(
	source Source,
	cfg config.Config,
	logger *slog.Logger,
	registry *prometheus.Registry,
	metrics *journey.Metrics,
) *Server {
	s := &Server{
		source:   source,
		cfg:      cfg.Planner,
		logger:   logger,
		metrics:  metrics,
		registry: registry,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/api/plan", s.handlePlan)
	r.Get("/api/stops", s.handleNearbyStops)
	r.Get("/api/stops/{stopID}", s.handleStop)
	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug(
			"request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) plannerFor(schedule *journey.Schedule) *journey.Planner {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.schedule != schedule {
		opts := []journey.PlannerOption{journey.WithLogger(s.logger)}
		if s.metrics != nil {
			opts = append(opts, journey.WithMetrics(s.metrics))
		}
		s.planner = schedule.Planner(s.cfg, opts...)
		s.schedule = schedule
	}
	return s.planner
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type PlanResponse struct {
	RequestID   string            `json:"requestId"`
	Outcome     journey.Outcome   `json:"outcome"`
	Partial     bool              `json:"partial"`
	Hubs        int               `json:"hubs"`
	Itineraries []model.Itinerary `json:"itineraries"`
}

type StopsResponse struct {
	Stops []model.Stop `json:"stops"`
	Count int          `json:"count"`
}

type StopResponse struct {
	Stop   model.Stop    `json:"stop"`
	Routes []model.Route `json:"routes"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func (s *Server) loadSchedule(w http.ResponseWriter, r *http.Request) (*journey.Schedule, bool) {
	schedule, err := s.source(r.Context())
	if err != nil {
		s.logger.Error("loading schedule", "error", err)
		writeError(w, http.StatusServiceUnavailable, "schedule unavailable")
		return nil, false
	}
	return schedule, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	schedule, err := s.source(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	stats := schedule.Index.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"feed":   schedule.Metadata.Hash,
		"stops":  stats.Stops,
		"trips":  stats.Trips,
	})
}

// GET /api/plan?from=...&to=...[&at=HH:MM][&date=YYYYMMDD]
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := q.Get("from")
	to := q.Get("to")
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}

	schedule, ok := s.loadSchedule(w, r)
	if !ok {
		return
	}

	result := s.plannerFor(schedule).Plan(r.Context(), journey.Request{
		OriginID:      from,
		DestinationID: to,
		MinDeparture:  q.Get("at"),
		Date:          q.Get("date"),
	})

	// Unknown stops and bad times are outcomes, not request errors
	writeJSON(w, http.StatusOK, PlanResponse{
		RequestID:   result.RequestID,
		Outcome:     result.Outcome,
		Partial:     result.Partial,
		Hubs:        result.Hubs,
		Itineraries: result.Itineraries,
	})
}

// GET /api/stops?lat=...&lon=...[&limit=N]
func (s *Server) handleNearbyStops(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid lat")
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid lon")
		return
	}
	limit := DefaultStopsLimit
	if l := q.Get("limit"); l != "" {
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	schedule, ok := s.loadSchedule(w, r)
	if !ok {
		return
	}

	stops, err := schedule.NearbyStops(lat, lon, limit)
	if err != nil {
		s.logger.Error("nearby stops", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to retrieve stops")
		return
	}

	writeJSON(w, http.StatusOK, StopsResponse{Stops: stops, Count: len(stops)})
}

// GET /api/stops/{stopID}
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	schedule, ok := s.loadSchedule(w, r)
	if !ok {
		return
	}

	stop, found := schedule.Stop(chi.URLParam(r, "stopID"))
	if !found {
		writeError(w, http.StatusNotFound, "unknown stop")
		return
	}

	routes := []model.Route{}
	seen := map[string]bool{}
	for _, rd := range schedule.Index.StationRoutes(stop.ID) {
		if seen[rd.RouteID] {
			continue
		}
		seen[rd.RouteID] = true
		if route, found := schedule.Index.Route(rd.RouteID); found {
			routes = append(routes, route)
		}
	}

	writeJSON(w, http.StatusOK, StopResponse{Stop: stop, Routes: routes})
}
