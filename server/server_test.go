package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/journey"
	"tidbyt.dev/journey/config"
	"tidbyt.dev/journey/logging"
	"tidbyt.dev/journey/server"
	"tidbyt.dev/journey/testutil"
)

func testSchedule(t *testing.T) *journey.Schedule {
	return testutil.BuildSchedule(t, "memory", map[string][]string{
		"calendar.txt": {
			"service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date",
			"all,1,1,1,1,1,1,1,20240101,20241231",
		},
		"routes.txt": {
			"route_id,route_short_name,route_type",
			"r,R,3",
		},
		"trips.txt": {
			"route_id,service_id,trip_id,trip_headsign",
			"r,all,t,Uptown",
		},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon",
			"a,A,40.7,-74.0",
			"b,B,40.8,-74.0",
		},
		"stop_times.txt": {
			"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
			"t,08:00:00,08:00:00,a,1",
			"t,08:20:00,08:20:00,b,2",
		},
	})
}

func newServer(t *testing.T, source server.Source) (*server.Server, *prometheus.Registry) {
	cfg := config.Default()
	cfg.Server.AllowedOrigins = []string{"https://example.com"}

	registry := prometheus.NewRegistry()
	metrics := journey.NewMetrics(registry)
	logger := logging.New(io.Discard, "error")

	return server.New(source, cfg, logger, registry, metrics), registry
}

func staticSource(s *journey.Schedule) server.Source {
	return func(ctx context.Context) (*journey.Schedule, error) {
		return s, nil
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestPlan(t *testing.T) {
	s, _ := newServer(t, staticSource(testSchedule(t)))

	rec := get(t, s, "/api/plan?from=a&to=b&at=07:30")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := server.PlanResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, journey.OutcomeFound, resp.Outcome)
	assert.NotEmpty(t, resp.RequestID)
	assert.False(t, resp.Partial)
	require.Len(t, resp.Itineraries, 1)
	assert.Equal(t, "08:00", resp.Itineraries[0].Legs[0].Departure)
	assert.Equal(t, "Uptown", resp.Itineraries[0].Legs[0].DirectionLabel)

	body := decode(t, rec)
	assert.Equal(t, "found", body["outcome"])

	// Nothing after the last trip
	rec = get(t, s, "/api/plan?from=a&to=b&at=09:00")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "no_journey", body["outcome"])
	assert.Empty(t, body["itineraries"])
}

func TestPlanErrors(t *testing.T) {
	s, _ := newServer(t, staticSource(testSchedule(t)))

	for _, tc := range []struct {
		path    string
		status  int
		outcome string
	}{
		{"/api/plan?from=a", http.StatusBadRequest, ""},
		{"/api/plan?to=b", http.StatusBadRequest, ""},
		{"/api/plan?from=a&to=nope&at=07:00", http.StatusOK, "unknown_stop"},
		{"/api/plan?from=a&to=a&at=07:00", http.StatusOK, "same_stop"},
		{"/api/plan?from=a&to=b&at=7am", http.StatusOK, "invalid_time"},
		{"/api/plan?from=a&to=b&at=07:00&date=tomorrow", http.StatusOK, "invalid_time"},
	} {
		t.Run(tc.path, func(t *testing.T) {
			rec := get(t, s, tc.path)
			assert.Equal(t, tc.status, rec.Code)
			body := decode(t, rec)
			if tc.outcome == "" {
				assert.NotEmpty(t, body["error"])
			} else {
				assert.Equal(t, tc.outcome, body["outcome"])
			}
		})
	}
}

func TestNearbyStops(t *testing.T) {
	s, _ := newServer(t, staticSource(testSchedule(t)))

	rec := get(t, s, "/api/stops?lat=40.81&lon=-74")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := server.StopsResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "b", resp.Stops[0].ID)
	assert.Equal(t, "a", resp.Stops[1].ID)

	rec = get(t, s, "/api/stops?lat=40.81&lon=-74&limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/stops?lat=x&lon=-74").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/stops?lat=40&lon=").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/stops?lat=40&lon=-74&limit=-1").Code)
}

func TestStop(t *testing.T) {
	s, _ := newServer(t, staticSource(testSchedule(t)))

	rec := get(t, s, "/api/stops/a")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := server.StopResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "A", resp.Stop.Name)
	require.Len(t, resp.Routes, 1)
	assert.Equal(t, "r", resp.Routes[0].ID)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/stops/nope").Code)
}

func TestHealth(t *testing.T) {
	s, _ := newServer(t, staticSource(testSchedule(t)))
	rec := get(t, s, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["feed"])

	broken, _ := newServer(t, func(ctx context.Context) (*journey.Schedule, error) {
		return nil, journey.ErrNoActiveFeed
	})
	rec = get(t, broken, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "error", decode(t, rec)["status"])

	rec = get(t, broken, "/api/plan?from=a&to=b")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPlannerFollowsSchedule(t *testing.T) {
	first := testSchedule(t)
	second := testutil.BuildSchedule(t, "memory", map[string][]string{
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon",
			"c,C,40.7,-74.0",
		},
	})

	current := first
	s, _ := newServer(t, func(ctx context.Context) (*journey.Schedule, error) {
		if current == nil {
			return nil, errors.New("gone")
		}
		return current, nil
	})

	assert.Equal(t, "found", decode(t, get(t, s, "/api/plan?from=a&to=b&at=07:30"))["outcome"])

	// After a refresh, a and b no longer exist
	current = second
	assert.Equal(t, "unknown_stop", decode(t, get(t, s, "/api/plan?from=a&to=b&at=07:30"))["outcome"])

	current = nil
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s, "/api/plan?from=a&to=b&at=07:30").Code)
}

func TestMetricsAndCORS(t *testing.T) {
	s, _ := newServer(t, staticSource(testSchedule(t)))

	get(t, s, "/api/plan?from=a&to=b&at=07:30")

	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `journey_searches_total{outcome="found"} 1`)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://elsewhere.com")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
