package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/journey/config"
)

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Planner.TripsPerRouteDirection)
	assert.Equal(t, 300, cfg.Planner.MaxLegMinutes)
	assert.Equal(t, 3, cfg.Planner.MinHubRoutes)
	assert.Equal(t, 20, cfg.Planner.HubLimit)
	assert.Equal(t, 0.4, cfg.Planner.WalkRadiusKm)
	assert.Equal(t, 45, cfg.Planner.MaxTransferWait)
	assert.Equal(t, 360, cfg.Planner.MaxJourneyMinutes)
	assert.Equal(t, 10, cfg.Planner.MaxResults)
	assert.Equal(t, 10*time.Second, cfg.Planner.SearchTimeout())
	assert.Equal(t, config.TransferModeAlways, cfg.Planner.TransferMode)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "journey.yaml", `
log_level: debug
storage:
  backend: sqlite
  directory: /tmp/journey
feed:
  static_url: https://example.com/gtfs.zip
  headers:
    x-api-key: secret
planner:
  hub_limit: 5
  transfer_mode: fallback
server:
  addr: ":9000"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/journey", cfg.Storage.Directory)
	assert.Equal(t, "https://example.com/gtfs.zip", cfg.Feed.StaticURL)
	assert.Equal(t, map[string]string{"x-api-key": "secret"}, cfg.Feed.Headers)
	assert.Equal(t, 5, cfg.Planner.HubLimit)
	assert.Equal(t, config.TransferModeFallback, cfg.Planner.TransferMode)
	assert.Equal(t, ":9000", cfg.Server.Addr)

	// Untouched values keep their defaults
	assert.Equal(t, 45, cfg.Planner.MaxTransferWait)
	assert.Equal(t, "journey", cfg.Feed.Consumer)
	assert.Equal(t, 2, cfg.Feed.ScheduleCacheSize)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "journey.toml", `
log_level = "warn"

[storage]
backend = "postgres"
postgres = "postgres://localhost/journey"

[planner]
max_results = 3
walk_radius_km = 0.25
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, "postgres://localhost/journey", cfg.Storage.PostgresConnStr)
	assert.Equal(t, 3, cfg.Planner.MaxResults)
	assert.Equal(t, 0.25, cfg.Planner.WalkRadiusKm)
}

func TestLoadErrors(t *testing.T) {
	_, err := config.Load(writeFile(t, "journey.json", `{}`))
	assert.True(t, errors.Is(err, config.ErrUnsupportedFormat))

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = config.Load(writeFile(t, "bad.yaml", "planner: [1, 2"))
	assert.Error(t, err)

	for name, content := range map[string]string{
		"backend":       "storage:\n  backend: redis\n",
		"postgres":      "storage:\n  backend: postgres\n",
		"hub limit":     "planner:\n  hub_limit: 0\n",
		"transfer wait": "planner:\n  max_transfer_wait: 4\n",
		"journey":       "planner:\n  max_journey_minutes: 10\n",
		"mode":          "planner:\n  transfer_mode: sometimes\n",
		"url":           "feed:\n  static_url: not a url\n",
		"log level":     "log_level: loud\n",
	} {
		_, err := config.Load(writeFile(t, "journey.yaml", content))
		assert.Error(t, err, name)
	}
}
