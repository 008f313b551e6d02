// Package config holds the journey planner's configuration, loaded
// from YAML or TOML and validated before use.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var ErrUnsupportedFormat = errors.New("unsupported config format")

const (
	TransferModeAlways   = "always"
	TransferModeFallback = "fallback"
)

type Config struct {
	LogLevel string  `yaml:"log_level" toml:"log_level" validate:"oneof=debug info warn error"`
	Storage  Storage `yaml:"storage" toml:"storage"`
	Feed     Feed    `yaml:"feed" toml:"feed"`
	Planner  Planner `yaml:"planner" toml:"planner"`
	Server   Server  `yaml:"server" toml:"server"`
}

type Storage struct {
	// One of memory, sqlite or postgres.
	Backend string `yaml:"backend" toml:"backend" validate:"oneof=memory sqlite postgres"`

	// Directory for on-disk SQLite databases and the download
	// cache. Blank keeps SQLite in memory.
	Directory string `yaml:"directory" toml:"directory"`

	PostgresConnStr string `yaml:"postgres" toml:"postgres" validate:"required_if=Backend postgres"`
}

type Feed struct {
	StaticURL string            `yaml:"static_url" toml:"static_url" validate:"omitempty,url"`
	Headers   map[string]string `yaml:"headers" toml:"headers"`

	// Name recorded as the consumer of the feed.
	Consumer string `yaml:"consumer" toml:"consumer" validate:"required"`

	RefreshIntervalMinutes int `yaml:"refresh_interval_minutes" toml:"refresh_interval_minutes" validate:"gte=1"`
	MaxSizeMB              int `yaml:"max_size_mb" toml:"max_size_mb" validate:"gte=1"`
	DownloadTimeoutSeconds int `yaml:"download_timeout_seconds" toml:"download_timeout_seconds" validate:"gte=1"`

	// Indexed feed versions kept in memory.
	ScheduleCacheSize int `yaml:"schedule_cache_size" toml:"schedule_cache_size" validate:"gte=1"`
}

// Search bounds for the planner. All durations are in minutes unless
// noted otherwise.
type Planner struct {
	TripsPerRouteDirection int     `yaml:"trips_per_route_direction" toml:"trips_per_route_direction" validate:"gte=1"`
	MaxLegMinutes          int     `yaml:"max_leg_minutes" toml:"max_leg_minutes" validate:"gte=1"`
	MinHubRoutes           int     `yaml:"min_hub_routes" toml:"min_hub_routes" validate:"gte=2"`
	HubLimit               int     `yaml:"hub_limit" toml:"hub_limit" validate:"gte=1,lte=100"`
	WalkRadiusKm           float64 `yaml:"walk_radius_km" toml:"walk_radius_km" validate:"gte=0,lte=2"`
	StationTransferMinutes int     `yaml:"station_transfer_minutes" toml:"station_transfer_minutes" validate:"gte=0"`
	StopTransferMinutes    int     `yaml:"stop_transfer_minutes" toml:"stop_transfer_minutes" validate:"gte=0"`
	MinWalkMinutes         int     `yaml:"min_walk_minutes" toml:"min_walk_minutes" validate:"gte=0"`
	WalkMinutesPerKm       float64 `yaml:"walk_minutes_per_km" toml:"walk_minutes_per_km" validate:"gt=0"`
	MaxTransferWait        int     `yaml:"max_transfer_wait" toml:"max_transfer_wait" validate:"gtefield=StationTransferMinutes,gtefield=StopTransferMinutes"`
	MaxJourneyMinutes      int     `yaml:"max_journey_minutes" toml:"max_journey_minutes" validate:"gtefield=MaxLegMinutes"`
	ResultsPerHub          int     `yaml:"results_per_hub" toml:"results_per_hub" validate:"gte=1"`
	MaxResults             int     `yaml:"max_results" toml:"max_results" validate:"gte=1"`
	HubWorkers             int     `yaml:"hub_workers" toml:"hub_workers" validate:"gte=1,lte=64"`
	SearchTimeoutSeconds   int     `yaml:"search_timeout_seconds" toml:"search_timeout_seconds" validate:"gte=1"`
	TransferMode           string  `yaml:"transfer_mode" toml:"transfer_mode" validate:"oneof=always fallback"`
	MinDirectResults       int     `yaml:"min_direct_results" toml:"min_direct_results" validate:"gte=0"`
	NearbyCacheSize        int     `yaml:"nearby_cache_size" toml:"nearby_cache_size" validate:"gte=1"`
}

func (p Planner) SearchTimeout() time.Duration {
	return time.Duration(p.SearchTimeoutSeconds) * time.Second
}

type Server struct {
	Addr           string   `yaml:"addr" toml:"addr" validate:"required"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

func Default() Config {
	return Config{
		LogLevel: "info",
		Storage: Storage{
			Backend: "memory",
		},
		Feed: Feed{
			Consumer:               "journey",
			RefreshIntervalMinutes: 24 * 60,
			MaxSizeMB:              200,
			DownloadTimeoutSeconds: 120,
			ScheduleCacheSize:      2,
		},
		Planner: DefaultPlanner(),
		Server: Server{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
		},
	}
}

func DefaultPlanner() Planner {
	return Planner{
		TripsPerRouteDirection: 5,
		MaxLegMinutes:          300,
		MinHubRoutes:           3,
		HubLimit:               20,
		WalkRadiusKm:           0.4,
		StationTransferMinutes: 5,
		StopTransferMinutes:    8,
		MinWalkMinutes:         5,
		WalkMinutesPerKm:       12,
		MaxTransferWait:        45,
		MaxJourneyMinutes:      360,
		ResultsPerHub:          3,
		MaxResults:             10,
		HubWorkers:             10,
		SearchTimeoutSeconds:   10,
		TransferMode:           TransferModeAlways,
		MinDirectResults:       1,
		NearbyCacheSize:        1024,
	}
}

// Loads config from path on top of the defaults. The format is picked
// by file extension.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing yaml: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing toml: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}
