package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"tidbyt.dev/journey"
	"tidbyt.dev/journey/config"
	"tidbyt.dev/journey/downloader"
	"tidbyt.dev/journey/logging"
	"tidbyt.dev/journey/storage"
)

var rootCmd = &cobra.Command{
	Use:               "journey",
	Short:             "Transit journey planner",
	Long:              "Plans direct and one-transfer journeys over GTFS static feeds",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	configPath    string
	staticURL     string
	staticHeaders []string
	storageType   string
	storageDir    string
	logLevel      string

	cfg    config.Config
	logger *slog.Logger
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (YAML or TOML)")
	rootCmd.PersistentFlags().StringVarP(&staticURL, "static-url", "", "", "GTFS Static URL")
	rootCmd.PersistentFlags().StringSliceVarP(
		&staticHeaders,
		"header",
		"",
		[]string{},
		"GTFS Static HTTP header",
	)
	rootCmd.PersistentFlags().StringVarP(&storageType, "storage", "", "", "Storage backend (memory, sqlite or postgres)")
	rootCmd.PersistentFlags().StringVarP(&storageDir, "dir", "", "", "Directory for SQLite databases and the download cache")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "", "", "Log level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// Resolves config from file, environment and flags, in increasing
// order of precedence.
func setup(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	if configPath == "" {
		configPath = os.Getenv("JOURNEY_CONFIG")
	}

	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Default()
	}

	if conn := os.Getenv("JOURNEY_POSTGRES"); conn != "" {
		cfg.Storage.PostgresConnStr = conn
	}
	if staticURL != "" {
		cfg.Feed.StaticURL = staticURL
	}
	if len(staticHeaders) > 0 {
		headers, err := parseHeaders(staticHeaders)
		if err != nil {
			return fmt.Errorf("invalid header: %w", err)
		}
		if cfg.Feed.Headers == nil {
			cfg.Feed.Headers = map[string]string{}
		}
		for k, v := range headers {
			cfg.Feed.Headers[k] = v
		}
	}
	if storageType != "" {
		cfg.Storage.Backend = storageType
	}
	if storageDir != "" {
		cfg.Storage.Directory = storageDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger = logging.Init(cfg.LogLevel)
	return nil
}

func parseHeaders(headers []string) (map[string]string, error) {
	parsed := map[string]string{}
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("'%s' is not on form <key>:<value>", header)
		}
		parsed[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return parsed, nil
}

func buildStorage() (storage.Storage, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return storage.NewMemoryStorage(), nil
	case "sqlite":
		if cfg.Storage.Directory == "" {
			return storage.NewSQLiteStorage()
		}
		return storage.NewSQLiteStorage(storage.SQLiteConfig{OnDisk: true, Directory: cfg.Storage.Directory})
	case "postgres":
		return storage.NewPSQLStorage(cfg.Storage.PostgresConnStr, false)
	}
	return nil, fmt.Errorf("unknown storage backend '%s'", cfg.Storage.Backend)
}

func newManager(metrics *journey.Metrics) (*journey.Manager, error) {
	if cfg.Feed.StaticURL == "" {
		return nil, fmt.Errorf("static URL is required")
	}

	s, err := buildStorage()
	if err != nil {
		return nil, err
	}

	manager := journey.NewManager(s)
	manager.Configure(cfg.Feed)
	manager.Logger = logger
	manager.Metrics = metrics

	// Without persistent storage, each CLI invocation would
	// download the feed again.
	if cfg.Storage.Backend == "memory" && cfg.Storage.Directory != "" {
		fs, err := downloader.NewFilesystem(filepath.Join(cfg.Storage.Directory, "download-cache.json"))
		if err != nil {
			return nil, fmt.Errorf("creating download cache: %w", err)
		}
		fs.Logger = logger
		manager.Downloader = fs
		manager.DownloadCacheTTL = manager.StaticRefreshInterval
	}

	return manager, nil
}

func LoadSchedule(ctx context.Context) (*journey.Schedule, error) {
	manager, err := newManager(nil)
	if err != nil {
		return nil, err
	}

	return manager.LoadSchedule(ctx, cfg.Feed.Consumer, cfg.Feed.StaticURL, cfg.Feed.Headers, time.Now())
}
