package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"tidbyt.dev/journey"
	"tidbyt.dev/journey/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the journey planner over HTTP",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := journey.NewMetrics(registry)

	manager, err := newManager(metrics)
	if err != nil {
		return err
	}

	source := func(ctx context.Context) (*journey.Schedule, error) {
		return manager.LoadScheduleAsync(cfg.Feed.Consumer, cfg.Feed.StaticURL, cfg.Feed.Headers, time.Now())
	}

	// Retrieve the feed before accepting requests, so the first
	// ones don't all fail.
	_, err = manager.LoadSchedule(ctx, cfg.Feed.Consumer, cfg.Feed.StaticURL, cfg.Feed.Headers, time.Now())
	if err != nil && !errors.Is(err, journey.ErrNoActiveFeed) {
		return err
	}
	if err != nil {
		logger.Warn("no active feed, serving unavailable until refreshed", "url", cfg.Feed.StaticURL)
	}

	go refreshLoop(ctx, manager)

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	return server.New(source, cfg, logger, registry, metrics).Serve(ctx, addr)
}

// Checks for stale feeds once a minute. Manager only downloads those
// older than the refresh interval.
func refreshLoop(ctx context.Context, manager *journey.Manager) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := manager.Refresh(ctx)
			if err != nil {
				logger.Error("refreshing feeds", "error", err)
			}
		}
	}
}
