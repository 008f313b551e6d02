package main

import (
	"time"

	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Retrieves the static feed into storage",
	Long:  "Retrieves the static feed into storage. Most useful with persistent storage",
	Args:  cobra.NoArgs,
	RunE:  refresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}

func refresh(cmd *cobra.Command, args []string) error {
	manager, err := newManager(nil)
	if err != nil {
		return err
	}

	// Registers the request, retrieving the feed if nothing is
	// stored yet.
	_, err = manager.LoadScheduleAsync(cfg.Feed.Consumer, cfg.Feed.StaticURL, cfg.Feed.Headers, time.Now())
	if err != nil {
		logger.Debug("no active feed yet", "error", err)
	}

	return manager.Refresh(cmd.Context())
}
