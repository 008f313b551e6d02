package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tidbyt.dev/journey"
	"tidbyt.dev/journey/model"
)

var departuresCmd = &cobra.Command{
	Use:   "departures <from_stop_id> <to_stop_id>",
	Short: "Lists direct departures between two stops",
	Args:  cobra.ExactArgs(2),
	RunE:  departures,
}

var (
	departuresAt    string
	departuresDate  string
	departuresLimit int
)

func init() {
	departuresCmd.Flags().StringVarP(&departuresAt, "at", "a", "", "Earliest departure (HH:MM), defaults to now")
	departuresCmd.Flags().StringVarP(&departuresDate, "date", "d", "", "Service date (YYYYMMDD)")
	departuresCmd.Flags().IntVarP(&departuresLimit, "limit", "l", 3, "Trips per route and direction")
	rootCmd.AddCommand(departuresCmd)
}

func departures(cmd *cobra.Command, args []string) error {
	schedule, err := LoadSchedule(cmd.Context())
	if err != nil {
		return err
	}

	at := departuresAt
	if at == "" {
		at = time.Now().In(schedule.Location()).Format("15:04")
	}
	from, err := model.ParseClock(at)
	if err != nil {
		return fmt.Errorf("invalid time: %w", err)
	}

	opts := journey.DirectOptions{
		TripsPerRouteDirection: departuresLimit,
		MaxLegMinutes:          cfg.Planner.MaxLegMinutes,
	}
	if departuresDate != "" {
		opts.Services, err = schedule.Index.ActiveServices(departuresDate)
		if err != nil {
			return err
		}
	}

	legs := schedule.Index.DirectConnections(args[0], args[1], from, opts)
	if len(legs) == 0 {
		fmt.Println("no direct departures")
		return nil
	}

	for _, leg := range legs {
		fmt.Printf(
			"%-6s %s %s -> %s %s (%d min, %d stops) towards %s\n",
			leg.Route.Name(),
			leg.Departure,
			leg.From.Name,
			leg.Arrival,
			leg.To.Name,
			leg.DurationMinutes,
			leg.NumStops(),
			leg.DirectionLabel,
		)
	}

	return nil
}
