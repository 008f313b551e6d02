package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tidbyt.dev/journey"
	"tidbyt.dev/journey/model"
)

var planCmd = &cobra.Command{
	Use:   "plan <origin_stop_id> <destination_stop_id>",
	Short: "Plans journeys between two stops",
	Args:  cobra.ExactArgs(2),
	RunE:  plan,
}

var (
	planAt   string
	planDate string
	planJSON bool
)

func init() {
	planCmd.Flags().StringVarP(&planAt, "at", "a", "", "Earliest departure (HH:MM), defaults to now")
	planCmd.Flags().StringVarP(&planDate, "date", "d", "", "Service date (YYYYMMDD)")
	planCmd.Flags().BoolVarP(&planJSON, "json", "j", false, "Print the result as JSON")
	rootCmd.AddCommand(planCmd)
}

func plan(cmd *cobra.Command, args []string) error {
	schedule, err := LoadSchedule(cmd.Context())
	if err != nil {
		return err
	}

	planner := schedule.Planner(cfg.Planner, journey.WithLogger(logger))
	result := planner.Plan(cmd.Context(), journey.Request{
		OriginID:      args[0],
		DestinationID: args[1],
		MinDeparture:  planAt,
		Date:          planDate,
	})

	if planJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	switch result.Outcome {
	case journey.OutcomeFound:
	case journey.OutcomeNoJourney:
		fmt.Println("no journey found")
		return nil
	default:
		return fmt.Errorf("planning failed: %s", result.Outcome)
	}

	for i, it := range result.Itineraries {
		printItinerary(i+1, it)
	}
	if result.Partial {
		fmt.Println("(search timed out, results may be incomplete)")
	}

	return nil
}

func printItinerary(n int, it model.Itinerary) {
	routes := []string{}
	for _, leg := range it.Legs {
		routes = append(routes, leg.Route.Name())
	}

	fmt.Printf(
		"%d. %s -> %s  %d min via %s, %d transfer(s), confidence %d%%\n",
		n,
		it.Departure(),
		it.Arrival(),
		it.DurationMinutes,
		strings.Join(routes, ", "),
		it.Transfers,
		it.Confidence,
	)
	for _, leg := range it.Legs {
		fmt.Printf(
			"     %s %-20s -> %s %-20s %s towards %s\n",
			leg.Departure,
			leg.From.Name,
			leg.Arrival,
			leg.To.Name,
			leg.Route.Name(),
			leg.DirectionLabel,
		)
	}
	if it.Transfers > 0 {
		fmt.Printf("     %d min to transfer, %d min waiting\n", it.WalkingMinutes, it.WaitMinutes)
	}
}
