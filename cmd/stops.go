package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tidbyt.dev/journey"
	"tidbyt.dev/journey/model"
)

var stopsCmd = &cobra.Command{
	Use:   "stops [lat lon]",
	Short: "Lists stops, nearest first when given a location",
	Args:  cobra.MatchAll(cobra.RangeArgs(0, 2), notExactArgs(1)),
	RunE:  stops,
}

var (
	stopsLimit        int
	stopsStationsOnly bool
)

func init() {
	stopsCmd.Flags().IntVarP(&stopsLimit, "limit", "l", 0, "Max stops to list (0 for all)")
	stopsCmd.Flags().BoolVarP(&stopsStationsOnly, "stations", "s", false, "Only list stations")
	rootCmd.AddCommand(stopsCmd)
}

func notExactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) == n {
			return fmt.Errorf("expected both lat and lon")
		}
		return nil
	}
}

func stops(cmd *cobra.Command, args []string) error {
	if stopsLimit < 0 {
		return fmt.Errorf("limit must be >= 0")
	}

	var lat, lon float64
	var err error
	located := len(args) == 2
	if located {
		lat, err = strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid lat: %w", err)
		}
		lon, err = strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid lon: %w", err)
		}
	}

	schedule, err := LoadSchedule(cmd.Context())
	if err != nil {
		return err
	}

	// Filtering happens before the limit is applied
	all, err := schedule.NearbyStops(lat, lon, 0)
	if err != nil {
		return err
	}

	listed := []model.Stop{}
	for _, stop := range all {
		if stopsStationsOnly && !stop.IsStation() {
			continue
		}
		listed = append(listed, stop)
	}

	if !located {
		sort.SliceStable(listed, func(i, j int) bool {
			return listed[i].Name < listed[j].Name
		})
	}
	if stopsLimit > 0 && len(listed) > stopsLimit {
		listed = listed[:stopsLimit]
	}

	for _, stop := range listed {
		line := fmt.Sprintf("%s: %s", stop.ID, stop.Name)
		if located && stop.HasLocation() {
			line += fmt.Sprintf(" (%.2f km)", model.HaversineDistance(lat, lon, stop.Lat, stop.Lon))
		}
		if names := routeNames(schedule, stop.ID); len(names) > 0 {
			line += " [" + strings.Join(names, ", ") + "]"
		}
		fmt.Println(line)
	}

	return nil
}

// Names of routes serving a stop, or any platform of a station.
func routeNames(schedule *journey.Schedule, stopID string) []string {
	seen := map[string]bool{}
	names := []string{}
	for _, rd := range schedule.Index.StationRoutes(stopID) {
		if seen[rd.RouteID] {
			continue
		}
		seen[rd.RouteID] = true
		if route, found := schedule.Index.Route(rd.RouteID); found {
			names = append(names, route.Name())
		}
	}
	sort.Strings(names)
	return names
}
