package parse

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/spkg/bom"

	"tidbyt.dev/journey/storage"
)

var requiredFiles = []string{"agency.txt", "routes.txt", "stops.txt", "trips.txt", "stop_times.txt"}

// Record counts from a parsed feed.
type Summary struct {
	Routes    int
	Services  int
	Trips     int
	Stops     int
	StopTimes int

	// Stop times with neither arrival nor departure. These are
	// stored, but can't be boarded or alighted by the planner.
	UntimedStopTimes int
}

type archive map[string]io.ReadCloser

func (a archive) Close() {
	for _, rc := range a {
		if rc != nil {
			rc.Close()
		}
	}
}

// Opens the GTFS files in a zip. Files in subdirectories are
// accepted, as some agencies zip up the directory rather than its
// contents.
func openArchive(buf []byte) (archive, error) {
	files := archive{
		"agency.txt":         nil,
		"routes.txt":         nil,
		"stops.txt":          nil,
		"trips.txt":          nil,
		"stop_times.txt":     nil,
		"calendar.txt":       nil,
		"calendar_dates.txt": nil,
	}

	r, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("unzipping: %w", err)
	}

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		path := strings.Split(f.Name, "/")
		name := path[len(path)-1]

		if rc, found := files[name]; !found || rc != nil {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			files.Close()
			return nil, fmt.Errorf("opening %s: %w", f.Name, err)
		}
		files[name] = rc
	}

	if files["calendar.txt"] == nil && files["calendar_dates.txt"] == nil {
		files.Close()
		return nil, fmt.Errorf("missing calendar.txt and calendar_dates.txt")
	}
	for _, required := range requiredFiles {
		if files[required] == nil {
			files.Close()
			return nil, fmt.Errorf("missing %s", required)
		}
	}

	return files, nil
}

// Parses a zipped GTFS static feed into the writer. The returned
// metadata lacks URL, Hash and RetrievedAt, which are up to the
// caller.
func ParseStatic(writer storage.FeedWriter, buf []byte) (*storage.FeedMetadata, *Summary, error) {
	files, err := openArchive(buf)
	if err != nil {
		return nil, nil, err
	}
	defer files.Close()

	// LazyCSVReader survives sloppy quoting. BOMs are stripped.
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		return gocsv.LazyCSVReader(bom.NewReader(in))
	})

	agency, timezone, err := ParseAgency(writer, files["agency.txt"])
	if err != nil {
		return nil, nil, fmt.Errorf("parsing agency.txt: %w", err)
	}

	routes, err := ParseRoutes(writer, files["routes.txt"], agency)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing routes.txt: %w", err)
	}

	// The feed's date range spans both calendar files
	var calendarStart, calendarEnd string
	services := map[string]bool{}
	if files["calendar.txt"] != nil {
		services, calendarStart, calendarEnd, err = ParseCalendar(writer, files["calendar.txt"])
		if err != nil {
			return nil, nil, fmt.Errorf("parsing calendar.txt: %w", err)
		}
	}
	if files["calendar_dates.txt"] != nil {
		cdServices, minDate, maxDate, err := ParseCalendarDates(writer, files["calendar_dates.txt"])
		if err != nil {
			return nil, nil, fmt.Errorf("parsing calendar_dates.txt: %w", err)
		}
		for serviceID := range cdServices {
			services[serviceID] = true
		}
		if calendarStart == "" || minDate < calendarStart {
			calendarStart = minDate
		}
		if calendarEnd == "" || maxDate > calendarEnd {
			calendarEnd = maxDate
		}
	}

	if err := writer.BeginTrips(); err != nil {
		return nil, nil, fmt.Errorf("beginning trips: %w", err)
	}
	trips, err := ParseTrips(writer, files["trips.txt"], routes, services)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing trips.txt: %w", err)
	}
	if err := writer.EndTrips(); err != nil {
		return nil, nil, fmt.Errorf("ending trips: %w", err)
	}

	stops, err := ParseStops(writer, files["stops.txt"])
	if err != nil {
		return nil, nil, fmt.Errorf("parsing stops.txt: %w", err)
	}

	if err := writer.BeginStopTimes(); err != nil {
		return nil, nil, fmt.Errorf("beginning stop_times: %w", err)
	}
	stopTimes, err := ParseStopTimes(writer, files["stop_times.txt"], trips, stops)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing stop_times.txt: %w", err)
	}
	if err := writer.EndStopTimes(); err != nil {
		return nil, nil, fmt.Errorf("ending stop_times: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, nil, fmt.Errorf("closing feed writer: %w", err)
	}

	metadata := &storage.FeedMetadata{
		CalendarStartDate: calendarStart,
		CalendarEndDate:   calendarEnd,
		Timezone:          timezone,
		MaxArrival:        stopTimes.MaxArrival,
		MaxDeparture:      stopTimes.MaxDeparture,
	}
	summary := &Summary{
		Routes:           len(routes),
		Services:         len(services),
		Trips:            len(trips),
		Stops:            len(stops),
		StopTimes:        stopTimes.Rows,
		UntimedStopTimes: stopTimes.Untimed,
	}

	return metadata, summary, nil
}
