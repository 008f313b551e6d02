package parse

import (
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"

	"tidbyt.dev/journey/model"
	"tidbyt.dev/journey/storage"
)

type StopCSV struct {
	ID                 string  `csv:"stop_id"`
	Code               string  `csv:"stop_code"`
	Name               string  `csv:"stop_name"`
	Desc               string  `csv:"stop_desc"`
	Lat                float64 `csv:"stop_lat"`
	Lon                float64 `csv:"stop_lon"`
	ZoneID             string  `csv:"zone_id"`
	URL                string  `csv:"stop_url"`
	LocationType       int8    `csv:"location_type"`
	ParentStation      string  `csv:"parent_station"`
	WheelchairBoarding int8    `csv:"wheelchair_boarding"`
	PlatformCode       string  `csv:"platform_code"`
}

func ParseStops(writer storage.FeedWriter, data io.Reader) (map[string]bool, error) {
	stopCsv := []*StopCSV{}
	if err := gocsv.Unmarshal(data, &stopCsv); err != nil {
		return nil, fmt.Errorf("unmarshaling stops csv: %w", err)
	}

	stopIDs := map[string]bool{}
	parentRef := map[string]string{}
	for _, st := range stopCsv {
		st.ID = strings.TrimSpace(st.ID)
		st.Name = strings.TrimSpace(st.Name)
		st.ParentStation = strings.TrimSpace(st.ParentStation)

		if st.ID == "" {
			return nil, fmt.Errorf("empty stop_id")
		}
		if stopIDs[st.ID] {
			return nil, fmt.Errorf("repeated stop_id '%s'", st.ID)
		}
		stopIDs[st.ID] = true

		locationType := model.LocationType(st.LocationType)
		if locationType < model.LocationTypeStop || locationType > model.LocationTypeBoardingArea {
			return nil, fmt.Errorf("invalid location_type %d for stop_id '%s'", st.LocationType, st.ID)
		}

		if locationType != model.LocationTypeGenericNode && locationType != model.LocationTypeBoardingArea {
			// stop_name, stop_lat and stop_lon are
			// "[o]ptional for locations which are generic
			// nodes (location_type=3) or boarding areas
			// (location_type=4)" and otherwise required
			if st.Name == "" {
				return nil, fmt.Errorf("empty stop_name for stop_id '%s'", st.ID)
			}
			if st.Lat == 0 || st.Lon == 0 {
				return nil, fmt.Errorf("empty stop_lat or stop_lon for stop_id '%s'", st.ID)
			}
		}

		wheelchair := model.WheelchairBoarding(st.WheelchairBoarding)
		if wheelchair < model.WheelchairUnknown || wheelchair > model.WheelchairInaccessible {
			return nil, fmt.Errorf("invalid wheelchair_boarding %d for stop_id '%s'", st.WheelchairBoarding, st.ID)
		}

		if st.ParentStation != "" {
			parentRef[st.ID] = st.ParentStation
		}

		err := writer.WriteStop(model.Stop{
			ID:                 st.ID,
			Code:               strings.TrimSpace(st.Code),
			Name:               st.Name,
			Desc:               strings.TrimSpace(st.Desc),
			Lat:                st.Lat,
			Lon:                st.Lon,
			URL:                strings.TrimSpace(st.URL),
			LocationType:       locationType,
			ParentStation:      st.ParentStation,
			PlatformCode:       strings.TrimSpace(st.PlatformCode),
			ZoneID:             strings.TrimSpace(st.ZoneID),
			WheelchairBoarding: wheelchair,
		})
		if err != nil {
			return nil, fmt.Errorf("writing stop '%s': %w", st.ID, err)
		}
	}

	// verify stops referenced by parent_station exist
	for stopID, parentID := range parentRef {
		if !stopIDs[parentID] {
			return nil, fmt.Errorf("stop '%s' references unknown parent_station '%s'", stopID, parentID)
		}
	}

	return stopIDs, nil
}
