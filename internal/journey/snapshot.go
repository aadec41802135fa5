package journey

import (
	"fmt"
	"strings"
)

// fieldsPerStop is the number of time fields a stop row carries:
// actual arrival, planned arrival, actual departure, planned departure.
const fieldsPerStop = 4

// BuildRoute turns parsed document fields into a Route. ok is false when
// the document says the feed has no information about the train (an alert,
// or no current-station marker); that is an upstream absence, not an error.
func (th Thresholds) BuildRoute(raw RawRoute, train Train) (route Route, ok bool, err error) {
	if raw.Alert || !raw.HasCurrentStation {
		return Route{}, false, nil
	}
	if len(raw.Stops) == 0 {
		return Route{}, false, ErrEmptyRoute
	}

	stations := make([]Station, 0, len(raw.Stops))
	for i, stop := range raw.Stops {
		st, err := buildStation(stop)
		if err != nil {
			return Route{}, false, fmt.Errorf("stop %d (%s): %w", i, stop.Name, err)
		}
		stations = append(stations, st)
	}

	first, last := stations[0], stations[len(stations)-1]
	current := strings.TrimSpace(raw.CurrentStation)
	return Route{
		Train:                  train,
		Carrier:                strings.TrimSpace(raw.Carrier),
		Stations:               stations,
		CurrentStation:         current,
		PlannedArrival:         last.PlannedArrival,
		ExpectedJourneyMinutes: th.DelayMinutes(first.PlannedDeparture, last.PlannedArrival),
		Arrived:                current == last.Name,
	}, true, nil
}

func buildStation(stop RawStop) (Station, error) {
	values := make([]string, 0, fieldsPerStop)
	for _, f := range stop.Fields {
		if f.CurrentStation {
			continue
		}
		values = append(values, f.Value)
	}
	if len(values) != fieldsPerStop {
		return Station{}, fmt.Errorf("%w: %d time fields, want %d", ErrFormatMismatch, len(values), fieldsPerStop)
	}

	var clocks [fieldsPerStop]Clock
	for i, v := range values {
		c, err := ParseClock(v)
		if err != nil {
			return Station{}, fmt.Errorf("%w: %v", ErrFormatMismatch, err)
		}
		clocks[i] = c
	}

	return Station{
		Name:             strings.TrimSpace(stop.Name),
		ActualArrival:    clocks[0],
		PlannedArrival:   clocks[1],
		ActualDeparture:  clocks[2],
		PlannedDeparture: clocks[3],
	}, nil
}
