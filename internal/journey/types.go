package journey

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Train identifies one train as reported by the feed's train list.
// Identity is the numeric ID; Name may drift between observations.
type Train struct {
	ID   int64
	Name string
}

func (t Train) String() string {
	return fmt.Sprintf("%s (%d)", t.Name, t.ID)
}

// Clock is a bare time of day with no calendar date.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM", tolerating surrounding whitespace and the
// parentheses the feed wraps around some times, e.g. "(15:03)".
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return Clock{}, fmt.Errorf("invalid time %q: missing colon", s)
	}
	hour, err := strconv.Atoi(strings.TrimSpace(hh))
	if err != nil || hour < 0 || hour > 23 {
		return Clock{}, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(strings.TrimSpace(mm))
	if err != nil || minute < 0 || minute > 59 {
		return Clock{}, fmt.Errorf("invalid minute in %q", s)
	}
	return Clock{Hour: hour, Minute: minute}, nil
}

// MustClock is ParseClock for literals known to be valid.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Minutes returns minutes since midnight.
func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// On combines the clock with the calendar date of day in loc.
func (c Clock) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, loc)
}

// Station is one stop of a route snapshot.
type Station struct {
	Name             string
	PlannedArrival   Clock
	ActualArrival    Clock
	PlannedDeparture Clock
	ActualDeparture  Clock
}

// Route is a train's full snapshot at one observation. Stations run from
// origin to destination.
type Route struct {
	Train                  Train
	Carrier                string
	Stations               []Station
	CurrentStation         string
	PlannedArrival         Clock
	ExpectedJourneyMinutes float64
	Arrived                bool
}

// Origin returns the first stop.
func (r *Route) Origin() Station {
	return r.Stations[0]
}

// Destination returns the last stop.
func (r *Route) Destination() Station {
	return r.Stations[len(r.Stations)-1]
}

// Departed reports whether the feed has confirmed the train at any stop of
// its route, origin included.
func (r *Route) Departed() bool {
	if r.Arrived {
		return true
	}
	for _, s := range r.Stations {
		if s.Name == r.CurrentStation {
			return true
		}
	}
	return false
}

// JourneyRecord is the persisted row for one train journey.
type JourneyRecord struct {
	InsertedAt             time.Time
	UpdatedAt              time.Time
	TrainID                int64
	Name                   string
	Carrier                string
	Origin                 string
	Destination            string
	PlannedDeparture       time.Time
	ActualDeparture        *time.Time
	PlannedArrival         time.Time
	ActualArrival          *time.Time
	ExpectedJourneyMinutes float64
	DepartureDelayMinutes  *float64
	ArrivalDelayMinutes    *float64
	Arrived                bool
}

// OpenJourney is the subset of a persisted non-arrived record used to
// seed tracking at startup.
type OpenJourney struct {
	TrainID        int64
	Name           string
	PlannedArrival *time.Time
	Arrived        bool
}

// RawField is one time value extracted from a stop row.
type RawField struct {
	Value string
	// CurrentStation marks the live "current station" element, which sits
	// among the time fields in the source document.
	CurrentStation bool
}

// RawStop is one stop row as extracted by a DocumentParser.
type RawStop struct {
	Name   string
	Fields []RawField
}

// RawRoute is the flat set of values a DocumentParser extracts from a
// route detail document.
type RawRoute struct {
	Alert             bool
	Carrier           string
	CurrentStation    string
	HasCurrentStation bool
	Stops             []RawStop
}
