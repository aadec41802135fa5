package journey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stop(name string, times ...string) RawStop {
	s := RawStop{Name: name}
	for _, v := range times {
		s.Fields = append(s.Fields, RawField{Value: v})
	}
	return s
}

func threeStopRoute(current string) RawRoute {
	return RawRoute{
		Carrier:           "České dráhy, a.s.",
		CurrentStation:    current,
		HasCurrentStation: true,
		Stops: []RawStop{
			stop("Linz Hbf", "10:00", "10:00", "10:02", "10:00"),
			stop("České Budějovice", "(11:40)", "11:38", "(11:45)", "11:43"),
			stop("Praha hl.n.", "(14:10)", "14:00", "(14:10)", "14:00"),
		},
	}
}

func TestBuildRoute(t *testing.T) {
	th := DefaultThresholds()
	train := Train{ID: 7, Name: "EC 332"}

	route, ok, err := th.BuildRoute(threeStopRoute("České Budějovice"), train)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, train, route.Train)
	assert.Equal(t, "České dráhy, a.s.", route.Carrier)
	require.Len(t, route.Stations, 3)
	assert.Equal(t, "Linz Hbf", route.Origin().Name)
	assert.Equal(t, "Praha hl.n.", route.Destination().Name)
	assert.Equal(t, MustClock("14:00"), route.PlannedArrival)
	assert.Equal(t, 240.0, route.ExpectedJourneyMinutes)
	assert.False(t, route.Arrived)
	assert.True(t, route.Departed())

	mid := route.Stations[1]
	assert.Equal(t, MustClock("11:40"), mid.ActualArrival)
	assert.Equal(t, MustClock("11:38"), mid.PlannedArrival)
	assert.Equal(t, MustClock("11:45"), mid.ActualDeparture)
	assert.Equal(t, MustClock("11:43"), mid.PlannedDeparture)
}

func TestBuildRoute_Arrived(t *testing.T) {
	route, ok, err := DefaultThresholds().BuildRoute(threeStopRoute(" Praha hl.n. "), Train{ID: 7})
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, route.Arrived)
}

func TestBuildRoute_NotYetDeparted(t *testing.T) {
	route, ok, err := DefaultThresholds().BuildRoute(threeStopRoute("Summerau"), Train{ID: 7})
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, route.Departed())
}

func TestBuildRoute_NoInfo(t *testing.T) {
	th := DefaultThresholds()

	t.Run("alert marker", func(t *testing.T) {
		raw := threeStopRoute("Linz Hbf")
		raw.Alert = true
		_, ok, err := th.BuildRoute(raw, Train{ID: 1})
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("no current station", func(t *testing.T) {
		raw := threeStopRoute("")
		raw.HasCurrentStation = false
		_, ok, err := th.BuildRoute(raw, Train{ID: 1})
		assert.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestBuildRoute_CurrentStationFieldExcluded(t *testing.T) {
	raw := threeStopRoute("České Budějovice")
	mid := &raw.Stops[1]
	mid.Fields = append([]RawField{{Value: "České Budějovice", CurrentStation: true}}, mid.Fields...)

	route, ok, err := DefaultThresholds().BuildRoute(raw, Train{ID: 7})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, MustClock("11:40"), route.Stations[1].ActualArrival)
}

func TestBuildRoute_FormatMismatch(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name   string
		fields []string
	}{
		{"three fields", []string{"10:00", "10:00", "10:02"}},
		{"five fields", []string{"10:00", "10:00", "10:02", "10:00", "10:05"}},
		{"unparseable", []string{"10:00", "--", "10:02", "10:00"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw := threeStopRoute("Linz Hbf")
			raw.Stops[0] = stop("Linz Hbf", tc.fields...)
			_, _, err := th.BuildRoute(raw, Train{ID: 1})
			assert.ErrorIs(t, err, ErrFormatMismatch)
		})
	}
}

func TestBuildRoute_Empty(t *testing.T) {
	raw := RawRoute{HasCurrentStation: true, CurrentStation: "X"}
	_, ok, err := DefaultThresholds().BuildRoute(raw, Train{ID: 1})
	assert.ErrorIs(t, err, ErrEmptyRoute)
	assert.False(t, ok)
}

func TestBuildRoute_OvernightJourney(t *testing.T) {
	raw := RawRoute{
		CurrentStation:    "Wien Hbf",
		HasCurrentStation: true,
		Stops: []RawStop{
			stop("Praha hl.n.", "22:10", "22:10", "22:15", "22:10"),
			stop("Wien Hbf", "02:30", "02:20", "02:30", "02:20"),
		},
	}
	route, ok, err := DefaultThresholds().BuildRoute(raw, Train{ID: 9})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 250.0, route.ExpectedJourneyMinutes)
}
