package journey

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	rows      map[int64]JourneyRecord
	deleted   []int64
	upserts   int
	failNext  error
	open      []OpenJourney
	loadError error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[int64]JourneyRecord)}
}

func (s *memStore) Upsert(_ context.Context, rec JourneyRecord) error {
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.upserts++
	if old, ok := s.rows[rec.TrainID]; ok {
		rec.InsertedAt = old.InsertedAt
	}
	s.rows[rec.TrainID] = rec
	return nil
}

func (s *memStore) DeleteByTrainID(_ context.Context, id int64) error {
	s.deleted = append(s.deleted, id)
	if rec, ok := s.rows[id]; ok && !rec.Arrived {
		delete(s.rows, id)
	}
	return nil
}

func (s *memStore) LoadOpenJourneys(context.Context) ([]OpenJourney, error) {
	return s.open, s.loadError
}

type recordingNotifier struct {
	arrived []JourneyRecord
}

func (n *recordingNotifier) JourneyArrived(_ context.Context, rec JourneyRecord) {
	n.arrived = append(n.arrived, rec)
}

func at(hh, mm int) time.Time {
	return time.Date(2024, 5, 1, hh, mm, 0, 0, time.UTC)
}

var ec332 = Train{ID: 7, Name: "EC 332"}

func TestTracker_EndToEnd(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	notifier := &recordingNotifier{}
	tr := NewTracker(store, DefaultThresholds(), WithNotifier(notifier))

	added := tr.Reconcile([]Train{ec332})
	assert.Equal(t, []Train{ec332}, added)

	e, ok := tr.Get(7)
	require.True(t, ok)
	assert.Equal(t, StatusPending, e.Status())
	assert.True(t, tr.ShouldFetch(7, at(12, 0)))

	// First observation: en route.
	out, err := tr.Apply(ctx, ec332, threeStopRoute("České Budějovice"), at(12, 0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeTracked, out)

	row, ok := store.rows[7]
	require.True(t, ok)
	assert.False(t, row.Arrived)
	assert.Nil(t, row.ArrivalDelayMinutes)
	assert.Nil(t, row.ActualArrival)
	require.NotNil(t, row.DepartureDelayMinutes)
	assert.Equal(t, 2.0, *row.DepartureDelayMinutes)
	assert.True(t, at(10, 0).Equal(row.PlannedDeparture))
	assert.True(t, at(10, 2).Equal(*row.ActualDeparture))
	assert.True(t, at(14, 0).Equal(row.PlannedArrival))
	assert.Equal(t, "Linz Hbf", row.Origin)
	assert.Equal(t, "Praha hl.n.", row.Destination)
	assert.Equal(t, 240.0, row.ExpectedJourneyMinutes)
	insertedAt := row.InsertedAt

	e, _ = tr.Get(7)
	assert.Equal(t, StatusTracked, e.Status())

	// Far from planned arrival: skipped.
	assert.False(t, tr.ShouldFetch(7, at(12, 30)))
	// Within lookahead.
	assert.True(t, tr.ShouldFetch(7, at(13, 55)))

	// Second observation: arrived ten minutes late.
	out, err = tr.Apply(ctx, ec332, threeStopRoute("Praha hl.n."), at(14, 12))
	require.NoError(t, err)
	assert.Equal(t, OutcomeArrived, out)

	row = store.rows[7]
	assert.True(t, row.Arrived)
	require.NotNil(t, row.ArrivalDelayMinutes)
	assert.Equal(t, 10.0, *row.ArrivalDelayMinutes)
	assert.True(t, at(14, 10).Equal(*row.ActualArrival))
	assert.Equal(t, insertedAt, row.InsertedAt)
	assert.True(t, row.UpdatedAt.After(insertedAt))

	_, ok = tr.Get(7)
	assert.False(t, ok)
	assert.Equal(t, 0, tr.Len())
	require.Len(t, notifier.arrived, 1)
	assert.Equal(t, int64(7), notifier.arrived[0].TrainID)

	// Still listed after arrival: not picked up again.
	assert.Empty(t, tr.Reconcile([]Train{ec332}))
	assert.Equal(t, 0, tr.Len())

	// Once dropped from the list, a later listing is a new journey.
	tr.Reconcile(nil)
	assert.Equal(t, []Train{ec332}, tr.Reconcile([]Train{ec332}))
}

func TestTracker_NoInfoVanishes(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tr := NewTracker(store, DefaultThresholds())
	tr.Reconcile([]Train{ec332})

	_, err := tr.Apply(ctx, ec332, threeStopRoute("České Budějovice"), at(12, 0))
	require.NoError(t, err)
	upserts := store.upserts

	out, err := tr.Apply(ctx, ec332, RawRoute{Alert: true}, at(13, 58))
	require.NoError(t, err)
	assert.Equal(t, OutcomeVanished, out)

	assert.Equal(t, upserts, store.upserts, "vanishing must not write a row")
	assert.Equal(t, []int64{7}, store.deleted)
	assert.NotContains(t, store.rows, int64(7))
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_FailuresLeaveStateUnchanged(t *testing.T) {
	ctx := context.Background()

	t.Run("format mismatch", func(t *testing.T) {
		store := newMemStore()
		tr := NewTracker(store, DefaultThresholds())
		tr.Reconcile([]Train{ec332})

		raw := threeStopRoute("Linz Hbf")
		raw.Stops[1] = stop("České Budějovice", "11:40")
		out, err := tr.Apply(ctx, ec332, raw, at(12, 0))
		assert.ErrorIs(t, err, ErrFormatMismatch)
		assert.Equal(t, OutcomeFailed, out)

		e, ok := tr.Get(7)
		require.True(t, ok)
		assert.Equal(t, StatusPending, e.Status())
		assert.Empty(t, store.rows)
	})

	t.Run("disambiguation", func(t *testing.T) {
		store := newMemStore()
		tr := NewTracker(store, DefaultThresholds())
		tr.Reconcile([]Train{ec332})

		// Neither 10:00 nor 14:00 lies within eight hours of 23:00.
		out, err := tr.Apply(ctx, ec332, threeStopRoute("České Budějovice"), at(23, 0))
		assert.ErrorIs(t, err, ErrDisambiguation)
		assert.Equal(t, OutcomeFailed, out)
		assert.Empty(t, store.rows)

		e, _ := tr.Get(7)
		assert.Nil(t, e.Route)
	})
}

func TestTracker_LongJourneyAnchorsOnDeparture(t *testing.T) {
	raw := RawRoute{
		CurrentStation:    "Praha hl.n.",
		HasCurrentStation: true,
		Stops: []RawStop{
			stop("Praha hl.n.", "08:00", "08:00", "08:05", "08:00"),
			stop("Kraków Główny", "18:00", "18:00", "18:00", "18:00"),
		},
	}
	store := newMemStore()
	tr := NewTracker(store, DefaultThresholds())

	_, err := tr.Apply(context.Background(), Train{ID: 11, Name: "EC 111"}, raw, at(8, 10))
	require.NoError(t, err)

	row := store.rows[11]
	assert.True(t, at(8, 0).Equal(row.PlannedDeparture))
	assert.True(t, at(18, 0).Equal(row.PlannedArrival))
	assert.Equal(t, 5.0, *row.DepartureDelayMinutes)
}

func TestTracker_ArrivalPersistFailureRetried(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tr := NewTracker(store, DefaultThresholds())
	tr.Reconcile([]Train{ec332})

	_, err := tr.Apply(ctx, ec332, threeStopRoute("České Budějovice"), at(12, 0))
	require.NoError(t, err)

	store.failNext = errors.New("disk full")
	out, err := tr.Apply(ctx, ec332, threeStopRoute("Praha hl.n."), at(14, 12))
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, out)

	e, ok := tr.Get(7)
	require.True(t, ok)
	assert.True(t, e.ArrivedPending)
	assert.True(t, tr.ShouldFetch(7, at(10, 0)))

	out, err = tr.Apply(ctx, ec332, threeStopRoute("Praha hl.n."), at(14, 13))
	require.NoError(t, err)
	assert.Equal(t, OutcomeArrived, out)
	assert.True(t, store.rows[7].Arrived)
}

func TestTracker_Seed(t *testing.T) {
	arr := at(15, 0)
	store := newMemStore()
	store.open = []OpenJourney{
		{TrainID: 7, Name: "EC 332", PlannedArrival: &arr},
		{TrainID: 8, Name: "R 671"},
	}
	tr := NewTracker(store, DefaultThresholds())

	n, err := tr.Seed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, tr.Len())

	e, ok := tr.Get(7)
	require.True(t, ok)
	assert.Equal(t, StatusPending, e.Status())
	assert.Equal(t, "EC 332", e.Train.Name)
	// Route unknown until re-fetched.
	assert.True(t, tr.ShouldFetch(7, at(9, 0)))

	// Seeded trains still in the feed are not reported as new.
	assert.Empty(t, tr.Reconcile([]Train{{ID: 7, Name: "EC 332"}}))
}

func TestTracker_SeedError(t *testing.T) {
	store := newMemStore()
	store.loadError = errors.New("boom")
	_, err := NewTracker(store, DefaultThresholds()).Seed(context.Background())
	assert.Error(t, err)
}

func TestTracker_KeyedByID(t *testing.T) {
	tr := NewTracker(newMemStore(), DefaultThresholds())
	tr.Reconcile([]Train{{ID: 7, Name: "EC 332"}})

	added := tr.Reconcile([]Train{{ID: 7, Name: "EC 332 Jižní expres"}})
	assert.Empty(t, added)
	assert.Equal(t, 1, tr.Len())

	e, _ := tr.Get(7)
	assert.Equal(t, "EC 332 Jižní expres", e.Train.Name)
}

func TestTracker_ReconcileKeepsUnlisted(t *testing.T) {
	tr := NewTracker(newMemStore(), DefaultThresholds())
	tr.Reconcile([]Train{{ID: 1}, {ID: 2}})
	tr.Reconcile([]Train{{ID: 2}})
	assert.Equal(t, 2, tr.Len())
}

func TestTracker_TrainsShuffled(t *testing.T) {
	tr := NewTracker(newMemStore(), DefaultThresholds())
	var listed []Train
	for i := int64(1); i <= 20; i++ {
		listed = append(listed, Train{ID: i})
	}
	tr.Reconcile(listed)

	sorted := tr.Trains(nil)
	require.Len(t, sorted, 20)
	assert.Equal(t, int64(1), sorted[0].ID)

	shuffled := tr.Trains(rand.New(rand.NewPCG(1, 2)))
	assert.ElementsMatch(t, sorted, shuffled)
	assert.NotEqual(t, sorted, shuffled)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "pending", StatusPending.String())
	assert.Equal(t, "vanished", StatusVanished.String())
	assert.Equal(t, "arrived", OutcomeArrived.String())
}
