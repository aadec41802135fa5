package journey

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"
)

// Status is a train's position in the tracking state machine.
type Status int

const (
	StatusPending Status = iota
	StatusTracked
	StatusArrived
	StatusVanished
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusTracked:
		return "tracked"
	case StatusArrived:
		return "arrived"
	case StatusVanished:
		return "vanished"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Outcome is what one Apply call did to a train.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeTracked
	OutcomeArrived
	OutcomeVanished
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFailed:
		return "failed"
	case OutcomeTracked:
		return "tracked"
	case OutcomeArrived:
		return "arrived"
	case OutcomeVanished:
		return "vanished"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Tracked is the in-memory state of one train.
type Tracked struct {
	Train Train
	// Route is nil until the first successful detail fetch, including for
	// entries seeded from the store at startup.
	Route          *Route
	PlannedArrival *time.Time
	// ArrivedPending is set when an arrival was observed but persisting the
	// finalized record failed.
	ArrivedPending bool
}

// Status reports PENDING or TRACKED; terminal states are never held.
func (t *Tracked) Status() Status {
	if t.Route == nil {
		return StatusPending
	}
	return StatusTracked
}

// Tracker owns the per-train state across poll cycles. It is not safe for
// concurrent use; a single poll loop drives it.
type Tracker struct {
	store    Store
	th       Thresholds
	loc      *time.Location
	logger   *slog.Logger
	notifier Notifier

	trains map[int64]*Tracked
	// finished holds trains finalized by this process that are still
	// listed by the feed, so they are not picked up again.
	finished map[int64]struct{}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the tracker's logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithLocation sets the fixed zone the feed's bare times are in.
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) {
		if loc != nil {
			t.loc = loc
		}
	}
}

// WithNotifier registers a receiver for arrived journeys.
func WithNotifier(n Notifier) Option {
	return func(t *Tracker) { t.notifier = n }
}

// NewTracker creates an empty tracker persisting to store.
func NewTracker(store Store, th Thresholds, opts ...Option) *Tracker {
	t := &Tracker{
		store:    store,
		th:       th,
		loc:      time.UTC,
		logger:   slog.Default(),
		trains:   make(map[int64]*Tracked),
		finished: make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Seed rebuilds tracking state from the store's open journeys.
func (t *Tracker) Seed(ctx context.Context) (int, error) {
	open, err := t.store.LoadOpenJourneys(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load open journeys: %w", err)
	}
	for _, oj := range open {
		t.trains[oj.TrainID] = &Tracked{
			Train:          Train{ID: oj.TrainID, Name: oj.Name},
			PlannedArrival: oj.PlannedArrival,
			ArrivedPending: oj.Arrived,
		}
	}
	return len(open), nil
}

// Reconcile adds trains from the feed's current list that are not tracked
// yet and returns them. Trains missing from the list stay tracked; they
// drop out once their detail reports no information.
func (t *Tracker) Reconcile(listed []Train) []Train {
	present := make(map[int64]struct{}, len(listed))
	var added []Train
	for _, tr := range listed {
		present[tr.ID] = struct{}{}
		if _, done := t.finished[tr.ID]; done {
			continue
		}
		if e, ok := t.trains[tr.ID]; ok {
			if tr.Name != "" && e.Train.Name != tr.Name {
				t.logger.Info("Tracker: train renamed",
					slog.Int64("train_id", tr.ID),
					slog.String("from", e.Train.Name),
					slog.String("to", tr.Name))
				e.Train.Name = tr.Name
			}
			continue
		}
		t.trains[tr.ID] = &Tracked{Train: tr}
		added = append(added, tr)
	}
	for id := range t.finished {
		if _, ok := present[id]; !ok {
			delete(t.finished, id)
		}
	}
	return added
}

// Trains returns the tracked trains in random order.
func (t *Tracker) Trains(rng *rand.Rand) []Train {
	out := make([]Train, 0, len(t.trains))
	for _, e := range t.trains {
		out = append(out, e.Train)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if rng != nil {
		rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}
	return out
}

// Get returns a copy of the train's state.
func (t *Tracker) Get(id int64) (Tracked, bool) {
	e, ok := t.trains[id]
	if !ok {
		return Tracked{}, false
	}
	return *e, true
}

// Len returns the number of tracked trains.
func (t *Tracker) Len() int {
	return len(t.trains)
}

// ShouldFetch reports whether the train's detail should be fetched now: its
// route is unknown, its planned arrival is at most Lookahead away, or an
// observed arrival still awaits persistence.
func (t *Tracker) ShouldFetch(id int64, now time.Time) bool {
	e, ok := t.trains[id]
	if !ok {
		return false
	}
	switch {
	case e.Route == nil, e.PlannedArrival == nil, e.ArrivedPending:
		return true
	}
	return e.PlannedArrival.Sub(now) <= t.th.Lookahead
}

// Apply feeds one parsed detail document through the state machine.
// On error the train's state is left as it was, and the caller retries on
// a later cycle.
func (t *Tracker) Apply(ctx context.Context, train Train, raw RawRoute, now time.Time) (Outcome, error) {
	e, ok := t.trains[train.ID]
	if !ok {
		e = &Tracked{Train: train}
		t.trains[train.ID] = e
	}

	route, ok, err := t.th.BuildRoute(raw, e.Train)
	if err != nil {
		return OutcomeFailed, err
	}
	if !ok {
		t.vanish(ctx, e)
		return OutcomeVanished, nil
	}

	rec, err := t.record(route, now)
	if err != nil {
		return OutcomeFailed, err
	}

	if err := t.store.Upsert(ctx, rec); err != nil {
		if route.Arrived {
			e.ArrivedPending = true
		}
		e.Route = &route
		e.PlannedArrival = &rec.PlannedArrival
		return OutcomeFailed, fmt.Errorf("failed to persist journey %d: %w", train.ID, err)
	}

	if route.Arrived {
		delete(t.trains, train.ID)
		t.finished[train.ID] = struct{}{}
		t.logger.Info("Tracker: train arrived",
			slog.Int64("train_id", train.ID),
			slog.String("train", e.Train.Name),
			slog.String("carrier", route.Carrier),
			slog.String("origin", rec.Origin),
			slog.String("destination", rec.Destination),
			slog.Float64("expected_minutes", rec.ExpectedJourneyMinutes),
			slog.Float64("arrival_delay_minutes", *rec.ArrivalDelayMinutes))
		if t.notifier != nil {
			t.notifier.JourneyArrived(ctx, rec)
		}
		return OutcomeArrived, nil
	}

	e.Route = &route
	e.PlannedArrival = &rec.PlannedArrival
	e.ArrivedPending = false
	return OutcomeTracked, nil
}

func (t *Tracker) vanish(ctx context.Context, e *Tracked) {
	delete(t.trains, e.Train.ID)
	t.logger.Info("Tracker: no information about train any more",
		slog.Int64("train_id", e.Train.ID),
		slog.String("train", e.Train.Name))
	if err := t.store.DeleteByTrainID(ctx, e.Train.ID); err != nil {
		t.logger.Warn("Tracker: failed to delete open journey",
			slog.Int64("train_id", e.Train.ID),
			slog.String("error", err.Error()))
	}
}

// record derives the persisted fields of a route observed at now. The
// destination's planned arrival is anchored to now first; for long
// journeys whose arrival is still outside the window, the origin's planned
// departure is anchored instead.
func (t *Tracker) record(route Route, now time.Time) (JourneyRecord, error) {
	ref := now.In(t.loc)
	origin, dest := route.Origin(), route.Destination()
	journey := minutes(route.ExpectedJourneyMinutes)

	var plannedDep, plannedArr time.Time
	arr, arrErr := Resolve(dest.PlannedArrival, ref, t.th.ResolveWindow)
	if arrErr == nil {
		plannedArr, plannedDep = arr, arr.Add(-journey)
	} else {
		dep, depErr := Resolve(origin.PlannedDeparture, ref, t.th.ResolveWindow)
		if depErr != nil {
			return JourneyRecord{}, fmt.Errorf("train %d: %w", route.Train.ID, arrErr)
		}
		plannedDep, plannedArr = dep, dep.Add(journey)
	}

	rec := JourneyRecord{
		InsertedAt:             ref,
		UpdatedAt:              ref,
		TrainID:                route.Train.ID,
		Name:                   route.Train.Name,
		Carrier:                route.Carrier,
		Origin:                 origin.Name,
		Destination:            dest.Name,
		PlannedDeparture:       plannedDep,
		PlannedArrival:         plannedArr,
		ExpectedJourneyMinutes: route.ExpectedJourneyMinutes,
		Arrived:                route.Arrived,
	}
	if route.Departed() {
		d := t.th.DelayMinutes(origin.PlannedDeparture, origin.ActualDeparture)
		at := plannedDep.Add(minutes(d))
		rec.DepartureDelayMinutes, rec.ActualDeparture = &d, &at
	}
	if route.Arrived {
		d := t.th.DelayMinutes(dest.PlannedArrival, dest.ActualArrival)
		at := plannedArr.Add(minutes(d))
		rec.ArrivalDelayMinutes, rec.ActualArrival = &d, &at
	}
	return rec, nil
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
