package journey

import (
	"fmt"
	"time"
)

// Thresholds holds the empirically chosen heuristics of the engine.
type Thresholds struct {
	// ResolveWindow bounds how far a resolved timestamp may lie from the
	// reference instant.
	ResolveWindow time.Duration
	// RolloverEarly: an actual time earlier than planned by more than this
	// is taken to be on the next day.
	RolloverEarly time.Duration
	// RolloverLate: an actual time later than planned by more than this
	// means planned was on the next day relative to actual.
	RolloverLate time.Duration
	// Lookahead is how close to a tracked train's planned arrival the
	// tracker starts fetching its detail again.
	Lookahead time.Duration
}

// DefaultThresholds returns the tuned defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ResolveWindow: 8 * time.Hour,
		RolloverEarly: 3 * time.Hour,
		RolloverLate:  12 * time.Hour,
		Lookahead:     5 * time.Minute,
	}
}

// Resolve places a bare time on the calendar day (yesterday, today or
// tomorrow relative to ref, in ref's location) that lies closest to ref.
// It fails with ErrDisambiguation when even the closest candidate is not
// strictly within window of ref.
func Resolve(bare Clock, ref time.Time, window time.Duration) (time.Time, error) {
	loc := ref.Location()
	var best time.Time
	bestDist := time.Duration(-1)
	for _, offset := range []int{0, -1, 1} {
		y, m, d := ref.Date()
		cand := time.Date(y, m, d+offset, bare.Hour, bare.Minute, 0, 0, loc)
		dist := cand.Sub(ref)
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist {
			best, bestDist = cand, dist
		}
	}
	if bestDist >= window {
		return time.Time{}, fmt.Errorf("%w: %s is %s from %s", ErrDisambiguation, bare, bestDist, ref.Format(time.RFC3339))
	}
	return best, nil
}

// DelayMinutes returns actual minus planned in minutes for two bare times,
// correcting for a midnight between them with DefaultThresholds.
func DelayMinutes(planned, actual Clock) float64 {
	return DefaultThresholds().DelayMinutes(planned, actual)
}

// DelayMinutes returns actual minus planned in minutes. An actual time more
// than RolloverEarly before planned is moved to the next day; an actual
// time more than RolloverLate after planned moves planned to the next day.
func (th Thresholds) DelayMinutes(planned, actual Clock) float64 {
	p := float64(planned.Minutes())
	a := float64(actual.Minutes())
	const day = 24 * 60
	switch {
	case p-a > th.RolloverEarly.Minutes():
		a += day
	case a-p > th.RolloverLate.Minutes():
		p += day
	}
	return a - p
}
