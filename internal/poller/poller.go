// Package poller drives the journey tracker against the live feed: one
// cycle lists trains, fetches the details that are due and records a
// summary; sessions are renewed when the feed stops returning trains.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/prehled-vlaku/poller/internal/config"
	"github.com/prehled-vlaku/poller/internal/db"
	"github.com/prehled-vlaku/poller/internal/journey"
	"github.com/prehled-vlaku/poller/internal/logging"
	"github.com/prehled-vlaku/poller/internal/metrics"
)

const initialBackoff = time.Second

// SessionSource obtains a fresh feed session token.
type SessionSource interface {
	NewToken(ctx context.Context) (string, error)
}

// CycleRecorder stores poll cycle summaries and prunes old ones.
type CycleRecorder interface {
	RecordCycle(ctx context.Context, c db.PollCycle) error
	Cleanup(ctx context.Context, retention time.Duration, now time.Time) (int64, error)
}

// Deps are the collaborators of a Poller. Metrics and Logger may be nil.
type Deps struct {
	Feed     journey.FeedClient
	Parser   journey.DocumentParser
	Sessions SessionSource
	Tracker  *journey.Tracker
	Cycles   CycleRecorder
	Metrics  *metrics.Collector
	Logger   *slog.Logger
}

// Poller runs poll cycles sequentially. It is not safe for concurrent use,
// except for LastCycle.
type Poller struct {
	Deps
	cfg *config.Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rng   *rand.Rand

	lastCycle atomic.Int64
}

// NewPoller creates a poller with the given collaborators and configuration.
func NewPoller(deps Deps, cfg *config.Config) *Poller {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	seed := uint64(time.Now().UnixNano())
	return &Poller{
		Deps:  deps,
		cfg:   cfg,
		now:   time.Now,
		sleep: sleepContext,
		rng:   rand.New(rand.NewPCG(seed, seed>>1)),
	}
}

// LastCycle returns when the last cycle finished.
func (p *Poller) LastCycle() (time.Time, bool) {
	ns := p.lastCycle.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns).UTC(), true
}

// Run polls until ctx is done, renewing the session token whenever the
// feed reports it expired. Tracking state survives renewals. With RunOnce
// it returns after the first cycle that ran on a live session.
func (p *Poller) Run(ctx context.Context) error {
	token := p.cfg.FeedToken
	backoff := initialBackoff

	for {
		fresh := false
		if token == "" {
			t, err := p.Sessions.NewToken(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.sessionRenewed(false)
				logging.LogError(p.Logger, "Poller: failed to obtain session token", err,
					slog.Duration("retry_in", backoff))
				if err := p.sleep(ctx, backoff); err != nil {
					return err
				}
				backoff = p.nextBackoff(backoff)
				continue
			}
			p.sessionRenewed(true)
			p.Logger.Info("Poller: new session")
			token, fresh = t, true
		}

		cycles, err := p.runSession(ctx, token)
		switch {
		case errors.Is(err, journey.ErrSessionExpired):
			p.Logger.Info("Poller: session expired", slog.Int("cycles", cycles))
			token = ""
			if cycles > 0 {
				backoff = initialBackoff
				continue
			}
			// A token that was new and still listed nothing: the feed is
			// empty or refusing us, so back off before renewing again.
			if fresh {
				if p.cfg.RunOnce {
					return err
				}
				if err := p.sleep(ctx, backoff); err != nil {
					return err
				}
				backoff = p.nextBackoff(backoff)
			}
		case err != nil:
			return err
		default:
			return nil
		}
	}
}

// RunSession runs cycles on one session token until the session expires
// (journey.ErrSessionExpired), ctx is done, or after one cycle in RunOnce
// mode.
func (p *Poller) RunSession(ctx context.Context, token string) error {
	_, err := p.runSession(ctx, token)
	return err
}

func (p *Poller) runSession(ctx context.Context, token string) (int, error) {
	for cycles := 0; ; cycles++ {
		if err := p.PollOnce(ctx, token); err != nil {
			return cycles, err
		}
		if p.cfg.RunOnce {
			return cycles + 1, nil
		}
		if err := p.sleep(ctx, p.cfg.CyclePause); err != nil {
			return cycles + 1, err
		}
	}
}

// PollOnce runs a single cycle. Per-train failures are logged and counted
// but never abort the cycle; an empty train list returns
// journey.ErrSessionExpired.
func (p *Poller) PollOnce(ctx context.Context, token string) error {
	cycle := db.PollCycle{ID: uuid.NewString(), StartedAt: p.now()}
	logger := p.Logger.With(slog.String("cycle_id", cycle.ID))

	listed, err := p.Feed.ListTrains(ctx, token)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.LogError(logger, "Poller: failed to list trains", err)
		cycle.Failures++
		p.finish(ctx, logger, &cycle)
		return nil
	}
	if len(listed) == 0 {
		cycle.SessionExpired = true
		if p.Metrics != nil {
			p.Metrics.SessionExpiries.Inc()
		}
		p.finish(ctx, logger, &cycle)
		return journey.ErrSessionExpired
	}
	cycle.TrainsListed = len(listed)

	added := p.Tracker.Reconcile(listed)
	cycle.TrainsAdded = len(added)
	for _, tr := range added {
		logger.Info("Poller: new train", slog.Int64("train_id", tr.ID), slog.String("train", tr.Name))
	}

	for _, tr := range p.Tracker.Trains(p.rng) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !p.Tracker.ShouldFetch(tr.ID, p.now()) {
			continue
		}

		outcome, err := p.fetch(ctx, token, tr)
		cycle.DetailsFetched++
		switch {
		case err != nil:
			cycle.Failures++
			logging.LogError(logger, "Poller: train update failed", err,
				slog.Int64("train_id", tr.ID), slog.String("train", tr.Name))
		case outcome == journey.OutcomeArrived:
			cycle.JourneysFinalized++
		case outcome == journey.OutcomeVanished:
			cycle.JourneysVanished++
		}

		if err := p.sleep(ctx, p.cfg.RequestPause); err != nil {
			return err
		}
	}

	p.finish(ctx, logger, &cycle)
	return nil
}

// fetch downloads, parses and applies one train's detail.
func (p *Poller) fetch(ctx context.Context, token string, tr journey.Train) (journey.Outcome, error) {
	doc, err := p.Feed.FetchDetail(ctx, tr.ID, token)
	if err != nil {
		p.detailFetched("transport_error")
		return journey.OutcomeFailed, err
	}

	raw, err := p.Parser.ParseRoute(doc)
	if err != nil {
		p.detailFetched(journey.OutcomeFailed.String())
		return journey.OutcomeFailed, fmt.Errorf("failed to parse detail of train %d: %w", tr.ID, err)
	}

	outcome, err := p.Tracker.Apply(ctx, tr, raw, p.now())
	p.detailFetched(outcome.String())
	return outcome, err
}

func (p *Poller) finish(ctx context.Context, logger *slog.Logger, cycle *db.PollCycle) {
	cycle.FinishedAt = p.now()

	// Bookkeeping must not be lost to a cancellation that arrived mid-cycle.
	bg := context.WithoutCancel(ctx)
	if err := p.Cycles.RecordCycle(bg, *cycle); err != nil {
		logging.LogError(logger, "Poller: failed to record cycle", err)
	}
	if _, err := p.Cycles.Cleanup(bg, p.cfg.RetentionDuration, cycle.FinishedAt); err != nil {
		logging.LogError(logger, "Poller: cleanup failed", err)
	}

	duration := cycle.FinishedAt.Sub(cycle.StartedAt)
	if p.Metrics != nil {
		p.Metrics.ObserveCycle(duration, p.Tracker.Len(), cycle.TrainsListed)
	}
	p.lastCycle.Store(cycle.FinishedAt.UnixNano())

	logging.LogOperation(logger, "Poller: cycle finished",
		slog.Duration("duration", duration),
		slog.Int("listed", cycle.TrainsListed),
		slog.Int("added", cycle.TrainsAdded),
		slog.Int("fetched", cycle.DetailsFetched),
		slog.Int("finalized", cycle.JourneysFinalized),
		slog.Int("vanished", cycle.JourneysVanished),
		slog.Int("failures", cycle.Failures),
		slog.Int("tracked", p.Tracker.Len()))
}

func (p *Poller) nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if limit := p.cfg.SessionBackoffMax; limit > 0 && d > limit {
		d = limit
	}
	return d
}

func (p *Poller) sessionRenewed(ok bool) {
	if p.Metrics != nil {
		p.Metrics.SessionRenewed(ok)
	}
}

func (p *Poller) detailFetched(result string) {
	if p.Metrics != nil {
		p.Metrics.DetailFetched(result)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
