// Package postgres is the PostgreSQL journey store, used instead of the
// SQLite file when DATABASE_URL is configured.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prehled-vlaku/poller/internal/db"
	"github.com/prehled-vlaku/poller/internal/journey"
	"github.com/prehled-vlaku/poller/internal/metrics"
)

//go:embed schema.sql
var schemaSQL string

// Store persists journeys in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Connect creates a connection pool for databaseURL and checks it.
func Connect(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("DB: connected to PostgreSQL")
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const upsertJourneySQL = `
	INSERT INTO vlaky (
		vlak_id, vlozeno, aktualizovano, nazev, provozovatel,
		stanice_vychozi, stanice_cilova, ocekavany_odjezd, realny_odjezd,
		ocekavany_prijezd, realny_prijezd, delka_cesty_minut,
		zpozdeni_odjezd, zpozdeni_prijezd, dojel
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (vlak_id) DO UPDATE SET
		aktualizovano = GREATEST(vlaky.aktualizovano, excluded.aktualizovano),
		realny_odjezd = COALESCE(excluded.realny_odjezd, vlaky.realny_odjezd),
		realny_prijezd = COALESCE(excluded.realny_prijezd, vlaky.realny_prijezd),
		zpozdeni_odjezd = COALESCE(excluded.zpozdeni_odjezd, vlaky.zpozdeni_odjezd),
		zpozdeni_prijezd = COALESCE(excluded.zpozdeni_prijezd, vlaky.zpozdeni_prijezd),
		dojel = vlaky.dojel OR excluded.dojel
`

// Upsert writes one journey record and, on its first arrival, folds the
// arrival delay into the carrier's daily stats in the same transaction.
func (s *Store) Upsert(ctx context.Context, rec journey.JourneyRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var wasArrived bool
	err = tx.QueryRow(ctx, "SELECT dojel FROM vlaky WHERE vlak_id = $1 FOR UPDATE", rec.TrainID).Scan(&wasArrived)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to read journey %d: %w", rec.TrainID, err)
	}

	_, err = tx.Exec(ctx, upsertJourneySQL,
		rec.TrainID, rec.InsertedAt.UTC(), rec.UpdatedAt.UTC(), rec.Name, rec.Carrier,
		rec.Origin, rec.Destination, rec.PlannedDeparture.UTC(), utcPtr(rec.ActualDeparture),
		rec.PlannedArrival.UTC(), utcPtr(rec.ActualArrival), rec.ExpectedJourneyMinutes,
		rec.DepartureDelayMinutes, rec.ArrivalDelayMinutes, rec.Arrived,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert journey %d: %w", rec.TrainID, err)
	}

	if rec.Arrived && !wasArrived && rec.ArrivalDelayMinutes != nil {
		obs := db.DelayObservation{
			Carrier:      rec.Carrier,
			ServiceDay:   db.ServiceDay(rec.PlannedArrival),
			DelayMinutes: *rec.ArrivalDelayMinutes,
		}
		if err := updateCarrierStats(ctx, tx, obs); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func updateCarrierStats(ctx context.Context, tx pgx.Tx, obs db.DelayObservation) error {
	var (
		count, onTime, delayed int
		mean, m2, maxDelay     float64
	)
	err := tx.QueryRow(ctx, `
		SELECT journey_count, delay_mean_minutes, delay_m2,
			on_time_count, delayed_count, max_delay_minutes
		FROM stats_carrier_daily
		WHERE carrier = $1 AND service_day = $2::date
		FOR UPDATE
	`, obs.Carrier, obs.ServiceDay).Scan(&count, &mean, &m2, &onTime, &delayed, &maxDelay)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to read carrier stats for %s: %w", obs.Carrier, err)
	}

	w := metrics.NewWelfordState(count, mean, m2)
	w.Update(obs.DelayMinutes)

	abs := math.Abs(obs.DelayMinutes)
	if abs > db.OnTimeThresholdMinutes {
		delayed++
	} else {
		onTime++
	}
	maxDelay = math.Max(maxDelay, abs)

	_, err = tx.Exec(ctx, `
		INSERT INTO stats_carrier_daily (carrier, service_day, journey_count,
			delay_mean_minutes, delay_m2, on_time_count, delayed_count, max_delay_minutes)
		VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (carrier, service_day) DO UPDATE SET
			journey_count = excluded.journey_count,
			delay_mean_minutes = excluded.delay_mean_minutes,
			delay_m2 = excluded.delay_m2,
			on_time_count = excluded.on_time_count,
			delayed_count = excluded.delayed_count,
			max_delay_minutes = excluded.max_delay_minutes
	`, obs.Carrier, obs.ServiceDay, w.Count, w.Mean, w.M2, onTime, delayed, maxDelay)
	if err != nil {
		return fmt.Errorf("failed to upsert carrier stats for %s: %w", obs.Carrier, err)
	}
	return nil
}

// DeleteByTrainID removes the train's journey unless it already arrived.
func (s *Store) DeleteByTrainID(ctx context.Context, trainID int64) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM vlaky WHERE vlak_id = $1 AND NOT dojel", trainID); err != nil {
		return fmt.Errorf("failed to delete journey %d: %w", trainID, err)
	}
	return nil
}

// LoadOpenJourneys returns every journey that has not arrived yet.
func (s *Store) LoadOpenJourneys(ctx context.Context) ([]journey.OpenJourney, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT vlak_id, nazev, ocekavany_prijezd, dojel
		FROM vlaky
		WHERE NOT dojel
		ORDER BY vlak_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query open journeys: %w", err)
	}
	defer rows.Close()

	var open []journey.OpenJourney
	for rows.Next() {
		var oj journey.OpenJourney
		if err := rows.Scan(&oj.TrainID, &oj.Name, &oj.PlannedArrival, &oj.Arrived); err != nil {
			return nil, fmt.Errorf("failed to scan open journey: %w", err)
		}
		open = append(open, oj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating open journeys: %w", err)
	}
	return open, nil
}

// Journey returns the stored record for a train, or nil when there is none.
func (s *Store) Journey(ctx context.Context, trainID int64) (*journey.JourneyRecord, error) {
	var rec journey.JourneyRecord
	err := s.pool.QueryRow(ctx, `
		SELECT vlak_id, vlozeno, aktualizovano, nazev, provozovatel,
			stanice_vychozi, stanice_cilova, ocekavany_odjezd, realny_odjezd,
			ocekavany_prijezd, realny_prijezd, delka_cesty_minut,
			zpozdeni_odjezd, zpozdeni_prijezd, dojel
		FROM vlaky WHERE vlak_id = $1
	`, trainID).Scan(
		&rec.TrainID, &rec.InsertedAt, &rec.UpdatedAt, &rec.Name, &rec.Carrier,
		&rec.Origin, &rec.Destination, &rec.PlannedDeparture, &rec.ActualDeparture,
		&rec.PlannedArrival, &rec.ActualArrival, &rec.ExpectedJourneyMinutes,
		&rec.DepartureDelayMinutes, &rec.ArrivalDelayMinutes, &rec.Arrived,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read journey %d: %w", trainID, err)
	}
	return &rec, nil
}

// PurgeStaleOpen deletes open journeys not updated for staleAfter.
func (s *Store) PurgeStaleOpen(ctx context.Context, staleAfter time.Duration, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM vlaky WHERE NOT dojel AND aktualizovano < $1", now.Add(-staleAfter).UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge stale journeys: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Info("purged stale open journeys", "count", n, "stale_after", staleAfter)
	}
	return tag.RowsAffected(), nil
}

// RecordCycle stores a poll cycle summary.
func (s *Store) RecordCycle(ctx context.Context, c db.PollCycle) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO poll_cycles (
			cycle_id, started_at_utc, finished_at_utc, trains_listed, trains_added,
			details_fetched, journeys_finalized, journeys_vanished, failures, session_expired
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		c.ID, c.StartedAt.UTC(), c.FinishedAt.UTC(), c.TrainsListed, c.TrainsAdded,
		c.DetailsFetched, c.JourneysFinalized, c.JourneysVanished, c.Failures, c.SessionExpired,
	)
	if err != nil {
		return fmt.Errorf("failed to record cycle %s: %w", c.ID, err)
	}
	return nil
}

// Cleanup deletes poll cycle summaries older than the retention window.
func (s *Store) Cleanup(ctx context.Context, retention time.Duration, now time.Time) (int64, error) {
	if retention < time.Hour {
		retention = time.Hour
	}
	tag, err := s.pool.Exec(ctx, "DELETE FROM poll_cycles WHERE started_at_utc < $1", now.Add(-retention).UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup poll_cycles: %w", err)
	}
	return tag.RowsAffected(), nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
