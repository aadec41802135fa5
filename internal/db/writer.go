package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prehled-vlaku/poller/internal/journey"
)

// upsertJourneySQL inserts a journey or refreshes the mutable fields of an
// existing one. vlozeno is never touched on conflict, aktualizovano only moves
// forward, and a finalized journey stays finalized.
const upsertJourneySQL = `
	INSERT INTO vlaky (
		vlak_id, vlozeno, aktualizovano, nazev, provozovatel,
		stanice_vychozi, stanice_cilova, ocekavany_odjezd, realny_odjezd,
		ocekavany_prijezd, realny_prijezd, delka_cesty_minut,
		zpozdeni_odjezd, zpozdeni_prijezd, dojel
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (vlak_id) DO UPDATE SET
		aktualizovano = MAX(aktualizovano, excluded.aktualizovano),
		realny_odjezd = COALESCE(excluded.realny_odjezd, realny_odjezd),
		realny_prijezd = COALESCE(excluded.realny_prijezd, realny_prijezd),
		zpozdeni_odjezd = COALESCE(excluded.zpozdeni_odjezd, zpozdeni_odjezd),
		zpozdeni_prijezd = COALESCE(excluded.zpozdeni_prijezd, zpozdeni_prijezd),
		dojel = MAX(dojel, excluded.dojel)
`

// Upsert writes one journey record atomically. The first time a journey is
// written as arrived its carrier's daily punctuality stats are updated in
// the same transaction.
func (db *DB) Upsert(ctx context.Context, rec journey.JourneyRecord) error {
	db.LockWrite()
	defer db.UnlockWrite()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var wasArrived bool
	err = tx.QueryRowContext(ctx, "SELECT dojel FROM vlaky WHERE vlak_id = ?", rec.TrainID).Scan(&wasArrived)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read journey %d: %w", rec.TrainID, err)
	}

	_, err = tx.ExecContext(ctx, upsertJourneySQL,
		rec.TrainID, formatTime(rec.InsertedAt), formatTime(rec.UpdatedAt), rec.Name, rec.Carrier,
		rec.Origin, rec.Destination, formatTime(rec.PlannedDeparture), formatTimePtr(rec.ActualDeparture),
		formatTime(rec.PlannedArrival), formatTimePtr(rec.ActualArrival), rec.ExpectedJourneyMinutes,
		rec.DepartureDelayMinutes, rec.ArrivalDelayMinutes, rec.Arrived,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert journey %d: %w", rec.TrainID, err)
	}

	if rec.Arrived && !wasArrived && rec.ArrivalDelayMinutes != nil {
		obs := DelayObservation{
			Carrier:      rec.Carrier,
			ServiceDay:   ServiceDay(rec.PlannedArrival),
			DelayMinutes: *rec.ArrivalDelayMinutes,
		}
		if err := updateCarrierStats(ctx, tx, obs); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// DeleteByTrainID removes the train's journey unless it already arrived.
func (db *DB) DeleteByTrainID(ctx context.Context, trainID int64) error {
	db.LockWrite()
	defer db.UnlockWrite()

	if _, err := db.conn.ExecContext(ctx, "DELETE FROM vlaky WHERE vlak_id = ? AND dojel = 0", trainID); err != nil {
		return fmt.Errorf("failed to delete journey %d: %w", trainID, err)
	}
	return nil
}

// LoadOpenJourneys returns every journey that has not arrived yet.
func (db *DB) LoadOpenJourneys(ctx context.Context) ([]journey.OpenJourney, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT vlak_id, nazev, ocekavany_prijezd, dojel
		FROM vlaky
		WHERE dojel = 0
		ORDER BY vlak_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query open journeys: %w", err)
	}
	defer rows.Close()

	var open []journey.OpenJourney
	for rows.Next() {
		var oj journey.OpenJourney
		var plannedArrival *string
		if err := rows.Scan(&oj.TrainID, &oj.Name, &plannedArrival, &oj.Arrived); err != nil {
			return nil, fmt.Errorf("failed to scan open journey: %w", err)
		}
		oj.PlannedArrival = parseTimeString(plannedArrival)
		open = append(open, oj)
	}
	return open, rows.Err()
}

// Journey returns the stored record for a train, or nil when there is none.
func (db *DB) Journey(ctx context.Context, trainID int64) (*journey.JourneyRecord, error) {
	var (
		rec                                  journey.JourneyRecord
		inserted, updated, plannedDep, plArr string
		actualDep, actualArr                 *string
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT vlak_id, vlozeno, aktualizovano, nazev, provozovatel,
			stanice_vychozi, stanice_cilova, ocekavany_odjezd, realny_odjezd,
			ocekavany_prijezd, realny_prijezd, delka_cesty_minut,
			zpozdeni_odjezd, zpozdeni_prijezd, dojel
		FROM vlaky WHERE vlak_id = ?
	`, trainID).Scan(
		&rec.TrainID, &inserted, &updated, &rec.Name, &rec.Carrier,
		&rec.Origin, &rec.Destination, &plannedDep, &actualDep,
		&plArr, &actualArr, &rec.ExpectedJourneyMinutes,
		&rec.DepartureDelayMinutes, &rec.ArrivalDelayMinutes, &rec.Arrived,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read journey %d: %w", trainID, err)
	}

	for _, f := range []struct {
		dst *time.Time
		src string
	}{
		{&rec.InsertedAt, inserted},
		{&rec.UpdatedAt, updated},
		{&rec.PlannedDeparture, plannedDep},
		{&rec.PlannedArrival, plArr},
	} {
		if t := parseTimeString(&f.src); t != nil {
			*f.dst = *t
		}
	}
	rec.ActualDeparture = parseTimeString(actualDep)
	rec.ActualArrival = parseTimeString(actualArr)
	return &rec, nil
}

// CountJourneys returns the number of stored journey rows for a train.
func (db *DB) CountJourneys(ctx context.Context, trainID int64) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM vlaky WHERE vlak_id = ?", trainID).Scan(&n)
	return n, err
}

// PollCycle summarizes one pass of the poll loop.
type PollCycle struct {
	ID                string
	StartedAt         time.Time
	FinishedAt        time.Time
	TrainsListed      int
	TrainsAdded       int
	DetailsFetched    int
	JourneysFinalized int
	JourneysVanished  int
	Failures          int
	SessionExpired    bool
}

// RecordCycle stores a poll cycle summary.
func (db *DB) RecordCycle(ctx context.Context, c PollCycle) error {
	db.LockWrite()
	defer db.UnlockWrite()

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO poll_cycles (
			cycle_id, started_at_utc, finished_at_utc, trains_listed, trains_added,
			details_fetched, journeys_finalized, journeys_vanished, failures, session_expired
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, formatTime(c.StartedAt), formatTime(c.FinishedAt), c.TrainsListed, c.TrainsAdded,
		c.DetailsFetched, c.JourneysFinalized, c.JourneysVanished, c.Failures, c.SessionExpired,
	)
	if err != nil {
		return fmt.Errorf("failed to record cycle %s: %w", c.ID, err)
	}
	return nil
}
