package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prehled-vlaku/poller/internal/metrics"
)

// OnTimeThresholdMinutes is the largest absolute arrival delay still counted as on time.
const OnTimeThresholdMinutes = 5

// DelayObservation is a single finalized arrival.
type DelayObservation struct {
	Carrier      string
	ServiceDay   string
	DelayMinutes float64
}

// CarrierStats is the arrival punctuality of one carrier on one service day.
type CarrierStats struct {
	Carrier         string
	ServiceDay      string
	JourneyCount    int
	DelayMean       float64
	DelayStdDev     float64
	OnTimeCount     int
	DelayedCount    int
	MaxDelayMinutes float64
}

// ServiceDay is the calendar day of t in t's own location.
func ServiceDay(t time.Time) string {
	return t.Format("2006-01-02")
}

// updateCarrierStats folds one observation into the carrier's daily row.
// It must run in the transaction that finalizes the journey.
func updateCarrierStats(ctx context.Context, tx *sql.Tx, obs DelayObservation) error {
	var (
		count, onTime, delayed int
		mean, m2, maxDelay     float64
	)
	err := tx.QueryRowContext(ctx, `
		SELECT journey_count, delay_mean_minutes, delay_m2,
			on_time_count, delayed_count, max_delay_minutes
		FROM stats_carrier_daily
		WHERE carrier = ? AND service_day = ?
	`, obs.Carrier, obs.ServiceDay).Scan(&count, &mean, &m2, &onTime, &delayed, &maxDelay)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read carrier stats for %s: %w", obs.Carrier, err)
	}

	w := metrics.NewWelfordState(count, mean, m2)
	w.Update(obs.DelayMinutes)

	abs := math.Abs(obs.DelayMinutes)
	if abs > OnTimeThresholdMinutes {
		delayed++
	} else {
		onTime++
	}
	if abs > maxDelay {
		maxDelay = abs
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stats_carrier_daily (carrier, service_day, journey_count,
			delay_mean_minutes, delay_m2, on_time_count, delayed_count, max_delay_minutes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
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

// CarrierStatsForDay returns the punctuality rows of every carrier on a service day.
func (db *DB) CarrierStatsForDay(ctx context.Context, serviceDay string) ([]CarrierStats, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT carrier, service_day, journey_count, delay_mean_minutes, delay_m2,
			on_time_count, delayed_count, max_delay_minutes
		FROM stats_carrier_daily
		WHERE service_day = ?
		ORDER BY carrier
	`, serviceDay)
	if err != nil {
		return nil, fmt.Errorf("failed to query carrier stats: %w", err)
	}
	defer rows.Close()

	var out []CarrierStats
	for rows.Next() {
		var s CarrierStats
		var m2 float64
		if err := rows.Scan(&s.Carrier, &s.ServiceDay, &s.JourneyCount, &s.DelayMean, &m2,
			&s.OnTimeCount, &s.DelayedCount, &s.MaxDelayMinutes); err != nil {
			return nil, fmt.Errorf("failed to scan carrier stats: %w", err)
		}
		s.DelayStdDev = metrics.NewWelfordState(s.JourneyCount, s.DelayMean, m2).StdDev()
		out = append(out, s)
	}
	return out, rows.Err()
}
