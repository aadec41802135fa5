package db

import (
	"context"
	"fmt"
	"time"
)

// Cleanup deletes poll cycle summaries older than the retention window.
func (db *DB) Cleanup(ctx context.Context, retention time.Duration, now time.Time) (int64, error) {
	if retention < time.Hour {
		retention = time.Hour
	}
	cutoff := formatTime(now.Add(-retention))

	db.LockWrite()
	defer db.UnlockWrite()

	result, err := db.conn.ExecContext(ctx, "DELETE FROM poll_cycles WHERE started_at_utc < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup poll_cycles: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		db.logger.Info("cleanup removed old poll cycles", "count", n, "retention", retention)
	}
	return n, nil
}

// PurgeStaleOpen deletes open journeys that have not been updated for
// staleAfter. They belong to trains that vanished while the poller was down.
func (db *DB) PurgeStaleOpen(ctx context.Context, staleAfter time.Duration, now time.Time) (int64, error) {
	cutoff := formatTime(now.Add(-staleAfter))

	db.LockWrite()
	defer db.UnlockWrite()

	result, err := db.conn.ExecContext(ctx, "DELETE FROM vlaky WHERE dojel = 0 AND aktualizovano < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge stale journeys: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		db.logger.Info("purged stale open journeys", "count", n, "stale_after", staleAfter)
	}
	return n, nil
}
