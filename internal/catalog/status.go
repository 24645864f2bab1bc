package catalog

import (
	"database/sql"

	"melisma/pkg/models"
)

// The scan_status and artist_sync_status singleton rows (id = 1) are the
// pollable progress surface exposed to the API layer. The coordinator owns
// when they change; this file only persists them.

// BeginScan marks the scan row running with a fresh total and run id.
func (c *Catalog) BeginScan(total int, runID string) error {
	_, err := c.conn.Exec(`
		UPDATE scan_status
		SET is_running = TRUE, current_count = 0, total_count = ?, run_id = ?
		WHERE id = 1`, total, runID)
	return dbErr("begin scan status", err)
}

// SetScanProgress persists the current progress counter.
func (c *Catalog) SetScanProgress(current int) error {
	_, err := c.conn.Exec(`UPDATE scan_status SET current_count = ? WHERE id = 1`, current)
	return dbErr("scan progress", err)
}

// ReconcileScanProgress sets the progress counter to the authoritative
// track row count. Called once as the final progress write of a scan.
func (c *Catalog) ReconcileScanProgress() error {
	_, err := c.conn.Exec(`
		UPDATE scan_status
		SET current_count = (SELECT COUNT(*) FROM tracks)
		WHERE id = 1`)
	return dbErr("reconcile scan progress", err)
}

// FinishScan clears the running flag and stamps the completion time.
func (c *Catalog) FinishScan() error {
	_, err := c.conn.Exec(`
		UPDATE scan_status
		SET is_running = FALSE, last_run_at = CURRENT_TIMESTAMP
		WHERE id = 1`)
	return dbErr("finish scan status", err)
}

// ScanStatus returns the singleton scan progress row.
func (c *Catalog) ScanStatus() (*models.ScanStatus, error) {
	var s models.ScanStatus
	var lastRun sql.NullTime
	var runID sql.NullString
	err := c.conn.QueryRow(`
		SELECT is_running, current_count, total_count, last_run_at, run_id
		FROM scan_status WHERE id = 1`).
		Scan(&s.IsRunning, &s.Current, &s.Total, &lastRun, &runID)
	if err != nil {
		return nil, dbErr("scan status lookup", err)
	}
	if lastRun.Valid {
		t := lastRun.Time
		s.LastRunAt = &t
	}
	s.RunID = runID.String
	return &s, nil
}

// BeginArtistSync marks the sync row running and clears the last error.
func (c *Catalog) BeginArtistSync(total int, runID string) error {
	_, err := c.conn.Exec(`
		UPDATE artist_sync_status
		SET is_running = TRUE, current_count = 0, total_count = ?, last_error = NULL, run_id = ?
		WHERE id = 1`, total, runID)
	return dbErr("begin artist sync status", err)
}

// SetArtistSyncProgress persists the current batch position.
func (c *Catalog) SetArtistSyncProgress(current int) error {
	_, err := c.conn.Exec(`UPDATE artist_sync_status SET current_count = ? WHERE id = 1`, current)
	return dbErr("artist sync progress", err)
}

// SetArtistSyncError records the batch's most recent per-item error without
// stopping the batch.
func (c *Catalog) SetArtistSyncError(msg string) error {
	_, err := c.conn.Exec(`UPDATE artist_sync_status SET last_error = ? WHERE id = 1`, msg)
	return dbErr("artist sync error", err)
}

// FinishArtistSync clears the running flag and stamps the completion time.
func (c *Catalog) FinishArtistSync() error {
	_, err := c.conn.Exec(`
		UPDATE artist_sync_status
		SET is_running = FALSE, last_run_at = CURRENT_TIMESTAMP
		WHERE id = 1`)
	return dbErr("finish artist sync status", err)
}

// ArtistSyncRunning reports whether an enrichment batch holds the singleton.
func (c *Catalog) ArtistSyncRunning() (bool, error) {
	var running bool
	err := c.conn.QueryRow(`SELECT is_running FROM artist_sync_status WHERE id = 1`).Scan(&running)
	if err != nil {
		return false, dbErr("artist sync running lookup", err)
	}
	return running, nil
}

// ArtistSyncStatus returns the singleton enrichment progress row.
func (c *Catalog) ArtistSyncStatus() (*models.ArtistSyncStatus, error) {
	var s models.ArtistSyncStatus
	var lastRun sql.NullTime
	var lastError, runID sql.NullString
	err := c.conn.QueryRow(`
		SELECT is_running, current_count, total_count, last_run_at, last_error, run_id
		FROM artist_sync_status WHERE id = 1`).
		Scan(&s.IsRunning, &s.Current, &s.Total, &lastRun, &lastError, &runID)
	if err != nil {
		return nil, dbErr("artist sync status lookup", err)
	}
	if lastRun.Valid {
		t := lastRun.Time
		s.LastRunAt = &t
	}
	s.LastError = lastError.String
	s.RunID = runID.String
	return &s, nil
}
