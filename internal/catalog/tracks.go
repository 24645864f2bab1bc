package catalog

import (
	"database/sql"
	"os"

	"melisma/pkg/models"
)

// TrackUpsert carries the per-file fields written by the ingest pipeline.
type TrackUpsert struct {
	Title        string
	AlbumID      int64
	ArtistID     int64
	Duration     int
	TrackNumber  int // 0 = unknown
	DiscNumber   int // 0 defaults to 1
	Path         string
	Bitrate      int // kbps, 0 = unknown
	Format       string
	Size         int64
	Lyrics       string
	LyricsSource models.LyricsSource
	SyncStatus   models.SyncStatus
}

// UpsertTrack inserts or updates a track keyed by its file path and returns
// the row id. On conflict the mutable fields are overwritten; sync_status is
// reset to "pending" only when the lyric text actually changed, otherwise
// the stored status is preserved. The write is all-or-nothing per file.
func (c *Catalog) UpsertTrack(t TrackUpsert) (int64, error) {
	disc := t.DiscNumber
	if disc <= 0 {
		disc = 1
	}
	if t.LyricsSource == "" {
		t.LyricsSource = models.LyricsNone
	}
	if t.SyncStatus == "" {
		if t.Lyrics != "" {
			t.SyncStatus = models.SyncPending
		} else {
			t.SyncStatus = models.SyncNone
		}
	}

	var id int64
	err := c.upsertTrackStmt.QueryRow(
		t.Title, t.AlbumID, t.ArtistID, t.Duration,
		nullInt(t.TrackNumber), disc, t.Path,
		nullInt(t.Bitrate), t.Format, t.Size,
		nullString(t.Lyrics), string(t.LyricsSource), string(t.SyncStatus),
	).Scan(&id)
	if err != nil {
		c.logger.WithError(err).WithField("path", t.Path).Error("Failed to upsert track")
		return 0, dbErr("upsert track", err)
	}
	return id, nil
}

func nullInt(v int) sql.NullInt64 {
	if v <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(v), Valid: true}
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

// TrackExists returns true if a track exists with the given file path.
func (c *Catalog) TrackExists(path string) (bool, error) {
	var count int
	if err := c.trackExistsStmt.QueryRow(path).Scan(&count); err != nil {
		return false, dbErr("track exists", err)
	}
	return count > 0, nil
}

// RemoveTrackByPath deletes a track row identified by its file path.
func (c *Catalog) RemoveTrackByPath(path string) error {
	_, err := c.removeTrackStmt.Exec(path)
	if err != nil {
		c.logger.WithError(err).WithField("path", path).Error("Failed to remove track by path")
	}
	return dbErr("remove track", err)
}

// UpdateTrackPath rewrites a track's path column after a physical move,
// matching on the old path string.
func (c *Catalog) UpdateTrackPath(oldPath, newPath string) error {
	_, err := c.conn.Exec(`
		UPDATE tracks SET path = ?, updated_at = CURRENT_TIMESTAMP
		WHERE path = ?`, newPath, oldPath)
	return dbErr("update track path", err)
}

// TrackByPath returns the track row backing the given file path.
func (c *Catalog) TrackByPath(path string) (*models.Track, error) {
	row := c.conn.QueryRow(`
		SELECT id, title, album_id, artist_id, duration, track_number, disc_number,
		       path, bitrate, format, size, lyrics, lyrics_source, sync_status,
		       created_at, updated_at
		FROM tracks WHERE path = ?`, path)
	return scanTrack(row)
}

// TrackByID returns a single track row.
func (c *Catalog) TrackByID(id int64) (*models.Track, error) {
	row := c.conn.QueryRow(`
		SELECT id, title, album_id, artist_id, duration, track_number, disc_number,
		       path, bitrate, format, size, lyrics, lyrics_source, sync_status,
		       created_at, updated_at
		FROM tracks WHERE id = ?`, id)
	return scanTrack(row)
}

func scanTrack(row *sql.Row) (*models.Track, error) {
	var t models.Track
	var trackNumber, bitrate sql.NullInt64
	var format, lyrics sql.NullString
	var lyricsSource, syncStatus string
	err := row.Scan(&t.ID, &t.Title, &t.AlbumID, &t.ArtistID, &t.Duration,
		&trackNumber, &t.DiscNumber, &t.Path, &bitrate, &format, &t.Size,
		&lyrics, &lyricsSource, &syncStatus, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, dbErr("track lookup", err)
	}
	t.TrackNumber = int(trackNumber.Int64)
	t.Bitrate = int(bitrate.Int64)
	t.Format = format.String
	t.Lyrics = lyrics.String
	t.LyricsSource = models.LyricsSource(lyricsSource)
	t.SyncStatus = models.SyncStatus(syncStatus)
	return &t, nil
}

// AllTracks returns every track ordered by path. The organizer iterates
// this to rebuild the on-disk layout.
func (c *Catalog) AllTracks() ([]models.Track, error) {
	rows, err := c.conn.Query(`
		SELECT id, title, album_id, artist_id, duration, track_number, disc_number,
		       path, bitrate, format, size, lyrics, lyrics_source, sync_status,
		       created_at, updated_at
		FROM tracks ORDER BY path`)
	if err != nil {
		return nil, dbErr("track query", err)
	}
	defer rows.Close()

	var tracks []models.Track
	for rows.Next() {
		var t models.Track
		var trackNumber, bitrate sql.NullInt64
		var format, lyrics sql.NullString
		var lyricsSource, syncStatus string
		if err := rows.Scan(&t.ID, &t.Title, &t.AlbumID, &t.ArtistID, &t.Duration,
			&trackNumber, &t.DiscNumber, &t.Path, &bitrate, &format, &t.Size,
			&lyrics, &lyricsSource, &syncStatus, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, dbErr("track scan", err)
		}
		t.TrackNumber = int(trackNumber.Int64)
		t.Bitrate = int(bitrate.Int64)
		t.Format = format.String
		t.Lyrics = lyrics.String
		t.LyricsSource = models.LyricsSource(lyricsSource)
		t.SyncStatus = models.SyncStatus(syncStatus)
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

// FindTrackPathByKeyword fuzzy-matches a keyword against track titles and
// paths, returning the first match. Used by the organizer to reattach loose
// lyric files.
func (c *Catalog) FindTrackPathByKeyword(keyword string) (string, bool, error) {
	pattern := "%" + keyword + "%"
	var path string
	err := c.conn.QueryRow(`
		SELECT path FROM tracks
		WHERE title LIKE ? OR path LIKE ?
		LIMIT 1`, pattern, pattern).Scan(&path)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, dbErr("keyword track lookup", err)
	}
	return path, true, nil
}

// CountTracks returns the authoritative track row count.
func (c *Catalog) CountTracks() (int, error) {
	var count int
	if err := c.conn.QueryRow(`SELECT COUNT(*) FROM tracks`).Scan(&count); err != nil {
		return 0, dbErr("count tracks", err)
	}
	return count, nil
}

// OrphanSweep deletes track rows whose backing file no longer exists on
// disk. It runs once at the end of each full scan, after all file
// processing has completed.
func (c *Catalog) OrphanSweep() (int, error) {
	rows, err := c.conn.Query(`SELECT id, path FROM tracks`)
	if err != nil {
		return 0, dbErr("orphan sweep query", err)
	}

	type orphan struct {
		id   int64
		path string
	}
	var orphans []orphan
	for rows.Next() {
		var o orphan
		if err := rows.Scan(&o.id, &o.path); err != nil {
			rows.Close()
			return 0, dbErr("orphan sweep scan", err)
		}
		if _, statErr := os.Stat(o.path); os.IsNotExist(statErr) {
			orphans = append(orphans, o)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, dbErr("orphan sweep rows", err)
	}

	for _, o := range orphans {
		c.logger.WithField("path", o.path).Warn("Removing orphan track from catalog")
		if _, err := c.conn.Exec(`DELETE FROM tracks WHERE id = ?`, o.id); err != nil {
			return 0, dbErr("orphan sweep delete", err)
		}
	}
	return len(orphans), nil
}
