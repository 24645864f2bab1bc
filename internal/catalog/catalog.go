package catalog

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"melisma/internal/apperr"
)

// Catalog wraps a *sql.DB providing the persistence operations for artists,
// albums, tracks and the singleton status rows. It is safe for concurrent
// use because the underlying *sql.DB is concurrency-safe; natural-key
// uniqueness constraints make concurrent upserts converge to one row.
type Catalog struct {
	conn   *sql.DB
	logger *logrus.Logger

	// Prepared statements for the hot ingest path
	upsertTrackStmt  *sql.Stmt
	upsertArtistStmt *sql.Stmt
	upsertAlbumStmt  *sql.Stmt
	trackExistsStmt  *sql.Stmt
	removeTrackStmt  *sql.Stmt
}

// Open opens (or creates) a SQLite database at the provided path and
// ensures all required tables, indices and singleton rows exist. It also
// applies performance-oriented pragmas (WAL, cache sizing). Caller should
// Close() it when finished.
func Open(dbPath string) (*Catalog, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	conn, err := sql.Open("sqlite3", dbPath+"?cache=shared&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works better with fewer connections
	conn.SetMaxOpenConns(5)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(15 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=2000;",
		"PRAGMA temp_store=memory;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA auto_vacuum=INCREMENTAL;",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	c := &Catalog{
		conn:   conn,
		logger: logger,
	}

	if err := c.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := c.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("db_path", dbPath).Info("Catalog initialized successfully")
	return c, nil
}

// createTables creates tables, indices and singleton status rows if they do
// not already exist. This is idempotent and safe to call multiple times.
func (c *Catalog) createTables() error {
	artistsTable := `
	CREATE TABLE IF NOT EXISTS artists (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		provider_artist_id TEXT,
		image_path TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	albumsTable := `
	CREATE TABLE IF NOT EXISTS albums (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		artist_id INTEGER NOT NULL,
		release_year INTEGER,
		cover_path TEXT,
		provider_release_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(title, artist_id),
		FOREIGN KEY (artist_id) REFERENCES artists(id) ON DELETE CASCADE
	);`

	tracksTable := `
	CREATE TABLE IF NOT EXISTS tracks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		album_id INTEGER NOT NULL,
		artist_id INTEGER NOT NULL,
		duration INTEGER NOT NULL DEFAULT 0,
		track_number INTEGER,
		disc_number INTEGER NOT NULL DEFAULT 1,
		path TEXT NOT NULL UNIQUE,
		bitrate INTEGER,
		format TEXT,
		size INTEGER NOT NULL DEFAULT 0,
		lyrics TEXT,
		lyrics_source TEXT NOT NULL DEFAULT 'none',
		sync_status TEXT NOT NULL DEFAULT 'none',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (album_id) REFERENCES albums(id) ON DELETE CASCADE,
		FOREIGN KEY (artist_id) REFERENCES artists(id) ON DELETE CASCADE
	);`

	scanStatusTable := `
	CREATE TABLE IF NOT EXISTS scan_status (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		is_running BOOLEAN NOT NULL DEFAULT FALSE,
		current_count INTEGER NOT NULL DEFAULT 0,
		total_count INTEGER NOT NULL DEFAULT 0,
		last_run_at DATETIME,
		run_id TEXT
	);`

	artistSyncStatusTable := `
	CREATE TABLE IF NOT EXISTS artist_sync_status (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		is_running BOOLEAN NOT NULL DEFAULT FALSE,
		current_count INTEGER NOT NULL DEFAULT 0,
		total_count INTEGER NOT NULL DEFAULT 0,
		last_run_at DATETIME,
		last_error TEXT,
		run_id TEXT
	);`

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_tracks_artist ON tracks(artist_id);",
		"CREATE INDEX IF NOT EXISTS idx_tracks_album ON tracks(album_id, track_number);",
		"CREATE INDEX IF NOT EXISTS idx_tracks_path ON tracks(path);",
		"CREATE INDEX IF NOT EXISTS idx_tracks_title ON tracks(title);",
		"CREATE INDEX IF NOT EXISTS idx_albums_artist ON albums(artist_id);",
	}

	seeds := []string{
		"INSERT OR IGNORE INTO scan_status (id) VALUES (1);",
		"INSERT OR IGNORE INTO artist_sync_status (id) VALUES (1);",
	}

	tables := []string{artistsTable, albumsTable, tracksTable, scanStatusTable, artistSyncStatusTable}
	for _, table := range tables {
		if _, err := c.conn.Exec(table); err != nil {
			return err
		}
	}

	for _, index := range indices {
		if _, err := c.conn.Exec(index); err != nil {
			return err
		}
	}

	for _, seed := range seeds {
		if _, err := c.conn.Exec(seed); err != nil {
			return err
		}
	}

	return nil
}

// prepareStatements prepares commonly used SQL statements for the ingest path.
func (c *Catalog) prepareStatements() error {
	var err error

	c.upsertArtistStmt, err = c.conn.Prepare(`
		INSERT INTO artists (name) VALUES (?)
		ON CONFLICT(name) DO UPDATE SET name = excluded.name
		RETURNING id`)
	if err != nil {
		return fmt.Errorf("failed to prepare artist upsert statement: %w", err)
	}

	c.upsertAlbumStmt, err = c.conn.Prepare(`
		INSERT INTO albums (title, artist_id, release_year)
		VALUES (?, ?, ?)
		ON CONFLICT(title, artist_id) DO UPDATE SET
			release_year = COALESCE(albums.release_year, excluded.release_year)
		RETURNING id`)
	if err != nil {
		return fmt.Errorf("failed to prepare album upsert statement: %w", err)
	}

	c.upsertTrackStmt, err = c.conn.Prepare(`
		INSERT INTO tracks (
			title, album_id, artist_id, duration, track_number, disc_number,
			path, bitrate, format, size, lyrics, lyrics_source, sync_status
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title = excluded.title,
			album_id = excluded.album_id,
			artist_id = excluded.artist_id,
			duration = excluded.duration,
			bitrate = excluded.bitrate,
			track_number = excluded.track_number,
			lyrics = excluded.lyrics,
			lyrics_source = excluded.lyrics_source,
			sync_status = CASE
				WHEN IFNULL(tracks.lyrics, '') <> IFNULL(excluded.lyrics, '') THEN 'pending'
				ELSE tracks.sync_status
			END,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id`)
	if err != nil {
		return fmt.Errorf("failed to prepare track upsert statement: %w", err)
	}

	c.trackExistsStmt, err = c.conn.Prepare(`SELECT COUNT(*) FROM tracks WHERE path = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare track exists statement: %w", err)
	}

	c.removeTrackStmt, err = c.conn.Prepare(`DELETE FROM tracks WHERE path = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare remove track statement: %w", err)
	}

	return nil
}

// Close closes the underlying database connection and prepared statements.
func (c *Catalog) Close() error {
	statements := []*sql.Stmt{
		c.upsertTrackStmt,
		c.upsertArtistStmt,
		c.upsertAlbumStmt,
		c.trackExistsStmt,
		c.removeTrackStmt,
	}

	for _, stmt := range statements {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				c.logger.WithError(err).Error("Failed to close prepared statement")
			}
		}
	}

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// ClearLibrary deletes all tracks, albums and artists. Used by rebuild
// scans that want a fresh catalog; the status singletons survive.
func (c *Catalog) ClearLibrary() error {
	for _, stmt := range []string{
		"DELETE FROM tracks;",
		"DELETE FROM albums;",
		"DELETE FROM artists;",
	} {
		if _, err := c.conn.Exec(stmt); err != nil {
			return dbErr("clear library", err)
		}
	}
	c.logger.Warn("Cleared all library entities")
	return nil
}

// dbErr classifies a database/sql error into the shared taxonomy.
func dbErr(msg string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return apperr.Wrap(apperr.KindNotFound, msg, err)
	}
	return apperr.Wrap(apperr.KindDatabase, msg, err)
}
