package catalog

import (
	"database/sql"
	"sync"

	"melisma/pkg/models"
)

// IdentityCache memoizes artist and album ids for one scan invocation.
// Each run owns its own cache; nothing is shared across runs.
type IdentityCache struct {
	mu      sync.Mutex
	artists map[string]int64
	albums  map[albumKey]int64
}

type albumKey struct {
	title    string
	artistID int64
}

// NewIdentityCache creates an empty per-run lookup cache.
func NewIdentityCache() *IdentityCache {
	return &IdentityCache{
		artists: make(map[string]int64),
		albums:  make(map[albumKey]int64),
	}
}

func (ic *IdentityCache) artist(name string) (int64, bool) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	id, ok := ic.artists[name]
	return id, ok
}

func (ic *IdentityCache) putArtist(name string, id int64) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.artists[name] = id
}

func (ic *IdentityCache) album(key albumKey) (int64, bool) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	id, ok := ic.albums[key]
	return id, ok
}

func (ic *IdentityCache) putAlbum(key albumKey, id int64) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.albums[key] = id
}

// GetOrCreateArtist returns the id for an artist name, inserting the row on
// first sight. The upsert resolves name conflicts to the existing row, so
// re-ingestion is idempotent.
func (c *Catalog) GetOrCreateArtist(cache *IdentityCache, name string) (int64, error) {
	if cache != nil {
		if id, ok := cache.artist(name); ok {
			return id, nil
		}
	}

	var id int64
	if err := c.upsertArtistStmt.QueryRow(name).Scan(&id); err != nil {
		c.logger.WithError(err).WithField("artist", name).Error("Failed to upsert artist")
		return 0, dbErr("upsert artist", err)
	}

	if cache != nil {
		cache.putArtist(name, id)
	}
	return id, nil
}

// GetOrCreateAlbum returns the id for (title, artistID), inserting the row
// on first sight. The release year is filled only when previously null and
// never overwritten. Pass year 0 when unknown.
func (c *Catalog) GetOrCreateAlbum(cache *IdentityCache, title string, artistID int64, year int) (int64, error) {
	key := albumKey{title: title, artistID: artistID}
	if cache != nil {
		if id, ok := cache.album(key); ok {
			return id, nil
		}
	}

	var id int64
	if err := c.upsertAlbumStmt.QueryRow(title, artistID, nullYear(year)).Scan(&id); err != nil {
		c.logger.WithError(err).WithField("album", title).Error("Failed to upsert album")
		return 0, dbErr("upsert album", err)
	}

	if cache != nil {
		cache.putAlbum(key, id)
	}
	return id, nil
}

func nullYear(year int) sql.NullInt64 {
	if year <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(year), Valid: true}
}

// ArtistByID returns a single artist row.
func (c *Catalog) ArtistByID(id int64) (*models.Artist, error) {
	var a models.Artist
	var providerID, imagePath sql.NullString
	err := c.conn.QueryRow(`
		SELECT id, name, provider_artist_id, image_path
		FROM artists WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &providerID, &imagePath)
	if err != nil {
		return nil, dbErr("artist lookup", err)
	}
	a.ProviderArtistID = providerID.String
	a.ImagePath = imagePath.String
	return &a, nil
}

// AllArtists returns every artist ordered by name.
func (c *Catalog) AllArtists() ([]models.Artist, error) {
	return c.queryArtists(`
		SELECT id, name, provider_artist_id, image_path
		FROM artists ORDER BY name`)
}

// ArtistsMissingImage returns artists with no stored image reference.
func (c *Catalog) ArtistsMissingImage() ([]models.Artist, error) {
	return c.queryArtists(`
		SELECT id, name, provider_artist_id, image_path
		FROM artists
		WHERE image_path IS NULL OR image_path = ''
		ORDER BY name`)
}

func (c *Catalog) queryArtists(query string) ([]models.Artist, error) {
	rows, err := c.conn.Query(query)
	if err != nil {
		return nil, dbErr("artist query", err)
	}
	defer rows.Close()

	var artists []models.Artist
	for rows.Next() {
		var a models.Artist
		var providerID, imagePath sql.NullString
		if err := rows.Scan(&a.ID, &a.Name, &providerID, &imagePath); err != nil {
			return nil, dbErr("artist scan", err)
		}
		a.ProviderArtistID = providerID.String
		a.ImagePath = imagePath.String
		artists = append(artists, a)
	}
	return artists, rows.Err()
}

// SetArtistProviderID persists the external provider id for an artist.
func (c *Catalog) SetArtistProviderID(artistID int64, providerID string) error {
	_, err := c.conn.Exec(`UPDATE artists SET provider_artist_id = ? WHERE id = ?`, providerID, artistID)
	return dbErr("set artist provider id", err)
}

// ArtistImage returns the artist's image reference, empty when unset.
func (c *Catalog) ArtistImage(artistID int64) (string, error) {
	var image sql.NullString
	err := c.conn.QueryRow(`SELECT image_path FROM artists WHERE id = ?`, artistID).Scan(&image)
	if err != nil {
		return "", dbErr("artist image lookup", err)
	}
	return image.String, nil
}

// SetArtistImage records the artist's image reference (local path or remote
// URL fallback).
func (c *Catalog) SetArtistImage(artistID int64, ref string) error {
	_, err := c.conn.Exec(`UPDATE artists SET image_path = ? WHERE id = ?`, ref, artistID)
	return dbErr("set artist image", err)
}

// AlbumByID returns a single album row.
func (c *Catalog) AlbumByID(id int64) (*models.Album, error) {
	var a models.Album
	var year sql.NullInt64
	var cover, providerID sql.NullString
	err := c.conn.QueryRow(`
		SELECT id, title, artist_id, release_year, cover_path, provider_release_id
		FROM albums WHERE id = ?`, id).
		Scan(&a.ID, &a.Title, &a.ArtistID, &year, &cover, &providerID)
	if err != nil {
		return nil, dbErr("album lookup", err)
	}
	a.ReleaseYear = int(year.Int64)
	a.CoverPath = cover.String
	a.ProviderReleaseID = providerID.String
	return &a, nil
}

// AllAlbums returns every album ordered by artist then title.
func (c *Catalog) AllAlbums() ([]models.Album, error) {
	rows, err := c.conn.Query(`
		SELECT id, title, artist_id, release_year, cover_path, provider_release_id
		FROM albums ORDER BY artist_id, title`)
	if err != nil {
		return nil, dbErr("album query", err)
	}
	defer rows.Close()

	var albums []models.Album
	for rows.Next() {
		var a models.Album
		var year sql.NullInt64
		var cover, providerID sql.NullString
		if err := rows.Scan(&a.ID, &a.Title, &a.ArtistID, &year, &cover, &providerID); err != nil {
			return nil, dbErr("album scan", err)
		}
		a.ReleaseYear = int(year.Int64)
		a.CoverPath = cover.String
		a.ProviderReleaseID = providerID.String
		albums = append(albums, a)
	}
	return albums, rows.Err()
}

// AlbumOwnership returns the album title and owning artist name, used to
// compute canonical on-disk locations.
func (c *Catalog) AlbumOwnership(albumID int64) (albumTitle, artistName string, err error) {
	err = c.conn.QueryRow(`
		SELECT al.title, ar.name
		FROM albums al JOIN artists ar ON al.artist_id = ar.id
		WHERE al.id = ?`, albumID).Scan(&albumTitle, &artistName)
	if err != nil {
		return "", "", dbErr("album ownership lookup", err)
	}
	return albumTitle, artistName, nil
}

// AlbumCover returns the album's recorded cover reference, empty when unset.
func (c *Catalog) AlbumCover(albumID int64) (string, error) {
	var cover sql.NullString
	err := c.conn.QueryRow(`SELECT cover_path FROM albums WHERE id = ?`, albumID).Scan(&cover)
	if err != nil {
		return "", dbErr("album cover lookup", err)
	}
	return cover.String, nil
}

// SetAlbumCover records the album's cover reference.
func (c *Catalog) SetAlbumCover(albumID int64, ref string) error {
	_, err := c.conn.Exec(`UPDATE albums SET cover_path = ? WHERE id = ?`, ref, albumID)
	return dbErr("set album cover", err)
}

// SetAlbumProvider persists the external release id and fills the release
// year only when previously null.
func (c *Catalog) SetAlbumProvider(albumID int64, providerReleaseID string, year int) error {
	_, err := c.conn.Exec(`
		UPDATE albums
		SET provider_release_id = ?,
		    release_year = COALESCE(release_year, ?)
		WHERE id = ?`, providerReleaseID, nullYear(year), albumID)
	return dbErr("set album provider", err)
}
