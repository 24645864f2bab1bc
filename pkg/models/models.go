package models

import "time"

// LyricsSource records where a track's lyric text came from.
type LyricsSource string

const (
	LyricsNone     LyricsSource = "none"
	LyricsFile     LyricsSource = "file"
	LyricsEmbedded LyricsSource = "embedded"
)

// SyncStatus tracks the lifecycle of per-track lyric synchronization.
type SyncStatus string

const (
	SyncNone       SyncStatus = "none"
	SyncPending    SyncStatus = "pending"
	SyncProcessing SyncStatus = "processing"
	SyncCompleted  SyncStatus = "completed"
	SyncFailed     SyncStatus = "failed"
)

// Artist represents a catalog artist. Name is the natural key.
type Artist struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	ProviderArtistID string `json:"providerArtistId,omitempty"`
	ImagePath        string `json:"imagePath,omitempty"` // local path or remote URL fallback
}

// Album represents a catalog album. (Title, ArtistID) is the natural key.
type Album struct {
	ID                int64  `json:"id"`
	Title             string `json:"title"`
	ArtistID          int64  `json:"artistId"`
	ReleaseYear       int    `json:"releaseYear,omitempty"` // 0 = unknown; filled once, never overwritten
	CoverPath         string `json:"coverPath,omitempty"`
	ProviderReleaseID string `json:"providerReleaseId,omitempty"`
}

// Track represents a music track in the catalog. Path is the natural key.
type Track struct {
	ID           int64        `json:"id"`
	Title        string       `json:"title"`
	AlbumID      int64        `json:"albumId"`
	ArtistID     int64        `json:"artistId"`
	Duration     int          `json:"duration"` // in seconds
	TrackNumber  int          `json:"trackNumber,omitempty"`
	DiscNumber   int          `json:"discNumber"`
	Path         string       `json:"-"` // don't expose file path to client
	Bitrate      int          `json:"bitrate,omitempty"` // kbps
	Format       string       `json:"format"`
	Size         int64        `json:"size"`
	Lyrics       string       `json:"lyrics,omitempty"`
	LyricsSource LyricsSource `json:"lyricsSource"`
	SyncStatus   SyncStatus   `json:"syncStatus"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// ScanStatus is the singleton progress row polled by the API layer.
type ScanStatus struct {
	IsRunning bool       `json:"isRunning"`
	Current   int        `json:"current"`
	Total     int        `json:"total"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	RunID     string     `json:"runId,omitempty"`
}

// ArtistSyncStatus is the singleton progress row for enrichment batches.
type ArtistSyncStatus struct {
	IsRunning bool       `json:"isRunning"`
	Current   int        `json:"current"`
	Total     int        `json:"total"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	LastError string     `json:"lastError,omitempty"`
	RunID     string     `json:"runId,omitempty"`
}
