// Package metasync enriches cataloged artists and albums with external
// metadata: provider ids, release years, artist images and album covers.
// Provider calls are retried with backoff, each item gets its own deadline,
// and batches pace themselves so the providers are never hammered.
package metasync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"melisma/internal/apperr"
	"melisma/internal/catalog"
	"melisma/internal/config"
	"melisma/pkg/models"
)

// Syncer runs enrichment batches over the catalog.
type Syncer struct {
	catalog   *catalog.Catalog
	client    *Client
	avatarDir string
	coverDir  string

	itemTimeout time.Duration
	itemDelay   time.Duration

	logger *logrus.Logger
}

// NewSyncer creates an enrichment batch runner.
func NewSyncer(cat *catalog.Catalog, client *Client, cfg config.ProvidersConfig, avatarDir, coverDir string) *Syncer {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Syncer{
		catalog:     cat,
		client:      client,
		avatarDir:   avatarDir,
		coverDir:    coverDir,
		itemTimeout: time.Duration(cfg.ItemTimeoutSeconds) * time.Second,
		itemDelay:   time.Duration(cfg.ItemDelayMS) * time.Millisecond,
		logger:      logger,
	}
}

// SyncArtists enriches artists with provider ids and images. When
// onlyMissing is set, artists that already have an image are skipped.
// One batch runs at a time; a second request fails immediately. Per-item
// failures are recorded on the status row and never stop the batch.
func (s *Syncer) SyncArtists(ctx context.Context, onlyMissing bool) error {
	running, err := s.catalog.ArtistSyncRunning()
	if err != nil {
		return err
	}
	if running {
		return apperr.New(apperr.KindBadRequest, "artist sync rejected: a sync is already running")
	}

	var artists []models.Artist
	if onlyMissing {
		artists, err = s.catalog.ArtistsMissingImage()
	} else {
		artists, err = s.catalog.AllArtists()
	}
	if err != nil {
		return err
	}

	runID := uuid.New().String()
	if err := s.catalog.BeginArtistSync(len(artists), runID); err != nil {
		return err
	}
	defer func() {
		if err := s.catalog.FinishArtistSync(); err != nil {
			s.logger.WithError(err).Warn("Failed to finish artist sync status")
		}
	}()

	s.logger.WithFields(logrus.Fields{
		"run_id": runID,
		"total":  len(artists),
	}).Info("Artist sync started")

	for i, artist := range artists {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		itemCtx, cancel := context.WithTimeout(ctx, s.itemTimeout)
		err := s.syncArtist(itemCtx, artist)
		cancel()
		if err != nil {
			s.logger.WithError(err).WithField("artist", artist.Name).Warn("Artist sync item failed")
			if recErr := s.catalog.SetArtistSyncError(fmt.Sprintf("%s: %v", artist.Name, err)); recErr != nil {
				s.logger.WithError(recErr).Warn("Failed to record artist sync error")
			}
		}

		if err := s.catalog.SetArtistSyncProgress(i + 1); err != nil {
			s.logger.WithError(err).Warn("Failed to persist artist sync progress")
		}
		s.pause(ctx)
	}

	s.logger.WithField("run_id", runID).Info("Artist sync finished")
	return nil
}

// syncArtist resolves one artist: provider id first, then an image. A
// failed download degrades to storing the remote URL so the catalog still
// has something to show.
func (s *Syncer) syncArtist(ctx context.Context, artist models.Artist) error {
	match, err := s.client.SearchArtist(ctx, artist.Name)
	if err != nil {
		return err
	}
	if err := s.catalog.SetArtistProviderID(artist.ID, match.ID); err != nil {
		return err
	}

	imageURL, err := s.client.ArtistImageURL(ctx, artist.Name, match.ID)
	if err != nil {
		s.logger.WithField("artist", artist.Name).Info("No image found for artist")
		return nil
	}

	baseName := fmt.Sprintf("artist_%d", artist.ID)
	localPath, err := s.client.DownloadImage(ctx, imageURL, s.avatarDir, baseName)
	if err != nil {
		s.logger.WithError(err).WithField("artist", artist.Name).Warn("Download failed, storing remote URL as fallback")
		return s.catalog.SetArtistImage(artist.ID, s.client.ResolveDirectURL(imageURL))
	}
	return s.catalog.SetArtistImage(artist.ID, localPath)
}

// SyncAlbums enriches albums with provider release ids, release years and
// front covers. Years only fill previously unknown values; covers are only
// fetched for albums that have none.
func (s *Syncer) SyncAlbums(ctx context.Context) error {
	albums, err := s.catalog.AllAlbums()
	if err != nil {
		return err
	}

	s.logger.WithField("total", len(albums)).Info("Album sync started")

	for _, album := range albums {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		itemCtx, cancel := context.WithTimeout(ctx, s.itemTimeout)
		if err := s.syncAlbum(itemCtx, album); err != nil {
			s.logger.WithError(err).WithField("album", album.Title).Warn("Album sync item failed")
		}
		cancel()
		s.pause(ctx)
	}

	s.logger.Info("Album sync finished")
	return nil
}

func (s *Syncer) syncAlbum(ctx context.Context, album models.Album) error {
	_, artistName, err := s.catalog.AlbumOwnership(album.ID)
	if err != nil {
		return err
	}

	match, err := s.client.SearchRelease(ctx, album.Title, artistName)
	if err != nil {
		return err
	}
	if err := s.catalog.SetAlbumProvider(album.ID, match.ID, match.Year); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"album": album.Title,
		"year":  match.Year,
	}).Info("Matched provider release info")

	if album.CoverPath != "" {
		return nil
	}

	coverURL, err := s.client.FrontCoverURL(ctx, match.ID)
	if err != nil {
		s.logger.WithField("album", album.Title).Info("No cover found for album")
		return nil
	}

	baseName := fmt.Sprintf("%d", album.ID)
	localPath, err := s.client.DownloadImage(ctx, coverURL, s.coverDir, baseName)
	if err != nil {
		s.logger.WithError(err).WithField("album", album.Title).Warn("Cover download failed, storing remote URL as fallback")
		return s.catalog.SetAlbumCover(album.ID, s.client.ResolveDirectURL(coverURL))
	}
	return s.catalog.SetAlbumCover(album.ID, localPath)
}

// pause applies the inter-item delay unless the context ends first.
func (s *Syncer) pause(ctx context.Context) {
	if s.itemDelay <= 0 {
		return
	}
	select {
	case <-time.After(s.itemDelay):
	case <-ctx.Done():
	}
}
