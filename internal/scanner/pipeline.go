package scanner

import (
	"github.com/sirupsen/logrus"

	"melisma/internal/catalog"
	"melisma/internal/covers"
	"melisma/internal/lyrics"
	"melisma/internal/tags"
)

// Pipeline processes one audio file end to end. The scan coordinator only
// depends on this interface so tests can drive it with fake work.
type Pipeline interface {
	ProcessFile(path string, cache *catalog.IdentityCache) error
}

// IngestPipeline is the production pipeline: extract tags, resolve lyrics,
// upsert catalog rows, then resolve artwork for the album.
type IngestPipeline struct {
	catalog   *catalog.Catalog
	extractor *tags.Extractor
	lyrics    *lyrics.Resolver
	covers    *covers.Resolver
	logger    *logrus.Logger
}

// NewIngestPipeline wires the per-file ingest stages together.
func NewIngestPipeline(cat *catalog.Catalog, extractor *tags.Extractor, lyricResolver *lyrics.Resolver, coverResolver *covers.Resolver) *IngestPipeline {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &IngestPipeline{
		catalog:   cat,
		extractor: extractor,
		lyrics:    lyricResolver,
		covers:    coverResolver,
		logger:    logger,
	}
}

// ProcessFile ingests a single audio file. Catalog writes happen only after
// extraction and lyric resolution succeed, so a failed file leaves no
// partial rows behind.
func (p *IngestPipeline) ProcessFile(path string, cache *catalog.IdentityCache) error {
	probe, err := p.extractor.Extract(path)
	if err != nil {
		return err
	}

	lyricResult := p.lyrics.Resolve(path, probe.Blocks)

	artistID, err := p.catalog.GetOrCreateArtist(cache, probe.Artist)
	if err != nil {
		return err
	}
	albumID, err := p.catalog.GetOrCreateAlbum(cache, probe.Album, artistID, probe.Year)
	if err != nil {
		return err
	}

	trackID, err := p.catalog.UpsertTrack(catalog.TrackUpsert{
		Title:        probe.Title,
		AlbumID:      albumID,
		ArtistID:     artistID,
		Duration:     probe.Duration,
		TrackNumber:  probe.TrackNumber,
		Path:         path,
		Bitrate:      probe.Bitrate,
		Format:       probe.Format,
		Size:         probe.Size,
		Lyrics:       lyricResult.Text,
		LyricsSource: lyricResult.Source,
	})
	if err != nil {
		return err
	}

	// Artwork is best-effort; a failed cover never fails the file.
	if p.covers != nil {
		if _, coverErr := p.covers.Resolve(albumID, path, probe.Blocks); coverErr != nil {
			p.logger.WithError(coverErr).WithField("path", path).Warn("Cover resolution failed")
		}
		if avatarErr := p.covers.BackfillArtistImage(artistID, path); avatarErr != nil {
			p.logger.WithError(avatarErr).WithField("path", path).Debug("Artist image backfill failed")
		}
	}

	p.logger.WithFields(logrus.Fields{
		"track_id": trackID,
		"path":     path,
	}).Debug("Ingested audio file")
	return nil
}
