// Package covers locates album art and artist images for the catalog.
// Resolution order for an album:
//  1. Skip entirely when the album already has a recorded cover.
//  2. Embedded picture: primary tag block, else first picture across blocks.
//  3. External file next to the audio: prioritized name prefixes, then a
//     stem-exact image, then a single image left by elimination.
package covers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"melisma/internal/fsutil"
	"melisma/internal/tags"
)

// coverPrefixes are tried in priority order against directory entries.
var coverPrefixes = []string{"cover.", "folder.", "front.", "album.", "art."}

// avatarPrefixes are conventional artist-image filenames looked for near
// the audio tree.
var avatarPrefixes = []string{"folder.", "artist.", "logo."}

// Store is the catalog surface the resolver needs.
type Store interface {
	AlbumCover(albumID int64) (string, error)
	SetAlbumCover(albumID int64, ref string) error
	AlbumOwnership(albumID int64) (albumTitle, artistName string, err error)
	ArtistImage(artistID int64) (string, error)
	SetArtistImage(artistID int64, ref string) error
}

// Resolver persists album covers into the canonical library layout and
// backfills artist images from conventional sidecar files.
type Resolver struct {
	root   string
	store  Store
	logger *logrus.Logger
}

// NewResolver creates a cover resolver rooted at the library path.
func NewResolver(root string, store Store) *Resolver {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Resolver{
		root:   root,
		store:  store,
		logger: logger,
	}
}

// Resolve finds and persists a cover for the album owning the given audio
// file. Returns true when a cover was persisted, false when resolution was
// skipped or nothing matched. Idempotent on re-scan.
func (r *Resolver) Resolve(albumID int64, audioPath string, blocks []tags.Block) (bool, error) {
	existing, err := r.store.AlbumCover(albumID)
	if err != nil {
		return false, err
	}
	if existing != "" {
		return false, nil
	}

	if pic, ok := embeddedPicture(blocks); ok {
		return r.persistBytes(albumID, pic.Data, pic.Ext, pic.MIME)
	}

	if sidecar, ok := r.findSidecar(audioPath); ok {
		data, readErr := os.ReadFile(sidecar)
		if readErr != nil {
			r.logger.WithError(readErr).WithField("path", sidecar).Warn("Failed to read sidecar cover")
			return false, nil
		}
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(sidecar)), ".")
		return r.persistBytes(albumID, data, ext, "")
	}

	return false, nil
}

// embeddedPicture returns the primary block's picture when present, else
// the first picture found across all blocks.
func embeddedPicture(blocks []tags.Block) (tags.Picture, bool) {
	if len(blocks) == 0 {
		return tags.Picture{}, false
	}
	if pics := blocks[0].Pictures(); len(pics) > 0 {
		return pics[0], true
	}
	for _, b := range blocks[1:] {
		if pics := b.Pictures(); len(pics) > 0 {
			return pics[0], true
		}
	}
	return tags.Picture{}, false
}

// findSidecar looks for an external cover image in the audio file's
// directory.
func (r *Resolver) findSidecar(audioPath string) (string, bool) {
	dir := filepath.Dir(audioPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	var images []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && fsutil.IsImageFile(entry.Name()) {
			images = append(images, entry.Name())
		}
	}
	if len(images) == 0 {
		return "", false
	}

	// Prioritized conventional names.
	for _, prefix := range coverPrefixes {
		for _, name := range images {
			if strings.HasPrefix(strings.ToLower(name), prefix) {
				return filepath.Join(dir, name), true
			}
		}
	}

	// Image sharing the audio file's stem.
	stem := fsutil.Stem(audioPath)
	for _, name := range images {
		if fsutil.Stem(name) == stem {
			return filepath.Join(dir, name), true
		}
	}

	// A single image in the directory wins by elimination.
	if len(images) == 1 {
		return filepath.Join(dir, images[0]), true
	}

	return "", false
}

// persistBytes writes cover data to the album's canonical directory and
// records the full path. The write is skipped when a non-empty cover file
// already exists there.
func (r *Resolver) persistBytes(albumID int64, data []byte, ext, mime string) (bool, error) {
	if len(data) == 0 {
		return false, nil
	}

	albumTitle, artistName, err := r.store.AlbumOwnership(albumID)
	if err != nil {
		return false, err
	}

	if ext == "" {
		if mime == "" {
			mime = fsutil.DetectImageMIME(data)
		}
		ext = fsutil.ExtForMIME(mime)
	}

	targetDir := filepath.Join(r.root, fsutil.SanitizeName(artistName), fsutil.SanitizeName(albumTitle))
	targetPath := filepath.Join(targetDir, fmt.Sprintf("cover.%s", ext))

	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return false, err
	}

	if info, statErr := os.Stat(targetPath); statErr == nil && info.Size() > 0 {
		// An earlier visit already wrote this cover; just record it.
		return false, r.store.SetAlbumCover(albumID, targetPath)
	}

	if err := os.WriteFile(targetPath, data, 0644); err != nil {
		return false, err
	}

	r.logger.WithFields(logrus.Fields{
		"album": albumTitle,
		"path":  targetPath,
	}).Info("Saved album cover to library")

	return true, r.store.SetAlbumCover(albumID, targetPath)
}

// BackfillArtistImage walks up to two parent directories from an audio
// file looking for conventional artist-image filenames and records the
// first hit for a still-unset artist image.
func (r *Resolver) BackfillArtistImage(artistID int64, audioPath string) error {
	existing, err := r.store.ArtistImage(artistID)
	if err != nil {
		return err
	}
	if existing != "" {
		return nil
	}

	dir := filepath.Dir(audioPath)
	for depth := 0; depth < 2; depth++ {
		entries, readErr := os.ReadDir(dir)
		if readErr == nil {
			for _, prefix := range avatarPrefixes {
				for _, entry := range entries {
					name := strings.ToLower(entry.Name())
					if entry.Type().IsRegular() && strings.HasPrefix(name, prefix) && fsutil.IsImageFile(name) {
						found := filepath.Join(dir, entry.Name())
						r.logger.WithFields(logrus.Fields{
							"artist_id": artistID,
							"path":      found,
						}).Debug("Backfilled artist image from directory")
						return r.store.SetArtistImage(artistID, found)
					}
				}
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return nil
}
