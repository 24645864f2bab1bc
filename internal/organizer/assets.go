package organizer

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"melisma/internal/fsutil"
)

// recoverAssets moves images out of the internal avatar and cover caches
// into the organized library tree. Cache files are keyed by entity id:
// "artist_<id>.<ext>" for avatars and "<album id>.<ext>" for covers. When
// the entity already has an image recorded, the cached copy is discarded.
func (o *Organizer) recoverAssets() int {
	recovered := 0
	recovered += o.recoverAvatars()
	recovered += o.recoverCovers()
	return recovered
}

func (o *Organizer) recoverAvatars() int {
	if o.avatarDir == "" {
		return 0
	}
	entries, err := os.ReadDir(o.avatarDir)
	if err != nil {
		return 0
	}

	recovered := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !fsutil.IsImageFile(entry.Name()) {
			continue
		}
		stem := fsutil.Stem(entry.Name())
		idStr, ok := strings.CutPrefix(stem, "artist_")
		if !ok {
			continue
		}
		artistID, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}

		artist, err := o.catalog.ArtistByID(artistID)
		if err != nil {
			o.logger.WithField("artist_id", artistID).Debug("Cached avatar has no matching artist")
			continue
		}

		src := filepath.Join(o.avatarDir, entry.Name())
		if artist.ImagePath != "" {
			if _, statErr := os.Stat(artist.ImagePath); statErr == nil {
				os.Remove(src)
				continue
			}
		}

		destDir := filepath.Join(o.root, fsutil.SanitizeName(artist.Name))
		dest := filepath.Join(destDir, "artist"+filepath.Ext(entry.Name()))
		if err := os.MkdirAll(destDir, 0755); err != nil {
			continue
		}
		if err := o.robustMove(src, dest); err != nil {
			o.logger.WithError(err).WithField("path", src).Warn("Failed to recover cached avatar")
			continue
		}
		if err := o.catalog.SetArtistImage(artistID, dest); err != nil {
			o.logger.WithError(err).WithField("artist_id", artistID).Warn("Recovered avatar but failed to record it")
		}
		recovered++
	}
	return recovered
}

func (o *Organizer) recoverCovers() int {
	if o.coverDir == "" {
		return 0
	}
	entries, err := os.ReadDir(o.coverDir)
	if err != nil {
		return 0
	}

	recovered := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !fsutil.IsImageFile(entry.Name()) {
			continue
		}
		albumID, err := strconv.ParseInt(fsutil.Stem(entry.Name()), 10, 64)
		if err != nil {
			continue
		}

		album, err := o.catalog.AlbumByID(albumID)
		if err != nil {
			o.logger.WithField("album_id", albumID).Debug("Cached cover has no matching album")
			continue
		}

		src := filepath.Join(o.coverDir, entry.Name())
		if album.CoverPath != "" {
			if _, statErr := os.Stat(album.CoverPath); statErr == nil {
				os.Remove(src)
				continue
			}
		}

		albumTitle, artistName, err := o.catalog.AlbumOwnership(albumID)
		if err != nil {
			continue
		}
		destDir := filepath.Join(o.root, fsutil.SanitizeName(artistName), fsutil.SanitizeName(albumTitle))
		dest := filepath.Join(destDir, "cover"+filepath.Ext(entry.Name()))
		if err := os.MkdirAll(destDir, 0755); err != nil {
			continue
		}
		if err := o.robustMove(src, dest); err != nil {
			o.logger.WithError(err).WithField("path", src).Warn("Failed to recover cached cover")
			continue
		}
		if err := o.catalog.SetAlbumCover(albumID, dest); err != nil {
			o.logger.WithError(err).WithField("album_id", albumID).Warn("Recovered cover but failed to record it")
		}
		recovered++
	}
	return recovered
}

// relocateLooseLyrics reattaches .lrc files sitting loose at the library
// root to their tracks. The match key is the filename's leading token
// (before the first space, dash or underscore); tokens shorter than two
// characters are too ambiguous to match against anything.
func (o *Organizer) relocateLooseLyrics() int {
	entries, err := os.ReadDir(o.root)
	if err != nil {
		return 0
	}

	relocated := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.EqualFold(filepath.Ext(entry.Name()), ".lrc") {
			continue
		}

		token := leadingToken(fsutil.Stem(entry.Name()))
		if len([]rune(token)) < 2 {
			continue
		}

		trackPath, found, err := o.catalog.FindTrackPathByKeyword(token)
		if err != nil || !found {
			continue
		}

		src := filepath.Join(o.root, entry.Name())
		dest := strings.TrimSuffix(trackPath, filepath.Ext(trackPath)) + ".lrc"
		if _, statErr := os.Stat(dest); statErr == nil {
			continue
		}
		if err := o.robustMove(src, dest); err != nil {
			o.logger.WithError(err).WithField("path", src).Warn("Failed to relocate loose lyric file")
			continue
		}
		relocated++
	}
	return relocated
}

// leadingToken returns the text before the first space, dash or
// underscore, trimmed.
func leadingToken(s string) string {
	cut := strings.IndexAny(s, " -_")
	if cut >= 0 {
		s = s[:cut]
	}
	return strings.TrimSpace(s)
}
