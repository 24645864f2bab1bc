// Package organizer rebuilds the on-disk library layout so every audio
// file lives at {root}/{artist}/{album}/{title}.{ext}, carrying its
// sidecar files along and keeping catalog paths in sync with the moves.
package organizer

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"melisma/internal/apperr"
	"melisma/internal/catalog"
	"melisma/internal/fsutil"
	"melisma/internal/scanner"
	"melisma/internal/tags"
)

// UnsortedDir collects files whose destination cannot be derived from tags.
const UnsortedDir = "Unsorted"

// sidecarExts are companion-file extensions moved together with a track.
var sidecarExts = []string{".lrc", ".jpg", ".png", ".jpeg", ".txt", ".pdf"}

// albumAssetPrefixes are directory-level asset names that follow the album
// to its new location.
var albumAssetPrefixes = []string{"cover.", "folder.", "front.", "album."}

// Report summarizes one organize run.
type Report struct {
	Moved           int
	AlreadyInPlace  int
	Collisions      []string
	SidecarsMoved   int
	AssetsRecovered int
	LyricsRelocated int
}

// Organizer moves library files into the canonical layout.
type Organizer struct {
	catalog   *catalog.Catalog
	extractor *tags.Extractor
	guard     *scanner.Guard
	root      string
	avatarDir string
	coverDir  string
	logger    *logrus.Logger

	// rename is swappable so tests can force the copy fallback.
	rename func(oldpath, newpath string) error
}

// New creates an organizer rooted at the library path. avatarDir and
// coverDir are the internal image caches recovered into the library.
func New(cat *catalog.Catalog, extractor *tags.Extractor, guard *scanner.Guard, root, avatarDir, coverDir string) *Organizer {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Organizer{
		catalog:   cat,
		extractor: extractor,
		guard:     guard,
		root:      root,
		avatarDir: avatarDir,
		coverDir:  coverDir,
		logger:    logger,
		rename:    os.Rename,
	}
}

// Organize walks the library tree and moves every audio file to
// {root}/{artist}/{album}/{title}.{ext}, then recovers cached images and
// loose lyric files into the new layout. It shares the structural-operation
// guard with the scanner, so it fails immediately while a scan is running.
func (o *Organizer) Organize(ctx context.Context) (*Report, error) {
	if err := o.guard.Acquire("organize"); err != nil {
		return nil, err
	}
	defer o.guard.Release()

	info, err := os.Stat(o.root)
	if err != nil || !info.IsDir() {
		return nil, apperr.Newf(apperr.KindBadRequest, "library root is not a directory: %s", o.root)
	}

	files, err := o.collectAudioFiles()
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for _, path := range files {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		o.organizeFile(path, report)
	}

	report.AssetsRecovered = o.recoverAssets()
	report.LyricsRelocated = o.relocateLooseLyrics()

	if len(report.Collisions) > 0 {
		o.logger.WithFields(logrus.Fields{
			"count": len(report.Collisions),
			"paths": report.Collisions,
		}).Warn("Organize skipped files whose destination already exists")
	}
	o.logger.WithFields(logrus.Fields{
		"moved":      report.Moved,
		"in_place":   report.AlreadyInPlace,
		"collisions": len(report.Collisions),
		"sidecars":   report.SidecarsMoved,
		"assets":     report.AssetsRecovered,
		"lyrics":     report.LyricsRelocated,
	}).Info("Organize finished")

	return report, nil
}

// collectAudioFiles walks the root and returns every supported audio file.
// Unreadable subtrees are skipped, not fatal. The list is snapshotted
// before any file moves.
func (o *Organizer) collectAudioFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(o.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			o.logger.WithError(walkErr).WithField("path", path).Warn("Skipping unreadable path")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if o.extractor.IsAudioFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIo, "walk library root", err)
	}
	return files, nil
}

// organizeFile moves a single audio file and its sidecars. Per-file
// failures are logged and skipped; one bad file never aborts the run.
func (o *Organizer) organizeFile(path string, report *Report) {
	destPath := o.destination(path)

	if destPath == path {
		// Right place already; companions may still be strays.
		report.AlreadyInPlace++
		report.SidecarsMoved += o.moveSidecars(path, destPath)
		return
	}

	if _, err := os.Stat(destPath); err == nil {
		report.Collisions = append(report.Collisions, path)
		return
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		o.logger.WithError(err).WithField("dir", filepath.Dir(destPath)).Warn("Failed to create destination directory")
		return
	}

	if err := o.robustMove(path, destPath); err != nil {
		o.logger.WithError(err).WithFields(logrus.Fields{
			"from": path,
			"to":   destPath,
		}).Warn("Failed to move track")
		return
	}

	if err := o.catalog.UpdateTrackPath(path, destPath); err != nil {
		o.logger.WithError(err).WithField("path", destPath).Error("Moved file but failed to update catalog path")
	}

	report.Moved++
	report.SidecarsMoved += o.moveSidecars(path, destPath)
}

// destination derives the canonical path for an audio file from its tags:
// {root}/{artist}/{album}/{title}.{ext}. Files whose tags cannot be read,
// or that are missing any of title, artist or album, keep their base name
// under the Unsorted bucket.
func (o *Organizer) destination(path string) string {
	probe, err := o.extractor.Extract(path)
	if err != nil {
		o.logger.WithError(err).WithField("path", path).Debug("Unreadable tags, using unsorted bucket")
		return filepath.Join(o.root, UnsortedDir, filepath.Base(path))
	}
	if !probe.FullyTagged {
		return filepath.Join(o.root, UnsortedDir, filepath.Base(path))
	}
	name := fsutil.SanitizeName(probe.Title) + filepath.Ext(path)
	return filepath.Join(o.root, fsutil.SanitizeName(probe.Artist), fsutil.SanitizeName(probe.Album), name)
}

// moveSidecars relocates companion files sharing the audio file's old stem,
// renaming them to the destination stem, plus album-level assets sitting in
// the old directory. Returns how many files moved.
func (o *Organizer) moveSidecars(oldPath, newPath string) int {
	srcDir := filepath.Dir(oldPath)
	destDir := filepath.Dir(newPath)
	oldStem := fsutil.Stem(oldPath)
	newStem := fsutil.Stem(newPath)

	moved := 0
	for _, ext := range sidecarExts {
		candidate := filepath.Join(srcDir, oldStem+ext)
		dest := filepath.Join(destDir, newStem+ext)
		if candidate == dest {
			continue
		}
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		if err := o.robustMove(candidate, dest); err != nil {
			o.logger.WithError(err).WithField("path", candidate).Warn("Failed to move sidecar")
			continue
		}
		moved++
	}

	if srcDir == destDir {
		return moved
	}
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return moved
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := strings.ToLower(entry.Name())
		for _, prefix := range albumAssetPrefixes {
			if strings.HasPrefix(name, prefix) {
				src := filepath.Join(srcDir, entry.Name())
				dest := filepath.Join(destDir, entry.Name())
				if _, statErr := os.Stat(dest); statErr == nil {
					break
				}
				if err := o.robustMove(src, dest); err != nil {
					o.logger.WithError(err).WithField("path", src).Warn("Failed to move album asset")
					break
				}
				moved++
				break
			}
		}
	}
	return moved
}

// robustMove renames when possible and falls back to copy-then-delete for
// cross-device moves. When the copy fails, the source file is left intact
// and the partial destination is removed.
func (o *Organizer) robustMove(src, dst string) error {
	if err := o.rename(src, dst); err == nil {
		return nil
	}

	if err := copyFile(src, dst); err != nil {
		os.Remove(dst)
		return apperr.Wrap(apperr.KindIo, "copy fallback", err)
	}
	if err := os.Remove(src); err != nil {
		o.logger.WithError(err).WithField("path", src).Warn("Copied file but failed to remove source")
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
