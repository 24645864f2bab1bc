// Package lyrics locates lyric text for a track: external .lrc files found
// by naming convention, then lyric fields embedded in the audio tags.
package lyrics

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"melisma/internal/tags"
	"melisma/pkg/models"
)

// Result is the outcome of lyric resolution for one track.
type Result struct {
	Text   string
	Source models.LyricsSource
}

// Resolver finds lyric text for audio files. Resolution order:
//  1. Sibling file: same directory, same stem, ".lrc" extension.
//  2. Mirror directory: {root}/{mirrorDir}/{relative path}.lrc, exact
//     match first, then any .lrc in that directory whose name starts
//     with the audio file's stem.
//  3. Embedded lyric field from any tag block.
type Resolver struct {
	root      string
	mirrorDir string
	logger    *logrus.Logger
}

// NewResolver creates a lyric resolver rooted at the library path.
// mirrorDir is the name of the library-wide parallel lyric subtree.
func NewResolver(root, mirrorDir string) *Resolver {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Resolver{
		root:      root,
		mirrorDir: mirrorDir,
		logger:    logger,
	}
}

type strategy func(path string, blocks []tags.Block) (Result, bool)

// Resolve runs the strategy chain; the first hit wins. It never fails:
// when nothing matches the result is empty with source "none".
func (r *Resolver) Resolve(path string, blocks []tags.Block) Result {
	strategies := []strategy{
		r.fromSibling,
		r.fromMirror,
		r.fromEmbedded,
	}

	for _, s := range strategies {
		if res, ok := s(path, blocks); ok {
			return res
		}
	}
	return Result{Source: models.LyricsNone}
}

func (r *Resolver) fromSibling(path string, _ []tags.Block) (Result, bool) {
	lrcPath := replaceExt(path, ".lrc")
	if _, err := os.Stat(lrcPath); err != nil {
		return Result{}, false
	}
	return r.readExternal(lrcPath)
}

func (r *Resolver) fromMirror(path string, _ []tags.Block) (Result, bool) {
	if r.mirrorDir == "" {
		return Result{}, false
	}
	rel, err := filepath.Rel(r.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return Result{}, false
	}

	mirrored := filepath.Join(r.root, r.mirrorDir, rel)
	exact := replaceExt(mirrored, ".lrc")
	if _, statErr := os.Stat(exact); statErr == nil {
		return r.readExternal(exact)
	}

	// Fuzzy: any .lrc in the mirrored directory starting with the stem.
	stem := fileStem(path)
	entries, err := os.ReadDir(filepath.Dir(mirrored))
	if err != nil {
		return Result{}, false
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.Type().IsRegular() && strings.HasPrefix(name, stem) && strings.HasSuffix(name, ".lrc") {
			return r.readExternal(filepath.Join(filepath.Dir(mirrored), name))
		}
	}
	return Result{}, false
}

func (r *Resolver) fromEmbedded(_ string, blocks []tags.Block) (Result, bool) {
	for _, b := range blocks {
		if text := b.Lyrics(); text != "" {
			return Result{Text: text, Source: models.LyricsEmbedded}, true
		}
	}
	return Result{}, false
}

// readExternal loads an .lrc file and recovers its text through the
// encoding waterfall. It is best-effort: a read failure falls through to
// the next strategy, but decode itself never fails.
func (r *Resolver) readExternal(lrcPath string) (Result, bool) {
	data, err := os.ReadFile(lrcPath)
	if err != nil {
		r.logger.WithError(err).WithField("lrc_path", lrcPath).Warn("Failed to read lyric file")
		return Result{}, false
	}

	text, encoding := DecodeText(data)
	r.logger.WithFields(logrus.Fields{
		"lrc_path": lrcPath,
		"encoding": encoding,
	}).Debug("Loaded external lyric file")

	return Result{Text: text, Source: models.LyricsFile}, true
}

func replaceExt(path, newExt string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + newExt
}

func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
