// Package library keeps the catalog in sync with filesystem changes while
// the process runs, feeding new audio files through the ingest pipeline
// and dropping rows for removed ones.
package library

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"melisma/internal/catalog"
	"melisma/internal/scanner"
	"melisma/internal/tags"
)

// Watcher monitors the library root recursively.
type Watcher struct {
	catalog   *catalog.Catalog
	pipeline  scanner.Pipeline
	extractor *tags.Extractor
	guard     *scanner.Guard
	root      string
	watcher   *fsnotify.Watcher
	logger    *logrus.Logger
}

// NewWatcher creates a watcher over the library root. Events are ingested
// through the same pipeline the scanner uses, except while a structural
// operation holds the guard; those events are dropped and the next full
// scan picks the files up.
func NewWatcher(cat *catalog.Catalog, pipeline scanner.Pipeline, extractor *tags.Extractor, guard *scanner.Guard, root string) *Watcher {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Watcher{
		catalog:   cat,
		pipeline:  pipeline,
		extractor: extractor,
		guard:     guard,
		root:      root,
		logger:    logger,
	}
}

// Start initializes fsnotify and begins recursive monitoring.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	go w.watchFiles()

	if err := w.addDirectoryToWatcher(w.root); err != nil {
		return err
	}

	w.logger.WithField("library_path", w.root).Info("File watcher started")
	return nil
}

// addDirectoryToWatcher recursively walks and adds subdirectories to watcher.
func (w *Watcher) addDirectoryToWatcher(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

// watchFiles selects on watcher channels and dispatches events.
func (w *Watcher) watchFiles() {
	defer w.watcher.Close()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFileEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("File watcher error")
		}
	}
}

// ignoredFile filters hidden and temporary files out of event handling.
func ignoredFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp")
}

// handleFileEvent applies filtering & delegates creation/removal actions.
func (w *Watcher) handleFileEvent(event fsnotify.Event) {
	if ignoredFile(event.Name) {
		return
	}

	isAudioFile := w.extractor.IsAudioFile(event.Name)

	switch {
	case event.Has(fsnotify.Create) && isAudioFile:
		go func(name string) {
			time.Sleep(500 * time.Millisecond) // Ensure file is fully written
			w.handleNewFile(name)
		}(event.Name)

	case event.Has(fsnotify.Remove) && isAudioFile:
		go w.handleRemovedFile(event.Name)

	case event.Has(fsnotify.Create):
		// Check if it's a new directory
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.watcher.Add(event.Name)
			w.logger.WithField("directory", event.Name).Info("Watching new directory")
		}
	}
}

// handleNewFile ingests a detected audio file if it is unseen.
func (w *Watcher) handleNewFile(filePath string) {
	w.logger.WithField("file_path", filePath).Info("New audio file detected")

	if w.guard.Held() {
		w.logger.WithField("file_path", filePath).Debug("Structural operation running, deferring to next scan")
		return
	}

	exists, err := w.catalog.TrackExists(filePath)
	if err != nil {
		w.logger.WithError(err).WithField("file_path", filePath).Error("Error checking if track exists")
		return
	}
	if exists {
		w.logger.WithField("file_path", filePath).Debug("Track already exists in catalog")
		return
	}

	if err := w.pipeline.ProcessFile(filePath, nil); err != nil {
		w.logger.WithError(err).WithField("file_path", filePath).Error("Error ingesting new file")
		return
	}

	w.logger.WithField("file_path", filePath).Info("Added new track")
}

// handleRemovedFile removes track rows referencing deleted audio files.
func (w *Watcher) handleRemovedFile(filePath string) {
	w.logger.WithField("file_path", filePath).Info("Audio file removed")

	if err := w.catalog.RemoveTrackByPath(filePath); err != nil {
		w.logger.WithError(err).WithField("file_path", filePath).Error("Error removing track from catalog")
		return
	}

	w.logger.WithField("file_path", filePath).Info("Removed track from catalog")
}

// Stop closes the watcher (idempotent).
func (w *Watcher) Stop() {
	if w.watcher != nil {
		w.watcher.Close()
	}
}
