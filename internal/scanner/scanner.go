// Package scanner walks the library root and drives the concurrent ingest
// pipeline, owning the scan lifecycle: progress accounting, the failure
// circuit breaker, the final reconcile and the orphan sweep.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"melisma/internal/apperr"
	"melisma/internal/catalog"
	"melisma/internal/config"
)

// Summary reports what a completed scan did.
type Summary struct {
	RunID          string
	Total          int
	Succeeded      int
	Failed         int
	OrphansRemoved int
	BreakerTripped bool
}

// Scanner coordinates full library scans.
type Scanner struct {
	catalog  *catalog.Catalog
	pipeline Pipeline
	guard    *Guard
	cfg      config.ScanConfig
	root     string
	formats  []string
	logger   *logrus.Logger
}

// New creates a scan coordinator over the given root.
func New(cat *catalog.Catalog, pipeline Pipeline, guard *Guard, cfg config.ScanConfig, root string, formats []string) *Scanner {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Scanner{
		catalog:  cat,
		pipeline: pipeline,
		guard:    guard,
		cfg:      cfg,
		root:     root,
		formats:  formats,
		logger:   logger,
	}
}

// Scan performs a full library scan. When clear is set, all existing
// entities are dropped first and the catalog is rebuilt from disk.
//
// Only one structural operation runs at a time; a scan requested while
// another scan or an organize holds the guard fails immediately.
func (s *Scanner) Scan(ctx context.Context, clear bool) (*Summary, error) {
	if err := s.guard.Acquire("scan"); err != nil {
		return nil, err
	}
	defer s.guard.Release()

	info, err := os.Stat(s.root)
	if err != nil || !info.IsDir() {
		return nil, apperr.Newf(apperr.KindBadRequest, "library root is not a directory: %s", s.root)
	}

	if clear {
		if err := s.catalog.ClearLibrary(); err != nil {
			return nil, err
		}
	}

	files, err := s.collectAudioFiles()
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	if err := s.catalog.BeginScan(len(files), runID); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":      runID,
		"total_files": len(files),
		"concurrency": s.cfg.Concurrency,
	}).Info("Library scan started")

	summary := s.processFiles(ctx, files)
	summary.RunID = runID
	summary.Total = len(files)

	// The success counter only flushes every few files; the row count is
	// the authoritative final figure.
	if err := s.catalog.ReconcileScanProgress(); err != nil {
		s.logger.WithError(err).Warn("Failed to reconcile scan progress")
	}

	removed, err := s.catalog.OrphanSweep()
	if err != nil {
		s.logger.WithError(err).Warn("Orphan sweep failed")
	}
	summary.OrphansRemoved = removed

	if err := s.catalog.FinishScan(); err != nil {
		s.logger.WithError(err).Warn("Failed to finish scan status")
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":    runID,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"orphans":   summary.OrphansRemoved,
		"breaker":   summary.BreakerTripped,
	}).Info("Library scan finished")

	return summary, nil
}

// collectAudioFiles walks the root and returns every supported audio file.
// Unreadable subtrees are skipped, not fatal.
func (s *Scanner) collectAudioFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			s.logger.WithError(walkErr).WithField("path", path).Warn("Skipping unreadable path")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if s.isSupported(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIo, "walk library root", err)
	}
	return files, nil
}

func (s *Scanner) isSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range s.formats {
		if ext == format {
			return true
		}
	}
	return false
}

type fileResult struct {
	path string
	err  error
}

// processFiles runs the pipeline over all files. Two limits apply: the
// semaphore caps files being extracted at once, and the launch window caps
// goroutines in flight so a huge library never schedules itself all at
// once. After maxFailures failures the breaker trips and no new files are
// launched; already-launched ones drain normally.
func (s *Scanner) processFiles(ctx context.Context, files []string) *Summary {
	summary := &Summary{}
	cache := catalog.NewIdentityCache()
	sem := semaphore.NewWeighted(int64(s.cfg.Concurrency))
	results := make(chan fileResult)

	window := s.cfg.InFlightWindow
	if window < 1 {
		window = 1
	}

	next := 0
	inFlight := 0
	for next < len(files) || inFlight > 0 {
		tripped := summary.Failed >= s.cfg.MaxFailures
		for !tripped && ctx.Err() == nil && next < len(files) && inFlight < window {
			path := files[next]
			next++
			inFlight++
			go s.runOne(ctx, sem, path, cache, results)
		}
		if inFlight == 0 {
			break
		}

		res := <-results
		inFlight--
		if res.err != nil {
			summary.Failed++
			s.logger.WithError(res.err).WithField("path", res.path).Warn("Failed to process file")
			if summary.Failed == s.cfg.MaxFailures {
				s.logger.WithField("failures", summary.Failed).Error("Too many failures, aborting scan")
				summary.BreakerTripped = true
			}
			continue
		}

		summary.Succeeded++
		if s.cfg.ProgressInterval > 0 && summary.Succeeded%s.cfg.ProgressInterval == 0 {
			if err := s.catalog.SetScanProgress(summary.Succeeded); err != nil {
				s.logger.WithError(err).Warn("Failed to persist scan progress")
			}
		}
	}
	return summary
}

// runOne processes a single file under the semaphore, converting panics in
// the pipeline into ordinary failures so one bad file cannot kill the scan.
func (s *Scanner) runOne(ctx context.Context, sem *semaphore.Weighted, path string, cache *catalog.IdentityCache, results chan<- fileResult) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = apperr.Newf(apperr.KindInternal, "panic processing %s: %v", path, r)
		}
		results <- fileResult{path: path, err: err}
	}()

	if err = sem.Acquire(ctx, 1); err != nil {
		err = fmt.Errorf("acquire scan slot: %w", err)
		return
	}
	defer sem.Release(1)

	err = s.pipeline.ProcessFile(path, cache)
}
