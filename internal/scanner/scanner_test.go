package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"melisma/internal/apperr"
	"melisma/internal/catalog"
	"melisma/internal/config"
)

func TestGuard(t *testing.T) {
	t.Run("SecondAcquireFails", func(t *testing.T) {
		g := NewGuard()
		if err := g.Acquire("scan"); err != nil {
			t.Fatalf("first acquire: %v", err)
		}
		defer g.Release()

		err := g.Acquire("organize")
		if err == nil {
			t.Fatal("expected conflict error")
		}
		if !apperr.Is(err, apperr.KindBadRequest) {
			t.Errorf("kind = %v, want bad_request", apperr.KindOf(err))
		}
	})

	t.Run("ReleaseAllowsReacquire", func(t *testing.T) {
		g := NewGuard()
		if err := g.Acquire("scan"); err != nil {
			t.Fatal(err)
		}
		g.Release()
		if err := g.Acquire("scan"); err != nil {
			t.Errorf("reacquire after release: %v", err)
		}
		g.Release()
	})

	t.Run("Held", func(t *testing.T) {
		g := NewGuard()
		if g.Held() {
			t.Error("fresh guard reported held")
		}
		g.Acquire("scan")
		if !g.Held() {
			t.Error("acquired guard reported free")
		}
		g.Release()
	})
}

// fakePipeline drives the coordinator without touching real audio files.
type fakePipeline struct {
	mu         sync.Mutex
	delay      time.Duration
	concurrent int
	peak       int
	processed  []string
	fail       func(path string) error
}

func (f *fakePipeline) ProcessFile(path string, _ *catalog.IdentityCache) error {
	f.mu.Lock()
	f.concurrent++
	if f.concurrent > f.peak {
		f.peak = f.concurrent
	}
	f.processed = append(f.processed, path)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.concurrent--
	f.mu.Unlock()

	if f.fail != nil {
		return f.fail(path)
	}
	return nil
}

func testScanConfig() config.ScanConfig {
	return config.ScanConfig{
		Concurrency:      4,
		MaxFailures:      10,
		InFlightWindow:   10,
		ProgressInterval: 5,
	}
}

func newTestScanner(t *testing.T, pipeline Pipeline, cfg config.ScanConfig, fileCount int) (*Scanner, *catalog.Catalog, string) {
	t.Helper()
	cat, err := catalog.Open(filepath.Join(t.TempDir(), "scan.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	root := t.TempDir()
	for i := 0; i < fileCount; i++ {
		name := filepath.Join(root, "Artist", "Album", "track"+string(rune('a'+i%26))+string(rune('a'+i/26))+".mp3")
		if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(name, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	s := New(cat, pipeline, NewGuard(), cfg, root, []string{".mp3", ".flac"})
	return s, cat, root
}

func TestScan(t *testing.T) {
	t.Run("ProcessesAllSupportedFiles", func(t *testing.T) {
		pipeline := &fakePipeline{}
		s, cat, root := newTestScanner(t, pipeline, testScanConfig(), 12)

		// Unsupported files are never handed to the pipeline.
		os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0644)
		os.WriteFile(filepath.Join(root, "cover.jpg"), []byte("x"), 0644)

		summary, err := s.Scan(context.Background(), false)
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if summary.Total != 12 || summary.Succeeded != 12 || summary.Failed != 0 {
			t.Errorf("summary = %+v", summary)
		}
		if len(pipeline.processed) != 12 {
			t.Errorf("pipeline saw %d files, want 12", len(pipeline.processed))
		}

		status, _ := cat.ScanStatus()
		if status.IsRunning {
			t.Error("scan still marked running")
		}
		if status.RunID == "" {
			t.Error("expected a run id")
		}
	})

	t.Run("ConcurrencyNeverExceedsLimit", func(t *testing.T) {
		cfg := testScanConfig()
		cfg.Concurrency = 3
		pipeline := &fakePipeline{delay: 10 * time.Millisecond}
		s, _, _ := newTestScanner(t, pipeline, cfg, 20)

		if _, err := s.Scan(context.Background(), false); err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if pipeline.peak > cfg.Concurrency {
			t.Errorf("peak concurrency = %d, limit %d", pipeline.peak, cfg.Concurrency)
		}
	})

	t.Run("BreakerStopsAfterMaxFailures", func(t *testing.T) {
		cfg := testScanConfig()
		cfg.MaxFailures = 10
		cfg.InFlightWindow = 1 // deterministic launch order
		pipeline := &fakePipeline{fail: func(string) error { return errors.New("corrupt") }}
		s, _, _ := newTestScanner(t, pipeline, cfg, 40)

		summary, err := s.Scan(context.Background(), false)
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if !summary.BreakerTripped {
			t.Error("expected breaker to trip")
		}
		if summary.Failed != 10 {
			t.Errorf("failed = %d, want 10", summary.Failed)
		}
		if len(pipeline.processed) != 10 {
			t.Errorf("pipeline saw %d files after breaker, want 10", len(pipeline.processed))
		}
	})

	t.Run("PanicCountsAsFailure", func(t *testing.T) {
		cfg := testScanConfig()
		cfg.InFlightWindow = 1
		calls := 0
		pipeline := &fakePipeline{fail: func(string) error {
			calls++
			if calls == 1 {
				panic("corrupt header")
			}
			return nil
		}}
		s, _, _ := newTestScanner(t, pipeline, cfg, 5)

		summary, err := s.Scan(context.Background(), false)
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if summary.Failed != 1 || summary.Succeeded != 4 {
			t.Errorf("summary = %+v, want 1 failed 4 succeeded", summary)
		}
	})

	t.Run("ConflictingScanRejected", func(t *testing.T) {
		pipeline := &fakePipeline{}
		s, _, _ := newTestScanner(t, pipeline, testScanConfig(), 1)

		s.guard.Acquire("scan")
		defer s.guard.Release()

		_, err := s.Scan(context.Background(), false)
		if !apperr.Is(err, apperr.KindBadRequest) {
			t.Errorf("err = %v, want bad_request", err)
		}
	})

	t.Run("MissingRootRejected", func(t *testing.T) {
		pipeline := &fakePipeline{}
		s, _, _ := newTestScanner(t, pipeline, testScanConfig(), 0)
		s.root = filepath.Join(s.root, "does-not-exist")

		_, err := s.Scan(context.Background(), false)
		if !apperr.Is(err, apperr.KindBadRequest) {
			t.Errorf("err = %v, want bad_request", err)
		}
	})

	t.Run("ClearDropsExistingEntities", func(t *testing.T) {
		pipeline := &fakePipeline{}
		s, cat, _ := newTestScanner(t, pipeline, testScanConfig(), 2)

		artistID, _ := cat.GetOrCreateArtist(nil, "Stale Artist")
		if artistID == 0 {
			t.Fatal("seed artist")
		}

		if _, err := s.Scan(context.Background(), true); err != nil {
			t.Fatalf("Scan: %v", err)
		}
		artists, _ := cat.AllArtists()
		if len(artists) != 0 {
			t.Errorf("artists = %d after clear scan (fake pipeline writes none)", len(artists))
		}
	})
}
