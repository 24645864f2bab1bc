package metasync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"melisma/internal/apperr"
	"melisma/internal/catalog"
	"melisma/internal/config"
)

func newTestSyncer(t *testing.T, cfg config.ProvidersConfig) (*Syncer, *catalog.Catalog) {
	t.Helper()
	cat, err := catalog.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	cfg.UserAgent = "melisma-test/1.0"
	if cfg.RetryBaseDelayMS == 0 {
		cfg.RetryBaseDelayMS = 1
	}
	if cfg.RetryMaxAttempts == 0 {
		cfg.RetryMaxAttempts = 1
	}
	cfg.ItemTimeoutSeconds = 5

	client := NewClient(cfg)
	s := NewSyncer(cat, client, cfg, filepath.Join(t.TempDir(), "avatars"), filepath.Join(t.TempDir(), "covers"))
	return s, cat
}

// artistProvider builds a test server whose URL relations point the image
// download at imageStatus, so every fetch stays local.
func artistProvider(t *testing.T, imageStatus int) (*httptest.Server, config.ProvidersConfig) {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/search/artist", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"artists":[{"id":"mbid-q","name":"Queen"}]}`)
	})
	mux.HandleFunc("/search/artist/mbid-q", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"relations":[{"type":"image","url":{"resource":%q}}]}`, srv.URL+"/img")
	})
	mux.HandleFunc("/thumb/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/img", func(w http.ResponseWriter, r *http.Request) {
		if imageStatus != http.StatusOK {
			w.WriteHeader(imageStatus)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte{0xFF, 0xD8, 0xFF})
	})

	return srv, config.ProvidersConfig{
		SearchBaseURL:    srv.URL + "/search",
		ThumbnailBaseURL: srv.URL + "/thumb",
	}
}

func TestSyncArtists(t *testing.T) {
	t.Run("RejectedWhileRunning", func(t *testing.T) {
		s, cat := newTestSyncer(t, config.ProvidersConfig{})
		if err := cat.BeginArtistSync(1, "other-run"); err != nil {
			t.Fatal(err)
		}

		err := s.SyncArtists(context.Background(), false)
		if !apperr.Is(err, apperr.KindBadRequest) {
			t.Errorf("err = %v, want bad_request", err)
		}
	})

	t.Run("StoresProviderIDAndLocalImage", func(t *testing.T) {
		_, cfg := artistProvider(t, http.StatusOK)
		s, cat := newTestSyncer(t, cfg)
		artistID, _ := cat.GetOrCreateArtist(nil, "Queen")

		if err := s.SyncArtists(context.Background(), false); err != nil {
			t.Fatalf("SyncArtists: %v", err)
		}

		artist, _ := cat.ArtistByID(artistID)
		if artist.ProviderArtistID != "mbid-q" {
			t.Errorf("provider id = %q, want mbid-q", artist.ProviderArtistID)
		}
		if filepath.Base(artist.ImagePath) != fmt.Sprintf("artist_%d.jpg", artistID) {
			t.Errorf("image path = %q, want local artist_%d.jpg", artist.ImagePath, artistID)
		}
	})

	t.Run("DownloadFailureStoresRemoteURL", func(t *testing.T) {
		srv, cfg := artistProvider(t, http.StatusForbidden)
		s, cat := newTestSyncer(t, cfg)
		artistID, _ := cat.GetOrCreateArtist(nil, "Queen")

		if err := s.SyncArtists(context.Background(), false); err != nil {
			t.Fatalf("SyncArtists: %v", err)
		}

		artist, _ := cat.ArtistByID(artistID)
		if artist.ImagePath != srv.URL+"/img" {
			t.Errorf("image path = %q, want remote URL fallback", artist.ImagePath)
		}
	})

	t.Run("ItemFailureRecordedAndBatchContinues", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		cfg := config.ProvidersConfig{
			SearchBaseURL:    srv.URL,
			ThumbnailBaseURL: srv.URL,
		}
		s, cat := newTestSyncer(t, cfg)
		cat.GetOrCreateArtist(nil, "Alpha")
		cat.GetOrCreateArtist(nil, "Beta")

		if err := s.SyncArtists(context.Background(), false); err != nil {
			t.Fatalf("batch should survive item failures: %v", err)
		}

		status, _ := cat.ArtistSyncStatus()
		if status.IsRunning {
			t.Error("sync still marked running")
		}
		if status.Current != 2 || status.Total != 2 {
			t.Errorf("progress = %d/%d, want 2/2", status.Current, status.Total)
		}
		if status.LastError == "" {
			t.Error("expected last error recorded")
		}
	})

	t.Run("OnlyMissingSkipsCoveredArtists", func(t *testing.T) {
		_, cfg := artistProvider(t, http.StatusOK)
		s, cat := newTestSyncer(t, cfg)
		coveredID, _ := cat.GetOrCreateArtist(nil, "Covered")
		cat.SetArtistImage(coveredID, "already.jpg")
		cat.GetOrCreateArtist(nil, "Queen")

		if err := s.SyncArtists(context.Background(), true); err != nil {
			t.Fatalf("SyncArtists: %v", err)
		}
		status, _ := cat.ArtistSyncStatus()
		if status.Total != 1 {
			t.Errorf("total = %d, want only the uncovered artist", status.Total)
		}
	})
}

func TestSyncAlbums(t *testing.T) {
	t.Run("MatchesReleaseAndDownloadsCover", func(t *testing.T) {
		mux := http.NewServeMux()
		srv := httptest.NewServer(mux)
		defer srv.Close()

		mux.HandleFunc("/search/release", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"releases":[{"id":"rel-9","date":"1986-06-02"}]}`)
		})
		mux.HandleFunc("/caa/release/rel-9", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"images":[{"front":true,"image":%q}]}`, srv.URL+"/img")
		})
		mux.HandleFunc("/img", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte{0x89, 'P', 'N', 'G'})
		})

		cfg := config.ProvidersConfig{
			SearchBaseURL:   srv.URL + "/search",
			CoverArtBaseURL: srv.URL + "/caa",
		}
		s, cat := newTestSyncer(t, cfg)

		artistID, _ := cat.GetOrCreateArtist(nil, "Queen")
		albumID, _ := cat.GetOrCreateAlbum(nil, "A Kind of Magic", artistID, 0)

		if err := s.SyncAlbums(context.Background()); err != nil {
			t.Fatalf("SyncAlbums: %v", err)
		}

		album, _ := cat.AlbumByID(albumID)
		if album.ProviderReleaseID != "rel-9" {
			t.Errorf("provider release = %q", album.ProviderReleaseID)
		}
		if album.ReleaseYear != 1986 {
			t.Errorf("year = %d, want 1986", album.ReleaseYear)
		}
		if filepath.Ext(album.CoverPath) != ".png" {
			t.Errorf("cover path = %q, want local png", album.CoverPath)
		}
	})

	t.Run("ExistingCoverNotRefetched", func(t *testing.T) {
		var caaCalls int
		mux := http.NewServeMux()
		mux.HandleFunc("/search/release", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"releases":[{"id":"rel-1","date":"1999"}]}`)
		})
		mux.HandleFunc("/caa/", func(w http.ResponseWriter, r *http.Request) {
			caaCalls++
			fmt.Fprint(w, `{"images":[]}`)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		cfg := config.ProvidersConfig{
			SearchBaseURL:   srv.URL + "/search",
			CoverArtBaseURL: srv.URL + "/caa",
		}
		s, cat := newTestSyncer(t, cfg)

		artistID, _ := cat.GetOrCreateArtist(nil, "Artist")
		albumID, _ := cat.GetOrCreateAlbum(nil, "Album", artistID, 0)
		cat.SetAlbumCover(albumID, "already/cover.jpg")

		if err := s.SyncAlbums(context.Background()); err != nil {
			t.Fatalf("SyncAlbums: %v", err)
		}
		if caaCalls != 0 {
			t.Errorf("cover art queried %d times for covered album", caaCalls)
		}
	})
}
