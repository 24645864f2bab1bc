package metasync

import (
	"context"
	"crypto/md5"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"melisma/internal/apperr"
	"melisma/internal/config"
)

func testProviderConfig() config.ProvidersConfig {
	return config.ProvidersConfig{
		UserAgent:        "melisma-test/1.0",
		RetryBaseDelayMS: 1,
		RetryMaxAttempts: 3,
	}
}

func TestSearchArtist(t *testing.T) {
	t.Run("FirstResultWins", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/artist") {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			fmt.Fprint(w, `{"artists":[{"id":"mbid-1","name":"Queen"},{"id":"mbid-2","name":"Queens"}]}`)
		}))
		defer srv.Close()

		cfg := testProviderConfig()
		cfg.SearchBaseURL = srv.URL
		c := NewClient(cfg)

		match, err := c.SearchArtist(context.Background(), "Queen")
		if err != nil {
			t.Fatalf("SearchArtist: %v", err)
		}
		if match.ID != "mbid-1" {
			t.Errorf("id = %q, want mbid-1", match.ID)
		}
	})

	t.Run("EmptyResultIsNotFound", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"artists":[]}`)
		}))
		defer srv.Close()

		cfg := testProviderConfig()
		cfg.SearchBaseURL = srv.URL
		c := NewClient(cfg)

		_, err := c.SearchArtist(context.Background(), "Nobody")
		if !apperr.Is(err, apperr.KindNotFound) {
			t.Errorf("err = %v, want not_found", err)
		}
	})

	t.Run("RetriesTransientFailures", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			fmt.Fprint(w, `{"artists":[{"id":"mbid-1","name":"Queen"}]}`)
		}))
		defer srv.Close()

		cfg := testProviderConfig()
		cfg.SearchBaseURL = srv.URL
		c := NewClient(cfg)

		match, err := c.SearchArtist(context.Background(), "Queen")
		if err != nil {
			t.Fatalf("expected success on third attempt: %v", err)
		}
		if match.ID != "mbid-1" || atomic.LoadInt32(&calls) != 3 {
			t.Errorf("id=%q calls=%d", match.ID, calls)
		}
	})
}

func TestSearchRelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"releases":[{"id":"rel-1","date":"1975-11-21"},{"id":"rel-2","date":"1980"}]}`)
	}))
	defer srv.Close()

	cfg := testProviderConfig()
	cfg.SearchBaseURL = srv.URL
	c := NewClient(cfg)

	match, err := c.SearchRelease(context.Background(), "A Night at the Opera", "Queen")
	if err != nil {
		t.Fatalf("SearchRelease: %v", err)
	}
	if match.ID != "rel-1" || match.Year != 1975 {
		t.Errorf("got %+v, want rel-1/1975", match)
	}
}

func TestArtistImageURL(t *testing.T) {
	t.Run("ThumbnailCDNPreferred", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<img src="https://lastfm.freetls.fastly.net/i/u/avatar170s/abc123def"/>`)
		}))
		defer srv.Close()

		cfg := testProviderConfig()
		cfg.ThumbnailBaseURL = srv.URL
		c := NewClient(cfg)

		imageURL, err := c.ArtistImageURL(context.Background(), "Queen", "")
		if err != nil {
			t.Fatalf("ArtistImageURL: %v", err)
		}
		want := "https://lastfm.freetls.fastly.net/i/u/770x770/abc123def.jpg"
		if imageURL != want {
			t.Errorf("url = %q, want %q", imageURL, want)
		}
	})

	t.Run("SquareThumbnailVariant", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `<img src="https://lastfm.freetls.fastly.net/i/u/300x300/feed99"/>`)
		}))
		defer srv.Close()

		cfg := testProviderConfig()
		cfg.ThumbnailBaseURL = srv.URL
		c := NewClient(cfg)

		imageURL, err := c.ArtistImageURL(context.Background(), "Queen", "")
		if err != nil {
			t.Fatalf("ArtistImageURL: %v", err)
		}
		if imageURL != "https://lastfm.freetls.fastly.net/i/u/770x770/feed99.jpg" {
			t.Errorf("url = %q", imageURL)
		}
	})

	t.Run("EncyclopediaFallback", func(t *testing.T) {
		mux := http.NewServeMux()
		var searchBase, encBase, mediaBase string

		mux.HandleFunc("/search/artist/mbid-1", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"relations":[{"type":"wikidata","url":{"resource":"https://www.wikidata.org/wiki/Q15862"}}]}`)
		})
		mux.HandleFunc("/enc/Q15862.json", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"entities":{"Q15862":{"claims":{"P18":[{"mainsnak":{"datavalue":{"value":"Queen band.jpg"}}}]}}}}`)
		})
		mux.HandleFunc("/thumb/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()
		searchBase = srv.URL + "/search"
		encBase = srv.URL + "/enc"
		mediaBase = srv.URL + "/media"

		cfg := testProviderConfig()
		cfg.SearchBaseURL = searchBase
		cfg.EncyclopediaBaseURL = encBase
		cfg.MediaBaseURL = mediaBase
		cfg.ThumbnailBaseURL = srv.URL + "/thumb"
		c := NewClient(cfg)

		imageURL, err := c.ArtistImageURL(context.Background(), "Queen", "mbid-1")
		if err != nil {
			t.Fatalf("ArtistImageURL: %v", err)
		}

		digest := fmt.Sprintf("%x", md5.Sum([]byte("Queen_band.jpg")))
		want := fmt.Sprintf("%s/%s/%s/Queen_band.jpg", mediaBase, digest[0:1], digest[0:2])
		if imageURL != want {
			t.Errorf("url = %q, want %q", imageURL, want)
		}
	})
}

func TestFrontCoverURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"images":[{"front":false,"image":"https://img/back.jpg"},{"front":true,"image":"https://img/front.jpg"}]}`)
	}))
	defer srv.Close()

	cfg := testProviderConfig()
	cfg.CoverArtBaseURL = srv.URL
	c := NewClient(cfg)

	coverURL, err := c.FrontCoverURL(context.Background(), "rel-1")
	if err != nil {
		t.Fatalf("FrontCoverURL: %v", err)
	}
	if coverURL != "https://img/front.jpg" {
		t.Errorf("url = %q", coverURL)
	}
}

func TestResolveDirectURL(t *testing.T) {
	c := NewClient(testProviderConfig())

	t.Run("ArchiveWrapperUnwrapped", func(t *testing.T) {
		got := c.ResolveDirectURL("https://web.archive.org/web/20200101000000/https://example.com/pic.jpg")
		if got != "https://example.com/pic.jpg" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("CommonsFilePageRewritten", func(t *testing.T) {
		cfg := testProviderConfig()
		cfg.MediaBaseURL = "https://upload.example.org/commons"
		c := NewClient(cfg)

		got := c.ResolveDirectURL("https://commons.wikimedia.org/wiki/File:Queen%20band.jpg")
		digest := fmt.Sprintf("%x", md5.Sum([]byte("Queen_band.jpg")))
		want := fmt.Sprintf("https://upload.example.org/commons/%s/%s/Queen_band.jpg", digest[0:1], digest[0:2])
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("PlainURLUntouched", func(t *testing.T) {
		got := c.ResolveDirectURL("https://example.com/pic.jpg")
		if got != "https://example.com/pic.jpg" {
			t.Errorf("got %q", got)
		}
	})
}

func TestDownloadImage(t *testing.T) {
	t.Run("ExtensionFromContentType", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte{0x89, 'P', 'N', 'G'})
		}))
		defer srv.Close()

		c := NewClient(testProviderConfig())
		dir := t.TempDir()

		path, err := c.DownloadImage(context.Background(), srv.URL+"/img", dir, "artist_7")
		if err != nil {
			t.Fatalf("DownloadImage: %v", err)
		}
		if filepath.Base(path) != "artist_7.png" {
			t.Errorf("path = %q, want artist_7.png", path)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("file missing: %v", err)
		}
	})

	t.Run("BadStatusFails", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		c := NewClient(testProviderConfig())
		_, err := c.DownloadImage(context.Background(), srv.URL, t.TempDir(), "x")
		if !apperr.Is(err, apperr.KindMetadata) {
			t.Errorf("err = %v, want metadata kind", err)
		}
	})
}
