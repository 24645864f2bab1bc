package metasync

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"melisma/internal/apperr"
	"melisma/internal/config"
)

// Client talks to the external metadata providers. All base URLs come from
// configuration so tests can point the client at local servers.
type Client struct {
	http   *http.Client
	cfg    config.ProvidersConfig
	retry  retryPolicy
	logger *logrus.Logger
}

// NewClient creates a provider client with the configured retry policy.
func NewClient(cfg config.ProvidersConfig) *Client {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Client{
		http:   &http.Client{Timeout: 60 * time.Second},
		cfg:    cfg,
		retry:  newRetryPolicy(time.Duration(cfg.RetryBaseDelayMS)*time.Millisecond, cfg.RetryMaxAttempts),
		logger: logger,
	}
}

// artistMatch is the slice of a search result the sync path consumes.
type artistMatch struct {
	ID   string
	Name string
}

// releaseMatch carries the first release hit and its release year (0 when
// the provider reported no date).
type releaseMatch struct {
	ID   string
	Year int
}

// SearchArtist queries the search provider for an artist by name and
// returns the first hit. First result wins; scoring disputes are the
// provider's problem.
func (c *Client) SearchArtist(ctx context.Context, name string) (*artistMatch, error) {
	query := url.Values{}
	query.Set("query", fmt.Sprintf("artist:%q", name))
	query.Set("fmt", "json")
	endpoint := fmt.Sprintf("%s/artist?%s", c.cfg.SearchBaseURL, query.Encode())

	var payload struct {
		Artists []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"artists"`
	}
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}
	if len(payload.Artists) == 0 {
		return nil, apperr.Newf(apperr.KindNotFound, "no artist match for %q", name)
	}
	return &artistMatch{ID: payload.Artists[0].ID, Name: payload.Artists[0].Name}, nil
}

// SearchRelease queries the search provider for a release by title and
// artist name, returning the first hit with its year parsed from the date
// prefix.
func (c *Client) SearchRelease(ctx context.Context, title, artist string) (*releaseMatch, error) {
	query := url.Values{}
	query.Set("query", fmt.Sprintf("release:%q AND artist:%q", title, artist))
	query.Set("fmt", "json")
	endpoint := fmt.Sprintf("%s/release?%s", c.cfg.SearchBaseURL, query.Encode())

	var payload struct {
		Releases []struct {
			ID   string `json:"id"`
			Date string `json:"date"`
		} `json:"releases"`
	}
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}
	if len(payload.Releases) == 0 {
		return nil, apperr.Newf(apperr.KindNotFound, "no release match for %q", title)
	}

	first := payload.Releases[0]
	year := 0
	if prefix, _, _ := strings.Cut(first.Date, "-"); prefix != "" {
		if y, err := strconv.Atoi(prefix); err == nil {
			year = y
		}
	}
	return &releaseMatch{ID: first.ID, Year: year}, nil
}

var (
	lastfmAvatarRe = regexp.MustCompile(`https://lastfm\.freetls\.fastly\.net/i/u/avatar170s/[a-f0-9]+`)
	lastfmSquareRe = regexp.MustCompile(`https://lastfm\.freetls\.fastly\.net/i/u/300x300/[a-f0-9]+`)
)

// ArtistImageURL finds an image URL for an artist. The thumbnail CDN scrape
// is tried first for its coverage; the encyclopedia chain through the
// search provider's URL relations is the fallback.
func (c *Client) ArtistImageURL(ctx context.Context, name, providerArtistID string) (string, error) {
	if imageURL, err := c.imageFromThumbnailCDN(ctx, name); err == nil {
		c.logger.WithField("artist", name).Info("Found image on thumbnail CDN")
		return imageURL, nil
	}

	if providerArtistID == "" {
		return "", apperr.Newf(apperr.KindMetadata, "no image found for %q", name)
	}
	return c.imageFromURLRelations(ctx, providerArtistID)
}

// imageFromThumbnailCDN scrapes the artist's image page for CDN thumbnail
// URLs and rewrites them to the full-size variant.
func (c *Client) imageFromThumbnailCDN(ctx context.Context, name string) (string, error) {
	pageURL := fmt.Sprintf("%s/%s/+images", c.cfg.ThumbnailBaseURL, url.PathEscape(name))
	body, err := c.getBody(ctx, pageURL)
	if err != nil {
		return "", err
	}
	html := string(body)

	if match := lastfmAvatarRe.FindString(html); match != "" {
		return strings.Replace(match, "avatar170s", "770x770", 1) + ".jpg", nil
	}
	if match := lastfmSquareRe.FindString(html); match != "" {
		return strings.Replace(match, "300x300", "770x770", 1) + ".jpg", nil
	}
	return "", apperr.New(apperr.KindMetadata, "no image found on thumbnail page")
}

// imageFromURLRelations walks the search provider's URL relations for the
// artist: a direct image relation wins, otherwise a wikidata relation leads
// to the entity's P18 image claim.
func (c *Client) imageFromURLRelations(ctx context.Context, providerArtistID string) (string, error) {
	endpoint := fmt.Sprintf("%s/artist/%s?inc=url-rels&fmt=json", c.cfg.SearchBaseURL, providerArtistID)

	var payload struct {
		Relations []struct {
			Type string `json:"type"`
			URL  struct {
				Resource string `json:"resource"`
			} `json:"url"`
		} `json:"relations"`
	}
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return "", err
	}

	for _, rel := range payload.Relations {
		if rel.Type == "image" {
			return rel.URL.Resource, nil
		}
		if rel.Type == "wikidata" {
			parts := strings.Split(rel.URL.Resource, "/")
			qid := parts[len(parts)-1]
			if imageURL, err := c.imageFromEncyclopedia(ctx, qid); err == nil {
				return imageURL, nil
			}
		}
	}
	return "", apperr.New(apperr.KindMetadata, "no image relation found")
}

// imageFromEncyclopedia resolves an entity's P18 image claim to a direct
// media URL.
func (c *Client) imageFromEncyclopedia(ctx context.Context, qid string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s.json", c.cfg.EncyclopediaBaseURL, qid)

	var payload struct {
		Entities map[string]struct {
			Claims map[string][]struct {
				Mainsnak struct {
					Datavalue struct {
						Value json.RawMessage `json:"value"`
					} `json:"datavalue"`
				} `json:"mainsnak"`
			} `json:"claims"`
		} `json:"entities"`
	}
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return "", err
	}

	entity, ok := payload.Entities[qid]
	if !ok {
		return "", apperr.Newf(apperr.KindMetadata, "entity %s not in response", qid)
	}
	claims, ok := entity.Claims["P18"]
	if !ok || len(claims) == 0 {
		return "", apperr.New(apperr.KindMetadata, "no image claim on entity")
	}

	var imageName string
	if err := json.Unmarshal(claims[0].Mainsnak.Datavalue.Value, &imageName); err != nil || imageName == "" {
		return "", apperr.New(apperr.KindMetadata, "image claim is not a file name")
	}
	return c.mediaURL(imageName), nil
}

// mediaURL builds the direct media URL for a commons file name using the
// md5-prefix directory scheme.
func (c *Client) mediaURL(imageName string) string {
	name := strings.ReplaceAll(imageName, " ", "_")
	digest := fmt.Sprintf("%x", md5.Sum([]byte(name)))
	return fmt.Sprintf("%s/%s/%s/%s", c.cfg.MediaBaseURL, digest[0:1], digest[0:2], name)
}

// FrontCoverURL asks the cover art provider for the front image of a
// release.
func (c *Client) FrontCoverURL(ctx context.Context, providerReleaseID string) (string, error) {
	endpoint := fmt.Sprintf("%s/release/%s", c.cfg.CoverArtBaseURL, providerReleaseID)

	var payload struct {
		Images []struct {
			Front bool   `json:"front"`
			Image string `json:"image"`
		} `json:"images"`
	}
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return "", err
	}
	for _, img := range payload.Images {
		if img.Front {
			return img.Image, nil
		}
	}
	return "", apperr.New(apperr.KindMetadata, "no front cover in archive response")
}

// ResolveDirectURL normalizes an image URL before download: web archive
// wrappers are unwrapped and commons file pages are rewritten to the
// md5-scheme direct media URL.
func (c *Client) ResolveDirectURL(raw string) string {
	resolved := raw

	if strings.Contains(resolved, "web.archive.org/web/") {
		if idx := strings.LastIndex(resolved, "/http"); idx >= 0 {
			resolved = resolved[idx+1:]
		}
	}

	if strings.Contains(resolved, "commons.wikimedia.org/wiki/File:") {
		if _, fileName, ok := strings.Cut(resolved, "File:"); ok {
			decoded := fileName
			if unescaped, err := url.PathUnescape(fileName); err == nil {
				decoded = unescaped
			}
			resolved = c.mediaURL(decoded)
		}
	}
	return resolved
}

// getJSON fetches a URL under the retry policy and decodes the JSON body.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	body, err := c.getBody(ctx, endpoint)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Wrap(apperr.KindMetadata, "decode provider response", err)
	}
	return nil
}

func (c *Client) getBody(ctx context.Context, endpoint string) ([]byte, error) {
	var body []byte
	err := c.retry.do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", c.cfg.UserAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return apperr.Newf(apperr.KindMetadata, "provider returned status %d", resp.StatusCode)
		}
		body, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindMetadata, "provider request failed", err)
	}
	return body, nil
}
