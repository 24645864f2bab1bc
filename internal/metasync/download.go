package metasync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"melisma/internal/apperr"
)

// extForContentType maps a response content type to a file extension.
func extForContentType(contentType string) string {
	switch contentType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "jpg"
	}
}

// DownloadImage fetches an image into dir as "{baseName}.{ext}", choosing
// the extension from the response content type. The source URL is
// normalized first. Returns the full local path.
func (c *Client) DownloadImage(ctx context.Context, rawURL, dir, baseName string) (string, error) {
	directURL := c.ResolveDirectURL(rawURL)

	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, directURL, nil)
	if err != nil {
		return "", apperr.Wrap(apperr.KindMetadata, "build download request", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindMetadata, "download image", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperr.Newf(apperr.KindMetadata, "download failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Wrap(apperr.KindIo, "read image body", err)
	}

	ext := extForContentType(resp.Header.Get("Content-Type"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", apperr.Wrap(apperr.KindIo, "create image directory", err)
	}

	fullPath := filepath.Join(dir, fmt.Sprintf("%s.%s", baseName, ext))
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return "", apperr.Wrap(apperr.KindIo, "write image file", err)
	}
	return fullPath, nil
}
