package archive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// faviconFetchTimeout bounds a single favicon download. Grounded on the
// teacher's assets/downloader.go AssetDownloader, which wraps http.Client
// with a fixed per-asset timeout rather than inheriting the crawl's fetch
// timeout.
const faviconFetchTimeout = 10 * time.Second

// WriteScreenshot persists a full-mode viewport capture and returns its
// path relative to the archive root.
func (w *Writer) WriteScreenshot(urlKey, viewport string, jpeg []byte) (string, error) {
	if viewport != "desktop" && viewport != "mobile" {
		return "", fmt.Errorf("write screenshot: unknown viewport %q", viewport)
	}
	rel := filepath.Join("media", "screenshots", viewport, urlKey+".jpg")
	full := filepath.Join(w.stagingDir, rel)
	if err := os.WriteFile(full, jpeg, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// WriteFavicon downloads and persists a page's favicon, deduplicated per
// origin: the first call for a given originKey downloads and stores the
// file, every subsequent call for the same origin reuses the stored path
// without a second request. originKey is caller-supplied (urlnorm.KeyOf of
// the origin) — this package never normalizes or hashes URLs itself.
//
// Grounded on the teacher's assets/downloader.go DownloadAsset: a plain
// http.Client.Get with a bounded timeout, status check, then a streamed
// copy to disk.
func (w *Writer) WriteFavicon(ctx context.Context, originKey, faviconURL string) (string, error) {
	w.mu.Lock()
	if existing, ok := w.faviconsByOrigin[originKey]; ok {
		w.mu.Unlock()
		return existing, nil
	}
	w.mu.Unlock()

	client := &http.Client{Timeout: faviconFetchTimeout}
	reqCtx, cancel := context.WithTimeout(ctx, faviconFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, faviconURL, nil)
	if err != nil {
		return "", fmt.Errorf("write favicon: build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("write favicon: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("write favicon: %s returned %d", faviconURL, resp.StatusCode)
	}

	ext := faviconExtension(faviconURL, resp.Header.Get("Content-Type"))
	rel := filepath.Join("media", "favicons", originKey+"."+ext)
	full := filepath.Join(w.stagingDir, rel)

	f, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("write favicon: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write favicon: copy: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("write favicon: %w", err)
	}

	relSlash := filepath.ToSlash(rel)
	w.mu.Lock()
	w.faviconsByOrigin[originKey] = relSlash
	w.mu.Unlock()
	return relSlash, nil
}

func faviconExtension(url, contentType string) string {
	switch {
	case strings.Contains(contentType, "svg"):
		return "svg"
	case strings.Contains(contentType, "png"):
		return "png"
	case strings.HasSuffix(url, ".svg"):
		return "svg"
	case strings.HasSuffix(url, ".png"):
		return "png"
	default:
		return "ico"
	}
}
