// Package thumbnail downloads and caches product thumbnails.
package thumbnail

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const defaultTimeout = 30 * time.Second

// Fetcher downloads thumbnail images with a hard timeout. Thumbnails are
// immutable once stored, so an existing destination file is never
// re-downloaded.
type Fetcher struct {
	HTTPClient *http.Client
	UserAgent  string
	log        *zap.SugaredLogger
}

// NewFetcher creates a Fetcher. A non-positive timeout selects the default.
func NewFetcher(timeout time.Duration, userAgent string, log *zap.SugaredLogger) *Fetcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Fetcher{
		HTTPClient: &http.Client{Timeout: timeout},
		UserAgent:  userAgent,
		log:        log,
	}
}

// FileName returns the cache file name for a product's thumbnail.
func FileName(productID string) string {
	return productID + ".jpg"
}

// Fetch stores url at destinationPath. It never returns an error: every
// failure (status, network, timeout, local write) is logged and reported
// as false, leaving no partial file behind.
func (f *Fetcher) Fetch(ctx context.Context, url, destinationPath string) bool {
	if _, err := os.Stat(destinationPath); err == nil {
		f.log.Debugw("Thumbnail already cached", zap.String("path", destinationPath))
		return true
	}

	if err := f.download(ctx, url, destinationPath); err != nil {
		f.log.Warnw("Thumbnail download failed", zap.String("url", url), zap.Error(err))
		return false
	}
	f.log.Infow("Thumbnail saved", zap.String("path", destinationPath))
	return true
}

func (f *Fetcher) download(ctx context.Context, url, destinationPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destinationPath), 0755); err != nil {
		return fmt.Errorf("failed to create thumbnail directory: %w", err)
	}

	partPath := destinationPath + ".part"
	out, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("failed to create file '%s': %w", partPath, err)
	}

	n, err := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(partPath)
		return fmt.Errorf("failed to write thumbnail: %w", err)
	}

	if err := os.Rename(partPath, destinationPath); err != nil {
		os.Remove(partPath)
		return fmt.Errorf("failed to move thumbnail into place: %w", err)
	}
	f.log.Debugw("Thumbnail bytes written", zap.Int64("bytes", n))
	return nil
}
