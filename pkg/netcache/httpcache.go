// Package netcache keeps remote template sources on disk and revalidates them
// with ETag and Last-Modified headers.
package netcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// DefaultRetries is the number of full fetch attempts.
const DefaultRetries = 3

// Cache provides a simple persistent HTTP cache with ETag/Last-Modified support.
type Cache struct {
	Dir    string
	Client *http.Client

	// Retries bounds full fetch attempts; zero means DefaultRetries.
	Retries int
	// Backoff is the delay before the second attempt and doubles after
	// each failure.
	Backoff time.Duration
}

// New returns a new Cache with a reasonable default HTTP client.
func New(dir string) *Cache {
	return &Cache{
		Dir: dir,
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
		Backoff: 2 * time.Second,
	}
}

type meta struct {
	URL          string `json:"url"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	// DataFile is the basename of the cached payload file
	DataFile string `json:"data_file"`
}

// statusError is a non-2xx response.
type statusError struct {
	URL  string
	Code int
}

func (e *statusError) Error() string { return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.Code) }

func (e *statusError) retryable() bool { return e.Code >= 500 }

// Fetch returns the body of url, going through the cache.
func (c *Cache) Fetch(ctx context.Context, url string) ([]byte, error) {
	path, _, err := c.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Get fetches the URL into the cache and returns a local file path.
// If the cache is valid, it is reused without downloading.
// Returns (path, fromCache, error).
func (c *Cache) Get(ctx context.Context, url string) (string, bool, error) {
	key := hash(url)
	mpath := filepath.Join(c.Dir, key+".json")

	if m, ok := c.readMeta(mpath, url); ok {
		path, fromCache, err := c.revalidate(ctx, url, key, mpath, m)
		if err == nil {
			return path, fromCache, nil
		}
		// Serve the stale copy when revalidation fails.
		slog.Warn("revalidation failed, using cached copy", "url", url, "error", err)
		return filepath.Join(c.Dir, m.DataFile), true, nil
	}

	retries := c.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}
	backoff := c.Backoff
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", false, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		path, err := c.download(ctx, url, key, mpath, nil)
		if err == nil {
			return path, false, nil
		}
		lastErr = err
		if se, ok := err.(*statusError); ok && !se.retryable() {
			break
		}
		slog.Debug("fetch failed", "url", url, "attempt", attempt+1, "error", err)
	}
	return "", false, lastErr
}

func (c *Cache) readMeta(mpath, url string) (meta, bool) {
	var m meta
	b, err := os.ReadFile(mpath)
	if err != nil {
		return m, false
	}
	if err := json.Unmarshal(b, &m); err != nil || m.URL != url || m.DataFile == "" {
		return m, false
	}
	return m, fileExists(filepath.Join(c.Dir, m.DataFile))
}

func (c *Cache) revalidate(ctx context.Context, url, key, mpath string, m meta) (string, bool, error) {
	headers := map[string]string{}
	if m.ETag != "" {
		headers["If-None-Match"] = m.ETag
	}
	if m.LastModified != "" {
		headers["If-Modified-Since"] = m.LastModified
	}
	path, err := c.download(ctx, url, key, mpath, headers)
	if err == errNotModified {
		return filepath.Join(c.Dir, m.DataFile), true, nil
	}
	return path, false, err
}

var errNotModified = fmt.Errorf("not modified")

// download performs one GET and stores a successful body with its metadata.
func (c *Cache) download(ctx context.Context, url, key, mpath string, headers map[string]string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return "", errNotModified
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", &statusError{URL: url, Code: resp.StatusCode}
	}

	dataFile := key + ".data"
	path := filepath.Join(c.Dir, dataFile)
	n, err := streamToFile(resp.Body, path, 0o644)
	if err != nil {
		return "", err
	}
	nm := meta{
		URL:          url,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		DataFile:     dataFile,
	}
	if err := writeMeta(mpath, nm); err != nil {
		return "", err
	}
	slog.Debug("cached remote source", "url", url, "bytes", n)
	return path, nil
}

func streamToFile(r io.Reader, dst string, mode os.FileMode) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	tmp := dst + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return n, os.Rename(tmp, dst)
}

func writeMeta(path string, m meta) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
