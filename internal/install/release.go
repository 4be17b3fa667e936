package install

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Asset is one downloadable file attached to a release.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

// Release is the latest-release metadata from the release index.
type Release struct {
	TagName string  `json:"tag_name"`
	Assets  []Asset `json:"assets"`
}

// Version returns the release version with any leading v stripped.
func (r Release) Version() string {
	return strings.TrimPrefix(strings.TrimSpace(r.TagName), "v")
}

// AssetFor selects the asset matching the platform's expected filename.
func (r Release) AssetFor(goos, goarch string) (Asset, bool) {
	want, ok := assetName(goos, goarch)
	if !ok {
		return Asset{}, false
	}
	for _, a := range r.Assets {
		if a.Name == want {
			return a, true
		}
	}
	return Asset{}, false
}

// assetName maps (os, arch) to the release asset filename Pi publishes.
func assetName(goos, goarch string) (string, bool) {
	switch goos + "/" + goarch {
	case "darwin/arm64":
		return "pi-darwin-arm64.tar.gz", true
	case "darwin/amd64":
		return "pi-darwin-x64.tar.gz", true
	case "linux/arm64":
		return "pi-linux-arm64.tar.gz", true
	case "linux/amd64":
		return "pi-linux-x64.tar.gz", true
	case "windows/amd64":
		return "pi-windows-x64.zip", true
	default:
		return "", false
	}
}

// ReleaseClient fetches release metadata and downloads assets.
type ReleaseClient struct {
	client *http.Client
	url    string
	logger *zap.Logger
}

// NewReleaseClient builds a client against the given latest-release
// endpoint.
func NewReleaseClient(url string, timeout time.Duration, logger *zap.Logger) *ReleaseClient {
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReleaseClient{
		client: &http.Client{Timeout: timeout},
		url:    url,
		logger: logger,
	}
}

// Latest fetches and decodes the latest release. Assets with an empty name
// or URL are skipped rather than failing the fetch.
func (c *ReleaseClient) Latest(ctx context.Context) (Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Release{}, fmt.Errorf("build release request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return Release{}, fmt.Errorf("fetch release index %s: %w", c.url, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return Release{}, fmt.Errorf("release index %s: status %d: %s", c.url, res.StatusCode, string(b))
	}

	var rel Release
	if err := json.NewDecoder(res.Body).Decode(&rel); err != nil {
		return Release{}, fmt.Errorf("decode release index: %w", err)
	}

	kept := rel.Assets[:0]
	for _, a := range rel.Assets {
		if a.Name == "" || a.BrowserDownloadURL == "" {
			c.logger.Debug("skipping malformed release asset", zap.String("name", a.Name))
			continue
		}
		kept = append(kept, a)
	}
	rel.Assets = kept
	return rel, nil
}

// Download streams an asset into dst. wrap, when non-nil, decorates the
// response body (progress reporting); it receives the total size when known.
func (c *ReleaseClient) Download(ctx context.Context, asset Asset, dst io.Writer, wrap func(r io.Reader, total int64) io.ReadCloser) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.BrowserDownloadURL, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", asset.BrowserDownloadURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return fmt.Errorf("download %s: status %d", asset.BrowserDownloadURL, res.StatusCode)
	}

	body := io.ReadCloser(res.Body)
	if wrap != nil {
		total := res.ContentLength
		if total <= 0 {
			total = asset.Size
		}
		body = wrap(res.Body, total)
		defer body.Close()
	}

	if _, err := io.Copy(dst, body); err != nil {
		return fmt.Errorf("download %s: %w", asset.BrowserDownloadURL, err)
	}
	return nil
}
