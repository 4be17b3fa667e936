package install

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReleaseVersionStripsPrefix(t *testing.T) {
	require.Equal(t, "0.53.0", Release{TagName: "v0.53.0"}.Version())
	require.Equal(t, "0.53.0", Release{TagName: " 0.53.0 "}.Version())
}

func TestReleaseAssetFor(t *testing.T) {
	rel := Release{Assets: []Asset{
		{Name: "pi-darwin-arm64.tar.gz", BrowserDownloadURL: "https://example.invalid/d"},
		{Name: "pi-linux-x64.tar.gz", BrowserDownloadURL: "https://example.invalid/l"},
		{Name: "pi-windows-x64.zip", BrowserDownloadURL: "https://example.invalid/w"},
	}}

	a, ok := rel.AssetFor("linux", "amd64")
	require.True(t, ok)
	require.Equal(t, "pi-linux-x64.tar.gz", a.Name)

	_, ok = rel.AssetFor("linux", "riscv64")
	require.False(t, ok)

	_, ok = rel.AssetFor("darwin", "amd64")
	require.False(t, ok, "release without the darwin-x64 asset")
}

func TestLatestSkipsMalformedAssets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Accept"))
		json.NewEncoder(w).Encode(Release{
			TagName: "v0.53.0",
			Assets: []Asset{
				{Name: "", BrowserDownloadURL: "https://example.invalid/x"},
				{Name: "pi-linux-x64.tar.gz", BrowserDownloadURL: ""},
				{Name: "pi-linux-x64.tar.gz", BrowserDownloadURL: "https://example.invalid/ok"},
			},
		})
	}))
	defer srv.Close()

	client := NewReleaseClient(srv.URL, time.Second, nil)
	rel, err := client.Latest(context.Background())
	require.NoError(t, err)
	require.Equal(t, "0.53.0", rel.Version())
	require.Len(t, rel.Assets, 1)
	require.Equal(t, "https://example.invalid/ok", rel.Assets[0].BrowserDownloadURL)
}

func TestLatestSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewReleaseClient(srv.URL, time.Second, nil)
	_, err := client.Latest(context.Background())
	require.ErrorContains(t, err, "status 403")
}

func TestDownloadWrapsBody(t *testing.T) {
	payload := []byte("binary payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	client := NewReleaseClient(srv.URL, time.Second, nil)
	asset := Asset{Name: "pi-linux-x64.tar.gz", BrowserDownloadURL: srv.URL, Size: int64(len(payload))}

	var dst bytes.Buffer
	var sawTotal int64
	err := client.Download(context.Background(), asset, &dst,
		func(r io.Reader, total int64) io.ReadCloser {
			sawTotal = total
			return io.NopCloser(r)
		})
	require.NoError(t, err)
	require.Equal(t, payload, dst.Bytes())
	require.Equal(t, int64(len(payload)), sawTotal)
}
