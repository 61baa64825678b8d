package releases

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/oshokin/app-updater/internal/domain/release"
)

const testSHA = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

// releaseHost serves a latest release with a manifest asset.
type releaseHost struct {
	tag      string
	manifest string
	status   int
	headers  map[string]string
	auth     atomic.Value
}

func (h *releaseHost) start(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	var server *httptest.Server

	mux.HandleFunc("/repos/oshokin/plexible/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		h.auth.Store(r.Header.Get("Authorization"))

		for key, value := range h.headers {
			w.Header().Set(key, value)
		}

		if h.status != 0 {
			w.WriteHeader(h.status)

			return
		}

		_, _ = fmt.Fprintf(w, `{
			"tag_name": %q,
			"published_at": "2026-03-01T09:30:15Z",
			"assets": [
				{"name": "Plexible-update.json", "browser_download_url": "%s/download/Plexible-update.json"},
				{"name": "Plexible-1.38.0.zip", "browser_download_url": "%s/download/Plexible-1.38.0.zip"}
			]
		}`, h.tag, server.URL, server.URL)
	})
	mux.HandleFunc("/download/Plexible-update.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(h.manifest))
	})
	mux.HandleFunc("/download/Plexible-1.38.0.zip", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("archive"))
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func newTestClient(t *testing.T, server *httptest.Server, opts ...Option) *Client {
	t.Helper()

	base := []Option{
		WithManifestAsset("Plexible-update.json"),
		WithRateLimit(rate.Inf, 1),
		WithHTTPClient(server.Client()),
	}

	client, err := New(server.URL, "oshokin", "plexible", append(base, opts...)...)
	require.NoError(t, err)

	return client
}

// TestCheckUpdateAvailable fills the download URL from the release assets.
func TestCheckUpdateAvailable(t *testing.T) {
	t.Parallel()

	host := &releaseHost{
		tag:      "v1.38.0",
		manifest: `{"version":"1.38.0","asset":"Plexible-1.38.0.zip","sha256":"` + testSHA + `","notes":"Faster"}`,
	}
	server := host.start(t)

	info, err := newTestClient(t, server, WithToken("t0ken")).Check(context.Background(), release.MustParseVersion("1.37.0"))
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Equal(t, "1.38.0", info.Manifest.Version.String())
	require.Equal(t, "1.37.0", info.Current.String())
	require.Equal(t, "v1.38.0", info.ReleaseTag)
	require.Equal(t, server.URL+"/download/Plexible-1.38.0.zip", info.Manifest.DownloadURL)
	require.Equal(t, time.Date(2026, 3, 1, 9, 30, 15, 0, time.UTC), info.Manifest.PublishedAt)
	require.Equal(t, "Faster", info.Manifest.Notes)
	require.Equal(t, "Bearer t0ken", host.auth.Load())
}

// TestCheckUpToDate returns no update for equal and newer local versions.
func TestCheckUpToDate(t *testing.T) {
	t.Parallel()

	host := &releaseHost{
		tag:      "v1.38.0",
		manifest: `{"version":"1.38.0","asset_name":"Plexible-1.38.0.zip","sha256":"` + testSHA + `"}`,
	}
	server := host.start(t)
	client := newTestClient(t, server)

	for _, current := range []string{"1.38.0", "1.39.2"} {
		info, err := client.Check(context.Background(), release.MustParseVersion(current))
		require.NoError(t, err)
		require.Nil(t, info)
	}
}

// TestCheckFailures reports every failure as a failed check, never as "no update".
func TestCheckFailures(t *testing.T) {
	t.Parallel()

	reset := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		host    *releaseHost
		wantErr error
		text    string
	}{
		"rate limited": {
			host: &releaseHost{
				status: http.StatusForbidden,
				headers: map[string]string{
					"X-RateLimit-Remaining": "0",
					"X-RateLimit-Reset":     strconv.FormatInt(reset.Unix(), 10),
				},
			},
			wantErr: release.ErrNetwork,
			text:    "resets 2026-03-01T10:00:00Z",
		},
		"server error": {
			host:    &releaseHost{status: http.StatusBadGateway},
			wantErr: release.ErrNetwork,
		},
		"malformed manifest": {
			host:    &releaseHost{tag: "v1.38.0", manifest: `{"version":`},
			wantErr: release.ErrManifestMalformed,
		},
		"tag mismatch": {
			host: &releaseHost{
				tag:      "v1.39.0",
				manifest: `{"version":"1.38.0","asset_name":"Plexible-1.38.0.zip","sha256":"` + testSHA + `"}`,
			},
			wantErr: release.ErrManifestMalformed,
		},
		"asset missing": {
			host: &releaseHost{
				tag:      "v1.38.0",
				manifest: `{"version":"1.38.0","asset_name":"Other.zip","sha256":"` + testSHA + `"}`,
			},
			wantErr: release.ErrManifestMalformed,
		},
	}

	for name, tt := range tests {
		server := tt.host.start(t)

		info, err := newTestClient(t, server).Check(context.Background(), release.MustParseVersion("1.37.0"))
		require.Nil(t, info, name)
		require.ErrorIs(t, err, release.ErrCheckFailed, name)
		require.ErrorIs(t, err, tt.wantErr, name)

		if tt.text != "" {
			require.Contains(t, err.Error(), tt.text, name)
		}
	}
}

// TestCheckUnreachable reports a transport failure.
func TestCheckUnreachable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := New(url, "oshokin", "plexible", WithRateLimit(rate.Inf, 1))
	require.NoError(t, err)

	_, err = client.Check(context.Background(), release.MustParseVersion("1.0.0"))
	require.ErrorIs(t, err, release.ErrCheckFailed)
	require.ErrorIs(t, err, release.ErrNetwork)
}

// TestDownload streams an asset and does not leak the token to other hosts.
func TestDownload(t *testing.T) {
	t.Parallel()

	var sawAuth atomic.Bool

	assets := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth.Store(r.Header.Get("Authorization") != "")
		_, _ = w.Write([]byte("zip bytes"))
	}))
	defer assets.Close()

	client, err := New("https://api.example.com", "oshokin", "plexible",
		WithRateLimit(rate.Inf, 1), WithToken("secret"), WithUserAgent("Plexible-updater/1.37.0"))
	require.NoError(t, err)

	var buf bytes.Buffer

	written, err := client.Download(context.Background(), assets.URL+"/a.zip", &buf)
	require.NoError(t, err)
	require.EqualValues(t, len("zip bytes"), written)
	require.Equal(t, "zip bytes", buf.String())
	require.False(t, sawAuth.Load())

	_, err = client.Download(context.Background(), assets.URL+"/%zz", &buf)
	require.ErrorIs(t, err, release.ErrNetwork)
}

// TestRateLimiterPacesRequests verifies that the limiter delays bursts.
func TestRateLimiterPacesRequests(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"tag_name":"v1.0.0","assets":[]}`))
	}))
	defer server.Close()

	client, err := New(server.URL, "oshokin", "plexible", WithRateLimit(rate.Every(50*time.Millisecond), 1))
	require.NoError(t, err)

	started := time.Now()

	for range 3 {
		_, err = client.LatestRelease(context.Background())
		require.NoError(t, err)
	}

	require.EqualValues(t, 3, calls.Load())
	require.GreaterOrEqual(t, time.Since(started), 90*time.Millisecond)
}
