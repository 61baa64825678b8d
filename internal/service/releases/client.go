package releases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/oshokin/app-updater/internal/config"
	"github.com/oshokin/app-updater/internal/domain/release"
	"github.com/oshokin/app-updater/internal/logger"
)

const (
	// DefaultRateLimit is the steady request rate towards the release host.
	DefaultRateLimit = rate.Limit(1)
	// DefaultBurst is how many requests may be made back to back.
	DefaultBurst = 3

	// maxManifestSize bounds the manifest and release documents.
	maxManifestSize = 1 << 20

	acceptGitHubJSON = "application/vnd.github+json"
)

var (
	// errRateLimited is returned when the host reports an exhausted API quota.
	errRateLimited = errors.New("release host rate limit exceeded")
	// errBadHTTPStatus is returned for unexpected HTTP statuses.
	errBadHTTPStatus = errors.New("unexpected http status")
	// errNoTag is returned when the latest release has no tag.
	errNoTag = errors.New("latest release does not include a tag name")
	// errNoManifestAsset is returned when the release lacks the manifest asset.
	errNoManifestAsset = errors.New("manifest asset not found in the latest release")
	// errTagMismatch is returned when the manifest and the release tag disagree.
	errTagMismatch = errors.New("manifest version does not match the release tag")
	// errIncompleteSettings is returned when the client is built without a repository.
	errIncompleteSettings = errors.New("api url, owner and repo must be provided")
)

// Release is the subset of the release host's "latest release" document we use.
type Release struct {
	TagName     string    `json:"tag_name"`
	PublishedAt time.Time `json:"published_at"`
	Assets      []Asset   `json:"assets"`
}

// Asset is a file attached to a release.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// assetURL returns the download URL of the named asset.
func (r *Release) assetURL(name string) string {
	for _, asset := range r.Assets {
		if asset.Name == name {
			return asset.BrowserDownloadURL
		}
	}

	return ""
}

// Client queries the release host.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter

	apiURL        string
	owner         string
	repo          string
	manifestAsset string
	token         string
	userAgent     string

	// callTimeout bounds a single API call. Downloads use the caller's context only.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithCallTimeout sets a default timeout for API calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithRateLimit sets the request pacing.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithToken sends a bearer token with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithManifestAsset sets the name of the manifest asset.
func WithManifestAsset(name string) Option {
	return func(c *Client) {
		c.manifestAsset = name
	}
}

// New creates a client for the releases of owner/repo.
func New(apiURL, owner, repo string, opts ...Option) (*Client, error) {
	if apiURL == "" || owner == "" || repo == "" {
		return nil, errIncompleteSettings
	}

	client := &Client{
		httpClient:    &http.Client{},
		limiter:       rate.NewLimiter(DefaultRateLimit, DefaultBurst),
		apiURL:        strings.TrimRight(apiURL, "/"),
		owner:         owner,
		repo:          repo,
		manifestAsset: repo + "-update.json",
		userAgent:     "app-updater",
		callTimeout:   config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// NewFromConfig creates a client from validated settings.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	base := []Option{
		WithCallTimeout(cfg.Timeout),
		WithToken(cfg.Release.Token),
		WithManifestAsset(cfg.Release.ManifestAsset),
	}

	return New(cfg.Release.APIURL, cfg.Release.Owner, cfg.Release.Repo, append(base, opts...)...)
}

// Check compares the latest published release with current.
// It returns (nil, nil) when current is up to date. Every failure wraps
// release.ErrCheckFailed together with release.ErrNetwork or
// release.ErrManifestMalformed.
func (c *Client) Check(ctx context.Context, current release.Version) (*release.UpdateInfo, error) {
	manifest, tag, err := c.LatestManifest(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", release.ErrCheckFailed, err)
	}

	if !current.Less(manifest.Version) {
		logger.InfoKV(ctx, "Installation is up to date",
			"current", current.String(), "latest", manifest.Version.String())

		return nil, nil //nolint:nilnil // No update is not an error.
	}

	logger.InfoKV(ctx, "Update available",
		"current", current.String(), "latest", manifest.Version.String(), "tag", tag)

	return &release.UpdateInfo{
		Current:    current,
		Manifest:   *manifest,
		ReleaseTag: tag,
	}, nil
}

// LatestManifest fetches the manifest of the latest release and completes it
// with data from the release itself: the version from the tag, the publish
// time and the archive URL.
func (c *Client) LatestManifest(ctx context.Context) (*release.Manifest, string, error) {
	latest, err := c.LatestRelease(ctx)
	if err != nil {
		return nil, "", err
	}

	tag := strings.TrimSpace(latest.TagName)
	if tag == "" {
		return nil, "", fmt.Errorf("%w: %w", release.ErrManifestMalformed, errNoTag)
	}

	tagVersion, err := release.ParseVersion(tag)
	if err != nil {
		return nil, "", fmt.Errorf("%w: tag %q: %w", release.ErrManifestMalformed, tag, err)
	}

	manifestURL := latest.assetURL(c.manifestAsset)
	if manifestURL == "" {
		return nil, "", fmt.Errorf("%w: %s: %w", release.ErrManifestMalformed, c.manifestAsset, errNoManifestAsset)
	}

	data, err := c.getDocument(ctx, manifestURL, "")
	if err != nil {
		return nil, "", err
	}

	manifest, err := release.ParseManifest(data)
	if err != nil {
		return nil, "", err
	}

	switch {
	case manifest.Version.IsZero():
		manifest.Version = tagVersion
	case !manifest.Version.Equal(tagVersion):
		return nil, "", fmt.Errorf("%w: %s vs %s: %w", release.ErrManifestMalformed, manifest.Version, tag, errTagMismatch)
	}

	if manifest.PublishedAt.IsZero() {
		manifest.PublishedAt = latest.PublishedAt.UTC()
	}

	if manifest.DownloadURL == "" {
		manifest.DownloadURL = latest.assetURL(manifest.AssetName)
	}

	if err = manifest.Validate(); err != nil {
		return nil, "", err
	}

	return manifest, tag, nil
}

// LatestRelease fetches the latest release document.
func (c *Client) LatestRelease(ctx context.Context) (*Release, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/latest",
		c.apiURL, url.PathEscape(c.owner), url.PathEscape(c.repo))

	data, err := c.getDocument(ctx, endpoint, acceptGitHubJSON)
	if err != nil {
		return nil, err
	}

	var latest Release
	if err = json.Unmarshal(data, &latest); err != nil {
		return nil, fmt.Errorf("%w: decode release: %w", release.ErrManifestMalformed, err)
	}

	return &latest, nil
}

// Download streams the body of rawURL into w and returns the number of bytes written.
// Failures wrap release.ErrNetwork.
func (c *Client) Download(ctx context.Context, rawURL string, w io.Writer) (int64, error) {
	response, err := c.do(ctx, rawURL, "application/octet-stream")
	if err != nil {
		return 0, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	written, err := io.Copy(w, response.Body)
	if err != nil {
		return written, fmt.Errorf("%w: download %s: %w", release.ErrNetwork, rawURL, err)
	}

	return written, nil
}

// getDocument performs a bounded API call and reads a small response body.
func (c *Client) getDocument(ctx context.Context, rawURL, accept string) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	response, err := c.do(callCtx, rawURL, accept)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(response.Body, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", release.ErrNetwork, rawURL, err)
	}

	return data, nil
}

// do sends a GET request and checks the status. The caller closes the body.
func (c *Client) do(ctx context.Context, rawURL, accept string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", release.ErrNetwork, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", release.ErrNetwork, err)
	}

	request.Header.Set("User-Agent", c.userAgent)

	if accept != "" {
		request.Header.Set("Accept", accept)
	}

	if c.token != "" && c.sameHost(request.URL) {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	logger.DebugKV(ctx, "Requesting release host", "url", rawURL)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", release.ErrNetwork, err)
	}

	if response.StatusCode == http.StatusOK {
		return response, nil
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if isRateLimited(response) {
		return nil, fmt.Errorf("%w: %w%s", release.ErrNetwork, errRateLimited, resetSuffix(response))
	}

	return nil, fmt.Errorf("%w: %s, %s: %w", release.ErrNetwork, rawURL, response.Status, errBadHTTPStatus)
}

// sameHost keeps the token away from hosts other than the API host,
// such as the storage that serves release assets.
func (c *Client) sameHost(target *url.URL) bool {
	api, err := url.Parse(c.apiURL)

	return err == nil && strings.EqualFold(api.Host, target.Host)
}

func isRateLimited(response *http.Response) bool {
	if response.StatusCode != http.StatusForbidden && response.StatusCode != http.StatusTooManyRequests {
		return false
	}

	return response.Header.Get("X-RateLimit-Remaining") == "0"
}

func resetSuffix(response *http.Response) string {
	reset, err := strconv.ParseInt(response.Header.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return ""
	}

	return " (resets " + time.Unix(reset, 0).UTC().Format(time.RFC3339) + ")"
}
