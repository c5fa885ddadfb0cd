// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

const (
	// defaultPerPage is the number of releases fetched per registry page.
	defaultPerPage = 30

	// maxPages is the upper bound on pagination to avoid runaway requests.
	maxPages = 3

	// maxJSONResponseBytes is the upper bound on JSON response size (10 MB).
	maxJSONResponseBytes = 10 << 20
)

// ErrReleaseNotFound is returned when a requested release version does not exist.
var ErrReleaseNotFound = errors.New("release not found")

type (
	// RateLimitError is returned when the registry refuses requests because the
	// client exceeded its quota.
	RateLimitError struct {
		Limit     int
		Remaining int
		ResetAt   time.Time
	}

	// registryRelease is the JSON wire format served by the release registry.
	registryRelease struct {
		Version           string    `json:"version"`
		DownloadURL       string    `json:"download_url"`
		Checksum          string    `json:"checksum"`
		ChecksumAlgorithm string    `json:"checksum_algorithm"`
		PublishedAt       time.Time `json:"published_at"`
		Notes             string    `json:"notes"`
		Prerelease        bool      `json:"prerelease"`
		Draft             bool      `json:"draft"`
		Size              int64     `json:"size"`
	}

	// RegistryClient talks to the HTTP release registry.
	RegistryClient struct {
		httpClient        *http.Client
		baseURL           string
		token             string
		userAgent         string
		includePrerelease bool
	}

	// ClientOption configures a RegistryClient during construction.
	ClientOption func(*RegistryClient)

	// Download is an open package stream. Size is -1 when the server did not
	// announce a content length.
	Download struct {
		Body io.ReadCloser
		Size int64
	}
)

// Error formats the rate limit details as a human-readable message.
func (e *RateLimitError) Error() string {
	if e.ResetAt.IsZero() || e.ResetAt.Unix() == 0 {
		return fmt.Sprintf("release registry rate limit exceeded (%d remaining)", e.Remaining)
	}
	return fmt.Sprintf("release registry rate limit exceeded (%d remaining, resets at %s)",
		e.Remaining, e.ResetAt.UTC().Format("15:04 UTC"))
}

// Unwrap classifies rate limiting as a network failure.
func (e *RateLimitError) Unwrap() error { return ErrNetworkFailure }

// WithHTTPClient sets a custom HTTP client, useful for tests or proxy configurations.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(r *RegistryClient) {
		r.httpClient = c
	}
}

// WithToken sets a bearer token sent to the registry host only.
func WithToken(token string) ClientOption {
	return func(r *RegistryClient) {
		r.token = token
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) ClientOption {
	return func(r *RegistryClient) {
		r.userAgent = ua
	}
}

// WithPrereleases makes LatestRelease consider prerelease versions.
func WithPrereleases(include bool) ClientOption {
	return func(r *RegistryClient) {
		r.includePrerelease = include
	}
}

// NewRegistryClient creates a client for the registry rooted at baseURL.
func NewRegistryClient(baseURL string, opts ...ClientOption) *RegistryClient {
	c := &RegistryClient{
		httpClient: http.DefaultClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  "updatectl/dev",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListReleases fetches published (non-draft) releases sorted by semantic
// version, newest first. Prereleases are dropped unless WithPrereleases(true)
// was given. Pagination is followed up to maxPages.
func (c *RegistryClient) ListReleases(ctx context.Context) ([]ReleaseDescriptor, error) {
	pageURL := fmt.Sprintf("%s/releases?per_page=%d", c.baseURL, defaultPerPage)

	var all []ReleaseDescriptor

	for page := 0; page < maxPages && pageURL != ""; page++ {
		resp, reqErr := c.doRequest(ctx, pageURL)
		if reqErr != nil {
			return nil, fmt.Errorf("listing releases: %w", reqErr)
		}

		if rlErr := checkRateLimit(resp); rlErr != nil {
			resp.Body.Close()
			return nil, rlErr
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("listing releases: %w: unexpected status %d", ErrNetworkFailure, resp.StatusCode)
		}

		releases, parseErr := parseReleases(io.LimitReader(resp.Body, maxJSONResponseBytes))
		resp.Body.Close()
		if parseErr != nil {
			return nil, fmt.Errorf("listing releases: %w", parseErr)
		}

		for i := range releases {
			if releases[i].Draft {
				continue
			}
			if releases[i].Prerelease && !c.includePrerelease {
				continue
			}
			all = append(all, toDescriptor(releases[i]))
		}

		pageURL = parseLinkHeader(resp.Header.Get("Link"))
	}

	sortReleasesBySemverDesc(all)

	return all, nil
}

// LatestRelease returns the highest published release, or ErrReleaseNotFound
// when the registry lists none.
func (c *RegistryClient) LatestRelease(ctx context.Context) (*ReleaseDescriptor, error) {
	releases, err := c.ListReleases(ctx)
	if err != nil {
		return nil, err
	}
	if len(releases) == 0 {
		return nil, ErrReleaseNotFound
	}
	return &releases[0], nil
}

// GetRelease fetches a single release by version ("1.4.0" or "v1.4.0").
// Returns ErrReleaseNotFound if the registry has no such release.
func (c *RegistryClient) GetRelease(ctx context.Context, version string) (*ReleaseDescriptor, error) {
	relURL := fmt.Sprintf("%s/releases/%s", c.baseURL, url.PathEscape(DisplayVersion(version)))

	resp, err := c.doRequest(ctx, relURL)
	if err != nil {
		return nil, fmt.Errorf("getting release %s: %w", version, err)
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if err := checkRateLimit(resp); err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrReleaseNotFound, version)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("getting release %s: %w: unexpected status %d", version, ErrNetworkFailure, resp.StatusCode)
	}

	var rr registryRelease
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONResponseBytes)).Decode(&rr); err != nil {
		return nil, fmt.Errorf("getting release %s: decoding response: %w", version, err)
	}

	d := toDescriptor(rr)
	return &d, nil
}

// OpenDownload starts streaming the package at pkgURL. The caller closes Body.
func (c *RegistryClient) OpenDownload(ctx context.Context, pkgURL string) (*Download, error) {
	resp, err := c.doRequest(ctx, pkgURL)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", redactURL(pkgURL), err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("downloading %s: %w: unexpected status %d", redactURL(pkgURL), ErrNetworkFailure, resp.StatusCode)
	}

	return &Download{Body: resp.Body, Size: resp.ContentLength}, nil
}

// doRequest creates and executes a GET request with common registry headers.
// Transport errors are wrapped with ErrNetworkFailure.
func (c *RegistryClient) doRequest(ctx context.Context, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	// Package URLs may point at a CDN; only the registry host gets the token.
	if c.token != "" && isRegistryHost(req.URL, c.baseURL) {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: executing request: %w", ErrNetworkFailure, err)
	}

	return resp, nil
}

// checkRateLimit returns a RateLimitError for HTTP 429 or when the
// X-RateLimit-Remaining header reports zero.
func checkRateLimit(resp *http.Response) error {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if resp.StatusCode != http.StatusTooManyRequests {
		if remaining == "" {
			return nil
		}
		rem, err := strconv.Atoi(remaining)
		if err != nil || rem > 0 {
			return nil //nolint:nilerr // Non-numeric header is non-fatal.
		}
	}

	// Companion headers are best-effort; missing values default to zero.
	limit, _ := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))                 //nolint:errcheck // Best-effort header parsing.
	resetUnix, _ := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64) //nolint:errcheck // Best-effort header parsing.

	var resetAt time.Time
	if resetUnix > 0 {
		resetAt = time.Unix(resetUnix, 0)
	}
	return &RateLimitError{Limit: limit, Remaining: 0, ResetAt: resetAt}
}

// parseReleases decodes a JSON array of registry releases.
func parseReleases(body io.Reader) ([]registryRelease, error) {
	var raw []registryRelease
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding releases: %w", err)
	}
	return raw, nil
}

// parseLinkHeader extracts the URL for the "next" page from an RFC 5988 Link header.
//
// Example header: <https://registry.example/releases?page=2>; rel="next", <...>; rel="last"
func parseLinkHeader(header string) string {
	if header == "" {
		return ""
	}

	for part := range strings.SplitSeq(header, ",") {
		part = strings.TrimSpace(part)
		if !strings.Contains(part, `rel="next"`) {
			continue
		}

		start := strings.Index(part, "<")
		end := strings.Index(part, ">")
		if start >= 0 && end > start {
			return part[start+1 : end]
		}
	}

	return ""
}

// toDescriptor converts the wire type. A missing algorithm means sha256, the
// registry's historical default.
func toDescriptor(rr registryRelease) ReleaseDescriptor {
	algo := ChecksumAlgorithm(strings.ToLower(strings.TrimSpace(rr.ChecksumAlgorithm)))
	if algo == "" {
		algo = AlgorithmSHA256
	}
	return ReleaseDescriptor{
		Version:           DisplayVersion(rr.Version),
		DownloadURL:       rr.DownloadURL,
		ExpectedChecksum:  strings.TrimSpace(rr.Checksum),
		ChecksumAlgorithm: algo,
		PublishedAt:       rr.PublishedAt,
		Notes:             rr.Notes,
		Size:              rr.Size,
		Prerelease:        rr.Prerelease,
	}
}

// sortReleasesBySemverDesc sorts releases newest first. Invalid versions sort
// last; the sort is stable for equal versions.
func sortReleasesBySemverDesc(releases []ReleaseDescriptor) {
	slices.SortStableFunc(releases, func(a, b ReleaseDescriptor) int {
		na, _ := normalizeVersion(a.Version) //nolint:errcheck // invalid -> "" sorts last
		nb, _ := normalizeVersion(b.Version) //nolint:errcheck // invalid -> "" sorts last
		return semver.Compare(nb, na)
	})
}

// isRegistryHost reports whether reqURL targets the configured registry host.
func isRegistryHost(reqURL *url.URL, baseURL string) bool {
	base, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(reqURL.Host, base.Host)
}

// redactURL strips query parameters and fragments from a URL for safe inclusion
// in error messages, preventing accidental exposure of tokens or sensitive data.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}
