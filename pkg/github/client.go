// Package github provides a client for the GitHub REST API, limited to the
// repository metadata the enrichment pipeline needs.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned when the repository does not exist (deleted,
// renamed, or private). Terminal for the link's repository fields.
var ErrNotFound = eris.New("github: repository not found")

// ErrUnsupportedHost is returned by ParseRepoURL for repository hosts other
// than github.com.
var ErrUnsupportedHost = eris.New("github: unsupported repository host")

// RateLimitError reports that the API rate limit was hit. Retryable by the
// scheduler's backoff policy; this client never retries internally.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("github: rate limited, retry after %s", e.RetryAfter)
}

// NetworkError wraps a transient transport failure.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "github: network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// Repository is the subset of the repository summary the pipeline consumes.
type Repository struct {
	FullName    string    `json:"full_name"`
	Description string    `json:"description"`
	Stars       int64     `json:"stargazers_count"`
	Archived    bool      `json:"archived"`
	License     string    `json:"-"`
	PushedAt    time.Time `json:"pushed_at"`
}

// Client defines the repository-provider operations. A pure request/response
// mapper: no retries, no caching.
type Client interface {
	// Repository fetches the repository summary.
	Repository(ctx context.Context, owner, name string) (*Repository, error)
	// Languages fetches the per-language byte-count breakdown.
	Languages(ctx context.Context, owner, name string) (map[string]int64, error)
}

// ParseRepoURL extracts owner and name from a repository URL. Only
// github.com URLs are supported.
func ParseRepoURL(raw string) (owner, name string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", eris.Wrapf(ErrUnsupportedHost, "%q", raw)
	}
	host := strings.ToLower(u.Hostname())
	if host != "github.com" && host != "www.github.com" {
		return "", "", eris.Wrapf(ErrUnsupportedHost, "%q", host)
	}
	var segments []string
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	if len(segments) < 2 {
		return "", "", eris.Wrapf(ErrUnsupportedHost, "no owner/name in %q", raw)
	}
	return segments[0], strings.TrimSuffix(segments[1], ".git"), nil
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom API base URL (for testing).
func WithBaseURL(baseURL string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		c.userAgent = ua
	}
}

type httpClient struct {
	token     string
	baseURL   string
	userAgent string
	http      *http.Client
}

// NewClient creates a GitHub API client. An empty token is allowed; calls
// then run under the unauthenticated rate limit.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:     token,
		baseURL:   "https://api.github.com",
		userAgent: "linkloft/1.0 (+https://github.com/linkloft/linkloft)",
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, eris.Wrap(err, "github: create request")
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	// Repository metadata responses stay well under 1 MiB.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, eris.Wrapf(ErrNotFound, "%s", path)
	case isRateLimited(resp):
		return nil, &RateLimitError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= 500:
		return nil, &NetworkError{Err: eris.Errorf("status %d from %s", resp.StatusCode, path)}
	default:
		return nil, eris.Errorf("github: unexpected status %d from %s: %s", resp.StatusCode, path, string(body))
	}
}

// isRateLimited detects both primary (403 with exhausted quota) and
// secondary (429) rate limit responses.
func isRateLimited(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode == http.StatusForbidden &&
		resp.Header.Get("X-RateLimit-Remaining") == "0"
}

// retryAfter derives a wait from Retry-After or the X-RateLimit-Reset epoch,
// falling back to one minute.
func retryAfter(resp *http.Response) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
		if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
			if d := time.Until(time.Unix(epoch, 0)); d > 0 {
				return d
			}
		}
	}
	return time.Minute
}

func (c *httpClient) Repository(ctx context.Context, owner, name string) (*Repository, error) {
	body, err := c.get(ctx, "/repos/"+url.PathEscape(owner)+"/"+url.PathEscape(name))
	if err != nil {
		return nil, err
	}

	var raw struct {
		FullName    string    `json:"full_name"`
		Description string    `json:"description"`
		Stars       int64     `json:"stargazers_count"`
		Archived    bool      `json:"archived"`
		PushedAt    time.Time `json:"pushed_at"`
		License     *struct {
			SPDXID string `json:"spdx_id"`
		} `json:"license"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, eris.Wrap(err, "github: unmarshal repository")
	}

	repo := &Repository{
		FullName:    raw.FullName,
		Description: raw.Description,
		Stars:       raw.Stars,
		Archived:    raw.Archived,
		PushedAt:    raw.PushedAt,
	}
	if raw.License != nil && raw.License.SPDXID != "" && raw.License.SPDXID != "NOASSERTION" {
		repo.License = raw.License.SPDXID
	}
	return repo, nil
}

func (c *httpClient) Languages(ctx context.Context, owner, name string) (map[string]int64, error) {
	body, err := c.get(ctx, "/repos/"+url.PathEscape(owner)+"/"+url.PathEscape(name)+"/languages")
	if err != nil {
		return nil, err
	}

	langs := make(map[string]int64)
	if err := json.Unmarshal(body, &langs); err != nil {
		return nil, eris.Wrap(err, "github: unmarshal languages")
	}
	return langs, nil
}
