// Package fetch retrieves remote page content under strict size and time
// limits.
package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: status %d from %s", e.Status, e.URL)
}

// Content is the result of one fetch. Truncated content is a success: titles
// and meta tags sit near the top of well-formed documents, so extraction
// still runs on the prefix.
type Content struct {
	URL         string
	Body        []byte
	ContentType string
	Truncated   bool
	StatusCode  int
}

// IsHTML reports whether the declared content type is HTML-like. Non-HTML
// content is recorded as metadata-unavailable, not an error.
func (c *Content) IsHTML() bool {
	mt, _, err := mime.ParseMediaType(c.ContentType)
	if err != nil {
		// Some servers send no content type at all; sniff nothing, assume
		// HTML and let the extractor degrade gracefully.
		return c.ContentType == ""
	}
	switch mt {
	case "text/html", "application/xhtml+xml":
		return true
	default:
		return false
	}
}

// Options configures a Fetcher.
type Options struct {
	MaxContentBytes int64
	Timeout         time.Duration
	UserAgent       string
	HTTPClient      *http.Client
	// PerHostRate limits outbound requests per host. Zero disables limiting.
	PerHostRate  rate.Limit
	PerHostBurst int
}

// Fetcher issues a single capped GET per URL with per-host rate limiting.
type Fetcher struct {
	client   *http.Client
	opts     Options
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	if opts.MaxContentBytes <= 0 {
		opts.MaxContentBytes = 5 * 1024 * 1024
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "linkloft/1.0"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Fetcher{
		client:   client,
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (f *Fetcher) limiterFor(rawURL string) *rate.Limiter {
	if f.opts.PerHostRate <= 0 {
		return nil
	}
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		burst := f.opts.PerHostBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(f.opts.PerHostRate, burst)
		f.limiters[host] = lim
	}
	return lim
}

// Fetch issues one GET against the resolved URL. The body read is capped at
// MaxContentBytes; hitting the cap truncates and continues. No retries, no
// redirect handling: the resolver has already produced the final URL.
func (f *Fetcher) Fetch(ctx context.Context, resolvedURL string) (*Content, error) {
	if lim := f.limiterFor(resolvedURL); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetch: rate limiter wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolvedURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: resolvedURL, Status: resp.StatusCode}
	}

	// Read one byte past the cap to distinguish "exactly cap" from
	// "truncated".
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxContentBytes+1))
	if err != nil {
		return nil, eris.Wrap(err, "fetch: read body")
	}

	truncated := int64(len(body)) > f.opts.MaxContentBytes
	if truncated {
		body = body[:f.opts.MaxContentBytes]
		zap.L().Debug("fetch: content truncated at cap",
			zap.String("url", resolvedURL),
			zap.Int64("cap_bytes", f.opts.MaxContentBytes),
		)
	}

	return &Content{
		URL:         resolvedURL,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Truncated:   truncated,
		StatusCode:  resp.StatusCode,
	}, nil
}
