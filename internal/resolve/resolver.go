// Package resolve validates user-supplied URLs and follows redirect chains
// to a canonical final URL.
package resolve

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrInvalidURL is returned when the input does not parse as an absolute
// HTTP or HTTPS URL.
var ErrInvalidURL = eris.New("resolve: invalid url")

// ErrTooManyRedirects is returned when the redirect chain exceeds the
// configured hop budget.
var ErrTooManyRedirects = eris.New("resolve: too many redirects")

// ErrUnreachableHost is returned on connection or timeout failures while
// following the chain.
var ErrUnreachableHost = eris.New("resolve: unreachable host")

// Result is a resolved URL plus the length of the redirect chain walked to
// reach it.
type Result struct {
	URL  string
	Hops int
}

// Options configures a Resolver.
type Options struct {
	MaxRedirects int
	Timeout      time.Duration
	UserAgent    string
	HTTPClient   *http.Client // overrides Timeout when set; redirects are never auto-followed
}

// Resolver follows redirect chains manually so it can enforce the hop budget
// and reject non-web redirect targets.
type Resolver struct {
	client       *http.Client
	maxRedirects int
	userAgent    string
}

// New creates a Resolver.
func New(opts Options) *Resolver {
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "linkloft/1.0"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	// Redirects are walked by hand below.
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Resolver{
		client:       client,
		maxRedirects: opts.MaxRedirects,
		userAgent:    opts.UserAgent,
	}
}

// Validate parses raw as an absolute HTTP/HTTPS URL and returns its
// canonical form without touching the network.
func Validate(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, eris.Wrapf(ErrInvalidURL, "%q: %v", raw, err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, eris.Wrapf(ErrInvalidURL, "%q", raw)
	}
	return canonicalize(u), nil
}

// Resolve validates raw and follows its redirect chain up to the hop budget.
// Redirect targets outside HTTP/HTTPS are rejected; the chain never
// downgrades to a non-web scheme.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*Result, error) {
	current, err := Validate(raw)
	if err != nil {
		return nil, err
	}

	hops := 0
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current.String(), nil)
		if err != nil {
			return nil, eris.Wrapf(ErrInvalidURL, "%q: %v", current.String(), err)
		}
		req.Header.Set("User-Agent", r.userAgent)

		resp, err := r.client.Do(req)
		if err != nil {
			return nil, eris.Wrapf(ErrUnreachableHost, "%s: %v", current.Host, err)
		}
		// Only headers matter here.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()

		loc := resp.Header.Get("Location")
		if !isRedirect(resp.StatusCode) || loc == "" {
			zap.L().Debug("resolve: chain complete",
				zap.String("url", current.String()),
				zap.Int("hops", hops),
				zap.Int("status", resp.StatusCode),
			)
			return &Result{URL: current.String(), Hops: hops}, nil
		}

		if hops >= r.maxRedirects {
			return nil, eris.Wrapf(ErrTooManyRedirects, "more than %d hops from %q", r.maxRedirects, raw)
		}

		next, err := current.Parse(loc)
		if err != nil {
			return nil, eris.Wrapf(ErrInvalidURL, "redirect target %q: %v", loc, err)
		}
		if next.Scheme != "http" && next.Scheme != "https" {
			return nil, eris.Wrapf(ErrInvalidURL, "redirect to non-web scheme %q", next.Scheme)
		}
		current = canonicalize(next)
		hops++
	}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

// canonicalize lowercases scheme and host, strips default ports and the
// fragment, and normalizes an empty path to "/". The query survives.
func canonicalize(u *url.URL) *url.URL {
	out := *u
	out.Scheme = strings.ToLower(out.Scheme)
	out.Host = strings.ToLower(out.Host)
	out.Fragment = ""

	host := out.Hostname()
	port := out.Port()
	if (out.Scheme == "http" && port == "80") || (out.Scheme == "https" && port == "443") {
		out.Host = host
	}
	if out.Path == "" {
		out.Path = "/"
	}
	return &out
}
