package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRepoURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		in        string
		wantOwner string
		wantName  string
		wantErr   bool
	}{
		{"plain", "https://github.com/acme/widget", "acme", "widget", false},
		{"deep path", "https://github.com/acme/widget/tree/main/docs", "acme", "widget", false},
		{"git suffix", "https://github.com/acme/widget.git", "acme", "widget", false},
		{"www host", "https://www.github.com/acme/widget", "acme", "widget", false},
		{"gitlab", "https://gitlab.com/acme/widget", "", "", true},
		{"owner only", "https://github.com/acme", "", "", true},
		{"not a url", "::::", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, name, err := ParseRepoURL(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnsupportedHost))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOwner, owner)
			assert.Equal(t, tt.wantName, name)
		})
	}
}

func TestRepository_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widget", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))

		fmt.Fprint(w, `{
			"full_name": "acme/widget",
			"description": "A widget",
			"stargazers_count": 1234,
			"archived": false,
			"pushed_at": "2026-01-15T10:30:00Z",
			"license": {"spdx_id": "MIT"}
		}`)
	}))
	t.Cleanup(srv.Close)

	c := NewClient("test-token", WithBaseURL(srv.URL))
	repo, err := c.Repository(context.Background(), "acme", "widget")
	require.NoError(t, err)

	assert.Equal(t, "acme/widget", repo.FullName)
	assert.Equal(t, int64(1234), repo.Stars)
	assert.Equal(t, "MIT", repo.License)
	assert.False(t, repo.Archived)
	assert.Equal(t, time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC), repo.PushedAt)
}

func TestRepository_NoAuthHeaderWithoutToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"full_name": "acme/widget"}`)
	}))
	t.Cleanup(srv.Close)

	c := NewClient("", WithBaseURL(srv.URL))
	_, err := c.Repository(context.Background(), "acme", "widget")
	require.NoError(t, err)
}

func TestRepository_NoAssertionLicenseDropped(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"full_name": "acme/widget", "license": {"spdx_id": "NOASSERTION"}}`)
	}))
	t.Cleanup(srv.Close)

	c := NewClient("", WithBaseURL(srv.URL))
	repo, err := c.Repository(context.Background(), "acme", "widget")
	require.NoError(t, err)
	assert.Empty(t, repo.License)
}

func TestRepository_NotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	}))
	t.Cleanup(srv.Close)

	c := NewClient("", WithBaseURL(srv.URL))
	_, err := c.Repository(context.Background(), "acme", "gone")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRepository_RateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	c := NewClient("", WithBaseURL(srv.URL))
	_, err := c.Repository(context.Background(), "acme", "widget")
	require.Error(t, err)

	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, 30*time.Second, rle.RetryAfter)
}

func TestRepository_SecondaryRateLimit429(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	c := NewClient("", WithBaseURL(srv.URL))
	_, err := c.Repository(context.Background(), "acme", "widget")

	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	// No headers: falls back to the one-minute default.
	assert.Equal(t, time.Minute, rle.RetryAfter)
}

func TestRepository_ForbiddenWithQuotaLeftIsNotRateLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "42")
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	c := NewClient("", WithBaseURL(srv.URL))
	_, err := c.Repository(context.Background(), "acme", "widget")
	require.Error(t, err)

	var rle *RateLimitError
	assert.False(t, errors.As(err, &rle))
}

func TestRepository_ServerErrorIsNetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := NewClient("", WithBaseURL(srv.URL))
	_, err := c.Repository(context.Background(), "acme", "widget")

	var ne *NetworkError
	require.True(t, errors.As(err, &ne))
}

func TestRepository_TransportFailureIsNetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewClient("", WithBaseURL(srv.URL))
	_, err := c.Repository(context.Background(), "acme", "widget")

	var ne *NetworkError
	require.True(t, errors.As(err, &ne))
}

func TestLanguages(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widget/languages", r.URL.Path)
		fmt.Fprint(w, `{"Go": 70000, "Python": 30000}`)
	}))
	t.Cleanup(srv.Close)

	c := NewClient("", WithBaseURL(srv.URL))
	langs, err := c.Languages(context.Background(), "acme", "widget")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"Go": 70000, "Python": 30000}, langs)
}
