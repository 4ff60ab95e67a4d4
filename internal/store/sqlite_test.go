package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkloft/linkloft/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "linkloft.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func strPtr(s string) *string        { return &s }
func intPtr(n int64) *int64          { return &n }
func timePtr(t time.Time) *time.Time { return &t }

func TestSQLiteCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	link, err := s.CreateLink(ctx, "user-1", "https://example.com/")
	require.NoError(t, err)
	assert.NotEmpty(t, link.ID)
	assert.Equal(t, "user-1", link.UserID)
	assert.Equal(t, model.LinkStatusActive, link.Status)
	assert.Nil(t, link.LastMetadataUpdate)
	assert.True(t, link.FirstEnrichment())

	got, err := s.Get(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, link.URL, got.URL)
}

func TestSQLiteGetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteListStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	fresh, err := s.CreateLink(ctx, "u", "https://fresh.example.com/")
	require.NoError(t, err)
	_, err = s.UpdateFields(ctx, fresh.ID, model.FieldPatch{Title: strPtr("fresh")})
	require.NoError(t, err)

	never, err := s.CreateLink(ctx, "u", "https://never.example.com/")
	require.NoError(t, err)

	old, err := s.CreateLink(ctx, "u", "https://old.example.com/")
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx,
		`UPDATE links SET last_metadata_update = ? WHERE id = ?`, now.Add(-48*time.Hour), old.ID)
	require.NoError(t, err)

	archived, err := s.CreateLink(ctx, "u", "https://archived.example.com/")
	require.NoError(t, err)
	require.NoError(t, s.MarkStatus(ctx, archived.ID, model.LinkStatusArchived))

	dead, err := s.CreateLink(ctx, "u", "https://dead.example.com/")
	require.NoError(t, err)
	require.NoError(t, s.MarkStatus(ctx, dead.ID, model.LinkStatusInaccessible))

	stale, err := s.ListStale(ctx, now.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	// Never-enriched links come first, then oldest enrichment.
	assert.Equal(t, never.ID, stale[0].ID)
	assert.Equal(t, old.ID, stale[1].ID)

	limited, err := s.ListStale(ctx, now.Add(-24*time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, never.ID, limited[0].ID)
}

func TestSQLiteUpdateFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	link, err := s.CreateLink(ctx, "u", "https://example.com/")
	require.NoError(t, err)

	commit := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	updated, err := s.UpdateFields(ctx, link.ID, model.FieldPatch{
		Title:           strPtr("Example"),
		Description:     strPtr("An example project"),
		LogoURL:         strPtr("https://example.com/logo.png"),
		RepositoryURL:   strPtr("https://github.com/example/example"),
		StarCount:       intPtr(42),
		PrimaryLanguage: strPtr("Go"),
		License:         strPtr("MIT"),
		LastCommitAt:    timePtr(commit),
		ResetFailures:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Example", updated.Title)
	assert.Equal(t, "An example project", updated.Description)
	assert.Equal(t, "https://github.com/example/example", updated.RepositoryURL)
	require.NotNil(t, updated.StarCount)
	assert.EqualValues(t, 42, *updated.StarCount)
	require.NotNil(t, updated.LastCommitAt)
	assert.True(t, updated.LastCommitAt.Equal(commit))
	require.NotNil(t, updated.LastMetadataUpdate)

	// Fields missing from a later patch are left as they were.
	again, err := s.UpdateFields(ctx, link.ID, model.FieldPatch{Title: strPtr("Renamed")})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", again.Title)
	assert.Equal(t, "An example project", again.Description)
	require.NotNil(t, again.StarCount)
}

func TestSQLiteUpdateFieldsRespectsOverrides(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	link, err := s.CreateLink(ctx, "u", "https://example.com/")
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx,
		`UPDATE links SET title = 'My Title', title_override = 1, logo_url = 'https://me/logo.png', logo_override = 1 WHERE id = ?`,
		link.ID)
	require.NoError(t, err)

	updated, err := s.UpdateFields(ctx, link.ID, model.FieldPatch{
		Title:       strPtr("Scraped Title"),
		Description: strPtr("Scraped description"),
		LogoURL:     strPtr("https://example.com/favicon.ico"),
	})
	require.NoError(t, err)
	assert.Equal(t, "My Title", updated.Title)
	assert.Equal(t, "https://me/logo.png", updated.LogoURL)
	assert.Equal(t, "Scraped description", updated.Description)
}

func TestSQLiteUpdateFieldsClearRepository(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	link, err := s.CreateLink(ctx, "u", "https://example.com/")
	require.NoError(t, err)
	_, err = s.UpdateFields(ctx, link.ID, model.FieldPatch{
		RepositoryURL:   strPtr("https://github.com/gone/gone"),
		StarCount:       intPtr(9),
		PrimaryLanguage: strPtr("Rust"),
		License:         strPtr("Apache-2.0"),
		LastCommitAt:    timePtr(time.Now().UTC()),
	})
	require.NoError(t, err)

	cleared, err := s.UpdateFields(ctx, link.ID, model.FieldPatch{ClearRepository: true})
	require.NoError(t, err)
	assert.Empty(t, cleared.RepositoryURL)
	assert.Nil(t, cleared.StarCount)
	assert.Nil(t, cleared.PrimaryLanguage)
	assert.Nil(t, cleared.License)
	assert.Nil(t, cleared.LastCommitAt)
}

func TestSQLiteUpdateFieldsNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.UpdateFields(context.Background(), "missing", model.FieldPatch{Title: strPtr("x")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteFailureBookkeeping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	link, err := s.CreateLink(ctx, "u", "https://example.com/")
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		n, err := s.IncrementFailureCount(ctx, link.ID)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	// A successful update resets the counter and reactivates the link.
	require.NoError(t, s.MarkStatus(ctx, link.ID, model.LinkStatusInaccessible))
	updated, err := s.UpdateFields(ctx, link.ID, model.FieldPatch{
		Title:         strPtr("back"),
		ResetFailures: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, updated.FailureCount)
	assert.Equal(t, model.LinkStatusActive, updated.Status)
}

func TestSQLiteFindOrSuggestLanguage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.FindOrSuggestLanguage(ctx, "Go", true)
	require.NoError(t, err)
	assert.False(t, created.Suggested)

	// Lookup is case-insensitive and does not duplicate.
	found, err := s.FindOrSuggestLanguage(ctx, "go", false)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "Go", found.Name)

	suggested, err := s.FindOrSuggestLanguage(ctx, "Zig", false)
	require.NoError(t, err)
	assert.True(t, suggested.Suggested)
}

func TestSQLiteFindOrSuggestLicense(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.FindOrSuggestLicense(ctx, "MIT", true)
	require.NoError(t, err)
	assert.False(t, created.Suggested)

	found, err := s.FindOrSuggestLicense(ctx, "mit", false)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	suggested, err := s.FindOrSuggestLicense(ctx, "BSD-3-Clause", false)
	require.NoError(t, err)
	assert.True(t, suggested.Suggested)
}
