package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkloft/linkloft/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresFromPool(mock), mock
}

func linkRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "user_id", "url", "status", "title", "description", "logo_url",
		"title_override", "description_override", "logo_override",
		"repository_url", "documentation_url", "star_count", "primary_language", "license",
		"last_commit_at", "user_touched", "failure_count", "last_metadata_update",
		"created_at", "updated_at",
	})
}

func TestPostgresGet(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	// Nullable columns take driver values, not pointers; nil stands for NULL.
	mock.ExpectQuery("SELECT (.+) FROM links WHERE id").
		WithArgs("link-1").
		WillReturnRows(linkRows().AddRow(
			"link-1", "user-1", "https://example.com/", "active",
			"Example", "desc", "https://example.com/logo.png",
			false, true, false,
			"https://github.com/example/example", "", int64(120), "Go", nil,
			nil, false, 0, now,
			now, now,
		))

	got, err := s.Get(context.Background(), "link-1")
	require.NoError(t, err)
	assert.Equal(t, "Example", got.Title)
	assert.True(t, got.DescriptionOverride)
	require.NotNil(t, got.StarCount)
	assert.EqualValues(t, 120, *got.StarCount)
	require.NotNil(t, got.PrimaryLanguage)
	assert.Equal(t, "Go", *got.PrimaryLanguage)
	assert.Nil(t, got.License)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM links WHERE id").
		WithArgs("missing").
		WillReturnRows(linkRows())

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateFieldsNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE links SET").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "missing",
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	_, err := s.UpdateFields(context.Background(), "missing", model.FieldPatch{Title: strPtr("x")})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkStatus(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE links SET status").
		WithArgs("archived", pgxmock.AnyArg(), "link-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.MarkStatus(context.Background(), "link-1", model.LinkStatusArchived)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIncrementFailureCount(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE links SET failure_count").
		WithArgs(pgxmock.AnyArg(), "link-1").
		WillReturnRows(pgxmock.NewRows([]string{"failure_count"}).AddRow(4))

	n, err := s.IncrementFailureCount(context.Background(), "link-1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindOrSuggestLanguageInserts(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, name, suggested FROM languages").
		WithArgs("Zig").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "suggested"}))
	mock.ExpectExec("INSERT INTO languages").
		WithArgs(pgxmock.AnyArg(), "Zig", true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ref, err := s.FindOrSuggestLanguage(context.Background(), "Zig", false)
	require.NoError(t, err)
	assert.True(t, ref.Suggested)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindOrSuggestLicenseFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, identifier, suggested FROM licenses").
		WithArgs("MIT").
		WillReturnRows(pgxmock.NewRows([]string{"id", "identifier", "suggested"}).
			AddRow("lic-1", "MIT", false))

	ref, err := s.FindOrSuggestLicense(context.Background(), "MIT", true)
	require.NoError(t, err)
	assert.Equal(t, "lic-1", ref.ID)
	assert.False(t, ref.Suggested)
	assert.NoError(t, mock.ExpectationsWereMet())
}
