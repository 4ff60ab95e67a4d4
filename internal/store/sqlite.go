package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/linkloft/linkloft/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS links (
	id                   TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL DEFAULT '',
	url                  TEXT NOT NULL,
	status               TEXT NOT NULL DEFAULT 'active',
	title                TEXT NOT NULL DEFAULT '',
	description          TEXT NOT NULL DEFAULT '',
	logo_url             TEXT NOT NULL DEFAULT '',
	title_override       INTEGER NOT NULL DEFAULT 0,
	description_override INTEGER NOT NULL DEFAULT 0,
	logo_override        INTEGER NOT NULL DEFAULT 0,
	repository_url       TEXT NOT NULL DEFAULT '',
	documentation_url    TEXT NOT NULL DEFAULT '',
	star_count           INTEGER,
	primary_language     TEXT,
	license              TEXT,
	last_commit_at       DATETIME,
	user_touched         INTEGER NOT NULL DEFAULT 0,
	failure_count        INTEGER NOT NULL DEFAULT 0,
	last_metadata_update DATETIME,
	created_at           DATETIME NOT NULL,
	updated_at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS languages (
	id        TEXT PRIMARY KEY,
	name      TEXT NOT NULL UNIQUE COLLATE NOCASE,
	suggested INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS licenses (
	id         TEXT PRIMARY KEY,
	identifier TEXT NOT NULL UNIQUE COLLATE NOCASE,
	suggested  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_links_stale ON links(status, last_metadata_update);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const linkColumns = `id, user_id, url, status, title, description, logo_url,
	title_override, description_override, logo_override,
	repository_url, documentation_url, star_count, primary_language, license,
	last_commit_at, user_touched, failure_count, last_metadata_update,
	created_at, updated_at`

func (s *SQLiteStore) CreateLink(ctx context.Context, userID, url string) (*model.LinkRecord, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO links (id, user_id, url, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, userID, url, string(model.LinkStatusActive), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert link")
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.LinkRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM links WHERE id = ?`, id,
	)
	rec, err := scanLink(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get link %s", id)
	}
	return rec, nil
}

func (s *SQLiteStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]model.LinkRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+linkColumns+` FROM links
		 WHERE status = ? AND (last_metadata_update IS NULL OR last_metadata_update < ?)
		 ORDER BY last_metadata_update IS NOT NULL, last_metadata_update ASC
		 LIMIT ?`,
		string(model.LinkStatusActive), cutoff.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stale")
	}
	defer func() { _ = rows.Close() }()

	var out []model.LinkRecord
	for rows.Next() {
		rec, err := scanLink(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stale link")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate stale links")
}

// sqliteUpdateFields writes each derived field through a CASE guard on its
// override flag, so a protected field is untouched no matter what the patch
// carries. COALESCE keeps fields absent from the patch unchanged.
const sqliteUpdateFields = `
UPDATE links SET
	title        = CASE WHEN title_override       THEN title       ELSE COALESCE(?, title) END,
	description  = CASE WHEN description_override THEN description ELSE COALESCE(?, description) END,
	logo_url     = CASE WHEN logo_override        THEN logo_url    ELSE COALESCE(?, logo_url) END,
	repository_url    = CASE WHEN ? THEN '' ELSE COALESCE(?, repository_url) END,
	documentation_url = COALESCE(?, documentation_url),
	star_count        = CASE WHEN ? THEN NULL ELSE COALESCE(?, star_count) END,
	primary_language  = CASE WHEN ? THEN NULL ELSE COALESCE(?, primary_language) END,
	license           = CASE WHEN ? THEN NULL ELSE COALESCE(?, license) END,
	last_commit_at    = CASE WHEN ? THEN NULL ELSE COALESCE(?, last_commit_at) END,
	failure_count     = CASE WHEN ? THEN 0 ELSE failure_count END,
	status            = CASE WHEN ? THEN ? ELSE status END,
	last_metadata_update = ?,
	updated_at           = ?
WHERE id = ?`

func (s *SQLiteStore) UpdateFields(ctx context.Context, id string, patch model.FieldPatch) (*model.LinkRecord, error) {
	now := time.Now().UTC()
	clear := patch.ClearRepository
	var lastCommit any
	if patch.LastCommitAt != nil {
		lastCommit = patch.LastCommitAt.UTC()
	}

	// A successful commit also restores an inaccessible link to active.
	restore := patch.ResetFailures

	res, err := s.db.ExecContext(ctx, sqliteUpdateFields,
		nullable(patch.Title),
		nullable(patch.Description),
		nullable(patch.LogoURL),
		clear, nullable(patch.RepositoryURL),
		nullable(patch.DocumentationURL),
		clear, nullableInt(patch.StarCount),
		clear, nullable(patch.PrimaryLanguage),
		clear, nullable(patch.License),
		clear, lastCommit,
		patch.ResetFailures,
		restore, string(model.LinkStatusActive),
		now, now, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update fields %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, eris.Wrapf(ErrNotFound, "link %s", id)
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) MarkStatus(ctx context.Context, id string, status model.LinkStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE links SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark status %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrNotFound, "link %s", id)
	}
	return nil
}

func (s *SQLiteStore) IncrementFailureCount(ctx context.Context, id string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE links SET failure_count = failure_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: increment failure count %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, eris.Wrapf(ErrNotFound, "link %s", id)
	}
	var count int
	err = s.db.QueryRowContext(ctx, `SELECT failure_count FROM links WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: read failure count %s", id)
	}
	return count, nil
}

func (s *SQLiteStore) FindOrSuggestLanguage(ctx context.Context, name string, autoCreate bool) (*model.LanguageRef, error) {
	ref := &model.LanguageRef{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, suggested FROM languages WHERE name = ? COLLATE NOCASE`, name,
	).Scan(&ref.ID, &ref.Name, &ref.Suggested)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(err, "sqlite: find language %q", name)
	}

	ref = &model.LanguageRef{ID: uuid.New().String(), Name: name, Suggested: !autoCreate}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO languages (id, name, suggested) VALUES (?, ?, ?)`,
		ref.ID, ref.Name, ref.Suggested,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert language %q", name)
	}
	return ref, nil
}

func (s *SQLiteStore) FindOrSuggestLicense(ctx context.Context, identifier string, autoCreate bool) (*model.LicenseRef, error) {
	ref := &model.LicenseRef{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, identifier, suggested FROM licenses WHERE identifier = ? COLLATE NOCASE`, identifier,
	).Scan(&ref.ID, &ref.Identifier, &ref.Suggested)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(err, "sqlite: find license %q", identifier)
	}

	ref = &model.LicenseRef{ID: uuid.New().String(), Identifier: identifier, Suggested: !autoCreate}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO licenses (id, identifier, suggested) VALUES (?, ?, ?)`,
		ref.ID, ref.Identifier, ref.Suggested,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert license %q", identifier)
	}
	return ref, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*model.LinkRecord, error) {
	var (
		rec        model.LinkRecord
		status     string
		starCount  sql.NullInt64
		primary    sql.NullString
		license    sql.NullString
		lastCommit sql.NullTime
		lastUpdate sql.NullTime
	)
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.URL, &status,
		&rec.Title, &rec.Description, &rec.LogoURL,
		&rec.TitleOverride, &rec.DescriptionOverride, &rec.LogoOverride,
		&rec.RepositoryURL, &rec.DocumentationURL,
		&starCount, &primary, &license, &lastCommit,
		&rec.UserTouched, &rec.FailureCount, &lastUpdate,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Status = model.LinkStatus(status)
	if starCount.Valid {
		rec.StarCount = &starCount.Int64
	}
	if primary.Valid {
		rec.PrimaryLanguage = &primary.String
	}
	if license.Valid {
		rec.License = &license.String
	}
	if lastCommit.Valid {
		t := lastCommit.Time
		rec.LastCommitAt = &t
	}
	if lastUpdate.Valid {
		t := lastUpdate.Time
		rec.LastMetadataUpdate = &t
	}
	return &rec, nil
}

// nullable converts an optional string into a driver-friendly value.
func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableInt(n *int64) any {
	if n == nil {
		return nil
	}
	return *n
}
