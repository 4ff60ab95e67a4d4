package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/linkloft/linkloft/internal/db"
	"github.com/linkloft/linkloft/internal/model"
)

// PostgresStore implements Store over a pgx connection pool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres connects to the given Postgres DSN.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool, which lets tests inject a mock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS links (
	id                   UUID PRIMARY KEY,
	user_id              TEXT NOT NULL DEFAULT '',
	url                  TEXT NOT NULL,
	status               TEXT NOT NULL DEFAULT 'active',
	title                TEXT NOT NULL DEFAULT '',
	description          TEXT NOT NULL DEFAULT '',
	logo_url             TEXT NOT NULL DEFAULT '',
	title_override       BOOLEAN NOT NULL DEFAULT FALSE,
	description_override BOOLEAN NOT NULL DEFAULT FALSE,
	logo_override        BOOLEAN NOT NULL DEFAULT FALSE,
	repository_url       TEXT NOT NULL DEFAULT '',
	documentation_url    TEXT NOT NULL DEFAULT '',
	star_count           BIGINT,
	primary_language     TEXT,
	license              TEXT,
	last_commit_at       TIMESTAMPTZ,
	user_touched         BOOLEAN NOT NULL DEFAULT FALSE,
	failure_count        INT NOT NULL DEFAULT 0,
	last_metadata_update TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS languages (
	id        UUID PRIMARY KEY,
	name      TEXT NOT NULL,
	suggested BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_languages_name ON languages(LOWER(name));

CREATE TABLE IF NOT EXISTS licenses (
	id         UUID PRIMARY KEY,
	identifier TEXT NOT NULL,
	suggested  BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_licenses_identifier ON licenses(LOWER(identifier));

CREATE INDEX IF NOT EXISTS idx_links_stale ON links(status, last_metadata_update);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateLink(ctx context.Context, userID, url string) (*model.LinkRecord, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO links (id, user_id, url, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, userID, url, string(model.LinkStatusActive), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert link")
	}
	return s.Get(ctx, id)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.LinkRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM links WHERE id = $1`, id,
	)
	rec, err := scanLink(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "link %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get link %s", id)
	}
	return rec, nil
}

func (s *PostgresStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]model.LinkRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+linkColumns+` FROM links
		 WHERE status = $1 AND (last_metadata_update IS NULL OR last_metadata_update < $2)
		 ORDER BY last_metadata_update ASC NULLS FIRST
		 LIMIT $3`,
		string(model.LinkStatusActive), cutoff.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stale")
	}
	defer rows.Close()

	var out []model.LinkRecord
	for rows.Next() {
		rec, err := scanLink(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan stale link")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate stale links")
}

const postgresUpdateFields = `
UPDATE links SET
	title        = CASE WHEN title_override       THEN title       ELSE COALESCE($1, title) END,
	description  = CASE WHEN description_override THEN description ELSE COALESCE($2, description) END,
	logo_url     = CASE WHEN logo_override        THEN logo_url    ELSE COALESCE($3, logo_url) END,
	repository_url    = CASE WHEN $4 THEN '' ELSE COALESCE($5, repository_url) END,
	documentation_url = COALESCE($6, documentation_url),
	star_count        = CASE WHEN $4 THEN NULL ELSE COALESCE($7, star_count) END,
	primary_language  = CASE WHEN $4 THEN NULL ELSE COALESCE($8, primary_language) END,
	license           = CASE WHEN $4 THEN NULL ELSE COALESCE($9, license) END,
	last_commit_at    = CASE WHEN $4 THEN NULL ELSE COALESCE($10, last_commit_at) END,
	failure_count     = CASE WHEN $11 THEN 0 ELSE failure_count END,
	status            = CASE WHEN $11 THEN $12 ELSE status END,
	last_metadata_update = $13,
	updated_at           = $13
WHERE id = $14`

func (s *PostgresStore) UpdateFields(ctx context.Context, id string, patch model.FieldPatch) (*model.LinkRecord, error) {
	now := time.Now().UTC()
	var lastCommit any
	if patch.LastCommitAt != nil {
		lastCommit = patch.LastCommitAt.UTC()
	}

	tag, err := s.pool.Exec(ctx, postgresUpdateFields,
		patch.Title, patch.Description, patch.LogoURL,
		patch.ClearRepository, patch.RepositoryURL,
		patch.DocumentationURL,
		patch.StarCount, patch.PrimaryLanguage, patch.License, lastCommit,
		patch.ResetFailures, string(model.LinkStatusActive),
		now, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update fields %s", id)
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Wrapf(ErrNotFound, "link %s", id)
	}
	return s.Get(ctx, id)
}

func (s *PostgresStore) MarkStatus(ctx context.Context, id string, status model.LinkStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE links SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "link %s", id)
	}
	return nil
}

func (s *PostgresStore) IncrementFailureCount(ctx context.Context, id string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`UPDATE links SET failure_count = failure_count + 1, updated_at = $1 WHERE id = $2 RETURNING failure_count`,
		time.Now().UTC(), id,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, eris.Wrapf(ErrNotFound, "link %s", id)
	}
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: increment failure count %s", id)
	}
	return count, nil
}

func (s *PostgresStore) FindOrSuggestLanguage(ctx context.Context, name string, autoCreate bool) (*model.LanguageRef, error) {
	ref := &model.LanguageRef{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, suggested FROM languages WHERE LOWER(name) = LOWER($1)`, name,
	).Scan(&ref.ID, &ref.Name, &ref.Suggested)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(err, "postgres: find language %q", name)
	}

	ref = &model.LanguageRef{ID: uuid.New().String(), Name: name, Suggested: !autoCreate}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO languages (id, name, suggested) VALUES ($1, $2, $3)`,
		ref.ID, ref.Name, ref.Suggested,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert language %q", name)
	}
	return ref, nil
}

func (s *PostgresStore) FindOrSuggestLicense(ctx context.Context, identifier string, autoCreate bool) (*model.LicenseRef, error) {
	ref := &model.LicenseRef{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, identifier, suggested FROM licenses WHERE LOWER(identifier) = LOWER($1)`, identifier,
	).Scan(&ref.ID, &ref.Identifier, &ref.Suggested)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(err, "postgres: find license %q", identifier)
	}

	ref = &model.LicenseRef{ID: uuid.New().String(), Identifier: identifier, Suggested: !autoCreate}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO licenses (id, identifier, suggested) VALUES ($1, $2, $3)`,
		ref.ID, ref.Identifier, ref.Suggested,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert license %q", identifier)
	}
	return ref, nil
}
