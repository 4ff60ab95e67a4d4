// Package store implements persistence for links and organization data over
// SQLite or Postgres.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/linkloft/linkloft/internal/model"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// LinkStore is the Link Store interface the pipeline consumes. UpdateFields
// honors per-field override flags in the write itself, so a user edit racing
// a scheduled run can only ever lose fields it did not protect.
type LinkStore interface {
	CreateLink(ctx context.Context, userID, url string) (*model.LinkRecord, error)
	Get(ctx context.Context, id string) (*model.LinkRecord, error)
	// ListStale returns links never enriched or last enriched before cutoff,
	// oldest first, capped at limit. Archived and inaccessible links are not
	// selected; a manual refresh can still target them directly.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]model.LinkRecord, error)
	// UpdateFields applies the patch to non-overridden fields and stamps
	// last_metadata_update.
	UpdateFields(ctx context.Context, id string, patch model.FieldPatch) (*model.LinkRecord, error)
	MarkStatus(ctx context.Context, id string, status model.LinkStatus) error
	// IncrementFailureCount bumps the link's consecutive-failure counter and
	// returns the new value.
	IncrementFailureCount(ctx context.Context, id string) (int, error)
}

// OrgStore is the Organization Store interface: language and license
// references for the user's data. With autoCreate the ref is created
// outright; otherwise an unknown name is recorded as a suggestion.
type OrgStore interface {
	FindOrSuggestLanguage(ctx context.Context, name string, autoCreate bool) (*model.LanguageRef, error)
	FindOrSuggestLicense(ctx context.Context, identifier string, autoCreate bool) (*model.LicenseRef, error)
}

// Store combines both interfaces with lifecycle management.
type Store interface {
	LinkStore
	OrgStore

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
