// Package model defines the core data types shared across the enrichment pipeline.
package model

import "time"

// LinkStatus represents the lifecycle state of a bookmark.
type LinkStatus string

const (
	LinkStatusActive       LinkStatus = "active"
	LinkStatusArchived     LinkStatus = "archived"
	LinkStatusInaccessible LinkStatus = "inaccessible"
)

// LinkRecord is a bookmark as stored in the Link Store. Derived fields carry
// a per-field override flag; a flagged field is immutable to the pipeline and
// only explicit user action may clear the flag.
type LinkRecord struct {
	ID     string     `json:"id"`
	UserID string     `json:"user_id"`
	URL    string     `json:"url"`
	Status LinkStatus `json:"status"`

	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	LogoURL     string `json:"logo_url,omitempty"`

	TitleOverride       bool `json:"title_override"`
	DescriptionOverride bool `json:"description_override"`
	LogoOverride        bool `json:"logo_override"`

	RepositoryURL    string     `json:"repository_url,omitempty"`
	DocumentationURL string     `json:"documentation_url,omitempty"`
	StarCount        *int64     `json:"star_count,omitempty"`
	PrimaryLanguage  *string    `json:"primary_language,omitempty"`
	License          *string    `json:"license,omitempty"`
	LastCommitAt     *time.Time `json:"last_commit_at,omitempty"`

	// UserTouched is set once the user edits the link in any way. After that
	// point refreshes only suggest new language/license refs, never auto-add.
	UserTouched bool `json:"user_touched"`

	FailureCount       int        `json:"failure_count"`
	LastMetadataUpdate *time.Time `json:"last_metadata_update,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// FirstEnrichment reports whether this link has never been enriched. The
// Organization Store auto-populates refs only on first enrichment.
func (l *LinkRecord) FirstEnrichment() bool {
	return l.LastMetadataUpdate == nil
}

// FieldPatch is a partial update to a LinkRecord's derived fields. Nil
// pointers mean "leave unchanged"; the store additionally skips any field
// whose override flag is set, so a patch can never clobber user intent.
type FieldPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	LogoURL     *string `json:"logo_url,omitempty"`

	RepositoryURL    *string    `json:"repository_url,omitempty"`
	DocumentationURL *string    `json:"documentation_url,omitempty"`
	StarCount        *int64     `json:"star_count,omitempty"`
	PrimaryLanguage  *string    `json:"primary_language,omitempty"`
	License          *string    `json:"license,omitempty"`
	LastCommitAt     *time.Time `json:"last_commit_at,omitempty"`

	// ClearRepository wipes all repository fields. Set when the provider
	// reports the repository as gone; takes precedence over the repo pointers.
	ClearRepository bool `json:"clear_repository,omitempty"`

	// ResetFailures zeroes the consecutive-failure counter.
	ResetFailures bool `json:"reset_failures,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p FieldPatch) IsZero() bool {
	return p.Title == nil && p.Description == nil && p.LogoURL == nil &&
		p.RepositoryURL == nil && p.DocumentationURL == nil &&
		p.StarCount == nil && p.PrimaryLanguage == nil && p.License == nil &&
		p.LastCommitAt == nil && !p.ClearRepository && !p.ResetFailures
}

// Fields returns the names of the derived fields the patch would change,
// for outcome reporting.
func (p FieldPatch) Fields() []string {
	var out []string
	if p.Title != nil {
		out = append(out, "title")
	}
	if p.Description != nil {
		out = append(out, "description")
	}
	if p.LogoURL != nil {
		out = append(out, "logo_url")
	}
	if p.RepositoryURL != nil {
		out = append(out, "repository_url")
	}
	if p.DocumentationURL != nil {
		out = append(out, "documentation_url")
	}
	if p.StarCount != nil {
		out = append(out, "star_count")
	}
	if p.PrimaryLanguage != nil {
		out = append(out, "primary_language")
	}
	if p.License != nil {
		out = append(out, "license")
	}
	if p.LastCommitAt != nil {
		out = append(out, "last_commit_at")
	}
	if p.ClearRepository {
		out = append(out, "repository_fields_cleared")
	}
	return out
}

// LanguageRef points at a language known to (or suggested for) the user's
// organization data.
type LanguageRef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Suggested bool   `json:"suggested"`
}

// LicenseRef points at a license known to (or suggested for) the user's
// organization data.
type LicenseRef struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	Suggested  bool   `json:"suggested"`
}
