package model

import "time"

// ExtractedMetadata is the transient result of one fetch+extract pass. Each
// value carries the name of the fallback rule that produced it, for
// diagnostics. Never persisted as-is; the enricher merges it into a
// FieldPatch.
type ExtractedMetadata struct {
	Title            TaggedValue `json:"title"`
	Description      TaggedValue `json:"description"`
	LogoURL          TaggedValue `json:"logo_url"`
	RepositoryURL    TaggedValue `json:"repository_url"`
	DocumentationURL TaggedValue `json:"documentation_url"`
}

// TaggedValue is an extracted string plus the rule that produced it.
type TaggedValue struct {
	Value  string `json:"value"`
	Source string `json:"source,omitempty"`
}

// Empty reports whether no rule produced a value.
func (v TaggedValue) Empty() bool { return v.Value == "" }

// RepositorySnapshot is the transient result of one repository-provider
// enrichment call. Constructed fresh on every call, never cached.
type RepositorySnapshot struct {
	Owner        string           `json:"owner"`
	Name         string           `json:"name"`
	StarCount    int64            `json:"star_count"`
	Languages    map[string]int64 `json:"languages"`
	License      string           `json:"license,omitempty"`
	Archived     bool             `json:"archived"`
	LastCommitAt time.Time        `json:"last_commit_at"`
	FetchedAt    time.Time        `json:"fetched_at"`
}
