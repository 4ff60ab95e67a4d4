// Package enrich runs the per-link enrichment chain: resolve, fetch, extract,
// classify, repository enrichment, commit.
package enrich

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/linkloft/linkloft/internal/classify"
	"github.com/linkloft/linkloft/internal/extract"
	"github.com/linkloft/linkloft/internal/fetch"
	"github.com/linkloft/linkloft/internal/langdetect"
	"github.com/linkloft/linkloft/internal/model"
	"github.com/linkloft/linkloft/internal/resolve"
	"github.com/linkloft/linkloft/internal/store"
	"github.com/linkloft/linkloft/pkg/github"
)

// Deps collects the stage implementations an Enricher composes.
type Deps struct {
	Resolver   *resolve.Resolver
	Fetcher    *fetch.Fetcher
	Extractor  *extract.Extractor
	Classifier *classify.Classifier
	Repos      github.Client
	Languages  *langdetect.Detector
	Store      store.Store

	// InaccessibleThreshold is the consecutive-failure count at which a link
	// is marked inaccessible and drops out of scheduled selection.
	InaccessibleThreshold int
}

// Enricher runs the enrichment chain for one link at a time. It is safe for
// concurrent use; all state lives in the store.
type Enricher struct {
	deps Deps
	log  *zap.Logger
}

// New creates an Enricher.
func New(deps Deps) *Enricher {
	if deps.InaccessibleThreshold <= 0 {
		deps.InaccessibleThreshold = 5
	}
	return &Enricher{deps: deps, log: zap.L().Named("enrich")}
}

// Request asks for one link to be enriched. SkipRepository suppresses the
// repository-provider stage; the scheduler sets it for the rest of a run
// once the provider reports rate limiting.
type Request struct {
	Link           *model.LinkRecord
	SkipRepository bool
}

// Enrich runs the full chain for one link and commits the resulting patch.
// Every outcome is reported, never returned as an error: the only caller
// decision points are the outcome status and error kind.
func (e *Enricher) Enrich(ctx context.Context, req Request) model.EnrichmentOutcome {
	link := req.Link
	out := model.EnrichmentOutcome{LinkID: link.ID, URL: link.URL}

	resolved, err := e.deps.Resolver.Resolve(ctx, link.URL)
	if err != nil {
		return e.fail(ctx, out, resolveKind(err), err)
	}

	content, err := e.deps.Fetcher.Fetch(ctx, resolved.URL)
	if err != nil {
		return e.fail(ctx, out, fetchKind(err), err)
	}

	patch := model.FieldPatch{ResetFailures: true}
	degraded := false

	var cls classify.Result
	if content.IsHTML() {
		doc := extract.Parse(content.Body)
		meta := e.deps.Extractor.Metadata(doc, resolved.URL)
		cls = e.deps.Classifier.Classify(doc, resolved.URL)
		e.mergeMetadata(link, meta, cls, &patch, &out)
	} else {
		// Non-HTML content yields no page metadata but is not a failure.
		degraded = true
		out.MissingFields = append(out.MissingFields, "title", "description", "logo_url")
		e.log.Debug("content not html, skipping extraction",
			zap.String("link_id", link.ID),
			zap.String("content_type", content.ContentType))
	}

	repoURL := link.RepositoryURL
	if !cls.RepositoryURL.Empty() {
		repoURL = cls.RepositoryURL.Value
	}
	var archived bool
	if repoURL != "" && !req.SkipRepository {
		repoDegraded := e.enrichRepository(ctx, link, repoURL, &patch, &out, &archived)
		degraded = degraded || repoDegraded
	}

	if out.ErrorKind == model.ErrKindRateLimited {
		// Page metadata still commits; the repository fields simply stay as
		// they were until a later run.
		degraded = true
	}

	if _, err := e.deps.Store.UpdateFields(ctx, link.ID, patch); err != nil {
		out.Status = model.OutcomeFailure
		out.ErrorKind = model.ErrKindPersistence
		out.Error = err.Error()
		return out
	}
	out.ChangedFields = patch.Fields()

	if archived {
		if err := e.deps.Store.MarkStatus(ctx, link.ID, model.LinkStatusArchived); err != nil {
			out.Status = model.OutcomeFailure
			out.ErrorKind = model.ErrKindPersistence
			out.Error = err.Error()
			return out
		}
	}

	if degraded {
		out.Status = model.OutcomePartial
	} else {
		out.Status = model.OutcomeSuccess
	}
	return out
}

// mergeMetadata folds extracted page metadata into the patch, skipping any
// field the user has overridden so the outcome reports only real changes.
func (e *Enricher) mergeMetadata(link *model.LinkRecord, meta model.ExtractedMetadata, cls classify.Result, patch *model.FieldPatch, out *model.EnrichmentOutcome) {
	if !meta.Title.Empty() && !link.TitleOverride {
		patch.Title = &meta.Title.Value
	}
	if meta.Title.Empty() {
		out.MissingFields = append(out.MissingFields, "title")
	}

	if !meta.Description.Empty() && !link.DescriptionOverride {
		patch.Description = &meta.Description.Value
	}
	if meta.Description.Empty() {
		out.MissingFields = append(out.MissingFields, "description")
	}

	if !meta.LogoURL.Empty() && !link.LogoOverride {
		patch.LogoURL = &meta.LogoURL.Value
	}

	if !cls.RepositoryURL.Empty() {
		patch.RepositoryURL = &cls.RepositoryURL.Value
	}
	if !cls.DocumentationURL.Empty() {
		patch.DocumentationURL = &cls.DocumentationURL.Value
	}
}

// enrichRepository fills repository-derived fields. Returns true when the
// stage degraded the outcome to partial.
func (e *Enricher) enrichRepository(ctx context.Context, link *model.LinkRecord, repoURL string, patch *model.FieldPatch, out *model.EnrichmentOutcome, archived *bool) bool {
	owner, name, err := github.ParseRepoURL(repoURL)
	if err != nil {
		out.ErrorKind = model.ErrKindUnsupportedHost
		out.Error = err.Error()
		return true
	}

	repo, err := e.deps.Repos.Repository(ctx, owner, name)
	if err != nil {
		return e.repoFailure(out, err, link, patch)
	}
	byteCounts, err := e.deps.Repos.Languages(ctx, owner, name)
	if err != nil {
		return e.repoFailure(out, err, link, patch)
	}

	// Snapshots are built fresh per call and never cached; the scheduler's
	// interval bounds their staleness.
	snap := model.RepositorySnapshot{
		Owner:        owner,
		Name:         name,
		StarCount:    repo.Stars,
		Languages:    byteCounts,
		License:      repo.License,
		Archived:     repo.Archived,
		LastCommitAt: repo.PushedAt,
		FetchedAt:    time.Now().UTC(),
	}

	patch.RepositoryURL = &repoURL
	patch.StarCount = &snap.StarCount
	if snap.License != "" {
		patch.License = &snap.License
	}
	if !snap.LastCommitAt.IsZero() {
		t := snap.LastCommitAt.UTC()
		patch.LastCommitAt = &t
	}
	if patch.Description == nil && !link.DescriptionOverride && repo.Description != "" {
		patch.Description = &repo.Description
	}
	*archived = snap.Archived

	langs := e.deps.Languages.Detect(snap.Languages)
	if langs.Primary != nil {
		patch.PrimaryLanguage = &langs.Primary.Name
	}

	// First enrichment of an untouched link registers refs outright; after
	// the user has edited the link they only ever arrive as suggestions.
	autoCreate := link.FirstEnrichment() && !link.UserTouched
	for _, lang := range langs.Labels() {
		if _, err := e.deps.Store.FindOrSuggestLanguage(ctx, lang, autoCreate); err != nil {
			e.log.Warn("language ref registration failed",
				zap.String("link_id", link.ID),
				zap.String("language", lang),
				zap.Error(err))
		}
	}
	if repo.License != "" {
		if _, err := e.deps.Store.FindOrSuggestLicense(ctx, repo.License, autoCreate); err != nil {
			e.log.Warn("license ref registration failed",
				zap.String("link_id", link.ID),
				zap.String("license", repo.License),
				zap.Error(err))
		}
	}
	return false
}

// repoFailure maps a repository-provider error into the outcome. The page
// metadata collected so far still commits.
func (e *Enricher) repoFailure(out *model.EnrichmentOutcome, err error, link *model.LinkRecord, patch *model.FieldPatch) bool {
	switch {
	case errors.Is(err, github.ErrNotFound):
		// The repository is gone; stale repository fields are cleared rather
		// than left to rot.
		patch.ClearRepository = true
		out.ErrorKind = model.ErrKindRepoNotFound
	case isRateLimit(err):
		out.ErrorKind = model.ErrKindRateLimited
	default:
		out.ErrorKind = model.ErrKindNetwork
	}
	out.Error = err.Error()
	e.log.Warn("repository enrichment degraded",
		zap.String("link_id", link.ID),
		zap.String("kind", string(out.ErrorKind)),
		zap.Error(err))
	return true
}

// fail records a chain failure, bumps the link's consecutive-failure counter,
// and marks the link inaccessible once the threshold is reached.
func (e *Enricher) fail(ctx context.Context, out model.EnrichmentOutcome, kind model.ErrorKind, err error) model.EnrichmentOutcome {
	out.Status = model.OutcomeFailure
	out.ErrorKind = kind
	out.Error = err.Error()

	// A chain aborted by its caller's cancellation says nothing about the
	// link itself; only genuine failures count toward inaccessibility.
	if ctx.Err() != nil {
		return out
	}

	count, cerr := e.deps.Store.IncrementFailureCount(ctx, out.LinkID)
	if cerr != nil {
		e.log.Error("failure count update failed",
			zap.String("link_id", out.LinkID), zap.Error(cerr))
		return out
	}
	if count >= e.deps.InaccessibleThreshold {
		if merr := e.deps.Store.MarkStatus(ctx, out.LinkID, model.LinkStatusInaccessible); merr != nil {
			e.log.Error("mark inaccessible failed",
				zap.String("link_id", out.LinkID), zap.Error(merr))
			return out
		}
		e.log.Info("link marked inaccessible",
			zap.String("link_id", out.LinkID),
			zap.Int("failures", count))
	}
	return out
}

// EnrichByID loads the link and enriches it. Used by the manual refresh
// paths, which may target archived or inaccessible links directly.
func (e *Enricher) EnrichByID(ctx context.Context, id string) (model.EnrichmentOutcome, error) {
	link, err := e.deps.Store.Get(ctx, id)
	if err != nil {
		return model.EnrichmentOutcome{}, eris.Wrapf(err, "enrich: load link %s", id)
	}
	return e.Enrich(ctx, Request{Link: link}), nil
}

// CreateAndEnrich validates the URL, stores a new link, and runs the chain
// on it immediately.
func (e *Enricher) CreateAndEnrich(ctx context.Context, userID, rawURL string) (model.EnrichmentOutcome, error) {
	u, err := resolve.Validate(rawURL)
	if err != nil {
		return model.EnrichmentOutcome{}, err
	}
	link, err := e.deps.Store.CreateLink(ctx, userID, u.String())
	if err != nil {
		return model.EnrichmentOutcome{}, eris.Wrap(err, "enrich: create link")
	}
	return e.Enrich(ctx, Request{Link: link}), nil
}

func resolveKind(err error) model.ErrorKind {
	switch {
	case errors.Is(err, resolve.ErrInvalidURL):
		return model.ErrKindInvalidURL
	case errors.Is(err, resolve.ErrTooManyRedirects):
		return model.ErrKindTooManyRedirects
	default:
		return model.ErrKindUnreachableHost
	}
}

func fetchKind(err error) model.ErrorKind {
	var se *fetch.StatusError
	if errors.As(err, &se) {
		return model.ErrKindFetchFailed
	}
	return model.ErrKindUnreachableHost
}

func isRateLimit(err error) bool {
	var rle *github.RateLimitError
	return errors.As(err, &rle)
}

// RetryAfter extracts the provider's requested backoff from a rate-limit
// outcome chain, defaulting to a minute.
func RetryAfter(err error) time.Duration {
	var rle *github.RateLimitError
	if errors.As(err, &rle) && rle.RetryAfter > 0 {
		return rle.RetryAfter
	}
	return time.Minute
}
