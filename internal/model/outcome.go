package model

// OutcomeStatus classifies the result of enriching a single link.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomePartial OutcomeStatus = "partial"
	OutcomeFailure OutcomeStatus = "failure"
)

// ErrorKind is the pipeline's error taxonomy. Kinds map one-to-one onto the
// typed errors returned by the resolver, fetcher, and repository client.
type ErrorKind string

const (
	ErrKindNone             ErrorKind = ""
	ErrKindInvalidURL       ErrorKind = "invalid_url"
	ErrKindTooManyRedirects ErrorKind = "too_many_redirects"
	ErrKindUnreachableHost  ErrorKind = "unreachable_host"
	ErrKindFetchFailed      ErrorKind = "fetch_failed"
	ErrKindUnsupportedHost  ErrorKind = "unsupported_repository_host"
	ErrKindRepoNotFound     ErrorKind = "repository_not_found"
	ErrKindRateLimited      ErrorKind = "rate_limited"
	ErrKindNetwork          ErrorKind = "network_error"
	ErrKindPersistence      ErrorKind = "persistence_error"
)

// EnrichmentOutcome records what happened to one link in one run. The
// scheduler folds a batch of these into a summary; callers of enrich_one get
// the outcome directly.
type EnrichmentOutcome struct {
	LinkID        string        `json:"link_id"`
	URL           string        `json:"url"`
	Status        OutcomeStatus `json:"status"`
	ChangedFields []string      `json:"changed_fields,omitempty"`
	MissingFields []string      `json:"missing_fields,omitempty"`
	ErrorKind     ErrorKind     `json:"error_kind,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// Failed reports whether the link's chain failed outright.
func (o EnrichmentOutcome) Failed() bool { return o.Status == OutcomeFailure }

// BatchSummary aggregates per-outcome counts for one scheduled run.
type BatchSummary struct {
	Selected    int                 `json:"selected"`
	Succeeded   int                 `json:"succeeded"`
	Partial     int                 `json:"partial"`
	Failed      int                 `json:"failed"`
	RateLimited int                 `json:"rate_limited"`
	Outcomes    []EnrichmentOutcome `json:"outcomes,omitempty"`
	ByKind      map[ErrorKind]int   `json:"by_kind,omitempty"`
}

// Add folds an outcome into the summary.
func (s *BatchSummary) Add(o EnrichmentOutcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.Status {
	case OutcomeSuccess:
		s.Succeeded++
	case OutcomePartial:
		s.Partial++
	case OutcomeFailure:
		s.Failed++
	}
	if o.ErrorKind == ErrKindRateLimited {
		s.RateLimited++
	}
	if o.ErrorKind != ErrKindNone {
		if s.ByKind == nil {
			s.ByKind = make(map[ErrorKind]int)
		}
		s.ByKind[o.ErrorKind]++
	}
}
