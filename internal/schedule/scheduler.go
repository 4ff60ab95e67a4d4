// Package schedule drives periodic enrichment runs: select stale links,
// enrich them concurrently, fold the outcomes into a run summary.
package schedule

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/linkloft/linkloft/internal/enrich"
	"github.com/linkloft/linkloft/internal/model"
	"github.com/linkloft/linkloft/internal/store"
)

// Clock abstracts time for the run loop so tests can drive it.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// State names the scheduler's current phase.
type State string

const (
	StateIdle      State = "idle"
	StateSelecting State = "selecting"
	StateEnriching State = "enriching"
)

// LinkEnricher runs the enrichment chain for one link. *enrich.Enricher is
// the production implementation.
type LinkEnricher interface {
	Enrich(ctx context.Context, req enrich.Request) model.EnrichmentOutcome
}

// Config controls run cadence and batch shape.
type Config struct {
	// Interval is both the staleness horizon and the base period between
	// runs. A link is stale once its last enrichment is older than this.
	Interval time.Duration
	// JitterPercent widens each sleep by up to ±percent, recomputed per run,
	// so multiple instances drift apart instead of thundering together.
	JitterPercent int
	BatchSize     int
	Concurrency   int
}

// Scheduler owns the periodic enrichment loop.
type Scheduler struct {
	store    store.LinkStore
	enricher LinkEnricher
	cfg      Config
	clock    Clock
	log      *zap.Logger

	mu          sync.Mutex
	state       State
	lastRun     *model.BatchSummary
	lastRunAt   time.Time
	nextRunAt   time.Time
	runFailures int
}

// Option adjusts a Scheduler.
type Option func(*Scheduler)

// WithClock substitutes the wall clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// New creates a Scheduler.
func New(st store.LinkStore, enricher LinkEnricher, cfg Config, opts ...Option) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	s := &Scheduler{
		store:    st,
		enricher: enricher,
		cfg:      cfg,
		clock:    realClock{},
		log:      zap.L().Named("schedule"),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot reports the scheduler's phase and most recent run for the status
// surface.
type Snapshot struct {
	State State `json:"state"`
	// RunFailures counts consecutive aborted runs, reset by any run that
	// completes. This is the scheduler's own counter, separate from the
	// per-link failure counts the store keeps.
	RunFailures int                 `json:"run_failures"`
	LastRunAt   time.Time           `json:"last_run_at,omitzero"`
	NextRunAt   time.Time           `json:"next_run_at,omitzero"`
	LastRun     *model.BatchSummary `json:"last_run,omitempty"`
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:       s.state,
		RunFailures: s.runFailures,
		LastRunAt:   s.lastRunAt,
		NextRunAt:   s.nextRunAt,
		LastRun:     s.lastRun,
	}
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run loops until the context ends. A failed run is logged and the loop
// continues; only context cancellation stops it.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		delay := s.nextDelay()
		s.mu.Lock()
		s.nextRunAt = s.clock.Now().Add(delay)
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(delay):
		}

		if _, err := s.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error("scheduled run aborted", zap.Error(err))
		}
	}
}

// nextDelay is the base interval widened by up to ±JitterPercent.
func (s *Scheduler) nextDelay() time.Duration {
	d := s.cfg.Interval
	if s.cfg.JitterPercent > 0 {
		spread := float64(d) * float64(s.cfg.JitterPercent) / 100
		d += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	if d < 0 {
		d = 0
	}
	return d
}

// RunOnce selects one batch of stale links and enriches it. Enrichment
// failures are isolated per link; a persistence failure aborts the whole run
// since every later commit would hit the same store.
func (s *Scheduler) RunOnce(ctx context.Context) (*model.BatchSummary, error) {
	started := s.clock.Now()
	s.setState(StateSelecting)
	defer s.setState(StateIdle)

	cutoff := started.Add(-s.cfg.Interval)
	links, err := s.store.ListStale(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		s.recordRunErr(true)
		return nil, eris.Wrap(err, "schedule: select stale links")
	}

	summary := &model.BatchSummary{Selected: len(links)}
	if len(links) == 0 {
		s.recordRunErr(false)
		s.finishRun(started, summary)
		return summary, nil
	}

	s.setState(StateEnriching)
	s.log.Info("run started",
		zap.Int("selected", len(links)),
		zap.Time("cutoff", cutoff))

	var (
		mu       sync.Mutex
		skipRepo atomic.Bool
	)
	// Cancellation is observed only at the start of each per-link chain: a
	// link already in flight finishes on chainCtx rather than being torn
	// down mid-HTTP-call, so shutdown never pollutes failure bookkeeping.
	// The chain's own HTTP timeouts bound how long that takes.
	chainCtx := context.WithoutCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i := range links {
		link := links[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			out := s.enricher.Enrich(chainCtx, enrich.Request{
				Link:           &link,
				SkipRepository: skipRepo.Load(),
			})

			// One rate-limit signal defers the provider stage for the rest
			// of the run; page-level enrichment continues.
			if out.ErrorKind == model.ErrKindRateLimited {
				skipRepo.Store(true)
			}
			if out.ErrorKind == model.ErrKindPersistence {
				return eris.New("schedule: persistence failure: " + out.Error)
			}

			mu.Lock()
			summary.Add(out)
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	s.recordRunErr(err != nil)

	s.finishRun(started, summary)
	s.log.Info("run finished",
		zap.Int("selected", summary.Selected),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("partial", summary.Partial),
		zap.Int("failed", summary.Failed),
		zap.Int("rate_limited", summary.RateLimited))
	return summary, err
}

func (s *Scheduler) recordRunErr(failed bool) {
	s.mu.Lock()
	if failed {
		s.runFailures++
	} else {
		s.runFailures = 0
	}
	s.mu.Unlock()
}

func (s *Scheduler) finishRun(started time.Time, summary *model.BatchSummary) {
	s.mu.Lock()
	s.lastRun = summary
	s.lastRunAt = started
	s.mu.Unlock()
}
