package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/linkloft/linkloft/internal/classify"
	"github.com/linkloft/linkloft/internal/enrich"
	"github.com/linkloft/linkloft/internal/extract"
	"github.com/linkloft/linkloft/internal/fetch"
	"github.com/linkloft/linkloft/internal/langdetect"
	"github.com/linkloft/linkloft/internal/resilience"
	"github.com/linkloft/linkloft/internal/resolve"
	"github.com/linkloft/linkloft/internal/schedule"
	"github.com/linkloft/linkloft/internal/store"
	"github.com/linkloft/linkloft/pkg/github"
)

// initStore opens the configured store and verifies connectivity, retrying
// transient connection failures so a restarting database does not kill the
// process at boot.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}

	pingCfg := resilience.DefaultRetryConfig()
	pingCfg.OnRetry = resilience.RetryLogger("store ping")
	// Ping failures during startup are races with the database coming up,
	// so mark them transient and let the retry policy's classifier decide.
	ping := func(ctx context.Context) error {
		if err := st.Ping(ctx); err != nil {
			return resilience.Transient(err)
		}
		return nil
	}
	if err := resilience.Do(ctx, pingCfg, ping); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "store unreachable")
	}
	return st, nil
}

// initEnricher builds the full enrichment chain from config.
func initEnricher(st store.Store) (*enrich.Enricher, error) {
	rules := classify.DefaultRules()
	if cfg.Classify.RulesPath != "" {
		var err error
		rules, err = classify.LoadRules(cfg.Classify.RulesPath)
		if err != nil {
			return nil, eris.Wrap(err, "load classifier rules")
		}
		zap.L().Info("loaded classifier rules", zap.String("path", cfg.Classify.RulesPath))
	}

	var ghOpts []github.Option
	if cfg.GitHub.BaseURL != "" {
		ghOpts = append(ghOpts, github.WithBaseURL(cfg.GitHub.BaseURL))
	}

	return enrich.New(enrich.Deps{
		Resolver: resolve.New(resolve.Options{
			MaxRedirects: cfg.Fetch.MaxRedirects,
			Timeout:      cfg.Fetch.Timeout,
			UserAgent:    cfg.Fetch.UserAgent,
		}),
		Fetcher: fetch.New(fetch.Options{
			MaxContentBytes: cfg.Fetch.MaxContentBytes,
			Timeout:         cfg.Fetch.Timeout,
			UserAgent:       cfg.Fetch.UserAgent,
			PerHostRate:     rate.Limit(1),
			PerHostBurst:    2,
		}),
		Extractor:             extract.New(),
		Classifier:            classify.New(rules),
		Repos:                 github.NewClient(cfg.GitHub.Token, ghOpts...),
		Languages:             langdetect.New(langdetect.DefaultSecondaryRatio),
		Store:                 st,
		InaccessibleThreshold: cfg.Schedule.InaccessibleThreshold,
	}), nil
}

func newScheduler(st store.Store, enricher *enrich.Enricher) *schedule.Scheduler {
	return schedule.New(st, enricher, schedule.Config{
		Interval:      cfg.Schedule.UpdateInterval,
		JitterPercent: cfg.Schedule.JitterPercent,
		BatchSize:     cfg.Schedule.BatchSize,
		Concurrency:   cfg.Schedule.Concurrency,
	})
}
