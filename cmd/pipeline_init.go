package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kosh-hq/invoice-pipeline/internal/asset"
	"github.com/kosh-hq/invoice-pipeline/internal/catalog"
	"github.com/kosh-hq/invoice-pipeline/internal/monitoring"
	"github.com/kosh-hq/invoice-pipeline/internal/ocr"
	"github.com/kosh-hq/invoice-pipeline/internal/pipeline"
	"github.com/kosh-hq/invoice-pipeline/internal/queue"
	"github.com/kosh-hq/invoice-pipeline/internal/recommend"
	"github.com/kosh-hq/invoice-pipeline/internal/resilience"
	"github.com/kosh-hq/invoice-pipeline/internal/scoring"
	"github.com/kosh-hq/invoice-pipeline/internal/store"
)

// pipelineEnv holds the store, queue, and pipeline components needed by the
// serve/worker/process commands.
type pipelineEnv struct {
	Store     store.Store
	Queue     *queue.Queue
	Processor *pipeline.Processor
	Verifier  *pipeline.Verifier
	Engine    *scoring.Engine
	Generator *recommend.Generator
	Breakers  *resilience.BreakerSet
	Collector *monitoring.Collector
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens the configured backend and runs migrations. Callers own
// closing the returned store.
func initStore(ctx context.Context) (store.Store, error) {
	var st store.Store
	var err error

	switch cfg.Store.Driver {
	case "sqlite", "":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "open %s store", cfg.Store.Driver)
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	zap.L().Info("store ready", zap.String("driver", cfg.Store.Driver))
	return st, nil
}

func retryPolicy() resilience.RetryPolicy {
	return resilience.RetryPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: time.Duration(cfg.Retry.InitialBackoffSecs) * time.Second,
		MaxBackoff:     time.Duration(cfg.Retry.MaxBackoffSecs) * time.Second,
		Multiplier:     cfg.Retry.Multiplier,
		JitterFraction: cfg.Retry.JitterFraction,
	}
}

// initPipeline sets up the store, OCR extractor, document fetcher, catalog
// matcher, scoring engine, and the task queue. Callers should defer
// env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	extractor, err := ocr.NewExtractor(ocr.Config{
		Provider:    cfg.OCR.Provider,
		BaseURL:     cfg.OCR.BaseURL,
		APIKey:      cfg.OCR.APIKey,
		TimeoutSecs: cfg.OCR.TimeoutSecs,
	})
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init ocr extractor")
	}

	fetcher := asset.NewFetcher(asset.Options{
		BaseURL:    cfg.Asset.BaseURL,
		UserAgent:  cfg.Asset.UserAgent,
		Timeout:    time.Duration(cfg.Asset.TimeoutSecs) * time.Second,
		MaxBytes:   cfg.Asset.MaxBytes,
		RatePerSec: cfg.Asset.RatePerSec,
		Burst:      cfg.Asset.Burst,
	})

	var categorizer *catalog.Categorizer
	if cfg.Catalog.KeywordFile != "" {
		rules, err := catalog.LoadKeywordRules(cfg.Catalog.KeywordFile)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "load keyword rules")
		}
		categorizer = catalog.NewCategorizer(rules)
		zap.L().Info("keyword rules loaded",
			zap.String("file", cfg.Catalog.KeywordFile),
			zap.Int("rules", len(rules)),
		)
	}
	matcher := catalog.NewMatcher(st, categorizer, cfg.Catalog.SimilarityThreshold)

	engine := scoring.NewEngine(st)
	generator := recommend.NewGenerator(st, engine, cfg.Recommend.MinMargin)

	breakers := resilience.NewBreakerSet(resilience.CircuitConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		CoolDown:         time.Duration(cfg.Breaker.CoolDownSecs) * time.Second,
	})

	policy := retryPolicy()
	q := queue.New(st, policy).
		WithClaimTTL(time.Duration(cfg.Pipeline.ClaimTTLSecs) * time.Second)

	processor := pipeline.NewProcessor(st, fetcher, extractor, matcher, engine, generator, breakers, policy)
	verifier := pipeline.NewVerifier(st, engine, generator)
	collector := monitoring.NewCollector(st, breakers)

	return &pipelineEnv{
		Store:     st,
		Queue:     q,
		Processor: processor,
		Verifier:  verifier,
		Engine:    engine,
		Generator: generator,
		Breakers:  breakers,
		Collector: collector,
	}, nil
}
