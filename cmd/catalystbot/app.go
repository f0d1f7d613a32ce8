package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/catalystbot/catalystbot/internal/alerts"
	"github.com/catalystbot/catalystbot/internal/classify"
	"github.com/catalystbot/catalystbot/internal/config"
	"github.com/catalystbot/catalystbot/internal/dedup"
	"github.com/catalystbot/catalystbot/internal/engine"
	"github.com/catalystbot/catalystbot/internal/feeds"
	"github.com/catalystbot/catalystbot/internal/heartbeat"
	"github.com/catalystbot/catalystbot/internal/llm"
	"github.com/catalystbot/catalystbot/internal/metrics"
	"github.com/catalystbot/catalystbot/internal/models"
	"github.com/catalystbot/catalystbot/internal/persistence"
	"github.com/catalystbot/catalystbot/internal/persistence/sqlite"
	"github.com/catalystbot/catalystbot/internal/prices"
	"github.com/catalystbot/catalystbot/internal/tickers"
)

// app is the fully wired process: every component built from the bootstrap
// file, sharing one embedded store.
type app struct {
	file  *config.File
	store *persistence.Store
	db    *sqlx.DB
	cfg   *config.Store

	dedup      *dedup.Store
	ingestors  []feeds.Ingestor
	outages    *feeds.OutageTracker
	resolver   *tickers.Resolver
	prices     *prices.Service
	classifier *classify.Classifier
	budget     *llm.Budget
	router     *llm.Router
	dispatcher *alerts.Dispatcher
	builder    *alerts.Builder
	metrics    *metrics.Set
	accum      *heartbeat.Accumulator
	reporter   *heartbeat.Reporter
	engine     *engine.Engine

	stopWeightWatch func()
}

// buildApp constructs the process from the bootstrap config. A malformed
// config is the exit-1 path; an unreachable mandatory dependency is exit 2.
func buildApp(ctx context.Context, path string) (*app, error) {
	schema := config.DefaultSchema()
	file, err := config.Load(path, schema)
	if err != nil {
		return nil, configErr(err)
	}
	rt := &file.Runtime
	if rt.DatabasePath == "" {
		rt.DatabasePath = "catalystbot.db"
	}

	store, db, err := sqlite.Open(rt.DatabasePath)
	if err != nil {
		return nil, dependencyErr(fmt.Errorf("embedded store unavailable: %w", err))
	}

	a := &app{
		file:            file,
		store:           store,
		db:              db,
		cfg:             config.NewStore(schema, file.Params, store.Audit, store.Backups),
		metrics:         metrics.New(),
		stopWeightWatch: func() {},
	}
	snap := a.cfg.Get()

	dcfg := dedup.DefaultConfig()
	dcfg.TTL = time.Duration(snap.Int(config.KeySeenTTLDays)) * 24 * time.Hour
	a.dedup = dedup.New(store.Dedup, dcfg)
	if err := a.dedup.Startup(ctx); err != nil {
		db.Close()
		return nil, dependencyErr(err)
	}

	a.ingestors, err = feeds.Build(rt)
	if err != nil {
		db.Close()
		return nil, configErr(err)
	}
	a.outages = feeds.NewOutageTracker(snap.Int(config.KeyFeedOutageCycles), func(source string, _ int) {
		a.metrics.IncSourceError(source)
	})

	a.resolver = tickers.NewResolver(tickers.NewListingsClient(rt.Providers.ListingsURL), 6*time.Hour)
	a.prices = prices.NewService(quoteChain(rt), prices.NewAutoCache(rt.RedisAddr), store.PriceCache, prices.DefaultTTL)

	catalog := classify.NewCatalog()
	if rt.KeywordWeightsPath != "" {
		if overlay, err := classify.LoadWeights(rt.KeywordWeightsPath); err == nil {
			catalog.Merge(overlay)
		} else {
			log.Warn().Err(err).Str("path", rt.KeywordWeightsPath).Msg("keyword weights not loaded")
		}
		if stop, err := classify.WatchWeights(rt.KeywordWeightsPath, catalog); err == nil {
			a.stopWeightWatch = stop
		} else {
			log.Warn().Err(err).Msg("keyword weight watch unavailable")
		}
	}
	a.classifier = classify.New(catalog, nil)

	a.budget = llm.NewBudget(
		snap.Float(config.KeyLLMDailyBudgetUSD),
		snap.Float(config.KeyLLMMonthlyBudgetUSD),
		snap.Float(config.KeyLLMSoftWarnPct),
	)
	if err := a.budget.Restore(ctx, store.LLMCache); err != nil {
		log.Warn().Err(err).Msg("llm spend restore failed, counters start at zero")
	}
	a.router = llm.NewRouter(
		llm.NewHTTPProvider(rt.LLM.BaseURL, rt.LLM.APIKey),
		llm.NewVerdictCache(store.LLMCache),
		a.budget,
		llm.Config{
			Enabled:      snap.Bool(config.KeyLLMEnabled),
			MinPrescale:  snap.Float(config.KeyLLMMinPrescale),
			BatchSize:    snap.Int(config.KeyLLMBatchSize),
			BatchTimeout: snap.SecondsF(config.KeyLLMBatchTimeoutSec),
			BatchDelay:   snap.SecondsF(config.KeyLLMBatchDelaySec),
		},
	)

	chartDir := filepath.Join(rt.CacheDir, "charts")
	chartCache := alerts.NewChartCache(alerts.NewPlaceholderRenderer(chartDir, "chart"), chartDir, 5*time.Minute)
	a.builder = alerts.NewBuilder(chartCache, alerts.NewPlaceholderRenderer(chartDir, "gauge"), rt.Webhook.Channel)
	a.dispatcher = alerts.NewDispatcher(rt.Webhook.URL, rt.Webhook.BotURL,
		time.Duration(snap.Int(config.KeyAlertsMinIntervalMS))*time.Millisecond)

	a.accum = heartbeat.NewAccumulator(
		time.Duration(snap.Int(config.KeyHeartbeatIntervalMin))*time.Minute,
		a.emitHeartbeat,
	)
	a.reporter = heartbeat.NewReporter(store.Outcomes, func(ctx context.Context, ticker string) *models.PriceSnapshot {
		return a.prices.Single(ctx, ticker)
	})

	a.engine = engine.New(engine.Options{
		Config:     a.cfg,
		Dedup:      a.dedup,
		Ingestors:  a.ingestors,
		Outages:    a.outages,
		Resolver:   a.resolver,
		Prices:     a.prices,
		Classifier: a.classifier,
		Router:     a.router,
		Builder:    a.builder,
		Sender:     a.dispatcher,
		Outcomes:   store.Outcomes,
		Heartbeat:  a.accum,
		Observer:   a.metrics,
		Sectors:    rt.SectorMultipliers,
	})
	return a, nil
}

// quoteChain builds the provider failover order from configured endpoints,
// each behind its own circuit breaker.
func quoteChain(rt *config.Runtime) []prices.QuoteProvider {
	var chain []prices.QuoteProvider
	add := func(name, url string) {
		if url != "" {
			chain = append(chain, prices.WithBreaker(prices.NewHTTPQuoteProvider(name, url, 5)))
		}
	}
	add("primary", rt.Providers.PrimaryQuoteURL)
	add("fallback", rt.Providers.FallbackQuoteURL)
	add("secondary", rt.Providers.SecondaryQuoteURL)
	return chain
}

// emitHeartbeat posts the periodic summary and refreshes the LLM gauges.
func (a *app) emitHeartbeat(s heartbeat.Summary) {
	day, _ := a.budget.Spend()
	a.metrics.UpdateLLM(a.router.Stats(), day)

	if a.file.Runtime.Webhook.URL == "" {
		return
	}
	msg := heartbeat.BuildSummaryMessage(a.file.Runtime.Webhook.Channel, s)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.dispatcher.Send(ctx, msg); err != nil {
		log.Warn().Err(err).Msg("heartbeat summary delivery failed")
	}
}

// postReport builds yesterday's report and posts it with approval controls.
func (a *app) postReport(ctx context.Context) {
	report, err := a.reporter.Build(ctx, time.Now().UTC().Add(-24*time.Hour), a.cfg.Get())
	if err != nil {
		log.Error().Err(err).Msg("nightly report build failed")
		return
	}
	msg := heartbeat.BuildReportMessage(a.file.Runtime.Webhook.Channel, report)
	if err := a.dispatcher.Send(ctx, msg); err != nil {
		log.Error().Err(err).Msg("nightly report delivery failed")
	}
}

// Close releases everything the app holds.
func (a *app) Close() {
	a.stopWeightWatch()
	a.router.Close()
	if err := a.db.Close(); err != nil {
		log.Warn().Err(err).Msg("store close failed")
	}
}
