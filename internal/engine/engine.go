package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/catalystbot/catalystbot/internal/alerts"
	"github.com/catalystbot/catalystbot/internal/classify"
	"github.com/catalystbot/catalystbot/internal/config"
	"github.com/catalystbot/catalystbot/internal/dedup"
	"github.com/catalystbot/catalystbot/internal/feeds"
	"github.com/catalystbot/catalystbot/internal/filters"
	"github.com/catalystbot/catalystbot/internal/heartbeat"
	"github.com/catalystbot/catalystbot/internal/llm"
	"github.com/catalystbot/catalystbot/internal/models"
	"github.com/catalystbot/catalystbot/internal/persistence"
)

// Narrow views of the collaborating services, satisfied by the concrete
// implementations and by test doubles.

type PriceBatcher interface {
	Batch(ctx context.Context, tickers []string) map[string]*models.PriceSnapshot
}

type TickerResolver interface {
	Refresh(ctx context.Context) error
	Resolve(item *models.NewsItem, maxTickers int)
	IsListed(symbol string) bool
}

type VerdictRouter interface {
	SetConfig(cfg llm.Config)
	Route(ctx context.Context, req llm.Request) *models.Verdict
}

type AlertBuilder interface {
	Build(ctx context.Context, ci *models.ClassifiedItem) *alerts.Message
}

type AlertSender interface {
	BeginCycle(maxAlerts int)
	SetMinInterval(iv time.Duration)
	Send(ctx context.Context, msg *alerts.Message) error
}

// CycleObserver receives per-cycle stats, e.g. the metrics registry.
type CycleObserver interface {
	ObserveCycle(stats heartbeat.CycleStats, elapsed time.Duration)
}

// Engine drives the pipeline: one Cycle per cadence tick, cadence selected
// by market phase.
type Engine struct {
	cfg        *config.Store
	dedup      *dedup.Store
	ingestors  []feeds.Ingestor
	outages    *feeds.OutageTracker
	resolver   TickerResolver
	prices     PriceBatcher
	classifier *classify.Classifier
	router     VerdictRouter
	structural *filters.Chain
	full       *filters.Chain
	builder    AlertBuilder
	sender     AlertSender
	outcomes   persistence.OutcomeRepo
	accum      *heartbeat.Accumulator
	observer   CycleObserver
	clock      *MarketClock
	sectors    map[string]float64

	now func() time.Time
}

// Options wires an engine.
type Options struct {
	Config     *config.Store
	Dedup      *dedup.Store
	Ingestors  []feeds.Ingestor
	Outages    *feeds.OutageTracker
	Resolver   TickerResolver
	Prices     PriceBatcher
	Classifier *classify.Classifier
	Router     VerdictRouter
	Builder    AlertBuilder
	Sender     AlertSender
	Outcomes   persistence.OutcomeRepo
	Heartbeat  *heartbeat.Accumulator
	Observer   CycleObserver
	Sectors    map[string]float64
}

// New assembles the engine.
func New(opts Options) *Engine {
	return &Engine{
		cfg:        opts.Config,
		dedup:      opts.Dedup,
		ingestors:  opts.Ingestors,
		outages:    opts.Outages,
		resolver:   opts.Resolver,
		prices:     opts.Prices,
		classifier: opts.Classifier,
		router:     opts.Router,
		structural: filters.Structural(),
		full:       filters.Standard(),
		builder:    opts.Builder,
		sender:     opts.Sender,
		outcomes:   opts.Outcomes,
		accum:      opts.Heartbeat,
		observer:   opts.Observer,
		clock:      NewMarketClock(),
		sectors:    opts.Sectors,
		now:        time.Now,
	}
}

// Run loops cycles until the context is cancelled, re-selecting cadence
// from the market phase between cycles.
func (e *Engine) Run(ctx context.Context) {
	var lastPhase Phase
	for {
		snap := e.cfg.Get()
		applyLogLevel(snap)

		phase := e.clock.PhaseAt(e.now())
		cadence := CadenceFor(phase, snap)
		if phase != lastPhase {
			log.Info().
				Str("phase", string(phase)).
				Dur("cadence", cadence).
				Bool("llm_enabled", snap.Bool(config.KeyLLMEnabled)).
				Int("max_alerts_per_cycle", snap.Int(config.KeyMaxAlertsPerCycle)).
				Msg("market phase transition")
			lastPhase = phase
		}

		cycleCtx, cancel := context.WithTimeout(ctx, cadence)
		started := e.now()
		stats := e.Cycle(cycleCtx, snap)
		cancel()
		elapsed := e.now().Sub(started)

		if e.accum != nil {
			e.accum.RecordCycle(stats)
		}
		if e.observer != nil {
			e.observer.ObserveCycle(stats, elapsed)
		}

		// Sleep only to the next cadence boundary, not cadence on top of
		// the cycle's own runtime.
		select {
		case <-time.After(cadenceWait(cadence, elapsed)):
		case <-ctx.Done():
			log.Info().Msg("engine draining")
			return
		}
	}
}

// Cycle runs one full pipeline pass on the given parameter snapshot.
func (e *Engine) Cycle(ctx context.Context, snap config.Snapshot) heartbeat.CycleStats {
	stats := heartbeat.CycleStats{ByReason: make(map[models.Reason]int)}
	started := e.now()

	cp := classifyParams(snap, e.sectors)
	fp := filterParams(snap)
	env := filters.Env{Listed: e.resolver.IsListed, Params: fp}

	e.router.SetConfig(llmConfig(snap))
	e.sender.BeginCycle(snap.Int(config.KeyMaxAlertsPerCycle))
	e.sender.SetMinInterval(time.Duration(snap.Int(config.KeyAlertsMinIntervalMS)) * time.Millisecond)
	if e.outages != nil {
		e.outages.SetThreshold(snap.Int(config.KeyFeedOutageCycles))
	}
	e.dedup.BeginCycle()

	if err := e.resolver.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("ticker universe refresh failed, resolution degraded")
	}

	maxAge := maxArticleAge(snap)
	since := e.now().Add(-maxAge)
	perSource := 20 * time.Second
	results := feeds.FetchAll(ctx, e.ingestors, since, perSource)
	if e.outages != nil {
		e.outages.Observe(results)
	}
	for _, res := range results {
		if res.Err != nil {
			stats.Errors++
		}
	}

	items := feeds.Merge(results)
	maxTickers := snap.Int(config.KeyMaxTickersPerItem)

	// Structural pass: age, dedup, resolution, cheap gates. Survivors get
	// priced and classified; everything else records its outcome now.
	var survivors []*models.NewsItem
	tickerSet := make(map[string]bool)
	for _, item := range items {
		stats.Scanned++

		if !item.PublishedAt.IsZero() && e.now().Sub(item.PublishedAt) > maxAge {
			e.record(ctx, &stats, &models.ClassifiedItem{Item: item}, models.DecisionRejected, models.ReasonStale)
			e.commit(ctx, item)
			continue
		}

		decision, err := e.dedup.CheckAndMark(ctx, item)
		if err != nil {
			log.Error().Err(err).Str("item", item.String()).Msg("dedup check failed")
			e.record(ctx, &stats, &models.ClassifiedItem{Item: item}, models.DecisionRejected, models.ReasonInternalError)
			continue
		}
		if decision != dedup.Fresh {
			// No commit here: if the original copy is still in flight and ends
			// up deferred, persisting the duplicate's keys would drop both.
			e.record(ctx, &stats, &models.ClassifiedItem{Item: item}, models.DecisionRejected, models.ReasonSeen)
			continue
		}

		e.resolver.Resolve(item, maxTickers)

		if res := e.structural.Evaluate(&models.ClassifiedItem{Item: item}, env); !res.Pass {
			e.record(ctx, &stats, &models.ClassifiedItem{Item: item}, models.DecisionRejected, res.Reason)
			e.commit(ctx, item)
			continue
		}

		survivors = append(survivors, item)
		if item.Ticker != "" {
			tickerSet[item.Ticker] = true
		}
	}

	quotes := map[string]*models.PriceSnapshot{}
	if len(tickerSet) > 0 {
		batch := make([]string, 0, len(tickerSet))
		for t := range tickerSet {
			batch = append(batch, t)
		}
		quotes = e.prices.Batch(ctx, batch)
	}

	// Enrichment fans out so the router's batcher sees concurrent requests;
	// evaluation and dispatch stay serial in arrival order.
	enriched := e.enrich(ctx, survivors, quotes, cp)

	for i, item := range survivors {
		ci := enriched[i]
		if ci == nil || ctx.Err() != nil {
			// Cadence elapsed: unmarked items are reconsidered next cycle.
			e.dedup.Release(item)
			continue
		}

		res := e.full.Evaluate(ci, env)
		if !res.Pass {
			e.record(ctx, &stats, ci, models.DecisionRejected, res.Reason)
			e.commit(ctx, item)
			continue
		}

		e.dispatch(ctx, &stats, ci)
	}

	log.Debug().
		Int("scanned", stats.Scanned).
		Int("alerted", stats.Alerted).
		Int("deferred", stats.Deferred).
		Dur("elapsed", e.now().Sub(started)).
		Msg("cycle complete")
	return stats
}

// enrichWorkers bounds the classify+route fan-out per cycle.
const enrichWorkers = 8

// enrich classifies and routes the survivors concurrently. The result slice
// is positional; a nil entry means the cycle deadline hit before that item
// was processed.
func (e *Engine) enrich(ctx context.Context, items []*models.NewsItem, quotes map[string]*models.PriceSnapshot, cp classify.Params) []*models.ClassifiedItem {
	out := make([]*models.ClassifiedItem, len(items))
	sem := make(chan struct{}, enrichWorkers)
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item *models.NewsItem) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if ctx.Err() != nil {
				return
			}
			ci := e.classifier.Classify(ctx, item, cp)
			ci.Price = quotes[item.Ticker]

			text := item.Title + " " + item.Summary
			verdict := e.router.Route(ctx, llm.Request{
				Task:           "catalyst-verdict",
				Text:           text,
				ComplexityHint: complexityHint(text, ci.Score, len(ci.Categories)),
				PreScore:       ci.Score,
			})
			e.classifier.ApplyVerdict(ci, verdict, cp)
			out[i] = ci
		}(i, item)
	}
	wg.Wait()
	return out
}

// dispatch delivers one passing item and settles its dedup state: seen on
// 2xx or permanent failure, released for retry otherwise.
func (e *Engine) dispatch(ctx context.Context, stats *heartbeat.CycleStats, ci *models.ClassifiedItem) {
	msg := e.builder.Build(ctx, ci)
	err := e.sender.Send(ctx, msg)
	switch {
	case err == nil:
		e.commit(ctx, ci.Item)
		stats.Alerted++
		e.record(ctx, stats, ci, models.DecisionDispatched, "")

	case errors.Is(err, alerts.ErrCycleCapReached):
		e.dedup.Release(ci.Item)
		stats.Deferred++
		e.record(ctx, stats, ci, models.DecisionDeferred, models.ReasonDeferredCycleCap)

	default:
		var perm *alerts.PermanentError
		if errors.As(err, &perm) {
			// Unprocessable payload: drop explicitly so it is not retried.
			e.commit(ctx, ci.Item)
			e.record(ctx, stats, ci, models.DecisionRejected, models.ReasonDeliveryFailed)
			return
		}
		e.dedup.Release(ci.Item)
		stats.Deferred++
		e.record(ctx, stats, ci, models.DecisionDeferred, models.ReasonDeliveryFailed)
	}
}

func (e *Engine) commit(ctx context.Context, item *models.NewsItem) {
	if err := e.dedup.Commit(ctx, item); err != nil {
		log.Error().Err(err).Str("item", item.String()).Msg("dedup commit failed")
	}
}

func (e *Engine) record(ctx context.Context, stats *heartbeat.CycleStats, ci *models.ClassifiedItem, decision models.Decision, reason models.Reason) {
	if reason != "" {
		stats.ByReason[reason]++
	}
	rec := models.OutcomeRecord{
		Timestamp: e.now().UTC(),
		Source:    ci.Item.Source,
		SourceID:  ci.Item.SourceID,
		Ticker:    ci.Item.Ticker,
		Title:     ci.Item.Title,
		Decision:  decision,
		Score:     ci.Score,
		Sentiment: ci.Sentiment,
	}
	if reason != "" {
		rec.Reasons = []string{string(reason)}
	}
	if ci.Price != nil && ci.Price.HasLast() {
		rec.Price = ci.Price.Last
	}
	for tag := range ci.KeywordsHit {
		rec.Keywords = append(rec.Keywords, tag)
	}
	if err := e.outcomes.Append(ctx, rec); err != nil {
		log.Error().Err(err).Str("item", ci.Item.String()).Msg("outcome append failed")
	}
}

func applyLogLevel(snap config.Snapshot) {
	if level, err := zerolog.ParseLevel(snap.Str(config.KeyLogLevel)); err == nil {
		if zerolog.GlobalLevel() != level {
			zerolog.SetGlobalLevel(level)
		}
	}
}
