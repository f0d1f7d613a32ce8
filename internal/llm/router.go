package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/catalystbot/catalystbot/internal/models"
)

// Request is one routing call. PreScore is the classifier's pre-LLM score;
// items below the prescale floor never reach the provider. ComplexityHint
// in [0,1] drives tier selection.
type Request struct {
	Task           string
	Text           string
	ComplexityHint float64
	PreScore       float64
}

// Config is the live tunable slice the router reads; the engine refreshes
// it from the parameter snapshot between cycles.
type Config struct {
	Enabled      bool
	MinPrescale  float64
	BatchSize    int
	BatchTimeout time.Duration
	BatchDelay   time.Duration
}

// Stats are the router's running counters.
type Stats struct {
	CacheHits    int64 `json:"cache_hits"`
	CacheMisses  int64 `json:"cache_misses"`
	Prefiltered  int64 `json:"prefiltered"`
	Calls        int64 `json:"calls"`
	Failures     int64 `json:"failures"`
	BudgetDenied int64 `json:"budget_denied"`
}

type pendingReq struct {
	ctx    context.Context
	hash   string
	tier   string
	prompt string
	result chan *models.Verdict
}

// Router sits between the classifier and the filter chain: pre-filter,
// complexity-based tier routing, semantic cache, batching, and budget
// enforcement. Every failure path yields an absent verdict; the router
// never returns an error to the cycle.
type Router struct {
	provider Provider
	cache    *VerdictCache
	budget   *Budget

	mu  sync.RWMutex
	cfg Config

	pending chan pendingReq
	done    chan struct{}
	once    sync.Once

	cacheHits    atomic.Int64
	cacheMisses  atomic.Int64
	prefiltered  atomic.Int64
	calls        atomic.Int64
	failures     atomic.Int64
	budgetDenied atomic.Int64
}

// NewRouter builds and starts the router's batch worker.
func NewRouter(provider Provider, cache *VerdictCache, budget *Budget, cfg Config) *Router {
	r := &Router{
		provider: provider,
		cache:    cache,
		budget:   budget,
		cfg:      normalizeConfig(cfg),
		pending:  make(chan pendingReq, 64),
		done:     make(chan struct{}),
	}
	go r.loop()
	return r
}

// SetConfig swaps the live tunables; in-flight batches finish on the old
// values.
func (r *Router) SetConfig(cfg Config) {
	r.mu.Lock()
	r.cfg = normalizeConfig(cfg)
	r.mu.Unlock()
}

// Close stops the batch worker. Pending requests resolve absent.
func (r *Router) Close() {
	r.once.Do(func() { close(r.done) })
}

// Stats snapshots the counters.
func (r *Router) Stats() Stats {
	return Stats{
		CacheHits:    r.cacheHits.Load(),
		CacheMisses:  r.cacheMisses.Load(),
		Prefiltered:  r.prefiltered.Load(),
		Calls:        r.calls.Load(),
		Failures:     r.failures.Load(),
		BudgetDenied: r.budgetDenied.Load(),
	}
}

// HitRate returns the steady-state cache hit fraction.
func (r *Router) HitRate() float64 {
	hits, misses := r.cacheHits.Load(), r.cacheMisses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// Route resolves a verdict for the request. Pre-filtered, budget-capped,
// and failed requests return an absent verdict without blocking the cycle
// beyond the batch window.
func (r *Router) Route(ctx context.Context, req Request) *models.Verdict {
	cfg := r.config()
	if !cfg.Enabled || req.PreScore < cfg.MinPrescale {
		r.prefiltered.Add(1)
		return &models.Verdict{Present: false}
	}

	tier := tierFor(req.ComplexityHint)
	prompt := MarshalPrompt(req.Task, req.Text)
	hash := PromptHash(prompt, tier)

	if v := r.cache.Get(ctx, hash, tier); v != nil {
		r.cacheHits.Add(1)
		return v
	}
	r.cacheMisses.Add(1)

	if !r.budget.Allow() {
		r.budgetDenied.Add(1)
		return &models.Verdict{Present: false}
	}

	p := pendingReq{ctx: ctx, hash: hash, tier: tier, prompt: prompt,
		result: make(chan *models.Verdict, 1)}
	select {
	case r.pending <- p:
	case <-ctx.Done():
		return &models.Verdict{Present: false}
	case <-r.done:
		return &models.Verdict{Present: false}
	}

	select {
	case v := <-p.result:
		return v
	case <-ctx.Done():
		return &models.Verdict{Present: false}
	case <-r.done:
		return &models.Verdict{Present: false}
	}
}

// tierFor maps the complexity hint to a model tier with a target share of
// roughly 60/30/8/2 across cheap/medium/expensive/premium.
func tierFor(hint float64) string {
	switch {
	case hint < 0.60:
		return TierCheap
	case hint < 0.90:
		return TierMedium
	case hint < 0.98:
		return TierExpensive
	default:
		return TierPremium
	}
}

func (r *Router) config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

func (r *Router) loop() {
	for {
		var first pendingReq
		select {
		case first = <-r.pending:
		case <-r.done:
			return
		}

		cfg := r.config()
		batch := []pendingReq{first}
		timer := time.NewTimer(cfg.BatchTimeout)
	collect:
		for len(batch) < cfg.BatchSize {
			select {
			case req := <-r.pending:
				batch = append(batch, req)
			case <-timer.C:
				break collect
			case <-r.done:
				timer.Stop()
				return
			}
		}
		timer.Stop()

		r.flush(batch)

		if cfg.BatchDelay > 0 {
			select {
			case <-time.After(cfg.BatchDelay):
			case <-r.done:
				return
			}
		}
	}
}

func (r *Router) flush(batch []pendingReq) {
	for _, req := range batch {
		req.result <- r.execute(req)
	}
}

func (r *Router) execute(req pendingReq) *models.Verdict {
	if req.ctx.Err() != nil {
		return &models.Verdict{Present: false}
	}
	// Re-check: earlier requests in the batch may have exhausted the budget.
	if !r.budget.Allow() {
		r.budgetDenied.Add(1)
		return &models.Verdict{Present: false}
	}

	r.calls.Add(1)
	comp, err := r.provider.Complete(req.ctx, req.tier, req.prompt)
	if err != nil {
		r.failures.Add(1)
		log.Debug().Err(err).Str("tier", req.tier).Msg("llm completion failed, verdict absent")
		return &models.Verdict{Present: false}
	}

	r.budget.Add(comp.CostUSD)
	v := &models.Verdict{
		Present:   true,
		Label:     comp.Label,
		Score:     comp.Score,
		Rationale: comp.Rationale,
		Tier:      req.tier,
	}
	r.cache.Put(req.ctx, req.hash, req.tier, v, comp.CostUSD)
	return v
}

func normalizeConfig(cfg Config) Config {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 2 * time.Second
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	return cfg
}
