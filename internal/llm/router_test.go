package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalystbot/catalystbot/internal/persistence/sqlite"
)

type scriptedProvider struct {
	mu    sync.Mutex
	calls int
	cost  float64
	err   error
}

func (p *scriptedProvider) Complete(_ context.Context, _, _ string) (*Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &Completion{Label: "bullish", Score: 0.6, Rationale: "contract win", CostUSD: p.cost}, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func fastConfig() Config {
	return Config{
		Enabled:      true,
		MinPrescale:  0.20,
		BatchSize:    5,
		BatchTimeout: 20 * time.Millisecond,
		BatchDelay:   0,
	}
}

func newTestRouter(t *testing.T, provider Provider, budget *Budget) *Router {
	t.Helper()
	store, db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if budget == nil {
		budget = NewBudget(5, 100, 0.8)
	}
	r := NewRouter(provider, NewVerdictCache(store.LLMCache), budget, fastConfig())
	t.Cleanup(r.Close)
	return r
}

func TestRouteReturnsVerdict(t *testing.T) {
	provider := &scriptedProvider{cost: 0.01}
	r := newTestRouter(t, provider, nil)

	v := r.Route(context.Background(), Request{
		Task: "verdict", Text: "ACME wins $5M contract", PreScore: 0.5,
	})
	require.True(t, v.Present)
	assert.Equal(t, "bullish", v.Label)
	assert.Equal(t, TierCheap, v.Tier)
	assert.False(t, v.Cached)
}

func TestRouteSemanticCacheHit(t *testing.T) {
	provider := &scriptedProvider{cost: 0.01}
	r := newTestRouter(t, provider, nil)

	first := r.Route(context.Background(), Request{
		Task: "verdict", Text: "ACME wins $5M contract", PreScore: 0.5,
	})
	require.True(t, first.Present)

	// Same story, different figure: numerals normalize away.
	second := r.Route(context.Background(), Request{
		Task: "verdict", Text: "ACME wins $7M contract", PreScore: 0.5,
	})
	require.True(t, second.Present)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, provider.callCount(), "cache hit must not call the provider")
	assert.Equal(t, int64(1), r.Stats().CacheHits)
}

func TestRouteCacheHitOnPunctuationVariant(t *testing.T) {
	provider := &scriptedProvider{cost: 0.01}
	r := newTestRouter(t, provider, nil)

	first := r.Route(context.Background(), Request{
		Task: "verdict", Text: "ACME wins FDA approval", PreScore: 0.5,
	})
	require.True(t, first.Present)

	second := r.Route(context.Background(), Request{
		Task: "verdict", Text: "ACME wins FDA approval!", PreScore: 0.5,
	})
	require.True(t, second.Present)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, provider.callCount(), "punctuation-only variant must not bill twice")
}

func TestRoutePrefilterBelowFloor(t *testing.T) {
	provider := &scriptedProvider{}
	r := newTestRouter(t, provider, nil)

	v := r.Route(context.Background(), Request{Task: "verdict", Text: "minor note", PreScore: 0.1})
	assert.False(t, v.Present)
	assert.Equal(t, 0, provider.callCount())
	assert.Equal(t, int64(1), r.Stats().Prefiltered)
}

func TestRouteDisabledReturnsAbsent(t *testing.T) {
	provider := &scriptedProvider{}
	r := newTestRouter(t, provider, nil)
	cfg := fastConfig()
	cfg.Enabled = false
	r.SetConfig(cfg)

	v := r.Route(context.Background(), Request{Task: "verdict", Text: "big news", PreScore: 0.9})
	assert.False(t, v.Present)
	assert.Equal(t, 0, provider.callCount())
}

func TestBudgetHardStopFailsClosed(t *testing.T) {
	provider := &scriptedProvider{cost: 0.6}
	budget := NewBudget(1.0, 100, 0.8) // two 0.6 calls exhaust the day
	r := newTestRouter(t, provider, budget)

	first := r.Route(context.Background(), Request{Task: "verdict", Text: "story one", PreScore: 0.5})
	require.True(t, first.Present)
	second := r.Route(context.Background(), Request{Task: "verdict", Text: "story two", PreScore: 0.5})
	require.True(t, second.Present)

	// Ceiling reached: the next request fails closed without a provider call.
	start := time.Now()
	third := r.Route(context.Background(), Request{Task: "verdict", Text: "story three", PreScore: 0.5})
	assert.False(t, third.Present)
	assert.Equal(t, 2, provider.callCount())
	assert.Less(t, time.Since(start), 5*time.Second, "budget stop must not block the cycle")
	assert.Equal(t, int64(1), r.Stats().BudgetDenied)
}

func TestBudgetDailyWindowRollsOver(t *testing.T) {
	b := NewBudget(1.0, 100, 0.8)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	now := base
	b.SetClock(func() time.Time { return now })

	b.Add(1.5)
	assert.False(t, b.Allow())

	now = base.Add(24 * time.Hour)
	assert.True(t, b.Allow(), "new day resets the daily window")

	day, month := b.Spend()
	assert.Equal(t, 0.0, day)
	assert.Equal(t, 1.5, month)
}

func TestProviderErrorYieldsAbsentVerdict(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("upstream 500")}
	r := newTestRouter(t, provider, nil)

	v := r.Route(context.Background(), Request{Task: "verdict", Text: "big news", PreScore: 0.5})
	assert.False(t, v.Present)
	assert.Equal(t, int64(1), r.Stats().Failures)
}

func TestTierShares(t *testing.T) {
	assert.Equal(t, TierCheap, tierFor(0.0))
	assert.Equal(t, TierCheap, tierFor(0.59))
	assert.Equal(t, TierMedium, tierFor(0.60))
	assert.Equal(t, TierExpensive, tierFor(0.95))
	assert.Equal(t, TierPremium, tierFor(0.99))
}

func TestPromptHashNormalization(t *testing.T) {
	a := PromptHash("ACME wins $5M contract", TierCheap)
	b := PromptHash("acme  wins  $7.5M   contract", TierCheap)
	assert.Equal(t, a, b)

	c := PromptHash("ACME wins $5M contract", TierMedium)
	assert.NotEqual(t, a, c, "tier is part of the cache key")

	d := PromptHash("ACME wins FDA approval.", TierCheap)
	e := PromptHash("ACME wins FDA approval!", TierCheap)
	assert.Equal(t, d, e, "punctuation must normalize away")
	assert.Equal(t, d, PromptHash("ACME wins FDA approval", TierCheap))
}

func TestRouteContextCancelled(t *testing.T) {
	provider := &scriptedProvider{}
	r := newTestRouter(t, provider, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v := r.Route(ctx, Request{Task: "verdict", Text: "big news", PreScore: 0.5})
	assert.False(t, v.Present)
}
