package prices

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalystbot/catalystbot/internal/models"
)

type fakeProvider struct {
	mu         sync.Mutex
	name       string
	quotes     map[string]*models.PriceSnapshot
	err        error
	batchCalls int
	quoteCalls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) BatchQuote(_ context.Context, tickers []string) (map[string]*models.PriceSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]*models.PriceSnapshot)
	for _, t := range tickers {
		if snap, ok := f.quotes[strings.ToUpper(t)]; ok {
			cp := *snap
			out[strings.ToUpper(t)] = &cp
		}
	}
	return out, nil
}

func (f *fakeProvider) Quote(_ context.Context, ticker string) (*models.PriceSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls++
	if f.err != nil {
		return nil, f.err
	}
	snap, ok := f.quotes[strings.ToUpper(ticker)]
	if !ok {
		return nil, errors.New("no quote")
	}
	cp := *snap
	return &cp, nil
}

func snapAt(ticker string, last float64) *models.PriceSnapshot {
	return &models.PriceSnapshot{
		Ticker: ticker,
		Last:   models.Float(last),
		AsOf:   time.Now().UTC(),
	}
}

func TestBatchPrimaryServesAll(t *testing.T) {
	primary := &fakeProvider{name: "primary", quotes: map[string]*models.PriceSnapshot{
		"ACME": snapAt("ACME", 4.20),
		"ZENN": snapAt("ZENN", 9.10),
	}}
	svc := NewService([]QuoteProvider{primary}, NewMemoryCache(), nil, time.Minute)

	out := svc.Batch(context.Background(), []string{"ACME", "ZENN"})
	require.Len(t, out, 2)
	assert.Equal(t, 4.20, *out["ACME"].Last)
	assert.Equal(t, 1, primary.batchCalls)
}

func TestBatchFallsBackPerTicker(t *testing.T) {
	primary := &fakeProvider{name: "primary", quotes: map[string]*models.PriceSnapshot{
		"ACME": snapAt("ACME", 4.20),
	}}
	fallback := &fakeProvider{name: "fallback", quotes: map[string]*models.PriceSnapshot{
		"ZENN": snapAt("ZENN", 9.10),
	}}
	svc := NewService([]QuoteProvider{primary, fallback}, NewMemoryCache(), nil, time.Minute)

	out := svc.Batch(context.Background(), []string{"ACME", "ZENN"})
	require.Len(t, out, 2)
	assert.Equal(t, 9.10, *out["ZENN"].Last)
	assert.Equal(t, 1, fallback.quoteCalls)
}

func TestBatchPrimaryDownUsesChain(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("timeout")}
	secondary := &fakeProvider{name: "secondary", quotes: map[string]*models.PriceSnapshot{
		"ACME": snapAt("ACME", 4.20),
	}}
	svc := NewService([]QuoteProvider{primary, secondary}, NewMemoryCache(), nil, time.Minute)

	out := svc.Batch(context.Background(), []string{"ACME", "MISS"})
	require.Len(t, out, 1)
	assert.Equal(t, "ACME", out["ACME"].Ticker)
}

func TestBatchUnresolvedTickerAbsent(t *testing.T) {
	primary := &fakeProvider{name: "primary", quotes: map[string]*models.PriceSnapshot{}}
	svc := NewService([]QuoteProvider{primary}, NewMemoryCache(), nil, time.Minute)

	out := svc.Batch(context.Background(), []string{"GHOST"})
	_, present := out["GHOST"]
	assert.False(t, present, "unanswerable ticker must be absent, not zero-valued")
}

func TestScrubReplacesNaNWithNil(t *testing.T) {
	primary := &fakeProvider{name: "primary", quotes: map[string]*models.PriceSnapshot{
		"NANCO": {
			Ticker:    "NANCO",
			Last:      models.Float(math.NaN()),
			ChangePct: models.Float(math.Inf(1)),
			AsOf:      time.Now().UTC(),
		},
	}}
	svc := NewService([]QuoteProvider{primary}, NewMemoryCache(), nil, time.Minute)

	snap := svc.Single(context.Background(), "NANCO")
	require.NotNil(t, snap)
	assert.Nil(t, snap.Last)
	assert.Nil(t, snap.ChangePct)
	assert.False(t, snap.HasLast())
}

func TestCacheHitSkipsProviders(t *testing.T) {
	primary := &fakeProvider{name: "primary", quotes: map[string]*models.PriceSnapshot{
		"ACME": snapAt("ACME", 4.20),
	}}
	svc := NewService([]QuoteProvider{primary}, NewMemoryCache(), nil, time.Minute)

	_ = svc.Batch(context.Background(), []string{"ACME"})
	_ = svc.Batch(context.Background(), []string{"ACME"})
	assert.Equal(t, 1, primary.batchCalls, "second lookup must come from the cache")
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	broken := &fakeProvider{name: "down", err: errors.New("refused")}
	wrapped := WithBreaker(broken)

	for i := 0; i < 6; i++ {
		_, err := wrapped.Quote(context.Background(), "ACME")
		require.Error(t, err)
	}
	// The breaker is open: calls fail fast without reaching the provider.
	before := broken.quoteCalls
	_, err := wrapped.Quote(context.Background(), "ACME")
	require.Error(t, err)
	assert.Equal(t, before, broken.quoteCalls)
}

func TestMemoryCacheExpires(t *testing.T) {
	c := NewMemoryCache()
	c.Set("ACME", snapAt("ACME", 4.20), -time.Second)
	_, ok := c.Get("ACME")
	assert.False(t, ok)
}

func TestChangePctDerivedFromPrevClose(t *testing.T) {
	p := NewHTTPQuoteProvider("test", "http://example.invalid", 5)
	snap := p.toSnapshot("ACME", quoteRow{
		Symbol:    "ACME",
		Last:      models.Float(11),
		PrevClose: models.Float(10),
	}, time.Now())
	require.NotNil(t, snap.ChangePct)
	assert.InDelta(t, 10.0, *snap.ChangePct, 1e-9)
}
