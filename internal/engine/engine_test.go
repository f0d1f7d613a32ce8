package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalystbot/catalystbot/internal/alerts"
	"github.com/catalystbot/catalystbot/internal/classify"
	"github.com/catalystbot/catalystbot/internal/config"
	"github.com/catalystbot/catalystbot/internal/dedup"
	"github.com/catalystbot/catalystbot/internal/feeds"
	"github.com/catalystbot/catalystbot/internal/llm"
	"github.com/catalystbot/catalystbot/internal/models"
	"github.com/catalystbot/catalystbot/internal/persistence"
	"github.com/catalystbot/catalystbot/internal/persistence/sqlite"
)

type fakeIngestor struct {
	name  string
	items []*models.NewsItem
	err   error
}

func (f *fakeIngestor) Name() string { return f.name }

func (f *fakeIngestor) Fetch(_ context.Context, _ time.Time) ([]*models.NewsItem, error) {
	return f.items, f.err
}

type fakeResolver struct{}

func (fakeResolver) Refresh(context.Context) error { return nil }

func (fakeResolver) Resolve(item *models.NewsItem, _ int) {
	if item.Ticker == "" && len(item.Tickers) > 0 {
		item.Ticker = item.Tickers[0]
	}
}

func (fakeResolver) IsListed(string) bool { return true }

type fakePrices struct {
	quotes map[string]*models.PriceSnapshot
	calls  [][]string
}

func (f *fakePrices) Batch(_ context.Context, tickers []string) map[string]*models.PriceSnapshot {
	f.calls = append(f.calls, tickers)
	out := make(map[string]*models.PriceSnapshot)
	for _, t := range tickers {
		if q, ok := f.quotes[t]; ok {
			out[t] = q
		}
	}
	return out
}

type fakeRouter struct {
	mu      sync.Mutex
	calls   int
	verdict *models.Verdict
}

func (f *fakeRouter) SetConfig(llm.Config) {}

func (f *fakeRouter) Route(_ context.Context, _ llm.Request) *models.Verdict {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.verdict != nil {
		return f.verdict
	}
	return &models.Verdict{}
}

func (f *fakeRouter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeBuilder struct{}

func (fakeBuilder) Build(_ context.Context, ci *models.ClassifiedItem) *alerts.Message {
	return &alerts.Message{Channel: "alerts", IdempotencyKey: ci.Item.SourceID}
}

type fakeSender struct {
	sent     []*alerts.Message
	cycleCap int // 0 means unlimited
	inCycle  int
	fail     error // returned for every send when set
}

func (f *fakeSender) BeginCycle(int) { f.inCycle = 0 }

func (f *fakeSender) SetMinInterval(time.Duration) {}

func (f *fakeSender) Send(_ context.Context, m *alerts.Message) error {
	if f.fail != nil {
		return f.fail
	}
	if f.cycleCap > 0 && f.inCycle >= f.cycleCap {
		return alerts.ErrCycleCapReached
	}
	f.inCycle++
	f.sent = append(f.sent, m)
	return nil
}

type fixture struct {
	eng    *Engine
	store  *persistence.Store
	cfg    *config.Store
	prices *fakePrices
	router *fakeRouter
	sender *fakeSender
	feed   *fakeIngestor
}

func newFixture(t *testing.T, overrides map[string]any) *fixture {
	t.Helper()
	store, db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		store:  store,
		cfg:    config.NewStore(config.DefaultSchema(), overrides, store.Audit, store.Backups),
		prices: &fakePrices{quotes: map[string]*models.PriceSnapshot{}},
		router: &fakeRouter{},
		sender: &fakeSender{},
		feed:   &fakeIngestor{name: "prwire"},
	}
	f.eng = New(Options{
		Config:     f.cfg,
		Dedup:      dedup.New(store.Dedup, dedup.DefaultConfig()),
		Ingestors:  []feeds.Ingestor{f.feed},
		Resolver:   fakeResolver{},
		Prices:     f.prices,
		Classifier: classify.New(nil, nil),
		Router:     f.router,
		Builder:    fakeBuilder{},
		Sender:     f.sender,
		Outcomes:   store.Outcomes,
	})
	return f
}

func newsItem(source, id, ticker, title, url string) *models.NewsItem {
	return &models.NewsItem{
		Source:      source,
		SourceID:    id,
		Ticker:      ticker,
		Title:       title,
		URL:         url,
		PublishedAt: time.Now().UTC().Add(-5 * time.Minute),
	}
}

func quote(last float64) *models.PriceSnapshot {
	return &models.PriceSnapshot{Last: models.Float(last), AsOf: time.Now().UTC()}
}

func TestCycleCollapsesFilingURLVariants(t *testing.T) {
	f := newFixture(t, map[string]any{config.KeyMinSentAbs: 0.0})

	f.feed.items = []*models.NewsItem{
		newsItem("filings", "0000320193-26-000045", "ACME",
			"8-K: Acme Receives FDA Approval for Lead Drug",
			"https://www.sec.gov/Archives/edgar/data/320193/000032019326000045/acme-8k.htm"),
		newsItem("newsapi", "na-77", "ACME",
			"Acme receives FDA approval for lead drug",
			"https://www.sec.gov/cgi-bin/browse-edgar?accession_number=0000320193-26-000045"),
	}
	f.prices.quotes["ACME"] = quote(4.00)

	stats := f.eng.Cycle(context.Background(), f.cfg.Get())

	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 1, stats.Alerted, "two URL forms of one filing produce one alert")
	assert.Equal(t, 1, stats.ByReason[models.ReasonSeen])
	require.Len(t, f.sender.sent, 1)

	counts, err := f.store.Outcomes.CountByDecision(context.Background(), persistence.TimeRange{
		From: time.Now().UTC().Add(-time.Hour),
		To:   time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[string(models.DecisionDispatched)])
	assert.Equal(t, int64(1), counts[string(models.DecisionRejected)])
}

func TestCycleMissingQuoteRejects(t *testing.T) {
	f := newFixture(t, map[string]any{config.KeyMinSentAbs: 0.0})

	f.feed.items = []*models.NewsItem{
		newsItem("prwire", "p1", "NOPX",
			"Nopx Receives FDA Approval for Lead Candidate", "https://example.com/nopx"),
		newsItem("prwire", "p2", "CTRL",
			"Ctrl Receives FDA Approval for Lead Candidate", "https://example.com/ctrl"),
	}
	// Only CTRL has a resolvable quote, just under the $10 ceiling.
	f.prices.quotes["CTRL"] = quote(9.87)

	stats := f.eng.Cycle(context.Background(), f.cfg.Get())

	assert.Equal(t, 1, stats.Alerted)
	assert.Equal(t, 1, stats.ByReason[models.ReasonPriceInvalid], "unknown price is a reject, not a pass")
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "p2", f.sender.sent[0].IdempotencyKey)
}

func TestCycleNegativeCatalystBypassesScoreGates(t *testing.T) {
	// min_score far above what an offering headline scores; the alert still
	// goes out because dilution catalysts bypass magnitude gates.
	f := newFixture(t, map[string]any{config.KeyMinScore: 0.9})

	f.feed.items = []*models.NewsItem{
		newsItem("prwire", "p1", "DILU",
			"Dilu Pharma Announces Pricing of $10M Registered Direct Offering",
			"https://example.com/dilu"),
	}
	f.prices.quotes["DILU"] = quote(2.50)

	stats := f.eng.Cycle(context.Background(), f.cfg.Get())

	assert.Equal(t, 1, stats.Alerted)
	assert.Zero(t, stats.ByReason[models.ReasonMinScore])
	require.Len(t, f.sender.sent, 1)
}

func TestCycleStructuralRejectSkipsEnrichment(t *testing.T) {
	f := newFixture(t, map[string]any{
		config.KeyMinSentAbs:      0.0,
		config.KeySourceBlocklist: []string{"spamwire"},
	})

	blocked := newsItem("spamwire", "s1", "SPAM",
		"Spam Corp Receives FDA Approval", "https://example.com/spam")
	good := newsItem("prwire", "p1", "GOOD",
		"Good Corp Receives FDA Approval for Lead Drug", "https://example.com/good")
	f.feed.items = []*models.NewsItem{blocked, good}
	f.prices.quotes["GOOD"] = quote(4.00)

	stats := f.eng.Cycle(context.Background(), f.cfg.Get())

	assert.Equal(t, 1, stats.Alerted)
	assert.Equal(t, 1, stats.ByReason[models.ReasonSourceBlocklist])
	require.Len(t, f.prices.calls, 1)
	assert.Equal(t, []string{"GOOD"}, f.prices.calls[0], "blocked items never reach the quote batch")
	assert.Equal(t, 1, f.router.callCount(), "blocked items never reach the router")
}

// barrierRouter blocks each Route call until the expected number of callers
// are inside at once, recording the peak concurrency it observed.
type barrierRouter struct {
	mu       sync.Mutex
	inflight int
	maxSeen  int
	expected int
	arrived  chan struct{}
}

func newBarrierRouter(expected int) *barrierRouter {
	return &barrierRouter{expected: expected, arrived: make(chan struct{})}
}

func (b *barrierRouter) SetConfig(llm.Config) {}

func (b *barrierRouter) Route(_ context.Context, _ llm.Request) *models.Verdict {
	b.mu.Lock()
	b.inflight++
	if b.inflight > b.maxSeen {
		b.maxSeen = b.inflight
	}
	full := b.inflight == b.expected
	b.mu.Unlock()
	if full {
		close(b.arrived)
	}
	select {
	case <-b.arrived:
	case <-time.After(2 * time.Second):
	}
	b.mu.Lock()
	b.inflight--
	b.mu.Unlock()
	return &models.Verdict{}
}

func TestCycleEnrichmentFansOut(t *testing.T) {
	f := newFixture(t, map[string]any{config.KeyMinSentAbs: 0.0})
	barrier := newBarrierRouter(3)
	f.eng.router = barrier

	f.feed.items = []*models.NewsItem{
		newsItem("prwire", "p1", "AAAA",
			"Aaaa Therapeutics Receives FDA Approval for Lead Drug", "https://example.com/a"),
		newsItem("prwire", "p2", "BBBB",
			"Bbbb Biosciences Receives FDA Approval for Lead Drug", "https://example.com/b"),
		newsItem("prwire", "p3", "CCCC",
			"Cccc Pharma Receives FDA Approval for Lead Drug", "https://example.com/c"),
	}
	f.prices.quotes["AAAA"] = quote(4.00)
	f.prices.quotes["BBBB"] = quote(5.00)
	f.prices.quotes["CCCC"] = quote(6.00)

	stats := f.eng.Cycle(context.Background(), f.cfg.Get())

	assert.Equal(t, 3, stats.Alerted)
	assert.Equal(t, 3, barrier.maxSeen,
		"verdict routing must overlap so request batching can engage")
}

func TestCadenceWaitSubtractsElapsed(t *testing.T) {
	assert.Equal(t, 40*time.Second, cadenceWait(60*time.Second, 20*time.Second))
	assert.Equal(t, time.Duration(0), cadenceWait(60*time.Second, 60*time.Second))
	assert.Equal(t, time.Duration(0), cadenceWait(60*time.Second, 90*time.Second))
}

func TestCycleCapDefersAndRetriesNextCycle(t *testing.T) {
	f := newFixture(t, map[string]any{config.KeyMinSentAbs: 0.0})
	f.sender.cycleCap = 1

	f.feed.items = []*models.NewsItem{
		newsItem("prwire", "p1", "AAAA",
			"Aaaa Therapeutics Receives FDA Approval for Lead Drug", "https://example.com/a"),
		newsItem("prwire", "p2", "BBBB",
			"Bbbb Industries Announces Defense Contract Valued at $40M", "https://example.com/b"),
	}
	f.prices.quotes["AAAA"] = quote(4.00)
	f.prices.quotes["BBBB"] = quote(5.00)

	first := f.eng.Cycle(context.Background(), f.cfg.Get())
	assert.Equal(t, 1, first.Alerted)
	assert.Equal(t, 1, first.Deferred)
	assert.Equal(t, 1, first.ByReason[models.ReasonDeferredCycleCap])

	second := f.eng.Cycle(context.Background(), f.cfg.Get())
	assert.Equal(t, 1, second.Alerted, "deferred item is dispatched next cycle")
	assert.Equal(t, 1, second.ByReason[models.ReasonSeen], "already-delivered item stays suppressed")
	require.Len(t, f.sender.sent, 2)
	assert.Equal(t, "p1", f.sender.sent[0].IdempotencyKey)
	assert.Equal(t, "p2", f.sender.sent[1].IdempotencyKey)
}

func TestCyclePermanentDeliveryFailureDrops(t *testing.T) {
	f := newFixture(t, map[string]any{config.KeyMinSentAbs: 0.0})
	f.sender.fail = &alerts.PermanentError{Status: 400, Body: "invalid payload"}

	f.feed.items = []*models.NewsItem{
		newsItem("prwire", "p1", "PERM",
			"Perm Corp Receives FDA Approval for Lead Drug", "https://example.com/perm"),
	}
	f.prices.quotes["PERM"] = quote(4.00)

	stats := f.eng.Cycle(context.Background(), f.cfg.Get())
	assert.Zero(t, stats.Alerted)
	assert.Equal(t, 1, stats.ByReason[models.ReasonDeliveryFailed])

	// Dropped for good: the next cycle sees it as a duplicate.
	f.sender.fail = nil
	second := f.eng.Cycle(context.Background(), f.cfg.Get())
	assert.Zero(t, second.Alerted)
	assert.Equal(t, 1, second.ByReason[models.ReasonSeen])
}

func TestCycleStaleItemsRejected(t *testing.T) {
	f := newFixture(t, map[string]any{config.KeyMinSentAbs: 0.0})

	old := newsItem("prwire", "p1", "OLDN",
		"Oldn Corp Receives FDA Approval for Lead Drug", "https://example.com/old")
	old.PublishedAt = time.Now().UTC().Add(-6 * time.Hour)
	f.feed.items = []*models.NewsItem{old}

	stats := f.eng.Cycle(context.Background(), f.cfg.Get())
	assert.Zero(t, stats.Alerted)
	assert.Equal(t, 1, stats.ByReason[models.ReasonStale])
	assert.Empty(t, f.prices.calls)
}

func TestPhaseBoundaries(t *testing.T) {
	clk := NewMarketClock()
	at := func(y int, mo time.Month, d, h, mi int) time.Time {
		return time.Date(y, mo, d, h, mi, 0, 0, clk.loc)
	}

	// Tuesday 2026-08-25, exchange time.
	assert.Equal(t, PhaseClosed, clk.PhaseAt(at(2026, time.August, 25, 3, 59)))
	assert.Equal(t, PhasePremarket, clk.PhaseAt(at(2026, time.August, 25, 4, 0)))
	assert.Equal(t, PhasePremarket, clk.PhaseAt(at(2026, time.August, 25, 9, 29)))
	assert.Equal(t, PhaseRegular, clk.PhaseAt(at(2026, time.August, 25, 9, 30)))
	assert.Equal(t, PhaseRegular, clk.PhaseAt(at(2026, time.August, 25, 15, 59)))
	assert.Equal(t, PhaseAfterHours, clk.PhaseAt(at(2026, time.August, 25, 16, 0)))
	assert.Equal(t, PhaseAfterHours, clk.PhaseAt(at(2026, time.August, 25, 19, 59)))
	assert.Equal(t, PhaseClosed, clk.PhaseAt(at(2026, time.August, 25, 20, 0)))

	// Weekend and exchange holiday are closed all day.
	assert.Equal(t, PhaseClosed, clk.PhaseAt(at(2026, time.August, 22, 12, 0)))
	assert.Equal(t, PhaseClosed, clk.PhaseAt(at(2026, time.July, 3, 12, 0)))
}

func TestCadencePerPhase(t *testing.T) {
	f := newFixture(t, nil)
	snap := f.cfg.Get()

	assert.Equal(t, 90*time.Second, CadenceFor(PhasePremarket, snap))
	assert.Equal(t, 60*time.Second, CadenceFor(PhaseRegular, snap))
	assert.Equal(t, 120*time.Second, CadenceFor(PhaseAfterHours, snap))
	assert.Equal(t, 300*time.Second, CadenceFor(PhaseClosed, snap))
}

func TestComplexityHintScaling(t *testing.T) {
	short := complexityHint("FDA approval granted", 0.3, 1)
	long := complexityHint(string(make([]byte, 700)), 0.7, 3)
	assert.Less(t, short, long)
	assert.LessOrEqual(t, long, 1.0)
	assert.GreaterOrEqual(t, short, 0.3)
}
