package dedup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalystbot/catalystbot/internal/models"
	"github.com/catalystbot/catalystbot/internal/persistence/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(store.Dedup, DefaultConfig())
}

func item(source, id, url, title string) *models.NewsItem {
	return &models.NewsItem{
		Source:      source,
		SourceID:    id,
		URL:         url,
		Title:       title,
		PublishedAt: time.Now().UTC(),
	}
}

func TestCheckAndMarkFreshOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	it := item("prwire", "abc-1", "https://wire.example.com/releases/abc-1", "Acme Corp Wins Navy Contract")

	d1, err := s.CheckAndMark(ctx, it)
	require.NoError(t, err)
	assert.Equal(t, Fresh, d1)

	d2, err := s.CheckAndMark(ctx, it)
	require.NoError(t, err)
	assert.Equal(t, SeenByID, d2)
}

func TestCheckAndMarkConcurrentSingleFresh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	it := item("prwire", "race-1", "https://wire.example.com/releases/race-1", "Acme Corp Announces Merger")

	const workers = 16
	results := make([]Decision, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := s.CheckAndMark(ctx, it)
			assert.NoError(t, err)
			results[i] = d
		}(i)
	}
	wg.Wait()

	fresh := 0
	for _, d := range results {
		if d == Fresh {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh, "exactly one worker may observe Fresh")
}

func TestAccessionDedupAcrossSources(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	archive := item("filings", "0000320193-24-000123",
		"https://www.sec.gov/Archives/edgar/data/320193/000032019324000123/form8k.htm",
		"Form 8-K Apple Inc")
	browse := item("newsapi", "na-9921",
		"https://www.sec.gov/cgi-bin/browse-edgar?action=getcompany&accession_number=0000320193-24-000123",
		"Apple Inc files Form 8-K")

	d, err := s.CheckAndMark(ctx, archive)
	require.NoError(t, err)
	require.Equal(t, Fresh, d)
	require.NoError(t, s.Commit(ctx, archive))

	d, err = s.CheckAndMark(ctx, browse)
	require.NoError(t, err)
	assert.Equal(t, SeenBySig, d, "both URL forms must collapse to one accession key")
}

func TestFuzzyTitleCrossSourceMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := item("prwire", "pr-1", "https://wire-a.example.com/acme-fda",
		"Acme Therapeutics Receives FDA Approval for Lead Drug Candidate")
	second := item("newsapi", "na-2", "https://news-b.example.com/story/991",
		"Acme Therapeutics receives FDA approval for lead drug candidate!")

	d, err := s.CheckAndMark(ctx, first)
	require.NoError(t, err)
	require.Equal(t, Fresh, d)
	require.NoError(t, s.Commit(ctx, first))

	d, err = s.CheckAndMark(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, SeenBySig, d)
}

func TestDissimilarTitlesStayFresh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := item("prwire", "pr-1", "https://wire-a.example.com/one", "Acme Corp Prices Public Offering")
	second := item("newsapi", "na-2", "https://news-b.example.com/two", "Zenith Mining Reports Record Quarterly Gold Production")

	d, err := s.CheckAndMark(ctx, first)
	require.NoError(t, err)
	require.Equal(t, Fresh, d)
	require.NoError(t, s.Commit(ctx, first))

	d, err = s.CheckAndMark(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, Fresh, d)
}

func TestReleaseAllowsReconsideration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	it := item("prwire", "defer-1", "https://wire.example.com/defer-1", "Acme Corp Contract Win Deferred Alert")

	d, err := s.CheckAndMark(ctx, it)
	require.NoError(t, err)
	require.Equal(t, Fresh, d)

	// Deferred without delivery: reservation released, next cycle sees it fresh.
	s.Release(it)
	s.BeginCycle()

	d, err = s.CheckAndMark(ctx, it)
	require.NoError(t, err)
	assert.Equal(t, Fresh, d)
}

func TestTTLExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	it := item("prwire", "old-1", "https://wire.example.com/old-1", "Acme Corp Ancient News")

	base := time.Now()
	s.SetClock(func() time.Time { return base })
	d, err := s.CheckAndMark(ctx, it)
	require.NoError(t, err)
	require.Equal(t, Fresh, d)
	require.NoError(t, s.Commit(ctx, it))

	// Past the seen TTL the same identity is fresh again.
	s.SetClock(func() time.Time { return base.Add(8 * 24 * time.Hour) })
	s.BeginCycle()
	d, err = s.CheckAndMark(ctx, it)
	require.NoError(t, err)
	assert.Equal(t, Fresh, d)
}

func TestNormalization(t *testing.T) {
	assert.Equal(t, "acme corp wins contract",
		NormalizeTitle("  Acme​ Corp   WINS Contract "))

	assert.Equal(t,
		"https://news.example.com/story/1?id=5",
		CanonicalURL("HTTPS://News.Example.com/story/1/?id=5&utm_source=x&fbclid=abc#frag"))

	assert.Equal(t, "0000320193-24-000123",
		ExtractAccession("https://www.sec.gov/Archives/edgar/data/320193/000032019324000123/doc.htm"))
	assert.Equal(t, "0000320193-24-000123",
		ExtractAccession("accession_number=0000320193-24-000123"))
	assert.Equal(t, "", ExtractAccession("https://example.com/no-accession-here"))
}

func TestTokenSetSimilarity(t *testing.T) {
	a := NormalizeTitle("Acme Therapeutics Receives FDA Approval for Lead Drug")
	b := NormalizeTitle("Acme Therapeutics receives FDA approval for lead drug!")
	assert.GreaterOrEqual(t, TokenSetSimilarity(a, b), 0.8)

	c := NormalizeTitle("Completely unrelated headline about mining output")
	assert.Less(t, TokenSetSimilarity(a, c), 0.3)
}
