package classify

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalystbot/catalystbot/internal/models"
)

func testParams() Params {
	return Params{
		WeightLexicon:           0.25,
		WeightML:                0.25,
		WeightEarnings:          0.35,
		WeightLLM:               0.15,
		StrongNegativeThreshold: -0.30,
		CriticalNegativeTags: []string{
			"offering", "dilution", "bankruptcy", "delisting",
			"going_concern", "reverse_split",
		},
	}
}

type fixedML struct {
	score float64
	conf  float64
	err   error
}

func (f *fixedML) Score(_ context.Context, _ string) (float64, float64, error) {
	return f.score, f.conf, f.err
}

func item(title string) *models.NewsItem {
	return &models.NewsItem{Source: "prwire", SourceID: "x1", Title: title}
}

func TestCatalogHitsAndCategories(t *testing.T) {
	cat := NewCatalog()
	hits, categories := cat.Hits("ACME Receives FDA Approval For Lead Device")
	assert.Contains(t, hits, "fda_approval")
	assert.Contains(t, categories, "regulatory")

	hits, _ = cat.Hits("Quiet tuesday for the markets")
	assert.Empty(t, hits)
}

func TestCatalogOverlayMergePolicy(t *testing.T) {
	cat := NewCatalog()
	cat.Merge(map[string]float64{
		"fda_approval": 0.9,  // override
		"crypto_pivot": 0.33, // union
	})

	hits, _ := cat.Hits("FDA approval granted")
	assert.Equal(t, 0.9, hits["fda_approval"])

	hits, _ = cat.Hits("Company announces crypto pivot")
	assert.Equal(t, 0.33, hits["crypto_pivot"])

	// Re-merge resets to builtin plus the new overlay.
	cat.Merge(nil)
	hits, _ = cat.Hits("FDA approval granted")
	assert.Equal(t, 0.55, hits["fda_approval"])
}

func TestLexiconDirectionAndNegation(t *testing.T) {
	assert.Greater(t, LexiconScore("Shares surge on record revenue"), 0.0)
	assert.Less(t, LexiconScore("Stock plunges after FDA warning"), 0.0)
	assert.Less(t, LexiconScore("Trial not successful"), 0.0)
	assert.Equal(t, 0.0, LexiconScore("Company schedules annual meeting"))
}

func TestEarningsHeuristic(t *testing.T) {
	sig := ScoreEarnings("Q3 earnings: ACME beats estimates, raises guidance")
	require.True(t, sig.Fired)
	assert.Equal(t, "beat", sig.Label)
	assert.Greater(t, sig.Score, 0.0)

	sig = ScoreEarnings("Q3 earnings: ACME misses estimates, lowers guidance")
	require.True(t, sig.Fired)
	assert.Equal(t, "miss", sig.Label)
	assert.Less(t, sig.Score, 0.0)

	sig = ScoreEarnings("ACME announces new distribution deal")
	assert.False(t, sig.Fired)
}

func TestClassifyBreakdownOmitsAbsentSources(t *testing.T) {
	c := New(NewCatalog(), nil)
	ci := c.Classify(context.Background(), item("ACME wins contract award from agency"), testParams())

	_, hasML := ci.SentimentBreakdown[SourceML]
	assert.False(t, hasML, "ml absent, not zero")
	_, hasEarnings := ci.SentimentBreakdown[SourceEarnings]
	assert.False(t, hasEarnings)
	_, hasLexicon := ci.SentimentBreakdown[SourceLexicon]
	assert.True(t, hasLexicon)
}

func TestClassifyMLErrorDegrades(t *testing.T) {
	c := New(NewCatalog(), &fixedML{err: errors.New("model down")})
	ci := c.Classify(context.Background(), item("ACME wins contract award"), testParams())
	_, hasML := ci.SentimentBreakdown[SourceML]
	assert.False(t, hasML)
	assert.False(t, math.IsNaN(ci.Sentiment))
}

func TestClassifyNeverNaN(t *testing.T) {
	c := New(NewCatalog(), nil)
	ci := c.Classify(context.Background(), item(""), Params{})
	assert.False(t, math.IsNaN(ci.Score))
	assert.False(t, math.IsNaN(ci.Sentiment))
	assert.GreaterOrEqual(t, ci.Confidence, confidenceFloor)
}

func TestConfidenceMonotoneInSources(t *testing.T) {
	c1 := New(NewCatalog(), nil)
	one := c1.Classify(context.Background(), item("ACME wins contract award"), testParams())

	c2 := New(NewCatalog(), &fixedML{score: 0.5, conf: 1.0})
	two := c2.Classify(context.Background(), item("ACME wins contract award"), testParams())

	three := c2.Classify(context.Background(),
		item("Q3 earnings: ACME beats estimates and wins contract award"), testParams())

	assert.GreaterOrEqual(t, two.Confidence, one.Confidence)
	assert.GreaterOrEqual(t, three.Confidence, two.Confidence)
}

func TestNegativeCatalystBypassOnKeyword(t *testing.T) {
	c := New(NewCatalog(), nil)
	ci := c.Classify(context.Background(),
		item("ACME Announces Pricing of $10M Registered Direct Offering"), testParams())

	assert.Contains(t, ci.KeywordsHit, "offering")
	assert.True(t, ci.BypassMinScore, "critical-negative keyword sets the bypass")
	assert.Less(t, ci.Sentiment, 0.0)
}

func TestNegativeCatalystBypassOnThreshold(t *testing.T) {
	c := New(NewCatalog(), nil)
	ci := c.Classify(context.Background(),
		item("ACME stock crashes after fraud investigation and lawsuit"), testParams())

	assert.LessOrEqual(t, ci.Sentiment, -0.30)
	assert.True(t, ci.BypassMinScore)
}

func TestApplyVerdictShiftsSentiment(t *testing.T) {
	c := New(NewCatalog(), nil)
	p := testParams()
	ci := c.Classify(context.Background(), item("ACME gains new distribution deal"), p)
	before := ci.Sentiment

	c.ApplyVerdict(ci, &models.Verdict{Present: true, Label: "bullish"}, p)
	assert.Greater(t, ci.Sentiment, before)
	assert.Contains(t, ci.SentimentBreakdown, SourceLLM)

	// Absent verdict leaves the aggregate untouched.
	ci2 := c.Classify(context.Background(), item("ACME gains new distribution deal"), p)
	before2 := ci2.Sentiment
	c.ApplyVerdict(ci2, &models.Verdict{Present: false}, p)
	assert.Equal(t, before2, ci2.Sentiment)
}

func TestSectorMultiplierBehindFlag(t *testing.T) {
	c := New(NewCatalog(), nil)
	p := testParams()
	p.SectorMultipliers = map[string]float64{"regulatory": 1.5}

	off := c.Classify(context.Background(), item("FDA approval granted to ACME"), p)

	p.SectorMultipliersEnabled = true
	on := c.Classify(context.Background(), item("FDA approval granted to ACME"), p)

	assert.Greater(t, on.Score, off.Score)
	assert.LessOrEqual(t, on.Score, 1.0)
}

func TestLoadWeightsFile(t *testing.T) {
	path := t.TempDir() + "/weights.yaml"
	require.NoError(t, os.WriteFile(path, []byte("fda_approval: 0.8\nspace_launch: 0.4\n"), 0o644))

	overlay, err := LoadWeights(path)
	require.NoError(t, err)
	assert.Equal(t, 0.8, overlay["fda_approval"])
	assert.Equal(t, 0.4, overlay["space_launch"])
}
