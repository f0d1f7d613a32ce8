package filters

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/catalystbot/catalystbot/internal/models"
)

func passingParams() Params {
	return Params{
		MaxTickers:         3,
		PriceCeiling:       10.0,
		PriceFloor:         0.10,
		FloorOverrideScore: 0.60,
		MinScore:           0.25,
		MinSentAbs:         0.10,
	}
}

func passingItem() *models.ClassifiedItem {
	return &models.ClassifiedItem{
		Item: &models.NewsItem{
			Source:   "prwire",
			SourceID: "rel-1",
			Title:    "ACME Receives FDA Approval",
			Ticker:   "ACME",
			Tickers:  []string{"ACME"},
		},
		Score:      0.55,
		Sentiment:  0.45,
		Confidence: 0.6,
		Categories: []string{"regulatory"},
		Price:      &models.PriceSnapshot{Ticker: "ACME", Last: models.Float(4.20)},
	}
}

func eval(ci *models.ClassifiedItem, p Params) Result {
	return Standard().Evaluate(ci, Env{Params: p})
}

func TestChainPassesCleanItem(t *testing.T) {
	res := eval(passingItem(), passingParams())
	assert.True(t, res.Pass)
	assert.Empty(t, res.Reason)
}

func TestChainSeenRejectsFirst(t *testing.T) {
	ci := passingItem()
	ci.Item.Tickers = []string{"A", "B", "C", "D"} // would also fail multi-ticker
	res := Standard().Evaluate(ci, Env{Seen: true, Params: passingParams()})
	assert.Equal(t, models.ReasonSeen, res.Reason, "gate order is part of the contract")
}

func TestChainMultiTicker(t *testing.T) {
	ci := passingItem()
	ci.Item.Tickers = []string{"A", "B", "C", "D"}
	res := eval(ci, passingParams())
	assert.Equal(t, models.ReasonMultiTicker, res.Reason)
}

func TestChainPresentationNoise(t *testing.T) {
	ci := passingItem()
	ci.Item.Title = "ACME to Present at the 2026 Growth Investor Conference"
	res := eval(ci, passingParams())
	assert.Equal(t, models.ReasonPresentationNoise, res.Reason)

	// Material terms rescue a presentation headline.
	ci = passingItem()
	ci.Item.Title = "ACME to Present at Medical Conference with Phase 3 Results"
	res = eval(ci, passingParams())
	assert.True(t, res.Pass)
}

func TestChainCommentary(t *testing.T) {
	ci := passingItem()
	ci.Item.Title = "Why ACME Stock Is Up Today"
	res := eval(ci, passingParams())
	assert.Equal(t, models.ReasonCommentary, res.Reason)
}

func TestChainSourceBlocklist(t *testing.T) {
	ci := passingItem()
	p := passingParams()
	p.SourceBlocklist = []string{"prwire"}
	res := eval(ci, p)
	assert.Equal(t, models.ReasonSourceBlocklist, res.Reason)
}

func TestChainNoTicker(t *testing.T) {
	ci := passingItem()
	ci.Item.Ticker = ""
	res := eval(ci, passingParams())
	assert.Equal(t, models.ReasonNoTicker, res.Reason)
}

func TestChainTickerPolicyRecheck(t *testing.T) {
	ci := passingItem()
	ci.Item.Ticker = "ACME.PK"
	res := eval(ci, passingParams())
	assert.Equal(t, models.ReasonOTCTicker, res.Reason)

	ci = passingItem()
	ci.Item.Ticker = "ACME-WT"
	res = eval(ci, passingParams())
	assert.Equal(t, models.ReasonInstrumentLike, res.Reason)
}

func TestChainMissingPriceRejectsWhenBoundsConfigured(t *testing.T) {
	ci := passingItem()
	ci.Price = nil
	res := eval(ci, passingParams())
	assert.Equal(t, models.ReasonPriceInvalid, res.Reason,
		"missing price is a reject when a ceiling is configured, never a pass")
}

func TestChainNaNPriceRejects(t *testing.T) {
	ci := passingItem()
	ci.Price = &models.PriceSnapshot{Ticker: "ACME", Last: models.Float(math.NaN())}
	res := eval(ci, passingParams())
	assert.Equal(t, models.ReasonPriceInvalid, res.Reason)
}

func TestChainMissingPricePassesWithoutBounds(t *testing.T) {
	ci := passingItem()
	ci.Price = nil
	p := passingParams()
	p.PriceCeiling = 0
	p.PriceFloor = 0
	res := eval(ci, p)
	assert.True(t, res.Pass)
}

func TestChainPriceCeiling(t *testing.T) {
	ci := passingItem()
	ci.Price.Last = models.Float(25.0)
	res := eval(ci, passingParams())
	assert.Equal(t, models.ReasonPriceCeiling, res.Reason)
}

func TestChainPriceFloorAndOverride(t *testing.T) {
	ci := passingItem()
	ci.Price.Last = models.Float(0.05)
	res := eval(ci, passingParams())
	assert.Equal(t, models.ReasonPriceFloor, res.Reason)

	p := passingParams()
	p.FloorOverrideOn = true
	ci.Score = 0.75
	res = eval(ci, p)
	assert.True(t, res.Pass, "sub-floor override on high pre-score")

	ci.Score = 0.30
	res = eval(ci, p)
	assert.Equal(t, models.ReasonPriceFloor, res.Reason)
}

func TestChainMinScore(t *testing.T) {
	ci := passingItem()
	ci.Score = 0.10
	res := eval(ci, passingParams())
	assert.Equal(t, models.ReasonMinScore, res.Reason)
}

func TestChainNegativeBypassSkipsScoreGates(t *testing.T) {
	ci := passingItem()
	ci.Score = 0.05
	ci.Sentiment = -0.05
	ci.BypassMinScore = true
	res := eval(ci, passingParams())
	assert.True(t, res.Pass, "negative-catalyst bypass covers MIN_SCORE and MIN_SENT_ABS")
}

func TestChainMinSentAbs(t *testing.T) {
	ci := passingItem()
	ci.Sentiment = 0.02
	res := eval(ci, passingParams())
	assert.Equal(t, models.ReasonMinSentAbs, res.Reason)
}

func TestChainCategoryAllow(t *testing.T) {
	ci := passingItem()
	p := passingParams()
	p.CategoryAllow = []string{"ma", "earnings"}
	res := eval(ci, p)
	assert.Equal(t, models.ReasonCategoryAllow, res.Reason)

	p.CategoryAllow = []string{"regulatory"}
	res = eval(ci, p)
	assert.True(t, res.Pass)
}

func TestChainGatePanicIsFilterError(t *testing.T) {
	boom := Gate{Name: "boom", Check: func(_ *models.ClassifiedItem, _ Env) (models.Reason, string) {
		panic("unexpected")
	}}
	chain := NewChain(boom)
	res := chain.Evaluate(passingItem(), Env{Params: passingParams()})
	assert.False(t, res.Pass)
	assert.Equal(t, models.ReasonFilterError, res.Reason)
}

func TestChainStopsAtFirstRejection(t *testing.T) {
	var calls []string
	mk := func(name string, reason models.Reason) Gate {
		return Gate{Name: name, Check: func(_ *models.ClassifiedItem, _ Env) (models.Reason, string) {
			calls = append(calls, name)
			return reason, ""
		}}
	}
	chain := NewChain(mk("a", ""), mk("b", models.ReasonCommentary), mk("c", ""))
	res := chain.Evaluate(passingItem(), Env{})
	assert.Equal(t, models.ReasonCommentary, res.Reason)
	assert.Equal(t, []string{"a", "b"}, calls, "no gate runs after the first rejection")
}
