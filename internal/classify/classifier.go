package classify

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/catalystbot/catalystbot/internal/models"
)

// Source labels in the sentiment breakdown.
const (
	SourceLexicon  = "lexicon"
	SourceML       = "ml"
	SourceEarnings = "earnings"
	SourceLLM      = "llm"
)

// confidenceFloor is what an item with no sentiment sources carries.
const confidenceFloor = 0.3

// MLScorer is the optional model-backed sentiment source.
type MLScorer interface {
	Score(ctx context.Context, text string) (score, confidence float64, err error)
}

// Params are the tunables the classifier reads per item. The engine builds
// them from the live parameter snapshot so an in-flight cycle stays on the
// values it started with.
type Params struct {
	WeightLexicon  float64
	WeightML       float64
	WeightEarnings float64
	WeightLLM      float64

	StrongNegativeThreshold float64
	CriticalNegativeTags    []string

	SectorMultipliersEnabled bool
	SectorMultipliers        map[string]float64 // category -> coefficient
}

// Classifier combines the keyword scorer with the sentiment aggregator.
type Classifier struct {
	catalog *Catalog
	ml      MLScorer // nil disables the ML source
}

// New builds a classifier over the catalog; ml may be nil.
func New(catalog *Catalog, ml MLScorer) *Classifier {
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &Classifier{catalog: catalog, ml: ml}
}

// Classify scores one item. The LLM contribution is absent at this stage;
// ApplyVerdict folds it in after routing.
func (c *Classifier) Classify(ctx context.Context, item *models.NewsItem, p Params) *models.ClassifiedItem {
	text := item.Title + " " + item.Summary

	hits, categories := c.catalog.Hits(text)
	ci := &models.ClassifiedItem{
		Item:               item,
		KeywordsHit:        hits,
		Categories:         categories,
		SentimentBreakdown: make(map[string]float64),
	}

	var raw float64
	for _, w := range hits {
		raw += w
	}
	ci.Score = clamp01(raw)

	ci.SentimentBreakdown[SourceLexicon] = LexiconScore(text)

	if c.ml != nil {
		score, conf, err := c.ml.Score(ctx, text)
		if err != nil {
			log.Debug().Err(err).Str("item", item.String()).Msg("ml sentiment unavailable")
		} else {
			ci.SentimentBreakdown[SourceML] = clamp1(score)
			ci.Item.Annotate("ml_confidence", conf)
		}
	}

	if sig := ScoreEarnings(text); sig.Fired {
		ci.SentimentBreakdown[SourceEarnings] = sig.Score
		ci.Item.Annotate("earnings_label", sig.Label)
	}

	c.aggregate(ci, p)
	c.applyMultipliers(ci, p)
	return ci
}

// ApplyVerdict folds the LLM verdict into the sentiment aggregate. An
// absent verdict leaves the item unchanged.
func (c *Classifier) ApplyVerdict(ci *models.ClassifiedItem, v *models.Verdict, p Params) {
	ci.Verdict = v
	if v == nil || !v.Present {
		return
	}
	ci.SentimentBreakdown[SourceLLM] = v.SentimentValue()
	c.aggregate(ci, p)
}

// aggregate computes the weighted sentiment over present sources, the
// confidence, and the negative-catalyst bypass flag.
func (c *Classifier) aggregate(ci *models.ClassifiedItem, p Params) {
	weights := map[string]float64{
		SourceLexicon:  p.WeightLexicon,
		SourceML:       p.WeightML,
		SourceEarnings: p.WeightEarnings,
		SourceLLM:      p.WeightLLM,
	}

	var weighted, weightSum float64
	present := 0
	for label, value := range ci.SentimentBreakdown {
		w := weights[label]
		if w <= 0 {
			continue
		}
		weighted += w * value
		weightSum += w
		present++
	}

	if weightSum > 0 {
		ci.Sentiment = clamp1(weighted / weightSum)
	} else {
		ci.Sentiment = 0
	}

	ci.Confidence = confidence(present, ci)

	ci.BypassMinScore = ci.Sentiment <= p.StrongNegativeThreshold
	if !ci.BypassMinScore {
		for _, tag := range p.CriticalNegativeTags {
			if _, hit := ci.KeywordsHit[tag]; hit {
				ci.BypassMinScore = true
				break
			}
		}
	}
}

// confidence is monotone in the number of present sources: zero sources sit
// at the floor, three or more saturate the source term. A reported ML
// confidence scales the span above the floor.
func confidence(present int, ci *models.ClassifiedItem) float64 {
	frac := float64(present) / 3.0
	if frac > 1 {
		frac = 1
	}
	span := frac
	if raw, ok := ci.Item.Annotations["ml_confidence"]; ok {
		if mlConf, ok := raw.(float64); ok && mlConf > 0 && mlConf < 1 {
			span = frac * (0.5 + 0.5*mlConf)
		}
	}
	return confidenceFloor + (1-confidenceFloor)*span
}

func (c *Classifier) applyMultipliers(ci *models.ClassifiedItem, p Params) {
	if !p.SectorMultipliersEnabled || len(p.SectorMultipliers) == 0 {
		return
	}
	mult := 1.0
	for _, cat := range ci.Categories {
		if m, ok := p.SectorMultipliers[cat]; ok && m > mult {
			mult = m
		}
	}
	if mult != 1.0 {
		ci.Score = clamp01(ci.Score * mult)
	}
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
