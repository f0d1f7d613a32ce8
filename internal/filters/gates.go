package filters

import (
	"fmt"
	"math"
	"strings"

	"github.com/catalystbot/catalystbot/internal/models"
	"github.com/catalystbot/catalystbot/internal/tickers"
)

// presentationNoise marks conference-circuit announcements with no material
// terms.
var presentationNoise = []string{
	"will present at", "to present at", "presenting at", "will participate in",
	"to participate in", "fireside chat", "investor conference",
	"non-deal roadshow", "to attend the", "poster presentation at",
}

// materialTerms rescue a presentation headline that carries real substance.
var materialTerms = []string{
	"results", "data", "approval", "contract", "agreement", "revenue",
	"guidance", "merger", "acquisition", "offering",
}

// commentaryMarkers flag opinion and recap pieces rather than catalysts.
var commentaryMarkers = []string{
	"why ", "what to know", "what you need to know", "stocks to watch",
	"top stocks", "stocks moving", "is it a buy", "should you buy",
	"opinion:", "analysis:", "recap:", "here's how", "heres how",
	"3 reasons", "5 things",
}

func gateSeen(_ *models.ClassifiedItem, env Env) (models.Reason, string) {
	if env.Seen {
		return models.ReasonSeen, "dedup hit"
	}
	return "", ""
}

func gateMultiTicker(ci *models.ClassifiedItem, env Env) (models.Reason, string) {
	max := env.Params.MaxTickers
	if max > 0 && len(ci.Item.Tickers) > max {
		return models.ReasonMultiTicker,
			fmt.Sprintf("%d tickers exceeds max %d", len(ci.Item.Tickers), max)
	}
	return "", ""
}

func gatePresentationNoise(ci *models.ClassifiedItem, _ Env) (models.Reason, string) {
	lower := strings.ToLower(ci.Item.Title)
	for _, marker := range presentationNoise {
		if !strings.Contains(lower, marker) {
			continue
		}
		for _, term := range materialTerms {
			if strings.Contains(lower, term) {
				return "", ""
			}
		}
		return models.ReasonPresentationNoise, marker
	}
	return "", ""
}

func gateCommentary(ci *models.ClassifiedItem, _ Env) (models.Reason, string) {
	lower := strings.ToLower(ci.Item.Title)
	for _, marker := range commentaryMarkers {
		if strings.Contains(lower, marker) {
			return models.ReasonCommentary, marker
		}
	}
	return "", ""
}

func gateSourceBlocklist(ci *models.ClassifiedItem, env Env) (models.Reason, string) {
	for _, blocked := range env.Params.SourceBlocklist {
		if strings.EqualFold(ci.Item.Source, blocked) {
			return models.ReasonSourceBlocklist, blocked
		}
	}
	return "", ""
}

func gateNoTicker(ci *models.ClassifiedItem, _ Env) (models.Reason, string) {
	if strings.TrimSpace(ci.Item.Ticker) == "" {
		return models.ReasonNoTicker, "unresolved ticker"
	}
	return "", ""
}

// gateTickerPolicy re-checks the resolver's listing policy; upstream
// enrichment can be skipped on degraded cycles.
func gateTickerPolicy(ci *models.ClassifiedItem, env Env) (models.Reason, string) {
	v := tickers.Validate(ci.Item.Ticker, env.Listed)
	if v.Valid {
		return "", ""
	}
	return v.Reason, v.Detail
}

// gatePricePresence rejects missing or non-finite prices when any price
// bound is configured. A missing price is a reject, not a pass.
func gatePricePresence(ci *models.ClassifiedItem, env Env) (models.Reason, string) {
	if env.Params.PriceCeiling <= 0 && env.Params.PriceFloor <= 0 {
		return "", ""
	}
	p := ci.Price
	if p == nil || p.Last == nil {
		return models.ReasonPriceInvalid, "no price snapshot"
	}
	if math.IsNaN(*p.Last) || math.IsInf(*p.Last, 0) {
		return models.ReasonPriceInvalid, "non-finite last price"
	}
	return "", ""
}

func gatePriceBounds(ci *models.ClassifiedItem, env Env) (models.Reason, string) {
	if ci.Price == nil || ci.Price.Last == nil {
		return "", ""
	}
	last := *ci.Price.Last

	if c := env.Params.PriceCeiling; c > 0 && last > c {
		return models.ReasonPriceCeiling, fmt.Sprintf("last %.2f above ceiling %.2f", last, c)
	}
	if f := env.Params.PriceFloor; f > 0 && last < f {
		if env.Params.FloorOverrideOn && ci.Score >= env.Params.FloorOverrideScore {
			return "", ""
		}
		return models.ReasonPriceFloor, fmt.Sprintf("last %.2f below floor %.2f", last, f)
	}
	return "", ""
}

func gateMinScore(ci *models.ClassifiedItem, env Env) (models.Reason, string) {
	if ci.BypassMinScore {
		return "", ""
	}
	if ci.Score < env.Params.MinScore {
		return models.ReasonMinScore, fmt.Sprintf("score %.2f below %.2f", ci.Score, env.Params.MinScore)
	}
	return "", ""
}

func gateMinSentAbs(ci *models.ClassifiedItem, env Env) (models.Reason, string) {
	if ci.BypassMinScore {
		// Strong-negative catalysts alert regardless of magnitude gates.
		return "", ""
	}
	if math.Abs(ci.Sentiment) < env.Params.MinSentAbs {
		return models.ReasonMinSentAbs,
			fmt.Sprintf("|sentiment| %.2f below %.2f", math.Abs(ci.Sentiment), env.Params.MinSentAbs)
	}
	return "", ""
}

func gateCategoryAllow(ci *models.ClassifiedItem, env Env) (models.Reason, string) {
	allow := env.Params.CategoryAllow
	if len(allow) == 0 {
		return "", ""
	}
	for _, cat := range allow {
		if ci.HasCategory(cat) {
			return "", ""
		}
	}
	return models.ReasonCategoryAllow, "no allowed category hit"
}
