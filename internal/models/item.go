package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// NewsItem is the normalized unit flowing through the pipeline. Identity is
// (Source, SourceID) where SourceID is canonical: the accession number for
// filings, a normalized url+title hash otherwise.
type NewsItem struct {
	Source      string    `json:"source" db:"source"`
	SourceID    string    `json:"source_id" db:"source_id"`
	PublishedAt time.Time `json:"published_at" db:"published_at"` // always UTC
	URL         string    `json:"url" db:"url"`
	Title       string    `json:"title" db:"title"`
	Summary     string    `json:"summary,omitempty" db:"summary"`

	// Ticker is the resolved primary ticker; Tickers holds every distinct
	// match (used by the multi-ticker gate).
	Ticker  string   `json:"ticker,omitempty" db:"ticker"`
	Tickers []string `json:"tickers,omitempty"`

	// Accession is set for regulatory filings and drives content dedup.
	Accession string `json:"accession,omitempty" db:"accession"`

	// Raw provenance from the adapter (headers, feed entry id, etc).
	Raw map[string]string `json:"raw,omitempty"`

	// Annotations collects enrichment outputs keyed by stage name.
	Annotations map[string]any `json:"annotations,omitempty"`
}

// Key returns the stable identity hash for the item.
func (n *NewsItem) Key() string {
	return HashKey(n.Source + "|" + n.SourceID)
}

// Annotate records an enrichment output, allocating the map on first use.
func (n *NewsItem) Annotate(key string, val any) {
	if n.Annotations == nil {
		n.Annotations = make(map[string]any)
	}
	n.Annotations[key] = val
}

// HashKey produces the hex sha256 used for all dedup keys.
func HashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ClassifiedItem is a NewsItem plus its scoring envelope. Score and
// Sentiment are never NaN; missing sources are omitted from the breakdown.
type ClassifiedItem struct {
	Item *NewsItem `json:"item"`

	Score      float64 `json:"score"`      // [0,1]
	Sentiment  float64 `json:"sentiment"`  // [-1,1]
	Confidence float64 `json:"confidence"` // [0,1]

	KeywordsHit        map[string]float64 `json:"keywords_hit,omitempty"`       // tag -> weight
	SentimentBreakdown map[string]float64 `json:"sentiment_breakdown,omitempty"` // source label -> contribution
	Categories         []string           `json:"categories,omitempty"`

	// BypassMinScore is set by the classifier for strong-negative catalysts;
	// the filter chain honors it at the MIN_SCORE gate.
	BypassMinScore bool `json:"bypass_min_score,omitempty"`

	Verdict *Verdict       `json:"llm_verdict,omitempty"`
	Price   *PriceSnapshot `json:"price,omitempty"`
}

// HasCategory reports whether the item carries the given category tag.
func (c *ClassifiedItem) HasCategory(cat string) bool {
	for _, have := range c.Categories {
		if strings.EqualFold(have, cat) {
			return true
		}
	}
	return false
}

// Verdict is the optional LLM contribution. Present=false means the router
// declined, failed, or was budget-capped; downstream treats that as absent.
type Verdict struct {
	Present   bool    `json:"present"`
	Label     string  `json:"label,omitempty"`     // bullish|bearish|neutral
	Score     float64 `json:"score,omitempty"`     // [-1,1]
	Rationale string  `json:"rationale,omitempty"`
	Tier      string  `json:"tier,omitempty"`
	Cached    bool    `json:"cached,omitempty"`
}

// SentimentValue maps the verdict label to a [-1,1] contribution.
func (v *Verdict) SentimentValue() float64 {
	if v == nil || !v.Present {
		return 0
	}
	if v.Score != 0 {
		return clamp(v.Score, -1, 1)
	}
	switch strings.ToLower(v.Label) {
	case "bullish":
		return 0.6
	case "bearish":
		return -0.6
	default:
		return 0
	}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// String implements a compact identity for logs.
func (n *NewsItem) String() string {
	return fmt.Sprintf("%s/%s", n.Source, n.SourceID)
}
