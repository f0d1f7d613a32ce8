package classify

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Keyword is one catalyst tag: the phrases that trigger it, its score
// weight, and the category it rolls up into.
type Keyword struct {
	Tag      string
	Weight   float64
	Category string
	Phrases  []string
}

// builtinCatalog is the baseline tag set. Weights reflect how often each
// catalyst precedes a tradable move in small caps; the file-based overlay
// can retune them without a release.
var builtinCatalog = []Keyword{
	{Tag: "fda_approval", Weight: 0.55, Category: "regulatory", Phrases: []string{"fda approval", "fda approves", "fda clearance", "fda cleared", "510(k)", "breakthrough designation"}},
	{Tag: "fda_trial", Weight: 0.40, Category: "regulatory", Phrases: []string{"phase 3", "phase iii", "phase 2", "phase ii", "clinical trial results", "topline results", "met primary endpoint"}},
	{Tag: "merger", Weight: 0.50, Category: "ma", Phrases: []string{"merger agreement", "definitive agreement to acquire", "to be acquired", "acquisition of", "business combination"}},
	{Tag: "contract_win", Weight: 0.45, Category: "business", Phrases: []string{"contract award", "awarded a contract", "purchase order", "wins contract", "contract valued"}},
	{Tag: "partnership", Weight: 0.35, Category: "business", Phrases: []string{"strategic partnership", "collaboration agreement", "joint venture", "licensing agreement"}},
	{Tag: "earnings_beat", Weight: 0.40, Category: "earnings", Phrases: []string{"beats estimates", "exceeds expectations", "record revenue", "record quarterly revenue", "raises guidance", "raises full-year"}},
	{Tag: "earnings_miss", Weight: 0.35, Category: "earnings", Phrases: []string{"misses estimates", "below expectations", "lowers guidance", "cuts guidance", "withdraws guidance"}},
	{Tag: "uplisting", Weight: 0.45, Category: "listing", Phrases: []string{"uplisting", "approved for listing on nasdaq", "approved for listing on nyse", "uplist"}},
	{Tag: "offering", Weight: 0.50, Category: "dilution", Phrases: []string{"public offering", "registered direct offering", "private placement", "at-the-market offering", "pricing of offering", "unit offering"}},
	{Tag: "dilution", Weight: 0.45, Category: "dilution", Phrases: []string{"dilution", "dilutive", "warrant exercise", "convertible notes"}},
	{Tag: "reverse_split", Weight: 0.40, Category: "dilution", Phrases: []string{"reverse stock split", "reverse split"}},
	{Tag: "bankruptcy", Weight: 0.60, Category: "distress", Phrases: []string{"chapter 11", "chapter 7", "bankruptcy", "restructuring support agreement"}},
	{Tag: "delisting", Weight: 0.55, Category: "distress", Phrases: []string{"delisting", "notice of delisting", "non-compliance with listing", "listing deficiency"}},
	{Tag: "going_concern", Weight: 0.50, Category: "distress", Phrases: []string{"going concern", "substantial doubt"}},
	{Tag: "short_report", Weight: 0.35, Category: "distress", Phrases: []string{"short report", "short seller report"}},
	{Tag: "buyback", Weight: 0.30, Category: "capital", Phrases: []string{"share repurchase", "buyback program", "stock repurchase program"}},
	{Tag: "insider_buy", Weight: 0.25, Category: "capital", Phrases: []string{"insider purchase", "director purchases", "ceo purchases"}},
	{Tag: "patent", Weight: 0.30, Category: "ip", Phrases: []string{"patent granted", "patent issued", "patent allowance"}},
}

// Catalog resolves keyword hits against the builtin tags merged with an
// optional weight overlay file. The overlay wins for overlapping tags;
// unknown overlay tags are added with phrases equal to the tag text.
type Catalog struct {
	mu       sync.RWMutex
	keywords []Keyword
}

// NewCatalog returns the builtin catalog with no overlay applied.
func NewCatalog() *Catalog {
	c := &Catalog{}
	c.Merge(nil)
	return c
}

// Merge applies a tag->weight overlay on top of the builtin catalog.
func (c *Catalog) Merge(overlay map[string]float64) {
	merged := make([]Keyword, len(builtinCatalog))
	copy(merged, builtinCatalog)
	seen := make(map[string]int, len(merged))
	for i, kw := range merged {
		seen[kw.Tag] = i
	}
	for tag, weight := range overlay {
		if i, ok := seen[tag]; ok {
			merged[i].Weight = weight
			continue
		}
		merged = append(merged, Keyword{
			Tag:      tag,
			Weight:   weight,
			Category: "custom",
			Phrases:  []string{strings.ReplaceAll(tag, "_", " ")},
		})
	}

	c.mu.Lock()
	c.keywords = merged
	c.mu.Unlock()
}

// Hits returns tag->weight for every keyword whose phrase appears in the
// text, plus the distinct categories hit.
func (c *Catalog) Hits(text string) (map[string]float64, []string) {
	lower := strings.ToLower(text)
	hits := make(map[string]float64)
	var categories []string
	catSeen := make(map[string]bool)

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, kw := range c.keywords {
		for _, phrase := range kw.Phrases {
			if strings.Contains(lower, phrase) {
				hits[kw.Tag] = kw.Weight
				if !catSeen[kw.Category] {
					catSeen[kw.Category] = true
					categories = append(categories, kw.Category)
				}
				break
			}
		}
	}
	return hits, categories
}

// CategoryOf returns the category a tag rolls up into, "" when unknown.
func (c *Catalog) CategoryOf(tag string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, kw := range c.keywords {
		if kw.Tag == tag {
			return kw.Category
		}
	}
	return ""
}

// LoadWeights reads a tag->weight yaml overlay file.
func LoadWeights(path string) (map[string]float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights %s: %w", path, err)
	}
	var overlay map[string]float64
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return nil, fmt.Errorf("failed to parse weights %s: %w", path, err)
	}
	return overlay, nil
}

// WatchWeights reloads the overlay whenever the file changes. It returns a
// stop function; errors after startup only log, the last good overlay stays
// in effect.
func WatchWeights(path string, catalog *Catalog) (func(), error) {
	overlay, err := LoadWeights(path)
	if err != nil {
		return nil, err
	}
	catalog.Merge(overlay)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create weights watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				overlay, err := LoadWeights(path)
				if err != nil {
					log.Warn().Err(err).Msg("keyword weights reload failed, keeping previous overlay")
					continue
				}
				catalog.Merge(overlay)
				log.Info().Int("tags", len(overlay)).Msg("keyword weights reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("weights watcher error")
			}
		}
	}()
	return func() { watcher.Close() }, nil
}
