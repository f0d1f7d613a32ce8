package feeds

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/catalystbot/catalystbot/internal/config"
	"github.com/catalystbot/catalystbot/internal/models"
)

// Ingestor pulls items from one source and normalizes them. Fetch returns
// only items published at or after since; adapters own their protocol and
// their conditional-request state.
type Ingestor interface {
	Name() string
	Fetch(ctx context.Context, since time.Time) ([]*models.NewsItem, error)
}

// Constructor builds a named ingestor from runtime settings.
type Constructor func(rt *config.Runtime) (Ingestor, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register binds a source name to its constructor. Adapters register in
// init; Build resolves names from the enabled-feeds config list.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = ctor
}

// Build instantiates the enabled ingestors in config order.
func Build(rt *config.Runtime) ([]Ingestor, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	var out []Ingestor
	for _, name := range rt.Feeds.Enabled {
		ctor, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown feed source %q", name)
		}
		ing, err := ctor(rt)
		if err != nil {
			return nil, fmt.Errorf("feed %s init failed: %w", name, err)
		}
		out = append(out, ing)
	}
	return out, nil
}

// FetchResult is one source's contribution to a cycle.
type FetchResult struct {
	Source  string
	Items   []*models.NewsItem
	Err     error
	Elapsed time.Duration
}

// FetchAll runs every ingestor in parallel under a per-source timeout. A
// failing source contributes an error result, never a cycle failure.
func FetchAll(ctx context.Context, ingestors []Ingestor, since time.Time, perSource time.Duration) []FetchResult {
	results := make([]FetchResult, len(ingestors))
	var wg sync.WaitGroup
	for i, ing := range ingestors {
		wg.Add(1)
		go func(i int, ing Ingestor) {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, perSource)
			defer cancel()

			start := time.Now()
			items, err := ing.Fetch(sctx, since)
			results[i] = FetchResult{
				Source:  ing.Name(),
				Items:   items,
				Err:     err,
				Elapsed: time.Since(start),
			}
		}(i, ing)
	}
	wg.Wait()

	for _, res := range results {
		if res.Err != nil {
			log.Warn().Err(res.Err).Str("source", res.Source).Msg("feed fetch failed")
		}
	}
	return results
}

// Merge flattens fetch results, dropping failed sources and sorting by
// publication time (oldest first, best effort).
func Merge(results []FetchResult) []*models.NewsItem {
	var items []*models.NewsItem
	for _, res := range results {
		if res.Err != nil {
			continue
		}
		items = append(items, res.Items...)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.Before(items[j].PublishedAt)
	})
	return items
}

// OutageTracker counts consecutive cycles in which a source produced
// nothing. Crossing the configured threshold fires the callback once per
// outage episode.
type OutageTracker struct {
	mu        sync.Mutex
	threshold int
	empty     map[string]int
	fired     map[string]bool
	onOutage  func(source string, cycles int)
}

// NewOutageTracker builds a tracker; onOutage may be nil.
func NewOutageTracker(threshold int, onOutage func(source string, cycles int)) *OutageTracker {
	return &OutageTracker{
		threshold: threshold,
		empty:     make(map[string]int),
		fired:     make(map[string]bool),
		onOutage:  onOutage,
	}
}

// SetThreshold updates the outage threshold from the live config.
func (o *OutageTracker) SetThreshold(n int) {
	o.mu.Lock()
	o.threshold = n
	o.mu.Unlock()
}

// Observe records one cycle's fetch results.
func (o *OutageTracker) Observe(results []FetchResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, res := range results {
		if res.Err == nil && len(res.Items) > 0 {
			o.empty[res.Source] = 0
			o.fired[res.Source] = false
			continue
		}
		o.empty[res.Source]++
		if o.empty[res.Source] >= o.threshold && !o.fired[res.Source] {
			o.fired[res.Source] = true
			log.Error().
				Str("source", res.Source).
				Int("consecutive_empty_cycles", o.empty[res.Source]).
				Msg("feed outage detected")
			if o.onOutage != nil {
				o.onOutage(res.Source, o.empty[res.Source])
			}
		}
	}
}
