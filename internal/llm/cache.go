package llm

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/catalystbot/catalystbot/internal/models"
	"github.com/catalystbot/catalystbot/internal/persistence"
)

var (
	numberPattern = regexp.MustCompile(`\d+(\.\d+)?`)
	punctPattern  = regexp.MustCompile(`[^a-z0-9# ]+`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

// PromptHash derives the semantic cache key. Normalization strips case,
// numerals, punctuation, and whitespace runs so near-identical headlines
// (same story, different dollar figures or wire punctuation) share a cache
// entry; the tier is part of the key because verdict quality differs
// across tiers.
func PromptHash(prompt, tier string) string {
	norm := strings.ToLower(prompt)
	norm = numberPattern.ReplaceAllString(norm, "#")
	norm = punctPattern.ReplaceAllString(norm, " ")
	norm = spacePattern.ReplaceAllString(norm, " ")
	norm = strings.TrimSpace(norm)
	return models.HashKey(norm + "|" + tier)
}

// VerdictCache layers an in-process map over the persistent semantic cache.
// Upserts are idempotent; the memory layer just avoids repeated reads.
type VerdictCache struct {
	repo persistence.LLMCacheRepo

	mu  sync.RWMutex
	hot map[string]*models.Verdict
}

// NewVerdictCache builds the cache; repo may be nil (memory only).
func NewVerdictCache(repo persistence.LLMCacheRepo) *VerdictCache {
	return &VerdictCache{repo: repo, hot: make(map[string]*models.Verdict)}
}

// Get returns the cached verdict for the hash, or nil on miss.
func (c *VerdictCache) Get(ctx context.Context, hash, tier string) *models.Verdict {
	c.mu.RLock()
	v, ok := c.hot[hash]
	c.mu.RUnlock()
	if ok {
		cp := *v
		cp.Cached = true
		return &cp
	}
	if c.repo == nil {
		return nil
	}

	entry, err := c.repo.Get(ctx, hash, tier)
	if err != nil || entry == nil {
		return nil
	}
	var verdict models.Verdict
	if err := json.Unmarshal([]byte(entry.Response), &verdict); err != nil {
		return nil
	}
	verdict.Cached = true

	c.mu.Lock()
	c.hot[hash] = &verdict
	c.mu.Unlock()
	cp := verdict
	return &cp
}

// Put stores a fresh verdict under the hash with its metered cost.
func (c *VerdictCache) Put(ctx context.Context, hash, tier string, v *models.Verdict, costUSD float64) {
	c.mu.Lock()
	c.hot[hash] = v
	c.mu.Unlock()

	if c.repo == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	entry := persistence.LLMCacheEntry{
		PromptHash: hash,
		Tier:       tier,
		Response:   string(raw),
		CostUSD:    costUSD,
		CreatedAt:  time.Now().UTC(),
	}
	if err := c.repo.Upsert(ctx, entry); err != nil {
		log.Debug().Err(err).Msg("llm cache persist failed")
	}
}
