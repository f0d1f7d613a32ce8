package prices

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/catalystbot/catalystbot/internal/models"
	"github.com/catalystbot/catalystbot/internal/persistence"
)

// DefaultTTL is how long a quote stays usable for filter decisions.
const DefaultTTL = 60 * time.Second

// Service resolves quotes through a provider chain with a shared hot cache
// and a persistent warm cache. The first provider handles batch lookups;
// tickers it cannot answer fall through the chain one at a time. Every
// snapshot is scrubbed: a caller never sees NaN or Inf, only nil.
type Service struct {
	chain []QuoteProvider
	cache Cache
	repo  persistence.PriceCacheRepo
	ttl   time.Duration
}

// NewService builds a price service over the ordered provider chain.
// repo may be nil when warm-restart persistence is not wanted.
func NewService(chain []QuoteProvider, cache Cache, repo persistence.PriceCacheRepo, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Service{chain: chain, cache: cache, repo: repo, ttl: ttl}
}

// Batch resolves quotes for all tickers, one batched upstream call plus
// per-ticker fallbacks. Tickers no provider can answer are absent from the
// result; callers treat absence as price-unknown, not as zero.
func (s *Service) Batch(ctx context.Context, tickers []string) map[string]*models.PriceSnapshot {
	out := make(map[string]*models.PriceSnapshot, len(tickers))
	var misses []string
	for _, t := range tickers {
		sym := strings.ToUpper(strings.TrimSpace(t))
		if sym == "" {
			continue
		}
		if _, dup := out[sym]; dup {
			continue
		}
		if snap, ok := s.cache.Get(sym); ok {
			out[sym] = snap
			continue
		}
		out[sym] = nil
		misses = append(misses, sym)
	}
	if len(misses) == 0 || len(s.chain) == 0 {
		return compact(out)
	}

	remaining := misses
	if quotes, err := s.chain[0].BatchQuote(ctx, misses); err == nil {
		remaining = remaining[:0]
		for _, sym := range misses {
			if snap, ok := quotes[sym]; ok && snap != nil {
				s.admit(ctx, sym, snap)
				out[sym] = snap
			} else {
				remaining = append(remaining, sym)
			}
		}
	} else {
		log.Warn().Err(err).Str("provider", s.chain[0].Name()).
			Int("tickers", len(misses)).Msg("batch quote failed, falling back")
	}

	for _, sym := range remaining {
		if snap := s.single(ctx, sym, s.chain[1:]); snap != nil {
			out[sym] = snap
		}
	}
	return compact(out)
}

// Single resolves one ticker through the full chain.
func (s *Service) Single(ctx context.Context, ticker string) *models.PriceSnapshot {
	sym := strings.ToUpper(strings.TrimSpace(ticker))
	if sym == "" {
		return nil
	}
	if snap, ok := s.cache.Get(sym); ok {
		return snap
	}
	return s.single(ctx, sym, s.chain)
}

func (s *Service) single(ctx context.Context, sym string, providers []QuoteProvider) *models.PriceSnapshot {
	for _, p := range providers {
		snap, err := p.Quote(ctx, sym)
		if err != nil {
			log.Debug().Err(err).Str("provider", p.Name()).Str("ticker", sym).
				Msg("quote failed, trying next provider")
			continue
		}
		if snap == nil {
			continue
		}
		s.admit(ctx, sym, snap)
		return snap
	}
	// All providers down: a recent persisted quote beats nothing.
	if s.repo != nil {
		if snap, err := s.repo.Get(ctx, sym, s.ttl); err == nil && snap != nil {
			return snap
		}
	}
	return nil
}

func (s *Service) admit(ctx context.Context, sym string, snap *models.PriceSnapshot) {
	snap.Scrub()
	s.cache.Set(sym, snap, s.ttl)
	if s.repo != nil {
		if err := s.repo.Upsert(ctx, *snap); err != nil {
			log.Debug().Err(err).Str("ticker", sym).Msg("price cache persist failed")
		}
	}
}

func compact(m map[string]*models.PriceSnapshot) map[string]*models.PriceSnapshot {
	for k, v := range m {
		if v == nil {
			delete(m, k)
		}
	}
	return m
}
