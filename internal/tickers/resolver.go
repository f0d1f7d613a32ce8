package tickers

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/catalystbot/catalystbot/internal/models"
)

// Listing is one primary-exchange listed security.
type Listing struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"` // NASDAQ | NYSE | AMEX
	CIK      string `json:"cik,omitempty"`
	Name     string `json:"name,omitempty"`
}

// ListingsProvider supplies the refreshed listing universe.
type ListingsProvider interface {
	ListListings(ctx context.Context) ([]Listing, error)
}

var cashtagPattern = regexp.MustCompile(`\$([A-Za-z]{1,5})\b`)

// tokenPattern matches bare uppercase candidates in headline text.
var tokenPattern = regexp.MustCompile(`\b[A-Z]{2,5}\b`)

// commonUppercase are frequent headline acronyms that are never treated as
// bare ticker tokens (cashtags still match them explicitly).
var commonUppercase = map[string]bool{
	"CEO": true, "CFO": true, "COO": true, "CTO": true, "FDA": true,
	"SEC": true, "IPO": true, "USA": true, "USD": true, "NYSE": true,
	"ETF": true, "EPS": true, "GAAP": true, "AI": true, "EV": true,
	"LLC": true, "INC": true, "CORP": true, "LTD": true, "PLC": true,
	"NEWS": true, "EDGAR": true, "OTC": true, "ADR": true, "II": true,
	"III": true, "IV": true, "US": true, "UK": true, "Q": true,
}

// Resolver maps filings and headlines to exchange-listed tickers. The
// listing universe and the filer-id table refresh on a fixed period.
type Resolver struct {
	provider ListingsProvider
	period   time.Duration

	mu          sync.RWMutex
	listed      map[string]Listing
	byCIK       map[string]string
	lastRefresh time.Time
}

// NewResolver builds a resolver; call Refresh before first use.
func NewResolver(provider ListingsProvider, refreshPeriod time.Duration) *Resolver {
	if refreshPeriod <= 0 {
		refreshPeriod = 12 * time.Hour
	}
	return &Resolver{
		provider: provider,
		period:   refreshPeriod,
		listed:   make(map[string]Listing),
		byCIK:    make(map[string]string),
	}
}

// Refresh reloads the listing universe when stale. A provider failure keeps
// the previous table; resolution degrades rather than failing the cycle.
func (r *Resolver) Refresh(ctx context.Context) error {
	r.mu.RLock()
	fresh := time.Since(r.lastRefresh) < r.period && len(r.listed) > 0
	r.mu.RUnlock()
	if fresh {
		return nil
	}

	listings, err := r.provider.ListListings(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("listings refresh failed, keeping previous table")
		return fmt.Errorf("listings refresh failed: %w", err)
	}

	listed := make(map[string]Listing, len(listings))
	byCIK := make(map[string]string)
	for _, l := range listings {
		sym := strings.ToUpper(strings.TrimSpace(l.Symbol))
		if sym == "" {
			continue
		}
		listed[sym] = l
		if l.CIK != "" {
			byCIK[normalizeCIK(l.CIK)] = sym
		}
	}

	r.mu.Lock()
	r.listed = listed
	r.byCIK = byCIK
	r.lastRefresh = time.Now()
	r.mu.Unlock()

	log.Info().Int("listings", len(listed)).Msg("listing universe refreshed")
	return nil
}

// IsListed reports primary-exchange membership.
func (r *Resolver) IsListed(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.listed) == 0 {
		// Degraded mode: no universe loaded, skip the positive check.
		return true
	}
	_, ok := r.listed[strings.ToUpper(symbol)]
	return ok
}

// Resolve fills item.Ticker and item.Tickers. Filings resolve through the
// filer-id table; headlines through cashtags then known uppercase tokens.
// Items matching more than maxTickers distinct symbols keep the full list
// so the multi-ticker gate can reject them.
func (r *Resolver) Resolve(item *models.NewsItem, maxTickers int) {
	var candidates []string

	if cik, ok := item.Raw["cik"]; ok && cik != "" {
		if sym := r.lookupCIK(cik); sym != "" {
			candidates = append(candidates, sym)
		}
	}

	text := item.Title + " " + item.Summary
	for _, m := range cashtagPattern.FindAllStringSubmatch(text, -1) {
		candidates = appendUnique(candidates, strings.ToUpper(m[1]))
	}
	if len(candidates) == 0 {
		for _, tok := range tokenPattern.FindAllString(text, -1) {
			if commonUppercase[tok] {
				continue
			}
			if r.knownSymbol(tok) {
				candidates = appendUnique(candidates, tok)
			}
		}
	}

	item.Tickers = candidates
	if len(candidates) > 0 && len(candidates) <= maxTickers {
		item.Ticker = candidates[0]
	}
}

// ValidatePrimary runs the listing policy on the item's resolved ticker.
func (r *Resolver) ValidatePrimary(item *models.NewsItem) Validation {
	return Validate(item.Ticker, r.IsListed)
}

func (r *Resolver) lookupCIK(cik string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byCIK[normalizeCIK(cik)]
}

// knownSymbol requires actual universe membership: bare tokens only count
// when the universe is loaded, unlike IsListed's degraded-mode pass.
func (r *Resolver) knownSymbol(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.listed[symbol]
	return ok
}

func normalizeCIK(cik string) string {
	return strings.TrimLeft(strings.TrimSpace(cik), "0")
}

func appendUnique(list []string, s string) []string {
	for _, have := range list {
		if have == s {
			return list
		}
	}
	return append(list, s)
}
