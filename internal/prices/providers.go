package prices

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/catalystbot/catalystbot/internal/models"
)

// QuoteProvider is one upstream quote source. BatchQuote may return partial
// results; missing tickers fall through to the next provider in the chain.
type QuoteProvider interface {
	Name() string
	BatchQuote(ctx context.Context, tickers []string) (map[string]*models.PriceSnapshot, error)
	Quote(ctx context.Context, ticker string) (*models.PriceSnapshot, error)
}

type quoteRow struct {
	Symbol    string   `json:"symbol"`
	Last      *float64 `json:"last"`
	PrevClose *float64 `json:"prev_close"`
	ChangePct *float64 `json:"change_pct"`
}

// HTTPQuoteProvider serves quotes from a JSON endpoint. The batch form is
// GET url?symbols=A,B,C; the single form GET url?symbols=A. Responses are
// scrubbed so non-finite values never leave the provider.
type HTTPQuoteProvider struct {
	name    string
	http    *resty.Client
	url     string
	limiter *rate.Limiter
}

// NewHTTPQuoteProvider builds a provider with a per-host request budget.
func NewHTTPQuoteProvider(name, baseURL string, rps float64) *HTTPQuoteProvider {
	if rps <= 0 {
		rps = 5
	}
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetHeader("User-Agent", "catalystbot/1.0")
	return &HTTPQuoteProvider{
		name:    name,
		http:    client,
		url:     baseURL,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

func (p *HTTPQuoteProvider) Name() string { return p.name }

func (p *HTTPQuoteProvider) BatchQuote(ctx context.Context, tickers []string) (map[string]*models.PriceSnapshot, error) {
	if len(tickers) == 0 {
		return map[string]*models.PriceSnapshot{}, nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var rows []quoteRow
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParam("symbols", strings.Join(tickers, ",")).
		SetResult(&rows).
		Get(p.url)
	if err != nil {
		return nil, fmt.Errorf("%s batch quote failed: %w", p.name, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%s batch quote returned %s", p.name, resp.Status())
	}

	now := time.Now().UTC()
	out := make(map[string]*models.PriceSnapshot, len(rows))
	for _, row := range rows {
		sym := strings.ToUpper(strings.TrimSpace(row.Symbol))
		if sym == "" {
			continue
		}
		out[sym] = p.toSnapshot(sym, row, now)
	}
	return out, nil
}

func (p *HTTPQuoteProvider) Quote(ctx context.Context, ticker string) (*models.PriceSnapshot, error) {
	quotes, err := p.BatchQuote(ctx, []string{ticker})
	if err != nil {
		return nil, err
	}
	snap, ok := quotes[strings.ToUpper(ticker)]
	if !ok {
		return nil, fmt.Errorf("%s has no quote for %s", p.name, ticker)
	}
	return snap, nil
}

func (p *HTTPQuoteProvider) toSnapshot(sym string, row quoteRow, asOf time.Time) *models.PriceSnapshot {
	snap := &models.PriceSnapshot{
		Ticker:    sym,
		Last:      row.Last,
		PrevClose: row.PrevClose,
		ChangePct: row.ChangePct,
		AsOf:      asOf,
		Provider:  p.name,
	}
	snap.Scrub()
	if snap.ChangePct == nil && snap.HasLast() && snap.PrevClose != nil && *snap.PrevClose != 0 {
		snap.ChangePct = models.Float((*snap.Last - *snap.PrevClose) / *snap.PrevClose * 100)
	}
	return snap
}
