package feeds

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/catalystbot/catalystbot/internal/config"
	"github.com/catalystbot/catalystbot/internal/models"
)

func init() {
	Register("screener", func(rt *config.Runtime) (Ingestor, error) {
		if rt.Providers.SecondaryQuoteURL == "" {
			return nil, fmt.Errorf("secondary_quote_url not configured for screener")
		}
		return NewScreener(rt.Providers.SecondaryQuoteURL), nil
	})
}

type screenerRow struct {
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last"`
	ChangePct float64 `json:"change_pct"`
	Volume    int64   `json:"volume"`
	RelVolume float64 `json:"rel_volume"`
}

// Screener synthesizes items from a price/volume movers screen. Unlike the
// news adapters it has no headlines; it surfaces unusual activity so the
// pipeline can look for the catalyst behind it.
type Screener struct {
	http *resty.Client
	url  string

	minChangePct float64
	minRelVolume float64
}

// NewScreener builds the adapter with the default movers thresholds.
func NewScreener(url string) *Screener {
	return &Screener{
		http:         resty.New().SetTimeout(15 * time.Second).SetHeader("User-Agent", "catalystbot/1.0"),
		url:          url,
		minChangePct: 15.0,
		minRelVolume: 3.0,
	}
}

func (s *Screener) Name() string { return "screener" }

func (s *Screener) Fetch(ctx context.Context, _ time.Time) ([]*models.NewsItem, error) {
	var rows []screenerRow
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("screen", "movers").
		SetResult(&rows).
		Get(s.url)
	if err != nil {
		return nil, fmt.Errorf("screener fetch failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("screener fetch returned %s", resp.Status())
	}

	now := time.Now().UTC()
	day := now.Format("2006-01-02")
	var items []*models.NewsItem
	for _, row := range rows {
		sym := strings.ToUpper(strings.TrimSpace(row.Symbol))
		if sym == "" {
			continue
		}
		if row.ChangePct < s.minChangePct && row.ChangePct > -s.minChangePct {
			continue
		}
		if row.RelVolume > 0 && row.RelVolume < s.minRelVolume {
			continue
		}

		direction := "surges"
		if row.ChangePct < 0 {
			direction = "plunges"
		}
		items = append(items, &models.NewsItem{
			Source: "screener",
			// One screener item per symbol per day: the move is the story.
			SourceID:    sym + "-" + day,
			PublishedAt: now,
			Title:       fmt.Sprintf("%s %s %.1f%% on %.1fx relative volume", sym, direction, row.ChangePct, row.RelVolume),
			Ticker:      sym,
			Tickers:     []string{sym},
			Raw: map[string]string{
				"change_pct": fmt.Sprintf("%.2f", row.ChangePct),
				"rel_volume": fmt.Sprintf("%.2f", row.RelVolume),
			},
		})
	}
	return items, nil
}
