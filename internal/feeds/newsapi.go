package feeds

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/catalystbot/catalystbot/internal/config"
	"github.com/catalystbot/catalystbot/internal/dedup"
	"github.com/catalystbot/catalystbot/internal/models"
)

func init() {
	Register("newsapi", func(rt *config.Runtime) (Ingestor, error) {
		if rt.Feeds.NewsAPIURL == "" {
			return nil, fmt.Errorf("newsapi_url not configured")
		}
		return NewNewsAPI(rt.Feeds.NewsAPIURL, rt.Feeds.NewsAPIKey), nil
	})
}

type newsAPIResponse struct {
	Articles []newsAPIArticle `json:"articles"`
}

type newsAPIArticle struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	PublishedAt string   `json:"publishedAt"`
	Tickers     []string `json:"tickers"`
}

// NewsAPI ingests a JSON headline API keyed by publication window.
type NewsAPI struct {
	http   *resty.Client
	url    string
	apiKey string
}

// NewNewsAPI builds the adapter.
func NewNewsAPI(url, apiKey string) *NewsAPI {
	return &NewsAPI{
		http:   resty.New().SetTimeout(15 * time.Second).SetHeader("User-Agent", "catalystbot/1.0"),
		url:    url,
		apiKey: apiKey,
	}
}

func (n *NewsAPI) Name() string { return "newsapi" }

func (n *NewsAPI) Fetch(ctx context.Context, since time.Time) ([]*models.NewsItem, error) {
	req := n.http.R().
		SetContext(ctx).
		SetQueryParam("from", since.UTC().Format(time.RFC3339))
	if n.apiKey != "" {
		req.SetHeader("X-Api-Key", n.apiKey)
	}

	var out newsAPIResponse
	resp, err := req.SetResult(&out).Get(n.url)
	if err != nil {
		return nil, fmt.Errorf("newsapi fetch failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("newsapi fetch returned %s", resp.Status())
	}

	var items []*models.NewsItem
	for _, a := range out.Articles {
		published, err := time.Parse(time.RFC3339, a.PublishedAt)
		if err != nil || published.Before(since) {
			continue
		}
		title := strings.TrimSpace(a.Title)
		if title == "" || a.URL == "" {
			continue
		}

		sourceID := a.ID
		if sourceID == "" {
			sourceID = models.HashKey(dedup.CanonicalURL(a.URL) + "|" + dedup.NormalizeTitle(title))
		}
		item := &models.NewsItem{
			Source:      "newsapi",
			SourceID:    sourceID,
			PublishedAt: published.UTC(),
			URL:         a.URL,
			Title:       title,
			Summary:     strings.TrimSpace(a.Description),
		}
		if len(a.Tickers) > 0 {
			item.Tickers = a.Tickers
			if len(a.Tickers) == 1 {
				item.Ticker = strings.ToUpper(a.Tickers[0])
			}
		}
		items = append(items, item)
	}
	return items, nil
}
