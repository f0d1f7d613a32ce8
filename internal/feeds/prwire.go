package feeds

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/catalystbot/catalystbot/internal/config"
	"github.com/catalystbot/catalystbot/internal/dedup"
	"github.com/catalystbot/catalystbot/internal/models"
)

func init() {
	Register("prwire", func(rt *config.Runtime) (Ingestor, error) {
		if rt.Feeds.PRWireURL == "" {
			return nil, fmt.Errorf("prwire_url not configured")
		}
		return NewPRWire(rt.Feeds.PRWireURL), nil
	})
}

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

// PRWire ingests a press-release RSS feed with conditional GETs: the
// adapter replays ETag and Last-Modified and treats 304 as an empty fetch.
type PRWire struct {
	http *resty.Client
	url  string

	mu           sync.Mutex
	etag         string
	lastModified string
}

// NewPRWire builds the adapter.
func NewPRWire(url string) *PRWire {
	return &PRWire{
		http: resty.New().SetTimeout(15 * time.Second).SetHeader("User-Agent", "catalystbot/1.0"),
		url:  url,
	}
}

func (p *PRWire) Name() string { return "prwire" }

func (p *PRWire) Fetch(ctx context.Context, since time.Time) ([]*models.NewsItem, error) {
	p.mu.Lock()
	etag, lastModified := p.etag, p.lastModified
	p.mu.Unlock()

	req := p.http.R().SetContext(ctx)
	if etag != "" {
		req.SetHeader("If-None-Match", etag)
	}
	if lastModified != "" {
		req.SetHeader("If-Modified-Since", lastModified)
	}

	resp, err := req.Get(p.url)
	if err != nil {
		return nil, fmt.Errorf("prwire fetch failed: %w", err)
	}
	if resp.StatusCode() == http.StatusNotModified {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("prwire fetch returned %s", resp.Status())
	}

	p.mu.Lock()
	if v := resp.Header().Get("ETag"); v != "" {
		p.etag = v
	}
	if v := resp.Header().Get("Last-Modified"); v != "" {
		p.lastModified = v
	}
	p.mu.Unlock()

	return parseRSS(resp.Body(), since)
}

func parseRSS(raw []byte, since time.Time) ([]*models.NewsItem, error) {
	var feed rssFeed
	if err := xml.Unmarshal(raw, &feed); err != nil {
		return nil, fmt.Errorf("prwire rss parse failed: %w", err)
	}

	var items []*models.NewsItem
	for _, entry := range feed.Channel.Items {
		published, ok := parsePubDate(entry.PubDate)
		if !ok || published.Before(since) {
			continue
		}
		url := strings.TrimSpace(entry.Link)
		title := strings.TrimSpace(entry.Title)
		if url == "" || title == "" {
			continue
		}

		sourceID := strings.TrimSpace(entry.GUID)
		if sourceID == "" {
			sourceID = models.HashKey(dedup.CanonicalURL(url) + "|" + dedup.NormalizeTitle(title))
		}
		items = append(items, &models.NewsItem{
			Source:      "prwire",
			SourceID:    sourceID,
			PublishedAt: published.UTC(),
			URL:         url,
			Title:       title,
			Summary:     strings.TrimSpace(entry.Description),
		})
	}
	return items, nil
}

var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
}

func parsePubDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range pubDateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
