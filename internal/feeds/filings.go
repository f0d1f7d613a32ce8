package feeds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/catalystbot/catalystbot/internal/config"
	"github.com/catalystbot/catalystbot/internal/dedup"
	"github.com/catalystbot/catalystbot/internal/models"
)

func init() {
	Register("filings", func(rt *config.Runtime) (Ingestor, error) {
		if rt.Feeds.FilingsURL == "" {
			return nil, fmt.Errorf("filings_url not configured")
		}
		return NewFilings(rt.Feeds.FilingsURL), nil
	})
}

type filingEntry struct {
	Accession string `json:"accession"`
	CIK       string `json:"cik"`
	FormType  string `json:"form_type"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	FiledAt   string `json:"filed_at"`
}

// Filings ingests the regulator's filing index. The primary path is the
// JSON index; when the endpoint serves HTML (the legacy index page), the
// adapter falls back to scraping the filing table.
type Filings struct {
	http *resty.Client
	url  string
}

// NewFilings builds the adapter.
func NewFilings(url string) *Filings {
	return &Filings{
		http: resty.New().SetTimeout(20 * time.Second).SetHeader("User-Agent", "catalystbot/1.0 admin@catalystbot.dev"),
		url:  url,
	}
}

func (f *Filings) Name() string { return "filings" }

func (f *Filings) Fetch(ctx context.Context, since time.Time) ([]*models.NewsItem, error) {
	resp, err := f.http.R().SetContext(ctx).Get(f.url)
	if err != nil {
		return nil, fmt.Errorf("filings fetch failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("filings fetch returned %s", resp.Status())
	}

	body := resp.Body()
	if entries, err := parseFilingsJSON(body); err == nil {
		return filingsToItems(entries, since), nil
	}
	entries, err := parseFilingsHTML(body)
	if err != nil {
		return nil, fmt.Errorf("filings index unparseable: %w", err)
	}
	return filingsToItems(entries, since), nil
}

func parseFilingsJSON(raw []byte) ([]filingEntry, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("not a json index")
	}
	var entries []filingEntry
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// parseFilingsHTML scrapes the legacy index table: one row per filing with
// the document link carrying the accession number.
func parseFilingsHTML(raw []byte) ([]filingEntry, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	var entries []filingEntry
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		link := row.Find("a").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		accession := dedup.ExtractAccession(href)
		if accession == "" {
			return
		}
		entry := filingEntry{
			Accession: accession,
			URL:       href,
			Title:     strings.TrimSpace(row.Find("td").First().Text()),
			FiledAt:   strings.TrimSpace(row.Find("td.filed").Text()),
		}
		if cik, ok := row.Attr("data-cik"); ok {
			entry.CIK = cik
		}
		if entry.Title == "" {
			entry.Title = strings.TrimSpace(link.Text())
		}
		entries = append(entries, entry)
	})
	if len(entries) == 0 {
		return nil, fmt.Errorf("no filing rows found")
	}
	return entries, nil
}

func filingsToItems(entries []filingEntry, since time.Time) []*models.NewsItem {
	var items []*models.NewsItem
	for _, e := range entries {
		accession := e.Accession
		if accession == "" {
			accession = dedup.ExtractAccession(e.URL)
		}
		if accession == "" {
			continue
		}
		filedAt := parseFiledAt(e.FiledAt)
		if !filedAt.IsZero() && filedAt.Before(since) {
			continue
		}

		title := e.Title
		if e.FormType != "" && !strings.Contains(title, e.FormType) {
			title = strings.TrimSpace(e.FormType + " " + title)
		}
		item := &models.NewsItem{
			Source:      "filings",
			SourceID:    accession,
			Accession:   accession,
			PublishedAt: filedAt,
			URL:         e.URL,
			Title:       title,
			Raw:         map[string]string{},
		}
		if e.CIK != "" {
			item.Raw["cik"] = e.CIK
		}
		if e.FormType != "" {
			item.Raw["form_type"] = e.FormType
		}
		items = append(items, item)
	}
	return items
}

var filedAtLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseFiledAt(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range filedAtLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
