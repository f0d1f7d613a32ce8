package tickers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// ListingsClient fetches the primary-exchange listing universe from a JSON
// endpoint of the form [{"symbol":…,"exchange":…,"cik":…,"name":…}, …].
type ListingsClient struct {
	http *resty.Client
	url  string
}

// NewListingsClient builds a client for the listings endpoint.
func NewListingsClient(baseURL string) *ListingsClient {
	client := resty.New().
		SetTimeout(20 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(2 * time.Second).
		SetHeader("User-Agent", "catalystbot/1.0")
	return &ListingsClient{http: client, url: baseURL}
}

// ListListings implements ListingsProvider.
func (c *ListingsClient) ListListings(ctx context.Context) ([]Listing, error) {
	var listings []Listing
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&listings).
		Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("listings request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("listings request returned %s", resp.Status())
	}
	return listings, nil
}
