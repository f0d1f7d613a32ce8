package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Model tiers in ascending cost order.
const (
	TierCheap     = "cheap"
	TierMedium    = "medium"
	TierExpensive = "expensive"
	TierPremium   = "premium"
)

// Completion is one provider response with its metered cost.
type Completion struct {
	Label     string  `json:"label"` // bullish | bearish | neutral
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
	CostUSD   float64 `json:"cost_usd"`
}

// Provider is the narrow completion interface the router talks to.
type Provider interface {
	Complete(ctx context.Context, tier, prompt string) (*Completion, error)
}

// HTTPProvider posts completion requests to an OpenAI-style endpoint that
// returns the verdict JSON directly.
type HTTPProvider struct {
	http *resty.Client
	url  string
}

// NewHTTPProvider builds the provider client; apiKey may be empty for
// unauthenticated local inference servers.
func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetHeader("User-Agent", "catalystbot/1.0")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &HTTPProvider{http: client, url: baseURL}
}

type completionRequest struct {
	Tier   string `json:"tier"`
	Prompt string `json:"prompt"`
}

func (p *HTTPProvider) Complete(ctx context.Context, tier, prompt string) (*Completion, error) {
	var out Completion
	resp, err := p.http.R().
		SetContext(ctx).
		SetBody(completionRequest{Tier: tier, Prompt: prompt}).
		SetResult(&out).
		Post(p.url)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("completion request returned %s", resp.Status())
	}
	return &out, nil
}

// MarshalPrompt renders the classification prompt for one item.
func MarshalPrompt(task, text string) string {
	raw, _ := json.Marshal(map[string]string{"task": task, "text": text})
	return string(raw)
}
