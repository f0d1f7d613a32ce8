package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Runtime holds non-tunable process settings: endpoints, credentials, and
// file locations. These are fixed at startup; live tunables go through the
// parameter store instead.
type Runtime struct {
	DatabasePath string `yaml:"database_path"`
	CacheDir     string `yaml:"cache_dir"`
	RedisAddr    string `yaml:"redis_addr"`

	Webhook struct {
		URL     string `yaml:"url"`
		BotURL  string `yaml:"bot_url"`
		Channel string `yaml:"channel"`
	} `yaml:"webhook"`

	Interactions struct {
		ListenAddr   string `yaml:"listen_addr"`
		PublicKeyHex string `yaml:"public_key_hex"`
	} `yaml:"interactions"`

	Feeds struct {
		Enabled     []string          `yaml:"enabled"`
		PRWireURL   string            `yaml:"prwire_url"`
		FilingsURL  string            `yaml:"filings_url"`
		NewsAPIURL  string            `yaml:"newsapi_url"`
		NewsAPIKey  string            `yaml:"newsapi_key"`
		WireFeedURL string            `yaml:"wirefeed_url"`
		MinCadence  map[string]string `yaml:"min_cadence"` // source -> duration
	} `yaml:"feeds"`

	Providers struct {
		PrimaryQuoteURL   string `yaml:"primary_quote_url"`
		FallbackQuoteURL  string `yaml:"fallback_quote_url"`
		SecondaryQuoteURL string `yaml:"secondary_quote_url"`
		ListingsURL       string `yaml:"listings_url"`
	} `yaml:"providers"`

	LLM struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"llm"`

	KeywordWeightsPath string             `yaml:"keyword_weights_path"`
	SectorMultipliers  map[string]float64 `yaml:"sector_multipliers"`
	MetricsAddr        string             `yaml:"metrics_addr"`
}

// File is the on-disk bootstrap config: runtime settings plus initial
// parameter values (which the store owns after startup).
type File struct {
	Runtime Runtime        `yaml:"runtime"`
	Params  map[string]any `yaml:"params"`
}

// Load reads the bootstrap file and applies environment overrides for
// secrets. Params are flattened to dotted keys and normalized against the
// schema; an unknown or invalid key is a startup error (exit code 1 path).
func Load(path string, schema *Schema) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	flat := Flatten(f.Params)
	normalized := make(map[string]any, len(flat))
	for k, v := range flat {
		nv, err := schema.Normalize(k, v)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		normalized[k] = nv
	}
	if err := validateWithDefaults(schema, normalized); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	f.Params = normalized

	applyEnvOverrides(&f.Runtime)
	return &f, nil
}

func validateWithDefaults(schema *Schema, params map[string]any) error {
	full := schema.Defaults()
	for k, v := range params {
		full[k] = v
	}
	return schema.ValidateAll(full)
}

// Flatten converts nested yaml maps into dotted parameter keys.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	flattenInto(out, "", m)
	return out
}

func flattenInto(out map[string]any, prefix string, m map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = v
	}
}

func applyEnvOverrides(rt *Runtime) {
	if v := os.Getenv("CATALYSTBOT_WEBHOOK_URL"); v != "" {
		rt.Webhook.URL = v
	}
	if v := os.Getenv("CATALYSTBOT_BOT_URL"); v != "" {
		rt.Webhook.BotURL = v
	}
	if v := os.Getenv("CATALYSTBOT_INTERACTIONS_PUBLIC_KEY"); v != "" {
		rt.Interactions.PublicKeyHex = v
	}
	if v := os.Getenv("CATALYSTBOT_NEWSAPI_KEY"); v != "" {
		rt.Feeds.NewsAPIKey = v
	}
	if v := os.Getenv("CATALYSTBOT_LLM_API_KEY"); v != "" {
		rt.LLM.APIKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		rt.RedisAddr = v
	}
	if v := os.Getenv("CATALYSTBOT_DB"); v != "" {
		rt.DatabasePath = v
	}
}

// Describe renders the current snapshot for operator display, one key per
// line, sorted by the caller.
func Describe(snap Snapshot) string {
	var b strings.Builder
	for k, v := range snap.Values() {
		fmt.Fprintf(&b, "%s = %v\n", k, v)
	}
	return b.String()
}
