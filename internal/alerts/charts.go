package alerts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Renderer turns a ticker into a chart PNG on disk. Chart rendering itself
// is an external collaborator; the cache only manages the files.
type Renderer interface {
	Render(ctx context.Context, ticker string) (path string, err error)
}

// ChartCache caches rendered charts per ticker for a short window so a
// burst of alerts on one symbol reuses a single render. Paths returned are
// always absolute, regardless of what the renderer produced.
type ChartCache struct {
	renderer Renderer
	dir      string
	ttl      time.Duration

	mu      sync.Mutex
	entries map[string]chartEntry
}

type chartEntry struct {
	path     string
	rendered time.Time
}

// NewChartCache builds the cache over a working directory.
func NewChartCache(renderer Renderer, dir string, ttl time.Duration) *ChartCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ChartCache{
		renderer: renderer,
		dir:      dir,
		ttl:      ttl,
		entries:  make(map[string]chartEntry),
	}
}

// Get returns the absolute path of a fresh chart for the ticker, rendering
// one if needed. A renderer failure returns an error; callers alert
// without the image rather than failing the dispatch.
func (c *ChartCache) Get(ctx context.Context, ticker string) (string, error) {
	c.mu.Lock()
	entry, ok := c.entries[ticker]
	c.mu.Unlock()
	if ok && time.Since(entry.rendered) < c.ttl {
		if _, err := os.Stat(entry.path); err == nil {
			return entry.path, nil
		}
	}

	raw, err := c.renderer.Render(ctx, ticker)
	if err != nil {
		return "", fmt.Errorf("chart render for %s failed: %w", ticker, err)
	}
	abs, err := c.resolve(raw)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[ticker] = chartEntry{path: abs, rendered: time.Now()}
	c.mu.Unlock()
	return abs, nil
}

// resolve makes a renderer-produced path absolute. Relative paths are
// anchored at the cache directory, then the working directory.
func (c *ChartCache) resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	if c.dir != "" {
		candidate := filepath.Join(c.dir, path)
		if _, err := os.Stat(candidate); err == nil {
			return filepath.Abs(candidate)
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve chart path %s: %w", path, err)
	}
	return abs, nil
}
