package prices

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/catalystbot/catalystbot/internal/models"
)

// Cache is the hot quote cache shared by all callers in the process.
type Cache interface {
	Get(ticker string) (*models.PriceSnapshot, bool)
	Set(ticker string, snap *models.PriceSnapshot, ttl time.Duration)
}

type memoryCache struct {
	mu sync.Mutex
	m  map[string]memEntry
}

type memEntry struct {
	snap models.PriceSnapshot
	exp  time.Time
}

// NewMemoryCache returns the in-process cache implementation.
func NewMemoryCache() Cache {
	return &memoryCache{m: make(map[string]memEntry)}
}

func (c *memoryCache) Get(ticker string) (*models.PriceSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[ticker]
	if !ok || time.Now().After(e.exp) {
		return nil, false
	}
	snap := e.snap
	return &snap, true
}

func (c *memoryCache) Set(ticker string, snap *models.PriceSnapshot, ttl time.Duration) {
	if snap == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[ticker] = memEntry{snap: *snap, exp: time.Now().Add(ttl)}
}

type redisCache struct{ r *redis.Client }

// NewAutoCache returns a redis-backed cache when addr is non-empty, the
// in-memory cache otherwise.
func NewAutoCache(addr string) Cache {
	if addr == "" {
		return NewMemoryCache()
	}
	return &redisCache{r: redis.NewClient(&redis.Options{Addr: addr})}
}

func (c *redisCache) Get(ticker string) (*models.PriceSnapshot, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	raw, err := c.r.Get(ctx, "price:"+ticker).Bytes()
	if err != nil {
		return nil, false
	}
	var snap models.PriceSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, false
	}
	snap.Scrub()
	return &snap, true
}

func (c *redisCache) Set(ticker string, snap *models.PriceSnapshot, ttl time.Duration) {
	if snap == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_ = c.r.Set(ctx, "price:"+ticker, raw, ttl).Err()
}
