package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/catalystbot/catalystbot/internal/models"
	"github.com/catalystbot/catalystbot/internal/persistence"
)

type priceCacheRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func (r *priceCacheRepo) Upsert(ctx context.Context, snap models.PriceSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO price_cache (ticker, last, prev_close, change_pct, as_of, provider)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(ticker) DO UPDATE SET
		   last = excluded.last, prev_close = excluded.prev_close,
		   change_pct = excluded.change_pct, as_of = excluded.as_of,
		   provider = excluded.provider`,
		snap.Ticker, snap.Last, snap.PrevClose, snap.ChangePct, snap.AsOf.UTC(), snap.Provider)
	if err != nil {
		return fmt.Errorf("failed to upsert price: %w", err)
	}
	return nil
}

func (r *priceCacheRepo) Get(ctx context.Context, ticker string, maxAge time.Duration) (*models.PriceSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var snap models.PriceSnapshot
	err := r.db.GetContext(ctx, &snap,
		`SELECT ticker, last, prev_close, change_pct, as_of, provider
		 FROM price_cache WHERE ticker = ?`, ticker)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached price: %w", err)
	}
	if maxAge > 0 && time.Since(snap.AsOf) > maxAge {
		return nil, nil
	}
	snap.Scrub()
	return &snap, nil
}

type llmCacheRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func (r *llmCacheRepo) Upsert(ctx context.Context, entry persistence.LLMCacheEntry) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO llm_cache (prompt_hash, tier, response, cost_usd, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(prompt_hash, tier) DO UPDATE SET
		   response = excluded.response, cost_usd = excluded.cost_usd`,
		entry.PromptHash, entry.Tier, entry.Response, entry.CostUSD, entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert llm cache entry: %w", err)
	}
	return nil
}

func (r *llmCacheRepo) Get(ctx context.Context, promptHash, tier string) (*persistence.LLMCacheEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var entry persistence.LLMCacheEntry
	err := r.db.GetContext(ctx, &entry,
		`SELECT prompt_hash, tier, response, cost_usd, created_at
		 FROM llm_cache WHERE prompt_hash = ? AND tier = ?`, promptHash, tier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get llm cache entry: %w", err)
	}
	return &entry, nil
}

// SpendSince sums recorded provider cost since the given time; cached hits
// carry zero incremental cost so this reflects billable traffic only.
func (r *llmCacheRepo) SpendSince(ctx context.Context, since time.Time) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var total sql.NullFloat64
	err := r.db.GetContext(ctx, &total,
		`SELECT SUM(cost_usd) FROM llm_cache WHERE created_at >= ?`, since.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to sum llm spend: %w", err)
	}
	return total.Float64, nil
}
