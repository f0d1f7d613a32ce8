package persistence

import (
	"context"
	"time"

	"github.com/catalystbot/catalystbot/internal/models"
)

// TimeRange is a half-open [From, To) query window.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SeenEntry is a persisted dedup key with its first-seen timestamp.
type SeenEntry struct {
	Key       string    `json:"key" db:"key"`
	FirstSeen time.Time `json:"first_seen" db:"first_seen"`
}

// DedupRepo persists the two dedup indexes: by-id and by-signature. The
// persistent layer is the source of truth; Mark* are idempotent upserts.
type DedupRepo interface {
	// HasID reports whether the id key exists with first_seen >= notBefore.
	HasID(ctx context.Context, key string, notBefore time.Time) (bool, error)

	// HasSig reports whether the content-signature key exists with
	// first_seen >= notBefore.
	HasSig(ctx context.Context, key string, notBefore time.Time) (bool, error)

	// MarkID inserts the id key if absent; reports whether it was inserted.
	MarkID(ctx context.Context, key string, at time.Time) (bool, error)

	// RecentSigTitles returns stored normalized titles for fuzzy matching.
	RecentSigTitles(ctx context.Context, since time.Time, limit int) ([]string, error)

	// StoreSigTitle records a normalized title alongside its signature key.
	StoreSigTitle(ctx context.Context, key, normTitle string, at time.Time) error

	// Purge removes entries first seen before the cutoff from both indexes.
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditRecord is one append-only entry in the parameter audit log.
type AuditRecord struct {
	ID        string    `json:"id" db:"id"`
	Timestamp time.Time `json:"ts" db:"ts"`
	Author    string    `json:"author" db:"author"`
	SourceTag string    `json:"source_tag" db:"source_tag"`
	Action    string    `json:"action" db:"action"` // apply | rollback
	DeltaJSON string    `json:"delta_json" db:"delta_json"`
	Revision  int64     `json:"revision" db:"revision"`
}

// AuditRepo is the append-only audit log for parameter mutations.
type AuditRepo interface {
	Append(ctx context.Context, rec AuditRecord) error
	List(ctx context.Context, limit int) ([]AuditRecord, error)
}

// BackupRecord is one full config snapshot in the backup ring.
type BackupRecord struct {
	Revision  int64     `json:"revision" db:"revision"`
	Timestamp time.Time `json:"ts" db:"ts"`
	ValuesJSON string   `json:"values_json" db:"values_json"`
}

// BackupRepo stores the config backup ring indexed by revision.
type BackupRepo interface {
	Push(ctx context.Context, rec BackupRecord, keep int) error
	Latest(ctx context.Context) (*BackupRecord, error)
	Pop(ctx context.Context) (*BackupRecord, error)
}

// OutcomeRepo appends and reads back pipeline outcome records.
type OutcomeRepo interface {
	Append(ctx context.Context, rec models.OutcomeRecord) error
	Window(ctx context.Context, tr TimeRange) ([]models.OutcomeRecord, error)
	CountByDecision(ctx context.Context, tr TimeRange) (map[string]int64, error)
}

// PriceCacheRepo persists quote snapshots for warm restarts.
type PriceCacheRepo interface {
	Upsert(ctx context.Context, snap models.PriceSnapshot) error
	Get(ctx context.Context, ticker string, maxAge time.Duration) (*models.PriceSnapshot, error)
}

// LLMCacheEntry is one semantic-cache row.
type LLMCacheEntry struct {
	PromptHash string    `json:"prompt_hash" db:"prompt_hash"`
	Tier       string    `json:"tier" db:"tier"`
	Response   string    `json:"response" db:"response"`
	CostUSD    float64   `json:"cost_usd" db:"cost_usd"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// LLMCacheRepo persists LLM verdicts keyed by normalized prompt hash + tier.
// Upsert is idempotent.
type LLMCacheRepo interface {
	Upsert(ctx context.Context, entry LLMCacheEntry) error
	Get(ctx context.Context, promptHash, tier string) (*LLMCacheEntry, error)
	SpendSince(ctx context.Context, since time.Time) (float64, error)
}

// Store aggregates all repositories over one embedded database.
type Store struct {
	Dedup      DedupRepo
	Audit      AuditRepo
	Backups    BackupRepo
	Outcomes   OutcomeRepo
	PriceCache PriceCacheRepo
	LLMCache   LLMCacheRepo
}
