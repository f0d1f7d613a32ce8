package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/catalystbot/catalystbot/internal/persistence"
)

const defaultTimeout = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS seen_id (
	key        TEXT PRIMARY KEY,
	first_seen TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS seen_sig (
	key        TEXT PRIMARY KEY,
	norm_title TEXT NOT NULL DEFAULT '',
	first_seen TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_seen_id_ts  ON seen_id(first_seen);
CREATE INDEX IF NOT EXISTS idx_seen_sig_ts ON seen_sig(first_seen);

CREATE TABLE IF NOT EXISTS audit_log (
	id         TEXT PRIMARY KEY,
	ts         TIMESTAMP NOT NULL,
	author     TEXT NOT NULL,
	source_tag TEXT NOT NULL,
	action     TEXT NOT NULL,
	delta_json TEXT NOT NULL,
	revision   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts DESC);

CREATE TABLE IF NOT EXISTS config_backups (
	revision    INTEGER PRIMARY KEY,
	ts          TIMESTAMP NOT NULL,
	values_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS outcomes (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	ts        TIMESTAMP NOT NULL,
	source    TEXT NOT NULL,
	source_id TEXT NOT NULL,
	ticker    TEXT NOT NULL DEFAULT '',
	title     TEXT NOT NULL DEFAULT '',
	decision  TEXT NOT NULL,
	reasons   TEXT NOT NULL DEFAULT '[]',
	score     REAL NOT NULL DEFAULT 0,
	sentiment REAL NOT NULL DEFAULT 0,
	price     REAL,
	keywords  TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_outcomes_ts ON outcomes(ts);

CREATE TABLE IF NOT EXISTS price_cache (
	ticker     TEXT PRIMARY KEY,
	last       REAL,
	prev_close REAL,
	change_pct REAL,
	as_of      TIMESTAMP NOT NULL,
	provider   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS llm_cache (
	prompt_hash TEXT NOT NULL,
	tier        TEXT NOT NULL,
	response    TEXT NOT NULL,
	cost_usd    REAL NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (prompt_hash, tier)
);
CREATE INDEX IF NOT EXISTS idx_llm_cache_ts ON llm_cache(created_at);
`

// Open opens (or creates) the embedded store at path and returns the
// repository aggregate. Use ":memory:" for tests.
func Open(path string) (*persistence.Store, *sqlx.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_fk=1", path)
	if path == ":memory:" {
		// Shared cache so every pooled connection sees the same database.
		dsn = "file::memory:?cache=shared&_busy_timeout=5000"
	}
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	// sqlite handles one writer; serialize through a single connection to
	// keep check-and-mark linearizable.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	store := &persistence.Store{
		Dedup:      &dedupRepo{db: db, timeout: defaultTimeout},
		Audit:      &auditRepo{db: db, timeout: defaultTimeout},
		Backups:    &backupRepo{db: db, timeout: defaultTimeout},
		Outcomes:   &outcomeRepo{db: db, timeout: defaultTimeout},
		PriceCache: &priceCacheRepo{db: db, timeout: defaultTimeout},
		LLMCache:   &llmCacheRepo{db: db, timeout: defaultTimeout},
	}
	return store, db, nil
}
