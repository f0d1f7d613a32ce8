package config

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/catalystbot/catalystbot/internal/persistence"
)

// RateLimitedError is returned when Apply is called inside the minimum
// interval window. Remaining is the time until the next allowed apply.
type RateLimitedError struct {
	Remaining time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("parameter apply rate limited, retry in %s", e.Remaining.Round(time.Second))
}

// Snapshot is an immutable view of the full parameter set at one revision.
type Snapshot struct {
	Revision int64
	TakenAt  time.Time
	values   map[string]any
}

// Float returns the float value for key; zero if absent or mistyped.
func (s Snapshot) Float(key string) float64 {
	v, _ := s.values[key].(float64)
	return v
}

// Int returns the int value for key.
func (s Snapshot) Int(key string) int {
	v, _ := s.values[key].(int)
	return v
}

// Bool returns the bool value for key.
func (s Snapshot) Bool(key string) bool {
	v, _ := s.values[key].(bool)
	return v
}

// Str returns the string value for key.
func (s Snapshot) Str(key string) string {
	v, _ := s.values[key].(string)
	return v
}

// Strings returns the string-list value for key.
func (s Snapshot) Strings(key string) []string {
	v, _ := s.values[key].([]string)
	return v
}

// Seconds interprets an int key as a duration in seconds.
func (s Snapshot) Seconds(key string) time.Duration {
	return time.Duration(s.Int(key)) * time.Second
}

// SecondsF interprets a float key as a duration in seconds.
func (s Snapshot) SecondsF(key string) time.Duration {
	return time.Duration(s.Float(key) * float64(time.Second))
}

// Values returns a copy of the underlying map for display/serialization.
func (s Snapshot) Values() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// ApplyResult reports a successful mutation.
type ApplyResult struct {
	Revision int64          `json:"revision"`
	Applied  map[string]any `json:"applied"`
}

// Store owns the live parameter snapshot. Every mutation validates against
// the schema, backs up prior state, swaps atomically, and appends an audit
// record; the whole delta fails on any invalid key.
type Store struct {
	schema *Schema
	audit  persistence.AuditRepo
	backup persistence.BackupRepo

	mu        sync.RWMutex
	live      Snapshot
	lastApply time.Time
	ringKeep  int
	now       func() time.Time

	watchMu  sync.Mutex
	watchers []chan struct{}
}

// NewStore builds a store seeded from values (normally the loaded bootstrap
// config merged over schema defaults).
func NewStore(schema *Schema, values map[string]any, audit persistence.AuditRepo, backup persistence.BackupRepo) *Store {
	seeded := schema.Defaults()
	for k, v := range values {
		seeded[k] = v
	}
	return &Store{
		schema:   schema,
		audit:    audit,
		backup:   backup,
		live:     Snapshot{Revision: 1, TakenAt: time.Now().UTC(), values: seeded},
		ringKeep: 32,
		now:      time.Now,
	}
}

// Get returns the current snapshot. The snapshot is safe to retain for the
// duration of a cycle; in-flight cycles keep the values they captured.
func (st *Store) Get() Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.live
}

// Apply validates and applies a delta atomically. All-or-nothing: any
// invalid key leaves the snapshot unchanged and writes no backup.
func (st *Store) Apply(ctx context.Context, delta map[string]any, author, sourceTag string) (*ApplyResult, error) {
	if len(delta) == 0 {
		return nil, fmt.Errorf("empty delta")
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	minInterval := time.Duration(st.live.values[KeyApplyMinIntervalSec].(int)) * time.Second
	if !st.lastApply.IsZero() && minInterval > 0 {
		elapsed := st.now().Sub(st.lastApply)
		if elapsed < minInterval {
			return nil, &RateLimitedError{Remaining: minInterval - elapsed}
		}
	}

	// Normalize every key before touching live state.
	normalized := make(map[string]any, len(delta))
	for k, raw := range delta {
		v, err := st.schema.Normalize(k, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid delta: %w", err)
		}
		normalized[k] = v
	}

	candidate := make(map[string]any, len(st.live.values))
	for k, v := range st.live.values {
		candidate[k] = v
	}
	for k, v := range normalized {
		candidate[k] = v
	}
	if err := st.schema.ValidateAll(candidate); err != nil {
		return nil, fmt.Errorf("invalid delta: %w", err)
	}

	// Back up prior state, then swap.
	priorJSON, err := json.Marshal(st.live.values)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize prior state: %w", err)
	}
	if err := st.backup.Push(ctx, persistence.BackupRecord{
		Revision:   st.live.Revision,
		Timestamp:  st.now().UTC(),
		ValuesJSON: string(priorJSON),
	}, st.ringKeep); err != nil {
		return nil, fmt.Errorf("failed to back up prior state: %w", err)
	}

	rev := st.live.Revision + 1
	st.live = Snapshot{Revision: rev, TakenAt: st.now().UTC(), values: candidate}
	st.lastApply = st.now()

	deltaJSON, _ := json.Marshal(normalized)
	if err := st.audit.Append(ctx, persistence.AuditRecord{
		ID:        uuid.NewString(),
		Timestamp: st.now().UTC(),
		Author:    author,
		SourceTag: sourceTag,
		Action:    "apply",
		DeltaJSON: string(deltaJSON),
		Revision:  rev,
	}); err != nil {
		log.Warn().Err(err).Msg("config audit append failed")
	}

	log.Info().Str("author", author).Str("source", sourceTag).
		Int64("revision", rev).RawJSON("delta", deltaJSON).
		Msg("parameters applied")

	st.notify()
	return &ApplyResult{Revision: rev, Applied: normalized}, nil
}

// Rollback restores the most recent backup and appends its own audit record.
// History is never deleted.
func (st *Store) Rollback(ctx context.Context, author, sourceTag string) (*ApplyResult, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, err := st.backup.Pop(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("no backup available to roll back to")
	}

	restored := make(map[string]any)
	if err := json.Unmarshal([]byte(rec.ValuesJSON), &restored); err != nil {
		return nil, fmt.Errorf("failed to decode backup: %w", err)
	}
	// JSON round-trips ints as float64; renormalize through the schema so
	// typed accessors keep working.
	for k, raw := range restored {
		if v, err := st.schema.Normalize(k, raw); err == nil {
			restored[k] = v
		}
	}

	rev := st.live.Revision + 1
	st.live = Snapshot{Revision: rev, TakenAt: st.now().UTC(), values: restored}

	if err := st.audit.Append(ctx, persistence.AuditRecord{
		ID:        uuid.NewString(),
		Timestamp: st.now().UTC(),
		Author:    author,
		SourceTag: sourceTag,
		Action:    "rollback",
		DeltaJSON: fmt.Sprintf(`{"restored_revision":%d}`, rec.Revision),
		Revision:  rev,
	}); err != nil {
		log.Warn().Err(err).Msg("config audit append failed")
	}

	log.Info().Str("author", author).Int64("revision", rev).
		Int64("restored", rec.Revision).Msg("parameters rolled back")

	st.notify()
	return &ApplyResult{Revision: rev}, nil
}

// History returns the most recent audit entries, newest first.
func (st *Store) History(ctx context.Context, limit int) ([]persistence.AuditRecord, error) {
	return st.audit.List(ctx, limit)
}

// Watch returns a channel that receives a tick after every successful
// mutation. The channel is never closed and drops ticks if unread.
func (st *Store) Watch() <-chan struct{} {
	st.watchMu.Lock()
	defer st.watchMu.Unlock()
	ch := make(chan struct{}, 1)
	st.watchers = append(st.watchers, ch)
	return ch
}

func (st *Store) notify() {
	st.watchMu.Lock()
	defer st.watchMu.Unlock()
	for _, ch := range st.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// SetClock overrides the time source (tests).
func (st *Store) SetClock(now func() time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.now = now
}
