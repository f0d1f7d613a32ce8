package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/catalystbot/catalystbot/internal/models"
	"github.com/catalystbot/catalystbot/internal/persistence"
)

// Decision is the outcome of a check-and-mark.
type Decision int

const (
	Fresh Decision = iota
	SeenByID
	SeenBySig
)

func (d Decision) String() string {
	switch d {
	case Fresh:
		return "fresh"
	case SeenByID:
		return "seen_by_id"
	case SeenBySig:
		return "seen_by_sig"
	}
	return "unknown"
}

// Keys holds the two dedup signatures computed for an item.
type Keys struct {
	ID        string // hash(source | source_id)
	Sig       string // content signature
	NormTitle string
}

// KeysFor computes both dedup keys. For filings the content key derives
// from the accession number so every URL variant collapses to one key.
func KeysFor(item *models.NewsItem) Keys {
	norm := NormalizeTitle(item.Title)
	accession := item.Accession
	if accession == "" {
		accession = ExtractAccession(item.URL)
	}
	var sig string
	if accession != "" {
		sig = models.HashKey("accession|" + accession)
	} else {
		sig = models.HashKey(CanonicalURL(item.URL) + "|" + norm)
	}
	return Keys{
		ID:        models.HashKey(item.Source + "|" + item.SourceID),
		Sig:       sig,
		NormTitle: norm,
	}
}

// Config tunes the store.
type Config struct {
	TTL             time.Duration // persisted key lifetime
	FuzzyThreshold  float64       // token-set similarity for cross-source match
	FuzzyWindow     time.Duration // how far back to fuzzy-compare titles
	FuzzyCandidates int           // max stored titles to compare against
	HotTTL          time.Duration // in-memory layer lifetime
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		TTL:             7 * 24 * time.Hour,
		FuzzyThreshold:  0.8,
		FuzzyWindow:     48 * time.Hour,
		FuzzyCandidates: 500,
		HotTTL:          15 * time.Minute,
	}
}

// Store layers an in-memory hot cache and per-cycle reservations over the
// persistent dedup repo. The persistent layer is the source of truth; Fresh
// is never returned when either key matches an unexpired entry.
type Store struct {
	repo persistence.DedupRepo
	cfg  Config

	mu       sync.Mutex
	hot      map[string]time.Time // committed keys, short TTL
	reserved map[string]bool      // claimed this cycle, not yet committed
	now      func() time.Time
}

// New builds a dedup store over the persistent repo.
func New(repo persistence.DedupRepo, cfg Config) *Store {
	return &Store{
		repo:     repo,
		cfg:      cfg,
		hot:      make(map[string]time.Time),
		reserved: make(map[string]bool),
		now:      time.Now,
	}
}

// Startup purges persisted entries older than the TTL. Called once before
// the first cycle.
func (s *Store) Startup(ctx context.Context) error {
	n, err := s.repo.Purge(ctx, s.now().Add(-s.cfg.TTL))
	if err != nil {
		return fmt.Errorf("dedup purge failed: %w", err)
	}
	if n > 0 {
		log.Info().Int64("purged", n).Msg("dedup store purged expired keys")
	}
	return nil
}

// BeginCycle drops the reservation set. Items reserved but never committed
// in the prior cycle become eligible again, which is safe: at-least-once
// with idempotent commit.
func (s *Store) BeginCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserved = make(map[string]bool)
	cutoff := s.now().Add(-s.cfg.HotTTL)
	for k, at := range s.hot {
		if at.Before(cutoff) {
			delete(s.hot, k)
		}
	}
}

// CheckAndMark atomically checks both indexes and, when fresh, reserves the
// keys for this cycle. Two concurrent callers for the same item observe
// exactly one Fresh.
func (s *Store) CheckAndMark(ctx context.Context, item *models.NewsItem) (Decision, error) {
	keys := KeysFor(item)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reserved[keys.ID] || s.hotHit(keys.ID) {
		return SeenByID, nil
	}
	if s.reserved[keys.Sig] || s.hotHit(keys.Sig) {
		return SeenBySig, nil
	}

	notBefore := s.now().Add(-s.cfg.TTL)
	seen, err := s.repo.HasID(ctx, keys.ID, notBefore)
	if err != nil {
		return Fresh, fmt.Errorf("dedup id lookup failed: %w", err)
	}
	if seen {
		return SeenByID, nil
	}
	seen, err = s.repo.HasSig(ctx, keys.Sig, notBefore)
	if err != nil {
		return Fresh, fmt.Errorf("dedup sig lookup failed: %w", err)
	}
	if seen {
		return SeenBySig, nil
	}

	// No exact signature: fuzzy-compare against recently stored titles for
	// cross-source near-duplicates. Filings matched exactly above.
	if keys.NormTitle != "" {
		titles, err := s.repo.RecentSigTitles(ctx, s.now().Add(-s.cfg.FuzzyWindow), s.cfg.FuzzyCandidates)
		if err != nil {
			return Fresh, fmt.Errorf("dedup title scan failed: %w", err)
		}
		for _, prior := range titles {
			if TokenSetSimilarity(keys.NormTitle, prior) >= s.cfg.FuzzyThreshold {
				return SeenBySig, nil
			}
		}
	}

	s.reserved[keys.ID] = true
	s.reserved[keys.Sig] = true
	return Fresh, nil
}

// Commit persists both keys for an item whose processing reached a terminal
// decision (delivered alert or explicit drop). Idempotent.
func (s *Store) Commit(ctx context.Context, item *models.NewsItem) error {
	keys := KeysFor(item)
	at := s.now().UTC()

	if _, err := s.repo.MarkID(ctx, keys.ID, at); err != nil {
		return fmt.Errorf("dedup mark id failed: %w", err)
	}
	if err := s.repo.StoreSigTitle(ctx, keys.Sig, keys.NormTitle, at); err != nil {
		return fmt.Errorf("dedup mark sig failed: %w", err)
	}

	s.mu.Lock()
	s.hot[keys.ID] = at
	s.hot[keys.Sig] = at
	delete(s.reserved, keys.ID)
	delete(s.reserved, keys.Sig)
	s.mu.Unlock()
	return nil
}

// Release drops an uncommitted reservation so a deferred item is
// reconsidered next cycle.
func (s *Store) Release(item *models.NewsItem) {
	keys := KeysFor(item)
	s.mu.Lock()
	delete(s.reserved, keys.ID)
	delete(s.reserved, keys.Sig)
	s.mu.Unlock()
}

func (s *Store) hotHit(key string) bool {
	at, ok := s.hot[key]
	if !ok {
		return false
	}
	return s.now().Sub(at) <= s.cfg.HotTTL
}

// SetClock overrides the time source (tests).
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
