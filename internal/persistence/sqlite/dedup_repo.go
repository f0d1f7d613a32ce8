package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// dedupRepo implements persistence.DedupRepo over sqlite. INSERT OR IGNORE
// plus the single-connection pool makes check-and-mark atomic per key.
type dedupRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func (r *dedupRepo) HasID(ctx context.Context, key string, notBefore time.Time) (bool, error) {
	return r.has(ctx, "seen_id", key, notBefore)
}

func (r *dedupRepo) HasSig(ctx context.Context, key string, notBefore time.Time) (bool, error) {
	return r.has(ctx, "seen_sig", key, notBefore)
}

func (r *dedupRepo) has(ctx context.Context, table, key string, notBefore time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var firstSeen time.Time
	query := fmt.Sprintf(`SELECT first_seen FROM %s WHERE key = ?`, table)
	err := r.db.QueryRowxContext(ctx, query, key).Scan(&firstSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query %s: %w", table, err)
	}
	if !notBefore.IsZero() && firstSeen.Before(notBefore) {
		return false, nil
	}
	return true, nil
}

func (r *dedupRepo) MarkID(ctx context.Context, key string, at time.Time) (bool, error) {
	// Re-marking an expired key refreshes its first_seen.
	return r.mark(ctx, `INSERT INTO seen_id (key, first_seen) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET first_seen = excluded.first_seen`, key, at)
}

func (r *dedupRepo) mark(ctx context.Context, query, key string, at time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, query, key, at.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to mark key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *dedupRepo) StoreSigTitle(ctx context.Context, key, normTitle string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO seen_sig (key, norm_title, first_seen) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET norm_title = excluded.norm_title,
		   first_seen = excluded.first_seen`,
		key, normTitle, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to store sig title: %w", err)
	}
	return nil
}

func (r *dedupRepo) RecentSigTitles(ctx context.Context, since time.Time, limit int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var titles []string
	err := r.db.SelectContext(ctx, &titles,
		`SELECT norm_title FROM seen_sig
		 WHERE first_seen >= ? AND norm_title != ''
		 ORDER BY first_seen DESC LIMIT ?`, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent titles: %w", err)
	}
	return titles, nil
}

func (r *dedupRepo) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var total int64
	for _, table := range []string{"seen_id", "seen_sig"} {
		res, err := r.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE first_seen < ?`, table), cutoff.UTC())
		if err != nil {
			return total, fmt.Errorf("failed to purge %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
