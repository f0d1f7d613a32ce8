package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/catalystbot/catalystbot/internal/persistence"
)

type auditRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func (r *auditRepo) Append(ctx context.Context, rec persistence.AuditRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, ts, author, source_tag, action, delta_json, revision)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UTC(), rec.Author, rec.SourceTag, rec.Action, rec.DeltaJSON, rec.Revision)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

func (r *auditRepo) List(ctx context.Context, limit int) ([]persistence.AuditRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var recs []persistence.AuditRecord
	err := r.db.SelectContext(ctx, &recs,
		`SELECT id, ts, author, source_tag, action, delta_json, revision
		 FROM audit_log ORDER BY ts DESC, revision DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	return recs, nil
}

type backupRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Push appends a snapshot to the ring and trims it to keep entries.
func (r *backupRepo) Push(ctx context.Context, rec persistence.BackupRecord, keep int) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin backup tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO config_backups (revision, ts, values_json) VALUES (?, ?, ?)`,
		rec.Revision, rec.Timestamp.UTC(), rec.ValuesJSON); err != nil {
		return fmt.Errorf("failed to push backup: %w", err)
	}
	if keep > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM config_backups WHERE revision NOT IN
			 (SELECT revision FROM config_backups ORDER BY revision DESC LIMIT ?)`, keep); err != nil {
			return fmt.Errorf("failed to trim backup ring: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit backup: %w", err)
	}
	return nil
}

func (r *backupRepo) Latest(ctx context.Context) (*persistence.BackupRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rec persistence.BackupRecord
	err := r.db.GetContext(ctx, &rec,
		`SELECT revision, ts, values_json FROM config_backups ORDER BY revision DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest backup: %w", err)
	}
	return &rec, nil
}

// Pop removes and returns the most recent backup (rollback consumes it).
func (r *backupRepo) Pop(ctx context.Context) (*persistence.BackupRecord, error) {
	rec, err := r.Latest(ctx)
	if err != nil || rec == nil {
		return rec, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM config_backups WHERE revision = ?`, rec.Revision); err != nil {
		return nil, fmt.Errorf("failed to pop backup: %w", err)
	}
	return rec, nil
}
