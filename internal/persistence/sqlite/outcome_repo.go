package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/catalystbot/catalystbot/internal/models"
	"github.com/catalystbot/catalystbot/internal/persistence"
)

type outcomeRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func (r *outcomeRepo) Append(ctx context.Context, rec models.OutcomeRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	reasons, err := json.Marshal(rec.Reasons)
	if err != nil {
		return fmt.Errorf("failed to marshal reasons: %w", err)
	}
	keywords, err := json.Marshal(rec.Keywords)
	if err != nil {
		return fmt.Errorf("failed to marshal keywords: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO outcomes (ts, source, source_id, ticker, title, decision, reasons, score, sentiment, price, keywords)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UTC(), rec.Source, rec.SourceID, rec.Ticker, rec.Title,
		string(rec.Decision), string(reasons), rec.Score, rec.Sentiment, rec.Price, string(keywords))
	if err != nil {
		return fmt.Errorf("failed to append outcome: %w", err)
	}
	return nil
}

func (r *outcomeRepo) Window(ctx context.Context, tr persistence.TimeRange) ([]models.OutcomeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx,
		`SELECT ts, source, source_id, ticker, title, decision, reasons, score, sentiment, price, keywords
		 FROM outcomes WHERE ts >= ? AND ts < ? ORDER BY ts ASC`,
		tr.From.UTC(), tr.To.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var recs []models.OutcomeRecord
	for rows.Next() {
		var (
			rec               models.OutcomeRecord
			decision          string
			reasons, keywords string
		)
		if err := rows.Scan(&rec.Timestamp, &rec.Source, &rec.SourceID, &rec.Ticker, &rec.Title,
			&decision, &reasons, &rec.Score, &rec.Sentiment, &rec.Price, &keywords); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		rec.Decision = models.Decision(decision)
		if err := json.Unmarshal([]byte(reasons), &rec.Reasons); err != nil {
			return nil, fmt.Errorf("failed to decode reasons: %w", err)
		}
		if err := json.Unmarshal([]byte(keywords), &rec.Keywords); err != nil {
			return nil, fmt.Errorf("failed to decode keywords: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (r *outcomeRepo) CountByDecision(ctx context.Context, tr persistence.TimeRange) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx,
		`SELECT decision, COUNT(*) FROM outcomes WHERE ts >= ? AND ts < ? GROUP BY decision`,
		tr.From.UTC(), tr.To.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var decision string
		var n int64
		if err := rows.Scan(&decision, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[decision] = n
	}
	return counts, rows.Err()
}
