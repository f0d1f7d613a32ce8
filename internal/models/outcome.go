package models

import "time"

// OutcomeRecord is the durable record of what the pipeline decided about an
// item. One record is appended per processed item, dispatched or rejected;
// reporting and the recommendation engine read these back.
type OutcomeRecord struct {
	Timestamp time.Time `json:"ts" db:"ts"`
	Source    string    `json:"source" db:"source"`
	SourceID  string    `json:"source_id" db:"source_id"`
	Ticker    string    `json:"ticker,omitempty" db:"ticker"`
	Title     string    `json:"title,omitempty" db:"title"`
	Decision  Decision  `json:"decision" db:"decision"`
	Reasons   []string  `json:"reasons,omitempty"`
	Score     float64   `json:"score" db:"score"`
	Sentiment float64   `json:"sentiment" db:"sentiment"`
	Price     *float64  `json:"price,omitempty" db:"price"`
	Keywords  []string  `json:"keywords,omitempty"`
}
