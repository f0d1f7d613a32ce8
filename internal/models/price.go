package models

import (
	"math"
	"time"
)

// PriceSnapshot is a quote for a single ticker. Last and ChangePct may be
// explicitly missing (nil) but are never NaN or Inf.
type PriceSnapshot struct {
	Ticker    string    `json:"ticker" db:"ticker"`
	Last      *float64  `json:"last,omitempty" db:"last"`
	PrevClose *float64  `json:"prev_close,omitempty" db:"prev_close"`
	ChangePct *float64  `json:"change_pct,omitempty" db:"change_pct"`
	AsOf      time.Time `json:"as_of" db:"as_of"`
	Provider  string    `json:"provider" db:"provider"`
}

// HasLast reports whether a usable last price is present.
func (p *PriceSnapshot) HasLast() bool {
	return p != nil && p.Last != nil && isFinite(*p.Last)
}

// Scrub converts any non-finite values to explicit missing. Adapters call
// this before a snapshot leaves the price service.
func (p *PriceSnapshot) Scrub() {
	p.Last = finiteOrNil(p.Last)
	p.PrevClose = finiteOrNil(p.PrevClose)
	p.ChangePct = finiteOrNil(p.ChangePct)
}

// Float returns a pointer to v, for snapshot literals.
func Float(v float64) *float64 { return &v }

func finiteOrNil(v *float64) *float64 {
	if v == nil || !isFinite(*v) {
		return nil
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
