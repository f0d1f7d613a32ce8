package filters

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/catalystbot/catalystbot/internal/models"
)

// Params are the gate thresholds, captured once per cycle from the live
// parameter snapshot.
type Params struct {
	MaxTickers         int
	SourceBlocklist    []string
	PriceCeiling       float64 // 0 disables
	PriceFloor         float64 // 0 disables
	FloorOverrideOn    bool
	FloorOverrideScore float64
	MinScore           float64
	MinSentAbs         float64
	CategoryAllow      []string
}

// Env is everything the gates read besides the item itself.
type Env struct {
	Seen   bool
	Listed func(string) bool
	Params Params
}

// Result is one chain evaluation: pass, or a named rejection.
type Result struct {
	Pass   bool
	Reason models.Reason
	Detail string
}

// Gate inspects one item; a non-empty reason rejects it.
type Gate struct {
	Name  string
	Check func(ci *models.ClassifiedItem, env Env) (models.Reason, string)
}

// Chain is the fixed, ordered gate sequence. Order is part of the
// contract: cheap structural gates run before price and score gates.
type Chain struct {
	gates []Gate
}

// NewChain builds a chain from explicit gates, used by tests; production
// code uses Standard.
func NewChain(gates ...Gate) *Chain {
	return &Chain{gates: gates}
}

func structuralGates() []Gate {
	return []Gate{
		{Name: "seen", Check: gateSeen},
		{Name: "multi_ticker", Check: gateMultiTicker},
		{Name: "presentation_noise", Check: gatePresentationNoise},
		{Name: "commentary", Check: gateCommentary},
		{Name: "source_blocklist", Check: gateSourceBlocklist},
		{Name: "no_ticker", Check: gateNoTicker},
		{Name: "ticker_policy", Check: gateTickerPolicy},
	}
}

// Structural returns only the cheap gates that need no price or score
// enrichment. The orchestrator runs these before spending provider budget
// on an item.
func Structural() *Chain {
	return NewChain(structuralGates()...)
}

// Standard returns the full production gate order.
func Standard() *Chain {
	gates := structuralGates()
	gates = append(gates,
		Gate{Name: "price_presence", Check: gatePricePresence},
		Gate{Name: "price_bounds", Check: gatePriceBounds},
		Gate{Name: "min_score", Check: gateMinScore},
		Gate{Name: "min_sent_abs", Check: gateMinSentAbs},
		Gate{Name: "category_allow", Check: gateCategoryAllow},
	)
	return NewChain(gates...)
}

// Evaluate runs the item through every gate in order and stops at the
// first rejection. A panicking gate rejects the item with FILTER_ERROR and
// the cycle continues.
func (c *Chain) Evaluate(ci *models.ClassifiedItem, env Env) (res Result) {
	for _, gate := range c.gates {
		reason, detail, err := c.run(gate, ci, env)
		if err != nil {
			log.Error().Err(err).
				Str("gate", gate.Name).
				Str("item", ci.Item.String()).
				Msg("filter gate failed")
			return Result{Reason: models.ReasonFilterError, Detail: err.Error()}
		}
		if reason != "" {
			return Result{Reason: reason, Detail: detail}
		}
	}
	return Result{Pass: true}
}

func (c *Chain) run(gate Gate, ci *models.ClassifiedItem, env Env) (reason models.Reason, detail string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gate %s panicked: %v", gate.Name, r)
		}
	}()
	reason, detail = gate.Check(ci, env)
	return reason, detail, nil
}
