package engine

import (
	"time"

	"github.com/catalystbot/catalystbot/internal/config"
)

// Phase is one of the four market phases driving cycle cadence.
type Phase string

const (
	PhasePremarket  Phase = "premarket"
	PhaseRegular    Phase = "regular"
	PhaseAfterHours Phase = "afterhours"
	PhaseClosed     Phase = "closed"
)

// usEquityHolidays are full-session market holidays (exchange calendar).
var usEquityHolidays = map[string]bool{
	"2025-01-01": true, "2025-01-20": true, "2025-02-17": true,
	"2025-04-18": true, "2025-05-26": true, "2025-06-19": true,
	"2025-07-04": true, "2025-09-01": true, "2025-11-27": true,
	"2025-12-25": true,
	"2026-01-01": true, "2026-01-19": true, "2026-02-16": true,
	"2026-04-03": true, "2026-05-25": true, "2026-06-19": true,
	"2026-07-03": true, "2026-09-07": true, "2026-11-26": true,
	"2026-12-25": true,
}

// MarketClock resolves the current phase from a wall clock and the holiday
// calendar.
type MarketClock struct {
	loc *time.Location
}

// NewMarketClock builds the clock on the exchange timezone, falling back
// to a fixed offset when the zone database is unavailable.
func NewMarketClock() *MarketClock {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("ET", -5*3600)
	}
	return &MarketClock{loc: loc}
}

// PhaseAt returns the phase for an instant.
// Pre-market 04:00, regular 09:30, after-hours 16:00 to 20:00, exchange time.
func (m *MarketClock) PhaseAt(t time.Time) Phase {
	local := t.In(m.loc)

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return PhaseClosed
	}
	if usEquityHolidays[local.Format("2006-01-02")] {
		return PhaseClosed
	}

	minutes := local.Hour()*60 + local.Minute()
	switch {
	case minutes < 4*60:
		return PhaseClosed
	case minutes < 9*60+30:
		return PhasePremarket
	case minutes < 16*60:
		return PhaseRegular
	case minutes < 20*60:
		return PhaseAfterHours
	default:
		return PhaseClosed
	}
}

// CadenceFor selects the configured cycle interval for a phase.
func CadenceFor(phase Phase, snap config.Snapshot) time.Duration {
	switch phase {
	case PhasePremarket:
		return snap.Seconds(config.KeyCyclePremarketSec)
	case PhaseRegular:
		return snap.Seconds(config.KeyCycleRegularSec)
	case PhaseAfterHours:
		return snap.Seconds(config.KeyCycleAfterHoursSec)
	default:
		return snap.Seconds(config.KeyCycleClosedSec)
	}
}

// cadenceWait is the remaining sleep until the next cadence boundary. A
// cycle that ran past its cadence starts the next one immediately.
func cadenceWait(cadence, elapsed time.Duration) time.Duration {
	if elapsed >= cadence {
		return 0
	}
	return cadence - elapsed
}
