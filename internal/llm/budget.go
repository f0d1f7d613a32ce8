package llm

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/catalystbot/catalystbot/internal/persistence"
)

// Budget tracks daily and monthly LLM spend with exact decimal arithmetic.
// Once either ceiling is reached, Allow fails closed until the window rolls
// over; a soft warning logs once per window at the configured fraction.
type Budget struct {
	mu sync.Mutex

	dailyLimit   decimal.Decimal
	monthlyLimit decimal.Decimal
	softWarnPct  decimal.Decimal

	daySpend   decimal.Decimal
	monthSpend decimal.Decimal
	dayStart   time.Time
	monthStart time.Time

	warnedDay   bool
	warnedMonth bool

	now func() time.Time
}

// NewBudget builds a budget with the given USD ceilings. A zero ceiling
// disables that window's cap.
func NewBudget(dailyUSD, monthlyUSD, softWarnPct float64) *Budget {
	b := &Budget{
		dailyLimit:   decimal.NewFromFloat(dailyUSD),
		monthlyLimit: decimal.NewFromFloat(monthlyUSD),
		softWarnPct:  decimal.NewFromFloat(softWarnPct),
		now:          time.Now,
	}
	b.resetWindows(b.now())
	return b
}

// Restore seeds the counters from persisted cache spend, so a restart does
// not reset the ceilings.
func (b *Budget) Restore(ctx context.Context, repo persistence.LLMCacheRepo) error {
	b.mu.Lock()
	dayStart, monthStart := b.dayStart, b.monthStart
	b.mu.Unlock()

	daySpend, err := repo.SpendSince(ctx, dayStart)
	if err != nil {
		return err
	}
	monthSpend, err := repo.SpendSince(ctx, monthStart)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.daySpend = decimal.NewFromFloat(daySpend)
	b.monthSpend = decimal.NewFromFloat(monthSpend)
	b.mu.Unlock()
	return nil
}

// Allow reports whether another paid request may be issued.
func (b *Budget) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roll(b.now())

	if b.dailyLimit.IsPositive() && b.daySpend.GreaterThanOrEqual(b.dailyLimit) {
		return false
	}
	if b.monthlyLimit.IsPositive() && b.monthSpend.GreaterThanOrEqual(b.monthlyLimit) {
		return false
	}
	return true
}

// Add records the cost of a completed request and emits the soft warning
// when a window crosses its threshold.
func (b *Budget) Add(costUSD float64) {
	if costUSD <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roll(b.now())

	cost := decimal.NewFromFloat(costUSD)
	b.daySpend = b.daySpend.Add(cost)
	b.monthSpend = b.monthSpend.Add(cost)

	if !b.warnedDay && b.dailyLimit.IsPositive() &&
		b.daySpend.GreaterThanOrEqual(b.dailyLimit.Mul(b.softWarnPct)) {
		b.warnedDay = true
		log.Warn().
			Str("spent_usd", b.daySpend.StringFixed(4)).
			Str("limit_usd", b.dailyLimit.StringFixed(2)).
			Msg("llm daily budget soft threshold reached")
	}
	if !b.warnedMonth && b.monthlyLimit.IsPositive() &&
		b.monthSpend.GreaterThanOrEqual(b.monthlyLimit.Mul(b.softWarnPct)) {
		b.warnedMonth = true
		log.Warn().
			Str("spent_usd", b.monthSpend.StringFixed(4)).
			Str("limit_usd", b.monthlyLimit.StringFixed(2)).
			Msg("llm monthly budget soft threshold reached")
	}
}

// Spend returns the current day and month totals in USD.
func (b *Budget) Spend() (day, month float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roll(b.now())
	day, _ = b.daySpend.Float64()
	month, _ = b.monthSpend.Float64()
	return day, month
}

// SetClock overrides the time source for tests.
func (b *Budget) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func (b *Budget) roll(now time.Time) {
	if !sameDay(now, b.dayStart) {
		b.daySpend = decimal.Zero
		b.warnedDay = false
	}
	u := now.UTC()
	if u.Month() != b.monthStart.Month() || u.Year() != b.monthStart.Year() {
		b.monthSpend = decimal.Zero
		b.warnedMonth = false
	}
	b.resetWindows(now)
}

func (b *Budget) resetWindows(now time.Time) {
	u := now.UTC()
	b.dayStart = time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	b.monthStart = time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func sameDay(a, b time.Time) bool {
	au, bu := a.UTC(), b.UTC()
	return au.Year() == bu.Year() && au.YearDay() == bu.YearDay()
}
