package heartbeat

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/catalystbot/catalystbot/internal/models"
)

// CycleStats is one cycle's contribution to the heartbeat window.
type CycleStats struct {
	Scanned  int
	Alerted  int
	Deferred int
	Errors   int
	ByReason map[models.Reason]int
}

// Summary is one emitted heartbeat window.
type Summary struct {
	WindowStart time.Time        `json:"window_start"`
	WindowEnd   time.Time        `json:"window_end"`
	Cycles      int64            `json:"cycles"`
	Scanned     int64            `json:"scanned"`
	Alerted     int64            `json:"alerted"`
	Deferred    int64            `json:"deferred"`
	Errors      int64            `json:"errors"`
	ByReason    map[string]int64 `json:"by_reason"`
}

// Accumulator sums cycle stats over a rolling window and emits a compact
// summary when the window elapses, then resets.
type Accumulator struct {
	mu       sync.Mutex
	interval time.Duration
	start    time.Time

	cycles   int64
	scanned  int64
	alerted  int64
	deferred int64
	errors   int64
	byReason map[string]int64

	emit func(Summary)
	now  func() time.Time
}

// NewAccumulator builds an accumulator; emit may be nil (log only).
func NewAccumulator(interval time.Duration, emit func(Summary)) *Accumulator {
	a := &Accumulator{
		interval: interval,
		byReason: make(map[string]int64),
		emit:     emit,
		now:      time.Now,
	}
	a.start = a.now()
	return a
}

// SetInterval updates the window length from the live config.
func (a *Accumulator) SetInterval(iv time.Duration) {
	a.mu.Lock()
	a.interval = iv
	a.mu.Unlock()
}

// SetClock overrides the time source for tests.
func (a *Accumulator) SetClock(now func() time.Time) {
	a.mu.Lock()
	a.now = now
	a.start = now()
	a.mu.Unlock()
}

// RecordCycle folds one cycle into the window and emits the summary when
// the window has elapsed.
func (a *Accumulator) RecordCycle(stats CycleStats) {
	a.mu.Lock()
	a.cycles++
	a.scanned += int64(stats.Scanned)
	a.alerted += int64(stats.Alerted)
	a.deferred += int64(stats.Deferred)
	a.errors += int64(stats.Errors)
	for reason, n := range stats.ByReason {
		a.byReason[string(reason)] += int64(n)
	}

	now := a.now()
	if now.Sub(a.start) < a.interval {
		a.mu.Unlock()
		return
	}
	summary := a.snapshotLocked(now)
	a.resetLocked(now)
	emit := a.emit
	a.mu.Unlock()

	log.Info().
		Int64("cycles", summary.Cycles).
		Int64("scanned", summary.Scanned).
		Int64("alerted", summary.Alerted).
		Int64("errors", summary.Errors).
		Msg("heartbeat")
	if emit != nil {
		emit(summary)
	}
}

// Flush emits whatever the current window holds, used at shutdown.
func (a *Accumulator) Flush() Summary {
	a.mu.Lock()
	now := a.now()
	summary := a.snapshotLocked(now)
	a.resetLocked(now)
	a.mu.Unlock()
	return summary
}

func (a *Accumulator) snapshotLocked(now time.Time) Summary {
	byReason := make(map[string]int64, len(a.byReason))
	for k, v := range a.byReason {
		byReason[k] = v
	}
	return Summary{
		WindowStart: a.start,
		WindowEnd:   now,
		Cycles:      a.cycles,
		Scanned:     a.scanned,
		Alerted:     a.alerted,
		Deferred:    a.deferred,
		Errors:      a.errors,
		ByReason:    byReason,
	}
}

func (a *Accumulator) resetLocked(now time.Time) {
	a.start = now
	a.cycles, a.scanned, a.alerted, a.deferred, a.errors = 0, 0, 0, 0, 0
	a.byReason = make(map[string]int64)
}
