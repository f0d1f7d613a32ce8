package heartbeat

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/catalystbot/catalystbot/internal/config"
	"github.com/catalystbot/catalystbot/internal/models"
	"github.com/catalystbot/catalystbot/internal/persistence"
)

// PriceLookup resolves a current quote for backtest evaluation.
type PriceLookup func(ctx context.Context, ticker string) *models.PriceSnapshot

// KeywordPerformance aggregates dispatched-alert outcomes per keyword tag.
type KeywordPerformance struct {
	Tag       string  `json:"tag"`
	Alerts    int     `json:"alerts"`
	Wins      int     `json:"wins"`
	Evaluated int     `json:"evaluated"`
	WinRate   float64 `json:"win_rate"`
}

// Recommendation is one proposed parameter change with its rationale. The
// operator approves or rejects it through the control surface.
type Recommendation struct {
	Key       string  `json:"key"`
	Current   float64 `json:"current"`
	Proposed  float64 `json:"proposed"`
	Rationale string  `json:"rationale"`
}

// Report is the nightly aggregation over one day's outcomes.
type Report struct {
	Day             time.Time            `json:"day"`
	Dispatched      int                  `json:"dispatched"`
	Rejected        int                  `json:"rejected"`
	Evaluated       int                  `json:"evaluated"`
	Wins            int                  `json:"wins"`
	WinRate         float64              `json:"win_rate"`
	ByReason        map[string]int64     `json:"by_reason"`
	TopKeywords     []KeywordPerformance `json:"top_keywords"`
	BottomKeywords  []KeywordPerformance `json:"bottom_keywords"`
	Recommendations []Recommendation     `json:"recommendations"`
}

// Reporter computes the nightly report from persisted outcomes: win rate
// against a percent threshold over the lookahead, keyword league table, and
// parameter recommendations.
type Reporter struct {
	outcomes persistence.OutcomeRepo
	prices   PriceLookup
}

// NewReporter wires the reporter.
func NewReporter(outcomes persistence.OutcomeRepo, prices PriceLookup) *Reporter {
	return &Reporter{outcomes: outcomes, prices: prices}
}

// Build computes the report for the UTC day containing asOf, judging each
// dispatched alert a win when the price moved at least winThresholdPct from
// the alert price within the lookahead.
func (r *Reporter) Build(ctx context.Context, asOf time.Time, snap config.Snapshot) (*Report, error) {
	day := asOf.UTC().Truncate(24 * time.Hour)
	window := persistence.TimeRange{From: day, To: day.Add(24 * time.Hour)}
	records, err := r.outcomes.Window(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("outcome window read failed: %w", err)
	}

	winThreshold := snap.Float(config.KeyReportWinThresholdPct)
	report := &Report{Day: day, ByReason: make(map[string]int64)}
	perKeyword := make(map[string]*KeywordPerformance)

	for i := range records {
		rec := &records[i]
		switch rec.Decision {
		case models.DecisionDispatched:
			report.Dispatched++
			win, evaluated := r.evaluate(ctx, rec, winThreshold)
			if !evaluated {
				continue
			}
			report.Evaluated++
			if win {
				report.Wins++
			}
			for _, tag := range rec.Keywords {
				kp, ok := perKeyword[tag]
				if !ok {
					kp = &KeywordPerformance{Tag: tag}
					perKeyword[tag] = kp
				}
				kp.Alerts++
				kp.Evaluated++
				if win {
					kp.Wins++
				}
			}
		case models.DecisionRejected:
			report.Rejected++
			for _, reason := range rec.Reasons {
				report.ByReason[reason]++
			}
		}
	}

	if report.Evaluated > 0 {
		report.WinRate = float64(report.Wins) / float64(report.Evaluated)
	}

	ranked := make([]KeywordPerformance, 0, len(perKeyword))
	for _, kp := range perKeyword {
		if kp.Evaluated > 0 {
			kp.WinRate = float64(kp.Wins) / float64(kp.Evaluated)
		}
		ranked = append(ranked, *kp)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].WinRate != ranked[j].WinRate {
			return ranked[i].WinRate > ranked[j].WinRate
		}
		return ranked[i].Alerts > ranked[j].Alerts
	})
	report.TopKeywords = head(ranked, 5)
	report.BottomKeywords = tail(ranked, 3)

	report.Recommendations = recommend(report, snap)
	return report, nil
}

// evaluate judges one dispatched alert. Without an alert price or a current
// quote the record is skipped rather than counted as a loss.
func (r *Reporter) evaluate(ctx context.Context, rec *models.OutcomeRecord, winThresholdPct float64) (win, evaluated bool) {
	if rec.Price == nil || *rec.Price <= 0 || rec.Ticker == "" || r.prices == nil {
		return false, false
	}
	now := r.prices(ctx, rec.Ticker)
	if now == nil || !now.HasLast() {
		return false, false
	}
	movePct := (*now.Last - *rec.Price) / *rec.Price * 100
	if rec.Sentiment < 0 {
		movePct = -movePct
	}
	return movePct >= winThresholdPct, true
}

// recommend derives parameter proposals from the day's shape. Each carries
// the observation that motivated it.
func recommend(report *Report, snap config.Snapshot) []Recommendation {
	var recs []Recommendation
	minScore := snap.Float(config.KeyMinScore)

	if report.Evaluated >= 10 && report.WinRate < 0.40 {
		recs = append(recs, Recommendation{
			Key:      config.KeyMinScore,
			Current:  minScore,
			Proposed: clampParam(minScore+0.05, 0, 1),
			Rationale: fmt.Sprintf("win rate %.0f%% over %d evaluated alerts; tightening the score gate trades volume for quality",
				report.WinRate*100, report.Evaluated),
		})
	}
	if report.Evaluated >= 10 && report.WinRate > 0.70 && report.Dispatched < 20 {
		recs = append(recs, Recommendation{
			Key:      config.KeyMinScore,
			Current:  minScore,
			Proposed: clampParam(minScore-0.05, 0, 1),
			Rationale: fmt.Sprintf("win rate %.0f%% with only %d alerts; the gate may be rejecting viable catalysts",
				report.WinRate*100, report.Dispatched),
		})
	}
	if minScoreRejects := report.ByReason[string(models.ReasonMinScore)]; minScoreRejects > 0 &&
		report.Rejected > 0 && float64(minScoreRejects)/float64(report.Rejected) > 0.6 {
		recs = append(recs, Recommendation{
			Key:      config.KeyMinSentAbs,
			Current:  snap.Float(config.KeyMinSentAbs),
			Proposed: snap.Float(config.KeyMinSentAbs),
			Rationale: fmt.Sprintf("MIN_SCORE accounts for %d of %d rejections; review the keyword weights before changing gates",
				minScoreRejects, report.Rejected),
		})
	}
	return recs
}

// Schedule blocks until the next run time at hourUTC and invokes fn daily.
func Schedule(ctx context.Context, hourUTC int, fn func(context.Context)) {
	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}
		select {
		case <-time.After(next.Sub(now)):
			log.Info().Time("scheduled", next).Msg("nightly report run")
			fn(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func head(s []KeywordPerformance, n int) []KeywordPerformance {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func tail(s []KeywordPerformance, n int) []KeywordPerformance {
	if len(s) <= n {
		return nil
	}
	return s[len(s)-n:]
}

func clampParam(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
