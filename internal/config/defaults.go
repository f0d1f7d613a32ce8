package config

import "fmt"

// Parameter keys. Grouped the way the operator surface presents them.
const (
	KeyMinScore              = "min_score"
	KeyMinSentAbs            = "min_sent_abs"
	KeyPriceCeiling          = "price_ceiling"
	KeyPriceFloor            = "price_floor"
	KeyFloorOverrideEnabled  = "price_floor_override_enabled"
	KeyFloorOverrideScore    = "price_floor_override_score"
	KeyMaxAlertsPerCycle     = "max_alerts_per_cycle"
	KeyAlertsMinIntervalMS   = "alerts_min_interval_ms"
	KeyCyclePremarketSec     = "cycle.premarket_sec"
	KeyCycleRegularSec       = "cycle.regular_sec"
	KeyCycleAfterHoursSec    = "cycle.afterhours_sec"
	KeyCycleClosedSec        = "cycle.closed_sec"
	KeySeenTTLDays           = "seen_ttl_days"
	KeyMaxArticleAgeMin      = "max_article_age_minutes"
	KeyMaxTickersPerItem     = "max_tickers_per_item"
	KeyLLMEnabled            = "llm.enabled"
	KeyLLMMinPrescale        = "llm.min_prescale"
	KeyLLMBatchSize          = "llm.batch_size"
	KeyLLMBatchTimeoutSec    = "llm.batch_timeout_sec"
	KeyLLMBatchDelaySec      = "llm.batch_delay_sec"
	KeyLLMDailyBudgetUSD     = "llm.daily_budget_usd"
	KeyLLMMonthlyBudgetUSD   = "llm.monthly_budget_usd"
	KeyLLMSoftWarnPct        = "llm.soft_warn_pct"
	KeyHeartbeatIntervalMin  = "heartbeat_interval_min"
	KeyStrongNegThreshold    = "strong_negative_threshold"
	KeySentWeightLexicon     = "sentiment_weight_lexicon"
	KeySentWeightML          = "sentiment_weight_ml"
	KeySentWeightEarnings    = "sentiment_weight_earnings"
	KeySentWeightLLM         = "sentiment_weight_llm"
	KeySectorMultEnabled     = "sector_multipliers_enabled"
	KeySourceBlocklist       = "source_blocklist"
	KeyCategoryAllow         = "category_allow"
	KeyCriticalNegKeywords   = "critical_negative_keywords"
	KeyFeedOutageCycles      = "feed_outage_cycles"
	KeyApplyMinIntervalSec   = "apply_min_interval_sec"
	KeyReportHourUTC         = "report.hour_utc"
	KeyReportWinThresholdPct = "report.win_threshold_pct"
	KeyReportLookaheadHours  = "report.lookahead_hours"
	KeyLogLevel              = "log_level"
)

// DefaultSchema registers every tunable with its type, bounds, and default.
func DefaultSchema() *Schema {
	s := NewSchema()

	s.Register(Entry{Key: KeyMinScore, Kind: KindFloat, Default: 0.25, Min: 0, Max: 1, HasMin: true, HasMax: true, Help: "minimum classification score to alert"})
	s.Register(Entry{Key: KeyMinSentAbs, Kind: KindFloat, Default: 0.10, Min: 0, Max: 1, HasMin: true, HasMax: true, Help: "minimum absolute sentiment to alert"})
	s.Register(Entry{Key: KeyPriceCeiling, Kind: KindFloat, Default: 10.0, Min: 0, HasMin: true, Help: "max last price; 0 disables"})
	s.Register(Entry{Key: KeyPriceFloor, Kind: KindFloat, Default: 0.10, Min: 0, HasMin: true, Help: "min last price; 0 disables"})
	s.Register(Entry{Key: KeyFloorOverrideEnabled, Kind: KindBool, Default: false, Help: "allow sub-floor alerts on high pre-score"})
	s.Register(Entry{Key: KeyFloorOverrideScore, Kind: KindFloat, Default: 0.60, Min: 0, Max: 1, HasMin: true, HasMax: true})
	s.Register(Entry{Key: KeyMaxAlertsPerCycle, Kind: KindInt, Default: 8, Min: 1, Max: 100, HasMin: true, HasMax: true})
	s.Register(Entry{Key: KeyAlertsMinIntervalMS, Kind: KindInt, Default: 1200, Min: 0, HasMin: true, Help: "per-channel min inter-alert interval"})

	// Cycle cadences per market phase (operator-decided defaults).
	s.Register(Entry{Key: KeyCyclePremarketSec, Kind: KindInt, Default: 90, Min: 15, Max: 3600, HasMin: true, HasMax: true})
	s.Register(Entry{Key: KeyCycleRegularSec, Kind: KindInt, Default: 60, Min: 15, Max: 3600, HasMin: true, HasMax: true})
	s.Register(Entry{Key: KeyCycleAfterHoursSec, Kind: KindInt, Default: 120, Min: 15, Max: 3600, HasMin: true, HasMax: true})
	s.Register(Entry{Key: KeyCycleClosedSec, Kind: KindInt, Default: 300, Min: 30, Max: 7200, HasMin: true, HasMax: true})

	s.Register(Entry{Key: KeySeenTTLDays, Kind: KindInt, Default: 7, Min: 1, Max: 90, HasMin: true, HasMax: true})
	s.Register(Entry{Key: KeyMaxArticleAgeMin, Kind: KindInt, Default: 120, Min: 1, HasMin: true})
	s.Register(Entry{Key: KeyMaxTickersPerItem, Kind: KindInt, Default: 3, Min: 1, Max: 10, HasMin: true, HasMax: true})

	s.Register(Entry{Key: KeyLLMEnabled, Kind: KindBool, Default: true})
	s.Register(Entry{Key: KeyLLMMinPrescale, Kind: KindFloat, Default: 0.20, Min: 0, Max: 1, HasMin: true, HasMax: true})
	s.Register(Entry{Key: KeyLLMBatchSize, Kind: KindInt, Default: 5, Min: 1, Max: 50, HasMin: true, HasMax: true})
	s.Register(Entry{Key: KeyLLMBatchTimeoutSec, Kind: KindFloat, Default: 2.0, Min: 0.1, Max: 60, HasMin: true, HasMax: true})
	s.Register(Entry{Key: KeyLLMBatchDelaySec, Kind: KindFloat, Default: 2.0, Min: 0, Max: 60, HasMin: true, HasMax: true})
	s.Register(Entry{Key: KeyLLMDailyBudgetUSD, Kind: KindFloat, Default: 5.0, Min: 0, HasMin: true})
	s.Register(Entry{Key: KeyLLMMonthlyBudgetUSD, Kind: KindFloat, Default: 100.0, Min: 0, HasMin: true})
	s.Register(Entry{Key: KeyLLMSoftWarnPct, Kind: KindFloat, Default: 0.80, Min: 0, Max: 1, HasMin: true, HasMax: true})

	s.Register(Entry{Key: KeyHeartbeatIntervalMin, Kind: KindInt, Default: 60, Min: 1, Max: 1440, HasMin: true, HasMax: true})
	s.Register(Entry{Key: KeyStrongNegThreshold, Kind: KindFloat, Default: -0.30, Min: -1, Max: 0, HasMin: true, HasMax: true})

	s.Register(Entry{Key: KeySentWeightLexicon, Kind: KindFloat, Default: 0.25, Min: 0, Max: 1, HasMin: true, HasMax: true})
	s.Register(Entry{Key: KeySentWeightML, Kind: KindFloat, Default: 0.25, Min: 0, Max: 1, HasMin: true, HasMax: true})
	s.Register(Entry{Key: KeySentWeightEarnings, Kind: KindFloat, Default: 0.35, Min: 0, Max: 1, HasMin: true, HasMax: true})
	s.Register(Entry{Key: KeySentWeightLLM, Kind: KindFloat, Default: 0.15, Min: 0, Max: 1, HasMin: true, HasMax: true})

	s.Register(Entry{Key: KeySectorMultEnabled, Kind: KindBool, Default: false})
	s.Register(Entry{Key: KeySourceBlocklist, Kind: KindStringList, Default: []string{}})
	s.Register(Entry{Key: KeyCategoryAllow, Kind: KindStringList, Default: []string{}, Help: "empty means all categories allowed"})
	s.Register(Entry{Key: KeyCriticalNegKeywords, Kind: KindStringList,
		Default: []string{"offering", "dilution", "bankruptcy", "delisting", "going_concern", "reverse_split"}})

	s.Register(Entry{Key: KeyFeedOutageCycles, Kind: KindInt, Default: 10, Min: 2, Max: 1000, HasMin: true, HasMax: true})
	s.Register(Entry{Key: KeyApplyMinIntervalSec, Kind: KindInt, Default: 60, Min: 0, Max: 3600, HasMin: true, HasMax: true})

	s.Register(Entry{Key: KeyReportHourUTC, Kind: KindInt, Default: 1, Min: 0, Max: 23, HasMin: true, HasMax: true})
	s.Register(Entry{Key: KeyReportWinThresholdPct, Kind: KindFloat, Default: 5.0, Min: 0.1, Max: 100, HasMin: true, HasMax: true})
	s.Register(Entry{Key: KeyReportLookaheadHours, Kind: KindInt, Default: 24, Min: 1, Max: 168, HasMin: true, HasMax: true})

	s.Register(Entry{Key: KeyLogLevel, Kind: KindEnum, Default: "info", Enum: []string{"trace", "debug", "info", "warn", "error"}})

	s.RegisterCross(CrossCheck{
		Name: "price_floor_vs_ceiling",
		Check: func(v map[string]any) error {
			floor, _ := v[KeyPriceFloor].(float64)
			ceiling, _ := v[KeyPriceCeiling].(float64)
			if ceiling > 0 && floor > ceiling {
				return fmt.Errorf("price_floor %.2f exceeds price_ceiling %.2f", floor, ceiling)
			}
			return nil
		},
	})
	s.RegisterCross(CrossCheck{
		Name: "sentiment_weights_sum",
		Check: func(v map[string]any) error {
			sum := 0.0
			for _, k := range []string{KeySentWeightLexicon, KeySentWeightML, KeySentWeightEarnings, KeySentWeightLLM} {
				w, _ := v[k].(float64)
				sum += w
			}
			if sum > 1.0+1e-9 {
				return fmt.Errorf("sentiment weights sum %.2f exceeds 1.0", sum)
			}
			return nil
		},
	})

	return s
}
