package engine

import (
	"time"

	"github.com/catalystbot/catalystbot/internal/classify"
	"github.com/catalystbot/catalystbot/internal/config"
	"github.com/catalystbot/catalystbot/internal/filters"
	"github.com/catalystbot/catalystbot/internal/llm"
)

// Parameter snapshots are captured once per cycle; an in-flight cycle stays
// on the values it started with.

func classifyParams(snap config.Snapshot, sectors map[string]float64) classify.Params {
	return classify.Params{
		WeightLexicon:            snap.Float(config.KeySentWeightLexicon),
		WeightML:                 snap.Float(config.KeySentWeightML),
		WeightEarnings:           snap.Float(config.KeySentWeightEarnings),
		WeightLLM:                snap.Float(config.KeySentWeightLLM),
		StrongNegativeThreshold:  snap.Float(config.KeyStrongNegThreshold),
		CriticalNegativeTags:     snap.Strings(config.KeyCriticalNegKeywords),
		SectorMultipliersEnabled: snap.Bool(config.KeySectorMultEnabled),
		SectorMultipliers:        sectors,
	}
}

func filterParams(snap config.Snapshot) filters.Params {
	return filters.Params{
		MaxTickers:         snap.Int(config.KeyMaxTickersPerItem),
		SourceBlocklist:    snap.Strings(config.KeySourceBlocklist),
		PriceCeiling:       snap.Float(config.KeyPriceCeiling),
		PriceFloor:         snap.Float(config.KeyPriceFloor),
		FloorOverrideOn:    snap.Bool(config.KeyFloorOverrideEnabled),
		FloorOverrideScore: snap.Float(config.KeyFloorOverrideScore),
		MinScore:           snap.Float(config.KeyMinScore),
		MinSentAbs:         snap.Float(config.KeyMinSentAbs),
		CategoryAllow:      snap.Strings(config.KeyCategoryAllow),
	}
}

func llmConfig(snap config.Snapshot) llm.Config {
	return llm.Config{
		Enabled:      snap.Bool(config.KeyLLMEnabled),
		MinPrescale:  snap.Float(config.KeyLLMMinPrescale),
		BatchSize:    snap.Int(config.KeyLLMBatchSize),
		BatchTimeout: snap.SecondsF(config.KeyLLMBatchTimeoutSec),
		BatchDelay:   snap.SecondsF(config.KeyLLMBatchDelaySec),
	}
}

// complexityHint grades how much model capability an item deserves. Filing
// legalese and multi-signal items route to stronger tiers; plain headline
// reads stay cheap.
func complexityHint(text string, score float64, categories int) float64 {
	hint := 0.3
	if len(text) > 600 {
		hint += 0.25
	} else if len(text) > 250 {
		hint += 0.15
	}
	if categories > 1 {
		hint += 0.15
	}
	if score > 0.6 {
		hint += 0.2
	}
	if hint > 1 {
		hint = 1
	}
	return hint
}

func maxArticleAge(snap config.Snapshot) time.Duration {
	return time.Duration(snap.Int(config.KeyMaxArticleAgeMin)) * time.Minute
}
