package classify

import "strings"

// Valence lexicon for headline-register finance text. Scores are in
// [-1, 1]; multi-word entries are matched before single words.
var lexicon = map[string]float64{
	"surges": 0.7, "soars": 0.7, "jumps": 0.6, "rallies": 0.6, "climbs": 0.5,
	"gains": 0.4, "rises": 0.3, "advances": 0.3, "record": 0.5, "strong": 0.4,
	"beats": 0.6, "exceeds": 0.5, "outperforms": 0.5, "approval": 0.6,
	"approves": 0.6, "wins": 0.5, "awarded": 0.5, "breakthrough": 0.6,
	"successful": 0.5, "positive": 0.4, "growth": 0.3, "expands": 0.3,
	"upgraded": 0.5, "raises": 0.4, "profitable": 0.5, "milestone": 0.4,

	"plunges": -0.7, "crashes": -0.8, "tumbles": -0.6, "sinks": -0.6,
	"slides": -0.4, "falls": -0.4, "drops": -0.4, "declines": -0.3,
	"misses": -0.6, "disappoints": -0.6, "weak": -0.4, "loss": -0.4,
	"losses": -0.4, "lawsuit": -0.5, "investigation": -0.5, "probe": -0.4,
	"recall": -0.5, "halted": -0.6, "suspended": -0.5, "downgraded": -0.5,
	"warns": -0.5, "warning": -0.5, "bankruptcy": -0.9, "delisting": -0.8,
	"dilution": -0.6, "offering": -0.5, "deficiency": -0.5, "fraud": -0.8,
	"resigns": -0.4, "terminated": -0.5, "fails": -0.6, "failed": -0.6,
	"cuts": -0.4, "lowers": -0.4, "withdraws": -0.5,
}

// negators flip the valence of the following word.
var negators = map[string]bool{
	"not": true, "no": true, "never": true, "without": true, "denies": true,
}

// boosters scale the valence of the following word.
var boosters = map[string]float64{
	"very": 1.3, "significantly": 1.3, "sharply": 1.3, "slightly": 0.6,
	"modestly": 0.6,
}

// LexiconScore is the always-available sentiment source: a valence sum over
// matched words with negation and booster handling, normalized to [-1, 1].
func LexiconScore(text string) float64 {
	words := strings.Fields(strings.ToLower(text))
	var total float64
	var matched int
	for i, w := range words {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		v, ok := lexicon[w]
		if !ok {
			continue
		}
		scale := 1.0
		if i > 0 {
			prev := strings.Trim(words[i-1], ".,;:!?\"'()[]")
			if negators[prev] {
				scale = -1.0
			} else if b, ok := boosters[prev]; ok {
				scale = b
			}
		}
		total += v * scale
		matched++
	}
	if matched == 0 {
		return 0
	}
	// Dampen long headlines: average, then stretch mild signals a little.
	avg := total / float64(matched)
	return clamp1(avg * 1.2)
}

func clamp1(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
