package classify

import "strings"

// EarningsSignal is the earnings-heuristic contribution. Fired is false for
// non-earnings items; such items omit the source from the breakdown.
type EarningsSignal struct {
	Fired bool
	Score float64 // [-1, 1]
	Label string  // beat | miss | mixed | inline
}

var earningsMarkers = []string{
	"earnings", "quarterly results", "financial results", "fiscal year results",
	"q1 ", "q2 ", "q3 ", "q4 ", "first quarter", "second quarter",
	"third quarter", "fourth quarter", "full-year results", "eps",
}

var beatMarkers = []string{
	"beats estimates", "beat estimates", "exceeds expectations", "tops estimates",
	"record revenue", "record quarterly revenue", "raises guidance",
	"raises full-year", "above expectations",
}

var missMarkers = []string{
	"misses estimates", "missed estimates", "below expectations",
	"falls short", "lowers guidance", "cuts guidance", "withdraws guidance",
	"wider loss",
}

// ScoreEarnings fires only on earnings-style items and grades the result
// direction from beat/miss phrasing.
func ScoreEarnings(text string) EarningsSignal {
	lower := strings.ToLower(text)

	var isEarnings bool
	for _, m := range earningsMarkers {
		if strings.Contains(lower, m) {
			isEarnings = true
			break
		}
	}
	if !isEarnings {
		return EarningsSignal{}
	}

	var beats, misses int
	for _, m := range beatMarkers {
		if strings.Contains(lower, m) {
			beats++
		}
	}
	for _, m := range missMarkers {
		if strings.Contains(lower, m) {
			misses++
		}
	}

	switch {
	case beats > 0 && misses > 0:
		return EarningsSignal{Fired: true, Score: 0, Label: "mixed"}
	case beats > 0:
		score := 0.5 + 0.2*float64(min(beats, 2)-1)
		return EarningsSignal{Fired: true, Score: score, Label: "beat"}
	case misses > 0:
		score := -0.5 - 0.2*float64(min(misses, 2)-1)
		return EarningsSignal{Fired: true, Score: score, Label: "miss"}
	default:
		return EarningsSignal{Fired: true, Score: 0.1, Label: "inline"}
	}
}
