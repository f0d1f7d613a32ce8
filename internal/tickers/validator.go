package tickers

import (
	"strings"

	"github.com/catalystbot/catalystbot/internal/models"
)

// otcSuffixes mark over-the-counter venues; all are excluded by policy.
var otcSuffixes = []string{".PK", ".QB", ".QX", ".OTC", "-PK", "-QB", "-QX"}

// instrumentDecorators mark warrants, units, and rights.
var instrumentDecorators = []string{"-W", "-WT", ".WS", ".WT", "-U", ".U", "-R", ".RT"}

// preferredDecorators are the preferred-share exception: these look like
// decorators but denote preferred classes, which remain eligible.
var preferredDecorators = []string{"-P", ".PR", "-PR"}

// Validation is the structured result of ticker validation.
type Validation struct {
	Ticker string        `json:"ticker"`
	Valid  bool          `json:"valid"`
	Reason models.Reason `json:"reason,omitempty"`
	Detail string        `json:"detail,omitempty"`
}

// Validate applies the listing policy to a candidate ticker. listed reports
// membership in the refreshed primary-exchange universe (NASDAQ/NYSE/AMEX);
// a nil func skips the positive check (degraded mode during refresh outage).
func Validate(ticker string, listed func(string) bool) Validation {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if t == "" {
		return Validation{Ticker: t, Reason: models.ReasonNoTicker, Detail: "empty ticker"}
	}

	for _, suffix := range otcSuffixes {
		if strings.HasSuffix(t, suffix) {
			return Validation{Ticker: t, Reason: models.ReasonOTCTicker,
				Detail: "OTC venue suffix " + suffix}
		}
	}

	if isPreferred(t) {
		// Preferred-share classes pass the decorator check; the positive
		// listing match below still applies to the base symbol.
		base := baseSymbol(t)
		if listed != nil && !listed(base) {
			return Validation{Ticker: t, Reason: models.ReasonNoTicker,
				Detail: "base symbol not on a primary exchange"}
		}
		return Validation{Ticker: t, Valid: true}
	}

	for _, dec := range instrumentDecorators {
		if strings.HasSuffix(t, dec) {
			return Validation{Ticker: t, Reason: models.ReasonInstrumentLike,
				Detail: "instrument decorator " + dec}
		}
	}

	// Plain five-character symbols ending in F are almost always foreign
	// ordinaries / ADRs on OTC feeds.
	if len(t) >= 5 && !strings.ContainsAny(t, ".-") && strings.HasSuffix(t, "F") {
		return Validation{Ticker: t, Reason: models.ReasonForeignADR,
			Detail: "five-character F-suffix heuristic"}
	}

	if listed != nil && !listed(t) {
		return Validation{Ticker: t, Reason: models.ReasonNoTicker,
			Detail: "not on a primary exchange"}
	}
	return Validation{Ticker: t, Valid: true}
}

func isPreferred(t string) bool {
	for _, dec := range preferredDecorators {
		if strings.HasSuffix(t, dec) {
			return true
		}
	}
	return false
}

func baseSymbol(t string) string {
	if i := strings.IndexAny(t, ".-"); i > 0 {
		return t[:i]
	}
	return t
}
