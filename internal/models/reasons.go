package models

// Reason names a rejection produced by the filter chain or an enrichment
// stage. Reasons are persisted to outcomes, so the strings are stable.
type Reason string

const (
	ReasonSeen               Reason = "SEEN"
	ReasonMultiTicker        Reason = "MULTI_TICKER"
	ReasonPresentationNoise  Reason = "PRESENTATION_NOISE"
	ReasonCommentary         Reason = "COMMENTARY"
	ReasonSourceBlocklist    Reason = "SOURCE_BLOCKLIST"
	ReasonNoTicker           Reason = "NO_TICKER"
	ReasonOTCTicker          Reason = "OTC_TICKER"
	ReasonForeignADR         Reason = "FOREIGN_ADR"
	ReasonInstrumentLike     Reason = "INSTRUMENT_LIKE"
	ReasonPriceInvalid       Reason = "PRICE_INVALID_OR_MISSING"
	ReasonPriceCeiling       Reason = "PRICE_CEILING"
	ReasonPriceFloor         Reason = "PRICE_FLOOR"
	ReasonMinScore           Reason = "MIN_SCORE"
	ReasonMinSentAbs         Reason = "MIN_SENT_ABS"
	ReasonCategoryAllow      Reason = "CATEGORY_ALLOW"
	ReasonFilterError        Reason = "FILTER_ERROR"
	ReasonInternalError      Reason = "INTERNAL_ERROR"
	ReasonStale              Reason = "STALE"
	ReasonDeliveryFailed     Reason = "DELIVERY_FAILED"
	ReasonDeferredCycleCap   Reason = "DEFERRED_CYCLE_CAP"
)

// Decision is the terminal state of an item in a cycle.
type Decision string

const (
	DecisionDispatched Decision = "dispatched"
	DecisionRejected   Decision = "rejected"
	DecisionDeferred   Decision = "deferred"
)
