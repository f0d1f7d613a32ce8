package prices

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/catalystbot/catalystbot/internal/models"
)

// breakerProvider wraps a provider with a circuit breaker so a failing
// upstream is skipped quickly instead of burning the cycle budget on
// timeouts.
type breakerProvider struct {
	inner QuoteProvider
	cb    *gobreaker.CircuitBreaker
}

// WithBreaker wraps a provider in a circuit breaker that opens after five
// consecutive failures and probes again after 30 seconds.
func WithBreaker(inner QuoteProvider) QuoteProvider {
	settings := gobreaker.Settings{
		Name:    inner.Name(),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("quote provider breaker state change")
		},
	}
	return &breakerProvider{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breakerProvider) Name() string { return b.inner.Name() }

func (b *breakerProvider) BatchQuote(ctx context.Context, tickers []string) (map[string]*models.PriceSnapshot, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.BatchQuote(ctx, tickers)
	})
	if err != nil {
		return nil, err
	}
	return out.(map[string]*models.PriceSnapshot), nil
}

func (b *breakerProvider) Quote(ctx context.Context, ticker string) (*models.PriceSnapshot, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.Quote(ctx, ticker)
	})
	if err != nil {
		return nil, err
	}
	return out.(*models.PriceSnapshot), nil
}
