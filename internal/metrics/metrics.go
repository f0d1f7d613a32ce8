package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/catalystbot/catalystbot/internal/heartbeat"
	"github.com/catalystbot/catalystbot/internal/llm"
)

// Set owns the process metrics on a private registry so tests can build
// isolated instances.
type Set struct {
	registry *prometheus.Registry

	cycleDuration  prometheus.Histogram
	itemsScanned   prometheus.Counter
	alertsSent     prometheus.Counter
	alertsDeferred prometheus.Counter
	cycleErrors    prometheus.Counter
	rejects        *prometheus.CounterVec
	sourceErrors   *prometheus.CounterVec

	llmSpendDay  prometheus.Gauge
	llmCacheHits prometheus.Gauge
	llmRequests  prometheus.Gauge

	srv *http.Server
}

// New builds and registers the metric set.
func New() *Set {
	s := &Set{registry: prometheus.NewRegistry()}

	s.cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "catalystbot",
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one pipeline cycle.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	})
	s.itemsScanned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "catalystbot",
		Name:      "items_scanned_total",
		Help:      "Items pulled from all sources.",
	})
	s.alertsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "catalystbot",
		Name:      "alerts_sent_total",
		Help:      "Alerts delivered with a 2xx response.",
	})
	s.alertsDeferred = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "catalystbot",
		Name:      "alerts_deferred_total",
		Help:      "Alerts pushed to a later cycle.",
	})
	s.cycleErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "catalystbot",
		Name:      "cycle_errors_total",
		Help:      "Source and internal errors observed during cycles.",
	})
	s.rejects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalystbot",
		Name:      "rejects_total",
		Help:      "Rejected items by named reason.",
	}, []string{"reason"})
	s.sourceErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalystbot",
		Name:      "source_errors_total",
		Help:      "Fetch failures by source.",
	}, []string{"source"})

	s.llmSpendDay = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "catalystbot",
		Subsystem: "llm",
		Name:      "spend_usd_day",
		Help:      "LLM spend in the current UTC day window.",
	})
	s.llmCacheHits = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "catalystbot",
		Subsystem: "llm",
		Name:      "cache_hits",
		Help:      "Semantic cache hits since start.",
	})
	s.llmRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "catalystbot",
		Subsystem: "llm",
		Name:      "requests",
		Help:      "Routed LLM requests since start.",
	})

	s.registry.MustRegister(
		s.cycleDuration, s.itemsScanned, s.alertsSent, s.alertsDeferred,
		s.cycleErrors, s.rejects, s.sourceErrors,
		s.llmSpendDay, s.llmCacheHits, s.llmRequests,
	)
	return s
}

// ObserveCycle records one cycle's stats.
func (s *Set) ObserveCycle(stats heartbeat.CycleStats, elapsed time.Duration) {
	s.cycleDuration.Observe(elapsed.Seconds())
	s.itemsScanned.Add(float64(stats.Scanned))
	s.alertsSent.Add(float64(stats.Alerted))
	s.alertsDeferred.Add(float64(stats.Deferred))
	s.cycleErrors.Add(float64(stats.Errors))
	for reason, n := range stats.ByReason {
		s.rejects.WithLabelValues(string(reason)).Add(float64(n))
	}
}

// IncSourceError counts one failed fetch for a source.
func (s *Set) IncSourceError(source string) {
	s.sourceErrors.WithLabelValues(source).Inc()
}

// UpdateLLM mirrors the router counters and current day spend.
func (s *Set) UpdateLLM(stats llm.Stats, daySpendUSD float64) {
	s.llmRequests.Set(float64(stats.Calls))
	s.llmCacheHits.Set(float64(stats.CacheHits))
	s.llmSpendDay.Set(daySpendUSD)
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Start serves /metrics until Shutdown.
func (s *Set) Start(addr string) error {
	m := http.NewServeMux()
	m.Handle("/metrics", s.Handler())
	s.srv = &http.Server{Addr: addr, Handler: m, ReadHeaderTimeout: 5 * time.Second}
	log.Info().Str("addr", addr).Msg("metrics listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the metrics listener.
func (s *Set) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
