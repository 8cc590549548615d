// Package metrics exposes Prometheus collectors for fetches, providers, the
// cache and prefetch runs. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nightlight-labs/lullaby/internal/cache"
)

const namespace = "lullaby"

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	fetches         *prometheus.CounterVec
	retries         *prometheus.CounterVec
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	prefetchJobs    *prometheus.CounterVec
	prefetchRunning prometheus.Gauge
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_outcomes_total",
			Help:      "Fetch outcomes by category, kind and failure reason.",
		}, []string{"category", "kind", "reason"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Primary provider retries by category.",
		}, []string{"category"}),
		providerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Provider calls by provider and result.",
		}, []string{"provider", "result"}),
		providerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Provider call latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"provider"}),
		prefetchJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prefetch_jobs_total",
			Help:      "Prefetch jobs by result.",
		}, []string{"result"}),
		prefetchRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "prefetch_running",
			Help:      "1 while a prefetch run is active.",
		}),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveFetch counts one fetch outcome. reason is empty for successes.
func (m *Metrics) ObserveFetch(category, kind, reason string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(category, kind, reason).Inc()
}

// ObserveRetry counts one primary retry.
func (m *Metrics) ObserveRetry(category string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(category).Inc()
}

// ObserveProviderCall records a provider call. result is "ok" or an error
// kind.
func (m *Metrics) ObserveProviderCall(provider, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, result).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// ObservePrefetchJob counts a finished prefetch job.
func (m *Metrics) ObservePrefetchJob(result string) {
	if m == nil {
		return
	}
	m.prefetchJobs.WithLabelValues(result).Inc()
}

// SetPrefetchRunning flags whether a prefetch run is active.
func (m *Metrics) SetPrefetchRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.prefetchRunning.Set(1)
	} else {
		m.prefetchRunning.Set(0)
	}
}

// StatsSource reports per-category cache statistics.
type StatsSource interface {
	Stats() []cache.Stats
}

// RegisterCache exports cache statistics, read at scrape time.
func (m *Metrics) RegisterCache(src StatsSource) error {
	if m == nil {
		return nil
	}
	return m.registry.Register(newCacheCollector(src))
}
