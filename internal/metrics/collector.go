package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config controls the collector's namespace and subsystem labels.
type Config struct {
	Namespace string
	Subsystem string
}

// Collector holds the node's Prometheus metrics and registry.
type Collector struct {
	registry *prometheus.Registry

	cacheRequests   *prometheus.CounterVec
	bytesAdmitted   prometheus.Counter
	bytesEvicted    prometheus.Counter
	cacheSizeGauge  *prometheus.GaugeVec
	limiterVolume   prometheus.Gauge
	upstreamFetches *prometheus.CounterVec
}

// NewCollector builds and registers the node's metrics against a fresh
// registry.
func NewCollector(cfg Config) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cache_requests_total",
			Help:      "Total cache lookups, partitioned by hit/miss.",
		}, []string{"result"}),
		bytesAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "bytes_admitted_total",
			Help:      "Total bytes admitted to the cache.",
		}),
		bytesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "bytes_evicted_total",
			Help:      "Total bytes evicted from the cache.",
		}),
		cacheSizeGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cache_size_bytes",
			Help:      "Current and maximum cache size in bytes.",
		}, []string{"bound"}),
		limiterVolume: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ratelimit_volume_bytes",
			Help:      "Current token bucket volume.",
		}),
		upstreamFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "upstream_fetches_total",
			Help:      "Upstream candidate fetch attempts, partitioned by outcome.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		c.cacheRequests,
		c.bytesAdmitted,
		c.bytesEvicted,
		c.cacheSizeGauge,
		c.limiterVolume,
		c.upstreamFetches,
	)

	return c
}

// RecordHit increments the cache hit counter.
func (c *Collector) RecordHit() { c.cacheRequests.WithLabelValues("hit").Inc() }

// RecordMiss increments the cache miss counter.
func (c *Collector) RecordMiss() { c.cacheRequests.WithLabelValues("miss").Inc() }

// RecordAdmitted adds n bytes to the admitted counter.
func (c *Collector) RecordAdmitted(n uint64) { c.bytesAdmitted.Add(float64(n)) }

// RecordEvicted adds n bytes to the evicted counter.
func (c *Collector) RecordEvicted(n uint64) { c.bytesEvicted.Add(float64(n)) }

// SetCacheSize sets the current and maximum cache size gauges.
func (c *Collector) SetCacheSize(current, max uint64) {
	c.cacheSizeGauge.WithLabelValues("current").Set(float64(current))
	c.cacheSizeGauge.WithLabelValues("max").Set(float64(max))
}

// SetLimiterVolume sets the rate limiter's live volume gauge.
func (c *Collector) SetLimiterVolume(volume float64) { c.limiterVolume.Set(volume) }

// RecordUpstreamAttempt increments the fetch-attempt counter for the
// given outcome ("success" or "failure").
func (c *Collector) RecordUpstreamAttempt(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.upstreamFetches.WithLabelValues(outcome).Inc()
}

// Handler returns the Prometheus scrape handler, meant to be mounted on
// an admin-only listener separate from the public file-serving routes.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
