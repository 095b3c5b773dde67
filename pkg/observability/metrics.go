package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Cache-layer metrics, labelled by layer (schema, tenant, permission)
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	CacheErrorsTotal    *prometheus.CounterVec
	CacheFallbacksTotal *prometheus.CounterVec
	CacheInvalidations  *prometheus.CounterVec
	CacheWarmupsTotal   *prometheus.CounterVec

	// Identity resolution metrics
	IdentityResolutionsTotal *prometheus.CounterVec
	IdentityCacheHitsTotal   prometheus.Counter
	IdentityCacheMissesTotal prometheus.Counter

	// Permission check metrics
	PermissionChecksTotal *prometheus.CounterVec

	// Redis metrics
	RedisConnected     prometheus.Gauge
	RedisCommandsTotal *prometheus.CounterVec

	// Directory (backing store) metrics
	DirectoryLookupsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ilpi_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"layer"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ilpi_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"layer"},
		),
		CacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ilpi_cache_errors_total",
				Help: "Total number of cache store errors",
			},
			[]string{"layer"},
		),
		CacheFallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ilpi_cache_fallbacks_total",
				Help: "Total number of degraded-mode reads served from the backing store",
			},
			[]string{"layer"},
		),
		CacheInvalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ilpi_cache_invalidations_total",
				Help: "Total number of cache invalidations",
			},
			[]string{"layer", "reason"},
		),
		CacheWarmupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ilpi_cache_warmups_total",
				Help: "Total number of cache warm-up writes",
			},
			[]string{"layer", "status"},
		),
		IdentityResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ilpi_identity_resolutions_total",
				Help: "Total number of full identity resolutions",
			},
			[]string{"path", "status"},
		),
		IdentityCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ilpi_identity_cache_hits_total",
				Help: "Total number of identity cache hits",
			},
		),
		IdentityCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ilpi_identity_cache_misses_total",
				Help: "Total number of identity cache misses",
			},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ilpi_permission_checks_total",
				Help: "Total number of permission checks",
			},
			[]string{"result"},
		),
		RedisConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ilpi_redis_connected",
				Help: "Whether the Redis cache store is currently connected (1) or degraded (0)",
			},
		),
		RedisCommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ilpi_redis_commands_total",
				Help: "Total number of Redis commands issued by the cache store",
			},
			[]string{"command", "status"},
		),
		DirectoryLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ilpi_directory_lookups_total",
				Help: "Total number of backing-store lookups",
			},
			[]string{"lookup", "status"},
		),
	}

	registry.MustRegister(
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheErrorsTotal,
		m.CacheFallbacksTotal,
		m.CacheInvalidations,
		m.CacheWarmupsTotal,
		m.IdentityResolutionsTotal,
		m.IdentityCacheHitsTotal,
		m.IdentityCacheMissesTotal,
		m.PermissionChecksTotal,
		m.RedisConnected,
		m.RedisCommandsTotal,
		m.DirectoryLookupsTotal,
	)

	return m
}

// NopMetrics returns a Metrics instance backed by a throwaway registry,
// for callers and tests that do not scrape
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
