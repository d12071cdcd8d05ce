// Package metrics provides Prometheus metrics for authkit operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for authkit operations.
// A nil *Metrics, or one created with New(false), records nothing.
type Metrics struct {
	enabled bool

	// Authentication metrics
	authRequestsTotal *prometheus.CounterVec
	authFailuresTotal *prometheus.CounterVec

	// Token metrics
	tokenValidationsTotal *prometheus.CounterVec

	// Cache metrics
	cacheEntries   prometheus.Gauge
	cacheHitsTotal prometheus.Counter
	cacheMissTotal prometheus.Counter

	// Rate limit metrics
	rateLimitDecisionsTotal *prometheus.CounterVec
}

// New creates metrics registered with the default Prometheus registerer.
// If enabled is false, returns a no-op Metrics instance.
func New(enabled bool) *Metrics {
	if !enabled {
		return &Metrics{}
	}
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics registered with reg. Use a fresh
// prometheus.NewRegistry() to keep tests isolated.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{enabled: true}

	// Authentication metrics
	m.authRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "authkit_auth_requests_total",
		Help: "Total authentication attempts",
	}, []string{"provider"})

	m.authFailuresTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "authkit_auth_failures_total",
		Help: "Total authentication failures",
	}, []string{"provider", "reason"})

	// Token metrics
	m.tokenValidationsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "authkit_token_validations_total",
		Help: "Total token validations by result",
	}, []string{"result"})

	// Cache metrics
	m.cacheEntries = f.NewGauge(prometheus.GaugeOpts{
		Name: "authkit_cache_entries",
		Help: "Current number of validated tokens in cache",
	})

	m.cacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "authkit_cache_hits_total",
		Help: "Total token cache hits",
	})

	m.cacheMissTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "authkit_cache_misses_total",
		Help: "Total token cache misses",
	})

	// Rate limit metrics
	m.rateLimitDecisionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "authkit_ratelimit_decisions_total",
		Help: "Total rate limit decisions by limiter and result",
	}, []string{"limiter", "result"})

	return m
}

func (m *Metrics) on() bool { return m != nil && m.enabled }

// RecordAuthAttempt records an authentication attempt against provider.
func (m *Metrics) RecordAuthAttempt(provider string) {
	if !m.on() {
		return
	}
	m.authRequestsTotal.WithLabelValues(provider).Inc()
}

// RecordAuthFailure records a failed authentication.
func (m *Metrics) RecordAuthFailure(provider, reason string) {
	if !m.on() {
		return
	}
	m.authFailuresTotal.WithLabelValues(provider, reason).Inc()
}

// RecordTokenValidation records a token validation outcome such as
// "valid", "invalid" or "expired".
func (m *Metrics) RecordTokenValidation(result string) {
	if !m.on() {
		return
	}
	m.tokenValidationsTotal.WithLabelValues(result).Inc()
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit() {
	if !m.on() {
		return
	}
	m.cacheHitsTotal.Inc()
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss() {
	if !m.on() {
		return
	}
	m.cacheMissTotal.Inc()
}

// SetCacheSize sets the current cache size.
func (m *Metrics) SetCacheSize(size int) {
	if !m.on() {
		return
	}
	m.cacheEntries.Set(float64(size))
}

// RecordRateLimit records an admission decision made by the named limiter.
func (m *Metrics) RecordRateLimit(limiter string, allowed bool) {
	if !m.on() {
		return
	}
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	m.rateLimitDecisionsTotal.WithLabelValues(limiter, result).Inc()
}
