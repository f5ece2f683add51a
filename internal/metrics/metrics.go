// Package metrics exposes Prometheus counters and histograms for the token lifecycle.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultError   = "error"
	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultRevoked = "revoked"
)

// Collector records auth metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	authAttempts    *prometheus.CounterVec
	tokenOps        *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	httpLatency     *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenauth_auth_attempts_total",
			Help: "Authentication attempts by provider and result.",
		}, []string{"provider", "result"}),
		tokenOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenauth_token_operations_total",
			Help: "Token issue, refresh, verify and revoke operations by result.",
		}, []string{"op", "result"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenauth_cache_lookups_total",
			Help: "Session cache lookups by kind and result.",
		}, []string{"kind", "result"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tokenauth_oidc_upstream_seconds",
			Help:    "Latency of calls to external identity providers.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "call"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tokenauth_http_request_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		c.authAttempts,
		c.tokenOps,
		c.cacheLookups,
		c.upstreamLatency,
		c.httpLatency,
	)
	return c
}

func (c *Collector) RecordAuthAttempt(provider, result string) {
	if c == nil {
		return
	}
	c.authAttempts.WithLabelValues(provider, result).Inc()
}

func (c *Collector) RecordTokenOp(op, result string) {
	if c == nil {
		return
	}
	c.tokenOps.WithLabelValues(op, result).Inc()
}

func (c *Collector) RecordCacheLookup(kind, result string) {
	if c == nil {
		return
	}
	c.cacheLookups.WithLabelValues(kind, result).Inc()
}

// ObserveUpstream records how long an IdP call took.
func (c *Collector) ObserveUpstream(provider, call string, d time.Duration) {
	if c == nil {
		return
	}
	c.upstreamLatency.WithLabelValues(provider, call).Observe(d.Seconds())
}

func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpLatency.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler serves the gathered metrics for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
