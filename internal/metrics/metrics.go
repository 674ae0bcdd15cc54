// Package metrics exposes prometheus counters and histograms for the
// dispatch engine's route outcomes, following skipper's metrics.Prometheus
// shape: a namespaced registry, counter/histogram vectors keyed by route
// and outcome, and a Handler() for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "openhim_router"

// Metrics wraps the prometheus collectors this engine reports. A nil
// *Metrics, or one built by NewDisabled, makes every method a no-op, so call sites
// don't need to check config.EnableMetrics themselves.
type Metrics struct {
	enabled bool
	reg     *prometheus.Registry

	dispatchTotal  *prometheus.CounterVec
	routeLatency   *prometheus.HistogramVec
	keystoreErrors prometheus.Counter
}

// New builds a registered Metrics collector.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		enabled: true,
		reg:     reg,
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_dispatch_total",
			Help:      "Total dispatch attempts per route and outcome.",
		}, []string{"route", "outcome"}),
		routeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_dispatch_duration_seconds",
			Help:      "Duration of a single route's dispatch attempt.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		keystoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keystore_error_total",
			Help:      "Total keystore lookup failures.",
		}),
	}

	reg.MustRegister(m.dispatchTotal, m.routeLatency, m.keystoreErrors)
	return m
}

// NewDisabled returns a Metrics whose methods are all no-ops, used when
// config.EnableMetrics is false.
func NewDisabled() *Metrics {
	return &Metrics{enabled: false}
}

// IncDispatchOutcome records one route attempt's terminal outcome: "ok",
// "error", or "gated" (wave-B secondary skipped by status check).
func (m *Metrics) IncDispatchOutcome(route, outcome string) {
	if m == nil || !m.enabled {
		return
	}
	m.dispatchTotal.WithLabelValues(route, outcome).Inc()
}

// MeasureRouteLatency observes the duration since start for route.
func (m *Metrics) MeasureRouteLatency(route string, start time.Time) {
	if m == nil || !m.enabled {
		return
	}
	m.routeLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
}

// IncKeystoreError increments the keystore-failure counter.
func (m *Metrics) IncKeystoreError() {
	if m == nil || !m.enabled {
		return
	}
	m.keystoreErrors.Inc()
}

// Handler returns the scrape endpoint for this collector's registry, or
// nil if metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if m == nil || !m.enabled {
		return nil
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
