// Package metrics exposes Prometheus counters and gauges for the
// gateway's provisioning and proxying behavior, in the style of the
// wider example pack's metrics packages (spec.md §4.6/§4.7 ambient
// observability, carried regardless of the spec's traffic-shaping
// non-goal).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the gateway's Prometheus collectors.
type Metrics struct {
	ResolveTotal       *prometheus.CounterVec
	ResolveDuration    prometheus.Histogram
	ProxyRequestsTotal *prometheus.CounterVec
	ContainersActive   prometheus.Gauge
	SweepStoppedTotal  prometheus.Counter
}

// New registers and returns a Metrics set against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ResolveTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpgateway_resolve_total",
			Help: "Lifecycle Controller Resolve outcomes by result.",
		}, []string{"result"}),
		ResolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mcpgateway_resolve_duration_seconds",
			Help:    "Resolve latency, including provisioning when it occurs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		ProxyRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpgateway_proxy_requests_total",
			Help: "Proxied requests by HTTP status class.",
		}, []string{"status_class"}),
		ContainersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mcpgateway_containers_active",
			Help: "Tenant containers currently in the Running state.",
		}),
		SweepStoppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mcpgateway_sweep_stopped_total",
			Help: "Containers stopped by the idle sweeper.",
		}),
	}
}

// Handler returns the /metrics HTTP handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
