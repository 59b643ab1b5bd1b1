// Package metrics exposes the Prometheus instrumentation for the domain
// stack (SPEC_FULL.md section 11): backend health, selection, admission,
// bridge traffic, and subscription cache counters.
//
// Grounded on etalazz-vsa's internal/ratelimiter/telemetry/churn package: a
// package-level metric set registered once in init(), with small,
// allocation-free Observe* functions safe to call from hot paths.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BackendHealthy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xray_proxy_backend_healthy",
		Help: "1 if the backend is currently healthy, 0 otherwise.",
	}, []string{"backend"})

	BackendSelections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xray_proxy_backend_selections_total",
		Help: "Total number of times a backend was selected by the pool.",
	}, []string{"backend"})

	BackendFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xray_proxy_backend_fallback_total",
		Help: "Total number of selections that had to fall back to the full (possibly unhealthy) backend set.",
	})

	AdmissionRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xray_proxy_admission_rejections_total",
		Help: "Total admission rejections by gate (ip, identity).",
	}, []string{"gate"})

	BridgeBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xray_proxy_bridge_bytes_total",
		Help: "Total bytes relayed through the duplex bridge, by direction.",
	}, []string{"direction"})

	SubscriptionCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xray_proxy_subscription_cache_hits_total",
		Help: "Total subscription cache hits.",
	})
	SubscriptionCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xray_proxy_subscription_cache_misses_total",
		Help: "Total subscription cache misses.",
	})

	UpstreamAttemptDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "xray_proxy_upstream_attempt_duration_seconds",
		Help:    "Duration of a single upstream handshake/passthrough attempt.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		BackendHealthy,
		BackendSelections,
		BackendFallbackTotal,
		AdmissionRejectionsTotal,
		BridgeBytesTotal,
		SubscriptionCacheHitsTotal,
		SubscriptionCacheMissesTotal,
		UpstreamAttemptDuration,
	)
}

// Serve starts a dedicated metrics HTTP server on addr, bound to an
// internal listener separate from the public edge routes (SPEC_FULL.md
// section 12). Returns immediately; the server runs until the process
// exits or ctx-driven shutdown is added by the caller.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
