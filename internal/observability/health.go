// Package observability exposes the proxy's introspection endpoints:
// GET /health (always on) and GET /status (debug-only)
package observability

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hadimousavi79/cf-xray-proxy/internal/backendpool"
)

// HealthResponse is the JSON shape returned by GET /health.
type HealthResponse struct {
	Status             string         `json:"status"`
	Timestamp          string         `json:"timestamp"`
	TotalBackends      int            `json:"totalBackends"`
	HealthyBackends    int            `json:"healthyBackends"`
	UnhealthyBackends  int            `json:"unhealthyBackends,omitempty"`
	Backends           []backendEntry `json:"backends,omitempty"`
	AnyHealthyFallback bool           `json:"anyHealthyFallback"`
}

type backendEntry struct {
	URL     string `json:"url,omitempty"`
	Healthy bool   `json:"healthy"`
}

// HealthHandler serves GET /health. When hideBackendURLs is true (the
// default) the per-backend URL list is omitted and only aggregate counts
// are reported.
func HealthHandler(pool *backendpool.Pool, hideBackendURLs bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		backends := pool.Snapshot()

		resp := HealthResponse{
			Timestamp:          time.Now().UTC().Format(time.RFC3339),
			TotalBackends:      len(backends),
			AnyHealthyFallback: pool.AnyHealthyFallbackOccurred(),
		}

		healthy := 0
		for _, b := range backends {
			if b.Healthy() {
				healthy++
			}
		}
		resp.HealthyBackends = healthy
		resp.UnhealthyBackends = len(backends) - healthy

		if healthy > 0 {
			resp.Status = "ok"
		} else {
			resp.Status = "degraded"
		}

		if !hideBackendURLs {
			resp.Backends = make([]backendEntry, len(backends))
			for i, b := range backends {
				resp.Backends[i] = backendEntry{URL: b.Identity(), Healthy: b.Healthy()}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
