package observability

import (
	"encoding/json"
	"net/http"

	"github.com/hadimousavi79/cf-xray-proxy/internal/config"
)

// StatusResponse is the JSON shape returned by GET /status.
type StatusResponse struct {
	RateLimit struct {
		Enabled       bool `json:"enabled"`
		MaxConnPerIP  int  `json:"maxConnPerIP"`
		MaxConnPerMin int  `json:"maxConnPerMin"`
	} `json:"rateLimit"`
	IdentityMaxConnections int      `json:"identityMaxConnections"`
	SubscriptionTargets    []string `json:"subscriptionTargets,omitempty"`
	DefaultTransport       string   `json:"defaultTransport"`
}

// StatusHandler serves GET /status when cfg.Debug is true, otherwise 404:
// this endpoint is not exposed in production.
func StatusHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !cfg.Debug {
			http.NotFound(w, r)
			return
		}

		resp := StatusResponse{
			IdentityMaxConnections: cfg.UUIDMaxConnections,
			DefaultTransport:       cfg.DefaultTransport,
		}
		resp.RateLimit.Enabled = cfg.RateLimitEnabled
		resp.RateLimit.MaxConnPerIP = cfg.RateLimitMaxConnPerIP
		resp.RateLimit.MaxConnPerMin = cfg.RateLimitMaxConnPerMin

		for _, t := range cfg.SubscriptionTargets {
			resp.SubscriptionTargets = append(resp.SubscriptionTargets, t.Name)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
