package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hadimousavi79/cf-xray-proxy/internal/config"
)

func TestStatusHandlerReturns404WhenNotDebug(t *testing.T) {
	cfg := &config.Config{Debug: false}

	r := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	StatusHandler(cfg)(w, r)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusHandlerReturnsConfigSnapshotWhenDebug(t *testing.T) {
	cfg := &config.Config{
		Debug:                  true,
		RateLimitEnabled:       true,
		RateLimitMaxConnPerIP:  10,
		RateLimitMaxConnPerMin: 60,
		UUIDMaxConnections:     3,
		DefaultTransport:       "ws",
		SubscriptionTargets: []config.SubscriptionTarget{
			{Name: "alpha"},
			{Name: "beta"},
		},
	}

	r := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	StatusHandler(cfg)(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.RateLimit.Enabled)
	require.Equal(t, 10, resp.RateLimit.MaxConnPerIP)
	require.Equal(t, 3, resp.IdentityMaxConnections)
	require.Equal(t, "ws", resp.DefaultTransport)
	require.Equal(t, []string{"alpha", "beta"}, resp.SubscriptionTargets)
}
