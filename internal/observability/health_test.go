package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hadimousavi79/cf-xray-proxy/internal/backendpool"
)

func mustURL(t *testing.T, raw string) *url.URL {
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestHealthHandlerOKWhenAnyBackendHealthy(t *testing.T) {
	pool := backendpool.New(nil, []backendpool.BackendDescriptor{
		{URL: mustURL(t, "http://b1.internal"), Weight: 1},
	}, backendpool.Options{})

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	HealthHandler(pool, true)(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, 1, resp.TotalBackends)
	require.Nil(t, resp.Backends)
}

func TestHealthHandlerExposesBackendURLsWhenNotHidden(t *testing.T) {
	pool := backendpool.New(nil, []backendpool.BackendDescriptor{
		{URL: mustURL(t, "http://b1.internal"), Weight: 1},
	}, backendpool.Options{})

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	HealthHandler(pool, false)(w, r)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Backends, 1)
	require.Equal(t, "http://b1.internal", resp.Backends[0].URL)
}

func TestHealthHandlerDegradedWithNoBackends(t *testing.T) {
	pool := backendpool.New(nil, nil, backendpool.Options{})

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	HealthHandler(pool, true)(w, r)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "degraded", resp.Status)
	require.Equal(t, 0, resp.TotalBackends)
}
