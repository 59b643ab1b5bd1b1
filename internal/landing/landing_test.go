package landing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hadimousavi79/cf-xray-proxy/internal/config"
)

func TestHandlerServesHTMLWhenSubscriptionDisabled(t *testing.T) {
	cfg := &config.Config{SubscriptionEnabled: false}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	Handler(cfg)(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "public, max-age=3600", w.Header().Get("Cache-Control"))
	require.Contains(t, w.Header().Get("Content-Type"), "text/html")
	require.Contains(t, w.Body.String(), "cf-xray-proxy")
}

func TestHandlerServesPlainTextWhenSubscriptionEnabled(t *testing.T) {
	cfg := &config.Config{
		SubscriptionEnabled: true,
		SubscriptionTargets: []config.SubscriptionTarget{
			{Name: "alpha", Origin: "https://alpha.internal", Port: 443, BasePath: "/feeds"},
		},
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	Handler(cfg)(w, r)

	require.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	require.Contains(t, w.Body.String(), "/alpha/sub/<token>")
	require.Contains(t, w.Body.String(), "also /sub/<token>")
}

func TestHandlerReportsNoTargetsConfigured(t *testing.T) {
	cfg := &config.Config{SubscriptionEnabled: true}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	Handler(cfg)(w, r)

	require.Contains(t, w.Body.String(), "no targets configured")
}
