package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveTransportPrecedenceQueryBeatsHeaderAndPath(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/xhttp/foo?transport=ws", nil)
	r.Header.Set("x-transport-type", "httpupgrade")

	name, hasPrefix := ResolveTransport(r, "xhttp")
	require.Equal(t, "ws", name)
	require.True(t, hasPrefix) // path still starts with a recognized transport segment
}

func TestResolveTransportHeaderBeatsPath(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/foo", nil)
	r.Header.Set("x-transport-type", "httpupgrade")

	name, hasPrefix := ResolveTransport(r, "xhttp")
	require.Equal(t, "httpupgrade", name)
	require.True(t, hasPrefix)
}

func TestResolveTransportFallsBackToPathPrefix(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/foo/bar", nil)

	name, hasPrefix := ResolveTransport(r, "xhttp")
	require.Equal(t, "ws", name)
	require.True(t, hasPrefix)
}

func TestResolveTransportFallsBackToDefault(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/foo/bar", nil)

	name, hasPrefix := ResolveTransport(r, "xhttp")
	require.Equal(t, "xhttp", name)
	require.False(t, hasPrefix)
}

func TestResolveTransportIgnoresUnrecognizedValues(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/foo?transport=bogus", nil)
	r.Header.Set("x-transport-type", "also-bogus")

	name, hasPrefix := ResolveTransport(r, "httpupgrade")
	require.Equal(t, "httpupgrade", name)
	require.False(t, hasPrefix)
}

func TestRewritePathStripsOnlyWhenPathHasTransportPrefix(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/foo/bar", nil)
	RewritePath(r, true)
	require.Equal(t, "/foo/bar", r.URL.Path)

	r2 := httptest.NewRequest(http.MethodGet, "/ws", nil)
	RewritePath(r2, true)
	require.Equal(t, "/", r2.URL.Path)

	r3 := httptest.NewRequest(http.MethodGet, "/foo/bar", nil)
	RewritePath(r3, false)
	require.Equal(t, "/foo/bar", r3.URL.Path)
}

func TestScenario5XHTTPQueryTransportStillStripsPathPrefix(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/xhttp/foo?transport=ws&ed=0", nil)

	name, hasPrefix := ResolveTransport(r, "xhttp")
	require.Equal(t, "ws", name)
	require.True(t, hasPrefix)

	RewritePath(r, hasPrefix)
	require.Equal(t, "/foo", r.URL.Path)
}
