package subscription

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hadimousavi79/cf-xray-proxy/internal/config"
)

func testTargets() []config.SubscriptionTarget {
	return []config.SubscriptionTarget{
		{Name: "alpha", Origin: "https://alpha.internal", Port: 443, BasePath: "/feeds"},
		{Name: "beta", Origin: "https://beta.internal", Port: 8443, BasePath: "/feeds"},
	}
}

func TestResolveTargetDefaultRoute(t *testing.T) {
	target, token, ok := ResolveTarget("/sub/abc123", testTargets())
	require.True(t, ok)
	require.Equal(t, "alpha", target.Name)
	require.Equal(t, "abc123", token)
}

func TestResolveTargetNamedRoute(t *testing.T) {
	target, token, ok := ResolveTarget("/beta/sub/abc123", testTargets())
	require.True(t, ok)
	require.Equal(t, "beta", target.Name)
	require.Equal(t, "abc123", token)
}

func TestResolveTargetUnknownNameFallsBackToFirst(t *testing.T) {
	target, token, ok := ResolveTarget("/gamma/sub/abc123", testTargets())
	require.True(t, ok)
	require.Equal(t, "alpha", target.Name)
	require.Equal(t, "abc123", token)
}

func TestResolveTargetTokenWithSlashesIsReassembled(t *testing.T) {
	_, token, ok := ResolveTarget("/sub/part%2Fone/part-two", testTargets())
	require.True(t, ok)
	require.Equal(t, "part/one/part-two", token)
}

func TestResolveTargetNotASubscriptionPath(t *testing.T) {
	_, _, ok := ResolveTarget("/ws/tunnel", testTargets())
	require.False(t, ok)
}

func TestResolveTargetMissingToken(t *testing.T) {
	_, _, ok := ResolveTarget("/sub", testTargets())
	require.False(t, ok)
}

func TestBuildUpstreamURLEscapesEmbeddedSlash(t *testing.T) {
	target := testTargets()[0]
	upstream, err := BuildUpstreamURL(target, "part/one", "x=1")
	require.NoError(t, err)
	require.Equal(t, "https://alpha.internal:443/feeds/part%2Fone?x=1", upstream)
}

func TestBuildUpstreamURLNoQuery(t *testing.T) {
	target := testTargets()[1]
	upstream, err := BuildUpstreamURL(target, "tok", "")
	require.NoError(t, err)
	require.Equal(t, "https://beta.internal:8443/feeds/tok", upstream)
}
