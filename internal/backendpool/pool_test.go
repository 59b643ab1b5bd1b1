package backendpool

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestSelectWeightedDistributionConvergesToWeights(t *testing.T) {
	// BACKEND_LIST="A|3,B|1": selection frequency should converge to 3:1.
	pool := New(zap.NewNop(), []BackendDescriptor{
		{URL: mustURL(t, "https://a.example"), Weight: 3},
		{URL: mustURL(t, "https://b.example"), Weight: 1},
	}, Options{ProbeInterval: time.Hour})

	counts := map[string]int{}
	const trials = 4000
	for i := 0; i < trials; i++ {
		b := pool.Select(nil)
		counts[b.Identity()]++
	}

	require.InDelta(t, 3000, counts["https://a.example"], 200)
	require.InDelta(t, 1000, counts["https://b.example"], 200)
}

func TestHealthHysteresis(t *testing.T) {
	pool := New(zap.NewNop(), []BackendDescriptor{
		{URL: mustURL(t, "https://a.example"), Weight: 1},
	}, Options{ProbeInterval: time.Hour})

	b := pool.Snapshot()[0]
	require.True(t, b.Healthy())

	// A single failure flips healthy -> unhealthy.
	pool.ReportFailure(b.Identity())
	require.False(t, b.Healthy())

	// One success is not enough to flip back.
	pool.ReportSuccess(b.Identity())
	require.False(t, b.Healthy())

	// A second consecutive success flips it back healthy.
	pool.ReportSuccess(b.Identity())
	require.True(t, b.Healthy())
}

func TestSelectFallsBackToFullSetWhenNoneHealthy(t *testing.T) {
	pool := New(zap.NewNop(), []BackendDescriptor{
		{URL: mustURL(t, "https://a.example"), Weight: 1},
		{URL: mustURL(t, "https://b.example"), Weight: 1},
	}, Options{ProbeInterval: time.Hour})

	for _, b := range pool.Snapshot() {
		pool.ReportFailure(b.Identity())
	}
	require.False(t, pool.AnyHealthyFallbackOccurred())

	b := pool.Select(nil)
	require.NotNil(t, b)
	require.True(t, pool.AnyHealthyFallbackOccurred())
}

func TestSelectHonorsExcludeSet(t *testing.T) {
	pool := New(zap.NewNop(), []BackendDescriptor{
		{URL: mustURL(t, "https://a.example"), Weight: 1},
		{URL: mustURL(t, "https://b.example"), Weight: 1},
	}, Options{ProbeInterval: time.Hour})

	exclude := map[string]bool{"https://a.example": true}
	for i := 0; i < 20; i++ {
		b := pool.Select(exclude)
		require.Equal(t, "https://b.example", b.Identity())
	}
}

func TestDuplicateBackendURLsCollapseWeights(t *testing.T) {
	pool := New(zap.NewNop(), []BackendDescriptor{
		{URL: mustURL(t, "https://a.example"), Weight: 3},
		{URL: mustURL(t, "https://a.example"), Weight: 2},
	}, Options{ProbeInterval: time.Hour})

	require.Equal(t, 1, pool.Len())
	require.Equal(t, 5, pool.Snapshot()[0].Weight)
}
