package subscription

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hadimousavi79/cf-xray-proxy/internal/xerrors"
)

func TestFetchReturnsBodyAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello subscription"))
	}))
	defer srv.Close()

	result, err := Fetch(context.Background(), srv.URL, http.Header{})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Equal(t, "hello subscription", string(result.Body))
}

func TestFetchEnforcesSizeCap(t *testing.T) {
	big := strings.Repeat("a", MaxBodyBytes+1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(big))
	}))
	defer srv.Close()

	_, err := Fetch(context.Background(), srv.URL, http.Header{})
	require.Error(t, err)

	var xe *xerrors.Error
	require.ErrorAs(t, err, &xe)
	require.Equal(t, xerrors.KindSizeCapExceeded, xe.Kind)
	require.Equal(t, http.StatusBadGateway, xe.Status)
}

func TestFetchUnreachableOriginIsRetryable(t *testing.T) {
	_, err := Fetch(context.Background(), "http://127.0.0.1:1", http.Header{})
	require.Error(t, err)

	var xe *xerrors.Error
	require.ErrorAs(t, err, &xe)
	require.Equal(t, xerrors.KindRetryable, xe.Kind)
}

func TestNextBufSizeDoublesUntilSufficientAndCapsAtMax(t *testing.T) {
	require.Equal(t, initialBufSize, nextBufSize(0, 1))
	require.Equal(t, 64*1024, nextBufSize(16*1024, 40*1024))
	require.Equal(t, MaxBodyBytes, nextBufSize(MaxBodyBytes, MaxBodyBytes+1))
}
