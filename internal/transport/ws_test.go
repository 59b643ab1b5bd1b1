package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newEchoUpstream(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		for {
			mt, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if conn.WriteMessage(mt, payload) != nil {
				return
			}
		}
	}))
}

func TestWSBridgesClientAndUpstream(t *testing.T) {
	upstream := newEchoUpstream(t)
	defer upstream.Close()

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		outcome := WS(w, r, upstream.URL, nil, nil)
		require.Equal(t, http.StatusSwitchingProtocols, outcome.StatusCode)
	}))
	defer proxy.Close()

	wsURL := "ws" + proxy.URL[len("http"):] + "/tunnel"
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer clientConn.Close()

	require.NoError(t, clientConn.WriteMessage(websocket.TextMessage, []byte("ping")))
	clientConn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, payload, err := clientConn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "ping", string(payload))
}

func TestWSDialFailureReturnsFailedOutcomeWithoutWriting(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/tunnel", nil)
	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Upgrade", "websocket")
	w := httptest.NewRecorder()

	outcome := WS(w, r, "http://127.0.0.1:1", nil, nil)
	require.True(t, outcome.Failed)
	require.False(t, outcome.Written)
}

func TestWSDelegatesToPassthroughWhenNotAnUpgrade(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("plain response"))
	}))
	defer upstream.Close()

	r := httptest.NewRequest(http.MethodGet, "/tunnel", nil)
	w := httptest.NewRecorder()

	outcome := WS(w, r, upstream.URL, nil, nil)
	require.True(t, outcome.Written)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "plain response", w.Body.String())
}

func TestWSRejectsNonGETUpgradeAttempt(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/tunnel", nil)
	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Upgrade", "websocket")
	w := httptest.NewRecorder()

	outcome := WS(w, r, "http://127.0.0.1:1", nil, nil)
	require.Equal(t, http.StatusBadRequest, outcome.StatusCode)
	require.True(t, outcome.Written)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
