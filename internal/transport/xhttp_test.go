package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestXHTTPForwardsEarlyDataBeforeBridging(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	received := make(chan string, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		received <- string(payload)
		for {
			mt, p, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if conn.WriteMessage(mt, p) != nil {
				return
			}
		}
	}))
	defer upstream.Close()

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		outcome := XHTTP(w, r, upstream.URL, nil, nil)
		require.True(t, outcome.Written)
	}))
	defer proxy.Close()

	token := EncodeEarlyDataToken([]byte("warmup"))
	dialer := websocket.Dialer{}
	header := http.Header{}
	header.Set("Sec-WebSocket-Protocol", token)
	wsURL := "ws" + proxy.URL[len("http"):] + "/stream?ed=4096"
	clientConn, _, err := dialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer clientConn.Close()

	select {
	case got := <-received:
		require.Equal(t, "warmup", got)
	case <-time.After(3 * time.Second):
		t.Fatal("upstream never received early data")
	}
}

func TestDecodeEarlyDataTokenIgnoresAbsentToken(t *testing.T) {
	_, ok := DecodeEarlyDataToken("", MaxEDHint)
	require.False(t, ok)
}
