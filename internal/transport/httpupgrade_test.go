package transport

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// rawUpgradeEchoServer accepts a single raw TCP connection, performs a
// minimal HTTP Upgrade handshake honoring whatever Upgrade token it
// receives, then echoes every byte it reads back to the caller.
func rawUpgradeEchoServer(t *testing.T) net.Listener {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		req, err := http.ReadRequest(reader)
		if err != nil {
			return
		}
		upgrade := req.Header.Get("Upgrade")
		fmt.Fprintf(conn, "HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: %s\r\n\r\n", upgrade)
		buf := make([]byte, 4096)
		for {
			n, err := reader.Read(buf)
			if err != nil {
				return
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return
			}
		}
	}()
	return ln
}

func TestHTTPUpgradeBridgesRawBytes(t *testing.T) {
	ln := rawUpgradeEchoServer(t)
	defer ln.Close()
	origin := "http://" + ln.Addr().String()

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		outcome := HTTPUpgrade(w, r, origin, nil, nil)
		require.Equal(t, http.StatusSwitchingProtocols, outcome.StatusCode)
	}))
	defer proxy.Close()

	clientConn, err := net.Dial("tcp", proxy.Listener.Addr().String())
	require.NoError(t, err)
	defer clientConn.Close()

	fmt.Fprintf(clientConn, "GET /tunnel HTTP/1.1\r\nHost: x\r\nConnection: Upgrade\r\nUpgrade: my-proto\r\n\r\n")
	reader := bufio.NewReader(clientConn)
	resp, err := http.ReadResponse(reader, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	require.Equal(t, "my-proto", resp.Header.Get("Upgrade"))

	clientConn.SetDeadline(time.Now().Add(3 * time.Second))
	_, err = clientConn.Write([]byte("hello"))
	require.NoError(t, err)
	echoBuf := make([]byte, 5)
	_, err = reader.Read(echoBuf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(echoBuf))
}

func TestHTTPUpgradeUnreachableOriginIsFailed(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/tunnel", nil)
	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Upgrade", "my-proto")
	w := httptest.NewRecorder()

	outcome := HTTPUpgrade(w, r, "http://127.0.0.1:1", nil, nil)
	require.True(t, outcome.Failed)
	require.False(t, outcome.Written)
}
