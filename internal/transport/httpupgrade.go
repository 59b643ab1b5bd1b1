package transport

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hadimousavi79/cf-xray-proxy/internal/bridge"
)

// HTTPUpgrade handles the httpupgrade transport: a raw HTTP Upgrade
// handshake carrying whatever token the client requested, bridged as an
// unframed byte stream. Grounded on ssh-ify's
// internal/tunnel dial-then-copy pattern, adapted to perform the handshake
// manually since net/http's client cannot keep an upgraded connection open
// for raw relaying.
func HTTPUpgrade(w http.ResponseWriter, r *http.Request, origin string, onClosed func(), onReady func(disconnect func(code int, reason string))) Outcome {
	if outcome, proceed := dispatchNonUpgrade(w, r, origin, onClosed, onReady); !proceed {
		return outcome
	}

	target, err := url.Parse(origin)
	if err != nil {
		return Outcome{StatusCode: http.StatusBadGateway, Failed: true}
	}

	upstreamConn, err := dialOrigin(target)
	if err != nil {
		return Outcome{StatusCode: http.StatusBadGateway, Failed: true}
	}
	_ = upstreamConn.SetDeadline(time.Now().Add(HandshakeTimeout))

	hdr := BuildUpstreamHeaders(r, "httpupgrade")
	hdr.Set("Host", target.Host)

	var reqBuf bytes.Buffer
	fmt.Fprintf(&reqBuf, "%s %s HTTP/1.1\r\n", r.Method, r.URL.RequestURI())
	hdr.Write(&reqBuf)
	reqBuf.WriteString("\r\n")
	if _, err := upstreamConn.Write(reqBuf.Bytes()); err != nil {
		upstreamConn.Close()
		return Outcome{StatusCode: http.StatusBadGateway, Failed: true}
	}

	upstreamReader := bufio.NewReader(upstreamConn)
	resp, err := http.ReadResponse(upstreamReader, r)
	if err != nil {
		upstreamConn.Close()
		return Outcome{StatusCode: http.StatusBadGateway, Failed: true}
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		upstreamConn.Close()
		return Outcome{StatusCode: resp.StatusCode, Failed: true}
	}
	_ = upstreamConn.SetDeadline(time.Time{})

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		upstreamConn.Close()
		return Outcome{StatusCode: http.StatusInternalServerError, Written: true}
	}
	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		upstreamConn.Close()
		return Outcome{StatusCode: http.StatusInternalServerError, Written: true}
	}

	upstreamUpgrade := hdr.Get("Upgrade")
	respLine := fmt.Sprintf("HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: %s\r\n\r\n", upstreamUpgrade)
	if _, err := clientConn.Write([]byte(respLine)); err != nil {
		clientConn.Close()
		upstreamConn.Close()
		return Outcome{Written: true}
	}

	client := newRawSocket(clientConn, clientBuf.Reader)
	upstream := newRawSocket(upstreamConn, upstreamReader)
	bridge.New(client, upstream, onClosed, onReady)
	return Outcome{StatusCode: http.StatusSwitchingProtocols, Written: true}
}

func dialOrigin(target *url.URL) (net.Conn, error) {
	addr := target.Host
	if !strings.Contains(addr, ":") {
		if target.Scheme == "https" {
			addr += ":443"
		} else {
			addr += ":80"
		}
	}
	if target.Scheme == "https" {
		return tls.DialWithDialer(&net.Dialer{Timeout: HandshakeTimeout}, "tcp", addr, &tls.Config{ServerName: target.Hostname()})
	}
	return net.DialTimeout("tcp", addr, HandshakeTimeout)
}
