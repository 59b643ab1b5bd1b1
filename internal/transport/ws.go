package transport

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/hadimousavi79/cf-xray-proxy/internal/bridge"
)

var clientUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WS handles the ws transport: both legs are genuine WebSocket connections.
// Grounded on the caddyhttp/websocket reverse-proxy gateway, which dials
// the backend before upgrading the client so a dial failure never touches
// the real ResponseWriter.
func WS(w http.ResponseWriter, r *http.Request, origin string, onClosed func(), onReady func(disconnect func(code int, reason string))) Outcome {
	if outcome, proceed := dispatchNonUpgrade(w, r, origin, onClosed, onReady); !proceed {
		return outcome
	}

	dialer := &websocket.Dialer{HandshakeTimeout: HandshakeTimeout}
	upstreamConn, resp, err := dialer.Dial(upstreamWebSocketURL(origin, r), BuildUpstreamHeaders(r, "ws"))
	if err != nil {
		status := http.StatusBadGateway
		if resp != nil {
			status = resp.StatusCode
		}
		return Outcome{StatusCode: status, Failed: true}
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	clientConn, err := clientUpgrader.Upgrade(w, r, nil)
	if err != nil {
		upstreamConn.Close()
		return Outcome{StatusCode: http.StatusInternalServerError, Written: true}
	}

	bridge.New(&wsSocket{conn: clientConn}, &wsSocket{conn: upstreamConn}, onClosed, onReady)
	return Outcome{StatusCode: http.StatusSwitchingProtocols, Written: true}
}
