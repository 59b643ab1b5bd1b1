package transport

import (
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/hadimousavi79/cf-xray-proxy/internal/bridge"
)

// MaxEDHint is the upper bound on the xhttp "ed" early-data byte hint.
const MaxEDHint = 65536

// XHTTP handles the xhttp transport: a WebSocket-framed upgrade that may
// carry an early-data payload in the Sec-WebSocket-Protocol header, decoded
// and forwarded to the upstream as the first message before bridging
// begins.
func XHTTP(w http.ResponseWriter, r *http.Request, origin string, onClosed func(), onReady func(disconnect func(code int, reason string))) Outcome {
	if outcome, proceed := dispatchNonUpgrade(w, r, origin, onClosed, onReady); !proceed {
		return outcome
	}

	if _, ok := xhttpMode(r); !ok {
		http.Error(w, "invalid mode", http.StatusBadRequest)
		return Outcome{StatusCode: http.StatusBadRequest, Written: true}
	}
	edHint, ok := xhttpEarlyDataHint(r)
	if !ok {
		http.Error(w, "invalid ed", http.StatusBadRequest)
		return Outcome{StatusCode: http.StatusBadRequest, Written: true}
	}

	protocolToken := SingleProtocolToken(r)
	earlyData, hasEarlyData := DecodeEarlyDataToken(protocolToken, edHint)

	upstreamHeaders := BuildUpstreamHeaders(r, "xhttp")
	if hasEarlyData {
		// Strip the token so the upstream doesn't receive it twice: once as
		// the decoded first message, once echoed back in the handshake.
		upstreamHeaders.Del("Sec-WebSocket-Protocol")
	}

	dialer := &websocket.Dialer{HandshakeTimeout: HandshakeTimeout}
	upstreamConn, resp, err := dialer.Dial(upstreamWebSocketURL(origin, r), upstreamHeaders)
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

	if hasEarlyData {
		if werr := upstreamConn.WriteMessage(websocket.BinaryMessage, earlyData); werr != nil {
			upstreamConn.Close()
			return Outcome{StatusCode: http.StatusBadGateway, Failed: true}
		}
	}

	clientConn, err := clientUpgrader.Upgrade(w, r, nil)
	if err != nil {
		upstreamConn.Close()
		return Outcome{StatusCode: http.StatusInternalServerError, Written: true}
	}

	bridge.New(&wsSocket{conn: clientConn}, &wsSocket{conn: upstreamConn}, onClosed, onReady)
	return Outcome{StatusCode: http.StatusSwitchingProtocols, Written: true}
}

// xhttpMode resolves the mode query parameter (fallback header): auto or
// packet-up, defaulting to auto.
func xhttpMode(r *http.Request) (string, bool) {
	v := r.URL.Query().Get("mode")
	if v == "" {
		v = r.Header.Get("x-xhttp-mode")
	}
	if v == "" {
		return "auto", true
	}
	if v == "auto" || v == "packet-up" {
		return v, true
	}
	return "", false
}

// xhttpEarlyDataHint resolves the "ed" query parameter: a non-negative
// integer capped at MaxEDHint, defaulting to 0 (no early data accepted)
// when absent.
func xhttpEarlyDataHint(r *http.Request) (int, bool) {
	v := r.URL.Query().Get("ed")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	if n > MaxEDHint {
		n = MaxEDHint
	}
	return n, true
}
