package transport

import (
	"net/http"
	"strings"
	"time"
)

// HandshakeTimeout bounds a single upstream upgrade attempt.
const HandshakeTimeout = 5 * time.Second

// PassthroughTimeout bounds a non-upgrade request forwarded to the chosen
// backend.
const PassthroughTimeout = 15 * time.Second

// Outcome reports what a transport Handler did with one upstream attempt.
// Written is true once the handler has committed bytes to the real
// http.ResponseWriter (a successful upgrade, or a response it has decided
// is final). The failover driver must not attempt another backend after
// Written is true, since it can no longer safely retry.
type Outcome struct {
	StatusCode int
	Failed     bool // tagged upstream failure; driver may retry a different backend
	Written    bool
}

// Handler performs one upstream attempt against an explicit origin. onClosed
// and onReady are forwarded to bridge.New verbatim when the attempt results
// in an upgraded duplex connection; plain passthrough ignores both.
type Handler func(w http.ResponseWriter, r *http.Request, origin string, onClosed func(), onReady func(disconnect func(code int, reason string))) Outcome

// dispatchNonUpgrade implements the common preamble shared by all three
// upgrade handlers: a request that never asked for a protocol upgrade is
// forwarded as plain passthrough instead, and an
// upgrade request using anything but GET is rejected outright. ok is false
// whenever the caller should return the paired Outcome immediately rather
// than attempt a handshake.
func dispatchNonUpgrade(w http.ResponseWriter, r *http.Request, origin string, onClosed func(), onReady func(disconnect func(code int, reason string))) (outcome Outcome, proceed bool) {
	if !IsUpgradeRequest(r) {
		return Passthrough(w, r, origin, onClosed, onReady), false
	}
	if r.Method != http.MethodGet {
		http.Error(w, "upgrade handshake requires GET", http.StatusBadRequest)
		return Outcome{StatusCode: http.StatusBadRequest, Written: true}, false
	}
	return Outcome{}, true
}

// retryableStatus reports whether a non-101 upstream response status is one
// the driver should treat as a transient failure eligible for retry: 408,
// 429, and every 5xx.
func retryableStatus(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500
}

// upstreamWebSocketURL rewrites origin's scheme to ws/wss and grafts r's
// path, query and fragment onto it, producing the dial target for a
// websocket-framed upstream attempt (ws and xhttp transports).
func upstreamWebSocketURL(origin string, r *http.Request) string {
	scheme, host := "ws", origin
	switch {
	case strings.HasPrefix(origin, "https://"):
		scheme, host = "wss", strings.TrimPrefix(origin, "https://")
	case strings.HasPrefix(origin, "http://"):
		scheme, host = "ws", strings.TrimPrefix(origin, "http://")
	}
	u := *r.URL
	u.Scheme = scheme
	u.Host = host
	return u.String()
}
