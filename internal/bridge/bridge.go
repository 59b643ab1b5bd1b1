// Package bridge implements a full-duplex socket relay: two accepted
// sockets forward every message to their peer until either side closes or
// errors, at which point teardown runs exactly once.
//
// Grounded on ssh-ify's internal/tunnel.Session.Relay (two goroutines, one
// per direction, each closing its peer on EOF to unblock the other) and
// the caddyhttp/websocket gateway's pumpStdin/pumpStdout pairing.
package bridge

import (
	"sync"

	"github.com/hadimousavi79/cf-xray-proxy/internal/metrics"
)

// Socket is the minimal surface the bridge needs from an accepted
// connection of either transport (ws/xhttp/httpupgrade all satisfy this
// after their handshake).
type Socket interface {
	// ReadMessage blocks for the next message; binary and text payloads
	// are both returned as raw bytes, messageType distinguishing them.
	ReadMessage() (messageType int, payload []byte, err error)
	WriteMessage(messageType int, payload []byte) error
	// Close closes the socket with a sanitized close code/reason. Must be
	// idempotent.
	Close(code int, reason string) error
}

// sanitizeClose clamps code into [1000,4999] excluding the reserved
// 1005/1006 values, and truncates reason to 123 bytes.
func sanitizeClose(code int, reason string) (int, string) {
	if code < 1000 || code > 4999 || code == 1005 || code == 1006 {
		code = 1011
	}
	if len(reason) > 123 {
		reason = reason[:123]
	}
	return code, reason
}

// Bridge relays messages between two sockets until either closes, then
// invokes onClosed exactly once. If onReady is non-nil, it is called once
// with a disconnector that triggers the same teardown path: this is how
// admission control can forcibly close a superseded session.
type Bridge struct {
	a, b Socket

	once     sync.Once
	onClosed func()
}

// New constructs a Bridge over the two accepted sockets and immediately
// starts relaying in both directions. onClosed is invoked exactly once,
// however teardown was triggered (peer close, error, or external
// disconnect via onReady).
func New(a, b Socket, onClosed func(), onReady func(disconnect func(code int, reason string))) *Bridge {
	br := &Bridge{a: a, b: b, onClosed: onClosed}

	if onReady != nil {
		onReady(func(code int, reason string) {
			br.teardown(code, reason)
		})
	}

	go br.pump(a, b, "upstream") // client -> upstream
	go br.pump(b, a, "client")   // upstream -> client

	return br
}

// pump reads from src and writes each message to dst until src errors or
// closes, then tears the whole bridge down. direction labels the
// destination side for BridgeBytesTotal.
func (br *Bridge) pump(src, dst Socket, direction string) {
	for {
		msgType, payload, err := src.ReadMessage()
		if err != nil {
			br.teardown(1011, closeReasonFromErr(err))
			return
		}
		// Binary chunks forward as-is; message-like payloads arriving as
		// byte-containers are already unwrapped by ReadMessage's
		// implementation, so payload here is always a raw byte slice.
		if werr := dst.WriteMessage(msgType, payload); werr != nil {
			br.teardown(1011, closeReasonFromErr(werr))
			return
		}
		metrics.BridgeBytesTotal.WithLabelValues(direction).Add(float64(len(payload)))
	}
}

// teardown performs the idempotent single close: cleanup is implicit (the
// pump goroutines exit once their socket errors), close both sockets with a
// sanitized code/reason, then invoke onClosed exactly once.
func (br *Bridge) teardown(code int, reason string) {
	br.once.Do(func() {
		c, r := sanitizeClose(code, reason)
		_ = br.a.Close(c, r)
		_ = br.b.Close(c, r)
		if br.onClosed != nil {
			br.onClosed()
		}
	})
}

// Close externally triggers teardown, e.g. from a server-wide shutdown.
func (br *Bridge) Close() {
	br.teardown(1000, "")
}

func closeReasonFromErr(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
