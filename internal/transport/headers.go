// Package transport implements the per-transport upgrade handlers (ws,
// xhttp, httpupgrade) and their shared protocol-header utilities.
package transport

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// knownProtocolTokens are Sec-WebSocket-Protocol values that carry
// protocol-negotiation meaning rather than an early-data payload.
var knownProtocolTokens = map[string]bool{"trojan": true, "vless": true, "vmess": true}

// IsUpgradeRequest reports whether r carries an Upgrade header together
// with a Connection header containing the "upgrade" token, per the
// glossary definition of an upgrade handshake.
func IsUpgradeRequest(r *http.Request) bool {
	if r.Header.Get("Upgrade") == "" {
		return false
	}
	for _, tok := range strings.Split(r.Header.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(tok), "upgrade") {
			return true
		}
	}
	return false
}

// BuildUpstreamHeaders copies r's headers for forwarding to the chosen
// upstream: strip Host, always strip Sec-WebSocket-Extensions, preserve
// Sec-WebSocket-Protocol (subject to the caller stripping an early-data
// token first), and force Connection/Upgrade to the websocket upgrade
// values, except for httpupgrade, which echoes whatever Upgrade value the
// client supplied.
func BuildUpstreamHeaders(r *http.Request, transportName string) http.Header {
	out := make(http.Header, len(r.Header))
	for k, v := range r.Header {
		if strings.EqualFold(k, "Host") {
			continue
		}
		if strings.EqualFold(k, "Sec-WebSocket-Extensions") {
			continue
		}
		out[k] = append([]string(nil), v...)
	}

	if transportName == "passthrough" {
		out.Del("Connection")
		return out
	}

	out.Set("Connection", "Upgrade")
	if transportName == "httpupgrade" {
		if v := r.Header.Get("Upgrade"); v != "" {
			out.Set("Upgrade", v)
		} else {
			out.Set("Upgrade", "websocket")
		}
	} else {
		out.Set("Upgrade", "websocket")
	}
	return out
}

// StripTransportSelectors removes the query parameter and header the
// proxy uses internally to pick a transport, so neither reaches the
// upstream.
func StripTransportSelectors(r *http.Request) {
	q := r.URL.Query()
	q.Del("transport")
	r.URL.RawQuery = q.Encode()
	r.Header.Del("x-transport-type")
}

// DecodeEarlyDataToken decodes a Sec-WebSocket-Protocol value as an
// xhttp early-data token: the token must not be a known
// protocol-negotiation token, must be canonical base64url (no padding,
// URL-safe alphabet, round-trips to the same string when re-encoded), and
// must decode to at most maxBytes octets.
//
// Returns the decoded payload and true on success.
func DecodeEarlyDataToken(token string, maxBytes int) ([]byte, bool) {
	if token == "" || knownProtocolTokens[strings.ToLower(token)] {
		return nil, false
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, false
	}
	if base64.RawURLEncoding.EncodeToString(decoded) != token {
		return nil, false // not canonical: padding or alternate alphabet used
	}
	if len(decoded) > maxBytes {
		return nil, false
	}
	return decoded, true
}

// EncodeEarlyDataToken is the inverse of DecodeEarlyDataToken, used by
// tests to assert the round-trip invariant.
func EncodeEarlyDataToken(payload []byte) string {
	return base64.RawURLEncoding.EncodeToString(payload)
}

// SingleProtocolToken returns the Sec-WebSocket-Protocol header's value
// when it carries exactly one comma-separated token, and "" otherwise.
func SingleProtocolToken(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Sec-WebSocket-Protocol"))
	if v == "" || strings.Contains(v, ",") {
		return ""
	}
	return v
}
