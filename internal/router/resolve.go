// Package router implements transport resolution, path rewriting, and the
// upgrade/failover driver that ties the backend pool, transport handlers,
// and admission controllers together.
package router

import (
	"net/http"
	"strings"
)

var recognizedTransports = map[string]bool{"ws": true, "xhttp": true, "httpupgrade": true}

// ResolveTransport derives the transport for r, in strict precedence order:
// the "transport" query parameter, the "x-transport-type" header, the first
// path segment if it names a recognized transport, else defaultTransport.
// It also reports whether the path itself begins with a recognized
// transport segment. The routes `/ws/...`, `/xhttp/...` and
// `/httpupgrade/...` are path-prefix routes in their own right, so that
// prefix is always stripped when present even if a query parameter or
// header overrides which transport actually handles the request: e.g.
// `/xhttp/foo?transport=ws` resolves to `ws` but still forwards `/foo`,
// not `/xhttp/foo`.
func ResolveTransport(r *http.Request, defaultTransport string) (transportName string, pathHasTransportPrefix bool) {
	seg, _ := firstPathSegment(r.URL.Path)
	pathHasTransportPrefix = recognizedTransports[strings.ToLower(seg)]

	if v := strings.ToLower(r.URL.Query().Get("transport")); recognizedTransports[v] {
		return v, pathHasTransportPrefix
	}
	if v := strings.ToLower(r.Header.Get("x-transport-type")); recognizedTransports[v] {
		return v, pathHasTransportPrefix
	}
	if pathHasTransportPrefix {
		return strings.ToLower(seg), true
	}
	if defaultTransport == "" {
		defaultTransport = "xhttp"
	}
	return defaultTransport, false
}

// RewritePath strips the leading path-prefix segment when the path itself
// begins with a recognized transport token: "/ws/foo/bar" ->
// "/foo/bar", and the bare "/ws" -> "/". Requests whose path carries no
// such prefix are left untouched.
func RewritePath(r *http.Request, pathHasTransportPrefix bool) {
	if !pathHasTransportPrefix {
		return
	}
	_, rest := firstPathSegment(r.URL.Path)
	if rest == "" {
		rest = "/"
	}
	r.URL.Path = rest
	if r.URL.RawPath != "" {
		r.URL.RawPath = ""
	}
}

// firstPathSegment splits a leading "/segment" off path, returning the
// segment (without slashes) and the remainder (always starting with "/",
// or "" when path had only the one segment).
func firstPathSegment(path string) (segment, rest string) {
	trimmed := strings.TrimPrefix(path, "/")
	idx := strings.Index(trimmed, "/")
	if idx < 0 {
		return trimmed, ""
	}
	return trimmed[:idx], trimmed[idx:]
}
