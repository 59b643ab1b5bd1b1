// Package clientip resolves the admission-relevant client IP from an
// inbound request: prefer cf-connecting-ip, then the
// first value of x-forwarded-for, then x-real-ip, else "unknown".
package clientip

import (
	"net/http"
	"strings"
)

// Resolve returns the client IP to use for rate-limiting and logging.
func Resolve(r *http.Request) string {
	if v := r.Header.Get("cf-connecting-ip"); v != "" {
		return strings.TrimSpace(v)
	}
	if v := r.Header.Get("x-forwarded-for"); v != "" {
		first, _, _ := strings.Cut(v, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if v := r.Header.Get("x-real-ip"); v != "" {
		return strings.TrimSpace(v)
	}
	return "unknown"
}
