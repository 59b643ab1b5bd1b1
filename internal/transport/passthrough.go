package transport

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

var passthroughClient = &http.Client{
	Timeout: PassthroughTimeout,
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return nil // follow redirects, matching a transparent reverse proxy
	},
}

// Passthrough forwards a non-upgrade HTTP request to origin and relays the
// response status, headers and body. It writes nothing to w until the
// upstream response headers are in hand; a 408, 429 or 5xx response is not
// relayed but reported as a failed attempt, so w stays untouched for the
// failover driver to retry.
func Passthrough(w http.ResponseWriter, r *http.Request, origin string, _ func(), _ func(disconnect func(code int, reason string))) Outcome {
	target, err := url.Parse(origin)
	if err != nil {
		return Outcome{StatusCode: http.StatusBadGateway, Failed: true}
	}

	outURL := *r.URL
	outURL.Scheme = target.Scheme
	outURL.Host = target.Host

	ctx, cancel := context.WithTimeout(r.Context(), PassthroughTimeout)
	defer cancel()

	outReq, err := http.NewRequestWithContext(ctx, r.Method, outURL.String(), r.Body)
	if err != nil {
		return Outcome{StatusCode: http.StatusBadGateway, Failed: true}
	}
	outReq.Header = BuildUpstreamHeaders(r, "passthrough")

	resp, err := passthroughClient.Do(outReq)
	if err != nil {
		return Outcome{StatusCode: http.StatusBadGateway, Failed: true}
	}
	defer resp.Body.Close()

	if retryableStatus(resp.StatusCode) {
		return Outcome{StatusCode: resp.StatusCode, Failed: true}
	}

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
	return Outcome{StatusCode: resp.StatusCode, Written: true}
}
