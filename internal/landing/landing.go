// Package landing serves GET / and GET /index.html: a static landing page
// when the subscription proxy is disabled, or plain-text subscription
// routing info when it is enabled.
package landing

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/hadimousavi79/cf-xray-proxy/internal/config"
)

const cacheControl = "public, max-age=3600"

const landingHTML = `<!DOCTYPE html>
<html>
<head><title>cf-xray-proxy</title></head>
<body>
<h1>cf-xray-proxy</h1>
<p>This endpoint fronts a tunneled transport proxy. There is nothing to
see here.</p>
</body>
</html>
`

// Handler serves the landing route for cfg. When the subscription proxy is
// disabled it returns static HTML; when enabled it returns plain-text
// listing the configured subscription targets and how to reach them.
func Handler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", cacheControl)

		if !cfg.SubscriptionEnabled {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(landingHTML))
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, subscriptionInfo(cfg))
	}
}

func subscriptionInfo(cfg *config.Config) string {
	if len(cfg.SubscriptionTargets) == 0 {
		return "subscription proxy enabled, no targets configured"
	}

	var b strings.Builder
	b.WriteString("subscription proxy routes:\n")
	for i, t := range cfg.SubscriptionTargets {
		prefix := "/" + t.Name + "/sub/<token>"
		if i == 0 {
			prefix += " (also /sub/<token>)"
		}
		fmt.Fprintf(&b, "  %s -> %s:%d%s\n", prefix, t.Origin, t.Port, t.BasePath)
	}
	return strings.TrimRight(b.String(), "\n")
}
