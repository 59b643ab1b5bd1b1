package router

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hadimousavi79/cf-xray-proxy/internal/backendpool"
	"github.com/hadimousavi79/cf-xray-proxy/internal/backoffutil"
	"github.com/hadimousavi79/cf-xray-proxy/internal/metrics"
	"github.com/hadimousavi79/cf-xray-proxy/internal/transport"
)

// HandlerFor maps a resolved transport name to its handler function. Built
// once at startup; the zero value for an unrecognized name is nil, which
// Drive treats as a 400.
var HandlerFor = map[string]transport.Handler{
	"ws":          transport.WS,
	"xhttp":       transport.XHTTP,
	"httpupgrade": transport.HTTPUpgrade,
}

// Driver runs the upgrade/failover loop: up to maxRetries attempts, each
// against a freshly selected backend excluding those already tried,
// backing off between attempts, until one attempt succeeds or retries are
// exhausted.
type Driver struct {
	Pool       *backendpool.Pool
	MaxRetries int
	Log        *zap.Logger
}

// Drive runs the failover loop for one inbound request. onClosed and onReady
// are handed to each transport handler attempt and reach the bridge only
// when an upgrade completes; Drive never calls them itself. When no upgrade
// completes, releasing admission is left to the caller after Drive returns.
func (d *Driver) Drive(w http.ResponseWriter, r *http.Request, transportName string, onClosed func(), onReady func(disconnect func(code int, reason string))) {
	handler, ok := HandlerFor[transportName]
	if !ok {
		http.Error(w, "unrecognized transport", http.StatusBadRequest)
		return
	}

	maxRetries := d.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	exclude := map[string]bool{}
	delayer := backoffutil.New()

	var lastStatus int
	for attempt := 1; attempt <= maxRetries; attempt++ {
		backend := d.Pool.Select(exclude)
		if backend == nil {
			http.Error(w, "no backend available", http.StatusBadGateway)
			return
		}
		exclude[backend.Identity()] = true

		start := time.Now()
		outcome := handler(w, r, backend.Identity(), onClosed, onReady)
		metrics.UpstreamAttemptDuration.Observe(time.Since(start).Seconds())
		metrics.BackendSelections.WithLabelValues(backend.Identity()).Inc()

		// An untagged outcome (including a handler's own 400 for a malformed
		// request) marks the backend healthy; a tagged failure marks it failed.
		if outcome.Failed {
			d.Pool.ReportFailure(backend.Identity())
		} else {
			d.Pool.ReportSuccess(backend.Identity())
		}

		lastStatus = outcome.StatusCode
		if outcome.Written {
			// The handler already wrote a terminal response to the client
			// itself (success, or a non-retryable local/client error);
			// nothing left for the driver to do.
			return
		}

		if attempt == maxRetries {
			break
		}
		if d.Log != nil {
			d.Log.Debug("upstream attempt failed, retrying",
				zap.String("backend", backend.Identity()),
				zap.Int("attempt", attempt),
				zap.Int("status", lastStatus))
		}
		time.Sleep(delayer.Next())
	}

	if lastStatus == 0 {
		lastStatus = http.StatusBadGateway
	}
	http.Error(w, upstreamUnavailableMessage(lastStatus), http.StatusBadGateway)
}

func upstreamUnavailableMessage(lastStatus int) string {
	return http.StatusText(http.StatusBadGateway) + ": upstream unavailable (last status " + strconv.Itoa(lastStatus) + ")"
}
