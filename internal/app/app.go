// Package app wires the full request-handling pipeline: ingress ->
// observability/landing short-circuit -> optional subscription routing ->
// transport resolution -> path rewrite -> IP admission -> identity
// admission (reserved on the ready callback) -> upstream selection+upgrade
// with failover -> duplex bridge -> admission release on close.
package app

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hadimousavi79/cf-xray-proxy/internal/backendpool"
	"github.com/hadimousavi79/cf-xray-proxy/internal/clientip"
	"github.com/hadimousavi79/cf-xray-proxy/internal/config"
	"github.com/hadimousavi79/cf-xray-proxy/internal/identity"
	"github.com/hadimousavi79/cf-xray-proxy/internal/landing"
	"github.com/hadimousavi79/cf-xray-proxy/internal/metrics"
	"github.com/hadimousavi79/cf-xray-proxy/internal/observability"
	"github.com/hadimousavi79/cf-xray-proxy/internal/ratelimit"
	"github.com/hadimousavi79/cf-xray-proxy/internal/router"
	"github.com/hadimousavi79/cf-xray-proxy/internal/subscription"
	"github.com/hadimousavi79/cf-xray-proxy/internal/transport"
)

const (
	defaultCacheMaxEntries = 256
	defaultCacheMaxBytes   = 20 * 1024 * 1024
	rateLimitSweepInterval = 60 * time.Second
	identitySweepInterval  = 60 * time.Second
	cachePurgeInterval     = 30 * time.Second
)

// App owns the process-wide shared instances (backend pool, rate limiter,
// identity manager, subscription cache) for one resolved configuration and
// assembles the chi router that serves the full HTTP surface.
type App struct {
	cfg *config.Config
	log *zap.Logger

	pool        *backendpool.Pool
	limiter     *ratelimit.Limiter
	identityMgr *identity.Manager
	cache       *subscription.Cache
	driver      *router.Driver

	stop chan struct{}
}

// New builds an App for cfg and starts its background sweepers: rate-limit
// and identity idle-state GC, and the subscription cache's TTL purge.
// Backend probing starts lazily on the pool's first Select.
func New(cfg *config.Config, log *zap.Logger) *App {
	descriptors := make([]backendpool.BackendDescriptor, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		u, err := url.Parse(b.URL)
		if err != nil {
			log.Warn("ignoring unparsable backend URL", zap.String("url", b.URL), zap.Error(err))
			continue
		}
		descriptors = append(descriptors, backendpool.BackendDescriptor{URL: u, Weight: b.Weight})
	}

	pool := backendpool.New(log, descriptors, backendpool.Options{
		Sticky:        cfg.BackendStickySession,
		ProbeInterval: cfg.BackendHealthCheckInterval,
	})

	limiter := ratelimit.New(cfg.RateLimitMaxConnPerIP, cfg.RateLimitMaxConnPerMin)

	var identityMgr *identity.Manager
	if cfg.UUIDMaxConnections > 0 {
		identityMgr = identity.New(cfg.UUIDMaxConnections)
	}

	cache := subscription.NewCache(log, defaultCacheMaxEntries, defaultCacheMaxBytes, cfg.SubscriptionCacheTTL)

	a := &App{
		cfg:         cfg,
		log:         log,
		pool:        pool,
		limiter:     limiter,
		identityMgr: identityMgr,
		cache:       cache,
		driver:      &router.Driver{Pool: pool, MaxRetries: cfg.MaxRetries, Log: log},
		stop:        make(chan struct{}),
	}

	limiter.RunSweeper(rateLimitSweepInterval, a.stop)
	if identityMgr != nil {
		identityMgr.RunSweeper(identitySweepInterval, a.stop)
	}
	cache.RunPurger(cachePurgeInterval, a.stop)

	return a
}

// Close stops App's background sweepers.
func (a *App) Close() {
	close(a.stop)
}

// Router builds the chi router implementing the full HTTP surface.
func (a *App) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/", landing.Handler(a.cfg))
	r.Get("/index.html", landing.Handler(a.cfg))
	r.Get("/health", observability.HealthHandler(a.pool, a.cfg.HideBackendURLs))
	r.Get("/status", observability.StatusHandler(a.cfg))

	if a.cfg.SubscriptionEnabled {
		r.Get("/sub/*", a.subscriptionHandler)
		r.Get("/{service}/sub/*", a.subscriptionHandler)
	}

	r.HandleFunc("/*", a.proxyHandler)

	return r
}

// proxyHandler implements the transport-proxy route: `/ws/...`,
// `/xhttp/...`, `/httpupgrade/...`, and the catch-all `/...`. IP admission
// is reserved immediately; identity admission is reserved only once the
// chosen handler signals a genuine upgrade is imminent, via onReady.
// Whichever admission state was reserved is released exactly once: through
// the bridge's onClosed callback for a completed upgrade, or synchronously
// here when the attempt never reached one.
func (a *App) proxyHandler(w http.ResponseWriter, r *http.Request) {
	ip := clientip.Resolve(r)

	if a.cfg.RateLimitEnabled && !a.limiter.CheckConnectionAllowed(ip) {
		metrics.AdmissionRejectionsTotal.WithLabelValues("ip").Inc()
		w.Header().Set("Retry-After", strconv.Itoa(a.limiter.GetRetryAfterSeconds(ip)))
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	transportName, pathHasPrefix := router.ResolveTransport(r, a.cfg.DefaultTransport)
	router.RewritePath(r, pathHasPrefix)
	transport.StripTransportSelectors(r)

	identityKey, hasIdentity := router.ExtractIdentity(r)
	connID := uuid.NewString()

	if a.identityMgr != nil && hasIdentity && !a.identityMgr.CheckConnectionAllowed(identityKey, ip) {
		metrics.AdmissionRejectionsTotal.WithLabelValues("identity").Inc()
		w.Header().Set("x-websocket-close-code", strconv.Itoa(identity.CloseReplaced))
		http.Error(w, "identity session limit exceeded", http.StatusForbidden)
		return
	}

	if a.cfg.RateLimitEnabled {
		a.limiter.RegisterConnection(ip, connID)
	}

	var bridgeStarted, identityRegistered bool
	release := func() {
		if a.cfg.RateLimitEnabled {
			a.limiter.UnregisterConnection(ip, connID)
		}
		if identityRegistered {
			a.identityMgr.UnregisterConnection(identityKey, connID)
		}
	}

	onReady := func(disconnect func(code int, reason string)) {
		bridgeStarted = true
		if a.identityMgr != nil && hasIdentity {
			a.identityMgr.RegisterConnection(identityKey, ip, connID, disconnect)
			identityRegistered = true
		}
	}

	a.driver.Drive(w, r, transportName, release, onReady)

	if !bridgeStarted {
		release()
	}
}

// subscriptionHandler implements the `/sub/<token...>` and
// `/<service>/sub/<token...>` routes: resolve target, check the
// cache, fetch on miss, apply the optional rewrite passes, and cache
// successful responses.
func (a *App) subscriptionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	target, token, ok := subscription.ResolveTarget(r.URL.Path, a.cfg.SubscriptionTargets)
	if !ok {
		http.NotFound(w, r)
		return
	}

	cacheKey := target.Name + ":" + token
	if entry, hit := a.cache.Get(cacheKey); hit {
		metrics.SubscriptionCacheHitsTotal.Inc()
		a.writeSubscriptionEntry(w, r, entry)
		return
	}
	metrics.SubscriptionCacheMissesTotal.Inc()

	upstreamURL, err := subscription.BuildUpstreamURL(target, token, r.URL.RawQuery)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	result, err := subscription.Fetch(r.Context(), upstreamURL, forwardedHeaders(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	body := result.Body
	if a.cfg.SubscriptionPreserveDomain && result.StatusCode == http.StatusOK {
		body = subscription.RewriteDomain(body, target, token)
	}

	entry := subscription.Entry{StatusCode: result.StatusCode, Header: result.Header, Body: body}
	a.cache.Set(cacheKey, entry)
	a.writeSubscriptionEntry(w, r, entry)
}

// hopByHopHeaders are stripped before relaying a subscription response:
// Content-Length and Transfer-Encoding describe the upstream's original
// body, which the rewrite passes may have changed the length of.
var hopByHopHeaders = []string{"Content-Length", "Transfer-Encoding", "Connection"}

func (a *App) writeSubscriptionEntry(w http.ResponseWriter, r *http.Request, entry subscription.Entry) {
	body := entry.Body
	if a.cfg.SubscriptionTransform && entry.StatusCode == http.StatusOK {
		body = subscription.RewriteLinks(body, entry.Header.Get("Content-Type"), r.Host)
	}
	for k, vs := range entry.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	for _, h := range hopByHopHeaders {
		w.Header().Del(h)
	}
	w.WriteHeader(entry.StatusCode)
	_, _ = io.Copy(w, bytes.NewReader(body))
}

// forwardedHeaders copies r's headers for the subscription upstream fetch,
// dropping Host.
func forwardedHeaders(r *http.Request) http.Header {
	out := make(http.Header, len(r.Header))
	for k, v := range r.Header {
		out[k] = v
	}
	out.Del("Host")
	return out
}
