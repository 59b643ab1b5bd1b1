// Package config resolves environment variables into a typed Config
// snapshot. The CLI flag overlay for local runs is applied afterwards by
// cmd/cf-xray-proxy.
//
// Modeled on caddyconfig's resolve-once discipline: raw input is parsed
// once at process start into a tree of typed structs; nothing downstream
// touches os.Getenv directly again.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Backend is one entry of BACKEND_LIST (or the single BACKEND_URL).
type Backend struct {
	URL    string
	Weight int
}

// SubscriptionTarget is one entry of SUBSCRIPTION_TARGETS.
type SubscriptionTarget struct {
	Name     string
	Origin   string // scheme://host
	Port     int
	BasePath string
}

// Config is the fully resolved, immutable runtime configuration.
type Config struct {
	ListenAddr string
	MetricsAddr string // empty disables the metrics listener

	Backends                   []Backend
	BackendHealthCheckInterval time.Duration
	BackendStickySession       bool
	MaxRetries                 int

	RateLimitEnabled       bool
	RateLimitMaxConnPerIP  int
	RateLimitMaxConnPerMin int

	UUIDMaxConnections int // 0 disables identity-session limiting

	SubscriptionEnabled         bool
	SubscriptionPreserveDomain  bool
	SubscriptionTargets         []SubscriptionTarget
	SubscriptionTransform       bool
	SubscriptionCacheTTL        time.Duration

	DefaultTransport string

	Debug           bool
	HideBackendURLs bool

	// Fingerprint identifies this configuration. It is logged at startup;
	// the shared instances (pool, limiter, cache) are built once per process
	// and are not keyed or rebuilt by it.
	Fingerprint string
}

const (
	defaultListenAddr              = ":8080"
	defaultHealthCheckInterval     = 30 * time.Second
	defaultMaxRetries              = 3
	defaultRateLimitMaxConnPerIP   = 50
	defaultRateLimitMaxConnPerMin  = 300
	defaultSubscriptionCacheTTLMS  = 300_000
	defaultTransport               = "xhttp"
)

var recognizedTransports = map[string]bool{"ws": true, "xhttp": true, "httpupgrade": true}

// FromEnv resolves Config from the process environment, logging (but never
// failing on) malformed values: missing or malformed values fall back to
// documented defaults rather than aborting startup.
func FromEnv(log *zap.Logger) *Config {
	cfg := &Config{
		ListenAddr:                  envOr("LISTEN_ADDR", defaultListenAddr),
		MetricsAddr:                 os.Getenv("METRICS_ADDR"),
		BackendHealthCheckInterval:  durationMSOr(log, "BACKEND_HEALTH_CHECK_INTERVAL", defaultHealthCheckInterval),
		BackendStickySession:        boolOr(log, "BACKEND_STICKY_SESSION", false),
		MaxRetries:                  intOrMin(log, "MAX_RETRIES", defaultMaxRetries, 1),
		RateLimitEnabled:            boolOr(log, "RATE_LIMIT_ENABLED", true),
		RateLimitMaxConnPerIP:       intOrMin(log, "RATE_LIMIT_MAX_CONN_PER_IP", defaultRateLimitMaxConnPerIP, 1),
		RateLimitMaxConnPerMin:      intOrMin(log, "RATE_LIMIT_MAX_CONN_PER_MIN", defaultRateLimitMaxConnPerMin, 1),
		UUIDMaxConnections:          intOrMin(log, "UUID_MAX_CONNECTIONS", 0, 0),
		SubscriptionEnabled:         boolOr(log, "SUBSCRIPTION_ENABLED", false),
		SubscriptionPreserveDomain:  boolOr(log, "SUBSCRIPTION_PRESERVE_DOMAIN", false),
		SubscriptionTransform:       boolOr(log, "SUBSCRIPTION_TRANSFORM", false),
		SubscriptionCacheTTL:        durationMSOr(log, "SUBSCRIPTION_CACHE_TTL_MS", time.Duration(defaultSubscriptionCacheTTLMS)*time.Millisecond),
		Debug:                       boolOr(log, "DEBUG", false),
		HideBackendURLs:             boolOr(log, "HIDE_BACKEND_URLS", true),
	}

	cfg.DefaultTransport = strings.ToLower(strings.TrimSpace(os.Getenv("TRANSPORT")))
	if !recognizedTransports[cfg.DefaultTransport] {
		cfg.DefaultTransport = defaultTransport
	}

	cfg.Backends = parseBackends(log)
	cfg.SubscriptionTargets = parseSubscriptionTargets(log)

	cfg.Fingerprint = fingerprint(cfg)
	return cfg
}

func parseBackends(log *zap.Logger) []Backend {
	var raw string
	if v := os.Getenv("BACKEND_LIST"); v != "" {
		raw = v
	} else if v := os.Getenv("BACKEND_URL"); v != "" {
		raw = v
	}
	if raw == "" {
		return nil
	}

	byURL := map[string]int{}
	var order []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		url := entry
		weight := 1
		if idx := strings.LastIndex(entry, "|"); idx >= 0 {
			url = strings.TrimSpace(entry[:idx])
			if w, err := strconv.Atoi(strings.TrimSpace(entry[idx+1:])); err == nil && w > 0 {
				weight = w
			} else {
				log.Warn("ignoring malformed backend weight, defaulting to 1", zap.String("entry", entry))
			}
		}
		if url == "" {
			continue
		}
		if _, seen := byURL[url]; !seen {
			order = append(order, url)
		}
		byURL[url] += weight // duplicate entries collapse, summing weights
	}

	backends := make([]Backend, 0, len(order))
	for _, url := range order {
		backends = append(backends, Backend{URL: url, Weight: byURL[url]})
	}
	return backends
}

func parseSubscriptionTargets(log *zap.Logger) []SubscriptionTarget {
	raw := os.Getenv("SUBSCRIPTION_TARGETS")
	if raw == "" {
		return nil
	}

	raw = strings.TrimSpace(raw)

	type row struct{ name, url, port, path string }
	var rows []row

	if strings.HasPrefix(raw, "[") {
		var parsed []struct {
			Name     string `json:"name"`
			URL      string `json:"url"`
			Port     int    `json:"port"`
			BasePath string `json:"path"`
		}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			log.Warn("ignoring malformed SUBSCRIPTION_TARGETS JSON", zap.Error(err))
			return nil
		}
		for _, p := range parsed {
			rows = append(rows, row{p.Name, p.URL, strconv.Itoa(p.Port), p.BasePath})
		}
	} else {
		for _, entry := range strings.Split(raw, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			parts := strings.Split(entry, "|")
			if len(parts) != 4 {
				log.Warn("ignoring malformed SUBSCRIPTION_TARGETS entry", zap.String("entry", entry))
				continue
			}
			rows = append(rows, row{strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2]), strings.TrimSpace(parts[3])})
		}
	}

	seen := map[string]bool{}
	var out []SubscriptionTarget
	for _, r := range rows {
		name := strings.ToLower(strings.TrimSpace(r.name))
		if name == "" || seen[name] {
			continue // names unique, first occurrence wins
		}
		_, scheme, host, ok := splitOrigin(r.url)
		if !ok || (scheme != "http" && scheme != "https") {
			log.Warn("ignoring subscription target with invalid URL", zap.String("name", name), zap.String("url", r.url))
			continue
		}
		port, err := strconv.Atoi(r.port)
		if err != nil || port < 1 || port > 65535 {
			log.Warn("ignoring subscription target with invalid port", zap.String("name", name), zap.String("port", r.port))
			continue
		}
		base := r.path
		if !strings.HasPrefix(base, "/") {
			base = "/" + base
		}
		seen[name] = true
		out = append(out, SubscriptionTarget{Name: name, Origin: scheme + "://" + host, Port: port, BasePath: base})
	}
	return out
}

func splitOrigin(raw string) (url, scheme, host string, ok bool) {
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return "", "", "", false
	}
	scheme = raw[:idx]
	host = raw[idx+3:]
	if end := strings.IndexAny(host, "/?#"); end >= 0 {
		host = host[:end]
	}
	if host == "" {
		return "", "", "", false
	}
	return raw, strings.ToLower(scheme), host, true
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func boolOr(log *zap.Logger, key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn("ignoring malformed bool env var, using default", zap.String("key", key), zap.String("value", v))
		return def
	}
	return b
}

func intOrMin(log *zap.Logger, key string, def, min int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		log.Warn("ignoring malformed int env var, using default", zap.String("key", key), zap.String("value", v))
		return def
	}
	return n
}

func durationMSOr(log *zap.Logger, key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Warn("ignoring malformed duration env var, using default", zap.String("key", key), zap.String("value", v))
		return def
	}
	return time.Duration(n) * time.Millisecond
}

// fingerprint produces a stable string identifying this configuration.
func fingerprint(cfg *Config) string {
	var sb strings.Builder
	for _, b := range cfg.Backends {
		fmt.Fprintf(&sb, "%s|%d;", b.URL, b.Weight)
	}
	fmt.Fprintf(&sb, "sticky=%v;retries=%d;hc=%s;", cfg.BackendStickySession, cfg.MaxRetries, cfg.BackendHealthCheckInterval)
	fmt.Fprintf(&sb, "rl=%v/%d/%d;", cfg.RateLimitEnabled, cfg.RateLimitMaxConnPerIP, cfg.RateLimitMaxConnPerMin)
	fmt.Fprintf(&sb, "uuid=%d;", cfg.UUIDMaxConnections)
	for _, t := range cfg.SubscriptionTargets {
		fmt.Fprintf(&sb, "%s|%s|%d|%s;", t.Name, t.Origin, t.Port, t.BasePath)
	}
	fmt.Fprintf(&sb, "sub=%v/%v/%v/%s;transport=%s", cfg.SubscriptionEnabled, cfg.SubscriptionPreserveDomain, cfg.SubscriptionTransform, cfg.SubscriptionCacheTTL, cfg.DefaultTransport)
	return sb.String()
}
